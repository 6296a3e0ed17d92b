// Package pubsub mirrors stream events onto topics so that parties other than
// the caller that started a stream can follow it. Each stream publishes on
// the topic named after its identifier.
//
// Two brokers are provided: Local fans events out in-process, NATS publishes
// them as JSON on a subject per stream. Subscribers receive the events through
// a stream.Handler, in publication order.
//
//	broker := pubsub.Local()
//	sub, err := broker.Topic(ctx, "stream-1").Subscribe(ctx, stream.HandlerFuncs{
//		Token: func(_ context.Context, text string) { fmt.Print(text) },
//	})
//	if err != nil {
//		return err
//	}
//	defer sub.Unsubscribe()
package pubsub
