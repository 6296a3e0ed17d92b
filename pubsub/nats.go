package pubsub

import (
	"context"
	"log/slog"
	"sync"

	"github.com/alphadose/haxmap"
	"github.com/casualjim/trickle/pkg/slogx"
	"github.com/casualjim/trickle/pkg/uuidx"
	"github.com/casualjim/trickle/stream"
	json "github.com/goccy/go-json"
	"github.com/nats-io/nats.go"
)

// SubjectPrefix is prepended to the stream identifier to form the NATS subject.
const SubjectPrefix = "trickle.stream."

type natsBroker struct {
	client *nats.Conn
	topics *haxmap.Map[string, *natsTopic]
}

// NATS creates a broker that publishes events as JSON on the given connection.
func NATS(client *nats.Conn) Broker {
	return &natsBroker{
		client: client,
		topics: haxmap.New[string, *natsTopic](),
	}
}

func (b *natsBroker) Topic(ctx context.Context, id string) Topic {
	top, _ := b.topics.GetOrCompute(id, func() *natsTopic {
		return &natsTopic{
			subject: SubjectPrefix + id,
			client:  b.client,
		}
	})
	return top
}

func (b *natsBroker) Close(id string) {
	b.topics.Del(id)
}

type natsTopic struct {
	client  *nats.Conn
	subject string
}

func (t *natsTopic) Publish(ctx context.Context, event stream.Event) error {
	eb, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return t.client.Publish(t.subject, eb)
}

func (t *natsTopic) Subscribe(ctx context.Context, h stream.Handler) (Subscription, error) {
	if h == nil {
		return nil, errHandlerRequired
	}
	id := uuidx.NewString()
	logger := slogx.Component("pubsub").With(slog.String("subject", t.subject), slog.String("subscription", id))

	events := make(chan stream.Event, subscriptionBuffer)
	done := make(chan struct{})
	nsub, err := t.client.Subscribe(t.subject, func(msg *nats.Msg) {
		event, err := stream.FromJSON(msg.Data)
		if err != nil {
			logger.Error("failed to unmarshal event", slogx.Error(err))
			return
		}

		select {
		case events <- event:
		case <-done:
			return
		case <-ctx.Done():
			return
		}

		if msg.Reply != "" {
			if nerr := msg.Ack(); nerr != nil {
				logger.Error("failed to ack message", slogx.Error(nerr))
			}
		}
	})
	if err != nil {
		return nil, err
	}

	sub := &natsSubscription{id: id, sub: nsub, done: done, logger: logger}
	go func() {
		for {
			select {
			case ev := <-events:
				dispatch(ctx, h, ev)
			case <-done:
				return
			case <-ctx.Done():
				sub.Unsubscribe()
				return
			}
		}
	}()
	return sub, nil
}

type natsSubscription struct {
	id     string
	sub    *nats.Subscription
	done   chan struct{}
	once   sync.Once
	logger *slog.Logger
}

func (n *natsSubscription) ID() string {
	return n.id
}

func (n *natsSubscription) Unsubscribe() {
	n.once.Do(func() {
		close(n.done)
		if err := n.sub.Unsubscribe(); err != nil {
			n.logger.Error("failed to unsubscribe", slogx.Error(err))
		}
	})
}
