package pubsub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/casualjim/trickle/stream"
)

var errHandlerRequired = errors.New("handler is required")

type Broker interface {
	Topic(context.Context, string) Topic
	// Close forgets the topic for id. Existing subscriptions keep running
	// until they are unsubscribed; a later Topic call creates a new topic.
	Close(id string)
}

type Topic interface {
	Publish(context.Context, stream.Event) error
	Subscribe(context.Context, stream.Handler) (Subscription, error)
}

type Subscription interface {
	ID() string
	Unsubscribe()
}

// dispatch delivers ev to the matching handler method.
func dispatch(ctx context.Context, h stream.Handler, ev stream.Event) {
	switch ev := ev.(type) {
	case stream.Token:
		h.OnToken(ctx, ev.Text)
	case stream.Completed:
		h.OnComplete(ctx, ev.Completion)
	case stream.Failed:
		h.OnError(ctx, ev.Err)
	default:
		slog.Warn("dropping unknown event", slog.String("type", fmt.Sprintf("%T", ev)))
	}
}
