package pubsub

import (
	"context"
	"sync"
	"time"

	"github.com/alphadose/haxmap"
	"github.com/casualjim/trickle/pkg/uuidx"
	"github.com/casualjim/trickle/stream"
	"github.com/fogfish/opts"
)

const (
	defaultSlowSubscriberTimeout = 100 * time.Millisecond
	subscriptionBuffer           = 50
)

type localBroker struct {
	topics                *haxmap.Map[string, *topic]
	slowSubscriberTimeout time.Duration
}

// LocalOption configures the in-process broker.
type LocalOption = opts.Option[localBroker]

// WithSlowSubscriberTimeout sets how long a publish waits on a full
// subscriber before dropping that subscriber.
var WithSlowSubscriberTimeout = opts.ForName[localBroker, time.Duration]("slowSubscriberTimeout")

// Local creates an in-process broker.
func Local(options ...LocalOption) Broker {
	b := &localBroker{
		topics:                haxmap.New[string, *topic](),
		slowSubscriberTimeout: defaultSlowSubscriberTimeout,
	}
	if err := opts.Apply(b, options); err != nil {
		panic(err)
	}
	return b
}

func (b *localBroker) Topic(ctx context.Context, id string) Topic {
	topic, _ := b.topics.GetOrCompute(id, func() *topic {
		return &topic{
			ID:                    id,
			subscriptions:         haxmap.New[string, *subscription](),
			slowSubscriberTimeout: b.slowSubscriberTimeout,
		}
	})
	return topic
}

func (b *localBroker) Close(id string) {
	b.topics.Del(id)
}

type topic struct {
	ID                    string
	subscriptions         *haxmap.Map[string, *subscription]
	slowSubscriberTimeout time.Duration
}

func (t *topic) Publish(ctx context.Context, event stream.Event) error {
	t.subscriptions.ForEach(func(id string, sub *subscription) bool {
		if sub == nil {
			return true
		}

		select {
		case <-ctx.Done():
			return false
		case <-sub.done:
			return true
		case <-sub.ctx.Done():
			sub.Unsubscribe()
			return true
		default:
		}

		timer := time.NewTimer(t.slowSubscriberTimeout)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return false
		case <-sub.done:
		case <-sub.ctx.Done():
			sub.Unsubscribe()
		case sub.channel <- event:
		case <-timer.C:
			// full for too long, drop the subscriber
			sub.Unsubscribe()
		}
		return true
	})
	return ctx.Err()
}

func (t *topic) Subscribe(ctx context.Context, h stream.Handler) (Subscription, error) {
	if h == nil {
		return nil, errHandlerRequired
	}
	return t.newSubscription(ctx, h), nil
}

func (t *topic) newSubscription(ctx context.Context, h stream.Handler) *subscription {
	id := uuidx.NewString()
	sub := &subscription{
		id:      id,
		ctx:     ctx,
		channel: make(chan stream.Event, subscriptionBuffer),
		done:    make(chan struct{}),
		onClose: func() { t.subscriptions.Del(id) },
		handler: h,
	}
	t.subscriptions.Set(id, sub)
	go sub.forward()
	return sub
}

type subscription struct {
	id        string
	ctx       context.Context
	channel   chan stream.Event
	done      chan struct{}
	closeOnce sync.Once
	onClose   func()
	handler   stream.Handler
}

func (s *subscription) ID() string {
	return s.id
}

func (s *subscription) Unsubscribe() {
	s.closeOnce.Do(func() {
		if s.onClose != nil {
			s.onClose()
		}
		close(s.done)
	})
}

func (s *subscription) forward() {
	for {
		select {
		case ev := <-s.channel:
			dispatch(s.ctx, s.handler, ev)
		case <-s.done:
			return
		case <-s.ctx.Done():
			s.Unsubscribe()
			return
		}
	}
}
