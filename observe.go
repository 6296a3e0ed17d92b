package trickle

import (
	"context"
	"log/slog"
	"time"

	"github.com/casualjim/trickle/llmerr"
	"github.com/casualjim/trickle/metrics"
	"github.com/casualjim/trickle/pkg/slogx"
	"github.com/casualjim/trickle/pubsub"
	"github.com/casualjim/trickle/stream"
	"github.com/go-openapi/strfmt"
)

// observed wraps the caller's handler: every event is counted, logged and,
// when a broker is configured, mirrored onto the topic of the stream.
type observed struct {
	id      string
	model   string
	inner   stream.Handler
	broker  pubsub.Broker
	topic   pubsub.Topic
	metrics *metrics.Metrics
	logger  *slog.Logger
	started time.Time
}

func (e *Engine) observe(ctx context.Context, id, model string, h stream.Handler, logger *slog.Logger) *observed {
	o := &observed{
		id:      id,
		model:   model,
		inner:   h,
		metrics: e.metrics,
		logger:  logger,
		started: time.Now(),
	}
	if e.broker != nil {
		o.broker = e.broker
		o.topic = e.broker.Topic(ctx, id)
	}
	return o
}

func (o *observed) OnToken(ctx context.Context, text string) {
	o.metrics.RecordToken(o.model)
	o.inner.OnToken(ctx, text)
	o.publish(ctx, stream.Token{StreamID: o.id, Text: text, Timestamp: timestamp()})
}

func (o *observed) OnComplete(ctx context.Context, result stream.Completion) {
	o.metrics.RecordFinish(metrics.OutcomeCompleted, "", o.started)
	if result.Usage != nil {
		o.metrics.RecordUsage(o.model, result.Usage.PromptTokens, result.Usage.CompletionTokens)
	}
	o.logger.Info("stream completed",
		slog.String("finish_reason", result.FinishReason),
		slog.Duration("elapsed", time.Since(o.started)),
	)
	o.inner.OnComplete(ctx, result)
	o.publish(ctx, stream.Completed{StreamID: o.id, Completion: result, Timestamp: timestamp()})
	o.closeTopic()
}

func (o *observed) OnError(ctx context.Context, err *llmerr.Error) {
	o.metrics.RecordFinish(metrics.OutcomeErrored, string(err.Kind), o.started)
	o.logger.Warn("stream failed",
		slog.String("kind", string(err.Kind)),
		slog.Duration("elapsed", time.Since(o.started)),
		slogx.Error(err),
	)
	o.inner.OnError(ctx, err)
	o.publish(ctx, stream.Failed{StreamID: o.id, Err: err, Timestamp: timestamp()})
	o.closeTopic()
}

func (o *observed) OnSkip(ctx context.Context, skip stream.Skip) {
	o.metrics.RecordSkip()
	if obs, ok := o.inner.(stream.SkipObserver); ok {
		obs.OnSkip(ctx, skip)
	}
}

func (o *observed) OnCancel(ctx context.Context) {
	o.metrics.RecordFinish(metrics.OutcomeCancelled, "", o.started)
	if obs, ok := o.inner.(stream.CancelObserver); ok {
		obs.OnCancel(ctx)
	}
	o.closeTopic()
}

func (o *observed) publish(ctx context.Context, ev stream.Event) {
	if o.topic == nil {
		return
	}
	if err := o.topic.Publish(ctx, ev); err != nil {
		o.logger.Debug("failed to mirror stream event", slogx.Error(err))
	}
}

// closeTopic releases the broker topic once the stream is over.
func (o *observed) closeTopic() {
	if o.broker != nil {
		o.broker.Close(o.id)
	}
}

func timestamp() strfmt.DateTime {
	return strfmt.DateTime(time.Now().UTC())
}
