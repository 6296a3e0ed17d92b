package trickle

import (
	"log/slog"

	"github.com/casualjim/trickle/metrics"
	"github.com/casualjim/trickle/pubsub"
	"github.com/fogfish/opts"
)

// Option configures an Engine.
type Option = opts.Option[Engine]

var (
	// WithLogger sets the logger the engine and its sessions log to.
	WithLogger = opts.ForName[Engine, *slog.Logger]("logger")

	// WithMetrics records stream metrics into m.
	WithMetrics = opts.ForName[Engine, *metrics.Metrics]("metrics")

	// WithReadSize sets the size of the reads from the response body.
	WithReadSize = opts.ForName[Engine, int]("readSize")
)

// WithTransport sets the transport streaming requests are sent with.
func WithTransport(t Transport) Option {
	return opts.Type[Engine](func(e *Engine) error {
		e.transport = t
		return nil
	})
}

// WithCompleter sets the client used by Complete.
func WithCompleter(c Completer) Option {
	return opts.Type[Engine](func(e *Engine) error {
		e.completer = c
		return nil
	})
}

// WithBroker mirrors the events of every stream onto the broker topic named
// after the stream identifier.
func WithBroker(b pubsub.Broker) Option {
	return opts.Type[Engine](func(e *Engine) error {
		e.broker = b
		return nil
	})
}
