package trickle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/casualjim/trickle/completion"
	"github.com/casualjim/trickle/internal/registry"
	"github.com/casualjim/trickle/llmerr"
	"github.com/casualjim/trickle/metrics"
	"github.com/casualjim/trickle/pkg/slogx"
	"github.com/casualjim/trickle/pkg/uuidx"
	"github.com/casualjim/trickle/pubsub"
	"github.com/casualjim/trickle/stream"
	"github.com/fogfish/opts"
)

const (
	defaultReadSize      = 4 << 10
	defaultChannelBuffer = 64
)

var (
	// ErrMissingID is returned when a stream is started without an identifier.
	ErrMissingID = errors.New("stream id is required")
	// ErrStreamActive is returned when a stream is started with the
	// identifier of a stream that has not reached a terminal state yet.
	ErrStreamActive = errors.New("stream is already active")
	// ErrNoCompleter is returned by Complete when the engine was built
	// without a non-streaming completer.
	ErrNoCompleter = errors.New("no completer configured")

	errTransportRequired = errors.New("transport is required")
	errHandlerRequired   = errors.New("handler is required")
)

// Transport opens the streamed response body of a completion request. A
// failure should be an *llmerr.Error; other errors are classified.
type Transport interface {
	Open(ctx context.Context, req *completion.Request) (io.ReadCloser, error)
}

// Completer performs a completion request without streaming.
type Completer interface {
	Complete(ctx context.Context, req *completion.Request) (*completion.Response, error)
}

// Engine runs streaming completions. It keeps at most one active stream per
// identifier and lets callers cancel streams individually or all at once.
type Engine struct {
	transport Transport
	completer Completer
	broker    pubsub.Broker
	logger    *slog.Logger
	metrics   *metrics.Metrics
	readSize  int
	sessions  registry.Registry[*stream.Session]
}

// New creates an engine. A transport is required.
func New(options ...Option) (*Engine, error) {
	e := &Engine{
		readSize: defaultReadSize,
		sessions: registry.New[*stream.Session](),
	}
	if err := opts.Apply(e, options); err != nil {
		return nil, err
	}
	if e.transport == nil {
		return nil, errTransportRequired
	}
	if e.readSize <= 0 {
		return nil, fmt.Errorf("read size must be positive, got %d", e.readSize)
	}
	if e.logger == nil {
		e.logger = slogx.Component("trickle")
	}
	return e, nil
}

// NewStreamID returns a fresh identifier for StartStream.
func NewStreamID() string {
	return uuidx.StreamID()
}

// StartStream registers a stream under id and starts the request in the
// background. Events for the stream are delivered to h in order: tokens,
// then exactly one completion or error, unless the stream is cancelled.
// Request failures, including rejected statuses, are delivered through
// h.OnError rather than returned.
//
// It returns ErrStreamActive when id is already in use; the running stream
// is left untouched. Cancelling ctx cancels the stream, a deadline on ctx
// ends it with a network error.
func (e *Engine) StartStream(ctx context.Context, req *completion.Request, id string, h stream.Handler) error {
	if id == "" {
		return ErrMissingID
	}
	if h == nil {
		return errHandlerRequired
	}
	if req == nil {
		return llmerr.InvalidRequest("request is required", nil)
	}

	tctx, cancel := context.WithCancel(ctx)
	logger := e.logger.With(slogx.StreamID(id))
	var session *stream.Session
	session = stream.NewSession(id, e.observe(ctx, id, req.Model(), h, logger),
		stream.WithContext(tctx),
		stream.WithTransportCancel(cancel),
		stream.WithLogger(logger),
		stream.WithRelease(func() { e.sessions.Remove(id, session) }),
	)
	if _, added := e.sessions.Add(id, session); !added {
		cancel()
		return fmt.Errorf("%w: %s", ErrStreamActive, id)
	}
	e.metrics.RecordStart(req.Model())
	logger.Debug("stream started", slog.String("model", req.Model()))

	go e.pump(ctx, tctx, session, req.Streaming())
	return nil
}

// Stream is StartStream with the events delivered on a channel. The channel
// is closed after the terminal event, or when the stream is cancelled.
func (e *Engine) Stream(ctx context.Context, req *completion.Request, id string) (<-chan stream.Event, error) {
	h, events := stream.Channel(id, defaultChannelBuffer)
	if err := e.StartStream(ctx, req, id, h); err != nil {
		return nil, err
	}
	return events, nil
}

// CancelStream stops the stream registered under id. Once it returns no
// further event is delivered for that stream. Unknown or finished ids are
// ignored; the result reports whether a stream was cancelled.
func (e *Engine) CancelStream(id string) bool {
	session, ok := e.sessions.Take(id)
	if !ok {
		return false
	}
	return session.Cancel()
}

// CancelAllStreams cancels every active stream and clears the registry.
func (e *Engine) CancelAllStreams() {
	sessions := e.sessions.Drain()
	for _, session := range sessions {
		session.Cancel()
	}
	if len(sessions) > 0 {
		e.logger.Debug("cancelled all streams", slog.Int("count", len(sessions)))
	}
}

// Active reports whether a stream is registered under id.
func (e *Engine) Active(id string) bool {
	_, ok := e.sessions.Get(id)
	return ok
}

// Len returns the number of active streams.
func (e *Engine) Len() int {
	return e.sessions.Len()
}

// Complete performs req without streaming.
func (e *Engine) Complete(ctx context.Context, req *completion.Request) (*completion.Response, error) {
	if e.completer == nil {
		return nil, ErrNoCompleter
	}
	if req == nil {
		return nil, llmerr.InvalidRequest("request is required", nil)
	}
	resp, err := e.completer.Complete(ctx, req)
	if err != nil {
		return nil, llmerr.Classify(err)
	}
	return resp, nil
}

// pump is the single writer of a session: it opens the body and feeds it
// to the session until the session is terminal.
func (e *Engine) pump(parent, ctx context.Context, session *stream.Session, req *completion.Request) {
	stop := context.AfterFunc(parent, func() {
		if errors.Is(parent.Err(), context.Canceled) {
			session.Cancel()
		}
	})
	defer stop()

	body, err := e.transport.Open(ctx, req)
	if err != nil {
		e.interrupt(parent, session, llmerr.Classify(err))
		return
	}
	defer body.Close()

	buf := make([]byte, e.readSize)
	for {
		n, err := body.Read(buf)
		if n > 0 && session.Feed(string(buf[:n])).Terminal() {
			return
		}
		if errors.Is(err, io.EOF) {
			session.Finish()
			return
		}
		if err != nil {
			e.interrupt(parent, session, llmerr.Interrupted(err))
			return
		}
	}
}

// interrupt ends a session whose transport failed. Failures caused by the
// caller cancelling the parent context end the session silently.
func (e *Engine) interrupt(parent context.Context, session *stream.Session, err *llmerr.Error) {
	switch {
	case errors.Is(parent.Err(), context.DeadlineExceeded):
		session.Fail(llmerr.Classify(parent.Err()))
	case parent.Err() != nil:
		session.Cancel()
	default:
		session.Fail(err)
	}
}
