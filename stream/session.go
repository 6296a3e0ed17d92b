package stream

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/casualjim/trickle/completion"
	"github.com/casualjim/trickle/internal/sse"
	"github.com/casualjim/trickle/llmerr"
	"github.com/casualjim/trickle/pkg/slogx"
	"github.com/fogfish/opts"
	json "github.com/goccy/go-json"
	"github.com/tidwall/gjson"
)

// State is the lifecycle position of a Session.
type State int32

const (
	StateActive State = iota
	StateCompleted
	StateErrored
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateCompleted:
		return "completed"
	case StateErrored:
		return "errored"
	case StateCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool { return s != StateActive }

// Skip records a frame that was dropped because it could not be decoded.
type Skip struct {
	// Index is the zero based position of the frame among the data frames of the stream.
	Index   int
	Payload string
	Err     error
}

// Session is the state machine of one in-flight streaming completion. It
// owns the residual buffer and turns the bytes of the response body into
// handler calls.
//
// A session expects a single writer feeding it bytes; the methods are
// nevertheless safe to call from other goroutines, which is how Cancel is
// used.
type Session struct {
	id      string
	handler Handler
	ctx     context.Context
	cancel  context.CancelFunc
	release func()
	logger  *slog.Logger

	// set before the transport is cancelled so that read errors caused by
	// the cancellation are not reported as failures
	cancelling atomic.Bool
	state      atomic.Int32

	mu       sync.Mutex
	residual string
	frames   int
	acc      accumulator
	skipped  []Skip
}

// Option configures a Session.
type Option = opts.Option[Session]

var (
	// WithLogger sets the logger used for diagnostics.
	WithLogger = opts.ForName[Session, *slog.Logger]("logger")

	// WithRelease registers the function that removes the session from its
	// registry. It runs once, on the terminal transition, before the terminal
	// event is delivered.
	WithRelease = opts.ForName[Session, func()]("release")
)

// WithContext sets the context passed to handler calls, usually the one the
// transport request runs under.
func WithContext(ctx context.Context) Option {
	return opts.Type[Session](func(s *Session) error {
		s.ctx = ctx
		return nil
	})
}

// WithTransportCancel registers the function that stops byte delivery. It is
// called on cancellation and after every terminal transition.
func WithTransportCancel(cancel context.CancelFunc) Option {
	return opts.Type[Session](func(s *Session) error {
		s.cancel = cancel
		return nil
	})
}

// NewSession creates an active session that reports to h.
func NewSession(id string, h Handler, options ...Option) *Session {
	s := &Session{
		id:      id,
		handler: h,
		ctx:     context.Background(),
	}
	if err := opts.Apply(s, options); err != nil {
		panic(err)
	}
	if s.logger == nil {
		s.logger = slogx.Component("stream")
	}
	s.logger = s.logger.With(slogx.StreamID(id))
	return s
}

// ID returns the stream identifier.
func (s *Session) ID() string { return s.id }

// State returns the current lifecycle state.
func (s *Session) State() State { return State(s.state.Load()) }

// Skipped returns the frames that were dropped so far.
func (s *Session) Skipped() []Skip {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.skipped)
}

// Feed processes the next chunk of the response body and returns the state
// after it. Chunks fed to a terminal session are ignored.
func (s *Session) Feed(chunk string) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.accepting() {
		return s.State()
	}
	frames, residual := sse.Parse(s.residual, chunk)
	s.residual = residual
	s.process(frames)
	return s.State()
}

// Finish is called when the transport reached the end of the body. A pending
// unterminated line is processed as if it were complete; if the stream did
// not reach a finish reason or the sentinel it fails as interrupted.
func (s *Session) Finish() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.accepting() {
		return s.State()
	}
	if s.residual != "" {
		frames, _ := sse.Parse(s.residual, "\n")
		s.residual = ""
		s.process(frames)
	}
	if s.accepting() {
		s.fail(llmerr.Interrupted(nil))
	}
	return s.State()
}

// Fail ends an active session with err, which is delivered to the handler.
// It returns false when the session was already terminal or being cancelled.
func (s *Session) Fail(err *llmerr.Error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.accepting() {
		return false
	}
	s.fail(err)
	return true
}

// Cancel stops byte delivery, discards the residual buffer and ends the
// session without emitting a terminal event. Once Cancel returns no handler
// call for this session is in progress or will start. It returns false when
// the session was already terminal.
func (s *Session) Cancel() bool {
	if s.State().Terminal() {
		return false
	}
	s.cancelling.Store(true)
	if s.cancel != nil {
		s.cancel()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.transition(StateCancelled) {
		return false
	}
	s.logger.Debug("stream cancelled", slog.Int("frames", s.frames))
	if obs, ok := s.handler.(CancelObserver); ok {
		obs.OnCancel(s.ctx)
	}
	return true
}

func (s *Session) accepting() bool {
	return !s.State().Terminal() && !s.cancelling.Load()
}

func (s *Session) process(frames []sse.Frame) {
	for _, frame := range frames {
		if !s.accepting() {
			return
		}
		if frame.Done {
			s.complete("", nil)
			return
		}

		idx := s.frames
		s.frames++

		var chunk Chunk
		if err := json.Unmarshal([]byte(frame.Data), &chunk); err != nil {
			s.skip(Skip{Index: idx, Payload: frame.Data, Err: err})
			continue
		}
		if errObj := gjson.Get(frame.Data, "error"); errObj.IsObject() {
			s.fail(llmerr.FromErrorFrame([]byte(frame.Data)))
			return
		}

		s.acc.observe(&chunk)
		for _, choice := range chunk.Choices {
			if choice.Delta.Content != nil && *choice.Delta.Content != "" {
				s.acc.appendText(*choice.Delta.Content)
				s.handler.OnToken(s.ctx, *choice.Delta.Content)
			}
			s.acc.appendToolCalls(choice.Delta.ToolCalls)
			if choice.FinishReason != nil {
				s.complete(*choice.FinishReason, chunk.Usage)
				return
			}
		}
	}
}

func (s *Session) skip(skip Skip) {
	s.skipped = append(s.skipped, skip)
	s.logger.Debug("skipping undecodable frame",
		slog.Int("index", skip.Index),
		slog.String("payload", skip.Payload),
		slogx.Error(skip.Err),
	)
	if obs, ok := s.handler.(SkipObserver); ok {
		obs.OnSkip(s.ctx, skip)
	}
}

func (s *Session) complete(finishReason string, usage *completion.Usage) {
	if !s.transition(StateCompleted) {
		return
	}
	s.handler.OnComplete(s.ctx, s.acc.completion(finishReason, usage))
	s.closeTransport()
}

func (s *Session) fail(err *llmerr.Error) {
	if !s.transition(StateErrored) {
		return
	}
	s.logger.Debug("stream failed", slogx.Error(err))
	s.handler.OnError(s.ctx, err)
	s.closeTransport()
}

// transition moves an active session into a terminal state and releases its
// registry entry. It reports false when the session was already terminal.
func (s *Session) transition(to State) bool {
	if !s.state.CompareAndSwap(int32(StateActive), int32(to)) {
		return false
	}
	s.residual = ""
	if s.release != nil {
		s.release()
	}
	return true
}

func (s *Session) closeTransport() {
	if s.cancel != nil {
		s.cancel()
	}
}
