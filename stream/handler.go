package stream

import (
	"context"

	"github.com/casualjim/trickle/llmerr"
)

// Handler receives the events of one stream, in order. OnToken is called zero
// or more times, then exactly one of OnComplete or OnError, unless the stream
// is cancelled, in which case nothing further is delivered.
//
// Calls are serialized per stream and run while the session is locked: a
// handler must not cancel its own stream synchronously.
type Handler interface {
	OnToken(ctx context.Context, text string)
	OnComplete(ctx context.Context, result Completion)
	OnError(ctx context.Context, err *llmerr.Error)
}

// SkipObserver is implemented by handlers that want to know about frames
// that could not be decoded and were skipped.
type SkipObserver interface {
	OnSkip(ctx context.Context, skip Skip)
}

// CancelObserver is implemented by handlers that hold resources which must be
// released when the stream is cancelled instead of terminated.
type CancelObserver interface {
	OnCancel(ctx context.Context)
}

// HandlerFuncs adapts plain functions to a Handler. Nil members are ignored.
type HandlerFuncs struct {
	Token    func(ctx context.Context, text string)
	Complete func(ctx context.Context, result Completion)
	Error    func(ctx context.Context, err *llmerr.Error)
	Skip     func(ctx context.Context, skip Skip)
}

func (h HandlerFuncs) OnToken(ctx context.Context, text string) {
	if h.Token != nil {
		h.Token(ctx, text)
	}
}

func (h HandlerFuncs) OnComplete(ctx context.Context, result Completion) {
	if h.Complete != nil {
		h.Complete(ctx, result)
	}
}

func (h HandlerFuncs) OnError(ctx context.Context, err *llmerr.Error) {
	if h.Error != nil {
		h.Error(ctx, err)
	}
}

func (h HandlerFuncs) OnSkip(ctx context.Context, skip Skip) {
	if h.Skip != nil {
		h.Skip(ctx, skip)
	}
}

// Channel returns a handler that converts the stream into events on a
// channel, and the channel itself. The channel is closed after the terminal
// event, or when the stream is cancelled. A send that would block gives up
// once the context passed to the callback is done.
func Channel(id string, buffer int) (Handler, <-chan Event) {
	ch := make(chan Event, buffer)
	return &chanHandler{id: id, ch: ch}, ch
}

type chanHandler struct {
	id string
	ch chan Event
}

func (c *chanHandler) send(ctx context.Context, ev Event) {
	// room in the buffer wins over a done context
	select {
	case c.ch <- ev:
		return
	default:
	}
	select {
	case c.ch <- ev:
	case <-ctx.Done():
	}
}

func (c *chanHandler) OnToken(ctx context.Context, text string) {
	c.send(ctx, Token{StreamID: c.id, Text: text, Timestamp: now()})
}

func (c *chanHandler) OnComplete(ctx context.Context, result Completion) {
	c.send(ctx, Completed{StreamID: c.id, Completion: result, Timestamp: now()})
	close(c.ch)
}

func (c *chanHandler) OnError(ctx context.Context, err *llmerr.Error) {
	c.send(ctx, Failed{StreamID: c.id, Err: err, Timestamp: now()})
	close(c.ch)
}

func (c *chanHandler) OnCancel(context.Context) {
	close(c.ch)
}
