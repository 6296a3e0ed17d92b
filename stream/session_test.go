package stream

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/casualjim/trickle/completion"
	"github.com/casualjim/trickle/llmerr"
	"github.com/casualjim/trickle/messages"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu          sync.Mutex
	tokens      []string
	completions []Completion
	errs        []*llmerr.Error
	skips       []Skip
	cancels     int
}

func (r *recorder) OnToken(_ context.Context, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tokens = append(r.tokens, text)
}

func (r *recorder) OnComplete(_ context.Context, result Completion) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completions = append(r.completions, result)
}

func (r *recorder) OnError(_ context.Context, err *llmerr.Error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

func (r *recorder) OnSkip(_ context.Context, skip Skip) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.skips = append(r.skips, skip)
}

func (r *recorder) OnCancel(context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancels++
}

func (r *recorder) events() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tokens) + len(r.completions) + len(r.errs)
}

func tokenFrame(text string) string {
	return fmt.Sprintf(`data: {"id":"gen-1","object":"chat.completion.chunk","created":1,"model":"test/model","choices":[{"index":0,"delta":{"content":%q}}]}`+"\n", text)
}

const (
	stopFrame      = `data: {"id":"gen-1","model":"test/model","choices":[{"index":0,"delta":{},"finish_reason":"stop"}],"usage":{"prompt_tokens":7,"completion_tokens":3,"total_tokens":10}}` + "\n"
	doneFrame      = "data: [DONE]\n"
	malformedFrame = `data: {"choices":[{"delta":` + "\n"
)

type fixture struct {
	rec      *recorder
	session  *Session
	releases int
	cancels  int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{rec: &recorder{}}
	f.session = NewSession("stream-1", f.rec,
		WithRelease(func() { f.releases++ }),
		WithTransportCancel(func() { f.cancels++ }),
	)
	return f
}

func TestSession_ScenarioA(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, StateActive, f.session.Feed(tokenFrame("Hel")))
	assert.Equal(t, StateActive, f.session.Feed(tokenFrame("lo")))
	assert.Equal(t, StateCompleted, f.session.Feed(doneFrame))

	assert.Equal(t, []string{"Hel", "lo"}, f.rec.tokens)
	require.Len(t, f.rec.completions, 1)
	assert.Nil(t, f.rec.completions[0].Usage)
	assert.Equal(t, "Hello", f.rec.completions[0].Content)
	assert.Empty(t, f.rec.errs)
	assert.Equal(t, 1, f.releases)
}

func TestSession_ScenarioB(t *testing.T) {
	f := newFixture(t)

	third := tokenFrame("c")
	first := tokenFrame("a") + tokenFrame("b") + third[:20]
	f.session.Feed(first)
	assert.Equal(t, []string{"a", "b"}, f.rec.tokens)

	f.session.Feed(third[20:])
	assert.Equal(t, []string{"a", "b", "c"}, f.rec.tokens)
	assert.Equal(t, StateActive, f.session.State())
}

func TestSession_FinishReasonCompletes(t *testing.T) {
	f := newFixture(t)

	state := f.session.Feed(tokenFrame("Hi") + stopFrame + tokenFrame("late") + doneFrame)
	assert.Equal(t, StateCompleted, state)
	assert.Equal(t, []string{"Hi"}, f.rec.tokens)
	require.Len(t, f.rec.completions, 1)

	got := f.rec.completions[0]
	assert.Equal(t, "gen-1", got.ID)
	assert.Equal(t, "test/model", got.Model)
	assert.Equal(t, "Hi", got.Content)
	assert.Equal(t, "stop", got.FinishReason)
	assert.Equal(t, &completion.Usage{PromptTokens: 7, CompletionTokens: 3, TotalTokens: 10}, got.Usage)
	assert.Equal(t, 1, f.cancels, "transport is closed after completion")
}

func TestSession_UsageOnlyFromFinishFrame(t *testing.T) {
	const usageFrame = `data: {"id":"gen-1","choices":[{"index":0,"delta":{"content":"Hi"}}],"usage":{"prompt_tokens":1,"completion_tokens":1,"total_tokens":2}}` + "\n"

	t.Run("sentinel completes without usage", func(t *testing.T) {
		f := newFixture(t)

		assert.Equal(t, StateCompleted, f.session.Feed(usageFrame+doneFrame))
		require.Len(t, f.rec.completions, 1)
		assert.Equal(t, "Hi", f.rec.completions[0].Content)
		assert.Nil(t, f.rec.completions[0].Usage)
	})

	t.Run("finish frame without usage", func(t *testing.T) {
		f := newFixture(t)

		finish := `data: {"id":"gen-1","choices":[{"index":0,"delta":{},"finish_reason":"length"}]}` + "\n"
		assert.Equal(t, StateCompleted, f.session.Feed(usageFrame+finish))
		require.Len(t, f.rec.completions, 1)
		assert.Equal(t, "length", f.rec.completions[0].FinishReason)
		assert.Nil(t, f.rec.completions[0].Usage)
	})

	t.Run("finish frame with usage", func(t *testing.T) {
		f := newFixture(t)

		assert.Equal(t, StateCompleted, f.session.Feed(usageFrame+stopFrame))
		require.Len(t, f.rec.completions, 1)
		assert.Equal(t, &completion.Usage{PromptTokens: 7, CompletionTokens: 3, TotalTokens: 10}, f.rec.completions[0].Usage)
	})
}

func TestSession_MalformedFrameResilience(t *testing.T) {
	f := newFixture(t)

	f.session.Feed(tokenFrame("one") + malformedFrame + tokenFrame("two"))

	assert.Equal(t, []string{"one", "two"}, f.rec.tokens)
	assert.Empty(t, f.rec.errs)
	assert.Equal(t, StateActive, f.session.State())

	skipped := f.session.Skipped()
	require.Len(t, skipped, 1)
	assert.Equal(t, 1, skipped[0].Index)
	assert.Equal(t, `{"choices":[{"delta":`, skipped[0].Payload)
	assert.Error(t, skipped[0].Err)
	assert.Equal(t, skipped, f.rec.skips)
}

func TestSession_TerminalIdempotence(t *testing.T) {
	t.Run("after completion", func(t *testing.T) {
		f := newFixture(t)
		f.session.Feed(tokenFrame("a") + doneFrame)
		require.Equal(t, StateCompleted, f.session.State())

		assert.Equal(t, StateCompleted, f.session.Feed(tokenFrame("b")+stopFrame))
		assert.Equal(t, StateCompleted, f.session.Finish())
		assert.False(t, f.session.Fail(llmerr.Network(nil)))
		assert.False(t, f.session.Cancel())

		assert.Equal(t, []string{"a"}, f.rec.tokens)
		assert.Len(t, f.rec.completions, 1)
		assert.Empty(t, f.rec.errs)
		assert.Zero(t, f.rec.cancels)
		assert.Equal(t, 1, f.releases)
	})

	t.Run("after error", func(t *testing.T) {
		f := newFixture(t)
		assert.True(t, f.session.Fail(llmerr.Network(nil)))

		f.session.Feed(tokenFrame("a") + doneFrame)
		assert.False(t, f.session.Fail(llmerr.Network(nil)))

		assert.Empty(t, f.rec.tokens)
		assert.Empty(t, f.rec.completions)
		assert.Len(t, f.rec.errs, 1)
		assert.Equal(t, StateErrored, f.session.State())
		assert.Equal(t, 1, f.releases)
	})
}

func TestSession_CancellationSilence(t *testing.T) {
	f := newFixture(t)
	f.session.Feed(tokenFrame("a") + tokenFrame("b")[:10])

	assert.True(t, f.session.Cancel())
	assert.Equal(t, StateCancelled, f.session.State())
	assert.Equal(t, 1, f.cancels)
	assert.Equal(t, 1, f.releases)
	assert.Equal(t, 1, f.rec.cancels)

	f.session.Feed(tokenFrame("b")[10:] + tokenFrame("c") + doneFrame)
	f.session.Finish()
	assert.False(t, f.session.Fail(llmerr.Network(nil)))
	assert.False(t, f.session.Cancel())

	assert.Equal(t, []string{"a"}, f.rec.tokens)
	assert.Empty(t, f.rec.completions)
	assert.Empty(t, f.rec.errs)
	assert.Equal(t, 1, f.releases)
	assert.Equal(t, 1, f.rec.cancels)
}

func TestSession_CancelWhileFeeding(t *testing.T) {
	rec := &recorder{}
	session := NewSession("stream-1", rec)

	started := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		close(started)
		for i := 0; i < 10000; i++ {
			if session.Feed(tokenFrame("x")).Terminal() {
				return
			}
		}
	}()

	<-started
	require.True(t, session.Cancel())
	after := rec.events()
	<-stopped

	assert.Equal(t, after, rec.events(), "no event may fire after Cancel returns")
	assert.Empty(t, rec.completions)
	assert.Empty(t, rec.errs)
}

func TestSession_Finish(t *testing.T) {
	t.Run("flushes unterminated line", func(t *testing.T) {
		f := newFixture(t)
		f.session.Feed(tokenFrame("a") + strings.TrimSuffix(stopFrame, "\n"))
		assert.Empty(t, f.rec.completions)

		assert.Equal(t, StateCompleted, f.session.Finish())
		require.Len(t, f.rec.completions, 1)
		assert.Equal(t, "stop", f.rec.completions[0].FinishReason)
	})

	t.Run("interrupted without terminal frame", func(t *testing.T) {
		f := newFixture(t)
		f.session.Feed(tokenFrame("a") + tokenFrame("b"))

		assert.Equal(t, StateErrored, f.session.Finish())
		assert.Equal(t, []string{"a", "b"}, f.rec.tokens)
		require.Len(t, f.rec.errs, 1)
		assert.Equal(t, llmerr.KindInterrupted, f.rec.errs[0].Kind)
		assert.True(t, f.rec.errs[0].Retryable())
		assert.Equal(t, 1, f.releases)
	})

	t.Run("empty body", func(t *testing.T) {
		f := newFixture(t)
		assert.Equal(t, StateErrored, f.session.Finish())
		require.Len(t, f.rec.errs, 1)
		assert.Equal(t, llmerr.KindInterrupted, f.rec.errs[0].Kind)
	})
}

func TestSession_ErrorFrame(t *testing.T) {
	f := newFixture(t)

	state := f.session.Feed(tokenFrame("a") +
		`data: {"error":{"code":429,"message":"Rate limit exceeded upstream"}}` + "\n" +
		tokenFrame("b"))

	assert.Equal(t, StateErrored, state)
	assert.Equal(t, []string{"a"}, f.rec.tokens)
	require.Len(t, f.rec.errs, 1)
	assert.Equal(t, llmerr.KindRateLimited, f.rec.errs[0].Kind)
	assert.Equal(t, "Rate limit exceeded upstream", f.rec.errs[0].Message)
}

func TestSession_ToolCalls(t *testing.T) {
	f := newFixture(t)

	f.session.Feed(`data: {"choices":[{"index":0,"delta":{"role":"assistant","content":null,"tool_calls":[{"index":0,"id":"call_1","type":"function","function":{"name":"get_weather","arguments":""}}]}}]}` + "\n")
	f.session.Feed(`data: {"choices":[{"index":0,"delta":{"tool_calls":[{"index":1,"id":"call_2","type":"function","function":{"name":"get_time","arguments":"{}"}}]}}]}` + "\n")
	f.session.Feed(`data: {"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{\"ci"}}]}}]}` + "\n")
	f.session.Feed(`data: {"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"ty\":\"Paris\"}"}}]}}]}` + "\n")
	f.session.Feed(`data: {"choices":[{"index":0,"delta":{},"finish_reason":"tool_calls"}]}` + "\n")

	assert.Empty(t, f.rec.tokens)
	require.Len(t, f.rec.completions, 1)
	got := f.rec.completions[0]
	assert.Equal(t, "tool_calls", got.FinishReason)
	assert.Equal(t, []messages.ToolCall{
		{ID: "call_1", Name: "get_weather", Arguments: `{"city":"Paris"}`},
		{ID: "call_2", Name: "get_time", Arguments: `{}`},
	}, got.ToolCalls)
}

func TestSession_ChunkBoundaryIndependence(t *testing.T) {
	body := ": OPENROUTER PROCESSING\n\n" +
		strings.ReplaceAll(tokenFrame("Hel"), "\n", "\r\n") +
		tokenFrame("lo, ") +
		malformedFrame +
		tokenFrame("wörld") +
		stopFrame +
		doneFrame

	run := func(chunks []string) *recorder {
		rec := &recorder{}
		session := NewSession("stream-1", rec)
		for _, chunk := range chunks {
			session.Feed(chunk)
		}
		session.Finish()
		return rec
	}

	want := run([]string{body})
	require.Equal(t, []string{"Hel", "lo, ", "wörld"}, want.tokens)
	require.Len(t, want.completions, 1)
	require.Len(t, want.skips, 1)

	bytewise := make([]string, 0, len(body))
	for i := 0; i < len(body); i++ {
		bytewise = append(bytewise, body[i:i+1])
	}
	got := run(bytewise)
	assert.Equal(t, want.tokens, got.tokens)
	assert.Equal(t, want.completions, got.completions)
	assert.Empty(t, got.errs)

	for i := 1; i < len(body); i += 7 {
		got := run([]string{body[:i], body[i:]})
		require.Equal(t, want.tokens, got.tokens, "split at %d", i)
		require.Equal(t, want.completions, got.completions, "split at %d", i)
	}
}

func TestSession_EmptyContentIsNotAToken(t *testing.T) {
	f := newFixture(t)
	f.session.Feed(`data: {"choices":[{"index":0,"delta":{"role":"assistant","content":""}}]}` + "\n")
	f.session.Feed(`data: {"choices":[{"index":0,"delta":{"content":null}}]}` + "\n")
	assert.Empty(t, f.rec.tokens)
	assert.Equal(t, StateActive, f.session.State())
}

func TestHandlerFuncs(t *testing.T) {
	var tokens []string
	var result Completion
	h := HandlerFuncs{
		Token:    func(_ context.Context, text string) { tokens = append(tokens, text) },
		Complete: func(_ context.Context, c Completion) { result = c },
	}
	session := NewSession("stream-1", h)
	session.Feed(tokenFrame("a") + malformedFrame + tokenFrame("b") + doneFrame)

	assert.Equal(t, []string{"a", "b"}, tokens)
	assert.Equal(t, "ab", result.Content)
	assert.Len(t, session.Skipped(), 1)
}

func TestChannel(t *testing.T) {
	t.Run("closes after terminal event", func(t *testing.T) {
		h, events := Channel("stream-1", 8)
		session := NewSession("stream-1", h)
		session.Feed(tokenFrame("a") + tokenFrame("b") + doneFrame)

		var got []Event
		for ev := range events {
			got = append(got, ev)
		}
		require.Len(t, got, 3)
		assert.Equal(t, "a", got[0].(Token).Text)
		assert.Equal(t, "b", got[1].(Token).Text)
		assert.Equal(t, "ab", got[2].(Completed).Completion.Content)
		assert.True(t, IsTerminal(got[2]))
		for _, ev := range got {
			assert.Equal(t, "stream-1", ev.Stream())
		}
	})

	t.Run("closes on cancel", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		h, events := Channel("stream-1", 0)
		session := NewSession("stream-1", h, WithContext(ctx), WithTransportCancel(cancel))

		done := make(chan struct{})
		go func() {
			defer close(done)
			session.Feed(tokenFrame("a"))
		}()

		// the unbuffered send blocks until the transport context is cancelled
		require.True(t, session.Cancel())
		<-done
		for range events {
		}
		assert.Equal(t, StateCancelled, session.State())
	})
}
