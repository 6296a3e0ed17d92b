package main

import (
	"bytes"
	"context"
	"net/http"
	"testing"

	"github.com/casualjim/trickle/completion"
	"github.com/casualjim/trickle/llmerr"
	"github.com/casualjim/trickle/messages"
	"github.com/casualjim/trickle/stream"
	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	color.NoColor = true
}

func TestPrintStream(t *testing.T) {
	t.Run("completed", func(t *testing.T) {
		events := make(chan stream.Event, 4)
		events <- stream.Token{Text: "Hel"}
		events <- stream.Token{Text: "lo"}
		events <- stream.Completed{Completion: stream.Completion{
			Content:   "Hello",
			ToolCalls: []messages.ToolCall{{ID: "call_1", Name: "lookup", Arguments: `{"q": "x"}`}},
			Usage:     &completion.Usage{PromptTokens: 1, CompletionTokens: 2, TotalTokens: 3},
		}}
		close(events)

		var out bytes.Buffer
		result, err := printStream(context.Background(), &out, events, false)
		require.NoError(t, err)
		assert.Equal(t, "Hello", result.Content)
		assert.Equal(t, "Hello\nlookup{\"q\"=\"x\"}\ntokens: 1 prompt, 2 completion, 3 total\n", out.String())
	})

	t.Run("failed", func(t *testing.T) {
		events := make(chan stream.Event, 2)
		events <- stream.Token{Text: "Hel"}
		events <- stream.Failed{Err: llmerr.Interrupted(nil)}

		var out bytes.Buffer
		_, err := printStream(context.Background(), &out, events, false)
		lerr, ok := llmerr.As(err)
		require.True(t, ok)
		assert.Equal(t, llmerr.KindInterrupted, lerr.Kind)
		assert.Equal(t, "Hel\n", out.String())
	})

	t.Run("cancelled", func(t *testing.T) {
		events := make(chan stream.Event)
		close(events)

		_, err := printStream(context.Background(), &bytes.Buffer{}, events, false)
		assert.ErrorIs(t, err, errCancelled)
	})
}

func TestPrintError(t *testing.T) {
	var out bytes.Buffer
	printError(&out, llmerr.FromStatus(http.StatusRequestEntityTooLarge, nil, nil))
	assert.Contains(t, out.String(), "Error: llm ")
	assert.Contains(t, out.String(), "Hint: ")
}

func TestDumpRequest(t *testing.T) {
	req, err := completion.New("test/model", []messages.Message{messages.User("Hello")})
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, dumpRequest(&out, req.Streaming()))
	assert.Contains(t, out.String(), "test/model")
}
