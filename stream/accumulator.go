package stream

import (
	"strings"

	"github.com/casualjim/trickle/completion"
	"github.com/casualjim/trickle/messages"
)

// accumulator builds the full assistant message out of streamed deltas.
type accumulator struct {
	id      string
	model   string
	content strings.Builder
	// tool calls keyed by stream index, in first-seen order
	calls map[int]*toolCallState
	order []int
}

type toolCallState struct {
	id   string
	name string
	args strings.Builder
}

func (acc *accumulator) observe(chunk *Chunk) {
	if acc.id == "" {
		acc.id = chunk.ID
	}
	if acc.model == "" {
		acc.model = chunk.Model
	}
}

func (acc *accumulator) appendText(text string) {
	acc.content.WriteString(text)
}

func (acc *accumulator) appendToolCalls(deltas []ToolCallDelta) {
	if len(deltas) == 0 {
		return
	}
	if acc.calls == nil {
		acc.calls = make(map[int]*toolCallState)
	}
	for _, delta := range deltas {
		state := acc.calls[delta.Index]
		if state == nil {
			state = &toolCallState{}
			acc.calls[delta.Index] = state
			acc.order = append(acc.order, delta.Index)
		}
		if delta.ID != "" {
			state.id = delta.ID
		}
		if delta.Function.Name != "" {
			state.name = delta.Function.Name
		}
		state.args.WriteString(delta.Function.Arguments)
	}
}

func (acc *accumulator) toolCalls() []messages.ToolCall {
	if len(acc.order) == 0 {
		return nil
	}
	calls := make([]messages.ToolCall, 0, len(acc.order))
	for _, idx := range acc.order {
		state := acc.calls[idx]
		calls = append(calls, messages.ToolCall{
			ID:        state.id,
			Name:      state.name,
			Arguments: state.args.String(),
		})
	}
	return calls
}

// completion carries usage only when the finishing frame reported it.
func (acc *accumulator) completion(finishReason string, usage *completion.Usage) Completion {
	if usage != nil {
		u := *usage
		usage = &u
	}
	return Completion{
		ID:           acc.id,
		Model:        acc.model,
		Content:      acc.content.String(),
		ToolCalls:    acc.toolCalls(),
		FinishReason: finishReason,
		Usage:        usage,
	}
}
