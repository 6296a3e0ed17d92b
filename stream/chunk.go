package stream

import "github.com/casualjim/trickle/completion"

// Chunk is one decoded frame of a streamed chat completion.
type Chunk struct {
	ID      string            `json:"id,omitempty"`
	Object  string            `json:"object,omitempty"`
	Created int64             `json:"created,omitempty"`
	Model   string            `json:"model,omitempty"`
	Choices []Choice          `json:"choices"`
	Usage   *completion.Usage `json:"usage,omitempty"`
}

// Choice carries the incremental update for one choice index.
type Choice struct {
	Index        int     `json:"index"`
	Delta        Delta   `json:"delta"`
	FinishReason *string `json:"finish_reason"`
}

// Delta is the incremental message content. Content is nil when the frame
// carries no text at all, which is different from an empty string.
type Delta struct {
	Role      string          `json:"role,omitempty"`
	Content   *string         `json:"content"`
	ToolCalls []ToolCallDelta `json:"tool_calls,omitempty"`
}

// ToolCallDelta is a fragment of a tool call; fragments with the same index
// belong to the same call.
type ToolCallDelta struct {
	Index    int    `json:"index"`
	ID       string `json:"id,omitempty"`
	Type     string `json:"type,omitempty"`
	Function struct {
		Name      string `json:"name,omitempty"`
		Arguments string `json:"arguments,omitempty"`
	} `json:"function"`
}
