package completion

import "github.com/casualjim/trickle/messages"

// Usage reports the token counts the service charged for a completion.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is the result of a non-streaming completion.
type Response struct {
	ID           string
	Model        string
	Message      messages.Message
	FinishReason string
	Usage        *Usage
}
