package messages

import (
	"errors"
	"fmt"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Role identifies the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant, RoleTool:
		return true
	}
	return false
}

// ToolCall is a function invocation emitted by the assistant.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Message is one role-tagged entry of a conversation.
type Message struct {
	Role  Role
	Parts []ContentPart
	// Name optionally identifies the participant.
	Name string
	// ToolCallID links a tool result to the call it answers (role tool).
	ToolCallID string
	// ToolCalls are the calls emitted by the assistant (role assistant).
	ToolCalls []ToolCall
	_         struct{}
}

// System creates a system message.
func System(text string) Message {
	return Message{Role: RoleSystem, Parts: []ContentPart{Text(text)}}
}

// User creates a plain text user message.
func User(text string) Message {
	return Message{Role: RoleUser, Parts: []ContentPart{Text(text)}}
}

// UserParts creates a multi-part user message; part order is preserved.
func UserParts(parts ...ContentPart) Message {
	return Message{Role: RoleUser, Parts: parts}
}

// Assistant creates a plain text assistant message.
func Assistant(text string) Message {
	return Message{Role: RoleAssistant, Parts: []ContentPart{Text(text)}}
}

// AssistantToolCalls creates an assistant message that only carries tool calls.
func AssistantToolCalls(calls ...ToolCall) Message {
	return Message{Role: RoleAssistant, ToolCalls: calls}
}

// ToolResult creates the tool message answering the call with the given id.
func ToolResult(toolCallID, content string) Message {
	return Message{Role: RoleTool, ToolCallID: toolCallID, Parts: []ContentPart{Text(content)}}
}

// Text concatenates the text parts of the message.
func (m Message) Text() string {
	var b strings.Builder
	for _, part := range m.Parts {
		if text, ok := part.(TextPart); ok {
			b.WriteString(text.Text)
		}
	}
	return b.String()
}

// Validate reports every problem that would make the message unusable in a request.
func (m Message) Validate() error {
	var err error
	if !m.Role.Valid() {
		err = errors.Join(err, fmt.Errorf("unknown role %q", m.Role))
	}
	if m.Role == RoleTool && strings.TrimSpace(m.ToolCallID) == "" {
		err = errors.Join(err, errors.New("tool message requires a tool call id"))
	}
	if len(m.ToolCalls) > 0 && m.Role != RoleAssistant {
		err = errors.Join(err, fmt.Errorf("%s message cannot carry tool calls", m.Role))
	}
	if len(m.Parts) == 0 && len(m.ToolCalls) == 0 {
		err = errors.Join(err, errors.New("message has no content"))
	}
	for idx, part := range m.Parts {
		switch p := part.(type) {
		case ImagePart:
			if strings.TrimSpace(p.URL) == "" {
				err = errors.Join(err, fmt.Errorf("image part at %d has no url", idx))
			}
			if m.Role != RoleUser {
				err = errors.Join(err, fmt.Errorf("image part at %d is only allowed in user messages", idx))
			}
		case TextPart:
		case nil:
			err = errors.Join(err, fmt.Errorf("content part at %d is nil", idx))
		default:
			err = errors.Join(err, fmt.Errorf("content part at %d has unsupported type %T", idx, part))
		}
	}
	return err
}

// MarshalJSON encodes the message in the OpenAI-compatible chat format.
func (m Message) MarshalJSON() ([]byte, error) {
	result, err := sjson.SetBytes([]byte(`{}`), "role", string(m.Role))
	if err != nil {
		return nil, err
	}

	if len(m.Parts) > 0 {
		content, err := marshalParts(m.Parts)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal content: %w", err)
		}
		if result, err = sjson.SetRawBytes(result, "content", content); err != nil {
			return nil, err
		}
	} else if result, err = sjson.SetRawBytes(result, "content", []byte(`null`)); err != nil {
		return nil, err
	}

	if m.Name != "" {
		if result, err = sjson.SetBytes(result, "name", m.Name); err != nil {
			return nil, err
		}
	}
	if m.ToolCallID != "" {
		if result, err = sjson.SetBytes(result, "tool_call_id", m.ToolCallID); err != nil {
			return nil, err
		}
	}
	for idx, call := range m.ToolCalls {
		prefix := fmt.Sprintf("tool_calls.%d.", idx)
		if result, err = sjson.SetBytes(result, prefix+"id", call.ID); err != nil {
			return nil, err
		}
		if result, err = sjson.SetBytes(result, prefix+"type", "function"); err != nil {
			return nil, err
		}
		if result, err = sjson.SetBytes(result, prefix+"function.name", call.Name); err != nil {
			return nil, err
		}
		if result, err = sjson.SetBytes(result, prefix+"function.arguments", call.Arguments); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// UnmarshalJSON decodes a message in the OpenAI-compatible chat format.
func (m *Message) UnmarshalJSON(input []byte) error {
	if !gjson.ValidBytes(input) {
		return fmt.Errorf("invalid json: %s", input)
	}
	jv := gjson.ParseBytes(input)

	parts, err := unmarshalParts(jv.Get("content"))
	if err != nil {
		return err
	}

	var calls []ToolCall
	for _, tc := range jv.Get("tool_calls").Array() {
		calls = append(calls, ToolCall{
			ID:        tc.Get("id").String(),
			Name:      tc.Get("function.name").String(),
			Arguments: tc.Get("function.arguments").String(),
		})
	}

	*m = Message{
		Role:       Role(jv.Get("role").String()),
		Parts:      parts,
		Name:       jv.Get("name").String(),
		ToolCallID: jv.Get("tool_call_id").String(),
		ToolCalls:  calls,
	}
	return nil
}

// MarshalMessages encodes a conversation as a JSON array.
func MarshalMessages(msgs []Message) ([]byte, error) {
	if msgs == nil {
		return []byte(`[]`), nil
	}
	return json.Marshal(msgs)
}
