package stream

import (
	"errors"
	"fmt"
	"time"

	"github.com/casualjim/trickle/completion"
	"github.com/casualjim/trickle/llmerr"
	"github.com/casualjim/trickle/messages"
	"github.com/go-openapi/strfmt"
	json "github.com/goccy/go-json"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

var (
	tokenJSON     = []byte(`{"type":"token"}`)
	completedJSON = []byte(`{"type":"completed"}`)
	failedJSON    = []byte(`{"type":"failed"}`)
)

// Event is one caller-visible outcome of a stream: a Token, or exactly one of
// Completed or Failed as the last event.
type Event interface {
	streamEvent()
	// Stream returns the identifier of the stream the event belongs to.
	Stream() string
}

// Completion is the result of a stream that finished normally.
type Completion struct {
	ID           string              `json:"id,omitempty"`
	Model        string              `json:"model,omitempty"`
	Content      string              `json:"content"`
	ToolCalls    []messages.ToolCall `json:"tool_calls,omitempty"`
	FinishReason string              `json:"finish_reason,omitempty"`
	// Usage is nil when the server reported no token counts.
	Usage *completion.Usage `json:"usage,omitempty"`
}

type Token struct {
	StreamID  string
	Text      string
	Timestamp strfmt.DateTime
}

func (Token) streamEvent()     {}
func (t Token) Stream() string { return t.StreamID }

type Completed struct {
	StreamID   string
	Completion Completion
	Timestamp  strfmt.DateTime
}

func (Completed) streamEvent()     {}
func (c Completed) Stream() string { return c.StreamID }

type Failed struct {
	StreamID  string
	Err       *llmerr.Error
	Timestamp strfmt.DateTime
}

func (Failed) streamEvent()     {}
func (f Failed) Stream() string { return f.StreamID }

func (f Failed) Error() string {
	return fmt.Sprintf("stream %s: %v", f.StreamID, f.Err)
}

// IsTerminal reports whether ev ends its stream.
func IsTerminal(ev Event) bool {
	switch ev.(type) {
	case Completed, *Completed, Failed, *Failed:
		return true
	default:
		return false
	}
}

func now() strfmt.DateTime { return strfmt.DateTime(time.Now().UTC()) }

func setHeader(result []byte, streamID string, ts strfmt.DateTime) ([]byte, error) {
	result, err := sjson.SetBytes(result, "stream_id", streamID)
	if err != nil {
		return nil, err
	}
	if !ts.IsZero() {
		result, err = sjson.SetBytes(result, "timestamp", ts.String())
		if err != nil {
			return nil, err
		}
	}
	return result, nil
}

func readHeader(data []byte, want string) (string, strfmt.DateTime, error) {
	var ts strfmt.DateTime
	if !gjson.ValidBytes(data) {
		return "", ts, fmt.Errorf("invalid json: %s", data)
	}
	msgType := gjson.GetBytes(data, "type")
	if !msgType.Exists() || msgType.String() != want {
		return "", ts, fmt.Errorf("missing or invalid type, expected '%s'", want)
	}
	streamID := gjson.GetBytes(data, "stream_id")
	if !streamID.Exists() {
		return "", ts, errors.New("missing required field 'stream_id'")
	}
	if timestamp := gjson.GetBytes(data, "timestamp"); timestamp.Exists() {
		if err := ts.UnmarshalText([]byte(timestamp.String())); err != nil {
			return "", ts, fmt.Errorf("invalid timestamp: %w", err)
		}
	}
	return streamID.String(), ts, nil
}

// MarshalJSON implements custom JSON marshaling for Token
func (t Token) MarshalJSON() ([]byte, error) {
	result, err := setHeader(tokenJSON, t.StreamID, t.Timestamp)
	if err != nil {
		return nil, err
	}
	return sjson.SetBytes(result, "text", t.Text)
}

// UnmarshalJSON implements custom JSON unmarshaling for Token
func (t *Token) UnmarshalJSON(data []byte) error {
	streamID, ts, err := readHeader(data, "token")
	if err != nil {
		return err
	}
	text := gjson.GetBytes(data, "text")
	if !text.Exists() {
		return errors.New("missing required field 'text'")
	}
	t.StreamID, t.Timestamp, t.Text = streamID, ts, text.String()
	return nil
}

// MarshalJSON implements custom JSON marshaling for Completed
func (c Completed) MarshalJSON() ([]byte, error) {
	result, err := setHeader(completedJSON, c.StreamID, c.Timestamp)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(c.Completion)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal completion: %w", err)
	}
	return sjson.SetRawBytes(result, "completion", body)
}

// UnmarshalJSON implements custom JSON unmarshaling for Completed
func (c *Completed) UnmarshalJSON(data []byte) error {
	streamID, ts, err := readHeader(data, "completed")
	if err != nil {
		return err
	}
	body := gjson.GetBytes(data, "completion")
	if !body.Exists() {
		return errors.New("missing required field 'completion'")
	}
	var cmpl Completion
	if err := json.Unmarshal([]byte(body.Raw), &cmpl); err != nil {
		return fmt.Errorf("invalid completion: %w", err)
	}
	c.StreamID, c.Timestamp, c.Completion = streamID, ts, cmpl
	return nil
}

// MarshalJSON implements custom JSON marshaling for Failed
func (f Failed) MarshalJSON() ([]byte, error) {
	result, err := setHeader(failedJSON, f.StreamID, f.Timestamp)
	if err != nil {
		return nil, err
	}
	if f.Err == nil {
		return result, nil
	}
	result, err = sjson.SetBytes(result, "error.kind", string(f.Err.Kind))
	if err != nil {
		return nil, err
	}
	if f.Err.StatusCode != 0 {
		if result, err = sjson.SetBytes(result, "error.status_code", f.Err.StatusCode); err != nil {
			return nil, err
		}
	}
	msg := f.Err.Message
	if msg == "" && f.Err.Cause != nil {
		msg = f.Err.Cause.Error()
	}
	if msg != "" {
		if result, err = sjson.SetBytes(result, "error.message", msg); err != nil {
			return nil, err
		}
	}
	if f.Err.RetryAfter > 0 {
		if result, err = sjson.SetBytes(result, "error.retry_after", f.Err.RetryAfter.Seconds()); err != nil {
			return nil, err
		}
	}
	if hint := f.Err.Remediation(); hint != "" {
		if result, err = sjson.SetBytes(result, "error.remediation", hint); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// UnmarshalJSON implements custom JSON unmarshaling for Failed. The cause of
// the original error does not survive the round trip; its text becomes the
// message when the error had none.
func (f *Failed) UnmarshalJSON(data []byte) error {
	streamID, ts, err := readHeader(data, "failed")
	if err != nil {
		return err
	}
	f.StreamID, f.Timestamp, f.Err = streamID, ts, nil

	errObj := gjson.GetBytes(data, "error")
	if !errObj.Exists() {
		return nil
	}
	kind := errObj.Get("kind")
	if !kind.Exists() {
		return errors.New("missing required field 'error.kind'")
	}
	f.Err = &llmerr.Error{
		Kind:       llmerr.Kind(kind.String()),
		StatusCode: int(errObj.Get("status_code").Int()),
		Message:    errObj.Get("message").String(),
		RetryAfter: time.Duration(errObj.Get("retry_after").Float() * float64(time.Second)),
	}
	return nil
}

// FromJSON decodes an event produced by the MarshalJSON of one of the event
// types, dispatching on its type marker.
func FromJSON(data []byte) (Event, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("invalid json: %s", data)
	}
	switch typ := gjson.GetBytes(data, "type").String(); typ {
	case "token":
		var ev Token
		if err := ev.UnmarshalJSON(data); err != nil {
			return nil, err
		}
		return ev, nil
	case "completed":
		var ev Completed
		if err := ev.UnmarshalJSON(data); err != nil {
			return nil, err
		}
		return ev, nil
	case "failed":
		var ev Failed
		if err := ev.UnmarshalJSON(data); err != nil {
			return nil, err
		}
		return ev, nil
	default:
		return nil, fmt.Errorf("unknown event type %q", typ)
	}
}
