// Package sse turns the line-oriented event stream of a chat-completion
// response into frame payloads. Network reads deliver arbitrary byte ranges,
// so the parser carries any incomplete trailing line over to the next call.
package sse

import "strings"

const (
	dataPrefix = "data:"
	// Sentinel is the payload that marks the logical end of the stream.
	Sentinel = "[DONE]"
)

// Frame is one decoded unit of the stream: either a payload to decode as
// JSON or the terminal sentinel.
type Frame struct {
	Data string
	Done bool
}

// Parse appends chunk to the residual buffer and returns every complete
// frame together with the new residual, which holds the trailing line when
// it has not been terminated yet.
//
// Lines are separated by "\n"; a preceding "\r" is stripped with the rest of
// the surrounding whitespace. Lines without the data prefix (comments, other
// fields, blank separators) and empty data lines are dropped. Once the
// sentinel is seen no further frames are returned and the residual is empty.
func Parse(residual, chunk string) ([]Frame, string) {
	buf := residual + chunk
	if buf == "" {
		return nil, ""
	}

	var frames []Frame
	for {
		idx := strings.IndexByte(buf, '\n')
		if idx < 0 {
			return frames, buf
		}
		line := strings.TrimSpace(buf[:idx])
		buf = buf[idx+1:]

		if !strings.HasPrefix(line, dataPrefix) {
			continue
		}
		payload := strings.TrimSpace(line[len(dataPrefix):])
		switch payload {
		case "":
			continue
		case Sentinel:
			return append(frames, Frame{Done: true}), ""
		default:
			frames = append(frames, Frame{Data: payload})
		}
	}
}
