package llmerr

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

var now = time.Now

// FromStatus classifies a non-success HTTP response. The body is probed for
// an OpenAI style error envelope ({"error":{"message":...}}) or a flat
// {"message":...}; the message is surfaced verbatim.
func FromStatus(status int, header http.Header, body []byte) *Error {
	e := &Error{
		StatusCode: status,
		Message:    errorMessage(body),
	}
	switch status {
	case http.StatusTooManyRequests:
		e.Kind = KindRateLimited
		if header != nil {
			e.RetryAfter = ParseRetryAfter(header.Get("Retry-After"))
		}
	case http.StatusPaymentRequired:
		e.Kind = KindQuotaExceeded
	case http.StatusNotFound:
		e.Kind = KindModelNotFound
	case http.StatusRequestEntityTooLarge:
		e.Kind = KindContextTooLarge
	default:
		e.Kind = KindHTTPStatus
	}
	return e
}

// FromErrorFrame classifies an error object delivered inside the stream
// itself, which some providers send instead of failing the HTTP response.
func FromErrorFrame(payload []byte) *Error {
	code := gjson.GetBytes(payload, "error.code")
	msg := errorMessage(payload)
	if code.Type == gjson.Number {
		e := FromStatus(int(code.Int()), nil, payload)
		e.Message = msg
		return e
	}
	return InvalidResponse(msg, nil)
}

// Classify maps any error to an *Error. Already classified errors are
// returned as-is; everything else is treated as a transport failure.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	if e, ok := As(err); ok {
		return e
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindNetwork, Message: "request timed out", Cause: err}
	}
	return Network(err)
}

// ParseRetryAfter parses a Retry-After header value, which is either a
// number of seconds or an HTTP date. Unparseable or past values yield zero.
func ParseRetryAfter(value string) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs * float64(time.Second))
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now()); d > 0 {
			return d
		}
	}
	return 0
}

func errorMessage(body []byte) string {
	if len(body) == 0 || !gjson.ValidBytes(body) {
		return strings.TrimSpace(string(body))
	}
	for _, path := range []string{"error.message", "message", "error"} {
		if v := gjson.GetBytes(body, path); v.Exists() && v.Type == gjson.String {
			return strings.TrimSpace(v.String())
		}
	}
	return ""
}
