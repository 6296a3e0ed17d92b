// Package llmerr classifies failures of a completion request into a closed
// set of kinds with user-facing semantics: whether retrying can help, how
// long the server asked callers to back off, and what the user can do about it.
//
// Every failure that ends a stream is reported as an *Error. Callers inspect
// the Kind to decide on retry policy; the engine itself never retries.
package llmerr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Kind is the classification of a failed completion request.
type Kind string

const (
	// KindInvalidRequest means the request could not be constructed locally.
	KindInvalidRequest Kind = "invalid_request"
	// KindInvalidResponse means the server answered with a body of the wrong shape.
	KindInvalidResponse Kind = "invalid_response"
	// KindRateLimited means the server throttled the caller (HTTP 429).
	KindRateLimited Kind = "rate_limited"
	// KindQuotaExceeded means the account has no credits left (HTTP 402).
	KindQuotaExceeded Kind = "quota_exceeded"
	// KindModelNotFound means the model id is unknown to the server (HTTP 404).
	KindModelNotFound Kind = "model_not_found"
	// KindContextTooLarge means the request exceeds the model context window (HTTP 413).
	KindContextTooLarge Kind = "context_too_large"
	// KindHTTPStatus is any other non-success HTTP status.
	KindHTTPStatus Kind = "http_status"
	// KindNetwork is a transport failure before a response was received.
	KindNetwork Kind = "network"
	// KindInterrupted means the stream ended mid-flight without a terminal frame.
	KindInterrupted Kind = "interrupted"
)

// Error is a classified completion failure.
type Error struct {
	Kind Kind
	// StatusCode is the HTTP status, when one was received.
	StatusCode int
	// Message is the human readable description, surfaced verbatim from the
	// server when it provided one.
	Message string
	// RetryAfter is the back-off the server asked for; zero when unknown.
	RetryAfter time.Duration
	Cause      error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	var b strings.Builder
	b.WriteString("llm ")
	b.WriteString(string(e.Kind))
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (http %d)", e.StatusCode)
	}
	msg := strings.TrimSpace(e.Message)
	if msg == "" && e.Cause != nil {
		msg = e.Cause.Error()
	}
	if msg == "" && e.StatusCode != 0 {
		msg = http.StatusText(e.StatusCode)
	}
	if msg != "" {
		b.WriteString(": ")
		b.WriteString(msg)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target is an *Error of the same kind, so that
// errors.Is(err, &llmerr.Error{Kind: llmerr.KindRateLimited}) works.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) || other == nil {
		return false
	}
	return other.Kind == e.Kind && (other.StatusCode == 0 || other.StatusCode == e.StatusCode)
}

// Retryable reports whether sending the same request again may succeed.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindRateLimited, KindNetwork, KindInterrupted:
		return true
	case KindHTTPStatus:
		return e.StatusCode == http.StatusRequestTimeout || e.StatusCode >= 500
	default:
		return false
	}
}

// Remediation suggests what the user can do about the failure.
func (e *Error) Remediation() string {
	switch e.Kind {
	case KindInvalidRequest:
		return "fix the request parameters and try again"
	case KindInvalidResponse:
		return "the service returned an unexpected response, try again later"
	case KindRateLimited:
		if e.RetryAfter > 0 {
			return fmt.Sprintf("wait %d seconds before retrying", int((e.RetryAfter+time.Second-1)/time.Second))
		}
		return "wait a moment before retrying"
	case KindQuotaExceeded:
		return "add credits to your account or check your plan limits"
	case KindModelNotFound:
		return "choose a different model"
	case KindContextTooLarge:
		return "reduce message length or start a new conversation"
	case KindNetwork:
		return "check your network connection and retry"
	case KindInterrupted:
		return "the response was cut off, retry the request"
	}
	switch {
	case e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden:
		return "check your API key"
	case e.Retryable():
		return "the service is having trouble, retry later"
	default:
		return "check the request and try again"
	}
}

// As returns the *Error in err's chain, if any.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// InvalidRequest reports a local request construction failure.
func InvalidRequest(message string, cause error) *Error {
	return &Error{Kind: KindInvalidRequest, Message: message, Cause: cause}
}

// InvalidResponse reports a response body that did not have the expected shape.
func InvalidResponse(message string, cause error) *Error {
	return &Error{Kind: KindInvalidResponse, Message: message, Cause: cause}
}

// Network reports a transport failure.
func Network(cause error) *Error {
	return &Error{Kind: KindNetwork, Cause: cause}
}

// Interrupted reports a stream that ended without a terminal frame or sentinel.
func Interrupted(cause error) *Error {
	msg := "stream ended before completion"
	return &Error{Kind: KindInterrupted, Message: msg, Cause: cause}
}
