package slogx

import (
	"log/slog"
)

const (
	// KeyLoggerName is the key under which the component logger name is recorded.
	KeyLoggerName = "logger"
	// KeyStreamID is the key under which a stream identifier is recorded.
	KeyStreamID = "stream_id"
)

// Error returns a slog.Attr representing the provided error.
// The attribute key is "error" and the value is the error's message.
// A nil error is recorded as an empty string so call sites don't have to guard.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String("error", "")
	}
	return slog.String("error", err.Error())
}

// LoggerName creates a slog.Attr with the provided logger name.
// The attribute key is defined by KeyLoggerName.
//
// Parameters:
//   - name: The name of the logger.
//
// Returns:
//
//	A slog.Attr containing the logger name.
func LoggerName(name string) slog.Attr {
	return slog.String(KeyLoggerName, name)
}

// StreamID creates a slog.Attr carrying the identifier of a completion stream.
func StreamID(id string) slog.Attr {
	return slog.String(KeyStreamID, id)
}

// Component returns the default logger tagged with the given component name.
func Component(name string) *slog.Logger {
	return slog.Default().With(LoggerName(name))
}
