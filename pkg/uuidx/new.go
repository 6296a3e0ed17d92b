package uuidx

import "github.com/google/uuid"

// New generates a new UUID using the version 7 format and returns it.
// It panics if the UUID generation fails.
func New() uuid.UUID {
	return uuid.Must(uuid.NewV7())
}

// NewString generates a new UUID using the version 7 format and returns it as a string.
func NewString() string {
	return New().String()
}

// StreamID returns a fresh stream identifier. Version 7 ids sort by creation
// time, which keeps log output and metrics labels in start order.
func StreamID() string {
	return "stream-" + NewString()
}
