// Package stream turns the event-stream body of a chat-completion response
// into an ordered sequence of token events closed by a single completion or
// error.
//
// A Session consumes raw chunks as they arrive from the network, without
// any assumption about where chunk boundaries fall. Frames that fail to
// decode are skipped and recorded, frames that arrive after the stream ended
// are ignored, and a cancelled session stays silent.
package stream
