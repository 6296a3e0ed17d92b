// Package messages models the role-tagged, multi-part messages that make up a
// chat-completion conversation and their OpenAI-compatible wire encoding.
//
// Design decisions:
//   - Ordered parts: a message is an ordered list of content parts; the wire
//     encoding preserves that order exactly
//   - Compact wire form: a message made of a single text part is encoded as a
//     plain string, everything else as a typed part array
//   - Closed part set: text runs and image references are the only parts
//   - Tool records only: tool calls and tool results are carried as data; nothing
//     in this package executes tools
//
// Example usage:
//
//	msgs := []messages.Message{
//	    messages.System("You are a terse assistant"),
//	    messages.UserParts(
//	        messages.Text("What is in this picture?"),
//	        messages.Image("https://example.com/cat.png", messages.DetailLow),
//	    ),
//	}
package messages
