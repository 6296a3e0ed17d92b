// Package completion builds chat-completion requests and holds the result
// types shared by the streaming and non-streaming paths.
package completion

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/casualjim/trickle/llmerr"
	"github.com/casualjim/trickle/messages"
	"github.com/casualjim/trickle/tool"
	"github.com/fogfish/opts"
	json "github.com/goccy/go-json"
	"github.com/tidwall/sjson"
)

// Request is an immutable chat-completion request. Build one with New.
type Request struct {
	model          string
	messages       []messages.Message
	temperature    *float64
	maxTokens      *int
	stream         bool
	includeUsage   bool
	tools          []tool.Definition
	providerOrder  []string
	allowFallbacks *bool
}

// Option configures a Request during construction.
type Option = opts.Option[Request]

// New validates its inputs and builds a request. Every problem found is
// reported in a single *llmerr.Error of kind InvalidRequest.
func New(model string, msgs []messages.Message, options ...Option) (*Request, error) {
	req := &Request{
		model:    strings.TrimSpace(model),
		messages: slices.Clone(msgs),
	}
	if err := opts.Apply(req, options); err != nil {
		return nil, llmerr.InvalidRequest(err.Error(), err)
	}
	if err := req.validate(); err != nil {
		return nil, llmerr.InvalidRequest(err.Error(), err)
	}
	return req, nil
}

func (r *Request) validate() error {
	var err error
	if r.model == "" {
		err = errors.Join(err, errors.New("model is required"))
	}
	if len(r.messages) == 0 {
		err = errors.Join(err, errors.New("at least one message is required"))
	}
	for idx, msg := range r.messages {
		if merr := msg.Validate(); merr != nil {
			err = errors.Join(err, fmt.Errorf("message %d: %w", idx, merr))
		}
	}
	if r.temperature != nil && (*r.temperature < 0 || *r.temperature > 2) {
		err = errors.Join(err, fmt.Errorf("temperature %v out of range [0, 2]", *r.temperature))
	}
	if r.maxTokens != nil && *r.maxTokens <= 0 {
		err = errors.Join(err, fmt.Errorf("max tokens must be positive, got %d", *r.maxTokens))
	}
	for idx, def := range r.tools {
		if terr := def.Validate(); terr != nil {
			err = errors.Join(err, fmt.Errorf("tool %d: %w", idx, terr))
		}
	}
	for idx, p := range r.providerOrder {
		if strings.TrimSpace(p) == "" {
			err = errors.Join(err, fmt.Errorf("provider order entry %d is empty", idx))
		}
	}
	return err
}

// Model returns the model identifier.
func (r *Request) Model() string { return r.model }

// Messages returns a copy of the conversation.
func (r *Request) Messages() []messages.Message { return slices.Clone(r.messages) }

// Temperature returns the sampling temperature, if set.
func (r *Request) Temperature() (float64, bool) {
	if r.temperature == nil {
		return 0, false
	}
	return *r.temperature, true
}

// MaxTokens returns the completion token cap, if set.
func (r *Request) MaxTokens() (int, bool) {
	if r.maxTokens == nil {
		return 0, false
	}
	return *r.maxTokens, true
}

// IsStream reports whether the response is requested as an event stream.
func (r *Request) IsStream() bool { return r.stream }

// Tools returns a copy of the tool definitions.
func (r *Request) Tools() []tool.Definition { return slices.Clone(r.tools) }

// ProviderOrder returns a copy of the provider routing preference.
func (r *Request) ProviderOrder() []string { return slices.Clone(r.providerOrder) }

// AllowFallbacks returns the fallback routing flag, if set.
func (r *Request) AllowFallbacks() (bool, bool) {
	if r.allowFallbacks == nil {
		return false, false
	}
	return *r.allowFallbacks, true
}

// Streaming returns a copy of the request with streaming forced on.
func (r *Request) Streaming() *Request {
	cp := *r
	cp.stream = true
	return &cp
}

// MarshalJSON encodes the OpenAI-compatible request body.
func (r *Request) MarshalJSON() ([]byte, error) {
	result, err := sjson.SetBytes([]byte(`{}`), "model", r.model)
	if err != nil {
		return nil, err
	}

	msgs, err := json.Marshal(r.messages)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal messages: %w", err)
	}
	if result, err = sjson.SetRawBytes(result, "messages", msgs); err != nil {
		return nil, err
	}

	if r.stream {
		if result, err = sjson.SetBytes(result, "stream", true); err != nil {
			return nil, err
		}
		if r.includeUsage {
			if result, err = sjson.SetBytes(result, "stream_options.include_usage", true); err != nil {
				return nil, err
			}
		}
	}
	if r.temperature != nil {
		if result, err = sjson.SetBytes(result, "temperature", *r.temperature); err != nil {
			return nil, err
		}
	}
	if r.maxTokens != nil {
		if result, err = sjson.SetBytes(result, "max_tokens", *r.maxTokens); err != nil {
			return nil, err
		}
	}
	if len(r.tools) > 0 {
		tools, err := json.Marshal(r.tools)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal tools: %w", err)
		}
		if result, err = sjson.SetRawBytes(result, "tools", tools); err != nil {
			return nil, err
		}
	}
	if len(r.providerOrder) > 0 {
		if result, err = sjson.SetBytes(result, "provider.order", r.providerOrder); err != nil {
			return nil, err
		}
	}
	if r.allowFallbacks != nil {
		if result, err = sjson.SetBytes(result, "provider.allow_fallbacks", *r.allowFallbacks); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// Temperature sets the sampling temperature, between 0 and 2.
func Temperature(value float64) Option {
	return opts.Type[Request](func(r *Request) error {
		r.temperature = &value
		return nil
	})
}

// MaxTokens caps the number of completion tokens.
func MaxTokens(value int) Option {
	return opts.Type[Request](func(r *Request) error {
		r.maxTokens = &value
		return nil
	})
}

// Tools advertises callable functions to the model.
func Tools(defs ...tool.Definition) Option {
	return opts.Type[Request](func(r *Request) error {
		r.tools = append(r.tools, defs...)
		return nil
	})
}

// ProviderOrder sets the preferred upstream providers, most preferred first.
func ProviderOrder(providers ...string) Option {
	return opts.Type[Request](func(r *Request) error {
		r.providerOrder = append(r.providerOrder, providers...)
		return nil
	})
}

// AllowFallbacks controls whether the service may route to providers outside ProviderOrder.
func AllowFallbacks(allow bool) Option {
	return opts.Type[Request](func(r *Request) error {
		r.allowFallbacks = &allow
		return nil
	})
}

var (
	// Stream requests the response as an event stream.
	Stream = opts.ForName[Request, bool]("stream")

	// IncludeUsage sets stream_options.include_usage. OpenAI answers with a
	// separate usage chunk after the finish_reason chunk; a stream session
	// completes on the finish_reason chunk and never sees it, so the option
	// only has an effect with services that report usage on the finishing
	// chunk itself.
	IncludeUsage = opts.ForName[Request, bool]("includeUsage")
)
