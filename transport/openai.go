package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/casualjim/trickle/completion"
	"github.com/casualjim/trickle/llmerr"
	"github.com/casualjim/trickle/messages"
	"github.com/casualjim/trickle/pkg/jsonx"
	json "github.com/goccy/go-json"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
	"github.com/tidwall/gjson"
)

// OpenAI performs non-streaming completions with the official client.
type OpenAI struct {
	client *openai.Client
}

// NewOpenAI creates a completer; options are passed to the underlying client.
func NewOpenAI(options ...option.RequestOption) *OpenAI {
	return &OpenAI{
		client: openai.NewClient(options...),
	}
}

// Complete sends req without streaming and returns the first choice.
func (o *OpenAI) Complete(ctx context.Context, req *completion.Request) (*completion.Response, error) {
	params, err := buildParams(req)
	if err != nil {
		return nil, llmerr.InvalidRequest(err.Error(), err)
	}

	var reqOpts []option.RequestOption
	if order := req.ProviderOrder(); len(order) > 0 {
		reqOpts = append(reqOpts, option.WithJSONSet("provider.order", order))
	}
	if allow, ok := req.AllowFallbacks(); ok {
		reqOpts = append(reqOpts, option.WithJSONSet("provider.allow_fallbacks", allow))
	}

	chat, err := o.client.Chat.Completions.New(ctx, params, reqOpts...)
	if err != nil {
		return nil, classifyClientError(err)
	}
	if len(chat.Choices) == 0 {
		return nil, llmerr.InvalidResponse("response contained no choices", nil)
	}
	return responseFromOpenAI(chat), nil
}

func buildParams(req *completion.Request) (openai.ChatCompletionNewParams, error) {
	params := openai.ChatCompletionNewParams{
		Messages: openai.F(messagesToOpenAI(req.Messages())),
		Model:    openai.F(openai.ChatModel(req.Model())),
	}
	if temperature, ok := req.Temperature(); ok {
		params.Temperature = openai.Float(temperature)
	}
	if maxTokens, ok := req.MaxTokens(); ok {
		params.MaxTokens = openai.Int(int64(maxTokens))
	}

	defs := req.Tools()
	if len(defs) == 0 {
		return params, nil
	}
	tools := make([]openai.ChatCompletionToolParam, len(defs))
	for i, def := range defs {
		encoded, err := json.Marshal(def)
		if err != nil {
			return openai.ChatCompletionNewParams{}, fmt.Errorf("failed to encode tool %s: %w", def.Name, err)
		}
		jv, err := jsonx.ToDynamicJSON([]byte(gjson.GetBytes(encoded, "function.parameters").Raw))
		if err != nil {
			return openai.ChatCompletionNewParams{}, fmt.Errorf("failed to convert parameters of tool %s: %w", def.Name, err)
		}

		fn := openai.FunctionDefinitionParam{
			Name:       openai.String(def.Name),
			Parameters: openai.F(shared.FunctionParameters(jv)),
		}
		if strings.TrimSpace(def.Description) != "" {
			fn.Description = openai.String(def.Description)
		}
		tools[i] = openai.ChatCompletionToolParam{
			Type:     openai.F(openai.ChatCompletionToolTypeFunction),
			Function: openai.F(fn),
		}
	}
	params.Tools = openai.F(tools)
	return params, nil
}

func messagesToOpenAI(msgs []messages.Message) []openai.ChatCompletionMessageParamUnion {
	result := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, msg := range msgs {
		switch msg.Role {
		case messages.RoleSystem:
			result = append(result, openai.SystemMessage(msg.Text()))
		case messages.RoleTool:
			result = append(result, openai.ToolMessage(msg.ToolCallID, msg.Text()))
		case messages.RoleUser:
			parts := make([]openai.ChatCompletionContentPartUnionParam, 0, len(msg.Parts))
			for _, part := range msg.Parts {
				switch part := part.(type) {
				case messages.TextPart:
					parts = append(parts, openai.TextPart(part.Text))
				case messages.ImagePart:
					parts = append(parts, openai.ChatCompletionContentPartImageParam{
						ImageURL: openai.F(openai.ChatCompletionContentPartImageImageURLParam{
							URL:    openai.String(part.URL),
							Detail: openai.F(openai.ChatCompletionContentPartImageImageURLDetail(part.Detail)),
						}),
						Type: openai.F(openai.ChatCompletionContentPartImageTypeImageURL),
					})
				}
			}
			um := openai.UserMessageParts(parts...)
			if msg.Name != "" {
				um.Name = openai.String(msg.Name)
			}
			result = append(result, um)
		case messages.RoleAssistant:
			if len(msg.ToolCalls) > 0 {
				tcd := make([]openai.ChatCompletionMessageToolCallParam, len(msg.ToolCalls))
				for i, tc := range msg.ToolCalls {
					tcd[i] = openai.ChatCompletionMessageToolCallParam{
						ID:   openai.String(tc.ID),
						Type: openai.F(openai.ChatCompletionMessageToolCallTypeFunction),
						Function: openai.F(openai.ChatCompletionMessageToolCallFunctionParam{
							Name:      openai.String(tc.Name),
							Arguments: openai.String(tc.Arguments),
						}),
					}
				}
				mp := openai.ChatCompletionMessageParam{
					Role:      openai.F(openai.ChatCompletionMessageParamRoleAssistant),
					ToolCalls: openai.F[any](tcd),
				}
				if text := msg.Text(); text != "" {
					mp.Content = openai.F[any](text)
				}
				result = append(result, mp)
				continue
			}
			am := openai.ChatCompletionAssistantMessageParam{
				Role: openai.F(openai.ChatCompletionAssistantMessageParamRoleAssistant),
			}
			for _, part := range msg.Parts {
				if text, ok := part.(messages.TextPart); ok {
					am.Content.Value = append(am.Content.Value, openai.TextPart(text.Text))
				}
			}
			result = append(result, am)
		}
	}
	return result
}

func responseFromOpenAI(chat *openai.ChatCompletion) *completion.Response {
	choice := chat.Choices[0]
	msg := messages.Assistant(choice.Message.Content)
	if choice.Message.Content == "" {
		msg.Parts = nil
	}
	for _, tc := range choice.Message.ToolCalls {
		msg.ToolCalls = append(msg.ToolCalls, messages.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}

	resp := &completion.Response{
		ID:           chat.ID,
		Model:        chat.Model,
		Message:      msg,
		FinishReason: string(choice.FinishReason),
	}
	if chat.Usage.TotalTokens > 0 {
		resp.Usage = &completion.Usage{
			PromptTokens:     int(chat.Usage.PromptTokens),
			CompletionTokens: int(chat.Usage.CompletionTokens),
			TotalTokens:      int(chat.Usage.TotalTokens),
		}
	}
	return resp
}

func classifyClientError(err error) *llmerr.Error {
	var apiErr *openai.Error
	if !errors.As(err, &apiErr) {
		return llmerr.Classify(err)
	}
	var (
		header http.Header
		body   []byte
	)
	if apiErr.Response != nil {
		header = apiErr.Response.Header
		if apiErr.Response.Body != nil {
			body, _ = io.ReadAll(io.LimitReader(apiErr.Response.Body, maxErrorBody))
		}
	}
	lerr := llmerr.FromStatus(apiErr.StatusCode, header, body)
	if lerr.Message == "" {
		lerr.Message = apiErr.Message
	}
	lerr.Cause = err
	return lerr
}
