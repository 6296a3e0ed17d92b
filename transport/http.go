// Package transport sends completion requests to an OpenAI-compatible
// service. HTTP opens the raw event-stream body for the streaming engine;
// OpenAI performs non-streaming completions through the official client.
package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/casualjim/trickle/completion"
	"github.com/casualjim/trickle/llmerr"
	"github.com/casualjim/trickle/pkg/slogx"
	"github.com/fogfish/opts"
	json "github.com/goccy/go-json"
)

// DefaultBaseURL is the OpenRouter API root.
const DefaultBaseURL = "https://openrouter.ai/api/v1"

// error bodies beyond this size are truncated before classification
const maxErrorBody = 64 << 10

// HTTP opens streaming chat completions over plain HTTP.
type HTTP struct {
	baseURL string
	apiKey  string
	client  *http.Client
	headers http.Header
	logger  *slog.Logger
}

// Option configures an HTTP transport.
type Option = opts.Option[HTTP]

var (
	// WithBaseURL sets the API root, e.g. https://api.openai.com/v1.
	WithBaseURL = opts.ForName[HTTP, string]("baseURL")
	// WithAPIKey sets the bearer token.
	WithAPIKey = opts.ForName[HTTP, string]("apiKey")
	// WithHTTPClient replaces the client used to send requests. The client
	// must not time out the whole request, streams can be long lived.
	WithHTTPClient = opts.ForName[HTTP, *http.Client]("client")
	// WithLogger sets the logger.
	WithLogger = opts.ForName[HTTP, *slog.Logger]("logger")
)

// WithHeader adds a header to every request.
func WithHeader(key, value string) Option {
	return opts.Type[HTTP](func(t *HTTP) error {
		if t.headers == nil {
			t.headers = make(http.Header)
		}
		t.headers.Set(key, value)
		return nil
	})
}

// WithAppInfo sets the attribution headers OpenRouter uses to identify the
// calling application. Empty values are skipped.
func WithAppInfo(referer, title string) Option {
	return opts.Type[HTTP](func(t *HTTP) error {
		if t.headers == nil {
			t.headers = make(http.Header)
		}
		if referer != "" {
			t.headers.Set("HTTP-Referer", referer)
		}
		if title != "" {
			t.headers.Set("X-Title", title)
		}
		return nil
	})
}

// NewHTTP creates a transport. The base URL defaults to DefaultBaseURL.
func NewHTTP(options ...Option) (*HTTP, error) {
	t := &HTTP{
		baseURL: DefaultBaseURL,
		client:  http.DefaultClient,
	}
	if err := opts.Apply(t, options); err != nil {
		return nil, err
	}
	u, err := url.Parse(t.baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid base url %q: scheme must be http or https", t.baseURL)
	}
	t.baseURL = strings.TrimRight(t.baseURL, "/")
	if t.logger == nil {
		t.logger = slogx.Component("transport")
	}
	return t, nil
}

// Open sends req as a streaming request and returns the response body once
// the service accepted it. Failures are returned as *llmerr.Error: non-2xx
// statuses are classified from the status, headers and error body, anything
// else that prevented a response is a network error. When ctx is cancelled
// the context error is returned unclassified.
func (t *HTTP) Open(ctx context.Context, req *completion.Request) (io.ReadCloser, error) {
	body, err := json.Marshal(req.Streaming())
	if err != nil {
		return nil, llmerr.InvalidRequest("failed to encode request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, llmerr.InvalidRequest("failed to create request", err)
	}
	for key, values := range t.headers {
		for _, value := range values {
			httpReq.Header.Add(key, value)
		}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Cache-Control", "no-cache")
	if t.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+t.apiKey)
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, llmerr.Classify(err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		lerr := llmerr.FromStatus(resp.StatusCode, resp.Header, data)
		t.logger.Debug("completion request rejected",
			slog.Int("status", resp.StatusCode),
			slog.String("model", req.Model()),
			slogx.Error(lerr),
		)
		return nil, lerr
	}
	return resp.Body, nil
}
