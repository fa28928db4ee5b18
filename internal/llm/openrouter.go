package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/capitalize-ai/chat-relay/internal/model"
)

const (
	// DefaultBaseURL is the OpenRouter API base.
	DefaultBaseURL = "https://openrouter.ai/api/v1"

	// DefaultTimeout bounds a request, and the response headers of a stream.
	DefaultTimeout = 60 * time.Second

	// maxErrorBody caps how much of an error response is read.
	maxErrorBody = 1 << 20
)

// Config holds upstream connection settings.
type Config struct {
	BaseURL string
	APIKey  string
	Referer string
	Title   string
	Timeout time.Duration
}

// OpenRouterClient talks to an OpenAI-compatible chat-completion gateway.
type OpenRouterClient struct {
	client     *openai.Client
	httpClient *http.Client
	streamHTTP *http.Client
	baseURL    string
}

// headerTransport adds the identifying headers to every request.
type headerTransport struct {
	base    http.RoundTripper
	headers http.Header
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	for k, v := range t.headers {
		req.Header[k] = v
	}
	return t.base.RoundTrip(req)
}

// upstreamErrorTransport turns non-2xx responses into *UpstreamError before
// go-openai parses them, so the status and the provider's message survive
// whatever body shape the provider uses.
type upstreamErrorTransport struct {
	base http.RoundTripper
}

func (t *upstreamErrorTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, readUpstreamError(resp)
	}
	return resp, nil
}

// NewOpenRouterClient creates a new upstream client.
func NewOpenRouterClient(cfg Config) (*OpenRouterClient, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("OpenRouter API key is required")
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+cfg.APIKey)
	if cfg.Referer != "" {
		headers.Set("HTTP-Referer", cfg.Referer)
	}
	if cfg.Title != "" {
		headers.Set("X-Title", cfg.Title)
	}

	base := http.DefaultTransport.(*http.Transport).Clone()
	base.ResponseHeaderTimeout = timeout
	transport := &headerTransport{base: base, headers: headers}

	httpClient := &http.Client{Transport: transport, Timeout: timeout}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	clientConfig.BaseURL = baseURL
	clientConfig.HTTPClient = &http.Client{
		Transport: &upstreamErrorTransport{base: transport},
		Timeout:   timeout,
	}

	return &OpenRouterClient{
		client:     openai.NewClientWithConfig(clientConfig),
		httpClient: httpClient,
		// No overall timeout: the body stays open for the whole relay and
		// idle time is bounded by the relay instead.
		streamHTTP: &http.Client{Transport: transport},
		baseURL:    baseURL,
	}, nil
}

// Complete sends a blocking completion request.
func (c *OpenRouterClient) Complete(ctx context.Context, modelID string, messages []model.ChatMessage) (*Completion, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    modelID,
		Messages: toOpenAIMessages(messages),
	})
	if err != nil {
		return nil, classifyError(err)
	}

	var content string
	if len(resp.Choices) > 0 {
		content = resp.Choices[0].Message.Content
	}

	return &Completion{
		Content:   content,
		Model:     resp.Model,
		TokensIn:  resp.Usage.PromptTokens,
		TokensOut: resp.Usage.CompletionTokens,
		Raw:       resp,
	}, nil
}

// Stream opens a streaming completion and returns the raw event-stream body.
func (c *OpenRouterClient) Stream(ctx context.Context, modelID string, messages []model.ChatMessage) (io.ReadCloser, error) {
	body, err := json.Marshal(openai.ChatCompletionRequest{
		Model:    modelID,
		Messages: toOpenAIMessages(messages),
		Stream:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode stream request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build stream request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.streamHTTP.Do(req)
	if err != nil {
		return nil, &TransportError{Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, readUpstreamError(resp)
	}

	return resp.Body, nil
}

type modelsResponse struct {
	Data []ModelInfo `json:"data"`
}

// ListModels fetches the upstream catalog.
func (c *OpenRouterClient) ListModels(ctx context.Context) ([]ModelInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build models request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, readUpstreamError(resp)
	}

	var out modelsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &TransportError{Err: fmt.Errorf("failed to decode models: %w", err)}
	}
	return out.Data, nil
}

func readUpstreamError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &UpstreamError{
		Status:  resp.StatusCode,
		Message: ExtractErrorMessage(body),
	}
}

// classifyError maps go-openai errors onto the upstream error taxonomy.
func classifyError(err error) error {
	var upErr *UpstreamError
	if errors.As(err, &upErr) {
		return upErr
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		msg := apiErr.Message
		if strings.TrimSpace(msg) == "" {
			msg = DefaultErrorMessage
		}
		return &UpstreamError{Status: apiErr.HTTPStatusCode, Message: msg}
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		return &UpstreamError{Status: reqErr.HTTPStatusCode, Message: DefaultErrorMessage}
	}

	return &TransportError{Err: err}
}
