// fixit/services/llm/groq_client.go
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fixit/fixit/utils/logging"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Fixed generation parameters: low-ish temperature for direct, repeatable
// answers and a bounded reply length.
const (
	Temperature = 0.6
	MaxTokens   = 2000
)

type GroqClient struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

// Option configures GroqClient.
type Option func(*GroqClient)

// WithBaseURL points the client at another OpenAI-compatible endpoint.
func WithBaseURL(u string) Option {
	return func(c *GroqClient) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithModel sets the upstream model identifier.
func WithModel(model string) Option {
	return func(c *GroqClient) { c.model = model }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *GroqClient) { c.httpClient = h }
}

// WithTimeout bounds each upstream call.
func WithTimeout(d time.Duration) Option {
	return func(c *GroqClient) { c.httpClient = &http.Client{Timeout: d} }
}

// NewGroqClient returns a client pointing to the Groq Chat endpoint.
func NewGroqClient(apiKey string, opts ...Option) *GroqClient {
	// Groq’s OpenAI-compatible base path is usually: https://api.groq.com/openai/v1
	c := &GroqClient{
		baseURL:    "https://api.groq.com/openai/v1",
		apiKey:     apiKey,
		model:      "llama-3.3-70b-versatile",
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Configured reports whether an API key is present.
func (c *GroqClient) Configured() bool {
	return c != nil && c.apiKey != ""
}

type completionRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens"`
}

type completionResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message      Message `json:"message"`
		FinishReason string  `json:"finish_reason"`
	} `json:"choices"`
}

type errorBody struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Complete sends systemPrompt followed by msgs and returns the reply text.
// msgs must already be validated and size-bounded.
func (c *GroqClient) Complete(ctx context.Context, systemPrompt string, msgs []Message) (string, error) {
	defer logging.LogDuration(ctx, "groq_service_complete")()

	if !c.Configured() {
		return "", ErrNotConfigured
	}

	messages := make([]Message, 0, len(msgs)+1)
	messages = append(messages, Message{Role: RoleSystem, Content: systemPrompt})
	messages = append(messages, msgs...)

	body, err := json.Marshal(completionRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: Temperature,
		MaxTokens:   MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("llm: marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/chat/completions", c.baseURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("llm: create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", &TransientError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", mapHTTPError(resp)
	}

	var parsed completionResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", &UpstreamError{StatusCode: http.StatusBadGateway, Message: "decode response: " + err.Error()}
	}
	if len(parsed.Choices) == 0 {
		return "", &UpstreamError{StatusCode: http.StatusBadGateway, Message: "no choices returned"}
	}
	return parsed.Choices[0].Message.Content, nil
}

func mapHTTPError(resp *http.Response) error {
	// Read body for error context, but don't fail if we can't.
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var eb errorBody
	msg := ""
	if json.Unmarshal(raw, &eb) == nil {
		msg = eb.Error.Message
	}
	logging.ErrorLogger.Error("groq API error",
		zap.Int("status", resp.StatusCode),
		zap.String("message", msg),
		zap.ByteString("body", raw),
	)
	return &UpstreamError{StatusCode: resp.StatusCode, Message: msg}
}
