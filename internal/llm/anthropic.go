package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/time/rate"

	"github.com/izavyalov-dev/delta-qa/analysis"
)

const (
	anthropicMessagesEndpoint = "https://api.anthropic.com/v1/messages"
	anthropicVersionHeader    = "2023-06-01"

	defaultModel     = "claude-sonnet-4-5"
	defaultMaxTokens = 4096
	defaultTimeout   = 90 * time.Second
	defaultRetryMax  = 3
	maxErrorBodyLen  = 256
)

// AnthropicConfig configures the Messages API client.
type AnthropicConfig struct {
	APIKey        string
	Endpoint      string
	Model         string
	MaxTokens     int
	Temperature   float64
	RatePerSecond float64
	RetryMax      int
	RetryWaitMin  time.Duration
	RetryWaitMax  time.Duration
	Timeout       time.Duration
	Logger        *slog.Logger
}

func (c AnthropicConfig) withDefaults() AnthropicConfig {
	if c.Endpoint == "" {
		c.Endpoint = anthropicMessagesEndpoint
	}
	if c.Model == "" {
		c.Model = defaultModel
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = defaultMaxTokens
	}
	if c.RetryMax <= 0 {
		c.RetryMax = defaultRetryMax
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	return c
}

// APIError is a non-2xx response from the provider after retries.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("anthropic api status %d", e.StatusCode)
	}
	return fmt.Sprintf("anthropic api status %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error { return analysis.ErrUpstream }

// AnthropicClient calls the Anthropic Messages API. Requests are rate limited
// client-side and retried on 429 and 5xx responses.
type AnthropicClient struct {
	config  AnthropicConfig
	http    *retryablehttp.Client
	limiter *rate.Limiter
}

func NewAnthropicClient(config AnthropicConfig) *AnthropicClient {
	config = config.withDefaults()

	httpClient := retryablehttp.NewClient()
	httpClient.RetryMax = config.RetryMax
	if config.RetryWaitMin > 0 {
		httpClient.RetryWaitMin = config.RetryWaitMin
	}
	if config.RetryWaitMax > 0 {
		httpClient.RetryWaitMax = config.RetryWaitMax
	}
	httpClient.HTTPClient.Timeout = config.Timeout
	httpClient.ErrorHandler = retryablehttp.PassthroughErrorHandler
	if config.Logger != nil {
		httpClient.Logger = config.Logger
	} else {
		httpClient.Logger = nil
	}

	var limiter *rate.Limiter
	if config.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(config.RatePerSecond), 1)
	}
	return &AnthropicClient{config: config, http: httpClient, limiter: limiter}
}

type messagesRequest struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	System      string    `json:"system,omitempty"`
	Messages    []message `json:"messages"`
	Temperature float64   `json:"temperature"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Error      *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Complete sends a single user turn and returns the concatenated text blocks.
func (c *AnthropicClient) Complete(ctx context.Context, req Request) (string, error) {
	if c == nil || strings.TrimSpace(c.config.APIKey) == "" {
		return "", ErrUnavailable
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", err
		}
	}

	body := messagesRequest{
		Model:       c.config.Model,
		MaxTokens:   c.config.MaxTokens,
		System:      req.System,
		Messages:    []message{{Role: "user", Content: req.Prompt}},
		Temperature: c.config.Temperature,
	}
	if req.Model != "" {
		body.Model = req.Model
	}
	if req.MaxTokens > 0 {
		body.MaxTokens = req.MaxTokens
	}
	if req.Temperature != nil {
		body.Temperature = *req.Temperature
	}
	data, err := json.Marshal(body)
	if err != nil {
		return "", err
	}

	httpReq, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.config.Endpoint, data)
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("content-type", "application/json")
	httpReq.Header.Set("x-api-key", c.config.APIKey)
	httpReq.Header.Set("anthropic-version", anthropicVersionHeader)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("anthropic request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read anthropic response: %w", err)
	}

	var decoded messagesResponse
	decodeErr := json.Unmarshal(raw, &decoded)
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if decodeErr == nil && decoded.Error != nil {
			apiErr.Message = sanitizeText(decoded.Error.Message, maxErrorBodyLen)
		}
		return "", apiErr
	}
	if decodeErr != nil {
		return "", fmt.Errorf("decode anthropic response: %w", decodeErr)
	}

	var out strings.Builder
	for _, block := range decoded.Content {
		if block.Type == "text" {
			out.WriteString(block.Text)
		}
	}
	if strings.TrimSpace(out.String()) == "" {
		return "", fmt.Errorf("%w: empty completion", ErrUnavailable)
	}
	return out.String(), nil
}

var _ Client = (*AnthropicClient)(nil)
