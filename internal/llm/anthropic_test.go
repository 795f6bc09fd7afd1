package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/izavyalov-dev/delta-qa/analysis"
)

func TestAnthropicClientComplete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") != "test-key" {
			t.Errorf("missing api key header")
		}
		if r.Header.Get("anthropic-version") != anthropicVersionHeader {
			t.Errorf("unexpected version header %q", r.Header.Get("anthropic-version"))
		}
		var body messagesRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if body.Model != "claude-test" || body.MaxTokens != 512 || body.System != "sys" {
			t.Errorf("unexpected request body: %+v", body)
		}
		if len(body.Messages) != 1 || body.Messages[0].Role != "user" || body.Messages[0].Content != "hello" {
			t.Errorf("unexpected messages: %+v", body.Messages)
		}
		_, _ = w.Write([]byte(`{"content":[{"type":"text","text":"{\"items\":"},{"type":"text","text":"[]}"}]}`))
	}))
	defer server.Close()

	client := NewAnthropicClient(AnthropicConfig{
		APIKey:    "test-key",
		Endpoint:  server.URL,
		Model:     "claude-test",
		MaxTokens: 512,
	})
	out, err := client.Complete(context.Background(), Request{System: "sys", Prompt: "hello"})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if out != `{"items":[]}` {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestAnthropicClientRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"content":[{"type":"text","text":"ok"}]}`))
	}))
	defer server.Close()

	client := NewAnthropicClient(AnthropicConfig{
		APIKey:       "test-key",
		Endpoint:     server.URL,
		RetryWaitMin: time.Millisecond,
		RetryWaitMax: 2 * time.Millisecond,
	})
	out, err := client.Complete(context.Background(), Request{Prompt: "hi"})
	if err != nil || out != "ok" {
		t.Fatalf("expected retry to succeed, got %q %v", out, err)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected 2 calls, got %d", calls.Load())
	}
}

func TestAnthropicClientAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"authentication_error","message":"invalid x-api-key"}}`))
	}))
	defer server.Close()

	client := NewAnthropicClient(AnthropicConfig{APIKey: "bad", Endpoint: server.URL})
	_, err := client.Complete(context.Background(), Request{Prompt: "hi"})

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusUnauthorized || apiErr.Message != "invalid x-api-key" {
		t.Fatalf("unexpected api error: %+v", apiErr)
	}
	if !errors.Is(err, analysis.ErrUpstream) {
		t.Fatalf("expected upstream classification")
	}
}

func TestAnthropicClientWithoutKey(t *testing.T) {
	client := NewAnthropicClient(AnthropicConfig{})
	if _, err := client.Complete(context.Background(), Request{Prompt: "hi"}); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}
