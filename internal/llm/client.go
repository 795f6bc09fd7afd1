// Package llm is the structured-task capability behind the LLM-backed
// pipeline stages: a provider client, a circuit breaker and a typed Invoke
// helper that turns model text into validated values.
package llm

import (
	"context"
	"errors"
	"strings"
)

var (
	ErrUnavailable = errors.New("llm provider unavailable")
	ErrCircuitOpen = errors.New("llm circuit open")
)

// Client is a provider-agnostic text completion interface.
type Client interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// Request is one completion call. Zero values fall back to client defaults.
type Request struct {
	System      string
	Prompt      string
	Model       string
	MaxTokens   int
	Temperature *float64
}

// ClientFunc adapts a function to Client.
type ClientFunc func(ctx context.Context, req Request) (string, error)

func (f ClientFunc) Complete(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

func sanitizeText(value string, maxLen int) string {
	value = strings.ReplaceAll(value, "\n", " ")
	value = strings.ReplaceAll(value, "\r", " ")
	value = strings.Join(strings.Fields(value), " ")
	return truncateText(value, maxLen)
}

func truncateText(value string, maxLen int) string {
	if maxLen <= 0 || len(value) <= maxLen {
		return value
	}
	if maxLen <= 3 {
		return value[:maxLen]
	}
	return value[:maxLen-3] + "..."
}
