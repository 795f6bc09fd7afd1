package llm

import (
	"context"
	"errors"
	"testing"
	"time"
)

type stubClient struct {
	calls int
	resp  string
	err   error
}

func (s *stubClient) Complete(ctx context.Context, req Request) (string, error) {
	s.calls++
	return s.resp, s.err
}

func TestBreakerOpensAfterFailures(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	client := &stubClient{err: errors.New("boom")}
	breaker := NewBreaker(client, 2, time.Minute)
	breaker.now = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		if _, err := breaker.Complete(context.Background(), Request{}); err == nil {
			t.Fatalf("expected error on call %d", i)
		}
	}
	if !breaker.Open() {
		t.Fatalf("expected circuit to be open")
	}

	_, err := breaker.Complete(context.Background(), Request{})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if client.calls != 2 {
		t.Fatalf("expected client to be skipped while open, got %d calls", client.calls)
	}

	now = now.Add(2 * time.Minute)
	client.err = nil
	client.resp = "ok"
	out, err := breaker.Complete(context.Background(), Request{})
	if err != nil || out != "ok" {
		t.Fatalf("expected recovery after cooldown, got %q %v", out, err)
	}
	if breaker.Open() {
		t.Fatalf("expected circuit closed after success")
	}
}

func TestBreakerIgnoresCallerCancellation(t *testing.T) {
	client := &stubClient{err: context.Canceled}
	breaker := NewBreaker(client, 1, time.Minute)

	_, _ = breaker.Complete(context.Background(), Request{})
	if breaker.Open() {
		t.Fatalf("cancellation should not open the circuit")
	}
}
