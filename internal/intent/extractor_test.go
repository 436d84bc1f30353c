package intent

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/kalambet/stackpilot/internal/llm"
)

// mockCompleter implements Completer for testing.
type mockCompleter struct {
	response string
	err      error
	delay    time.Duration
	last     llm.Request
}

func (m *mockCompleter) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	m.last = req
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if m.err != nil {
		return nil, m.err
	}
	return &llm.Response{Content: m.response}, nil
}

func TestSearchQuery_ReturnsModelOutput(t *testing.T) {
	mock := &mockCompleter{response: "  \"SaaS pricing benchmarks 2024\"\n"}
	e := NewExtractor(mock, "gpt-4o-mini")

	got := e.SearchQuery(context.Background(), "Can you find me some benchmarks on how SaaS companies price in 2024?")
	if got != "SaaS pricing benchmarks 2024" {
		t.Errorf("SearchQuery() = %q, want %q", got, "SaaS pricing benchmarks 2024")
	}
	if mock.last.MaxTokens != 100 {
		t.Errorf("MaxTokens = %d, want 100", mock.last.MaxTokens)
	}
	if mock.last.Model != "gpt-4o-mini" {
		t.Errorf("Model = %q, want gpt-4o-mini", mock.last.Model)
	}
}

func TestSearchQuery_ErrorFallsBackToMessage(t *testing.T) {
	mock := &mockCompleter{err: fmt.Errorf("connection refused")}
	e := NewExtractor(mock, "gpt-4o-mini")

	msg := "what is the weather in Lisbon"
	if got := e.SearchQuery(context.Background(), msg); got != msg {
		t.Errorf("SearchQuery() = %q, want original message", got)
	}
}

func TestSearchQuery_EmptyOutputFallsBackToMessage(t *testing.T) {
	mock := &mockCompleter{response: "   "}
	e := NewExtractor(mock, "gpt-4o-mini")

	if got := e.SearchQuery(context.Background(), "churn playbooks"); got != "churn playbooks" {
		t.Errorf("SearchQuery() = %q, want original message", got)
	}
}

func TestSearchQuery_CancelledContext(t *testing.T) {
	mock := &mockCompleter{response: "ignored", delay: 5 * time.Second}
	e := NewExtractor(mock, "gpt-4o-mini")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	got := e.SearchQuery(ctx, "query")
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("SearchQuery took %v, want it to honour the context deadline", elapsed)
	}
	if got != "query" {
		t.Errorf("SearchQuery() = %q, want original message on timeout", got)
	}
}

func TestSearchQuery_EmptyMessage(t *testing.T) {
	mock := &mockCompleter{response: "should not be used"}
	e := NewExtractor(mock, "gpt-4o-mini")

	if got := e.SearchQuery(context.Background(), ""); got != "" {
		t.Errorf("SearchQuery(\"\") = %q, want empty", got)
	}
	if mock.last.Model != "" {
		t.Error("completion called for an empty message")
	}
}
