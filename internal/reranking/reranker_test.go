package reranking

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kalambet/stackpilot/internal/llm"
	"github.com/kalambet/stackpilot/internal/retrieval"
)

// --- mock completer ---

type mockCompleter struct {
	fn func(ctx context.Context, req llm.Request) (string, error)
}

func (m *mockCompleter) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	if m.fn == nil {
		return &llm.Response{Content: `{"score": 0.5}`}, nil
	}
	out, err := m.fn(ctx, req)
	if err != nil {
		return nil, err
	}
	return &llm.Response{Content: out}, nil
}

// --- helpers ---

func makeResults(n int, score float64) []retrieval.Result {
	results := make([]retrieval.Result, n)
	for i := range results {
		results[i] = retrieval.Result{
			ID:         fmt.Sprintf("chunk-%d", i),
			Content:    fmt.Sprintf("text %d", i),
			Similarity: score,
		}
	}
	return results
}

func newLLMReranker(c Completer, threshold float64, timeout time.Duration) *LLMReranker {
	return &LLMReranker{
		client:    c,
		model:     "gpt-4o-mini",
		timeout:   timeout,
		threshold: threshold,
	}
}

// scoreByText answers with the score mapped to the chunk text in the prompt.
func scoreByText(scores map[string]float64) *mockCompleter {
	return &mockCompleter{fn: func(_ context.Context, req llm.Request) (string, error) {
		for text, s := range scores {
			if strings.Contains(req.Messages[0].Content, "Text: "+text+"\n") {
				return fmt.Sprintf(`{"score": %g}`, s), nil
			}
		}
		return "", fmt.Errorf("unexpected prompt")
	}}
}

// --- tests ---

func TestLLMReranker_ReordersResults(t *testing.T) {
	c := scoreByText(map[string]float64{"text 0": 0.9, "text 1": 0.3, "text 2": 0.7})

	r := newLLMReranker(c, 0.3, 5*time.Second)
	result, err := r.Rerank(context.Background(), "query", makeResults(3, 0.5))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(result) != 3 {
		t.Fatalf("got %d results, want 3", len(result))
	}
	wantOrder := []string{"chunk-0", "chunk-2", "chunk-1"}
	for i, res := range result {
		if res.ID != wantOrder[i] {
			t.Errorf("result[%d] = %s (%g), want %s", i, res.ID, res.Similarity, wantOrder[i])
		}
	}
}

func TestLLMReranker_DropsLowScore(t *testing.T) {
	c := scoreByText(map[string]float64{"text 0": 0.8, "text 1": 0.1, "text 2": 0.7})

	r := newLLMReranker(c, 0.3, 5*time.Second)
	result, err := r.Rerank(context.Background(), "query", makeResults(3, 0.5))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(result) != 2 {
		t.Fatalf("got %d results, want 2 (low-score result should be dropped)", len(result))
	}
	for _, res := range result {
		if res.Similarity < 0.3 {
			t.Errorf("result with score %g below threshold was not dropped", res.Similarity)
		}
	}
}

func TestLLMReranker_AllBelowThreshold(t *testing.T) {
	c := &mockCompleter{fn: func(context.Context, llm.Request) (string, error) {
		return `{"score": 0.1}`, nil
	}}

	r := newLLMReranker(c, 0.3, 5*time.Second)
	result, err := r.Rerank(context.Background(), "query", makeResults(3, 0.9))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result) != 0 {
		t.Errorf("got %d results, want 0", len(result))
	}
}

func TestLLMReranker_TimeoutKeepsOrder(t *testing.T) {
	c := &mockCompleter{fn: func(ctx context.Context, _ llm.Request) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}}

	results := makeResults(3, 0.8)
	r := newLLMReranker(c, 0.3, 200*time.Millisecond)

	start := time.Now()
	got, err := r.Rerank(context.Background(), "query", results)
	elapsed := time.Since(start)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if elapsed > time.Second {
		t.Errorf("Rerank took %v, want close to the 200ms timeout", elapsed)
	}
	if len(got) != 3 || got[0].ID != "chunk-0" || got[0].Similarity != 0.8 {
		t.Errorf("got %+v, want the input unchanged", got)
	}
}

func TestLLMReranker_ParsesWrappedReplies(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		want  float64
	}{
		{"fenced", "```json\n{\"score\": 0.8}\n```", 0.8},
		{"filler", `The relevance score is: {"score": 0.6}`, 0.6},
		{"clamped", `{"score": 7}`, 1},
		{"garbage", "completely unparseable garbage", 0.9},
		{"no score", `{"relevance": 0.2}`, 0.9},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &mockCompleter{fn: func(context.Context, llm.Request) (string, error) { return tt.reply, nil }}
			r := newLLMReranker(c, 0.3, 5*time.Second)

			result, err := r.Rerank(context.Background(), "query", makeResults(1, 0.9))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(result) != 1 {
				t.Fatalf("got %d results, want 1", len(result))
			}
			if result[0].Similarity != tt.want {
				t.Errorf("score = %g, want %g", result[0].Similarity, tt.want)
			}
		})
	}
}

func TestLLMReranker_CompletionErrorKeepsScore(t *testing.T) {
	var calls atomic.Int32
	c := &mockCompleter{fn: func(context.Context, llm.Request) (string, error) {
		calls.Add(1)
		return "", fmt.Errorf("upstream 500")
	}}

	r := newLLMReranker(c, 0.3, 5*time.Second)
	result, err := r.Rerank(context.Background(), "query", makeResults(2, 0.6))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result) != 2 || result[0].Similarity != 0.6 {
		t.Errorf("result = %+v, want search scores kept", result)
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}
}

func TestLLMReranker_SendsModelAndTruncatesText(t *testing.T) {
	var gotModel string
	var gotLen int
	c := &mockCompleter{fn: func(_ context.Context, req llm.Request) (string, error) {
		gotModel, gotLen = req.Model, len(req.Messages[0].Content)
		return `{"score": 0.5}`, nil
	}}

	results := makeResults(1, 0.5)
	results[0].Content = strings.Repeat("x", 10*maxChunkChars)
	r := newLLMReranker(c, 0, 5*time.Second)
	if _, err := r.Rerank(context.Background(), "query", results); err != nil {
		t.Fatal(err)
	}
	if gotModel != "gpt-4o-mini" {
		t.Errorf("model = %q", gotModel)
	}
	if gotLen > maxChunkChars+300 {
		t.Errorf("prompt length = %d, want chunk text truncated", gotLen)
	}
}

func TestLLMReranker_EmptyResults(t *testing.T) {
	r := newLLMReranker(&mockCompleter{}, 0.3, 5*time.Second)
	result, err := r.Rerank(context.Background(), "query", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result) != 0 {
		t.Errorf("got %d results, want 0 for empty input", len(result))
	}
}

func TestNoOpReranker(t *testing.T) {
	results := makeResults(3, 0.5)
	results[0].Similarity = 0.3
	results[1].Similarity = 0.9
	results[2].Similarity = 0.1

	r := &NoOpReranker{}
	got, err := r.Rerank(context.Background(), "query", results)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i, res := range got {
		if res.Similarity != results[i].Similarity {
			t.Errorf("got[%d].Similarity = %g, want %g (order must be unchanged)", i, res.Similarity, results[i].Similarity)
		}
	}
}

func TestNew(t *testing.T) {
	if _, ok := New(&mockCompleter{}, "m", true, time.Second, 0.3).(*LLMReranker); !ok {
		t.Error("New(enabled) should return *LLMReranker")
	}
	if _, ok := New(&mockCompleter{}, "m", false, time.Second, 0.3).(*NoOpReranker); !ok {
		t.Error("New(disabled) should return *NoOpReranker")
	}
	if _, ok := New(nil, "m", true, time.Second, 0.3).(*NoOpReranker); !ok {
		t.Error("New(nil client) should return *NoOpReranker")
	}
}
