// Package reranking re-scores knowledge search hits with the completion model.
package reranking

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kalambet/stackpilot/internal/llm"
	"github.com/kalambet/stackpilot/internal/retrieval"
)

const (
	defaultConcurrency = 3
	maxScoreTokens     = 20
	maxChunkChars      = 2000
)

// Completer is the completion call the reranker needs.
type Completer interface {
	Complete(ctx context.Context, req llm.Request) (*llm.Response, error)
}

// Reranker re-scores search results by query relevance.
type Reranker interface {
	Rerank(ctx context.Context, query string, results []retrieval.Result) ([]retrieval.Result, error)
}

// New returns an LLMReranker if enabled and client is set, NoOpReranker otherwise.
func New(client Completer, model string, enabled bool, timeout time.Duration, threshold float64) Reranker {
	if !enabled || client == nil {
		return &NoOpReranker{}
	}
	return &LLMReranker{
		client:    client,
		model:     model,
		timeout:   timeout,
		threshold: threshold,
	}
}

// LLMReranker asks the completion model to score each (query, chunk) pair.
// Scoring runs on at most defaultConcurrency goroutines. Results below
// threshold are dropped and the rest sorted by score, descending.
type LLMReranker struct {
	client    Completer
	model     string
	timeout   time.Duration
	threshold float64
}

// Rerank scores each result against query. If the timeout fires before every
// result is scored, the input order is returned unchanged.
func (r *LLMReranker) Rerank(ctx context.Context, query string, results []retrieval.Result) ([]retrieval.Result, error) {
	if len(results) == 0 {
		return results, nil
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	scored := make([]retrieval.Result, len(results))
	done := make([]bool, len(results))
	sem := make(chan struct{}, defaultConcurrency)

	var wg sync.WaitGroup
	for i, res := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-timeoutCtx.Done():
				return
			}
			defer func() { <-sem }()

			score, err := r.score(timeoutCtx, query, res)
			if err != nil {
				if timeoutCtx.Err() != nil {
					return
				}
				slog.Debug("rerank: score failed, keeping search score", "result", res.ID, "error", err)
			} else {
				res.Similarity = score
			}
			scored[i], done[i] = res, true
		}()
	}
	wg.Wait()

	for _, ok := range done {
		if !ok {
			slog.Warn("rerank timed out, keeping search order", "candidates", len(results))
			return results, nil
		}
	}

	filtered := make([]retrieval.Result, 0, len(scored))
	for _, res := range scored {
		if res.Similarity >= r.threshold {
			filtered = append(filtered, res)
		}
	}
	sort.SliceStable(filtered, func(i, j int) bool {
		return filtered[i].Similarity > filtered[j].Similarity
	})
	return filtered, nil
}

func (r *LLMReranker) score(ctx context.Context, query string, res retrieval.Result) (float64, error) {
	text := res.Content
	if len(text) > maxChunkChars {
		text = text[:maxChunkChars]
	}
	prompt := "Rate the relevance of the following text to the query on a scale of 0.0 to 1.0.\n" +
		"Query: " + query + "\n" +
		"Text: " + text + "\n" +
		`Respond with only a JSON object: {"score": <float>}`

	resp, err := r.client.Complete(ctx, llm.Request{
		Model:     r.model,
		Messages:  []llm.Message{{Role: "user", Content: prompt}},
		MaxTokens: maxScoreTokens,
	})
	if err != nil {
		return res.Similarity, err
	}

	score, err := parseScore(resp.Content)
	if err != nil {
		slog.Debug("rerank: unparseable score, keeping search score", "resp", resp.Content, "error", err)
		return res.Similarity, nil
	}
	return score, nil
}

// parseScore pulls {"score": x} out of a reply that may be wrapped in a
// markdown fence or surrounded by prose. Scores are clamped to [0, 1].
func parseScore(resp string) (float64, error) {
	s := strings.TrimSpace(resp)

	if idx := strings.Index(s, "```"); idx != -1 {
		s = s[idx+3:]
		s = strings.TrimPrefix(s, "json")
		if end := strings.Index(s, "```"); end != -1 {
			s = s[:end]
		}
	}

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end <= start {
		return 0, fmt.Errorf("no JSON object in response")
	}

	var obj struct {
		Score *float64 `json:"score"`
	}
	if err := json.Unmarshal([]byte(s[start:end+1]), &obj); err != nil {
		return 0, fmt.Errorf("unmarshal score: %w", err)
	}
	if obj.Score == nil {
		return 0, fmt.Errorf("response has no score")
	}
	return min(max(*obj.Score, 0), 1), nil
}

// NoOpReranker passes results through unchanged.
type NoOpReranker struct{}

func (n *NoOpReranker) Rerank(_ context.Context, _ string, results []retrieval.Result) ([]retrieval.Result, error) {
	return results, nil
}
