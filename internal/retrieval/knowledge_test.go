package retrieval

import (
	"context"
	"errors"
	"testing"

	"github.com/kalambet/stackpilot/internal/storage"
)

func TestKnowledgeSearch_MergesAndTagsCollections(t *testing.T) {
	store := &fakeChunks{
		byCollection: map[string][]storage.Chunk{
			"c1": {chunk("a1", "pricing page", 1, 0), chunk("a2", "pricing faq", 0, 1)},
			"c2": {chunk("b1", "pricing experiments", 1, 1)},
		},
		fail: map[string]error{"broken": errors.New("boom")},
	}
	k := NewKnowledge(NewSearcher(store, fakeQueryEmbedder{vec: []float32{1, 0}}))
	agent := storage.Agent{ID: "ag", UserID: "u1", Collections: []string{"c1", "broken", "c2"}}

	results, err := k.Search(context.Background(), agent, "pricing", 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("len(results) = %d, want 2", len(results))
	}
	if results[0].ID != "a1" || results[0].SourceCollection != "c1" {
		t.Errorf("results[0] = %s from %s, want a1 from c1", results[0].ID, results[0].SourceCollection)
	}
	if results[1].ID != "b1" || results[1].SourceCollection != "c2" {
		t.Errorf("results[1] = %s from %s, want b1 from c2", results[1].ID, results[1].SourceCollection)
	}
}

func TestKnowledgeSearch_NoCollections(t *testing.T) {
	k := NewKnowledge(NewSearcher(&fakeChunks{}, nil))
	results, err := k.Search(context.Background(), storage.Agent{UserID: "u1"}, "anything", 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if results == nil || len(results) != 0 {
		t.Errorf("results = %v, want empty slice", results)
	}
}

type reverseReranker struct {
	got   int
	fail  bool
	query string
}

func (r *reverseReranker) Rerank(_ context.Context, query string, results []Result) ([]Result, error) {
	r.got, r.query = len(results), query
	if r.fail {
		return nil, errors.New("model down")
	}
	out := make([]Result, len(results))
	for i, res := range results {
		out[len(results)-1-i] = res
	}
	return out, nil
}

func TestKnowledgeSearch_Reranked(t *testing.T) {
	store := &fakeChunks{
		byCollection: map[string][]storage.Chunk{
			"c1": {chunk("a1", "pricing page", 1, 0), chunk("a2", "pricing faq", 0, 1)},
			"c2": {chunk("b1", "pricing experiments", 1, 1)},
		},
	}
	rr := &reverseReranker{}
	k := NewKnowledge(NewSearcher(store, fakeQueryEmbedder{vec: []float32{1, 0}})).WithReranker(rr)
	agent := storage.Agent{ID: "ag", UserID: "u1", Collections: []string{"c1", "c2"}}

	results, err := k.Search(context.Background(), agent, "pricing", 1)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if rr.got != 2 || rr.query != "pricing" {
		t.Errorf("reranker saw %d candidates for %q, want 2 for pricing", rr.got, rr.query)
	}
	if len(results) != 1 || results[0].ID == "a1" {
		t.Errorf("results = %+v, want the reranked order truncated to 1", results)
	}

	rr.fail = true
	results, err = k.Search(context.Background(), agent, "pricing", 1)
	if err != nil {
		t.Fatalf("Search with failing reranker: %v", err)
	}
	if len(results) != 1 || results[0].ID != "a1" {
		t.Errorf("results = %+v, want search order when rerank fails", results)
	}
}
