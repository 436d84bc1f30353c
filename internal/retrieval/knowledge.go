package retrieval

import (
	"context"
	"log/slog"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/stackpilot/internal/storage"
)

// Reranker re-scores merged knowledge hits against the query.
type Reranker interface {
	Rerank(ctx context.Context, query string, results []Result) ([]Result, error)
}

// Knowledge searches every collection attached to an agent.
type Knowledge struct {
	searcher *Searcher
	reranker Reranker
}

func NewKnowledge(s *Searcher) *Knowledge {
	return &Knowledge{searcher: s}
}

// WithReranker makes Search pass up to twice limit candidates through r
// before truncating.
func (k *Knowledge) WithReranker(r Reranker) *Knowledge {
	k.reranker = r
	return k
}

// Search queries the agent's collections in parallel, tags each hit with its
// source collection and returns the best limit hits by similarity. A failing
// collection is logged and skipped.
func (k *Knowledge) Search(ctx context.Context, agent storage.Agent, query string, limit int) ([]Result, error) {
	if limit <= 0 {
		limit = 5
	}
	perCollection := make([][]Result, len(agent.Collections))

	var g errgroup.Group
	for i, collectionID := range agent.Collections {
		g.Go(func() error {
			page, err := k.searcher.SearchCollection(ctx, agent.UserID, collectionID, query, 1, min(limit, 10))
			if err != nil {
				slog.Warn("knowledge search failed for collection", "agent", agent.ID, "collection", collectionID, "error", err)
				return nil
			}
			for j := range page.Results {
				page.Results[j].SourceCollection = collectionID
			}
			perCollection[i] = page.Results
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var all []Result
	for _, rs := range perCollection {
		all = append(all, rs...)
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].Similarity > all[j].Similarity })
	if k.reranker != nil && len(all) > 0 {
		if len(all) > 2*limit {
			all = all[:2*limit]
		}
		reranked, err := k.reranker.Rerank(ctx, query, all)
		if err != nil {
			slog.Warn("knowledge rerank failed, keeping search order", "agent", agent.ID, "error", err)
		} else {
			all = reranked
		}
	}
	if len(all) > limit {
		all = all[:limit]
	}
	if all == nil {
		all = []Result{}
	}
	return all, nil
}
