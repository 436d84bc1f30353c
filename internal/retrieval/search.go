package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"

	"github.com/kalambet/stackpilot/internal/storage"
)

const (
	similarityThreshold = 0.1
	vectorWeight        = 0.7
	keywordWeight       = 0.3
	// permissiveScore is reported for keyword-only fallback hits.
	permissiveScore = 0.3
)

var (
	ErrEmptyQuery      = errors.New("search query cannot be empty")
	ErrEmptyCollection = errors.New("collection ID cannot be empty")
)

// ChunkStore reads the indexed chunks of a collection.
type ChunkStore interface {
	CollectionChunks(ctx context.Context, userID, collectionID string) ([]storage.Chunk, error)
}

// QueryEmbedder embeds a search query.
type QueryEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Result is one scored chunk.
type Result struct {
	ID               string  `json:"id"`
	DocumentID       string  `json:"document_id"`
	CollectionID     string  `json:"collection_id"`
	DocumentTitle    string  `json:"document_title"`
	Filename         string  `json:"filename"`
	FileURL          string  `json:"file_url,omitempty"`
	ChunkIndex       int     `json:"chunk_index"`
	TotalChunks      int     `json:"total_chunks"`
	Content          string  `json:"chunk_content"`
	VectorSimilarity float64 `json:"vector_similarity"`
	KeywordScore     float64 `json:"keyword_score"`
	Relevance        float64 `json:"relevance_score"`
	// Similarity is the score results are ranked and reported by.
	Similarity       float64 `json:"similarity"`
	SourceCollection string  `json:"source_collection,omitempty"`
}

// Page is one page of collection search results.
type Page struct {
	Results      []Result `json:"results"`
	Page         int      `json:"page"`
	TotalPages   int      `json:"totalPages"`
	TotalResults int      `json:"totalResults"`
}

// Searcher runs hybrid search over one collection at a time.
type Searcher struct {
	chunks   ChunkStore
	embedder QueryEmbedder
	logger   *slog.Logger
}

// NewSearcher creates a Searcher. A nil embedder means keyword-only scoring.
func NewSearcher(chunks ChunkStore, embedder QueryEmbedder) *Searcher {
	return &Searcher{chunks: chunks, embedder: embedder, logger: slog.Default()}
}

// SearchCollection scores every chunk of a collection against query as
// 0.7*cosine + 0.3*keywordHit, keeps chunks above the similarity threshold or
// with a keyword hit, and returns the requested page. When nothing qualifies a
// keyword-only pass in document order is returned instead.
func (s *Searcher) SearchCollection(ctx context.Context, userID, collectionID, query string, page, pageSize int) (Page, error) {
	if strings.TrimSpace(query) == "" {
		return Page{}, ErrEmptyQuery
	}
	if strings.TrimSpace(collectionID) == "" {
		return Page{}, ErrEmptyCollection
	}
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 10
	}

	keywords := ExtractKeywords(query)

	var queryVec []float32
	if s.embedder != nil {
		vec, err := s.embedder.Embed(ctx, query)
		if err != nil {
			s.logger.Warn("query embedding failed, using keyword scoring only", "collection", collectionID, "error", err)
		} else {
			queryVec = vec
		}
	}

	chunks, err := s.chunks.CollectionChunks(ctx, userID, collectionID)
	if err != nil {
		return Page{}, fmt.Errorf("loading chunks of %s: %w", collectionID, err)
	}

	queryNorm := norm(queryVec)
	var scored []Result
	for _, c := range chunks {
		var sim float64
		if queryNorm > 0 {
			sim = float64(dotProduct(queryVec, c.Embedding, queryNorm))
		}
		hit := 0.0
		if keywordHit(c, keywords, true) {
			hit = 1
		}
		if sim <= similarityThreshold && hit == 0 {
			continue
		}
		r := toResult(c)
		r.VectorSimilarity = sim
		r.KeywordScore = hit
		r.Relevance = sim*vectorWeight + hit*keywordWeight
		r.Similarity = r.Relevance
		if r.Similarity == 0 {
			r.Similarity = sim
		}
		scored = append(scored, r)
	}

	if len(scored) == 0 {
		return s.permissive(chunks, keywords, page, pageSize), nil
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Relevance != scored[j].Relevance {
			return scored[i].Relevance > scored[j].Relevance
		}
		return scored[i].VectorSimilarity > scored[j].VectorSimilarity
	})
	return paginate(scored, page, pageSize), nil
}

// permissive matches keywords against content, title and filename only and
// keeps document order.
func (s *Searcher) permissive(chunks []storage.Chunk, keywords []string, page, pageSize int) Page {
	var out []Result
	for _, c := range chunks {
		if len(keywords) > 0 && !keywordHit(c, keywords, false) {
			continue
		}
		r := toResult(c)
		r.Similarity = permissiveScore
		out = append(out, r)
	}
	return paginate(out, page, pageSize)
}

func paginate(all []Result, page, pageSize int) Page {
	total := len(all)
	p := Page{
		Results:      []Result{},
		Page:         page,
		TotalPages:   int(math.Ceil(float64(total) / float64(pageSize))),
		TotalResults: total,
	}
	start := (page - 1) * pageSize
	if start >= total {
		return p
	}
	end := min(start+pageSize, total)
	p.Results = all[start:end]
	return p
}

func keywordHit(c storage.Chunk, keywords []string, includeChunkKeywords bool) bool {
	if len(keywords) == 0 {
		return false
	}
	fields := []string{strings.ToLower(c.Content), strings.ToLower(c.DocumentTitle), strings.ToLower(c.Filename)}
	if includeChunkKeywords {
		fields = append(fields, strings.ToLower(strings.Join(c.Keywords, " ")))
	}
	for _, kw := range keywords {
		for _, f := range fields {
			if strings.Contains(f, kw) {
				return true
			}
		}
	}
	return false
}

func toResult(c storage.Chunk) Result {
	return Result{
		ID:            c.ID,
		DocumentID:    c.DocumentID,
		CollectionID:  c.CollectionID,
		DocumentTitle: c.DocumentTitle,
		Filename:      c.Filename,
		FileURL:       c.FileURL,
		ChunkIndex:    c.ChunkIndex,
		TotalChunks:   c.TotalChunks,
		Content:       c.Content,
	}
}

// norm computes the L2 norm of a vector.
func norm(v []float32) float32 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	return float32(math.Sqrt(sum))
}

// dotProduct computes cosine similarity as dot(a,b) / (aNorm * bNorm).
// aNorm is the precomputed L2 norm of vector a.
func dotProduct(a, b []float32, aNorm float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var dot float64
	var bNormSq float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		bNormSq += float64(b[i]) * float64(b[i])
	}
	bNorm := math.Sqrt(bNormSq)
	if bNorm == 0 {
		return 0
	}
	return float32(dot / (float64(aNorm) * bNorm))
}
