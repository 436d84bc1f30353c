// Package retrieval implements hybrid vector and keyword search over the
// chunks of knowledge collections.
package retrieval

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/stackpilot/internal/llm"
)

// Backend produces an embedding for one text with the named model. The
// ollama client satisfies it directly; LLMBackend adapts the completion client.
type Backend interface {
	Embed(ctx context.Context, model string, text string) ([]float32, error)
}

// BatchBackend embeds many texts in one request. EmbedBatch prefers it when
// the backend implements it.
type BatchBackend interface {
	EmbedMany(ctx context.Context, model string, texts []string) ([][]float32, error)
}

// Embedder generates text embeddings with a fixed model.
type Embedder struct {
	backend Backend
	model   string
}

// NewEmbedder creates an Embedder using the given backend and model name.
func NewEmbedder(b Backend, model string) *Embedder {
	return &Embedder{backend: b, model: model}
}

// Embed returns the embedding vector for a single text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := e.backend.Embed(ctx, e.model, text)
	if err != nil {
		return nil, fmt.Errorf("embedding text: %w", err)
	}
	return vec, nil
}

// EmbedBatch returns embedding vectors for multiple texts concurrently.
// Returns nil (not error) for empty/nil input.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if bb, ok := e.backend.(BatchBackend); ok {
		vecs, err := bb.EmbedMany(ctx, e.model, texts)
		if err != nil {
			return nil, fmt.Errorf("embedding batch: %w", err)
		}
		if len(vecs) != len(texts) {
			return nil, fmt.Errorf("embedding batch: got %d vectors for %d texts", len(vecs), len(texts))
		}
		return vecs, nil
	}
	results := make([][]float32, len(texts))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(4)

	for i, text := range texts {
		g.Go(func() error {
			vec, err := e.backend.Embed(gCtx, e.model, text)
			if err != nil {
				return fmt.Errorf("embedding text %d: %w", i, err)
			}
			results[i] = vec
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

type llmBackend struct {
	client *llm.Client
}

// LLMBackend embeds through the hosted completion API's /embeddings endpoint.
func LLMBackend(c *llm.Client) Backend {
	return llmBackend{client: c}
}

func (b llmBackend) Embed(ctx context.Context, model, text string) ([]float32, error) {
	vecs, err := b.client.Embed(ctx, model, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (b llmBackend) EmbedMany(ctx context.Context, model string, texts []string) ([][]float32, error) {
	return b.client.Embed(ctx, model, texts)
}
