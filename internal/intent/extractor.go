// Package intent turns a free-form user message into a short search query for
// the web and knowledge tools.
package intent

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/kalambet/stackpilot/internal/llm"
)

const (
	extractionTimeout = 10 * time.Second
	maxQueryTokens    = 100
)

// Completer is the completion call the extractor needs.
type Completer interface {
	Complete(ctx context.Context, req llm.Request) (*llm.Response, error)
}

// Extractor asks the completion model for the search query in a message.
type Extractor struct {
	client Completer
	model  string
}

// NewExtractor creates an Extractor using the given client and model name.
func NewExtractor(client Completer, model string) *Extractor {
	return &Extractor{client: client, model: model}
}

// SearchQuery returns the search query for message. On any failure (timeout,
// upstream error, empty output) it returns the message itself so the caller
// can still run the search.
func (e *Extractor) SearchQuery(ctx context.Context, message string) string {
	return e.SearchQueryFor(ctx, message, "")
}

// SearchQueryFor is SearchQuery with a hint naming the tool that will run the
// query.
func (e *Extractor) SearchQueryFor(ctx context.Context, message, toolName string) string {
	if strings.TrimSpace(message) == "" {
		return message
	}

	ctx, cancel := context.WithTimeout(ctx, extractionTimeout)
	defer cancel()

	resp, err := e.client.Complete(ctx, llm.Request{
		Model:     e.model,
		Messages:  BuildPrompt(message, toolName),
		MaxTokens: maxQueryTokens,
	})
	if err != nil {
		slog.Warn("search query extraction failed", "tool", toolName, "error", err)
		return message
	}

	query := strings.Trim(strings.TrimSpace(resp.Content), `"'`)
	if query == "" {
		return message
	}
	return query
}
