package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/kalambet/stackpilot/internal/retrieval"
	"github.com/kalambet/stackpilot/internal/storage"
)

// KnowledgeToolName is the tool id of the knowledge base search.
const KnowledgeToolName = "search_knowledge"

const knowledgeDescription = "Search through the agent's knowledge base collections for relevant information. " +
	"Use this tool when users ask questions that might be answered by information in your knowledge base. " +
	"Always search your knowledge base before providing answers to ensure accuracy."

// KnowledgeSearcher searches every collection attached to an agent.
type KnowledgeSearcher interface {
	Search(ctx context.Context, agent storage.Agent, query string, limit int) ([]retrieval.Result, error)
}

type knowledgeTool struct {
	searcher KnowledgeSearcher
	agent    storage.Agent
}

// NewKnowledgeSearch returns the search_knowledge tool bound to one agent.
func NewKnowledgeSearch(s KnowledgeSearcher, agent storage.Agent) Tool {
	return &knowledgeTool{searcher: s, agent: agent}
}

func (t *knowledgeTool) Name() string        { return KnowledgeToolName }
func (t *knowledgeTool) Description() string { return knowledgeDescription }
func (t *knowledgeTool) Parameters() map[string]any {
	return KnowledgeParameters()
}

// KnowledgeParameters is the argument schema of search_knowledge.
func KnowledgeParameters() map[string]any {
	return schema([]string{"query"}, map[string]any{
		"query": prop("string", "The search query to find relevant documents. Use specific keywords and phrases from the user's question."),
		"limit": map[string]any{"type": "number", "description": "Maximum number of results to return (1-10)", "default": 5},
	})
}

// KnowledgeResult is one formatted search_knowledge hit.
type KnowledgeResult struct {
	Rank                int     `json:"rank"`
	Title               string  `json:"title"`
	Content             string  `json:"content"`
	RelevanceScore      float64 `json:"relevance_score"`
	RelevancePercentage int     `json:"relevance_percentage"`
	SourceCollection    string  `json:"source_collection"`
	DocumentID          string  `json:"document_id"`
	ChunkIndex          int     `json:"chunk_index"`
	FileURL             string  `json:"file_url,omitempty"`
	SourceContext       string  `json:"source_context"`
	Citation            string  `json:"citation"`
}

// KnowledgeResponse is the search_knowledge result object.
type KnowledgeResponse struct {
	Success             bool              `json:"success"`
	Query               string            `json:"query,omitempty"`
	TotalResults        int               `json:"total_results"`
	CollectionsSearched int               `json:"collections_searched,omitempty"`
	Results             []KnowledgeResult `json:"results"`
	Message             string            `json:"message,omitempty"`
	Error               string            `json:"error,omitempty"`
	Guidance            string            `json:"guidance,omitempty"`
}

func (t *knowledgeTool) Execute(ctx context.Context, raw json.RawMessage) (any, error) {
	var args struct {
		Query string `json:"query"`
		Limit int    `json:"limit"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if strings.TrimSpace(args.Query) == "" {
		return nil, fmt.Errorf("query is required")
	}
	return SearchKnowledge(ctx, t.searcher, t.agent, args.Query, args.Limit), nil
}

// SearchKnowledge runs a knowledge search for agent and formats the hits for
// the completion model.
func SearchKnowledge(ctx context.Context, s KnowledgeSearcher, agent storage.Agent, query string, limit int) KnowledgeResponse {
	if limit <= 0 {
		limit = 5
	}
	if !agent.HasCollections() {
		return KnowledgeResponse{
			Success:  false,
			Error:    "No collections available for this agent",
			Results:  []KnowledgeResult{},
			Guidance: "This agent does not have access to any knowledge collections. Please configure collections in the agent settings to enable knowledge search capabilities.",
		}
	}

	hits, err := s.Search(ctx, agent, query, limit)
	if err != nil {
		return KnowledgeResponse{
			Success:  false,
			Error:    "Failed to search knowledge base",
			Query:    query,
			Results:  []KnowledgeResult{},
			Guidance: "There was a technical error searching the knowledge base. Please try again or contact support if the issue persists.",
		}
	}
	if len(hits) == 0 {
		return KnowledgeResponse{
			Success:  true,
			Query:    query,
			Results:  []KnowledgeResult{},
			Message:  "No relevant documents found in the knowledge base for this query.",
			Guidance: "Try rephrasing your query with different keywords or ask about topics that might be covered in the available knowledge collections.",
		}
	}

	results := make([]KnowledgeResult, 0, len(hits))
	for i, h := range hits {
		title := h.DocumentTitle
		if title == "" {
			title = h.Filename
		}
		if title == "" {
			title = "Untitled Document"
		}
		pct := int(math.Round(h.Similarity * 100))
		citation := "[" + title + "]"
		if h.FileURL != "" {
			citation += "(" + h.FileURL + ")"
		}
		results = append(results, KnowledgeResult{
			Rank:                i + 1,
			Title:               title,
			Content:             h.Content,
			RelevanceScore:      h.Similarity,
			RelevancePercentage: pct,
			SourceCollection:    h.SourceCollection,
			DocumentID:          h.DocumentID,
			ChunkIndex:          h.ChunkIndex,
			FileURL:             h.FileURL,
			SourceContext:       fmt.Sprintf("Document: %q (Chunk %d, Relevance: %d%%)", title, h.ChunkIndex+1, pct),
			Citation:            citation,
		})
	}
	return KnowledgeResponse{
		Success:             true,
		Query:               query,
		TotalResults:        len(results),
		CollectionsSearched: len(agent.Collections),
		Results:             results,
		Message: fmt.Sprintf("Found %d relevant documents in the knowledge base. "+
			"Use this information to provide a comprehensive answer with proper source citations.", len(results)),
	}
}
