package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const (
	duckDuckGoURL = "https://api.duckduckgo.com"
	tavilyURL     = "https://api.tavily.com"
	newsAPIURL    = "https://newsapi.org/v2"
	wikipediaURL  = "https://en.wikipedia.org/api/rest_v1"
)

type queryArgs struct {
	Query      string `json:"query"`
	MaxResults int    `json:"maxResults"`
}

func (a *queryArgs) validate(defaultMax int) error {
	if strings.TrimSpace(a.Query) == "" {
		return fmt.Errorf("query is required")
	}
	if a.MaxResults <= 0 {
		a.MaxResults = defaultMax
	}
	return nil
}

// --- DuckDuckGo ---

type searchTool struct {
	http    *HTTPClient
	baseURL string
}

func (t *searchTool) Name() string        { return "search" }
func (t *searchTool) Description() string { return "Search the web using DuckDuckGo" }
func (t *searchTool) Parameters() map[string]any {
	return schema([]string{"query"}, map[string]any{
		"query":      prop("string", "The search query"),
		"maxResults": prop("number", "Maximum number of results to return"),
	})
}

type searchResult struct {
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
	URL     string `json:"url"`
	Source  string `json:"source"`
}

func (t *searchTool) Execute(ctx context.Context, raw json.RawMessage) (any, error) {
	var args queryArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if err := args.validate(5); err != nil {
		return nil, err
	}

	q := url.Values{"q": {args.Query}, "format": {"json"}, "no_html": {"1"}, "skip_disambig": {"1"}}
	var data struct {
		Heading        string `json:"Heading"`
		Abstract       string `json:"Abstract"`
		AbstractURL    string `json:"AbstractURL"`
		AbstractSource string `json:"AbstractSource"`
		RelatedTopics  []struct {
			Text     string `json:"Text"`
			FirstURL string `json:"FirstURL"`
		} `json:"RelatedTopics"`
	}
	if err := t.http.FetchJSON(ctx, http.MethodGet, t.baseURL+"/?"+q.Encode(), nil, nil, &data); err != nil {
		return failure("Search failed: "+err.Error(), map[string]any{"results": []searchResult{}}), nil
	}

	results := []searchResult{}
	if data.Abstract != "" {
		title := data.Heading
		if title == "" {
			title = "DuckDuckGo Result"
		}
		results = append(results, searchResult{Title: title, Snippet: data.Abstract, URL: data.AbstractURL, Source: data.AbstractSource})
	}
	for _, topic := range data.RelatedTopics {
		if len(results) >= args.MaxResults {
			break
		}
		if topic.Text == "" || topic.FirstURL == "" {
			continue
		}
		title, _, _ := strings.Cut(topic.Text, " - ")
		results = append(results, searchResult{Title: title, Snippet: topic.Text, URL: topic.FirstURL, Source: "DuckDuckGo"})
	}
	if len(results) > args.MaxResults {
		results = results[:args.MaxResults]
	}

	if len(results) == 0 {
		return failure("No results found for the search query", map[string]any{"results": results}), nil
	}
	return map[string]any{
		"success": true,
		"message": fmt.Sprintf("Found %d search results", len(results)),
		"results": results,
	}, nil
}

// --- Tavily ---

type tavilyTool struct {
	http    *HTTPClient
	baseURL string
	apiKey  string
}

func (t *tavilyTool) Name() string        { return "tavily" }
func (t *tavilyTool) Description() string { return "Advanced web search using Tavily API" }
func (t *tavilyTool) Parameters() map[string]any {
	return schema([]string{"query"}, map[string]any{
		"query":       prop("string", "The search query"),
		"maxResults":  prop("number", "Maximum number of results to return"),
		"searchDepth": enumProp("Search depth", "basic", "advanced"),
	})
}

func (t *tavilyTool) Execute(ctx context.Context, raw json.RawMessage) (any, error) {
	var args struct {
		queryArgs
		SearchDepth string `json:"searchDepth"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if err := args.validate(5); err != nil {
		return nil, err
	}
	if args.SearchDepth == "" {
		args.SearchDepth = "basic"
	}

	var data struct {
		Answer  string           `json:"answer"`
		Results []map[string]any `json:"results"`
	}
	err := t.search(ctx, args.Query, args.MaxResults, args.SearchDepth, true, &data)
	if err != nil {
		return failure("Tavily search failed: "+err.Error(), map[string]any{"results": []any{}}), nil
	}
	if data.Results == nil {
		data.Results = []map[string]any{}
	}
	return map[string]any{
		"success": true,
		"message": fmt.Sprintf("Found %d search results", len(data.Results)),
		"answer":  data.Answer,
		"results": data.Results,
	}, nil
}

func (t *tavilyTool) search(ctx context.Context, query string, max int, depth string, answer bool, out any) error {
	body := map[string]any{
		"query":          query,
		"max_results":    max,
		"search_depth":   depth,
		"include_answer": answer,
		"include_images": false,
	}
	headers := map[string]string{"Authorization": "Bearer " + t.apiKey}
	return t.http.FetchJSON(ctx, http.MethodPost, t.baseURL+"/search", headers, body, out)
}

// --- NewsAPI ---

type newsTool struct {
	http    *HTTPClient
	baseURL string
	apiKey  string
}

func (t *newsTool) Name() string        { return "news" }
func (t *newsTool) Description() string { return "Get latest news articles from various sources" }
func (t *newsTool) Parameters() map[string]any {
	return schema(nil, map[string]any{
		"query":    prop("string", "Search query for news articles"),
		"category": enumProp("News category", "business", "entertainment", "general", "health", "science", "sports", "technology"),
		"country":  prop("string", "Country code (e.g., 'us', 'gb', 'ca')"),
		"pageSize": prop("number", "Number of articles to return (max 20)"),
	})
}

type article struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	URL         string `json:"url"`
	Source      string `json:"source"`
	PublishedAt string `json:"publishedAt"`
	Author      string `json:"author"`
}

func (t *newsTool) Execute(ctx context.Context, raw json.RawMessage) (any, error) {
	var args struct {
		Query      string `json:"query"`
		Category   string `json:"category"`
		Country    string `json:"country"`
		PageSize   int    `json:"pageSize"`
		MaxResults int    `json:"maxResults"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if args.PageSize <= 0 {
		args.PageSize = args.MaxResults
	}
	if args.PageSize <= 0 {
		args.PageSize = 5
	}

	params := url.Values{}
	endpoint := t.baseURL + "/"
	if args.Query != "" {
		endpoint += "everything"
		params.Set("q", args.Query)
		params.Set("sortBy", "publishedAt")
	} else {
		endpoint += "top-headlines"
		if args.Category != "" {
			params.Set("category", args.Category)
		}
		if args.Country != "" {
			params.Set("country", args.Country)
		}
	}
	params.Set("pageSize", strconv.Itoa(min(args.PageSize, 20)))
	params.Set("apiKey", t.apiKey)

	articles, total, err := t.fetch(ctx, endpoint+"?"+params.Encode())
	if err != nil {
		return failure("News lookup failed: "+err.Error(), map[string]any{"articles": []article{}}), nil
	}
	return map[string]any{
		"success":      true,
		"message":      fmt.Sprintf("Found %d news articles", len(articles)),
		"totalResults": total,
		"articles":     articles,
	}, nil
}

func (t *newsTool) fetch(ctx context.Context, u string) ([]article, int, error) {
	var data struct {
		Status       string `json:"status"`
		Message      string `json:"message"`
		TotalResults int    `json:"totalResults"`
		Articles     []struct {
			Title       string `json:"title"`
			Description string `json:"description"`
			URL         string `json:"url"`
			PublishedAt string `json:"publishedAt"`
			Author      string `json:"author"`
			Source      struct {
				Name string `json:"name"`
			} `json:"source"`
		} `json:"articles"`
	}
	if err := t.http.FetchJSON(ctx, http.MethodGet, u, nil, nil, &data); err != nil {
		return nil, 0, err
	}
	if data.Status != "ok" {
		if data.Message == "" {
			data.Message = "NewsAPI request failed"
		}
		return nil, 0, fmt.Errorf("%s", data.Message)
	}
	out := make([]article, 0, len(data.Articles))
	for _, a := range data.Articles {
		out = append(out, article{
			Title: a.Title, Description: a.Description, URL: a.URL,
			Source: a.Source.Name, PublishedAt: a.PublishedAt, Author: a.Author,
		})
	}
	return out, data.TotalResults, nil
}

// --- Wikipedia ---

type wikipediaTool struct {
	http    *HTTPClient
	baseURL string
}

func (t *wikipediaTool) Name() string        { return "wikipedia" }
func (t *wikipediaTool) Description() string { return "Search and retrieve information from Wikipedia" }
func (t *wikipediaTool) Parameters() map[string]any {
	return schema([]string{"query"}, map[string]any{
		"query":     prop("string", "Search query for Wikipedia"),
		"sentences": prop("number", "Number of sentences to return in summary"),
	})
}

func (t *wikipediaTool) Execute(ctx context.Context, raw json.RawMessage) (any, error) {
	var args struct {
		Query     string `json:"query"`
		Sentences *int   `json:"sentences"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if strings.TrimSpace(args.Query) == "" {
		return nil, fmt.Errorf("query is required")
	}
	sentences := 3
	if args.Sentences != nil {
		sentences = *args.Sentences
	}

	var data struct {
		Title       string         `json:"title"`
		Extract     string         `json:"extract"`
		Coordinates map[string]any `json:"coordinates"`
		Thumbnail   struct {
			Source string `json:"source"`
		} `json:"thumbnail"`
		ContentURLs struct {
			Desktop struct {
				Page string `json:"page"`
			} `json:"desktop"`
		} `json:"content_urls"`
	}
	err := t.http.FetchJSON(ctx, http.MethodGet, t.baseURL+"/page/summary/"+url.PathEscape(args.Query), nil, nil, &data)
	if err != nil {
		msg := err.Error()
		if statusCode(err) == http.StatusNotFound {
			msg = "Wikipedia page not found"
		}
		return failure("Wikipedia search failed: "+msg, nil), nil
	}

	summary := truncateSentences(data.Extract, sentences)
	if summary == "" {
		summary = "No summary available"
	}
	out := map[string]any{
		"success": true,
		"message": "Found Wikipedia article: " + data.Title,
		"title":   data.Title,
		"summary": summary,
		"url":     data.ContentURLs.Desktop.Page,
	}
	if data.Thumbnail.Source != "" {
		out["thumbnail"] = data.Thumbnail.Source
	}
	if data.Coordinates != nil {
		out["coordinates"] = data.Coordinates
	}
	return out, nil
}

// truncateSentences keeps the first n ". "-separated sentences of s.
func truncateSentences(s string, n int) string {
	if s == "" || n <= 0 {
		return s
	}
	parts := strings.Split(s, ". ")
	if len(parts) <= n {
		return s
	}
	return strings.Join(parts[:n], ". ") + "."
}
