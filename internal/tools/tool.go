// Package tools holds the catalog of external tools an agent can call and the
// rules for assembling a per-request tool set.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/kalambet/stackpilot/internal/storage"
)

var (
	ErrMissingAPIKey = errors.New("API key is required")
	ErrUnknownTool   = errors.New("unknown tool")
)

// Tool is a function the completion model can call.
type Tool interface {
	Name() string
	Description() string
	// Parameters returns the JSON schema of the arguments object.
	Parameters() map[string]any
	Execute(ctx context.Context, args json.RawMessage) (any, error)
}

// ConfigField describes an extra setting a tool reads from ToolConfig.Config.
type ConfigField struct {
	Key      string `json:"key"`
	Label    string `json:"label"`
	Required bool   `json:"required"`
}

// Definition is a catalog entry.
type Definition struct {
	ID             string        `json:"id"`
	Name           string        `json:"name"`
	Description    string        `json:"description"`
	Category       string        `json:"category"`
	RequiresAPIKey bool          `json:"requiresApiKey"`
	ConfigFields   []ConfigField `json:"configFields,omitempty"`
}

var catalog = []Definition{
	{ID: "search", Name: "DuckDuckGo Search", Description: "Search the web using DuckDuckGo", Category: "Search"},
	{ID: "tavily", Name: "Tavily Search", Description: "Advanced web search using Tavily API", Category: "Search", RequiresAPIKey: true},
	{ID: "weather", Name: "OpenWeatherMap", Description: "Get current weather and forecasts using OpenWeatherMap", Category: "Weather", RequiresAPIKey: true},
	{ID: "news", Name: "NewsAPI", Description: "Get latest news articles from various sources", Category: "News", RequiresAPIKey: true},
	{ID: "calculator", Name: "Calculator", Description: "Perform mathematical calculations", Category: "Utility"},
	{ID: "wikipedia", Name: "Wikipedia", Description: "Search and retrieve information from Wikipedia", Category: "Knowledge"},
	{ID: "wolfram", Name: "Wolfram Alpha", Description: "Query Wolfram Alpha computational knowledge engine", Category: "Knowledge", RequiresAPIKey: true},
	{ID: "maps", Name: "Google Maps", Description: "Get maps, directions, and location information using Google Maps", Category: "Navigation", RequiresAPIKey: true},
	{ID: "calendar", Name: "Google Calendar", Description: "Access and manage Google Calendar events", Category: "Productivity", RequiresAPIKey: true,
		ConfigFields: []ConfigField{{Key: "calendarId", Label: "Calendar ID"}}},
	{ID: "translator", Name: "Google Translate", Description: "Translate text between languages using Google Translate", Category: "Language", RequiresAPIKey: true},
}

// Catalog returns every tool an owner can configure.
func Catalog() []Definition {
	return slices.Clone(catalog)
}

// Lookup returns the catalog entry for id.
func Lookup(id string) (Definition, bool) {
	for _, d := range catalog {
		if d.ID == id {
			return d, true
		}
	}
	return Definition{}, false
}

// WebSearchTools are the tools the sequential response strategy treats as
// web lookups.
var WebSearchTools = []string{"search", "tavily", "news", "wikipedia"}

// Options carries the shared HTTP client and endpoint overrides used when
// building tools.
type Options struct {
	HTTP *HTTPClient
	// BaseURLs overrides upstream base URLs by tool id.
	BaseURLs map[string]string
	Logger   *slog.Logger
}

func (o Options) client() *HTTPClient {
	if o.HTTP != nil {
		return o.HTTP
	}
	return defaultHTTPClient
}

func (o Options) baseURL(id, def string) string {
	if u, ok := o.BaseURLs[id]; ok && u != "" {
		return u
	}
	return def
}

func (o Options) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

// Build constructs one tool from its configuration.
func Build(cfg storage.ToolConfig, opts Options) (Tool, error) {
	def, ok := Lookup(cfg.ToolID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, cfg.ToolID)
	}
	if def.RequiresAPIKey && cfg.APIKey == "" {
		return nil, fmt.Errorf("%s: %w", cfg.ToolID, ErrMissingAPIKey)
	}

	hc := opts.client()
	switch cfg.ToolID {
	case "search":
		return &searchTool{http: hc, baseURL: opts.baseURL("search", duckDuckGoURL)}, nil
	case "tavily":
		return &tavilyTool{http: hc, baseURL: opts.baseURL("tavily", tavilyURL), apiKey: cfg.APIKey}, nil
	case "weather":
		return &weatherTool{http: hc, baseURL: opts.baseURL("weather", openWeatherURL), apiKey: cfg.APIKey}, nil
	case "news":
		return &newsTool{http: hc, baseURL: opts.baseURL("news", newsAPIURL), apiKey: cfg.APIKey}, nil
	case "calculator":
		return calculatorTool{}, nil
	case "wikipedia":
		return &wikipediaTool{http: hc, baseURL: opts.baseURL("wikipedia", wikipediaURL)}, nil
	case "wolfram":
		return &wolframTool{http: hc, baseURL: opts.baseURL("wolfram", wolframURL), appID: cfg.APIKey}, nil
	case "maps":
		return &mapsTool{http: hc, baseURL: opts.baseURL("maps", googleMapsURL), apiKey: cfg.APIKey}, nil
	case "calendar":
		calendarID := cfg.Config["calendarId"]
		if calendarID == "" {
			calendarID = "primary"
		}
		return &calendarTool{http: hc, baseURL: opts.baseURL("calendar", googleCalendarURL), apiKey: cfg.APIKey, calendarID: calendarID}, nil
	case "translator":
		return &translatorTool{http: hc, baseURL: opts.baseURL("translator", googleTranslateURL), apiKey: cfg.APIKey}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownTool, cfg.ToolID)
}

// CreateFromConfig builds every enabled, usable tool. Tools that need a key but
// have none are skipped with a warning; unknown ids are skipped.
func CreateFromConfig(configs []storage.ToolConfig, opts Options) map[string]Tool {
	out := make(map[string]Tool)
	for _, cfg := range configs {
		if !cfg.IsEnabled {
			continue
		}
		t, err := Build(cfg, opts)
		switch {
		case err == nil:
			out[cfg.ToolID] = t
		case errors.Is(err, ErrMissingAPIKey):
			opts.logger().Warn("skipping tool without API key", "tool", cfg.ToolID)
		case errors.Is(err, ErrUnknownTool):
			opts.logger().Debug("skipping unknown tool", "tool", cfg.ToolID)
		default:
			opts.logger().Warn("skipping tool", "tool", cfg.ToolID, "error", err)
		}
	}
	return out
}

// Assemble selects the owner's enabled tool configs that the agent allows and
// builds them. An agent without an owner gets no tools.
func Assemble(ownerConfigs []storage.ToolConfig, agent storage.Agent, opts Options) map[string]Tool {
	if agent.UserID == "" {
		return map[string]Tool{}
	}
	var selected []storage.ToolConfig
	for _, cfg := range ownerConfigs {
		if cfg.IsEnabled && slices.Contains(agent.Tools, cfg.ToolID) {
			selected = append(selected, cfg)
		}
	}
	return CreateFromConfig(selected, opts)
}

// decodeArgs unmarshals tool arguments, treating empty input as an empty object.
func decodeArgs(args json.RawMessage, v any) error {
	if len(args) == 0 || string(args) == "null" {
		return nil
	}
	if err := json.Unmarshal(args, v); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}

// failure is the result shape a tool returns when the upstream call fails.
func failure(message string, extra map[string]any) map[string]any {
	out := map[string]any{"success": false, "message": message}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

func schema(required []string, props map[string]any) map[string]any {
	s := map[string]any{"type": "object", "properties": props}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func prop(typ, description string) map[string]any {
	return map[string]any{"type": typ, "description": description}
}

func enumProp(description string, values ...string) map[string]any {
	return map[string]any{"type": "string", "description": description, "enum": values}
}
