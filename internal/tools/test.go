package tools

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/kalambet/stackpilot/internal/storage"
)

// TestResult is the outcome of a connection test.
type TestResult struct {
	Success   bool      `json:"success"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Test checks whether a tool is usable with the given key and config. Tools
// that need no key are reported ready; the others run a cheap probe.
func Test(ctx context.Context, toolID, apiKey string, config map[string]string, opts Options) TestResult {
	res := probe(ctx, toolID, apiKey, config, opts)
	res.Timestamp = time.Now().UTC()
	return res
}

func probe(ctx context.Context, toolID, apiKey string, config map[string]string, opts Options) TestResult {
	def, ok := Lookup(toolID)
	if !ok {
		return TestResult{Message: "Unknown tool - This tool is not supported"}
	}
	if !def.RequiresAPIKey {
		return TestResult{Success: true, Message: def.Name + " is ready to use"}
	}
	if apiKey == "" {
		return TestResult{Message: "API key is required"}
	}

	t, err := Build(storage.ToolConfig{ToolID: toolID, APIKey: apiKey, Config: config, IsEnabled: true}, opts)
	if err != nil {
		return TestResult{Message: err.Error()}
	}

	var probeErr error
	switch tool := t.(type) {
	case *tavilyTool:
		var out map[string]any
		probeErr = tool.search(ctx, "test connection", 1, "basic", false, &out)
	case *weatherTool:
		params := url.Values{"q": {"London"}, "appid": {apiKey}}
		_, probeErr = tool.http.Fetch(ctx, http.MethodGet, tool.baseURL+"/weather?"+params.Encode(), nil, nil)
	case *newsTool:
		params := url.Values{"country": {"us"}, "pageSize": {"1"}, "apiKey": {apiKey}}
		_, _, probeErr = tool.fetch(ctx, tool.baseURL+"/top-headlines?"+params.Encode())
	case *wolframTool:
		params := url.Values{"appid": {apiKey}, "i": {"2+2"}}
		_, probeErr = tool.http.Fetch(ctx, http.MethodGet, tool.baseURL+"/result?"+params.Encode(), nil, nil)
	case *mapsTool:
		params := url.Values{"key": {apiKey}, "address": {"London"}}
		var data struct {
			Status       string `json:"status"`
			ErrorMessage string `json:"error_message"`
		}
		probeErr = tool.http.FetchJSON(ctx, http.MethodGet, tool.baseURL+"/geocode/json?"+params.Encode(), nil, nil, &data)
		if probeErr == nil && data.Status != "OK" {
			probeErr = fmt.Errorf("%s %s", data.Status, data.ErrorMessage)
		}
	case *calendarTool:
		params := url.Values{"maxResults": {"1"}}
		headers := map[string]string{"Authorization": "Bearer " + apiKey}
		_, probeErr = tool.http.Fetch(ctx, http.MethodGet,
			tool.baseURL+"/calendars/"+url.PathEscape(tool.calendarID)+"/events?"+params.Encode(), headers, nil)
	case *translatorTool:
		params := url.Values{"key": {apiKey}, "q": {"hello"}, "target": {"es"}}
		_, probeErr = tool.http.Fetch(ctx, http.MethodPost, tool.baseURL+"?"+params.Encode(), nil, nil)
	}

	if probeErr != nil {
		switch statusCode(probeErr) {
		case http.StatusUnauthorized, http.StatusForbidden:
			return TestResult{Message: "Invalid API key - Please check your " + def.Name + " API key"}
		}
		return TestResult{Message: "Connection failed - " + probeErr.Error()}
	}
	return TestResult{Success: true, Message: def.Name + " connection successful"}
}
