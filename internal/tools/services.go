package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const (
	openWeatherURL     = "https://api.openweathermap.org/data/2.5"
	wolframURL         = "https://api.wolframalpha.com/v1"
	googleMapsURL      = "https://maps.googleapis.com/maps/api"
	googleCalendarURL  = "https://www.googleapis.com/calendar/v3"
	googleTranslateURL = "https://translation.googleapis.com/language/translate/v2"
)

// --- OpenWeatherMap ---

type weatherTool struct {
	http    *HTTPClient
	baseURL string
	apiKey  string
}

func (t *weatherTool) Name() string { return "weather" }
func (t *weatherTool) Description() string {
	return "Get current weather and forecasts using OpenWeatherMap"
}
func (t *weatherTool) Parameters() map[string]any {
	return schema([]string{"location"}, map[string]any{
		"location": prop("string", "City name, state code, and country code (e.g., 'London,UK' or 'New York,NY,US')"),
		"units":    enumProp("Temperature units", "metric", "imperial", "kelvin"),
	})
}

func (t *weatherTool) Execute(ctx context.Context, raw json.RawMessage) (any, error) {
	var args struct {
		Location string `json:"location"`
		Units    string `json:"units"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if strings.TrimSpace(args.Location) == "" {
		return nil, fmt.Errorf("location is required")
	}
	switch args.Units {
	case "":
		args.Units = "metric"
	case "metric", "imperial", "kelvin":
	default:
		return nil, fmt.Errorf("units must be one of metric, imperial, kelvin")
	}

	params := url.Values{"q": {args.Location}, "appid": {t.apiKey}, "units": {args.Units}}
	var data struct {
		Name string `json:"name"`
		Sys  struct {
			Country string `json:"country"`
		} `json:"sys"`
		Main struct {
			Temp      float64 `json:"temp"`
			FeelsLike float64 `json:"feels_like"`
			Humidity  int     `json:"humidity"`
			Pressure  int     `json:"pressure"`
		} `json:"main"`
		Weather []struct {
			Description string `json:"description"`
		} `json:"weather"`
		Wind struct {
			Speed float64 `json:"speed"`
		} `json:"wind"`
		Visibility int `json:"visibility"`
	}
	if err := t.http.FetchJSON(ctx, http.MethodGet, t.baseURL+"/weather?"+params.Encode(), nil, nil, &data); err != nil {
		msg := err.Error()
		if statusCode(err) == http.StatusNotFound {
			msg = "Location not found"
		}
		return failure("Weather lookup failed: "+msg, nil), nil
	}

	unit := map[string]string{"metric": "°C", "imperial": "°F", "kelvin": "K"}[args.Units]
	speed := "mph"
	if args.Units == "metric" {
		speed = "m/s"
	}
	visibility := "N/A"
	if data.Visibility > 0 {
		visibility = strconv.FormatFloat(float64(data.Visibility)/1000, 'f', -1, 64) + " km"
	}
	description := ""
	if len(data.Weather) > 0 {
		description = data.Weather[0].Description
	}
	location := data.Name + ", " + data.Sys.Country

	return map[string]any{
		"success": true,
		"message": "Current weather for " + location,
		"weather": map[string]any{
			"location":    location,
			"temperature": fmt.Sprintf("%d%s", int(math.Round(data.Main.Temp)), unit),
			"feelsLike":   fmt.Sprintf("%d%s", int(math.Round(data.Main.FeelsLike)), unit),
			"description": description,
			"humidity":    fmt.Sprintf("%d%%", data.Main.Humidity),
			"windSpeed":   fmt.Sprintf("%g %s", data.Wind.Speed, speed),
			"pressure":    fmt.Sprintf("%d hPa", data.Main.Pressure),
			"visibility":  visibility,
		},
	}, nil
}

// --- Wolfram Alpha ---

type wolframTool struct {
	http    *HTTPClient
	baseURL string
	appID   string
}

func (t *wolframTool) Name() string        { return "wolfram" }
func (t *wolframTool) Description() string { return "Query Wolfram Alpha computational knowledge engine" }
func (t *wolframTool) Parameters() map[string]any {
	return schema([]string{"query"}, map[string]any{
		"query": prop("string", "Query for Wolfram Alpha (e.g., 'integrate x^2', 'population of Tokyo')"),
	})
}

func (t *wolframTool) Execute(ctx context.Context, raw json.RawMessage) (any, error) {
	var args struct {
		Query string `json:"query"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if strings.TrimSpace(args.Query) == "" {
		return nil, fmt.Errorf("query is required")
	}

	params := url.Values{"appid": {t.appID}, "i": {args.Query}}
	body, err := t.http.Fetch(ctx, http.MethodGet, t.baseURL+"/result?"+params.Encode(), nil, nil)
	if err != nil {
		msg := err.Error()
		if statusCode(err) == http.StatusNotImplemented {
			msg = "Wolfram Alpha could not understand the query"
		}
		return failure("Wolfram Alpha query failed: "+msg, map[string]any{"query": args.Query}), nil
	}
	return map[string]any{
		"success": true,
		"message": "Wolfram Alpha computation completed",
		"query":   args.Query,
		"result":  string(body),
	}, nil
}

// --- Google Maps ---

type mapsTool struct {
	http    *HTTPClient
	baseURL string
	apiKey  string
}

func (t *mapsTool) Name() string { return "maps" }
func (t *mapsTool) Description() string {
	return "Get maps, directions, and location information using Google Maps"
}
func (t *mapsTool) Parameters() map[string]any {
	return schema([]string{"query"}, map[string]any{
		"query":       prop("string", "Location query or address"),
		"type":        enumProp("Type of maps query", "geocode", "directions", "places"),
		"origin":      prop("string", "Origin location for directions"),
		"destination": prop("string", "Destination location for directions"),
	})
}

func (t *mapsTool) Execute(ctx context.Context, raw json.RawMessage) (any, error) {
	var args struct {
		Query       string `json:"query"`
		Type        string `json:"type"`
		Origin      string `json:"origin"`
		Destination string `json:"destination"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if strings.TrimSpace(args.Query) == "" {
		return nil, fmt.Errorf("query is required")
	}
	if args.Type == "" {
		args.Type = "geocode"
	}

	params := url.Values{"key": {t.apiKey}}
	var path string
	switch args.Type {
	case "geocode":
		path = "/geocode/json"
		params.Set("address", args.Query)
	case "directions":
		path = "/directions/json"
		params.Set("origin", firstNonEmpty(args.Origin, args.Query))
		params.Set("destination", firstNonEmpty(args.Destination, args.Query))
	case "places":
		path = "/place/textsearch/json"
		params.Set("query", args.Query)
	default:
		return nil, fmt.Errorf("type must be one of geocode, directions, places")
	}

	var data struct {
		Status  string `json:"status"`
		Results []any  `json:"results"`
		Routes  []any  `json:"routes"`
	}
	extra := map[string]any{"type": args.Type, "query": args.Query}
	if err := t.http.FetchJSON(ctx, http.MethodGet, t.baseURL+path+"?"+params.Encode(), nil, nil, &data); err != nil {
		return failure("Maps query failed: "+err.Error(), extra), nil
	}
	if data.Status != "OK" {
		return failure("Maps query failed: Google Maps API error: "+data.Status, extra), nil
	}
	results := data.Results
	if results == nil {
		results = data.Routes
	}
	if results == nil {
		results = []any{}
	}
	return map[string]any{
		"success": true,
		"message": fmt.Sprintf("Google Maps %s query completed", args.Type),
		"type":    args.Type,
		"query":   args.Query,
		"results": results,
	}, nil
}

// firstNonEmpty returns a unless it is empty.
func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

// --- Google Calendar ---

type calendarTool struct {
	http       *HTTPClient
	baseURL    string
	apiKey     string
	calendarID string
}

func (t *calendarTool) Name() string        { return "calendar" }
func (t *calendarTool) Description() string { return "Access and manage Google Calendar events" }
func (t *calendarTool) Parameters() map[string]any {
	return schema([]string{"action"}, map[string]any{
		"action":     enumProp("Calendar action to perform", "list", "create", "get"),
		"timeMin":    prop("string", "Start time for event listing (ISO 8601)"),
		"timeMax":    prop("string", "End time for event listing (ISO 8601)"),
		"maxResults": prop("number", "Maximum number of events to return"),
		"summary":    prop("string", "Event title for creation"),
		"startTime":  prop("string", "Event start time (ISO 8601)"),
		"endTime":    prop("string", "Event end time (ISO 8601)"),
		"eventId":    prop("string", "Event ID for getting specific event"),
	})
}

func (t *calendarTool) Execute(ctx context.Context, raw json.RawMessage) (any, error) {
	var args struct {
		Action     string `json:"action"`
		TimeMin    string `json:"timeMin"`
		TimeMax    string `json:"timeMax"`
		MaxResults int    `json:"maxResults"`
		Summary    string `json:"summary"`
		StartTime  string `json:"startTime"`
		EndTime    string `json:"endTime"`
		EventID    string `json:"eventId"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if args.MaxResults <= 0 {
		args.MaxResults = 10
	}

	base := t.baseURL + "/calendars/" + url.PathEscape(t.calendarID) + "/events"
	headers := map[string]string{"Authorization": "Bearer " + t.apiKey}
	fail := func(msg string) (any, error) {
		return failure("Calendar operation failed: "+msg, map[string]any{"action": args.Action}), nil
	}

	switch args.Action {
	case "list":
		params := url.Values{"maxResults": {strconv.Itoa(args.MaxResults)}, "singleEvents": {"true"}, "orderBy": {"startTime"}}
		if args.TimeMin != "" {
			params.Set("timeMin", args.TimeMin)
		}
		if args.TimeMax != "" {
			params.Set("timeMax", args.TimeMax)
		}
		var data struct {
			Items []any `json:"items"`
		}
		if err := t.http.FetchJSON(ctx, http.MethodGet, base+"?"+params.Encode(), headers, nil, &data); err != nil {
			return fail(err.Error())
		}
		if data.Items == nil {
			data.Items = []any{}
		}
		return map[string]any{
			"success": true,
			"message": fmt.Sprintf("Found %d calendar events", len(data.Items)),
			"events":  data.Items,
		}, nil

	case "create":
		if args.Summary == "" || args.StartTime == "" || args.EndTime == "" {
			return fail("Summary, start time, and end time are required for event creation")
		}
		body := map[string]any{
			"summary": args.Summary,
			"start":   map[string]string{"dateTime": args.StartTime},
			"end":     map[string]string{"dateTime": args.EndTime},
		}
		var event map[string]any
		if err := t.http.FetchJSON(ctx, http.MethodPost, base, headers, body, &event); err != nil {
			return fail(err.Error())
		}
		return map[string]any{"success": true, "message": "Calendar event created successfully", "event": event}, nil

	case "get":
		if args.EventID == "" {
			return fail("Event ID is required for getting specific event")
		}
		var event map[string]any
		if err := t.http.FetchJSON(ctx, http.MethodGet, base+"/"+url.PathEscape(args.EventID), headers, nil, &event); err != nil {
			return fail(err.Error())
		}
		return map[string]any{"success": true, "message": "Calendar event retrieved successfully", "event": event}, nil
	}
	return fail("Unknown calendar action: " + args.Action)
}

// --- Google Translate ---

type translatorTool struct {
	http    *HTTPClient
	baseURL string
	apiKey  string
}

func (t *translatorTool) Name() string { return "translator" }
func (t *translatorTool) Description() string {
	return "Translate text between languages using Google Translate"
}
func (t *translatorTool) Parameters() map[string]any {
	return schema([]string{"text", "targetLanguage"}, map[string]any{
		"text":           prop("string", "Text to translate"),
		"targetLanguage": prop("string", "Target language code (e.g., 'es' for Spanish, 'fr' for French)"),
		"sourceLanguage": prop("string", "Source language code (auto-detect if not provided)"),
	})
}

func (t *translatorTool) Execute(ctx context.Context, raw json.RawMessage) (any, error) {
	var args struct {
		Text           string `json:"text"`
		TargetLanguage string `json:"targetLanguage"`
		SourceLanguage string `json:"sourceLanguage"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if args.Text == "" || args.TargetLanguage == "" {
		return nil, fmt.Errorf("text and targetLanguage are required")
	}

	params := url.Values{"key": {t.apiKey}, "q": {args.Text}, "target": {args.TargetLanguage}}
	if args.SourceLanguage != "" {
		params.Set("source", args.SourceLanguage)
	}
	var data struct {
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
		Data struct {
			Translations []struct {
				TranslatedText         string `json:"translatedText"`
				DetectedSourceLanguage string `json:"detectedSourceLanguage"`
			} `json:"translations"`
		} `json:"data"`
	}
	extra := map[string]any{"originalText": args.Text, "targetLanguage": args.TargetLanguage}
	if err := t.http.FetchJSON(ctx, http.MethodPost, t.baseURL+"?"+params.Encode(), nil, nil, &data); err != nil {
		return failure("Translation failed: "+err.Error(), extra), nil
	}
	if data.Error != nil {
		return failure("Translation failed: "+data.Error.Message, extra), nil
	}
	if len(data.Data.Translations) == 0 {
		return failure("Translation failed: no translation returned", extra), nil
	}
	tr := data.Data.Translations[0]
	return map[string]any{
		"success":                true,
		"message":                "Translation completed successfully",
		"originalText":           args.Text,
		"translatedText":         tr.TranslatedText,
		"detectedSourceLanguage": tr.DetectedSourceLanguage,
		"targetLanguage":         args.TargetLanguage,
	}, nil
}
