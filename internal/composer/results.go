package composer

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Source kinds of a ToolOutcome.
const (
	SourceWeb       = "web"
	SourceKnowledge = "knowledge"
)

// ToolOutcome is one tool execution of the sequential strategy.
type ToolOutcome struct {
	ToolName string
	Args     map[string]any
	Result   any
	Source   string
}

// FormatToolResults renders outcomes as "--- NAME RESULTS ---" sections for
// the synthesis prompt and collects markdown source links along the way.
func FormatToolResults(outcomes []ToolOutcome) (string, []string) {
	if len(outcomes) == 0 {
		return "", nil
	}

	var sb strings.Builder
	var sources []string
	sb.WriteString("\n\nTOOL RESULTS:\n")

	for _, o := range outcomes {
		fmt.Fprintf(&sb, "\n--- %s RESULTS ---\n", strings.ToUpper(o.ToolName))

		result := asMap(o.Result)
		if msg, ok := result["error"].(string); ok && msg != "" {
			fmt.Fprintf(&sb, "Error: %s\n", msg)
			continue
		}
		items, ok := result["results"].([]any)
		if !ok {
			sb.WriteString(indentJSON(o.Result) + "\n")
			continue
		}

		for i, raw := range items {
			item, _ := raw.(map[string]any)
			title := str(item["title"])
			fmt.Fprintf(&sb, "%d. %s\n", i+1, title)

			if o.Source == SourceKnowledge {
				fmt.Fprintf(&sb, "   %s\n", str(item["content"]))
				fmt.Fprintf(&sb, "   Relevance: %s%%\n", str(item["relevance_percentage"]))
				if url := str(item["file_url"]); url != "" {
					sources = append(sources, fmt.Sprintf("[%s](%s) - Knowledge base document", title, url))
				}
				continue
			}

			fmt.Fprintf(&sb, "   %s\n", firstNonEmpty(str(item["content"]), str(item["snippet"]), str(item["description"])))
			if url := str(item["url"]); url != "" {
				fmt.Fprintf(&sb, "   URL: %s\n", url)
				sources = append(sources, fmt.Sprintf("[%s](%s) - %s search result", title, url, o.ToolName))
			}
		}
	}
	return sb.String(), sources
}

// AppendSources adds a numbered **Sources:** list to text.
func AppendSources(text string, sources []string) string {
	if len(sources) == 0 {
		return text
	}
	var sb strings.Builder
	sb.WriteString(text)
	sb.WriteString("\n\n**Sources:**\n")
	for i, s := range sources {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, s)
	}
	return sb.String()
}

// asMap normalizes a tool result (map or struct) into generic JSON form.
func asMap(v any) map[string]any {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil
	}
	return m
}

func indentJSON(v any) string {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

func str(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return fmt.Sprintf("%g", t)
	default:
		return fmt.Sprint(t)
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
