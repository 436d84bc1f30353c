package intent

import (
	"fmt"
	"strings"

	"github.com/kalambet/stackpilot/internal/llm"
)

const searchQueryPrompt = "Extract the main search query from the user's message. Return only the search query, no additional text."

// BuildPrompt constructs the chat messages for search query extraction. A
// non-empty tool name is added as a hint about where the query will be sent.
func BuildPrompt(message, toolName string) []llm.Message {
	var sb strings.Builder
	sb.WriteString(searchQueryPrompt)
	if toolName != "" {
		fmt.Fprintf(&sb, "\nThe query will be sent to the %s tool.", toolName)
	}
	return []llm.Message{
		{Role: "system", Content: sb.String()},
		{Role: "user", Content: message},
	}
}
