// Package composer builds the prompts sent to the completion model: the agent
// system prompt with its knowledge and tool blocks, the context-enhanced user
// message and the synthesis prompt of the sequential strategy.
package composer

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kalambet/stackpilot/internal/storage"
)

const knowledgeBlock = `

KNOWLEDGE BASE ACCESS:
You have access to a knowledge base containing %d collection(s) of documents. This knowledge base contains authoritative information for your domain.

WHEN TO USE KNOWLEDGE SEARCH:
- When users ask questions that might be answered by information in your knowledge base
- For domain-specific facts, data or detailed information from your collections

COMBINING KNOWLEDGE SEARCH WITH OTHER TOOLS:
- Use knowledge search for domain-specific information from your collections
- Use web search tools for current events or topics outside your knowledge base
- Use both when the question benefits from authoritative and current information
- Treat knowledge base information as authoritative for your domain

HOW TO USE KNOWLEDGE SEARCH RESULTS:
1. Use the 'search_knowledge' tool with specific keywords from the user's question
2. Prioritize results with higher relevance percentages
3. Synthesize information from multiple results when relevant
4. If results contradict each other, acknowledge the discrepancy
5. Cite your sources using the citation provided with each result

CITATION REQUIREMENTS:
- Cite sources whenever you use information from knowledge search results
- Reference document titles and mention the collection
- List citations at the end of your response in a "Sources:" section`

const toolBlock = `

TOOL USAGE:
You have access to the following tools: %s.

GENERAL TOOL GUIDELINES:
- Use tools when they help answer the user's question or complete the request
- Combine several tools when they provide complementary information
- Always incorporate tool results into your response
- If a tool fails, say so and try an alternative tool when one is available

TOOL SELECTION STRATEGY:
- Knowledge search for domain-specific information from your collections
- Web search (Tavily, DuckDuckGo) for current events and broader context
- Specialized tools (weather, news, calculator and others) for their specific data

SOURCE CITATION FORMAT:
When you use tools to gather information, end your response with a Sources section:

**Sources:**
- [Source Name](URL) - Brief description

SPECIFIC TOOL CITATIONS:
- Knowledge base: document title and collection
- Web search, Wikipedia and news: source name and URL
- Weather: OpenWeatherMap
- Calculations: Internal Calculator
- Other tools: the service name`

const synthesisBlock = `

SYNTHESIS INSTRUCTIONS:
You have been provided with results from several sources, including web search and the knowledge base. Your task is to:

1. Analyze ALL the provided tool results
2. Write one well-structured response that synthesizes every source
3. Treat knowledge base information as authoritative for domain-specific topics
4. Use web results for current information and broader context
5. Make clear which kind of source each piece of information comes from
6. If information conflicts, acknowledge the discrepancy
7. Answer the user's question completely

IMPORTANT: Do NOT include source citations in your main response. Sources will be appended automatically.`

// BasePrompt returns the agent's own system prompt, or a generated one when
// the agent has none.
func BasePrompt(agent storage.Agent) string {
	if strings.TrimSpace(agent.SystemPrompt) != "" {
		return agent.SystemPrompt
	}
	return fmt.Sprintf("You are %s, an AI assistant. %s", agent.Name, agent.Description)
}

// SystemPrompt composes the base prompt with the knowledge block, when the
// agent has collections, and the tool block, when any tool is available.
func SystemPrompt(agent storage.Agent, toolNames []string, hasKnowledge bool) string {
	var sb strings.Builder
	sb.WriteString(BasePrompt(agent))
	if hasKnowledge && agent.HasCollections() {
		fmt.Fprintf(&sb, knowledgeBlock, len(agent.Collections))
	}
	if len(toolNames) > 0 {
		fmt.Fprintf(&sb, toolBlock, strings.Join(toolNames, ", "))
	}
	return sb.String()
}

// UserPrompt prefixes message with the caller-supplied context, if any.
func UserPrompt(message string, context map[string]any) string {
	if len(context) == 0 {
		return message
	}
	return "Context: " + marshalContext(context) + "\n\nMessage: " + message
}

// SynthesisPrompt is the system prompt of the final synthesis call.
func SynthesisPrompt(base string) string {
	return base + synthesisBlock
}

// SynthesisUserPrompt is the user message of the synthesis call; the
// formatted tool results are appended to it.
func SynthesisUserPrompt(message string, context map[string]any, toolResults string) string {
	var sb strings.Builder
	if len(context) > 0 {
		sb.WriteString("Context: " + marshalContext(context) + "\n\n")
	}
	sb.WriteString("User Question: " + message)
	sb.WriteString(toolResults)
	return sb.String()
}

func marshalContext(context map[string]any) string {
	b, err := json.Marshal(context)
	if err != nil {
		return fmt.Sprint(context)
	}
	return string(b)
}
