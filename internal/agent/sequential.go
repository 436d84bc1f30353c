package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/kalambet/stackpilot/internal/composer"
	"github.com/kalambet/stackpilot/internal/llm"
	"github.com/kalambet/stackpilot/internal/storage"
	"github.com/kalambet/stackpilot/internal/tools"
)

const (
	sequentialMaxResults = 5
	knowledgeLimit       = 5
	simpleMaxTokens      = 1000
)

// GenerateResponse answers message with the sequential strategy: every web
// tool the agent may use runs once with an extracted query, the knowledge
// base is searched, and one synthesis completion combines the results.
// Tool configurations are loaded for userID; an empty userID skips web tools.
func (s *Service) GenerateResponse(ctx context.Context, agent storage.Agent, message string, context map[string]any, userID string) (Reply, error) {
	var outcomes []composer.ToolOutcome

	available := s.webTools(ctx, agent, userID)
	for _, name := range tools.WebSearchTools {
		tool, ok := available[name]
		if !ok {
			continue
		}
		outcomes = append(outcomes, s.runWebTool(ctx, tool, message))
	}

	if agent.HasCollections() && s.knowledge != nil {
		res := tools.SearchKnowledge(ctx, s.knowledge, agent, message, knowledgeLimit)
		s.metrics.ToolCall(tools.KnowledgeToolName, outcome(res.Error == ""))
		outcomes = append(outcomes, composer.ToolOutcome{
			ToolName: tools.KnowledgeToolName,
			Args:     map[string]any{"query": message, "limit": knowledgeLimit},
			Result:   res,
			Source:   composer.SourceKnowledge,
		})
	}

	resultsText, sources := composer.FormatToolResults(outcomes)
	req := s.request([]llm.Message{
		{Role: "system", Content: composer.SynthesisPrompt(composer.BasePrompt(agent))},
		{Role: "user", Content: composer.SynthesisUserPrompt(message, context, resultsText)},
	}, nil, 0)

	reply := Reply{ToolCalls: make([]ToolCall, 0, len(outcomes))}
	for i, o := range outcomes {
		reply.ToolCalls = append(reply.ToolCalls, ToolCall{
			ToolCallID: fmt.Sprintf("call_%d", i),
			ToolName:   o.ToolName,
			Args:       o.Args,
			Result:     o.Result,
		})
	}

	s.logger.Debug("synthesizing response", "agent", agent.ID, "tool_results", len(outcomes))
	resp, err := s.llm.Complete(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return Reply{}, ctx.Err()
		}
		s.logger.Warn("synthesis completion failed", "agent", agent.ID, "error", err)
		s.metrics.CompletionError()
		reply.Text = Apology
		return reply, nil
	}
	reply.Text = composer.AppendSources(resp.Content, sources)
	reply.Usage = resp.Usage
	return reply, nil
}

// webTools builds the agent's tools from userID's configurations.
func (s *Service) webTools(ctx context.Context, agent storage.Agent, userID string) map[string]tools.Tool {
	if userID == "" || s.store == nil || len(agent.Tools) == 0 {
		return nil
	}
	configs, err := s.store.ListToolConfigs(ctx, userID)
	if err != nil {
		s.logger.Warn("loading tool configurations failed", "user", userID, "error", err)
		return nil
	}
	owner := agent
	owner.UserID = userID
	return tools.Assemble(configs, owner, s.toolOpts)
}

func (s *Service) runWebTool(ctx context.Context, tool tools.Tool, message string) composer.ToolOutcome {
	name := tool.Name()
	query := message
	if s.extractor != nil {
		query = s.extractor.SearchQueryFor(ctx, message, name)
	}

	args, _ := json.Marshal(map[string]any{"query": query, "maxResults": sequentialMaxResults})
	result, err := tool.Execute(ctx, args)
	if err != nil {
		s.logger.Warn("tool execution failed", "tool", name, "error", err)
		s.metrics.ToolCall(name, "error")
		return composer.ToolOutcome{
			ToolName: name,
			Args:     map[string]any{"query": message},
			Result:   map[string]any{"error": err.Error()},
			Source:   composer.SourceWeb,
		}
	}
	s.metrics.ToolCall(name, "ok")
	return composer.ToolOutcome{
		ToolName: name,
		Args:     map[string]any{"query": query},
		Result:   result,
		Source:   composer.SourceWeb,
	}
}

// GenerateSimple answers without tools using the agent's base prompt. A
// completion failure yields the apology text.
func (s *Service) GenerateSimple(ctx context.Context, agent storage.Agent, message string, context map[string]any, maxTokens int) (string, error) {
	if maxTokens <= 0 {
		maxTokens = simpleMaxTokens
	}
	resp, err := s.llm.Complete(ctx, s.request([]llm.Message{
		{Role: "system", Content: composer.BasePrompt(agent)},
		{Role: "user", Content: composer.UserPrompt(message, context)},
	}, nil, maxTokens))
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		s.logger.Warn("completion failed", "agent", agent.ID, "error", err)
		s.metrics.CompletionError()
		return Apology, nil
	}
	return resp.Content, nil
}

func outcome(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}
