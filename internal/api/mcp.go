package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"

	"github.com/go-chi/chi/v5"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/stackpilot/internal/agent"
	"github.com/kalambet/stackpilot/internal/storage"
	"github.com/kalambet/stackpilot/internal/tools"
)

const agentServerVersion = "1.0.0"

// rpcRequest is the part of a JSON-RPC request the route inspects before
// handing it to the MCP server.
type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type toolCallParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

func rpcError(id any, code int, msg string) mcp.JSONRPCError {
	return mcp.NewJSONRPCError(mcp.NewRequestId(id), code, msg, nil)
}

// handleAgentMCP serves the per-agent MCP endpoint. Streaming chat calls are
// answered directly; everything else goes through an mcp-go server built for
// the agent.
func handleAgentMCP(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := apiKey(r)
		if key == "" {
			jsonError(w, http.StatusUnauthorized, "API key required")
			return
		}

		a, ok := lookupPublicAgent(w, r, d)
		if !ok {
			return
		}
		if a.Configuration.APIKey == "" || !keysEqual(key, a.Configuration.APIKey) {
			jsonError(w, http.StatusUnauthorized, "Invalid API key")
			return
		}
		if !guardAgent(w, r, d.Limiter, a) {
			return
		}

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBodySize))
		if err != nil {
			writeJSON(w, http.StatusBadRequest, rpcError(nil, mcp.PARSE_ERROR, "Parse error"))
			return
		}
		var req rpcRequest
		if err := json.Unmarshal(body, &req); err != nil {
			writeJSON(w, http.StatusBadRequest, rpcError(nil, mcp.PARSE_ERROR, "Parse error"))
			return
		}

		sess, err := d.Agents.Prepare(r.Context(), a)
		if err != nil {
			slog.Error("preparing agent session", "agent", a.ID, "error", err)
			jsonError(w, http.StatusInternalServerError, "Internal server error")
			return
		}

		if req.Method == string(mcp.MethodToolsCall) {
			var p toolCallParams
			if err := json.Unmarshal(req.Params, &p); err != nil {
				writeJSON(w, http.StatusOK, rpcError(req.ID, mcp.INVALID_PARAMS, "Invalid params"))
				return
			}
			stream, _ := p.Arguments["stream"].(bool)
			switch {
			case p.Name == "chat_stream" || (p.Name == "chat" && stream):
				message, _ := p.Arguments["message"].(string)
				if message == "" {
					writeJSON(w, http.StatusOK, rpcError(req.ID, mcp.INVALID_PARAMS, "message is required"))
					return
				}
				convCtx, _ := p.Arguments["context"].(map[string]any)
				streamOrComplete(w, r, d, sess, "mcp", message, convCtx, chatOptions{Explain: true})
				return
			case p.Name == tools.KnowledgeToolName && !a.HasCollections():
				writeJSON(w, http.StatusOK, rpcError(req.ID, mcp.METHOD_NOT_FOUND, "Knowledge search not available for this agent"))
				return
			case !slices.Contains(agentMCPTools(a), p.Name):
				writeJSON(w, http.StatusOK, rpcError(req.ID, mcp.METHOD_NOT_FOUND, "Tool not found: "+p.Name))
				return
			}
		}

		resp := newAgentMCPServer(d, a, sess).HandleMessage(r.Context(), body)
		if resp == nil {
			w.WriteHeader(http.StatusAccepted)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// lookupPublicAgent resolves the {agentId} URL parameter to an enabled agent,
// writing 404 or 500 when it cannot.
func lookupPublicAgent(w http.ResponseWriter, r *http.Request, d Deps) (storage.Agent, bool) {
	a, err := d.Store.GetPublicAgent(r.Context(), chi.URLParam(r, "agentId"))
	if errors.Is(err, storage.ErrNotFound) {
		jsonError(w, http.StatusNotFound, "Agent not found or not enabled")
		return storage.Agent{}, false
	}
	if err != nil {
		slog.Error("looking up agent", "error", err)
		jsonError(w, http.StatusInternalServerError, "Internal server error")
		return storage.Agent{}, false
	}
	return a, true
}

func agentMCPTools(a storage.Agent) []string {
	names := []string{"chat", "chat_stream", "get_agent_info"}
	if a.HasCollections() {
		names = append(names, tools.KnowledgeToolName)
	}
	return names
}

func agentCapabilities(a storage.Agent) []string {
	caps := []string{"chat", "chat_stream", "reasoning"}
	if a.HasCollections() {
		caps = append(caps, "knowledge_search")
	}
	return caps
}

// newAgentMCPServer builds the MCP server answering for one agent.
func newAgentMCPServer(d Deps, a storage.Agent, sess *agent.Session) *server.MCPServer {
	s := server.NewMCPServer(
		a.Name,
		agentServerVersion,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("chat",
			mcp.WithDescription(fmt.Sprintf("Chat with %s. %s", a.Name, a.Description)),
			mcp.WithString("message", mcp.Description("The message to send to the agent"), mcp.Required()),
			mcp.WithObject("context", mcp.Description("Optional context for the conversation")),
			mcp.WithBoolean("stream", mcp.Description("Whether to stream the response"), mcp.DefaultBool(false)),
		),
		mcpAgentChat(d, sess),
	)
	s.AddTool(
		mcp.NewTool("chat_stream",
			mcp.WithDescription(fmt.Sprintf("Chat with %s with a streamed response.", a.Name)),
			mcp.WithString("message", mcp.Description("The message to send to the agent"), mcp.Required()),
			mcp.WithObject("context", mcp.Description("Optional context for the conversation")),
		),
		mcpAgentChat(d, sess),
	)
	s.AddTool(
		mcp.NewTool("get_agent_info",
			mcp.WithDescription("Get information about this agent and its capabilities."),
		),
		mcpAgentInfo(a),
	)
	if a.HasCollections() {
		s.AddTool(
			mcp.NewTool(tools.KnowledgeToolName,
				mcp.WithDescription("Search through the agent's knowledge base collections for relevant information."),
				mcp.WithString("query", mcp.Description("The search query"), mcp.Required()),
				mcp.WithNumber("limit", mcp.Description("Maximum number of results to return"), mcp.DefaultNumber(5)),
			),
			mcpAgentKnowledge(d, a),
		)
	}
	return s
}

func mcpAgentChat(d Deps, sess *agent.Session) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		message, err := req.RequireString("message")
		if err != nil || message == "" {
			return mcpError("message is required"), nil
		}
		convCtx, _ := req.GetArguments()["context"].(map[string]any)

		d.Metrics.AgentInvocation("mcp", "complete")
		reply, err := d.Agents.Respond(ctx, sess, message, convCtx)
		if err != nil {
			return nil, err
		}
		return mcpText(reply.Text), nil
	}
}

func mcpAgentInfo(a storage.Agent) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		b, err := json.MarshalIndent(map[string]any{
			"id":                a.ID,
			"name":              a.Name,
			"description":       a.Description,
			"capabilities":      agentCapabilities(a),
			"collections":       nonNil(a.Collections),
			"tools":             nonNil(a.Tools),
			"streaming_support": true,
		}, "", "  ")
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal agent info: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpAgentKnowledge(d Deps, a storage.Agent) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil || query == "" {
			return mcpError("query is required"), nil
		}
		limit := req.GetInt("limit", 5)

		res := tools.SearchKnowledge(ctx, d.Knowledge, a, query, limit)
		d.Metrics.ToolCall(tools.KnowledgeToolName, outcomeLabel(res.Success))
		b, err := json.MarshalIndent(res, "", "  ")
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func outcomeLabel(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
