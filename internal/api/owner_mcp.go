package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/stackpilot/internal/storage"
	"github.com/kalambet/stackpilot/internal/validate"
)

const agentsResourceURI = "stackpilot://agents"

// NewOwnerMCPServer creates the MCP server a local owner runs over stdio. All
// tools act on userID's data.
func NewOwnerMCPServer(d Deps, userID string) *server.MCPServer {
	s := server.NewMCPServer(
		"stackpilot",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("stackpilot: manage products, notes and AI agents, search document collections and chat with agents."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("list_agents",
			mcp.WithDescription("List the owner's agents, optionally for one product."),
			mcp.WithString("productId", mcp.Description("Only agents of this product")),
		),
		mcpListAgents(d, userID),
	)
	s.AddTool(
		mcp.NewTool("get_agent",
			mcp.WithDescription("Get one agent with its configuration."),
			mcp.WithString("id", mcp.Description("Agent id"), mcp.Required()),
		),
		mcpGetAgent(d, userID),
	)
	s.AddTool(
		mcp.NewTool("list_products",
			mcp.WithDescription("List the owner's products."),
		),
		mcpListProducts(d, userID),
	)
	s.AddTool(
		mcp.NewTool("add_note",
			mcp.WithDescription("Add a note to a product."),
			mcp.WithString("productId", mcp.Description("Product the note belongs to"), mcp.Required()),
			mcp.WithString("note", mcp.Description("Note text"), mcp.Required()),
			mcp.WithArray("tags", mcp.Description("Optional tags")),
			mcp.WithArray("phases", mcp.Description("Optional phases, e.g. Build or Launch")),
		),
		mcpAddNote(d, userID),
	)
	s.AddTool(
		mcp.NewTool("search_collection",
			mcp.WithDescription("Search one document collection and return the best matching chunks."),
			mcp.WithString("collectionId", mcp.Description("Collection id"), mcp.Required()),
			mcp.WithString("query", mcp.Description("Search query"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 5)")),
		),
		mcpSearchCollection(d, userID),
	)
	s.AddTool(
		mcp.NewTool("chat_with_agent",
			mcp.WithDescription("Send one message to an agent and return its complete reply."),
			mcp.WithString("id", mcp.Description("Agent id"), mcp.Required()),
			mcp.WithString("message", mcp.Description("The message to send"), mcp.Required()),
		),
		mcpChatWithAgent(d, userID),
	)

	s.AddResource(
		mcp.NewResource(
			agentsResourceURI,
			"Agents",
			mcp.WithResourceDescription("The owner's agents as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceAgents(d, userID),
	)

	return s
}

func mcpJSON(v any) *mcp.CallToolResult {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err))
	}
	return mcpText(string(b))
}

func mcpListAgents(d Deps, userID string) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		agents, err := d.Store.ListAgents(ctx, userID, req.GetString("productId", ""))
		if err != nil {
			return mcpError(fmt.Sprintf("failed to list agents: %v", err)), nil
		}
		return mcpJSON(nonNil(agents)), nil
	}
}

func mcpGetAgent(d Deps, userID string) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("id")
		if err != nil {
			return mcpError("id is required"), nil
		}
		a, err := d.Store.GetAgent(ctx, userID, id)
		if err != nil {
			return mcpError(fmt.Sprintf("agent %s: %v", id, err)), nil
		}
		return mcpJSON(a), nil
	}
}

func mcpListProducts(d Deps, userID string) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		products, err := d.Store.ListProducts(ctx, userID)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to list products: %v", err)), nil
		}
		return mcpJSON(nonNil(products)), nil
	}
}

func mcpAddNote(d Deps, userID string) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		productID, err := req.RequireString("productId")
		if err != nil {
			return mcpError("productId is required"), nil
		}
		body, err := req.RequireString("note")
		if err != nil {
			return mcpError("note is required"), nil
		}
		if _, err := d.Store.GetProduct(ctx, userID, productID); err != nil {
			return mcpError(fmt.Sprintf("product %s: %v", productID, err)), nil
		}

		n := storage.Note{
			UserID:    userID,
			ProductID: productID,
			NoteBody:  body,
			Tags:      req.GetStringSlice("tags", nil),
			Phases:    req.GetStringSlice("phases", nil),
		}
		if err := validate.Struct(n); err != nil {
			return mcpError(err.Error()), nil
		}
		n, err = d.Store.CreateNote(ctx, n)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to save note: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Stored note %s", n.ID)), nil
	}
}

func mcpSearchCollection(d Deps, userID string) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		collectionID, err := req.RequireString("collectionId")
		if err != nil {
			return mcpError("collectionId is required"), nil
		}
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}
		limit := req.GetInt("limit", 5)
		if limit <= 0 {
			limit = 5
		}
		if limit > 50 {
			limit = 50
		}

		page, err := d.Searcher.SearchCollection(ctx, userID, collectionID, query, 1, limit)
		if err != nil {
			return mcpError(fmt.Sprintf("search failed: %v", err)), nil
		}
		return mcpJSON(nonNil(page.Results)), nil
	}
}

func mcpChatWithAgent(d Deps, userID string) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("id")
		if err != nil {
			return mcpError("id is required"), nil
		}
		message, err := req.RequireString("message")
		if err != nil || message == "" {
			return mcpError("message is required"), nil
		}
		a, err := d.Store.GetAgent(ctx, userID, id)
		if err != nil {
			return mcpError(fmt.Sprintf("agent %s: %v", id, err)), nil
		}

		sess, err := d.Agents.Prepare(ctx, a)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to prepare agent: %v", err)), nil
		}
		d.Metrics.AgentInvocation("owner_mcp", "complete")
		reply, err := d.Agents.Respond(ctx, sess, message, nil)
		if err != nil {
			return mcpError(fmt.Sprintf("chat failed: %v", err)), nil
		}
		return mcpText(reply.Text), nil
	}
}

func mcpResourceAgents(d Deps, userID string) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		agents, err := d.Store.ListAgents(ctx, userID, "")
		if err != nil {
			return nil, fmt.Errorf("failed to list agents: %w", err)
		}
		b, err := json.Marshal(nonNil(agents))
		if err != nil {
			return nil, fmt.Errorf("failed to marshal agents: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}
