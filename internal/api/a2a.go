package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kalambet/stackpilot/internal/agent"
	"github.com/kalambet/stackpilot/internal/auth"
	"github.com/kalambet/stackpilot/internal/storage"
)

const (
	gatewayName        = "A2A Gateway Agent"
	gatewayDescription = "An AI assistant responding via the A2A protocol."
	gatewayVersion     = "0.1.0"
	agentCardVersion   = "1.0.0"
	a2aMaxTokens       = 1000
)

// gatewayAgent is the synthetic agent behind the gateway route.
var gatewayAgent = storage.Agent{
	ID:           "a2a-gateway",
	UserID:       "system",
	Name:         gatewayName,
	Description:  gatewayDescription,
	SystemPrompt: "You are A2A Gateway Agent, an AI assistant. You are helpful and concise.",
	Status:       storage.AgentEnabled,
}

func gatewayCard(publicURL string) map[string]any {
	return map[string]any{
		"name":        gatewayName,
		"description": gatewayDescription,
		"version":     gatewayVersion,
		"url":         strings.TrimRight(publicURL, "/") + "/api/a2a",
		"capabilities": []map[string]any{
			{"name": "message/send", "description": "Sends a message to the agent and receives a response."},
			{"name": "agent/card", "description": "Retrieves the agent's capability card."},
		},
		"defaultInputModes":  []string{"text/plain"},
		"defaultOutputModes": []string{"text/plain"},
	}
}

func handleGatewayCard(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, gatewayCard(d.PublicURL))
	}
}

type messagePart struct {
	Kind string `json:"kind"`
	Text string `json:"text"`
}

type gatewayParams struct {
	Message *struct {
		Parts   []messagePart `json:"parts"`
		Context any           `json:"context,omitempty"`
	} `json:"message"`
}

func rpcResult(id any, result any) map[string]any {
	return map[string]any{"jsonrpc": mcp.JSONRPC_VERSION, "id": id, "result": result}
}

// handleGatewayRPC serves the JSON-RPC 2.0 gateway: message/send and
// agent/card.
func handleGatewayRPC(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeJSON(w, http.StatusBadRequest, rpcError(nil, mcp.PARSE_ERROR, "Invalid JSON was received by the server."))
			return
		}
		if req.JSONRPC != mcp.JSONRPC_VERSION || req.Method == "" {
			writeJSON(w, http.StatusBadRequest, rpcError(req.ID, mcp.INVALID_REQUEST, "The JSON sent is not a valid Request object."))
			return
		}

		switch req.Method {
		case "message/send":
			var p gatewayParams
			if len(req.Params) > 0 {
				if err := json.Unmarshal(req.Params, &p); err != nil {
					writeJSON(w, http.StatusBadRequest, rpcError(req.ID, mcp.INVALID_PARAMS,
						"Invalid parameters for message/send: "+err.Error()))
					return
				}
			}
			if p.Message == nil || len(p.Message.Parts) == 0 {
				writeJSON(w, http.StatusBadRequest, rpcError(req.ID, mcp.INVALID_PARAMS,
					"Invalid parameters for message/send. 'message' with 'parts' is required."))
				return
			}
			var text string
			for _, part := range p.Message.Parts {
				if part.Kind == "text" {
					text = part.Text
					break
				}
			}

			reply := "Received an empty message."
			if strings.TrimSpace(text) != "" {
				d.Metrics.AgentInvocation("a2a", "complete")
				out, err := d.Agents.GenerateSimple(r.Context(), gatewayAgent, text, nil, a2aMaxTokens)
				if err != nil {
					slog.Warn("gateway completion failed", "error", err)
					out = agent.Apology
				}
				reply = out
			}
			writeJSON(w, http.StatusOK, rpcResult(req.ID, map[string]any{
				"messageId": "agent-msg-" + uuid.NewString(),
				"timestamp": time.Now().UTC().Format(time.RFC3339),
				"role":      "agent",
				"kind":      "message",
				"parts":     []messagePart{{Kind: "text", Text: reply}},
				"context":   p.Message.Context,
			}))
		case "agent/card":
			writeJSON(w, http.StatusOK, rpcResult(req.ID, gatewayCard(d.PublicURL)))
		default:
			writeJSON(w, http.StatusInternalServerError, rpcError(req.ID, mcp.METHOD_NOT_FOUND, "Method not found: "+req.Method))
		}
	}
}

func a2aCapabilities(a storage.Agent) []map[string]any {
	caps := []map[string]any{
		{
			"name":        "chat",
			"description": "Conversational AI capability",
			"version":     "1.0.0",
			"parameters": map[string]any{
				"maxTokens":          2000,
				"supportedLanguages": []string{"en"},
				"conversationTypes":  []string{"single-turn", "multi-turn"},
			},
		},
		{
			"name":        "reasoning",
			"description": "Logical reasoning and problem-solving",
			"version":     "1.0.0",
		},
	}
	if a.HasCollections() {
		caps = append(caps, map[string]any{
			"name":        "knowledge_search",
			"description": "Search through knowledge base",
			"version":     "1.0.0",
			"parameters": map[string]any{
				"collections": len(a.Collections),
				"searchTypes": []string{"semantic", "keyword"},
			},
		})
	}
	return caps
}

func handleA2ACard(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, ok := lookupPublicAgent(w, r, d)
		if !ok {
			return
		}
		base := strings.TrimRight(d.PublicURL, "/")
		agentURL := fmt.Sprintf("%s/api/a2a/agents/%s", base, a.ID)
		writeJSON(w, http.StatusOK, map[string]any{
			"id":           a.ID,
			"name":         a.Name,
			"description":  a.Description,
			"version":      agentCardVersion,
			"capabilities": a2aCapabilities(a),
			"endpoints": map[string]string{
				"chat":         agentURL + "/chat",
				"capabilities": agentURL + "/capabilities",
				"health":       agentURL + "/health",
			},
			"authentication": map[string]any{
				"type":           "bearer_token",
				"scopes":         strings.Fields(auth.DefaultScope),
				"token_endpoint": base + "/api/a2a/auth/token",
			},
		})
	}
}

// bearerAgent resolves the agent and checks the request's bearer token
// against it.
func bearerAgent(w http.ResponseWriter, r *http.Request, d Deps) (storage.Agent, bool) {
	token, ok := bearerToken(r)
	if !ok {
		jsonError(w, http.StatusUnauthorized, "Bearer token required")
		return storage.Agent{}, false
	}
	a, ok := lookupPublicAgent(w, r, d)
	if !ok {
		return storage.Agent{}, false
	}
	if err := d.Tokens.VerifyAgentBearer(token, a); err != nil {
		slog.Debug("a2a bearer rejected", "agent", a.ID, "error", err)
		jsonError(w, http.StatusUnauthorized, "Invalid bearer token")
		return storage.Agent{}, false
	}
	if !guardAgent(w, r, d.Limiter, a) {
		return storage.Agent{}, false
	}
	return a, true
}

func contextString(c map[string]any, key string) string {
	s, _ := c[key].(string)
	return s
}

func conversationID(c map[string]any) string {
	if id := contextString(c, "conversation_id"); id != "" {
		return id
	}
	return uuid.NewString()
}

func handleA2AAction(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, ok := bearerAgent(w, r, d)
		if !ok {
			return
		}
		var req struct {
			Action  string         `json:"action"`
			Message string         `json:"message"`
			Context map[string]any `json:"context"`
		}
		if err := decodeJSON(w, r, &req); err != nil {
			jsonError(w, http.StatusBadRequest, "Invalid request body")
			return
		}

		now := time.Now().UTC().Format(time.RFC3339)
		switch req.Action {
		case "chat":
			if strings.TrimSpace(req.Message) == "" {
				jsonError(w, http.StatusBadRequest, "Message is required for chat action")
				return
			}
			d.Metrics.AgentInvocation("a2a", "complete")
			reply, err := d.Agents.GenerateResponse(r.Context(), a, req.Message, req.Context, a.UserID)
			if err != nil {
				slog.Warn("a2a chat failed", "agent", a.ID, "error", err)
				reply.Text = agent.Apology
			}
			writeJSON(w, http.StatusOK, map[string]any{
				"success":  true,
				"response": reply.Text,
				"metadata": map[string]any{
					"agent_id":        a.ID,
					"timestamp":       now,
					"conversation_id": conversationID(req.Context),
				},
			})
		case "get_capabilities":
			names := []string{"chat", "reasoning"}
			if a.HasCollections() {
				names = append(names, "knowledge_search")
			}
			writeJSON(w, http.StatusOK, map[string]any{
				"success":      true,
				"capabilities": names,
				"metadata":     map[string]any{"agent_id": a.ID, "timestamp": now},
			})
		default:
			jsonError(w, http.StatusBadRequest, "Unknown action: "+req.Action)
		}
	}
}

var errMessageFormat = errors.New("Invalid message format in input")

// a2aMessageText accepts a plain string, an A2A message with text parts, or
// an object with a content field.
func a2aMessageText(raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var m struct {
		Parts   []messagePart `json:"parts"`
		Content *string       `json:"content"`
	}
	if err := json.Unmarshal(raw, &m); err != nil {
		return "", errMessageFormat
	}
	for _, p := range m.Parts {
		if p.Kind == "text" && p.Text != "" {
			return p.Text, nil
		}
	}
	if m.Content != nil {
		return *m.Content, nil
	}
	return "", errMessageFormat
}

func handleA2AChat(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, ok := bearerAgent(w, r, d)
		if !ok {
			return
		}
		var req struct {
			Message json.RawMessage `json:"message"`
			Context map[string]any  `json:"context"`
		}
		if err := decodeJSON(w, r, &req); err != nil {
			jsonError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		if len(req.Message) == 0 || string(req.Message) == "null" {
			jsonError(w, http.StatusBadRequest, "Message input is required")
			return
		}
		message, err := a2aMessageText(req.Message)
		if err != nil {
			jsonError(w, http.StatusBadRequest, err.Error())
			return
		}
		if strings.TrimSpace(message) == "" {
			jsonError(w, http.StatusBadRequest, "Message input is required")
			return
		}

		caller := contextString(req.Context, "user_id")
		if caller == "" {
			caller = "anonymous"
		}

		d.Metrics.AgentInvocation("a2a", "complete")
		reply, err := d.Agents.GenerateResponse(r.Context(), a, message, req.Context, a.UserID)
		if err != nil {
			slog.Warn("a2a chat failed", "agent", a.ID, "error", err)
			reply.Text = agent.Apology
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success":  true,
			"response": reply.Text,
			"metadata": map[string]any{
				"agent_id":        a.ID,
				"agent_name":      a.Name,
				"timestamp":       time.Now().UTC().Format(time.RFC3339),
				"conversation_id": conversationID(req.Context),
				"user_id":         caller,
			},
		})
	}
}

type tokenRequest struct {
	GrantType    string `json:"grant_type"`
	Code         string `json:"code"`
	RedirectURI  string `json:"redirect_uri"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	RefreshToken string `json:"refresh_token"`
}

func oauthError(w http.ResponseWriter, code int, errCode, desc string) {
	writeJSON(w, code, map[string]string{"error": errCode, "error_description": desc})
}

func parseTokenRequest(w http.ResponseWriter, r *http.Request) (tokenRequest, error) {
	var tr tokenRequest
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct == "application/json" {
		err := decodeJSON(w, r, &tr)
		return tr, err
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := r.ParseForm(); err != nil {
		return tr, err
	}
	tr = tokenRequest{
		GrantType:    r.PostForm.Get("grant_type"),
		Code:         r.PostForm.Get("code"),
		RedirectURI:  r.PostForm.Get("redirect_uri"),
		ClientID:     r.PostForm.Get("client_id"),
		ClientSecret: r.PostForm.Get("client_secret"),
		RefreshToken: r.PostForm.Get("refresh_token"),
	}
	return tr, nil
}

// handleOAuthToken exchanges an authorization code or a refresh token for a
// new access/refresh token pair.
func handleOAuthToken(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tr, err := parseTokenRequest(w, r)
		if err != nil {
			oauthError(w, http.StatusBadRequest, "invalid_request", "Malformed token request")
			return
		}

		var secretOK bool
		switch tr.GrantType {
		case "authorization_code":
			secretOK = tr.Code != "" && tr.ClientID != "" && tr.ClientSecret != ""
		case "refresh_token":
			secretOK = tr.RefreshToken != "" && tr.ClientID != "" && tr.ClientSecret != ""
		default:
			oauthError(w, http.StatusBadRequest, "unsupported_grant_type", "Grant type must be authorization_code or refresh_token")
			return
		}
		if !secretOK {
			oauthError(w, http.StatusBadRequest, "invalid_request", "Missing required parameters for "+tr.GrantType+" grant")
			return
		}

		a, err := d.Store.FindAgentByOAuthClient(r.Context(), tr.ClientID, tr.ClientSecret)
		if err != nil {
			if !errors.Is(err, storage.ErrNotFound) {
				slog.Error("resolving oauth client", "error", err)
			}
			oauthError(w, http.StatusUnauthorized, "invalid_client", "Invalid client credentials")
			return
		}

		var scope string
		if tr.GrantType == "authorization_code" {
			claims, err := d.Tokens.VerifyCode(tr.Code, a.ID, tr.ClientID, tr.RedirectURI)
			if err != nil {
				oauthError(w, http.StatusBadRequest, "invalid_grant", "Invalid or expired authorization code")
				return
			}
			scope = claims.Scope
		} else {
			claims, err := d.Tokens.ParseRefresh(tr.RefreshToken, a.ID)
			if err != nil {
				oauthError(w, http.StatusBadRequest, "invalid_grant", "Invalid or expired refresh token")
				return
			}
			scope = claims.Scope
		}

		pair, err := d.Tokens.IssueTokenPair(a.ID, scope)
		if err != nil {
			slog.Error("issuing token pair", "agent", a.ID, "error", err)
			oauthError(w, http.StatusInternalServerError, "server_error", "Failed to issue tokens")
			return
		}
		w.Header().Set("Cache-Control", "no-store")
		writeJSON(w, http.StatusOK, pair)
	}
}

// handleA2AAuthorize mints an authorization code for an agent the owner has
// configured with an OAuth client.
func handleA2AAuthorize(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			RedirectURI string `json:"redirectUri"`
			Scope       string `json:"scope"`
		}
		if err := decodeJSON(w, r, &req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		a, err := d.Store.GetAgent(r.Context(), userID(r), chi.URLParam(r, "id"))
		if err != nil {
			storeError(w, err, "agent")
			return
		}
		oauth := a.Configuration.A2AOAuth
		if oauth == nil || oauth.ClientID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "agent has no A2A OAuth client configured")
			return
		}
		if len(oauth.RedirectURIs) > 0 && req.RedirectURI != "" && !slices.Contains(oauth.RedirectURIs, req.RedirectURI) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "redirectUri is not registered for this agent")
			return
		}
		code, err := d.Tokens.IssueCode(a.ID, oauth.ClientID, req.RedirectURI, req.Scope)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to issue code: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"code":      code,
			"expiresIn": int(auth.CodeTTL.Seconds()),
		})
	}
}
