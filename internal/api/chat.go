package api

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/stackpilot/internal/agent"
	"github.com/kalambet/stackpilot/internal/storage"
)

const toolsUsedReason = "Tools were used - complete response required"

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Messages []chatMessage `json:"messages"`
}

// lastUserTurn splits a conversation into the latest user message and the
// turns before it. Earlier turns travel to the model as context.
func lastUserTurn(msgs []chatMessage) (string, map[string]any) {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role != "user" || strings.TrimSpace(msgs[i].Content) == "" {
			continue
		}
		if i == 0 {
			return msgs[i].Content, nil
		}
		return msgs[i].Content, map[string]any{"previousMessages": msgs[:i]}
	}
	return "", nil
}

type chatOptions struct {
	// Single asks for a complete JSON reply even when streaming is possible.
	Single bool
	// Explain adds the streaming flag and reason to complete replies.
	Explain bool
}

// streamOrComplete answers one chat turn. Sessions with tools, and callers
// asking for a single reply, get the complete JSON reply; otherwise the text
// deltas are streamed as plain text.
func streamOrComplete(w http.ResponseWriter, r *http.Request, d Deps, sess *agent.Session, surface, message string, convCtx map[string]any, opts chatOptions) {
	if sess.HasTools() || opts.Single {
		d.Metrics.AgentInvocation(surface, "complete")
		reply, err := d.Agents.Respond(r.Context(), sess, message, convCtx)
		if err != nil {
			slog.Warn("chat turn failed", "agent", sess.Agent.ID, "surface", surface, "error", err)
			jsonError(w, http.StatusInternalServerError, "Internal server error")
			return
		}
		if reply.Failed && opts.Explain {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": agent.Apology, "streaming": false})
			return
		}
		body := map[string]any{"type": "text", "text": reply.Text, "toolCalls": reply.ToolCalls}
		if opts.Explain {
			body["streaming"] = false
			body["reason"] = toolsUsedReason
		}
		writeJSON(w, http.StatusOK, body)
		return
	}

	d.Metrics.AgentInvocation(surface, "stream")
	rc, err := d.Agents.Stream(r.Context(), sess, message, convCtx)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": agent.Apology, "streaming": false})
		return
	}
	defer rc.Close()
	pipeText(w, rc)
}

// pipeText copies plain text deltas to the client, flushing after each read.
func pipeText(w http.ResponseWriter, rc io.Reader) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Streaming", "true")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	buf := make([]byte, 4096)
	for {
		n, err := rc.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if err != nil {
			if err != io.EOF {
				slog.Warn("upstream stream read error", "error", err)
			}
			return
		}
	}
}

func handlePublicChat(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		if err := decodeJSON(w, r, &req); err != nil || req.Messages == nil {
			jsonError(w, http.StatusBadRequest, "Messages array is required")
			return
		}

		a, ok := lookupPublicAgent(w, r, d)
		if !ok {
			return
		}
		if a.Status == storage.AgentDisabled {
			jsonError(w, http.StatusForbidden, "Agent is not enabled for public access")
			return
		}
		if !guardAgent(w, r, d.Limiter, a) {
			return
		}

		message, convCtx := lastUserTurn(req.Messages)
		if message == "" {
			jsonError(w, http.StatusBadRequest, "A user message is required")
			return
		}

		sess, err := d.Agents.Prepare(r.Context(), a)
		if err != nil {
			jsonError(w, http.StatusInternalServerError, "Internal server error")
			return
		}
		single := strings.EqualFold(r.Header.Get("X-Response-Type"), "single")
		streamOrComplete(w, r, d, sess, "public", message, convCtx, chatOptions{Single: single})
	}
}

// handleOwnerChat lets an owner try one of their agents.
func handleOwnerChat(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		if err := decodeJSON(w, r, &req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		message, convCtx := lastUserTurn(req.Messages)
		if message == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "messages must contain a user message")
			return
		}

		a, err := d.Store.GetAgent(r.Context(), userID(r), chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "agent not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get agent: %v", err)
			return
		}
		if !a.Configuration.IsEnabled || a.Status == storage.AgentDisabled {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "agent is not enabled")
			return
		}

		sess, err := d.Agents.Prepare(r.Context(), a)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to prepare agent: %v", err)
			return
		}
		single := strings.EqualFold(r.Header.Get("X-Response-Type"), "single")
		streamOrComplete(w, r, d, sess, "chat", message, convCtx, chatOptions{Single: single})
	}
}
