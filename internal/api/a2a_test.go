package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kalambet/stackpilot/internal/storage"
)

func TestGatewayCard(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(httptest.NewRequest(http.MethodGet, "/api/a2a", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}
	card := decodeBody(t, rr)
	if card["name"] != "A2A Gateway Agent" || card["version"] != "0.1.0" {
		t.Errorf("card = %v", card)
	}
	if card["url"] != testURL+"/api/a2a" {
		t.Errorf("url = %v", card["url"])
	}
	if caps := card["capabilities"].([]any); len(caps) != 2 {
		t.Errorf("capabilities = %v, want 2", caps)
	}
}

func TestGatewayRPC_MessageSend(t *testing.T) {
	env := newTestEnv(t)
	body := `{"jsonrpc":"2.0","id":"r1","method":"message/send","params":{"message":{"parts":[{"kind":"data"},{"kind":"text","text":"What is A2A?"}],"context":{"thread":"t-9"}}}}`

	rr := env.postJSON("/api/a2a", body, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (%s)", rr.Code, http.StatusOK, rr.Body.String())
	}
	var result struct {
		MessageID string `json:"messageId"`
		Role      string `json:"role"`
		Kind      string `json:"kind"`
		Parts     []struct {
			Kind string `json:"kind"`
			Text string `json:"text"`
		} `json:"parts"`
		Context map[string]any `json:"context"`
	}
	r := decodeRPC(t, rr.Body.Bytes())
	if r.ID != "r1" {
		t.Errorf("id = %v, want r1", r.ID)
	}
	if err := json.Unmarshal(r.Result, &result); err != nil {
		t.Fatalf("decoding result: %v", err)
	}
	if !strings.HasPrefix(result.MessageID, "agent-msg-") || result.Role != "agent" || result.Kind != "message" {
		t.Errorf("result = %+v", result)
	}
	if len(result.Parts) != 1 || result.Parts[0].Text != "Hello from the agent" {
		t.Errorf("parts = %+v", result.Parts)
	}
	if result.Context["thread"] != "t-9" {
		t.Errorf("context = %v, want echoed", result.Context)
	}

	calls := env.llm.calls()
	if len(calls) != 1 {
		t.Fatalf("completion calls = %d, want 1", len(calls))
	}
	if !strings.Contains(calls[0].Messages[0].Content, "A2A Gateway Agent") {
		t.Errorf("system prompt = %q", calls[0].Messages[0].Content)
	}
	if calls[0].MaxTokens != 1000 {
		t.Errorf("max tokens = %d, want 1000", calls[0].MaxTokens)
	}
}

func TestGatewayRPC_EmptyText(t *testing.T) {
	env := newTestEnv(t)
	body := `{"jsonrpc":"2.0","id":1,"method":"message/send","params":{"message":{"parts":[{"kind":"text","text":"  "}]}}}`

	rr := env.postJSON("/api/a2a", body, nil)
	if !strings.Contains(rr.Body.String(), "Received an empty message.") {
		t.Errorf("body = %s", rr.Body.String())
	}
	if n := len(env.llm.calls()); n != 0 {
		t.Errorf("completion calls = %d, want 0", n)
	}
}

func TestGatewayRPC_CompletionFailureStillSucceeds(t *testing.T) {
	env := newTestEnv(t)
	env.llm.err = context.DeadlineExceeded
	body := `{"jsonrpc":"2.0","id":1,"method":"message/send","params":{"message":{"parts":[{"kind":"text","text":"hi"}]}}}`

	rr := env.postJSON("/api/a2a", body, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}
	if !strings.Contains(rr.Body.String(), "I apologize") {
		t.Errorf("body = %s, want apology", rr.Body.String())
	}
}

func TestGatewayRPC_Errors(t *testing.T) {
	env := newTestEnv(t)
	tests := []struct {
		name   string
		body   string
		status int
		code   int
	}{
		{"invalid json", `{"jsonrpc":`, http.StatusBadRequest, mcp.PARSE_ERROR},
		{"wrong version", `{"jsonrpc":"1.0","id":1,"method":"message/send"}`, http.StatusBadRequest, mcp.INVALID_REQUEST},
		{"missing method", `{"jsonrpc":"2.0","id":1}`, http.StatusBadRequest, mcp.INVALID_REQUEST},
		{"missing parts", `{"jsonrpc":"2.0","id":1,"method":"message/send","params":{"message":{}}}`, http.StatusBadRequest, mcp.INVALID_PARAMS},
		{"params not an object", `{"jsonrpc":"2.0","id":1,"method":"message/send","params":[1,2]}`, http.StatusBadRequest, mcp.INVALID_PARAMS},
		{"unknown method", `{"jsonrpc":"2.0","id":1,"method":"tasks/get"}`, http.StatusInternalServerError, mcp.METHOD_NOT_FOUND},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.postJSON("/api/a2a", tt.body, nil)
			if rr.Code != tt.status {
				t.Fatalf("status = %d, want %d", rr.Code, tt.status)
			}
			if r := decodeRPC(t, rr.Body.Bytes()); r.Error == nil || r.Error.Code != tt.code {
				t.Errorf("error = %+v, want code %d", r.Error, tt.code)
			}
		})
	}
}

func TestGatewayRPC_MalformedParamsReportsDecodeError(t *testing.T) {
	env := newTestEnv(t)
	body := `{"jsonrpc":"2.0","id":4,"method":"message/send","params":{"message":{"parts":"hello"}}}`

	rr := env.postJSON("/api/a2a", body, nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusBadRequest)
	}
	r := decodeRPC(t, rr.Body.Bytes())
	if r.Error == nil || r.Error.Code != mcp.INVALID_PARAMS {
		t.Fatalf("error = %+v, want code %d", r.Error, mcp.INVALID_PARAMS)
	}
	if !strings.HasPrefix(r.Error.Message, "Invalid parameters for message/send: ") {
		t.Errorf("message = %q, want the decode error", r.Error.Message)
	}
	if len(env.llm.calls()) != 0 {
		t.Error("completion called for malformed params")
	}
}

func TestGatewayRPC_AgentCard(t *testing.T) {
	env := newTestEnv(t)
	rr := env.postJSON("/api/a2a", `{"jsonrpc":"2.0","id":2,"method":"agent/card"}`, nil)
	if !strings.Contains(string(decodeRPC(t, rr.Body.Bytes()).Result), "A2A Gateway Agent") {
		t.Errorf("body = %s", rr.Body.String())
	}
}

func TestA2ACard(t *testing.T) {
	env := newTestEnv(t)
	a := env.seedAgent(t, func(a *storage.Agent) { a.Collections = []string{"c1", "c2"} })

	rr := env.do(httptest.NewRequest(http.MethodGet, "/api/a2a/agents/"+a.ID, nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}
	var card struct {
		ID           string `json:"id"`
		Capabilities []struct {
			Name       string         `json:"name"`
			Parameters map[string]any `json:"parameters"`
		} `json:"capabilities"`
		Endpoints      map[string]string `json:"endpoints"`
		Authentication struct {
			Type          string   `json:"type"`
			Scopes        []string `json:"scopes"`
			TokenEndpoint string   `json:"token_endpoint"`
		} `json:"authentication"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &card); err != nil {
		t.Fatalf("decoding card: %v", err)
	}
	if len(card.Capabilities) != 3 || card.Capabilities[2].Name != "knowledge_search" {
		t.Fatalf("capabilities = %+v", card.Capabilities)
	}
	if n := card.Capabilities[2].Parameters["collections"]; n != float64(2) {
		t.Errorf("collections = %v, want 2", n)
	}
	if want := testURL + "/api/a2a/agents/" + a.ID + "/chat"; card.Endpoints["chat"] != want {
		t.Errorf("chat endpoint = %q, want %q", card.Endpoints["chat"], want)
	}
	if card.Authentication.Type != "bearer_token" || strings.Join(card.Authentication.Scopes, " ") != "agent.chat agent.read" {
		t.Errorf("authentication = %+v", card.Authentication)
	}
	if card.Authentication.TokenEndpoint != testURL+"/api/a2a/auth/token" {
		t.Errorf("token endpoint = %q", card.Authentication.TokenEndpoint)
	}

	if rr := env.do(httptest.NewRequest(http.MethodGet, "/api/a2a/agents/nope", nil)); rr.Code != http.StatusNotFound {
		t.Errorf("missing agent status = %d, want %d", rr.Code, http.StatusNotFound)
	}
}

func bearer(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func TestA2AAction(t *testing.T) {
	env := newTestEnv(t)
	a := env.seedAgent(t, nil)
	path := "/api/a2a/agents/" + a.ID

	t.Run("requires bearer", func(t *testing.T) {
		rr := env.postJSON(path, `{"action":"chat","message":"hi"}`, nil)
		if rr.Code != http.StatusUnauthorized || errorMessage(t, rr) != "Bearer token required" {
			t.Errorf("status = %d body = %s", rr.Code, rr.Body.String())
		}
	})
	t.Run("rejects bad bearer", func(t *testing.T) {
		rr := env.postJSON(path, `{"action":"chat","message":"hi"}`, bearer("wrong"))
		if rr.Code != http.StatusUnauthorized || errorMessage(t, rr) != "Invalid bearer token" {
			t.Errorf("status = %d body = %s", rr.Code, rr.Body.String())
		}
	})
	t.Run("chat", func(t *testing.T) {
		rr := env.postJSON(path, `{"action":"chat","message":"hi","context":{"conversation_id":"conv-1"}}`, bearer(testAPIKey))
		if rr.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
		}
		body := decodeBody(t, rr)
		if body["success"] != true || body["response"] != "Hello from the agent" {
			t.Errorf("body = %v", body)
		}
		if md := body["metadata"].(map[string]any); md["agent_id"] != a.ID || md["conversation_id"] != "conv-1" {
			t.Errorf("metadata = %v", md)
		}
	})
	t.Run("chat requires message", func(t *testing.T) {
		rr := env.postJSON(path, `{"action":"chat"}`, bearer(testAPIKey))
		if rr.Code != http.StatusBadRequest || errorMessage(t, rr) != "Message is required for chat action" {
			t.Errorf("status = %d body = %s", rr.Code, rr.Body.String())
		}
	})
	t.Run("capabilities", func(t *testing.T) {
		rr := env.postJSON(path, `{"action":"get_capabilities"}`, bearer(testAPIKey))
		body := decodeBody(t, rr)
		if caps := body["capabilities"].([]any); len(caps) != 2 {
			t.Errorf("capabilities = %v", caps)
		}
	})
	t.Run("unknown action", func(t *testing.T) {
		rr := env.postJSON(path, `{"action":"dance"}`, bearer(testAPIKey))
		if rr.Code != http.StatusBadRequest || errorMessage(t, rr) != "Unknown action: dance" {
			t.Errorf("status = %d body = %s", rr.Code, rr.Body.String())
		}
	})
}

func TestA2AChat_MessageFormats(t *testing.T) {
	env := newTestEnv(t)
	a := env.seedAgent(t, nil)
	path := "/api/a2a/agents/" + a.ID + "/chat"

	tests := []struct {
		name   string
		body   string
		status int
		msg    string
	}{
		{"string", `{"message":"hello"}`, http.StatusOK, ""},
		{"parts", `{"message":{"parts":[{"kind":"text","text":"hello"}]}}`, http.StatusOK, ""},
		{"content", `{"message":{"content":"hello"}}`, http.StatusOK, ""},
		{"missing", `{}`, http.StatusBadRequest, "Message input is required"},
		{"number", `{"message":42}`, http.StatusBadRequest, "Invalid message format in input"},
		{"empty object", `{"message":{"parts":[]}}`, http.StatusBadRequest, "Invalid message format in input"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.postJSON(path, tt.body, bearer(testAPIKey))
			if rr.Code != tt.status {
				t.Fatalf("status = %d, want %d (%s)", rr.Code, tt.status, rr.Body.String())
			}
			if tt.msg != "" && errorMessage(t, rr) != tt.msg {
				t.Errorf("error = %q, want %q", errorMessage(t, rr), tt.msg)
			}
		})
	}
}

func TestA2AChat_Metadata(t *testing.T) {
	env := newTestEnv(t)
	a := env.seedAgent(t, nil)

	rr := env.postJSON("/api/a2a/agents/"+a.ID+"/chat", `{"message":"hello","context":{"user_id":"caller-7"}}`, bearer(testAPIKey))
	md := decodeBody(t, rr)["metadata"].(map[string]any)
	if md["user_id"] != "caller-7" || md["agent_name"] != "Launch Coach" {
		t.Errorf("metadata = %v", md)
	}
	if md["conversation_id"] == "" {
		t.Error("conversation_id must be generated")
	}

	rr = env.postJSON("/api/a2a/agents/"+a.ID+"/chat", `{"message":"hello"}`, bearer(testAPIKey))
	if md := decodeBody(t, rr)["metadata"].(map[string]any); md["user_id"] != "anonymous" {
		t.Errorf("user_id = %v, want anonymous", md["user_id"])
	}
}

func oauthAgent(t *testing.T, env *testEnv) storage.Agent {
	return env.seedAgent(t, func(a *storage.Agent) {
		a.Configuration.APIKey = ""
		a.Configuration.A2AOAuth = &storage.A2AOAuth{
			ClientID:     "client-1",
			ClientSecret: "secret-1",
			RedirectURIs: []string{"https://client.example.com/cb"},
		}
	})
}

func authorize(t *testing.T, env *testEnv, a storage.Agent, redirect string) string {
	t.Helper()
	rr := env.owner(t, http.MethodPost, "/api/agents/"+a.ID+"/a2a/authorize", `{"redirectUri":"`+redirect+`"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("authorize status = %d (%s)", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	if body["expiresIn"] != float64(600) {
		t.Errorf("expiresIn = %v, want 600", body["expiresIn"])
	}
	return body["code"].(string)
}

func postForm(env *testEnv, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/a2a/auth/token", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return env.do(req)
}

func TestOAuthFlow(t *testing.T) {
	env := newTestEnv(t)
	a := oauthAgent(t, env)
	redirect := "https://client.example.com/cb"
	code := authorize(t, env, a, redirect)

	rr := postForm(env, url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"client_id":     {"client-1"},
		"client_secret": {"secret-1"},
		"redirect_uri":  {redirect},
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("token status = %d (%s)", rr.Code, rr.Body.String())
	}
	var pair struct {
		AccessToken  string `json:"access_token"`
		TokenType    string `json:"token_type"`
		ExpiresIn    int    `json:"expires_in"`
		RefreshToken string `json:"refresh_token"`
		Scope        string `json:"scope"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &pair); err != nil {
		t.Fatalf("decoding pair: %v", err)
	}
	if pair.TokenType != "Bearer" || pair.ExpiresIn != 3600 || pair.Scope != "agent.chat agent.read" {
		t.Errorf("pair = %+v", pair)
	}

	chat := env.postJSON("/api/a2a/agents/"+a.ID+"/chat", `{"message":"hello"}`, bearer(pair.AccessToken))
	if chat.Code != http.StatusOK {
		t.Errorf("chat with access token status = %d (%s)", chat.Code, chat.Body.String())
	}

	// Refresh tokens are not accepted as bearer tokens.
	chat = env.postJSON("/api/a2a/agents/"+a.ID+"/chat", `{"message":"hello"}`, bearer(pair.RefreshToken))
	if chat.Code != http.StatusUnauthorized {
		t.Errorf("chat with refresh token status = %d, want %d", chat.Code, http.StatusUnauthorized)
	}

	refreshed := env.postJSON("/api/a2a/auth/token",
		`{"grant_type":"refresh_token","refresh_token":"`+pair.RefreshToken+`","client_id":"client-1","client_secret":"secret-1"}`, nil)
	if refreshed.Code != http.StatusOK {
		t.Fatalf("refresh status = %d (%s)", refreshed.Code, refreshed.Body.String())
	}
	if decodeBody(t, refreshed)["access_token"] == "" {
		t.Error("refresh returned no access token")
	}
}

func TestOAuthToken_Errors(t *testing.T) {
	env := newTestEnv(t)
	a := oauthAgent(t, env)
	code := authorize(t, env, a, "https://client.example.com/cb")

	tests := []struct {
		name   string
		form   url.Values
		status int
		errStr string
	}{
		{"unsupported grant", url.Values{"grant_type": {"password"}}, http.StatusBadRequest, "unsupported_grant_type"},
		{"missing code", url.Values{"grant_type": {"authorization_code"}, "client_id": {"client-1"}, "client_secret": {"secret-1"}},
			http.StatusBadRequest, "invalid_request"},
		{"bad secret", url.Values{"grant_type": {"authorization_code"}, "code": {code}, "client_id": {"client-1"}, "client_secret": {"nope"}},
			http.StatusUnauthorized, "invalid_client"},
		{"wrong redirect", url.Values{"grant_type": {"authorization_code"}, "code": {code}, "client_id": {"client-1"},
			"client_secret": {"secret-1"}, "redirect_uri": {"https://evil.example.com"}}, http.StatusBadRequest, "invalid_grant"},
		{"garbage code", url.Values{"grant_type": {"authorization_code"}, "code": {"abc"}, "client_id": {"client-1"},
			"client_secret": {"secret-1"}}, http.StatusBadRequest, "invalid_grant"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := postForm(env, tt.form)
			if rr.Code != tt.status {
				t.Fatalf("status = %d, want %d (%s)", rr.Code, tt.status, rr.Body.String())
			}
			body := decodeBody(t, rr)
			if body["error"] != tt.errStr || body["error_description"] == "" {
				t.Errorf("body = %v, want error %q", body, tt.errStr)
			}
		})
	}
}

func TestA2AAuthorize_RequiresOAuthClient(t *testing.T) {
	env := newTestEnv(t)
	a := env.seedAgent(t, nil)

	rr := env.owner(t, http.MethodPost, "/api/agents/"+a.ID+"/a2a/authorize", `{"redirectUri":"https://x.example.com"}`)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusBadRequest)
	}
}
