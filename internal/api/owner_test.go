package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kalambet/stackpilot/internal/storage"
	"github.com/kalambet/stackpilot/internal/tools"
)

func TestProductCRUD(t *testing.T) {
	env := newTestEnv(t)

	rr := env.owner(t, http.MethodPost, "/api/products", `{"name":"Stackpilot","description":"Launch kit","phases":["Build"]}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create status = %d (%s)", rr.Code, rr.Body.String())
	}
	var p storage.Product
	json.Unmarshal(rr.Body.Bytes(), &p)
	if p.ID == "" || p.UserID != testOwner {
		t.Fatalf("product = %+v", p)
	}

	rr = env.owner(t, http.MethodPut, "/api/products/"+p.ID, `{"problem":"Founders ship slowly"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("update status = %d (%s)", rr.Code, rr.Body.String())
	}
	var updated storage.Product
	json.Unmarshal(rr.Body.Bytes(), &updated)
	if updated.Name != "Stackpilot" || updated.Problem != "Founders ship slowly" {
		t.Errorf("updated = %+v, want name kept and problem set", updated)
	}

	rr = env.owner(t, http.MethodGet, "/api/products", "")
	var list []storage.Product
	json.Unmarshal(rr.Body.Bytes(), &list)
	if len(list) != 1 {
		t.Errorf("products = %d, want 1", len(list))
	}

	if rr := env.owner(t, http.MethodDelete, "/api/products/"+p.ID, ""); rr.Code != http.StatusOK {
		t.Fatalf("delete status = %d", rr.Code)
	}
	if rr := env.owner(t, http.MethodGet, "/api/products/"+p.ID, ""); rr.Code != http.StatusNotFound {
		t.Errorf("get after delete status = %d, want %d", rr.Code, http.StatusNotFound)
	}
}

func TestProductCreate_Validation(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name string
		body string
	}{
		{"missing name", `{"description":"x"}`},
		{"unknown phase", `{"name":"x","phases":["Ship"]}`},
		{"bad website", `{"name":"x","website":"not a url"}`},
		{"malformed", `{"name":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.owner(t, http.MethodPost, "/api/products", tt.body)
			if rr.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want %d (%s)", rr.Code, http.StatusBadRequest, rr.Body.String())
			}
		})
	}
}

func TestNotes_FilterByProduct(t *testing.T) {
	env := newTestEnv(t)
	env.owner(t, http.MethodPost, "/api/notes", `{"productId":"p1","note_body":"one"}`)
	env.owner(t, http.MethodPost, "/api/notes", `{"productId":"p2","note_body":"two"}`)

	rr := env.owner(t, http.MethodGet, "/api/notes?productId=p1", "")
	var notes []storage.Note
	json.Unmarshal(rr.Body.Bytes(), &notes)
	if len(notes) != 1 || notes[0].NoteBody != "one" {
		t.Errorf("notes = %+v, want only p1", notes)
	}
}

func TestOwnerResources_AreUserScoped(t *testing.T) {
	env := newTestEnv(t)
	a := env.seedAgent(t, func(a *storage.Agent) { a.UserID = "someone-else" })

	if rr := env.owner(t, http.MethodGet, "/api/agents/"+a.ID, ""); rr.Code != http.StatusNotFound {
		t.Errorf("foreign agent status = %d, want %d", rr.Code, http.StatusNotFound)
	}
}

func TestAgentCreate_DefaultConfiguration(t *testing.T) {
	env := newTestEnv(t)

	rr := env.owner(t, http.MethodPost, "/api/agents", `{"productId":"p1","name":"Coach","description":"Helps"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d (%s)", rr.Code, rr.Body.String())
	}
	var a storage.Agent
	json.Unmarshal(rr.Body.Bytes(), &a)
	want := storage.DefaultAgentConfiguration()
	c := a.Configuration
	if c.AuthType != want.AuthType || c.ResponseType != want.ResponseType ||
		c.RateLimitPerMinute != want.RateLimitPerMinute || !c.IsEnabled {
		t.Errorf("configuration = %+v, want defaults", c)
	}
	if a.Status != storage.AgentEnabled {
		t.Errorf("status = %q, want %q", a.Status, storage.AgentEnabled)
	}

	rr = env.owner(t, http.MethodPost, "/api/agents",
		`{"productId":"p1","name":"Coach","description":"Helps","configuration":{"rateLimitPerMinute":5000}}`)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("oversized rate limit status = %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestToolCatalog(t *testing.T) {
	env := newTestEnv(t)
	rr := env.owner(t, http.MethodGet, "/api/tools/catalog", "")
	var defs []tools.Definition
	if err := json.Unmarshal(rr.Body.Bytes(), &defs); err != nil {
		t.Fatalf("decoding catalog: %v", err)
	}
	if len(defs) != len(tools.Catalog()) {
		t.Errorf("catalog has %d tools, want %d", len(defs), len(tools.Catalog()))
	}
}

func TestToolConfigUpsert(t *testing.T) {
	env := newTestEnv(t)

	if rr := env.owner(t, http.MethodPut, "/api/tools/teleporter", `{"isEnabled":true}`); rr.Code != http.StatusNotFound {
		t.Errorf("unknown tool status = %d, want %d", rr.Code, http.StatusNotFound)
	}
	if rr := env.owner(t, http.MethodPut, "/api/tools/weather", `{"isEnabled":true}`); rr.Code != http.StatusBadRequest {
		t.Errorf("keyless weather status = %d, want %d", rr.Code, http.StatusBadRequest)
	}

	rr := env.owner(t, http.MethodPut, "/api/tools/weather", `{"isEnabled":true,"apiKey":"owm"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("upsert status = %d (%s)", rr.Code, rr.Body.String())
	}
	rr = env.owner(t, http.MethodGet, "/api/tools", "")
	var cfgs []storage.ToolConfig
	json.Unmarshal(rr.Body.Bytes(), &cfgs)
	if len(cfgs) != 1 || cfgs[0].ToolID != "weather" || cfgs[0].UserID != testOwner {
		t.Errorf("configs = %+v", cfgs)
	}

	if rr := env.owner(t, http.MethodDelete, "/api/tools/weather", ""); rr.Code != http.StatusOK {
		t.Errorf("delete status = %d", rr.Code)
	}
}

func TestToolTest(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("appid") != "good" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"name":"London"}`))
	}))
	defer upstream.Close()

	env := newTestEnv(t)
	env.deps.Tools = tools.Options{BaseURLs: map[string]string{"weather": upstream.URL}}
	env.handler = NewRouter(env.deps)

	env.owner(t, http.MethodPut, "/api/tools/weather", `{"isEnabled":true,"apiKey":"good"}`)
	rr := env.owner(t, http.MethodPost, "/api/tools/weather/test", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d (%s)", rr.Code, rr.Body.String())
	}
	if body := decodeBody(t, rr); body["success"] != true {
		t.Errorf("body = %v, want success", body)
	}

	rr = env.owner(t, http.MethodPost, "/api/tools/weather/test", `{"apiKey":"bad"}`)
	if body := decodeBody(t, rr); body["success"] != false {
		t.Errorf("body = %v, want failure with overriding key", body)
	}

	rr = env.owner(t, http.MethodGet, "/api/tools", "")
	var cfgs []storage.ToolConfig
	json.Unmarshal(rr.Body.Bytes(), &cfgs)
	if len(cfgs) != 1 || cfgs[0].TestStatus != storage.TestError || cfgs[0].LastTested == nil {
		t.Errorf("configs = %+v, want recorded failure", cfgs)
	}

	if rr := env.owner(t, http.MethodPost, "/api/tools/calculator/test", ""); rr.Code != http.StatusNotFound {
		t.Errorf("unconfigured tool status = %d, want %d", rr.Code, http.StatusNotFound)
	}
}
