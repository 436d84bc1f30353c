package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/stackpilot/internal/storage"
	"github.com/kalambet/stackpilot/internal/tools"
	"github.com/kalambet/stackpilot/internal/validate"
)

// resource describes the CRUD operations of one owner entity type.
type resource[T any] struct {
	name   string
	list   func(ctx context.Context, userID, productID string) ([]T, error)
	create func(ctx context.Context, v T) (T, error)
	get    func(ctx context.Context, userID, id string) (T, error)
	update func(ctx context.Context, v T) (T, error)
	delete func(ctx context.Context, userID, id string) error
	// own stamps the owner and id onto a decoded body.
	own func(v *T, userID, id string)
	// seed, when set, returns the value a create body is decoded over.
	seed func() T
}

// mount registers list, create, get, update and delete under path.
func (res resource[T]) mount(r chi.Router, path string) {
	r.Get(path, res.handleList)
	r.Post(path, res.handleCreate)
	r.Get(path+"/{id}", res.handleGet)
	r.Put(path+"/{id}", res.handleUpdate)
	r.Delete(path+"/{id}", res.handleDelete)
}

func (res resource[T]) handleList(w http.ResponseWriter, r *http.Request) {
	items, err := res.list(r.Context(), userID(r), r.URL.Query().Get("productId"))
	if err != nil {
		storeError(w, err, res.name)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(items))
}

func (res resource[T]) handleCreate(w http.ResponseWriter, r *http.Request) {
	var v T
	if res.seed != nil {
		v = res.seed()
	}
	if err := decodeJSON(w, r, &v); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return
	}
	res.own(&v, userID(r), "")
	if err := validate.Struct(v); err != nil {
		storeError(w, err, res.name)
		return
	}
	created, err := res.create(r.Context(), v)
	if err != nil {
		storeError(w, err, res.name)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (res resource[T]) handleGet(w http.ResponseWriter, r *http.Request) {
	v, err := res.get(r.Context(), userID(r), chi.URLParam(r, "id"))
	if err != nil {
		storeError(w, err, res.name)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// handleUpdate decodes the body over the stored record, so omitted fields
// keep their values.
func (res resource[T]) handleUpdate(w http.ResponseWriter, r *http.Request) {
	user, id := userID(r), chi.URLParam(r, "id")
	v, err := res.get(r.Context(), user, id)
	if err != nil {
		storeError(w, err, res.name)
		return
	}
	if err := decodeJSON(w, r, &v); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return
	}
	res.own(&v, user, id)
	if err := validate.Struct(v); err != nil {
		storeError(w, err, res.name)
		return
	}
	updated, err := res.update(r.Context(), v)
	if err != nil {
		storeError(w, err, res.name)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (res resource[T]) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := res.delete(r.Context(), userID(r), chi.URLParam(r, "id")); err != nil {
		storeError(w, err, res.name)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// ownerRoutes registers the session-authenticated owner API.
func ownerRoutes(r chi.Router, d Deps) {
	s := d.Store

	resource[storage.Product]{
		name: "product",
		list: func(ctx context.Context, userID, _ string) ([]storage.Product, error) {
			return s.ListProducts(ctx, userID)
		},
		create: s.CreateProduct, get: s.GetProduct, update: s.UpdateProduct, delete: s.DeleteProduct,
		own: func(v *storage.Product, u, id string) { v.UserID, v.ID = u, id },
	}.mount(r, "/api/products")

	resource[storage.TechStack]{
		name: "techstack",
		list: s.ListTechStacks, create: s.CreateTechStack, get: s.GetTechStack,
		update: s.UpdateTechStack, delete: s.DeleteTechStack,
		own: func(v *storage.TechStack, u, id string) { v.UserID, v.ID = u, id },
	}.mount(r, "/api/techstacks")

	resource[storage.Note]{
		name: "note",
		list: s.ListNotes, create: s.CreateNote, get: s.GetNote,
		update: s.UpdateNote, delete: s.DeleteNote,
		own: func(v *storage.Note, u, id string) { v.UserID, v.ID = u, id },
	}.mount(r, "/api/notes")

	resource[storage.Question]{
		name: "question",
		list: s.ListQuestions, create: s.CreateQuestion, get: s.GetQuestion,
		update: s.UpdateQuestion, delete: s.DeleteQuestion,
		own: func(v *storage.Question, u, id string) { v.UserID, v.ID = u, id },
	}.mount(r, "/api/questions")

	resource[storage.Agent]{
		name: "agent",
		list: s.ListAgents, create: s.CreateAgent, get: s.GetAgent,
		update: s.UpdateAgent, delete: s.DeleteAgent,
		own:  func(v *storage.Agent, u, id string) { v.UserID, v.ID = u, id },
		seed: func() storage.Agent { return storage.Agent{Configuration: storage.DefaultAgentConfiguration()} },
	}.mount(r, "/api/agents")
	r.Post("/api/agents/{id}/chat", handleOwnerChat(d))
	r.Post("/api/agents/{id}/a2a/authorize", handleA2AAuthorize(d))

	resource[storage.Collection]{
		name: "collection",
		list: s.ListCollections, create: s.CreateCollection, get: s.GetCollection,
		update: s.UpdateCollection, delete: s.DeleteCollection,
		own: func(v *storage.Collection, u, id string) { v.UserID, v.ID = u, id },
	}.mount(r, "/api/collections")
	r.Post("/api/collections/{id}/documents", handleUploadDocument(d))
	r.Get("/api/collections/{id}/documents", handleListDocuments(d))
	r.Get("/api/collections/{id}/search", handleSearchCollection(d))
	r.Get("/api/collections/{id}/endpoints", handleListEndpoints(d))
	r.Post("/api/collections/{id}/endpoints", handleCreateEndpoint(d))
	r.Delete("/api/documents/{id}", handleDeleteDocument(d))
	r.Put("/api/endpoints/{id}", handleUpdateEndpoint(d))
	r.Delete("/api/endpoints/{id}", handleDeleteEndpoint(d))

	r.Get("/api/tools/catalog", handleToolCatalog)
	r.Get("/api/tools", handleListToolConfigs(d))
	r.Put("/api/tools/{toolId}", handleUpsertToolConfig(d))
	r.Delete("/api/tools/{toolId}", handleDeleteToolConfig(d))
	r.Post("/api/tools/{toolId}/test", handleTestTool(d))
}

func handleToolCatalog(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, tools.Catalog())
}

func handleListToolConfigs(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cfgs, err := d.Store.ListToolConfigs(r.Context(), userID(r))
		if err != nil {
			storeError(w, err, "tool configs")
			return
		}
		writeJSON(w, http.StatusOK, nonNil(cfgs))
	}
}

func handleUpsertToolConfig(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		toolID := chi.URLParam(r, "toolId")
		def, ok := tools.Lookup(toolID)
		if !ok {
			httpError(w, http.StatusNotFound, "not_found", "unknown tool %q", toolID)
			return
		}
		var c storage.ToolConfig
		if err := decodeJSON(w, r, &c); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		c.UserID, c.ToolID = userID(r), def.ID
		if c.IsEnabled && def.RequiresAPIKey && c.APIKey == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%s requires an API key", def.Name)
			return
		}
		if err := validate.Struct(c); err != nil {
			storeError(w, err, "tool config")
			return
		}
		saved, err := d.Store.UpsertToolConfig(r.Context(), c)
		if err != nil {
			storeError(w, err, "tool config")
			return
		}
		writeJSON(w, http.StatusOK, saved)
	}
}

func handleDeleteToolConfig(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := d.Store.DeleteToolConfig(r.Context(), userID(r), chi.URLParam(r, "toolId")); err != nil {
			storeError(w, err, "tool config")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

// handleTestTool probes a configured tool and records the outcome. An API key
// in the body overrides the stored one.
func handleTestTool(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, toolID := userID(r), chi.URLParam(r, "toolId")
		c, err := d.Store.GetToolConfig(r.Context(), user, toolID)
		if err != nil {
			storeError(w, err, "tool config")
			return
		}
		var body struct {
			APIKey string            `json:"apiKey"`
			Config map[string]string `json:"config"`
		}
		if r.ContentLength != 0 {
			if err := decodeJSON(w, r, &body); err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
				return
			}
		}
		apiKey, cfg := c.APIKey, c.Config
		if body.APIKey != "" {
			apiKey = body.APIKey
		}
		if body.Config != nil {
			cfg = body.Config
		}

		res := tools.Test(r.Context(), toolID, apiKey, cfg, d.Tools)
		status := storage.TestError
		if res.Success {
			status = storage.TestSuccess
		}
		if err := d.Store.UpdateToolTestResult(r.Context(), user, toolID, status, res.Message, res.Timestamp); err != nil {
			storeError(w, err, "tool config")
			return
		}
		d.Metrics.ToolCall(toolID, "test_"+outcomeLabel(res.Success))
		writeJSON(w, http.StatusOK, map[string]any{
			"success":   res.Success,
			"message":   res.Message,
			"timestamp": res.Timestamp.Format(time.RFC3339),
		})
	}
}
