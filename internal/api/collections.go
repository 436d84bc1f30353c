package api

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kalambet/stackpilot/internal/ingest"
	"github.com/kalambet/stackpilot/internal/ratelimit"
	"github.com/kalambet/stackpilot/internal/retrieval"
	"github.com/kalambet/stackpilot/internal/storage"
	"github.com/kalambet/stackpilot/internal/validate"
)

const (
	defaultEndpointLimit = 10
	maxEndpointLimit     = 100
)

// handleEndpointSearch serves a published collection search endpoint.
func handleEndpointSearch(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		e, err := d.Store.GetEndpointPublic(r.Context(), chi.URLParam(r, "endpointId"))
		if errors.Is(err, storage.ErrNotFound) {
			jsonError(w, http.StatusNotFound, "Endpoint not found")
			return
		}
		if err != nil {
			slog.Error("looking up endpoint", "error", err)
			jsonError(w, http.StatusInternalServerError, "Internal server error")
			return
		}
		if !e.IsEnabled {
			jsonError(w, http.StatusForbidden, "Endpoint is disabled")
			return
		}

		switch e.AuthType {
		case "api_key":
			key := r.Header.Get("x-api-key")
			if key == "" || !keysEqual(key, e.AuthCredentials.APIKey) {
				jsonError(w, http.StatusUnauthorized, "Invalid API key")
				return
			}
		case "bearer":
			token, ok := bearerToken(r)
			if !ok || !keysEqual(token, e.AuthCredentials.Token) {
				jsonError(w, http.StatusUnauthorized, "Invalid bearer token")
				return
			}
		}

		if !d.Limiter.Allow(w, r, ratelimit.EndpointKey(e.ID), e.AccessControl.RateLimitPerMinute) {
			jsonError(w, http.StatusTooManyRequests, "Rate limit exceeded")
			return
		}

		var body map[string]any
		if err := decodeJSON(w, r, &body); err != nil {
			jsonError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		query, ok := body["query"].(string)
		if !ok || query == "" {
			jsonError(w, http.StatusBadRequest, "Query is required and must be a string")
			return
		}
		limit := defaultEndpointLimit
		if raw, present := body["limit"]; present {
			n, ok := raw.(float64)
			if !ok || n < 1 || n > maxEndpointLimit || n != float64(int(n)) {
				jsonError(w, http.StatusBadRequest, "Limit must be a number between 1 and 100")
				return
			}
			limit = int(n)
		}

		page, err := d.Searcher.SearchCollection(r.Context(), e.UserID, e.CollectionID, query, 1, limit)
		if err != nil {
			slog.Error("endpoint search failed", "endpoint", e.ID, "error", err)
			jsonError(w, http.StatusInternalServerError, "Search failed")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success":      true,
			"results":      nonNil(page.Results),
			"page":         page.Page,
			"totalPages":   page.TotalPages,
			"totalResults": page.TotalResults,
		})
	}
}

func handleUploadDocument(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := userID(r)
		col, err := d.Store.GetCollection(r.Context(), user, chi.URLParam(r, "id"))
		if err != nil {
			storeError(w, err, "collection")
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxUploadBodySize)
		if err := r.ParseMultipartForm(maxUploadBodySize); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid multipart body: %v", err)
			return
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "file is required")
			return
		}
		defer file.Close()
		data, err := io.ReadAll(file)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "failed to read file: %v", err)
			return
		}

		doc := storage.Document{
			ID:           uuid.NewString(),
			UserID:       user,
			CollectionID: col.ID,
			ProductID:    col.ProductID,
			Title:        r.FormValue("title"),
			Description:  r.FormValue("description"),
			Status:       storage.StatusUploaded,
		}
		if doc.Title == "" {
			doc.Title = header.Filename
		}
		if v := r.FormValue("chunkSize"); v != "" {
			doc.ChunkSize, _ = strconv.Atoi(v)
		}
		if v := r.FormValue("overlap"); v != "" {
			doc.Overlap, _ = strconv.Atoi(v)
		}
		if err := validate.Struct(doc); err != nil {
			storeError(w, err, "document")
			return
		}

		path, err := d.Files.Save(user, col.ID, doc.ID, header.Filename, data)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to store file: %v", err)
			return
		}
		doc.FilePath = path
		doc.URL = "/api/documents/" + doc.ID

		doc, err = d.Store.CreateDocument(r.Context(), doc)
		if err != nil {
			_ = d.Files.RemoveDocument(user, col.ID, doc.ID)
			storeError(w, err, "document")
			return
		}
		if err := d.Store.SetCollectionStatus(r.Context(), user, col.ID, storage.StatusUploading); err != nil {
			slog.Warn("updating collection status", "collection", col.ID, "error", err)
		}
		if err := ingest.Enqueue(r.Context(), d.Store, doc); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to enqueue indexing: %v", err)
			return
		}
		writeJSON(w, http.StatusCreated, doc)
	}
}

func handleListDocuments(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := userID(r)
		col, err := d.Store.GetCollection(r.Context(), user, chi.URLParam(r, "id"))
		if err != nil {
			storeError(w, err, "collection")
			return
		}
		docs, err := d.Store.ListDocuments(r.Context(), user, col.ID)
		if err != nil {
			storeError(w, err, "documents")
			return
		}
		writeJSON(w, http.StatusOK, nonNil(docs))
	}
}

func handleDeleteDocument(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := userID(r)
		doc, err := d.Store.GetDocument(r.Context(), user, chi.URLParam(r, "id"))
		if err != nil {
			storeError(w, err, "document")
			return
		}
		if err := d.Store.DeleteDocument(r.Context(), user, doc.ID); err != nil {
			storeError(w, err, "document")
			return
		}
		if err := d.Files.RemoveDocument(user, doc.CollectionID, doc.ID); err != nil {
			slog.Warn("removing document files", "document", doc.ID, "error", err)
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

func handleSearchCollection(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		page, err := d.Searcher.SearchCollection(r.Context(), userID(r), chi.URLParam(r, "id"),
			r.URL.Query().Get("q"), parseIntParam(r, "page", 1, 0), parseIntParam(r, "pageSize", 10, 100))
		if errors.Is(err, retrieval.ErrEmptyQuery) || errors.Is(err, retrieval.ErrEmptyCollection) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "search failed: %v", err)
			return
		}
		page.Results = nonNil(page.Results)
		writeJSON(w, http.StatusOK, page)
	}
}

func handleListEndpoints(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		eps, err := d.Store.ListEndpoints(r.Context(), userID(r), chi.URLParam(r, "id"))
		if err != nil {
			storeError(w, err, "endpoints")
			return
		}
		writeJSON(w, http.StatusOK, nonNil(eps))
	}
}

func handleCreateEndpoint(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := userID(r)
		col, err := d.Store.GetCollection(r.Context(), user, chi.URLParam(r, "id"))
		if err != nil {
			storeError(w, err, "collection")
			return
		}
		var e storage.CollectionEndpoint
		if err := decodeJSON(w, r, &e); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		e.ID, e.UserID, e.CollectionID = "", user, col.ID
		if e.AuthType == "" {
			e.AuthType = "api_key"
		}
		if e.AuthType == "api_key" && e.AuthCredentials.APIKey == "" {
			e.AuthCredentials.APIKey = "sk_" + uuid.NewString()
		}
		if err := validate.Struct(e); err != nil {
			storeError(w, err, "endpoint")
			return
		}
		e, err = d.Store.CreateEndpoint(r.Context(), e)
		if err != nil {
			storeError(w, err, "endpoint")
			return
		}
		writeJSON(w, http.StatusCreated, e)
	}
}

func handleUpdateEndpoint(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := userID(r)
		e, err := d.Store.GetEndpoint(r.Context(), user, chi.URLParam(r, "id"))
		if err != nil {
			storeError(w, err, "endpoint")
			return
		}
		id, collectionID := e.ID, e.CollectionID
		if err := decodeJSON(w, r, &e); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		e.ID, e.UserID, e.CollectionID = id, user, collectionID
		if err := validate.Struct(e); err != nil {
			storeError(w, err, "endpoint")
			return
		}
		e, err = d.Store.UpdateEndpoint(r.Context(), e)
		if err != nil {
			storeError(w, err, "endpoint")
			return
		}
		writeJSON(w, http.StatusOK, e)
	}
}

func handleDeleteEndpoint(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := d.Store.DeleteEndpoint(r.Context(), userID(r), chi.URLParam(r, "id")); err != nil {
			storeError(w, err, "endpoint")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}
