package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/kixx-framework/kixx/pkg/resource"
)

// ResourceAPI holds the dependencies for the resource store API handlers.
type ResourceAPI struct {
	store  *resource.Store
	logger *slog.Logger
}

// NewResourceAPI creates a new instance of the ResourceAPI.
func NewResourceAPI(store *resource.Store, logger *slog.Logger) *ResourceAPI {
	return &ResourceAPI{
		store:  store,
		logger: logger,
	}
}

// RegisterRoutes sets up the routing for all /api/resources endpoints.
func (a *ResourceAPI) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/resources", a.handleCollections)
	mux.HandleFunc("/api/resources/", a.handleResource)
}

// handleCollections returns the distinct collection names in the store.
func (a *ResourceAPI) handleCollections(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if !hasScope(r, "resources:read") {
		respondWithError(w, http.StatusForbidden, "Forbidden: requires 'resources:read' scope")
		return
	}

	names, err := a.store.Collections(r.Context())
	if err != nil {
		a.logger.Error("Failed to list collections", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Database query failed")
		return
	}
	if names == nil {
		names = []string{}
	}
	respondWithJSON(w, http.StatusOK, names)
}

// handleResource dispatches /api/resources/{collection} and
// /api/resources/{collection}/{id} requests.
func (a *ResourceAPI) handleResource(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/resources/"), "/")
	if path == "" {
		respondWithError(w, http.StatusNotFound, "Not Found")
		return
	}

	collection, id, hasID := strings.Cut(path, "/")
	if collection == "" || strings.Contains(id, "/") {
		respondWithError(w, http.StatusBadRequest, "Invalid resource path")
		return
	}

	if !hasID {
		a.handleCollection(w, r, collection)
		return
	}

	switch r.Method {
	case http.MethodGet:
		a.getRecord(w, r, collection, id)
	case http.MethodPut:
		a.putRecord(w, r, collection, id)
	case http.MethodDelete:
		a.deleteRecord(w, r, collection, id)
	default:
		w.Header().Set("Allow", "GET, PUT, DELETE")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// handleCollection lists all records in a collection.
func (a *ResourceAPI) handleCollection(w http.ResponseWriter, r *http.Request, collection string) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if !hasScope(r, "resources:read") {
		respondWithError(w, http.StatusForbidden, "Forbidden: requires 'resources:read' scope")
		return
	}

	records, err := a.store.List(r.Context(), collection)
	if err != nil {
		a.logger.Error("Failed to list collection", "collection", collection, "error", err)
		respondWithError(w, http.StatusInternalServerError, "Database query failed")
		return
	}
	if records == nil {
		records = []resource.Record{}
	}
	respondWithJSON(w, http.StatusOK, records)
}

func (a *ResourceAPI) getRecord(w http.ResponseWriter, r *http.Request, collection, id string) {
	if !hasScope(r, "resources:read") {
		respondWithError(w, http.StatusForbidden, "Forbidden: requires 'resources:read' scope")
		return
	}

	rec, err := a.store.Get(r.Context(), collection, id)
	if err != nil {
		if errors.Is(err, resource.ErrNotFound) {
			respondWithError(w, http.StatusNotFound, "Record not found")
			return
		}
		a.logger.Error("Failed to load record", "collection", collection, "id", id, "error", err)
		respondWithError(w, http.StatusInternalServerError, "Database query failed")
		return
	}
	respondWithJSON(w, http.StatusOK, rec)
}

func (a *ResourceAPI) putRecord(w http.ResponseWriter, r *http.Request, collection, id string) {
	if !hasScope(r, "resources:write") {
		respondWithError(w, http.StatusForbidden, "Forbidden: requires 'resources:write' scope")
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to read request body: %v", err))
		return
	}

	if err = a.store.Put(r.Context(), collection, id, json.RawMessage(body)); err != nil {
		if errors.Is(err, resource.ErrInvalidData) {
			respondWithError(w, http.StatusBadRequest, "Request body must be a valid JSON document")
			return
		}
		a.logger.Error("Failed to store record", "collection", collection, "id", id, "error", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to save record")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *ResourceAPI) deleteRecord(w http.ResponseWriter, r *http.Request, collection, id string) {
	if !hasScope(r, "resources:write") {
		respondWithError(w, http.StatusForbidden, "Forbidden: requires 'resources:write' scope")
		return
	}

	if err := a.store.Delete(r.Context(), collection, id); err != nil {
		if errors.Is(err, resource.ErrNotFound) {
			respondWithError(w, http.StatusNotFound, "Record not found")
			return
		}
		a.logger.Error("Failed to delete record", "collection", collection, "id", id, "error", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to delete record")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
