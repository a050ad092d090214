package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/kixx-framework/kixx/pkg/stencil"
	"github.com/natefinch/atomic"
)

// TemplateAPI holds the dependencies for the template API handlers.
type TemplateAPI struct {
	tm     *stencil.Manager
	logger *slog.Logger
}

// NewTemplateAPI creates a new instance of the TemplateAPI.
func NewTemplateAPI(tm *stencil.Manager, logger *slog.Logger) *TemplateAPI {
	return &TemplateAPI{
		tm:     tm,
		logger: logger,
	}
}

// RegisterRoutes sets up the routing for all /api/templates endpoints.
func (t *TemplateAPI) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/templates/refresh", t.handleRefresh)
	mux.HandleFunc("/api/templates/test", t.handleTest)
	mux.HandleFunc("/api/templates/preview", t.handlePreview)
	mux.HandleFunc("/api/templates", t.handleList)
	mux.HandleFunc("/api/templates/", t.handleFile)
}

// handleRefresh triggers a manual recompile of templates from disk.
func (t *TemplateAPI) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if !hasScope(r, "templates:write") {
		respondWithError(w, http.StatusForbidden, "Forbidden: requires 'templates:write' scope")
		return
	}
	if err := t.tm.Refresh(); err != nil {
		t.logger.Error("API triggered refresh failed", "error", err)
		respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Failed to refresh templates: %v", err))
		return
	}
	t.logger.Info("Templates refreshed via API")
	w.WriteHeader(http.StatusNoContent)
}

// handleList returns a list of all compiled page template names.
func (t *TemplateAPI) handleList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if !hasScope(r, "templates:read") {
		respondWithError(w, http.StatusForbidden, "Forbidden: requires 'templates:read' scope")
		return
	}
	respondWithJSON(w, http.StatusOK, t.tm.TemplateNames())
}

// TestTemplateRequest is the JSON body for the template test endpoint. The
// source is compiled and rendered against the given context without ever
// touching disk.
type TestTemplateRequest struct {
	Source  string          `json:"source"`
	Context json.RawMessage `json:"context"`
}

// handleTest compiles and renders template source from the request body,
// reporting syntax and render errors without saving anything.
func (t *TemplateAPI) handleTest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if !hasScope(r, "templates:read") {
		respondWithError(w, http.StatusForbidden, "Forbidden: requires 'templates:read' scope")
		return
	}

	var req TestTemplateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid JSON request body")
		return
	}

	var renderCtx any
	if len(req.Context) > 0 {
		if err := json.Unmarshal(req.Context, &renderCtx); err != nil {
			respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Invalid context document: %v", err))
			return
		}
	}

	var buf bytes.Buffer
	if err := t.tm.RenderString(&buf, req.Source, renderCtx); err != nil {
		respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Template execution failed: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// handlePreview renders a compiled template by name with a caller-supplied
// context from the "context" query parameter.
func (t *TemplateAPI) handlePreview(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if !hasScope(r, "templates:read") {
		respondWithError(w, http.StatusForbidden, "Forbidden: requires 'templates:read' scope")
		return
	}

	name := r.URL.Query().Get("name")
	if name == "" {
		respondWithError(w, http.StatusBadRequest, "Query parameter 'name' is required")
		return
	}
	if !t.tm.HasTemplate(name) {
		respondWithError(w, http.StatusNotFound, fmt.Sprintf("Template '%s' not found", name))
		return
	}

	var renderCtx any
	if ctxStr := r.URL.Query().Get("context"); ctxStr != "" {
		if err := json.Unmarshal([]byte(ctxStr), &renderCtx); err != nil {
			respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Invalid context document: %v", err))
			return
		}
	}

	var buf bytes.Buffer
	if err := t.tm.Render(&buf, name, renderCtx); err != nil {
		respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to render preview: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// handleFile manages CRUD operations for a single template file.
func (t *TemplateAPI) handleFile(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/api/templates/")
	if name == "" || strings.HasSuffix(name, "/") {
		respondWithError(w, http.StatusNotFound, "Not Found")
		return
	}

	if strings.Contains(name, "..") || (!strings.HasSuffix(name, ".tmpl.html") && !strings.HasSuffix(name, ".part.html")) {
		respondWithError(w, http.StatusBadRequest, "Invalid template name format")
		return
	}

	templateDir, err := filepath.Abs(t.tm.TemplateDir())
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to resolve template directory")
		return
	}

	path := filepath.Join(templateDir, name)
	absPath, err := filepath.Abs(path)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid path")
		return
	}

	if !strings.HasPrefix(absPath, templateDir) {
		respondWithError(w, http.StatusForbidden, "Access denied: Path outside template directory")
		return
	}

	switch r.Method {
	case http.MethodGet:
		if !hasScope(r, "templates:read") {
			respondWithError(w, http.StatusForbidden, "Forbidden: requires 'templates:read' scope")
			return
		}
		content, err := os.ReadFile(path)
		if err != nil {
			respondWithError(w, http.StatusNotFound, "Template not found")
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write(content)

	case http.MethodPut:
		if !hasScope(r, "templates:write") {
			respondWithError(w, http.StatusForbidden, "Forbidden: requires 'templates:write' scope")
			return
		}
		if err = atomic.WriteFile(path, r.Body); err != nil {
			respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to write template file: %v", err))
			return
		}
		// A failed refresh keeps the previous compiled set live, but the
		// caller should know their new source does not compile.
		if err = t.tm.Refresh(); err != nil {
			respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Template saved but failed to compile: %v", err))
			return
		}
		w.WriteHeader(http.StatusNoContent)

	case http.MethodDelete:
		if !hasScope(r, "templates:write") {
			respondWithError(w, http.StatusForbidden, "Forbidden: requires 'templates:write' scope")
			return
		}
		if err := os.Remove(path); err != nil {
			if os.IsNotExist(err) {
				respondWithError(w, http.StatusNotFound, "Template not found")
				return
			}
			respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to delete template file: %v", err))
			return
		}
		if err := t.tm.Refresh(); err != nil {
			respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Template deleted but remaining set failed to compile: %v", err))
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		w.Header().Set("Allow", "GET, PUT, DELETE")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}
