package main

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/kixx-framework/kixx/pkg/resource"
	"github.com/kixx-framework/kixx/pkg/stencil"
)

// pagesCollection is the resource collection the site handler reads page
// contexts from.
const pagesCollection = "pages"

// Server wires the template manager, resource store, and API handlers onto
// the two HTTP muxes (public site and admin API).
type Server struct {
	cm          *ConfigManager
	db          *sql.DB
	logger      *slog.Logger
	store       *resource.Store
	tm          *stencil.Manager
	authAPI     *AuthAPI
	templateAPI *TemplateAPI
	resourceAPI *ResourceAPI
	serverAPI   *ServerAPI
	siteMux     *http.ServeMux
	apiMux      *http.ServeMux
}

func NewServer(cm *ConfigManager, logger *slog.Logger, db *sql.DB, actionChan chan string) (*Server, error) {
	config := cm.Get()

	store, err := resource.NewStore(db, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource store: %w", err)
	}

	templateDir := filepath.Join(config.Server.DataDir, "templates")
	tm, err := stencil.NewManager(logger, *config.Templates, storeHelpers(store, logger), templateDir)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to create template manager: %w", err)
	}
	cm.SetTemplateManager(tm)

	// api initialization
	authAPI := NewAuthAPI(db, logger)
	templateAPI := NewTemplateAPI(tm, logger)
	resourceAPI := NewResourceAPI(store, logger)
	serverAPI := NewServerAPI(cm, actionChan, logger)

	server := &Server{
		cm:          cm,
		db:          db,
		logger:      logger,
		store:       store,
		tm:          tm,
		authAPI:     authAPI,
		templateAPI: templateAPI,
		resourceAPI: resourceAPI,
		serverAPI:   serverAPI,
		siteMux:     http.NewServeMux(),
		apiMux:      http.NewServeMux(),
	}

	apiMux := http.NewServeMux()

	server.authAPI.RegisterRoutes(apiMux)
	server.templateAPI.RegisterRoutes(apiMux)
	server.resourceAPI.RegisterRoutes(apiMux)
	server.serverAPI.RegisterRoutes(apiMux)

	// Make sure api functions must pass through authentication first
	authedAPI := server.authAPI.Authenticate(apiMux)
	// ... except for the health check, which is unauthed so something like docker can use it
	server.apiMux.HandleFunc("/api/health", server.serverAPI.handleHealthCheck)
	server.apiMux.Handle("/api/", authedAPI)

	server.siteMux.HandleFunc("/favicon.ico", handleFavicon)
	server.siteMux.HandleFunc("/", server.handlePage)

	return server, nil
}

// storeHelpers builds the custom helper set that exposes the resource
// store to templates. The collection block helper renders its primary
// section once per record of a named collection, or the inverse section
// when the collection is empty.
func storeHelpers(store *resource.Store, logger *slog.Logger) stencil.HelperMap {
	return stencil.HelperMap{
		"collection": func(ctx any, opts *stencil.Options, args ...any) (string, error) {
			if len(args) == 0 {
				return "", errors.New("collection helper requires a collection name")
			}
			name := fmt.Sprint(args[0])

			records, err := store.List(context.Background(), name)
			if err != nil {
				return "", err
			}
			if len(records) == 0 {
				return opts.RenderInverse(ctx)
			}

			var out strings.Builder
			for _, rec := range records {
				doc, err := rec.Decode()
				if err != nil {
					logger.Warn("Skipping undecodable record", "collection", name, "id", rec.ID, "error", err)
					continue
				}
				doc["id"] = rec.ID
				part, err := opts.RenderPrimary(doc)
				if err != nil {
					return "", err
				}
				out.WriteString(part)
			}
			return out.String(), nil
		},
	}
}

// handlePage renders the page template for the requested slug, using the
// matching record from the pages collection as the render context.
func (s *Server) handlePage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	config := s.cm.Get()
	slug := strings.Trim(r.URL.Path, "/")
	if slug == "" {
		slug = config.Server.DefaultPage
	}
	if strings.Contains(slug, "..") {
		http.NotFound(w, r)
		return
	}

	pageCtx := map[string]any{}
	rec, err := s.store.Get(r.Context(), pagesCollection, slug)
	switch {
	case err == nil:
		if pageCtx, err = rec.Decode(); err != nil {
			s.logger.Error("Failed to decode page record", "slug", slug, "error", err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
	case errors.Is(err, resource.ErrNotFound):
		// A template without a backing record renders with an empty context.
	default:
		s.logger.Error("Failed to load page record", "slug", slug, "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	templateName := slug + ".tmpl.html"
	if custom, ok := pageCtx["template"].(string); ok && custom != "" {
		templateName = custom
	}
	if !s.tm.HasTemplate(templateName) {
		http.NotFound(w, r)
		return
	}

	s.logger.Info("Serving page",
		"slug", slug,
		"template", templateName,
		"remote_addr", s.clientIP(r))

	var buf bytes.Buffer
	if err = s.tm.Render(&buf, templateName, pageCtx); err != nil {
		s.logger.Error("Failed to render page", "template", templateName, "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = buf.WriteTo(w)
}

// clientIP resolves the originating client address. Forwarding headers are
// only honored when the direct peer is a configured trusted proxy.
func (s *Server) clientIP(r *http.Request) string {
	peer, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		// No port to split off (e.g. a unix socket peer).
		peer = r.RemoteAddr
	}

	if !s.cm.IsTrusted(peer) {
		return peer
	}

	// The X-Real-Ip header contains the forwarded IP in some cases (like from nginx)
	realIP := r.Header.Get("X-Real-Ip")
	if realIP != "" {
		return realIP
	}

	// The X-Forwarded-For header can contain a comma-separated list of IPs.
	// The first IP in the list is the original client IP.
	forwardedFor := r.Header.Get("X-Forwarded-For")
	if forwardedFor != "" {
		ips := strings.Split(forwardedFor, ",")
		return strings.TrimSpace(ips[0])
	}

	return peer
}

// handleFavicon returns no content so favicon requests don't fall through
// to the page handler.
func handleFavicon(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}
