package stencil

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

const (
	pageSuffix    = ".tmpl.html"
	partialSuffix = ".part.html"
)

// Manager is the central controller for a file-backed template set. It
// loads partials and page templates from a directory, compiles them with a
// shared helper map, and serves renders in a concurrent-safe manner. All
// methods are concurrent-safe.
type Manager struct {
	logger      *slog.Logger
	config      Config
	helpers     HelperMap
	templates   map[string]*Template
	partials    PartialMap
	templateDir string
	mu          sync.RWMutex
}

// NewManager creates, initializes, and returns a new Manager. The helpers
// map extends (and may override) the built-in helper set for every
// template the manager compiles; it may be nil. An initial Refresh loads
// all templates from templateDir.
func NewManager(logger *slog.Logger, config Config, helpers HelperMap, templateDir string) (*Manager, error) {
	m := &Manager{
		logger:      logger,
		config:      config,
		helpers:     helpers,
		templateDir: templateDir,
	}

	if err := m.Refresh(); err != nil {
		return nil, err
	}

	logger.Info("Template manager initialized", "dir", templateDir)
	return m, nil
}

// SetConfig applies a new configuration. Limits take effect on the next
// Refresh or RenderString call.
func (m *Manager) SetConfig(config Config) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.config = config
}

// Refresh reloads and recompiles all templates from the filesystem,
// allowing template updates without restarting the application. Partials
// (*.part.html) are compiled to a fixed point so they may reference each
// other; pages (*.tmpl.html) are then compiled against the full partial
// map. On any compile failure the previously loaded set stays active.
func (m *Manager) Refresh() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.logger.Info("Loading template files...", "dir", m.templateDir)

	entries, err := os.ReadDir(m.templateDir)
	if err != nil {
		if os.IsNotExist(err) {
			m.logger.Warn("Template directory does not exist, loading empty set", "dir", m.templateDir)
			m.templates = map[string]*Template{}
			m.partials = PartialMap{}
			return nil
		}
		return fmt.Errorf("failed to read template directory: %w", err)
	}

	partialSources := map[string]string{}
	pageSources := map[string]string{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		var into map[string]string
		var key string
		switch {
		case strings.HasSuffix(name, partialSuffix):
			into, key = partialSources, strings.TrimSuffix(name, partialSuffix)
		case strings.HasSuffix(name, pageSuffix):
			into, key = pageSources, name
		default:
			continue
		}
		data, err := os.ReadFile(filepath.Join(m.templateDir, name))
		if err != nil {
			return fmt.Errorf("failed to read template file %s: %w", name, err)
		}
		into[key] = string(data)
	}

	partials, err := m.compilePartials(partialSources)
	if err != nil {
		return err
	}

	templates := make(map[string]*Template, len(pageSources))
	for name, source := range pageSources {
		t, err := Compile(name, source, m.helpers, partials, WithMaxRenderDepth(m.config.MaxRenderDepth))
		if err != nil {
			return fmt.Errorf("failed to compile template %s: %w", name, err)
		}
		templates[name] = t
	}

	if len(templates) == 0 {
		m.logger.Warn("No template files found", "dir", m.templateDir)
	}

	m.templates = templates
	m.partials = partials
	m.logger.Info("Loaded template and partial files",
		"templates", len(templates), "partials", len(partials))
	return nil
}

// compilePartials compiles partial sources to a fixed point, so a partial
// may reference any other partial regardless of load order. Partials left
// uncompiled once no round makes progress are either cyclic or reference a
// missing name; both are load-time errors.
func (m *Manager) compilePartials(sources map[string]string) (PartialMap, error) {
	compiled := make(PartialMap, len(sources))
	var lastErr error

	for len(compiled) < len(sources) {
		progress := false
		for name, source := range sources {
			if _, done := compiled[name]; done {
				continue
			}
			t, err := Compile(name, source, m.helpers, compiled, WithMaxRenderDepth(m.config.MaxRenderDepth))
			if err != nil {
				var unknown *UnknownPartialError
				if errors.As(err, &unknown) {
					// May become compilable once its dependency lands.
					lastErr = err
					continue
				}
				return nil, fmt.Errorf("failed to compile partial %s: %w", name, err)
			}
			compiled[name] = t
			progress = true
		}
		if !progress {
			return nil, fmt.Errorf("unresolvable partial reference (missing or cyclic): %w", lastErr)
		}
	}

	return compiled, nil
}

// Render executes a loaded page template by name, writing the output to w.
func (m *Manager) Render(w io.Writer, name string, ctx any) error {
	m.mu.RLock()
	t, ok := m.templates[name]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("template %q is not loaded", name)
	}

	out, err := t.Render(ctx)
	if err != nil {
		return err
	}
	_, err = io.WriteString(w, out)
	return err
}

// RenderString compiles and executes a raw template source against the
// manager's helpers and currently loaded partials. This is ideal for
// testing or previewing templates without saving them to disk.
func (m *Manager) RenderString(w io.Writer, source string, ctx any) error {
	m.mu.RLock()
	partials := m.partials
	config := m.config
	m.mu.RUnlock()

	if config.MaxSourceSize > 0 && len(source) > config.MaxSourceSize {
		return fmt.Errorf("template source exceeds %d bytes", config.MaxSourceSize)
	}

	t, err := Compile("(string)", source, m.helpers, partials, WithMaxRenderDepth(config.MaxRenderDepth))
	if err != nil {
		return err
	}
	out, err := t.Render(ctx)
	if err != nil {
		return err
	}
	_, err = io.WriteString(w, out)
	return err
}

// HasTemplate reports whether a page template with the given name is
// loaded.
func (m *Manager) HasTemplate(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.templates[name]
	return ok
}

// TemplateNames returns the sorted names of all loaded page templates and
// partials.
func (m *Manager) TemplateNames() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.templates)+len(m.partials))
	for name := range m.templates {
		names = append(names, name)
	}
	for name := range m.partials {
		names = append(names, name+partialSuffix)
	}
	sort.Strings(names)
	return names
}

// GetConfig returns a copy of the current configuration.
// This mainly exists for concurrency-safety reasons.
func (m *Manager) GetConfig() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// TemplateDir returns the directory the Manager loads templates from.
func (m *Manager) TemplateDir() string {
	return m.templateDir
}
