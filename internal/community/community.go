// Package community is the catalog of optional third-party tools that
// can be switched on by name under community_tools in the config.
//
// Each catalog entry has a factory that receives the entry's init_args.
// Entries whose required environment variables are missing, whose name
// is unknown or whose factory fails are logged and skipped.
package community

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sort"
	"time"

	"github.com/nugget/butler/internal/buildinfo"
	"github.com/nugget/butler/internal/config"
	"github.com/nugget/butler/internal/httpkit"
	"github.com/nugget/butler/internal/tools"
)

// Source is the category name of community tools.
const Source = "community"

// Factory builds a tool from its init_args.
type Factory func(args Args) (tools.Impl, error)

// Entry describes one catalog tool.
type Entry struct {
	Description string
	Parameters  map[string]any
	New         Factory
}

// Catalog maps community tool names to their entries.
type Catalog map[string]Entry

// New returns the built-in catalog. Tools that call remote services use
// httpClient; nil selects a default client.
func New(httpClient *http.Client) Catalog {
	if httpClient == nil {
		httpClient = httpkit.NewClient(
			httpkit.WithTimeout(30*time.Second),
			httpkit.WithUserAgent(buildinfo.UserAgent()),
		)
	}
	return Catalog{
		"duckduckgo":    duckDuckGoEntry(httpClient),
		"wikipedia":     wikipediaEntry(httpClient),
		"lc_calculator": calculatorEntry(),
		"github_issues": githubIssuesEntry(httpClient),
		"qr_code":       qrCodeEntry(),
	}
}

// Names returns the catalog's tool names alphabetically.
func (c Catalog) Names() []string {
	names := make([]string, 0, len(c))
	for n := range c {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Load instantiates the configured tools in config order.
func (c Catalog) Load(entries []config.CommunityTool, logger *slog.Logger) *tools.Set {
	if logger == nil {
		logger = slog.Default()
	}
	set := tools.NewSet(Source)
	for _, e := range entries {
		if !e.IsEnabled() {
			continue
		}
		log := logger.With("tool", e.Name)

		entry, ok := c[e.Name]
		if !ok {
			log.Warn("unknown community tool, skipping", "known", c.Names())
			continue
		}
		if missing := missingEnv(e.RequiredEnvVars); len(missing) > 0 {
			log.Warn("community tool missing required environment, skipping", "missing", missing)
			continue
		}

		name, desc, params := e.Name, entry.Description, entry.Parameters
		var initArgs map[string]any
		if o := e.Override; o != nil {
			if o.Name != "" {
				name = o.Name
			}
			if o.Description != "" {
				desc = o.Description
			}
			initArgs = o.InitArgs
		}

		impl, err := entry.New(Args(initArgs))
		if err != nil {
			log.Warn("community tool failed to initialize, skipping", "error", err)
			continue
		}
		set.Add(name, desc, params, impl)
		log.Debug("community tool loaded", "name", name, "kind", impl.Kind())
	}
	return set
}

func missingEnv(names []string) []string {
	var missing []string
	for _, n := range names {
		if os.Getenv(n) == "" {
			missing = append(missing, n)
		}
	}
	return missing
}

// Args are a tool's init_args as decoded from YAML.
type Args map[string]any

// String returns a string argument or def.
func (a Args) String(key, def string) string {
	if s, ok := a[key].(string); ok && s != "" {
		return s
	}
	return def
}

// Int returns an integer argument or def. YAML integers decode as int,
// JSON-style numbers as float64.
func (a Args) Int(key string, def int) (int, error) {
	switch v := a[key].(type) {
	case nil:
		return def, nil
	case int:
		return v, nil
	case float64:
		return int(v), nil
	default:
		return 0, fmt.Errorf("init arg %q: want a number, got %T", key, v)
	}
}

func queryParams(field, description string) map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			field: map[string]any{"type": "string", "description": description},
		},
		"required": []any{field},
	}
}
