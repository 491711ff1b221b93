// Package search provides a pluggable web search interface for the agent.
//
// Each search provider implements the [Provider] interface and is
// registered by name. The [Manager] tries providers in the configured
// order and returns the first successful answer; the web_search tool
// in this package is built on it.
package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/nugget/butler/internal/config"
)

// ErrRateLimited marks a provider refusing a query because of request
// volume. Its text contains "Ratelimit" so wrapped errors stay
// recognizable after being flattened to a string.
var ErrRateLimited = errors.New("search provider rate limited (Ratelimit)")

// ErrNotConfigured is returned when no provider is registered.
var ErrNotConfigured = errors.New("no search provider configured")

// Result is a single search result.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet,omitempty"`
}

// Options are optional parameters for a search query.
type Options struct {
	// Count is the maximum number of results to return.
	// Providers may return fewer. Zero means provider default.
	Count int `json:"count,omitempty"`

	// Language is an ISO 639-1 language code (e.g., "en", "de").
	Language string `json:"language,omitempty"`
}

// Provider is the interface that search backends implement.
type Provider interface {
	// Name returns the provider identifier (e.g., "searxng", "duckduckgo").
	Name() string

	// Search executes a query and returns results.
	Search(ctx context.Context, query string, opts Options) ([]Result, error)
}

// Manager holds configured providers and routes searches.
type Manager struct {
	providers map[string]Provider
	order     []string
	logger    *slog.Logger
}

// NewManager creates a search manager. Providers are tried in the given
// order; names never registered are skipped.
func NewManager(logger *slog.Logger, order ...string) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		providers: make(map[string]Provider),
		order:     order,
		logger:    logger,
	}
}

// New builds a manager from configuration, registering every provider
// that has enough settings to run.
func New(cfg config.SearchConfig, logger *slog.Logger) *Manager {
	m := NewManager(logger, cfg.Order...)
	if cfg.SearXNG.URL != "" {
		m.Register(NewSearXNG(cfg.SearXNG))
	}
	if cfg.DuckDuckGo.Enabled {
		ddg, err := NewDuckDuckGo(cfg.DuckDuckGo.MaxResults, nil)
		if err != nil {
			m.logger.Warn("duckduckgo provider unavailable", "error", err)
		} else {
			m.Register(ddg)
		}
	}
	return m
}

// Register adds a provider to the manager. A provider missing from the
// order is appended to it.
func (m *Manager) Register(p Provider) {
	m.providers[p.Name()] = p
	for _, name := range m.order {
		if name == p.Name() {
			return
		}
	}
	m.order = append(m.order, p.Name())
}

// Search runs a query against each provider in order until one answers.
// When all fail, the errors are joined; a rate limit from any of them
// remains detectable with errors.Is.
func (m *Manager) Search(ctx context.Context, query string, opts Options) ([]Result, error) {
	var errs []error
	for _, name := range m.order {
		p, ok := m.providers[name]
		if !ok {
			continue
		}
		results, err := p.Search(ctx, query, opts)
		if err == nil {
			return results, nil
		}
		m.logger.Debug("search provider failed", "provider", name, "error", err)
		errs = append(errs, err)
		if ctx.Err() != nil {
			break
		}
	}
	if len(errs) == 0 {
		return nil, ErrNotConfigured
	}
	return nil, errors.Join(errs...)
}

// SearchWith runs a query against a specific named provider.
func (m *Manager) SearchWith(ctx context.Context, provider, query string, opts Options) ([]Result, error) {
	p, ok := m.providers[provider]
	if !ok {
		return nil, fmt.Errorf("search provider %q not configured", provider)
	}
	return p.Search(ctx, query, opts)
}

// Providers returns the names of all registered providers in search
// order.
func (m *Manager) Providers() []string {
	names := make([]string, 0, len(m.providers))
	for _, name := range m.order {
		if _, ok := m.providers[name]; ok {
			names = append(names, name)
		}
	}
	return names
}

// Configured reports whether at least one provider is registered.
func (m *Manager) Configured() bool {
	return len(m.providers) > 0
}

// FormatResults builds a human-readable result string.
func FormatResults(results []Result) string {
	if len(results) == 0 {
		return "No results found."
	}

	var b strings.Builder
	for i, r := range results {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(strconv.Itoa(i + 1))
		b.WriteString(". ")
		b.WriteString(r.Title)
		b.WriteString("\n   ")
		b.WriteString(r.URL)
		if r.Snippet != "" {
			b.WriteString("\n   ")
			b.WriteString(r.Snippet)
		}
	}
	return b.String()
}
