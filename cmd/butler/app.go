package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nugget/butler/internal/agent"
	"github.com/nugget/butler/internal/audit"
	"github.com/nugget/butler/internal/builtin"
	"github.com/nugget/butler/internal/community"
	"github.com/nugget/butler/internal/config"
	"github.com/nugget/butler/internal/connwatch"
	"github.com/nugget/butler/internal/embeddings"
	"github.com/nugget/butler/internal/fetch"
	"github.com/nugget/butler/internal/invoker"
	"github.com/nugget/butler/internal/llm"
	"github.com/nugget/butler/internal/mcp"
	"github.com/nugget/butler/internal/metrics"
	"github.com/nugget/butler/internal/prompts"
	"github.com/nugget/butler/internal/rag"
	"github.com/nugget/butler/internal/registry"
	"github.com/nugget/butler/internal/search"
	"github.com/nugget/butler/internal/session"
	"github.com/nugget/butler/internal/summarizer"
	"github.com/nugget/butler/internal/tools"
	"github.com/nugget/butler/internal/vault"

	_ "github.com/mattn/go-sqlite3" // SQLite driver for database/sql
)

// recentSummaries is how many session summaries seed a conversation.
const recentSummaries = 3

// app holds everything a session needs, built once per process.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	client    llm.Client
	providers map[string]llm.Client // providers models are routed to
	vault     *vault.Vault          // nil when obsidian tools are off
	mcp       []*mcp.Client
	metrics   *metrics.Metrics
	registry  *tools.Registry
	invoker   *invoker.Invoker
	persona   string

	closers []func() error
}

// newApp wires the LLM client, vault, audit sinks and tool registry.
// promReg may be nil, in which case metrics are collected but not
// exposed.
func newApp(ctx context.Context, cfg *config.Config, promReg prometheus.Registerer, logger *slog.Logger) (_ *app, err error) {
	if promReg == nil {
		promReg = prometheus.NewRegistry()
	}
	a := &app{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics.New(promReg),
	}
	a.client, a.providers = createLLMClient(cfg, logger)
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if a.persona, err = loadPersona(cfg); err != nil {
		return nil, err
	}

	if cfg.Tools.Settings.ObsidianEnabled() {
		if a.vault, err = vault.Open(cfg.Vault, logger.With("component", "vault")); err != nil {
			return nil, err
		}
	}

	sink, err := a.openAudit()
	if err != nil {
		return nil, err
	}

	if a.registry, err = registry.Build(ctx, cfg.Tools, a.catalog(), logger.With("component", "registry")); err != nil {
		return nil, fmt.Errorf("build tool registry: %w", err)
	}

	a.invoker = invoker.New(a.registry, sink, a.metrics, invoker.Config{
		PrivateBlocklist:  cfg.Invoker.PrivateBlocklist,
		ValidateArguments: cfg.Invoker.ValidateArguments,
	}, logger.With("component", "invoker"))

	logger.Info("tools ready", "count", a.registry.Len(), "tools", strings.Join(a.registry.SortedNames(), ","))
	return a, nil
}

// Close releases MCP connections and databases in reverse order.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}

// openAudit returns the configured tool-call sinks: the markdown log in
// the agent's log folder and the SQLite store.
func (a *app) openAudit() (audit.Sink, error) {
	var sinks audit.Multi
	if a.vault != nil && a.cfg.Audit.File != "-" {
		md := audit.NewMarkdown(filepath.Join(a.vault.LogDir(), a.cfg.Audit.File))
		sinks = append(sinks, md)
		a.logger.Debug("tool-call log", "path", md.Path())
	}
	if a.cfg.Audit.Database != "" {
		if err := os.MkdirAll(filepath.Dir(a.cfg.Audit.Database), 0o755); err != nil {
			return nil, fmt.Errorf("create audit directory: %w", err)
		}
		store, err := audit.Open(a.cfg.Audit.Database)
		if err != nil {
			return nil, fmt.Errorf("open audit database: %w", err)
		}
		a.closers = append(a.closers, store.Close)
		sinks = append(sinks, store)
	}
	if len(sinks) == 0 {
		return nil, nil
	}
	return sinks, nil
}

// catalog collects every tool source the registry may draw from.
func (a *app) catalog() registry.Catalog {
	cfg := a.cfg
	cat := registry.Catalog{
		Core: builtin.Tools(builtin.Deps{
			Client:     a.client,
			CheapModel: cfg.Models.Cheap,
			Search:     search.New(cfg.Search, a.logger.With("component", "search")),
			Fetcher:    fetch.New(),
			Logger:     a.logger.With("component", "builtin"),
		}),
		Community: community.New(nil),
		MCP: func(ctx context.Context, servers []config.MCPServerConfig, logger *slog.Logger) []*tools.Set {
			sets, clients := mcp.Load(ctx, servers, logger)
			for _, c := range clients {
				a.closers = append(a.closers, c.Close)
			}
			a.mcp = append(a.mcp, clients...)
			return sets
		},
	}

	if a.vault != nil {
		cat.Obsidian = a.vault.NoteTools()
		cat.Memory = a.vault.MemoryTools()
		cat.Fallback = a.vault.FallbackTools()
		cat.Semantic = a.openSemantic
	}
	return cat
}

// openSemantic opens the RAG index built by butler index.
func (a *app) openSemantic(context.Context) (*tools.Set, error) {
	gen, err := embeddings.New(a.cfg, a.logger)
	if err != nil {
		return nil, err
	}
	store, err := rag.Open(a.cfg.RAG.IndexPath)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, store.Close)

	searcher := rag.NewSearcher(store, gen, a.client, a.cfg.Models.Cheap, a.cfg.RAG.K, a.logger.With("component", "rag"))
	return searcher.Tools(), nil
}

// seed gathers the system messages a fresh conversation starts with.
// Vault read failures are logged and leave the part out.
func (a *app) seed() []llm.Message {
	s := agent.Seed{Persona: a.persona}
	if a.vault == nil {
		return s.Messages()
	}

	if a.cfg.Tools.Settings.UseCoreMemory {
		cm, err := a.vault.CoreMemory()
		if err != nil {
			a.logger.Warn("core memory unavailable", "error", err)
		}
		s.CoreMemory = cm
	}
	sums, err := a.vault.RecentSummaries(recentSummaries)
	if err != nil {
		a.logger.Warn("recent summaries unavailable", "error", err)
	}
	s.Summaries = sums
	return s.Messages()
}

// newLoop builds a loop over a freshly seeded conversation.
func (a *app) newLoop(context.Context) (*agent.Loop, error) {
	return agent.NewLoop(a.client, a.registry, a.invoker, a.seed(), agent.Config{
		Model:             a.cfg.Models.Default,
		HighPowerModel:    a.cfg.Models.HighPower,
		MaxToolIterations: a.cfg.Agent.ToolIterations(),
	}, a.metrics, a.logger.With("component", "agent")), nil
}

// controller returns a session controller that greets with greeting.
func (a *app) controller(greeting string) *session.Controller {
	var summ session.Summarizer
	if a.vault != nil {
		summ = summarizer.New(a.client, a.vault, a.logger, summarizer.Config{
			Model:         a.cfg.Models.Cheap,
			AssistantName: a.cfg.Assistant.Name,
		})
	}
	return session.New(a.newLoop, summ, a.metrics, session.Config{
		IdleTimeout: a.cfg.Session.IdleTimeout,
		Greeting:    greeting,
	}, a.logger.With("component", "session"))
}

// loadPersona reads the persona file, or falls back to the built-in
// persona for the configured name.
func loadPersona(cfg *config.Config) (string, error) {
	if cfg.Assistant.PersonaFile == "" {
		return prompts.Persona(cfg.Assistant.Name), nil
	}
	data, err := os.ReadFile(cfg.Assistant.PersonaFile)
	if err != nil {
		return "", fmt.Errorf("read persona: %w", err)
	}
	return string(data), nil
}

// watchDependencies probes every LLM provider a model is routed to and
// every connected MCP server until ctx ends.
func (a *app) watchDependencies(ctx context.Context, m *connwatch.Manager) {
	for name, c := range a.providers {
		m.Watch(ctx, "llm:"+name, c.Ping, connwatch.DefaultBackoff())
	}
	for _, c := range a.mcp {
		m.Watch(ctx, mcp.Source(c.Name()), c.Ping, connwatch.DefaultBackoff())
	}
}

// createLLMClient builds a multi-provider client. Models listed under
// models.available are routed to their provider; anything else goes to
// models.provider. The second result holds the providers in use.
func createLLMClient(cfg *config.Config, logger *slog.Logger) (llm.Client, map[string]llm.Client) {
	multi := llm.NewMultiClient(cfg.Models.Provider, map[string]llm.Client{
		"openai": llm.NewOpenAIClient(cfg.Providers.OpenAI.APIKey, cfg.Providers.OpenAI.BaseURL, nil, logger),
		"ollama": llm.NewOllamaClient(cfg.Providers.Ollama.URL, logger),
	})
	for _, m := range cfg.Models.Available {
		if err := multi.Route(m.Name, m.Provider); err != nil {
			logger.Warn("model not routed", "error", err)
		}
	}

	logger.Info("LLM client initialized",
		"default_model", cfg.Models.Default,
		"default_provider", cfg.Models.Provider,
	)
	return multi, multi.InUse()
}
