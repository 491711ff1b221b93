// Package registry assembles the tool catalog a session runs with.
//
// Tools come from several sources, merged in a fixed precedence: core,
// community, MCP servers, then the vault categories (notes, core memory,
// and either semantic search or the fallback readers). Each category can
// be narrowed by its list in the tools config. Schemas are normalized and
// compiled, duplicates are dropped with the first occurrence winning,
// and only names with both a schema and an implementation survive.
//
// A failing source is logged and contributes nothing; Build never fails
// because one source is unavailable.
package registry

import (
	"context"
	"log/slog"
	"sort"

	"github.com/nugget/butler/internal/community"
	"github.com/nugget/butler/internal/config"
	"github.com/nugget/butler/internal/tools"
)

// Catalog holds the sources a build draws from. Nil members contribute
// nothing.
type Catalog struct {
	Core      *tools.Set
	Community community.Catalog
	Obsidian  *tools.Set
	Memory    *tools.Set
	Fallback  *tools.Set

	// Semantic opens the semantic search tools. An error selects the
	// fallback tools instead.
	Semantic func(ctx context.Context) (*tools.Set, error)

	// MCP connects to the configured servers and returns one set per
	// server that answered.
	MCP func(ctx context.Context, servers []config.MCPServerConfig, logger *slog.Logger) []*tools.Set
}

// candidate is a source set with the enable filter of its category.
// A nil filter enables everything; only sources without a category list
// (community, MCP, semantic search) use one.
type candidate struct {
	set    *tools.Set
	filter map[string]bool
}

// Build merges the catalog into a registry according to cfg.
func Build(ctx context.Context, cfg config.ToolsConfig, cat Catalog, logger *slog.Logger) (*tools.Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	return merge(sources(ctx, cfg, cat, logger), logger)
}

// sources lists the candidate sets in precedence order.
func sources(ctx context.Context, cfg config.ToolsConfig, cat Catalog, logger *slog.Logger) []candidate {
	var out []candidate
	add := func(set *tools.Set, filter map[string]bool) {
		if set != nil {
			out = append(out, candidate{set: set, filter: filter})
		}
	}

	add(cat.Core, config.EnabledSet(cfg.CoreTools))

	if len(cfg.CommunityTools) > 0 {
		if cat.Community == nil {
			logger.Warn("community tools configured but no catalog available")
		} else {
			add(cat.Community.Load(cfg.CommunityTools, logger), nil)
		}
	}

	if cfg.Settings.UseMCPTools {
		switch {
		case len(cfg.MCPServers) == 0:
			logger.Info("MCP tools enabled but no servers configured")
		case cat.MCP == nil:
			logger.Warn("MCP tools enabled but no loader available")
		default:
			for _, set := range cat.MCP(ctx, cfg.MCPServers, logger) {
				add(set, nil)
			}
		}
	}

	if !cfg.Settings.ObsidianEnabled() {
		return out
	}
	add(cat.Obsidian, config.EnabledSet(cfg.ObsidianTools))
	if cfg.Settings.UseCoreMemory {
		add(cat.Memory, config.EnabledSet(cfg.MemoryTools))
	}

	if cfg.Settings.UseSemanticSearch && cat.Semantic != nil {
		set, err := cat.Semantic(ctx)
		if err == nil {
			add(set, nil)
			return out
		}
		logger.Warn("semantic search unavailable, using fallback tools", "error", err)
	}
	add(cat.Fallback, config.EnabledSet(cfg.FallbackTools))
	return out
}

// merge normalizes, filters and de-duplicates the candidates.
func merge(cands []candidate, logger *slog.Logger) (*tools.Registry, error) {
	var descs []tools.Descriptor
	owner := make(map[string]string) // tool name -> source that supplied it

	for _, c := range cands {
		src := c.set.Source
		log := logger.With("source", src)
		named := make(map[string]bool, len(c.set.Schemas))

		for _, raw := range c.set.Schemas {
			schema, name, err := tools.NormalizeSchema(raw)
			if err != nil {
				log.Warn("discarding tool schema", "error", err)
				continue
			}
			named[name] = true

			if c.filter != nil && !c.filter[name] {
				log.Debug("tool not enabled", "tool", name)
				continue
			}
			if _, err := tools.CompileParameters(tools.Parameters(schema)); err != nil {
				log.Warn("discarding tool with invalid parameters", "tool", name, "error", err)
				continue
			}
			impl, ok := c.set.Impls[name]
			if !ok || !impl.Valid() {
				log.Warn("tool schema without implementation dropped", "tool", name)
				continue
			}
			if first, dup := owner[name]; dup {
				log.Warn("duplicate tool dropped", "tool", name, "kept_from", first, "dropped_from", src)
				continue
			}
			owner[name] = src
			descs = append(descs, tools.Descriptor{
				Name:   name,
				Schema: schema,
				Impl:   impl,
				Source: src,
			})
		}

		var orphans []string
		for name := range c.set.Impls {
			if !named[name] {
				orphans = append(orphans, name)
			}
		}
		sort.Strings(orphans)
		for _, name := range orphans {
			log.Warn("tool implementation without schema dropped", "tool", name)
		}
	}

	reg, err := tools.NewRegistry(descs)
	if err != nil {
		return nil, err
	}
	logger.Info("tool registry built", "tools", reg.Len())
	return reg, nil
}
