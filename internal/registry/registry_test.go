package registry

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/nugget/butler/internal/community"
	"github.com/nugget/butler/internal/config"
	"github.com/nugget/butler/internal/tools"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func boolPtr(b bool) *bool { return &b }

func noop() tools.Impl {
	return tools.Sync(func(map[string]any) (any, error) { return "ok", nil })
}

func set(source string, names ...string) *tools.Set {
	s := tools.NewSet(source)
	for _, n := range names {
		s.Add(n, source+" "+n, nil, noop())
	}
	return s
}

func entries(names ...string) []config.ToolEntry {
	out := make([]config.ToolEntry, 0, len(names))
	for _, n := range names {
		out = append(out, config.ToolEntry{Name: n})
	}
	return out
}

func catalog() Catalog {
	return Catalog{
		Core:     set("core", "reset", "web_search", "calculator"),
		Obsidian: set("obsidian", "list_notes", "create_note"),
		Memory:   set("memory", "read_entire_memory", "append_to_memory"),
		Fallback: set("fallback", "read_all_notes"),
		Semantic: func(context.Context) (*tools.Set, error) {
			return set("semantic", "semantic_search"), nil
		},
	}
}

// enableAll lists every catalog() tool in its category.
func enableAll(settings config.ToolSettings) config.ToolsConfig {
	return config.ToolsConfig{
		Settings:      settings,
		CoreTools:     entries("reset", "web_search", "calculator"),
		ObsidianTools: entries("list_notes", "create_note"),
		MemoryTools:   entries("read_entire_memory", "append_to_memory"),
		FallbackTools: entries("read_all_notes"),
	}
}

func names(r *tools.Registry) string { return strings.Join(r.Names(), ",") }

func TestBuild_Precedence(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.ToolsConfig
		cat  func() Catalog
		want string
	}{
		{
			name: "omitted lists enable nothing",
			cfg:  config.ToolsConfig{Settings: config.ToolSettings{UseCoreMemory: true}},
			want: "",
		},
		{
			name: "all listed",
			cfg:  enableAll(config.ToolSettings{}),
			want: "reset,web_search,calculator,list_notes,create_note,read_all_notes",
		},
		{
			name: "memory and semantic",
			cfg: enableAll(config.ToolSettings{
				UseCoreMemory:     true,
				UseSemanticSearch: true,
			}),
			want: "reset,web_search,calculator,list_notes,create_note,read_entire_memory,append_to_memory,semantic_search",
		},
		{
			name: "semantic unavailable falls back",
			cfg:  enableAll(config.ToolSettings{UseSemanticSearch: true}),
			cat: func() Catalog {
				c := catalog()
				c.Semantic = func(context.Context) (*tools.Set, error) { return nil, errors.New("no index") }
				return c
			},
			want: "reset,web_search,calculator,list_notes,create_note,read_all_notes",
		},
		{
			name: "obsidian disabled",
			cfg: enableAll(config.ToolSettings{
				IncludeObsidianTools: boolPtr(false),
				UseCoreMemory:        true,
			}),
			want: "reset,web_search,calculator",
		},
		{
			name: "category filters",
			cfg: config.ToolsConfig{
				Settings:      config.ToolSettings{UseCoreMemory: true},
				CoreTools:     []config.ToolEntry{{Name: "calculator"}, {Name: "reset", Enabled: boolPtr(false)}},
				ObsidianTools: entries("create_note"),
				MemoryTools:   entries(),
				FallbackTools: entries("read_all_notes"),
			},
			want: "calculator,create_note,read_all_notes",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cat := catalog()
			if tt.cat != nil {
				cat = tt.cat()
			}
			reg, err := Build(context.Background(), tt.cfg, cat, quietLogger())
			if err != nil {
				t.Fatalf("Build: %v", err)
			}
			if got := names(reg); got != tt.want {
				t.Errorf("names = %s\nwant    %s", got, tt.want)
			}
		})
	}
}

func TestBuild_DuplicateFirstWins(t *testing.T) {
	cat := catalog()
	cat.Obsidian = set("obsidian", "calculator", "list_notes")
	cfg := enableAll(config.ToolSettings{})
	cfg.ObsidianTools = entries("calculator", "list_notes")

	reg, err := Build(context.Background(), cfg, cat, quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	d, ok := reg.Lookup("calculator")
	if !ok {
		t.Fatal("calculator missing")
	}
	if d.Source != "core" || d.Description() != "core calculator" {
		t.Errorf("calculator from %s (%q), want core", d.Source, d.Description())
	}
	if got := names(reg); got != "reset,web_search,calculator,list_notes,read_all_notes" {
		t.Errorf("names = %s", got)
	}
}

func TestBuild_LockStep(t *testing.T) {
	core := tools.NewSet("core")
	core.Add("good", "has both", nil, noop())
	core.Schemas = append(core.Schemas, tools.Envelope("schema_only", "no impl", nil))
	core.Impls["impl_only"] = noop()
	core.Add("broken", "zero impl", nil, tools.Impl{})

	reg, err := Build(context.Background(), config.ToolsConfig{
		Settings:  config.ToolSettings{IncludeObsidianTools: boolPtr(false)},
		CoreTools: entries("good", "schema_only", "impl_only", "broken"),
	}, Catalog{Core: core}, quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	if got := names(reg); got != "good" {
		t.Errorf("names = %s, want good", got)
	}
}

func TestBuild_SchemaNormalization(t *testing.T) {
	core := tools.NewSet("core")
	// Bare schema without the function envelope.
	core.Schemas = append(core.Schemas, map[string]any{
		"name":        "bare",
		"description": "bare schema",
		"parameters":  map[string]any{"type": "object"},
	})
	core.Impls["bare"] = noop()
	// Unnamed and uncompilable schemas are discarded.
	core.Schemas = append(core.Schemas, map[string]any{"description": "nameless"})
	core.Add("bad_params", "invalid", map[string]any{"type": "nonsense"}, noop())

	reg, err := Build(context.Background(), config.ToolsConfig{
		Settings:  config.ToolSettings{IncludeObsidianTools: boolPtr(false)},
		CoreTools: entries("bare", "bad_params"),
	}, Catalog{Core: core}, quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	if got := names(reg); got != "bare" {
		t.Fatalf("names = %s, want bare", got)
	}
	d, _ := reg.Lookup("bare")
	if d.Schema["type"] != "function" || d.Description() != "bare schema" {
		t.Errorf("schema = %v", d.Schema)
	}
}

func TestBuild_CommunityAndMCP(t *testing.T) {
	var gotServers []string
	cat := catalog()
	cat.Community = community.New(nil)
	cat.MCP = func(_ context.Context, servers []config.MCPServerConfig, _ *slog.Logger) []*tools.Set {
		for _, s := range servers {
			gotServers = append(gotServers, s.Name)
		}
		return []*tools.Set{set("mcp:tavily", "ai_web_search"), set("mcp:other", "web_search")}
	}

	cfg := config.ToolsConfig{
		Settings:       config.ToolSettings{UseMCPTools: true, IncludeObsidianTools: boolPtr(false)},
		CoreTools:      entries("reset", "web_search", "calculator"),
		CommunityTools: []config.CommunityTool{{Name: "lc_calculator"}},
		MCPServers:     []config.MCPServerConfig{{Name: "tavily"}, {Name: "other"}},
	}
	reg, err := Build(context.Background(), cfg, cat, quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	if got := names(reg); got != "reset,web_search,calculator,lc_calculator,ai_web_search" {
		t.Errorf("names = %s", got)
	}
	if strings.Join(gotServers, ",") != "tavily,other" {
		t.Errorf("servers = %v", gotServers)
	}
	if d, _ := reg.Lookup("web_search"); d.Source != "core" {
		t.Errorf("web_search source = %s", d.Source)
	}

	cfg.Settings.UseMCPTools = false
	gotServers = nil
	reg, err = Build(context.Background(), cfg, cat, quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	if gotServers != nil {
		t.Error("MCP loader called with MCP tools disabled")
	}
	if _, ok := reg.Lookup("ai_web_search"); ok {
		t.Error("MCP tool present with MCP tools disabled")
	}
}

func TestBuild_SchemaOnlyDoesNotClaimName(t *testing.T) {
	core := tools.NewSet("core")
	core.Schemas = append(core.Schemas, tools.Envelope("web_search", "core stub", nil))
	cat := Catalog{Core: core, Obsidian: set("obsidian", "web_search")}

	reg, err := Build(context.Background(), config.ToolsConfig{
		CoreTools:     entries("web_search"),
		ObsidianTools: entries("web_search"),
	}, cat, quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	d, ok := reg.Lookup("web_search")
	if !ok {
		t.Fatal("web_search missing")
	}
	if d.Source != "obsidian" {
		t.Errorf("web_search from %s, want obsidian", d.Source)
	}
}

func TestBuild_EmptyCatalog(t *testing.T) {
	reg, err := Build(context.Background(), config.ToolsConfig{}, Catalog{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if reg.Len() != 0 {
		t.Errorf("Len = %d", reg.Len())
	}
}
