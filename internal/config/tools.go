package config

// ToolsConfig is the declarative tool catalog: feature switches plus
// one entry list per tool category. A nil category list (the key is
// absent from the YAML) enables every tool of that category; a present
// list enables only the entries it names.
type ToolsConfig struct {
	Settings       ToolSettings      `yaml:"settings"`
	CoreTools      []ToolEntry       `yaml:"core_tools"`
	CommunityTools []CommunityTool   `yaml:"community_tools"`
	ObsidianTools  []ToolEntry       `yaml:"obsidian_tools"`
	MemoryTools    []ToolEntry       `yaml:"memory_tools"`
	FallbackTools  []ToolEntry       `yaml:"fallback_tools"`
	MCPServers     []MCPServerConfig `yaml:"mcp_servers"`
}

// ToolSettings are the feature flags that gate whole categories.
type ToolSettings struct {
	IncludeObsidianTools *bool `yaml:"include_obsidian_tools"` // default true
	UseCoreMemory        bool  `yaml:"use_core_memory"`
	UseMCPTools          bool  `yaml:"use_mcp_tools"`
	UseSemanticSearch    bool  `yaml:"use_semantic_search"`
}

// ObsidianEnabled reports whether vault tools are included.
func (s ToolSettings) ObsidianEnabled() bool {
	return s.IncludeObsidianTools == nil || *s.IncludeObsidianTools
}

// ToolEntry enables one named tool within a category.
type ToolEntry struct {
	Name    string `yaml:"name"`
	Enabled *bool  `yaml:"enabled"` // default true
}

// IsEnabled reports whether the entry is switched on.
func (e ToolEntry) IsEnabled() bool {
	return e.Enabled == nil || *e.Enabled
}

// CommunityTool configures one tool from the community catalog.
type CommunityTool struct {
	Name            string        `yaml:"name"`
	Enabled         *bool         `yaml:"enabled"`
	RequiredEnvVars []string      `yaml:"required_env_vars"`
	Override        *ToolOverride `yaml:"override"`
}

// IsEnabled reports whether the community tool is switched on.
func (c CommunityTool) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// ToolOverride renames or re-describes a tool. InitArgs are passed to
// community tool factories; Parameters replace an MCP tool's input
// schema.
type ToolOverride struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	InitArgs    map[string]any `yaml:"init_args"`
	Parameters  map[string]any `yaml:"parameters"`
}

// MCP transport names accepted in mcp_servers[].transport.
const (
	TransportStreamableHTTP = "streamable_http"
	TransportHTTP           = "http"
	TransportStdio          = "stdio"
)

// MCPServerConfig describes one MCP server and the tools taken from it.
type MCPServerConfig struct {
	Name            string            `yaml:"name"`
	Transport       string            `yaml:"transport"`
	URL             string            `yaml:"url"`
	Command         string            `yaml:"command"`
	Args            []string          `yaml:"args"`
	Env             []string          `yaml:"env"`
	Headers         map[string]string `yaml:"headers"`
	Enabled         *bool             `yaml:"enabled"`
	RequiredEnvVars []string          `yaml:"required_env_vars"`
	Tools           []MCPToolConfig   `yaml:"tools"`
}

// IsEnabled reports whether the server is switched on.
func (m MCPServerConfig) IsEnabled() bool {
	return m.Enabled == nil || *m.Enabled
}

// MCPToolConfig filters or overrides one tool exposed by an MCP server.
type MCPToolConfig struct {
	Name     string        `yaml:"name"`
	Enabled  *bool         `yaml:"enabled"`
	Override *ToolOverride `yaml:"override"`
}

// IsEnabled reports whether the MCP tool is switched on.
func (t MCPToolConfig) IsEnabled() bool {
	return t.Enabled == nil || *t.Enabled
}

// EnabledSet resolves a category list into the set of enabled names.
// An omitted list enables nothing, the same as an empty one.
func EnabledSet(entries []ToolEntry) map[string]bool {
	set := make(map[string]bool, len(entries))
	for _, e := range entries {
		if e.Name != "" && e.IsEnabled() {
			set[e.Name] = true
		}
	}
	return set
}
