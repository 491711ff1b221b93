// Package config handles Butler configuration loading.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrNoConfig is returned by FindConfig when no config file exists on
// any search path.
var ErrNoConfig = errors.New("no config file found")

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/butler/config.yaml, /etc/butler/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "butler", "config.yaml"))
	}

	paths = append(paths, "/etc/butler/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("%w (searched: %v)", ErrNoConfig, DefaultSearchPaths())
}

// Config holds all Butler configuration.
type Config struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"` // text or json
	DataDir   string `yaml:"data_dir"`

	Assistant  AssistantConfig  `yaml:"assistant"`
	Models     ModelsConfig     `yaml:"models"`
	Providers  ProvidersConfig  `yaml:"providers"`
	Embeddings EmbeddingsConfig `yaml:"embeddings"`
	Vault      VaultConfig      `yaml:"vault"`
	RAG        RAGConfig        `yaml:"rag"`
	Search     SearchConfig     `yaml:"search"`
	Agent      AgentConfig      `yaml:"agent"`
	Invoker    InvokerConfig    `yaml:"invoker"`
	Session    SessionConfig    `yaml:"session"`
	Audit      AuditConfig      `yaml:"audit"`
	Listen     ListenConfig     `yaml:"listen"`
	Tools      ToolsConfig      `yaml:"tools"`
}

// AssistantConfig names the assistant and where its persona comes from.
type AssistantConfig struct {
	Name        string `yaml:"name"`
	PersonaFile string `yaml:"persona_file"` // optional; built-in persona when empty
}

// ModelsConfig selects the three model tiers the agent switches between.
type ModelsConfig struct {
	Default   string        `yaml:"default"`
	HighPower string        `yaml:"high_power"`
	Cheap     string        `yaml:"cheap"` // summaries, page digests, compression, vision
	Provider  string        `yaml:"provider"`
	Available []ModelConfig `yaml:"available"`
}

// ModelConfig pins a model name to a provider.
type ModelConfig struct {
	Name     string `yaml:"name"`
	Provider string `yaml:"provider"` // openai, ollama
}

// ProvidersConfig holds connection settings per LLM provider.
type ProvidersConfig struct {
	OpenAI OpenAIConfig `yaml:"openai"`
	Ollama OllamaConfig `yaml:"ollama"`
}

// OpenAIConfig configures the OpenAI-compatible provider.
type OpenAIConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"` // empty means api.openai.com
}

// OllamaConfig configures the Ollama provider.
type OllamaConfig struct {
	URL string `yaml:"url"`
}

// EmbeddingsConfig defines embedding generation settings.
type EmbeddingsConfig struct {
	Provider string `yaml:"provider"` // openai or ollama
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url"` // Ollama URL (defaults to providers.ollama.url)
}

// VaultConfig locates the Obsidian vault and the agent's folder in it.
type VaultConfig struct {
	Path           string `yaml:"path"`
	AgentFolder    string `yaml:"agent_folder"`
	CoreMemoryFile string `yaml:"core_memory_file"`
	SummaryFolder  string `yaml:"summary_folder"` // relative to the agent folder
}

// RAGConfig configures the semantic search index.
type RAGConfig struct {
	IndexPath    string `yaml:"index_path"`
	K            int    `yaml:"k"`
	ChunkSize    int    `yaml:"chunk_size"`
	ChunkOverlap int    `yaml:"chunk_overlap"`
}

// SearchConfig configures web search providers. Providers are tried in
// the order listed in Order; unconfigured providers are skipped.
type SearchConfig struct {
	Order      []string         `yaml:"order"`
	DuckDuckGo DuckDuckGoConfig `yaml:"duckduckgo"`
	SearXNG    SearXNGConfig    `yaml:"searxng"`
}

// DuckDuckGoConfig configures the DuckDuckGo provider.
type DuckDuckGoConfig struct {
	Enabled    bool `yaml:"enabled"`
	MaxResults int  `yaml:"max_results"`
}

// SearXNGConfig configures a self-hosted SearXNG instance. Categories
// and Engines narrow the query when set.
type SearXNGConfig struct {
	URL        string   `yaml:"url"`
	Categories []string `yaml:"categories"`
	Engines    []string `yaml:"engines"`
}

// AgentConfig tunes the turn loop.
type AgentConfig struct {
	// MaxToolIterations bounds completion round trips per turn. Zero,
	// the default, leaves turns unbounded.
	MaxToolIterations int `yaml:"max_tool_iterations"`
}

// InvokerConfig tunes tool dispatch.
type InvokerConfig struct {
	PrivateBlocklist  []string `yaml:"private_blocklist"`
	ValidateArguments bool     `yaml:"validate_arguments"`
}

// SessionConfig tunes the session controller.
type SessionConfig struct {
	IdleTimeout time.Duration `yaml:"idle_timeout"`
}

// AuditConfig selects where tool calls are recorded.
type AuditConfig struct {
	File     string `yaml:"file"`     // markdown log under <agent_folder>/logs; "-" disables
	Database string `yaml:"database"` // SQLite path; empty disables
}

// ListenConfig defines the websocket server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// ToolIterations returns the iteration cap, or 0 for none.
func (a AgentConfig) ToolIterations() int {
	return a.MaxToolIterations
}

// Load reads configuration from a YAML file. Dotenv files next to the
// config (and in the working directory) are loaded first so that
// ${VAR} placeholders can refer to them.
func Load(path string) (*Config, error) {
	if err := LoadDotenv(filepath.Dir(path)); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	return Parse(data)
}

// Parse decodes YAML config bytes after placeholder substitution and
// applies defaults.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(ExpandEnv(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

// Default returns a configuration with every default applied and no
// vault configured.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.LogFormat == "" {
		c.LogFormat = "text"
	}
	if c.DataDir == "" {
		c.DataDir = "./data"
	}
	if c.Assistant.Name == "" {
		c.Assistant.Name = "Sebastian"
	}
	if c.Models.Provider == "" {
		c.Models.Provider = "openai"
	}
	if c.Models.Default == "" {
		c.Models.Default = "o4-mini-2025-04-16"
	}
	if c.Models.HighPower == "" {
		c.Models.HighPower = "o3-2025-04-16"
	}
	if c.Models.Cheap == "" {
		c.Models.Cheap = "gpt-3.5-turbo-0125"
	}
	if c.Providers.Ollama.URL == "" {
		c.Providers.Ollama.URL = "http://localhost:11434"
	}
	if c.Embeddings.Provider == "" {
		c.Embeddings.Provider = "openai"
	}
	if c.Embeddings.Model == "" {
		if c.Embeddings.Provider == "ollama" {
			c.Embeddings.Model = "nomic-embed-text"
		} else {
			c.Embeddings.Model = "text-embedding-3-small"
		}
	}
	if c.Embeddings.BaseURL == "" && c.Embeddings.Provider == "ollama" {
		c.Embeddings.BaseURL = c.Providers.Ollama.URL
	}
	if c.Vault.Path != "" {
		c.Vault.Path = expandHome(c.Vault.Path)
	}
	if c.Vault.AgentFolder == "" {
		c.Vault.AgentFolder = "Butler"
	}
	if c.Vault.CoreMemoryFile == "" {
		c.Vault.CoreMemoryFile = "_core_memory.md"
	}
	if c.Vault.SummaryFolder == "" {
		c.Vault.SummaryFolder = "summaries"
	}
	if c.RAG.IndexPath == "" {
		c.RAG.IndexPath = filepath.Join(c.DataDir, "vault_index.db")
	}
	if c.RAG.K <= 0 {
		c.RAG.K = 5
	}
	if c.RAG.ChunkSize <= 0 {
		c.RAG.ChunkSize = 500
	}
	if c.RAG.ChunkOverlap <= 0 {
		c.RAG.ChunkOverlap = 200
	}
	if len(c.Search.Order) == 0 {
		c.Search.Order = []string{"searxng", "duckduckgo"}
	}
	if c.Search.DuckDuckGo.MaxResults <= 0 {
		c.Search.DuckDuckGo.MaxResults = 5
	}
	if c.Invoker.PrivateBlocklist == nil {
		c.Invoker.PrivateBlocklist = []string{"append_note", "append_core_memory"}
	}
	if c.Session.IdleTimeout == 0 {
		c.Session.IdleTimeout = 30 * time.Second
	}
	if c.Audit.File == "" {
		c.Audit.File = "tool-calls.md"
	}
	if c.Listen.Port == 0 {
		c.Listen.Port = 8080
	}
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}
