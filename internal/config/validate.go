package config

import (
	"errors"
	"fmt"
)

// Validate checks the configuration for values that would make the
// process fail later in a less obvious way. All problems are reported
// together.
func (c *Config) Validate() error {
	var errs []error

	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log_format %q must be text or json", c.LogFormat))
	}

	if c.Models.Default == "" {
		errs = append(errs, errors.New("models.default is required"))
	}
	for i, m := range c.Models.Available {
		if m.Name == "" {
			errs = append(errs, fmt.Errorf("models.available[%d]: name is required", i))
		}
		if !knownProvider(m.Provider) {
			errs = append(errs, fmt.Errorf("models.available[%d]: unknown provider %q", i, m.Provider))
		}
	}
	if !knownProvider(c.Models.Provider) {
		errs = append(errs, fmt.Errorf("models.provider: unknown provider %q", c.Models.Provider))
	}
	if !knownProvider(c.Embeddings.Provider) {
		errs = append(errs, fmt.Errorf("embeddings.provider: unknown provider %q", c.Embeddings.Provider))
	}

	if c.Agent.MaxToolIterations < 0 {
		errs = append(errs, errors.New("agent.max_tool_iterations must not be negative"))
	}
	if c.Session.IdleTimeout < 0 {
		errs = append(errs, errors.New("session.idle_timeout must not be negative"))
	}
	if c.RAG.ChunkOverlap >= c.RAG.ChunkSize {
		errs = append(errs, fmt.Errorf("rag.chunk_overlap (%d) must be smaller than rag.chunk_size (%d)", c.RAG.ChunkOverlap, c.RAG.ChunkSize))
	}

	if c.Tools.Settings.ObsidianEnabled() && c.Vault.Path == "" {
		errs = append(errs, errors.New("vault.path is required when obsidian tools are included"))
	}

	errs = append(errs, c.Tools.validate()...)

	return errors.Join(errs...)
}

func (t ToolsConfig) validate() []error {
	var errs []error

	for i, ct := range t.CommunityTools {
		if ct.Name == "" {
			errs = append(errs, fmt.Errorf("tools.community_tools[%d]: name is required", i))
		}
	}

	seen := make(map[string]bool)
	for i, s := range t.MCPServers {
		prefix := fmt.Sprintf("tools.mcp_servers[%d]", i)
		if s.Name == "" {
			errs = append(errs, fmt.Errorf("%s: name is required", prefix))
		} else if seen[s.Name] {
			errs = append(errs, fmt.Errorf("%s: duplicate server name %q", prefix, s.Name))
		}
		seen[s.Name] = true

		switch s.Transport {
		case "":
			if s.URL == "" && s.Command == "" {
				errs = append(errs, fmt.Errorf("%s: url or command is required", prefix))
			}
		case TransportStdio:
			if s.Command == "" {
				errs = append(errs, fmt.Errorf("%s: command is required for stdio transport", prefix))
			}
		case TransportStreamableHTTP, TransportHTTP:
			if s.URL == "" {
				errs = append(errs, fmt.Errorf("%s: url is required for %s transport", prefix, s.Transport))
			}
		default:
			errs = append(errs, fmt.Errorf("%s: unknown transport %q (valid: streamable_http, http, stdio)", prefix, s.Transport))
		}
	}

	return errs
}

func knownProvider(p string) bool {
	return p == "openai" || p == "ollama"
}
