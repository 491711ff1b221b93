package mcp

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nugget/butler/internal/config"
	"github.com/nugget/butler/internal/tools"
)

// Source returns the category name for tools bridged from a server.
func Source(serverName string) string {
	return "mcp:" + serverName
}

// Bridge lists the server's tools and returns them as a tool set.
//
// Tools keep their MCP names. When srv.Tools is nil every tool is
// bridged; otherwise only tools listed there and enabled are, with any
// override applied to name, description or parameters.
func Bridge(ctx context.Context, client *Client, srv config.MCPServerConfig, logger *slog.Logger) (*tools.Set, error) {
	if logger == nil {
		logger = slog.Default()
	}

	mcpTools, err := client.ListTools(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tools from %s: %w", srv.Name, err)
	}

	var filter map[string]config.MCPToolConfig
	if srv.Tools != nil {
		filter = make(map[string]config.MCPToolConfig, len(srv.Tools))
		for _, tc := range srv.Tools {
			filter[tc.Name] = tc
		}
	}

	set := tools.NewSet(Source(srv.Name))
	for _, td := range mcpTools {
		name, desc, params := td.Name, td.Description, td.InputSchema

		if filter != nil {
			tc, ok := filter[td.Name]
			if !ok || !tc.IsEnabled() {
				logger.Debug("MCP tool not enabled", "mcp_name", td.Name, "server", srv.Name)
				continue
			}
			if o := tc.Override; o != nil {
				if o.Name != "" {
					name = o.Name
				}
				if o.Description != "" {
					desc = o.Description
				}
				if o.Parameters != nil {
					params = o.Parameters
				}
			}
		}
		if params == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}

		set.Add(name, desc, params, bridgeTool(client, td.Name))
		logger.Debug("bridged MCP tool",
			"mcp_name", td.Name,
			"butler_name", name,
			"server", srv.Name,
		)
	}

	return set, nil
}

// bridgeTool proxies calls to the server under the tool's MCP name,
// which stays fixed even when the tool is renamed locally.
func bridgeTool(client *Client, mcpName string) tools.Impl {
	return tools.Func(func(ctx context.Context, args map[string]any) (any, error) {
		if args == nil {
			args = map[string]any{}
		}
		return client.CallTool(ctx, mcpName, args)
	})
}

// Load connects to every enabled server and bridges its tools. A server
// that cannot be reached contributes nothing; the failure is logged. The
// returned clients must be closed by the caller.
func Load(ctx context.Context, servers []config.MCPServerConfig, logger *slog.Logger) ([]*tools.Set, []*Client) {
	if logger == nil {
		logger = slog.Default()
	}

	var (
		sets    []*tools.Set
		clients []*Client
	)
	for _, srv := range servers {
		if !srv.IsEnabled() {
			continue
		}
		log := logger.With("mcp_server", srv.Name)

		client, err := Connect(ctx, srv, logger)
		if err != nil {
			log.Warn("MCP server unavailable, skipping", "error", err)
			continue
		}
		set, err := Bridge(ctx, client, srv, logger)
		if err != nil {
			log.Warn("MCP tool discovery failed, skipping", "error", err)
			client.Close()
			continue
		}

		log.Info("MCP tools loaded", "count", set.Len())
		sets = append(sets, set)
		clients = append(clients, client)
	}
	return sets, clients
}
