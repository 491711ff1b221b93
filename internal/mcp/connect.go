package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/nugget/butler/internal/config"
)

// NewTransport builds the transport a server entry asks for.
func NewTransport(srv config.MCPServerConfig, logger *slog.Logger) (Transport, error) {
	switch srv.Transport {
	case config.TransportStreamableHTTP, config.TransportHTTP, "":
		if srv.URL == "" {
			if srv.Command != "" && srv.Transport == "" {
				return newStdio(srv, logger), nil
			}
			return nil, fmt.Errorf("mcp server %q: url is required for %s transport", srv.Name, config.TransportStreamableHTTP)
		}
		return NewHTTPTransport(HTTPConfig{
			URL:     srv.URL,
			Headers: srv.Headers,
			Logger:  logger,
		}), nil
	case config.TransportStdio:
		if srv.Command == "" {
			return nil, fmt.Errorf("mcp server %q: command is required for stdio transport", srv.Name)
		}
		return newStdio(srv, logger), nil
	default:
		return nil, fmt.Errorf("mcp server %q: unknown transport %q", srv.Name, srv.Transport)
	}
}

func newStdio(srv config.MCPServerConfig, logger *slog.Logger) *StdioTransport {
	return NewStdioTransport(StdioConfig{
		Command: srv.Command,
		Args:    srv.Args,
		Env:     srv.Env,
		Logger:  logger,
	})
}

// Connect opens a client for srv and completes the handshake. Servers
// with missing required environment variables are refused before any
// process is started or request sent.
func Connect(ctx context.Context, srv config.MCPServerConfig, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	for _, name := range srv.RequiredEnvVars {
		if os.Getenv(name) == "" {
			return nil, fmt.Errorf("mcp server %q: required environment variable %s is not set", srv.Name, name)
		}
	}

	tlog := logger.With("mcp_server", srv.Name)
	transport, err := NewTransport(srv, tlog)
	if err != nil {
		return nil, err
	}

	client := NewClient(srv.Name, transport, logger)
	if err := client.Initialize(ctx); err != nil {
		transport.Close()
		return nil, fmt.Errorf("mcp server %q: %w", srv.Name, err)
	}
	return client, nil
}
