package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/nugget/butler/internal/buildinfo"
)

// protocolVersion is the revision that introduced streamable HTTP.
const protocolVersion = "2025-03-26"

// maxListPages bounds tools/list pagination against a server that keeps
// handing out cursors.
const maxListPages = 50

// RemoteTool is a tool advertised by a server's tools/list.
type RemoteTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

// Content is one item of a tools/call result.
type Content struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

type toolsPage struct {
	Tools      []RemoteTool `json:"tools"`
	NextCursor string       `json:"nextCursor,omitempty"`
}

type callResult struct {
	Content []Content `json:"content"`
	IsError bool      `json:"isError,omitempty"`
}

type initializeResult struct {
	ProtocolVersion string `json:"protocolVersion"`
	ServerInfo      struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	} `json:"serverInfo"`
	Capabilities struct {
		Tools *struct{} `json:"tools,omitempty"`
	} `json:"capabilities"`
}

// ToolError is a tools/call that reached the server and failed there.
// The text is whatever the server reported.
type ToolError struct {
	Server string
	Tool   string
	Text   string
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("mcp tool %s on %s failed: %s", e.Tool, e.Server, e.Text)
}

// Client speaks MCP to a single server.
type Client struct {
	name      string
	transport Transport
	logger    *slog.Logger
	lastID    atomic.Int64

	mu            sync.RWMutex
	serverName    string
	serverVersion string
	ready         bool
}

// NewClient wraps transport. Call Initialize before anything else.
func NewClient(name string, transport Transport, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		name:      name,
		transport: transport,
		logger:    logger.With("mcp_server", name),
	}
}

// Name returns the configured server name.
func (c *Client) Name() string { return c.name }

// Server returns what the server reported about itself. ok is false
// until Initialize succeeds.
func (c *Client) Server() (name, version string, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.serverName, c.serverVersion, c.ready
}

// Initialize runs the handshake: initialize, then the initialized
// notification.
func (c *Client) Initialize(ctx context.Context) error {
	var res initializeResult
	err := c.call(ctx, "initialize", map[string]any{
		"protocolVersion": protocolVersion,
		"capabilities":    map[string]any{},
		"clientInfo":      map[string]any{"name": "butler", "version": buildinfo.Version},
	}, &res)
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}

	if _, err := c.transport.RoundTrip(ctx, notification("notifications/initialized", nil)); err != nil {
		return fmt.Errorf("initialized notification: %w", err)
	}

	c.mu.Lock()
	c.serverName = res.ServerInfo.Name
	c.serverVersion = res.ServerInfo.Version
	c.ready = true
	c.mu.Unlock()

	c.logger.Info("MCP server initialized",
		"server_name", res.ServerInfo.Name,
		"server_version", res.ServerInfo.Version,
		"protocol_version", res.ProtocolVersion,
		"tools_capability", res.Capabilities.Tools != nil,
	)
	return nil
}

// ListTools returns every tool the server offers, following pagination
// cursors.
func (c *Client) ListTools(ctx context.Context) ([]RemoteTool, error) {
	var (
		all    []RemoteTool
		cursor string
	)
	for range maxListPages {
		var params any
		if cursor != "" {
			params = map[string]any{"cursor": cursor}
		}
		var page toolsPage
		if err := c.call(ctx, "tools/list", params, &page); err != nil {
			return nil, fmt.Errorf("tools/list: %w", err)
		}
		all = append(all, page.Tools...)
		if page.NextCursor == "" {
			c.logger.Debug("listed MCP tools", "count", len(all))
			return all, nil
		}
		cursor = page.NextCursor
	}
	return nil, fmt.Errorf("tools/list: more than %d pages", maxListPages)
}

// CallTool runs a tool and returns its content flattened to text.
// A result flagged isError comes back as a *ToolError.
func (c *Client) CallTool(ctx context.Context, tool string, args map[string]any) (string, error) {
	if args == nil {
		args = map[string]any{}
	}
	var res callResult
	if err := c.call(ctx, "tools/call", map[string]any{"name": tool, "arguments": args}, &res); err != nil {
		return "", fmt.Errorf("tools/call %s: %w", tool, err)
	}

	text := flatten(res.Content)
	if res.IsError {
		return "", &ToolError{Server: c.name, Tool: tool, Text: text}
	}
	return text, nil
}

// Ping checks that the server still answers.
func (c *Client) Ping(ctx context.Context) error {
	return c.call(ctx, "ping", nil, nil)
}

// Close shuts the transport down.
func (c *Client) Close() error {
	c.logger.Debug("closing MCP client")
	return c.transport.Close()
}

// call sends method and decodes the result into out, which may be nil.
func (c *Client) call(ctx context.Context, method string, params, out any) error {
	id := c.lastID.Add(1)
	resp, err := c.transport.RoundTrip(ctx, call(id, method, params))
	if err != nil {
		return err
	}
	if resp == nil {
		return fmt.Errorf("no reply to %s", method)
	}
	if resp.Error != nil {
		return resp.Error
	}
	if out == nil || len(resp.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Result, out); err != nil {
		return fmt.Errorf("decode %s result: %w", method, err)
	}
	return nil
}

// flatten joins text items with newlines and stands in a bracketed
// marker for anything else.
func flatten(items []Content) string {
	parts := make([]string, 0, len(items))
	for _, it := range items {
		switch {
		case it.Type == "text":
			parts = append(parts, it.Text)
		case it.MimeType != "":
			parts = append(parts, fmt.Sprintf("[%s %s]", it.Type, it.MimeType))
		default:
			parts = append(parts, "["+it.Type+"]")
		}
	}
	return strings.Join(parts, "\n")
}
