// Package mcp implements the client side of the Model Context Protocol,
// letting Butler use tools hosted by external MCP servers.
//
// MCP uses JSON-RPC 2.0 over two transports: stdio (subprocess) and
// streamable HTTP. The client discovers tools via tools/list and invokes
// them via tools/call. [Bridge] turns a server's tools into a tool set
// the registry builder merges with the native tools.
package mcp
