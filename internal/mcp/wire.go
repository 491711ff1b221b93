package mcp

import (
	"context"
	"encoding/json"
	"fmt"
)

// Standard JSON-RPC 2.0 error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// Request is an outgoing JSON-RPC 2.0 message. A Request without an ID
// is a notification and gets no reply.
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      *int64 `json:"id,omitempty"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

func call(id int64, method string, params any) *Request {
	return &Request{JSONRPC: "2.0", ID: &id, Method: method, Params: params}
}

func notification(method string, params any) *Request {
	return &Request{JSONRPC: "2.0", Method: method, Params: params}
}

// IsNotification reports whether r expects no reply.
func (r *Request) IsNotification() bool { return r.ID == nil }

// Response is an incoming JSON-RPC 2.0 message. Servers also send their
// own notifications and requests down the same channel; those carry a
// Method and are skipped by the transports.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// answers reports whether m is the reply to request id.
func (m *Response) answers(id int64) bool {
	return m.Method == "" && m.ID != nil && *m.ID == id
}

// RPCError is the error object of a failed call.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("mcp: rpc error %d: %s", e.Code, e.Message)
}

// Transport carries JSON-RPC messages to one MCP server.
type Transport interface {
	// RoundTrip sends req and waits for its reply. Notifications return
	// a nil Response once the message has been handed to the server.
	RoundTrip(ctx context.Context, req *Request) (*Response, error)

	// Close releases the connection. Stdio transports stop the
	// subprocess.
	Close() error
}
