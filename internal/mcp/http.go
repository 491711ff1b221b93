package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/nugget/butler/internal/httpkit"
)

const (
	// sessionHeader carries the server-assigned session id.
	sessionHeader = "Mcp-Session-Id"

	maxReplyBytes = 10 << 20
	maxErrorBytes = 64 << 10
)

// HTTPConfig describes a streamable HTTP server.
type HTTPConfig struct {
	URL        string
	Headers    map[string]string // sent with every request, e.g. Authorization
	HTTPClient *http.Client      // defaults to an httpkit client
	Logger     *slog.Logger
}

// HTTPTransport posts each message to the server endpoint. Replies come
// back as a JSON body or as an event stream that may carry server
// notifications ahead of the reply.
type HTTPTransport struct {
	url     string
	headers map[string]string
	client  *http.Client
	logger  *slog.Logger

	mu      sync.RWMutex
	session string
}

// NewHTTPTransport returns a transport for cfg.
func NewHTTPTransport(cfg HTTPConfig) *HTTPTransport {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	client := cfg.HTTPClient
	if client == nil {
		client = httpkit.NewClient(httpkit.WithLogger(logger))
	}
	return &HTTPTransport{url: cfg.URL, headers: cfg.Headers, client: client, logger: logger}
}

// RoundTrip posts req. Notifications succeed on 200 or 202.
func (t *HTTPTransport) RoundTrip(ctx context.Context, req *Request) (*Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", req.Method, err)
	}
	httpReq, err := t.newRequest(ctx, http.MethodPost, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json, text/event-stream")

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("post %s: %w", req.Method, err)
	}
	defer httpkit.DrainAndClose(resp.Body, maxReplyBytes)

	if sid := resp.Header.Get(sessionHeader); sid != "" {
		t.mu.Lock()
		t.session = sid
		t.mu.Unlock()
	}

	if req.IsNotification() {
		if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
			return nil, fmt.Errorf("%s: server returned %d: %s", req.Method, resp.StatusCode, httpkit.ReadErrorBody(resp.Body, maxErrorBytes))
		}
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: server returned %d: %s", req.Method, resp.StatusCode, httpkit.ReadErrorBody(resp.Body, maxErrorBytes))
	}

	r := io.LimitReader(resp.Body, maxReplyBytes)
	if mt, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type")); mt == "text/event-stream" {
		return t.readEvents(r, *req.ID)
	}

	var reply Response
	if err := json.NewDecoder(r).Decode(&reply); err != nil {
		return nil, fmt.Errorf("decode %s reply: %w", req.Method, err)
	}
	return &reply, nil
}

// Close ends the server-side session, if one was assigned. Servers that
// do not support termination answer 405, which is fine.
func (t *HTTPTransport) Close() error {
	t.mu.Lock()
	sid := t.session
	t.session = ""
	t.mu.Unlock()
	if sid == "" {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := t.newRequest(ctx, http.MethodDelete, nil)
	if err != nil {
		return err
	}
	req.Header.Set(sessionHeader, sid)

	resp, err := t.client.Do(req)
	if err != nil {
		t.logger.Debug("MCP session termination failed", "error", err)
		return nil
	}
	httpkit.DrainAndClose(resp.Body, maxErrorBytes)
	return nil
}

func (t *HTTPTransport) newRequest(ctx context.Context, method string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, t.url, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}
	t.mu.RLock()
	if t.session != "" {
		req.Header.Set(sessionHeader, t.session)
	}
	t.mu.RUnlock()
	return req, nil
}

// readEvents scans a server-sent event stream for the reply to id.
// Events end at a blank line; multi-line data fields join with "\n".
func (t *HTTPTransport) readEvents(r io.Reader, id int64) (*Response, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxReplyBytes)

	var data []string
	event := func() *Response {
		if len(data) == 0 {
			return nil
		}
		payload := strings.Join(data, "\n")
		data = data[:0]

		var msg Response
		if err := json.Unmarshal([]byte(payload), &msg); err != nil {
			t.logger.Debug("skipping non-JSON MCP event", "data", payload)
			return nil
		}
		if !msg.answers(id) {
			t.logger.Debug("skipping MCP event", "method", msg.Method)
			return nil
		}
		return &msg
	}

	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			if msg := event(); msg != nil {
				return msg, nil
			}
			continue
		}
		if v, ok := strings.CutPrefix(line, "data:"); ok {
			data = append(data, strings.TrimPrefix(v, " "))
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read event stream: %w", err)
	}
	if msg := event(); msg != nil {
		return msg, nil
	}
	return nil, fmt.Errorf("event stream ended without a reply to request %d", id)
}
