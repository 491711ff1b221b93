package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/nugget/butler/internal/httpkit"
)

// OllamaClient is a client for the Ollama API.
type OllamaClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	seq        atomic.Uint64
}

// NewOllamaClient creates a new Ollama client.
func NewOllamaClient(baseURL string, logger *slog.Logger) *OllamaClient {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OllamaClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		// Large models with tools need time.
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(5*time.Minute),
			httpkit.WithRetry(2, time.Second),
			httpkit.WithLogger(logger),
		),
		logger: logger,
	}
}

type ollamaRequest struct {
	Model    string           `json:"model"`
	Messages []ollamaMessage  `json:"messages"`
	Stream   bool             `json:"stream"`
	Tools    []map[string]any `json:"tools,omitempty"`
}

type ollamaMessage struct {
	Role       string           `json:"role"`
	Content    string           `json:"content"`
	ToolCalls  []ollamaToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
	Images     []string         `json:"images,omitempty"`
}

type ollamaToolCall struct {
	Function struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"` // Ollama sends an object, not a string
	} `json:"function"`
}

type ollamaResponse struct {
	Model           string        `json:"model"`
	Message         ollamaMessage `json:"message"`
	Done            bool          `json:"done"`
	DoneReason      string        `json:"done_reason,omitempty"`
	PromptEvalCount int           `json:"prompt_eval_count,omitempty"`
	EvalCount       int           `json:"eval_count,omitempty"`
}

// Chat sends a non-streaming chat completion request to Ollama.
func (c *OllamaClient) Chat(ctx context.Context, model string, messages []Message, tools []map[string]any) (*ChatResponse, error) {
	req := ollamaRequest{
		Model:    model,
		Messages: toOllamaMessages(messages),
		Tools:    tools,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	c.logger.Log(ctx, LevelTrace, "ollama request", "model", model, "body", string(body))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("ollama chat: %w", err)
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ollama API error %d: %s", resp.StatusCode, httpkit.ReadErrorBody(resp.Body, 1024))
	}

	var wire ollamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	out := &ChatResponse{
		Model:        wire.Model,
		InputTokens:  wire.PromptEvalCount,
		OutputTokens: wire.EvalCount,
		Message: Message{
			Role:    RoleAssistant,
			Content: wire.Message.Content,
		},
	}

	calls := wire.Message.ToolCalls
	if len(calls) == 0 && len(tools) > 0 && out.Message.Content != "" {
		// Smaller models often print the call instead of using tool_calls.
		if parsed := parseTextToolCalls(out.Message.Content, toolNames(tools)); len(parsed) > 0 {
			calls = parsed
			out.Message.Content = ""
		}
	}

	for _, tc := range calls {
		args := []byte("{}")
		if tc.Function.Arguments != nil {
			if b, err := json.Marshal(tc.Function.Arguments); err == nil {
				args = b
			}
		}
		out.Message.ToolCalls = append(out.Message.ToolCalls, ToolCall{
			ID: fmt.Sprintf("call_%d", c.seq.Add(1)),
			Function: FunctionCall{
				Name:      tc.Function.Name,
				Arguments: string(args),
			},
		})
	}

	if len(out.Message.ToolCalls) > 0 {
		out.FinishReason = FinishToolCalls
	} else {
		out.FinishReason = FinishStop
	}

	return out, nil
}

func toOllamaMessages(messages []Message) []ollamaMessage {
	out := make([]ollamaMessage, 0, len(messages))
	for _, m := range messages {
		om := ollamaMessage{
			Role:       m.Role,
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
			Images:     m.Images,
		}
		for _, tc := range m.ToolCalls {
			var wc ollamaToolCall
			wc.Function.Name = tc.Function.Name
			if args, err := tc.Function.ParseArguments(); err == nil {
				wc.Function.Arguments = args
			} else {
				wc.Function.Arguments = map[string]any{}
			}
			om.ToolCalls = append(om.ToolCalls, wc)
		}
		out = append(out, om)
	}
	return out
}

// parseTextToolCalls extracts tool calls a model wrote into its content.
// Handled forms:
//   - {"name": "...", "arguments": {...}}, possibly several concatenated
//   - [{"name": "...", "arguments": {...}}, ...]
//   - <tool_call>...</tool_call>
//   - tool_name {json}
//
// When validTools is non-empty, calls to other names are ignored.
func parseTextToolCalls(content string, validTools []string) []ollamaToolCall {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}

	if start := strings.Index(content, "<tool_call>"); start != -1 {
		rest := content[start+len("<tool_call>"):]
		if end := strings.Index(rest, "</tool_call>"); end != -1 {
			rest = rest[:end]
		}
		content = strings.TrimSpace(rest)
	}

	valid := func(name string) bool {
		if name == "" {
			return false
		}
		if len(validTools) == 0 {
			return true
		}
		for _, v := range validTools {
			if v == name {
				return true
			}
		}
		return false
	}

	type textCall struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	}
	toCall := func(tc textCall) ollamaToolCall {
		var c ollamaToolCall
		c.Function.Name = tc.Name
		c.Function.Arguments = tc.Arguments
		return c
	}

	if strings.HasPrefix(content, "[") {
		var arr []textCall
		if err := json.Unmarshal([]byte(content), &arr); err == nil {
			var out []ollamaToolCall
			for _, tc := range arr {
				if valid(tc.Name) {
					out = append(out, toCall(tc))
				}
			}
			return out
		}
		return nil
	}

	if strings.HasPrefix(content, "{") {
		var out []ollamaToolCall
		dec := json.NewDecoder(strings.NewReader(content))
		for dec.More() {
			var tc textCall
			if err := dec.Decode(&tc); err != nil {
				break
			}
			if valid(tc.Name) {
				out = append(out, toCall(tc))
			}
		}
		return out
	}

	// tool_name {json}
	name, rest, ok := strings.Cut(content, " ")
	if !ok || len(validTools) == 0 || !valid(name) {
		return nil
	}
	var args map[string]any
	if err := json.NewDecoder(strings.NewReader(strings.TrimSpace(rest))).Decode(&args); err != nil {
		return nil
	}
	return []ollamaToolCall{toCall(textCall{Name: name, Arguments: args})}
}

// Ping checks if Ollama is reachable.
func (c *OllamaClient) Ping(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("API error %d", resp.StatusCode)
	}
	return nil
}
