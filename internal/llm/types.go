package llm

import (
	"encoding/json"
	"log/slog"
)

// LevelTrace is below Debug, used for wire-level payload logging. It
// mirrors config.LevelTrace without importing config.
const LevelTrace = slog.Level(-8)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Finish reasons reported on a ChatResponse.
const (
	FinishToolCalls = "tool_calls"
	FinishStop      = "stop"
)

// Message is one entry of a conversation.
//
// Content may be empty on assistant messages that only carry tool calls.
// ToolCallID is set only on tool messages and ToolCalls only on assistant
// messages. Images holds base64 PNG payloads for vision requests.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Images     []string   `json:"images,omitempty"`
}

// ToolCall is one tool invocation requested by the model.
type ToolCall struct {
	ID       string       `json:"id"`
	Function FunctionCall `json:"function"`
}

// FunctionCall names the tool and carries its raw JSON arguments, exactly
// as the provider returned them. They may not parse.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ParseArguments decodes the raw arguments into a map. An empty string
// decodes to an empty map.
func (f FunctionCall) ParseArguments() (map[string]any, error) {
	if f.Arguments == "" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(f.Arguments), &args); err != nil {
		return nil, err
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}

// ChatResponse is the provider-neutral completion result.
type ChatResponse struct {
	Model        string
	Message      Message
	FinishReason string

	InputTokens  int
	OutputTokens int
}

// WantsTools reports whether the model stopped to request tool calls.
func (r *ChatResponse) WantsTools() bool {
	return r.FinishReason == FinishToolCalls && len(r.Message.ToolCalls) > 0
}

// System returns a system message.
func System(content string) Message { return Message{Role: RoleSystem, Content: content} }

// User returns a user message.
func User(content string) Message { return Message{Role: RoleUser, Content: content} }

// toolNames extracts function names from tool schema envelopes.
func toolNames(tools []map[string]any) []string {
	if len(tools) == 0 {
		return nil
	}
	names := make([]string, 0, len(tools))
	for _, t := range tools {
		fn, ok := t["function"].(map[string]any)
		if !ok {
			continue
		}
		if name, ok := fn["name"].(string); ok && name != "" {
			names = append(names, name)
		}
	}
	return names
}
