package summarizer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/nugget/butler/internal/llm"
)

// mockLLMClient returns a canned summary and records the request.
type mockLLMClient struct {
	reply string
	err   error
	calls atomic.Int64

	model string
	msgs  []llm.Message
}

func (m *mockLLMClient) Chat(_ context.Context, model string, msgs []llm.Message, _ []map[string]any) (*llm.ChatResponse, error) {
	m.calls.Add(1)
	m.model, m.msgs = model, msgs
	if m.err != nil {
		return nil, m.err
	}
	return &llm.ChatResponse{Message: llm.Message{Role: llm.RoleAssistant, Content: m.reply}}, nil
}

func (m *mockLLMClient) Ping(context.Context) error { return nil }

type memSaver struct {
	saved []string
	err   error
}

func (s *memSaver) SaveSummary(text string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	s.saved = append(s.saved, text)
	return "/vault/Butler/summaries/session.md", nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func record() []llm.Message {
	return []llm.Message{
		llm.System("You are a butler."),
		llm.User("what's 2+2"),
		{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{{ID: "c1", Function: llm.FunctionCall{Name: "calculator"}}}},
		{Role: llm.RoleTool, ToolCallID: "c1", Content: "4"},
		{Role: llm.RoleAssistant, Content: "It is 4."},
	}
}

func TestSave(t *testing.T) {
	client := &mockLLMClient{reply: "  - The user asked for arithmetic.\n"}
	saver := &memSaver{}
	s := New(client, saver, quietLogger(), Config{Model: "cheap", AssistantName: "Jeeves"})

	if err := s.Save(context.Background(), record()); err != nil {
		t.Fatalf("Save: %v", err)
	}

	if client.model != "cheap" {
		t.Errorf("model = %q", client.model)
	}
	if len(client.msgs) != 2 || client.msgs[0].Role != llm.RoleSystem || !strings.Contains(client.msgs[0].Content, "**Jeeves**") {
		t.Fatalf("request = %+v", client.msgs)
	}
	if got, want := client.msgs[1].Content, "user: what's 2+2\nassistant: It is 4."; got != want {
		t.Errorf("transcript = %q, want %q", got, want)
	}
	if len(saver.saved) != 1 || saver.saved[0] != "- The user asked for arithmetic." {
		t.Errorf("saved = %q", saver.saved)
	}
}

func TestSave_NothingToSummarize(t *testing.T) {
	client := &mockLLMClient{reply: "x"}
	saver := &memSaver{}
	s := New(client, saver, quietLogger(), Config{})

	if err := s.Save(context.Background(), []llm.Message{llm.System("persona")}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if client.calls.Load() != 0 || len(saver.saved) != 0 {
		t.Error("empty record should not reach the model or the vault")
	}
}

func TestSave_Errors(t *testing.T) {
	tests := []struct {
		name   string
		client *mockLLMClient
		saver  *memSaver
		want   error
	}{
		{"llm failure", &mockLLMClient{err: errors.New("llm unavailable")}, &memSaver{}, nil},
		{"empty reply", &mockLLMClient{reply: "   "}, &memSaver{}, ErrEmptySummary},
		{"save failure", &mockLLMClient{reply: "ok"}, &memSaver{err: errors.New("disk full")}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New(tt.client, tt.saver, quietLogger(), Config{}).Save(context.Background(), record())
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
			if len(tt.saver.saved) != 0 {
				t.Error("nothing should be saved on failure")
			}
		})
	}
}

func TestBuildTranscript(t *testing.T) {
	transcript := buildTranscript(record())

	if strings.Contains(transcript, "butler") {
		t.Error("transcript should exclude system messages")
	}
	if strings.Contains(transcript, "4\n") || strings.Contains(transcript, "tool:") {
		t.Error("transcript should exclude tool messages")
	}
	if !strings.HasPrefix(transcript, "user: what's 2+2") {
		t.Errorf("transcript = %q", transcript)
	}
}

func TestBuildTranscript_KeepsTail(t *testing.T) {
	msgs := []llm.Message{
		llm.User("Should not appear " + strings.Repeat("x", maxTranscriptChars)),
		{Role: llm.RoleAssistant, Content: "the end é"},
	}

	transcript := buildTranscript(msgs)

	if n := len([]rune(transcript)); n != maxTranscriptChars {
		t.Errorf("len = %d runes, want %d", n, maxTranscriptChars)
	}
	if strings.Contains(transcript, "Should not appear") {
		t.Error("head of the conversation should be cut")
	}
	if !strings.HasSuffix(transcript, "assistant: the end é") {
		t.Errorf("tail = %q", transcript[len(transcript)-30:])
	}
}
