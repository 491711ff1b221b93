// Package summarizer turns a finished conversation into a first-person
// session log and stores it in the vault, so later sessions can be
// seeded with what happened before.
package summarizer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nugget/butler/internal/llm"
	"github.com/nugget/butler/internal/prompts"
)

// ErrEmptySummary is returned when the model produced no summary text.
var ErrEmptySummary = errors.New("model returned an empty summary")

// Saver stores a finished summary. *vault.Vault implements it.
type Saver interface {
	SaveSummary(text string) (string, error)
}

// Config controls summary generation.
type Config struct {
	// Model is the model that writes the summary, normally the cheap one.
	Model string

	// AssistantName is the voice the summary is written in.
	AssistantName string

	// Timeout bounds the completion call.
	// Default: 60 seconds.
	Timeout time.Duration
}

// DefaultConfig returns sensible defaults for the summarizer.
func DefaultConfig() Config {
	return Config{
		AssistantName: "Butler",
		Timeout:       60 * time.Second,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.AssistantName == "" {
		c.AssistantName = d.AssistantName
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
}

// maxTranscriptChars is how much of the end of a conversation is sent
// to the model.
const maxTranscriptChars = 8000

// Summarizer writes session summaries.
type Summarizer struct {
	client llm.Client
	saver  Saver
	logger *slog.Logger
	config Config
}

// New creates a summarizer that completes with client and stores
// through saver.
func New(client llm.Client, saver Saver, logger *slog.Logger, cfg Config) *Summarizer {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.applyDefaults()
	return &Summarizer{
		client: client,
		saver:  saver,
		logger: logger.With("component", "summarizer"),
		config: cfg,
	}
}

// Save summarizes record and stores the result. A record without user
// or assistant text is not summarized and Save returns nil.
func (s *Summarizer) Save(ctx context.Context, record []llm.Message) error {
	transcript := buildTranscript(record)
	if transcript == "" {
		s.logger.Debug("nothing to summarize")
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	msgs := []llm.Message{
		llm.System(prompts.SessionSummary(s.config.AssistantName)),
		llm.User(transcript),
	}
	resp, err := s.client.Chat(ctx, s.config.Model, msgs, nil)
	if err != nil {
		return fmt.Errorf("generate summary: %w", err)
	}

	summary := strings.TrimSpace(resp.Message.Content)
	if summary == "" {
		return ErrEmptySummary
	}

	path, err := s.saver.SaveSummary(summary)
	if err != nil {
		return fmt.Errorf("save summary: %w", err)
	}

	s.logger.Info("session summary generated",
		"model", s.config.Model,
		"path", path,
		"chars", len(summary),
	)
	return nil
}

// buildTranscript renders the user and assistant messages as
// "role: content" lines and keeps the last maxTranscriptChars runes.
func buildTranscript(record []llm.Message) string {
	var parts []string
	for _, m := range record {
		if m.Role != llm.RoleUser && m.Role != llm.RoleAssistant {
			continue
		}
		// Assistant messages that only carried tool calls add nothing.
		if m.Role == llm.RoleAssistant && m.Content == "" && len(m.ToolCalls) > 0 {
			continue
		}
		parts = append(parts, m.Role+": "+m.Content)
	}
	if len(parts) == 0 {
		return ""
	}

	text := strings.Join(parts, "\n")
	if r := []rune(text); len(r) > maxTranscriptChars {
		text = string(r[len(r)-maxTranscriptChars:])
	}
	return text
}
