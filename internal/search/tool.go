package search

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"
)

// Web search tool defaults.
const (
	DefaultAttempts   = 3
	DefaultRetryDelay = 3 * time.Second
	// MaxOutputChars bounds the text handed back to the model.
	MaxOutputChars = 1500
)

// Tool is the web_search implementation. Rate-limited searches are
// retried; any other failure is reported to the model as text.
type Tool struct {
	mgr      *Manager
	attempts int
	delay    time.Duration
	logger   *slog.Logger
}

// NewTool creates the web_search tool over mgr.
func NewTool(mgr *Manager, logger *slog.Logger) *Tool {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tool{mgr: mgr, attempts: DefaultAttempts, delay: DefaultRetryDelay, logger: logger}
}

// Parameters returns the JSON Schema parameters for the web_search tool.
func Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{"type": "string"},
		},
		"required": []any{"query"},
	}
}

// Call handles a web_search tool call.
func (t *Tool) Call(ctx context.Context, args map[string]any) (any, error) {
	query, _ := args["query"].(string)
	return t.Search(ctx, query), nil
}

// Search returns formatted results for query, or a "[search-error]"
// line when every attempt failed.
func (t *Tool) Search(ctx context.Context, query string) string {
	var err error
	for attempt := 1; attempt <= t.attempts; attempt++ {
		var results []Result
		results, err = t.mgr.Search(ctx, query, Options{})
		if err == nil {
			return truncate(FormatResults(results), MaxOutputChars)
		}
		if !rateLimited(err) || attempt == t.attempts {
			break
		}

		t.logger.Info("search rate limited, retrying", "attempt", attempt, "delay", t.delay)
		select {
		case <-ctx.Done():
			return "[search-error] " + ctx.Err().Error()
		case <-time.After(t.delay):
		}
	}
	return "[search-error] " + err.Error()
}

func rateLimited(err error) bool {
	return errors.Is(err, ErrRateLimited) || strings.Contains(err.Error(), "Ratelimit")
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
