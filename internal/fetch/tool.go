package fetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nugget/butler/internal/llm"
	"github.com/nugget/butler/internal/prompts"
)

// Page tool limits, in characters.
const (
	summaryInputChars = 4000
	snippetChars      = 2000
)

// Fixed fetch_page replies.
const (
	NoReadableText    = "[fetch_page] no readable text."
	UnsupportedScheme = "fetch_page only supports http/https URLs."
)

// PageTool fetches a page, digests it with the given model and returns
// the title, URL, summary and the start of the text.
type PageTool struct {
	fetcher *Fetcher
	client  llm.Client
	model   string
	logger  *slog.Logger
}

// NewPageTool creates the fetch_page implementation.
func NewPageTool(f *Fetcher, client llm.Client, model string, logger *slog.Logger) *PageTool {
	if logger == nil {
		logger = slog.Default()
	}
	return &PageTool{fetcher: f, client: client, model: model, logger: logger}
}

// Parameters is the fetch_page argument schema.
func Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url": map[string]any{"type": "string"},
		},
		"required": []any{"url"},
	}
}

// Call handles a fetch_page tool call.
func (p *PageTool) Call(ctx context.Context, args map[string]any) (any, error) {
	url, _ := args["url"].(string)
	url = strings.TrimSpace(url)
	p.logger.Info("fetching page", "url", url)

	res, err := p.fetcher.Fetch(ctx, url, DefaultMaxChars)
	if errors.Is(err, ErrUnsupportedScheme) {
		return UnsupportedScheme, nil
	}
	if err != nil {
		return nil, err
	}

	text := strings.Join(strings.Fields(res.Content), " ")
	if text == "" {
		return NoReadableText, nil
	}
	title := res.Title
	if title == "" {
		title = "(no title)"
	}

	resp, err := p.client.Chat(ctx, p.model, []llm.Message{
		llm.System(prompts.PageSummarySystem),
		llm.User(prompts.PageSummary(title, truncateUTF8(text, summaryInputChars))),
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("summarize page: %w", err)
	}

	return fmt.Sprintf("PAGE_TITLE: %s\nURL: %s\n\nSUMMARY:\n%s\n\nCONTENT_SNIPPET:\n%s",
		title, url, strings.TrimSpace(resp.Message.Content), truncateUTF8(text, snippetChars)), nil
}
