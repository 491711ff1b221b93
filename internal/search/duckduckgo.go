package search

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/tmc/langchaingo/tools/duckduckgo"

	"github.com/nugget/butler/internal/buildinfo"
	"github.com/nugget/butler/internal/httpkit"
)

// noResults is what the langchaingo tool answers when the page had no
// usable hits.
const noResults = "No good DuckDuckGo Search Results was found"

// DuckDuckGo implements the Provider interface by scraping the
// DuckDuckGo HTML endpoint through langchaingo. It needs no API key.
type DuckDuckGo struct {
	tool *duckduckgo.Tool
}

// NewDuckDuckGo creates a DuckDuckGo provider returning at most
// maxResults hits. A nil httpClient selects a default client.
func NewDuckDuckGo(maxResults int, httpClient *http.Client) (*DuckDuckGo, error) {
	if maxResults <= 0 {
		maxResults = 5
	}
	if httpClient == nil {
		httpClient = httpkit.NewClient(httpkit.WithTimeout(15 * time.Second))
	}
	tool, err := duckduckgo.New(maxResults, buildinfo.UserAgent(), duckduckgo.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("duckduckgo: %w", err)
	}
	return &DuckDuckGo{tool: tool}, nil
}

func (d *DuckDuckGo) Name() string { return "duckduckgo" }

// Search runs the query. Count and Language are not supported by the
// HTML endpoint; the result count is fixed at construction.
func (d *DuckDuckGo) Search(ctx context.Context, query string, _ Options) ([]Result, error) {
	out, err := d.tool.Call(ctx, query)
	if err != nil {
		// DuckDuckGo answers throttled clients with 202 and an empty page.
		msg := err.Error()
		if strings.Contains(msg, "responded with 202") || strings.Contains(msg, "responded with 429") {
			return nil, fmt.Errorf("duckduckgo: %w", ErrRateLimited)
		}
		return nil, fmt.Errorf("duckduckgo: %w", err)
	}
	if strings.TrimSpace(out) == noResults {
		return []Result{}, nil
	}
	return parseDuckDuckGo(out), nil
}

// parseDuckDuckGo turns the tool's "Title:/Description:/URL:" blocks
// back into results.
func parseDuckDuckGo(out string) []Result {
	results := []Result{}
	var cur *Result
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "Title:"):
			results = append(results, Result{Title: strings.TrimSpace(strings.TrimPrefix(line, "Title:"))})
			cur = &results[len(results)-1]
		case cur == nil || line == "":
		case strings.HasPrefix(line, "Description:"):
			cur.Snippet = strings.TrimSpace(strings.TrimPrefix(line, "Description:"))
		case strings.HasPrefix(line, "URL:"):
			cur.URL = strings.TrimSpace(strings.TrimPrefix(line, "URL:"))
		default:
			// Snippets occasionally span lines.
			cur.Snippet = strings.TrimSpace(cur.Snippet + " " + line)
		}
	}
	return results
}
