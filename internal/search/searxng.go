package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nugget/butler/internal/buildinfo"
	"github.com/nugget/butler/internal/config"
	"github.com/nugget/butler/internal/httpkit"
)

// SearXNG queries the JSON API of a SearXNG instance.
type SearXNG struct {
	endpoint   string
	categories string
	engines    string
	client     *http.Client
}

// NewSearXNG returns a provider for the instance at cfg.URL.
func NewSearXNG(cfg config.SearXNGConfig) *SearXNG {
	return &SearXNG{
		endpoint:   strings.TrimRight(cfg.URL, "/") + "/search",
		categories: strings.Join(cfg.Categories, ","),
		engines:    strings.Join(cfg.Engines, ","),
		client: httpkit.NewClient(
			httpkit.WithTimeout(15*time.Second),
			httpkit.WithUserAgent(buildinfo.UserAgent()),
		),
	}
}

func (s *SearXNG) Name() string { return "searxng" }

type searxngPage struct {
	Results []struct {
		Title   string `json:"title"`
		URL     string `json:"url"`
		Content string `json:"content"`
	} `json:"results"`
}

// Search runs query and returns up to opts.Count results (5 by default),
// skipping results without a URL and repeats of the same URL.
func (s *SearXNG) Search(ctx context.Context, query string, opts Options) ([]Result, error) {
	q := url.Values{"q": {query}, "format": {"json"}}
	if opts.Language != "" {
		q.Set("language", opts.Language)
	}
	if s.categories != "" {
		q.Set("categories", s.categories)
	}
	if s.engines != "" {
		q.Set("engines", s.engines)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("searxng: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("searxng: %w", err)
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("searxng: %w", ErrRateLimited)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("searxng: HTTP %d: %s", resp.StatusCode, httpkit.ReadErrorBody(resp.Body, 512))
	}

	var page searxngPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("searxng: decode response: %w", err)
	}

	limit := opts.Count
	if limit <= 0 {
		limit = 5
	}
	seen := make(map[string]bool, len(page.Results))
	var out []Result
	for _, r := range page.Results {
		if len(out) == limit {
			break
		}
		if r.URL == "" || seen[r.URL] {
			continue
		}
		seen[r.URL] = true
		out = append(out, Result{Title: r.Title, URL: r.URL, Snippet: r.Content})
	}
	return out, nil
}
