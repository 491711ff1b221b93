package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nugget/butler/internal/embeddings"
	"github.com/nugget/butler/internal/llm"
	"github.com/nugget/butler/internal/prompts"
	"github.com/nugget/butler/internal/tools"
)

// Result is one search hit as the model sees it.
type Result struct {
	RelativePath   string `json:"relative_path"`
	ContentSnippet string `json:"content_snippet"`
	Tags           string `json:"tags"`
}

// Searcher answers semantic queries against a Store.
type Searcher struct {
	store  *Store
	gen    embeddings.Generator
	client llm.Client
	model  string
	k      int
	logger *slog.Logger
}

// NewSearcher creates a searcher returning k hits. client and model are
// used for compression and may be empty when compression is not needed.
func NewSearcher(store *Store, gen embeddings.Generator, client llm.Client, model string, k int, logger *slog.Logger) *Searcher {
	if logger == nil {
		logger = slog.Default()
	}
	if k <= 0 {
		k = 5
	}
	return &Searcher{store: store, gen: gen, client: client, model: model, k: k, logger: logger}
}

// Search returns the hits most similar to query. With compress set, each
// hit is reduced to the parts relevant to the query and hits with none
// are dropped.
func (s *Searcher) Search(ctx context.Context, query string, compress bool) ([]Result, error) {
	hits, err := s.lookup(ctx, query, "")
	if err != nil {
		return nil, err
	}
	if compress && s.client != nil {
		hits = s.compress(ctx, query, hits)
	}
	return format(hits), nil
}

// SearchTag is Search restricted to notes carrying tag.
func (s *Searcher) SearchTag(ctx context.Context, query, tag string) ([]Result, error) {
	hits, err := s.lookup(ctx, query, strings.TrimPrefix(tag, "#"))
	if err != nil {
		return nil, err
	}
	return format(hits), nil
}

func (s *Searcher) lookup(ctx context.Context, query, tag string) ([]Chunk, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("query is required")
	}
	vec, err := s.gen.Generate(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	hits, err := s.store.Search(ctx, vec, s.k, tag)
	if err != nil {
		return nil, fmt.Errorf("search index: %w", err)
	}
	s.logger.Debug("semantic search", "query", query, "tag", tag, "hits", len(hits))
	return hits, nil
}

// compress asks the model for the relevant parts of each hit. A hit the
// model fails on is kept whole.
func (s *Searcher) compress(ctx context.Context, query string, hits []Chunk) []Chunk {
	out := hits[:0]
	for _, h := range hits {
		resp, err := s.client.Chat(ctx, s.model, []llm.Message{
			llm.User(prompts.Compression(query, h.Content)),
		}, nil)
		if err != nil {
			s.logger.Warn("compression failed, keeping hit", "path", h.Path, "error", err)
			out = append(out, h)
			continue
		}
		text := strings.TrimSpace(resp.Message.Content)
		if text == "" || text == prompts.NoOutput {
			continue
		}
		h.Content = text
		out = append(out, h)
	}
	return out
}

// format converts hits to results, keeping the first hit per note.
func format(hits []Chunk) []Result {
	results := []Result{}
	seen := make(map[string]bool)
	for _, h := range hits {
		if h.Path == "" || seen[h.Path] {
			continue
		}
		seen[h.Path] = true
		tags := strings.Join(h.Tags, ",")
		if tags == "" {
			tags = "None"
		}
		results = append(results, Result{RelativePath: h.Path, ContentSnippet: h.Content, Tags: tags})
	}
	return results
}

func encode(results []Result) (string, error) {
	b, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Tools returns semantic_search and filtered_semantic_search.
func (s *Searcher) Tools() *tools.Set {
	set := tools.NewSet("semantic_search")
	set.Add("semantic_search",
		"Search the Obsidian vault for conceptually related content using semantic similarity.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{"type": "string"},
				"use_compression": map[string]any{
					"type":        "boolean",
					"description": "Return more concise results.",
				},
			},
			"required": []any{"query"},
		},
		tools.Func(func(ctx context.Context, args map[string]any) (any, error) {
			query, _ := args["query"].(string)
			compress, _ := args["use_compression"].(bool)
			results, err := s.Search(ctx, query, compress)
			if err != nil {
				return nil, err
			}
			return encode(results)
		}),
	)
	set.Add("filtered_semantic_search",
		"Semantic search filtered by specific tags for focused queries.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{"type": "string"},
				"tag": map[string]any{
					"type":        "string",
					"description": "Tag to filter by (without '#' prefix).",
				},
			},
			"required": []any{"query", "tag"},
		},
		tools.Func(func(ctx context.Context, args map[string]any) (any, error) {
			query, _ := args["query"].(string)
			tag, _ := args["tag"].(string)
			results, err := s.SearchTag(ctx, query, tag)
			if err != nil {
				return nil, err
			}
			return encode(results)
		}),
	)
	return set
}
