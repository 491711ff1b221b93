package rag

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	_ "modernc.org/sqlite"

	"github.com/nugget/butler/internal/llm"
)

// keywordGen embeds text as counts of a few keywords, so similarity is
// predictable.
type keywordGen struct {
	calls int
}

var keywords = []string{"tea", "garden", "invoice", "dentist"}

func (g *keywordGen) Generate(_ context.Context, text string) ([]float32, error) {
	text = strings.ToLower(text)
	v := make([]float32, len(keywords)+1)
	for i, k := range keywords {
		v[i] = float32(strings.Count(text, k))
	}
	v[len(keywords)] = 0.01 // never the zero vector
	return v, nil
}

func (g *keywordGen) GenerateBatch(ctx context.Context, texts []string) ([][]float32, error) {
	g.calls++
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i], _ = g.Generate(ctx, t)
	}
	return out, nil
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	s, err := NewStore(db)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return s
}

func TestTags(t *testing.T) {
	got := Tags("# Heading\nSome #home and #home/garden notes, #home again.\n## Sub")
	want := []string{"home", "home/garden"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("Tags = %v, want %v", got, want)
	}
	if Tags("no tags here") != nil {
		t.Error("expected nil for a note without tags")
	}
}

func TestSections(t *testing.T) {
	src := "intro line\n\n# One\nbody one\n\n```\n# not a heading\n```\n\n## Two\nbody two\n"
	got := sections([]byte(src))
	if len(got) != 3 {
		t.Fatalf("got %d sections: %q", len(got), got)
	}
	if got[0] != "intro line" {
		t.Errorf("section 0 = %q", got[0])
	}
	if !strings.HasPrefix(got[1], "# One") || !strings.Contains(got[1], "# not a heading") {
		t.Errorf("section 1 = %q", got[1])
	}
	if got[2] != "## Two\nbody two" {
		t.Errorf("section 2 = %q", got[2])
	}
}

func TestWindows(t *testing.T) {
	if got := windows("short", 500, 200); len(got) != 1 || got[0] != "short" {
		t.Errorf("short text = %q", got)
	}

	words := strings.Repeat("alpha beta gamma delta ", 60) // 1380 runes
	got := windows(words, 500, 200)
	if len(got) < 3 {
		t.Fatalf("got %d windows", len(got))
	}
	for i, w := range got {
		if n := utf8.RuneCountInString(w); n > 500 {
			t.Errorf("window %d has %d runes", i, n)
		}
	}
	// Consecutive windows overlap.
	tail := got[0][len(got[0])-50:]
	if !strings.Contains(got[1], tail) {
		t.Errorf("window 1 does not overlap window 0")
	}
	// The last window reaches the end of the text.
	if !strings.HasSuffix(strings.TrimSpace(words), got[len(got)-1]) {
		t.Errorf("last window %q does not end the text", got[len(got)-1])
	}
}

func TestOpen_Missing(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing.db"))
	if !errors.Is(err, ErrIndexNotFound) {
		t.Fatalf("err = %v, want ErrIndexNotFound", err)
	}
}

func TestStore_Search(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	gen := &keywordGen{}

	chunks := []Chunk{
		{Path: "a.md", Content: "tea tea tea", Tags: []string{"drinks"}},
		{Path: "b.md", Content: "garden tea", Tags: []string{"home", "garden"}},
		{Path: "c.md", Content: "invoice", Tags: nil},
	}
	for i := range chunks {
		chunks[i].Embedding, _ = gen.Generate(ctx, chunks[i].Content)
	}
	if err := s.Insert(ctx, chunks); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if n, _ := s.Count(ctx); n != 3 {
		t.Fatalf("Count = %d", n)
	}

	q, _ := gen.Generate(ctx, "tea")
	hits, err := s.Search(ctx, q, 2, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 2 || hits[0].Path != "a.md" || hits[1].Path != "b.md" {
		t.Errorf("hits = %+v", hits)
	}
	if hits[0].Score < hits[1].Score {
		t.Error("hits not ordered by score")
	}

	hits, err = s.Search(ctx, q, 5, "garden")
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || hits[0].Path != "b.md" {
		t.Errorf("tag-filtered hits = %+v", hits)
	}
	if strings.Join(hits[0].Tags, ",") != "home,garden" {
		t.Errorf("tags = %v", hits[0].Tags)
	}

	// A tag that is a prefix of another does not match it.
	if hits, _ := s.Search(ctx, q, 5, "gard"); len(hits) != 0 {
		t.Errorf("prefix tag matched %d hits", len(hits))
	}

	if err := s.Insert(ctx, []Chunk{{Path: "x.md", Content: "x"}}); err == nil {
		t.Error("Insert without embedding succeeded")
	}
}

func TestStore_Meta(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if v, err := s.Meta(ctx, "embedding_model"); err != nil || v != "" {
		t.Fatalf("unset Meta = %q, %v", v, err)
	}
	for _, m := range []string{"one", "two"} {
		if err := s.SetMeta(ctx, "embedding_model", m); err != nil {
			t.Fatal(err)
		}
	}
	if v, _ := s.Meta(ctx, "embedding_model"); v != "two" {
		t.Errorf("Meta = %q", v)
	}
}

func writeNote(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestIndexer_Build(t *testing.T) {
	root := t.TempDir()
	writeNote(t, root, "Home/garden.md", "# Garden\nPlant tomatoes. #garden\n\n# Tea\nBrew tea at four.")
	writeNote(t, root, "Work/invoice.md", "Send the invoice. #work")
	writeNote(t, root, "Butler/logs/tool-calls.md", "### tea tea tea")
	writeNote(t, root, ".trash/old.md", "tea")
	writeNote(t, root, "image.png", "not markdown")

	s := newTestStore(t)
	gen := &keywordGen{}
	ix := NewIndexer(root, s, gen, IndexConfig{
		ChunkSize:    500,
		ChunkOverlap: 200,
		ExcludeNames: []string{"tool-calls.md"},
		Model:        "keywords",
	}, nil)

	ctx := context.Background()
	stats, err := ix.Build(ctx)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if stats.Notes != 2 || stats.Chunks != 3 {
		t.Errorf("stats = %+v, want 2 notes and 3 chunks", stats)
	}
	if m, _ := s.Meta(ctx, "embedding_model"); m != "keywords" {
		t.Errorf("model meta = %q", m)
	}

	// Rebuilding replaces rather than duplicates.
	if _, err := ix.Build(ctx); err != nil {
		t.Fatal(err)
	}
	if n, _ := s.Count(ctx); n != 3 {
		t.Errorf("Count after rebuild = %d", n)
	}
}

// compressLLM returns a canned extraction per call.
type compressLLM struct {
	replies []string
	calls   int
}

func (c *compressLLM) Chat(_ context.Context, _ string, _ []llm.Message, _ []map[string]any) (*llm.ChatResponse, error) {
	r := c.replies[c.calls]
	c.calls++
	return &llm.ChatResponse{Message: llm.Message{Role: llm.RoleAssistant, Content: r}, FinishReason: llm.FinishStop}, nil
}

func (c *compressLLM) Ping(context.Context) error { return nil }

func TestSearcher(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	gen := &keywordGen{}

	chunks := []Chunk{
		{Path: "tea.md", Content: "tea first chunk"},
		{Path: "tea.md", Content: "tea second chunk about tea in the garden"},
		{Path: "garden.md", Content: "garden and tea", Tags: []string{"garden"}},
	}
	for i := range chunks {
		chunks[i].Embedding, _ = gen.Generate(ctx, chunks[i].Content)
	}
	if err := s.Insert(ctx, chunks); err != nil {
		t.Fatal(err)
	}

	t.Run("dedup by path", func(t *testing.T) {
		sr := NewSearcher(s, gen, nil, "", 5, nil)
		res, err := sr.Search(ctx, "tea", false)
		if err != nil {
			t.Fatal(err)
		}
		if len(res) != 2 || res[0].RelativePath != "tea.md" || res[1].RelativePath != "garden.md" {
			t.Fatalf("results = %+v", res)
		}
		if res[0].ContentSnippet != "tea first chunk" || res[0].Tags != "None" {
			t.Errorf("first result = %+v", res[0])
		}
	})

	t.Run("compression", func(t *testing.T) {
		client := &compressLLM{replies: []string{"tea first", "NO_OUTPUT", "garden and tea"}}
		sr := NewSearcher(s, gen, client, "cheap", 5, nil)
		res, err := sr.Search(ctx, "tea", true)
		if err != nil {
			t.Fatal(err)
		}
		if client.calls != 3 {
			t.Errorf("compression calls = %d", client.calls)
		}
		if len(res) != 2 || res[0].ContentSnippet != "tea first" {
			t.Errorf("results = %+v", res)
		}
	})

	t.Run("tool output", func(t *testing.T) {
		sr := NewSearcher(s, gen, nil, "", 5, nil)
		set := sr.Tools()
		out, err := set.Impls["filtered_semantic_search"].ContextFunc()(ctx, map[string]any{
			"query": "tea",
			"tag":   "#garden",
		})
		if err != nil {
			t.Fatal(err)
		}
		var res []Result
		if err := json.Unmarshal([]byte(out.(string)), &res); err != nil {
			t.Fatalf("output is not JSON: %v", err)
		}
		if len(res) != 1 || res[0].Tags != "garden" {
			t.Errorf("results = %+v", res)
		}
		if !strings.Contains(out.(string), "\n  {") {
			t.Errorf("output not indented: %s", out)
		}

		out, err = set.Impls["semantic_search"].ContextFunc()(ctx, map[string]any{"query": "dentist"})
		if err != nil {
			t.Fatal(err)
		}
		if !strings.HasPrefix(out.(string), "[") {
			t.Errorf("semantic_search output = %s", out)
		}
	})

	t.Run("empty query", func(t *testing.T) {
		sr := NewSearcher(s, gen, nil, "", 5, nil)
		if _, err := sr.Search(ctx, "  ", false); err == nil {
			t.Error("empty query succeeded")
		}
	})
}
