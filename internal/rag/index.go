package rag

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/nugget/butler/internal/embeddings"
)

// batchSize is the number of chunks embedded per request.
const batchSize = 32

// IndexConfig tunes an Indexer.
type IndexConfig struct {
	ChunkSize    int
	ChunkOverlap int
	// ExcludeNames lists file names never indexed, such as the tool-call log.
	ExcludeNames []string
	// Model is recorded in the index for later comparison.
	Model string
}

// IndexStats summarizes a build.
type IndexStats struct {
	Notes   int
	Chunks  int
	Elapsed time.Duration
}

// Indexer walks a vault and fills a Store.
type Indexer struct {
	root   string
	store  *Store
	gen    embeddings.Generator
	cfg    IndexConfig
	logger *slog.Logger
}

// NewIndexer creates an indexer for the vault at root.
func NewIndexer(root string, store *Store, gen embeddings.Generator, cfg IndexConfig, logger *slog.Logger) *Indexer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Indexer{root: root, store: store, gen: gen, cfg: cfg, logger: logger}
}

// notes returns the markdown files to index, relative to the root.
// Hidden folders such as .trash and .obsidian are skipped.
func (ix *Indexer) notes() ([]string, error) {
	excluded := make(map[string]bool, len(ix.cfg.ExcludeNames))
	for _, n := range ix.cfg.ExcludeNames {
		excluded[n] = true
	}

	var out []string
	err := filepath.WalkDir(ix.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != ix.root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.EqualFold(filepath.Ext(path), ".md") || excluded[d.Name()] {
			return nil
		}
		rel, err := filepath.Rel(ix.root, path)
		if err != nil {
			return err
		}
		out = append(out, filepath.ToSlash(rel))
		return nil
	})
	return out, err
}

// Build replaces the index contents with freshly embedded chunks of
// every note.
func (ix *Indexer) Build(ctx context.Context) (IndexStats, error) {
	start := time.Now()
	var stats IndexStats

	paths, err := ix.notes()
	if err != nil {
		return stats, fmt.Errorf("walk vault: %w", err)
	}
	ix.logger.Info("indexing vault", "root", ix.root, "notes", len(paths))

	var pending []Chunk
	for _, rel := range paths {
		data, err := os.ReadFile(filepath.Join(ix.root, filepath.FromSlash(rel)))
		if err != nil {
			return stats, fmt.Errorf("read %s: %w", rel, err)
		}
		tags := Tags(string(data))
		for _, piece := range Split(data, ix.cfg.ChunkSize, ix.cfg.ChunkOverlap) {
			pending = append(pending, Chunk{Path: rel, Content: piece, Tags: tags})
		}
		stats.Notes++
	}

	if err := ix.store.Reset(ctx); err != nil {
		return stats, fmt.Errorf("reset index: %w", err)
	}

	for i := 0; i < len(pending); i += batchSize {
		end := min(i+batchSize, len(pending))
		batch := pending[i:end]

		texts := make([]string, len(batch))
		for j, c := range batch {
			texts[j] = c.Content
		}
		vecs, err := ix.gen.GenerateBatch(ctx, texts)
		if err != nil {
			return stats, fmt.Errorf("embed chunks %d-%d: %w", i, end, err)
		}
		for j := range batch {
			batch[j].Embedding = vecs[j]
		}
		if err := ix.store.Insert(ctx, batch); err != nil {
			return stats, err
		}
		stats.Chunks += len(batch)
		ix.logger.Debug("embedded batch", "done", end, "total", len(pending))
	}

	if ix.cfg.Model != "" {
		if err := ix.store.SetMeta(ctx, "embedding_model", ix.cfg.Model); err != nil {
			return stats, fmt.Errorf("record model: %w", err)
		}
	}

	stats.Elapsed = time.Since(start)
	ix.logger.Info("index built",
		"notes", stats.Notes,
		"chunks", stats.Chunks,
		"elapsed", stats.Elapsed.Round(time.Millisecond),
	)
	return stats, nil
}
