// Package vault reads and writes notes in an Obsidian vault. Reads are
// confined to the vault; writes are confined to the agent's own folder
// inside it.
package vault

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/nugget/butler/internal/config"
)

// ErrOutsideRoot is returned for a path that resolves outside the folder
// it must stay in.
var ErrOutsideRoot = errors.New("path outside allowed folder")

// EmptyMemory is returned by ReadEntireMemory when no summaries exist.
const EmptyMemory = "[memory] No summaries yet."

// Vault is an Obsidian vault with an agent folder (the sandbox).
type Vault struct {
	root       string
	sandbox    string
	summaries  string
	coreMemory string

	logger *slog.Logger
	now    func() time.Time
}

// Open resolves the vault paths from cfg and creates the agent folder,
// its logs folder and its summary folder when missing.
func Open(cfg config.VaultConfig, logger *slog.Logger) (*Vault, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("vault path not configured")
	}
	if logger == nil {
		logger = slog.Default()
	}

	root, err := filepath.Abs(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("resolve vault: %w", err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("open vault: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("vault %s is not a directory", root)
	}

	sandbox := filepath.Join(root, cfg.AgentFolder)
	v := &Vault{
		root:       root,
		sandbox:    sandbox,
		summaries:  filepath.Join(sandbox, cfg.SummaryFolder),
		coreMemory: cfg.CoreMemoryFile,
		logger:     logger,
		now:        time.Now,
	}

	for _, dir := range []string{v.LogDir(), v.summaries} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return v, nil
}

// Root returns the absolute vault path.
func (v *Vault) Root() string { return v.root }

// Sandbox returns the absolute path of the agent folder.
func (v *Vault) Sandbox() string { return v.sandbox }

// LogDir returns the folder the tool-call log lives in.
func (v *Vault) LogDir() string { return filepath.Join(v.sandbox, "logs") }

// within resolves path against base and fails with ErrOutsideRoot when
// the result leaves base.
func within(base, path string) (string, error) {
	var abs string
	if filepath.IsAbs(path) {
		abs = filepath.Clean(path)
	} else {
		abs = filepath.Join(base, path)
	}

	rel, err := filepath.Rel(base, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrOutsideRoot, path)
	}
	return abs, nil
}

// ReadNote returns the raw markdown of a note. A missing note is not an
// error; the returned text says so.
func (v *Vault) ReadNote(relPath string) (string, error) {
	abs, err := within(v.root, relPath)
	if err != nil {
		return "", fmt.Errorf("read path escapes vault: %w", err)
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Sprintf("[read_note-error] File not found: %s", relPath), nil
		}
		return "", fmt.Errorf("read note: %w", err)
	}
	return string(data), nil
}

// AppendNote appends content, preceded by a newline, to a note in the
// sandbox, creating the note and its parent folders as needed.
func (v *Vault) AppendNote(relPath, content string) (string, error) {
	relPath = strings.TrimLeft(relPath, `/\`)
	if relPath == "" {
		return "", fmt.Errorf("rel_path is required")
	}
	abs, err := within(v.sandbox, relPath)
	if err != nil {
		return "", fmt.Errorf("append path escapes sandbox: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", fmt.Errorf("create folder: %w", err)
	}
	f, err := os.OpenFile(abs, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("open note: %w", err)
	}
	if _, err := f.WriteString("\n" + content); err != nil {
		f.Close()
		return "", fmt.Errorf("append note: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close note: %w", err)
	}

	rel, _ := filepath.Rel(v.sandbox, abs)
	v.logger.Debug("note appended", "path", rel, "bytes", len(content))
	return fmt.Sprintf("Appended to %s", rel), nil
}

// AppendCoreMemory adds a timestamped entry to the core memory note.
func (v *Vault) AppendCoreMemory(content string) (string, error) {
	entry := fmt.Sprintf("**%s**\n%s\n\n---\n",
		v.now().Format("2006-01-02 15:04:05"), strings.TrimSpace(content))
	return v.AppendNote(v.coreMemory, entry)
}

// CoreMemory returns the core memory note, or "" when it does not exist.
func (v *Vault) CoreMemory() (string, error) {
	data, err := os.ReadFile(filepath.Join(v.sandbox, v.coreMemory))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("read core memory: %w", err)
	}
	return string(data), nil
}

// ListFiles returns every markdown file in the vault, relative to the
// vault root with forward slashes, sorted.
func (v *Vault) ListFiles() ([]string, error) {
	files := []string{}
	err := filepath.WalkDir(v.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(path), ".md") {
			return nil
		}
		rel, err := filepath.Rel(v.root, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list vault: %w", err)
	}
	sort.Strings(files)
	return files, nil
}

// summaryFile is a summary note and its modification time.
type summaryFile struct {
	name  string
	path  string
	mtime time.Time
}

func (v *Vault) summaryFiles() ([]summaryFile, error) {
	entries, err := os.ReadDir(v.summaries)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read summaries: %w", err)
	}

	var files []summaryFile
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".md" {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, summaryFile{
			name:  e.Name(),
			path:  filepath.Join(v.summaries, e.Name()),
			mtime: info.ModTime(),
		})
	}
	return files, nil
}

// ReadEntireMemory concatenates every session summary in name order,
// each headed by its file name in braces.
func (v *Vault) ReadEntireMemory() (string, error) {
	files, err := v.summaryFiles()
	if err != nil {
		return "", err
	}
	sort.Slice(files, func(i, j int) bool { return files[i].name < files[j].name })

	parts := make([]string, 0, len(files))
	for _, f := range files {
		data, err := os.ReadFile(f.path)
		if err != nil {
			return "", fmt.Errorf("read summary %s: %w", f.name, err)
		}
		parts = append(parts, fmt.Sprintf("{%s}\n%s", f.name, data))
	}
	if len(parts) == 0 {
		return EmptyMemory, nil
	}
	return strings.Join(parts, "\n\n"), nil
}

// RecentSummaries returns the bodies of the n most recently modified
// summaries, newest first.
func (v *Vault) RecentSummaries(n int) ([]string, error) {
	files, err := v.summaryFiles()
	if err != nil {
		return nil, err
	}
	sort.SliceStable(files, func(i, j int) bool { return files[i].mtime.After(files[j].mtime) })
	if n >= 0 && len(files) > n {
		files = files[:n]
	}

	out := make([]string, 0, len(files))
	for _, f := range files {
		data, err := os.ReadFile(f.path)
		if err != nil {
			v.logger.Warn("skipping unreadable summary", "file", f.name, "error", err)
			continue
		}
		out = append(out, string(data))
	}
	return out, nil
}

// SaveSummary writes a session summary named after the current minute
// and returns its path.
func (v *Vault) SaveSummary(text string) (string, error) {
	if err := os.MkdirAll(v.summaries, 0o755); err != nil {
		return "", fmt.Errorf("create summary folder: %w", err)
	}
	name := fmt.Sprintf("session-%s.md", v.now().Format("2006-01-02_1504"))
	path := filepath.Join(v.summaries, name)
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		return "", fmt.Errorf("write summary: %w", err)
	}
	v.logger.Info("session summary saved", "file", name)
	return path, nil
}
