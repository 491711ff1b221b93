package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// entryLimit is the length past which args and results are flattened
// and cut in the markdown log.
const entryLimit = 600

// Markdown appends human-readable entries to a note in the vault.
type Markdown struct {
	path string
	mu   sync.Mutex
	now  func() time.Time
}

// NewMarkdown returns a sink writing to path. Parent directories are
// created on first write.
func NewMarkdown(path string) *Markdown {
	return &Markdown{path: path, now: time.Now}
}

// Path returns the log file location.
func (m *Markdown) Path() string { return m.path }

// Record appends one entry:
//
//	### 2025-06-01 14:03:22 — calculator
//	**Args:** `{"expression":"2+2"}`
//	**Result:** `4`
func (m *Markdown) Record(_ context.Context, name string, args map[string]any, result string) error {
	var b strings.Builder
	fmt.Fprintf(&b, "### %s — %s\n", m.now().Format("2006-01-02 15:04:05"), name)

	if len(args) > 0 {
		raw, err := encodeArgs(args)
		if err != nil {
			return fmt.Errorf("encode args: %w", err)
		}
		text, label := clip(raw, "Args")
		fmt.Fprintf(&b, "**%s:** `%s`\n", label, text)
	}

	text, label := clip(result, "Result")
	fmt.Fprintf(&b, "**%s:** `%s`\n", label, text)

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return fmt.Errorf("create audit dir: %w", err)
	}
	f, err := os.OpenFile(m.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	if _, err := f.WriteString(b.String()); err != nil {
		f.Close()
		return fmt.Errorf("write audit log: %w", err)
	}
	return f.Close()
}

func encodeArgs(args map[string]any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(args); err != nil {
		return "", err
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}

func clip(s, label string) (string, string) {
	if len([]rune(s)) <= entryLimit {
		return s, label
	}
	return Shorten(s, entryLimit), label + " (truncated)"
}

// Shorten trims s, flattens newlines to spaces and cuts it to limit
// runes with a trailing ellipsis.
func Shorten(s string, limit int) string {
	flat := []rune(strings.ReplaceAll(strings.TrimSpace(s), "\n", " "))
	if len(flat) <= limit {
		return string(flat)
	}
	return string(flat[:limit]) + "…"
}
