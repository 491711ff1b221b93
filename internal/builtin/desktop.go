package builtin

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
)

// ErrNoHelper is returned when no screenshot or clipboard program is
// installed for the current platform.
var ErrNoHelper = errors.New("no supported helper program found")

// Screen captures the primary display as PNG bytes.
type Screen interface {
	Capture(ctx context.Context) ([]byte, error)
}

// Clipboard reads the system clipboard. Image returns nil bytes and a
// nil error when the clipboard holds no image.
type Clipboard interface {
	Text(ctx context.Context) (string, error)
	Image(ctx context.Context) ([]byte, error)
}

// helper is an external program invocation. {file} in args is replaced
// with an output path when the program cannot write to stdout.
type helper struct {
	name string
	args []string
}

// find returns the first helper present on PATH.
func find(candidates []helper) (helper, string, bool) {
	for _, h := range candidates {
		if p, err := exec.LookPath(h.name); err == nil {
			return h, p, true
		}
	}
	return helper{}, "", false
}

func run(ctx context.Context, path string, args []string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, path, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		errOutput := stderr.String()
		if len(errOutput) > 500 {
			errOutput = errOutput[:500]
		}
		return nil, fmt.Errorf("%s: %w: %s", filepath.Base(path), err, errOutput)
	}
	return stdout.Bytes(), nil
}

// CommandScreen captures the screen with a platform screenshot program.
type CommandScreen struct {
	candidates []helper
}

// NewScreen returns a Screen for the current platform.
func NewScreen() *CommandScreen {
	var c []helper
	switch runtime.GOOS {
	case "darwin":
		c = []helper{{"screencapture", []string{"-x", "-t", "png", "{file}"}}}
	case "linux", "freebsd", "openbsd":
		c = []helper{
			{"grim", []string{"{file}"}},
			{"gnome-screenshot", []string{"-f", "{file}"}},
			{"scrot", []string{"-o", "{file}"}},
			{"import", []string{"-window", "root", "{file}"}},
		}
	}
	return &CommandScreen{candidates: c}
}

// Capture writes a screenshot to a temporary file and returns its bytes.
func (s *CommandScreen) Capture(ctx context.Context) ([]byte, error) {
	h, path, ok := find(s.candidates)
	if !ok {
		return nil, fmt.Errorf("screenshot: %w", ErrNoHelper)
	}

	tmpDir, err := os.MkdirTemp("", "butler-screen-*")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	file := filepath.Join(tmpDir, "screen.png")
	args := make([]string, len(h.args))
	for i, a := range h.args {
		if a == "{file}" {
			a = file
		}
		args[i] = a
	}
	if _, err := run(ctx, path, args); err != nil {
		return nil, err
	}
	return os.ReadFile(file)
}

// CommandClipboard reads the clipboard with platform helper programs.
type CommandClipboard struct {
	text  []helper
	image []helper
}

// NewClipboard returns a Clipboard for the current platform.
func NewClipboard() *CommandClipboard {
	switch runtime.GOOS {
	case "darwin":
		return &CommandClipboard{text: []helper{{"pbpaste", nil}}}
	case "windows":
		return &CommandClipboard{text: []helper{{"powershell", []string{"-NoProfile", "-Command", "Get-Clipboard"}}}}
	default:
		return &CommandClipboard{
			text: []helper{
				{"wl-paste", []string{"--no-newline"}},
				{"xclip", []string{"-selection", "clipboard", "-o"}},
				{"xsel", []string{"--clipboard", "--output"}},
			},
			image: []helper{
				{"wl-paste", []string{"--type", "image/png"}},
				{"xclip", []string{"-selection", "clipboard", "-t", "image/png", "-o"}},
			},
		}
	}
}

func (c *CommandClipboard) Text(ctx context.Context) (string, error) {
	h, path, ok := find(c.text)
	if !ok {
		return "", fmt.Errorf("clipboard: %w", ErrNoHelper)
	}
	out, err := run(ctx, path, h.args)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// Image returns PNG clipboard contents. A helper failing because the
// clipboard holds no image is not an error.
func (c *CommandClipboard) Image(ctx context.Context) ([]byte, error) {
	h, path, ok := find(c.image)
	if !ok {
		return nil, nil
	}
	out, err := run(ctx, path, h.args)
	if err != nil || !isPNG(out) {
		return nil, nil
	}
	return out, nil
}

var pngMagic = []byte("\x89PNG\r\n\x1a\n")

func isPNG(b []byte) bool {
	return bytes.HasPrefix(b, pngMagic)
}
