package community

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	qrcode "github.com/skip2/go-qrcode"

	"github.com/nugget/butler/internal/tools"
)

// qrCodeEntry renders text as a QR code. The reply carries a terminal
// rendering; with a dir init_arg a PNG of the given size is saved too.
// level is one of low, medium, high or highest.
func qrCodeEntry() Entry {
	return Entry{
		Description: "Render text or a URL as a QR code the user can scan.",
		Parameters:  queryParams("content", "The text or URL to encode."),
		New: func(args Args) (tools.Impl, error) {
			level, err := recoveryLevel(args.String("level", "medium"))
			if err != nil {
				return tools.Impl{}, err
			}
			size, err := args.Int("size", 256)
			if err != nil {
				return tools.Impl{}, err
			}
			q := &qrTool{level: level, size: size, dir: args.String("dir", "")}
			return tools.Func(q.call), nil
		},
	}
}

func recoveryLevel(s string) (qrcode.RecoveryLevel, error) {
	switch strings.ToLower(s) {
	case "low":
		return qrcode.Low, nil
	case "medium":
		return qrcode.Medium, nil
	case "high":
		return qrcode.High, nil
	case "highest":
		return qrcode.Highest, nil
	}
	return 0, fmt.Errorf("unknown QR recovery level %q", s)
}

type qrTool struct {
	level qrcode.RecoveryLevel
	size  int
	dir   string
}

func (q *qrTool) call(_ context.Context, args map[string]any) (any, error) {
	content, _ := args["content"].(string)
	if content == "" {
		return nil, fmt.Errorf("content is required")
	}
	code, err := qrcode.New(content, q.level)
	if err != nil {
		return nil, fmt.Errorf("encode QR code: %w", err)
	}
	art := code.ToSmallString(false)
	if q.dir == "" {
		return art, nil
	}

	if err := os.MkdirAll(q.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create QR directory: %w", err)
	}
	sum := sha256.Sum256([]byte(content))
	path := filepath.Join(q.dir, "qr-"+hex.EncodeToString(sum[:6])+".png")
	if err := code.WriteFile(q.size, path); err != nil {
		return nil, fmt.Errorf("write QR code: %w", err)
	}
	return fmt.Sprintf("Saved QR code to %s\n\n%s", path, art), nil
}
