// Package builtin provides the core tools every assistant carries:
// conversation control, arithmetic, web search and page digests, and the
// desktop helpers for screenshots and the clipboard.
package builtin

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"unicode/utf8"

	lctools "github.com/tmc/langchaingo/tools"

	"github.com/nugget/butler/internal/fetch"
	"github.com/nugget/butler/internal/llm"
	"github.com/nugget/butler/internal/prompts"
	"github.com/nugget/butler/internal/search"
	"github.com/nugget/butler/internal/tools"
)

// Source is the category name of the core tools.
const Source = "core"

// Fixed replies.
const (
	ResetReply     = "Chat has been reset."
	QuitReply      = "Exiting chat."
	HighPowerReply = "High-brain-power mode enabled."
	PrivateReply   = "Private conversation mode enabled. I will not write a Butler Log for this chat."

	CalculatorRejected = "Only numbers and + - * / ( ) allowed."
	ClipboardEmpty     = "[clipboard] Clipboard is empty."
)

// maxClipboardChars bounds clipboard text returned to the model.
const maxClipboardChars = 8000

// Deps are the collaborators the core tools call into. A nil Screen or
// Clipboard selects the platform default.
type Deps struct {
	Client     llm.Client
	CheapModel string
	Search     *search.Manager
	Fetcher    *fetch.Fetcher
	Screen     Screen
	Clipboard  Clipboard
	Logger     *slog.Logger
}

// core holds the resolved dependencies behind the tool closures.
type core struct {
	Deps
	search *search.Tool
	page   *fetch.PageTool
}

// Tools returns the core tool set.
func Tools(d Deps) *tools.Set {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Screen == nil {
		d.Screen = NewScreen()
	}
	if d.Clipboard == nil {
		d.Clipboard = NewClipboard()
	}
	if d.Search == nil {
		d.Search = search.NewManager(d.Logger)
	}
	if d.Fetcher == nil {
		d.Fetcher = fetch.New()
	}
	c := &core{
		Deps:   d,
		search: search.NewTool(d.Search, d.Logger),
		page:   fetch.NewPageTool(d.Fetcher, d.Client, d.CheapModel, d.Logger),
	}

	s := tools.NewSet(Source)
	s.Add("reset_chat", "Clear the conversation so a new chat can start.", nil,
		reply(ResetReply).WithCommands(tools.CommandReset))
	s.Add("quit_chat", "End the conversation and shut down the program.", nil,
		reply(QuitReply).WithCommands(tools.CommandExit))
	s.Add("web_search", "Search the web and return a short snippet.",
		search.Parameters(), tools.Func(c.search.Call))
	s.Add("calculator", "Evaluate a basic arithmetic expression.",
		map[string]any{
			"type":       "object",
			"properties": map[string]any{"expression": map[string]any{"type": "string"}},
			"required":   []any{"expression"},
		},
		tools.Func(func(ctx context.Context, args map[string]any) (any, error) {
			expr, _ := args["expression"].(string)
			return Calculate(ctx, expr), nil
		}))
	s.Add("fetch_page", "Download a web page and return its plain-text content with AI summary.",
		fetch.Parameters(), tools.Func(c.page.Call))
	s.Add("screen_capture", "Take a screenshot and return an AI description of its contents.", nil,
		tools.Func(c.screenCapture))
	s.Add("clipboard_content", "Return clipboard text or AI summary of clipboard image.", nil,
		tools.Func(c.clipboardContent))
	s.Add("enable_high_brain_power", "Switch to the high-performance model for complex tasks.", nil,
		reply(HighPowerReply).WithCommands(tools.CommandHighPower))
	s.Add("enable_private_mode", "Mark this conversation as private (no Butler Log will be created).", nil,
		reply(PrivateReply).WithCommands(tools.CommandPrivate))
	return s
}

func reply(text string) tools.Impl {
	return tools.Sync(func(map[string]any) (any, error) { return text, nil })
}

var arithmetic = regexp.MustCompile(`^[0-9+\-*/(). ]+$`)

// Calculate evaluates a basic arithmetic expression. Anything beyond
// digits, the four operators, parentheses and spaces is refused before
// evaluation. Division always yields a float, so "4/2" is "2.0".
func Calculate(ctx context.Context, expr string) string {
	if !arithmetic.MatchString(expr) {
		return CalculatorRejected
	}
	out, err := lctools.Calculator{}.Call(ctx, expr)
	if err != nil {
		return "[calc-error] " + err.Error()
	}
	if msg, ok := strings.CutPrefix(out, "error from evaluator: "); ok {
		return "[calc-error] " + msg
	}
	return out
}

func (c *core) screenCapture(ctx context.Context, _ map[string]any) (any, error) {
	c.Logger.Info("capturing screen")
	png, err := c.Screen.Capture(ctx)
	if err != nil {
		return fmt.Sprintf("[screen_capture-error] %v", err), nil
	}
	desc, err := c.describe(ctx, png, prompts.ScreenDescription)
	if err != nil {
		return fmt.Sprintf("[screen_capture-error] %v", err), nil
	}
	return desc, nil
}

func (c *core) clipboardContent(ctx context.Context, _ map[string]any) (any, error) {
	img, err := c.Clipboard.Image(ctx)
	if err != nil {
		return fmt.Sprintf("[clipboard-image-error] %v", err), nil
	}
	if len(img) > 0 {
		c.Logger.Info("clipboard image detected, generating summary")
		desc, err := c.describe(ctx, img, prompts.ClipboardImage)
		if err != nil {
			return fmt.Sprintf("[clipboard-image-error] %v", err), nil
		}
		return desc, nil
	}

	text, err := c.Clipboard.Text(ctx)
	if err != nil {
		return nil, fmt.Errorf("read clipboard: %w", err)
	}
	if text == "" {
		c.Logger.Info("clipboard is empty")
		return ClipboardEmpty, nil
	}
	c.Logger.Info("clipboard text captured", "chars", utf8.RuneCountInString(text))
	if utf8.RuneCountInString(text) > maxClipboardChars {
		text = string([]rune(text)[:maxClipboardChars])
	}
	return text, nil
}

// describe asks the cheap vision-capable model about a PNG image.
func (c *core) describe(ctx context.Context, png []byte, prompt string) (string, error) {
	if c.Client == nil {
		return "", fmt.Errorf("no model client configured")
	}
	msg := llm.User(prompt)
	msg.Images = []string{base64.StdEncoding.EncodeToString(png)}

	resp, err := c.Client.Chat(ctx, c.CheapModel, []llm.Message{msg}, nil)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Message.Content), nil
}
