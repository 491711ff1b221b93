// Package invoker executes single tool calls. It never fails: every
// outcome, including unknown tools, bad arguments, policy blocks, errors
// and panics, becomes the text of a tool result.
package invoker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nugget/butler/internal/audit"
	"github.com/nugget/butler/internal/llm"
	"github.com/nugget/butler/internal/metrics"
	"github.com/nugget/butler/internal/tools"
)

// BlockedMessage is the result of a note-writing tool called in private
// mode.
const BlockedMessage = "[Action Blocked] Cannot write to notes while in private mode."

// DefaultBlocklist names the tools refused while private mode is on.
var DefaultBlocklist = []string{"append_note", "append_core_memory"}

// Config tunes an Invoker.
type Config struct {
	// PrivateBlocklist replaces DefaultBlocklist when non-nil.
	PrivateBlocklist []string
	// ValidateArguments checks arguments against the tool's JSON Schema
	// before dispatch.
	ValidateArguments bool
}

// Mode is the slice of session state dispatch depends on.
type Mode struct {
	Private bool
}

// Result is the outcome of one call.
type Result struct {
	ToolCallID string
	Name       string
	Content    string
	Commands   []tools.Command
}

// Message converts the result to a tool message for the conversation.
func (r Result) Message() llm.Message {
	return llm.Message{Role: llm.RoleTool, ToolCallID: r.ToolCallID, Content: r.Content}
}

// Invoker resolves and runs tool calls against a registry.
type Invoker struct {
	reg      *tools.Registry
	sink     audit.Sink
	metrics  *metrics.Metrics
	logger   *slog.Logger
	blocked  map[string]bool
	validate bool
}

// New creates an invoker. sink and m may be nil.
func New(reg *tools.Registry, sink audit.Sink, m *metrics.Metrics, cfg Config, logger *slog.Logger) *Invoker {
	if logger == nil {
		logger = slog.Default()
	}
	list := cfg.PrivateBlocklist
	if list == nil {
		list = DefaultBlocklist
	}
	blocked := make(map[string]bool, len(list))
	for _, name := range list {
		blocked[name] = true
	}
	return &Invoker{
		reg:      reg,
		sink:     sink,
		metrics:  m,
		logger:   logger,
		blocked:  blocked,
		validate: cfg.ValidateArguments,
	}
}

// Prepared is a call whose arguments have been parsed and whose tool has
// been resolved, ready for Dispatch.
type Prepared struct {
	ID    string
	Name  string
	Args  map[string]any
	desc  tools.Descriptor
	found bool
	err   error // argument parse failure
}

// Commands returns the mode commands the call produces. A call whose
// arguments do not parse, or that names an unknown tool, produces none.
func (p Prepared) Commands() []tools.Command {
	if p.err != nil || !p.found {
		return nil
	}
	return p.desc.Impl.Commands()
}

// Prepare parses the call's arguments and resolves its tool.
func (i *Invoker) Prepare(call llm.ToolCall) Prepared {
	p := Prepared{ID: call.ID, Name: call.Function.Name}
	p.Args, p.err = call.Function.ParseArguments()
	p.desc, p.found = i.reg.Lookup(p.Name)
	return p
}

// Invoke prepares and dispatches one call.
func (i *Invoker) Invoke(ctx context.Context, call llm.ToolCall, mode Mode) Result {
	return i.Dispatch(ctx, i.Prepare(call), mode)
}

// Dispatch runs a prepared call and writes the audit record.
func (i *Invoker) Dispatch(ctx context.Context, p Prepared, mode Mode) Result {
	start := time.Now()
	content, status := i.dispatch(ctx, p, mode)

	i.metrics.ToolCall(p.Name, status, time.Since(start))
	i.logger.Debug("tool call",
		"tool", p.Name,
		"call_id", p.ID,
		"status", status,
		"elapsed", time.Since(start).Round(time.Millisecond),
	)

	i.record(ctx, p, content)

	return Result{
		ToolCallID: p.ID,
		Name:       p.Name,
		Content:    content,
		Commands:   p.Commands(),
	}
}

// record writes the audit entry. Sink errors and panics are logged and
// otherwise ignored.
func (i *Invoker) record(ctx context.Context, p Prepared, content string) {
	if i.sink == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			i.logger.Warn("audit sink panicked", "tool", p.Name, "panic", r)
		}
	}()
	if err := i.sink.Record(context.WithoutCancel(ctx), p.Name, p.Args, content); err != nil {
		i.logger.Debug("audit record failed", "tool", p.Name, "error", err)
	}
}

func (i *Invoker) dispatch(ctx context.Context, p Prepared, mode Mode) (string, string) {
	if p.err != nil {
		return errorText(p.Name, fmt.Errorf("invalid arguments: %w", p.err)), metrics.StatusError
	}
	if mode.Private && i.blocked[p.Name] {
		return BlockedMessage, metrics.StatusBlocked
	}
	if !p.found {
		return (&tools.ErrUnknownTool{ToolName: p.Name}).Error(), metrics.StatusUnknown
	}
	if i.validate {
		if err := tools.ValidateArguments(p.desc, p.Args); err != nil {
			return errorText(p.Name, fmt.Errorf("invalid arguments: %w", err)), metrics.StatusError
		}
	}

	out, err := run(ctx, p.desc.Impl, p.Args)
	if err != nil {
		return errorText(p.Name, err), metrics.StatusError
	}
	return out, metrics.StatusOK
}

func errorText(name string, err error) string {
	return fmt.Sprintf("[%s-error] %v", name, err)
}

// run calls impl according to its calling convention and renders its
// result as text.
func run(ctx context.Context, impl tools.Impl, args map[string]any) (string, error) {
	switch impl.Kind() {
	case tools.KindFunc:
		return guarded(func() (any, error) { return impl.ContextFunc()(ctx, args) })
	case tools.KindInvocable:
		obj := impl.Invocable()
		input, err := invocableInput(args)
		if err != nil {
			return "", err
		}
		return detached(ctx, func() (any, error) { return obj.Call(ctx, input) })
	case tools.KindSync:
		fn := impl.SyncFunc()
		return detached(ctx, func() (any, error) { return fn(args) })
	default:
		return "", fmt.Errorf("unsupported implementation kind %v", impl.Kind())
	}
}

// guarded calls fn and stringifies its result, converting a panic in
// either step into an error.
func guarded(fn func() (any, error)) (out string, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = "", fmt.Errorf("%v", r)
		}
	}()
	v, err := fn()
	if err != nil {
		return "", err
	}
	return tools.Stringify(v), nil
}

// detached runs fn on its own goroutine and waits for it or for ctx.
// An abandoned goroutine finishes in the background.
func detached(ctx context.Context, fn func() (any, error)) (string, error) {
	type outcome struct {
		out string
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		out, err := guarded(fn)
		done <- outcome{out, err}
	}()

	select {
	case o := <-done:
		return o.out, o.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// invocableInput reduces the argument map to the single string an
// invocable tool accepts: no arguments become "", one string argument
// is passed as-is, anything else is JSON.
func invocableInput(args map[string]any) (string, error) {
	switch len(args) {
	case 0:
		return "", nil
	case 1:
		for _, v := range args {
			if s, ok := v.(string); ok {
				return s, nil
			}
		}
	}
	b, err := json.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("encode input: %w", err)
	}
	return string(b), nil
}
