// Package agent implements the turn loop: it requests completions, runs
// the tool calls they ask for, feeds the results back and stops when the
// model answers in plain text.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nugget/butler/internal/invoker"
	"github.com/nugget/butler/internal/llm"
	"github.com/nugget/butler/internal/metrics"
	"github.com/nugget/butler/internal/tools"
)

// ErrIterationLimit is returned by Run when the model keeps asking for
// tools after the iteration cap and the final tool-free completion.
var ErrIterationLimit = errors.New("tool iteration limit reached")

// IterationLimitReply is appended to the conversation when a turn ends
// with ErrIterationLimit.
const IterationLimitReply = "I'm sorry, I wasn't able to finish that within the allowed number of tool calls."

// Config tunes a Loop.
type Config struct {
	// Model is the model used until a command switches it.
	Model string
	// HighPowerModel is selected by CommandHighPower.
	HighPowerModel string
	// MaxToolIterations caps tool-calling completions per turn. Zero
	// means no cap.
	MaxToolIterations int
}

// Loop owns one conversation and resolves turns against it. Run must
// not be called concurrently.
type Loop struct {
	client   llm.Client
	registry *tools.Registry
	invoker  *invoker.Invoker
	metrics  *metrics.Metrics
	logger   *slog.Logger
	cfg      Config

	conv *Conversation

	mu   sync.Mutex
	mode Mode
}

// NewLoop creates a loop whose conversation starts with seed. m and
// logger may be nil.
func NewLoop(client llm.Client, reg *tools.Registry, inv *invoker.Invoker, seed []llm.Message, cfg Config, m *metrics.Metrics, logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		client:   client,
		registry: reg,
		invoker:  inv,
		metrics:  m,
		logger:   logger,
		cfg:      cfg,
		conv:     NewConversation(seed...),
		mode:     Mode{ActiveModel: cfg.Model},
	}
}

// Mode returns a snapshot of the session flags.
func (l *Loop) Mode() Mode {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.mode
}

// Conversation returns a copy of the record.
func (l *Loop) Conversation() []llm.Message {
	return l.conv.Messages()
}

// Run resolves one turn. Only the newest input message is considered
// and it is appended only when it is a user message. The returned text
// is the model's trimmed final answer.
//
// Completion errors are returned wrapped; tool failures never are, they
// become tool results the model sees.
func (l *Loop) Run(ctx context.Context, input []llm.Message) (string, error) {
	if n := len(input); n > 0 && input[n-1].Role == llm.RoleUser {
		msg := input[n-1]
		msg.Images = nil
		l.conv.Append(msg)
	}

	schemas := l.registry.Schemas()
	start := time.Now()

	for iter := 1; ; iter++ {
		offered := schemas
		final := l.cfg.MaxToolIterations > 0 && iter > l.cfg.MaxToolIterations
		if final {
			offered = nil
			l.logger.Warn("tool iteration cap reached, requesting final answer",
				"max_iterations", l.cfg.MaxToolIterations)
		}

		resp, err := l.complete(ctx, offered)
		if err != nil {
			return "", err
		}

		if !resp.WantsTools() {
			text := strings.TrimSpace(resp.Message.Content)
			l.conv.Append(llm.Message{Role: llm.RoleAssistant, Content: text})
			l.metrics.Turn(iter)
			l.logger.Info("turn complete",
				"iterations", iter,
				"elapsed", time.Since(start).Round(time.Millisecond),
			)
			return text, nil
		}

		if final {
			l.conv.Append(llm.Message{Role: llm.RoleAssistant, Content: IterationLimitReply})
			l.metrics.Turn(iter)
			return IterationLimitReply, ErrIterationLimit
		}

		calls := resp.Message.ToolCalls
		l.conv.Append(llm.Message{
			Role:      llm.RoleAssistant,
			Content:   resp.Message.Content,
			ToolCalls: calls,
		})

		for _, r := range l.execute(ctx, calls) {
			l.conv.Append(r.Message())
		}
	}
}

// complete sends the record to the model under the active model.
func (l *Loop) complete(ctx context.Context, schemas []map[string]any) (*llm.ChatResponse, error) {
	model := l.Mode().ActiveModel
	l.logger.Debug("requesting completion",
		"model", model,
		"messages", l.conv.Len(),
		"tools", len(schemas),
	)

	start := time.Now()
	resp, err := l.client.Chat(ctx, model, l.conv.Messages(), schemas)
	if err != nil {
		l.metrics.Completion(model, err, time.Since(start), 0, 0)
		return nil, fmt.Errorf("completion: %w", err)
	}
	l.metrics.Completion(model, nil, time.Since(start), resp.InputTokens, resp.OutputTokens)
	return resp, nil
}

// execute runs one batch of calls. Every call is prepared and its
// commands applied in call order first, so a call sees the mode left by
// the calls before it. Dispatch then fans out and the results come back
// in call order.
func (l *Loop) execute(ctx context.Context, calls []llm.ToolCall) []invoker.Result {
	prepared := make([]invoker.Prepared, len(calls))
	modes := make([]invoker.Mode, len(calls))

	l.mu.Lock()
	for i, call := range calls {
		prepared[i] = l.invoker.Prepare(call)
		for _, cmd := range prepared[i].Commands() {
			l.mode.Apply(cmd, l.cfg.HighPowerModel)
			l.logger.Info("mode command applied", "tool", call.Function.Name, "command", cmd)
		}
		modes[i] = invoker.Mode{Private: l.mode.Private}
	}
	l.mu.Unlock()

	results := make([]invoker.Result, len(calls))
	var wg sync.WaitGroup
	for i := range prepared {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = l.invoker.Dispatch(ctx, prepared[i], modes[i])
		}(i)
	}
	wg.Wait()

	return results
}
