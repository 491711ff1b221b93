// Package session drives conversations: it reads utterances from a text
// source, resolves each one as a turn, sends the reply back and acts on
// the mode flags the turn left behind (exit, reset, private). Sessions
// end on request, when the source closes or after an idle period, and a
// summary is written unless the session was private.
package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nugget/butler/internal/agent"
	"github.com/nugget/butler/internal/audit"
	"github.com/nugget/butler/internal/llm"
	"github.com/nugget/butler/internal/metrics"
)

// ErrorReply is sent to the user when a turn fails for a reason other
// than the tool iteration cap.
const ErrorReply = "I'm sorry, something went wrong while answering that. Please try again."

// EndReason says why a session ended.
type EndReason string

// Session end reasons.
const (
	EndExit   EndReason = "exit"   // the model called quit_chat
	EndIdle   EndReason = "idle"   // no input within the idle timeout
	EndClosed EndReason = "closed" // the source was closed
)

// errIdle marks a Next call that timed out on the idle timer.
var errIdle = errors.New("session idle")

// Source is a line-oriented conversation partner.
type Source interface {
	// Name labels the source in logs and metrics.
	Name() string
	// Next blocks for the next utterance. io.EOF means the source closed.
	Next(ctx context.Context) (string, error)
	// Reply delivers an assistant reply.
	Reply(ctx context.Context, text string) error
}

// Summarizer persists a session summary.
type Summarizer interface {
	Save(ctx context.Context, record []llm.Message) error
}

// LoopFactory builds a fresh loop, seeded for a new conversation.
type LoopFactory func(ctx context.Context) (*agent.Loop, error)

// Config tunes a Controller.
type Config struct {
	// IdleTimeout ends a session when no input arrives in time. Zero
	// disables it.
	IdleTimeout time.Duration
	// Greeting, when set, is sent before the first utterance.
	Greeting string
}

// Controller runs sessions. One Controller may run many sessions
// concurrently; each gets its own loop.
type Controller struct {
	newLoop    LoopFactory
	summarizer Summarizer
	metrics    *metrics.Metrics
	logger     *slog.Logger
	cfg        Config
}

// New creates a controller. summarizer, m and logger may be nil.
func New(newLoop LoopFactory, summarizer Summarizer, m *metrics.Metrics, cfg Config, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		newLoop:    newLoop,
		summarizer: summarizer,
		metrics:    m,
		logger:     logger,
		cfg:        cfg,
	}
}

// Run drives one session until it ends. A canceled ctx ends the session
// without a summary and returns ctx.Err(). Errors building a loop are
// returned as-is.
func (c *Controller) Run(ctx context.Context, src Source) (EndReason, error) {
	id := uuid.NewString()
	ctx = audit.WithSession(ctx, id)
	log := c.logger.With("session", id, "source", src.Name())

	c.metrics.SessionStarted(src.Name())
	defer c.metrics.SessionEnded(src.Name())

	loop, err := c.newLoop(ctx)
	if err != nil {
		return "", err
	}
	log.Info("session started")

	if c.cfg.Greeting != "" {
		if err := src.Reply(ctx, c.cfg.Greeting); err != nil {
			log.Warn("greeting not delivered", "error", err)
		}
	}

	for {
		input, err := c.next(ctx, src)
		switch {
		case errors.Is(err, errIdle):
			log.Info("idle timeout reached, ending session", "idle_timeout", c.cfg.IdleTimeout)
			c.summarize(ctx, loop, log)
			return EndIdle, nil
		case errors.Is(err, io.EOF):
			log.Info("source closed, ending session")
			c.summarize(ctx, loop, log)
			return EndClosed, nil
		case err != nil:
			if ctx.Err() != nil {
				log.Info("session canceled")
				return "", ctx.Err()
			}
			log.Warn("source failed, ending session", "error", err)
			c.summarize(ctx, loop, log)
			return EndClosed, nil
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		reply, err := loop.Run(ctx, []llm.Message{llm.User(input)})
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			if !errors.Is(err, agent.ErrIterationLimit) {
				log.Error("turn failed", "error", err)
				reply = ErrorReply
			}
		}
		if reply != "" {
			if err := src.Reply(ctx, reply); err != nil {
				log.Warn("reply not delivered", "error", err)
			}
		}

		mode := loop.Mode()
		if mode.ExitRequested {
			log.Info("exit requested, ending session")
			c.summarize(ctx, loop, log)
			return EndExit, nil
		}
		if mode.ResetRequested {
			log.Info("reset requested, starting a fresh conversation")
			c.summarize(ctx, loop, log)
			if loop, err = c.newLoop(ctx); err != nil {
				return "", err
			}
		}
	}
}

// next waits for input, bounded by the idle timeout.
func (c *Controller) next(ctx context.Context, src Source) (string, error) {
	if c.cfg.IdleTimeout <= 0 {
		return src.Next(ctx)
	}
	idleCtx, cancel := context.WithTimeoutCause(ctx, c.cfg.IdleTimeout, errIdle)
	defer cancel()

	input, err := src.Next(idleCtx)
	if err != nil && ctx.Err() == nil && errors.Is(context.Cause(idleCtx), errIdle) {
		return "", errIdle
	}
	return input, err
}

// summarize saves the conversation unless the session is private.
func (c *Controller) summarize(ctx context.Context, loop *agent.Loop, log *slog.Logger) {
	if loop.Mode().Private {
		log.Info("private session, summary skipped")
		return
	}
	if c.summarizer == nil {
		return
	}
	if err := c.summarizer.Save(ctx, loop.Conversation()); err != nil {
		log.Warn("session summary failed", "error", err)
	}
}
