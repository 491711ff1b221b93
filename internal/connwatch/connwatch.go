// Package connwatch tracks whether the services behind butler serve
// (LLM providers, MCP servers) are reachable.
//
// A Watcher probes one service. While the service is down it retries
// with exponential backoff; once it answers, it settles into periodic
// polling. The Manager aggregates watchers for the /health endpoint.
package connwatch

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"
)

// ProbeFunc checks whether a service is reachable. Return nil if healthy.
type ProbeFunc func(ctx context.Context) error

// Backoff controls probe timing.
type Backoff struct {
	Initial      time.Duration // first retry delay after a failure
	Max          time.Duration // ceiling for retry delay growth
	Multiplier   float64
	PollInterval time.Duration // delay between probes while healthy
	ProbeTimeout time.Duration
}

// DefaultBackoff retries at 2s, 4s, 8s ... up to a minute, and polls
// healthy services once a minute.
func DefaultBackoff() Backoff {
	return Backoff{
		Initial:      2 * time.Second,
		Max:          60 * time.Second,
		Multiplier:   2.0,
		PollInterval: 60 * time.Second,
		ProbeTimeout: 10 * time.Second,
	}
}

func (b Backoff) withDefaults() Backoff {
	d := DefaultBackoff()
	if b.Initial <= 0 {
		b.Initial = d.Initial
	}
	if b.Max <= 0 {
		b.Max = d.Max
	}
	if b.Multiplier <= 1 {
		b.Multiplier = d.Multiplier
	}
	if b.PollInterval <= 0 {
		b.PollInterval = d.PollInterval
	}
	if b.ProbeTimeout <= 0 {
		b.ProbeTimeout = d.ProbeTimeout
	}
	return b
}

// next grows delay by the multiplier, capped at Max.
func (b Backoff) next(delay time.Duration) time.Duration {
	delay = time.Duration(float64(delay) * b.Multiplier)
	return min(delay, b.Max)
}

// Status is the health of one service as reported on /health.
type Status struct {
	Name      string    `json:"name"`
	Ready     bool      `json:"ready"`
	Failures  int       `json:"consecutive_failures,omitempty"`
	LastCheck time.Time `json:"last_check"`
	LastError string    `json:"last_error,omitempty"`
}

// Watcher probes a single service until its context ends.
type Watcher struct {
	name    string
	probe   ProbeFunc
	backoff Backoff
	logger  *slog.Logger
	done    chan struct{}

	mu     sync.Mutex
	status Status
}

// Status returns the latest probe outcome.
func (w *Watcher) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

// Ready reports whether the last probe succeeded.
func (w *Watcher) Ready() bool {
	return w.Status().Ready
}

// Done is closed when the watcher stops.
func (w *Watcher) Done() <-chan struct{} {
	return w.done
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)

	delay := w.backoff.Initial
	for {
		err := w.check(ctx)
		if ctx.Err() != nil {
			return
		}

		wait := w.backoff.PollInterval
		if err != nil {
			wait = delay
			delay = w.backoff.next(delay)
		} else {
			delay = w.backoff.Initial
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// check runs one probe and records a state transition if there was one.
func (w *Watcher) check(ctx context.Context) error {
	probeCtx, cancel := context.WithTimeout(ctx, w.backoff.ProbeTimeout)
	err := w.probe(probeCtx)
	cancel()
	if ctx.Err() != nil {
		return ctx.Err()
	}

	w.mu.Lock()
	was := w.status
	w.status.LastCheck = time.Now()
	w.status.Ready = err == nil
	if err != nil {
		w.status.Failures++
		w.status.LastError = err.Error()
	} else {
		w.status.Failures = 0
		w.status.LastError = ""
	}
	failures := w.status.Failures
	w.mu.Unlock()

	switch {
	case err == nil && !was.Ready:
		w.logger.Info("service reachable", "service", w.name)
	case err != nil && was.Ready:
		w.logger.Warn("service unreachable", "service", w.name, "error", err)
	case err != nil:
		w.logger.Debug("service still unreachable", "service", w.name, "failures", failures, "error", err)
	}
	return err
}

// Manager owns a set of watchers.
type Manager struct {
	logger *slog.Logger

	mu       sync.Mutex
	watchers map[string]*Watcher
}

// NewManager creates a manager. A nil logger uses slog.Default().
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{logger: logger, watchers: make(map[string]*Watcher)}
}

// Watch starts probing name in the background until ctx is canceled.
// Watching a name twice returns the existing watcher.
func (m *Manager) Watch(ctx context.Context, name string, probe ProbeFunc, b Backoff) *Watcher {
	m.mu.Lock()
	defer m.mu.Unlock()
	if w, ok := m.watchers[name]; ok {
		return w
	}

	w := &Watcher{
		name:    name,
		probe:   probe,
		backoff: b.withDefaults(),
		logger:  m.logger,
		done:    make(chan struct{}),
		status:  Status{Name: name},
	}
	m.watchers[name] = w
	go w.run(ctx)
	return w
}

// Status returns every watcher's status sorted by name.
func (m *Manager) Status() []Status {
	m.mu.Lock()
	ws := make([]*Watcher, 0, len(m.watchers))
	for _, w := range m.watchers {
		ws = append(ws, w)
	}
	m.mu.Unlock()

	out := make([]Status, 0, len(ws))
	for _, w := range ws {
		out = append(out, w.Status())
	}
	slices.SortFunc(out, func(a, b Status) int {
		switch {
		case a.Name < b.Name:
			return -1
		case a.Name > b.Name:
			return 1
		}
		return 0
	})
	return out
}

// Ready reports whether every watched service is reachable. A manager
// with no watchers is ready.
func (m *Manager) Ready() bool {
	for _, s := range m.Status() {
		if !s.Ready {
			return false
		}
	}
	return true
}
