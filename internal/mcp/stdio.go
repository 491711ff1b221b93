package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"
)

// stopGrace is how long Close waits for the subprocess to exit after
// its stdin is closed before killing it.
const stopGrace = 5 * time.Second

// ErrProcessExited is returned for calls in flight when the server
// subprocess goes away.
var ErrProcessExited = errors.New("mcp: server process exited")

// StdioConfig describes the subprocess to run.
type StdioConfig struct {
	Command string
	Args    []string
	Env     []string // KEY=VALUE, appended to the current environment
	Logger  *slog.Logger
}

// StdioTransport talks newline-delimited JSON-RPC to a subprocess.
//
// The process starts on first use and restarts on the next call after
// it exits. Replies are matched to callers by request id, so concurrent
// calls share one process and a caller that gives up does not disturb
// the others.
type StdioTransport struct {
	cfg    StdioConfig
	logger *slog.Logger

	mu   sync.Mutex
	proc *process
}

// NewStdioTransport returns a transport for cfg without starting it.
func NewStdioTransport(cfg StdioConfig) *StdioTransport {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &StdioTransport{cfg: cfg, logger: logger}
}

// process is one running server subprocess.
type process struct {
	cmd    *exec.Cmd
	logger *slog.Logger

	writeMu sync.Mutex
	stdin   io.WriteCloser

	pendingMu sync.Mutex
	pending   map[int64]chan *Response

	done chan struct{} // closed once the process has exited
	err  error         // exit status, valid after done
}

// RoundTrip writes req to the subprocess and, for calls, waits for the
// reply carrying the same id.
func (t *StdioTransport) RoundTrip(ctx context.Context, req *Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := t.running()
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", req.Method, err)
	}

	if req.IsNotification() {
		return nil, p.write(data)
	}

	id := *req.ID
	reply, err := p.await(id)
	if err != nil {
		return nil, err
	}
	defer p.forget(id)

	if err := p.write(data); err != nil {
		return nil, err
	}

	select {
	case resp := <-reply:
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.done:
		select {
		case resp := <-reply:
			return resp, nil
		default:
		}
		return nil, fmt.Errorf("%w: %v", ErrProcessExited, p.err)
	}
}

// Close stops the subprocess, killing it if it ignores closed stdin.
func (t *StdioTransport) Close() error {
	t.mu.Lock()
	p := t.proc
	t.proc = nil
	t.mu.Unlock()
	if p == nil {
		return nil
	}
	return p.stop()
}

// running returns the live process, starting one if needed.
func (t *StdioTransport) running() (*process, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.proc != nil {
		select {
		case <-t.proc.done:
			t.logger.Info("MCP subprocess exited, restarting", "error", t.proc.err)
		default:
			return t.proc, nil
		}
	}

	p, err := startProcess(t.cfg, t.logger)
	if err != nil {
		return nil, err
	}
	t.proc = p
	return p, nil
}

func startProcess(cfg StdioConfig, logger *slog.Logger) (*process, error) {
	cmd := exec.Command(cfg.Command, cfg.Args...)
	cmd.Env = append(os.Environ(), cfg.Env...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", cfg.Command, err)
	}

	p := &process{
		cmd:     cmd,
		logger:  logger.With("pid", cmd.Process.Pid),
		stdin:   stdin,
		pending: make(map[int64]chan *Response),
		done:    make(chan struct{}),
	}
	p.logger.Info("MCP subprocess started", "command", cfg.Command, "args", cfg.Args)

	stderrDone := make(chan struct{})
	go func() {
		defer close(stderrDone)
		p.logStderr(stderr)
	}()
	go func() {
		p.readReplies(stdout)
		<-stderrDone
		p.err = cmd.Wait()
		close(p.done)
	}()
	return p, nil
}

// await registers interest in the reply to id.
func (p *process) await(id int64) (<-chan *Response, error) {
	select {
	case <-p.done:
		return nil, fmt.Errorf("%w: %v", ErrProcessExited, p.err)
	default:
	}
	ch := make(chan *Response, 1)
	p.pendingMu.Lock()
	p.pending[id] = ch
	p.pendingMu.Unlock()
	return ch, nil
}

func (p *process) forget(id int64) {
	p.pendingMu.Lock()
	delete(p.pending, id)
	p.pendingMu.Unlock()
}

func (p *process) write(data []byte) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if _, err := p.stdin.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write to MCP subprocess: %w", err)
	}
	return nil
}

// readReplies routes each stdout line to the caller waiting on its id
// until stdout closes.
func (p *process) readReplies(stdout io.Reader) {
	r := bufio.NewReaderSize(stdout, 1<<20)
	for {
		line, err := r.ReadBytes('\n')
		if len(line) > 0 {
			p.dispatch(line)
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				p.logger.Warn("MCP subprocess stdout", "error", err)
			}
			return
		}
	}
}

func (p *process) dispatch(line []byte) {
	var msg Response
	if err := json.Unmarshal(line, &msg); err != nil {
		p.logger.Debug("skipping non-JSON line from MCP subprocess", "line", string(line))
		return
	}
	if msg.Method != "" || msg.ID == nil {
		p.logger.Debug("ignoring MCP server message", "method", msg.Method)
		return
	}

	p.pendingMu.Lock()
	ch, ok := p.pending[*msg.ID]
	delete(p.pending, *msg.ID)
	p.pendingMu.Unlock()
	if !ok {
		p.logger.Debug("reply for abandoned call", "id", *msg.ID)
		return
	}
	ch <- &msg
}

func (p *process) logStderr(r io.Reader) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 256*1024)
	for sc.Scan() {
		p.logger.Debug("MCP subprocess stderr", "line", sc.Text())
	}
}

// stop closes stdin and waits for exit, killing the process after
// stopGrace.
func (p *process) stop() error {
	p.writeMu.Lock()
	p.stdin.Close()
	p.writeMu.Unlock()

	select {
	case <-p.done:
	case <-time.After(stopGrace):
		p.logger.Warn("MCP subprocess ignored shutdown, killing")
		_ = p.cmd.Process.Kill()
		<-p.done
		return nil
	}

	var exitErr *exec.ExitError
	if errors.As(p.err, &exitErr) {
		// Servers commonly exit non-zero when stdin closes.
		p.logger.Debug("MCP subprocess exited", "status", exitErr.ExitCode())
		return nil
	}
	return p.err
}
