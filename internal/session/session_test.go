package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/nugget/butler/internal/agent"
	"github.com/nugget/butler/internal/audit"
	"github.com/nugget/butler/internal/invoker"
	"github.com/nugget/butler/internal/llm"
	"github.com/nugget/butler/internal/metrics"
	"github.com/nugget/butler/internal/tools"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// scriptedLLM replays responses in order and answers "ok" once they run
// out. A nil entry fails the completion.
type scriptedLLM struct {
	mu        sync.Mutex
	responses []*llm.ChatResponse
}

func (s *scriptedLLM) Chat(context.Context, string, []llm.Message, []map[string]any) (*llm.ChatResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.responses) == 0 {
		return stop("ok"), nil
	}
	r := s.responses[0]
	s.responses = s.responses[1:]
	if r == nil {
		return nil, errors.New("provider down")
	}
	return r, nil
}

func (s *scriptedLLM) Ping(context.Context) error { return nil }

func stop(text string) *llm.ChatResponse {
	return &llm.ChatResponse{FinishReason: llm.FinishStop, Message: llm.Message{Role: llm.RoleAssistant, Content: text}}
}

func call(name string) *llm.ChatResponse {
	return &llm.ChatResponse{
		FinishReason: llm.FinishToolCalls,
		Message: llm.Message{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{
			{ID: "call-" + name, Function: llm.FunctionCall{Name: name, Arguments: "{}"}},
		}},
	}
}

// scriptSource feeds lines from a channel; closing it ends the source.
type scriptSource struct {
	in chan string

	mu      sync.Mutex
	replies []string
}

func newScriptSource(lines ...string) *scriptSource {
	s := &scriptSource{in: make(chan string, len(lines))}
	for _, l := range lines {
		s.in <- l
	}
	return s
}

func (s *scriptSource) Name() string { return "script" }

func (s *scriptSource) Next(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case l, ok := <-s.in:
		if !ok {
			return "", io.EOF
		}
		return l, nil
	}
}

func (s *scriptSource) Reply(_ context.Context, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies = append(s.replies, text)
	return nil
}

func (s *scriptSource) Replies() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.replies...)
}

type fakeSummarizer struct {
	mu      sync.Mutex
	records [][]llm.Message
	session []string
}

func (f *fakeSummarizer) Save(ctx context.Context, record []llm.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, record)
	f.session = append(f.session, audit.SessionFrom(ctx))
	return nil
}

func (f *fakeSummarizer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records)
}

func controlRegistry(t *testing.T) *tools.Registry {
	t.Helper()
	reply := func(text string, cmd tools.Command) tools.Impl {
		return tools.Sync(func(map[string]any) (any, error) { return text, nil }).WithCommands(cmd)
	}
	descs := []tools.Descriptor{
		{Name: "quit_chat", Schema: tools.Envelope("quit_chat", "", nil), Impl: reply("Exiting chat.", tools.CommandExit)},
		{Name: "reset_chat", Schema: tools.Envelope("reset_chat", "", nil), Impl: reply("Chat has been reset.", tools.CommandReset)},
		{Name: "enable_private_mode", Schema: tools.Envelope("enable_private_mode", "", nil), Impl: reply("Private.", tools.CommandPrivate)},
	}
	reg, err := tools.NewRegistry(descs)
	if err != nil {
		t.Fatal(err)
	}
	return reg
}

// newController returns a controller whose loops share client, plus a
// counter of loops built.
func newController(t *testing.T, client llm.Client, summ Summarizer, m *metrics.Metrics, cfg Config) (*Controller, *int) {
	t.Helper()
	reg := controlRegistry(t)
	inv := invoker.New(reg, nil, nil, invoker.Config{}, quietLogger())
	var built int
	factory := func(context.Context) (*agent.Loop, error) {
		built++
		seed := agent.Seed{Persona: "You are Butler."}.Messages()
		return agent.NewLoop(client, reg, inv, seed, agent.Config{Model: "small"}, m, quietLogger()), nil
	}
	return New(factory, summ, m, cfg, quietLogger()), &built
}

func TestRun_ExitWritesSummary(t *testing.T) {
	client := &scriptedLLM{responses: []*llm.ChatResponse{
		stop("It is 4."),
		call("quit_chat"), stop("Good night."),
	}}
	summ := &fakeSummarizer{}
	m := metrics.New(prometheus.NewRegistry())
	c, _ := newController(t, client, summ, m, Config{Greeting: "Hello."})

	src := newScriptSource("what's 2+2", "   ", "thanks, that's all", "never read")
	reason, err := c.Run(context.Background(), src)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if reason != EndExit {
		t.Errorf("reason = %s, want exit", reason)
	}
	if got := strings.Join(src.Replies(), "|"); got != "Hello.|It is 4.|Good night." {
		t.Errorf("replies = %s", got)
	}

	if summ.count() != 1 {
		t.Fatalf("summaries = %d, want 1", summ.count())
	}
	rec := summ.records[0]
	if rec[1].Content != "what's 2+2" || rec[len(rec)-1].Content != "Good night." {
		t.Errorf("record = %+v", rec)
	}
	if summ.session[0] == "" {
		t.Error("summary context carries no session id")
	}
	if got := testutil.ToFloat64(m.ActiveSessions.WithLabelValues("script")); got != 0 {
		t.Errorf("active sessions = %v after Run", got)
	}
}

func TestRun_PrivateSkipsSummary(t *testing.T) {
	client := &scriptedLLM{responses: []*llm.ChatResponse{
		call("enable_private_mode"), stop("Understood."),
		call("quit_chat"), stop("Goodbye."),
	}}
	summ := &fakeSummarizer{}
	c, _ := newController(t, client, summ, nil, Config{})

	reason, err := c.Run(context.Background(), newScriptSource("keep this private", "bye"))
	if err != nil || reason != EndExit {
		t.Fatalf("Run = %s, %v", reason, err)
	}
	if summ.count() != 0 {
		t.Errorf("summaries = %d, want 0 for a private session", summ.count())
	}
}

func TestRun_ResetStartsFreshLoop(t *testing.T) {
	client := &scriptedLLM{responses: []*llm.ChatResponse{
		call("reset_chat"), stop("Fresh start."),
		stop("Hello again."),
	}}
	summ := &fakeSummarizer{}
	c, built := newController(t, client, summ, nil, Config{})

	src := newScriptSource("start over", "hi")
	close(src.in)
	reason, err := c.Run(context.Background(), src)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if reason != EndClosed {
		t.Errorf("reason = %s, want closed", reason)
	}
	if *built != 2 {
		t.Errorf("loops built = %d, want 2", *built)
	}
	if summ.count() != 2 {
		t.Fatalf("summaries = %d, want 2 (reset and close)", summ.count())
	}
	for _, m := range summ.records[1] {
		if m.Content == "start over" {
			t.Error("conversation after reset still holds the old record")
		}
	}
	if summ.session[0] != summ.session[1] {
		t.Error("reset should keep the session id")
	}
}

func TestRun_IdleTimeout(t *testing.T) {
	summ := &fakeSummarizer{}
	c, _ := newController(t, &scriptedLLM{}, summ, nil, Config{IdleTimeout: 20 * time.Millisecond})

	start := time.Now()
	reason, err := c.Run(context.Background(), newScriptSource())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if reason != EndIdle {
		t.Errorf("reason = %s, want idle", reason)
	}
	if time.Since(start) > 5*time.Second {
		t.Error("idle timeout not honored")
	}
	if summ.count() != 1 {
		t.Errorf("summaries = %d, want 1", summ.count())
	}
}

func TestRun_Canceled(t *testing.T) {
	summ := &fakeSummarizer{}
	c, _ := newController(t, &scriptedLLM{}, summ, nil, Config{IdleTimeout: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err := c.Run(ctx, newScriptSource())
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if summ.count() != 0 {
		t.Error("canceled session should not be summarized")
	}
}

func TestRun_TurnErrorKeepsSession(t *testing.T) {
	client := &scriptedLLM{responses: []*llm.ChatResponse{nil, stop("Back now.")}}
	c, _ := newController(t, client, nil, nil, Config{})

	src := newScriptSource("first", "second")
	close(src.in)
	reason, err := c.Run(context.Background(), src)
	if err != nil || reason != EndClosed {
		t.Fatalf("Run = %s, %v", reason, err)
	}
	if got := src.Replies(); len(got) != 2 || got[0] != ErrorReply || got[1] != "Back now." {
		t.Errorf("replies = %q", got)
	}
}

func TestRun_LoopFactoryError(t *testing.T) {
	boom := errors.New("no model")
	c := New(func(context.Context) (*agent.Loop, error) { return nil, boom }, nil, nil, Config{}, quietLogger())
	if _, err := c.Run(context.Background(), newScriptSource()); !errors.Is(err, boom) {
		t.Errorf("err = %v", err)
	}
}

func TestConsoleSource(t *testing.T) {
	var out strings.Builder
	src := NewConsoleSource(strings.NewReader("hello\n\nbye\n"), &out, "> ")

	ctx := context.Background()
	for _, want := range []string{"hello", "", "bye"} {
		got, err := src.Next(ctx)
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if got != want {
			t.Errorf("Next = %q, want %q", got, want)
		}
	}
	if _, err := src.Next(ctx); !errors.Is(err, io.EOF) {
		t.Errorf("Next at end = %v, want EOF", err)
	}
	if _, err := src.Next(ctx); !errors.Is(err, io.EOF) {
		t.Errorf("Next after end = %v, want EOF", err)
	}

	if err := src.Reply(ctx, "Good evening."); err != nil {
		t.Fatal(err)
	}
	if got := out.String(); got != "> > > > > Good evening.\n" {
		t.Errorf("output = %q", got)
	}
}

func TestConsoleSource_ContextCanceled(t *testing.T) {
	r, w := io.Pipe()
	defer w.Close()
	src := NewConsoleSource(r, io.Discard, "")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := src.Next(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
}

func TestWebsocketHandler(t *testing.T) {
	client := &scriptedLLM{responses: []*llm.ChatResponse{
		stop("At your service."),
		call("quit_chat"), stop("Goodbye."),
	}}
	summ := &fakeSummarizer{}
	c, _ := newController(t, client, summ, nil, Config{})

	ts := httptest.NewServer(NewHandler(context.Background(), c, quietLogger()))
	t.Cleanup(ts.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	exchange := func(say, want string) {
		t.Helper()
		if err := conn.WriteMessage(websocket.TextMessage, []byte(say)); err != nil {
			t.Fatal(err)
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatal(err)
		}
		if string(data) != want {
			t.Errorf("reply = %q, want %q", data, want)
		}
	}
	exchange("good evening", "At your service.")
	exchange("that will be all", "Goodbye.")

	_, _, err = conn.ReadMessage()
	var ce *websocket.CloseError
	if !errors.As(err, &ce) {
		t.Fatalf("err = %v, want close frame", err)
	}
	if ce.Code != websocket.CloseNormalClosure || ce.Text != "session ended: exit" {
		t.Errorf("close = %d %q", ce.Code, ce.Text)
	}
	if summ.count() != 1 {
		t.Errorf("summaries = %d, want 1", summ.count())
	}
}
