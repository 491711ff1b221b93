package invoker

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nugget/butler/internal/llm"
	"github.com/nugget/butler/internal/metrics"
	"github.com/nugget/butler/internal/tools"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type recordingSink struct {
	mu      sync.Mutex
	entries []string
	fail    bool
}

func (s *recordingSink) Record(_ context.Context, name string, _ map[string]any, result string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, name+"="+result)
	if s.fail {
		return errors.New("disk full")
	}
	return nil
}

type panicSink struct{ calls atomic.Int32 }

func (s *panicSink) Record(context.Context, string, map[string]any, string) error {
	s.calls.Add(1)
	panic("sink exploded")
}

// badStringer has a value-receiver String, so a nil *badStringer panics
// when stringified.
type badStringer struct{ name string }

func (b badStringer) String() string { return b.name }

type upper struct{ got string }

func (u *upper) Name() string        { return "upper" }
func (u *upper) Description() string { return "uppercase" }
func (u *upper) Call(_ context.Context, in string) (string, error) {
	u.got = in
	return strings.ToUpper(in), nil
}

func call(name, args string) llm.ToolCall {
	return llm.ToolCall{ID: "call_" + name, Function: llm.FunctionCall{Name: name, Arguments: args}}
}

func testRegistry(t *testing.T, extra ...tools.Descriptor) *tools.Registry {
	t.Helper()
	descs := []tools.Descriptor{
		{Name: "echo", Schema: tools.Envelope("echo", "", map[string]any{
			"type":       "object",
			"properties": map[string]any{"text": map[string]any{"type": "string"}},
			"required":   []any{"text"},
		}), Impl: tools.Func(func(_ context.Context, args map[string]any) (any, error) {
			return args["text"], nil
		})},
		{Name: "sum", Schema: tools.Envelope("sum", "", nil), Impl: tools.Sync(func(args map[string]any) (any, error) {
			return args["a"].(float64) + args["b"].(float64), nil
		})},
		{Name: "boom", Schema: tools.Envelope("boom", "", nil), Impl: tools.Sync(func(map[string]any) (any, error) {
			panic("kaboom")
		})},
		{Name: "fail", Schema: tools.Envelope("fail", "", nil), Impl: tools.Func(func(context.Context, map[string]any) (any, error) {
			return nil, errors.New("upstream said no")
		})},
		{Name: "quit_chat", Schema: tools.Envelope("quit_chat", "", nil), Impl: tools.Sync(func(map[string]any) (any, error) {
			return "Exiting chat.", nil
		}).WithCommands(tools.CommandExit)},
		{Name: "listing", Schema: tools.Envelope("listing", "", nil), Impl: tools.Sync(func(map[string]any) (any, error) {
			return map[string]any{"b": 2, "a": []string{"x"}}, nil
		})},
	}
	reg, err := tools.NewRegistry(append(descs, extra...))
	if err != nil {
		t.Fatal(err)
	}
	return reg
}

func TestInvoke(t *testing.T) {
	up := &upper{}
	reg := testRegistry(t, tools.Descriptor{Name: "upper", Schema: tools.Envelope("upper", "", nil), Impl: tools.Object(up)})
	inv := New(reg, nil, nil, Config{}, nil)

	tests := []struct {
		name string
		call llm.ToolCall
		want string
	}{
		{"func", call("echo", `{"text":"hello"}`), "hello"},
		{"sync", call("sum", `{"a":2,"b":2}`), "4"},
		{"invocable", call("upper", `{"input":"shout"}`), "SHOUT"},
		{"json result", call("listing", ""), `{"a":["x"],"b":2}`},
		{"unknown", call("teleport", "{}"), "unknown tool: teleport"},
		{"panic", call("boom", "{}"), "[boom-error] kaboom"},
		{"error", call("fail", "{}"), "[fail-error] upstream said no"},
		{"bad json", call("echo", `{"text":`), "[echo-error] invalid arguments: "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := inv.Invoke(context.Background(), tt.call, Mode{})
			if !strings.HasPrefix(res.Content, tt.want) {
				t.Errorf("Content = %q, want prefix %q", res.Content, tt.want)
			}
			if res.ToolCallID != tt.call.ID {
				t.Errorf("ToolCallID = %q, want %q", res.ToolCallID, tt.call.ID)
			}
		})
	}
}

func TestInvocableInput(t *testing.T) {
	tests := []struct {
		args map[string]any
		want string
	}{
		{nil, ""},
		{map[string]any{"query": "golang"}, "golang"},
		{map[string]any{"n": float64(3)}, `{"n":3}`},
		{map[string]any{"a": "x", "b": "y"}, `{"a":"x","b":"y"}`},
	}
	for _, tt := range tests {
		got, err := invocableInput(tt.args)
		if err != nil {
			t.Fatal(err)
		}
		if got != tt.want {
			t.Errorf("invocableInput(%v) = %q, want %q", tt.args, got, tt.want)
		}
	}
}

func TestPrivateModeBlocksNoteWrites(t *testing.T) {
	var calls atomic.Int32
	spy := tools.Func(func(context.Context, map[string]any) (any, error) {
		calls.Add(1)
		return "Appended to notes/a.md", nil
	})
	reg := testRegistry(t,
		tools.Descriptor{Name: "append_note", Schema: tools.Envelope("append_note", "", nil), Impl: spy},
		tools.Descriptor{Name: "append_core_memory", Schema: tools.Envelope("append_core_memory", "", nil), Impl: spy},
	)
	inv := New(reg, nil, nil, Config{}, nil)

	for _, name := range []string{"append_note", "append_core_memory"} {
		res := inv.Invoke(context.Background(), call(name, `{"rel_path":"a.md","content":"x"}`), Mode{Private: true})
		if res.Content != BlockedMessage {
			t.Errorf("%s in private mode = %q", name, res.Content)
		}
	}
	if calls.Load() != 0 {
		t.Fatalf("blocked implementation called %d times", calls.Load())
	}

	res := inv.Invoke(context.Background(), call("append_note", `{}`), Mode{})
	if res.Content != "Appended to notes/a.md" || calls.Load() != 1 {
		t.Errorf("public mode call = %q (calls %d)", res.Content, calls.Load())
	}
}

func TestCustomBlocklist(t *testing.T) {
	inv := New(testRegistry(t), nil, nil, Config{PrivateBlocklist: []string{"echo"}}, nil)
	if res := inv.Invoke(context.Background(), call("echo", `{"text":"x"}`), Mode{Private: true}); res.Content != BlockedMessage {
		t.Errorf("echo not blocked: %q", res.Content)
	}
}

func TestCommands(t *testing.T) {
	inv := New(testRegistry(t), nil, nil, Config{}, nil)

	res := inv.Invoke(context.Background(), call("quit_chat", ""), Mode{})
	if len(res.Commands) != 1 || res.Commands[0] != tools.CommandExit {
		t.Errorf("Commands = %v", res.Commands)
	}
	if p := inv.Prepare(call("quit_chat", "{bad")); p.Commands() != nil {
		t.Errorf("unparseable call produced commands %v", p.Commands())
	}
	if p := inv.Prepare(call("teleport", "{}")); p.Commands() != nil {
		t.Errorf("unknown tool produced commands %v", p.Commands())
	}
}

func TestValidateArguments(t *testing.T) {
	inv := New(testRegistry(t), nil, nil, Config{ValidateArguments: true}, nil)

	res := inv.Invoke(context.Background(), call("echo", `{}`), Mode{})
	if !strings.HasPrefix(res.Content, "[echo-error] invalid arguments:") {
		t.Errorf("missing required arg not rejected: %q", res.Content)
	}
	res = inv.Invoke(context.Background(), call("echo", `{"text":"ok"}`), Mode{})
	if res.Content != "ok" {
		t.Errorf("valid call = %q", res.Content)
	}
}

func TestAuditAlwaysRunsAndFailuresAreSwallowed(t *testing.T) {
	sink := &recordingSink{fail: true}
	inv := New(testRegistry(t), sink, nil, Config{}, nil)

	inv.Invoke(context.Background(), call("echo", `{"text":"hi"}`), Mode{})
	inv.Invoke(context.Background(), call("teleport", `{}`), Mode{})
	res := inv.Invoke(context.Background(), call("boom", `{}`), Mode{})

	if res.Content != "[boom-error] kaboom" {
		t.Errorf("audit failure leaked into result: %q", res.Content)
	}
	want := []string{"echo=hi", "teleport=unknown tool: teleport", "boom=[boom-error] kaboom"}
	if strings.Join(sink.entries, "|") != strings.Join(want, "|") {
		t.Errorf("audit entries = %v", sink.entries)
	}
}

func TestSyncHonorsContext(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	reg := testRegistry(t, tools.Descriptor{Name: "slow", Schema: tools.Envelope("slow", "", nil), Impl: tools.Sync(func(map[string]any) (any, error) {
		<-release
		return "late", nil
	})})
	inv := New(reg, nil, nil, Config{}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	res := inv.Invoke(ctx, call("slow", ""), Mode{})
	if !strings.HasPrefix(res.Content, "[slow-error] context deadline exceeded") {
		t.Errorf("Content = %q", res.Content)
	}
}

func TestMetrics(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	inv := New(testRegistry(t), nil, m, Config{}, nil)

	inv.Invoke(context.Background(), call("echo", `{"text":"x"}`), Mode{})
	inv.Invoke(context.Background(), call("fail", `{}`), Mode{})
	inv.Invoke(context.Background(), call("nope", `{}`), Mode{})

	if got := testutil.ToFloat64(m.ToolCalls.WithLabelValues("echo", metrics.StatusOK)); got != 1 {
		t.Errorf("echo ok = %v", got)
	}
	if got := testutil.ToFloat64(m.ToolCalls.WithLabelValues("fail", metrics.StatusError)); got != 1 {
		t.Errorf("fail error = %v", got)
	}
	if got := testutil.ToFloat64(m.ToolCalls.WithLabelValues("nope", metrics.StatusUnknown)); got != 1 {
		t.Errorf("nope unknown = %v", got)
	}
}

func TestResultMessage(t *testing.T) {
	msg := Result{ToolCallID: "c1", Name: "x", Content: "ok"}.Message()
	if msg.Role != llm.RoleTool || msg.ToolCallID != "c1" || msg.Content != "ok" {
		t.Errorf("Message() = %+v", msg)
	}
}

func TestResultStringifyPanicIsContained(t *testing.T) {
	impls := map[string]tools.Impl{
		"nil_func": tools.Func(func(context.Context, map[string]any) (any, error) {
			return (*badStringer)(nil), nil
		}),
		"nil_sync": tools.Sync(func(map[string]any) (any, error) {
			return (*badStringer)(nil), nil
		}),
	}
	var extra []tools.Descriptor
	for name, impl := range impls {
		extra = append(extra, tools.Descriptor{Name: name, Schema: tools.Envelope(name, "", nil), Impl: impl})
	}
	inv := New(testRegistry(t, extra...), nil, nil, Config{}, nil)

	for name := range impls {
		t.Run(name, func(t *testing.T) {
			res := inv.Invoke(context.Background(), call(name, "{}"), Mode{})
			if !strings.HasPrefix(res.Content, "["+name+"-error] ") {
				t.Errorf("Content = %q", res.Content)
			}
			if res.ToolCallID != "call_"+name {
				t.Errorf("ToolCallID = %q", res.ToolCallID)
			}
		})
	}
}

func TestPanickingSinkIsSwallowed(t *testing.T) {
	sink := &panicSink{}
	inv := New(testRegistry(t), sink, nil, Config{}, nil)

	res := inv.Invoke(context.Background(), call("echo", `{"text":"still fine"}`), Mode{})
	if res.Content != "still fine" {
		t.Errorf("Content = %q", res.Content)
	}
	if sink.calls.Load() != 1 {
		t.Errorf("sink calls = %d", sink.calls.Load())
	}
}
