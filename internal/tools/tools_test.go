package tools

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

type fakeInvocable struct{}

func (fakeInvocable) Name() string        { return "echo" }
func (fakeInvocable) Description() string { return "echo input" }
func (fakeInvocable) Call(_ context.Context, in string) (string, error) {
	return in, nil
}

func TestImplKinds(t *testing.T) {
	tests := []struct {
		name  string
		impl  Impl
		kind  Kind
		valid bool
	}{
		{"func", Func(func(context.Context, map[string]any) (any, error) { return nil, nil }), KindFunc, true},
		{"invocable", Object(fakeInvocable{}), KindInvocable, true},
		{"sync", Sync(func(map[string]any) (any, error) { return nil, nil }), KindSync, true},
		{"nil func", Func(nil), KindFunc, false},
		{"zero", Impl{}, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.impl.Kind() != tt.kind {
				t.Errorf("Kind() = %v, want %v", tt.impl.Kind(), tt.kind)
			}
			if tt.impl.Valid() != tt.valid {
				t.Errorf("Valid() = %v, want %v", tt.impl.Valid(), tt.valid)
			}
		})
	}
}

func TestWithCommands_DoesNotAlias(t *testing.T) {
	base := Sync(func(map[string]any) (any, error) { return "ok", nil }).WithCommands(CommandExit)
	a := base.WithCommands(CommandPrivate)
	b := base.WithCommands(CommandReset)

	if len(base.Commands()) != 1 {
		t.Errorf("base commands mutated: %v", base.Commands())
	}
	if a.Commands()[1] != CommandPrivate || b.Commands()[1] != CommandReset {
		t.Errorf("commands aliased: a=%v b=%v", a.Commands(), b.Commands())
	}
}

func TestNormalizeSchema(t *testing.T) {
	tests := []struct {
		name     string
		raw      map[string]any
		wantName string
		wantErr  bool
	}{
		{
			name:     "already wrapped",
			raw:      Envelope("calculator", "math", nil),
			wantName: "calculator",
		},
		{
			name:     "bare schema is wrapped",
			raw:      map[string]any{"name": "wikipedia", "description": "lookup"},
			wantName: "wikipedia",
		},
		{name: "nil", raw: nil, wantErr: true},
		{name: "no name", raw: map[string]any{"description": "anonymous"}, wantErr: true},
		{name: "empty name", raw: Envelope("", "x", nil), wantErr: true},
		{name: "function not an object", raw: map[string]any{"function": "calculator"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, name, err := NormalizeSchema(tt.raw)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if name != tt.wantName || SchemaName(got) != tt.wantName {
				t.Errorf("name = %q / %q, want %q", name, SchemaName(got), tt.wantName)
			}
			if got["type"] != "function" {
				t.Errorf("envelope type = %v", got["type"])
			}
		})
	}
}

func TestRewrite(t *testing.T) {
	orig := Envelope("wikipedia", "Look things up.", nil)
	got := Rewrite(orig, "wiki", "", nil)

	if SchemaName(got) != "wiki" {
		t.Errorf("name = %q", SchemaName(got))
	}
	if d := (Descriptor{Schema: got}).Description(); d != "Look things up." {
		t.Errorf("description lost: %q", d)
	}
	if SchemaName(orig) != "wikipedia" {
		t.Error("Rewrite mutated its input")
	}
}

func TestCompileParameters(t *testing.T) {
	good := map[string]any{
		"type":       "object",
		"properties": map[string]any{"expression": map[string]any{"type": "string"}},
		"required":   []any{"expression"},
	}
	if _, err := CompileParameters(good); err != nil {
		t.Fatalf("valid schema rejected: %v", err)
	}
	if _, err := CompileParameters(nil); err != nil {
		t.Fatalf("nil schema rejected: %v", err)
	}

	bad := map[string]any{
		"type":       "object",
		"properties": map[string]any{"x": map[string]any{"type": "strng"}},
	}
	if _, err := CompileParameters(bad); err == nil {
		t.Fatal("invalid type name should fail to compile")
	}
}

func TestValidateArguments(t *testing.T) {
	d := Descriptor{Schema: Envelope("calculator", "math", map[string]any{
		"type":       "object",
		"properties": map[string]any{"expression": map[string]any{"type": "string"}},
		"required":   []any{"expression"},
	})}

	if err := ValidateArguments(d, map[string]any{"expression": "2+2"}); err != nil {
		t.Errorf("valid args rejected: %v", err)
	}
	if err := ValidateArguments(d, map[string]any{}); err == nil {
		t.Error("missing required arg accepted")
	}
	if err := ValidateArguments(d, map[string]any{"expression": 4}); err == nil {
		t.Error("wrong type accepted")
	}
}

func noop(map[string]any) (any, error) { return nil, nil }

func TestRegistry(t *testing.T) {
	reg, err := NewRegistry([]Descriptor{
		{Name: "quit_chat", Schema: Envelope("quit_chat", "End.", nil), Impl: Sync(noop), Source: "core"},
		{Name: "calculator", Schema: Envelope("calculator", "Math.", nil), Impl: Sync(noop), Source: "core"},
	})
	if err != nil {
		t.Fatal(err)
	}

	if reg.Len() != 2 {
		t.Errorf("Len() = %d", reg.Len())
	}
	if got := strings.Join(reg.Names(), ","); got != "quit_chat,calculator" {
		t.Errorf("Names() = %s", got)
	}
	if got := strings.Join(reg.SortedNames(), ","); got != "calculator,quit_chat" {
		t.Errorf("SortedNames() = %s", got)
	}
	if _, ok := reg.Lookup("calculator"); !ok {
		t.Error("Lookup(calculator) failed")
	}
	if _, ok := reg.Lookup("nope"); ok {
		t.Error("Lookup(nope) succeeded")
	}
	for i, s := range reg.Schemas() {
		if SchemaName(s) != reg.Names()[i] {
			t.Errorf("schema %d = %s, out of step with names", i, SchemaName(s))
		}
	}

	// Mutating the returned slice must not affect the registry.
	s := reg.Schemas()
	s[0] = nil
	if reg.Schemas()[0] == nil {
		t.Error("Schemas() exposed internal slice")
	}
}

func TestNewRegistry_Rejects(t *testing.T) {
	tests := []struct {
		name  string
		descs []Descriptor
	}{
		{"duplicate", []Descriptor{{Name: "a", Impl: Sync(noop)}, {Name: "a", Impl: Sync(noop)}}},
		{"no name", []Descriptor{{Impl: Sync(noop)}}},
		{"no impl", []Descriptor{{Name: "a"}}},
	}
	for _, tt := range tests {
		if _, err := NewRegistry(tt.descs); err == nil {
			t.Errorf("%s: expected error", tt.name)
		}
	}
}

func TestNilRegistry(t *testing.T) {
	var reg *Registry
	if reg.Len() != 0 || reg.Schemas() != nil || reg.Names() != nil {
		t.Error("nil registry should be empty")
	}
	if _, ok := reg.Lookup("x"); ok {
		t.Error("nil registry lookup succeeded")
	}
}

func TestSet_Add(t *testing.T) {
	s := NewSet("core")
	s.Add("quit_chat", "End the conversation.", nil, Sync(noop).WithCommands(CommandExit))

	if s.Len() != 1 {
		t.Fatalf("Len() = %d", s.Len())
	}
	if SchemaName(s.Schemas[0]) != "quit_chat" {
		t.Errorf("schema name = %s", SchemaName(s.Schemas[0]))
	}
	if cmds := s.Impls["quit_chat"].Commands(); len(cmds) != 1 || cmds[0] != CommandExit {
		t.Errorf("commands = %v", cmds)
	}
	if p := Parameters(s.Schemas[0]); p["type"] != "object" {
		t.Errorf("default parameters = %v", p)
	}
}

type stringerValue struct{}

func (stringerValue) String() string { return "stringer" }

func TestStringify(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
	}{
		{"nil", nil, ""},
		{"string", "hello", "hello"},
		{"bytes", []byte("raw"), "raw"},
		{"int", 4, "4"},
		{"float", 4.5, "4.5"},
		{"whole float", float64(4), "4"},
		{"bool", true, "true"},
		{"error", errors.New("boom"), "boom"},
		{"stringer", stringerValue{}, "stringer"},
		{"duration", 2 * time.Second, "2s"},
		{"map sorted", map[string]any{"b": 1, "a": "x"}, `{"a":"x","b":1}`},
		{"slice", []string{"a", "b"}, `["a","b"]`},
		{"struct", struct {
			Path string `json:"relative_path"`
		}{"n.md"}, `{"relative_path":"n.md"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Stringify(tt.in); got != tt.want {
				t.Errorf("Stringify(%v) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestCommandString(t *testing.T) {
	if CommandPrivate.String() != "private" || Command(99).String() != "Command(99)" {
		t.Error("Command.String() mismatch")
	}
	if KindSync.String() != "sync" {
		t.Error("Kind.String() mismatch")
	}
}
