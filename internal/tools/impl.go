// Package tools defines the tool model shared by the registry builder,
// the invoker and every tool source: descriptors, the tagged union of
// calling conventions, mode commands and the immutable registry.
package tools

import (
	"context"
	"fmt"
)

// Kind identifies a tool's calling convention.
type Kind int

const (
	// KindFunc is a context-aware function called on the caller's goroutine.
	KindFunc Kind = iota + 1
	// KindInvocable is an object with a single-string Call method, the
	// langchaingo tools.Tool contract.
	KindInvocable
	// KindSync is a plain function with no context. The invoker runs it on
	// its own goroutine so a slow call cannot hold up its siblings.
	KindSync
)

func (k Kind) String() string {
	switch k {
	case KindFunc:
		return "func"
	case KindInvocable:
		return "invocable"
	case KindSync:
		return "sync"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// ContextFunc is the KindFunc signature.
type ContextFunc func(ctx context.Context, args map[string]any) (any, error)

// SyncFunc is the KindSync signature.
type SyncFunc func(args map[string]any) (any, error)

// Invocable is an externally defined tool object. Any langchaingo
// tools.Tool satisfies it.
type Invocable interface {
	Name() string
	Description() string
	Call(ctx context.Context, input string) (string, error)
}

// Command is a session mode change produced by calling a tool. Commands
// are declared when a tool is registered and applied by the agent loop.
type Command int

const (
	CommandExit Command = iota + 1
	CommandReset
	CommandHighPower
	CommandPrivate
)

func (c Command) String() string {
	switch c {
	case CommandExit:
		return "exit"
	case CommandReset:
		return "reset"
	case CommandHighPower:
		return "high_power"
	case CommandPrivate:
		return "private"
	default:
		return fmt.Sprintf("Command(%d)", int(c))
	}
}

// Impl is a tool implementation: exactly one of the three calling
// conventions, selected at construction.
type Impl struct {
	kind     Kind
	fn       ContextFunc
	obj      Invocable
	sync     SyncFunc
	commands []Command
}

// Func wraps a context-aware function.
func Func(fn ContextFunc) Impl { return Impl{kind: KindFunc, fn: fn} }

// Object wraps an invocable object.
func Object(obj Invocable) Impl { return Impl{kind: KindInvocable, obj: obj} }

// Sync wraps a plain function.
func Sync(fn SyncFunc) Impl { return Impl{kind: KindSync, sync: fn} }

// WithCommands returns a copy of i that produces cmds whenever it is
// called.
func (i Impl) WithCommands(cmds ...Command) Impl {
	i.commands = append(append([]Command(nil), i.commands...), cmds...)
	return i
}

// Kind reports the calling convention, or zero for the empty Impl.
func (i Impl) Kind() Kind { return i.kind }

// Valid reports whether i carries a callable.
func (i Impl) Valid() bool {
	switch i.kind {
	case KindFunc:
		return i.fn != nil
	case KindInvocable:
		return i.obj != nil
	case KindSync:
		return i.sync != nil
	}
	return false
}

// ContextFunc returns the KindFunc callable.
func (i Impl) ContextFunc() ContextFunc { return i.fn }

// Invocable returns the KindInvocable object.
func (i Impl) Invocable() Invocable { return i.obj }

// SyncFunc returns the KindSync callable.
func (i Impl) SyncFunc() SyncFunc { return i.sync }

// Commands returns the mode commands the tool produces.
func (i Impl) Commands() []Command { return i.commands }
