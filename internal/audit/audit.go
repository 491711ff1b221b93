// Package audit records every tool call the agent makes. Sinks are
// best-effort: the invoker logs and discards their errors.
package audit

import (
	"context"
	"errors"
)

// Sink receives one record per tool call.
type Sink interface {
	Record(ctx context.Context, name string, args map[string]any, result string) error
}

// Multi fans a record out to several sinks.
type Multi []Sink

// Record writes to every sink and joins their errors.
func (m Multi) Record(ctx context.Context, name string, args map[string]any, result string) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Record(ctx, name, args, result); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type sessionKey struct{}

// WithSession tags ctx with a session ID that sinks may store.
func WithSession(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionKey{}, id)
}

// SessionFrom returns the session ID carried by ctx, if any.
func SessionFrom(ctx context.Context) string {
	id, _ := ctx.Value(sessionKey{}).(string)
	return id
}
