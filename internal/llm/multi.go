package llm

import (
	"context"
	"errors"
	"fmt"
	"maps"
)

// MultiClient routes each request to a provider by model name. Models
// without an explicit route go to the default provider.
type MultiClient struct {
	providers map[string]Client
	routes    map[string]string // model → provider
	def       string
}

// NewMultiClient routes unlisted models to the provider named def.
func NewMultiClient(def string, providers map[string]Client) *MultiClient {
	return &MultiClient{
		providers: maps.Clone(providers),
		routes:    make(map[string]string),
		def:       def,
	}
}

// Route sends model to provider.
func (m *MultiClient) Route(model, provider string) error {
	if _, ok := m.providers[provider]; !ok {
		return fmt.Errorf("model %s: unknown provider %q", model, provider)
	}
	m.routes[model] = provider
	return nil
}

// Provider returns the provider model is routed to.
func (m *MultiClient) Provider(model string) (string, Client, error) {
	name := m.def
	if p, ok := m.routes[model]; ok {
		name = p
	}
	c, ok := m.providers[name]
	if !ok || c == nil {
		return "", nil, fmt.Errorf("no provider configured for model %q", model)
	}
	return name, c, nil
}

// InUse returns the default provider plus every provider a model is
// routed to.
func (m *MultiClient) InUse() map[string]Client {
	used := make(map[string]Client)
	if c, ok := m.providers[m.def]; ok && c != nil {
		used[m.def] = c
	}
	for _, p := range m.routes {
		used[p] = m.providers[p]
	}
	return used
}

// Chat forwards the request to the model's provider.
func (m *MultiClient) Chat(ctx context.Context, model string, messages []Message, tools []map[string]any) (*ChatResponse, error) {
	_, c, err := m.Provider(model)
	if err != nil {
		return nil, err
	}
	return c.Chat(ctx, model, messages, tools)
}

// Ping checks every provider in use and reports all failures.
func (m *MultiClient) Ping(ctx context.Context) error {
	used := m.InUse()
	if len(used) == 0 {
		return errors.New("no provider configured")
	}
	var errs []error
	for name, c := range used {
		if err := c.Ping(ctx); err != nil {
			errs = append(errs, fmt.Errorf("provider %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}
