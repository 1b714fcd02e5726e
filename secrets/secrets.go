package secrets

import (
	"context"
	"fmt"
	"os"
	"sync"
)

// Store is the secret-vault contract consumed by the credential resolver and
// the token store. Absence of a secret is not an error: Get returns ok=false.
type Store interface {
	// Get fetches a secret by name. ok is false when the secret is absent.
	Get(ctx context.Context, name string) (value string, ok bool, err error)

	// Set stores a secret under the given name.
	Set(ctx context.Context, name, value string) error
}

// Memory implements Store with an in-process map. Useful for tests and for
// hosts without a vault.
type Memory struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemory creates an empty in-memory secret store.
func NewMemory() *Memory {
	return &Memory{values: make(map[string]string)}
}

// Get fetches a secret by name.
func (m *Memory) Get(_ context.Context, name string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[name]
	return v, ok, nil
}

// Set stores a secret under the given name.
func (m *Memory) Set(_ context.Context, name, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[name] = value
	return nil
}

// Env implements a read-only Store over process environment variables.
// Secret names are mapped to variables by upper-casing and replacing
// separators, optionally under a prefix.
type Env struct {
	Prefix string
}

// Get fetches a secret from the environment.
func (e *Env) Get(_ context.Context, name string) (string, bool, error) {
	v, ok := os.LookupEnv(e.Prefix + envName(name))
	return v, ok && v != "", nil
}

// Set is not supported for the environment store.
func (e *Env) Set(_ context.Context, name, _ string) error {
	return fmt.Errorf("env secret store is read-only: cannot set %q", name)
}

func envName(name string) string {
	out := make([]byte, len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= 'a' && c <= 'z':
			out[i] = c - 'a' + 'A'
		case c == '.' || c == '-' || c == '/':
			out[i] = '_'
		default:
			out[i] = c
		}
	}
	return string(out)
}

// Chain implements Store over an ordered list of backends. Get returns the
// first hit; Set writes to the first backend that accepts it.
type Chain struct {
	stores []Store
}

// NewChain creates a chained store. Earlier stores take priority.
func NewChain(stores ...Store) *Chain {
	return &Chain{stores: stores}
}

// Get fetches a secret from the first store that has it.
func (c *Chain) Get(ctx context.Context, name string) (string, bool, error) {
	for _, s := range c.stores {
		v, ok, err := s.Get(ctx, name)
		if err != nil {
			return "", false, err
		}
		if ok {
			return v, true, nil
		}
	}
	return "", false, nil
}

// Set stores a secret in the first writable store.
func (c *Chain) Set(ctx context.Context, name, value string) error {
	var lastErr error
	for _, s := range c.stores {
		if err := s.Set(ctx, name, value); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no secret store configured")
	}
	return lastErr
}
