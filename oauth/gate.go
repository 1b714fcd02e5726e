package oauth

import (
	"context"
	"sync"
)

type gateState int

const (
	gateUninitialized gateState = iota
	gateInitializing
	gateReady
)

// initGate is a run-exactly-once lazy initializer for credential resolution.
// It is an explicit state machine (Uninitialized, Initializing, Ready) behind
// a mutex and condition variable: concurrent callers arriving while an
// attempt is in flight block until it completes, then either read the fully
// populated configuration or observe the same error the attempt produced.
// A failed attempt leaves the gate Uninitialized, so the next caller retries
// instead of hitting a permanently poisoned gate.
type initGate struct {
	mu    sync.Mutex
	cond  *sync.Cond
	state gateState
	cfg   *Config
	err   error // outcome of the most recent failed attempt, read by waiters
}

func newInitGate() *initGate {
	g := &initGate{}
	g.cond = sync.NewCond(&g.mu)
	return g
}

// ensure returns the resolved configuration, running resolve at most once
// concurrently. A caller never observes a partially populated Config: the
// value is published only after resolve returns successfully.
func (g *initGate) ensure(ctx context.Context, resolve func(context.Context) (*Config, error)) (*Config, error) {
	g.mu.Lock()
	for {
		switch g.state {
		case gateReady:
			cfg := g.cfg
			g.mu.Unlock()
			return cfg, nil

		case gateInitializing:
			g.cond.Wait()
			if g.state == gateUninitialized && g.err != nil {
				// The attempt we waited on failed; report its error rather
				// than repeating the work ourselves.
				err := g.err
				g.mu.Unlock()
				return nil, err
			}

		case gateUninitialized:
			g.state = gateInitializing
			g.err = nil
			g.mu.Unlock()

			cfg, err := resolve(ctx)

			g.mu.Lock()
			if err != nil {
				g.state = gateUninitialized
				g.err = err
				g.cond.Broadcast()
				g.mu.Unlock()
				return nil, err
			}
			g.cfg = cfg
			g.state = gateReady
			g.cond.Broadcast()
			g.mu.Unlock()
			return cfg, nil
		}
	}
}
