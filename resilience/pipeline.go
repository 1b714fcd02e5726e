package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cep21/circuit/v4"
	"github.com/cep21/circuit/v4/closers/hystrix"
	"github.com/cloudflare/backoff"
	"go.uber.org/zap"
)

// Pipeline errors, surfaced as distinct values so callers can tell "the
// breaker refused the call" from "the wall clock ran out" from "the caller
// canceled" without inspecting strings.
var (
	// ErrCircuitOpen means the circuit breaker is open and the call was
	// refused without touching the network.
	ErrCircuitOpen = errors.New("circuit breaker is open")

	// ErrTimeout means the pipeline's wall-clock bound elapsed before the
	// operation completed.
	ErrTimeout = errors.New("operation timed out")

	// ErrCanceled means the caller's context was canceled.
	ErrCanceled = errors.New("operation canceled")
)

// ShouldRetryFunc classifies an operation error: true means the failure is
// transient and worth another attempt.
type ShouldRetryFunc func(err error) bool

// OnRetryFunc is invoked before each retry sleep with the attempt number
// just failed, the pre-jitter base delay, the actual sleep duration, and the
// error that triggered the retry.
type OnRetryFunc func(attempt int, baseDelay, sleep time.Duration, err error)

// Options configures a Pipeline. Zero values fall back to the defaults
// listed on each field.
type Options struct {
	// Timeout is the hard wall-clock bound for the whole execution,
	// including all retries. Default 15s.
	Timeout time.Duration

	// MaxAttempts is the total attempt budget, first call included.
	// Default 5.
	MaxAttempts int

	// RetryInterval is the initial backoff delay, doubled per attempt with
	// randomized jitter. Default 500ms.
	RetryInterval time.Duration

	// ErrorThresholdPercentage is the failure ratio that opens the circuit.
	// Default 70.
	ErrorThresholdPercentage int64

	// RequestVolumeThreshold is the minimum number of sampled calls before
	// the ratio is evaluated. Default 2.
	RequestVolumeThreshold int64

	// RollingDuration is the failure sampling window. Default 30s.
	RollingDuration time.Duration

	// SleepWindow is the cool-down before an open circuit allows a trial
	// call. Default 5m.
	SleepWindow time.Duration

	// ShouldRetry classifies errors. When nil every error is terminal.
	ShouldRetry ShouldRetryFunc

	// OnRetry is an observation hook, primarily for tests.
	OnRetry OnRetryFunc

	// Logger receives structured events for attempts, backoff delays, and
	// breaker state transitions. Defaults to a no-op logger.
	Logger *zap.Logger
}

func (o *Options) applyDefaults() {
	if o.Timeout <= 0 {
		o.Timeout = 15 * time.Second
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 5
	}
	if o.RetryInterval <= 0 {
		o.RetryInterval = 500 * time.Millisecond
	}
	if o.ErrorThresholdPercentage <= 0 {
		o.ErrorThresholdPercentage = 70
	}
	if o.RequestVolumeThreshold <= 0 {
		o.RequestVolumeThreshold = 2
	}
	if o.RollingDuration <= 0 {
		o.RollingDuration = 30 * time.Second
	}
	if o.SleepWindow <= 0 {
		o.SleepWindow = 5 * time.Minute
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
}

// Stats is a point-in-time snapshot of pipeline activity.
type Stats struct {
	Open       bool  `json:"open"`
	Executions int64 `json:"executions"`
	Failures   int64 `json:"failures"`
	Retries    int64 `json:"retries"`
}

// Pipeline wraps one operation type in, outer to inner, a wall-clock
// timeout, a shared circuit breaker, and a retry loop with exponential
// backoff and jitter. The breaker state is shared across every execution of
// the same pipeline, so concurrent callers agree on whether the dependency
// is healthy; its counters are atomic rather than lock-guarded.
type Pipeline struct {
	opts    Options
	circuit *circuit.Circuit
	logger  *zap.Logger

	executions atomic.Int64
	failures   atomic.Int64
	retries    atomic.Int64
}

// New creates a Pipeline identified by name. The name namespaces the
// underlying circuit, so two pipelines never share breaker state.
func New(name string, opts Options) (*Pipeline, error) {
	opts.applyDefaults()

	configuration := hystrix.Factory{
		ConfigureOpener: hystrix.ConfigureOpener{
			ErrorThresholdPercentage: opts.ErrorThresholdPercentage,
			RequestVolumeThreshold:   opts.RequestVolumeThreshold,
			RollingDuration:          opts.RollingDuration,
		},
		ConfigureCloser: hystrix.ConfigureCloser{
			SleepWindow:      opts.SleepWindow,
			HalfOpenAttempts: 1,
		},
	}

	manager := circuit.Manager{
		DefaultCircuitProperties: []circuit.CommandPropertiesConstructor{configuration.Configure},
	}

	// cep21 applies a 1s execution timeout unless told otherwise, which
	// would cut the retry loop short. The pipeline's own context deadline
	// owns the wall clock.
	c, err := manager.CreateCircuit(name, circuit.Config{
		Execution: circuit.ExecutionConfig{Timeout: -1},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create circuit %s: %w", name, err)
	}

	return &Pipeline{
		opts:    opts,
		circuit: c,
		logger:  opts.Logger.With(zap.String("pipeline", name)),
	}, nil
}

// Execute runs op through the pipeline. The error returned is one of:
//   - nil on success
//   - ErrCircuitOpen (wrapped) when the breaker refused the call
//   - ErrTimeout (wrapped) when the wall-clock bound elapsed
//   - ErrCanceled (wrapped) when the caller's context was canceled
//   - the operation's own terminal error, possibly wrapped with an
//     exhaustion message when the retry budget ran out
func (p *Pipeline) Execute(parent context.Context, op func(ctx context.Context) error) error {
	p.executions.Add(1)

	ctx, cancel := context.WithTimeout(parent, p.opts.Timeout)
	defer cancel()

	wasOpen := p.circuit.IsOpen()

	err := p.circuit.Run(ctx, func(ctx context.Context) error {
		return p.runWithRetry(ctx, op)
	})

	if nowOpen := p.circuit.IsOpen(); nowOpen != wasOpen {
		p.logger.Info("circuit breaker state changed", zap.Bool("open", nowOpen))
	}

	if err == nil {
		return nil
	}
	p.failures.Add(1)

	var openErr interface{ CircuitOpen() bool }
	if errors.As(err, &openErr) && openErr.CircuitOpen() {
		p.logger.Debug("circuit breaker open, operation did not execute")
		return fmt.Errorf("%w", ErrCircuitOpen)
	}

	if parent.Err() != nil {
		return fmt.Errorf("%w: %v", ErrCanceled, parent.Err())
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s", ErrTimeout, p.opts.Timeout)
	}

	return err
}

// runWithRetry retries op on transient failures with exponential backoff and
// jitter, up to the attempt budget or the context deadline, whichever comes
// first. Terminal failures return immediately with zero further attempts.
func (p *Pipeline) runWithRetry(ctx context.Context, op func(ctx context.Context) error) error {
	b := backoff.New(p.opts.Timeout, p.opts.RetryInterval)
	defer b.Reset()

	baseDelay := p.opts.RetryInterval

	var err error
	for attempt := 1; ; attempt++ {
		err = op(ctx)
		if err == nil {
			return nil
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if p.opts.ShouldRetry == nil || !p.opts.ShouldRetry(err) {
			return err
		}
		if attempt >= p.opts.MaxAttempts {
			return fmt.Errorf("retry budget exhausted after %d attempts: %w", p.opts.MaxAttempts, err)
		}

		sleep := b.Duration()
		p.logger.Debug("retrying operation",
			zap.Int("attempt", attempt),
			zap.Duration("base_delay", baseDelay),
			zap.Duration("backoff", sleep),
			zap.Error(err),
		)
		p.retries.Add(1)
		if p.opts.OnRetry != nil {
			p.opts.OnRetry(attempt, baseDelay, sleep, err)
		}
		baseDelay *= 2

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}
	}
}

// IsOpen reports whether the circuit breaker is currently open.
func (p *Pipeline) IsOpen() bool {
	return p.circuit.IsOpen()
}

// Stats returns a snapshot of pipeline activity for operator diagnosis.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Open:       p.circuit.IsOpen(),
		Executions: p.executions.Load(),
		Failures:   p.failures.Load(),
		Retries:    p.retries.Load(),
	}
}
