package resilience_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerdesk/authkit/resilience"
)

var errTransient = errors.New("transient failure")
var errTerminal = errors.New("terminal failure")

func retryTransient(err error) bool {
	return errors.Is(err, errTransient)
}

func TestExecute_Success(t *testing.T) {
	p, err := resilience.New("success", resilience.Options{ShouldRetry: retryTransient})
	require.NoError(t, err)

	calls := 0
	err = p.Execute(context.Background(), func(ctx context.Context) error {
		calls++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, calls)

	stats := p.Stats()
	assert.False(t, stats.Open)
	assert.Equal(t, int64(1), stats.Executions)
	assert.Equal(t, int64(0), stats.Failures)
}

func TestExecute_RetriesTransientThenSucceeds(t *testing.T) {
	type retryEvent struct {
		attempt int
		base    time.Duration
	}
	var events []retryEvent

	p, err := resilience.New("retry-then-success", resilience.Options{
		RetryInterval: time.Millisecond,
		ShouldRetry:   retryTransient,
		OnRetry: func(attempt int, base, sleep time.Duration, err error) {
			events = append(events, retryEvent{attempt, base})
		},
	})
	require.NoError(t, err)

	calls := 0
	err = p.Execute(context.Background(), func(ctx context.Context) error {
		calls++
		if calls <= 3 {
			return errTransient
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 4, calls, "3 failures then 1 success")
	require.Len(t, events, 3, "exactly 3 delayed retries")

	// Pre-jitter base delay doubles per attempt
	for i := 1; i < len(events); i++ {
		assert.Greater(t, events[i].base, events[i-1].base,
			"pre-jitter delay must strictly increase")
	}
	assert.Equal(t, time.Millisecond, events[0].base)
	assert.Equal(t, 4*time.Millisecond, events[2].base)
}

func TestExecute_RetryBudgetOutlivesOneSecond(t *testing.T) {
	p, err := resilience.New("slow-attempts", resilience.Options{
		MaxAttempts:   3,
		RetryInterval: time.Millisecond,
		ShouldRetry:   retryTransient,
	})
	require.NoError(t, err)

	// Each attempt takes 400ms, so the budget spans well past one second.
	// Only the pipeline's own 15s bound may cut the loop short.
	calls := 0
	err = p.Execute(context.Background(), func(ctx context.Context) error {
		calls++
		select {
		case <-time.After(400 * time.Millisecond):
		case <-ctx.Done():
			return ctx.Err()
		}
		return errTransient
	})

	assert.ErrorIs(t, err, errTransient)
	assert.NotErrorIs(t, err, resilience.ErrTimeout)
	assert.Equal(t, 3, calls, "the full attempt budget must run")
}

func TestExecute_TerminalFailureNoRetry(t *testing.T) {
	p, err := resilience.New("terminal", resilience.Options{
		RetryInterval: time.Millisecond,
		ShouldRetry:   retryTransient,
	})
	require.NoError(t, err)

	calls := 0
	err = p.Execute(context.Background(), func(ctx context.Context) error {
		calls++
		return errTerminal
	})

	assert.ErrorIs(t, err, errTerminal)
	assert.Equal(t, 1, calls, "terminal failures must not be retried")
}

func TestExecute_ExhaustsRetryBudget(t *testing.T) {
	p, err := resilience.New("exhausted", resilience.Options{
		MaxAttempts:   3,
		RetryInterval: time.Millisecond,
		ShouldRetry:   retryTransient,
	})
	require.NoError(t, err)

	calls := 0
	err = p.Execute(context.Background(), func(ctx context.Context) error {
		calls++
		return errTransient
	})

	assert.ErrorIs(t, err, errTransient)
	assert.Equal(t, 3, calls)
	assert.Contains(t, err.Error(), "retry budget exhausted")
}

func TestExecute_CircuitOpensAfterFailures(t *testing.T) {
	p, err := resilience.New("breaker", resilience.Options{
		RetryInterval: time.Millisecond,
		ShouldRetry:   retryTransient,
	})
	require.NoError(t, err)

	ctx := context.Background()

	// Two consecutive terminal failures exceed the 70% ratio at the
	// 2-call volume threshold.
	for i := 0; i < 2; i++ {
		err = p.Execute(ctx, func(ctx context.Context) error {
			return errTerminal
		})
		assert.ErrorIs(t, err, errTerminal)
	}

	require.True(t, p.IsOpen(), "circuit should be open after 2 consecutive failures")

	var executed atomic.Bool
	start := time.Now()
	err = p.Execute(ctx, func(ctx context.Context) error {
		executed.Store(true)
		return nil
	})

	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.False(t, executed.Load(), "open circuit must not invoke the operation")
	assert.Less(t, time.Since(start), 100*time.Millisecond, "open circuit must fail fast")
}

func TestExecute_Timeout(t *testing.T) {
	p, err := resilience.New("timeout", resilience.Options{
		Timeout:     50 * time.Millisecond,
		ShouldRetry: retryTransient,
	})
	require.NoError(t, err)

	err = p.Execute(context.Background(), func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	assert.ErrorIs(t, err, resilience.ErrTimeout)
}

func TestExecute_Canceled(t *testing.T) {
	p, err := resilience.New("canceled", resilience.Options{ShouldRetry: retryTransient})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err = p.Execute(ctx, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	assert.ErrorIs(t, err, resilience.ErrCanceled)
}

func TestExecute_NoRetryPastCancellation(t *testing.T) {
	p, err := resilience.New("cancel-no-retry", resilience.Options{
		RetryInterval: 20 * time.Millisecond,
		ShouldRetry:   retryTransient,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	err = p.Execute(ctx, func(ctx context.Context) error {
		calls++
		cancel()
		return errTransient
	})

	assert.ErrorIs(t, err, resilience.ErrCanceled)
	assert.Equal(t, 1, calls, "cancellation must stop further attempts")
}
