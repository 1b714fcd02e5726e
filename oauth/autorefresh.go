package oauth

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultRefreshInterval is how often the background refresher checks the
// cached token. The check is cheap: a valid token short-circuits before any
// network call, so the interval only bounds how stale the check can be
// relative to the expiry buffer.
const DefaultRefreshInterval = time.Minute

// autoRefresher keeps the cached token fresh in the background so
// foreground API calls rarely pay the refresh latency. Each tick asks the
// service for a usable token; the service refreshes only when the cached
// one is inside the expiry buffer.
type autoRefresher struct {
	svc      *Service
	interval time.Duration
	logger   *zap.Logger

	stop chan struct{}
	wg   sync.WaitGroup
}

func newAutoRefresher(svc *Service, interval time.Duration, logger *zap.Logger) *autoRefresher {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	return &autoRefresher{
		svc:      svc,
		interval: interval,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

func (r *autoRefresher) start() {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				r.tick()
			case <-r.stop:
				return
			}
		}
	}()
}

func (r *autoRefresher) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	_, err := r.svc.Token(ctx)
	switch {
	case err == nil:
	case errors.Is(err, ErrNoToken):
		// Nothing cached yet; the user hasn't authorized. Not an error.
	default:
		r.logger.Warn("background token refresh failed", zap.Error(err))
	}
}

// halt stops the refresher and waits for the in-flight tick, if any.
func (r *autoRefresher) halt() {
	close(r.stop)
	r.wg.Wait()
}
