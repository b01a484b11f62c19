package auth

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/famblog/internal/store"
	"github.com/wolfeidau/famblog/internal/telemetry"
)

// DefaultJanitorInterval is used when NewSessionJanitor is given a
// non-positive interval.
const DefaultJanitorInterval = 10 * time.Minute

// SessionJanitor periodically deletes expired sessions from a SessionStore.
// Stores with native expiry (redis) report zero deletions.
type SessionJanitor struct {
	sessionStore store.SessionStore
	interval     time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSessionJanitor starts a janitor that sweeps every interval.
// The background goroutine runs until Stop() is called or ctx is cancelled.
// A non-positive interval falls back to DefaultJanitorInterval.
func NewSessionJanitor(ctx context.Context, sessionStore store.SessionStore, interval time.Duration) *SessionJanitor {
	if interval <= 0 {
		log.Warn().Dur("interval", interval).Dur("default", DefaultJanitorInterval).Msg("Invalid session janitor interval, using default")
		interval = DefaultJanitorInterval
	}

	janitorCtx, cancel := context.WithCancel(ctx)

	j := &SessionJanitor{
		sessionStore: sessionStore,
		interval:     interval,
		ctx:          janitorCtx,
		cancel:       cancel,
	}

	j.wg.Add(1)
	go j.sweepLoop()

	return j
}

// Stop gracefully stops the background sweep goroutine.
func (j *SessionJanitor) Stop() {
	j.cancel()
	j.wg.Wait()
}

func (j *SessionJanitor) sweepLoop() {
	defer j.wg.Done()

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-j.ctx.Done():
			log.Info().Msg("Session janitor stopped")
			return

		case <-ticker.C:
			if _, err := j.Sweep(j.ctx); err != nil {
				log.Error().Err(err).Msg("Failed to delete expired sessions")
			}
		}
	}
}

// Sweep deletes expired sessions once and returns how many were removed.
func (j *SessionJanitor) Sweep(ctx context.Context) (int, error) {
	n, err := j.sessionStore.DeleteExpired(ctx)
	if err != nil {
		return 0, err
	}

	if n > 0 {
		telemetry.GetMetrics().SessionsExpiredTotal.Add(ctx, int64(n))
		log.Info().Int("count", n).Msg("Deleted expired sessions")
	}

	return n, nil
}
