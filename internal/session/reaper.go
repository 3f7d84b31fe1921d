package session

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Reaper periodically archives idle, empty sessions. Failures are logged
// and retried on the next tick; the sweep itself is idempotent.
type Reaper struct {
	manager  *Manager
	interval time.Duration
	log      zerolog.Logger
}

func NewReaper(manager *Manager, interval time.Duration, log zerolog.Logger) *Reaper {
	return &Reaper{manager: manager, interval: interval, log: log}
}

// Run blocks until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			archived, err := r.manager.CleanupInactiveSessions(ctx)
			if err != nil {
				r.log.Warn().Err(err).Msg("session cleanup sweep failed")
				continue
			}
			if archived > 0 {
				r.log.Info().Int("archived", archived).Msg("archived idle sessions")
			}
		}
	}
}
