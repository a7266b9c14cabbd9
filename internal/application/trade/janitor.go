package trade

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Janitor periodically removes expired sessions.
type Janitor struct {
	svc      *Service
	interval time.Duration
	logger   zerolog.Logger
}

func NewJanitor(svc *Service, interval time.Duration, logger zerolog.Logger) *Janitor {
	return &Janitor{
		svc:      svc,
		interval: interval,
		logger:   logger.With().Str("component", "janitor").Logger(),
	}
}

// Run sweeps every interval until ctx is cancelled. A failed sweep is
// logged and retried on the next tick.
func (j *Janitor) Run(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.logger.Info().Dur("interval", j.interval).Msg("janitor started")
	for {
		select {
		case <-ctx.Done():
			j.logger.Info().Msg("janitor stopped")
			return
		case <-ticker.C:
			j.Sweep(ctx)
		}
	}
}

// Sweep runs a single purge pass.
func (j *Janitor) Sweep(ctx context.Context) {
	removed, err := j.svc.PurgeExpired(ctx)
	if err != nil {
		j.logger.Warn().Err(err).Int("removed", removed).Msg("sweep failed")
		return
	}
	if removed > 0 {
		j.logger.Info().Int("removed", removed).Msg("expired sessions purged")
		return
	}
	j.logger.Debug().Msg("nothing to purge")
}
