package store

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// SweepLoop deletes expired relay-state rows on the given interval until
// ctx is cancelled. Run it in its own goroutine.
func (s *Store) SweepLoop(ctx context.Context, interval time.Duration, logger zerolog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted, err := s.SweepRelayState(ctx)
			if err != nil {
				logger.Error().Err(err).Msg("relay state sweep failed")
				continue
			}
			if deleted > 0 {
				logger.Debug().Int64("deleted", deleted).Msg("swept expired relay state")
			}
		}
	}
}
