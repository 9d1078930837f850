package trainer

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// RunSchedule retrains every Sunday at 00:00 UTC until ctx is cancelled.
// A failed run is logged and the next slot is still honored.
func (t *Trainer) RunSchedule(ctx context.Context) error {
	for {
		next := nextSunday(time.Now().UTC())
		log.Info().Time("next_run", next).Msg("Trainer scheduled")

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}

		if err := t.Run(ctx); err != nil {
			log.Error().Err(err).Msg("Scheduled training run failed")
		}
	}
}

// nextSunday returns the first Sunday midnight strictly after now.
func nextSunday(now time.Time) time.Time {
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	days := (7 - int(now.Weekday())) % 7
	next := midnight.AddDate(0, 0, days)
	if !next.After(now) {
		next = next.AddDate(0, 0, 7)
	}
	return next
}
