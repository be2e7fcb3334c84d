package authcore

import (
	"context"
	"time"
)

// SweepExpiredPermissions deletes grants whose expiry has passed.
func (e *Engine) SweepExpiredPermissions(ctx context.Context) (int, error) {
	n, err := e.permissions.DeleteExpired(ctx)
	if err != nil {
		return n, internalError(err)
	}
	e.metrics.Add(MetricSweepPermissions, uint64(n))
	return n, nil
}

// StartJanitor runs both expiry sweeps every Config.Sweep.Interval until ctx
// is cancelled or the engine is closed. It is a no-op when the interval is
// zero. Calling it more than once starts more than one janitor.
func (e *Engine) StartJanitor(ctx context.Context) {
	interval := e.config.Sweep.Interval
	if interval <= 0 {
		return
	}

	e.janitorWG.Add(1)
	go func() {
		defer e.janitorWG.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-e.stop:
				return
			case <-ticker.C:
				e.sweepOnce(ctx)
			}
		}
	}()
}

func (e *Engine) sweepOnce(parent context.Context) {
	ctx, cancel := context.WithTimeout(parent, e.config.Sweep.Timeout)
	defer cancel()

	log := e.logger.With().Str("component", "janitor").Logger()

	sessions, err := e.SweepExpiredSessions(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("session sweep failed")
	}
	grants, err := e.SweepExpiredPermissions(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("permission sweep failed")
	}

	if sessions > 0 || grants > 0 {
		log.Info().Int("sessions", sessions).Int("permissions", grants).Msg("expired records swept")
	}
}
