package sched

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/teambition/rrule-go"

	"shop-fulfillment/internal/infra/redis"
	"shop-fulfillment/internal/usecase"
)

const sweepLockKey = "lock:expiration-sweep"

// ExpiryWorker runs the expiration sweep on an RRULE schedule. A redis lock
// keeps replicas from sweeping at the same time; row locks still guard each
// item if the lock expires mid-run.
type ExpiryWorker struct {
	rule    *rrule.RRule
	uc      usecase.ExpirationUseCase
	locker  redis.Locker
	lockTTL time.Duration
	log     *zerolog.Logger
}

// NewExpiryWorker parses rule (e.g. "FREQ=MINUTELY;INTERVAL=5"). locker may be nil.
func NewExpiryWorker(rule string, uc usecase.ExpirationUseCase, locker redis.Locker, lockTTL time.Duration, logger *zerolog.Logger) (*ExpiryWorker, error) {
	r, err := rrule.StrToRRule(rule)
	if err != nil {
		return nil, fmt.Errorf("sweep rule %q: %w", rule, err)
	}
	r.DTStart(time.Now().Truncate(time.Minute))
	if lockTTL <= 0 {
		lockTTL = 2 * time.Minute
	}
	exprLog := logger.With().Str("component", "ExpiryWorker").Logger()
	return &ExpiryWorker{
		rule:    r,
		uc:      uc,
		locker:  locker,
		lockTTL: lockTTL,
		log:     &exprLog,
	}, nil
}

// Next returns the first scheduled run strictly after t.
func (w *ExpiryWorker) Next(t time.Time) time.Time {
	return w.rule.After(t, false)
}

func (w *ExpiryWorker) Run(ctx context.Context) error {
	w.log.Info().Str("rule", w.rule.String()).Msg("Starting expiry worker")
	for {
		next := w.Next(time.Now())
		if next.IsZero() {
			w.log.Warn().Msg("sweep rule has no further occurrences; stopping")
			return nil
		}
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			w.log.Info().Msg("Stopping expiry worker")
			return ctx.Err()
		case <-timer.C:
			if _, err := w.RunOnce(ctx); err != nil && !errors.Is(err, redis.ErrLockHeld) {
				w.log.Error().Err(err).Msg("expiry sweep error")
			}
		}
	}
}

// RunOnce sweeps once under the distributed lock. It returns redis.ErrLockHeld
// when another instance is sweeping.
func (w *ExpiryWorker) RunOnce(ctx context.Context) (*usecase.SweepResult, error) {
	if w.locker != nil {
		token, err := w.locker.TryLock(ctx, sweepLockKey, w.lockTTL)
		if err != nil {
			if errors.Is(err, redis.ErrLockHeld) {
				w.log.Debug().Msg("sweep already running elsewhere")
			}
			return nil, err
		}
		defer func() {
			// the lock may have expired already; that is fine
			if err := w.locker.Unlock(context.WithoutCancel(ctx), sweepLockKey, token); err != nil {
				w.log.Warn().Err(err).Msg("failed to release sweep lock")
			}
		}()
	}

	runCtx, cancel := context.WithTimeout(ctx, w.lockTTL)
	defer cancel()
	res, err := w.uc.Sweep(runCtx, time.Now())
	if err != nil {
		return res, err
	}
	if ferr := res.Err(); ferr != nil {
		w.log.Warn().Err(ferr).Int("failed", len(res.Failures)).Msg("some items could not be revoked")
	}
	return res, nil
}
