package sched

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"shop-fulfillment/internal/domain/model"
	"shop-fulfillment/internal/domain/ports/repository"
	"shop-fulfillment/internal/infra/metrics"
	"shop-fulfillment/internal/usecase"
)

// PurchaseResumer completes succeeded payments that lack purchase items.
type PurchaseResumer interface {
	ResumePurchase(ctx context.Context, paymentID string) (*usecase.PurchaseResult, error)
}

// PaymentReconciler periodically fails pending payments that never got a
// callback, so abandoned checkouts do not stay pending forever. With a
// resumer it also finishes paid payments whose completion was interrupted.
type PaymentReconciler struct {
	payments   repository.PaymentRepository
	interval   time.Duration // how often to scan
	staleAfter time.Duration // how old a pending payment must be to give up on it
	resumer    PurchaseResumer
	grace      time.Duration // how long a fresh payment is left to its callback
	log        *zerolog.Logger
}

func NewPaymentReconciler(payments repository.PaymentRepository, interval, staleAfter time.Duration, logger *zerolog.Logger) *PaymentReconciler {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	if staleAfter <= 0 {
		staleAfter = 24 * time.Hour
	}
	l := logger.With().Str("component", "PaymentReconciler").Logger()
	return &PaymentReconciler{payments: payments, interval: interval, staleAfter: staleAfter, log: &l}
}

// WithResumer enables completion of interrupted purchases paid more than grace
// ago and less than the stale window ago.
func (w *PaymentReconciler) WithResumer(r PurchaseResumer, grace time.Duration) *PaymentReconciler {
	if grace <= 0 {
		grace = 5 * time.Minute
	}
	w.resumer = r
	w.grace = grace
	return w
}

func (w *PaymentReconciler) Start(ctx context.Context) {
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			now := time.Now()
			w.Tick(ctx, now)
			w.ResumeTick(ctx, now)
		}
	}
}

// Tick fails every payment still pending at now-staleAfter and returns how
// many it moved. A callback racing with it wins or loses on the same
// conditional update.
func (w *PaymentReconciler) Tick(ctx context.Context, now time.Time) int {
	cutoff := now.Add(-w.staleAfter)
	pending, err := w.payments.ListPendingOlderThan(ctx, repository.NoTX, cutoff, 200)
	if err != nil {
		w.log.Error().Err(err).Msg("list pending payments failed")
		return 0
	}
	n := 0
	for _, p := range pending {
		ok, err := w.payments.UpdateStatusIfPending(ctx, repository.NoTX, p.ID, model.PaymentStatusFailed, nil, nil)
		if err != nil {
			w.log.Error().Err(err).Str("payment_id", p.ID).Msg("failed to expire stale payment")
			continue
		}
		if ok {
			n++
			metrics.IncPayment(p.Provider, string(model.PaymentStatusFailed))
		}
	}
	if n > 0 {
		w.log.Info().Int("count", n).Msg("stale pending payments failed")
	}
	return n
}

// ResumeTick completes every succeeded payment with missing lines and returns
// how many it resumed. Lines that still fail are retried on later ticks until
// the payment leaves the window.
func (w *PaymentReconciler) ResumeTick(ctx context.Context, now time.Time) int {
	if w.resumer == nil {
		return 0
	}
	unfinished, err := w.payments.ListUnfulfilled(ctx, repository.NoTX, now.Add(-w.grace), now.Add(-w.staleAfter), 100)
	if err != nil {
		w.log.Error().Err(err).Msg("list unfulfilled payments failed")
		return 0
	}
	n := 0
	for _, p := range unfinished {
		res, err := w.resumer.ResumePurchase(ctx, p.ID)
		if err != nil {
			w.log.Error().Err(err).Str("payment_id", p.ID).Msg("failed to resume purchase")
			continue
		}
		n++
		if ferr := res.Err(); ferr != nil {
			w.log.Warn().Err(ferr).Str("payment_id", p.ID).Msg("resumed purchase still has failed lines")
		}
	}
	if n > 0 {
		w.log.Info().Int("count", n).Msg("interrupted purchases resumed")
	}
	return n
}
