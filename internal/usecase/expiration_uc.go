package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"shop-fulfillment/internal/domain"
	"shop-fulfillment/internal/domain/model"
	"shop-fulfillment/internal/domain/ports/repository"
	"shop-fulfillment/internal/infra/logging"
	"shop-fulfillment/internal/infra/metrics"
)

// Compile-time check
var _ ExpirationUseCase = (*expirationUC)(nil)

// ExpirationUseCase revokes purchase items whose billing period has ended.
type ExpirationUseCase interface {
	// Sweep revokes every item expired at now. A failing item does not stop
	// the sweep; it keeps its expiration and is retried next run.
	Sweep(ctx context.Context, now time.Time) (*SweepResult, error)
	// Revoke takes back a single item right away, expired or not.
	Revoke(ctx context.Context, itemID, trigger string) error
}

type SweepResult struct {
	Revoked  int
	Skipped  int // claimed by a concurrent sweeper or already revoked
	Failures []*domain.RevocationError
}

func (r *SweepResult) Err() error {
	if r == nil || len(r.Failures) == 0 {
		return nil
	}
	errs := make([]error, len(r.Failures))
	for i, f := range r.Failures {
		errs[i] = f
	}
	return errors.Join(errs...)
}

type expirationUC struct {
	items    repository.PurchaseItemRepository
	payments repository.PaymentRepository
	resolver repository.BuyableResolver
	tm       repository.TransactionManager
	batch    int
	log      *zerolog.Logger
}

func NewExpirationUseCase(
	items repository.PurchaseItemRepository,
	payments repository.PaymentRepository,
	resolver repository.BuyableResolver,
	tm repository.TransactionManager,
	batch int,
	logger *zerolog.Logger,
) *expirationUC {
	if batch <= 0 {
		batch = 100
	}
	l := logger.With().Str("component", "ExpirationUC").Logger()
	return &expirationUC{
		items:    items,
		payments: payments,
		resolver: resolver,
		tm:       tm,
		batch:    batch,
		log:      &l,
	}
}

func (u *expirationUC) Sweep(ctx context.Context, now time.Time) (*SweepResult, error) {
	defer logging.TraceDuration(u.log, "ExpirationUC.Sweep")()
	start := time.Now()
	res := &SweepResult{}

	// failed items stay expired and would come back on every page
	seen := make(map[string]struct{})
	for {
		if err := ctx.Err(); err != nil {
			metrics.ObserveSweep("cancelled", time.Since(start).Seconds())
			return res, err
		}
		page, err := u.items.ListExpired(ctx, repository.NoTX, now, u.batch)
		if err != nil {
			metrics.ObserveSweep("error", time.Since(start).Seconds())
			return res, err
		}
		fresh := 0
		for _, it := range page {
			if _, ok := seen[it.ID]; ok {
				continue
			}
			seen[it.ID] = struct{}{}
			fresh++
			u.sweepOne(ctx, it.ID, now, res)
		}
		if fresh == 0 || len(page) < u.batch {
			break
		}
	}

	outcome := "ok"
	if len(res.Failures) > 0 {
		outcome = "partial"
	}
	metrics.ObserveSweep(outcome, time.Since(start).Seconds())
	if res.Revoked > 0 || len(res.Failures) > 0 {
		u.log.Info().
			Int("revoked", res.Revoked).
			Int("skipped", res.Skipped).
			Int("failed", len(res.Failures)).
			Msg("expiration sweep finished")
	}
	return res, nil
}

func (u *expirationUC) sweepOne(ctx context.Context, id string, now time.Time, res *SweepResult) {
	err := u.revokeOne(ctx, id, model.DefaultRevokeTrigger, func(ctx context.Context, tx repository.Tx) (*model.PurchaseItem, error) {
		return u.items.LockExpired(ctx, tx, id, now)
	})
	switch {
	case err == nil:
		res.Revoked++
	case errors.Is(err, domain.ErrNotFound):
		res.Skipped++
	default:
		var rerr *domain.RevocationError
		if !errors.As(err, &rerr) {
			rerr = &domain.RevocationError{ItemID: id, Trigger: model.DefaultRevokeTrigger, Err: err}
		}
		u.log.Warn().Err(err).Str("item_id", id).Msg("revocation failed")
		res.Failures = append(res.Failures, rerr)
	}
}

func (u *expirationUC) Revoke(ctx context.Context, itemID, trigger string) error {
	defer logging.TraceDuration(u.log, "ExpirationUC.Revoke")()
	if trigger == "" {
		trigger = model.DefaultRevokeTrigger
	}
	return u.revokeOne(ctx, itemID, trigger, func(ctx context.Context, tx repository.Tx) (*model.PurchaseItem, error) {
		return u.items.LockForRevoke(ctx, tx, itemID)
	})
}

type lockFunc func(ctx context.Context, tx repository.Tx) (*model.PurchaseItem, error)

// revokeOne holds the row lock across the expire hook so no other sweeper
// revokes the same item twice.
func (u *expirationUC) revokeOne(ctx context.Context, id, trigger string, lock lockFunc) error {
	err := u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		item, err := lock(ctx, tx)
		if err != nil {
			return err
		}
		p, err := u.payments.FindByID(ctx, tx, item.PaymentID)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		item.Payment = p

		b, err := u.resolver.Resolve(ctx, item.Buyable)
		if err != nil {
			return err
		}
		item.Resolved = b

		if err := item.Revoke(ctx, trigger); err != nil {
			return err
		}
		return u.items.ClearExpiry(ctx, tx, item.ID)
	})
	if !errors.Is(err, domain.ErrNotFound) {
		metrics.IncItemRevocation(trigger, err == nil)
	}
	if err == nil {
		u.log.Debug().Str("item_id", id).Str("trigger", trigger).Msg("item revoked")
	}
	return err
}
