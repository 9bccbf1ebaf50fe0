package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"shop-fulfillment/internal/domain"
	"shop-fulfillment/internal/domain/model"
	"shop-fulfillment/internal/domain/ports/adapter"
	"shop-fulfillment/internal/domain/ports/repository"
	"shop-fulfillment/internal/infra/db/postgres/reperrors"
	"shop-fulfillment/internal/infra/logging"
	"shop-fulfillment/internal/infra/metrics"
)

// Compile-time check
var _ CheckoutUseCase = (*checkoutUC)(nil)

// CheckoutUseCase orchestrates payments: it starts them through the selected
// method, confirms them on callback and turns the paid cart into delivered
// purchase items.
type CheckoutUseCase interface {
	Methods(ctx context.Context) ([]AvailableMethod, error)
	Checkout(ctx context.Context, cart *model.Cart, methodID string, gw *model.Gateway) (*adapter.CheckoutSession, error)
	// ConfirmPayment handles a gateway callback. Only the caller that moves the
	// payment out of pending completes the purchase.
	ConfirmPayment(ctx context.Context, methodID string, gw *model.Gateway, params map[string]string) (*PurchaseResult, error)
	CompletePurchase(ctx context.Context, payment *model.Payment, cart *model.Cart) (*PurchaseResult, error)
	// ResumePurchase completes the lines of a succeeded payment that were never
	// recorded, e.g. after a crash between confirmation and completion.
	ResumePurchase(ctx context.Context, paymentID string) (*PurchaseResult, error)
	SerializeCart(cart *model.Cart) map[string]int
	Redeliver(ctx context.Context, itemID string, renewal bool) error
	ActiveItems(ctx context.Context, userID string) ([]*model.PurchaseItem, error)
}

// AvailableMethod is a registered method together with its stored gateway, if any.
type AvailableMethod struct {
	ID      string         `json:"id"`
	Gateway *model.Gateway `json:"gateway,omitempty"`
}

// PurchaseResult lists every recorded item, including lines recorded by an
// earlier run. Failures hold one
// *domain.DeliveryError per line that could not be recorded or delivered.
type PurchaseResult struct {
	Payment  *model.Payment
	Items    []*model.PurchaseItem
	Skipped  int // lines already recorded by an earlier run; not delivered again
	Failures []*domain.DeliveryError
}

// Err joins the failures, nil when every line went through.
func (r *PurchaseResult) Err() error {
	if r == nil || len(r.Failures) == 0 {
		return nil
	}
	errs := make([]error, len(r.Failures))
	for i, f := range r.Failures {
		errs[i] = f
	}
	return errors.Join(errs...)
}

// RateLimiter is satisfied by the redis fixed-window limiter.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

type CheckoutDeps struct {
	Registry  adapter.MethodRegistry
	Gateways  repository.GatewayRepository
	Payments  repository.PaymentRepository
	Items     repository.PurchaseItemRepository
	Purchases repository.PurchaseRepository
	Resolver  repository.BuyableResolver
	TM        repository.TransactionManager

	// Limiter is optional; Limit <= 0 disables it.
	Limiter RateLimiter
	Limit   int
	Window  time.Duration
	// RecordAttempts bounds retries of the item record transaction.
	RecordAttempts uint
}

type checkoutUC struct {
	d   CheckoutDeps
	log *zerolog.Logger
}

func NewCheckoutUseCase(d CheckoutDeps, logger *zerolog.Logger) *checkoutUC {
	if d.RecordAttempts == 0 {
		d.RecordAttempts = 3
	}
	if d.Window <= 0 {
		d.Window = time.Minute
	}
	l := logger.With().Str("component", "CheckoutUC").Logger()
	return &checkoutUC{d: d, log: &l}
}

func (u *checkoutUC) Methods(ctx context.Context) ([]AvailableMethod, error) {
	regs := u.d.Registry.List()
	out := make([]AvailableMethod, 0, len(regs))
	for _, r := range regs {
		gw, err := u.gatewayFor(ctx, r.ID, nil)
		if err != nil {
			return nil, err
		}
		out = append(out, AvailableMethod{ID: r.ID, Gateway: gw})
	}
	return out, nil
}

func (u *checkoutUC) Checkout(ctx context.Context, cart *model.Cart, methodID string, gw *model.Gateway) (*adapter.CheckoutSession, error) {
	defer logging.TraceDuration(u.log, "CheckoutUC.Checkout")()

	if cart.IsEmpty() {
		return nil, &domain.ValidationError{Field: "cart", Reason: "empty"}
	}
	if cart.UserID == "" {
		return nil, &domain.ValidationError{Field: "user_id", Reason: "required"}
	}
	if methodID == model.SiteMoneyProvider {
		for _, l := range cart.Lines {
			if l.Buyable.Ref().Type == model.BuyableOffer {
				return nil, &domain.ValidationError{Field: "method", Reason: "site money cannot buy site money offers"}
			}
		}
	}
	if err := u.allow(ctx, cart.UserID); err != nil {
		return nil, err
	}

	gw, err := u.gatewayFor(ctx, methodID, gw)
	if err != nil {
		return nil, err
	}
	method, err := u.d.Registry.ResolveOrFail(methodID, gw)
	if err != nil {
		return nil, err
	}

	p, err := model.NewPayment(cart.UserID, methodID, cart.Currency, cart.Total(), u.SerializeCart(cart))
	if err != nil {
		return nil, err
	}
	p.Lines = cart.Snapshot()
	if gw != nil {
		p.GatewayID = gw.ID
	}
	if err := u.d.Payments.Save(ctx, repository.NoTX, p); err != nil {
		return nil, err
	}
	ctx = logging.WithPaymentID(logging.WithUserID(ctx, p.UserID), p.ID)
	log := logging.With(ctx, u.log)
	metrics.IncPayment(methodID, string(model.PaymentStatusPending))

	session, err := method.StartPayment(ctx, p, cart)
	if err != nil {
		log.Error().Err(err).Str("method", methodID).Msg("start payment failed")
		if _, uerr := u.d.Payments.UpdateStatusIfPending(ctx, repository.NoTX, p.ID, model.PaymentStatusFailed, nil, nil); uerr != nil {
			log.Error().Err(uerr).Msg("failed to mark payment failed")
		}
		metrics.IncPayment(methodID, string(model.PaymentStatusFailed))
		return nil, err
	}
	if session.PaymentID == "" {
		session.PaymentID = p.ID
	}
	if session.ExternalID != "" {
		if err := u.d.Payments.SetExternalID(ctx, repository.NoTX, p.ID, session.ExternalID); err != nil {
			return nil, err
		}
		p.ExternalID = session.ExternalID
	}

	if session.Completed {
		// settled synchronously; no callback will follow
		res, err := u.settle(ctx, p, session.ExternalID, cart)
		if err != nil {
			return nil, err
		}
		if ferr := res.Err(); ferr != nil {
			log.Warn().Err(ferr).Msg("purchase completed with delivery failures")
		}
	}
	log.Info().Str("method", methodID).Int64("amount", p.Amount).Bool("completed", session.Completed).Msg("checkout started")
	return session, nil
}

func (u *checkoutUC) ConfirmPayment(ctx context.Context, methodID string, gw *model.Gateway, params map[string]string) (*PurchaseResult, error) {
	defer logging.TraceDuration(u.log, "CheckoutUC.ConfirmPayment")()

	gw, err := u.gatewayFor(ctx, methodID, gw)
	if err != nil {
		return nil, err
	}
	method, err := u.d.Registry.ResolveOrFail(methodID, gw)
	if err != nil {
		return nil, err
	}
	ext := method.ExternalID(params)
	if ext == "" {
		return nil, &domain.ValidationError{Field: "external_id", Reason: "missing from callback"}
	}
	p, err := u.d.Payments.FindByExternalID(ctx, repository.NoTX, methodID, ext)
	if err != nil {
		return nil, err
	}
	ctx = logging.WithPaymentID(logging.WithUserID(ctx, p.UserID), p.ID)
	log := logging.With(ctx, u.log)
	if !p.IsPending() {
		return nil, fmt.Errorf("payment %s is %s: %w", p.ID, p.Status, domain.ErrPaymentNotPending)
	}

	refID, verr := method.VerifyPayment(ctx, p, params)
	if verr != nil {
		log.Warn().Err(verr).Msg("payment verification failed")
		if _, err := u.d.Payments.UpdateStatusIfPending(ctx, repository.NoTX, p.ID, model.PaymentStatusFailed, nil, nil); err != nil {
			log.Error().Err(err).Msg("failed to mark payment failed")
		}
		metrics.IncPayment(methodID, string(model.PaymentStatusFailed))
		return nil, verr
	}

	cart, missing, err := u.restoreCart(ctx, p)
	if err != nil {
		return nil, err
	}
	res, err := u.settle(ctx, p, refID, cart)
	if err != nil {
		return nil, err
	}
	res.Failures = append(res.Failures, missing...)
	return res, nil
}

// settle wins the pending -> succeeded transition and completes the purchase.
func (u *checkoutUC) settle(ctx context.Context, p *model.Payment, refID string, cart *model.Cart) (*PurchaseResult, error) {
	now := time.Now()
	won, err := u.d.Payments.UpdateStatusIfPending(ctx, repository.NoTX, p.ID, model.PaymentStatusSucceeded, &refID, &now)
	if err != nil {
		return nil, err
	}
	if !won {
		return nil, fmt.Errorf("payment %s: %w", p.ID, domain.ErrPaymentNotPending)
	}
	p.Status = model.PaymentStatusSucceeded
	p.RefID = refID
	p.PaidAt = &now
	p.UpdatedAt = now
	metrics.IncPayment(p.Provider, string(model.PaymentStatusSucceeded))
	metrics.AddPaymentRevenue(p.Currency, p.Amount)
	return u.CompletePurchase(ctx, p, cart)
}

// CompletePurchase records and delivers every cart line in order. A line that
// fails to record or deliver is reported and the remaining lines continue.
func (u *checkoutUC) CompletePurchase(ctx context.Context, p *model.Payment, cart *model.Cart) (*PurchaseResult, error) {
	defer logging.TraceDuration(u.log, "CheckoutUC.CompletePurchase")()
	if p == nil {
		return nil, &domain.ValidationError{Field: "payment", Reason: "required"}
	}
	res := &PurchaseResult{Payment: p}
	if cart.IsEmpty() {
		return res, nil
	}
	log := logging.With(logging.WithPaymentID(ctx, p.ID), u.log)
	var recorded map[int]*model.PurchaseItem

	for i, line := range cart.Lines {
		lineNo := i + 1
		if line.Line > 0 {
			lineNo = line.Line
		}
		ref := line.Buyable.Ref()

		item, err := model.NewPurchaseItem("", line.Buyable.Price(), line.Quantity, line.Buyable, line.Variables)
		if err != nil {
			res.Failures = append(res.Failures, &domain.DeliveryError{Line: lineNo, Buyable: ref.String(), Err: err})
			continue
		}
		item.PaymentID = p.ID
		item.Line = lineNo
		item.Payment = p

		if err := u.record(ctx, p, item, line); err != nil {
			if errors.Is(err, domain.ErrAlreadyExists) {
				res.Skipped++
				prev, ok := recorded[lineNo]
				if !ok {
					// recorded by a concurrent run since the last read
					recorded = u.recordedLines(ctx, p)
					prev, ok = recorded[lineNo]
				}
				if ok {
					res.Items = append(res.Items, prev)
				}
				continue
			}
			log.Error().Err(err).Int("line", lineNo).Str("buyable", ref.String()).Msg("failed to record purchase item")
			res.Failures = append(res.Failures, &domain.DeliveryError{Line: lineNo, ItemID: item.ID, Buyable: ref.String(), Err: err})
			continue
		}
		res.Items = append(res.Items, item)

		err = item.Deliver(ctx, false)
		metrics.IncItemDelivery(ref.Type, err == nil)
		if err != nil {
			log.Error().Err(err).Int("line", lineNo).Str("item_id", item.ID).Msg("delivery failed")
			res.Failures = append(res.Failures, &domain.DeliveryError{Line: lineNo, ItemID: item.ID, Buyable: ref.String(), Err: err})
		}
	}
	return res, nil
}

// recordedLines indexes the payment's stored items by line. A read failure
// only leaves them out of the result.
func (u *checkoutUC) recordedLines(ctx context.Context, p *model.Payment) map[int]*model.PurchaseItem {
	out := make(map[int]*model.PurchaseItem)
	items, err := u.d.Items.ListByPayment(ctx, repository.NoTX, p.ID)
	if err != nil {
		logging.With(logging.WithPaymentID(ctx, p.ID), u.log).Warn().Err(err).Msg("failed to load recorded items")
		return out
	}
	for _, it := range items {
		it.Payment = p
		out[it.Line] = it
	}
	return out
}

func (u *checkoutUC) ResumePurchase(ctx context.Context, paymentID string) (*PurchaseResult, error) {
	defer logging.TraceDuration(u.log, "CheckoutUC.ResumePurchase")()

	p, err := u.d.Payments.FindByID(ctx, repository.NoTX, paymentID)
	if err != nil {
		return nil, err
	}
	if p.Status != model.PaymentStatusSucceeded {
		return nil, &domain.ValidationError{Field: "payment", Reason: fmt.Sprintf("is %s, only succeeded payments can be completed", p.Status)}
	}
	cart, missing, err := u.restoreCart(ctx, p)
	if err != nil {
		return nil, err
	}
	res, err := u.CompletePurchase(ctx, p, cart)
	if err != nil {
		return nil, err
	}
	res.Failures = append(res.Failures, missing...)
	logging.With(logging.WithPaymentID(ctx, p.ID), u.log).Info().
		Int("recorded", len(res.Items)-res.Skipped).Int("skipped", res.Skipped).Int("failed", len(res.Failures)).
		Msg("purchase resumed")
	return res, nil
}

// record writes the item and its history entry atomically, retrying
// transient storage errors.
func (u *checkoutUC) record(ctx context.Context, p *model.Payment, item *model.PurchaseItem, line *model.CartLine) error {
	return retry.Do(
		func() error {
			return u.d.TM.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
				if err := u.d.Items.Save(ctx, tx, item); err != nil {
					return err
				}
				return u.d.Purchases.Save(ctx, tx, &model.Purchase{
					ID:        uuid.NewString(),
					UserID:    p.UserID,
					PaymentID: p.ID,
					Buyable:   item.Buyable,
					Quantity:  line.Quantity,
					Price:     line.Total(),
					CreatedAt: item.CreatedAt,
				})
			})
		},
		retry.Context(ctx),
		retry.Attempts(u.d.RecordAttempts),
		retry.Delay(50*time.Millisecond),
		retry.MaxDelay(time.Second),
		retry.RetryIf(reperrors.IsRetryableError),
		retry.LastErrorOnly(true),
	)
}

// SerializeCart snapshots the cart as buyable reference -> quantity.
func (u *checkoutUC) SerializeCart(cart *model.Cart) map[string]int {
	out := make(map[string]int)
	if cart == nil {
		return out
	}
	for _, l := range cart.Lines {
		out[l.Buyable.Ref().String()] += l.Quantity
	}
	return out
}

// restoreCart rebuilds the cart from the payment's stored lines, pinning each
// line to its checkout position. Payments stored before lines were kept fall
// back to the reference -> quantity snapshot in reference order. References
// that no longer resolve are returned as failures.
func (u *checkoutUC) restoreCart(ctx context.Context, p *model.Payment) (*model.Cart, []*domain.DeliveryError, error) {
	lines := p.Lines
	if len(lines) == 0 {
		keys := make([]string, 0, len(p.Cart))
		for k := range p.Cart {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			lines = append(lines, model.PaymentLine{Ref: k, Quantity: p.Cart[k]})
		}
	}

	cart := model.NewCart(p.UserID, p.Currency)
	var missing []*domain.DeliveryError
	for i, l := range lines {
		lineNo := i + 1
		ref, err := model.ParseBuyableRef(l.Ref)
		if err != nil {
			missing = append(missing, &domain.DeliveryError{Line: lineNo, Buyable: l.Ref, Err: err})
			continue
		}
		b, err := u.d.Resolver.Resolve(ctx, ref)
		if err != nil {
			return nil, nil, err
		}
		if b == nil {
			missing = append(missing, &domain.DeliveryError{Line: lineNo, Buyable: l.Ref, Err: domain.ErrNotFound})
			continue
		}
		if err := cart.Add(b, l.Quantity, l.Variables); err != nil {
			missing = append(missing, &domain.DeliveryError{Line: lineNo, Buyable: l.Ref, Err: err})
			continue
		}
		cart.Lines[len(cart.Lines)-1].Line = lineNo
	}
	return cart, missing, nil
}

// Redeliver runs delivery again for an already recorded item.
func (u *checkoutUC) Redeliver(ctx context.Context, itemID string, renewal bool) error {
	defer logging.TraceDuration(u.log, "CheckoutUC.Redeliver")()

	item, err := u.d.Items.FindByID(ctx, repository.NoTX, itemID)
	if err != nil {
		return err
	}
	p, err := u.d.Payments.FindByID(ctx, repository.NoTX, item.PaymentID)
	if err != nil {
		return err
	}
	item.Payment = p
	b, err := u.d.Resolver.Resolve(ctx, item.Buyable)
	if err != nil {
		return err
	}
	item.Resolved = b

	err = item.Deliver(ctx, renewal)
	metrics.IncItemDelivery(item.Buyable.Type, err == nil)
	if err != nil {
		return &domain.DeliveryError{ItemID: item.ID, Buyable: item.Buyable.String(), Err: err}
	}
	logging.With(logging.WithPaymentID(ctx, p.ID), u.log).Info().Str("item_id", item.ID).Bool("renewal", renewal).Msg("item redelivered")
	return nil
}

func (u *checkoutUC) ActiveItems(ctx context.Context, userID string) ([]*model.PurchaseItem, error) {
	if userID == "" {
		return nil, &domain.ValidationError{Field: "user_id", Reason: "required"}
	}
	items, err := u.d.Items.ListActiveByUser(ctx, repository.NoTX, userID, time.Now())
	if err != nil {
		return nil, err
	}
	// owning payments are needed to format prices
	payments := make(map[string]*model.Payment)
	for _, it := range items {
		p, ok := payments[it.PaymentID]
		if !ok {
			if p, err = u.d.Payments.FindByID(ctx, repository.NoTX, it.PaymentID); err != nil {
				return nil, err
			}
			payments[it.PaymentID] = p
		}
		it.Payment = p
	}
	return items, nil
}

// gatewayFor prefers the explicit gateway, then the first enabled stored one.
// Methods without stored configuration get nil.
func (u *checkoutUC) gatewayFor(ctx context.Context, methodID string, gw *model.Gateway) (*model.Gateway, error) {
	if gw != nil || u.d.Gateways == nil {
		return gw, nil
	}
	stored, err := u.d.Gateways.FindEnabledByType(ctx, repository.NoTX, methodID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	return stored, err
}

func (u *checkoutUC) allow(ctx context.Context, userID string) error {
	if u.d.Limiter == nil || u.d.Limit <= 0 {
		return nil
	}
	ok, err := u.d.Limiter.Allow(ctx, "rate_limit:checkout:"+userID, u.d.Limit, u.d.Window)
	if err != nil {
		// fail open; a limiter outage must not block payments
		u.log.Warn().Err(err).Msg("checkout rate limiter unavailable")
		return nil
	}
	if !ok {
		return domain.ErrRateLimited
	}
	return nil
}
