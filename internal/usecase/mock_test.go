//go:build !integration

package usecase_test

import (
	"context"
	"errors"
	"io"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"shop-fulfillment/internal/domain"
	"shop-fulfillment/internal/domain/model"
	"shop-fulfillment/internal/domain/ports/adapter"
	"shop-fulfillment/internal/domain/ports/repository"
)

// newTestLogger creates a silent zerolog.Logger for use in tests.
func newTestLogger() *zerolog.Logger {
	logger := zerolog.New(io.Discard)
	return &logger
}

func ptrTime(t time.Time) *time.Time { return &t }

// =============================
// Transactions
// =============================

// mockTx is handed to repositories so they can tell transactions apart.
type mockTx struct{ id int64 }

type txReleaser interface {
	release(tx repository.Tx)
}

type MockTxManager struct {
	seq        atomic.Int64
	WithTxFunc func(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error
	// Releasers drop their row locks when a transaction ends.
	Releasers []txReleaser
}

var _ repository.TransactionManager = (*MockTxManager)(nil)

func NewMockTxManager(releasers ...txReleaser) *MockTxManager {
	return &MockTxManager{Releasers: releasers}
}

func (m *MockTxManager) WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	if m.WithTxFunc != nil {
		return m.WithTxFunc(ctx, txOpt, fn)
	}
	tx := &mockTx{id: m.seq.Add(1)}
	defer func() {
		for _, r := range m.Releasers {
			r.release(tx)
		}
	}()
	return fn(ctx, tx)
}

// =============================
// Repositories
// =============================

// ---- Payments ----

type MockPaymentRepo struct {
	mu   sync.Mutex
	data map[string]*model.Payment

	SaveFunc                  func(ctx context.Context, tx repository.Tx, p *model.Payment) error
	UpdateStatusIfPendingFunc func(ctx context.Context, tx repository.Tx, id string, status model.PaymentStatus) (bool, error)
}

var _ repository.PaymentRepository = (*MockPaymentRepo)(nil)

func NewMockPaymentRepo() *MockPaymentRepo {
	return &MockPaymentRepo{data: map[string]*model.Payment{}}
}

func (r *MockPaymentRepo) Save(ctx context.Context, tx repository.Tx, p *model.Payment) error {
	if r.SaveFunc != nil {
		return r.SaveFunc(ctx, tx, p)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *p
	r.data[p.ID] = &cp
	return nil
}

func (r *MockPaymentRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.data[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *MockPaymentRepo) FindByExternalID(ctx context.Context, tx repository.Tx, provider, externalID string) (*model.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.data {
		if p.Provider == provider && p.ExternalID == externalID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *MockPaymentRepo) SetExternalID(ctx context.Context, tx repository.Tx, id, externalID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.data[id]
	if !ok {
		return domain.ErrNotFound
	}
	p.ExternalID = externalID
	return nil
}

func (r *MockPaymentRepo) UpdateStatus(ctx context.Context, tx repository.Tx, id string, status model.PaymentStatus, refID *string, paidAt *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.data[id]
	if !ok {
		return domain.ErrNotFound
	}
	apply(p, status, refID, paidAt)
	return nil
}

func (r *MockPaymentRepo) UpdateStatusIfPending(ctx context.Context, tx repository.Tx, id string, status model.PaymentStatus, refID *string, paidAt *time.Time) (bool, error) {
	if r.UpdateStatusIfPendingFunc != nil {
		return r.UpdateStatusIfPendingFunc(ctx, tx, id, status)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.data[id]
	if !ok || p.Status != model.PaymentStatusPending {
		return false, nil
	}
	apply(p, status, refID, paidAt)
	return true, nil
}

func (r *MockPaymentRepo) ListPendingOlderThan(ctx context.Context, tx repository.Tx, olderThan time.Time, limit int) ([]*model.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Payment
	for _, p := range r.data {
		if p.Status == model.PaymentStatusPending && p.CreatedAt.Before(olderThan) {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *MockPaymentRepo) ListUnfulfilled(ctx context.Context, tx repository.Tx, paidBefore, paidAfter time.Time, limit int) ([]*model.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Payment
	for _, p := range r.data {
		if p.Status == model.PaymentStatusSucceeded && p.PaidAt != nil && p.PaidAt.Before(paidBefore) && !p.PaidAt.Before(paidAfter) {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *MockPaymentRepo) get(id string) *model.Payment {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.data[id]; ok {
		cp := *p
		return &cp
	}
	return nil
}

func apply(p *model.Payment, status model.PaymentStatus, refID *string, paidAt *time.Time) {
	p.Status = status
	if refID != nil {
		p.RefID = *refID
	}
	if paidAt != nil {
		p.PaidAt = paidAt
	}
}

// ---- Purchase items ----

// MockPurchaseItemRepo keeps rows in memory and emulates row locks with
// SKIP LOCKED semantics for LockExpired.
type MockPurchaseItemRepo struct {
	mu     sync.Mutex
	data   map[string]*model.PurchaseItem
	locked map[string]repository.Tx
	// payments backs the user join of ListActiveByUser.
	payments *MockPaymentRepo

	SaveFunc func(ctx context.Context, tx repository.Tx, item *model.PurchaseItem) error
}

var _ repository.PurchaseItemRepository = (*MockPurchaseItemRepo)(nil)

func NewMockPurchaseItemRepo(payments *MockPaymentRepo) *MockPurchaseItemRepo {
	return &MockPurchaseItemRepo{
		data:     map[string]*model.PurchaseItem{},
		locked:   map[string]repository.Tx{},
		payments: payments,
	}
}

func (r *MockPurchaseItemRepo) Save(ctx context.Context, tx repository.Tx, item *model.PurchaseItem) error {
	if r.SaveFunc != nil {
		return r.SaveFunc(ctx, tx, item)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, it := range r.data {
		if it.ID != item.ID && it.PaymentID == item.PaymentID && it.Line == item.Line {
			return domain.ErrAlreadyExists
		}
	}
	r.data[item.ID] = copyItem(item)
	return nil
}

func (r *MockPurchaseItemRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.PurchaseItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	it, ok := r.data[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return copyItem(it), nil
}

func (r *MockPurchaseItemRepo) ListByPayment(ctx context.Context, tx repository.Tx, paymentID string) ([]*model.PurchaseItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.PurchaseItem
	for _, it := range r.data {
		if it.PaymentID == paymentID {
			out = append(out, copyItem(it))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Line < out[j].Line })
	return out, nil
}

func (r *MockPurchaseItemRepo) ListActiveByUser(ctx context.Context, tx repository.Tx, userID string, now time.Time) ([]*model.PurchaseItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var all []*model.PurchaseItem
	for _, it := range r.data {
		if p := r.payments.get(it.PaymentID); p != nil && p.UserID == userID {
			all = append(all, copyItem(it))
		}
	}
	return model.ExcludeExpired(all, now), nil
}

func (r *MockPurchaseItemRepo) ListExpired(ctx context.Context, tx repository.Tx, before time.Time, limit int) ([]*model.PurchaseItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.PurchaseItem
	for _, it := range r.data {
		if it.IsExpiredAt(before) {
			out = append(out, copyItem(it))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(*out[j].ExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MockPurchaseItemRepo) LockExpired(ctx context.Context, tx repository.Tx, id string, now time.Time) (*model.PurchaseItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	it, ok := r.data[id]
	if !ok || !it.IsExpiredAt(now) {
		return nil, domain.ErrNotFound
	}
	if holder, held := r.locked[id]; held && holder != tx {
		return nil, domain.ErrNotFound
	}
	r.locked[id] = tx
	return copyItem(it), nil
}

func (r *MockPurchaseItemRepo) LockForRevoke(ctx context.Context, tx repository.Tx, id string) (*model.PurchaseItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	it, ok := r.data[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	r.locked[id] = tx
	return copyItem(it), nil
}

func (r *MockPurchaseItemRepo) ClearExpiry(ctx context.Context, tx repository.Tx, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	it, ok := r.data[id]
	if !ok {
		return domain.ErrNotFound
	}
	it.ExpiresAt = nil
	return nil
}

func (r *MockPurchaseItemRepo) release(tx repository.Tx) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, holder := range r.locked {
		if holder == tx {
			delete(r.locked, id)
		}
	}
}

func (r *MockPurchaseItemRepo) put(items ...*model.PurchaseItem) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, it := range items {
		r.data[it.ID] = copyItem(it)
	}
}

func (r *MockPurchaseItemRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.data)
}

func copyItem(it *model.PurchaseItem) *model.PurchaseItem {
	cp := *it
	cp.Payment = nil
	cp.Resolved = nil
	if it.ExpiresAt != nil {
		cp.ExpiresAt = ptrTime(*it.ExpiresAt)
	}
	return &cp
}

// ---- Purchases ----

type MockPurchaseRepo struct {
	mu   sync.Mutex
	data []*model.Purchase
}

var _ repository.PurchaseRepository = (*MockPurchaseRepo)(nil)

func NewMockPurchaseRepo() *MockPurchaseRepo { return &MockPurchaseRepo{} }

func (r *MockPurchaseRepo) Save(ctx context.Context, tx repository.Tx, pu *model.Purchase) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *pu
	r.data = append(r.data, &cp)
	return nil
}

func (r *MockPurchaseRepo) ListByUser(ctx context.Context, tx repository.Tx, userID string) ([]*model.Purchase, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Purchase
	for _, p := range r.data {
		if p.UserID == userID {
			out = append(out, p)
		}
	}
	return out, nil
}

// ---- Catalog ----

type MockPackageRepo struct {
	mu   sync.Mutex
	data map[string]*model.Package
}

var _ repository.PackageRepository = (*MockPackageRepo)(nil)

func NewMockPackageRepo(pkgs ...*model.Package) *MockPackageRepo {
	r := &MockPackageRepo{data: map[string]*model.Package{}}
	for _, p := range pkgs {
		r.data[p.ID] = p
	}
	return r
}

func (r *MockPackageRepo) Save(ctx context.Context, tx repository.Tx, p *model.Package) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data[p.ID] = p
	return nil
}

func (r *MockPackageRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Package, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.data[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return p, nil
}

func (r *MockPackageRepo) ListAll(ctx context.Context, tx repository.Tx) ([]*model.Package, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*model.Package, 0, len(r.data))
	for _, p := range r.data {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *MockPackageRepo) Delete(ctx context.Context, tx repository.Tx, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.data, id)
	return nil
}

type MockOfferRepo struct {
	mu   sync.Mutex
	data map[string]*model.Offer
}

var _ repository.OfferRepository = (*MockOfferRepo)(nil)

func NewMockOfferRepo(offers ...*model.Offer) *MockOfferRepo {
	r := &MockOfferRepo{data: map[string]*model.Offer{}}
	for _, o := range offers {
		r.data[o.ID] = o
	}
	return r
}

func (r *MockOfferRepo) Save(ctx context.Context, tx repository.Tx, o *model.Offer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data[o.ID] = o
	return nil
}

func (r *MockOfferRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Offer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.data[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return o, nil
}

func (r *MockOfferRepo) ListAll(ctx context.Context, tx repository.Tx) ([]*model.Offer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*model.Offer, 0, len(r.data))
	for _, o := range r.data {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type MockGatewayRepo struct {
	data []*model.Gateway
}

var _ repository.GatewayRepository = (*MockGatewayRepo)(nil)

func (r *MockGatewayRepo) Save(ctx context.Context, tx repository.Tx, g *model.Gateway) error {
	r.data = append(r.data, g)
	return nil
}

func (r *MockGatewayRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Gateway, error) {
	for _, g := range r.data {
		if g.ID == id {
			return g, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *MockGatewayRepo) FindEnabledByType(ctx context.Context, tx repository.Tx, methodID string) (*model.Gateway, error) {
	for _, g := range r.data {
		if g.Enabled && g.Type == methodID {
			return g, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *MockGatewayRepo) ListEnabled(ctx context.Context, tx repository.Tx) ([]*model.Gateway, error) {
	var out []*model.Gateway
	for _, g := range r.data {
		if g.Enabled {
			out = append(out, g)
		}
	}
	return out, nil
}

type MockBalanceRepo struct {
	mu  sync.Mutex
	bal map[string]int64
}

var _ repository.BalanceRepository = (*MockBalanceRepo)(nil)

func NewMockBalanceRepo() *MockBalanceRepo { return &MockBalanceRepo{bal: map[string]int64{}} }

func (r *MockBalanceRepo) Get(ctx context.Context, tx repository.Tx, userID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bal[userID], nil
}

func (r *MockBalanceRepo) Credit(ctx context.Context, tx repository.Tx, userID string, amount int64) error {
	if amount <= 0 {
		return domain.ErrInvalidArgument
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bal[userID] += amount
	return nil
}

func (r *MockBalanceRepo) Debit(ctx context.Context, tx repository.Tx, userID string, amount int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.bal[userID] < amount {
		return domain.ErrInsufficientFunds
	}
	r.bal[userID] -= amount
	return nil
}

// =============================
// Buyables and adapters
// =============================

// stubBuyable records deliveries. Expire is reachable through expiringBuyable.
type stubBuyable struct {
	mu        sync.Mutex
	ref       model.BuyableRef
	price     int64
	period    *model.Period
	failWith  error
	delivered []string
}

func newStub(id string, price int64) *stubBuyable {
	return &stubBuyable{ref: model.BuyableRef{Type: model.BuyablePackage, ID: id}, price: price}
}

func (b *stubBuyable) Ref() model.BuyableRef { return b.ref }
func (b *stubBuyable) Name() string { return "stub " + b.ref.ID }
func (b *stubBuyable) Price() int64 { return b.price }
func (b *stubBuyable) BillingPeriod() *model.Period { return b.period }

func (b *stubBuyable) Deliver(ctx context.Context, item *model.PurchaseItem, renewal bool) error {
	if b.failWith != nil {
		return b.failWith
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.delivered = append(b.delivered, item.ID)
	return nil
}

func (b *stubBuyable) deliveries() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.delivered)
}

type expiringBuyable struct {
	*stubBuyable
	expireErr error
	// block, when set, is waited on inside Expire.
	block   chan struct{}
	expired atomic.Int32
}

func (b *expiringBuyable) Expire(ctx context.Context, item *model.PurchaseItem, trigger string) error {
	if b.block != nil {
		<-b.block
	}
	if b.expireErr != nil {
		return b.expireErr
	}
	b.expired.Add(1)
	return nil
}

type MockResolver struct {
	mu  sync.Mutex
	all map[string]model.Buyable
}

var _ repository.BuyableResolver = (*MockResolver)(nil)

func NewMockResolver(bs ...model.Buyable) *MockResolver {
	r := &MockResolver{all: map[string]model.Buyable{}}
	for _, b := range bs {
		r.all[b.Ref().String()] = b
	}
	return r
}

func (r *MockResolver) Resolve(ctx context.Context, ref model.BuyableRef) (model.Buyable, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.all[ref.String()], nil
}

// stubMethod is a configurable payment method.
type stubMethod struct {
	id         string
	completed  bool
	startErr   error
	verifyErr  error
	startCalls atomic.Int32
}

var _ adapter.PaymentMethod = (*stubMethod)(nil)

func (m *stubMethod) ID() string { return m.id }

func (m *stubMethod) StartPayment(ctx context.Context, p *model.Payment, cart *model.Cart) (*adapter.CheckoutSession, error) {
	m.startCalls.Add(1)
	if m.startErr != nil {
		return nil, m.startErr
	}
	return &adapter.CheckoutSession{
		PaymentID:   p.ID,
		Method:      m.id,
		RedirectURL: "https://pay.example/" + p.ID,
		ExternalID:  "ext-" + p.ID,
		Completed:   m.completed,
	}, nil
}

func (m *stubMethod) ExternalID(params map[string]string) string { return params["ext"] }

func (m *stubMethod) VerifyPayment(ctx context.Context, p *model.Payment, params map[string]string) (string, error) {
	if m.verifyErr != nil {
		return "", m.verifyErr
	}
	return "ref-" + p.ExternalID, nil
}

// MockDispatcher captures delivery commands.
type MockDispatcher struct {
	mu   sync.Mutex
	Sent []adapter.DeliveryCommand
	Err  error
}

func (d *MockDispatcher) Dispatch(ctx context.Context, cmd adapter.DeliveryCommand) error {
	if d.Err != nil {
		return d.Err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Sent = append(d.Sent, cmd)
	return nil
}

type MockLimiter struct {
	allowed bool
	err     error
	keys    []string
}

func (l *MockLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	l.keys = append(l.keys, key)
	return l.allowed, l.err
}

var errBoom = errors.New("boom")
