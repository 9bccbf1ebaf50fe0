//go:build !integration

package application_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"shop-fulfillment/internal/application"
	"shop-fulfillment/internal/domain"
	"shop-fulfillment/internal/domain/model"
	"shop-fulfillment/internal/usecase"
)

type mockCheckoutUC struct {
	usecase.CheckoutUseCase

	methods     []usecase.AvailableMethod
	items       []*model.PurchaseItem
	redelivered string
	renewal     bool
	resumed     *usecase.PurchaseResult
	err         error
}

func (m *mockCheckoutUC) ResumePurchase(ctx context.Context, paymentID string) (*usecase.PurchaseResult, error) {
	return m.resumed, m.err
}

func (m *mockCheckoutUC) Methods(ctx context.Context) ([]usecase.AvailableMethod, error) {
	return m.methods, m.err
}

func (m *mockCheckoutUC) ActiveItems(ctx context.Context, userID string) ([]*model.PurchaseItem, error) {
	return m.items, m.err
}

func (m *mockCheckoutUC) Redeliver(ctx context.Context, itemID string, renewal bool) error {
	if m.err != nil {
		return m.err
	}
	m.redelivered, m.renewal = itemID, renewal
	return nil
}

type mockCatalogUC struct {
	usecase.CatalogUseCase
	pkgs   []*model.Package
	offers []*model.Offer
}

func (m *mockCatalogUC) ListPackages(ctx context.Context) ([]*model.Package, error) { return m.pkgs, nil }

func (m *mockCatalogUC) ListOffers(ctx context.Context) ([]*model.Offer, error) { return m.offers, nil }

type mockExpirationUC struct {
	trigger string
	err     error
}

func (m *mockExpirationUC) Sweep(ctx context.Context, now time.Time) (*usecase.SweepResult, error) {
	return &usecase.SweepResult{
		Revoked:  2,
		Skipped:  1,
		Failures: []*domain.RevocationError{{ItemID: "i3", Trigger: "expiration", Err: errors.New("rcon down")}},
	}, nil
}

func (m *mockExpirationUC) Revoke(ctx context.Context, itemID, trigger string) error {
	m.trigger = trigger
	return m.err
}

func TestHandleMethods(t *testing.T) {
	ctx := context.Background()
	uc := &mockCheckoutUC{methods: []usecase.AvailableMethod{
		{ID: "stripe", Gateway: &model.Gateway{Name: "Cards", Fees: 3}},
		{ID: "zarinpal"},
	}}
	f := application.NewAdminFacade(uc, nil, nil, nil)

	out, err := f.HandleMethods(ctx)
	if err != nil {
		t.Fatalf("HandleMethods: %v", err)
	}
	if !strings.Contains(out, `stripe (gateway "Cards", fees 3%)`) || !strings.Contains(out, "zarinpal (config defaults)") {
		t.Fatalf("unexpected output:\n%s", out)
	}

	uc.methods = nil
	if out, _ := f.HandleMethods(ctx); out != "No payment methods registered." {
		t.Fatalf("unexpected empty output %q", out)
	}
}

func TestHandleCatalog(t *testing.T) {
	cat := &mockCatalogUC{
		pkgs:   []*model.Package{{ID: "vip", Name: "VIP", Price: 500, BillingPeriod: &model.Period{Months: 1}, Enabled: true}},
		offers: []*model.Offer{{ID: "gold", Name: "Gold", Price: 1000, Money: 1200}},
	}
	out, err := application.NewAdminFacade(nil, cat, nil, nil).HandleCatalog(context.Background(), "USD")
	if err != nil {
		t.Fatalf("HandleCatalog: %v", err)
	}
	if !strings.Contains(out, "package:vip  VIP  500  P1M\n") {
		t.Errorf("package line missing:\n%s", out)
	}
	if !strings.Contains(out, "offer:gold  Gold  1000  +1200  (disabled)") {
		t.Errorf("offer line missing:\n%s", out)
	}
}

func TestHandleItems(t *testing.T) {
	exp := time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC)
	uc := &mockCheckoutUC{items: []*model.PurchaseItem{
		{ID: "i1", Name: "VIP", Quantity: 1, UnitPrice: 500, ExpiresAt: &exp},
		{ID: "i2", Name: "Kit", Quantity: 2, UnitPrice: 100},
	}}
	out, err := application.NewAdminFacade(uc, nil, nil, nil).HandleItems(context.Background(), "u1")
	if err != nil {
		t.Fatalf("HandleItems: %v", err)
	}
	if !strings.Contains(out, "i1  VIP x1  500  expires "+exp.Format(time.RFC1123)) || !strings.Contains(out, "i2  Kit x2  100  expires never") {
		t.Fatalf("unexpected output:\n%s", out)
	}
}

func TestHandleSweepAndRevoke(t *testing.T) {
	ctx := context.Background()
	exp := &mockExpirationUC{}
	f := application.NewAdminFacade(nil, nil, exp, nil)

	out, err := f.HandleSweep(ctx, time.Now())
	if err != nil {
		t.Fatalf("HandleSweep: %v", err)
	}
	if !strings.HasPrefix(out, "revoked=2 skipped=1 failed=1\n") || !strings.Contains(out, "rcon down") {
		t.Fatalf("unexpected sweep output:\n%s", out)
	}

	if _, err := f.HandleRevoke(ctx, "i1", ""); err != nil || exp.trigger != "admin" {
		t.Fatalf("expected admin trigger, got %q err=%v", exp.trigger, err)
	}
	exp.err = domain.ErrNotFound
	if _, err := f.HandleRevoke(ctx, "i1", "chargeback"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound to be wrapped, got %v", err)
	}
}

func TestHandleDeliver(t *testing.T) {
	uc := &mockCheckoutUC{}
	f := application.NewAdminFacade(uc, nil, nil, nil)
	if _, err := f.HandleDeliver(context.Background(), "i1", true); err != nil {
		t.Fatalf("HandleDeliver: %v", err)
	}
	if uc.redelivered != "i1" || !uc.renewal {
		t.Fatalf("redeliver not forwarded: %+v", uc)
	}
}

func TestHandleComplete(t *testing.T) {
	ctx := context.Background()
	uc := &mockCheckoutUC{resumed: &usecase.PurchaseResult{
		Items: []*model.PurchaseItem{
			{ID: "i1", Line: 1, Name: "VIP", Quantity: 1},
			{ID: "i2", Line: 2, Name: "Kit", Quantity: 2},
		},
		Skipped:  1,
		Failures: []*domain.DeliveryError{{Line: 3, Buyable: "package:gone", Err: domain.ErrNotFound}},
	}}
	out, err := application.NewAdminFacade(uc, nil, nil, nil).HandleComplete(ctx, "pay-1")
	if err != nil {
		t.Fatalf("HandleComplete: %v", err)
	}
	for _, want := range []string{"recorded=1 skipped=1 failed=1", "line 2: i2 Kit x2", "package:gone"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in output:\n%s", want, out)
		}
	}

	uc.err = domain.ErrNotFound
	if _, err := application.NewAdminFacade(uc, nil, nil, nil).HandleComplete(ctx, "nope"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound to be wrapped, got %v", err)
	}
}

func TestMissingUseCases(t *testing.T) {
	f := application.NewAdminFacade(nil, nil, nil, nil)
	ctx := context.Background()
	if _, err := f.HandleMethods(ctx); err == nil {
		t.Error("HandleMethods: expected error")
	}
	if _, err := f.HandleSweep(ctx, time.Now()); err == nil {
		t.Error("HandleSweep: expected error")
	}
	if _, err := f.HandleDeliver(ctx, "x", false); err == nil {
		t.Error("HandleDeliver: expected error")
	}
}
