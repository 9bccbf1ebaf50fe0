//go:build !integration

package usecase_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"shop-fulfillment/internal/domain"
	"shop-fulfillment/internal/domain/model"
	"shop-fulfillment/internal/domain/ports/adapter"
	"shop-fulfillment/internal/usecase"
)

func newCatalog(t *testing.T, d *MockDispatcher, balances *MockBalanceRepo) usecase.CatalogUseCase {
	t.Helper()
	vip, err := model.NewPackage("vip", "VIP", 500, &model.Period{Months: 1},
		[]string{"lp user {user} parent add vip", "say {user} bought x{quantity} ({note})"},
		[]string{"lp user {user} parent remove vip ({trigger})"})
	if err != nil {
		t.Fatalf("package: %v", err)
	}
	hidden, _ := model.NewPackage("hidden", "Hidden", 1, nil, nil, nil)
	hidden.Enabled = false
	gold, _ := model.NewOffer("gold", "Gold", 1000, 1200)

	return usecase.NewCatalogUseCase(
		NewMockPackageRepo(vip, hidden),
		NewMockOfferRepo(gold),
		balances,
		d,
		newTestLogger(),
	)
}

func TestCatalogUseCase_Resolve(t *testing.T) {
	ctx := context.Background()
	uc := newCatalog(t, &MockDispatcher{}, NewMockBalanceRepo())

	cases := []struct {
		ref  model.BuyableRef
		want bool
	}{
		{model.BuyableRef{Type: model.BuyablePackage, ID: "vip"}, true},
		{model.BuyableRef{Type: model.BuyableOffer, ID: "gold"}, true},
		{model.BuyableRef{Type: model.BuyablePackage, ID: "deleted"}, false},
		{model.BuyableRef{Type: "coupon", ID: "x"}, false},
	}
	for _, tc := range cases {
		b, err := uc.Resolve(ctx, tc.ref)
		if err != nil {
			t.Fatalf("%s: unexpected error %v", tc.ref, err)
		}
		if (b != nil) != tc.want {
			t.Errorf("%s: expected found=%v, got %v", tc.ref, tc.want, b)
		}
		if b != nil && b.Ref() != tc.ref {
			t.Errorf("%s: ref round trip gave %s", tc.ref, b.Ref())
		}
	}
}

func TestCatalogUseCase_BuildCart(t *testing.T) {
	ctx := context.Background()
	uc := newCatalog(t, &MockDispatcher{}, NewMockBalanceRepo())

	cart, err := uc.BuildCart(ctx, "u1", "USD", []usecase.CartLineRequest{
		{Buyable: "package:vip", Quantity: 2},
		{Buyable: "offer:gold", Quantity: 1},
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if cart.Total() != 2000 || len(cart.Lines) != 2 {
		t.Fatalf("expected total 2000 over 2 lines, got %d over %d", cart.Total(), len(cart.Lines))
	}

	for _, bad := range [][]usecase.CartLineRequest{
		nil,
		{{Buyable: "package:hidden", Quantity: 1}},
		{{Buyable: "package:missing", Quantity: 1}},
		{{Buyable: "nonsense", Quantity: 1}},
		{{Buyable: "package:vip", Quantity: 0}},
	} {
		if _, err := uc.BuildCart(ctx, "u1", "USD", bad); !errors.Is(err, domain.ErrInvalidArgument) {
			t.Errorf("%v: expected validation error, got %v", bad, err)
		}
	}
}

func TestPackageBuyable_DeliverAndExpire(t *testing.T) {
	ctx := context.Background()
	d := &MockDispatcher{}
	uc := newCatalog(t, d, NewMockBalanceRepo())

	b, _ := uc.Resolve(ctx, model.BuyableRef{Type: model.BuyablePackage, ID: "vip"})
	item, err := model.NewPurchaseItem("", b.Price(), 3, b, map[string]string{"note": "gift", "user": "mallory"})
	if err != nil {
		t.Fatalf("item: %v", err)
	}
	item.PaymentID = "pay-1"
	item.Payment = &model.Payment{ID: "pay-1", UserID: "steve"}
	if item.ExpiresAt == nil {
		t.Fatal("monthly package must expire")
	}

	if err := item.Deliver(ctx, false); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if len(d.Sent) != 2 {
		t.Fatalf("expected 2 commands, got %d", len(d.Sent))
	}
	if d.Sent[0].Command != "lp user steve parent add vip" {
		t.Errorf("built-in user must win over cart variables, got %q", d.Sent[0].Command)
	}
	if d.Sent[1].Command != "say steve bought x3 (gift)" {
		t.Errorf("unexpected rendering %q", d.Sent[1].Command)
	}
	if d.Sent[0].Kind != adapter.CommandDeliver || d.Sent[0].UserID != "steve" || d.Sent[0].ItemID != item.ID {
		t.Errorf("unexpected command envelope %+v", d.Sent[0])
	}

	if err := item.Revoke(ctx, "chargeback"); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	last := d.Sent[len(d.Sent)-1]
	if last.Kind != adapter.CommandExpire || last.Command != "lp user steve parent remove vip (chargeback)" {
		t.Errorf("unexpected expire command %+v", last)
	}
	if item.ExpiresAt != nil {
		t.Error("revoke must clear the expiration")
	}

	t.Run("dispatch failure names the command", func(t *testing.T) {
		failing := newCatalog(t, &MockDispatcher{Err: errBoom}, NewMockBalanceRepo())
		b, _ := failing.Resolve(ctx, model.BuyableRef{Type: model.BuyablePackage, ID: "vip"})
		it, _ := model.NewPurchaseItem("", 500, 1, b, nil)
		err := it.Deliver(ctx, false)
		if !errors.Is(err, errBoom) || !strings.Contains(err.Error(), "deliver command 1 of vip") {
			t.Fatalf("unexpected error %v", err)
		}
		err = it.Revoke(ctx, "")
		var rErr *domain.RevocationError
		if !errors.As(err, &rErr) || it.ExpiresAt == nil {
			t.Fatalf("failed expire must keep the expiration, got %v", err)
		}
	})
}

func TestOfferBuyable_Deliver(t *testing.T) {
	ctx := context.Background()
	balances := NewMockBalanceRepo()
	uc := newCatalog(t, &MockDispatcher{}, balances)

	b, _ := uc.Resolve(ctx, model.BuyableRef{Type: model.BuyableOffer, ID: "gold"})
	if _, ok := b.(model.Expirer); ok {
		t.Fatal("offers must not be expirable")
	}
	item, _ := model.NewPurchaseItem("", b.Price(), 2, b, nil)
	item.Payment = &model.Payment{ID: "pay-1", UserID: "u1"}

	if err := item.Deliver(ctx, false); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if got, _ := balances.Get(ctx, nil, "u1"); got != 2400 {
		t.Fatalf("expected 2400 credited, got %d", got)
	}

	orphan, _ := model.NewPurchaseItem("", b.Price(), 1, b, nil)
	if err := orphan.Deliver(ctx, false); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("expected invalid argument without a buyer, got %v", err)
	}
}

func TestCatalogUseCase_Save(t *testing.T) {
	ctx := context.Background()
	uc := newCatalog(t, &MockDispatcher{}, NewMockBalanceRepo())

	if err := uc.SavePackage(ctx, &model.Package{ID: "new", Name: "New", Enabled: true}); err != nil {
		t.Fatalf("save package: %v", err)
	}
	pkgs, _ := uc.ListPackages(ctx)
	if len(pkgs) != 3 {
		t.Fatalf("expected 3 packages, got %d", len(pkgs))
	}
	if err := uc.SavePackage(ctx, &model.Package{Name: "no id"}); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if err := uc.SaveOffer(ctx, &model.Offer{ID: "zero"}); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
