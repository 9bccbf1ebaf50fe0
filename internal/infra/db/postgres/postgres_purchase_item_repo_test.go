//go:build integration

package postgres

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgx/v4"

	"shop-fulfillment/internal/domain"
	"shop-fulfillment/internal/domain/model"
	"shop-fulfillment/internal/domain/ports/repository"
)

func TestPurchaseItemRepo_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode.")
	}

	ctx := context.Background()
	payments := NewPaymentRepo(testPool)
	repo := NewPurchaseItemRepo(testPool)

	seed := func(t *testing.T) *model.Payment {
		t.Helper()
		cleanup(t)
		p := newTestPayment(t, "noop")
		if err := payments.Save(ctx, nil, p); err != nil {
			t.Fatalf("save payment: %v", err)
		}
		return p
	}
	newItem := func(p *model.Payment, line int, exp *time.Time) *model.PurchaseItem {
		it, _ := model.NewPurchaseItem("VIP", 500, 1, nil, map[string]string{"player": "steve"})
		it.PaymentID = p.ID
		it.Line = line
		it.Buyable = model.BuyableRef{Type: model.BuyablePackage, ID: "vip"}
		it.ExpiresAt = exp
		return it
	}

	t.Run("Save rejects a replayed line", func(t *testing.T) {
		p := seed(t)
		if err := repo.Save(ctx, nil, newItem(p, 1, nil)); err != nil {
			t.Fatalf("first save: %v", err)
		}
		if err := repo.Save(ctx, nil, newItem(p, 1, nil)); !errors.Is(err, domain.ErrAlreadyExists) {
			t.Fatalf("expected ErrAlreadyExists, got %v", err)
		}
		items, err := repo.ListByPayment(ctx, nil, p.ID)
		if err != nil || len(items) != 1 {
			t.Fatalf("ListByPayment: %d, %v", len(items), err)
		}
		if items[0].Variables["player"] != "steve" {
			t.Errorf("variables lost: %+v", items[0].Variables)
		}
	})

	t.Run("active listing excludes expired items", func(t *testing.T) {
		p := seed(t)
		now := time.Now()
		past, future := now.Add(-time.Hour), now.Add(time.Hour)
		_ = repo.Save(ctx, nil, newItem(p, 1, nil))
		_ = repo.Save(ctx, nil, newItem(p, 2, &past))
		_ = repo.Save(ctx, nil, newItem(p, 3, &future))

		active, err := repo.ListActiveByUser(ctx, nil, p.UserID, now)
		if err != nil {
			t.Fatalf("ListActiveByUser: %v", err)
		}
		if len(active) != 2 {
			t.Fatalf("expected 2 active items, got %d", len(active))
		}
		expired, err := repo.ListExpired(ctx, nil, now, 10)
		if err != nil || len(expired) != 1 || expired[0].Line != 2 {
			t.Fatalf("ListExpired: %v, %v", expired, err)
		}
	})

	t.Run("LockExpired is exclusive across transactions", func(t *testing.T) {
		p := seed(t)
		past := time.Now().Add(-time.Minute)
		it := newItem(p, 1, &past)
		_ = repo.Save(ctx, nil, it)

		tm := NewTxManager(testPool)
		var won int32
		var wg sync.WaitGroup
		start := make(chan struct{})
		for i := 0; i < 4; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				_ = tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
					if _, err := repo.LockExpired(ctx, tx, it.ID, time.Now()); err != nil {
						return err
					}
					time.Sleep(50 * time.Millisecond)
					atomic.AddInt32(&won, 1)
					return repo.ClearExpiry(ctx, tx, it.ID)
				})
			}()
		}
		close(start)
		wg.Wait()

		if won != 1 {
			t.Fatalf("expected exactly one revocation, got %d", won)
		}
		got, _ := repo.FindByID(ctx, nil, it.ID)
		if got.ExpiresAt != nil {
			t.Fatal("expires_at should be cleared")
		}
		if _, err := repo.LockExpired(ctx, nil, it.ID, time.Now()); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("revoked item must not lock again, got %v", err)
		}
	})
}

func TestCatalogRepos_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode.")
	}
	ctx := context.Background()
	cleanup(t)

	pkgs := NewPackageRepo(testPool)
	pkg, _ := model.NewPackage("vip", "VIP", 500, &model.Period{Months: 1}, []string{"grant {player}"}, []string{"revoke {player}"})
	if err := pkgs.Save(ctx, nil, pkg); err != nil {
		t.Fatalf("save package: %v", err)
	}
	got, err := pkgs.FindByID(ctx, nil, "vip")
	if err != nil {
		t.Fatalf("find package: %v", err)
	}
	if got.BillingPeriod == nil || got.BillingPeriod.Months != 1 || len(got.ExpireCommands) != 1 {
		t.Fatalf("unexpected package: %+v", got)
	}
	if err := pkgs.Delete(ctx, nil, "vip"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := pkgs.FindByID(ctx, nil, "vip"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}

	gws := NewGatewayRepo(testPool)
	_ = gws.Save(ctx, nil, &model.Gateway{ID: "gw1", Name: "Stripe", Type: "stripe", Data: map[string]string{"secret_key": "sk"}, Enabled: true})
	gw, err := gws.FindEnabledByType(ctx, nil, "STRIPE")
	if err != nil || gw.Get("secret_key") != "sk" {
		t.Fatalf("FindEnabledByType: %+v, %v", gw, err)
	}

	bal := NewBalanceRepo(testPool)
	if err := bal.Credit(ctx, nil, "u1", 300); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if err := bal.Debit(ctx, nil, "u1", 500); !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if err := bal.Debit(ctx, nil, "u1", 200); err != nil {
		t.Fatalf("debit: %v", err)
	}
	if b, _ := bal.Get(ctx, nil, "u1"); b != 100 {
		t.Fatalf("expected balance 100, got %d", b)
	}
}
