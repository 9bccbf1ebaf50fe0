package currency

import (
	"strings"
	"testing"

	"golang.org/x/text/currency"

	"shop-fulfillment/internal/domain/model"
)

func TestFormatter(t *testing.T) {
	f, err := NewFormatter("en", "usd", "coins")
	if err != nil {
		t.Fatalf("new formatter: %v", err)
	}

	t.Run("site money", func(t *testing.T) {
		if got := f.FormatSiteMoney(1500); got != "1,500 coins" {
			t.Errorf("got %q", got)
		}
	})

	t.Run("minor units are scaled per currency", func(t *testing.T) {
		if got := f.FormatCurrency(1999, "USD"); !strings.Contains(got, "19.99") {
			t.Errorf("USD: got %q", got)
		}
		if got := f.FormatCurrency(500, "JPY"); !strings.Contains(got, "500") {
			t.Errorf("JPY: got %q", got)
		}
	})

	t.Run("unknown currency falls back to default", func(t *testing.T) {
		if got := f.FormatCurrency(250, "???"); !strings.Contains(got, "2.50") {
			t.Errorf("got %q", got)
		}
	})

	t.Run("purchase item picks site money by payment", func(t *testing.T) {
		item := &model.PurchaseItem{UnitPrice: 300, Quantity: 1, Payment: &model.Payment{Provider: model.SiteMoneyProvider}}
		if got := item.FormatPrice(f); got != "300 coins" {
			t.Errorf("got %q", got)
		}
	})
}

func TestScale(t *testing.T) {
	if Scale(currency.USD) != 2 || Scale(currency.JPY) != 0 {
		t.Fatalf("unexpected scales: usd=%d jpy=%d", Scale(currency.USD), Scale(currency.JPY))
	}
}

func TestNewFormatter_RejectsBadDefault(t *testing.T) {
	if _, err := NewFormatter("en", "XX", ""); err == nil {
		t.Fatal("expected error for invalid default currency")
	}
}
