package payment

import (
	"fmt"
	"strings"

	"shop-fulfillment/internal/domain/model"
	"shop-fulfillment/internal/domain/ports/repository"
)

// Defaults carries the fallback configuration for built-in methods.
type Defaults struct {
	ZarinPal ZarinPalOptions
	Stripe   StripeOptions
	Midtrans MidtransOptions
	Balances repository.BalanceRepository
	// NoopBaseURL enables the sandbox method when non-empty (dev mode).
	NoopBaseURL string
}

// NewDefaultRegistry registers the built-in methods in display order.
func NewDefaultRegistry(d Defaults) *Registry {
	r := NewRegistry()
	r.Register(MethodZarinPal, ZarinPalFactory(d.ZarinPal))
	r.Register(MethodStripe, StripeFactory(d.Stripe))
	r.Register(MethodMidtrans, MidtransFactory(d.Midtrans))
	if d.Balances != nil {
		r.Register(model.SiteMoneyProvider, SiteMoneyFactory(d.Balances))
	}
	if d.NoopBaseURL != "" {
		r.Register(MethodNoop, NoopFactory(d.NoopBaseURL))
	}
	return r
}

func pick(gw *model.Gateway, key, fallback string) string {
	if v := gw.Get(key); v != "" {
		return v
	}
	return fallback
}

func describeCart(c *model.Cart) string {
	if c.IsEmpty() {
		return "shop order"
	}
	parts := make([]string, 0, len(c.Lines))
	for _, l := range c.Lines {
		parts = append(parts, fmt.Sprintf("%s x%d", l.Buyable.Name(), l.Quantity))
	}
	return strings.Join(parts, ", ")
}
