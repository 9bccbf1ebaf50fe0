package application

import (
	"context"
	"fmt"
	"strings"
	"time"

	"shop-fulfillment/internal/domain/model"
	"shop-fulfillment/internal/usecase"
)

// AdminFacade composes use cases into operator commands. Methods return
// plain text so the CLI only has to print them.
type AdminFacade struct {
	Checkout   usecase.CheckoutUseCase
	Catalog    usecase.CatalogUseCase
	Expiration usecase.ExpirationUseCase
	Prices     model.PriceFormatter
}

// NewAdminFacade constructs a facade. Any use case may be nil; commands that
// need it return an error.
func NewAdminFacade(checkout usecase.CheckoutUseCase, catalog usecase.CatalogUseCase, expiration usecase.ExpirationUseCase, prices model.PriceFormatter) *AdminFacade {
	return &AdminFacade{Checkout: checkout, Catalog: catalog, Expiration: expiration, Prices: prices}
}

func (a *AdminFacade) HandleMethods(ctx context.Context) (string, error) {
	if a.Checkout == nil {
		return "", fmt.Errorf("checkout usecase not available")
	}
	methods, err := a.Checkout.Methods(ctx)
	if err != nil {
		return "", fmt.Errorf("list methods: %w", err)
	}
	if len(methods) == 0 {
		return "No payment methods registered.", nil
	}
	sb := strings.Builder{}
	sb.WriteString("Payment methods:\n")
	for _, m := range methods {
		if m.Gateway != nil {
			sb.WriteString(fmt.Sprintf("- %s (gateway %q, fees %d%%)\n", m.ID, m.Gateway.Name, m.Gateway.Fees))
			continue
		}
		sb.WriteString(fmt.Sprintf("- %s (config defaults)\n", m.ID))
	}
	return sb.String(), nil
}

func (a *AdminFacade) HandleCatalog(ctx context.Context, currency string) (string, error) {
	if a.Catalog == nil {
		return "", fmt.Errorf("catalog usecase not available")
	}
	pkgs, err := a.Catalog.ListPackages(ctx)
	if err != nil {
		return "", fmt.Errorf("list packages: %w", err)
	}
	offers, err := a.Catalog.ListOffers(ctx)
	if err != nil {
		return "", fmt.Errorf("list offers: %w", err)
	}
	sb := strings.Builder{}
	for _, p := range pkgs {
		period := "permanent"
		if p.BillingPeriod != nil {
			period = p.BillingPeriod.String()
		}
		sb.WriteString(fmt.Sprintf("package:%s  %s  %s  %s%s\n", p.ID, p.Name, a.price(p.Price, currency), period, disabled(p.Enabled)))
	}
	for _, o := range offers {
		sb.WriteString(fmt.Sprintf("offer:%s  %s  %s  +%d%s\n", o.ID, o.Name, a.price(o.Price, currency), o.Money, disabled(o.Enabled)))
	}
	if sb.Len() == 0 {
		return "Catalog is empty.", nil
	}
	return sb.String(), nil
}

// HandleItems lists the items a user currently holds.
func (a *AdminFacade) HandleItems(ctx context.Context, userID string) (string, error) {
	if a.Checkout == nil {
		return "", fmt.Errorf("checkout usecase not available")
	}
	items, err := a.Checkout.ActiveItems(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("active items: %w", err)
	}
	if len(items) == 0 {
		return fmt.Sprintf("User %s has no active items.", userID), nil
	}
	sb := strings.Builder{}
	for _, it := range items {
		expires := "never"
		if it.ExpiresAt != nil {
			expires = it.ExpiresAt.Format(time.RFC1123)
		}
		price := fmt.Sprintf("%d", it.UnitPrice)
		if a.Prices != nil {
			price = it.FormatPrice(a.Prices)
		}
		sb.WriteString(fmt.Sprintf("%s  %s x%d  %s  expires %s\n", it.ID, it.Name, it.Quantity, price, expires))
	}
	return sb.String(), nil
}

func (a *AdminFacade) HandleSweep(ctx context.Context, now time.Time) (string, error) {
	if a.Expiration == nil {
		return "", fmt.Errorf("expiration usecase not available")
	}
	res, err := a.Expiration.Sweep(ctx, now)
	if err != nil {
		return "", fmt.Errorf("sweep: %w", err)
	}
	return DescribeSweep(res), nil
}

// DescribeSweep renders a sweep result, one failure per line.
func DescribeSweep(res *usecase.SweepResult) string {
	sb := strings.Builder{}
	sb.WriteString(fmt.Sprintf("revoked=%d skipped=%d failed=%d\n", res.Revoked, res.Skipped, len(res.Failures)))
	for _, f := range res.Failures {
		sb.WriteString("  " + f.Error() + "\n")
	}
	return sb.String()
}

func (a *AdminFacade) HandleRevoke(ctx context.Context, itemID, trigger string) (string, error) {
	if a.Expiration == nil {
		return "", fmt.Errorf("expiration usecase not available")
	}
	if trigger == "" {
		trigger = "admin"
	}
	if err := a.Expiration.Revoke(ctx, itemID, trigger); err != nil {
		return "", fmt.Errorf("revoke %s: %w", itemID, err)
	}
	return fmt.Sprintf("Item %s revoked (%s).", itemID, trigger), nil
}

func (a *AdminFacade) HandleDeliver(ctx context.Context, itemID string, renewal bool) (string, error) {
	if a.Checkout == nil {
		return "", fmt.Errorf("checkout usecase not available")
	}
	if err := a.Checkout.Redeliver(ctx, itemID, renewal); err != nil {
		return "", fmt.Errorf("deliver %s: %w", itemID, err)
	}
	return fmt.Sprintf("Item %s delivered.", itemID), nil
}

// HandleComplete finishes a succeeded payment whose lines were not all recorded.
func (a *AdminFacade) HandleComplete(ctx context.Context, paymentID string) (string, error) {
	if a.Checkout == nil {
		return "", fmt.Errorf("checkout usecase not available")
	}
	res, err := a.Checkout.ResumePurchase(ctx, paymentID)
	if err != nil {
		return "", fmt.Errorf("complete %s: %w", paymentID, err)
	}
	return DescribePurchase(res), nil
}

// DescribePurchase renders a purchase result, one failure per line.
func DescribePurchase(res *usecase.PurchaseResult) string {
	sb := strings.Builder{}
	sb.WriteString(fmt.Sprintf("recorded=%d skipped=%d failed=%d\n", len(res.Items)-res.Skipped, res.Skipped, len(res.Failures)))
	for _, it := range res.Items {
		sb.WriteString(fmt.Sprintf("  line %d: %s %s x%d\n", it.Line, it.ID, it.Name, it.Quantity))
	}
	for _, f := range res.Failures {
		sb.WriteString("  " + f.Error() + "\n")
	}
	return sb.String()
}

func (a *AdminFacade) price(amount int64, currency string) string {
	if a.Prices == nil {
		return fmt.Sprintf("%d", amount)
	}
	return a.Prices.FormatCurrency(amount, currency)
}

func disabled(enabled bool) string {
	if enabled {
		return ""
	}
	return "  (disabled)"
}
