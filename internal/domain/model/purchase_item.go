package model

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"shop-fulfillment/internal/domain"
)

// DefaultRevokeTrigger is passed to Expirer.Expire when no trigger is given.
const DefaultRevokeTrigger = "expiration"

// PurchaseItem is one recorded line of a completed payment.
type PurchaseItem struct {
	ID        string
	PaymentID string
	Line      int // 1-based position in the cart
	Name      string
	UnitPrice int64 // minor units of the payment currency
	Quantity  int
	Variables map[string]string
	Buyable   BuyableRef
	ExpiresAt *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time

	// Loaded associations, never persisted.
	Payment  *Payment `json:"-"`
	Resolved Buyable  `json:"-"`
}

// NewPurchaseItem validates input and computes the expiration from the
// buyable's billing period at creation time. buyable may be nil.
func NewPurchaseItem(name string, unitPrice int64, quantity int, buyable Buyable, variables map[string]string) (*PurchaseItem, error) {
	if quantity < 1 {
		return nil, &domain.ValidationError{Field: "quantity", Reason: "must be at least 1"}
	}
	if unitPrice < 0 {
		return nil, &domain.ValidationError{Field: "unit_price", Reason: "must not be negative"}
	}

	now := time.Now()
	item := &PurchaseItem{
		ID:        uuid.NewString(),
		Name:      name,
		UnitPrice: unitPrice,
		Quantity:  quantity,
		Variables: variables,
		CreatedAt: now,
		UpdatedAt: now,
		Resolved:  buyable,
	}
	if buyable != nil {
		item.Buyable = buyable.Ref()
		if item.Name == "" {
			item.Name = buyable.Name()
		}
		if p := buyable.BillingPeriod(); p != nil {
			exp := p.AddTo(now)
			item.ExpiresAt = &exp
		}
	}
	return item, nil
}

// Total is the line total in minor units.
func (i *PurchaseItem) Total() int64 { return i.UnitPrice * int64(i.Quantity) }

// Deliver hands the item to its buyable. A deleted buyable makes this a no-op.
func (i *PurchaseItem) Deliver(ctx context.Context, renewal bool) error {
	if i.Resolved == nil {
		return nil
	}
	return i.Resolved.Deliver(ctx, i, renewal)
}

// Revoke calls the buyable's expire hook when it has one and then clears the
// expiration. If the hook fails the expiration is kept so a later sweep retries.
func (i *PurchaseItem) Revoke(ctx context.Context, trigger string) error {
	if trigger == "" {
		trigger = DefaultRevokeTrigger
	}
	if exp, ok := i.Resolved.(Expirer); ok {
		if err := exp.Expire(ctx, i, trigger); err != nil {
			return &domain.RevocationError{ItemID: i.ID, Trigger: trigger, Err: err}
		}
	}
	i.ExpiresAt = nil
	i.UpdatedAt = time.Now()
	return nil
}

// PriceFormatter renders amounts in minor units for display.
type PriceFormatter interface {
	FormatSiteMoney(amount int64) string
	FormatCurrency(amount int64, currency string) string
}

// FormatPrice picks site money or the payment currency based on the owning payment.
func (i *PurchaseItem) FormatPrice(f PriceFormatter) string {
	if i.Payment == nil {
		return f.FormatCurrency(i.UnitPrice, "")
	}
	if i.Payment.IsWithSiteMoney() {
		return f.FormatSiteMoney(i.UnitPrice)
	}
	return f.FormatCurrency(i.UnitPrice, i.Payment.Currency)
}

// ReplaceVariables substitutes {key} tokens. Unknown tokens are left as is.
func (i *PurchaseItem) ReplaceVariables(content string) string {
	if i.Variables == nil {
		return content
	}
	return ReplaceTokens(content, i.Variables)
}

// ReplaceTokens substitutes every {key} in content with vars[key].
func ReplaceTokens(content string, vars map[string]string) string {
	if len(vars) == 0 {
		return content
	}
	// sorted for a deterministic replacer when keys overlap
	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, 2*len(keys))
	for _, k := range keys {
		pairs = append(pairs, "{"+k+"}", vars[k])
	}
	return strings.NewReplacer(pairs...).Replace(content)
}

func (i *PurchaseItem) IsExpired() bool { return i.IsExpiredAt(time.Now()) }

func (i *PurchaseItem) IsExpiredAt(now time.Time) bool {
	return i.ExpiresAt != nil && !i.ExpiresAt.After(now)
}

// ExcludeExpired keeps perpetual items and items expiring after now.
func ExcludeExpired(items []*PurchaseItem, now time.Time) []*PurchaseItem {
	out := make([]*PurchaseItem, 0, len(items))
	for _, it := range items {
		if it.ExpiresAt == nil || it.ExpiresAt.After(now) {
			out = append(out, it)
		}
	}
	return out
}
