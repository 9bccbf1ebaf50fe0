package model

import (
	"context"
	"fmt"
	"strings"

	"shop-fulfillment/internal/domain"
)

// Buyable kinds known to the catalog resolver.
const (
	BuyablePackage = "package"
	BuyableOffer   = "offer"
)

// BuyableRef is the polymorphic, non-owning reference a purchase item keeps to
// the thing that was bought.
type BuyableRef struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

func (r BuyableRef) String() string { return r.Type + ":" + r.ID }

func (r BuyableRef) IsZero() bool { return r.Type == "" && r.ID == "" }

// ParseBuyableRef is the inverse of BuyableRef.String.
func ParseBuyableRef(s string) (BuyableRef, error) {
	typ, id, ok := strings.Cut(s, ":")
	if !ok || typ == "" || id == "" {
		return BuyableRef{}, &domain.ValidationError{Field: "buyable", Reason: fmt.Sprintf("malformed reference %q", s)}
	}
	return BuyableRef{Type: typ, ID: id}, nil
}

// Buyable is implemented by every purchasable catalog entry.
type Buyable interface {
	Ref() BuyableRef
	Name() string
	// Price is the unit price in minor units.
	Price() int64
	// BillingPeriod returns nil for perpetual purchases.
	BillingPeriod() *Period
	Deliver(ctx context.Context, item *PurchaseItem, renewal bool) error
}

// Expirer is the optional capability of buyables whose effects can be taken back.
type Expirer interface {
	Expire(ctx context.Context, item *PurchaseItem, trigger string) error
}
