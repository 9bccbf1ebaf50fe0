package adapter

import (
	"context"

	"shop-fulfillment/internal/domain/model"
)

// CheckoutSession is what a payment method hands back when a payment starts.
type CheckoutSession struct {
	PaymentID   string `json:"payment_id"`
	Method      string `json:"method"`
	RedirectURL string `json:"redirect_url,omitempty"`
	ExternalID  string `json:"external_id,omitempty"`
	// Completed is set by methods that settle synchronously (site money).
	Completed bool `json:"completed"`
}

// PaymentMethod is the hex port implemented by every gateway integration.
// Instances are built per resolution from a Gateway config and must not share state.
type PaymentMethod interface {
	ID() string

	// StartPayment opens a checkout session at the provider for a pending payment.
	StartPayment(ctx context.Context, payment *model.Payment, cart *model.Cart) (*CheckoutSession, error)
	// ExternalID extracts the provider reference from callback parameters.
	ExternalID(params map[string]string) string
	// VerifyPayment confirms with the provider that the payment was captured and returns the provider refID.
	VerifyPayment(ctx context.Context, payment *model.Payment, params map[string]string) (refID string, err error)
}

// MethodFactory builds a PaymentMethod; gw may be nil for methods without stored configuration.
type MethodFactory func(gw *model.Gateway) (PaymentMethod, error)

type MethodRegistration struct {
	ID      string
	Factory MethodFactory
}

// MethodRegistry maps method ids to factories.
type MethodRegistry interface {
	Register(id string, factory MethodFactory)
	// Resolve returns nil, nil for unknown ids.
	Resolve(id string, gw *model.Gateway) (PaymentMethod, error)
	// ResolveOrFail returns *domain.UnsupportedMethodError for unknown ids.
	ResolveOrFail(id string, gw *model.Gateway) (PaymentMethod, error)
	Has(id string) bool
	List() []MethodRegistration
}
