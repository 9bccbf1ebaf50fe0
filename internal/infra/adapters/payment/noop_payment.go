package payment

import (
	"context"
	"fmt"

	"shop-fulfillment/internal/domain/model"
	"shop-fulfillment/internal/domain/ports/adapter"
)

const MethodNoop = "noop"

var _ adapter.PaymentMethod = (*NoopPaymentGateway)(nil)

// NoopPaymentGateway approves everything that comes back with Status=OK.
// Registered in dev mode only.
type NoopPaymentGateway struct {
	baseURL string
}

func NoopFactory(baseURL string) adapter.MethodFactory {
	return func(gw *model.Gateway) (adapter.PaymentMethod, error) {
		return &NoopPaymentGateway{baseURL: pick(gw, "base_url", baseURL)}, nil
	}
}

func (g *NoopPaymentGateway) ID() string { return MethodNoop }

func (g *NoopPaymentGateway) StartPayment(ctx context.Context, p *model.Payment, cart *model.Cart) (*adapter.CheckoutSession, error) {
	authority := "noop-" + p.ID
	return &adapter.CheckoutSession{
		PaymentID:   p.ID,
		Method:      MethodNoop,
		RedirectURL: fmt.Sprintf("%s/pay/%s", g.baseURL, authority),
		ExternalID:  authority,
	}, nil
}

func (g *NoopPaymentGateway) ExternalID(params map[string]string) string { return params["Authority"] }

func (g *NoopPaymentGateway) VerifyPayment(ctx context.Context, p *model.Payment, params map[string]string) (string, error) {
	if params["Status"] != "OK" {
		return "", fmt.Errorf("noop: payment not approved (Status=%s)", params["Status"])
	}
	if a := params["Authority"]; a != p.ExternalID {
		return "", fmt.Errorf("noop: authority mismatch: expected %s got %s", p.ExternalID, a)
	}
	return "ref-" + p.ExternalID, nil
}
