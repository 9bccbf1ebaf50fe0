package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"

	"shop-fulfillment/internal/domain/model"
	"shop-fulfillment/internal/domain/ports/adapter"
)

const MethodStripe = "stripe"

var _ adapter.PaymentMethod = (*StripeGateway)(nil)

type StripeOptions struct {
	SecretKey string
	// SuccessURL should carry {CHECKOUT_SESSION_ID} so the callback can find the payment.
	SuccessURL string
	CancelURL  string
}

// StripeGateway uses hosted Checkout Sessions.
type StripeGateway struct {
	sc         *client.API
	successURL string
	cancelURL  string
}

func StripeFactory(opts StripeOptions) adapter.MethodFactory {
	return func(gw *model.Gateway) (adapter.PaymentMethod, error) {
		o := opts
		o.SecretKey = pick(gw, "secret_key", o.SecretKey)
		o.SuccessURL = pick(gw, "success_url", o.SuccessURL)
		o.CancelURL = pick(gw, "cancel_url", o.CancelURL)
		return NewStripeGateway(o, nil)
	}
}

// NewStripeGateway builds a client per instance so different gateways can
// carry different keys. backends may be nil.
func NewStripeGateway(o StripeOptions, backends *stripe.Backends) (*StripeGateway, error) {
	if o.SecretKey == "" {
		return nil, errors.New("stripe: secret key empty")
	}
	if o.SuccessURL == "" {
		return nil, errors.New("stripe: success url empty")
	}
	sc := &client.API{}
	sc.Init(o.SecretKey, backends)
	return &StripeGateway{sc: sc, successURL: o.SuccessURL, cancelURL: o.CancelURL}, nil
}

func (g *StripeGateway) ID() string { return MethodStripe }

func (g *StripeGateway) StartPayment(ctx context.Context, p *model.Payment, cart *model.Cart) (*adapter.CheckoutSession, error) {
	currency := strings.ToLower(p.Currency)
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(g.successURL),
		ClientReferenceID: stripe.String(p.ID),
	}
	if g.cancelURL != "" {
		params.CancelURL = stripe.String(g.cancelURL)
	}
	for _, l := range cart.Lines {
		params.LineItems = append(params.LineItems, &stripe.CheckoutSessionLineItemParams{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency: stripe.String(currency),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(l.Buyable.Name()),
				},
				UnitAmount: stripe.Int64(l.Buyable.Price()),
			},
			Quantity: stripe.Int64(int64(l.Quantity)),
		})
	}
	params.Context = ctx
	params.AddMetadata("payment_id", p.ID)

	s, err := g.sc.CheckoutSessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("stripe: create checkout session: %w", err)
	}
	return &adapter.CheckoutSession{
		PaymentID:   p.ID,
		Method:      MethodStripe,
		RedirectURL: s.URL,
		ExternalID:  s.ID,
	}, nil
}

func (g *StripeGateway) ExternalID(params map[string]string) string { return params["session_id"] }

func (g *StripeGateway) VerifyPayment(ctx context.Context, p *model.Payment, _ map[string]string) (string, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	s, err := g.sc.CheckoutSessions.Get(p.ExternalID, params)
	if err != nil {
		return "", fmt.Errorf("stripe: get checkout session: %w", err)
	}
	if s.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
		return "", fmt.Errorf("stripe: session %s not paid (status=%s)", s.ID, s.PaymentStatus)
	}
	if s.AmountTotal != p.Amount {
		return "", fmt.Errorf("stripe: amount mismatch: expected %d got %d", p.Amount, s.AmountTotal)
	}
	if s.PaymentIntent != nil && s.PaymentIntent.ID != "" {
		return s.PaymentIntent.ID, nil
	}
	return s.ID, nil
}
