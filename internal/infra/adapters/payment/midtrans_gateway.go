package payment

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/midtrans/midtrans-go"
	"github.com/midtrans/midtrans-go/coreapi"
	"github.com/midtrans/midtrans-go/snap"

	"shop-fulfillment/internal/domain/model"
	"shop-fulfillment/internal/domain/ports/adapter"
)

const MethodMidtrans = "midtrans"

var _ adapter.PaymentMethod = (*MidtransGateway)(nil)

type MidtransOptions struct {
	ServerKey  string
	Production bool
	FinishURL  string
}

// MidtransGateway starts Snap transactions and checks their status via Core API.
// The payment id is used as the Midtrans order id.
type MidtransGateway struct {
	snap      snap.Client
	core      coreapi.Client
	finishURL string
}

func MidtransFactory(opts MidtransOptions) adapter.MethodFactory {
	return func(gw *model.Gateway) (adapter.PaymentMethod, error) {
		o := opts
		o.ServerKey = pick(gw, "server_key", o.ServerKey)
		o.FinishURL = pick(gw, "finish_url", o.FinishURL)
		if v := gw.Get("production"); v != "" {
			o.Production, _ = strconv.ParseBool(v)
		}
		return NewMidtransGateway(o)
	}
}

func NewMidtransGateway(o MidtransOptions) (*MidtransGateway, error) {
	if o.ServerKey == "" {
		return nil, errors.New("midtrans: server key empty")
	}
	env := midtrans.Sandbox
	if o.Production {
		env = midtrans.Production
	}
	g := &MidtransGateway{finishURL: o.FinishURL}
	g.snap.New(o.ServerKey, env)
	g.core.New(o.ServerKey, env)
	return g, nil
}

func (g *MidtransGateway) ID() string { return MethodMidtrans }

func (g *MidtransGateway) StartPayment(ctx context.Context, p *model.Payment, cart *model.Cart) (*adapter.CheckoutSession, error) {
	items := make([]midtrans.ItemDetails, 0, len(cart.Lines))
	for _, l := range cart.Lines {
		items = append(items, midtrans.ItemDetails{
			ID:    l.Buyable.Ref().String(),
			Name:  l.Buyable.Name(),
			Price: l.Buyable.Price(),
			Qty:   int32(l.Quantity),
		})
	}
	req := &snap.Request{
		TransactionDetails: midtrans.TransactionDetails{
			OrderID:  p.ID,
			GrossAmt: p.Amount,
		},
		Items: &items,
	}
	if g.finishURL != "" {
		req.Callbacks = &snap.Callbacks{Finish: g.finishURL}
	}

	resp, mErr := g.snap.CreateTransaction(req)
	if mErr != nil {
		return nil, fmt.Errorf("midtrans: create transaction: %s", mErr.GetMessage())
	}
	return &adapter.CheckoutSession{
		PaymentID:   p.ID,
		Method:      MethodMidtrans,
		RedirectURL: resp.RedirectURL,
		ExternalID:  p.ID,
	}, nil
}

func (g *MidtransGateway) ExternalID(params map[string]string) string { return params["order_id"] }

func (g *MidtransGateway) VerifyPayment(ctx context.Context, p *model.Payment, _ map[string]string) (string, error) {
	st, mErr := g.core.CheckTransaction(p.ExternalID)
	if mErr != nil {
		return "", fmt.Errorf("midtrans: check transaction: %s", mErr.GetMessage())
	}
	switch st.TransactionStatus {
	case "settlement", "capture":
		return st.TransactionID, nil
	default:
		return "", fmt.Errorf("midtrans: order %s not settled (status=%s)", p.ExternalID, st.TransactionStatus)
	}
}
