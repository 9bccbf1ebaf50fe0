// File: internal/infra/adapters/payment/zarinpal_gateway.go
package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"shop-fulfillment/internal/domain/model"
	"shop-fulfillment/internal/domain/ports/adapter"
)

const MethodZarinPal = "zarinpal"

var _ adapter.PaymentMethod = (*ZarinPalGateway)(nil)

type ZarinPalOptions struct {
	MerchantID  string
	CallbackURL string
	Sandbox     bool
	// BaseURL overrides the REST endpoint (tests, proxies).
	BaseURL string
}

// ZarinPalGateway implements the ZarinPal REST v4 request/verify flow.
type ZarinPalGateway struct {
	merchantID string
	callback   string
	sandbox    bool
	baseURL    string
	client     *http.Client
}

// ZarinPalFactory builds gateways from a stored Gateway, falling back to opts
// for keys the gateway does not set.
func ZarinPalFactory(opts ZarinPalOptions) adapter.MethodFactory {
	return func(gw *model.Gateway) (adapter.PaymentMethod, error) {
		o := opts
		o.MerchantID = pick(gw, "merchant_id", o.MerchantID)
		o.CallbackURL = pick(gw, "callback_url", o.CallbackURL)
		if v := gw.Get("sandbox"); v != "" {
			o.Sandbox, _ = strconv.ParseBool(v)
		}
		return NewZarinPalGateway(o)
	}
}

func NewZarinPalGateway(o ZarinPalOptions) (*ZarinPalGateway, error) {
	if o.MerchantID == "" {
		return nil, errors.New("zarinpal: merchant id empty")
	}
	if _, err := url.Parse(o.CallbackURL); err != nil {
		return nil, fmt.Errorf("zarinpal: invalid callback url: %w", err)
	}
	base := o.BaseURL
	if base == "" {
		base = "https://api.zarinpal.com/pg/v4"
		if o.Sandbox {
			base = "https://sandbox.zarinpal.com/pg/v4"
		}
	}
	return &ZarinPalGateway{
		merchantID: o.MerchantID,
		callback:   o.CallbackURL,
		sandbox:    o.Sandbox,
		baseURL:    base,
		client:     &http.Client{Timeout: 15 * time.Second},
	}, nil
}

func (z *ZarinPalGateway) ID() string { return MethodZarinPal }

// StartPayment calls /payment/request.json and returns the StartPay redirect.
func (z *ZarinPalGateway) StartPayment(ctx context.Context, p *model.Payment, cart *model.Cart) (*adapter.CheckoutSession, error) {
	payload := map[string]any{
		"merchant_id":  z.merchantID,
		"amount":       p.Amount,
		"description":  describeCart(cart),
		"callback_url": z.callback,
		"metadata":     map[string]string{"order_id": p.ID},
	}
	var out struct {
		Data struct {
			Authority string `json:"authority"`
			Code      int    `json:"code"`
		} `json:"data"`
		Errors any `json:"errors"`
	}
	if err := z.post(ctx, "/payment/request.json", payload, &out); err != nil {
		return nil, err
	}
	if out.Data.Code != 100 || out.Data.Authority == "" {
		return nil, fmt.Errorf("zarinpal request failed (code=%d)", out.Data.Code)
	}
	payURL := "https://www.zarinpal.com/pg/StartPay/" + out.Data.Authority
	if z.sandbox {
		payURL = "https://sandbox.zarinpal.com/pg/StartPay/" + out.Data.Authority
	}
	return &adapter.CheckoutSession{
		PaymentID:   p.ID,
		Method:      MethodZarinPal,
		RedirectURL: payURL,
		ExternalID:  out.Data.Authority,
	}, nil
}

func (z *ZarinPalGateway) ExternalID(params map[string]string) string { return params["Authority"] }

// VerifyPayment calls /payment/verify.json and returns the provider refID.
func (z *ZarinPalGateway) VerifyPayment(ctx context.Context, p *model.Payment, params map[string]string) (string, error) {
	if st := params["Status"]; st != "" && st != "OK" {
		return "", fmt.Errorf("zarinpal: payment not approved (Status=%s)", st)
	}
	payload := map[string]any{
		"merchant_id": z.merchantID,
		"amount":      p.Amount,
		"authority":   p.ExternalID,
	}
	var out struct {
		Data struct {
			Code  int   `json:"code"`
			RefID int64 `json:"ref_id"`
		} `json:"data"`
		Errors any `json:"errors"`
	}
	if err := z.post(ctx, "/payment/verify.json", payload, &out); err != nil {
		return "", err
	}
	// 100 = verified now, 101 = verified earlier
	if (out.Data.Code != 100 && out.Data.Code != 101) || out.Data.RefID == 0 {
		return "", fmt.Errorf("zarinpal verify failed (code=%d)", out.Data.Code)
	}
	return strconv.FormatInt(out.Data.RefID, 10), nil
}

func (z *ZarinPalGateway) post(ctx context.Context, path string, payload, out any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, z.baseURL+path, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := z.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(out)
}
