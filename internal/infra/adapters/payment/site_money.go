package payment

import (
	"context"
	"fmt"

	"shop-fulfillment/internal/domain/model"
	"shop-fulfillment/internal/domain/ports/adapter"
	"shop-fulfillment/internal/domain/ports/repository"
)

var _ adapter.PaymentMethod = (*SiteMoneyMethod)(nil)

// SiteMoneyMethod settles a payment from the user's shop balance at start,
// so the session comes back already completed.
type SiteMoneyMethod struct {
	balances repository.BalanceRepository
}

func SiteMoneyFactory(balances repository.BalanceRepository) adapter.MethodFactory {
	return func(_ *model.Gateway) (adapter.PaymentMethod, error) {
		return &SiteMoneyMethod{balances: balances}, nil
	}
}

func (m *SiteMoneyMethod) ID() string { return model.SiteMoneyProvider }

func (m *SiteMoneyMethod) StartPayment(ctx context.Context, p *model.Payment, _ *model.Cart) (*adapter.CheckoutSession, error) {
	if err := m.balances.Debit(ctx, repository.NoTX, p.UserID, p.Amount); err != nil {
		return nil, fmt.Errorf("site money debit: %w", err)
	}
	return &adapter.CheckoutSession{
		PaymentID:  p.ID,
		Method:     model.SiteMoneyProvider,
		ExternalID: "site-" + p.ID,
		Completed:  true,
	}, nil
}

func (m *SiteMoneyMethod) ExternalID(params map[string]string) string { return params["external_id"] }

// VerifyPayment has nothing to ask; the debit already happened.
func (m *SiteMoneyMethod) VerifyPayment(_ context.Context, p *model.Payment, _ map[string]string) (string, error) {
	return p.ExternalID, nil
}
