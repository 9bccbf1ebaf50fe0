package model

import (
	"time"

	"github.com/google/uuid"

	"shop-fulfillment/internal/domain"
)

// SiteMoneyProvider is the method id of payments settled from the user's shop balance.
const SiteMoneyProvider = "site-money"

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"   // redirected to gateway; awaiting verification
	PaymentStatusSucceeded PaymentStatus = "succeeded" // verified OK at provider
	PaymentStatusFailed    PaymentStatus = "failed"    // verification failed or explicitly failed
	PaymentStatusCancelled PaymentStatus = "cancelled" // admin/user cancel
	PaymentStatusRefunded  PaymentStatus = "refunded"
)

// Payment is the aggregate that owns purchase items.
type Payment struct {
	ID         string
	UserID     string
	Provider   string // payment method id, e.g. "stripe"
	GatewayID  string
	Amount     int64 // minor units
	Currency   string
	ExternalID string // provider session/authority/order id
	RefID      string // provider reference after verification
	Status     PaymentStatus
	// Cart is the serialized cart: buyable ref -> quantity.
	Cart map[string]int
	// Lines keeps every cart line in checkout order with its variables.
	Lines     []PaymentLine
	CreatedAt time.Time
	UpdatedAt time.Time
	PaidAt    *time.Time
}

// NewPayment creates a pending payment for a cart snapshot.
func NewPayment(userID, provider, currency string, amount int64, cart map[string]int) (*Payment, error) {
	if userID == "" {
		return nil, &domain.ValidationError{Field: "user_id", Reason: "required"}
	}
	if provider == "" {
		return nil, &domain.ValidationError{Field: "provider", Reason: "required"}
	}
	if amount < 0 {
		return nil, &domain.ValidationError{Field: "amount", Reason: "must not be negative"}
	}
	now := time.Now()
	return &Payment{
		ID:        uuid.NewString(),
		UserID:    userID,
		Provider:  provider,
		Amount:    amount,
		Currency:  currency,
		Status:    PaymentStatusPending,
		Cart:      cart,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (p *Payment) IsWithSiteMoney() bool { return p != nil && p.Provider == SiteMoneyProvider }

func (p *Payment) IsPending() bool { return p.Status == PaymentStatusPending }

// PaymentLine is the stored form of one cart line.
type PaymentLine struct {
	Ref       string            `json:"ref"`
	Quantity  int               `json:"quantity"`
	Variables map[string]string `json:"variables,omitempty"`
}

// LineCount is the number of purchase items a completed payment owns.
func (p *Payment) LineCount() int {
	if len(p.Lines) > 0 {
		return len(p.Lines)
	}
	return len(p.Cart)
}

// Purchase is the durable history entry written per delivered cart line.
type Purchase struct {
	ID        string
	UserID    string
	PaymentID string
	Buyable   BuyableRef
	Quantity  int
	Price     int64 // line total
	CreatedAt time.Time
}
