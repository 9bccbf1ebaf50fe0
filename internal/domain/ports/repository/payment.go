package repository

import (
	"context"
	"time"

	"shop-fulfillment/internal/domain/model"
)

// -----------------------------
// Payments
// -----------------------------

type PaymentRepository interface {
	Save(ctx context.Context, tx Tx, p *model.Payment) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.Payment, error)
	FindByExternalID(ctx context.Context, tx Tx, provider, externalID string) (*model.Payment, error)
	SetExternalID(ctx context.Context, tx Tx, id, externalID string) error
	UpdateStatus(ctx context.Context, tx Tx, id string, status model.PaymentStatus, refID *string, paidAt *time.Time) error
	// UpdateStatusIfPending reports whether this caller won the pending -> status transition.
	UpdateStatusIfPending(ctx context.Context, tx Tx, id string, status model.PaymentStatus, refID *string, paidAt *time.Time) (bool, error)
	ListPendingOlderThan(ctx context.Context, tx Tx, olderThan time.Time, limit int) ([]*model.Payment, error)
	// ListUnfulfilled returns succeeded payments paid in [paidAfter, paidBefore)
	// that own fewer purchase items than cart lines.
	ListUnfulfilled(ctx context.Context, tx Tx, paidBefore, paidAfter time.Time, limit int) ([]*model.Payment, error)
}

// -----------------------------
// Purchases
// -----------------------------

type PurchaseRepository interface {
	Save(ctx context.Context, tx Tx, pu *model.Purchase) error
	ListByUser(ctx context.Context, tx Tx, userID string) ([]*model.Purchase, error)
}
