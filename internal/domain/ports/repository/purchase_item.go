package repository

import (
	"context"
	"time"

	"shop-fulfillment/internal/domain/model"
)

// PurchaseItemRepository stores purchase items. (payment_id, line) is unique,
// Save returns domain.ErrAlreadyExists on a replay.
type PurchaseItemRepository interface {
	Save(ctx context.Context, tx Tx, item *model.PurchaseItem) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.PurchaseItem, error)
	ListByPayment(ctx context.Context, tx Tx, paymentID string) ([]*model.PurchaseItem, error)
	// ListActiveByUser applies the exclude-expired filter: expires_at IS NULL OR expires_at > now.
	ListActiveByUser(ctx context.Context, tx Tx, userID string, now time.Time) ([]*model.PurchaseItem, error)
	// ListExpired returns items with expires_at <= before, oldest first.
	ListExpired(ctx context.Context, tx Tx, before time.Time, limit int) ([]*model.PurchaseItem, error)
	// LockExpired row-locks the item only while it is still expired at now.
	// A row held by another sweeper or already revoked yields domain.ErrNotFound.
	LockExpired(ctx context.Context, tx Tx, id string, now time.Time) (*model.PurchaseItem, error)
	// LockForRevoke row-locks the item regardless of its expiration.
	LockForRevoke(ctx context.Context, tx Tx, id string) (*model.PurchaseItem, error)
	ClearExpiry(ctx context.Context, tx Tx, id string) error
}
