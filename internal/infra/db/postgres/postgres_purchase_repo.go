package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"

	"shop-fulfillment/internal/domain/model"
	"shop-fulfillment/internal/domain/ports/repository"
)

type PostgresPurchaseRepo struct {
	db *pgxpool.Pool
}

func NewPostgresPurchaseRepo(db *pgxpool.Pool) *PostgresPurchaseRepo {
	return &PostgresPurchaseRepo{db: db}
}

var _ repository.PurchaseRepository = (*PostgresPurchaseRepo)(nil)

func (r *PostgresPurchaseRepo) Save(ctx context.Context, tx repository.Tx, pu *model.Purchase) error {
	if pu.CreatedAt.IsZero() {
		pu.CreatedAt = time.Now().UTC()
	}
	_, err := execSQL(ctx, r.db, tx, `
		INSERT INTO purchases (id, user_id, payment_id, buyable_type, buyable_id, quantity, price, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, pu.ID, pu.UserID, pu.PaymentID, pu.Buyable.Type, pu.Buyable.ID, pu.Quantity, pu.Price, pu.CreatedAt)
	return mapError(err)
}

func (r *PostgresPurchaseRepo) ListByUser(ctx context.Context, tx repository.Tx, userID string) ([]*model.Purchase, error) {
	rows, err := queryRows(ctx, r.db, tx, `
		SELECT id, user_id, payment_id, buyable_type, buyable_id, quantity, price, created_at
		FROM purchases WHERE user_id=$1 ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()
	var out []*model.Purchase
	for rows.Next() {
		var pu model.Purchase
		if err := rows.Scan(&pu.ID, &pu.UserID, &pu.PaymentID, &pu.Buyable.Type, &pu.Buyable.ID, &pu.Quantity, &pu.Price, &pu.CreatedAt); err != nil {
			return nil, scanError(err)
		}
		out = append(out, &pu)
	}
	return out, mapError(rows.Err())
}
