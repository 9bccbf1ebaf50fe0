package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"shop-fulfillment/internal/domain/model"
	"shop-fulfillment/internal/domain/ports/repository"
)

var _ repository.PurchaseItemRepository = (*purchaseItemRepo)(nil)

type purchaseItemRepo struct{ pool *pgxpool.Pool }

func NewPurchaseItemRepo(pool *pgxpool.Pool) *purchaseItemRepo {
	return &purchaseItemRepo{pool: pool}
}

const purchaseItemColumns = `id, payment_id, line, name, unit_price, quantity, variables, buyable_type, buyable_id, expires_at, created_at, updated_at`

// Save inserts a new item. A second insert for the same (payment_id, line)
// fails with domain.ErrAlreadyExists.
func (r *purchaseItemRepo) Save(ctx context.Context, tx repository.Tx, it *model.PurchaseItem) error {
	const q = `
INSERT INTO purchase_items (` + purchaseItemColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12);`

	vars, err := jsonParam(it.Variables, it.Variables == nil)
	if err != nil {
		return err
	}
	_, err = execSQL(ctx, r.pool, tx, q, it.ID, it.PaymentID, it.Line, it.Name, it.UnitPrice, it.Quantity, vars,
		it.Buyable.Type, it.Buyable.ID, it.ExpiresAt, it.CreatedAt, it.UpdatedAt)
	return mapError(err)
}

func (r *purchaseItemRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.PurchaseItem, error) {
	row, err := pickRow(ctx, r.pool, tx, `SELECT `+purchaseItemColumns+` FROM purchase_items WHERE id=$1;`, id)
	if err != nil {
		return nil, err
	}
	return scanPurchaseItem(row)
}

func (r *purchaseItemRepo) ListByPayment(ctx context.Context, tx repository.Tx, paymentID string) ([]*model.PurchaseItem, error) {
	const q = `SELECT ` + purchaseItemColumns + ` FROM purchase_items WHERE payment_id=$1 ORDER BY line ASC;`
	return r.list(ctx, tx, q, paymentID)
}

func (r *purchaseItemRepo) ListActiveByUser(ctx context.Context, tx repository.Tx, userID string, now time.Time) ([]*model.PurchaseItem, error) {
	const q = `
SELECT i.id, i.payment_id, i.line, i.name, i.unit_price, i.quantity, i.variables, i.buyable_type, i.buyable_id, i.expires_at, i.created_at, i.updated_at
  FROM purchase_items i
  JOIN payments p ON p.id = i.payment_id
 WHERE p.user_id = $1
   AND (i.expires_at IS NULL OR i.expires_at > $2)
 ORDER BY i.created_at DESC, i.line ASC;`
	return r.list(ctx, tx, q, userID, now)
}

func (r *purchaseItemRepo) ListExpired(ctx context.Context, tx repository.Tx, before time.Time, limit int) ([]*model.PurchaseItem, error) {
	if limit <= 0 {
		limit = 100
	}
	const q = `SELECT ` + purchaseItemColumns + ` FROM purchase_items
 WHERE expires_at IS NOT NULL AND expires_at <= $1
 ORDER BY expires_at ASC LIMIT $2;`
	return r.list(ctx, tx, q, before, limit)
}

// LockExpired skips rows another sweeper holds, so concurrent sweeps never
// revoke the same item twice.
func (r *purchaseItemRepo) LockExpired(ctx context.Context, tx repository.Tx, id string, now time.Time) (*model.PurchaseItem, error) {
	q := `SELECT ` + purchaseItemColumns + ` FROM purchase_items
 WHERE id=$1 AND expires_at IS NOT NULL AND expires_at <= $2`
	if isTx(tx) {
		q += " FOR UPDATE SKIP LOCKED"
	}
	row, err := pickRow(ctx, r.pool, tx, q+";", id, now)
	if err != nil {
		return nil, err
	}
	return scanPurchaseItem(row)
}

func (r *purchaseItemRepo) LockForRevoke(ctx context.Context, tx repository.Tx, id string) (*model.PurchaseItem, error) {
	q := `SELECT ` + purchaseItemColumns + ` FROM purchase_items WHERE id=$1`
	if isTx(tx) {
		q += " FOR UPDATE"
	}
	row, err := pickRow(ctx, r.pool, tx, q+";", id)
	if err != nil {
		return nil, err
	}
	return scanPurchaseItem(row)
}

func (r *purchaseItemRepo) ClearExpiry(ctx context.Context, tx repository.Tx, id string) error {
	cmd, err := execSQL(ctx, r.pool, tx, `UPDATE purchase_items SET expires_at=NULL, updated_at=NOW() WHERE id=$1;`, id)
	if err != nil {
		return mapError(err)
	}
	if cmd.RowsAffected() == 0 {
		return mapError(pgx.ErrNoRows)
	}
	return nil
}

func (r *purchaseItemRepo) list(ctx context.Context, tx repository.Tx, q string, args ...interface{}) ([]*model.PurchaseItem, error) {
	rows, err := queryRows(ctx, r.pool, tx, q, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []*model.PurchaseItem
	for rows.Next() {
		it, err := scanPurchaseItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, mapError(rows.Err())
}

func scanPurchaseItem(row pgx.Row) (*model.PurchaseItem, error) {
	it := &model.PurchaseItem{}
	var vars []byte
	if err := row.Scan(&it.ID, &it.PaymentID, &it.Line, &it.Name, &it.UnitPrice, &it.Quantity, &vars,
		&it.Buyable.Type, &it.Buyable.ID, &it.ExpiresAt, &it.CreatedAt, &it.UpdatedAt); err != nil {
		return nil, scanError(err)
	}
	if err := decodeJSON(vars, &it.Variables); err != nil {
		return nil, err
	}
	return it, nil
}
