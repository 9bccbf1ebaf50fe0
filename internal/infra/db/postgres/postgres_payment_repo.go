package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"shop-fulfillment/internal/domain/model"
	"shop-fulfillment/internal/domain/ports/repository"
)

var _ repository.PaymentRepository = (*paymentRepo)(nil)

type paymentRepo struct{ pool *pgxpool.Pool }

func NewPaymentRepo(pool *pgxpool.Pool) *paymentRepo {
	return &paymentRepo{pool: pool}
}

const paymentColumns = `id, user_id, provider, COALESCE(gateway_id,''), amount, currency, COALESCE(external_id,''), COALESCE(ref_id,''), status, cart, cart_lines, created_at, updated_at, paid_at`

func (r *paymentRepo) Save(ctx context.Context, tx repository.Tx, p *model.Payment) error {
	const q = `
INSERT INTO payments (
  id, user_id, provider, gateway_id, amount, currency, external_id, ref_id, status, cart, cart_lines, created_at, updated_at, paid_at
) VALUES (
  $1,$2,$3,NULLIF($4,''),$5,$6,NULLIF($7,''),NULLIF($8,''),$9,$10,$11,$12,$13,$14
) ON CONFLICT (id) DO UPDATE SET
  user_id=$2, provider=$3, gateway_id=NULLIF($4,''), amount=$5, currency=$6, external_id=NULLIF($7,''), ref_id=NULLIF($8,''),
  status=$9, cart=$10, cart_lines=$11, updated_at=$13, paid_at=$14;`

	cart, err := jsonParam(p.Cart, len(p.Cart) == 0)
	if err != nil {
		return err
	}
	lines, err := jsonParam(p.Lines, len(p.Lines) == 0)
	if err != nil {
		return err
	}
	_, err = execSQL(ctx, r.pool, tx, q, p.ID, p.UserID, p.Provider, p.GatewayID, p.Amount, p.Currency,
		p.ExternalID, p.RefID, string(p.Status), cart, lines, p.CreatedAt, p.UpdatedAt, p.PaidAt)
	return mapError(err)
}

func (r *paymentRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Payment, error) {
	q := `SELECT ` + paymentColumns + ` FROM payments WHERE id=$1`
	if isTx(tx) {
		q += " FOR UPDATE"
	}
	row, err := pickRow(ctx, r.pool, tx, q+";", id)
	if err != nil {
		return nil, err
	}
	return scanPayment(row)
}

func (r *paymentRepo) FindByExternalID(ctx context.Context, tx repository.Tx, provider, externalID string) (*model.Payment, error) {
	q := `SELECT ` + paymentColumns + ` FROM payments WHERE provider=$1 AND external_id=$2`
	if isTx(tx) {
		q += " FOR UPDATE"
	}
	row, err := pickRow(ctx, r.pool, tx, q+";", provider, externalID)
	if err != nil {
		return nil, err
	}
	return scanPayment(row)
}

func (r *paymentRepo) SetExternalID(ctx context.Context, tx repository.Tx, id, externalID string) error {
	const q = `UPDATE payments SET external_id=NULLIF($2,''), updated_at=NOW() WHERE id=$1;`
	cmd, err := execSQL(ctx, r.pool, tx, q, id, externalID)
	if err != nil {
		return mapError(err)
	}
	if cmd.RowsAffected() == 0 {
		return mapError(pgx.ErrNoRows)
	}
	return nil
}

func (r *paymentRepo) UpdateStatus(ctx context.Context, tx repository.Tx, id string, status model.PaymentStatus, refID *string, paidAt *time.Time) error {
	const q = `UPDATE payments SET status=$2, ref_id=COALESCE($3, ref_id), paid_at=COALESCE($4, paid_at), updated_at=NOW() WHERE id=$1;`
	_, err := execSQL(ctx, r.pool, tx, q, id, string(status), refID, paidAt)
	return mapError(err)
}

// UpdateStatusIfPending atomically updates status only when current status is 'pending'.
func (r *paymentRepo) UpdateStatusIfPending(
	ctx context.Context, tx repository.Tx, id string, status model.PaymentStatus, refID *string, paidAt *time.Time,
) (bool, error) {
	query := `
    UPDATE payments
       SET status = $2,
           ref_id = COALESCE($3, ref_id),
           paid_at = COALESCE($4, paid_at),
           updated_at = NOW()
     WHERE id = $1
       AND status = 'pending'`

	cmd, err := execSQL(ctx, r.pool, tx, query, id, string(status), refID, paidAt)
	if err != nil {
		return false, mapError(err)
	}
	return cmd.RowsAffected() >= 1, nil
}

func (r *paymentRepo) ListPendingOlderThan(ctx context.Context, tx repository.Tx, olderThan time.Time, limit int) ([]*model.Payment, error) {
	if limit <= 0 {
		limit = 100
	}
	const q = `SELECT ` + paymentColumns + ` FROM payments WHERE status='pending' AND created_at < $1 ORDER BY created_at ASC LIMIT $2;`
	rows, err := queryRows(ctx, r.pool, tx, q, olderThan, limit)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []*model.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, mapError(rows.Err())
}

func (r *paymentRepo) ListUnfulfilled(ctx context.Context, tx repository.Tx, paidBefore, paidAfter time.Time, limit int) ([]*model.Payment, error) {
	if limit <= 0 {
		limit = 100
	}
	const q = `SELECT ` + paymentColumns + ` FROM payments p
 WHERE p.status = 'succeeded'
   AND p.paid_at < $1 AND p.paid_at >= $2
   AND (SELECT COUNT(*) FROM purchase_items i WHERE i.payment_id = p.id) <
       COALESCE(jsonb_array_length(p.cart_lines), (SELECT COUNT(*) FROM jsonb_object_keys(COALESCE(p.cart, '{}'::jsonb))))
 ORDER BY p.paid_at ASC LIMIT $3;`
	rows, err := queryRows(ctx, r.pool, tx, q, paidBefore, paidAfter, limit)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []*model.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, mapError(rows.Err())
}

func scanPayment(row pgx.Row) (*model.Payment, error) {
	p := &model.Payment{}
	var status string
	var cart, lines []byte
	if err := row.Scan(&p.ID, &p.UserID, &p.Provider, &p.GatewayID, &p.Amount, &p.Currency, &p.ExternalID, &p.RefID,
		&status, &cart, &lines, &p.CreatedAt, &p.UpdatedAt, &p.PaidAt); err != nil {
		return nil, scanError(err)
	}
	p.Status = model.PaymentStatus(status)
	if err := decodeJSON(cart, &p.Cart); err != nil {
		return nil, err
	}
	if err := decodeJSON(lines, &p.Lines); err != nil {
		return nil, err
	}
	return p, nil
}
