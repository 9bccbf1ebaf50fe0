package postgres

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"shop-fulfillment/internal/domain"
	"shop-fulfillment/internal/domain/model"
	"shop-fulfillment/internal/domain/ports/repository"
)

// -----------------------------
// Packages
// -----------------------------

var _ repository.PackageRepository = (*packageRepo)(nil)

type packageRepo struct{ pool *pgxpool.Pool }

func NewPackageRepo(pool *pgxpool.Pool) *packageRepo { return &packageRepo{pool: pool} }

const packageColumns = `id, name, price, billing_period, commands, expire_commands, enabled, created_at`

func (r *packageRepo) Save(ctx context.Context, tx repository.Tx, p *model.Package) error {
	const q = `
INSERT INTO packages (` + packageColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (id) DO UPDATE SET
  name=$2, price=$3, billing_period=$4, commands=$5, expire_commands=$6, enabled=$7;`

	var period interface{}
	if p.BillingPeriod != nil && !p.BillingPeriod.IsZero() {
		period = p.BillingPeriod.String()
	}
	cmds, err := jsonParam(nonNil(p.Commands), false)
	if err != nil {
		return err
	}
	expCmds, err := jsonParam(nonNil(p.ExpireCommands), false)
	if err != nil {
		return err
	}
	_, err = execSQL(ctx, r.pool, tx, q, p.ID, p.Name, p.Price, period, cmds, expCmds, p.Enabled, p.CreatedAt)
	return mapError(err)
}

func (r *packageRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Package, error) {
	row, err := pickRow(ctx, r.pool, tx, `SELECT `+packageColumns+` FROM packages WHERE id=$1;`, id)
	if err != nil {
		return nil, err
	}
	return scanPackage(row)
}

func (r *packageRepo) ListAll(ctx context.Context, tx repository.Tx) ([]*model.Package, error) {
	rows, err := queryRows(ctx, r.pool, tx, `SELECT `+packageColumns+` FROM packages ORDER BY price ASC, name ASC;`)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()
	var out []*model.Package
	for rows.Next() {
		p, err := scanPackage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, mapError(rows.Err())
}

func (r *packageRepo) Delete(ctx context.Context, tx repository.Tx, id string) error {
	cmd, err := execSQL(ctx, r.pool, tx, `DELETE FROM packages WHERE id=$1;`, id)
	if err != nil {
		return mapError(err)
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func scanPackage(row pgx.Row) (*model.Package, error) {
	p := &model.Package{}
	var period *string
	var cmds, expCmds []byte
	if err := row.Scan(&p.ID, &p.Name, &p.Price, &period, &cmds, &expCmds, &p.Enabled, &p.CreatedAt); err != nil {
		return nil, scanError(err)
	}
	if period != nil {
		bp, err := model.ParsePeriod(*period)
		if err != nil {
			return nil, err
		}
		p.BillingPeriod = bp
	}
	if err := decodeJSON(cmds, &p.Commands); err != nil {
		return nil, err
	}
	if err := decodeJSON(expCmds, &p.ExpireCommands); err != nil {
		return nil, err
	}
	return p, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// -----------------------------
// Offers
// -----------------------------

var _ repository.OfferRepository = (*offerRepo)(nil)

type offerRepo struct{ pool *pgxpool.Pool }

func NewOfferRepo(pool *pgxpool.Pool) *offerRepo { return &offerRepo{pool: pool} }

func (r *offerRepo) Save(ctx context.Context, tx repository.Tx, o *model.Offer) error {
	const q = `
INSERT INTO offers (id, name, price, money, enabled) VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (id) DO UPDATE SET name=$2, price=$3, money=$4, enabled=$5;`
	_, err := execSQL(ctx, r.pool, tx, q, o.ID, o.Name, o.Price, o.Money, o.Enabled)
	return mapError(err)
}

func (r *offerRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Offer, error) {
	row, err := pickRow(ctx, r.pool, tx, `SELECT id, name, price, money, enabled FROM offers WHERE id=$1;`, id)
	if err != nil {
		return nil, err
	}
	o := &model.Offer{}
	if err := row.Scan(&o.ID, &o.Name, &o.Price, &o.Money, &o.Enabled); err != nil {
		return nil, scanError(err)
	}
	return o, nil
}

func (r *offerRepo) ListAll(ctx context.Context, tx repository.Tx) ([]*model.Offer, error) {
	rows, err := queryRows(ctx, r.pool, tx, `SELECT id, name, price, money, enabled FROM offers ORDER BY price ASC;`)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()
	var out []*model.Offer
	for rows.Next() {
		o := &model.Offer{}
		if err := rows.Scan(&o.ID, &o.Name, &o.Price, &o.Money, &o.Enabled); err != nil {
			return nil, scanError(err)
		}
		out = append(out, o)
	}
	return out, mapError(rows.Err())
}

// -----------------------------
// Gateways
// -----------------------------

var _ repository.GatewayRepository = (*gatewayRepo)(nil)

type gatewayRepo struct{ pool *pgxpool.Pool }

func NewGatewayRepo(pool *pgxpool.Pool) *gatewayRepo { return &gatewayRepo{pool: pool} }

const gatewayColumns = `id, name, type, data, fees, enabled`

func (r *gatewayRepo) Save(ctx context.Context, tx repository.Tx, g *model.Gateway) error {
	const q = `
INSERT INTO gateways (` + gatewayColumns + `) VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (id) DO UPDATE SET name=$2, type=$3, data=$4, fees=$5, enabled=$6;`
	data := g.Data
	if data == nil {
		data = map[string]string{}
	}
	raw, err := jsonParam(data, false)
	if err != nil {
		return err
	}
	_, err = execSQL(ctx, r.pool, tx, q, g.ID, g.Name, strings.ToLower(g.Type), raw, g.Fees, g.Enabled)
	return mapError(err)
}

func (r *gatewayRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Gateway, error) {
	row, err := pickRow(ctx, r.pool, tx, `SELECT `+gatewayColumns+` FROM gateways WHERE id=$1;`, id)
	if err != nil {
		return nil, err
	}
	return scanGateway(row)
}

// FindEnabledByType returns the first enabled gateway configured for a method.
func (r *gatewayRepo) FindEnabledByType(ctx context.Context, tx repository.Tx, methodID string) (*model.Gateway, error) {
	row, err := pickRow(ctx, r.pool, tx,
		`SELECT `+gatewayColumns+` FROM gateways WHERE type=$1 AND enabled ORDER BY id LIMIT 1;`, strings.ToLower(methodID))
	if err != nil {
		return nil, err
	}
	return scanGateway(row)
}

func (r *gatewayRepo) ListEnabled(ctx context.Context, tx repository.Tx) ([]*model.Gateway, error) {
	rows, err := queryRows(ctx, r.pool, tx, `SELECT `+gatewayColumns+` FROM gateways WHERE enabled ORDER BY id;`)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()
	var out []*model.Gateway
	for rows.Next() {
		g, err := scanGateway(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, mapError(rows.Err())
}

func scanGateway(row pgx.Row) (*model.Gateway, error) {
	g := &model.Gateway{}
	var data []byte
	if err := row.Scan(&g.ID, &g.Name, &g.Type, &data, &g.Fees, &g.Enabled); err != nil {
		return nil, scanError(err)
	}
	if err := decodeJSON(data, &g.Data); err != nil {
		return nil, err
	}
	return g, nil
}

// -----------------------------
// Balances
// -----------------------------

var _ repository.BalanceRepository = (*balanceRepo)(nil)

type balanceRepo struct{ pool *pgxpool.Pool }

func NewBalanceRepo(pool *pgxpool.Pool) *balanceRepo { return &balanceRepo{pool: pool} }

// Get returns 0 for users without a wallet row.
func (r *balanceRepo) Get(ctx context.Context, tx repository.Tx, userID string) (int64, error) {
	row, err := pickRow(ctx, r.pool, tx, `SELECT COALESCE((SELECT balance FROM user_balances WHERE user_id=$1), 0);`, userID)
	if err != nil {
		return 0, err
	}
	var bal int64
	if err := row.Scan(&bal); err != nil {
		return 0, scanError(err)
	}
	return bal, nil
}

func (r *balanceRepo) Credit(ctx context.Context, tx repository.Tx, userID string, amount int64) error {
	if amount <= 0 {
		return &domain.ValidationError{Field: "amount", Reason: "must be positive"}
	}
	const q = `
INSERT INTO user_balances (user_id, balance, updated_at) VALUES ($1, $2, NOW())
ON CONFLICT (user_id) DO UPDATE SET balance = user_balances.balance + EXCLUDED.balance, updated_at = NOW();`
	_, err := execSQL(ctx, r.pool, tx, q, userID, amount)
	return mapError(err)
}

// Debit fails with domain.ErrInsufficientFunds rather than go below zero.
func (r *balanceRepo) Debit(ctx context.Context, tx repository.Tx, userID string, amount int64) error {
	if amount < 0 {
		return &domain.ValidationError{Field: "amount", Reason: "must not be negative"}
	}
	if amount == 0 {
		return nil
	}
	const q = `UPDATE user_balances SET balance = balance - $2, updated_at = NOW() WHERE user_id=$1 AND balance >= $2;`
	cmd, err := execSQL(ctx, r.pool, tx, q, userID, amount)
	if err != nil {
		return mapError(err)
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrInsufficientFunds
	}
	return nil
}
