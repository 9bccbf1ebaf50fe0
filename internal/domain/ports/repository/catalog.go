package repository

import (
	"context"

	"shop-fulfillment/internal/domain/model"
)

// PackageRepository is the port for package persistence.
type PackageRepository interface {
	Save(ctx context.Context, tx Tx, p *model.Package) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.Package, error)
	ListAll(ctx context.Context, tx Tx) ([]*model.Package, error)
	Delete(ctx context.Context, tx Tx, id string) error
}

type OfferRepository interface {
	Save(ctx context.Context, tx Tx, o *model.Offer) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.Offer, error)
	ListAll(ctx context.Context, tx Tx) ([]*model.Offer, error)
}

type GatewayRepository interface {
	Save(ctx context.Context, tx Tx, g *model.Gateway) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.Gateway, error)
	FindEnabledByType(ctx context.Context, tx Tx, methodID string) (*model.Gateway, error)
	ListEnabled(ctx context.Context, tx Tx) ([]*model.Gateway, error)
}

// BalanceRepository keeps the site money wallet per user.
type BalanceRepository interface {
	Get(ctx context.Context, tx Tx, userID string) (int64, error)
	Credit(ctx context.Context, tx Tx, userID string, amount int64) error
	// Debit returns domain.ErrInsufficientFunds when the balance is too low.
	Debit(ctx context.Context, tx Tx, userID string, amount int64) error
}

// BuyableResolver turns a stored reference back into a live buyable.
// A reference to a deleted record resolves to nil, nil.
type BuyableResolver interface {
	Resolve(ctx context.Context, ref model.BuyableRef) (model.Buyable, error)
}
