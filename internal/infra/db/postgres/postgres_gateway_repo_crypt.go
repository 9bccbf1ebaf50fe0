package postgres

import (
	"context"

	"shop-fulfillment/internal/domain/model"
	"shop-fulfillment/internal/domain/ports/repository"
	"shop-fulfillment/internal/infra/security"
)

var _ repository.GatewayRepository = (*gatewayRepoCryptDecorator)(nil)

// gatewayRepoCryptDecorator keeps gateway credentials encrypted at rest. The
// method factories only ever see plaintext Data.
type gatewayRepoCryptDecorator struct {
	inner repository.GatewayRepository
	enc   *security.EncryptionService
}

func NewGatewayRepoCryptDecorator(inner repository.GatewayRepository, enc *security.EncryptionService) repository.GatewayRepository {
	return &gatewayRepoCryptDecorator{inner: inner, enc: enc}
}

func (d *gatewayRepoCryptDecorator) Save(ctx context.Context, tx repository.Tx, g *model.Gateway) error {
	sealed, err := d.enc.SealMap(g.Data)
	if err != nil {
		return err
	}
	cp := *g
	cp.Data = sealed
	return d.inner.Save(ctx, tx, &cp)
}

func (d *gatewayRepoCryptDecorator) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Gateway, error) {
	g, err := d.inner.FindByID(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	return d.open(g)
}

func (d *gatewayRepoCryptDecorator) FindEnabledByType(ctx context.Context, tx repository.Tx, methodID string) (*model.Gateway, error) {
	g, err := d.inner.FindEnabledByType(ctx, tx, methodID)
	if err != nil {
		return nil, err
	}
	return d.open(g)
}

func (d *gatewayRepoCryptDecorator) ListEnabled(ctx context.Context, tx repository.Tx) ([]*model.Gateway, error) {
	list, err := d.inner.ListEnabled(ctx, tx)
	if err != nil {
		return nil, err
	}
	for i, g := range list {
		if list[i], err = d.open(g); err != nil {
			return nil, err
		}
	}
	return list, nil
}

func (d *gatewayRepoCryptDecorator) open(g *model.Gateway) (*model.Gateway, error) {
	if g == nil {
		return nil, nil
	}
	data, err := d.enc.OpenMap(g.Data)
	if err != nil {
		return nil, err
	}
	g.Data = data
	return g, nil
}
