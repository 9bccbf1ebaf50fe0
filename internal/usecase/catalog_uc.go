package usecase

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"shop-fulfillment/internal/domain"
	"shop-fulfillment/internal/domain/model"
	"shop-fulfillment/internal/domain/ports/adapter"
	"shop-fulfillment/internal/domain/ports/repository"
	"shop-fulfillment/internal/infra/logging"
)

// Compile-time check
var _ CatalogUseCase = (*catalogUC)(nil)

// CartLineRequest is one requested cart line, addressed by buyable reference.
type CartLineRequest struct {
	Buyable   string            `json:"buyable"` // "package:vip"
	Quantity  int               `json:"quantity"`
	Variables map[string]string `json:"variables,omitempty"`
}

// CatalogUseCase owns the buyables and turns stored references back into them.
type CatalogUseCase interface {
	repository.BuyableResolver

	ListPackages(ctx context.Context) ([]*model.Package, error)
	ListOffers(ctx context.Context) ([]*model.Offer, error)
	SavePackage(ctx context.Context, p *model.Package) error
	SaveOffer(ctx context.Context, o *model.Offer) error
	// BuildCart resolves requested lines into a priced cart. Unknown or
	// disabled buyables are rejected.
	BuildCart(ctx context.Context, userID, currency string, lines []CartLineRequest) (*model.Cart, error)
}

type catalogUC struct {
	packages   repository.PackageRepository
	offers     repository.OfferRepository
	balances   repository.BalanceRepository
	dispatcher adapter.CommandDispatcher
	log        *zerolog.Logger
}

func NewCatalogUseCase(
	packages repository.PackageRepository,
	offers repository.OfferRepository,
	balances repository.BalanceRepository,
	dispatcher adapter.CommandDispatcher,
	logger *zerolog.Logger,
) *catalogUC {
	return &catalogUC{
		packages:   packages,
		offers:     offers,
		balances:   balances,
		dispatcher: dispatcher,
		log:        logger,
	}
}

// Resolve maps a reference to a live buyable. Deleted records give nil, nil.
func (u *catalogUC) Resolve(ctx context.Context, ref model.BuyableRef) (model.Buyable, error) {
	switch ref.Type {
	case model.BuyablePackage:
		p, err := u.packages.FindByID(ctx, repository.NoTX, ref.ID)
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return &packageBuyable{pkg: p, dispatcher: u.dispatcher}, nil
	case model.BuyableOffer:
		o, err := u.offers.FindByID(ctx, repository.NoTX, ref.ID)
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return &offerBuyable{offer: o, balances: u.balances}, nil
	default:
		return nil, nil
	}
}

func (u *catalogUC) ListPackages(ctx context.Context) ([]*model.Package, error) {
	defer logging.TraceDuration(u.log, "CatalogUC.ListPackages")()
	return u.packages.ListAll(ctx, repository.NoTX)
}

func (u *catalogUC) ListOffers(ctx context.Context) ([]*model.Offer, error) {
	return u.offers.ListAll(ctx, repository.NoTX)
}

func (u *catalogUC) SavePackage(ctx context.Context, p *model.Package) error {
	if p == nil || p.ID == "" || p.Name == "" {
		return &domain.ValidationError{Field: "package", Reason: "id and name are required"}
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	return u.packages.Save(ctx, repository.NoTX, p)
}

func (u *catalogUC) SaveOffer(ctx context.Context, o *model.Offer) error {
	if o == nil || o.ID == "" || o.Money <= 0 {
		return &domain.ValidationError{Field: "offer", Reason: "id and positive money are required"}
	}
	return u.offers.Save(ctx, repository.NoTX, o)
}

func (u *catalogUC) BuildCart(ctx context.Context, userID, currency string, lines []CartLineRequest) (*model.Cart, error) {
	if len(lines) == 0 {
		return nil, &domain.ValidationError{Field: "lines", Reason: "cart is empty"}
	}
	cart := model.NewCart(userID, currency)
	for i, l := range lines {
		ref, err := model.ParseBuyableRef(l.Buyable)
		if err != nil {
			return nil, err
		}
		b, err := u.Resolve(ctx, ref)
		if err != nil {
			return nil, err
		}
		if b == nil || !isEnabled(b) {
			return nil, &domain.ValidationError{Field: fmt.Sprintf("lines[%d].buyable", i), Reason: ref.String() + " is not available"}
		}
		if err := cart.Add(b, l.Quantity, l.Variables); err != nil {
			return nil, err
		}
	}
	return cart, nil
}

func isEnabled(b model.Buyable) bool {
	switch v := b.(type) {
	case *packageBuyable:
		return v.pkg.Enabled
	case *offerBuyable:
		return v.offer.Enabled
	}
	return true
}

// -----------------------------
// Buyables
// -----------------------------

var (
	_ model.Buyable = (*packageBuyable)(nil)
	_ model.Expirer = (*packageBuyable)(nil)
	_ model.Buyable = (*offerBuyable)(nil)
)

// packageBuyable delivers by dispatching its rendered commands. Expire
// commands run on revocation.
type packageBuyable struct {
	pkg        *model.Package
	dispatcher adapter.CommandDispatcher
}

func (b *packageBuyable) Ref() model.BuyableRef {
	return model.BuyableRef{Type: model.BuyablePackage, ID: b.pkg.ID}
}
func (b *packageBuyable) Name() string { return b.pkg.Name }
func (b *packageBuyable) Price() int64 { return b.pkg.Price }
func (b *packageBuyable) BillingPeriod() *model.Period { return b.pkg.BillingPeriod }

func (b *packageBuyable) Deliver(ctx context.Context, item *model.PurchaseItem, renewal bool) error {
	return b.dispatch(ctx, adapter.CommandDeliver, b.pkg.Commands, item, renewal, "")
}

func (b *packageBuyable) Expire(ctx context.Context, item *model.PurchaseItem, trigger string) error {
	return b.dispatch(ctx, adapter.CommandExpire, b.pkg.ExpireCommands, item, false, trigger)
}

func (b *packageBuyable) dispatch(ctx context.Context, kind adapter.CommandKind, commands []string, item *model.PurchaseItem, renewal bool, trigger string) error {
	vars := commandVariables(item, trigger)
	var userID string
	if item.Payment != nil {
		userID = item.Payment.UserID
	}
	for i, c := range commands {
		cmd := adapter.DeliveryCommand{
			Kind:      kind,
			ItemID:    item.ID,
			PaymentID: item.PaymentID,
			UserID:    userID,
			Buyable:   b.Ref().String(),
			Command:   model.ReplaceTokens(c, vars),
			Renewal:   renewal,
			Trigger:   trigger,
			IssuedAt:  time.Now().UTC(),
		}
		if err := b.dispatcher.Dispatch(ctx, cmd); err != nil {
			return fmt.Errorf("%s command %d of %s: %w", kind, i+1, b.pkg.ID, err)
		}
	}
	return nil
}

// commandVariables merges the item's own variables with the built-in ones.
// Built-ins win so {user} cannot be overridden from the cart.
func commandVariables(item *model.PurchaseItem, trigger string) map[string]string {
	vars := make(map[string]string, len(item.Variables)+5)
	for k, v := range item.Variables {
		vars[k] = v
	}
	if item.Payment != nil {
		vars["user"] = item.Payment.UserID
	}
	vars["quantity"] = strconv.Itoa(item.Quantity)
	vars["price"] = strconv.FormatInt(item.UnitPrice, 10)
	vars["item_id"] = item.ID
	if trigger != "" {
		vars["trigger"] = trigger
	}
	return vars
}

// offerBuyable credits site money. It has no expire capability.
type offerBuyable struct {
	offer    *model.Offer
	balances repository.BalanceRepository
}

func (b *offerBuyable) Ref() model.BuyableRef {
	return model.BuyableRef{Type: model.BuyableOffer, ID: b.offer.ID}
}
func (b *offerBuyable) Name() string { return b.offer.Name }
func (b *offerBuyable) Price() int64 { return b.offer.Price }
func (b *offerBuyable) BillingPeriod() *model.Period { return nil }

func (b *offerBuyable) Deliver(ctx context.Context, item *model.PurchaseItem, _ bool) error {
	if item.Payment == nil || item.Payment.UserID == "" {
		return fmt.Errorf("offer %s: %w: item has no buyer", b.offer.ID, domain.ErrInvalidArgument)
	}
	return b.balances.Credit(ctx, repository.NoTX, item.Payment.UserID, b.offer.Money*int64(item.Quantity))
}
