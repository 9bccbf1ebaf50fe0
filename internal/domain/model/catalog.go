package model

import (
	"time"

	"github.com/google/uuid"

	"shop-fulfillment/internal/domain"
)

// Package is a catalog entry delivered by running commands on the game/server
// side. Packages with a billing period are time-limited and run their expire
// commands on revocation.
type Package struct {
	ID             string    `json:"id" yaml:"id"`
	Name           string    `json:"name" yaml:"name"`
	Price          int64     `json:"price" yaml:"price"`
	BillingPeriod  *Period   `json:"billing_period,omitempty" yaml:"billing_period,omitempty"`
	Commands       []string  `json:"commands" yaml:"commands"`
	ExpireCommands []string  `json:"expire_commands,omitempty" yaml:"expire_commands,omitempty"`
	Enabled        bool      `json:"enabled" yaml:"enabled"`
	CreatedAt      time.Time `json:"created_at" yaml:"-"`
}

// NewPackage validates and constructs a package; an empty id is generated.
func NewPackage(id, name string, price int64, period *Period, commands, expireCommands []string) (*Package, error) {
	if name == "" {
		return nil, &domain.ValidationError{Field: "name", Reason: "required"}
	}
	if price < 0 {
		return nil, &domain.ValidationError{Field: "price", Reason: "must not be negative"}
	}
	if id == "" {
		id = uuid.NewString()
	}
	return &Package{
		ID:             id,
		Name:           name,
		Price:          price,
		BillingPeriod:  period,
		Commands:       commands,
		ExpireCommands: expireCommands,
		Enabled:        true,
		CreatedAt:      time.Now(),
	}, nil
}

// Offer credits site money to the buyer. It has no expiry.
type Offer struct {
	ID      string `json:"id" yaml:"id"`
	Name    string `json:"name" yaml:"name"`
	Price   int64  `json:"price" yaml:"price"`
	Money   int64  `json:"money" yaml:"money"`
	Enabled bool   `json:"enabled" yaml:"enabled"`
}

func NewOffer(id, name string, price, money int64) (*Offer, error) {
	if name == "" {
		return nil, &domain.ValidationError{Field: "name", Reason: "required"}
	}
	if price < 0 || money <= 0 {
		return nil, &domain.ValidationError{Field: "money", Reason: "price must not be negative and money must be positive"}
	}
	if id == "" {
		id = uuid.NewString()
	}
	return &Offer{ID: id, Name: name, Price: price, Money: money, Enabled: true}, nil
}

// Gateway is the stored configuration of one payment method instance.
// Data is opaque to the core and handed unchanged to the method factory.
type Gateway struct {
	ID      string            `json:"id" yaml:"id"`
	Name    string            `json:"name" yaml:"name"`
	Type    string            `json:"type" yaml:"type"` // payment method id
	Data    map[string]string `json:"data" yaml:"data"`
	Fees    int               `json:"fees" yaml:"fees"` // percent
	Enabled bool              `json:"enabled" yaml:"enabled"`
}

func (g *Gateway) Get(key string) string {
	if g == nil || g.Data == nil {
		return ""
	}
	return g.Data[key]
}
