package adapter

import (
	"context"
	"time"
)

type CommandKind string

const (
	CommandDeliver CommandKind = "deliver"
	CommandExpire  CommandKind = "expire"
)

// DeliveryCommand is one rendered command for the game/server side.
type DeliveryCommand struct {
	Kind      CommandKind `json:"kind"`
	ItemID    string      `json:"item_id"`
	PaymentID string      `json:"payment_id"`
	UserID    string      `json:"user_id"`
	Buyable   string      `json:"buyable"`
	Command   string      `json:"command"`
	Renewal   bool        `json:"renewal,omitempty"`
	Trigger   string      `json:"trigger,omitempty"`
	IssuedAt  time.Time   `json:"issued_at"`
}

// CommandDispatcher ships delivery commands to whatever executes them.
type CommandDispatcher interface {
	Dispatch(ctx context.Context, cmd DeliveryCommand) error
}
