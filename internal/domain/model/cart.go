package model

import "shop-fulfillment/internal/domain"

// Cart is a priced selection of buyables ready for checkout.
type Cart struct {
	UserID   string
	Currency string
	Lines    []*CartLine
}

type CartLine struct {
	Buyable   Buyable
	Quantity  int
	Variables map[string]string
	// Line pins the 1-based line number of a restored cart; 0 means by position.
	Line int
}

func NewCart(userID, currency string) *Cart {
	return &Cart{UserID: userID, Currency: currency}
}

// Add appends a line. Quantity must be positive.
func (c *Cart) Add(b Buyable, quantity int, variables map[string]string) error {
	if b == nil {
		return &domain.ValidationError{Field: "buyable", Reason: "required"}
	}
	if quantity < 1 {
		return &domain.ValidationError{Field: "quantity", Reason: "must be at least 1"}
	}
	c.Lines = append(c.Lines, &CartLine{Buyable: b, Quantity: quantity, Variables: variables})
	return nil
}

func (l *CartLine) Total() int64 { return l.Buyable.Price() * int64(l.Quantity) }

func (c *Cart) Total() int64 {
	var sum int64
	for _, l := range c.Lines {
		sum += l.Total()
	}
	return sum
}

func (c *Cart) IsEmpty() bool { return c == nil || len(c.Lines) == 0 }

// Snapshot returns the lines in order for storage on the payment.
func (c *Cart) Snapshot() []PaymentLine {
	if c.IsEmpty() {
		return nil
	}
	out := make([]PaymentLine, 0, len(c.Lines))
	for _, l := range c.Lines {
		out = append(out, PaymentLine{Ref: l.Buyable.Ref().String(), Quantity: l.Quantity, Variables: l.Variables})
	}
	return out
}
