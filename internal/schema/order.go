package schema

import (
	"time"

	"github.com/coachpo/polytrade/errs"
)

// OrderRequest represents an order submission from a strategy or operator.
type OrderRequest struct {
	TokenID    string     `json:"token_id"`
	Side       Side       `json:"side"`
	Price      float64    `json:"price"`
	Size       float64    `json:"size"`
	Type       OrderType  `json:"type"`
	Expiration *time.Time `json:"expiration,omitempty"`
}

// Validate enforces the order invariants: price strictly inside (0,1) and a
// positive size. 0 and 1 are degenerate probabilities and never tradable.
func (r OrderRequest) Validate() error {
	if r.TokenID == "" {
		return errs.New("schema/order", errs.CodeInvalid, errs.WithMessage("token id required"))
	}
	if r.Side != SideBuy && r.Side != SideSell {
		return errs.New("schema/order", errs.CodeInvalid, errs.WithMessage("side must be BUY or SELL"))
	}
	if r.Price <= 0 || r.Price >= 1 {
		return errs.New("schema/order", errs.CodeInvalid, errs.WithMessage("price must be in (0,1)"))
	}
	if r.Size <= 0 {
		return errs.New("schema/order", errs.CodeInvalid, errs.WithMessage("size must be positive"))
	}
	if r.Type == OrderTypeGTD && r.Expiration == nil {
		return errs.New("schema/order", errs.CodeInvalid, errs.WithMessage("GTD order requires expiration"))
	}
	return nil
}

// Notional returns price times size.
func (r OrderRequest) Notional() float64 {
	return r.Price * r.Size
}

// Order is a persisted order record: the originating request plus the venue
// identifier and lifecycle status.
type Order struct {
	OrderID   string      `json:"order_id"`
	TokenID   string      `json:"token_id"`
	Side      Side        `json:"side"`
	Price     float64     `json:"price"`
	Size      float64     `json:"size"`
	Type      OrderType   `json:"type"`
	Status    OrderStatus `json:"status"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// Notional returns price times size.
func (o Order) Notional() float64 {
	return o.Price * o.Size
}
