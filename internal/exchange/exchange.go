// Package exchange defines the venue client contract required by the trading
// engine, plus the mock implementation used for dry-run and tests. The real
// CLOB adapter satisfies the same interface and lives outside this module.
package exchange

import (
	"context"
	"time"

	"github.com/coachpo/polytrade/internal/schema"
)

// PlaceResult is the venue's response to an order placement.
type PlaceResult struct {
	Success      bool    `json:"success"`
	OrderID      string  `json:"order_id,omitempty"`
	FilledSize   float64 `json:"filled_size,omitempty"`
	AvgFillPrice float64 `json:"avg_fill_price,omitempty"`
	Error        string  `json:"error,omitempty"`
}

// OpenOrder is one entry of the venue's open-order listing.
type OpenOrder struct {
	OrderID string      `json:"order_id"`
	TokenID string      `json:"token_id"`
	Side    schema.Side `json:"side"`
	Price   float64     `json:"price"`
	Size    float64     `json:"size"`
}

// Client is the bidirectional venue interface: order-book reads, order
// placement and cancellation, and open-order listing.
type Client interface {
	GetOrderBook(ctx context.Context, tokenID string) (*schema.OrderBook, error)
	PlaceOrder(ctx context.Context, req schema.OrderRequest) (PlaceResult, error)
	CancelOrder(ctx context.Context, orderID string) (bool, error)
	CancelAllOrders(ctx context.Context) (bool, error)
	GetOpenOrders(ctx context.Context, market string) ([]OpenOrder, error)
}

// Clock abstracts time for deterministic tests.
type Clock func() time.Time
