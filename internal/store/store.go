// Package store defines durable persistence for positions, orders and trades.
// Implementations: PostgreSQL (source of truth for live deployments) and
// in-memory (dry-run and tests).
package store

import (
	"context"
	"time"

	"github.com/coachpo/polytrade/internal/schema"
)

// Store is the persistence interface. All writes are upserts keyed by the
// entity's primary identifier: token id for positions, order id for orders,
// trade id for trades.
type Store interface {
	// SavePosition upserts the position keyed by token id.
	SavePosition(ctx context.Context, pos schema.Position) error

	// GetPosition retrieves the position for the token; errs.CodeNotFound when absent.
	GetPosition(ctx context.Context, tokenID string) (schema.Position, error)

	// GetAllActivePositions returns positions with non-zero size.
	GetAllActivePositions(ctx context.Context) ([]schema.Position, error)

	// SaveOrder upserts the order keyed by order id.
	SaveOrder(ctx context.Context, order schema.Order) error

	// UpdateOrderStatus transitions the order's status.
	UpdateOrderStatus(ctx context.Context, orderID string, status schema.OrderStatus) error

	// GetOpenOrders returns orders with a live status (pending or open).
	GetOpenOrders(ctx context.Context) ([]schema.Order, error)

	// SaveTrade upserts the execution record keyed by trade id.
	SaveTrade(ctx context.Context, trade schema.Trade) error

	// GetTrades returns trades newest first, optionally filtered by token.
	// A non-positive limit returns all matching trades.
	GetTrades(ctx context.Context, tokenID string, limit int) ([]schema.Trade, error)

	// GetDailyPnL sums sell notional minus buy notional over trades executed
	// on the given UTC date.
	GetDailyPnL(ctx context.Context, date time.Time) (float64, error)

	// Close releases the store handle.
	Close() error
}

// dayBounds returns the UTC day window containing t.
func dayBounds(t time.Time) (time.Time, time.Time) {
	u := t.UTC()
	start := time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
	return start, start.Add(24 * time.Hour)
}
