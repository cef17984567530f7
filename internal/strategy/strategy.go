// Package strategy defines the pluggable strategy contract and the shared
// bookkeeping substrate: lifecycle, enable/disable, and per-strategy
// performance metrics.
package strategy

import (
	"context"

	"github.com/coachpo/polytrade/internal/marketdata"
	"github.com/coachpo/polytrade/internal/schema"
	"github.com/coachpo/polytrade/internal/store"
)

// Strategy is a named evaluator with lifecycle initialize -> evaluate* ->
// shutdown. Disabled strategies return no signals.
type Strategy interface {
	Name() string
	Initialize(ctx context.Context) error
	Evaluate(ctx context.Context, tokenID string, book *schema.OrderBook) []schema.TradeSignal
	OnOrderFilled(orderID, tokenID string, price, size float64)
	Metrics() Metrics
	Enabled() bool
	SetEnabled(enabled bool)
	Shutdown(ctx context.Context) error
}

// Services exposes the engine-owned collaborators strategies may consult
// during evaluation. Strategies borrow these references; ownership stays with
// the engine.
type Services struct {
	MarketData *marketdata.Service
	Store      store.Store
}

// OrderBook returns the cached snapshot for a sibling token.
func (s Services) OrderBook(tokenID string) (*schema.OrderBook, bool) {
	if s.MarketData == nil {
		return nil, false
	}
	return s.MarketData.OrderBook(tokenID)
}

// PositionSize returns the current signed position size for the token, zero
// when no position exists.
func (s Services) PositionSize(ctx context.Context, tokenID string) float64 {
	if s.Store == nil {
		return 0
	}
	pos, err := s.Store.GetPosition(ctx, tokenID)
	if err != nil {
		return 0
	}
	return pos.Size
}
