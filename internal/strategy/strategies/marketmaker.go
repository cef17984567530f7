// Package strategies contains the concrete trading strategies: market maker,
// momentum, mean reversion, and the multi-outcome arbitrage strategy.
package strategies

import (
	"context"
	"log"

	"github.com/coachpo/polytrade/internal/schema"
	"github.com/coachpo/polytrade/internal/strategy"
)

// MarketMaker quotes inside wide spreads: when the spread exceeds the
// configured minimum it bids just above the best bid, earning the spread as
// resting liquidity.
type MarketMaker struct {
	*strategy.Base

	MinSpread   float64 // minimum spread to quote into
	Improvement float64 // price improvement over the best bid
	OrderSize   float64
}

// NewMarketMaker constructs the strategy with workable defaults.
func NewMarketMaker(logger *log.Logger) *MarketMaker {
	return &MarketMaker{
		Base:        strategy.NewBase("market-maker", logger),
		MinSpread:   0.04,
		Improvement: 0.01,
		OrderSize:   10,
	}
}

// Evaluate returns at most one BUY quote per call.
func (s *MarketMaker) Evaluate(_ context.Context, tokenID string, book *schema.OrderBook) []schema.TradeSignal {
	if !s.Enabled() || book == nil {
		return nil
	}

	bid, okBid := book.BestBid()
	_, okAsk := book.BestAsk()
	if !okBid || !okAsk {
		return nil
	}

	spread := book.Spread()
	if spread < s.MinSpread {
		return nil
	}

	price := bid.Price + s.Improvement
	if price <= 0 || price >= 1 {
		return nil
	}

	confidence := 0.5 + spread
	if confidence > 0.9 {
		confidence = 0.9
	}

	return []schema.TradeSignal{{
		TokenID:     tokenID,
		Side:        schema.SideBuy,
		Confidence:  confidence,
		TargetPrice: price,
		Size:        s.OrderSize,
		Reason:      "Market making: quoting inside wide spread",
	}}
}

var _ strategy.Strategy = (*MarketMaker)(nil)
