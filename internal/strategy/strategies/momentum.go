package strategies

import (
	"context"
	"log"
	"sync"

	"github.com/coachpo/polytrade/internal/schema"
	"github.com/coachpo/polytrade/internal/strategy"
)

// Momentum trades in the direction of the mid-price trend over a rolling
// per-token window.
type Momentum struct {
	*strategy.Base

	LookbackPeriod int     // window length in observations
	Threshold      float64 // minimum absolute return to trigger
	OrderSize      float64

	mu      sync.Mutex
	history map[string][]float64
}

// NewMomentum constructs the strategy with workable defaults.
func NewMomentum(logger *log.Logger) *Momentum {
	return &Momentum{
		Base:           strategy.NewBase("momentum", logger),
		LookbackPeriod: 20,
		Threshold:      0.02,
		OrderSize:      10,
		history:        make(map[string][]float64),
	}
}

// Evaluate records the latest mid price and returns at most one signal in
// the trend direction.
func (s *Momentum) Evaluate(_ context.Context, tokenID string, book *schema.OrderBook) []schema.TradeSignal {
	if !s.Enabled() || book == nil {
		return nil
	}

	mid := book.MidPrice()
	if mid <= 0 {
		return nil
	}

	s.mu.Lock()
	window := append(s.history[tokenID], mid)
	if len(window) > s.LookbackPeriod {
		window = window[len(window)-s.LookbackPeriod:]
	}
	s.history[tokenID] = window
	full := len(window) >= s.LookbackPeriod
	first := window[0]
	s.mu.Unlock()

	if !full || first == 0 {
		return nil
	}

	ret := (mid - first) / first
	if ret >= s.Threshold {
		ask, ok := book.BestAsk()
		if !ok {
			return nil
		}
		return []schema.TradeSignal{{
			TokenID:     tokenID,
			Side:        schema.SideBuy,
			Confidence:  s.confidence(ret),
			TargetPrice: ask.Price,
			Size:        s.OrderSize,
			Reason:      "Momentum: upward trend",
		}}
	}
	if ret <= -s.Threshold {
		bid, ok := book.BestBid()
		if !ok {
			return nil
		}
		return []schema.TradeSignal{{
			TokenID:     tokenID,
			Side:        schema.SideSell,
			Confidence:  s.confidence(ret),
			TargetPrice: bid.Price,
			Size:        s.OrderSize,
			Reason:      "Momentum: downward trend",
		}}
	}
	return nil
}

func (s *Momentum) confidence(ret float64) float64 {
	if ret < 0 {
		ret = -ret
	}
	confidence := 0.5 + ret/(2*s.Threshold)*0.25
	if confidence > 0.9 {
		confidence = 0.9
	}
	return confidence
}

var _ strategy.Strategy = (*Momentum)(nil)
