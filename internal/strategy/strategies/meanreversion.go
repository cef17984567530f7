package strategies

import (
	"context"
	"log"
	"math"
	"sync"

	"github.com/coachpo/polytrade/internal/schema"
	"github.com/coachpo/polytrade/internal/strategy"
)

// MeanReversion fades large deviations of the mid price from its rolling
// mean, measured in standard deviations.
type MeanReversion struct {
	*strategy.Base

	WindowSize int     // rolling window length in observations
	ZThreshold float64 // minimum |z-score| to trigger
	OrderSize  float64

	mu      sync.Mutex
	history map[string][]float64
}

// NewMeanReversion constructs the strategy with workable defaults.
func NewMeanReversion(logger *log.Logger) *MeanReversion {
	return &MeanReversion{
		Base:       strategy.NewBase("mean-reversion", logger),
		WindowSize: 20,
		ZThreshold: 2,
		OrderSize:  10,
		history:    make(map[string][]float64),
	}
}

// Evaluate records the latest mid price and returns at most one fading
// signal when the z-score threshold is crossed.
func (s *MeanReversion) Evaluate(_ context.Context, tokenID string, book *schema.OrderBook) []schema.TradeSignal {
	if !s.Enabled() || book == nil {
		return nil
	}

	mid := book.MidPrice()
	if mid <= 0 {
		return nil
	}

	s.mu.Lock()
	window := append(s.history[tokenID], mid)
	if len(window) > s.WindowSize {
		window = window[len(window)-s.WindowSize:]
	}
	s.history[tokenID] = window
	snapshot := append([]float64(nil), window...)
	s.mu.Unlock()

	if len(snapshot) < s.WindowSize {
		return nil
	}

	mean, std := meanStd(snapshot)
	if std == 0 {
		return nil
	}

	z := (mid - mean) / std
	confidence := 0.5 + (math.Abs(z)-s.ZThreshold)/s.ZThreshold*0.25
	if confidence > 0.9 {
		confidence = 0.9
	}

	if z >= s.ZThreshold {
		bid, ok := book.BestBid()
		if !ok {
			return nil
		}
		return []schema.TradeSignal{{
			TokenID:     tokenID,
			Side:        schema.SideSell,
			Confidence:  confidence,
			TargetPrice: bid.Price,
			Size:        s.OrderSize,
			Reason:      "Mean reversion: price stretched above mean",
		}}
	}
	if z <= -s.ZThreshold {
		ask, ok := book.BestAsk()
		if !ok {
			return nil
		}
		return []schema.TradeSignal{{
			TokenID:     tokenID,
			Side:        schema.SideBuy,
			Confidence:  confidence,
			TargetPrice: ask.Price,
			Size:        s.OrderSize,
			Reason:      "Mean reversion: price stretched below mean",
		}}
	}
	return nil
}

func meanStd(series []float64) (float64, float64) {
	var sum float64
	for _, v := range series {
		sum += v
	}
	mean := sum / float64(len(series))

	var variance float64
	for _, v := range series {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(len(series))
	return mean, math.Sqrt(variance)
}

var _ strategy.Strategy = (*MeanReversion)(nil)
