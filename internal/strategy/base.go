package strategy

import (
	"context"
	"log"
	"math"
	"os"
	"sync"
	"sync/atomic"
)

// Metrics is the per-strategy performance snapshot.
type Metrics struct {
	TotalTrades   int64   `json:"total_trades"`
	WinningTrades int64   `json:"winning_trades"`
	LosingTrades  int64   `json:"losing_trades"`
	TotalPnL      float64 `json:"total_pnl"`
	SharpeRatio   float64 `json:"sharpe_ratio"`
	MaxDrawdown   float64 `json:"max_drawdown"`
}

// Base provides naming, the enable flag, and metrics bookkeeping. Concrete
// strategies embed Base and override Evaluate.
type Base struct {
	name    string
	logger  *log.Logger
	enabled atomic.Bool

	mu        sync.Mutex
	metrics   Metrics
	pnlSeries []float64
	peakPnL   float64
}

// NewBase constructs the substrate for a named strategy, enabled by default.
func NewBase(name string, logger *log.Logger) *Base {
	if logger == nil {
		logger = log.New(os.Stdout, name+" ", log.LstdFlags)
	}
	b := &Base{name: name, logger: logger}
	b.enabled.Store(true)
	return b
}

// Name returns the strategy name.
func (b *Base) Name() string { return b.name }

// Logger returns the strategy logger.
func (b *Base) Logger() *log.Logger { return b.logger }

// Enabled reports whether the strategy evaluates.
func (b *Base) Enabled() bool { return b.enabled.Load() }

// SetEnabled toggles evaluation.
func (b *Base) SetEnabled(enabled bool) { b.enabled.Store(enabled) }

// Initialize is a no-op default.
func (b *Base) Initialize(context.Context) error { return nil }

// Shutdown is a no-op default.
func (b *Base) Shutdown(context.Context) error { return nil }

// OnOrderFilled default counts the trade.
func (b *Base) OnOrderFilled(_, _ string, _, _ float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.metrics.TotalTrades++
}

// Metrics returns a snapshot of the strategy metrics.
func (b *Base) Metrics() Metrics {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.metrics
}

// RecordPnL folds one trade's realized PnL into the metrics. Sharpe is the
// sample mean over the sample standard deviation of the per-trade series;
// max drawdown tracks the largest decline from the running peak.
func (b *Base) RecordPnL(pnl float64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch {
	case pnl > 0:
		b.metrics.WinningTrades++
	case pnl < 0:
		b.metrics.LosingTrades++
	}

	b.metrics.TotalPnL += pnl
	b.pnlSeries = append(b.pnlSeries, pnl)
	b.metrics.SharpeRatio = sharpe(b.pnlSeries)

	if b.metrics.TotalPnL > b.peakPnL {
		b.peakPnL = b.metrics.TotalPnL
	}
	if drawdown := b.peakPnL - b.metrics.TotalPnL; drawdown > b.metrics.MaxDrawdown {
		b.metrics.MaxDrawdown = drawdown
	}
}

func sharpe(series []float64) float64 {
	if len(series) < 2 {
		return 0
	}
	var sum float64
	for _, v := range series {
		sum += v
	}
	mean := sum / float64(len(series))

	var variance float64
	for _, v := range series {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(len(series) - 1)
	if variance == 0 {
		return 0
	}
	return mean / math.Sqrt(variance)
}
