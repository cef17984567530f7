package strategies

import (
	"context"
	"fmt"
	"log"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coachpo/polytrade/internal/schema"
	"github.com/coachpo/polytrade/internal/strategy"
)

// BregmanArbConfig tunes the arbitrage detector.
type BregmanArbConfig struct {
	// FeeRate is applied to the summed ask cost of a basket.
	FeeRate float64
	// MinEdge is the minimum net edge for the simple-arbitrage basket.
	MinEdge float64
	// DivergenceThreshold is the minimum KL divergence from the uniform
	// prior for the Bregman projection trade.
	DivergenceThreshold float64
	// BaseSize is the nominal order size before liquidity and capacity caps.
	BaseSize float64
	// MaxPositionSize caps the signed per-token position the strategy grows.
	MaxPositionSize float64
	// MaxStaleness rejects sibling books older than this.
	MaxStaleness time.Duration
	// StatsInterval spaces the periodic counter log lines.
	StatsInterval time.Duration
}

// DefaultBregmanArbConfig returns the production defaults.
func DefaultBregmanArbConfig() BregmanArbConfig {
	return BregmanArbConfig{
		FeeRate:             0.02,
		MinEdge:             0.02,
		DivergenceThreshold: 0.05,
		BaseSize:            10,
		MaxPositionSize:     100,
		MaxStaleness:        5 * time.Second,
		StatsInterval:       time.Minute,
	}
}

// BregmanArbCounters is the observability counter block.
type BregmanArbCounters struct {
	Evaluations        int64 `json:"evaluations"`
	SkippedNoGroup     int64 `json:"skipped_no_group"`
	SkippedMissingBook int64 `json:"skipped_missing_book"`
	SkippedStaleBook   int64 `json:"skipped_stale_book"`
	SimpleArbSignals   int64 `json:"simple_arb_signals"`
	BregmanArbSignals  int64 `json:"bregman_arb_signals"`
	NoArbFound         int64 `json:"no_arb_found"`
}

// BregmanArb detects two families of mispricing across the outcome tokens of
// one market group: a fee-adjusted sum of asks below the guaranteed payout
// (simple arbitrage), and an implied-probability distribution diverging from
// the uniform prior by more than the configured Kullback-Leibler threshold
// (Bregman projection). The two checks are mutually exclusive within one
// evaluation; simple arbitrage short-circuits.
type BregmanArb struct {
	*strategy.Base

	cfg      BregmanArbConfig
	services strategy.Services
	now      func() time.Time

	mu     sync.RWMutex
	groups []schema.MarketGroup
	index  map[string]schema.MarketGroup

	evaluations        atomic.Int64
	skippedNoGroup     atomic.Int64
	skippedMissingBook atomic.Int64
	skippedStaleBook   atomic.Int64
	simpleArbSignals   atomic.Int64
	bregmanArbSignals  atomic.Int64
	noArbFound         atomic.Int64

	statsStop chan struct{}
}

// NewBregmanArb constructs the arbitrage strategy.
func NewBregmanArb(cfg BregmanArbConfig, services strategy.Services, logger *log.Logger) *BregmanArb {
	return &BregmanArb{
		Base:     strategy.NewBase("bregman-arb", logger),
		cfg:      cfg,
		services: services,
		now:      time.Now,
		index:    make(map[string]schema.MarketGroup),
	}
}

// WithClock overrides the staleness clock, primarily for testing.
func (s *BregmanArb) WithClock(now func() time.Time) *BregmanArb {
	if now != nil {
		s.now = now
	}
	return s
}

// Initialize starts the periodic stats logger.
func (s *BregmanArb) Initialize(context.Context) error {
	if s.cfg.StatsInterval <= 0 {
		return nil
	}
	s.statsStop = make(chan struct{})
	go func() {
		ticker := time.NewTicker(s.cfg.StatsInterval)
		defer ticker.Stop()
		for {
			select {
			case <-s.statsStop:
				return
			case <-ticker.C:
				s.logStats()
			}
		}
	}()
	return nil
}

// Shutdown stops the stats logger.
func (s *BregmanArb) Shutdown(context.Context) error {
	if s.statsStop != nil {
		close(s.statsStop)
		s.statsStop = nil
	}
	return nil
}

// UpdateMarketGroups atomically replaces the group list and rebuilds the
// token reverse index.
func (s *BregmanArb) UpdateMarketGroups(groups []schema.MarketGroup) {
	index := make(map[string]schema.MarketGroup, len(groups)*2)
	for _, group := range groups {
		for _, token := range group.TokenIDs {
			index[token] = group
		}
	}

	s.mu.Lock()
	s.groups = append([]schema.MarketGroup(nil), groups...)
	s.index = index
	s.mu.Unlock()

	s.Logger().Printf("market groups updated: %d groups, %d tokens indexed", len(groups), len(index))
}

// Groups returns the current group list.
func (s *BregmanArb) Groups() []schema.MarketGroup {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]schema.MarketGroup(nil), s.groups...)
}

// Counters returns a snapshot of the observability counters.
func (s *BregmanArb) Counters() BregmanArbCounters {
	return BregmanArbCounters{
		Evaluations:        s.evaluations.Load(),
		SkippedNoGroup:     s.skippedNoGroup.Load(),
		SkippedMissingBook: s.skippedMissingBook.Load(),
		SkippedStaleBook:   s.skippedStaleBook.Load(),
		SimpleArbSignals:   s.simpleArbSignals.Load(),
		BregmanArbSignals:  s.bregmanArbSignals.Load(),
		NoArbFound:         s.noArbFound.Load(),
	}
}

// Evaluate runs the arbitrage detection for the trigger token's group.
func (s *BregmanArb) Evaluate(ctx context.Context, tokenID string, book *schema.OrderBook) []schema.TradeSignal {
	if !s.Enabled() || book == nil {
		return nil
	}
	s.evaluations.Add(1)

	s.mu.RLock()
	group, ok := s.index[tokenID]
	s.mu.RUnlock()
	if !ok {
		s.skippedNoGroup.Add(1)
		return nil
	}

	books, ok := s.gatherBooks(group, tokenID, book)
	if !ok {
		return nil
	}

	if signals := s.checkSimpleArb(ctx, group, books); signals != nil {
		return signals
	}
	return s.checkBregmanArb(ctx, group, books)
}

// gatherBooks collects one snapshot per group token: the trigger book plus
// cached siblings, all within the staleness bound.
func (s *BregmanArb) gatherBooks(group schema.MarketGroup, triggerToken string, triggerBook *schema.OrderBook) (map[string]*schema.OrderBook, bool) {
	books := make(map[string]*schema.OrderBook, len(group.TokenIDs))
	for _, token := range group.TokenIDs {
		if token == triggerToken {
			books[token] = triggerBook
			continue
		}
		sibling, ok := s.services.OrderBook(token)
		if !ok {
			s.skippedMissingBook.Add(1)
			return nil, false
		}
		books[token] = sibling
	}

	now := s.now()
	for _, b := range books {
		if b.Age(now) > s.cfg.MaxStaleness {
			s.skippedStaleBook.Add(1)
			return nil, false
		}
	}
	return books, true
}

// checkSimpleArb returns basket signals when the fee-adjusted cost of buying
// every outcome undercuts the guaranteed payout of 1. A non-nil return
// short-circuits the Bregman check, even when sizing collapsed to nothing.
func (s *BregmanArb) checkSimpleArb(ctx context.Context, group schema.MarketGroup, books map[string]*schema.OrderBook) []schema.TradeSignal {
	askSum := 0.0
	minAskSize := math.MaxFloat64
	asks := make(map[string]schema.PriceLevel, len(group.TokenIDs))
	for _, token := range group.TokenIDs {
		ask, ok := books[token].BestAsk()
		if !ok {
			return nil
		}
		asks[token] = ask
		askSum += ask.Price
		if ask.Size < minAskSize {
			minAskSize = ask.Size
		}
	}

	cost := askSum * (1 + s.cfg.FeeRate)
	edge := 1 - cost
	if edge < s.cfg.MinEdge {
		return nil
	}

	size := math.Min(s.cfg.BaseSize, minAskSize)
	for _, token := range group.TokenIDs {
		capacity := s.cfg.MaxPositionSize - s.services.PositionSize(ctx, token)
		size = math.Min(size, capacity)
	}
	if size <= 0 {
		return []schema.TradeSignal{}
	}

	confidence := math.Min(edge/s.cfg.MinEdge, 1)
	signals := make([]schema.TradeSignal, 0, len(group.TokenIDs))
	for _, token := range group.TokenIDs {
		signals = append(signals, schema.TradeSignal{
			TokenID:     token,
			Side:        schema.SideBuy,
			Confidence:  confidence,
			TargetPrice: asks[token].Price,
			Size:        size,
			Reason:      fmt.Sprintf("Simple arb: basket cost %.4f, edge %.4f", cost, edge),
		})
	}
	s.simpleArbSignals.Add(int64(len(signals)))
	s.Logger().Printf("simple arb on %s: edge=%.4f size=%.2f outcomes=%d",
		group.ConditionID, edge, size, len(signals))
	return signals
}

// checkBregmanArb projects the observed implied-probability distribution
// against the uniform prior and buys the most underpriced outcome when the
// divergence clears the threshold.
func (s *BregmanArb) checkBregmanArb(ctx context.Context, group schema.MarketGroup, books map[string]*schema.OrderBook) []schema.TradeSignal {
	n := len(group.TokenIDs)
	mids := make([]float64, n)
	midSum := 0.0
	for i, token := range group.TokenIDs {
		mids[i] = books[token].MidPrice()
		midSum += mids[i]
	}
	if midSum == 0 {
		return nil
	}

	u := 1 / float64(n)
	divergence := 0.0
	minQ := math.MaxFloat64
	minIdx := -1
	for i, mid := range mids {
		q := mid / midSum
		if q <= 0 {
			return nil
		}
		divergence += u * math.Log(u/q)
		if q < minQ {
			minQ = q
			minIdx = i
		}
	}

	if divergence < s.cfg.DivergenceThreshold {
		s.noArbFound.Add(1)
		return nil
	}

	target := group.TokenIDs[minIdx]
	ask, ok := books[target].BestAsk()
	if !ok {
		// An empty ask side offers no liquidity to take.
		return nil
	}

	size := s.cfg.BaseSize * math.Min(divergence/s.cfg.DivergenceThreshold, 2)
	size = math.Min(size, ask.Size)
	size = math.Min(size, s.cfg.MaxPositionSize-s.services.PositionSize(ctx, target))
	if size <= 0 {
		return nil
	}

	s.bregmanArbSignals.Add(1)
	s.Logger().Printf("bregman arb on %s: divergence=%.4f target=%s size=%.2f",
		group.ConditionID, divergence, target, size)

	return []schema.TradeSignal{{
		TokenID:     target,
		Side:        schema.SideBuy,
		Confidence:  math.Min(divergence/(2*s.cfg.DivergenceThreshold), 1),
		TargetPrice: ask.Price,
		Size:        size,
		Reason:      fmt.Sprintf("Bregman arb: KL divergence %.4f, underpriced outcome %s", divergence, target),
	}}
}

func (s *BregmanArb) logStats() {
	c := s.Counters()
	s.Logger().Printf("stats: evaluations=%d no_group=%d missing_book=%d stale_book=%d simple=%d bregman=%d no_arb=%d",
		c.Evaluations, c.SkippedNoGroup, c.SkippedMissingBook, c.SkippedStaleBook,
		c.SimpleArbSignals, c.BregmanArbSignals, c.NoArbFound)
}

var _ strategy.Strategy = (*BregmanArb)(nil)
