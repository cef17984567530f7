// Package engine wires the trading components together and drives strategy
// evaluation on every order-book update. The engine is the single owning
// container: strategies and services borrow references from it and never own
// the engine back.
package engine

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"

	"github.com/coachpo/polytrade/internal/bus"
	"github.com/coachpo/polytrade/internal/marketdata"
	"github.com/coachpo/polytrade/internal/orders"
	"github.com/coachpo/polytrade/internal/risk"
	"github.com/coachpo/polytrade/internal/schema"
	"github.com/coachpo/polytrade/internal/store"
	"github.com/coachpo/polytrade/internal/strategy"
	"github.com/coachpo/polytrade/internal/telemetry"
)

// GroupConsumer is implemented by strategies that track market groups.
type GroupConsumer interface {
	UpdateMarketGroups(groups []schema.MarketGroup)
}

// Engine orchestrates market data, strategies, risk and order flow.
type Engine struct {
	bus        *bus.Bus
	marketData *marketdata.Service
	orders     *orders.Manager
	risk       *risk.Manager
	store      store.Store
	logger     *log.Logger
	metrics    *telemetry.EngineMetrics

	mu         sync.RWMutex
	strategies []strategy.Strategy
	running    bool

	subs []bus.SubscriptionID
}

// Config carries the engine's dependencies.
type Config struct {
	Bus        *bus.Bus
	MarketData *marketdata.Service
	Orders     *orders.Manager
	Risk       *risk.Manager
	Store      store.Store
	Logger     *log.Logger
	Metrics    *telemetry.EngineMetrics
}

// New constructs the engine and installs its bus subscriptions.
func New(cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stdout, "engine ", log.LstdFlags)
	}
	e := &Engine{
		bus:        cfg.Bus,
		marketData: cfg.MarketData,
		orders:     cfg.Orders,
		risk:       cfg.Risk,
		store:      cfg.Store,
		logger:     logger,
		metrics:    cfg.Metrics,
	}

	e.subs = append(e.subs,
		e.bus.On(schema.EventTypeOrderBookUpdate, e.onOrderBookUpdate),
		e.bus.On(schema.EventTypeOrderFilled, e.onOrderFilled),
		e.bus.On(schema.EventTypeRiskBreach, e.onRiskBreach),
		e.bus.On(schema.EventTypeMarketGroupsUpdated, e.onMarketGroupsUpdated),
	)
	return e
}

// RegisterStrategy adds a strategy to the evaluation set.
func (e *Engine) RegisterStrategy(s strategy.Strategy) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.strategies = append(e.strategies, s)
	e.logger.Printf("strategy registered: %s", s.Name())
}

// UnregisterStrategy removes the named strategy and shuts it down.
func (e *Engine) UnregisterStrategy(ctx context.Context, name string) {
	e.mu.Lock()
	var removed strategy.Strategy
	for i, s := range e.strategies {
		if s.Name() == name {
			removed = s
			e.strategies = append(e.strategies[:i:i], e.strategies[i+1:]...)
			break
		}
	}
	e.mu.Unlock()

	if removed == nil {
		return
	}
	if err := removed.Shutdown(ctx); err != nil {
		e.logger.Printf("shutdown %s: %v", name, err)
	}
	e.logger.Printf("strategy unregistered: %s", name)
}

// Strategies returns a snapshot of the registered strategies.
func (e *Engine) Strategies() []strategy.Strategy {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]strategy.Strategy(nil), e.strategies...)
}

// SetTokens replaces the market data subscription set.
func (e *Engine) SetTokens(tokens ...string) {
	current := e.marketData.Subscriptions()
	e.marketData.Unsubscribe(current...)
	e.marketData.Subscribe(tokens...)
}

// AddTokens unions tokens into the subscription set; duplicates are no-ops.
func (e *Engine) AddTokens(tokens ...string) {
	e.marketData.Subscribe(tokens...)
}

// Start initializes strategies, starts the market data poller, reconciles
// open orders against the venue, and marks the engine running.
func (e *Engine) Start(ctx context.Context) error {
	for _, s := range e.Strategies() {
		if err := s.Initialize(ctx); err != nil {
			return fmt.Errorf("initialize %s: %w", s.Name(), err)
		}
	}

	e.marketData.Start(ctx)

	if err := e.orders.SyncOrders(ctx); err != nil {
		e.logger.Printf("startup reconciliation: %v", err)
	}

	e.mu.Lock()
	e.running = true
	e.mu.Unlock()
	e.logger.Print("engine running")
	return nil
}

// Stop clears the running flag, cancels open orders, stops market data, and
// shuts down every strategy.
func (e *Engine) Stop(ctx context.Context) {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	e.mu.Unlock()

	if _, err := e.orders.CancelAllOrders(ctx); err != nil {
		e.logger.Printf("cancel all on stop: %v", err)
	}
	e.marketData.Stop()

	for _, s := range e.Strategies() {
		if err := s.Shutdown(ctx); err != nil {
			e.logger.Printf("shutdown %s: %v", s.Name(), err)
		}
	}
	e.logger.Print("engine stopped")
}

// IsRunning reports the running flag.
func (e *Engine) IsRunning() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}

func (e *Engine) onOrderBookUpdate(evt schema.Event) {
	if !e.IsRunning() || e.risk.IsHalted() {
		return
	}
	book, ok := evt.Data.(*schema.OrderBook)
	if !ok || book == nil {
		return
	}

	ctx := context.Background()
	var collected []schema.TradeSignal
	for _, s := range e.Strategies() {
		if !s.Enabled() {
			continue
		}
		signals := e.evaluateSafely(ctx, s, book)
		if e.metrics != nil {
			e.metrics.Evaluations.Add(ctx, 1)
		}
		for _, sig := range signals {
			e.bus.Emit(schema.EventTypeStrategySignal, schema.SignalPayload{Strategy: s.Name(), Signal: sig})
			if sig.Actionable() {
				collected = append(collected, sig)
			}
		}
	}

	for _, sig := range collected {
		if e.metrics != nil {
			e.metrics.SignalsCollected.Add(ctx, 1)
		}
		e.execute(ctx, sig)
	}
}

// evaluateSafely isolates a panicking strategy from the rest of the set.
func (e *Engine) evaluateSafely(ctx context.Context, s strategy.Strategy, book *schema.OrderBook) (signals []schema.TradeSignal) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Printf("strategy %s panicked during evaluate: %v", s.Name(), r)
			signals = nil
		}
	}()
	return s.Evaluate(ctx, book.TokenID, book)
}

func (e *Engine) execute(ctx context.Context, sig schema.TradeSignal) {
	req := schema.OrderRequest{
		TokenID: sig.TokenID,
		Side:    sig.Side,
		Price:   sig.TargetPrice,
		Size:    sig.Size,
		Type:    schema.OrderTypeGTC,
	}
	res, err := e.orders.SubmitOrder(ctx, req)
	if err != nil {
		e.logger.Printf("submit %s %s: %v", sig.Side, sig.TokenID, err)
		return
	}
	if !res.Success {
		if e.metrics != nil {
			e.metrics.OrdersRejected.Add(ctx, 1)
		}
		e.logger.Printf("signal not executed (%s): %s", sig.TokenID, res.Error)
		return
	}
	if e.metrics != nil {
		e.metrics.OrdersSubmitted.Add(ctx, 1)
	}
	e.logger.Printf("executed %s %s %.4f x %.2f (%s): %s",
		sig.Side, sig.TokenID, sig.TargetPrice, sig.Size, res.OrderID, sig.Reason)
}

func (e *Engine) onOrderFilled(evt schema.Event) {
	payload, ok := evt.Data.(schema.OrderFilledPayload)
	if !ok {
		return
	}
	size := payload.FilledSize
	if size == 0 {
		size = payload.Size
	}
	for _, s := range e.Strategies() {
		s.OnOrderFilled(payload.OrderID, payload.TokenID, payload.AvgFillPrice, size)
	}
}

func (e *Engine) onRiskBreach(evt schema.Event) {
	if payload, ok := evt.Data.(schema.RiskBreachPayload); ok {
		e.logger.Printf("risk breach: %s", payload.Reason)
	}
	if _, err := e.orders.CancelAllOrders(context.Background()); err != nil {
		e.logger.Printf("cancel all on breach: %v", err)
	}
}

func (e *Engine) onMarketGroupsUpdated(evt schema.Event) {
	groups, ok := evt.Data.([]schema.MarketGroup)
	if !ok {
		return
	}

	var tokens []string
	for _, group := range groups {
		tokens = append(tokens, group.TokenIDs...)
	}
	e.AddTokens(tokens...)

	for _, s := range e.Strategies() {
		if consumer, ok := s.(GroupConsumer); ok {
			consumer.UpdateMarketGroups(groups)
		}
	}
}
