// Package risk implements the pre-trade admission gate: notional and
// exposure limits, open-order caps, and the daily-loss halt latch.
package risk

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/coachpo/polytrade/errs"
	"github.com/coachpo/polytrade/internal/bus"
	"github.com/coachpo/polytrade/internal/schema"
	"github.com/coachpo/polytrade/internal/store"
)

// Limits defines the risk parameters enforced by the manager. All bounds are
// positive; MaxDailyLoss bounds the magnitude of negative daily PnL.
type Limits struct {
	// MaxPositionSize caps the notional value (price times size) of a single
	// order. The name is historical; the comparison is against notional.
	MaxPositionSize decimal.Decimal `yaml:"maxPositionSize"`

	// MaxTotalExposure caps aggregate exposure across positions and live orders.
	MaxTotalExposure decimal.Decimal `yaml:"maxTotalExposure"`

	// MaxLossPerTrade is carried with the limits and reported in status
	// snapshots; CheckOrder does not consult it.
	MaxLossPerTrade decimal.Decimal `yaml:"maxLossPerTrade"`

	// MaxDailyLoss halts all trading when the day's PnL (the store's sell
	// notional minus buy notional for the UTC day) falls below its negation.
	MaxDailyLoss decimal.Decimal `yaml:"maxDailyLoss"`

	// MaxOpenOrders caps the number of live (pending or open) orders.
	MaxOpenOrders int `yaml:"maxOpenOrders"`

	// OrderThrottle is the maximum rate of admissions per second; zero
	// disables throttling.
	OrderThrottle float64 `yaml:"orderThrottle"`
}

// DefaultLimits returns the baseline limits used when no overrides are set.
func DefaultLimits() Limits {
	return Limits{
		MaxPositionSize:  decimal.NewFromInt(100),
		MaxTotalExposure: decimal.NewFromInt(1000),
		MaxLossPerTrade:  decimal.NewFromInt(50),
		MaxDailyLoss:     decimal.NewFromInt(200),
		MaxOpenOrders:    10,
		OrderThrottle:    0,
	}
}

// Exposure is the per-token and aggregate exposure snapshot.
type Exposure struct {
	PerToken map[string]decimal.Decimal `json:"per_token"`
	Total    decimal.Decimal            `json:"total"`
}

// Manager enforces the admission sequence and owns the halt latch.
type Manager struct {
	limits  Limits
	store   store.Store
	bus     *bus.Bus
	logger  *log.Logger
	limiter *rate.Limiter
	now     func() time.Time

	mu         sync.RWMutex
	halted     bool
	haltReason string
}

// NewManager creates a risk manager with the given limits.
func NewManager(limits Limits, st store.Store, b *bus.Bus, logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.New(os.Stdout, "risk ", log.LstdFlags)
	}
	m := &Manager{
		limits: limits,
		store:  st,
		bus:    b,
		logger: logger,
		now:    time.Now,
	}
	if limits.OrderThrottle > 0 {
		m.limiter = rate.NewLimiter(rate.Limit(limits.OrderThrottle), 1)
	}
	return m
}

// WithClock overrides the manager's clock, primarily for testing.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	if now != nil {
		m.now = now
	}
	return m
}

// Limits returns the configured limits.
func (m *Manager) Limits() Limits {
	return m.limits
}

// CheckOrder evaluates an order request against the configured risk limits.
// A nil return admits the order.
func (m *Manager) CheckOrder(ctx context.Context, req schema.OrderRequest) error {
	if m.limiter != nil {
		if err := m.limiter.Wait(ctx); err != nil {
			return errs.New("risk", errs.CodeRiskRejected, errs.WithMessage("order throttle exceeded"), errs.WithCause(err))
		}
	}

	if halted, reason := m.haltState(); halted {
		return errs.New("risk", errs.CodeHalted,
			errs.WithMessage("trading halted"), errs.WithDetail("reason", reason))
	}

	notional := decimal.NewFromFloat(req.Price).Mul(decimal.NewFromFloat(req.Size))
	if notional.GreaterThan(m.limits.MaxPositionSize) {
		return errs.New("risk", errs.CodeRiskRejected,
			errs.WithMessage(fmt.Sprintf("order notional %s exceeds max position size %s",
				notional, m.limits.MaxPositionSize)))
	}

	exposure, err := m.ComputeExposure(ctx)
	if err != nil {
		return errs.New("risk", errs.CodeUnavailable, errs.WithMessage("compute exposure"), errs.WithCause(err))
	}
	if exposure.Total.Add(notional).GreaterThan(m.limits.MaxTotalExposure) {
		return errs.New("risk", errs.CodeRiskRejected,
			errs.WithMessage(fmt.Sprintf("exposure %s plus order %s exceeds max total exposure %s",
				exposure.Total, notional, m.limits.MaxTotalExposure)))
	}

	open, err := m.store.GetOpenOrders(ctx)
	if err != nil {
		return errs.New("risk", errs.CodeUnavailable, errs.WithMessage("count open orders"), errs.WithCause(err))
	}
	if len(open) >= m.limits.MaxOpenOrders {
		return errs.New("risk", errs.CodeRiskRejected,
			errs.WithMessage(fmt.Sprintf("open order count %d at limit %d", len(open), m.limits.MaxOpenOrders)))
	}

	dailyPnL, err := m.store.GetDailyPnL(ctx, m.now())
	if err != nil {
		return errs.New("risk", errs.CodeUnavailable, errs.WithMessage("daily pnl"), errs.WithCause(err))
	}
	if decimal.NewFromFloat(dailyPnL).LessThan(m.limits.MaxDailyLoss.Neg()) {
		reason := fmt.Sprintf("daily loss %.2f breaches limit %s", dailyPnL, m.limits.MaxDailyLoss)
		m.Halt(reason)
		return errs.New("risk", errs.CodeHalted, errs.WithMessage(reason))
	}

	return nil
}

// ComputeExposure sums |position size times current price| over all stored
// positions plus notional over live open orders, per token and in aggregate.
func (m *Manager) ComputeExposure(ctx context.Context) (Exposure, error) {
	exposure := Exposure{
		PerToken: make(map[string]decimal.Decimal),
		Total:    decimal.Zero,
	}

	positions, err := m.store.GetAllActivePositions(ctx)
	if err != nil {
		return Exposure{}, err
	}
	for _, pos := range positions {
		value := decimal.NewFromFloat(pos.Size).Mul(decimal.NewFromFloat(pos.CurrentPrice)).Abs()
		exposure.PerToken[pos.TokenID] = exposure.PerToken[pos.TokenID].Add(value)
		exposure.Total = exposure.Total.Add(value)
	}

	open, err := m.store.GetOpenOrders(ctx)
	if err != nil {
		return Exposure{}, err
	}
	for _, order := range open {
		value := decimal.NewFromFloat(order.Price).Mul(decimal.NewFromFloat(order.Size))
		exposure.PerToken[order.TokenID] = exposure.PerToken[order.TokenID].Add(value)
		exposure.Total = exposure.Total.Add(value)
	}

	return exposure, nil
}

// Halt latches the halt flag and emits risk_breach. Halting an already
// halted manager keeps the original reason and does not re-emit.
func (m *Manager) Halt(reason string) {
	m.mu.Lock()
	if m.halted {
		m.mu.Unlock()
		return
	}
	m.halted = true
	m.haltReason = reason
	m.mu.Unlock()

	m.logger.Printf("HALT: %s", reason)
	m.bus.Emit(schema.EventTypeRiskBreach, schema.RiskBreachPayload{
		Reason:   reason,
		HaltedAt: m.now().UTC(),
	})
}

// Resume clears the halt latch. Admission resumes on the next CheckOrder.
func (m *Manager) Resume() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.halted {
		return
	}
	m.halted = false
	m.haltReason = ""
	m.logger.Print("resumed")
}

// IsHalted reports the halt latch.
func (m *Manager) IsHalted() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.halted
}

// HaltReason returns the latched reason, empty when running.
func (m *Manager) HaltReason() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.haltReason
}

func (m *Manager) haltState() (bool, string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.halted, m.haltReason
}
