package engine

import (
	"context"

	"github.com/coachpo/polytrade/internal/risk"
	"github.com/coachpo/polytrade/internal/schema"
	"github.com/coachpo/polytrade/internal/strategy"
)

// StrategyStatus is one strategy's slice of the status snapshot.
type StrategyStatus struct {
	Name    string           `json:"name"`
	Enabled bool             `json:"enabled"`
	Metrics strategy.Metrics `json:"metrics"`
}

// Status is the engine snapshot served to the observability surface.
type Status struct {
	Running    bool              `json:"running"`
	Halted     bool              `json:"halted"`
	HaltReason string            `json:"halt_reason,omitempty"`
	Strategies []StrategyStatus  `json:"strategies"`
	Positions  []schema.Position `json:"positions"`
	OpenOrders []schema.Order    `json:"open_orders"`
	RiskLimits risk.Limits       `json:"risk_limits"`
	Exposure   risk.Exposure     `json:"exposure"`
}

// Status assembles the current snapshot. Store read failures leave the
// corresponding section empty rather than failing the whole snapshot.
func (e *Engine) Status(ctx context.Context) Status {
	status := Status{
		Running:    e.IsRunning(),
		Halted:     e.risk.IsHalted(),
		HaltReason: e.risk.HaltReason(),
		RiskLimits: e.risk.Limits(),
	}

	for _, s := range e.Strategies() {
		status.Strategies = append(status.Strategies, StrategyStatus{
			Name:    s.Name(),
			Enabled: s.Enabled(),
			Metrics: s.Metrics(),
		})
	}

	if positions, err := e.store.GetAllActivePositions(ctx); err == nil {
		status.Positions = positions
	} else {
		e.logger.Printf("status positions: %v", err)
	}
	if open, err := e.store.GetOpenOrders(ctx); err == nil {
		status.OpenOrders = open
	} else {
		e.logger.Printf("status open orders: %v", err)
	}
	if exposure, err := e.risk.ComputeExposure(ctx); err == nil {
		status.Exposure = exposure
	} else {
		e.logger.Printf("status exposure: %v", err)
	}

	return status
}
