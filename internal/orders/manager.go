// Package orders implements the order manager: risk-gated submission,
// cancellation, reconciliation with the venue's open-order set, and the
// position and PnL bookkeeping applied on fills.
package orders

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/coachpo/polytrade/internal/bus"
	"github.com/coachpo/polytrade/internal/exchange"
	"github.com/coachpo/polytrade/internal/risk"
	"github.com/coachpo/polytrade/internal/schema"
	"github.com/coachpo/polytrade/internal/store"
)

// Result is the outcome of a submission attempt.
type Result struct {
	Success      bool    `json:"success"`
	OrderID      string  `json:"order_id,omitempty"`
	FilledSize   float64 `json:"filled_size,omitempty"`
	AvgFillPrice float64 `json:"avg_fill_price,omitempty"`
	Error        string  `json:"error,omitempty"`
}

// Manager submits orders through the risk gate and keeps local order and
// position state in sync with venue responses.
type Manager struct {
	client exchange.Client
	store  store.Store
	risk   *risk.Manager
	bus    *bus.Bus
	logger *log.Logger
	dryRun bool

	dryRunSeq atomic.Int64

	// Serializes position read-modify-write cycles across concurrent fills.
	posMu sync.Mutex
}

// NewManager constructs an order manager.
func NewManager(client exchange.Client, st store.Store, rm *risk.Manager, b *bus.Bus, dryRun bool, logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.New(os.Stdout, "orders ", log.LstdFlags)
	}
	return &Manager{
		client: client,
		store:  st,
		risk:   rm,
		bus:    b,
		logger: logger,
		dryRun: dryRun,
	}
}

// DryRun reports whether submissions are simulated.
func (m *Manager) DryRun() bool { return m.dryRun }

// SubmitOrder offers the request to the risk gate and, when admitted,
// forwards it to the venue. Dry-run mode returns a synthetic success with a
// deterministic identifier and touches nothing external.
func (m *Manager) SubmitOrder(ctx context.Context, req schema.OrderRequest) (Result, error) {
	if err := req.Validate(); err != nil {
		return Result{Success: false, Error: err.Error()}, nil
	}

	if err := m.risk.CheckOrder(ctx, req); err != nil {
		m.logger.Printf("rejected %s %s %.4f x %.2f: %v", req.Side, req.TokenID, req.Price, req.Size, err)
		return Result{Success: false, Error: err.Error()}, nil
	}

	if m.dryRun {
		orderID := fmt.Sprintf("dry-run-%d", m.dryRunSeq.Add(1))
		m.logger.Printf("dry-run %s %s %.4f x %.2f -> %s", req.Side, req.TokenID, req.Price, req.Size, orderID)
		return Result{Success: true, OrderID: orderID}, nil
	}

	placed, err := m.client.PlaceOrder(ctx, req)
	if err != nil {
		m.logger.Printf("place %s %s: %v", req.Side, req.TokenID, err)
		return Result{Success: false, Error: err.Error()}, nil
	}
	if !placed.Success {
		return Result{Success: false, Error: placed.Error}, nil
	}

	now := time.Now().UTC()
	order := schema.Order{
		OrderID:   placed.OrderID,
		TokenID:   req.TokenID,
		Side:      req.Side,
		Price:     req.Price,
		Size:      req.Size,
		Type:      req.Type,
		Status:    schema.OrderStatusOpen,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := m.store.SaveOrder(ctx, order); err != nil {
		m.logger.Printf("persist order %s: %v", placed.OrderID, err)
	}

	fillPrice := placed.AvgFillPrice
	if fillPrice == 0 {
		fillPrice = req.Price
	}

	// Emitted for every accepted placement, matched or resting; consumers
	// must tolerate a zero filled size.
	m.bus.Emit(schema.EventTypeOrderFilled, schema.OrderFilledPayload{
		OrderID:      placed.OrderID,
		TokenID:      req.TokenID,
		Side:         req.Side,
		Price:        req.Price,
		Size:         req.Size,
		FilledSize:   placed.FilledSize,
		AvgFillPrice: fillPrice,
	})

	if placed.FilledSize > 0 {
		m.recordFill(ctx, placed.OrderID, req.TokenID, req.Side, placed.FilledSize, fillPrice)
	}

	return Result{
		Success:      true,
		OrderID:      placed.OrderID,
		FilledSize:   placed.FilledSize,
		AvgFillPrice: placed.AvgFillPrice,
	}, nil
}

// CancelOrder cancels the order on the venue and transitions local state.
// Dry-run is a no-op success.
func (m *Manager) CancelOrder(ctx context.Context, orderID string) (bool, error) {
	if m.dryRun {
		return true, nil
	}

	ok, err := m.client.CancelOrder(ctx, orderID)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}

	if err := m.store.UpdateOrderStatus(ctx, orderID, schema.OrderStatusCancelled); err != nil {
		m.logger.Printf("mark cancelled %s: %v", orderID, err)
	}
	m.bus.Emit(schema.EventTypeOrderCancelled, orderID)
	return true, nil
}

// CancelAllOrders cancels every live order on the venue and transitions
// local state. Dry-run is a no-op success.
func (m *Manager) CancelAllOrders(ctx context.Context) (bool, error) {
	if m.dryRun {
		return true, nil
	}

	ok, err := m.client.CancelAllOrders(ctx)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}

	open, err := m.store.GetOpenOrders(ctx)
	if err != nil {
		m.logger.Printf("list open orders after cancel-all: %v", err)
		return true, nil
	}
	for _, order := range open {
		if err := m.store.UpdateOrderStatus(ctx, order.OrderID, schema.OrderStatusCancelled); err != nil {
			m.logger.Printf("mark cancelled %s: %v", order.OrderID, err)
			continue
		}
		m.bus.Emit(schema.EventTypeOrderCancelled, order.OrderID)
	}
	return true, nil
}

// SyncOrders reconciles local open orders against the venue's open set. Any
// locally-live order absent remotely is marked filled_or_cancelled.
func (m *Manager) SyncOrders(ctx context.Context) error {
	remote, err := m.client.GetOpenOrders(ctx, "")
	if err != nil {
		return fmt.Errorf("fetch remote open orders: %w", err)
	}
	remoteIDs := make(map[string]struct{}, len(remote))
	for _, order := range remote {
		remoteIDs[order.OrderID] = struct{}{}
	}

	local, err := m.store.GetOpenOrders(ctx)
	if err != nil {
		return fmt.Errorf("list local open orders: %w", err)
	}

	reconciled := 0
	for _, order := range local {
		if _, ok := remoteIDs[order.OrderID]; ok {
			continue
		}
		if err := m.store.UpdateOrderStatus(ctx, order.OrderID, schema.OrderStatusFilledOrCancelled); err != nil {
			m.logger.Printf("reconcile %s: %v", order.OrderID, err)
			continue
		}
		reconciled++
	}
	if reconciled > 0 {
		m.logger.Printf("reconciled %d orders no longer open remotely", reconciled)
	}
	return nil
}

func (m *Manager) recordFill(ctx context.Context, orderID, tokenID string, side schema.Side, size, price float64) {
	trade := schema.Trade{
		ID:         uuid.NewString(),
		OrderID:    orderID,
		TokenID:    tokenID,
		Side:       side,
		Price:      price,
		Size:       size,
		ExecutedAt: time.Now().UTC(),
	}
	if err := m.store.SaveTrade(ctx, trade); err != nil {
		m.logger.Printf("persist trade for %s: %v", orderID, err)
	}
	m.bus.Emit(schema.EventTypeTradeExecuted, trade)

	if err := m.ApplyFill(ctx, tokenID, side, size, price); err != nil {
		m.logger.Printf("apply fill for %s: %v", orderID, err)
	}
}

// ApplyFill updates the position for a fill and emits position_changed.
//
// Same-side fills move the average entry by size weighting. Opposite-side
// fills realize PnL on the fill size; a fill crossing through zero keeps the
// full fill size in the realized leg rather than splitting at the crossing.
func (m *Manager) ApplyFill(ctx context.Context, tokenID string, side schema.Side, size, price float64) error {
	m.posMu.Lock()
	defer m.posMu.Unlock()

	signedFill := size * side.Sign()

	pos, err := m.store.GetPosition(ctx, tokenID)
	fresh := err != nil || pos.Size == 0
	if fresh {
		pos = schema.Position{
			TokenID:       tokenID,
			MarketID:      pos.MarketID,
			Size:          signedFill,
			AvgEntryPrice: price,
			Side:          side,
		}
	} else if side == pos.Side {
		newSize := pos.Size + signedFill
		pos.AvgEntryPrice = (abs(pos.Size)*pos.AvgEntryPrice + size*price) / abs(newSize)
		pos.Size = newSize
	} else {
		direction := 1.0
		if pos.Side == schema.SideSell {
			direction = -1
		}
		pos.RealizedPnL += size * (price - pos.AvgEntryPrice) * direction
		pos.Size += signedFill
		if pos.Size >= 0 {
			pos.Side = schema.SideBuy
		} else {
			pos.Side = schema.SideSell
		}
	}

	pos.MarkToMarket(price)
	pos.UpdatedAt = time.Now().UTC()

	if err := m.store.SavePosition(ctx, pos); err != nil {
		return err
	}
	m.bus.Emit(schema.EventTypePositionChanged, pos)
	return nil
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
