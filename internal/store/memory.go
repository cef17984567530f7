package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/coachpo/polytrade/errs"
	"github.com/coachpo/polytrade/internal/schema"
)

// MemoryStore implements Store with mutex-guarded maps. Used for dry-run
// operation and tests; nothing survives a restart.
type MemoryStore struct {
	mu        sync.RWMutex
	positions map[string]schema.Position
	orders    map[string]schema.Order
	trades    []schema.Trade
	tradeIDs  map[string]int
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		positions: make(map[string]schema.Position),
		orders:    make(map[string]schema.Order),
		tradeIDs:  make(map[string]int),
	}
}

func (s *MemoryStore) SavePosition(_ context.Context, pos schema.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions[pos.TokenID] = pos
	return nil
}

func (s *MemoryStore) GetPosition(_ context.Context, tokenID string) (schema.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pos, ok := s.positions[tokenID]
	if !ok {
		return schema.Position{}, errs.New("store/memory", errs.CodeNotFound,
			errs.WithMessage("position not found"), errs.WithDetail("token", tokenID))
	}
	return pos, nil
}

func (s *MemoryStore) GetAllActivePositions(_ context.Context) ([]schema.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]schema.Position, 0, len(s.positions))
	for _, pos := range s.positions {
		if pos.Active() {
			out = append(out, pos)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TokenID < out[j].TokenID })
	return out, nil
}

func (s *MemoryStore) SaveOrder(_ context.Context, order schema.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[order.OrderID] = order
	return nil
}

func (s *MemoryStore) UpdateOrderStatus(_ context.Context, orderID string, status schema.OrderStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[orderID]
	if !ok {
		return errs.New("store/memory", errs.CodeNotFound,
			errs.WithMessage("order not found"), errs.WithDetail("order", orderID))
	}
	order.Status = status
	order.UpdatedAt = time.Now().UTC()
	s.orders[orderID] = order
	return nil
}

func (s *MemoryStore) GetOpenOrders(_ context.Context) ([]schema.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]schema.Order, 0, len(s.orders))
	for _, order := range s.orders {
		if order.Status.IsLive() {
			out = append(out, order)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) SaveTrade(_ context.Context, trade schema.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if idx, ok := s.tradeIDs[trade.ID]; ok {
		s.trades[idx] = trade
		return nil
	}
	s.tradeIDs[trade.ID] = len(s.trades)
	s.trades = append(s.trades, trade)
	return nil
}

func (s *MemoryStore) GetTrades(_ context.Context, tokenID string, limit int) ([]schema.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]schema.Trade, 0, len(s.trades))
	for i := len(s.trades) - 1; i >= 0; i-- {
		t := s.trades[i]
		if tokenID != "" && t.TokenID != tokenID {
			continue
		}
		out = append(out, t)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) GetDailyPnL(_ context.Context, date time.Time) (float64, error) {
	start, end := dayBounds(date)
	s.mu.RLock()
	defer s.mu.RUnlock()
	var pnl float64
	for _, t := range s.trades {
		at := t.ExecutedAt.UTC()
		if at.Before(start) || !at.Before(end) {
			continue
		}
		if t.Side == schema.SideSell {
			pnl += t.Notional()
		} else {
			pnl -= t.Notional()
		}
	}
	return pnl, nil
}

func (s *MemoryStore) Close() error { return nil }

var _ Store = (*MemoryStore)(nil)
