package exchange

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/coachpo/polytrade/errs"
	"github.com/coachpo/polytrade/internal/schema"
)

// MockClient is an in-memory venue used for dry-run operation and tests.
// Books are seeded by the caller; placements rest as open orders and fill
// only when SetFillRatio configures immediate matching.
type MockClient struct {
	clock Clock

	mu        sync.RWMutex
	books     map[string]*schema.OrderBook
	open      map[string]OpenOrder
	fillRatio float64
	failNext  error
}

// NewMockClient constructs an empty mock venue.
func NewMockClient() *MockClient {
	return &MockClient{
		clock: time.Now,
		books: make(map[string]*schema.OrderBook),
		open:  make(map[string]OpenOrder),
	}
}

// WithClock overrides the mock's clock, primarily for staleness tests.
func (m *MockClient) WithClock(clock Clock) *MockClient {
	if clock != nil {
		m.clock = clock
	}
	return m
}

// SetOrderBook seeds the book returned for the token. The snapshot timestamp
// is stamped with the mock clock when unset.
func (m *MockClient) SetOrderBook(book *schema.OrderBook) {
	if book == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if book.Timestamp.IsZero() {
		book.Timestamp = m.clock()
	}
	m.books[book.TokenID] = book
}

// SetFillRatio configures the fraction of each placement filled immediately,
// in [0,1]. Zero (the default) leaves placements resting.
func (m *MockClient) SetFillRatio(ratio float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fillRatio = ratio
}

// FailNext makes the next venue call return err once.
func (m *MockClient) FailNext(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext = err
}

func (m *MockClient) takeFailure() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	err := m.failNext
	m.failNext = nil
	return err
}

// GetOrderBook returns the seeded snapshot for the token.
func (m *MockClient) GetOrderBook(_ context.Context, tokenID string) (*schema.OrderBook, error) {
	if err := m.takeFailure(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	book, ok := m.books[tokenID]
	if !ok {
		return nil, errs.New("exchange/mock", errs.CodeNotFound,
			errs.WithMessage("no book for token"), errs.WithDetail("token", tokenID))
	}
	return book.Clone(), nil
}

// PlaceOrder accepts the request, registers an open order, and fills the
// configured ratio immediately.
func (m *MockClient) PlaceOrder(_ context.Context, req schema.OrderRequest) (PlaceResult, error) {
	if err := m.takeFailure(); err != nil {
		return PlaceResult{}, err
	}
	if err := req.Validate(); err != nil {
		return PlaceResult{Success: false, Error: err.Error()}, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	orderID := fmt.Sprintf("mock-%s", uuid.NewString())
	filled := req.Size * m.fillRatio
	if filled < req.Size {
		m.open[orderID] = OpenOrder{
			OrderID: orderID,
			TokenID: req.TokenID,
			Side:    req.Side,
			Price:   req.Price,
			Size:    req.Size - filled,
		}
	}

	result := PlaceResult{Success: true, OrderID: orderID}
	if filled > 0 {
		result.FilledSize = filled
		result.AvgFillPrice = req.Price
	}
	return result, nil
}

// CancelOrder removes the order from the open set.
func (m *MockClient) CancelOrder(_ context.Context, orderID string) (bool, error) {
	if err := m.takeFailure(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.open[orderID]; !ok {
		return false, nil
	}
	delete(m.open, orderID)
	return true, nil
}

// CancelAllOrders clears the open set.
func (m *MockClient) CancelAllOrders(_ context.Context) (bool, error) {
	if err := m.takeFailure(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.open = make(map[string]OpenOrder)
	return true, nil
}

// GetOpenOrders lists resting orders, optionally filtered by token.
func (m *MockClient) GetOpenOrders(_ context.Context, market string) ([]OpenOrder, error) {
	if err := m.takeFailure(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]OpenOrder, 0, len(m.open))
	for _, o := range m.open {
		if market != "" && o.TokenID != market {
			continue
		}
		out = append(out, o)
	}
	return out, nil
}

var _ Client = (*MockClient)(nil)
