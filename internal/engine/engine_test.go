package engine

import (
	"context"
	"io"
	"log"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coachpo/polytrade/internal/bus"
	"github.com/coachpo/polytrade/internal/exchange"
	"github.com/coachpo/polytrade/internal/marketdata"
	"github.com/coachpo/polytrade/internal/orders"
	"github.com/coachpo/polytrade/internal/risk"
	"github.com/coachpo/polytrade/internal/schema"
	"github.com/coachpo/polytrade/internal/store"
	"github.com/coachpo/polytrade/internal/strategy"
)

// scripted is a controllable strategy for engine tests.
type scripted struct {
	*strategy.Base
	signals []schema.TradeSignal
	panics  bool

	mu        sync.Mutex
	evaluated int
	fills     []string
}

func newScripted(name string, signals ...schema.TradeSignal) *scripted {
	return &scripted{
		Base:    strategy.NewBase(name, log.New(io.Discard, "", 0)),
		signals: signals,
	}
}

func (s *scripted) Evaluate(_ context.Context, _ string, _ *schema.OrderBook) []schema.TradeSignal {
	s.mu.Lock()
	s.evaluated++
	s.mu.Unlock()
	if s.panics {
		panic("scripted failure")
	}
	return s.signals
}

func (s *scripted) OnOrderFilled(orderID, _ string, _, _ float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fills = append(s.fills, orderID)
	s.Base.OnOrderFilled(orderID, "", 0, 0)
}

func (s *scripted) evaluations() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.evaluated
}

type engineFixture struct {
	engine *Engine
	bus    *bus.Bus
	mock   *exchange.MockClient
	store  *store.MemoryStore
	risk   *risk.Manager
	orders *orders.Manager
	md     *marketdata.Service
}

func newEngineFixture(t *testing.T, dryRun bool) *engineFixture {
	t.Helper()
	discard := log.New(io.Discard, "", 0)
	mock := exchange.NewMockClient()
	st := store.NewMemoryStore()
	b := bus.New(discard)
	t.Cleanup(b.Close)

	rm := risk.NewManager(risk.DefaultLimits(), st, b, discard)
	om := orders.NewManager(mock, st, rm, b, dryRun, discard)
	md := marketdata.NewService(mock, b, 50*time.Millisecond, discard)

	e := New(Config{
		Bus:        b,
		MarketData: md,
		Orders:     om,
		Risk:       rm,
		Store:      st,
		Logger:     discard,
	})
	return &engineFixture{engine: e, bus: b, mock: mock, store: st, risk: rm, orders: om, md: md}
}

func testBook(token string) *schema.OrderBook {
	return &schema.OrderBook{
		TokenID:   token,
		Bids:      []schema.PriceLevel{{Price: 0.49, Size: 100}},
		Asks:      []schema.PriceLevel{{Price: 0.51, Size: 100}},
		Timestamp: time.Now(),
	}
}

func signal(token string, confidence float64) schema.TradeSignal {
	return schema.TradeSignal{
		TokenID: token, Side: schema.SideBuy, Confidence: confidence,
		TargetPrice: 0.51, Size: 5, Reason: "test",
	}
}

func (f *engineFixture) startRunning(t *testing.T) {
	t.Helper()
	require.NoError(t, f.engine.Start(context.Background()))
	t.Cleanup(func() { f.engine.Stop(context.Background()) })
}

func TestConfidenceGate(t *testing.T) {
	f := newEngineFixture(t, false)
	f.engine.RegisterStrategy(newScripted("low", signal("t1", 0.5)))
	f.engine.RegisterStrategy(newScripted("high", signal("t2", 0.9)))
	f.startRunning(t)

	f.bus.Emit(schema.EventTypeOrderBookUpdate, testBook("t1"))

	open, err := f.store.GetOpenOrders(context.Background())
	require.NoError(t, err)
	require.Len(t, open, 1, "only the high-confidence signal executes")
	require.Equal(t, "t2", open[0].TokenID)
	require.Equal(t, schema.OrderTypeGTC, open[0].Type)
}

func TestStrategyPanicIsolation(t *testing.T) {
	f := newEngineFixture(t, false)
	bad := newScripted("bad", signal("t1", 0.9))
	bad.panics = true
	good := newScripted("good", signal("t2", 0.9))
	f.engine.RegisterStrategy(bad)
	f.engine.RegisterStrategy(good)
	f.startRunning(t)

	f.bus.Emit(schema.EventTypeOrderBookUpdate, testBook("t1"))

	require.Equal(t, 1, good.evaluations(), "good strategy still evaluated")
	open, err := f.store.GetOpenOrders(context.Background())
	require.NoError(t, err)
	require.Len(t, open, 1)
	require.Equal(t, "t2", open[0].TokenID)
}

func TestHaltShortCircuitsEvaluation(t *testing.T) {
	f := newEngineFixture(t, false)
	s := newScripted("s", signal("t1", 0.9))
	f.engine.RegisterStrategy(s)
	f.startRunning(t)

	f.risk.Halt("test halt")
	f.bus.Emit(schema.EventTypeOrderBookUpdate, testBook("t1"))

	require.Zero(t, s.evaluations(), "halted engine must not evaluate")
}

func TestNotRunningNoEvaluation(t *testing.T) {
	f := newEngineFixture(t, false)
	s := newScripted("s", signal("t1", 0.9))
	f.engine.RegisterStrategy(s)

	f.bus.Emit(schema.EventTypeOrderBookUpdate, testBook("t1"))
	require.Zero(t, s.evaluations())
}

func TestRiskBreachCascade(t *testing.T) {
	f := newEngineFixture(t, false)
	f.startRunning(t)
	ctx := context.Background()

	// Three open orders on the venue and in the store.
	for i := 0; i < 3; i++ {
		res, err := f.orders.SubmitOrder(ctx, schema.OrderRequest{
			TokenID: "t" + strconv.Itoa(i), Side: schema.SideBuy, Price: 0.4, Size: 1,
			Type: schema.OrderTypeGTC,
		})
		require.NoError(t, err)
		require.True(t, res.Success)
	}

	f.bus.Emit(schema.EventTypeRiskBreach, schema.RiskBreachPayload{Reason: "test"})

	open, err := f.store.GetOpenOrders(ctx)
	require.NoError(t, err)
	require.Empty(t, open, "all orders cancelled after breach")

	venueOpen, err := f.mock.GetOpenOrders(ctx, "")
	require.NoError(t, err)
	require.Empty(t, venueOpen)
}

func TestOrderFilledFanout(t *testing.T) {
	f := newEngineFixture(t, false)
	a := newScripted("a")
	b := newScripted("b")
	f.engine.RegisterStrategy(a)
	f.engine.RegisterStrategy(b)
	f.startRunning(t)

	f.bus.Emit(schema.EventTypeOrderFilled, schema.OrderFilledPayload{
		OrderID: "o1", TokenID: "t1", Side: schema.SideBuy, Price: 0.5, Size: 10, FilledSize: 10, AvgFillPrice: 0.5,
	})

	require.Equal(t, []string{"o1"}, a.fills)
	require.Equal(t, []string{"o1"}, b.fills)
	require.EqualValues(t, 1, a.Metrics().TotalTrades)
}

func TestMarketGroupsFanout(t *testing.T) {
	f := newEngineFixture(t, false)
	consumer := &groupTracker{scripted: newScripted("arb")}
	f.engine.RegisterStrategy(consumer)

	groups := []schema.MarketGroup{{ConditionID: "c1", TokenIDs: []string{"a", "b"}}}
	f.bus.Emit(schema.EventTypeMarketGroupsUpdated, groups)

	require.Equal(t, groups, consumer.groups)
	subs := f.md.Subscriptions()
	require.Equal(t, []string{"a", "b"}, subs, "group tokens join the poll set")
}

type groupTracker struct {
	*scripted
	groups []schema.MarketGroup
}

func (g *groupTracker) UpdateMarketGroups(groups []schema.MarketGroup) {
	g.groups = groups
}

func TestAddTokensIdempotent(t *testing.T) {
	f := newEngineFixture(t, false)
	f.engine.AddTokens("t1", "t2")
	f.engine.AddTokens("t1", "t2")
	require.Equal(t, []string{"t1", "t2"}, f.md.Subscriptions())

	f.engine.SetTokens("t3")
	require.Equal(t, []string{"t3"}, f.md.Subscriptions())
}

func TestUnregisterStrategyShutsDown(t *testing.T) {
	f := newEngineFixture(t, false)
	s := newScripted("gone")
	f.engine.RegisterStrategy(s)
	require.Len(t, f.engine.Strategies(), 1)

	f.engine.UnregisterStrategy(context.Background(), "gone")
	require.Empty(t, f.engine.Strategies())
}

func TestStatusSnapshot(t *testing.T) {
	f := newEngineFixture(t, false)
	s := newScripted("s")
	f.engine.RegisterStrategy(s)
	f.startRunning(t)
	ctx := context.Background()

	_ = f.store.SavePosition(ctx, schema.Position{TokenID: "t1", Size: 10, CurrentPrice: 0.5, Side: schema.SideBuy})
	res, err := f.orders.SubmitOrder(ctx, schema.OrderRequest{
		TokenID: "t1", Side: schema.SideBuy, Price: 0.4, Size: 5, Type: schema.OrderTypeGTC,
	})
	require.NoError(t, err)
	require.True(t, res.Success)

	status := f.engine.Status(ctx)
	require.True(t, status.Running)
	require.False(t, status.Halted)
	require.Len(t, status.Strategies, 1)
	require.Len(t, status.Positions, 1)
	require.Len(t, status.OpenOrders, 1)

	// exposure = |10*0.5| + 0.4*5 = 7
	require.Equal(t, "7", status.Exposure.Total.String())
}

func TestStopCancelsAndShutsDown(t *testing.T) {
	f := newEngineFixture(t, false)
	s := newScripted("s", signal("t1", 0.9))
	f.engine.RegisterStrategy(s)
	require.NoError(t, f.engine.Start(context.Background()))
	ctx := context.Background()

	_, err := f.orders.SubmitOrder(ctx, schema.OrderRequest{
		TokenID: "t1", Side: schema.SideBuy, Price: 0.4, Size: 1, Type: schema.OrderTypeGTC,
	})
	require.NoError(t, err)

	f.engine.Stop(ctx)
	require.False(t, f.engine.IsRunning())

	open, err := f.store.GetOpenOrders(ctx)
	require.NoError(t, err)
	require.Empty(t, open)

	// Updates after stop do not evaluate.
	f.bus.Emit(schema.EventTypeOrderBookUpdate, testBook("t1"))
	require.Zero(t, s.evaluations())
}
