package risk

import (
	"context"
	"io"
	"log"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/coachpo/polytrade/errs"
	"github.com/coachpo/polytrade/internal/bus"
	"github.com/coachpo/polytrade/internal/schema"
	"github.com/coachpo/polytrade/internal/store"
)

func newTestManager(t *testing.T, limits Limits) (*Manager, *store.MemoryStore, *bus.Bus) {
	t.Helper()
	st := store.NewMemoryStore()
	b := bus.New(log.New(io.Discard, "", 0))
	t.Cleanup(b.Close)
	return NewManager(limits, st, b, log.New(io.Discard, "", 0)), st, b
}

func buyRequest(price, size float64) schema.OrderRequest {
	return schema.OrderRequest{TokenID: "t1", Side: schema.SideBuy, Price: price, Size: size, Type: schema.OrderTypeGTC}
}

func TestCheckOrderAdmits(t *testing.T) {
	m, _, _ := newTestManager(t, DefaultLimits())
	if err := m.CheckOrder(context.Background(), buyRequest(0.5, 10)); err != nil {
		t.Fatalf("expected admission, got %v", err)
	}
}

func TestCheckOrderNotionalLimit(t *testing.T) {
	limits := DefaultLimits()
	limits.MaxPositionSize = decimal.NewFromInt(10)
	m, _, _ := newTestManager(t, limits)

	// 0.6 * 20 = 12 > 10
	err := m.CheckOrder(context.Background(), buyRequest(0.6, 20))
	if !errs.IsCode(err, errs.CodeRiskRejected) {
		t.Fatalf("err = %v, want risk rejection", err)
	}
}

func TestCheckOrderExposureLimit(t *testing.T) {
	limits := DefaultLimits()
	limits.MaxTotalExposure = decimal.NewFromInt(10)
	m, st, _ := newTestManager(t, limits)

	_ = st.SavePosition(context.Background(), schema.Position{
		TokenID: "t9", Size: 20, CurrentPrice: 0.4, Side: schema.SideBuy,
	})

	// exposure 8 + order 5 = 13 > 10
	err := m.CheckOrder(context.Background(), buyRequest(0.5, 10))
	if !errs.IsCode(err, errs.CodeRiskRejected) {
		t.Fatalf("err = %v, want risk rejection", err)
	}
}

func TestCheckOrderOpenOrderLimit(t *testing.T) {
	limits := DefaultLimits()
	limits.MaxOpenOrders = 5
	m, st, _ := newTestManager(t, limits)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_ = st.SaveOrder(ctx, schema.Order{
			OrderID: "o" + strconv.Itoa(i), TokenID: "t1", Side: schema.SideBuy,
			Price: 0.1, Size: 1, Type: schema.OrderTypeGTC, Status: schema.OrderStatusOpen,
		})
	}

	err := m.CheckOrder(ctx, buyRequest(0.1, 1))
	if !errs.IsCode(err, errs.CodeRiskRejected) {
		t.Fatalf("err = %v, want risk rejection", err)
	}
	if !strings.Contains(err.Error(), "5") {
		t.Errorf("rejection reason %q should contain the numeric limit", err.Error())
	}
}

func TestDailyLossHaltsAndEmitsOnce(t *testing.T) {
	limits := DefaultLimits()
	limits.MaxDailyLoss = decimal.NewFromInt(50)
	m, st, b := newTestManager(t, limits)
	ctx := context.Background()

	breaches := 0
	b.On(schema.EventTypeRiskBreach, func(schema.Event) { breaches++ })

	// Recorded daily PnL of -60: buy 100 @ 0.6 with no sells.
	_ = st.SaveTrade(ctx, schema.Trade{
		ID: "tr1", TokenID: "t1", Side: schema.SideBuy, Price: 0.6, Size: 100,
		ExecutedAt: time.Now().UTC(),
	})

	err := m.CheckOrder(ctx, buyRequest(0.1, 1))
	if !errs.IsCode(err, errs.CodeHalted) {
		t.Fatalf("err = %v, want halt", err)
	}
	if !m.IsHalted() {
		t.Error("manager should latch halted")
	}
	if breaches != 1 {
		t.Errorf("risk_breach emitted %d times, want 1", breaches)
	}

	// Subsequent checks reject on the latch without re-emitting.
	err = m.CheckOrder(ctx, buyRequest(0.1, 1))
	if !errs.IsCode(err, errs.CodeHalted) {
		t.Fatalf("err = %v, want halt", err)
	}
	if breaches != 1 {
		t.Errorf("risk_breach emitted %d times after second check, want 1", breaches)
	}
}

func TestHaltResumeLifecycle(t *testing.T) {
	m, _, b := newTestManager(t, DefaultLimits())

	breaches := 0
	b.On(schema.EventTypeRiskBreach, func(schema.Event) { breaches++ })

	m.Halt("manual")
	m.Halt("manual again")
	if breaches != 1 {
		t.Errorf("breaches = %d, want 1", breaches)
	}
	if m.HaltReason() != "manual" {
		t.Errorf("reason = %q, want original", m.HaltReason())
	}

	err := m.CheckOrder(context.Background(), buyRequest(0.5, 1))
	if !errs.IsCode(err, errs.CodeHalted) {
		t.Fatalf("err = %v, want halt rejection", err)
	}

	m.Resume()
	if m.IsHalted() {
		t.Error("resume should clear the latch")
	}
	if err := m.CheckOrder(context.Background(), buyRequest(0.5, 1)); err != nil {
		t.Errorf("expected admission after resume, got %v", err)
	}
}

func TestComputeExposure(t *testing.T) {
	m, st, _ := newTestManager(t, DefaultLimits())
	ctx := context.Background()

	_ = st.SavePosition(ctx, schema.Position{TokenID: "t1", Size: 10, CurrentPrice: 0.5, Side: schema.SideBuy})
	_ = st.SavePosition(ctx, schema.Position{TokenID: "t2", Size: -20, CurrentPrice: 0.3, Side: schema.SideSell})
	_ = st.SaveOrder(ctx, schema.Order{
		OrderID: "o1", TokenID: "t1", Side: schema.SideBuy, Price: 0.4, Size: 5,
		Type: schema.OrderTypeGTC, Status: schema.OrderStatusOpen,
	})

	exposure, err := m.ComputeExposure(ctx)
	if err != nil {
		t.Fatal(err)
	}

	// |10*0.5| + |-20*0.3| + 0.4*5 = 5 + 6 + 2 = 13
	if !exposure.Total.Equal(decimal.NewFromInt(13)) {
		t.Errorf("total = %s, want 13", exposure.Total)
	}
	if !exposure.PerToken["t1"].Equal(decimal.NewFromInt(7)) {
		t.Errorf("t1 = %s, want 7", exposure.PerToken["t1"])
	}
	if !exposure.PerToken["t2"].Equal(decimal.NewFromInt(6)) {
		t.Errorf("t2 = %s, want 6", exposure.PerToken["t2"])
	}
}
