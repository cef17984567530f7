package strategies

import (
	"context"
	"io"
	"log"
	"testing"
	"time"

	"github.com/coachpo/polytrade/internal/schema"
)

func discardLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func bookAt(bid, ask float64) *schema.OrderBook {
	return &schema.OrderBook{
		TokenID:   "t1",
		Bids:      []schema.PriceLevel{{Price: bid, Size: 100}},
		Asks:      []schema.PriceLevel{{Price: ask, Size: 100}},
		Timestamp: time.Now(),
	}
}

func TestMarketMakerQuotesWideSpread(t *testing.T) {
	mm := NewMarketMaker(discardLogger())

	signals := mm.Evaluate(context.Background(), "t1", bookAt(0.40, 0.50))
	if len(signals) != 1 {
		t.Fatalf("signals = %d, want 1", len(signals))
	}
	sig := signals[0]
	if sig.Side != schema.SideBuy {
		t.Errorf("side = %s", sig.Side)
	}
	if sig.TargetPrice <= 0.40 || sig.TargetPrice >= 0.50 {
		t.Errorf("target = %v, want inside the spread", sig.TargetPrice)
	}
	if !sig.Actionable() {
		t.Errorf("confidence = %v, want actionable", sig.Confidence)
	}
}

func TestMarketMakerIgnoresTightSpread(t *testing.T) {
	mm := NewMarketMaker(discardLogger())
	if signals := mm.Evaluate(context.Background(), "t1", bookAt(0.49, 0.51)); len(signals) != 0 {
		t.Errorf("signals = %v, want none", signals)
	}
}

func TestMomentumDetectsTrend(t *testing.T) {
	mo := NewMomentum(discardLogger())
	mo.LookbackPeriod = 5
	mo.Threshold = 0.05

	// Feed a rising mid: 0.50 up to 0.60.
	prices := []float64{0.50, 0.52, 0.55, 0.58}
	for _, p := range prices {
		if signals := mo.Evaluate(context.Background(), "t1", bookAt(p-0.01, p+0.01)); len(signals) != 0 {
			t.Fatalf("no signal expected before window fills, got %v", signals)
		}
	}
	signals := mo.Evaluate(context.Background(), "t1", bookAt(0.59, 0.61))
	if len(signals) != 1 || signals[0].Side != schema.SideBuy {
		t.Fatalf("signals = %+v, want one BUY", signals)
	}
}

func TestMomentumFlatNoSignal(t *testing.T) {
	mo := NewMomentum(discardLogger())
	mo.LookbackPeriod = 3
	for i := 0; i < 5; i++ {
		if signals := mo.Evaluate(context.Background(), "t1", bookAt(0.49, 0.51)); len(signals) != 0 {
			t.Fatalf("flat market produced %v", signals)
		}
	}
}

func TestMeanReversionFadesSpike(t *testing.T) {
	mr := NewMeanReversion(discardLogger())
	mr.WindowSize = 10
	mr.ZThreshold = 2

	for i := 0; i < 9; i++ {
		mr.Evaluate(context.Background(), "t1", bookAt(0.49, 0.51))
	}
	// A spike far above the rolling mean should be sold.
	signals := mr.Evaluate(context.Background(), "t1", bookAt(0.69, 0.71))
	if len(signals) != 1 || signals[0].Side != schema.SideSell {
		t.Fatalf("signals = %+v, want one SELL", signals)
	}
}

func TestDisabledSimpleStrategies(t *testing.T) {
	mm := NewMarketMaker(discardLogger())
	mm.SetEnabled(false)
	if signals := mm.Evaluate(context.Background(), "t1", bookAt(0.40, 0.50)); len(signals) != 0 {
		t.Errorf("disabled market maker returned %v", signals)
	}

	mo := NewMomentum(discardLogger())
	mo.SetEnabled(false)
	if signals := mo.Evaluate(context.Background(), "t1", bookAt(0.40, 0.50)); len(signals) != 0 {
		t.Errorf("disabled momentum returned %v", signals)
	}
}
