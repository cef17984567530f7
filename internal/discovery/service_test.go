package discovery

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coachpo/polytrade/internal/bus"
	"github.com/coachpo/polytrade/internal/schema"
)

type stubCatalog struct {
	mu     sync.Mutex
	events []GammaEvent
	err    error
}

func (s *stubCatalog) FetchEvents(context.Context) ([]GammaEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return s.events, nil
}

func (s *stubCatalog) set(events []GammaEvent, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = events
	s.err = err
}

func binaryEvent(id, condition, tokens string) GammaEvent {
	return GammaEvent{
		ID:      id,
		Markets: []GammaMarket{{ConditionID: condition, ClobTokenIDs: tokens}},
	}
}

func newTestService(catalog CatalogClient, b *bus.Bus) *Service {
	return NewService(catalog, b, time.Minute, log.New(io.Discard, "", 0))
}

func TestExtractBinaryGroup(t *testing.T) {
	groups := ExtractGroups([]GammaEvent{binaryEvent("e1", "c1", `["yes1","no1"]`)})
	if len(groups) != 1 {
		t.Fatalf("groups = %d, want 1", len(groups))
	}
	g := groups[0]
	if g.ConditionID != "c1" || len(g.TokenIDs) != 2 || g.TokenIDs[0] != "yes1" || g.TokenIDs[1] != "no1" {
		t.Errorf("group = %+v", g)
	}
}

func TestExtractNegRiskGroup(t *testing.T) {
	evt := GammaEvent{
		ID:      "e1",
		NegRisk: true,
		Markets: []GammaMarket{
			{ConditionID: "c1", ClobTokenIDs: `["a-yes","a-no"]`},
			{ConditionID: "c2", ClobTokenIDs: `["b-yes","b-no"]`},
			{ConditionID: "c3", ClobTokenIDs: `["c-yes","c-no"]`},
		},
	}
	groups := ExtractGroups([]GammaEvent{evt})
	if len(groups) != 1 {
		t.Fatalf("groups = %d, want 1", len(groups))
	}
	g := groups[0]
	want := []string{"a-yes", "b-yes", "c-yes"}
	if len(g.TokenIDs) != len(want) {
		t.Fatalf("tokens = %v", g.TokenIDs)
	}
	for i := range want {
		if g.TokenIDs[i] != want[i] {
			t.Errorf("tokens = %v, want %v", g.TokenIDs, want)
		}
	}
}

func TestNegRiskSingleSubMarketFallsThroughToBinary(t *testing.T) {
	evt := GammaEvent{
		ID:      "e1",
		NegRisk: true,
		Markets: []GammaMarket{{ConditionID: "c1", ClobTokenIDs: `["yes1","no1"]`}},
	}
	groups := ExtractGroups([]GammaEvent{evt})
	if len(groups) != 1 {
		t.Fatalf("groups = %d, want 1", len(groups))
	}
	if len(groups[0].TokenIDs) != 2 {
		t.Errorf("binary fall-through expected both tokens, got %v", groups[0].TokenIDs)
	}
}

func TestMalformedTokenPayloadContributesNothing(t *testing.T) {
	evt := GammaEvent{
		ID:      "e1",
		NegRisk: true,
		Markets: []GammaMarket{
			{ConditionID: "c1", ClobTokenIDs: `["a-yes","a-no"]`},
			{ConditionID: "c2", ClobTokenIDs: `not-json`},
			{ConditionID: "c3", ClobTokenIDs: `["c-yes","c-no"]`},
		},
	}
	groups := ExtractGroups([]GammaEvent{evt})
	if len(groups) != 1 {
		t.Fatalf("groups = %d, want 1", len(groups))
	}
	if len(groups[0].TokenIDs) != 2 {
		t.Errorf("tokens = %v, want malformed sub-market dropped", groups[0].TokenIDs)
	}
}

func TestAllMalformedSkipsEvent(t *testing.T) {
	groups := ExtractGroups([]GammaEvent{binaryEvent("e1", "c1", `broken`)})
	if len(groups) != 0 {
		t.Errorf("groups = %v, want none", groups)
	}
}

func TestFetchAndUpdateEmitsOnlyOnChange(t *testing.T) {
	catalog := &stubCatalog{}
	catalog.set([]GammaEvent{binaryEvent("e1", "c1", `["y","n"]`)}, nil)

	b := bus.New(log.New(io.Discard, "", 0))
	defer b.Close()

	var mu sync.Mutex
	emits := 0
	b.On(schema.EventTypeMarketGroupsUpdated, func(schema.Event) {
		mu.Lock()
		defer mu.Unlock()
		emits++
	})

	svc := newTestService(catalog, b)
	svc.FetchAndUpdate(context.Background())
	svc.FetchAndUpdate(context.Background())

	mu.Lock()
	if emits != 1 {
		t.Errorf("emits = %d, want 1 for identical lists", emits)
	}
	mu.Unlock()

	catalog.set([]GammaEvent{binaryEvent("e2", "c2", `["y2","n2"]`)}, nil)
	svc.FetchAndUpdate(context.Background())

	mu.Lock()
	defer mu.Unlock()
	if emits != 2 {
		t.Errorf("emits = %d, want 2 after change", emits)
	}
}

func TestFetchFailurePreservesState(t *testing.T) {
	catalog := &stubCatalog{}
	catalog.set([]GammaEvent{binaryEvent("e1", "c1", `["y","n"]`)}, nil)

	b := bus.New(log.New(io.Discard, "", 0))
	defer b.Close()

	svc := newTestService(catalog, b)
	svc.FetchAndUpdate(context.Background())
	if len(svc.MarketGroups()) != 1 {
		t.Fatal("expected one group")
	}

	var emitted bool
	b.On(schema.EventTypeMarketGroupsUpdated, func(schema.Event) { emitted = true })

	catalog.set(nil, errors.New("gateway timeout"))
	svc.FetchAndUpdate(context.Background())

	if len(svc.MarketGroups()) != 1 {
		t.Error("failed fetch must preserve previous groups")
	}
	if emitted {
		t.Error("failed fetch must not emit")
	}
}

func TestHTTPCatalogQueryAndDecode(t *testing.T) {
	var gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		_, _ = w.Write([]byte(`[{"id":"e1","title":"Election","negRisk":false,` +
			`"markets":[{"conditionId":"c1","clobTokenIds":"[\"y\",\"n\"]","active":true}]}]`))
	}))
	defer server.Close()

	catalog := NewHTTPCatalog(server.URL, []string{"politics", "us"}, 50, server.Client())
	events, err := catalog.FetchEvents(context.Background())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(events) != 1 || events[0].ID != "e1" {
		t.Fatalf("events = %+v", events)
	}
	if got := events[0].Markets[0].TokenIDs(); len(got) != 2 || got[0] != "y" {
		t.Errorf("tokens = %v", got)
	}

	for _, want := range []string{"tag=politics", "tag=us", "closed=false", "active=true", "limit=50"} {
		if !containsParam(gotQuery, want) {
			t.Errorf("query %q missing %q", gotQuery, want)
		}
	}
}

func TestHTTPCatalogRetriesThenFails(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	catalog := NewHTTPCatalog(server.URL, nil, 10, server.Client())
	_, err := catalog.FetchEvents(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != fetchAttempts {
		t.Errorf("calls = %d, want %d", calls, fetchAttempts)
	}
}

func containsParam(query, param string) bool {
	for _, part := range strings.Split(query, "&") {
		if part == param {
			return true
		}
	}
	return false
}
