package discovery

import (
	"context"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/coachpo/polytrade/internal/bus"
	"github.com/coachpo/polytrade/internal/schema"
)

// DefaultRefreshInterval is used when the configured interval is not positive.
const DefaultRefreshInterval = 30 * time.Second

// Service periodically fetches the catalog and maintains the current market
// group list. Group lists are replaced wholesale; subscribers always receive
// the full replacement via market_groups_updated.
type Service struct {
	catalog  CatalogClient
	bus      *bus.Bus
	logger   *log.Logger
	interval time.Duration

	mu       sync.RWMutex
	groups   []schema.MarketGroup
	lastHash string

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewService constructs a discovery service.
func NewService(catalog CatalogClient, b *bus.Bus, interval time.Duration, logger *log.Logger) *Service {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	if logger == nil {
		logger = log.New(os.Stdout, "discovery ", log.LstdFlags)
	}
	return &Service{
		catalog:  catalog,
		bus:      b,
		logger:   logger,
		interval: interval,
	}
}

// MarketGroups returns a copy of the current group list.
func (s *Service) MarketGroups() []schema.MarketGroup {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]schema.MarketGroup(nil), s.groups...)
}

// Start performs one immediate refresh and schedules periodic refreshes.
func (s *Service) Start(ctx context.Context) {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		s.FetchAndUpdate(ctx)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.FetchAndUpdate(ctx)
			}
		}
	}()

	s.logger.Printf("started: interval=%s", s.interval)
}

// Stop suppresses further refreshes; an in-flight fetch completes.
func (s *Service) Stop() {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil
	s.logger.Print("stopped")
}

// FetchAndUpdate runs one refresh cycle: fetch, extract, compare, emit.
// Fetch failures preserve the previous state and never emit.
func (s *Service) FetchAndUpdate(ctx context.Context) {
	events, err := s.catalog.FetchEvents(ctx)
	if err != nil {
		s.logger.Printf("catalog fetch failed, keeping %d groups: %v", len(s.MarketGroups()), err)
		return
	}

	groups := ExtractGroups(events)
	hash := strings.Join(schema.CanonicalKeys(groups), ";")

	s.mu.Lock()
	changed := hash != s.lastHash
	if changed {
		s.groups = groups
		s.lastHash = hash
	}
	s.mu.Unlock()

	if changed {
		s.logger.Printf("market groups updated: %d groups", len(groups))
		s.bus.Emit(schema.EventTypeMarketGroupsUpdated, append([]schema.MarketGroup(nil), groups...))
	}
}

// ExtractGroups derives at most one market group per catalog event.
//
// A negative-risk event with at least two sub-markets contributes the "yes"
// token (the first of each sub-market's two-token list). Any other event with
// exactly one two-token sub-market contributes a binary group. Everything
// else is skipped, as are groups left with fewer than two tokens after
// malformed sub-markets dropped out.
func ExtractGroups(events []GammaEvent) []schema.MarketGroup {
	groups := make([]schema.MarketGroup, 0, len(events))
	for _, evt := range events {
		if group, ok := extractGroup(evt); ok {
			groups = append(groups, group)
		}
	}
	return groups
}

func extractGroup(evt GammaEvent) (schema.MarketGroup, bool) {
	if evt.NegRisk && len(evt.Markets) >= 2 {
		tokens := make([]string, 0, len(evt.Markets))
		conditionID := ""
		for _, market := range evt.Markets {
			ids := market.TokenIDs()
			if len(ids) != 2 {
				continue
			}
			tokens = append(tokens, ids[0])
			if conditionID == "" {
				conditionID = market.ConditionID
			}
		}
		if len(tokens) < 2 {
			return schema.MarketGroup{}, false
		}
		if conditionID == "" {
			conditionID = evt.ID
		}
		return schema.MarketGroup{ConditionID: conditionID, Title: evt.Title, TokenIDs: tokens}, true
	}

	if len(evt.Markets) == 1 {
		ids := evt.Markets[0].TokenIDs()
		if len(ids) == 2 {
			return schema.MarketGroup{
				ConditionID: evt.Markets[0].ConditionID,
				Title:       evt.Title,
				TokenIDs:    ids,
			}, true
		}
	}

	return schema.MarketGroup{}, false
}
