// Package marketdata polls venue order books for the subscribed token set and
// publishes snapshots on the event bus.
package marketdata

import (
	"context"
	"log"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/coachpo/polytrade/internal/bus"
	"github.com/coachpo/polytrade/internal/exchange"
	"github.com/coachpo/polytrade/internal/schema"
)

// DefaultPollInterval is used when the configured interval is not positive.
const DefaultPollInterval = time.Second

// Service owns the subscription set and the last-seen book cache. One poll
// batch fetches all subscribed tokens concurrently; the next tick starts only
// after the whole batch settles, bounding staleness to one interval plus one
// worst-case fetch.
type Service struct {
	client   exchange.Client
	bus      *bus.Bus
	logger   *log.Logger
	interval time.Duration

	mu     sync.RWMutex
	tokens map[string]struct{}
	books  map[string]*schema.OrderBook

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewService constructs a market data poller.
func NewService(client exchange.Client, b *bus.Bus, interval time.Duration, logger *log.Logger) *Service {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if logger == nil {
		logger = log.New(os.Stdout, "marketdata ", log.LstdFlags)
	}
	return &Service{
		client:   client,
		bus:      b,
		logger:   logger,
		interval: interval,
		tokens:   make(map[string]struct{}),
		books:    make(map[string]*schema.OrderBook),
	}
}

// Subscribe adds tokens to the poll set. Duplicates are ignored.
func (s *Service) Subscribe(tokens ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, token := range tokens {
		if token != "" {
			s.tokens[token] = struct{}{}
		}
	}
}

// Unsubscribe removes tokens from the poll set.
func (s *Service) Unsubscribe(tokens ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, token := range tokens {
		delete(s.tokens, token)
	}
}

// Subscriptions returns the current token set, sorted.
func (s *Service) Subscriptions() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.tokens))
	for token := range s.tokens {
		out = append(out, token)
	}
	sort.Strings(out)
	return out
}

// OrderBook returns the cached snapshot for the token, or false when the
// token has not been polled successfully yet.
func (s *Service) OrderBook(tokenID string) (*schema.OrderBook, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	book, ok := s.books[tokenID]
	if !ok {
		return nil, false
	}
	return book, true
}

// Start performs one immediate poll and schedules periodic polls until Stop.
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
		s.pollOnce(ctx)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.pollOnce(ctx)
			}
		}
	}()

	s.logger.Printf("started: interval=%s tokens=%d", s.interval, len(s.Subscriptions()))
}

// Stop suppresses further ticks. The in-flight batch is allowed to finish.
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

// PollOnce runs a single poll batch synchronously. Exposed for tests.
func (s *Service) PollOnce(ctx context.Context) {
	s.pollOnce(ctx)
}

func (s *Service) pollOnce(ctx context.Context) {
	tokens := s.Subscriptions()
	if len(tokens) == 0 {
		return
	}

	var wg conc.WaitGroup
	for _, token := range tokens {
		wg.Go(func() {
			s.pollToken(ctx, token)
		})
	}
	wg.Wait()
}

func (s *Service) pollToken(ctx context.Context, tokenID string) {
	book, err := s.client.GetOrderBook(ctx, tokenID)
	if err != nil {
		s.logger.Printf("fetch book %s: %v", tokenID, err)
		return
	}
	if book == nil {
		return
	}

	s.mu.Lock()
	s.books[tokenID] = book
	s.mu.Unlock()

	// Emitted unconditionally: consumers are expected to be idempotent.
	s.bus.Emit(schema.EventTypeOrderBookUpdate, book.Clone())
}
