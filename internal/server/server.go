// Package server exposes the read-only dashboard: engine status over HTTP
// and a live event stream over websocket. No mutating endpoints exist.
package server

import (
	"context"
	"log"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"

	"github.com/coachpo/polytrade/internal/bus"
	"github.com/coachpo/polytrade/internal/engine"
	"github.com/coachpo/polytrade/internal/schema"
	"github.com/coachpo/polytrade/internal/store"
)

const (
	readHeaderTimeout = 5 * time.Second
	streamBuffer      = 64
	writeTimeout      = 5 * time.Second
)

// Dashboard serves the observability surface.
type Dashboard struct {
	engine *engine.Engine
	store  store.Store
	bus    *bus.Bus
	logger *log.Logger

	server *http.Server

	mu      sync.Mutex
	streams map[chan schema.Event]struct{}
	subs    []bus.SubscriptionID
}

// New constructs the dashboard bound to addr.
func New(addr string, eng *engine.Engine, st store.Store, b *bus.Bus, logger *log.Logger) *Dashboard {
	if logger == nil {
		logger = log.New(os.Stdout, "dashboard ", log.LstdFlags)
	}
	d := &Dashboard{
		engine:  eng,
		store:   st,
		bus:     b,
		logger:  logger,
		streams: make(map[chan schema.Event]struct{}),
	}

	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Get("/healthz", d.handleHealth)
	router.Get("/api/status", d.handleStatus)
	router.Get("/api/positions", d.handlePositions)
	router.Get("/api/orders", d.handleOrders)
	router.Get("/api/trades", d.handleTrades)
	router.Get("/ws", d.handleStream)

	d.server = &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	// Mirror every bus event into the connected websocket streams.
	forward := func(evt schema.Event) { d.broadcast(evt) }
	for _, typ := range []schema.EventType{
		schema.EventTypeOrderBookUpdate,
		schema.EventTypeTradeExecuted,
		schema.EventTypeOrderFilled,
		schema.EventTypeOrderCancelled,
		schema.EventTypePositionChanged,
		schema.EventTypeStrategySignal,
		schema.EventTypeRiskBreach,
		schema.EventTypeMarketUpdate,
		schema.EventTypeMarketGroupsUpdated,
	} {
		d.subs = append(d.subs, b.On(typ, forward))
	}

	return d
}

// Start serves HTTP until the listener fails or Shutdown runs.
func (d *Dashboard) Start() error {
	d.logger.Printf("dashboard listening on %s", d.server.Addr)
	if err := d.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops the HTTP server and drops stream subscriptions.
func (d *Dashboard) Shutdown(ctx context.Context) error {
	for _, id := range d.subs {
		d.bus.Off(id)
	}
	d.mu.Lock()
	for ch := range d.streams {
		close(ch)
	}
	d.streams = make(map[chan schema.Event]struct{})
	d.mu.Unlock()
	return d.server.Shutdown(ctx)
}

// Handler returns the HTTP handler, primarily for tests.
func (d *Dashboard) Handler() http.Handler {
	return d.server.Handler
}

func (d *Dashboard) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]any{"ok": true, "running": d.engine.IsRunning()})
}

func (d *Dashboard) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, d.engine.Status(r.Context()))
}

func (d *Dashboard) handlePositions(w http.ResponseWriter, r *http.Request) {
	positions, err := d.store.GetAllActivePositions(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, positions)
}

func (d *Dashboard) handleOrders(w http.ResponseWriter, r *http.Request) {
	open, err := d.store.GetOpenOrders(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, open)
}

func (d *Dashboard) handleTrades(w http.ResponseWriter, r *http.Request) {
	trades, err := d.store.GetTrades(r.Context(), r.URL.Query().Get("token"), 100)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, trades)
}

func (d *Dashboard) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		d.logger.Printf("websocket accept: %v", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	ch := make(chan schema.Event, streamBuffer)
	d.mu.Lock()
	d.streams[ch] = struct{}{}
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		delete(d.streams, ch)
		d.mu.Unlock()
	}()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			frame, err := json.Marshal(evt)
			if err != nil {
				continue
			}
			writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err = conn.Write(writeCtx, websocket.MessageText, frame)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

// broadcast fans an event out to every stream, dropping frames for slow
// consumers rather than blocking the bus.
func (d *Dashboard) broadcast(evt schema.Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for ch := range d.streams {
		select {
		case ch <- evt:
		default:
		}
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
