// Command trader launches the polytrade engine: market data polling, market
// group discovery, strategy evaluation, and risk-gated order flow.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sourcegraph/conc"

	"github.com/coachpo/polytrade/internal/bus"
	"github.com/coachpo/polytrade/internal/config"
	"github.com/coachpo/polytrade/internal/discovery"
	"github.com/coachpo/polytrade/internal/engine"
	"github.com/coachpo/polytrade/internal/exchange"
	"github.com/coachpo/polytrade/internal/marketdata"
	"github.com/coachpo/polytrade/internal/orders"
	"github.com/coachpo/polytrade/internal/risk"
	"github.com/coachpo/polytrade/internal/server"
	"github.com/coachpo/polytrade/internal/store"
	"github.com/coachpo/polytrade/internal/strategy"
	"github.com/coachpo/polytrade/internal/strategy/strategies"
	"github.com/coachpo/polytrade/internal/telemetry"
)

const shutdownTimeout = 30 * time.Second

func main() {
	configPath := flag.String("config", "config/app.yaml", "path to the YAML configuration file")
	flag.Parse()

	logger := log.New(os.Stdout, "trader ", log.LstdFlags)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, loaded, err := config.LoadOrDefault(*configPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	if !loaded {
		logger.Printf("configuration file not found, using defaults plus environment")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatalf("invalid configuration: %v", err)
	}
	logger.Printf("configured: strategies=%v dry_run=%v tokens=%d", cfg.Strategies, cfg.DryRun, len(cfg.TokenIDs))

	meterProvider, telemetryShutdown, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		logger.Fatalf("initialize telemetry: %v", err)
	}

	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("open store: %v", err)
	}

	eventBus := bus.New(log.New(os.Stdout, "bus ", log.LstdFlags))

	// Live connectivity is wired by the external CLOB adapter; without it the
	// mock venue backs both dry-run and simulated live mode.
	client := exchange.NewMockClient()

	limits := buildLimits(cfg.Risk)
	riskManager := risk.NewManager(limits, st, eventBus, log.New(os.Stdout, "risk ", log.LstdFlags))
	orderManager := orders.NewManager(client, st, riskManager, eventBus, cfg.DryRun,
		log.New(os.Stdout, "orders ", log.LstdFlags))
	marketData := marketdata.NewService(client, eventBus, cfg.PollInterval,
		log.New(os.Stdout, "marketdata ", log.LstdFlags))

	engineMetrics, err := telemetry.NewEngineMetrics(meterProvider)
	if err != nil {
		logger.Fatalf("register engine metrics: %v", err)
	}

	eng := engine.New(engine.Config{
		Bus:        eventBus,
		MarketData: marketData,
		Orders:     orderManager,
		Risk:       riskManager,
		Store:      st,
		Logger:     log.New(os.Stdout, "engine ", log.LstdFlags),
		Metrics:    engineMetrics,
	})

	services := strategy.Services{MarketData: marketData, Store: st}
	registerStrategies(eng, cfg, services)
	eng.AddTokens(cfg.TokenIDs...)

	var discoveryService *discovery.Service
	if cfg.WantsStrategy(config.StrategyBregmanArb) {
		catalog := discovery.NewHTTPCatalog(cfg.Gamma.BaseURL, cfg.Gamma.Tags, cfg.Gamma.Limit, nil)
		discoveryService = discovery.NewService(catalog, eventBus, cfg.Gamma.RefreshInterval,
			log.New(os.Stdout, "discovery ", log.LstdFlags))
	}

	if err := eng.Start(ctx); err != nil {
		logger.Fatalf("start engine: %v", err)
	}
	if discoveryService != nil {
		discoveryService.Start(ctx)
	}

	dashboard := server.New(cfg.Dashboard, eng, st, eventBus, log.New(os.Stdout, "dashboard ", log.LstdFlags))
	var lifecycle conc.WaitGroup
	lifecycle.Go(func() {
		if err := dashboard.Start(); err != nil {
			logger.Printf("dashboard: %v", err)
		}
	})

	logger.Print("trader started; awaiting shutdown signal")
	<-ctx.Done()
	logger.Print("shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if discoveryService != nil {
		discoveryService.Stop()
	}
	eng.Stop(shutdownCtx)
	if err := dashboard.Shutdown(shutdownCtx); err != nil {
		logger.Printf("dashboard shutdown: %v", err)
	}
	lifecycle.Wait()
	eventBus.Close()
	if err := st.Close(); err != nil {
		logger.Printf("store close: %v", err)
	}
	if err := telemetryShutdown(shutdownCtx); err != nil {
		logger.Printf("telemetry shutdown: %v", err)
	}

	logger.Print("shutdown complete")
}

func openStore(ctx context.Context, cfg config.Settings, logger *log.Logger) (store.Store, error) {
	if cfg.DatabaseURL == "" {
		logger.Print("no DATABASE_URL, using in-memory store")
		return store.NewMemoryStore(), nil
	}
	return store.OpenPostgres(ctx, cfg.DatabaseURL)
}

func buildLimits(cfg config.RiskConfig) risk.Limits {
	limits := risk.DefaultLimits()
	if cfg.MaxPositionSize > 0 {
		limits.MaxPositionSize = decimal.NewFromFloat(cfg.MaxPositionSize)
	}
	if cfg.MaxTotalExposure > 0 {
		limits.MaxTotalExposure = decimal.NewFromFloat(cfg.MaxTotalExposure)
	}
	if cfg.MaxLossPerTrade > 0 {
		limits.MaxLossPerTrade = decimal.NewFromFloat(cfg.MaxLossPerTrade)
	}
	if cfg.MaxDailyLoss > 0 {
		limits.MaxDailyLoss = decimal.NewFromFloat(cfg.MaxDailyLoss)
	}
	if cfg.MaxOpenOrders > 0 {
		limits.MaxOpenOrders = cfg.MaxOpenOrders
	}
	if cfg.OrderThrottle > 0 {
		limits.OrderThrottle = cfg.OrderThrottle
	}
	return limits
}

func registerStrategies(eng *engine.Engine, cfg config.Settings, services strategy.Services) {
	for _, name := range cfg.Strategies {
		switch name {
		case config.StrategyMarketMaker:
			eng.RegisterStrategy(strategies.NewMarketMaker(nil))
		case config.StrategyMomentum:
			eng.RegisterStrategy(strategies.NewMomentum(nil))
		case config.StrategyMeanReversion:
			eng.RegisterStrategy(strategies.NewMeanReversion(nil))
		case config.StrategyBregmanArb:
			arbCfg := strategies.DefaultBregmanArbConfig()
			if cfg.Risk.MaxPositionSize > 0 {
				arbCfg.MaxPositionSize = cfg.Risk.MaxPositionSize
			}
			eng.RegisterStrategy(strategies.NewBregmanArb(arbCfg, services, nil))
		}
	}
}
