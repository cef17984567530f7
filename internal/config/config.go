// Package config centralises runtime configuration for the trading engine.
// Settings are loaded from an optional YAML file and overridden by
// environment variables; the environment always wins.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/coachpo/polytrade/errs"
)

// Known strategy names accepted in the STRATEGIES list.
const (
	StrategyMarketMaker   = "market-maker"
	StrategyMomentum      = "momentum"
	StrategyMeanReversion = "mean-reversion"
	StrategyBregmanArb    = "bregman-arb"
)

// ConnectionConfig carries venue connectivity and credentials.
type ConnectionConfig struct {
	Host          string `yaml:"host"`
	ChainID       int    `yaml:"chainId"`
	PrivateKey    string `yaml:"privateKey"`
	APIKey        string `yaml:"apiKey"`
	APISecret     string `yaml:"apiSecret"`
	APIPassphrase string `yaml:"apiPassphrase"`
}

// RiskConfig overrides the default risk limits. Zero values keep defaults.
type RiskConfig struct {
	MaxPositionSize  float64 `yaml:"maxPositionSize"`
	MaxTotalExposure float64 `yaml:"maxTotalExposure"`
	MaxLossPerTrade  float64 `yaml:"maxLossPerTrade"`
	MaxDailyLoss     float64 `yaml:"maxDailyLoss"`
	MaxOpenOrders    int     `yaml:"maxOpenOrders"`
	OrderThrottle    float64 `yaml:"orderThrottle"`
}

// GammaConfig configures the discovery catalog poller.
type GammaConfig struct {
	BaseURL         string        `yaml:"baseUrl"`
	Tags            []string      `yaml:"tags"`
	RefreshInterval time.Duration `yaml:"refreshInterval"`
	Limit           int           `yaml:"limit"`
}

// TelemetryConfig configures the OTLP metric exporter.
type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlpEndpoint"`
	ServiceName  string `yaml:"serviceName"`
}

// Settings is the full configuration tree.
type Settings struct {
	Connection   ConnectionConfig `yaml:"connection"`
	DryRun       bool             `yaml:"dryRun"`
	Strategies   []string         `yaml:"strategies"`
	TokenIDs     []string         `yaml:"tokenIds"`
	Risk         RiskConfig       `yaml:"risk"`
	Gamma        GammaConfig      `yaml:"gamma"`
	PollInterval time.Duration    `yaml:"pollInterval"`
	DatabaseURL  string           `yaml:"databaseUrl"`
	Dashboard    string           `yaml:"dashboardAddr"`
	Telemetry    TelemetryConfig  `yaml:"telemetry"`
}

// Default returns the baseline configuration.
func Default() Settings {
	return Settings{
		DryRun:       true,
		PollInterval: time.Second,
		Gamma: GammaConfig{
			BaseURL:         "https://gamma-api.polymarket.com",
			RefreshInterval: 30 * time.Second,
			Limit:           100,
		},
		Dashboard: ":8080",
	}
}

// FromEnv overlays environment variables on the provided settings.
func FromEnv(cfg Settings) Settings {
	if v := envString("PM_HOST"); v != "" {
		cfg.Connection.Host = v
	}
	if v, ok := envInt("PM_CHAIN_ID"); ok {
		cfg.Connection.ChainID = v
	}
	if v := envString("PM_PRIVATE_KEY"); v != "" {
		cfg.Connection.PrivateKey = v
	}
	if v := envString("PM_API_KEY"); v != "" {
		cfg.Connection.APIKey = v
	}
	if v := envString("PM_API_SECRET"); v != "" {
		cfg.Connection.APISecret = v
	}
	if v := envString("PM_API_PASSPHRASE"); v != "" {
		cfg.Connection.APIPassphrase = v
	}
	if v, ok := envBool("DRY_RUN"); ok {
		cfg.DryRun = v
	}
	if v := envList("STRATEGIES"); len(v) > 0 {
		cfg.Strategies = v
	}
	if v := envList("TOKEN_IDS"); len(v) > 0 {
		cfg.TokenIDs = v
	}
	if v, ok := envFloat("MAX_POSITION_SIZE"); ok {
		cfg.Risk.MaxPositionSize = v
	}
	if v, ok := envFloat("MAX_TOTAL_EXPOSURE"); ok {
		cfg.Risk.MaxTotalExposure = v
	}
	if v, ok := envFloat("MAX_LOSS_PER_TRADE"); ok {
		cfg.Risk.MaxLossPerTrade = v
	}
	if v, ok := envFloat("MAX_DAILY_LOSS"); ok {
		cfg.Risk.MaxDailyLoss = v
	}
	if v, ok := envInt("MAX_OPEN_ORDERS"); ok {
		cfg.Risk.MaxOpenOrders = v
	}
	if v, ok := envFloat("ORDER_THROTTLE"); ok {
		cfg.Risk.OrderThrottle = v
	}
	if v := envList("GAMMA_TAGS"); len(v) > 0 {
		cfg.Gamma.Tags = v
	}
	if v, ok := envDuration("GAMMA_REFRESH_INTERVAL"); ok {
		cfg.Gamma.RefreshInterval = v
	}
	if v := envString("GAMMA_BASE_URL"); v != "" {
		cfg.Gamma.BaseURL = v
	}
	if v, ok := envInt("GAMMA_LIMIT"); ok {
		cfg.Gamma.Limit = v
	}
	if v, ok := envDuration("POLL_INTERVAL"); ok {
		cfg.PollInterval = v
	}
	if v := envString("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := envString("DASHBOARD_ADDR"); v != "" {
		cfg.Dashboard = v
	}
	if v := envString("OTEL_ENDPOINT"); v != "" {
		cfg.Telemetry.OTLPEndpoint = v
	}

	// Live trading needs a signing key; without one only simulation is possible.
	if cfg.Connection.PrivateKey == "" {
		cfg.DryRun = true
	}
	return cfg
}

// Validate checks the settings for fatal configuration errors.
func (s Settings) Validate() error {
	if len(s.Strategies) == 0 {
		return errs.New("config", errs.CodeConfig, errs.WithMessage("at least one strategy required (STRATEGIES)"))
	}
	known := map[string]struct{}{
		StrategyMarketMaker:   {},
		StrategyMomentum:      {},
		StrategyMeanReversion: {},
		StrategyBregmanArb:    {},
	}
	for _, name := range s.Strategies {
		if _, ok := known[name]; !ok {
			return errs.New("config", errs.CodeConfig,
				errs.WithMessage("unknown strategy"), errs.WithDetail("strategy", name))
		}
	}
	if s.PollInterval <= 0 {
		return errs.New("config", errs.CodeConfig, errs.WithMessage("poll interval must be positive"))
	}
	if s.Gamma.RefreshInterval <= 0 {
		return errs.New("config", errs.CodeConfig, errs.WithMessage("gamma refresh interval must be positive"))
	}
	return nil
}

// WantsStrategy reports whether the named strategy is enabled.
func (s Settings) WantsStrategy(name string) bool {
	for _, n := range s.Strategies {
		if n == name {
			return true
		}
	}
	return false
}

func envString(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func envList(key string) []string {
	raw := envString(key)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func envBool(key string) (bool, bool) {
	raw := envString(key)
	if raw == "" {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return v, true
}

func envInt(key string) (int, bool) {
	raw := envString(key)
	if raw == "" {
		return 0, false
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return v, true
}

func envFloat(key string) (float64, bool) {
	raw := envString(key)
	if raw == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func envDuration(key string) (time.Duration, bool) {
	raw := envString(key)
	if raw == "" {
		return 0, false
	}
	if v, err := time.ParseDuration(raw); err == nil {
		return v, true
	}
	// Bare integers are treated as seconds.
	if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second, true
	}
	return 0, false
}
