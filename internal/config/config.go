// Package config defines all configuration for the maker bot.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// sensitive fields overridable via STANDX_* environment variables.
//
// Tunables split in two: fields that are immutable after start (endpoints,
// credentials, tick tables, caps) live here; the runtime-writable subset is
// snapshotted into a Runtime store (runtime.go) that the engine reads
// lock-free at the top of every tick.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// SupportedSymbols is the closed set of tradeable perpetual pairs.
var SupportedSymbols = []string{"BTC-USD", "ETH-USD", "XAU-USD", "XAG-USD"}

// QtyTicks maps symbol → minimum quantity increment accepted by StandX.
var QtyTicks = map[string]float64{
	"BTC-USD": 0.0001,
	"ETH-USD": 0.001,
	"XAU-USD": 0.01,
	"XAG-USD": 0.1,
}

// PriceTicks maps symbol → minimum price increment accepted by StandX.
var PriceTicks = map[string]float64{
	"BTC-USD": 0.01,
	"ETH-USD": 0.1,
	"XAU-USD": 0.1,
	"XAG-USD": 0.01,
}

// SymbolSupported reports whether the symbol is in the closed supported set.
func SymbolSupported(symbol string) bool {
	_, ok := QtyTicks[symbol]
	return ok
}

// QtyTick returns the quantity tick for a symbol, defaulting conservatively.
func QtyTick(symbol string) float64 {
	if t, ok := QtyTicks[symbol]; ok {
		return t
	}
	return 0.0001
}

// PriceTick returns the price tick for a symbol, defaulting conservatively.
func PriceTick(symbol string) float64 {
	if t, ok := PriceTicks[symbol]; ok {
		return t
	}
	return 0.01
}

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	Credentials CredentialsConfig `mapstructure:"credentials"`
	API         APIConfig         `mapstructure:"api"`
	Trading     TradingConfig     `mapstructure:"trading"`
	Risk        RiskConfig        `mapstructure:"risk"`
	Uptime      UptimeConfig      `mapstructure:"uptime"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Dashboard   DashboardConfig   `mapstructure:"dashboard"`
}

// CredentialsConfig holds the StandX session credentials. The Ed25519 secret
// signs every mutating request body; the JWT bearer token authenticates the
// session. Both may also arrive at runtime via the dashboard auth endpoint.
type CredentialsConfig struct {
	Token         string `mapstructure:"token"`
	Ed25519Secret string `mapstructure:"ed25519_secret"` // base58 or hex
	WalletAddress string `mapstructure:"wallet_address"`
	Chain         string `mapstructure:"chain"`
}

// APIConfig holds the StandX endpoints.
type APIConfig struct {
	BaseURL string `mapstructure:"base_url"`
	WSURL   string `mapstructure:"ws_url"`
}

// TradingConfig tunes the quoting engine.
//
//   - SpreadBps: configured half-spread per side in basis points.
//   - BidNotional / AskNotional: per-side order size in USD.
//   - BidQty / AskQty: fixed per-side size in base units; a non-zero value
//     overrides the notional sizing for that side.
//   - RefreshInterval: engine tick cadence.
//   - RequoteThresholdBps: replace a resting order once its price drifts
//     this many bps of mid from the current target. Bps is the single
//     requote unit in this implementation.
//   - ProximityGuardBps: evict an order that has drifted within this many
//     bps of the opposite-side best quote.
//   - StaleOrderAge: hard cap on how long one order may rest unrefreshed.
//   - MaxSpreadDeviationBps: quotes deviating further than this per side
//     are invalid and not placed.
//   - TPOffsetBps / SLOffsetBps: optional take-profit / stop-loss offsets
//     from the order price, attached as absolute prices (0 = disabled).
//   - AutoCloseFills: flatten accidental fills with a reduce-only market order.
//   - SkewFactorBps / MaxPosition: inventory skew; a zero factor or zero
//     max position disables skew entirely.
type TradingConfig struct {
	Symbol                string        `mapstructure:"symbol"`
	SpreadBps             float64       `mapstructure:"spread_bps"`
	BidNotional           float64       `mapstructure:"bid_notional"`
	AskNotional           float64       `mapstructure:"ask_notional"`
	BidQty                float64       `mapstructure:"bid_qty"`
	AskQty                float64       `mapstructure:"ask_qty"`
	RefreshInterval       time.Duration `mapstructure:"refresh_interval"`
	RequoteThresholdBps   float64       `mapstructure:"requote_threshold_bps"`
	ProximityGuardBps     float64       `mapstructure:"proximity_guard_bps"`
	StaleOrderAge         time.Duration `mapstructure:"stale_order_age"`
	MaxSpreadDeviationBps float64       `mapstructure:"max_spread_deviation_bps"`
	TPOffsetBps           float64       `mapstructure:"tp_offset_bps"`
	SLOffsetBps           float64       `mapstructure:"sl_offset_bps"`
	AutoCloseFills        bool          `mapstructure:"auto_close_fills"`
	SkewFactorBps         float64       `mapstructure:"skew_factor_bps"`
	MaxPosition           float64       `mapstructure:"max_position"`
}

// RiskConfig sets the hard safety limits.
type RiskConfig struct {
	MaxNotional            float64 `mapstructure:"max_notional"`
	MaxConsecutiveFailures int     `mapstructure:"max_consecutive_failures"`
}

// UptimeConfig controls the hourly maker-eligibility target.
type UptimeConfig struct {
	TargetMinutes int `mapstructure:"target_minutes"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DashboardConfig controls the web dashboard server.
type DashboardConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// Load reads config from a YAML file with env var overrides.
// Sensitive fields use env vars: STANDX_TOKEN, STANDX_ED25519_SECRET,
// STANDX_WALLET_ADDRESS, STANDX_CHAIN. Unknown YAML keys are ignored.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("STANDX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Override sensitive fields from env
	if tok := os.Getenv("STANDX_TOKEN"); tok != "" {
		cfg.Credentials.Token = tok
	}
	if sec := os.Getenv("STANDX_ED25519_SECRET"); sec != "" {
		cfg.Credentials.Ed25519Secret = sec
	}
	if addr := os.Getenv("STANDX_WALLET_ADDRESS"); addr != "" {
		cfg.Credentials.WalletAddress = addr
	}
	if chain := os.Getenv("STANDX_CHAIN"); chain != "" {
		cfg.Credentials.Chain = chain
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api.base_url", "https://perps.standx.com")
	v.SetDefault("api.ws_url", "wss://perps.standx.com/ws-stream/v1")
	v.SetDefault("credentials.chain", "bsc")
	v.SetDefault("trading.symbol", "BTC-USD")
	v.SetDefault("trading.spread_bps", 5.0)
	v.SetDefault("trading.bid_notional", 30.0)
	v.SetDefault("trading.ask_notional", 30.0)
	v.SetDefault("trading.refresh_interval", "1s")
	v.SetDefault("trading.requote_threshold_bps", 25.0)
	v.SetDefault("trading.proximity_guard_bps", 1.0)
	v.SetDefault("trading.stale_order_age", "30s")
	v.SetDefault("trading.max_spread_deviation_bps", 200.0)
	v.SetDefault("trading.auto_close_fills", true)
	v.SetDefault("risk.max_notional", 10000.0)
	v.SetDefault("risk.max_consecutive_failures", 5)
	v.SetDefault("uptime.target_minutes", 30)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("dashboard.port", 8000)
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if c.API.BaseURL == "" {
		return fmt.Errorf("api.base_url is required")
	}
	if c.API.WSURL == "" {
		return fmt.Errorf("api.ws_url is required")
	}
	if !SymbolSupported(c.Trading.Symbol) {
		return fmt.Errorf("unsupported symbol %q: must be one of %v", c.Trading.Symbol, SupportedSymbols)
	}
	if c.Trading.SpreadBps <= 0 {
		return fmt.Errorf("trading.spread_bps must be > 0")
	}
	if c.Trading.BidNotional <= 0 || c.Trading.AskNotional <= 0 {
		return fmt.Errorf("trading.bid_notional and trading.ask_notional must be > 0")
	}
	if c.Trading.BidQty < 0 || c.Trading.AskQty < 0 {
		return fmt.Errorf("trading.bid_qty and trading.ask_qty must be >= 0")
	}
	if c.Trading.RefreshInterval <= 0 {
		return fmt.Errorf("trading.refresh_interval must be > 0")
	}
	if c.Trading.RequoteThresholdBps <= 0 {
		return fmt.Errorf("trading.requote_threshold_bps must be > 0")
	}
	if c.Risk.MaxNotional <= 0 {
		return fmt.Errorf("risk.max_notional must be > 0")
	}
	if c.Trading.BidNotional+c.Trading.AskNotional > c.Risk.MaxNotional {
		return fmt.Errorf("combined quoted notional %.2f exceeds risk.max_notional %.2f",
			c.Trading.BidNotional+c.Trading.AskNotional, c.Risk.MaxNotional)
	}
	if c.Risk.MaxConsecutiveFailures <= 0 {
		return fmt.Errorf("risk.max_consecutive_failures must be > 0")
	}
	if c.Uptime.TargetMinutes <= 0 || c.Uptime.TargetMinutes > 60 {
		return fmt.Errorf("uptime.target_minutes must be in (0, 60]")
	}
	return nil
}
