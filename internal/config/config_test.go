package config

import (
	"strings"
	"testing"
	"time"
)

func validConfig() Config {
	return Config{
		API: APIConfig{
			BaseURL: "https://perps.standx.com",
			WSURL:   "wss://perps.standx.com/ws-stream/v1",
		},
		Trading: TradingConfig{
			Symbol:              "BTC-USD",
			SpreadBps:           5.0,
			BidNotional:         30.0,
			AskNotional:         30.0,
			RefreshInterval:     time.Second,
			RequoteThresholdBps: 25.0,
		},
		Risk: RiskConfig{
			MaxNotional:            10000.0,
			MaxConsecutiveFailures: 5,
		},
		Uptime: UptimeConfig{TargetMinutes: 30},
	}
}

func TestValidateAcceptsDefaults(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() = %v, want nil", err)
	}
}

func TestValidateRejections(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "missing base url",
			mutate:  func(c *Config) { c.API.BaseURL = "" },
			wantErr: "base_url",
		},
		{
			name:    "missing ws url",
			mutate:  func(c *Config) { c.API.WSURL = "" },
			wantErr: "ws_url",
		},
		{
			name:    "unsupported symbol",
			mutate:  func(c *Config) { c.Trading.Symbol = "DOGE-USD" },
			wantErr: "unsupported symbol",
		},
		{
			name:    "zero spread",
			mutate:  func(c *Config) { c.Trading.SpreadBps = 0 },
			wantErr: "spread_bps",
		},
		{
			name:    "zero bid notional",
			mutate:  func(c *Config) { c.Trading.BidNotional = 0 },
			wantErr: "bid_notional",
		},
		{
			name:    "zero refresh interval",
			mutate:  func(c *Config) { c.Trading.RefreshInterval = 0 },
			wantErr: "refresh_interval",
		},
		{
			name:    "zero requote threshold",
			mutate:  func(c *Config) { c.Trading.RequoteThresholdBps = 0 },
			wantErr: "requote_threshold_bps",
		},
		{
			name: "notional over risk cap",
			mutate: func(c *Config) {
				c.Trading.BidNotional = 6000
				c.Trading.AskNotional = 6000
			},
			wantErr: "exceeds risk.max_notional",
		},
		{
			name:    "zero failure threshold",
			mutate:  func(c *Config) { c.Risk.MaxConsecutiveFailures = 0 },
			wantErr: "max_consecutive_failures",
		},
		{
			name:    "uptime target over an hour",
			mutate:  func(c *Config) { c.Uptime.TargetMinutes = 61 },
			wantErr: "target_minutes",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate() = nil, want error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() = %q, want substring %q", err, tt.wantErr)
			}
		})
	}
}
