package config

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Params is the runtime-writable tunable set. The engine takes one snapshot
// at the top of each tick, so a tick always runs against a stable view even
// while the dashboard is writing.
type Params struct {
	Symbol                string
	SpreadBps             float64
	BidNotional           float64
	AskNotional           float64
	BidQty                float64 // non-zero overrides notional sizing
	AskQty                float64
	RefreshInterval       time.Duration
	RequoteThresholdBps   float64
	ProximityGuardBps     float64
	StaleOrderAge         time.Duration
	MaxSpreadDeviationBps float64
	TPOffsetBps           float64
	SLOffsetBps           float64
	AutoCloseFills        bool
	SkewFactorBps         float64
	MaxPosition           float64
}

// ParamsFromConfig extracts the runtime-writable subset from the static config.
func ParamsFromConfig(cfg Config) Params {
	return Params{
		Symbol:                cfg.Trading.Symbol,
		SpreadBps:             cfg.Trading.SpreadBps,
		BidNotional:           cfg.Trading.BidNotional,
		AskNotional:           cfg.Trading.AskNotional,
		BidQty:                cfg.Trading.BidQty,
		AskQty:                cfg.Trading.AskQty,
		RefreshInterval:       cfg.Trading.RefreshInterval,
		RequoteThresholdBps:   cfg.Trading.RequoteThresholdBps,
		ProximityGuardBps:     cfg.Trading.ProximityGuardBps,
		StaleOrderAge:         cfg.Trading.StaleOrderAge,
		MaxSpreadDeviationBps: cfg.Trading.MaxSpreadDeviationBps,
		TPOffsetBps:           cfg.Trading.TPOffsetBps,
		SLOffsetBps:           cfg.Trading.SLOffsetBps,
		AutoCloseFills:        cfg.Trading.AutoCloseFills,
		SkewFactorBps:         cfg.Trading.SkewFactorBps,
		MaxPosition:           cfg.Trading.MaxPosition,
	}
}

// Change is a partial update to the runtime params. Nil fields are left
// untouched. Symbol is deliberately absent: symbol switches go through the
// engine's barrier (stop → reset uptime → feed switch → SetSymbol → restart),
// not through Apply.
type Change struct {
	SpreadBps           *float64       `json:"spread_bps,omitempty"`
	BidNotional         *float64       `json:"bid_notional,omitempty"`
	AskNotional         *float64       `json:"ask_notional,omitempty"`
	BidQty              *float64       `json:"bid_qty,omitempty"`
	AskQty              *float64       `json:"ask_qty,omitempty"`
	RefreshInterval     *time.Duration `json:"refresh_interval,omitempty"`
	RequoteThresholdBps *float64       `json:"requote_threshold_bps,omitempty"`
	TPOffsetBps         *float64       `json:"tp_offset_bps,omitempty"`
	SLOffsetBps         *float64       `json:"sl_offset_bps,omitempty"`
	AutoCloseFills      *bool          `json:"auto_close_fills,omitempty"`
	SkewFactorBps       *float64       `json:"skew_factor_bps,omitempty"`
}

// Empty reports whether the change carries no fields.
func (ch Change) Empty() bool {
	return ch.SpreadBps == nil && ch.BidNotional == nil && ch.AskNotional == nil &&
		ch.BidQty == nil && ch.AskQty == nil &&
		ch.RefreshInterval == nil && ch.RequoteThresholdBps == nil &&
		ch.TPOffsetBps == nil && ch.SLOffsetBps == nil &&
		ch.AutoCloseFills == nil && ch.SkewFactorBps == nil
}

// Runtime holds the runtime-writable params. Reads are lock-free snapshots
// (atomic.Value); writes are serialized and validated against the static
// risk ceiling before publication.
type Runtime struct {
	writeMu     sync.Mutex
	cur         atomic.Value // Params
	maxNotional float64
}

// NewRuntime creates the runtime store seeded with the startup params.
func NewRuntime(p Params, maxNotional float64) *Runtime {
	r := &Runtime{maxNotional: maxNotional}
	r.cur.Store(p)
	return r
}

// Snapshot returns the current params by value.
func (r *Runtime) Snapshot() Params {
	return r.cur.Load().(Params)
}

// Apply validates and publishes a partial update atomically. It returns the
// resulting params and a map of the fields actually updated (for API echo).
func (r *Runtime) Apply(ch Change) (Params, map[string]any, error) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	p := r.Snapshot()
	updated := make(map[string]any)

	if ch.SpreadBps != nil {
		if *ch.SpreadBps <= 0 {
			return p, nil, fmt.Errorf("spread_bps must be > 0")
		}
		p.SpreadBps = *ch.SpreadBps
		updated["spread_bps"] = p.SpreadBps
	}
	if ch.BidNotional != nil {
		if *ch.BidNotional <= 0 {
			return p, nil, fmt.Errorf("bid_notional must be > 0")
		}
		p.BidNotional = *ch.BidNotional
		updated["bid_notional"] = p.BidNotional
	}
	if ch.AskNotional != nil {
		if *ch.AskNotional <= 0 {
			return p, nil, fmt.Errorf("ask_notional must be > 0")
		}
		p.AskNotional = *ch.AskNotional
		updated["ask_notional"] = p.AskNotional
	}
	if ch.BidQty != nil {
		if *ch.BidQty < 0 {
			return p, nil, fmt.Errorf("bid_qty must be >= 0")
		}
		p.BidQty = *ch.BidQty
		updated["bid_qty"] = p.BidQty
	}
	if ch.AskQty != nil {
		if *ch.AskQty < 0 {
			return p, nil, fmt.Errorf("ask_qty must be >= 0")
		}
		p.AskQty = *ch.AskQty
		updated["ask_qty"] = p.AskQty
	}
	if ch.RefreshInterval != nil {
		if *ch.RefreshInterval < 100*time.Millisecond {
			return p, nil, fmt.Errorf("refresh_interval must be >= 100ms")
		}
		p.RefreshInterval = *ch.RefreshInterval
		updated["refresh_interval"] = p.RefreshInterval.String()
	}
	if ch.RequoteThresholdBps != nil {
		if *ch.RequoteThresholdBps <= 0 {
			return p, nil, fmt.Errorf("requote_threshold_bps must be > 0")
		}
		p.RequoteThresholdBps = *ch.RequoteThresholdBps
		updated["requote_threshold_bps"] = p.RequoteThresholdBps
	}
	if ch.TPOffsetBps != nil {
		if *ch.TPOffsetBps < 0 {
			return p, nil, fmt.Errorf("tp_offset_bps must be >= 0")
		}
		p.TPOffsetBps = *ch.TPOffsetBps
		updated["tp_offset_bps"] = p.TPOffsetBps
	}
	if ch.SLOffsetBps != nil {
		if *ch.SLOffsetBps < 0 {
			return p, nil, fmt.Errorf("sl_offset_bps must be >= 0")
		}
		p.SLOffsetBps = *ch.SLOffsetBps
		updated["sl_offset_bps"] = p.SLOffsetBps
	}
	if ch.AutoCloseFills != nil {
		p.AutoCloseFills = *ch.AutoCloseFills
		updated["auto_close_fills"] = p.AutoCloseFills
	}
	if ch.SkewFactorBps != nil {
		if *ch.SkewFactorBps < 0 {
			return p, nil, fmt.Errorf("skew_factor_bps must be >= 0")
		}
		p.SkewFactorBps = *ch.SkewFactorBps
		updated["skew_factor_bps"] = p.SkewFactorBps
	}

	if p.BidNotional+p.AskNotional > r.maxNotional {
		return r.Snapshot(), nil, fmt.Errorf("combined quoted notional %.2f exceeds max_notional %.2f",
			p.BidNotional+p.AskNotional, r.maxNotional)
	}

	r.cur.Store(p)
	return p, updated, nil
}

// SetSymbol publishes a new active symbol. Only the engine's symbol-switch
// barrier calls this, after the feed and uptime tracker have been reset.
func (r *Runtime) SetSymbol(symbol string) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	if !SymbolSupported(symbol) {
		return fmt.Errorf("unsupported symbol %q: must be one of %v", symbol, SupportedSymbols)
	}
	p := r.Snapshot()
	p.Symbol = symbol
	r.cur.Store(p)
	return nil
}
