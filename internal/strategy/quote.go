// Package strategy computes the two-sided quote around mid.
//
// The generator is pure: mid, inventory and the runtime params go in, an
// immutable Quote comes out. All exchange interaction (tick rounding, order
// placement) happens downstream in the engine and REST client, which keeps
// this package trivially testable.
package strategy

import (
	"time"

	"github.com/cyberatlas-baseeth/makerbot/internal/config"
	"github.com/cyberatlas-baseeth/makerbot/pkg/types"
)

// Generate builds a symmetric quote around mid and applies inventory skew.
//
// Each side starts at the configured half-spread. A net position widens the
// side that would grow it further: long inventory pushes the bid away from
// mid, short inventory pushes the ask. The opposite side stays at the base
// half-spread, so the book keeps leaning back toward flat.
//
// Sizes are the per-side notionals divided by mid, unless a fixed per-side
// qty override is set. WithinLimits is false when either side deviates from
// mid beyond MaxSpreadDeviationBps; such a quote must not be placed.
func Generate(mid, inventory float64, p config.Params) types.Quote {
	if mid <= 0 {
		return types.Quote{GeneratedAt: time.Now()}
	}

	skew := skewBps(inventory, p)

	bidSpread := p.SpreadBps
	askSpread := p.SpreadBps
	if skew > 0 {
		bidSpread += skew
	} else if skew < 0 {
		askSpread += -skew
	}

	bidSize := p.BidNotional / mid
	if p.BidQty > 0 {
		bidSize = p.BidQty
	}
	askSize := p.AskNotional / mid
	if p.AskQty > 0 {
		askSize = p.AskQty
	}

	q := types.Quote{
		MidPrice:     mid,
		BidPrice:     mid * (1 - bidSpread/10000.0),
		AskPrice:     mid * (1 + askSpread/10000.0),
		BidSize:      bidSize,
		AskSize:      askSize,
		SpreadBps:    bidSpread + askSpread,
		BidSpreadBps: bidSpread,
		AskSpreadBps: askSpread,
		SkewBps:      skew,
		GeneratedAt:  time.Now(),
	}
	q.WithinLimits = q.BidDeviationBps() <= p.MaxSpreadDeviationBps &&
		q.AskDeviationBps() <= p.MaxSpreadDeviationBps

	return q
}

// skewBps maps signed inventory to a spread adjustment in bps. The ratio is
// clamped to [-1, 1] so a position beyond MaxPosition cannot push a side
// past base + SkewFactorBps.
func skewBps(inventory float64, p config.Params) float64 {
	if p.SkewFactorBps <= 0 || p.MaxPosition <= 0 {
		return 0
	}
	ratio := inventory / p.MaxPosition
	if ratio > 1 {
		ratio = 1
	} else if ratio < -1 {
		ratio = -1
	}
	return ratio * p.SkewFactorBps
}
