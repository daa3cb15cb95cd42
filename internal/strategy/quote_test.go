package strategy

import (
	"math"
	"testing"

	"github.com/cyberatlas-baseeth/makerbot/internal/config"
)

func baseParams() config.Params {
	return config.Params{
		Symbol:                "BTC-USD",
		SpreadBps:             5.0,
		BidNotional:           30.0,
		AskNotional:           30.0,
		MaxSpreadDeviationBps: 200.0,
	}
}

func approx(got, want, tol float64) bool {
	return math.Abs(got-want) <= tol
}

func TestGenerateSymmetric(t *testing.T) {
	t.Parallel()

	q := Generate(100000.0, 0, baseParams())

	if !approx(q.BidPrice, 99950.0, 0.001) {
		t.Errorf("bid = %v, want 99950 (5 bps under mid)", q.BidPrice)
	}
	if !approx(q.AskPrice, 100050.0, 0.001) {
		t.Errorf("ask = %v, want 100050 (5 bps over mid)", q.AskPrice)
	}
	if !approx(q.BidSize, 0.0003, 1e-9) {
		t.Errorf("bid size = %v, want 0.0003 (30 USD at mid)", q.BidSize)
	}
	if !approx(q.AskSize, 0.0003, 1e-9) {
		t.Errorf("ask size = %v, want 0.0003", q.AskSize)
	}
	if q.SkewBps != 0 {
		t.Errorf("skew = %v, want 0 with flat inventory", q.SkewBps)
	}
	if !approx(q.SpreadBps, 10.0, 1e-9) {
		t.Errorf("total spread = %v bps, want 10", q.SpreadBps)
	}
	if !q.WithinLimits {
		t.Error("5 bps quote must be within a 200 bps deviation limit")
	}
}

func TestGenerateAsymmetricNotional(t *testing.T) {
	t.Parallel()

	p := baseParams()
	p.BidNotional = 100.0
	p.AskNotional = 50.0

	q := Generate(50000.0, 0, p)
	if !approx(q.BidSize, 0.002, 1e-9) {
		t.Errorf("bid size = %v, want 0.002", q.BidSize)
	}
	if !approx(q.AskSize, 0.001, 1e-9) {
		t.Errorf("ask size = %v, want 0.001", q.AskSize)
	}
}

func TestGenerateQtyOverride(t *testing.T) {
	t.Parallel()

	p := baseParams()
	p.BidQty = 0.005

	q := Generate(50000.0, 0, p)
	if !approx(q.BidSize, 0.005, 1e-9) {
		t.Errorf("bid size = %v, want the 0.005 override", q.BidSize)
	}
	if !approx(q.AskSize, 0.0006, 1e-9) {
		t.Errorf("ask size = %v, want 0.0006 from notional: override is per side", q.AskSize)
	}
}

func TestGenerateLongInventoryWidensBid(t *testing.T) {
	t.Parallel()

	p := baseParams()
	p.SkewFactorBps = 10.0
	p.MaxPosition = 1.0

	// Half of max position long → skew +5 bps on the bid only.
	q := Generate(100000.0, 0.5, p)

	if !approx(q.BidSpreadBps, 10.0, 1e-9) {
		t.Errorf("bid spread = %v bps, want 10 (5 base + 5 skew)", q.BidSpreadBps)
	}
	if !approx(q.AskSpreadBps, 5.0, 1e-9) {
		t.Errorf("ask spread = %v bps, want 5: ask must stay at base", q.AskSpreadBps)
	}
	if !approx(q.SkewBps, 5.0, 1e-9) {
		t.Errorf("skew = %v, want +5", q.SkewBps)
	}
	if !approx(q.BidPrice, 99900.0, 0.001) {
		t.Errorf("bid = %v, want 99900", q.BidPrice)
	}
	if !approx(q.AskPrice, 100050.0, 0.001) {
		t.Errorf("ask = %v, want 100050", q.AskPrice)
	}
}

func TestGenerateShortInventoryWidensAsk(t *testing.T) {
	t.Parallel()

	p := baseParams()
	p.SkewFactorBps = 10.0
	p.MaxPosition = 1.0

	q := Generate(100000.0, -1.0, p)

	if !approx(q.AskSpreadBps, 15.0, 1e-9) {
		t.Errorf("ask spread = %v bps, want 15 (5 base + 10 skew)", q.AskSpreadBps)
	}
	if !approx(q.BidSpreadBps, 5.0, 1e-9) {
		t.Errorf("bid spread = %v bps, want 5: bid must stay at base", q.BidSpreadBps)
	}
}

func TestGenerateSkewClamped(t *testing.T) {
	t.Parallel()

	p := baseParams()
	p.SkewFactorBps = 10.0
	p.MaxPosition = 1.0

	// Three times over the max position still clamps to the full factor.
	q := Generate(100000.0, 3.0, p)
	if !approx(q.SkewBps, 10.0, 1e-9) {
		t.Errorf("skew = %v, want clamped to 10", q.SkewBps)
	}
}

func TestGenerateSkewDisabled(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		mod  func(*config.Params)
	}{
		{"zero factor", func(p *config.Params) { p.SkewFactorBps = 0; p.MaxPosition = 1 }},
		{"zero max position", func(p *config.Params) { p.SkewFactorBps = 10; p.MaxPosition = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := baseParams()
			tt.mod(&p)
			q := Generate(100000.0, 0.5, p)
			if q.SkewBps != 0 {
				t.Errorf("skew = %v, want 0 when disabled", q.SkewBps)
			}
			if q.BidSpreadBps != q.AskSpreadBps {
				t.Error("quote must stay symmetric when skew is disabled")
			}
		})
	}
}

func TestGenerateDeviationLimit(t *testing.T) {
	t.Parallel()

	p := baseParams()
	p.SpreadBps = 250.0 // beyond the 200 bps deviation cap

	q := Generate(100000.0, 0, p)
	if q.WithinLimits {
		t.Error("quote beyond the deviation cap must be flagged invalid")
	}
}

func TestGenerateZeroMid(t *testing.T) {
	t.Parallel()

	q := Generate(0, 0, baseParams())
	if q.MidPrice != 0 || q.BidPrice != 0 || q.AskPrice != 0 {
		t.Errorf("zero mid must yield an empty quote, got %+v", q)
	}
	if q.WithinLimits {
		t.Error("empty quote must not be placeable")
	}
	if q.GeneratedAt.IsZero() {
		t.Error("GeneratedAt should still be stamped")
	}
}
