package types

import (
	"encoding/json"
	"testing"
	"time"
)

func TestOrderIDUnmarshal(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want OrderID
	}{
		{"string id", `"abc-123"`, "abc-123"},
		{"integer id", `987654321`, "987654321"},
		{"large integer id", `9007199254740993`, "9007199254740993"},
		{"null id", `null`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var id OrderID
			if err := json.Unmarshal([]byte(tt.in), &id); err != nil {
				t.Fatalf("unmarshal %s: %v", tt.in, err)
			}
			if id != tt.want {
				t.Errorf("id = %q, want %q", id, tt.want)
			}
		})
	}
}

func TestNewOrderResponseResolvedID(t *testing.T) {
	t.Parallel()

	var resp NewOrderResponse
	if err := json.Unmarshal([]byte(`{"order_id": 42}`), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.ResolvedID() != "42" {
		t.Errorf("ResolvedID = %q, want \"42\"", resp.ResolvedID())
	}

	resp = NewOrderResponse{}
	if err := json.Unmarshal([]byte(`{"id": "ord-7"}`), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.ResolvedID() != "ord-7" {
		t.Errorf("ResolvedID = %q, want \"ord-7\"", resp.ResolvedID())
	}
}

func TestSideOpposite(t *testing.T) {
	t.Parallel()

	if Buy.Opposite() != Sell {
		t.Error("Buy.Opposite() should be Sell")
	}
	if Sell.Opposite() != Buy {
		t.Error("Sell.Opposite() should be Buy")
	}
}

func TestActiveOrderIsStale(t *testing.T) {
	t.Parallel()

	o := ActiveOrder{PlacedAt: time.Now().Add(-31 * time.Second)}
	if !o.IsStale(30 * time.Second) {
		t.Error("31s-old order should be stale at 30s max age")
	}
	if o.IsStale(60 * time.Second) {
		t.Error("31s-old order should not be stale at 60s max age")
	}
}

func TestActiveOrderDriftBps(t *testing.T) {
	t.Parallel()

	o := ActiveOrder{Price: 999.0}
	got := o.DriftBps(1000.0, 1000.0)
	if got < 9.99 || got > 10.01 {
		t.Errorf("DriftBps = %v, want ~10", got)
	}
	if o.DriftBps(1000.0, 0) != 0 {
		t.Error("DriftBps with zero mid should be 0")
	}
}

func TestQuoteDeviations(t *testing.T) {
	t.Parallel()

	q := Quote{MidPrice: 1000.0, BidPrice: 999.5, AskPrice: 1000.5}
	if dev := q.BidDeviationBps(); dev < 4.99 || dev > 5.01 {
		t.Errorf("bid deviation = %v, want ~5", dev)
	}
	if dev := q.AskDeviationBps(); dev < 4.99 || dev > 5.01 {
		t.Errorf("ask deviation = %v, want ~5", dev)
	}

	zero := Quote{}
	if zero.BidDeviationBps() != 0 || zero.AskDeviationBps() != 0 {
		t.Error("zero-mid quote should have zero deviations")
	}
}

func TestPositionSignedSize(t *testing.T) {
	t.Parallel()

	if (Position{Side: Long, Size: 2.5}).SignedSize() != 2.5 {
		t.Error("long position should have positive signed size")
	}
	if (Position{Side: Short, Size: 2.5}).SignedSize() != -2.5 {
		t.Error("short position should have negative signed size")
	}
	if (Position{Side: Flat, Size: 0}).SignedSize() != 0 {
		t.Error("flat position should have zero signed size")
	}
}
