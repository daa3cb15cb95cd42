package exchange

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mr-tron/base58"

	"github.com/cyberatlas-baseeth/makerbot/internal/config"
	"github.com/cyberatlas-baseeth/makerbot/pkg/types"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	auth := &Auth{}
	if err := auth.SetCredentials("test-token", base58.Encode(priv.Seed()), "", ""); err != nil {
		t.Fatalf("set credentials: %v", err)
	}

	return NewClient(config.APIConfig{BaseURL: srv.URL}, auth, discardLogger())
}

func TestRoundQty(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		size float64
		tick float64
		want string
	}{
		{"floors to tick", 0.00057, 0.0001, "0.0005"},
		{"already aligned", 0.0005, 0.0001, "0.0005"},
		{"bumps zero to one tick", 0.00004, 0.0001, "0.0001"},
		{"coarse tick", 1.27, 0.1, "1.2"},
		{"no float drift", 0.0003, 0.0001, "0.0003"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := RoundQty(tt.size, tt.tick); got != tt.want {
				t.Errorf("RoundQty(%v, %v) = %q, want %q", tt.size, tt.tick, got, tt.want)
			}
		})
	}

	// Rounding an already-rounded value is the identity.
	once := RoundQty(0.12345, 0.0001)
	v, _ := json.Number(once).Float64()
	if twice := RoundQty(v, 0.0001); twice != once {
		t.Errorf("rounding not idempotent: %q then %q", once, twice)
	}
}

func TestRoundPrice(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		price float64
		tick  float64
		side  types.Side
		want  string
	}{
		{"bid floors", 50000.019, 0.01, types.Buy, "50000.01"},
		{"ask ceils", 50000.011, 0.01, types.Sell, "50000.02"},
		{"bid aligned unchanged", 50000.01, 0.01, types.Buy, "50000.01"},
		{"ask aligned unchanged", 50000.01, 0.01, types.Sell, "50000.01"},
		{"eth tick bid", 3000.17, 0.1, types.Buy, "3000.1"},
		{"eth tick ask", 3000.11, 0.1, types.Sell, "3000.2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := RoundPrice(tt.price, tt.tick, tt.side); got != tt.want {
				t.Errorf("RoundPrice(%v, %v, %s) = %q, want %q", tt.price, tt.tick, tt.side, got, tt.want)
			}
		})
	}
}

func TestPlaceLimit(t *testing.T) {
	t.Parallel()

	var got types.NewOrderRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/new_order" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-token" {
			t.Errorf("missing bearer header")
		}
		if r.Header.Get("x-request-signature") == "" {
			t.Errorf("missing signature header")
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"order_id": 123456}`))
	})

	id, err := c.PlaceLimit(context.Background(), LimitOrderParams{
		Symbol: "BTC-USD",
		Side:   types.Buy,
		Price:  50000.019,
		Size:   0.00057,
	})
	if err != nil {
		t.Fatalf("PlaceLimit: %v", err)
	}
	if id != "123456" {
		t.Errorf("id = %q, want 123456", id)
	}

	if got.OrderType != "limit" || got.TimeInForce != "gtc" {
		t.Errorf("order type/tif = %s/%s", got.OrderType, got.TimeInForce)
	}
	if got.Price != "50000.01" {
		t.Errorf("price = %q, want floored 50000.01", got.Price)
	}
	if got.Qty != "0.0005" {
		t.Errorf("qty = %q, want floored 0.0005", got.Qty)
	}
	if got.ReduceOnly {
		t.Error("quote must not be reduce-only")
	}
}

func TestPlaceLimitWithTriggers(t *testing.T) {
	t.Parallel()

	var got types.NewOrderRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"id": "ord-9"}`))
	})

	// Buy at 50000: tp 100 bps above = 50500, sl 50 bps below = 49750.
	_, err := c.PlaceLimit(context.Background(), LimitOrderParams{
		Symbol:      "BTC-USD",
		Side:        types.Buy,
		Price:       50000,
		Size:        0.001,
		TPOffsetBps: 100,
		SLOffsetBps: 50,
	})
	if err != nil {
		t.Fatalf("PlaceLimit: %v", err)
	}
	if got.TakeProfit != "50500" {
		t.Errorf("take_profit = %q, want 50500", got.TakeProfit)
	}
	if got.StopLoss != "49750" {
		t.Errorf("stop_loss = %q, want 49750", got.StopLoss)
	}
}

func TestPlaceLimitQtyRejected(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"qty below minimum"}`))
	})

	_, err := c.PlaceLimit(context.Background(), LimitOrderParams{
		Symbol: "BTC-USD", Side: types.Buy, Price: 50000, Size: 0.00001,
	})
	if !errors.Is(err, ErrQtyRejected) {
		t.Errorf("err = %v, want ErrQtyRejected", err)
	}
}

func TestPlaceLimitHardRejection(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"invalid symbol"}`))
	})

	_, err := c.PlaceLimit(context.Background(), LimitOrderParams{
		Symbol: "BTC-USD", Side: types.Buy, Price: 50000, Size: 0.001,
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if errors.Is(err, ErrQtyRejected) {
		t.Error("non-qty rejection must not be a soft failure")
	}
}

func TestPlaceMarketReduceOnly(t *testing.T) {
	t.Parallel()

	var got types.NewOrderRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{}`))
	})

	err := c.PlaceMarketReduceOnly(context.Background(), "BTC-USD", types.Sell, 0.0025)
	if err != nil {
		t.Fatalf("PlaceMarketReduceOnly: %v", err)
	}
	if got.OrderType != "market" || got.TimeInForce != "ioc" || !got.ReduceOnly {
		t.Errorf("got %+v, want ioc reduce-only market order", got)
	}
	if got.Price != "" {
		t.Errorf("market order must not carry a price, got %q", got.Price)
	}
	if got.Qty != "0.0025" {
		t.Errorf("qty = %q, want 0.0025", got.Qty)
	}
}

func TestCancelOrder(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		status   int
		wantGone bool
		wantErr  bool
	}{
		{"ok", http.StatusOK, false, false},
		{"already gone 404", http.StatusNotFound, true, false},
		{"already gone 422", http.StatusUnprocessableEntity, true, false},
		{"rejected", http.StatusForbidden, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/api/cancel_order" {
					t.Errorf("path = %s", r.URL.Path)
				}
				var req types.CancelOrderRequest
				json.NewDecoder(r.Body).Decode(&req)
				if req.OrderID != "42" {
					t.Errorf("order_id = %q, want 42", req.OrderID)
				}
				w.WriteHeader(tt.status)
				w.Write([]byte(`{}`))
			})

			gone, err := c.CancelOrder(context.Background(), "42")
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if gone != tt.wantGone {
				t.Errorf("gone = %v, want %v", gone, tt.wantGone)
			}
		})
	}
}

func TestCancelAll(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/cancel_all_orders" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var req types.CancelAllRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Symbol != "ETH-USD" {
			t.Errorf("symbol = %q, want ETH-USD", req.Symbol)
		}
		w.Write([]byte(`{}`))
	})

	if err := c.CancelAll(context.Background(), "ETH-USD"); err != nil {
		t.Fatalf("CancelAll: %v", err)
	}
}

func TestOpenOrders(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/query_open_orders" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.URL.Query().Get("symbol") != "BTC-USD" {
			t.Errorf("symbol param = %q", r.URL.Query().Get("symbol"))
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"result":[
			{"id": 77, "symbol":"BTC-USD","side":"buy","price":"49990.00","qty":"0.001"},
			{"id": "ord-88", "symbol":"BTC-USD","side":"sell","price":"50010.00","qty":"0.001"}
		]}`))
	})

	orders, err := c.OpenOrders(context.Background(), "BTC-USD")
	if err != nil {
		t.Fatalf("OpenOrders: %v", err)
	}
	if len(orders) != 2 {
		t.Fatalf("got %d orders, want 2", len(orders))
	}
	if orders[0].ID != "77" {
		t.Errorf("numeric id normalized to %q, want 77", orders[0].ID)
	}
	if orders[1].ID != "ord-88" {
		t.Errorf("string id = %q, want ord-88", orders[1].ID)
	}
}

func TestPositions(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"result":[
			{"symbol":"BTC-USD","qty":"0.5","entry_price":"50000"},
			{"symbol":"ETH-USD","qty":"-2","entry_price":"3000"},
			{"symbol":"XAU-USD","qty":"0","entry_price":"0"},
			{"symbol":"XAG-USD","qty":"junk","entry_price":"0"}
		]}`))
	})

	positions, err := c.Positions(context.Background())
	if err != nil {
		t.Fatalf("Positions: %v", err)
	}
	if len(positions) != 3 {
		t.Fatalf("got %d positions, want 3 (unparseable entry skipped)", len(positions))
	}
	if positions[0].Side != types.Long || positions[0].Size != 0.5 {
		t.Errorf("BTC position = %+v, want long 0.5", positions[0])
	}
	if positions[1].Side != types.Short || positions[1].Size != 2 {
		t.Errorf("ETH position = %+v, want short 2", positions[1])
	}
	if positions[2].Side != types.Flat {
		t.Errorf("XAU position = %+v, want flat", positions[2])
	}
}

func TestQueryFailureReturnsError(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	if _, err := c.OpenOrders(context.Background(), "BTC-USD"); err == nil {
		t.Error("expected error for 401 open orders")
	}
	if _, err := c.Positions(context.Background()); err == nil {
		t.Error("expected error for 401 positions")
	}
}
