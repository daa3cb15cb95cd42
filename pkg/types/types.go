// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the bot — order sides, the
// two-sided quote record, the local order shadow, and the REST/WebSocket
// wire payloads for the StandX perpetuals API. It has no dependencies on
// internal packages, so it can be imported by any layer.
package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// Side represents the direction of an order. StandX uses lowercase on the wire.
type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

// Opposite returns the side that reduces a position opened on s.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// OrderStatus tracks the local lifecycle of a shadow order.
// Orders never revive: open → cancelled (explicit cancel succeeded) or
// open → gone (exchange reported the order already terminal).
type OrderStatus string

const (
	StatusOpen      OrderStatus = "open"
	StatusCancelled OrderStatus = "cancelled"
	StatusGone      OrderStatus = "gone"
)

// PositionSide classifies a net position.
type PositionSide string

const (
	Long  PositionSide = "long"
	Short PositionSide = "short"
	Flat  PositionSide = "flat"
)

// ————————————————————————————————————————————————————————————————————————
// Order identity
// ————————————————————————————————————————————————————————————————————————

// OrderID is the exchange order identifier. The StandX API returns it as a
// JSON number in some responses and as a string in others, so unmarshalling
// accepts both and normalizes to a string.
type OrderID string

// UnmarshalJSON accepts both string and numeric order ids.
func (id *OrderID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = OrderID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("order id: %w", err)
	}
	*id = OrderID(n.String())
	return nil
}

// ————————————————————————————————————————————————————————————————————————
// Book, quote, orders, positions
// ————————————————————————————————————————————————————————————————————————

// PriceLevel is a single bid or ask level in the local order book.
type PriceLevel struct {
	Price     float64   `json:"price"`
	Size      float64   `json:"size"`
	Timestamp time.Time `json:"timestamp"`
}

// Quote is an immutable two-sided quote produced by the generator.
// Half-spreads are per side in bps; SpreadBps is their sum. WithinLimits
// is fixed at generation time against the configured max deviation.
type Quote struct {
	MidPrice     float64 `json:"mid_price"`
	BidPrice     float64 `json:"bid_price"`
	BidSize      float64 `json:"bid_size"`
	AskPrice     float64 `json:"ask_price"`
	AskSize      float64 `json:"ask_size"`
	SpreadBps    float64 `json:"spread_bps"`
	BidSpreadBps float64 `json:"bid_spread_bps"`
	AskSpreadBps float64 `json:"ask_spread_bps"`
	SkewBps      float64 `json:"skew_bps"`
	WithinLimits bool    `json:"within_limits"`

	GeneratedAt time.Time `json:"generated_at"`
}

// BidDeviationBps returns how far the bid sits below mid, in bps.
func (q Quote) BidDeviationBps() float64 {
	if q.MidPrice == 0 {
		return 0
	}
	return (q.MidPrice - q.BidPrice) / q.MidPrice * 10000.0
}

// AskDeviationBps returns how far the ask sits above mid, in bps.
func (q Quote) AskDeviationBps() float64 {
	if q.MidPrice == 0 {
		return 0
	}
	return (q.AskPrice - q.MidPrice) / q.MidPrice * 10000.0
}

// ActiveOrder is the local shadow of one resting exchange order.
// The shadow is authoritative only for "which orders do I believe I own";
// the exchange remains the source of truth for fills.
type ActiveOrder struct {
	OrderID  OrderID     `json:"order_id"`
	Side     Side        `json:"side"`
	Price    float64     `json:"price"`
	Size     float64     `json:"size"`
	PlacedAt time.Time   `json:"placed_at"`
	Status   OrderStatus `json:"status"`
}

// IsStale reports whether the order has been resting longer than maxAge.
func (o ActiveOrder) IsStale(maxAge time.Duration) bool {
	return time.Since(o.PlacedAt) > maxAge
}

// DriftBps returns the distance between the order's price and the target
// price, expressed in bps of mid.
func (o ActiveOrder) DriftBps(target, mid float64) float64 {
	if mid == 0 {
		return 0
	}
	d := o.Price - target
	if d < 0 {
		d = -d
	}
	return d / mid * 10000.0
}

// AgeSeconds returns how long the order has been resting.
func (o ActiveOrder) AgeSeconds() float64 {
	return time.Since(o.PlacedAt).Seconds()
}

// Position is a transient snapshot of the net position in one symbol,
// held only while the engine decides whether to flatten.
type Position struct {
	Symbol     string       `json:"symbol"`
	Side       PositionSide `json:"side"`
	Size       float64      `json:"size"` // absolute
	EntryPrice float64      `json:"entry_price"`
}

// SignedSize returns the position size with sign (+long / −short).
func (p Position) SignedSize() float64 {
	if p.Side == Short {
		return -p.Size
	}
	if p.Side == Flat {
		return 0
	}
	return p.Size
}

// ————————————————————————————————————————————————————————————————————————
// REST wire payloads
// ————————————————————————————————————————————————————————————————————————
// Numbers are string-encoded on the wire to preserve decimal precision,
// matching what the StandX API accepts and returns.

// NewOrderRequest is the body for POST /api/new_order.
type NewOrderRequest struct {
	Symbol      string `json:"symbol"`
	Side        Side   `json:"side"`
	OrderType   string `json:"order_type"` // "limit" or "market"
	Qty         string `json:"qty"`
	Price       string `json:"price,omitempty"`
	TimeInForce string `json:"time_in_force"` // "gtc" or "ioc"
	ReduceOnly  bool   `json:"reduce_only"`
	TakeProfit  string `json:"take_profit,omitempty"` // absolute price
	StopLoss    string `json:"stop_loss,omitempty"`   // absolute price
}

// NewOrderResponse is returned by POST /api/new_order. The id arrives under
// either key depending on the endpoint revision.
type NewOrderResponse struct {
	OrderID OrderID `json:"order_id"`
	ID      OrderID `json:"id"`
}

// ResolvedID returns whichever id field the exchange populated.
func (r NewOrderResponse) ResolvedID() OrderID {
	if r.OrderID != "" {
		return r.OrderID
	}
	return r.ID
}

// CancelOrderRequest is the body for POST /api/cancel_order.
type CancelOrderRequest struct {
	OrderID OrderID `json:"order_id"`
}

// CancelAllRequest is the body for POST /api/cancel_all_orders.
type CancelAllRequest struct {
	Symbol string `json:"symbol"`
}

// OpenOrder is one entry of GET /api/query_open_orders.
type OpenOrder struct {
	ID     OrderID `json:"id"`
	Symbol string  `json:"symbol"`
	Side   Side    `json:"side"`
	Price  string  `json:"price"`
	Qty    string  `json:"qty"`
}

// OpenOrdersResponse wraps the open-orders query result.
type OpenOrdersResponse struct {
	Result []OpenOrder `json:"result"`
}

// PositionEntry is one entry of GET /api/query_positions. Qty is signed:
// positive = long, negative = short.
type PositionEntry struct {
	Symbol     string `json:"symbol"`
	Qty        string `json:"qty"`
	EntryPrice string `json:"entry_price"`
}

// PositionsResponse wraps the positions query result.
type PositionsResponse struct {
	Result []PositionEntry `json:"result"`
}

// ————————————————————————————————————————————————————————————————————————
// WebSocket wire payloads
// ————————————————————————————————————————————————————————————————————————

// WSEnvelope is the outer shape of every inbound stream frame. Channel
// routes the frame; Data is decoded per channel. Code/Type mark control
// frames (subscribe confirmations, pong, heartbeat).
type WSEnvelope struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
	Code    int             `json:"code,omitempty"`
	Type    string          `json:"type,omitempty"`
}

// WSDepthData is the payload of a depth_book frame: the full top-of-book
// as string-encoded [price, size] pairs.
type WSDepthData struct {
	Symbol string     `json:"symbol"`
	Bids   [][]string `json:"bids"`
	Asks   [][]string `json:"asks"`
}

// WSChannelSub names a channel subscription for one symbol.
type WSChannelSub struct {
	Channel string `json:"channel"`
	Symbol  string `json:"symbol"`
}

// WSSubscribeMsg subscribes or unsubscribes a channel. Exactly one of the
// two fields is set.
type WSSubscribeMsg struct {
	Subscribe   *WSChannelSub `json:"subscribe,omitempty"`
	Unsubscribe *WSChannelSub `json:"unsubscribe,omitempty"`
}

// WSAuthStream names one authenticated user stream.
type WSAuthStream struct {
	Channel string `json:"channel"`
}

// WSAuthPayload carries the bearer token and requested user streams.
type WSAuthPayload struct {
	Token   string         `json:"token"`
	Streams []WSAuthStream `json:"streams"`
}

// WSAuthMsg is the authentication frame sent after connect when a token
// is available.
type WSAuthMsg struct {
	Auth WSAuthPayload `json:"auth"`
}
