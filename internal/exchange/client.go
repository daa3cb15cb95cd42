// client.go implements the StandX perpetuals REST client:
//   - PlaceLimit:           POST /api/new_order          — post-only style gtc limit order
//   - PlaceMarketReduceOnly POST /api/new_order          — ioc market order to flatten fills
//   - CancelOrder:          POST /api/cancel_order       — cancel one order by id
//   - CancelAll:            POST /api/cancel_all_orders  — cancel everything for a symbol
//   - OpenOrders:           GET  /api/query_open_orders  — resting orders for a symbol
//   - Positions:            GET  /api/query_positions    — net positions
//
// Every request is rate-limited via per-category TokenBuckets, automatically
// retried on 5xx errors, and carries bearer + Ed25519 signature headers on
// mutating calls. All prices and quantities are tick-aligned with decimal
// arithmetic before they touch the wire.
package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"github.com/cyberatlas-baseeth/makerbot/internal/config"
	"github.com/cyberatlas-baseeth/makerbot/pkg/types"
)

// ErrQtyRejected marks a placement the exchange refused because the rounded
// quantity fell below its minimum. The quoting loop treats it as a soft
// failure: log and requote next tick, no failure budget consumed.
var ErrQtyRejected = errors.New("order qty rejected")

// Client is the StandX REST API client. It wraps a resty HTTP client with
// rate limiting, retry and signed auth headers.
type Client struct {
	http   *resty.Client
	auth   *Auth
	rl     *RateLimiter
	logger *slog.Logger
}

// NewClient creates a REST client with rate limiting and retry.
func NewClient(cfg config.APIConfig, auth *Auth, logger *slog.Logger) *Client {
	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json")

	return &Client{
		http:   httpClient,
		auth:   auth,
		rl:     NewRateLimiter(),
		logger: logger,
	}
}

// LimitOrderParams describes one resting quote to place. Prices and sizes
// arrive un-rounded from the quote generator; the client aligns them to the
// symbol's ticks. TP/SL offsets are in bps from the order price; zero
// disables the trigger.
type LimitOrderParams struct {
	Symbol      string
	Side        types.Side
	Price       float64
	Size        float64
	TPOffsetBps float64
	SLOffsetBps float64
}

// PlaceLimit places a gtc limit order and returns the exchange order id.
// Quantity is floored to the qty tick and bumped to one tick if flooring
// produced zero; bid prices are floored and ask prices ceiled to the price
// tick so a rounded quote can never cross its own target.
func (c *Client) PlaceLimit(ctx context.Context, p LimitOrderParams) (types.OrderID, error) {
	if err := c.rl.Order.Wait(ctx); err != nil {
		return "", err
	}

	price := RoundPrice(p.Price, config.PriceTick(p.Symbol), p.Side)
	qty := RoundQty(p.Size, config.QtyTick(p.Symbol))

	req := types.NewOrderRequest{
		Symbol:      p.Symbol,
		Side:        p.Side,
		OrderType:   "limit",
		Qty:         qty,
		Price:       price,
		TimeInForce: "gtc",
	}
	if p.TPOffsetBps > 0 {
		req.TakeProfit = triggerPrice(price, p.TPOffsetBps, p.Symbol, p.Side == types.Buy)
	}
	if p.SLOffsetBps > 0 {
		req.StopLoss = triggerPrice(price, p.SLOffsetBps, p.Symbol, p.Side == types.Sell)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal order: %w", err)
	}
	headers, err := c.auth.FullHeaders(string(body))
	if err != nil {
		return "", fmt.Errorf("sign order: %w", err)
	}

	var result types.NewOrderResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetBody(json.RawMessage(body)).
		SetResult(&result).
		Post("/api/new_order")
	if err != nil {
		return "", fmt.Errorf("place order: %w", err)
	}
	if resp.StatusCode() == http.StatusBadRequest && strings.Contains(strings.ToLower(resp.String()), "qty") {
		c.logger.Warn("order qty rejected",
			"symbol", p.Symbol, "side", p.Side, "qty", qty, "response", resp.String())
		return "", ErrQtyRejected
	}
	if resp.StatusCode() != http.StatusOK {
		return "", fmt.Errorf("place order: status %d: %s", resp.StatusCode(), resp.String())
	}

	return result.ResolvedID(), nil
}

// PlaceMarketReduceOnly places an ioc reduce-only market order, used to
// flatten an accidental fill.
func (c *Client) PlaceMarketReduceOnly(ctx context.Context, symbol string, side types.Side, size float64) error {
	if err := c.rl.Order.Wait(ctx); err != nil {
		return err
	}

	req := types.NewOrderRequest{
		Symbol:      symbol,
		Side:        side,
		OrderType:   "market",
		Qty:         RoundQty(size, config.QtyTick(symbol)),
		TimeInForce: "ioc",
		ReduceOnly:  true,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal market order: %w", err)
	}
	headers, err := c.auth.FullHeaders(string(body))
	if err != nil {
		return fmt.Errorf("sign market order: %w", err)
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetBody(json.RawMessage(body)).
		Post("/api/new_order")
	if err != nil {
		return fmt.Errorf("market order: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("market order: status %d: %s", resp.StatusCode(), resp.String())
	}

	c.logger.Info("reduce-only market order placed", "symbol", symbol, "side", side, "qty", req.Qty)
	return nil
}

// CancelOrder cancels one order by id. gone=true means the exchange reported
// the order already terminal (404/422), which callers treat as success: the
// resting order no longer exists either way.
func (c *Client) CancelOrder(ctx context.Context, id types.OrderID) (gone bool, err error) {
	if err := c.rl.Cancel.Wait(ctx); err != nil {
		return false, err
	}

	body, err := json.Marshal(types.CancelOrderRequest{OrderID: id})
	if err != nil {
		return false, fmt.Errorf("marshal cancel: %w", err)
	}
	headers, err := c.auth.FullHeaders(string(body))
	if err != nil {
		return false, fmt.Errorf("sign cancel: %w", err)
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetBody(json.RawMessage(body)).
		Post("/api/cancel_order")
	if err != nil {
		return false, fmt.Errorf("cancel order: %w", err)
	}

	switch resp.StatusCode() {
	case http.StatusOK:
		return false, nil
	case http.StatusNotFound, http.StatusUnprocessableEntity:
		c.logger.Debug("order already gone", "order_id", id, "status", resp.StatusCode())
		return true, nil
	default:
		return false, fmt.Errorf("cancel order: status %d: %s", resp.StatusCode(), resp.String())
	}
}

// CancelAll cancels every open order for a symbol. Used on shutdown, kill
// and the symbol-switch barrier.
func (c *Client) CancelAll(ctx context.Context, symbol string) error {
	if err := c.rl.Cancel.Wait(ctx); err != nil {
		return err
	}

	body, err := json.Marshal(types.CancelAllRequest{Symbol: symbol})
	if err != nil {
		return fmt.Errorf("marshal cancel all: %w", err)
	}
	headers, err := c.auth.FullHeaders(string(body))
	if err != nil {
		return fmt.Errorf("sign cancel all: %w", err)
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetBody(json.RawMessage(body)).
		Post("/api/cancel_all_orders")
	if err != nil {
		return fmt.Errorf("cancel all: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("cancel all: status %d: %s", resp.StatusCode(), resp.String())
	}

	c.logger.Warn("all orders cancelled", "symbol", symbol)
	return nil
}

// OpenOrders returns the resting orders for a symbol.
func (c *Client) OpenOrders(ctx context.Context, symbol string) ([]types.OpenOrder, error) {
	if err := c.rl.Query.Wait(ctx); err != nil {
		return nil, err
	}

	var result types.OpenOrdersResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(c.auth.AuthHeaders()).
		SetQueryParam("symbol", symbol).
		SetResult(&result).
		Get("/api/query_open_orders")
	if err != nil {
		return nil, fmt.Errorf("open orders: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("open orders: status %d: %s", resp.StatusCode(), resp.String())
	}
	return result.Result, nil
}

// Positions returns the net position per symbol. Entries with zero qty are
// reported as flat.
func (c *Client) Positions(ctx context.Context) ([]types.Position, error) {
	if err := c.rl.Query.Wait(ctx); err != nil {
		return nil, err
	}

	var result types.PositionsResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(c.auth.AuthHeaders()).
		SetResult(&result).
		Get("/api/query_positions")
	if err != nil {
		return nil, fmt.Errorf("positions: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("positions: status %d: %s", resp.StatusCode(), resp.String())
	}

	positions := make([]types.Position, 0, len(result.Result))
	for _, entry := range result.Result {
		qty, err := strconv.ParseFloat(entry.Qty, 64)
		if err != nil {
			c.logger.Warn("unparseable position qty", "symbol", entry.Symbol, "qty", entry.Qty)
			continue
		}
		entryPrice, _ := strconv.ParseFloat(entry.EntryPrice, 64)

		pos := types.Position{Symbol: entry.Symbol, EntryPrice: entryPrice}
		switch {
		case qty > 0:
			pos.Side, pos.Size = types.Long, qty
		case qty < 0:
			pos.Side, pos.Size = types.Short, -qty
		default:
			pos.Side = types.Flat
		}
		positions = append(positions, pos)
	}
	return positions, nil
}

// RoundQty floors a quantity to the tick and bumps a zero result up to one
// tick, so a configured notional that rounds below the minimum still quotes
// the smallest allowed size rather than nothing.
func RoundQty(size, tick float64) string {
	t := decimal.NewFromFloat(tick)
	q := decimal.NewFromFloat(size).Div(t).Floor().Mul(t)
	if q.IsZero() {
		q = t
	}
	return q.String()
}

// RoundPrice aligns a price to the tick: bids floor, asks ceil. The rounded
// price never lands on the aggressive side of the raw target.
func RoundPrice(price, tick float64, side types.Side) string {
	t := decimal.NewFromFloat(tick)
	steps := decimal.NewFromFloat(price).Div(t)
	if side == types.Buy {
		steps = steps.Floor()
	} else {
		steps = steps.Ceil()
	}
	return steps.Mul(t).String()
}

// triggerPrice computes an absolute TP/SL price offset in bps from the order
// price. above places the trigger over the order price, otherwise under.
func triggerPrice(orderPrice string, offsetBps float64, symbol string, above bool) string {
	p, err := decimal.NewFromString(orderPrice)
	if err != nil {
		return ""
	}
	off := p.Mul(decimal.NewFromFloat(offsetBps / 10000.0))
	trigger := p.Sub(off)
	if above {
		trigger = p.Add(off)
	}

	t := decimal.NewFromFloat(config.PriceTick(symbol))
	return trigger.Div(t).Round(0).Mul(t).String()
}
