// Package engine is the central orchestrator of the maker bot.
//
// The engine runs one quoting loop for one symbol. Every tick it:
//
//  1. snapshots the runtime params,
//  2. flattens any accidental fill with a reduce-only market order,
//  3. reads mid from the local book mirror,
//  4. derives a target quote through the strategy generator,
//  5. reconciles the two resting orders against the target (proximity,
//     drift, staleness), cancelling and reposting when any side needs action,
//  6. reports has-both-sides plus the configured spread to the uptime tracker.
//
// A budget of consecutive hard failures trips the kill switch: the engine
// transitions to the error state and cancels everything once.
//
// Lifecycle: New() → Start() → [Stop()|Kill()|SwitchSymbol()] → Start() …
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cyberatlas-baseeth/makerbot/internal/config"
	"github.com/cyberatlas-baseeth/makerbot/internal/exchange"
	"github.com/cyberatlas-baseeth/makerbot/internal/market"
	"github.com/cyberatlas-baseeth/makerbot/internal/metrics"
	"github.com/cyberatlas-baseeth/makerbot/internal/strategy"
	"github.com/cyberatlas-baseeth/makerbot/internal/uptime"
	"github.com/cyberatlas-baseeth/makerbot/pkg/types"
)

// Status is the engine lifecycle state.
type Status string

const (
	StatusStopped Status = "stopped"
	StatusRunning Status = "running"
	StatusError   Status = "error"  // failure budget exhausted
	StatusKilled  Status = "killed" // operator kill switch
)

// settleDelay is the pause inside the symbol-switch barrier between
// rebinding the feed and restarting the loop, giving the first depth
// snapshot for the new symbol time to arrive.
const settleDelay = time.Second

// cancelReason labels why a resting order was evicted.
type cancelReason string

const (
	reasonProximity cancelReason = "proximity"
	reasonDrift     cancelReason = "drift"
	reasonStale     cancelReason = "stale"
	reasonRefresh   cancelReason = "refresh" // other side forced the refresh
	reasonShutdown  cancelReason = "shutdown"
)

// OrderClient is the slice of the exchange client the engine drives.
// *exchange.Client satisfies it; tests substitute a scripted fake.
type OrderClient interface {
	PlaceLimit(ctx context.Context, p exchange.LimitOrderParams) (types.OrderID, error)
	PlaceMarketReduceOnly(ctx context.Context, symbol string, side types.Side, size float64) error
	CancelOrder(ctx context.Context, id types.OrderID) (gone bool, err error)
	CancelAll(ctx context.Context, symbol string) error
	OpenOrders(ctx context.Context, symbol string) ([]types.OpenOrder, error)
	Positions(ctx context.Context) ([]types.Position, error)
}

// DepthSwitcher is the slice of the depth feed the symbol barrier needs.
type DepthSwitcher interface {
	SwitchSymbol(symbol string) error
}

// Engine owns the quoting loop, the shadow-order map and the failure budget.
type Engine struct {
	runtime *config.Runtime
	book    *market.Book
	feed    DepthSwitcher
	client  OrderClient
	tracker *uptime.Tracker
	logger  *slog.Logger

	maxFailures int

	// mu protects everything below. The loop goroutine is the only writer
	// during a tick; the dashboard reads snapshots.
	mu           sync.Mutex
	status       Status
	orders       map[types.Side]types.ActiveOrder
	lastQuote    types.Quote
	failures     int
	tickCount    int64
	lastError    string
	loopCancel   context.CancelFunc
	loopDone     chan struct{}
	cancelledAll bool // kill switch fired cancel-all already
}

// New wires the engine. The book, feed, client and tracker are constructed
// by the caller so tests can substitute any of them.
func New(runtime *config.Runtime, book *market.Book, feed DepthSwitcher, client OrderClient,
	tracker *uptime.Tracker, maxFailures int, logger *slog.Logger) *Engine {
	return &Engine{
		runtime:     runtime,
		book:        book,
		feed:        feed,
		client:      client,
		tracker:     tracker,
		maxFailures: maxFailures,
		logger:      logger.With("component", "engine"),
		status:      StatusStopped,
		orders:      make(map[types.Side]types.ActiveOrder),
	}
}

// Status returns the current lifecycle state.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// Start launches the quoting loop. Restarting from error or killed clears
// the failure streak.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.status == StatusRunning {
		return fmt.Errorf("engine already running")
	}

	loopCtx, cancel := context.WithCancel(ctx)
	e.loopCancel = cancel
	e.loopDone = make(chan struct{})
	e.status = StatusRunning
	e.failures = 0
	e.cancelledAll = false
	e.lastError = ""

	go e.run(loopCtx, e.loopDone)

	e.logger.Info("engine started", "symbol", e.runtime.Snapshot().Symbol)
	return nil
}

// Stop halts the loop and best-effort cancels all resting orders.
func (e *Engine) Stop(ctx context.Context) {
	e.halt(ctx, StatusStopped)
	e.logger.Info("engine stopped")
}

// Kill is the operator kill switch: identical to Stop but the engine lands
// in the killed state so the dashboard shows it was deliberate.
func (e *Engine) Kill(ctx context.Context) {
	e.halt(ctx, StatusKilled)
	e.logger.Warn("engine killed")
}

func (e *Engine) halt(ctx context.Context, final Status) {
	e.mu.Lock()
	cancel := e.loopCancel
	done := e.loopDone
	e.loopCancel = nil
	e.loopDone = nil
	e.status = final
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}

	e.cancelAllOrders(ctx, reasonShutdown)
}

// SwitchSymbol runs the symbol-switch barrier: stop the loop if running,
// cancel everything on the old symbol, reset uptime and the book, rebind
// the depth feed, publish the new symbol, settle briefly, then restart if
// the engine was running.
func (e *Engine) SwitchSymbol(ctx context.Context, symbol string) error {
	if !config.SymbolSupported(symbol) {
		return fmt.Errorf("unsupported symbol %q", symbol)
	}

	old := e.runtime.Snapshot().Symbol
	if symbol == old {
		return nil
	}

	wasRunning := e.Status() == StatusRunning
	if wasRunning {
		e.Stop(ctx)
	}

	e.tracker.Reset()
	e.book.Reset(symbol)
	if err := e.feed.SwitchSymbol(symbol); err != nil {
		return fmt.Errorf("switch depth feed: %w", err)
	}
	if err := e.runtime.SetSymbol(symbol); err != nil {
		return err
	}

	e.logger.Info("symbol switched", "from", old, "to", symbol)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(settleDelay):
	}

	if wasRunning {
		return e.Start(context.WithoutCancel(ctx))
	}
	return nil
}

// run is the loop goroutine. One tick per refresh interval; the interval is
// re-read each lap so runtime changes apply immediately.
func (e *Engine) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		e.tick(ctx)

		if e.Status() != StatusRunning {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(e.runtime.Snapshot().RefreshInterval):
		}
	}
}

// tick executes one pass: flatten, read mid, quote, reconcile, replenish,
// account uptime. Production code only reaches it through run; the tests
// drive it directly for determinism.
func (e *Engine) tick(ctx context.Context) {
	p := e.runtime.Snapshot()

	e.mu.Lock()
	e.tickCount++
	e.mu.Unlock()

	// Accidental-fill protection comes first so a fill never sits exposed
	// for a full tick.
	if p.AutoCloseFills {
		if flattened := e.flattenFills(ctx, p); flattened {
			e.inactiveTick(p)
			return
		}
	}

	mid, ok := e.book.Mid()
	if !ok {
		e.logger.Debug("no usable mid, inactive tick", "symbol", p.Symbol)
		e.inactiveTick(p)
		return
	}
	metrics.SetMid(mid)
	if spread, ok := e.book.SpreadBps(); ok {
		metrics.SetSpreadBps(spread)
	}

	quote := strategy.Generate(mid, e.inventory(ctx, p), p)
	e.mu.Lock()
	e.lastQuote = quote
	e.mu.Unlock()

	if !quote.WithinLimits {
		e.logger.Warn("quote outside deviation limits, not placing",
			"bid_dev_bps", quote.BidDeviationBps(),
			"ask_dev_bps", quote.AskDeviationBps(),
			"max_bps", p.MaxSpreadDeviationBps,
		)
		e.inactiveTick(p)
		return
	}

	hardFailure := e.reconcile(ctx, p, quote)

	e.mu.Lock()
	_, hasBid := e.orders[types.Buy]
	_, hasAsk := e.orders[types.Sell]
	e.mu.Unlock()

	hasBoth := hasBid && hasAsk
	e.tracker.Tick(hasBoth, p.SpreadBps)
	e.publishUptime()

	if hardFailure {
		e.recordFailure()
		metrics.IncTick("failed")
		return
	}
	e.recordSuccess()
	if hasBoth {
		metrics.IncTick("active")
	} else {
		metrics.IncTick("inactive")
	}
}

// inactiveTick reports a tick with no resting pair and no failure.
func (e *Engine) inactiveTick(p config.Params) {
	e.tracker.Tick(false, p.SpreadBps)
	e.publishUptime()
	e.recordSuccess()
	metrics.IncTick("inactive")
}

func (e *Engine) publishUptime() {
	rec := e.tracker.Current()
	metrics.SetUptimeSeconds(rec.MakerActive, rec.MMActive)
}

// flattenFills closes any net position with a reduce-only market order.
// Returns true when a flatten was attempted this tick.
func (e *Engine) flattenFills(ctx context.Context, p config.Params) bool {
	positions, err := e.client.Positions(ctx)
	if err != nil {
		// Treated as flat: a transient query failure must not block quoting.
		e.logger.Warn("position query failed", "error", err)
		return false
	}

	for _, pos := range positions {
		if pos.Symbol != p.Symbol || pos.Side == types.Flat || pos.Size == 0 {
			continue
		}

		side := types.Sell
		if pos.Side == types.Short {
			side = types.Buy
		}
		e.logger.Warn("accidental fill detected, flattening",
			"symbol", pos.Symbol, "position", pos.Side, "size", pos.Size)

		if err := e.client.PlaceMarketReduceOnly(ctx, p.Symbol, side, pos.Size); err != nil {
			e.logger.Error("flatten failed", "error", err)
		} else {
			metrics.IncFillFlattened()
		}
		return true
	}
	return false
}

// inventory returns the signed net position for skew. Zero when skew is
// disabled, so the position query is skipped entirely.
func (e *Engine) inventory(ctx context.Context, p config.Params) float64 {
	if p.SkewFactorBps <= 0 || p.MaxPosition <= 0 {
		return 0
	}
	positions, err := e.client.Positions(ctx)
	if err != nil {
		return 0
	}
	for _, pos := range positions {
		if pos.Symbol == p.Symbol {
			return pos.SignedSize()
		}
	}
	return 0
}

// reconcile classifies both resting orders against the target quote and,
// when any side needs action, refreshes both together: cancel everything,
// then repost bid and ask at the new targets. Returns true on a hard REST
// failure.
func (e *Engine) reconcile(ctx context.Context, p config.Params, quote types.Quote) (hardFailure bool) {
	e.mu.Lock()
	bid, hasBid := e.orders[types.Buy]
	ask, hasAsk := e.orders[types.Sell]
	e.mu.Unlock()

	needRefresh := !hasBid || !hasAsk
	reasons := map[types.Side]cancelReason{}

	if hasBid {
		if r, hit := e.classify(bid, quote.BidPrice, quote.MidPrice, p); hit {
			reasons[types.Buy] = r
			needRefresh = true
		}
	}
	if hasAsk {
		if r, hit := e.classify(ask, quote.AskPrice, quote.MidPrice, p); hit {
			reasons[types.Sell] = r
			needRefresh = true
		}
	}

	if !needRefresh {
		return false
	}

	// Refresh both together: split-state drift (one stale side resting at
	// an old price while the other tracks mid) is worse than a brief gap.
	for side, order := range e.snapshotOrders() {
		reason, ok := reasons[side]
		if !ok {
			reason = reasonRefresh
		}
		gone, err := e.client.CancelOrder(ctx, order.OrderID)
		if err != nil {
			e.logger.Error("cancel failed", "side", side, "order_id", order.OrderID, "error", err)
			return true
		}

		// Terminal either way: cancelled on explicit success, gone when the
		// exchange reported the order already dead. Entries never revive.
		status := types.StatusCancelled
		if gone {
			status = types.StatusGone
		}
		e.removeOrder(side)
		metrics.IncOrderCancelled(string(reason))
		e.logger.Info("order cancelled",
			"side", side, "order_id", order.OrderID, "reason", reason, "status", status)
	}

	// Replenish both sides.
	for _, leg := range []struct {
		side  types.Side
		price float64
		size  float64
	}{
		{types.Buy, quote.BidPrice, quote.BidSize},
		{types.Sell, quote.AskPrice, quote.AskSize},
	} {
		if err := e.place(ctx, p, leg.side, leg.price, leg.size); err != nil {
			if errors.Is(err, exchange.ErrQtyRejected) {
				// Soft failure: warn and requote next tick.
				continue
			}
			return true
		}
	}
	return false
}

// classify applies the eviction rules in priority order: proximity to the
// touch first, then drift from target, then age.
func (e *Engine) classify(order types.ActiveOrder, target, mid float64, p config.Params) (cancelReason, bool) {
	if e.proximityHit(order, mid, p.ProximityGuardBps) {
		return reasonProximity, true
	}
	if order.DriftBps(target, mid) >= p.RequoteThresholdBps {
		return reasonDrift, true
	}
	if order.IsStale(p.StaleOrderAge) {
		return reasonStale, true
	}
	return "", false
}

// proximityHit reports whether the order has drifted into the guard band
// around the same-side best quote, where it risks becoming top of book and
// getting crossed.
func (e *Engine) proximityHit(order types.ActiveOrder, mid, guardBps float64) bool {
	guard := mid * guardBps / 10000.0
	if order.Side == types.Buy {
		bestBid, ok := e.book.BestBid()
		return ok && order.Price >= bestBid-guard
	}
	bestAsk, ok := e.book.BestAsk()
	return ok && order.Price <= bestAsk+guard
}

// place posts one limit order and records it in the shadow. A response
// without a parseable id gets a local UUID so the shadow entry can still be
// cleared by cancel-all later.
func (e *Engine) place(ctx context.Context, p config.Params, side types.Side, price, size float64) error {
	id, err := e.client.PlaceLimit(ctx, exchange.LimitOrderParams{
		Symbol:      p.Symbol,
		Side:        side,
		Price:       price,
		Size:        size,
		TPOffsetBps: p.TPOffsetBps,
		SLOffsetBps: p.SLOffsetBps,
	})
	if err != nil {
		if !errors.Is(err, exchange.ErrQtyRejected) {
			e.logger.Error("place failed", "side", side, "price", price, "error", err)
		}
		return err
	}
	if id == "" {
		id = types.OrderID(uuid.NewString())
		e.logger.Warn("order id missing from response, using local id", "side", side, "local_id", id)
	}

	e.mu.Lock()
	e.orders[side] = types.ActiveOrder{
		OrderID:  id,
		Side:     side,
		Price:    price,
		Size:     size,
		PlacedAt: time.Now(),
		Status:   types.StatusOpen,
	}
	e.mu.Unlock()

	metrics.IncOrderPlaced(string(side))
	e.logger.Info("order placed", "side", side, "price", price, "size", size, "order_id", id)
	return nil
}

func (e *Engine) snapshotOrders() map[types.Side]types.ActiveOrder {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[types.Side]types.ActiveOrder, len(e.orders))
	for s, o := range e.orders {
		out[s] = o
	}
	return out
}

func (e *Engine) removeOrder(side types.Side) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.orders, side)
}

// cancelAllOrders wipes the shadow and issues a bulk cancel. Failures are
// logged only: on the shutdown and kill paths there is nobody left to retry.
func (e *Engine) cancelAllOrders(ctx context.Context, reason cancelReason) {
	symbol := e.runtime.Snapshot().Symbol

	e.mu.Lock()
	n := len(e.orders)
	e.orders = make(map[types.Side]types.ActiveOrder)
	e.mu.Unlock()

	if err := e.client.CancelAll(ctx, symbol); err != nil {
		e.logger.Error("cancel all failed", "symbol", symbol, "error", err)
		return
	}
	for i := 0; i < n; i++ {
		metrics.IncOrderCancelled(string(reason))
	}
}

// recordFailure bumps the consecutive-failure streak and trips the kill
// switch when the budget is exhausted: status error plus exactly one
// cancel-all.
func (e *Engine) recordFailure() {
	e.mu.Lock()
	e.failures++
	failures := e.failures
	tripped := failures >= e.maxFailures && e.status == StatusRunning
	if tripped {
		e.status = StatusError
		e.lastError = fmt.Sprintf("%d consecutive failures", failures)
	}
	alreadyCancelled := e.cancelledAll
	if tripped {
		e.cancelledAll = true
	}
	e.mu.Unlock()

	metrics.IncOrderFailure()
	metrics.SetConsecutiveFailures(failures)

	if tripped && !alreadyCancelled {
		e.logger.Error("failure budget exhausted, stopping", "failures", failures)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		e.cancelAllOrders(ctx, reasonShutdown)
	}
}

func (e *Engine) recordSuccess() {
	e.mu.Lock()
	e.failures = 0
	e.mu.Unlock()
	metrics.SetConsecutiveFailures(0)
}

// FullStatus is the dashboard snapshot produced once per broadcast.
type FullStatus struct {
	Status       Status              `json:"status"`
	Symbol       string              `json:"symbol"`
	TickCount    int64               `json:"tick_count"`
	Failures     int                 `json:"consecutive_failures"`
	LastError    string              `json:"last_error,omitempty"`
	BestBid      float64             `json:"best_bid"`
	BestAsk      float64             `json:"best_ask"`
	MidPrice     float64             `json:"mid_price"`
	SpreadBps    float64             `json:"market_spread_bps"`
	BookStale    bool                `json:"book_stale"`
	LastQuote    types.Quote         `json:"last_quote"`
	ActiveOrders []types.ActiveOrder `json:"active_orders"`
	Uptime       uptime.Stats        `json:"uptime"`
	Params       config.Params       `json:"params"`
}

// GetFullStatus assembles the snapshot used by the status endpoint and the
// dashboard broadcaster.
func (e *Engine) GetFullStatus() FullStatus {
	p := e.runtime.Snapshot()

	bid, _ := e.book.BestBid()
	ask, _ := e.book.BestAsk()
	mid, _ := e.book.Mid()
	spread, _ := e.book.SpreadBps()

	e.mu.Lock()
	st := FullStatus{
		Status:    e.status,
		Symbol:    p.Symbol,
		TickCount: e.tickCount,
		Failures:  e.failures,
		LastError: e.lastError,
		BestBid:   bid,
		BestAsk:   ask,
		MidPrice:  mid,
		SpreadBps: spread,
		LastQuote: e.lastQuote,
		Params:    p,
	}
	for _, o := range e.orders {
		st.ActiveOrders = append(st.ActiveOrders, o)
	}
	e.mu.Unlock()

	st.BookStale = e.book.IsStale(30 * time.Second)
	st.Uptime = e.tracker.Stats()
	return st
}

// ActiveOrders returns a copy of the shadow map for the orders endpoint.
func (e *Engine) ActiveOrders() []types.ActiveOrder {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]types.ActiveOrder, 0, len(e.orders))
	for _, o := range e.orders {
		out = append(out, o)
	}
	return out
}
