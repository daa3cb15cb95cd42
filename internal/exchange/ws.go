// ws.go implements the StandX WebSocket stream client.
//
// DepthFeed maintains one connection to the ws-stream endpoint, subscribes
// to the depth_book channel for the active symbol, and emits full book
// snapshots on a typed channel. When credentials are available it also
// authenticates the connection for the order/position user streams.
//
// The feed auto-reconnects with exponential backoff (1s → 60s max, reset
// after a successful connect) and re-subscribes to the current symbol on
// reconnection. Liveness is enforced with protocol pings every 20s and a
// read deadline that trips when a pong is more than 10s late.
package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cyberatlas-baseeth/makerbot/internal/metrics"
	"github.com/cyberatlas-baseeth/makerbot/pkg/types"
)

const (
	wsPingInterval     = 20 * time.Second // how often we send a protocol ping
	wsPongTimeout      = 10 * time.Second // pong later than this trips the read deadline
	wsMaxReconnectWait = 60 * time.Second // cap on exponential backoff
	wsWriteTimeout     = 10 * time.Second // deadline for outgoing messages
	depthBufferSize    = 256
)

const depthChannel = "depth_book"

// DepthFeed manages the market-data WebSocket connection for one symbol at
// a time. It handles connection lifecycle, symbol switching, message routing
// and automatic reconnection with exponential backoff.
type DepthFeed struct {
	url    string
	auth   *Auth
	conn   *websocket.Conn
	connMu sync.Mutex // protects conn reads/writes

	symbolMu sync.RWMutex
	symbol   string

	depthCh chan types.WSDepthData

	logger *slog.Logger
}

// NewDepthFeed creates a feed subscribed to one symbol's depth stream.
func NewDepthFeed(wsURL, symbol string, auth *Auth, logger *slog.Logger) *DepthFeed {
	return &DepthFeed{
		url:     wsURL,
		auth:    auth,
		symbol:  symbol,
		depthCh: make(chan types.WSDepthData, depthBufferSize),
		logger:  logger.With("component", "ws_depth"),
	}
}

// DepthEvents returns a read-only channel of depth snapshots.
func (f *DepthFeed) DepthEvents() <-chan types.WSDepthData { return f.depthCh }

// Symbol returns the currently subscribed symbol.
func (f *DepthFeed) Symbol() string {
	f.symbolMu.RLock()
	defer f.symbolMu.RUnlock()
	return f.symbol
}

// Run connects and maintains the connection with auto-reconnect. Blocks
// until ctx is cancelled.
func (f *DepthFeed) Run(ctx context.Context) error {
	backoff := time.Second

	for {
		subscribed, err := f.connectAndRead(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if subscribed {
			backoff = time.Second
		}

		metrics.IncWSReconnect()
		f.logger.Warn("websocket disconnected, reconnecting",
			"error", err,
			"backoff", backoff,
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > wsMaxReconnectWait {
			backoff = wsMaxReconnectWait
		}
	}
}

// SwitchSymbol moves the depth subscription to a new symbol. The old
// channel is unsubscribed first so a late frame for the previous symbol
// cannot follow the switch. If the connection is down the new symbol is
// picked up by the reconnect's initial subscription instead.
func (f *DepthFeed) SwitchSymbol(symbol string) error {
	f.symbolMu.Lock()
	old := f.symbol
	f.symbol = symbol
	f.symbolMu.Unlock()

	if old == symbol {
		return nil
	}

	if err := f.writeJSON(types.WSSubscribeMsg{
		Unsubscribe: &types.WSChannelSub{Channel: depthChannel, Symbol: old},
	}); err != nil {
		f.logger.Warn("unsubscribe failed, relying on reconnect", "symbol", old, "error", err)
		return nil
	}
	if err := f.writeJSON(types.WSSubscribeMsg{
		Subscribe: &types.WSChannelSub{Channel: depthChannel, Symbol: symbol},
	}); err != nil {
		return fmt.Errorf("subscribe %s: %w", symbol, err)
	}

	f.logger.Info("depth subscription switched", "from", old, "to", symbol)
	return nil
}

// Close gracefully closes the connection.
func (f *DepthFeed) Close() error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn != nil {
		return f.conn.Close()
	}
	return nil
}

// connectAndRead dials, subscribes and reads frames until the connection
// drops. subscribed reports whether the session got far enough to count as
// healthy for backoff reset purposes.
func (f *DepthFeed) connectAndRead(ctx context.Context) (subscribed bool, err error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return false, fmt.Errorf("dial: %w", err)
	}

	f.connMu.Lock()
	f.conn = conn
	f.connMu.Unlock()

	defer func() {
		f.connMu.Lock()
		conn.Close()
		f.conn = nil
		f.connMu.Unlock()
	}()

	conn.SetReadDeadline(time.Now().Add(wsPingInterval + wsPongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPingInterval + wsPongTimeout))
	})

	if err := f.sendInitialSubscription(); err != nil {
		return false, fmt.Errorf("subscribe: %w", err)
	}

	f.logger.Info("websocket connected", "symbol", f.Symbol())

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go f.pingLoop(pingCtx)

	for {
		if ctx.Err() != nil {
			return true, ctx.Err()
		}

		_, msg, err := conn.ReadMessage()
		if err != nil {
			return true, fmt.Errorf("read: %w", err)
		}

		f.dispatchMessage(msg)
	}
}

func (f *DepthFeed) sendInitialSubscription() error {
	if err := f.writeJSON(types.WSSubscribeMsg{
		Subscribe: &types.WSChannelSub{Channel: depthChannel, Symbol: f.Symbol()},
	}); err != nil {
		return err
	}

	// User streams need the bearer token. Skipping them when unauthenticated
	// is fine: fills are detected by polling positions each tick anyway.
	if f.auth != nil && f.auth.Ready() {
		return f.writeJSON(types.WSAuthMsg{
			Auth: types.WSAuthPayload{
				Token: f.auth.Token(),
				Streams: []types.WSAuthStream{
					{Channel: "order"},
					{Channel: "position"},
				},
			},
		})
	}
	return nil
}

func (f *DepthFeed) dispatchMessage(data []byte) {
	var envelope types.WSEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		f.logger.Debug("ignoring non-json ws message", "data", string(data))
		return
	}

	switch envelope.Channel {
	case depthChannel:
		var depth types.WSDepthData
		if err := json.Unmarshal(envelope.Data, &depth); err != nil {
			f.logger.Error("unmarshal depth frame", "error", err)
			return
		}
		// Frames for a previously subscribed symbol can still arrive right
		// after a switch; the book drops them by symbol tag, but skipping
		// here keeps the channel quiet.
		if depth.Symbol != "" && depth.Symbol != f.Symbol() {
			f.logger.Debug("dropping depth frame for inactive symbol", "symbol", depth.Symbol)
			return
		}
		select {
		case f.depthCh <- depth:
		default:
			f.logger.Warn("depth channel full, dropping frame", "symbol", depth.Symbol)
		}

	case "order", "position":
		// User stream acknowledgements and updates; position polling is the
		// source of truth so these are informational.
		f.logger.Debug("user stream frame", "channel", envelope.Channel)

	case "":
		// Control frame: subscribe confirmation, heartbeat, error.
		if envelope.Code != 0 {
			f.logger.Warn("ws control frame with error code", "code", envelope.Code, "type", envelope.Type)
		} else {
			f.logger.Debug("ws control frame", "type", envelope.Type)
		}

	default:
		f.logger.Debug("unknown ws channel", "channel", envelope.Channel)
	}
}

func (f *DepthFeed) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := f.writeMessage(websocket.PingMessage, nil); err != nil {
				f.logger.Warn("ping failed", "error", err)
				return
			}
		}
	}
}

func (f *DepthFeed) writeJSON(v interface{}) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	f.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return f.conn.WriteJSON(v)
}

func (f *DepthFeed) writeMessage(msgType int, data []byte) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	f.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return f.conn.WriteMessage(msgType, data)
}
