// StandX Maker Bot — a persistent two-sided quoting agent for StandX
// perpetual futures, built to hold maker-program eligibility (both sides
// resting at a tight spread for 30+ minutes every hour).
//
// Architecture:
//
//	main.go              — entry point: loads config, wires components, waits for SIGINT/SIGTERM
//	engine/engine.go     — control loop: flatten fills → mid → quote → reconcile → replenish → uptime
//	strategy/quote.go    — pure quote generation: symmetric spread around mid + inventory skew
//	market/book.go       — local order book mirror fed by WebSocket depth snapshots
//	exchange/client.go   — REST client for the StandX perps API (place/cancel/query)
//	exchange/auth.go     — session bearer token + Ed25519 request signing
//	exchange/ws.go       — depth WebSocket feed with auto-reconnect and symbol switching
//	uptime/tracker.go    — dual hourly accountants: maker-eligible vs any-two-sided uptime
//	api/server.go        — dashboard REST/WS surface + Prometheus /metrics
//
// Why it exists:
//
//	StandX pays maker rewards for keeping two-sided liquidity resting at a
//	tight spread. The bot's job is uptime, not edge: it requotes on drift,
//	evicts orders that creep too close to touch, and immediately flattens
//	any accidental fill with a reduce-only market order.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cyberatlas-baseeth/makerbot/internal/api"
	"github.com/cyberatlas-baseeth/makerbot/internal/config"
	"github.com/cyberatlas-baseeth/makerbot/internal/engine"
	"github.com/cyberatlas-baseeth/makerbot/internal/exchange"
	"github.com/cyberatlas-baseeth/makerbot/internal/market"
	"github.com/cyberatlas-baseeth/makerbot/internal/uptime"
)

func main() {
	// Load config
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("STANDX_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	// Set up logger
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	// Wire components
	auth, err := exchange.NewAuth(cfg.Credentials)
	if err != nil {
		logger.Error("invalid credentials", "error", err)
		os.Exit(1)
	}
	client := exchange.NewClient(cfg.API, auth, logger)
	book := market.NewBook(cfg.Trading.Symbol)
	feed := exchange.NewDepthFeed(cfg.API.WSURL, cfg.Trading.Symbol, auth, logger)
	tracker := uptime.NewTracker(time.Duration(cfg.Uptime.TargetMinutes)*time.Minute, logger)
	runtime := config.NewRuntime(config.ParamsFromConfig(*cfg), cfg.Risk.MaxNotional)
	eng := engine.New(runtime, book, feed, client, tracker, cfg.Risk.MaxConsecutiveFailures, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Market data: WS feed into the book mirror
	go func() {
		if err := feed.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("depth feed stopped", "error", err)
		}
	}()
	go func() {
		for depth := range feed.DepthEvents() {
			book.ApplySnapshot(depth)
		}
	}()

	// Dashboard API server
	var apiServer *api.Server
	if cfg.Dashboard.Enabled {
		apiServer = api.NewServer(cfg.Dashboard, eng, runtime, auth, logger)
		go func() {
			if err := apiServer.Start(ctx); err != nil {
				logger.Error("dashboard server failed", "error", err)
			}
		}()
		logger.Info("dashboard started", "url", fmt.Sprintf("http://localhost:%d", cfg.Dashboard.Port))
	}

	// Auto-start only when credentials came from config/env; otherwise wait
	// for the operator to install a session via the dashboard.
	if auth.Ready() {
		if err := eng.Start(ctx); err != nil {
			logger.Error("failed to start engine", "error", err)
			os.Exit(1)
		}
	} else {
		logger.Info("no credentials configured, waiting for /api/auth/start")
	}

	logger.Info("standx maker bot started",
		"symbol", cfg.Trading.Symbol,
		"spread_bps", cfg.Trading.SpreadBps,
		"bid_notional", cfg.Trading.BidNotional,
		"ask_notional", cfg.Trading.AskNotional,
		"uptime_target_min", cfg.Uptime.TargetMinutes,
	)

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	// Stop the engine first so resting orders are cancelled while the REST
	// client is still up, then the dashboard and the feed.
	shutCtx, shutCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutCancel()
	eng.Stop(shutCtx)

	if apiServer != nil {
		if err := apiServer.Stop(); err != nil {
			logger.Error("failed to stop dashboard", "error", err)
		}
	}

	cancel()
	feed.Close()
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
