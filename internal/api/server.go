// Package api runs the HTTP/WebSocket surface for the dashboard.
//
// Routes:
//
//	GET  /health           – liveness probe
//	GET  /api/status       – full engine snapshot
//	GET  /api/orders       – current shadow orders
//	GET  /api/uptime       – hourly uptime stats
//	GET  /api/config       – runtime params
//	POST /api/config       – partial runtime update (symbol triggers the barrier)
//	POST /api/start        – start the quoting loop
//	POST /api/stop         – stop and cancel all
//	POST /api/kill         – kill switch
//	POST /api/auth/start   – install session credentials at runtime
//	GET  /ws               – dashboard stream (snapshot every ~2s)
//	GET  /metrics          – Prometheus exposition
//	GET  /                 – static dashboard files (web/)
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cyberatlas-baseeth/makerbot/internal/config"
	"github.com/cyberatlas-baseeth/makerbot/internal/engine"
	"github.com/cyberatlas-baseeth/makerbot/pkg/types"
)

// broadcastInterval is the cadence of pushed dashboard snapshots.
const broadcastInterval = 2 * time.Second

// Controller is the slice of the engine the dashboard drives.
type Controller interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context)
	Kill(ctx context.Context)
	SwitchSymbol(ctx context.Context, symbol string) error
	Status() engine.Status
	GetFullStatus() engine.FullStatus
	ActiveOrders() []types.ActiveOrder
}

// CredentialStore is the slice of the signer the auth endpoint writes.
type CredentialStore interface {
	SetCredentials(token, secret, wallet, chain string) error
	Ready() bool
}

// Server runs the HTTP/WebSocket API for the dashboard.
type Server struct {
	cfg      config.DashboardConfig
	handlers *Handlers
	hub      *Hub
	server   *http.Server
	logger   *slog.Logger
}

// NewServer wires routes and the broadcast hub.
func NewServer(
	cfg config.DashboardConfig,
	ctrl Controller,
	runtime *config.Runtime,
	creds CredentialStore,
	logger *slog.Logger,
) *Server {
	hub := NewHub(logger)
	handlers := NewHandlers(cfg, ctrl, runtime, creds, hub, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", handlers.HandleHealth)
	mux.HandleFunc("/api/status", handlers.HandleStatus)
	mux.HandleFunc("/api/orders", handlers.HandleOrders)
	mux.HandleFunc("/api/uptime", handlers.HandleUptime)
	mux.HandleFunc("/api/config", handlers.HandleConfig)
	mux.HandleFunc("/api/start", handlers.HandleStart)
	mux.HandleFunc("/api/stop", handlers.HandleStop)
	mux.HandleFunc("/api/kill", handlers.HandleKill)
	mux.HandleFunc("/api/auth/start", handlers.HandleAuthStart)
	mux.HandleFunc("/ws", handlers.HandleWebSocket)
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", http.FileServer(http.Dir("web")))

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		cfg:      cfg,
		handlers: handlers,
		hub:      hub,
		server:   server,
		logger:   logger.With("component", "api-server"),
	}
}

// Start runs the hub, the snapshot broadcaster and the HTTP listener.
// Blocks until the listener returns.
func (s *Server) Start(ctx context.Context) error {
	go s.hub.Run()
	go s.broadcastLoop(ctx)

	s.logger.Info("dashboard server starting", "addr", s.server.Addr)

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Stop gracefully stops the server.
func (s *Server) Stop() error {
	s.logger.Info("stopping dashboard server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}

// broadcastLoop pushes a full status snapshot to every connected dashboard
// client on a fixed cadence.
func (s *Server) broadcastLoop(ctx context.Context) {
	ticker := time.NewTicker(broadcastInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.hub.BroadcastSnapshot(s.handlers.ctrl.GetFullStatus())
		}
	}
}
