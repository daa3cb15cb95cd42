package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/cyberatlas-baseeth/makerbot/internal/config"
)

// Handlers holds all HTTP handler dependencies.
type Handlers struct {
	cfg     config.DashboardConfig
	ctrl    Controller
	runtime *config.Runtime
	creds   CredentialStore
	hub     *Hub
	logger  *slog.Logger
}

// NewHandlers creates a new handlers instance.
func NewHandlers(
	cfg config.DashboardConfig,
	ctrl Controller,
	runtime *config.Runtime,
	creds CredentialStore,
	hub *Hub,
	logger *slog.Logger,
) *Handlers {
	return &Handlers{
		cfg:     cfg,
		ctrl:    ctrl,
		runtime: runtime,
		creds:   creds,
		hub:     hub,
		logger:  logger.With("component", "api-handlers"),
	}
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("encode response", "error", err)
	}
}

func (h *Handlers) writeError(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, map[string]string{"error": msg})
}

// HandleHealth returns a simple health check response.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"engine":        h.ctrl.Status(),
		"authenticated": h.creds.Ready(),
	})
}

// HandleStatus returns the full engine snapshot.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.ctrl.GetFullStatus())
}

// HandleOrders returns the current shadow orders.
func (h *Handlers) HandleOrders(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{"orders": h.ctrl.ActiveOrders()})
}

// HandleUptime returns the hourly uptime stats.
func (h *Handlers) HandleUptime(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.ctrl.GetFullStatus().Uptime)
}

// configRequest is the POST /api/config payload: a partial runtime change,
// optionally with a symbol switch.
type configRequest struct {
	Symbol *string `json:"symbol,omitempty"`
	config.Change
}

// HandleConfig reads (GET) or updates (POST) the runtime params. A symbol
// in the payload runs the full switch barrier; other fields apply
// atomically without one.
func (h *Handlers) HandleConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.writeJSON(w, http.StatusOK, h.runtime.Snapshot())

	case http.MethodPost:
		var req configRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid json: "+err.Error())
			return
		}

		updated := map[string]any{}
		if !req.Change.Empty() {
			_, fields, err := h.runtime.Apply(req.Change)
			if err != nil {
				h.writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			updated = fields
		}

		if req.Symbol != nil {
			if err := h.ctrl.SwitchSymbol(r.Context(), *req.Symbol); err != nil {
				h.writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			updated["symbol"] = *req.Symbol
		}

		h.logger.Info("config updated", "fields", updated)
		h.writeJSON(w, http.StatusOK, map[string]any{
			"updated": updated,
			"params":  h.runtime.Snapshot(),
		})

	default:
		h.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// HandleStart starts the quoting loop.
func (h *Handlers) HandleStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if !h.creds.Ready() {
		h.writeError(w, http.StatusConflict, "credentials not configured")
		return
	}
	if err := h.ctrl.Start(context.WithoutCancel(r.Context())); err != nil {
		h.writeError(w, http.StatusConflict, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"status": h.ctrl.Status()})
}

// HandleStop stops the loop and cancels all resting orders.
func (h *Handlers) HandleStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	h.ctrl.Stop(r.Context())
	h.writeJSON(w, http.StatusOK, map[string]any{"status": h.ctrl.Status()})
}

// HandleKill is the operator kill switch.
func (h *Handlers) HandleKill(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	h.logger.Warn("kill requested via dashboard")
	h.ctrl.Kill(r.Context())
	h.writeJSON(w, http.StatusOK, map[string]any{"status": h.ctrl.Status()})
}

// authStartRequest carries a fresh session from the launcher UI.
type authStartRequest struct {
	Token         string `json:"token"`
	Ed25519Secret string `json:"ed25519_secret"`
	WalletAddress string `json:"wallet_address"`
	Chain         string `json:"chain"`
}

// HandleAuthStart installs session credentials at runtime and starts the
// quoting loop. The secret never leaves memory and is not echoed back. An
// already-running engine just picks up the new session.
func (h *Handlers) HandleAuthStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req authStartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}
	if err := h.creds.SetCredentials(req.Token, req.Ed25519Secret, req.WalletAddress, req.Chain); err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.logger.Info("session credentials installed", "wallet", req.WalletAddress)

	if err := h.ctrl.Start(context.WithoutCancel(r.Context())); err != nil {
		h.logger.Info("engine not restarted after auth", "reason", err)
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"authenticated": true,
		"status":        h.ctrl.Status(),
	})
}

// HandleWebSocket upgrades the connection and registers a dashboard client.
// The client immediately receives a snapshot, then updates on the broadcast
// cadence.
func (h *Handlers) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return isOriginAllowed(r.Header.Get("Origin"), h.cfg, r.Host)
		},
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := NewClient(h.hub, conn)

	data, err := json.Marshal(DashboardEvent{Type: "snapshot", Data: h.ctrl.GetFullStatus()})
	if err != nil {
		h.logger.Error("marshal initial snapshot", "error", err)
		return
	}
	select {
	case client.send <- data:
	default:
		h.logger.Warn("failed to send initial snapshot to client")
	}
}

// isOriginAllowed gates WS upgrades: same host and localhost are always
// fine; anything else must be on the configured allowlist. An empty Origin
// header (non-browser client) is allowed.
func isOriginAllowed(origin string, cfg config.DashboardConfig, reqHost string) bool {
	if origin == "" {
		return true
	}
	for _, allowed := range cfg.AllowedOrigins {
		if origin == allowed {
			return true
		}
	}
	if len(cfg.AllowedOrigins) > 0 {
		return false
	}

	host := origin
	if i := strings.Index(origin, "://"); i >= 0 {
		host = origin[i+3:]
	}
	if host == reqHost {
		return true
	}
	return strings.HasPrefix(host, "localhost") || strings.HasPrefix(host, "127.0.0.1")
}
