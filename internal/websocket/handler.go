package websocket

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"roboclass/internal/connection"
	"roboclass/pkg/interfaces"
	"roboclass/pkg/types"
)

// Config holds the websocket timings.
type Config struct {
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	PingInterval     time.Duration
	HandshakeTimeout time.Duration
	MaxMessageSize   int64
	AllowedOrigins   []string // empty allows every origin
}

// DefaultConfig returns the timings used by the server.
func DefaultConfig() Config {
	return Config{
		ReadTimeout:      60 * time.Second,
		WriteTimeout:     5 * time.Second,
		PingInterval:     30 * time.Second,
		HandshakeTimeout: 10 * time.Second,
		MaxMessageSize:   64 * 1024,
	}
}

// Handler upgrades /connections/{type} requests and hands the connection to
// the hub.
// ARCHITECTURAL DISCOVERY: No authentication happens here; clients send an
// Authenticate message over the open socket, so the handler only decides the
// connection type.
type Handler struct {
	hub       interfaces.Hub
	processor interfaces.MessageProcessor
	logger    *slog.Logger
	cfg       Config
	upgrader  websocket.Upgrader
	baseCtx   context.Context
}

// NewHandler creates a handler. Connections run until ctx is cancelled or they
// close on their own.
func NewHandler(ctx context.Context, hub interfaces.Hub, processor interfaces.MessageProcessor, cfg Config, logger *slog.Logger) *Handler {
	h := &Handler{
		hub:       hub,
		processor: processor,
		logger:    logger.With("component", "websocket"),
		cfg:       cfg,
		baseCtx:   ctx,
	}
	h.upgrader = websocket.Upgrader{
		CheckOrigin:      h.checkOrigin,
		HandshakeTimeout: cfg.HandshakeTimeout,
	}
	return h
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.cfg.AllowedOrigins {
		if allowed == origin {
			return true
		}
	}
	return false
}

// HandleWebSocket serves GET /connections/{type} where type is user or robot.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	clientType := types.ParseClientType(chi.URLParam(r, "type"))
	if clientType != types.ClientUser && clientType != types.ClientRobot {
		http.Error(w, ErrUnknownClientType.Error(), http.StatusBadRequest)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", "error", err)
		return
	}

	transport := NewTransport(ws, h.cfg, h.logger)
	conn := connection.New(transport, clientType, h.processor, connection.Config{SendTimeout: h.cfg.WriteTimeout}, h.logger)
	id := h.hub.AddClient(conn)
	h.logger.Info("Client connected", "client", id, "type", clientType, "remote", transport.RemoteAddress())

	go conn.Run(h.baseCtx)
}
