package websocket

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"roboclass/internal/connection"
	"roboclass/pkg/types"
)

// Transport carries JSON messages over a gorilla websocket.
// ARCHITECTURAL DISCOVERY: Only the connection send loop calls WriteMessage,
// which keeps the one-writer rule; pings go through WriteControl, which
// gorilla allows concurrently with other writes.
type Transport struct {
	conn   *websocket.Conn
	logger *slog.Logger
	cfg    Config

	done      chan struct{}
	closeOnce sync.Once
}

// NewTransport wraps conn and starts the heartbeat.
func NewTransport(conn *websocket.Conn, cfg Config, logger *slog.Logger) *Transport {
	t := &Transport{
		conn:   conn,
		logger: logger,
		cfg:    cfg,
		done:   make(chan struct{}),
	}

	// TECHNICAL DISCOVERY: Read deadline is pushed forward by every pong, so a
	// silent peer is detected within ReadTimeout.
	_ = conn.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))
	})
	conn.SetReadLimit(cfg.MaxMessageSize)

	go t.pingLoop()
	return t
}

func (t *Transport) pingLoop() {
	ticker := time.NewTicker(t.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			deadline := time.Now().Add(t.cfg.WriteTimeout)
			if err := t.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		case <-t.done:
			return
		}
	}
}

// ReadMessage returns the next text message. Payloads that are not valid JSON
// decode to an empty Unknown message so the sender gets an error reply.
func (t *Transport) ReadMessage() (*types.Message, error) {
	messageType, data, err := t.conn.ReadMessage()
	if err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
			t.logger.Warn("WebSocket error", "remote", t.RemoteAddress(), "error", err)
		}
		return nil, err
	}
	_ = t.conn.SetReadDeadline(time.Now().Add(t.cfg.ReadTimeout))

	if messageType != websocket.TextMessage {
		return nil, fmt.Errorf("%w: websocket message type %d", connection.ErrMalformedMessage, messageType)
	}

	msg, err := types.DecodeJSON(data)
	if err != nil {
		t.logger.Debug("Invalid JSON message", "remote", t.RemoteAddress(), "error", err)
	}
	return msg, nil
}

// WriteMessage writes msg as one text frame.
func (t *Transport) WriteMessage(msg *types.Message, deadline time.Time) error {
	data, err := types.EncodeJSON(msg)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	if err := t.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

// Close sends a close frame when possible and releases the socket.
func (t *Transport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.done)
		deadline := time.Now().Add(time.Second)
		_ = t.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		err = t.conn.Close()
	})
	return err
}

func (t *Transport) RemoteAddress() string {
	return t.conn.RemoteAddr().String()
}
