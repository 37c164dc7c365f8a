// Package socket serves robots that speak the binary frame protocol over raw
// TCP.
package socket

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"roboclass/internal/connection"
	"roboclass/pkg/types"
)

// Transport carries binary frames over a net.Conn.
type Transport struct {
	conn   net.Conn
	reader *types.FrameReader
	logger *slog.Logger

	seqMu    sync.Mutex
	sequence uint16

	closeOnce sync.Once
}

// NewTransport wraps conn.
func NewTransport(conn net.Conn, logger *slog.Logger) *Transport {
	return &Transport{
		conn:   conn,
		reader: types.NewFrameReader(conn),
		logger: logger,
	}
}

// ReadMessage returns the next decoded frame. Oversized or undecodable frames
// are reported as connection.ErrMalformedMessage so the receive loop keeps
// going.
func (t *Transport) ReadMessage() (*types.Message, error) {
	frame, err := t.reader.ReadFrame()
	if err != nil {
		if errors.Is(err, types.ErrFrameTooLarge) {
			return nil, fmt.Errorf("%w: %v", connection.ErrMalformedMessage, err)
		}
		return nil, err
	}

	msg, _, err := types.DecodeFrame(frame)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", connection.ErrMalformedMessage, err)
	}
	return msg, nil
}

// WriteMessage encodes msg with the next sequence number. A message too large
// for one frame is dropped with a warning rather than closing the robot's
// connection.
func (t *Transport) WriteMessage(msg *types.Message, deadline time.Time) error {
	t.seqMu.Lock()
	seq := t.sequence
	t.sequence++
	t.seqMu.Unlock()

	frame, err := types.EncodeFrame(msg, seq)
	if err != nil {
		if errors.Is(err, types.ErrFrameTooLarge) {
			t.logger.Warn("Dropping oversized frame", "remote", t.RemoteAddress(), "type", msg.Type)
			return nil
		}
		return err
	}

	if err := t.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	_, err = t.conn.Write(frame)
	return err
}

// RestartSequence resets the send counter to zero.
func (t *Transport) RestartSequence() {
	t.seqMu.Lock()
	t.sequence = 0
	t.seqMu.Unlock()
}

func (t *Transport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		err = t.conn.Close()
	})
	return err
}

func (t *Transport) RemoteAddress() string {
	return t.conn.RemoteAddr().String()
}
