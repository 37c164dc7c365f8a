package socket

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"roboclass/internal/connection"
	"roboclass/pkg/interfaces"
	"roboclass/pkg/types"
)

// Config holds the listener settings.
type Config struct {
	Address     string
	SendTimeout time.Duration
}

// DefaultConfig listens on the robot port.
func DefaultConfig() Config {
	return Config{
		Address:     ":5002",
		SendTimeout: 5 * time.Second,
	}
}

// Listener accepts raw socket robots and registers them with the hub.
// FUNCTIONAL DISCOVERY: Socket clients start as Unknown; the Authenticate
// message decides whether they are robots or users.
type Listener struct {
	cfg       Config
	hub       interfaces.Hub
	processor interfaces.MessageProcessor
	logger    *slog.Logger

	mu       sync.Mutex
	listener net.Listener
	wg       sync.WaitGroup
}

// NewListener creates a listener; Start opens the port.
func NewListener(cfg Config, hub interfaces.Hub, processor interfaces.MessageProcessor, logger *slog.Logger) *Listener {
	return &Listener{
		cfg:       cfg,
		hub:       hub,
		processor: processor,
		logger:    logger.With("component", "socket"),
	}
}

// Start opens the port and accepts connections until Close or ctx is done.
func (l *Listener) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", l.cfg.Address)
	if err != nil {
		return err
	}
	l.mu.Lock()
	if l.listener != nil {
		l.mu.Unlock()
		_ = ln.Close()
		return ErrAlreadyListening
	}
	l.listener = ln
	l.mu.Unlock()

	l.logger.Info("Starting to listen", "address", ln.Addr().String())
	l.wg.Add(1)
	go l.acceptLoop(ctx, ln)
	go func() {
		<-ctx.Done()
		_ = l.Close()
	}()
	return nil
}

// Addr returns the bound address, or nil before Start.
func (l *Listener) Addr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.listener == nil {
		return nil
	}
	return l.listener.Addr()
}

func (l *Listener) acceptLoop(ctx context.Context, ln net.Listener) {
	defer l.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				l.logger.Info("Socket listener closed")
				return
			}
			l.logger.Warn("Accept failed", "error", err)
			continue
		}
		l.Serve(ctx, conn)
	}
}

// Serve registers conn with the hub and runs it in the background.
func (l *Listener) Serve(ctx context.Context, conn net.Conn) *connection.Connection {
	transport := NewTransport(conn, l.logger)
	client := connection.New(transport, types.ClientUnknown, l.processor, connection.Config{SendTimeout: l.cfg.SendTimeout}, l.logger)
	id := l.hub.AddClient(client)
	l.logger.Info("Client connected", "client", id, "remote", transport.RemoteAddress())

	go client.Run(ctx)
	return client
}

// Close stops accepting. Connected clients keep running until they close.
func (l *Listener) Close() error {
	l.mu.Lock()
	ln := l.listener
	l.mu.Unlock()
	if ln == nil {
		return nil
	}
	err := ln.Close()
	l.wg.Wait()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}
