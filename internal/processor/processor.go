// Package processor routes every inbound client message to its handler. One
// Processor is shared by all connections; each message runs in its own engine
// session.
package processor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"roboclass/internal/auth"
	"roboclass/internal/clock"
	"roboclass/internal/engine"
	"roboclass/internal/store"
	"roboclass/pkg/interfaces"
	"roboclass/pkg/types"
)

// EngineFactory opens an engine and its session for one message.
type EngineFactory interface {
	Initialise() (*engine.Engine, *store.Session)
}

// TokenParser checks the session token sent with Authenticate.
type TokenParser interface {
	Parse(token string) (*auth.Claims, error)
}

// Config holds the inbound rate limit. A zero RateLimit disables limiting.
type Config struct {
	RateLimit  int           `json:"rate_limit" yaml:"rate_limit"`
	RateWindow time.Duration `json:"rate_window" yaml:"rate_window"`
}

func DefaultConfig() Config {
	return Config{
		RateLimit:  100,
		RateWindow: time.Minute,
	}
}

type handlerFunc func(ctx context.Context, e *engine.Engine, conn interfaces.Connection, msg *types.Message) error

// Processor implements interfaces.MessageProcessor.
type Processor struct {
	hub     interfaces.Hub
	factory EngineFactory
	tokens  TokenParser
	clock   clock.Clock
	logger  *slog.Logger
	limiter *RateLimiter

	handlers map[types.MessageType]handlerFunc
}

// New creates a processor with every handler registered.
func New(hub interfaces.Hub, factory EngineFactory, tokens TokenParser, clk clock.Clock, logger *slog.Logger, cfg Config) *Processor {
	p := &Processor{
		hub:     hub,
		factory: factory,
		tokens:  tokens,
		clock:   clk,
		logger:  logger.With("component", "processor"),
	}
	if cfg.RateLimit > 0 && cfg.RateWindow > 0 {
		p.limiter = NewRateLimiter(cfg.RateLimit, cfg.RateWindow, clk)
	}

	p.handlers = map[types.MessageType]handlerFunc{
		types.MessageTypeAuthenticate:            p.authenticate,
		types.MessageTypeRequestRobot:            p.allocateRobot,
		types.MessageTypeTransferProgram:         p.transferProgram,
		types.MessageTypeStartProgram:            p.startProgram,
		types.MessageTypeStopProgram:             p.stopProgram,
		types.MessageTypeProgramDownloaded:       p.programDownloaded,
		types.MessageTypeProgramStarted:          p.broadcast(types.MessageTypeProgramStarted, "Program started", false),
		types.MessageTypeProgramFinished:         p.broadcast(types.MessageTypeProgramFinished, "Program finished", false),
		types.MessageTypeProgramStopped:          p.broadcast(types.MessageTypeProgramStopped, "Program stopped", false),
		types.MessageTypeRobotDebugMessage:       p.robotDebugMessage,
		types.MessageTypeRobotError:              p.broadcast(types.MessageTypeRobotError, "An unexpected error has occurred", true),
		types.MessageTypeRobotStateUpdate:        p.robotStateUpdate,
		types.MessageTypeUnableToDownloadProgram: p.broadcast(types.MessageTypeUnableToDownloadProgram, "Unable to download program", true),
		types.MessageTypeStartMonitoring:         p.startMonitoring,
		types.MessageTypeStopMonitoring:          p.stopMonitoring,
		types.MessageTypeAlertsRequest:           p.alertsRequest,
		types.MessageTypeAlertBroadcast:          p.alertBroadcast,
	}
	return p
}

// Handles reports whether t has a registered handler.
func (p *Processor) Handles(t types.MessageType) bool {
	_, ok := p.handlers[t]
	return ok
}

// Process handles msg from conn. Failures are sent back to conn as Error
// messages and never returned.
func (p *Processor) Process(ctx context.Context, conn interfaces.Connection, msg *types.Message) {
	if p.limiter != nil && !p.limiter.Allow(conn.ID()) {
		p.logger.Warn("Rate limit exceeded", "client", conn.ID(), "type", msg.Type)
		p.reply(conn, msg.ErrorReply("Rate limit exceeded"))
		return
	}

	handler, ok := p.handlers[msg.Type]
	if !ok {
		p.logger.Warn("Unable to find processor for message type", "type", msg.Type, "client", conn.ID())
		p.reply(conn, msg.ErrorReply("Unable to find processor for "+msg.Type.String()))
		return
	}

	p.logger.Info("Processing message", "type", msg.Type, "client", conn.ID())
	if err := p.run(ctx, handler, conn, msg); err != nil {
		p.logger.Warn("An error occurred while processing message", "type", msg.Type, "client", conn.ID(), "error", err)
		p.reply(conn, msg.ErrorReply("Unable to process message: "+err.Error()))
	}
}

// run executes handler in a fresh session and saves it. The session is closed
// on every path, including a panicking handler.
func (p *Processor) run(ctx context.Context, handler handlerFunc, conn interfaces.Connection, msg *types.Message) (err error) {
	e, session := p.factory.Initialise()
	defer session.Close()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%v", r)
		}
	}()

	if err := handler(ctx, e, conn, msg); err != nil {
		return err
	}
	return session.SaveChanges(ctx)
}

// RunCleanup prunes idle rate limiter state until ctx is done.
func (p *Processor) RunCleanup(ctx context.Context) {
	if p.limiter == nil {
		return
	}
	ticker := time.NewTicker(p.limiter.window)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := p.limiter.Cleanup(); removed > 0 {
				p.logger.Debug("Pruned rate limiter state", "clients", removed)
			}
		}
	}
}

func (p *Processor) reply(conn interfaces.Connection, msg *types.Message) {
	if err := conn.SendMessage(msg); err != nil {
		p.logger.Warn("Unable to send reply", "client", conn.ID(), "type", msg.Type, "error", err)
	}
}
