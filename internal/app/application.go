// Package app wires the components into a running server.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"roboclass/internal/api"
	"roboclass/internal/auth"
	"roboclass/internal/clock"
	"roboclass/internal/config"
	"roboclass/internal/database"
	"roboclass/internal/engine"
	"roboclass/internal/events"
	"roboclass/internal/hub"
	"roboclass/internal/processor"
	"roboclass/internal/socket"
	"roboclass/internal/store"
	"roboclass/internal/websocket"
	pkgdatabase "roboclass/pkg/database"
)

// CommandFailedError carries the validation or execution errors of a command
// run through Execute.
type CommandFailedError struct {
	Errors []engine.CommandError
}

func (e *CommandFailedError) Error() string {
	texts := make([]string, 0, len(e.Errors))
	for _, err := range e.Errors {
		texts = append(texts, err.Error)
	}
	return strings.Join(texts, "; ")
}

// Application coordinates all system components.
// Clean dependency injection pattern with proper initialization order.
type Application struct {
	config    *config.Config
	logger    *slog.Logger
	clock     clock.Clock
	dbManager *database.Manager
	publisher *events.Publisher
	engines   *engine.Factory
	tokens    *auth.TokenService
	hub       *hub.Hub
	processor *processor.Processor

	listener   *socket.Listener
	httpServer *http.Server
	cancel     context.CancelFunc
	wg         sync.WaitGroup
}

// NewApplication opens the database and builds the message pipeline.
// Component initialization follows strict dependency order:
// Database → Publisher → Engine → Tokens → Hub → Processor.
// Nothing listens until Start.
func NewApplication(cfg *config.Config, logger *slog.Logger) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	clk := clock.Real()

	// STEP 1: Database manager applies migrations and validates the schema
	dbManager, err := database.NewManager(&pkgdatabase.Config{
		DatabasePath:    cfg.Database.Path,
		MaxConnections:  cfg.Database.MaxConnections,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 10 * time.Minute,
		WriteTimeout:    cfg.Database.Timeout,
		MigrationsPath:  cfg.Database.MigrationsPath,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database manager: %w", err)
	}

	// STEP 2: Audit publisher, only when a broker is configured
	var publisher *events.Publisher
	var audit engine.AuditPublisher
	if cfg.Broker.URL != "" {
		publisher = events.NewPublisher(events.Config{URL: cfg.Broker.URL, Queue: cfg.Broker.Queue}, logger)
		audit = publisher
	}

	// STEP 3: Engine factory over the document store
	engines := engine.NewFactory(store.NewDatabase(dbManager), logger, clk, audit)

	// STEP 4: Session tokens
	tokens, err := auth.NewTokenService(auth.Config{
		Secret:   cfg.Auth.Secret,
		Issuer:   cfg.Auth.Issuer,
		CacheTTL: cfg.Auth.CacheTTL,
	}, clk)
	if err != nil {
		_ = dbManager.Close()
		return nil, fmt.Errorf("failed to initialize token service: %w", err)
	}

	// STEP 5: Hub and the processor that handles every inbound message
	messageHub := hub.New(hub.Config{
		StallCheckInterval: cfg.Hub.StallCheckInterval,
		StallTimeout:       cfg.Hub.StallTimeout,
	}, clk, logger)
	messageProcessor := processor.New(messageHub, engines, tokens, clk, logger, processor.Config{
		RateLimit:  cfg.Processor.RateLimit,
		RateWindow: cfg.Processor.RateWindow,
	})

	return &Application{
		config:    cfg,
		logger:    logger.With("component", "app"),
		clock:     clk,
		dbManager: dbManager,
		publisher: publisher,
		engines:   engines,
		tokens:    tokens,
		hub:       messageHub,
		processor: messageProcessor,
	}, nil
}

// Start opens the HTTP and socket listeners and the background sweeps.
// Hub starts first to handle messages, then the servers accept connections.
func (app *Application) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	app.cancel = cancel

	// STEP 1: Stalled-robot sweep and rate limiter cleanup
	if err := app.hub.Start(runCtx); err != nil {
		cancel()
		return fmt.Errorf("failed to start message hub: %w", err)
	}
	app.wg.Add(1)
	go func() {
		defer app.wg.Done()
		app.processor.RunCleanup(runCtx)
	}()

	// STEP 2: HTTP API with the WebSocket endpoint
	wsCfg := app.config.WebSocket
	wsHandler := websocket.NewHandler(runCtx, app.hub, app.processor, websocket.Config{
		ReadTimeout:      wsCfg.ReadTimeout,
		WriteTimeout:     wsCfg.WriteTimeout,
		PingInterval:     wsCfg.PingInterval,
		HandshakeTimeout: websocket.DefaultConfig().HandshakeTimeout,
		MaxMessageSize:   wsCfg.MaxMessageSize,
		AllowedOrigins:   wsCfg.AllowedOrigins,
	}, app.logger)
	apiServer := api.NewServer(api.Dependencies{
		Engines:   app.engines,
		Tokens:    app.tokens,
		Hub:       app.hub,
		Database:  app.dbManager,
		WebSocket: wsHandler.HandleWebSocket,
		Clock:     app.clock,
		Logger:    app.logger,
	})
	app.httpServer = &http.Server{
		Addr:         app.config.HTTP.Address(),
		Handler:      apiServer,
		ReadTimeout:  app.config.HTTP.ReadTimeout,
		WriteTimeout: app.config.HTTP.WriteTimeout,
	}

	serverErrCh := make(chan error, 1)
	go func() {
		if err := app.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	// STEP 3: Raw socket listener for robots speaking binary frames
	if app.config.Socket.Enabled {
		app.listener = socket.NewListener(socket.Config{
			Address:     app.config.Socket.Address,
			SendTimeout: app.config.Socket.SendTimeout,
		}, app.hub, app.processor, app.logger)
		if err := app.listener.Start(runCtx); err != nil {
			app.abortStart()
			return fmt.Errorf("failed to start socket listener: %w", err)
		}
	}

	// Verify server is ready before returning
	select {
	case err := <-serverErrCh:
		app.abortStart()
		return err
	case <-time.After(100 * time.Millisecond):
		app.logger.Info("Server started", "http", app.httpServer.Addr, "socket", app.socketAddr())
		return nil
	case <-ctx.Done():
		app.abortStart()
		return ctx.Err()
	}
}

func (app *Application) abortStart() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = app.Stop(ctx)
}

func (app *Application) socketAddr() string {
	if app.listener == nil {
		return "disabled"
	}
	if addr := app.listener.Addr(); addr != nil {
		return addr.String()
	}
	return app.config.Socket.Address
}

// Stop shuts everything down in reverse dependency order:
// HTTP → Socket → Hub → Publisher → Database.
func (app *Application) Stop(ctx context.Context) error {
	app.logger.Info("Shutting down")

	if app.httpServer != nil {
		if err := app.httpServer.Shutdown(ctx); err != nil {
			app.logger.Warn("HTTP server shutdown error", "error", err)
		}
	}
	if app.listener != nil {
		if err := app.listener.Close(); err != nil {
			app.logger.Warn("Socket listener shutdown error", "error", err)
		}
	}
	if app.cancel != nil {
		app.cancel()
	}
	if err := app.hub.Stop(); err != nil && !errors.Is(err, hub.ErrHubNotRunning) {
		app.logger.Warn("Message hub shutdown error", "error", err)
	}
	for _, conn := range app.hub.GetAllClients() {
		_ = conn.Close()
	}
	app.wg.Wait()

	return app.Close()
}

// Close releases the publisher and the database. Used directly by the
// administration commands, which never Start.
func (app *Application) Close() error {
	if app.publisher != nil {
		_ = app.publisher.Close()
	}
	if err := app.dbManager.Close(); err != nil {
		return fmt.Errorf("database shutdown error: %w", err)
	}
	return nil
}

// Execute validates, applies and commits one command in its own session.
func (app *Application) Execute(ctx context.Context, command engine.Command) (*engine.Result, error) {
	e, session := app.engines.Initialise()
	defer session.Close()

	errs, err := e.Validate(ctx, command)
	if err != nil {
		return nil, err
	}
	if len(errs) > 0 {
		return nil, &CommandFailedError{Errors: errs}
	}

	result, err := e.Execute(ctx, command)
	if err != nil {
		return nil, err
	}
	if !result.WasSuccessful() {
		return result, &CommandFailedError{Errors: result.ToErrors()}
	}
	if err := e.Commit(ctx); err != nil {
		return result, err
	}
	return result, nil
}

// Addr returns the HTTP listen address.
func (app *Application) Addr() string {
	return app.config.HTTP.Address()
}
