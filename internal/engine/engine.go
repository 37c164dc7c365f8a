// Package engine drives commands through validate, apply and commit against a
// persistence session, and keeps the command audit trail.
package engine

import (
	"context"
	"fmt"
	"log/slog"

	"roboclass/internal/clock"
	"roboclass/internal/logging"
	"roboclass/internal/store"
)

// AuditPublisher receives every command log after it has been stored.
type AuditPublisher interface {
	PublishCommandLog(ctx context.Context, entry *CommandLog) error
}

// Engine runs commands against one session. Engines are created per unit of
// work by a Factory and are not shared between goroutines.
type Engine struct {
	database  *store.Database
	session   *store.Session
	logger    *slog.Logger
	clock     clock.Clock
	publisher AuditPublisher
}

// New creates an engine over session. The command log is written through fresh
// sessions from database.
func New(database *store.Database, session *store.Session, logger *slog.Logger, clk clock.Clock) *Engine {
	return &Engine{
		database: database,
		session:  session,
		logger:   logger,
		clock:    clk,
	}
}

// Session returns the engine's unit of work.
func (e *Engine) Session() *store.Session { return e.session }

// Database returns the database the engine opens audit sessions from.
func (e *Engine) Database() *store.Database { return e.database }

func (e *Engine) Logger() *slog.Logger { return e.logger }

func (e *Engine) Clock() clock.Clock { return e.clock }

// Validate checks command without changing persisted state.
func (e *Engine) Validate(ctx context.Context, command Command) ([]CommandError, error) {
	e.stamp(command)
	errs, err := command.Validate(ctx, e.session)
	if err != nil {
		return nil, fmt.Errorf("failed to validate %s: %w", CommandType(command), err)
	}

	if len(errs) == 0 {
		e.logger.Info("Command validated", "command", CommandType(command))
		return nil, nil
	}
	for _, ce := range errs {
		e.logger.Warn("Command failed validation", "command", CommandType(command), "error", ce.Error)
	}
	return errs, nil
}

// Execute applies command and records the outcome in the command log. Failures
// inside the command come back as an unsuccessful Result; only
// ErrInvalidCallOrder and audit log failures are returned as errors.
func (e *Engine) Execute(ctx context.Context, command Command) (*Result, error) {
	e.stamp(command)
	result, err := e.apply(ctx, command)
	if err != nil {
		return nil, err
	}

	// TECHNICAL DISCOVERY: The audit entry uses its own session so it survives
	// even when the caller never commits the primary session
	if err := e.storeCommandLog(ctx, command, result); err != nil {
		return result, fmt.Errorf("%w: %v", ErrAuditLogFailed, err)
	}

	if result.WasSuccessful() {
		e.logger.Info("Command executed", "command", CommandType(command), "number", result.Number)
	} else {
		e.logger.Error("Command execution failed", "command", CommandType(command), "number", result.Number)
		e.LogExecutionFailure(result)
	}
	return result, nil
}

// LogExecutionFailure logs the error text of a failed result.
func (e *Engine) LogExecutionFailure(result *Result) {
	for _, ce := range result.ToErrors() {
		e.logger.Error(ce.Error, "number", ce.Number)
	}
}

// Commit saves the engine's session.
func (e *Engine) Commit(ctx context.Context) error {
	if err := e.session.SaveChanges(ctx); err != nil {
		return err
	}
	e.logger.Log(ctx, logging.LevelTrace, "Session saved")
	return nil
}

// Restore prepares command for replay. Commands that do not implement
// Restorer restore trivially.
func (e *Engine) Restore(ctx context.Context, command Command) ([]CommandError, error) {
	restorer, ok := command.(Restorer)
	if !ok {
		e.logger.Info("Command restored", "command", CommandType(command))
		return nil, nil
	}

	errs, err := restorer.Restore(ctx, e.session)
	if err != nil {
		return nil, fmt.Errorf("failed to restore %s: %w", CommandType(command), err)
	}
	if len(errs) == 0 {
		e.logger.Info("Command restored", "command", CommandType(command))
		return nil, nil
	}
	e.logger.Warn("Unable to restore command", "command", CommandType(command), "errors", ErrorTexts(errs))
	return errs, nil
}

// CheckCanRollback reports whether command can be undone. Commands are not
// rollback-capable unless they implement Rollbacker.
func (e *Engine) CheckCanRollback(ctx context.Context, command Command) (bool, error) {
	rb, ok := command.(Rollbacker)
	if !ok {
		return false, nil
	}
	return rb.CheckCanRollback(ctx, e.session)
}

// Rollback undoes command, failing for commands that do not support it.
func (e *Engine) Rollback(ctx context.Context, command Command) (*Result, error) {
	rb, ok := command.(Rollbacker)
	if !ok {
		return command.Base().Failure("Command does not allow rolling back"), nil
	}
	result, err := rb.Rollback(ctx, e.session)
	if err != nil {
		return nil, err
	}
	result.Number = command.Base().Number
	if result.WasSuccessful() {
		e.logger.Info("Command rolled back", "command", CommandType(command))
	} else {
		e.logger.Warn("Command rollback failed", "command", CommandType(command), "error", result.Error)
	}
	return result, nil
}

// SetPublisher attaches an audit publisher. Nil disables publishing.
func (e *Engine) SetPublisher(p AuditPublisher) {
	e.publisher = p
}

func (e *Engine) stamp(command Command) {
	base := command.Base()
	if base.WhenExecuted.IsZero() {
		base.WhenExecuted = e.clock.Now()
	}
}

// apply runs command.Apply, turning errors and panics into a failed result.
func (e *Engine) apply(ctx context.Context, command Command) (result *Result, err error) {
	base := command.Base()
	defer func() {
		if r := recover(); r != nil {
			result = base.Failure(fmt.Sprintf("Unexpected error: %v", r))
			err = nil
		}
	}()

	result, err = command.Apply(ctx, e.session)
	if err != nil {
		if isInvalidCallOrder(err) {
			return nil, err
		}
		return base.Failure("Unexpected error: " + err.Error()), nil
	}
	if result == nil {
		result = base.Success(nil)
	}
	result.Number = base.Number
	return result, nil
}

func (e *Engine) storeCommandLog(ctx context.Context, command Command, result *Result) error {
	entry, err := newCommandLog(command, result)
	if err != nil {
		return err
	}

	logSession := e.database.StartSession()
	defer logSession.Close()
	if err := logSession.Store(ctx, entry); err != nil {
		return err
	}
	if err := logSession.SaveChanges(ctx); err != nil {
		return err
	}
	e.logger.Log(ctx, logging.LevelTrace, "Log saved", "command", entry.Type)

	if e.publisher != nil {
		if err := e.publisher.PublishCommandLog(ctx, entry); err != nil {
			e.logger.Warn("Failed to publish command log", "command", entry.Type, "error", err)
		}
	}
	return nil
}
