package engine

import (
	"errors"
	"log/slog"

	"roboclass/internal/clock"
	"roboclass/internal/store"
)

// Factory creates an engine and a fresh session for each unit of work.
type Factory struct {
	database  *store.Database
	logger    *slog.Logger
	clock     clock.Clock
	publisher AuditPublisher
}

// NewFactory creates a factory over database. publisher may be nil.
func NewFactory(database *store.Database, logger *slog.Logger, clk clock.Clock, publisher AuditPublisher) *Factory {
	return &Factory{
		database:  database,
		logger:    logger.With("component", "engine"),
		clock:     clk,
		publisher: publisher,
	}
}

// Initialise opens a new session and an engine bound to it. The caller owns
// the session and must close it.
func (f *Factory) Initialise() (*Engine, *store.Session) {
	session := f.database.StartSession()
	e := New(f.database, session, f.logger, f.clock)
	e.SetPublisher(f.publisher)
	return e, session
}

func isInvalidCallOrder(err error) bool {
	return errors.Is(err, ErrInvalidCallOrder)
}
