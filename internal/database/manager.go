// Package database is the SQLite document backend behind the store sessions.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"roboclass/internal/store"
	dbconfig "roboclass/pkg/database"
)

// ErrManagerClosed is returned for writes after Close.
var ErrManagerClosed = errors.New("database manager is closed")

// Manager implements store.Backend on a single SQLite table of JSON documents.
// Reads go straight to the pool; writes are serialised through one goroutine.
type Manager struct {
	db           *sql.DB
	config       *dbconfig.Config
	logger       *slog.Logger
	writeChannel chan writeOperation // TECHNICAL: Single-writer pattern for SQLite
	shutdown     chan struct{}
	retryDelay   time.Duration
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex
}

type writeOperation struct {
	operation func(*sql.DB) error
	result    chan error
}

var _ store.Backend = (*Manager)(nil)

// NewManager opens the database, applies migrations and validates the schema.
func NewManager(config *dbconfig.Config, logger *slog.Logger) (*Manager, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid database config: %w", err)
	}

	db, err := sql.Open("sqlite3", config.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// FUNCTIONAL DISCOVERY: Connection pool configuration critical for concurrent reads
	db.SetMaxOpenConns(config.MaxConnections)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := dbconfig.ApplyOptimizations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply SQLite optimizations: %w", err)
	}
	if err := dbconfig.NewMigrationManager(db, config.MigrationsPath).ApplyMigrations(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := dbconfig.NewSchemaValidator(db).Validate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}

	manager := &Manager{
		db:           db,
		config:       config,
		logger:       logger.With("component", "database"),
		writeChannel: make(chan writeOperation, 100),
		shutdown:     make(chan struct{}),
		retryDelay:   5 * time.Second,
	}

	// ARCHITECTURAL DISCOVERY: Single-writer goroutine prevents SQLite write contention
	manager.wg.Add(1)
	go manager.writeLoop()

	return manager, nil
}

func (m *Manager) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case op := <-m.writeChannel:
			err := op.operation(m.db)
			if err != nil {
				m.logger.Warn("Database write failed, retrying", "delay", m.retryDelay, "error", err)
				time.Sleep(m.retryDelay)
				if err = op.operation(m.db); err != nil {
					m.logger.Error("Database write failed after retry", "error", err)
				}
			}
			op.result <- err

		case <-m.shutdown:
			m.logger.Debug("Database write loop shutting down")
			return
		}
	}
}

// executeWrite queues a write operation and waits for completion
func (m *Manager) executeWrite(operation func(*sql.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrManagerClosed
	}
	m.mu.RUnlock()

	result := make(chan error, 1)

	select {
	case m.writeChannel <- writeOperation{operation: operation, result: result}:
		return <-result
	case <-time.After(m.config.WriteTimeout):
		return fmt.Errorf("write operation timeout")
	case <-m.shutdown:
		return fmt.Errorf("database manager is shutting down")
	}
}

// LoadCollection returns every document in collection ordered by id.
func (m *Manager) LoadCollection(ctx context.Context, collection string) ([]store.Record, error) {
	rows, err := m.db.QueryContext(ctx,
		`SELECT id, body FROM documents WHERE collection = ? ORDER BY id`, collection)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", collection, err)
	}
	defer func() { _ = rows.Close() }()

	var records []store.Record
	for rows.Next() {
		rec := store.Record{Collection: collection}
		var body string
		if err := rows.Scan(&rec.ID, &body); err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", collection, err)
		}
		rec.Body = []byte(body)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// LoadRecord returns one document; found is false when it does not exist.
func (m *Manager) LoadRecord(ctx context.Context, collection, id string) (store.Record, bool, error) {
	var body string
	err := m.db.QueryRowContext(ctx,
		`SELECT body FROM documents WHERE collection = ? AND id = ?`, collection, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Record{}, false, nil
	}
	if err != nil {
		return store.Record{}, false, fmt.Errorf("failed to load %s/%s: %w", collection, id, err)
	}
	return store.Record{Collection: collection, ID: id, Body: []byte(body)}, true, nil
}

// Commit applies puts and deletes in one transaction.
func (m *Manager) Commit(ctx context.Context, puts []store.Record, deletes []store.Record) error {
	return m.executeWrite(func(db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		for _, rec := range puts {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO documents (collection, id, body, updated_at)
				VALUES (?, ?, ?, CURRENT_TIMESTAMP)
				ON CONFLICT (collection, id) DO UPDATE
				SET body = excluded.body, updated_at = excluded.updated_at
			`, rec.Collection, rec.ID, string(rec.Body))
			if err != nil {
				return fmt.Errorf("failed to write %s/%s: %w", rec.Collection, rec.ID, err)
			}
		}
		for _, rec := range deletes {
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM documents WHERE collection = ? AND id = ?`, rec.Collection, rec.ID); err != nil {
				return fmt.Errorf("failed to delete %s/%s: %w", rec.Collection, rec.ID, err)
			}
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit: %w", err)
		}
		return nil
	})
}

// HealthCheck verifies the database is reachable and the documents table is readable.
func (m *Manager) HealthCheck(ctx context.Context) error {
	m.mu.RLock()
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		return ErrManagerClosed
	}

	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	var count int
	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM documents").Scan(&count); err != nil {
		return fmt.Errorf("database query failed: %w", err)
	}
	return nil
}

// GetDB exposes the pool for tests and read-only tooling.
func (m *Manager) GetDB() *sql.DB {
	return m.db
}

// Close stops the writer and closes the pool. Safe to call twice.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()
	return m.db.Close()
}
