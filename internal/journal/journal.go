// Package journal keeps a local sqlite record of connection lifecycle events.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	// ARCHITECTURAL DISCOVERY: Driver is only referenced through the DSN
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
	"sessionlink/internal/config"
)

const (
	writeBuffer = 100
	// retryDelay separates a failed write from its single retry
	retryDelay = 500 * time.Millisecond
)

// Entry is one journaled event
type Entry struct {
	ID              string    `json:"id"`
	SessionCode     string    `json:"session_code"`
	ClientSessionID string    `json:"client_session_id"`
	ConnectionID    uint64    `json:"connection_id"`
	Kind            string    `json:"kind"`
	Code            int       `json:"code,omitempty"`
	Detail          string    `json:"detail,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// Store serializes writes through one goroutine; reads go straight to the pool.
type Store struct {
	db       *sql.DB
	writes   chan writeOperation
	shutdown chan struct{}
	wg       sync.WaitGroup
	timeout  time.Duration
	logger   *zap.Logger

	mu     sync.RWMutex
	closed bool
}

type writeOperation struct {
	operation func(*sql.DB) error
	result    chan error
}

// Open creates or upgrades the journal at cfg.Path.
func Open(cfg *config.JournalConfig, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := sql.Open("sqlite3", cfg.Path+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := applyPragmas(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply SQLite optimizations: %w", err)
	}
	if err := applyMigrations(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, err
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	s := &Store{
		db:       db,
		writes:   make(chan writeOperation, writeBuffer),
		shutdown: make(chan struct{}),
		timeout:  timeout,
		logger:   logger.Named("journal"),
	}

	s.wg.Add(1)
	go s.writeLoop()

	return s, nil
}

func (s *Store) writeLoop() {
	defer s.wg.Done()

	for {
		select {
		case op := <-s.writes:
			// FUNCTIONAL DISCOVERY: One retry covers transient SQLITE_BUSY
			err := op.operation(s.db)
			if err != nil {
				s.logger.Warn("journal write failed, retrying", zap.Error(err), zap.Duration("delay", retryDelay))
				time.Sleep(retryDelay)
				err = op.operation(s.db)
				if err != nil {
					s.logger.Error("journal write failed after retry", zap.Error(err))
				}
			}
			op.result <- err

		case <-s.shutdown:
			return
		}
	}
}

func (s *Store) executeWrite(ctx context.Context, operation func(*sql.DB) error) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return ErrJournalClosed
	}
	s.mu.RUnlock()

	result := make(chan error, 1)
	timer := time.NewTimer(s.timeout)
	defer timer.Stop()

	select {
	case s.writes <- writeOperation{operation: operation, result: result}:
	case <-timer.C:
		return ErrWriteTimeout
	case <-s.shutdown:
		return ErrShuttingDown
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-result:
		return err
	case <-timer.C:
		return ErrWriteTimeout
	}
}

// Record stores e, assigning an ID and timestamp when missing.
func (s *Store) Record(ctx context.Context, e Entry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}

	return s.executeWrite(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO connection_events (id, session_code, client_session_id, connection_id, kind, code, detail, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`,
			e.ID,
			e.SessionCode,
			e.ClientSessionID,
			int64(e.ConnectionID),
			e.Kind,
			e.Code,
			e.Detail,
			e.CreatedAt.UnixMilli(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert event: %w", err)
		}
		return nil
	})
}

// Recent returns up to limit entries, oldest first. An empty sessionCode
// matches every session.
func (s *Store) Recent(ctx context.Context, sessionCode string, limit int) ([]Entry, error) {
	if limit <= 0 {
		return nil, ErrInvalidLimit
	}

	query := `
		SELECT id, session_code, client_session_id, connection_id, kind, code, detail, created_at
		FROM connection_events
		WHERE (? = '' OR session_code = ?)
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, sessionCode, sessionCode, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []Entry
	for rows.Next() {
		var (
			e         Entry
			connID    int64
			createdAt int64
		)
		if err := rows.Scan(&e.ID, &e.SessionCode, &e.ClientSessionID, &connID, &e.Kind, &e.Code, &e.Detail, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan event row: %w", err)
		}
		e.ConnectionID = uint64(connID)
		e.CreatedAt = time.UnixMilli(createdAt)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating event rows: %w", err)
	}

	// newest-first from the query, reversed for reading
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

// HealthCheck validates journal connectivity
func (s *Store) HealthCheck(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("journal ping failed: %w", err)
	}
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations").Scan(&n); err != nil {
		return fmt.Errorf("journal read test failed: %w", err)
	}
	return nil
}

// Close stops the writer and closes the database. Safe to call twice.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.shutdown)
	s.wg.Wait()

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close journal: %w", err)
	}
	return nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute pragma %s: %w", pragma, err)
		}
	}
	return nil
}
