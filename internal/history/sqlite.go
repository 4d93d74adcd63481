package history

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"roomchat/pkg/database"
	"roomchat/pkg/types"
)

// writeTimeout bounds how long Append waits for a slot in the write queue
const writeTimeout = 30 * time.Second

// SQLiteLog stores history in a single sqlite table keyed by (room, record_key)
type SQLiteLog struct {
	db           *sql.DB
	config       *database.Config
	log          *slog.Logger
	writeChannel chan writeOperation // single writer for sqlite
	shutdown     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex
}

type writeOperation struct {
	operation func(*sql.DB) error
	result    chan error
}

// NewSQLiteLog opens the database, applies the embedded migrations and starts the writer.
func NewSQLiteLog(config *database.Config, log *slog.Logger) (*SQLiteLog, error) {
	db, err := database.Open(config)
	if err != nil {
		return nil, err
	}

	if err := database.NewEmbeddedMigrationManager(db).ApplyMigrations(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate history database: %w", err)
	}
	if err := database.NewSchemaValidator(db).Validate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("history schema invalid: %w", err)
	}

	s := &SQLiteLog{
		db:           db,
		config:       config,
		log:          log,
		writeChannel: make(chan writeOperation, 100),
		shutdown:     make(chan struct{}),
	}

	// ARCHITECTURAL DISCOVERY: One writer goroutine avoids sqlite write contention,
	// reads stay concurrent on the pool
	s.wg.Add(1)
	go s.writeLoop()

	return s, nil
}

func (s *SQLiteLog) writeLoop() {
	defer s.wg.Done()

	for {
		select {
		case op := <-s.writeChannel:
			// FUNCTIONAL DISCOVERY: A failed write is retried exactly once after RetryDelay
			err := op.operation(s.db)
			if err != nil {
				s.log.Warn("History write failed, retrying", "error", err, "delay", s.config.RetryDelay)
				select {
				case <-time.After(s.config.RetryDelay):
					err = op.operation(s.db)
				case <-s.shutdown:
				}
				if err != nil {
					s.log.Error("History write failed after retry", "error", err)
				}
			}
			op.result <- err

		case <-s.shutdown:
			s.log.Debug("History write loop shutting down")
			return
		}
	}
}

func (s *SQLiteLog) executeWrite(ctx context.Context, operation func(*sql.DB) error) error {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return ErrClosed
	}

	result := make(chan error, 1)
	timeout := time.NewTimer(writeTimeout)
	defer timeout.Stop()

	select {
	case s.writeChannel <- writeOperation{operation: operation, result: result}:
	case <-timeout.C:
		return fmt.Errorf("history write timeout")
	case <-ctx.Done():
		return ctx.Err()
	case <-s.shutdown:
		return ErrClosed
	}

	select {
	case err := <-result:
		return err
	case <-s.shutdown:
		return ErrClosed
	}
}

// Append implements interfaces.HistoryLog.
func (s *SQLiteLog) Append(ctx context.Context, room string, record types.ChatRecord) error {
	key := record.Key()
	value := string(record.Encode())

	return s.executeWrite(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx,
			`INSERT OR REPLACE INTO history (room, record_key, value) VALUES (?, ?, ?)`,
			room, key, value,
		)
		if err != nil {
			return fmt.Errorf("failed to insert history record: %w", err)
		}
		return nil
	})
}

// Recent implements interfaces.HistoryLog.
func (s *SQLiteLog) Recent(ctx context.Context, room string, limit int) ([]string, error) {
	limit = clampLimit(limit)
	if limit <= 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT value FROM history WHERE room = ? ORDER BY record_key DESC LIMIT ?`,
		room, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	records := make([]string, 0, limit)
	for rows.Next() {
		var value string
		if err := rows.Scan(&value); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		records = append(records, value)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating history rows: %w", err)
	}
	return records, nil
}

// HealthCheck pings the database and runs a read against the history table.
func (s *SQLiteLog) HealthCheck(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM (SELECT 1 FROM history LIMIT 1)").Scan(&count); err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}
	return nil
}

// Close stops the writer and closes the database. Queued writes not yet
// picked up by the writer fail with ErrClosed.
func (s *SQLiteLog) Close() error {
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
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}
