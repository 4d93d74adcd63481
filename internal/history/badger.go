package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"

	"roomchat/pkg/types"
)

// BadgerLog keeps every room's history in one badger key space
// ARCHITECTURAL DISCOVERY: Keys are room prefix + ISO timestamp, badger orders keys
// bytewise, so a reverse prefix scan yields the most recent records first
type BadgerLog struct {
	db  *badger.DB
	log *slog.Logger
}

// NewBadgerLog opens (or creates) a badger database in dir. An empty dir keeps
// everything in memory.
func NewBadgerLog(dir string, log *slog.Logger) (*BadgerLog, error) {
	opts := badger.DefaultOptions(dir).WithLogger(badgerLogger{log: log})
	if dir == "" {
		opts = opts.WithInMemory(true)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger history: %w", err)
	}
	return &BadgerLog{db: db, log: log}, nil
}

func historyKey(room string, record types.ChatRecord) []byte {
	return append(roomPrefix(room), record.Key()...)
}

// Append implements interfaces.HistoryLog.
func (b *BadgerLog) Append(ctx context.Context, room string, record types.ChatRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if b.db.IsClosed() {
		return ErrClosed
	}

	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(historyKey(room, record), record.Encode())
	})
	if err != nil {
		return fmt.Errorf("failed to append history record: %w", err)
	}
	return nil
}

// Recent implements interfaces.HistoryLog.
func (b *BadgerLog) Recent(ctx context.Context, room string, limit int) ([]string, error) {
	limit = clampLimit(limit)
	if limit <= 0 {
		return nil, nil
	}
	if b.db.IsClosed() {
		return nil, ErrClosed
	}

	prefix := roomPrefix(room)
	records := make([]string, 0, limit)

	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = prefix
		opts.PrefetchSize = limit

		it := txn.NewIterator(opts)
		defer it.Close()

		// TECHNICAL DISCOVERY: A reverse seek lands on the last key <= target,
		// 0xff sorts after every ISO timestamp character
		for it.Seek(append(append([]byte{}, prefix...), 0xff)); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			value, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			records = append(records, string(value))
			if len(records) == limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read history: %w", err)
	}
	return records, nil
}

// HealthCheck implements interfaces.HistoryLog.
func (b *BadgerLog) HealthCheck(ctx context.Context) error {
	if b.db.IsClosed() {
		return ErrClosed
	}
	return b.db.View(func(txn *badger.Txn) error {
		return ctx.Err()
	})
}

// RunGC rewrites badger value log files every interval until ctx is cancelled.
func (b *BadgerLog) RunGC(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for {
				err := b.db.RunValueLogGC(0.5)
				if err == nil {
					continue
				}
				if !errors.Is(err, badger.ErrNoRewrite) && !errors.Is(err, badger.ErrGCInMemoryMode) {
					b.log.Warn("History value log GC failed", "error", err)
				}
				break
			}
		}
	}
}

// Close implements interfaces.HistoryLog.
func (b *BadgerLog) Close() error {
	if b.db.IsClosed() {
		return nil
	}
	return b.db.Close()
}

// badgerLogger forwards badger's printf style logging to slog
type badgerLogger struct {
	log *slog.Logger
}

func (l badgerLogger) Errorf(format string, args ...interface{}) {
	l.log.Error(fmt.Sprintf(format, args...), "component", "badger")
}

func (l badgerLogger) Warningf(format string, args ...interface{}) {
	l.log.Warn(fmt.Sprintf(format, args...), "component", "badger")
}

func (l badgerLogger) Infof(format string, args ...interface{}) {
	l.log.Debug(fmt.Sprintf(format, args...), "component", "badger")
}

func (l badgerLogger) Debugf(format string, args ...interface{}) {
	l.log.Debug(fmt.Sprintf(format, args...), "component", "badger")
}
