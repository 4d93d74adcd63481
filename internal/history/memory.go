package history

import (
	"context"
	"sort"
	"sync"

	"roomchat/pkg/types"
)

// MemoryLog is a process local history, lost on restart
type MemoryLog struct {
	mu     sync.RWMutex
	rooms  map[string][]memoryEntry
	closed bool
}

type memoryEntry struct {
	key   string
	value string
}

// NewMemoryLog creates an empty history.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{rooms: make(map[string][]memoryEntry)}
}

// Append keeps each room sorted by key; a record with an existing key replaces it.
func (m *MemoryLog) Append(ctx context.Context, room string, record types.ChatRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}

	entry := memoryEntry{key: record.Key(), value: string(record.Encode())}
	entries := m.rooms[room]
	i := sort.Search(len(entries), func(i int) bool { return entries[i].key >= entry.key })
	switch {
	case i < len(entries) && entries[i].key == entry.key:
		entries[i] = entry
	default:
		entries = append(entries, memoryEntry{})
		copy(entries[i+1:], entries[i:])
		entries[i] = entry
	}
	m.rooms[room] = entries
	return nil
}

// Recent implements interfaces.HistoryLog.
func (m *MemoryLog) Recent(ctx context.Context, room string, limit int) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	limit = clampLimit(limit)
	if limit <= 0 {
		return nil, nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}

	entries := m.rooms[room]
	records := make([]string, 0, min(limit, len(entries)))
	for i := len(entries) - 1; i >= 0 && len(records) < limit; i-- {
		records = append(records, entries[i].value)
	}
	return records, nil
}

// HealthCheck implements interfaces.HistoryLog.
func (m *MemoryLog) HealthCheck(context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	return nil
}

// Close implements interfaces.HistoryLog.
func (m *MemoryLog) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
