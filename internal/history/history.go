// Package history stores the per-room chat log used for durability and backlog replay.
package history

import (
	"encoding/hex"
	"fmt"
	"log/slog"

	"roomchat/pkg/database"
	"roomchat/pkg/interfaces"
	"roomchat/pkg/types"
)

// Backend names accepted by Open
const (
	BackendBadger = "badger"
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// Open creates the history log named by backend. path is a directory for
// badger and a file for sqlite; memory ignores it.
func Open(backend, path string, log *slog.Logger) (interfaces.HistoryLog, error) {
	switch backend {
	case BackendBadger:
		return NewBadgerLog(path, log)
	case BackendSQLite:
		config := database.DefaultConfig()
		config.DatabasePath = path
		return NewSQLiteLog(config, log)
	case BackendMemory:
		return NewMemoryLog(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, backend)
	}
}

// clampLimit bounds a backlog read to the protocol maximum
func clampLimit(limit int) int {
	if limit > types.BacklogLimit {
		return types.BacklogLimit
	}
	return limit
}

// roomPrefix namespaces keys of one room; the room name is hex encoded so that
// no room prefix can be a prefix of another
func roomPrefix(room string) []byte {
	return []byte("msg:" + hex.EncodeToString([]byte(room)) + ":")
}
