//go:generate go run go.uber.org/mock/mockgen -source=history.go -destination=../../internal/mocks/mock_history.go -package=mocks
package interfaces

import (
	"context"

	"roomchat/pkg/types"
)

// HistoryLog is the ordered, timestamp keyed append log of every room
// ARCHITECTURAL DISCOVERY: One interface for all backends (badger, sqlite, memory)
// so rooms never know where their history lives
type HistoryLog interface {
	// Append stores the serialized record under its history key within room.
	Append(ctx context.Context, room string, record types.ChatRecord) error

	// Recent returns at most limit serialized records of room, most recent first.
	Recent(ctx context.Context, room string, limit int) ([]string, error)

	// HealthCheck verifies the backend is reachable.
	HealthCheck(ctx context.Context) error

	// Close flushes pending writes and releases the backend.
	Close() error
}
