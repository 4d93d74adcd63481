//go:generate go run go.uber.org/mock/mockgen -source=limiter.go -destination=../../internal/mocks/mock_limiter.go -package=mocks
package interfaces

import (
	"context"
	"time"
)

// LimiterStub is a handle on the limiter actor of one identity
// FUNCTIONAL DISCOVERY: A stub may go stale after a transport failure,
// callers re-resolve a fresh one through a LimiterResolver instead of caching forever
type LimiterStub interface {
	// Cooldown reports how long the identity must wait. When consume is true
	// the request also records a new event.
	Cooldown(ctx context.Context, consume bool) (time.Duration, error)
}

// LimiterResolver routes an identity to its limiter actor.
type LimiterResolver interface {
	Resolve(identity string) LimiterStub
}
