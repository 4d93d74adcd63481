package limiter

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"roomchat/pkg/interfaces"
)

// Namespace owns the in-process limiter actors, one per identity
// ARCHITECTURAL DISCOVERY: Actors are created lazily on first use and reused for the
// identity's lifetime; idle actors are swept since a fresh actor behaves identically
type Namespace struct {
	mu       sync.Mutex
	actors   map[string]*Actor
	settings Settings
	log      *slog.Logger
}

// NewNamespace creates an empty namespace.
func NewNamespace(settings Settings, log *slog.Logger) *Namespace {
	return &Namespace{
		actors:   make(map[string]*Actor),
		settings: settings.withDefaults(),
		log:      log,
	}
}

// Get returns the live actor for identity, creating it if needed.
func (n *Namespace) Get(identity string) *Actor {
	n.mu.Lock()
	defer n.mu.Unlock()

	actor, exists := n.actors[identity]
	if !exists {
		actor = NewActor(n.settings)
		n.actors[identity] = actor
	}
	return actor
}

// Resolve implements interfaces.LimiterResolver.
func (n *Namespace) Resolve(identity string) interfaces.LimiterStub {
	return &localStub{namespace: n, identity: identity}
}

// Cooldown applies one request to identity's actor.
func (n *Namespace) Cooldown(identity string, consume bool) time.Duration {
	for {
		if wait, ok := n.Get(identity).cooldown(consume); ok {
			return wait
		}
	}
}

// Len returns the number of live actors.
func (n *Namespace) Len() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.actors)
}

// Sweep drops actors that carry no cooldown debt and returns how many were dropped.
func (n *Namespace) Sweep() int {
	n.mu.Lock()
	defer n.mu.Unlock()

	now := n.settings.Now()
	removed := 0
	for identity, actor := range n.actors {
		if actor.retireIfIdle(now) {
			delete(n.actors, identity)
			removed++
		}
	}
	return removed
}

// Run sweeps idle actors every interval until ctx is cancelled.
func (n *Namespace) Run(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if removed := n.Sweep(); removed > 0 {
				n.log.Debug("Swept idle limiter actors", "removed", removed, "live", n.Len())
			}
		case <-ctx.Done():
			return
		}
	}
}

// localStub addresses an identity rather than an actor instance, so a sweep
// never leaves it pointing at a retired actor
type localStub struct {
	namespace *Namespace
	identity  string
}

func (s *localStub) Cooldown(ctx context.Context, consume bool) (time.Duration, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return s.namespace.Cooldown(s.identity, consume), nil
}
