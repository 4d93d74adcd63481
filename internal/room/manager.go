package room

import (
	"context"
	"log/slog"
	"sync"

	"github.com/samber/lo"

	"roomchat/pkg/interfaces"
)

// Manager owns one Room per name, created on first use and kept for the
// lifetime of the process
type Manager struct {
	history interfaces.HistoryLog
	log     *slog.Logger
	opts    []Option

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	rooms  map[string]*Room
	closed bool
}

// ManagerStats aggregates the stats of every live room
type ManagerStats struct {
	Rooms    int `json:"rooms"`
	Sessions int `json:"sessions"`
}

// NewManager creates an empty manager; opts are applied to every room it creates.
func NewManager(history interfaces.HistoryLog, log *slog.Logger, opts ...Option) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		history: history,
		log:     log,
		opts:    opts,
		ctx:     ctx,
		cancel:  cancel,
		rooms:   make(map[string]*Room),
	}
}

// Get returns the room for name, starting it if needed.
// ARCHITECTURAL DISCOVERY: The map lookup and creation happen under one lock,
// so concurrent first connections to a name share a single room
func (m *Manager) Get(name string) (*Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrManagerClosed
	}
	if room, ok := m.rooms[name]; ok {
		return room, nil
	}

	room := New(name, m.history, m.log, m.opts...)
	m.rooms[name] = room
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		room.Run(m.ctx)
	}()
	m.log.Info("Room created", "room", name)
	return room, nil
}

// Stats sums the snapshots of every live room.
func (m *Manager) Stats(ctx context.Context) (ManagerStats, error) {
	m.mu.Lock()
	rooms := lo.Values(m.rooms)
	m.mu.Unlock()

	snapshots := make([]Stats, 0, len(rooms))
	for _, room := range rooms {
		stats, err := room.Stats(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ManagerStats{}, err
			}
			continue
		}
		snapshots = append(snapshots, stats)
	}

	return ManagerStats{
		Rooms:    len(snapshots),
		Sessions: lo.SumBy(snapshots, func(s Stats) int { return s.Sessions }),
	}, nil
}

// Shutdown stops every room and waits for them to flush their history,
// or for ctx to expire.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	m.cancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.log.Info("All rooms stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
