// Package room implements the per-room session coordinator: one goroutine per
// room owns its sessions, its logical clock and the order of its history.
package room

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/samber/lo"

	"roomchat/pkg/interfaces"
	"roomchat/pkg/types"
)

const defaultInboxSize = 256

// Option customises a Room.
type Option func(*Room)

// WithClock replaces the wall clock used for chat timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Room) { r.now = now }
}

// WithLimiters sets how the limiter of each new session is built.
func WithLimiters(factory LimiterFactory) Option {
	return func(r *Room) {
		if factory != nil {
			r.limiters = factory
		}
	}
}

// WithInboxSize sets the event buffer between connections and the room loop.
func WithInboxSize(size int) Option {
	return func(r *Room) {
		if size > 0 {
			r.inboxSize = size
		}
	}
}

// Stats is a point in time view of a room
type Stats struct {
	Name          string `json:"name"`
	Sessions      int    `json:"sessions"`
	Named         int    `json:"named"`
	LastTimestamp int64  `json:"last_timestamp"`
}

// Room coordinates the sessions of one chat room
// ARCHITECTURAL DISCOVERY: Every state change happens on the run goroutine, connection
// goroutines only post events, so frames of one room are never handled concurrently
type Room struct {
	name     string
	history  interfaces.HistoryLog
	limiters LimiterFactory
	log      *slog.Logger
	now      func() time.Time

	inboxSize int
	inbox     chan event
	done      chan struct{}
	stopped   chan struct{}

	// owned by the run goroutine
	registry      registry
	lastTimestamp int64
	journal       *journal
}

type event interface{}

type (
	acceptEvent struct {
		session *Session
	}
	frameEvent struct {
		session *Session
		data    []byte
	}
	closeEvent struct {
		session *Session
	}
	backlogEvent struct {
		session *Session
		records []string
		err     error
	}
	limiterFailedEvent struct {
		session *Session
		err     error
	}
	statsEvent struct {
		reply chan Stats
	}
)

// New creates a room. It does nothing until Run is called.
func New(name string, history interfaces.HistoryLog, log *slog.Logger, opts ...Option) *Room {
	r := &Room{
		name:      name,
		history:   history,
		limiters:  func(string, func(error)) Limiter { return unlimited{} },
		log:       log.With("room", name),
		now:       time.Now,
		inboxSize: defaultInboxSize,
		done:      make(chan struct{}),
		stopped:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.inbox = make(chan event, r.inboxSize)
	r.journal = newJournal(name, history, r.log)
	return r
}

// Name returns the room key.
func (r *Room) Name() string {
	return r.name
}

// Accept registers a new connection for identity and returns its session.
// Frames of the connection must be passed to Receive from a single goroutine.
func (r *Room) Accept(conn interfaces.Conn, identity string) (*Session, error) {
	if conn == nil {
		return nil, ErrNilConnection
	}
	session := newSession(conn, identity)
	if err := r.post(acceptEvent{session: session}); err != nil {
		return nil, err
	}
	return session, nil
}

// Receive hands one inbound frame of s to the room.
func (r *Room) Receive(s *Session, data []byte) error {
	return r.post(frameEvent{session: s, data: data})
}

// Terminate reports that the connection of s closed or failed.
func (r *Room) Terminate(s *Session) error {
	return r.post(closeEvent{session: s})
}

// Stats asks the room loop for a snapshot.
func (r *Room) Stats(ctx context.Context) (Stats, error) {
	reply := make(chan Stats, 1)
	if err := r.post(statsEvent{reply: reply}); err != nil {
		return Stats{}, err
	}
	select {
	case stats := <-reply:
		return stats, nil
	case <-ctx.Done():
		return Stats{}, ctx.Err()
	case <-r.stopped:
		return Stats{}, ErrRoomClosed
	}
}

// Done is closed once the room loop has exited and its journal is drained.
func (r *Room) Done() <-chan struct{} {
	return r.stopped
}

func (r *Room) post(e event) error {
	select {
	case <-r.done:
		return ErrRoomClosed
	default:
	}
	select {
	case r.inbox <- e:
		return nil
	case <-r.done:
		return ErrRoomClosed
	}
}

// Run serves the room until ctx is cancelled. Remaining sessions are closed
// with 1001 and pending history writes are flushed before Run returns.
func (r *Room) Run(ctx context.Context) {
	defer close(r.stopped)

	go r.journal.run()
	r.seedClock(ctx)
	r.log.Debug("Room started", "last_timestamp", r.lastTimestamp)

	for {
		// cancellation wins over queued events, shutdown settles those
		select {
		case <-ctx.Done():
			r.shutdown()
			return
		default:
		}

		select {
		case <-ctx.Done():
			r.shutdown()
			return
		case e := <-r.inbox:
			r.handle(e)
		}
	}
}

// seedClock restores the logical clock from the newest persisted record
// FUNCTIONAL DISCOVERY: Without this a restart with a regressed wall clock could
// issue timestamps older than the history already shown to clients
func (r *Room) seedClock(ctx context.Context) {
	seedCtx, cancel := context.WithTimeout(ctx, journalTimeout)
	defer cancel()

	records, err := r.history.Recent(seedCtx, r.name, 1)
	if err != nil {
		r.log.Warn("Failed to read latest history record", "error", err)
		return
	}
	if len(records) == 0 {
		return
	}
	var latest types.ChatRecord
	if err := json.Unmarshal([]byte(records[0]), &latest); err != nil {
		r.log.Warn("Latest history record is unreadable", "error", err)
		return
	}
	r.lastTimestamp = latest.Timestamp
}

func (r *Room) shutdown() {
	close(r.done)
	for _, s := range r.registry.sessions {
		s.state = StateClosed
		s.limiter.Close()
		_ = s.conn.Close(types.CloseGoingAway, "Server shutting down.")
	}
	r.registry.sessions = nil
	r.drainInbox()

	r.journal.close()
	<-r.journal.done
	r.log.Debug("Room stopped")
}

// drainInbox settles events posted before done was closed. Connections whose
// accept never reached the loop still get the going away close.
func (r *Room) drainInbox() {
	for {
		select {
		case e := <-r.inbox:
			switch e := e.(type) {
			case acceptEvent:
				e.session.state = StateClosed
				_ = e.session.conn.Close(types.CloseGoingAway, "Server shutting down.")
			case statsEvent:
				e.reply <- r.stats()
			}
		default:
			return
		}
	}
}

func (r *Room) handle(e event) {
	switch e := e.(type) {
	case acceptEvent:
		r.handleAccept(e.session)
	case frameEvent:
		r.handleFrame(e.session, e.data)
	case closeEvent:
		r.drop(e.session)
	case backlogEvent:
		r.handleBacklog(e)
	case limiterFailedEvent:
		r.handleLimiterFailed(e.session, e.err)
	case statsEvent:
		e.reply <- r.stats()
	}
}

func (r *Room) handleAccept(s *Session) {
	s.limiter = r.limiters(s.Identity, func(err error) {
		_ = r.post(limiterFailedEvent{session: s, err: err})
	})

	for _, other := range r.registry.named() {
		s.enqueue(types.Joined(other.name))
	}
	s.backlogAt = len(s.blocked)
	r.registry.add(s)

	queued := r.journal.recent(types.BacklogLimit, func(records []string, err error) {
		_ = r.post(backlogEvent{session: s, records: records, err: err})
	})
	if !queued {
		r.handleBacklog(backlogEvent{session: s})
	}
	r.log.Debug("Session connected", "session", s.ID, "identity", s.Identity)
}

func (r *Room) handleBacklog(e backlogEvent) {
	s := e.session
	if s.state != StateConnecting {
		return
	}
	if e.err != nil {
		r.log.Error("Failed to load backlog", "session", s.ID, "error", e.err)
	}

	// history is read most recent first
	frames := lo.Map(e.records, func(_ string, i int) []byte {
		return []byte(e.records[len(e.records)-1-i])
	})
	s.spliceBacklog(frames)
	s.state = StateAwaitingIdentity

	held := s.held
	s.held = nil
	for _, data := range held {
		if s.state == StateClosed {
			return
		}
		r.handleFrame(s, data)
	}
}

func (r *Room) handleFrame(s *Session, data []byte) {
	switch s.state {
	case StateConnecting:
		s.held = append(s.held, data)
	case StateAwaitingIdentity:
		r.handleIdentity(s, data)
	case StateActive:
		r.handleChat(s, data)
	case StateClosed:
		_ = s.conn.Close(types.CloseInternalError, "WebSocket broken.")
	}
}

func (r *Room) handleIdentity(s *Session, data []byte) {
	frame, err := types.DecodeIdentity(data)
	if errors.Is(err, types.ErrNameTooLong) {
		r.send(s, types.Error(err))
		if s.state != StateClosed {
			_ = s.conn.Close(types.ClosePolicyViolation, types.ClientText(err))
			r.drop(s)
		}
		return
	}
	if err != nil {
		// malformed identity: report and keep waiting for a usable one
		r.send(s, types.Error(err))
		return
	}

	s.name = frame.Name
	for _, queued := range s.blocked {
		if !r.send(s, queued) {
			return
		}
	}
	s.blocked = nil
	s.state = StateActive
	r.log.Debug("Session identified", "session", s.ID, "name", s.name)

	r.broadcast(types.Joined(s.name))
	r.send(s, types.Ready())
}

func (r *Room) handleChat(s *Session, data []byte) {
	if !s.limiter.CheckLimit() {
		r.send(s, types.Error(types.ErrRateLimited))
		return
	}

	frame, err := types.DecodeChat(data)
	if err != nil {
		r.send(s, types.Error(err))
		return
	}

	record := types.ChatRecord{
		Name:      s.name,
		Message:   frame.Message,
		Timestamp: r.nextTimestamp(),
	}
	r.journal.append(record)
	r.broadcast(record.Encode())
}

func (r *Room) handleLimiterFailed(s *Session, err error) {
	if s.state == StateClosed {
		return
	}
	r.log.Warn("Closing session after limiter failure", "session", s.ID, "identity", s.Identity, "error", err)
	_ = s.conn.Close(types.CloseInternalError, err.Error())
	r.drop(s)
}

// nextTimestamp issues max(now, last+1) so timestamps strictly increase
func (r *Room) nextTimestamp() int64 {
	ts := max(r.now().UnixMilli(), r.lastTimestamp+1)
	r.lastTimestamp = ts
	return ts
}

// send delivers directly to s and drops it on failure. It reports whether s is still live.
func (r *Room) send(s *Session, data []byte) bool {
	if s.state == StateClosed {
		return false
	}
	if err := s.conn.Send(data); err != nil {
		r.log.Debug("Send failed, dropping session", "session", s.ID, "error", err)
		_ = s.conn.Close(types.CloseInternalError, "WebSocket broken.")
		r.drop(s)
		return false
	}
	return true
}

// drop closes s and announces its departure if it had a name. Dropping twice is a no-op.
func (r *Room) drop(s *Session) {
	if s.state == StateClosed {
		return
	}
	wasNamed := s.named()
	r.close(s)
	r.registry.remove(s)
	r.log.Debug("Session closed", "session", s.ID, "name", s.name)

	if wasNamed {
		r.broadcast(types.Quit(s.name))
	}
}

func (r *Room) close(s *Session) {
	s.state = StateClosed
	s.held = nil
	s.blocked = nil
	s.limiter.Close()
}

// broadcast delivers data to every named session and queues it for the unnamed ones
// TECHNICAL DISCOVERY: Failed sessions are collected during the pass and announced
// afterwards; they are already out of the registry so the follow-up passes terminate
func (r *Room) broadcast(data []byte) {
	var quitters []*Session

	r.registry.retain(func(s *Session) bool {
		if s.state == StateClosed {
			return false
		}
		if !s.named() {
			s.enqueue(data)
			return true
		}
		if err := s.conn.Send(data); err != nil {
			r.log.Debug("Broadcast failed, dropping session", "session", s.ID, "error", err)
			_ = s.conn.Close(types.CloseInternalError, "WebSocket broken.")
			r.close(s)
			quitters = append(quitters, s)
			return false
		}
		return true
	})

	for _, s := range quitters {
		r.broadcast(types.Quit(s.name))
	}
}

func (r *Room) stats() Stats {
	return Stats{
		Name:          r.name,
		Sessions:      r.registry.len(),
		Named:         len(r.registry.named()),
		LastTimestamp: r.lastTimestamp,
	}
}
