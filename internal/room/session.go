package room

import (
	"github.com/google/uuid"

	"roomchat/pkg/interfaces"
)

// State is the protocol state of one session
type State int

const (
	// StateConnecting: registered, backlog not loaded yet
	StateConnecting State = iota
	// StateAwaitingIdentity: backlog queued, waiting for the identity frame
	StateAwaitingIdentity
	// StateActive: named, receives broadcasts, may chat
	StateActive
	// StateClosed: quit, never revisited
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAwaitingIdentity:
		return "awaiting_identity"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Limiter gates the chat messages of one session
type Limiter interface {
	CheckLimit() bool
	Close()
}

// LimiterFactory builds the limiter of a new session. onFailure is called from
// any goroutine when the limiter can no longer answer.
type LimiterFactory func(identity string, onFailure func(error)) Limiter

type unlimited struct{}

func (unlimited) CheckLimit() bool { return true }
func (unlimited) Close()           {}

// Session is one connected client of a room
// FUNCTIONAL DISCOVERY: Only ID and Identity may be read outside the room goroutine,
// everything else is owned by the room loop
type Session struct {
	ID       string
	Identity string

	conn    interfaces.Conn
	limiter Limiter

	state State
	name  string

	// blocked holds frames addressed to the session before it has a name
	blocked [][]byte
	// backlogAt is the position in blocked where history is spliced in
	backlogAt int
	// held are inbound frames received while the backlog was still loading
	held [][]byte
}

func newSession(conn interfaces.Conn, identity string) *Session {
	return &Session{
		ID:       uuid.NewString(),
		Identity: identity,
		conn:     conn,
		limiter:  unlimited{},
		state:    StateConnecting,
	}
}

func (s *Session) named() bool {
	return s.state == StateActive
}

// enqueue buffers a frame until the session is named
func (s *Session) enqueue(data []byte) {
	s.blocked = append(s.blocked, data)
}

// spliceBacklog inserts history frames after the joined notices queued at accept time
func (s *Session) spliceBacklog(frames [][]byte) {
	if len(frames) == 0 {
		return
	}
	at := min(s.backlogAt, len(s.blocked))
	merged := make([][]byte, 0, len(s.blocked)+len(frames))
	merged = append(merged, s.blocked[:at]...)
	merged = append(merged, frames...)
	merged = append(merged, s.blocked[at:]...)
	s.blocked = merged
}
