package room

import "github.com/samber/lo"

// registry is the ordered set of live sessions of one room.
// Only the room goroutine touches it.
type registry struct {
	sessions []*Session
}

func (r *registry) add(s *Session) {
	r.sessions = append(r.sessions, s)
}

func (r *registry) remove(s *Session) {
	r.sessions = lo.Without(r.sessions, s)
}

// retain keeps the sessions for which keep returns true, in order
func (r *registry) retain(keep func(*Session) bool) {
	r.sessions = lo.Filter(r.sessions, func(s *Session, _ int) bool {
		return keep(s)
	})
}

func (r *registry) named() []*Session {
	return lo.Filter(r.sessions, func(s *Session, _ int) bool {
		return s.named()
	})
}

func (r *registry) len() int {
	return len(r.sessions)
}
