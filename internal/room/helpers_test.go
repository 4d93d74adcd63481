package room

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"roomchat/pkg/interfaces"
	"roomchat/pkg/types"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeConn records every frame sent to it
type fakeConn struct {
	mu          sync.Mutex
	frames      []string
	closed      bool
	closeCode   int
	closeReason string
	failSend    bool
}

func (c *fakeConn) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failSend || c.closed {
		return types.ErrTransport
	}
	c.frames = append(c.frames, string(data))
	return nil
}

func (c *fakeConn) Close(code int, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		c.closeCode = code
		c.closeReason = reason
	}
	return nil
}

func (c *fakeConn) Frames() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.frames...)
}

func (c *fakeConn) CloseInfo() (bool, int, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed, c.closeCode, c.closeReason
}

func (c *fakeConn) setFailSend(fail bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failSend = fail
}

// waitFrames waits until conn has received at least n frames
func waitFrames(t *testing.T, conn *fakeConn, n int) []string {
	t.Helper()
	require.Eventually(t, func() bool { return len(conn.Frames()) >= n }, 2*time.Second, 5*time.Millisecond,
		"expected %d frames, got %v", n, conn.Frames())
	return conn.Frames()
}

// fakeLimiter is a scriptable session limiter
type fakeLimiter struct {
	deny      atomic.Bool
	closed    atomic.Bool
	checks    atomic.Int32
	onFailure func(error)
}

func (l *fakeLimiter) CheckLimit() bool {
	l.checks.Add(1)
	return !l.deny.Load()
}

func (l *fakeLimiter) Close() {
	l.closed.Store(true)
}

// limiterSet hands out one fakeLimiter per session, keyed by identity
type limiterSet struct {
	mu       sync.Mutex
	limiters map[string]*fakeLimiter
}

func newLimiterSet() *limiterSet {
	return &limiterSet{limiters: make(map[string]*fakeLimiter)}
}

func (s *limiterSet) factory(identity string, onFailure func(error)) Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	l := &fakeLimiter{onFailure: onFailure}
	s.limiters[identity] = l
	return l
}

func (s *limiterSet) get(identity string) *fakeLimiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.limiters[identity]
}

// fixedClock is a settable wall clock
type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFixedClock() *fixedClock {
	return &fixedClock{now: time.UnixMilli(1_700_000_000_000)}
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// startRoom runs a room until the test ends
func startRoom(t *testing.T, name string, history interfaces.HistoryLog, opts ...Option) *Room {
	t.Helper()
	r := New(name, history, discardLogger(), opts...)
	ctx, cancel := context.WithCancel(context.Background())
	go r.Run(ctx)
	t.Cleanup(func() {
		cancel()
		select {
		case <-r.Done():
		case <-time.After(2 * time.Second):
			t.Error("room did not stop")
		}
	})
	return r
}

// sync waits until the room loop has handled every event posted so far
func syncRoom(t *testing.T, r *Room) Stats {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	stats, err := r.Stats(ctx)
	require.NoError(t, err)
	return stats
}

// join connects conn and declares name, waiting for the ready acknowledgment
func join(t *testing.T, r *Room, conn *fakeConn, identity, name string) *Session {
	t.Helper()
	s, err := r.Accept(conn, identity)
	require.NoError(t, err)
	require.NoError(t, r.Receive(s, identityFrame(name)))
	require.Eventually(t, func() bool {
		frames := conn.Frames()
		return len(frames) > 0 && frames[len(frames)-1] == `{"ready":true}`
	}, 2*time.Second, 5*time.Millisecond, "no ready for %s: %v", name, conn.Frames())
	return s
}

func identityFrame(name string) []byte {
	data, _ := json.Marshal(types.IdentityFrame{Name: name})
	return data
}

func chatFrame(message string) []byte {
	data, _ := json.Marshal(types.ChatFrame{Message: message})
	return data
}

func decodeRecord(t *testing.T, frame string) types.ChatRecord {
	t.Helper()
	var record types.ChatRecord
	require.NoError(t, json.Unmarshal([]byte(frame), &record))
	return record
}
