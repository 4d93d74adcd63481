package room

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"roomchat/internal/history"
	"roomchat/internal/mocks"
	"roomchat/pkg/types"
)

func TestRoom_JoinChatScenario(t *testing.T) {
	req := require.New(t)
	r := startRoom(t, "lobby", history.NewMemoryLog())

	alice := &fakeConn{}
	join(t, r, alice, "10.0.0.1", "alice")
	req.Equal([]string{`{"joined":"alice"}`, `{"ready":true}`}, alice.Frames())

	bob := &fakeConn{}
	bobSession := join(t, r, bob, "10.0.0.2", "bob")
	req.Equal([]string{`{"joined":"alice"}`, `{"joined":"bob"}`, `{"ready":true}`}, bob.Frames())

	frames := waitFrames(t, alice, 3)
	req.JSONEq(`{"joined":"bob"}`, frames[2])

	req.NoError(r.Receive(bobSession, chatFrame("hi")))
	frames = waitFrames(t, alice, 4)
	record := decodeRecord(t, frames[3])
	req.Equal("bob", record.Name)
	req.Equal("hi", record.Message)
	req.Positive(record.Timestamp)

	frames = waitFrames(t, bob, 4)
	req.Equal(alice.Frames()[3], frames[3], "every recipient sees the same bytes")
}

func TestRoom_TimestampsStrictlyIncrease(t *testing.T) {
	req := require.New(t)
	clock := newFixedClock()
	r := startRoom(t, "lobby", history.NewMemoryLog(), WithClock(clock.Now))

	conn := &fakeConn{}
	s := join(t, r, conn, "10.0.0.1", "alice")
	base := len(conn.Frames())

	// same tick, then a clock regression, then a jump forward
	for i := 0; i < 3; i++ {
		req.NoError(r.Receive(s, chatFrame(fmt.Sprintf("same tick %d", i))))
	}
	syncRoom(t, r)
	clock.Set(clock.Now().Add(-time.Hour))
	req.NoError(r.Receive(s, chatFrame("regressed")))
	syncRoom(t, r)
	clock.Set(clock.Now().Add(2 * time.Hour))
	req.NoError(r.Receive(s, chatFrame("forward")))

	frames := waitFrames(t, conn, base+5)[base:]
	var last int64
	for i, frame := range frames {
		record := decodeRecord(t, frame)
		req.Greater(record.Timestamp, last, "frame %d", i)
		last = record.Timestamp
	}
	req.Equal(clock.Now().UnixMilli(), last, "wall clock wins once it is ahead again")
}

func TestRoom_UnnamedSessionOnlyQueues(t *testing.T) {
	req := require.New(t)
	r := startRoom(t, "lobby", history.NewMemoryLog())

	alice := &fakeConn{}
	aliceSession := join(t, r, alice, "10.0.0.1", "alice")

	lurker := &fakeConn{}
	lurkerSession, err := r.Accept(lurker, "10.0.0.2")
	req.NoError(err)

	req.NoError(r.Receive(aliceSession, chatFrame("one")))
	req.NoError(r.Receive(aliceSession, chatFrame("two")))
	stats := syncRoom(t, r)
	req.Equal(2, stats.Sessions)
	req.Equal(1, stats.Named)
	req.Empty(lurker.Frames(), "no chat content before identity")

	req.NoError(r.Receive(lurkerSession, identityFrame("")))
	frames := waitFrames(t, lurker, 5)
	req.Equal(`{"joined":"alice"}`, frames[0])
	req.Equal("one", decodeRecord(t, frames[1]).Message)
	req.Equal("two", decodeRecord(t, frames[2]).Message)
	req.Equal(`{"joined":"anonymous"}`, frames[3])
	req.Equal(`{"ready":true}`, frames[4])
	req.Len(frames, 5, "live messages must not be duplicated by the backlog")
}

func TestRoom_BacklogIsChronologicalAndCapped(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	log := history.NewMemoryLog()

	const stored = types.BacklogLimit + 20
	base := int64(1_800_000_000_000)
	for i := 0; i < stored; i++ {
		req.NoError(log.Append(ctx, "lobby", types.ChatRecord{
			Name: "old", Message: fmt.Sprintf("m%d", i), Timestamp: base + int64(i),
		}))
	}
	// plus one record of another room that must never show up
	req.NoError(log.Append(ctx, "other", types.ChatRecord{Name: "x", Message: "elsewhere", Timestamp: base + 1000}))

	clock := newFixedClock() // far behind the stored history
	r := startRoom(t, "lobby", log, WithClock(clock.Now))

	conn := &fakeConn{}
	s := join(t, r, conn, "10.0.0.1", "carol")
	frames := conn.Frames()
	req.Len(frames, types.BacklogLimit+2)

	for i := 0; i < types.BacklogLimit; i++ {
		record := decodeRecord(t, frames[i])
		req.Equal(fmt.Sprintf("m%d", i+20), record.Message)
	}
	req.Equal(`{"joined":"carol"}`, frames[types.BacklogLimit])

	// the clock was seeded from history
	req.NoError(r.Receive(s, chatFrame("new")))
	frames = waitFrames(t, conn, types.BacklogLimit+3)
	req.Equal(base+stored, decodeRecord(t, frames[len(frames)-1]).Timestamp)
}

func TestRoom_ChatIsPersisted(t *testing.T) {
	log := history.NewMemoryLog()
	r := startRoom(t, "lobby", log)

	conn := &fakeConn{}
	s := join(t, r, conn, "10.0.0.1", "alice")
	require.NoError(t, r.Receive(s, chatFrame("keep me")))
	frames := waitFrames(t, conn, 3)

	require.Eventually(t, func() bool {
		records, err := log.Recent(context.Background(), "lobby", 10)
		return err == nil && len(records) == 1 && records[0] == frames[2]
	}, 2*time.Second, 5*time.Millisecond)
}

func TestRoom_NameTooLong(t *testing.T) {
	req := require.New(t)
	r := startRoom(t, "lobby", history.NewMemoryLog())

	alice := &fakeConn{}
	join(t, r, alice, "10.0.0.1", "alice")

	conn := &fakeConn{}
	s, err := r.Accept(conn, "10.0.0.2")
	req.NoError(err)
	req.NoError(r.Receive(s, identityFrame(strings.Repeat("x", types.MaxNameLength+1))))

	require.Eventually(t, func() bool {
		closed, _, _ := conn.CloseInfo()
		return closed
	}, 2*time.Second, 5*time.Millisecond)

	_, code, reason := conn.CloseInfo()
	req.Equal(types.ClosePolicyViolation, code)
	req.Equal("Name too long.", reason)
	req.JSONEq(`{"error":"Name too long."}`, conn.Frames()[len(conn.Frames())-1])

	stats := syncRoom(t, r)
	req.Equal(1, stats.Sessions)
	req.Equal([]string{`{"joined":"alice"}`, `{"ready":true}`}, alice.Frames(), "unnamed sessions leave silently")
}

func TestRoom_NameLengthCountsCharacters(t *testing.T) {
	r := startRoom(t, "lobby", history.NewMemoryLog())
	name := strings.Repeat("é", types.MaxNameLength)

	conn := &fakeConn{}
	join(t, r, conn, "10.0.0.1", name)
	assert.Equal(t, fmt.Sprintf(`{"joined":"%s"}`, name), conn.Frames()[0])
}

func TestRoom_MalformedFramesAreEchoed(t *testing.T) {
	req := require.New(t)
	r := startRoom(t, "lobby", history.NewMemoryLog())

	conn := &fakeConn{}
	s, err := r.Accept(conn, "10.0.0.1")
	req.NoError(err)

	req.NoError(r.Receive(s, []byte("not json")))
	frames := waitFrames(t, conn, 1)
	req.Contains(frames[0], `"error":"malformed frame`)

	// still waiting for an identity
	req.NoError(r.Receive(s, identityFrame("alice")))
	frames = waitFrames(t, conn, 3)
	req.Equal(`{"ready":true}`, frames[2])

	req.NoError(r.Receive(s, []byte(`{"message": 5}`)))
	frames = waitFrames(t, conn, 4)
	req.Contains(frames[3], `"error":"malformed frame`)

	closed, _, _ := conn.CloseInfo()
	req.False(closed)
}

func TestRoom_MessageTooLong(t *testing.T) {
	req := require.New(t)
	log := history.NewMemoryLog()
	r := startRoom(t, "lobby", log)

	conn := &fakeConn{}
	s := join(t, r, conn, "10.0.0.1", "alice")

	req.NoError(r.Receive(s, chatFrame(strings.Repeat("a", types.MaxMessageLength+1))))
	frames := waitFrames(t, conn, 3)
	req.JSONEq(`{"error":"Message too long."}`, frames[2])

	req.NoError(r.Receive(s, chatFrame(strings.Repeat("a", types.MaxMessageLength))))
	frames = waitFrames(t, conn, 4)
	req.Len(decodeRecord(t, frames[3]).Message, types.MaxMessageLength)

	require.Eventually(t, func() bool {
		records, _ := log.Recent(context.Background(), "lobby", 10)
		return len(records) == 1
	}, 2*time.Second, 5*time.Millisecond)
}

func TestRoom_RateLimitedMessagesAreDropped(t *testing.T) {
	req := require.New(t)
	log := history.NewMemoryLog()
	limiters := newLimiterSet()
	r := startRoom(t, "lobby", log, WithLimiters(limiters.factory))

	alice := &fakeConn{}
	join(t, r, alice, "10.0.0.1", "alice")
	bob := &fakeConn{}
	bobSession := join(t, r, bob, "10.0.0.2", "bob")
	aliceBefore := len(waitFrames(t, alice, 3))

	limiters.get("10.0.0.2").deny.Store(true)
	req.NoError(r.Receive(bobSession, chatFrame("spam")))
	frames := waitFrames(t, bob, 4)
	req.JSONEq(`{"error":"Your IP is being rate-limited, please try again later."}`, frames[3])

	syncRoom(t, r)
	req.Len(alice.Frames(), aliceBefore)
	records, err := log.Recent(context.Background(), "lobby", 10)
	req.NoError(err)
	req.Empty(records)

	// identity frames are never rate limited
	req.Equal(int32(1), limiters.get("10.0.0.2").checks.Load())
}

func TestRoom_LimiterFailureClosesSession(t *testing.T) {
	req := require.New(t)
	limiters := newLimiterSet()
	r := startRoom(t, "lobby", history.NewMemoryLog(), WithLimiters(limiters.factory))

	alice := &fakeConn{}
	join(t, r, alice, "10.0.0.1", "alice")
	bob := &fakeConn{}
	join(t, r, bob, "10.0.0.2", "bob")

	limiter := limiters.get("10.0.0.2")
	limiter.onFailure(fmt.Errorf("%w: both attempts failed", types.ErrLimiterUnavailable))

	require.Eventually(t, func() bool {
		closed, _, _ := bob.CloseInfo()
		return closed
	}, 2*time.Second, 5*time.Millisecond)
	_, code, reason := bob.CloseInfo()
	req.Equal(types.CloseInternalError, code)
	req.Contains(reason, "rate limiter unavailable")
	req.True(limiter.closed.Load())

	frames := waitFrames(t, alice, 4)
	req.Equal(`{"quit":"bob"}`, frames[3])
}

func TestRoom_TerminateAnnouncesQuitOnce(t *testing.T) {
	req := require.New(t)
	limiters := newLimiterSet()
	r := startRoom(t, "lobby", history.NewMemoryLog(), WithLimiters(limiters.factory))

	alice := &fakeConn{}
	join(t, r, alice, "10.0.0.1", "alice")
	bob := &fakeConn{}
	bobSession := join(t, r, bob, "10.0.0.2", "bob")

	req.NoError(r.Terminate(bobSession))
	req.NoError(r.Terminate(bobSession))
	stats := syncRoom(t, r)
	req.Equal(1, stats.Sessions)

	frames := alice.Frames()
	req.Equal([]string{`{"joined":"alice"}`, `{"ready":true}`, `{"joined":"bob"}`, `{"quit":"bob"}`}, frames)
	req.True(limiters.get("10.0.0.2").closed.Load(), "pending limiter results are discarded")
}

func TestRoom_BroadcastPrunesFailingSession(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	r := startRoom(t, "lobby", history.NewMemoryLog())

	alice := &fakeConn{}
	aliceSession := join(t, r, alice, "10.0.0.1", "alice")
	dave := &fakeConn{}
	join(t, r, dave, "10.0.0.3", "dave")

	// carol's connection accepts her joined notices and ready, then breaks
	ready := make(chan struct{})
	carol := mocks.NewMockConn(ctrl)
	gomock.InOrder(
		carol.EXPECT().Send(gomock.Any()).Return(nil).Times(3),
		carol.EXPECT().Send([]byte(`{"ready":true}`)).DoAndReturn(func([]byte) error {
			close(ready)
			return nil
		}),
		carol.EXPECT().Send(gomock.Any()).Return(types.ErrTransport),
	)
	carol.EXPECT().Close(types.CloseInternalError, "WebSocket broken.").Return(nil).MinTimes(1)

	carolSession, err := r.Accept(carol, "10.0.0.2")
	req.NoError(err)
	req.NoError(r.Receive(carolSession, identityFrame("carol")))
	select {
	case <-ready:
	case <-time.After(2 * time.Second):
		t.Fatal("carol never became ready")
	}

	req.NoError(r.Receive(aliceSession, chatFrame("hello")))
	// a late close event and a late frame of the pruned session change nothing
	req.NoError(r.Terminate(carolSession))
	req.NoError(r.Receive(carolSession, chatFrame("still here?")))
	stats := syncRoom(t, r)
	req.Equal(2, stats.Sessions)

	for name, conn := range map[string]*fakeConn{"alice": alice, "dave": dave} {
		quits := 0
		for _, frame := range conn.Frames() {
			if frame == `{"quit":"carol"}` {
				quits++
			}
		}
		req.Equal(1, quits, "%s must see exactly one quit notice", name)
		last := conn.Frames()[len(conn.Frames())-1]
		req.Equal(`{"quit":"carol"}`, last, name)
	}
}

func TestRoom_FailingDirectSendDropsSession(t *testing.T) {
	req := require.New(t)
	r := startRoom(t, "lobby", history.NewMemoryLog())

	alice := &fakeConn{}
	join(t, r, alice, "10.0.0.1", "alice")
	bob := &fakeConn{}
	bobSession := join(t, r, bob, "10.0.0.2", "bob")

	bob.setFailSend(true)
	req.NoError(r.Receive(bobSession, chatFrame(strings.Repeat("a", types.MaxMessageLength+1))))
	stats := syncRoom(t, r)
	req.Equal(1, stats.Sessions)

	frames := waitFrames(t, alice, 4)
	req.Equal(`{"quit":"bob"}`, frames[3])
}

func TestRoom_FramesWhileConnectingAreHeld(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)

	release := make(chan struct{})
	log := mocks.NewMockHistoryLog(ctrl)
	log.EXPECT().Recent(gomock.Any(), "lobby", 1).Return(nil, nil)
	log.EXPECT().Recent(gomock.Any(), "lobby", types.BacklogLimit).DoAndReturn(
		func(context.Context, string, int) ([]string, error) {
			<-release
			return []string{`{"name":"old","message":"b","timestamp":2}`, `{"name":"old","message":"a","timestamp":1}`}, nil
		})
	log.EXPECT().Append(gomock.Any(), "lobby", gomock.Any()).Return(nil).AnyTimes()

	r := startRoom(t, "lobby", log)
	conn := &fakeConn{}
	s, err := r.Accept(conn, "10.0.0.1")
	req.NoError(err)
	req.NoError(r.Receive(s, identityFrame("early")))
	req.NoError(r.Receive(s, chatFrame("first words")))

	stats := syncRoom(t, r)
	req.Equal(0, stats.Named)
	req.Empty(conn.Frames())

	close(release)
	frames := waitFrames(t, conn, 5)
	req.Equal("a", decodeRecord(t, frames[0]).Message)
	req.Equal("b", decodeRecord(t, frames[1]).Message)
	req.Equal(`{"joined":"early"}`, frames[2])
	req.Equal(`{"ready":true}`, frames[3])
	req.Equal("first words", decodeRecord(t, frames[4]).Message)
}

func TestRoom_BacklogFailureStillServesSession(t *testing.T) {
	ctrl := gomock.NewController(t)
	log := mocks.NewMockHistoryLog(ctrl)
	log.EXPECT().Recent(gomock.Any(), "lobby", gomock.Any()).Return(nil, errors.New("disk on fire")).Times(2)

	r := startRoom(t, "lobby", log)
	conn := &fakeConn{}
	join(t, r, conn, "10.0.0.1", "alice")
	assert.Equal(t, []string{`{"joined":"alice"}`, `{"ready":true}`}, conn.Frames())
}

func TestRoom_ShutdownClosesSessions(t *testing.T) {
	req := require.New(t)
	r := New("lobby", history.NewMemoryLog(), discardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	go r.Run(ctx)

	conn := &fakeConn{}
	join(t, r, conn, "10.0.0.1", "alice")

	cancel()
	select {
	case <-r.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("room did not stop")
	}

	closed, code, _ := conn.CloseInfo()
	req.True(closed)
	req.Equal(types.CloseGoingAway, code)

	_, err := r.Accept(&fakeConn{}, "10.0.0.2")
	req.ErrorIs(err, ErrRoomClosed)
	_, err = r.Stats(context.Background())
	req.ErrorIs(err, ErrRoomClosed)
}

func TestRoom_ShutdownClosesQueuedAccepts(t *testing.T) {
	req := require.New(t)
	r := New("lobby", history.NewMemoryLog(), discardLogger())

	// accepted before the loop ever runs, so the events are still queued at cancel
	queued := &fakeConn{}
	_, err := r.Accept(queued, "10.0.0.1")
	req.NoError(err)
	other := &fakeConn{}
	otherSession, err := r.Accept(other, "10.0.0.2")
	req.NoError(err)
	req.NoError(r.Receive(otherSession, identityFrame("bob")))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r.Run(ctx)

	for _, conn := range []*fakeConn{queued, other} {
		closed, code, reason := conn.CloseInfo()
		req.True(closed)
		req.Equal(types.CloseGoingAway, code)
		req.Equal("Server shutting down.", reason)
		req.Empty(conn.Frames(), "queued sessions never joined")
	}
}

func TestRoom_AcceptRejectsNilConnection(t *testing.T) {
	r := New("lobby", history.NewMemoryLog(), discardLogger())
	_, err := r.Accept(nil, "10.0.0.1")
	assert.ErrorIs(t, err, ErrNilConnection)
}
