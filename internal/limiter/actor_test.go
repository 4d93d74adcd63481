package limiter

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is a manually advanced clock shared by the tests of this package
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestActor_GraceAbsorbsFirstEvents(t *testing.T) {
	req := require.New(t)
	clock := newFakeClock()
	actor := NewActor(Settings{Interval: DefaultInterval, Grace: DefaultGrace, Now: clock.Now})
	ctx := context.Background()

	// 4 events accumulate 20s of debt, exactly the grace period
	for i := 0; i < 4; i++ {
		wait, err := actor.Cooldown(ctx, true)
		req.NoError(err)
		req.Zero(wait, "event %d should not wait", i+1)
	}

	wait, err := actor.Cooldown(ctx, true)
	req.NoError(err)
	req.Equal(5*time.Second, wait)
}

func TestActor_QueryDoesNotConsume(t *testing.T) {
	clock := newFakeClock()
	actor := NewActor(Settings{Interval: 5 * time.Second, Grace: 0, Now: clock.Now})
	ctx := context.Background()

	wait, _ := actor.Cooldown(ctx, false)
	assert.Zero(t, wait)

	wait, _ = actor.Cooldown(ctx, true)
	assert.Equal(t, 5*time.Second, wait)

	wait, _ = actor.Cooldown(ctx, false)
	assert.Equal(t, 5*time.Second, wait)
}

func TestActor_DebtDrainsWithTime(t *testing.T) {
	clock := newFakeClock()
	actor := NewActor(Settings{Interval: 5 * time.Second, Grace: 0, Now: clock.Now})
	ctx := context.Background()

	_, _ = actor.Cooldown(ctx, true)
	_, _ = actor.Cooldown(ctx, true)

	clock.Advance(7 * time.Second)
	wait, _ := actor.Cooldown(ctx, false)
	assert.Equal(t, 3*time.Second, wait)

	clock.Advance(time.Minute)
	wait, _ = actor.Cooldown(ctx, false)
	assert.Zero(t, wait)
}

func TestActor_DebtNeverMovesBackwards(t *testing.T) {
	clock := newFakeClock()
	actor := NewActor(Settings{Interval: 5 * time.Second, Grace: DefaultGrace, Now: clock.Now})
	ctx := context.Background()

	previous := actor.debtUntil()
	for i := 0; i < 20; i++ {
		if i%3 == 0 {
			clock.Advance(2 * time.Second)
		}
		_, _ = actor.Cooldown(ctx, i%2 == 0)
		current := actor.debtUntil()
		assert.False(t, current.Before(previous), "step %d moved backwards", i)
		previous = current
	}
}

func TestActor_ConcurrentEventsAllCounted(t *testing.T) {
	clock := newFakeClock()
	actor := NewActor(Settings{Interval: time.Second, Grace: 0, Now: clock.Now})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = actor.Cooldown(context.Background(), true)
		}()
	}
	wg.Wait()

	assert.Equal(t, clock.Now().Add(50*time.Second), actor.debtUntil())
}

func TestSecondsRoundTrip(t *testing.T) {
	tests := []struct {
		body string
		want time.Duration
	}{
		{"0", 0},
		{"3", 3 * time.Second},
		{"2.5", 2500 * time.Millisecond},
		{" 1.25\n", 1250 * time.Millisecond},
		{"-4", 0},
	}
	for _, tt := range tests {
		got, err := ParseSeconds(tt.body)
		require.NoError(t, err, tt.body)
		assert.Equal(t, tt.want, got, tt.body)
	}

	assert.Equal(t, "3", FormatSeconds(3*time.Second))
	assert.Equal(t, "0.25", FormatSeconds(250*time.Millisecond))

	_, err := ParseSeconds("soon")
	assert.Error(t, err)
}
