package limiter

import (
	"context"
	"errors"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Default limiter parameters: one action every Interval, with Grace of
// accumulated debt tolerated before a client has to wait
const (
	DefaultInterval = 5 * time.Second
	DefaultGrace    = 20 * time.Second
)

// ErrActorRetired is returned by an actor a sweep has dropped. The identity's
// live actor is obtained from its Namespace again.
var ErrActorRetired = errors.New("limiter actor retired")

// Settings parameterise every limiter actor of a namespace
type Settings struct {
	Interval time.Duration
	Grace    time.Duration
	Now      func() time.Time
}

// DefaultSettings returns the production interval and grace period.
func DefaultSettings() Settings {
	return Settings{Interval: DefaultInterval, Grace: DefaultGrace, Now: time.Now}
}

func (s Settings) withDefaults() Settings {
	if s.Interval <= 0 {
		s.Interval = DefaultInterval
	}
	if s.Grace < 0 {
		s.Grace = 0
	}
	if s.Now == nil {
		s.Now = time.Now
	}
	return s
}

// Actor tracks the cooldown state of one rate-limited identity
// ARCHITECTURAL DISCOVERY: Requests for one identity are serialized by the actor mutex,
// state is a single next-allowed instant that never moves backwards
type Actor struct {
	mu          sync.Mutex
	nextAllowed time.Time
	retired     bool
	settings    Settings
}

// NewActor creates an actor with no recorded events.
func NewActor(settings Settings) *Actor {
	return &Actor{settings: settings.withDefaults()}
}

// Cooldown implements interfaces.LimiterStub directly on the actor.
func (a *Actor) Cooldown(_ context.Context, consume bool) (time.Duration, error) {
	wait, ok := a.cooldown(consume)
	if !ok {
		return 0, ErrActorRetired
	}
	return wait, nil
}

// cooldown applies one request. ok is false once the actor has been retired by a sweep;
// the caller must then resolve the live actor for the identity.
func (a *Actor) cooldown(consume bool) (wait time.Duration, ok bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.retired {
		return 0, false
	}

	now := a.settings.Now()
	if a.nextAllowed.Before(now) {
		a.nextAllowed = now
	}
	if consume {
		a.nextAllowed = a.nextAllowed.Add(a.settings.Interval)
	}

	wait = a.nextAllowed.Sub(now) - a.settings.Grace
	if wait < 0 {
		wait = 0
	}
	return wait, true
}

// debtUntil returns the instant from which the identity is no longer indebted
func (a *Actor) debtUntil() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.nextAllowed
}

// retireIfIdle retires the actor when its state is indistinguishable from a fresh one
func (a *Actor) retireIfIdle(now time.Time) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.nextAllowed.After(now) {
		return false
	}
	a.retired = true
	return true
}

// FormatSeconds renders a cooldown as the plain text body of the limiter protocol.
func FormatSeconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', -1, 64)
}

// ParseSeconds reads a plain text cooldown in seconds.
func ParseSeconds(body string) (time.Duration, error) {
	seconds, err := strconv.ParseFloat(strings.TrimSpace(body), 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(seconds) || seconds < 0 {
		seconds = 0
	}
	return time.Duration(seconds * float64(time.Second)), nil
}
