package limiter

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"roomchat/pkg/interfaces"
	"roomchat/pkg/types"
)

// DefaultRequestTimeout bounds one call to the limiter actor
const DefaultRequestTimeout = 10 * time.Second

// Client gates one session's sends against its identity's limiter actor
// FUNCTIONAL DISCOVERY: The gate is a local approximation, it trusts the cooldown the
// actor reported and does not ask again until the next send attempt
type Client struct {
	getStub     func() interfaces.LimiterStub
	reportError func(error)
	timeout     time.Duration
	log         *slog.Logger

	mu   sync.Mutex
	stub interfaces.LimiterStub

	inCooldown atomic.Bool
	closed     atomic.Bool
	done       chan struct{}
	closeOnce  sync.Once
	wg         sync.WaitGroup
}

// ClientOption customises a Client.
type ClientOption func(*Client)

// WithRequestTimeout bounds each limiter call.
func WithRequestTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// NewClient resolves an initial stub through getStub. reportError receives
// unrecoverable failures and decides what happens to the connection.
func NewClient(getStub func() interfaces.LimiterStub, reportError func(error), log *slog.Logger, opts ...ClientOption) *Client {
	c := &Client{
		getStub:     getStub,
		reportError: reportError,
		timeout:     DefaultRequestTimeout,
		log:         log,
		stub:        getStub(),
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CheckLimit returns false while a cooldown is active. Otherwise it arms the
// cooldown, records the event with the limiter actor in the background and returns true.
func (c *Client) CheckLimit() bool {
	if c.closed.Load() {
		return false
	}
	if !c.inCooldown.CompareAndSwap(false, true) {
		return false
	}

	c.wg.Add(1)
	go c.callLimiter()
	return true
}

// InCooldown reports whether the gate is currently closed.
func (c *Client) InCooldown() bool {
	return c.inCooldown.Load()
}

// Close abandons the client: a pending cooldown wait ends early and results of
// in-flight calls are discarded. Close does not wait for in-flight calls.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.done)
	})
}

// Wait blocks until every background limiter call has returned.
func (c *Client) Wait() {
	c.wg.Wait()
}

func (c *Client) callLimiter() {
	defer c.wg.Done()

	wait, err := c.consume()
	if err != nil {
		if c.closed.Load() {
			return
		}
		c.reportError(fmt.Errorf("%w: %v", types.ErrLimiterUnavailable, err))
		return
	}

	if wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-c.done:
			return
		}
	}
	c.inCooldown.Store(false)
}

// consume records one event, tolerating a single failure by resolving a fresh stub
func (c *Client) consume() (time.Duration, error) {
	stub := c.currentStub()

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	wait, err := stub.Cooldown(ctx, true)
	cancel()
	if err == nil {
		return wait, nil
	}

	c.log.Debug("Limiter call failed, retrying with a fresh stub", "error", err)
	stub = c.getStub()
	c.setStub(stub)

	ctx, cancel = context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	return stub.Cooldown(ctx, true)
}

func (c *Client) currentStub() interfaces.LimiterStub {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stub
}

func (c *Client) setStub(stub interfaces.LimiterStub) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stub = stub
}
