package websocket

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/gorilla/websocket"

	"roomchat/pkg/types"
)

// maxCloseReason is the room left for a reason in a close frame after the code
const maxCloseReason = 123

// closeGrace is how long the client has to answer our close frame
const closeGrace = time.Second

// Settings tune every websocket connection
type Settings struct {
	PingInterval    time.Duration
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	SendBuffer      int
	MaxMessageBytes int64
}

// DefaultSettings pings every 30s and drops peers silent for 60s.
func DefaultSettings() Settings {
	return Settings{
		PingInterval:    30 * time.Second,
		ReadTimeout:     60 * time.Second,
		WriteTimeout:    5 * time.Second,
		SendBuffer:      100,
		MaxMessageBytes: 64 << 10,
	}
}

// outbound is one queued write: a text frame, or the final close frame
type outbound struct {
	data   []byte
	close  bool
	code   int
	reason string
}

// Connection implements interfaces.Conn over a gorilla websocket
// ARCHITECTURAL DISCOVERY: WebSocket writes must be serialized, a single writer
// goroutine owns every write including pings and the close frame
type Connection struct {
	conn     *websocket.Conn
	writeCh  chan outbound
	settings Settings
	log      *slog.Logger

	ctx       context.Context
	cancel    context.CancelFunc
	closing   atomic.Bool
	closeOnce sync.Once
	abortOnce sync.Once
	writeDone chan struct{}
}

// NewConnection wraps conn and starts its writer.
func NewConnection(conn *websocket.Conn, settings Settings, log *slog.Logger) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		conn:      conn,
		writeCh:   make(chan outbound, settings.SendBuffer),
		settings:  settings,
		log:       log,
		ctx:       ctx,
		cancel:    cancel,
		writeDone: make(chan struct{}),
	}
	go c.writeLoop()
	return c
}

// Send queues data without blocking.
// FUNCTIONAL DISCOVERY: A peer that cannot drain its buffer is treated like a broken
// one, the room must never wait on a single slow socket
func (c *Connection) Send(data []byte) error {
	if c.closing.Load() {
		return ErrConnectionClosed
	}
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	select {
	case c.writeCh <- outbound{data: data}:
		return nil
	default:
		return fmt.Errorf("%w: %w", types.ErrTransport, ErrSendBufferFull)
	}
}

// Close queues a close frame behind every frame already sent. When the buffer is
// full the connection is dropped without a close frame.
func (c *Connection) Close(code int, reason string) error {
	c.closeOnce.Do(func() {
		c.closing.Store(true)
		select {
		case c.writeCh <- outbound{close: true, code: code, reason: truncateReason(reason)}:
		default:
			c.Abort()
		}
	})
	return nil
}

// Abort drops the connection immediately.
func (c *Connection) Abort() {
	c.abortOnce.Do(func() {
		c.closing.Store(true)
		c.cancel()
		if c.conn != nil {
			_ = c.conn.Close()
		}
	})
}

// Done is closed when the connection has been aborted.
func (c *Connection) Done() <-chan struct{} {
	return c.ctx.Done()
}

func (c *Connection) writeLoop() {
	defer close(c.writeDone)

	var pings <-chan time.Time
	if c.settings.PingInterval > 0 {
		ticker := time.NewTicker(c.settings.PingInterval)
		defer ticker.Stop()
		pings = ticker.C
	}

	for {
		select {
		case op := <-c.writeCh:
			if op.close {
				c.writeClose(op.code, op.reason)
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.settings.WriteTimeout)); err != nil {
				c.Abort()
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, op.data); err != nil {
				c.log.Debug("WebSocket write failed", "error", err)
				c.Abort()
				return
			}

		case <-pings:
			deadline := time.Now().Add(c.settings.WriteTimeout)
			if err := c.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				c.Abort()
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

// writeClose sends the close frame and gives the reader closeGrace to see the echo
func (c *Connection) writeClose(code int, reason string) {
	message := websocket.FormatCloseMessage(code, reason)
	if err := c.conn.WriteControl(websocket.CloseMessage, message, time.Now().Add(c.settings.WriteTimeout)); err != nil {
		c.Abort()
		return
	}
	if err := c.conn.SetReadDeadline(time.Now().Add(closeGrace)); err != nil {
		c.Abort()
	}
}

// extendReadDeadline is called on every pong; it stops once closing has started
func (c *Connection) extendReadDeadline() error {
	if c.closing.Load() || c.settings.ReadTimeout <= 0 {
		return nil
	}
	return c.conn.SetReadDeadline(time.Now().Add(c.settings.ReadTimeout))
}

// truncateReason cuts reason to fit a close frame without splitting a character
func truncateReason(reason string) string {
	if len(reason) <= maxCloseReason {
		return reason
	}
	cut := maxCloseReason
	for cut > 0 && !utf8.RuneStart(reason[cut]) {
		cut--
	}
	return reason[:cut]
}
