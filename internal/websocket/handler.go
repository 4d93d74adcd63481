// Package websocket carries room sessions over gorilla websocket connections.
package websocket

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"roomchat/internal/room"
	"roomchat/pkg/types"
)

// Handler upgrades HTTP requests and pumps frames between a socket and its room
type Handler struct {
	settings Settings
	upgrader websocket.Upgrader
	log      *slog.Logger
}

// NewHandler creates a handler whose connections use settings.
func NewHandler(settings Settings, log *slog.Logger) *Handler {
	return &Handler{
		settings: settings,
		upgrader: websocket.Upgrader{
			// FUNCTIONAL DISCOVERY: Rooms are public by name, any origin may join
			CheckOrigin:      func(r *http.Request) bool { return true },
			HandshakeTimeout: 10 * time.Second,
		},
		log: log,
	}
}

// IsUpgrade reports whether r asks for a websocket.
func IsUpgrade(r *http.Request) bool {
	return websocket.IsWebSocketUpgrade(r)
}

// Serve upgrades the request and attaches the connection to rm as identity.
// It returns once the read loop has been started.
func (h *Handler) Serve(w http.ResponseWriter, r *http.Request, rm *room.Room, identity string) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied with an HTTP error
		h.log.Debug("WebSocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	conn := NewConnection(ws, h.settings, h.log)
	session, err := rm.Accept(conn, identity)
	if err != nil {
		h.log.Warn("Room rejected connection", "room", rm.Name(), "identity", identity, "error", err)
		_ = conn.Close(types.CloseGoingAway, "Room unavailable.")
		go h.drain(conn)
		return
	}

	h.log.Debug("WebSocket connected", "room", rm.Name(), "session", session.ID, "identity", identity)
	go h.readLoop(conn, rm, session)
}

// readLoop forwards every inbound frame to the room until the socket fails or closes
// ARCHITECTURAL DISCOVERY: One reader goroutine per connection, it is the only
// caller of Receive for its session so frames reach the room in arrival order
func (h *Handler) readLoop(conn *Connection, rm *room.Room, session *room.Session) {
	defer func() {
		if err := rm.Terminate(session); err != nil && !errors.Is(err, room.ErrRoomClosed) {
			h.log.Warn("Failed to report closed session", "session", session.ID, "error", err)
		}
		conn.Abort()
	}()

	ws := conn.conn
	ws.SetReadLimit(h.settings.MaxMessageBytes)
	if err := conn.extendReadDeadline(); err != nil {
		return
	}
	ws.SetPongHandler(func(string) error {
		return conn.extendReadDeadline()
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				h.log.Debug("WebSocket read failed", "session", session.ID, "error", err)
			}
			return
		}
		if err := rm.Receive(session, data); err != nil {
			return
		}
	}
}

// drain waits for the peer to answer a close frame sent before any session existed
func (h *Handler) drain(conn *Connection) {
	defer conn.Abort()
	for {
		if _, _, err := conn.conn.ReadMessage(); err != nil {
			return
		}
	}
}
