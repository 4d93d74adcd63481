//go:generate go run go.uber.org/mock/mockgen -source=connection.go -destination=../../internal/mocks/mock_connection.go -package=mocks
package interfaces

// Conn is one end of a bidirectional message stream
// ARCHITECTURAL DISCOVERY: Pure abstraction without implementation details
// keeps the room actor independent of the websocket transport
type Conn interface {
	// Send queues a text frame for delivery. It must not block on the network;
	// an error means the connection is dead or cannot keep up.
	Send(data []byte) error

	// Close sends a close frame with code and reason after every frame
	// already queued, then releases the connection. Safe to call more than once.
	Close(code int, reason string) error
}
