package types

import (
	"encoding/json"
	"time"
)

// ARCHITECTURAL DISCOVERY: Protocol limits are part of the wire contract,
// the browser client enforces the same bounds before sending
const (
	MaxNameLength    = 32
	MaxMessageLength = 256
	BacklogLimit     = 100
	AnonymousName    = "anonymous"
)

// Close codes sent when the server terminates a session
const (
	CloseGoingAway       = 1001 // server shutting down
	ClosePolicyViolation = 1009 // name too long
	CloseInternalError   = 1011 // limiter failure or broken session
)

// HistoryKeyLayout renders timestamps as ISO-8601 UTC with millisecond precision.
// Keys in this layout sort lexicographically in chronological order.
const HistoryKeyLayout = "2006-01-02T15:04:05.000Z"

// IdentityFrame is the first frame a client sends: { "name": string }
type IdentityFrame struct {
	Name string `json:"name" validate:"max=32"`
}

// ChatFrame is every subsequent client frame: { "message": string }
type ChatFrame struct {
	Message string `json:"message" validate:"max=256"`
}

// ChatRecord is an accepted chat message.
// FUNCTIONAL DISCOVERY: Immutable once built, the serialized form is what gets
// broadcast, persisted and replayed so all three always agree byte for byte
type ChatRecord struct {
	Name      string `json:"name"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

// Key returns the sortable history key for the record timestamp.
func (r ChatRecord) Key() string {
	return HistoryKey(r.Timestamp)
}

// Encode serializes the record for broadcast and storage.
func (r ChatRecord) Encode() []byte {
	return mustEncode(r)
}

// HistoryKey converts a millisecond timestamp into its history key.
func HistoryKey(timestamp int64) string {
	return time.UnixMilli(timestamp).UTC().Format(HistoryKeyLayout)
}

// Server to client notices
type (
	ErrorFrame struct {
		Error string `json:"error"`
	}
	JoinedFrame struct {
		Joined string `json:"joined"`
	}
	QuitFrame struct {
		Quit string `json:"quit"`
	}
	ReadyFrame struct {
		Ready bool `json:"ready"`
	}
)

func Joined(name string) []byte { return mustEncode(JoinedFrame{Joined: name}) }

func Quit(name string) []byte { return mustEncode(QuitFrame{Quit: name}) }

func Ready() []byte { return mustEncode(ReadyFrame{Ready: true}) }

// Error builds an error frame carrying the client-facing text for err.
func Error(err error) []byte {
	return mustEncode(ErrorFrame{Error: ClientText(err)})
}

// mustEncode marshals frames made only of strings, numbers and bools,
// which cannot fail
func mustEncode(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}
