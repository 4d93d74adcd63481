package history

import "errors"

var (
	ErrClosed         = errors.New("history log is closed")
	ErrUnknownBackend = errors.New("unknown history backend")
)
