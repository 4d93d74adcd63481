package types

import (
	"errors"
	"fmt"
)

// ARCHITECTURAL DISCOVERY: Every failure is scoped to one session or one message;
// none of these errors is allowed to stop a room
var (
	// ValidationError
	ErrNameTooLong    = errors.New("name too long")
	ErrMessageTooLong = errors.New("message too long")

	// RateLimitExceeded
	ErrRateLimited = errors.New("rate limited")

	// TransportFailure
	ErrTransport = errors.New("transport failure")

	// LimiterUnavailable
	ErrLimiterUnavailable = errors.New("rate limiter unavailable")
)

// ProtocolError wraps a frame that could not be decoded.
type ProtocolError struct {
	Err error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("malformed frame: %v", e.Err)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// ClientText maps an error to the text sent in an error frame.
// FUNCTIONAL DISCOVERY: Validation and rate-limit texts are fixed strings the
// browser client shows verbatim, anything else is echoed as a diagnostic
func ClientText(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNameTooLong):
		return "Name too long."
	case errors.Is(err, ErrMessageTooLong):
		return "Message too long."
	case errors.Is(err, ErrRateLimited):
		return "Your IP is being rate-limited, please try again later."
	default:
		return err.Error()
	}
}
