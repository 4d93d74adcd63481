package types

import (
	"encoding/json"

	"github.com/go-playground/validator/v10"
)

// FUNCTIONAL DISCOVERY: Validator built once at package initialization,
// it caches struct metadata and is safe for concurrent use
var validate = validator.New()

// DecodeIdentity parses a client's first frame.
// A missing or empty name becomes "anonymous". Length is counted in characters.
// Fields are not coerced to text: a non-string name is a ProtocolError, not its
// printed form, and a missing chat message is "" rather than "undefined".
func DecodeIdentity(data []byte) (IdentityFrame, error) {
	var frame IdentityFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return IdentityFrame{}, &ProtocolError{Err: err}
	}
	if frame.Name == "" {
		frame.Name = AnonymousName
	}
	if err := frame.Validate(); err != nil {
		return IdentityFrame{}, err
	}
	return frame, nil
}

// DecodeChat parses a chat frame sent by an identified session.
// A missing message is treated as empty.
func DecodeChat(data []byte) (ChatFrame, error) {
	var frame ChatFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return ChatFrame{}, &ProtocolError{Err: err}
	}
	if err := frame.Validate(); err != nil {
		return ChatFrame{}, err
	}
	return frame, nil
}

// Validate enforces the display name bound.
func (f IdentityFrame) Validate() error {
	if err := validate.Struct(f); err != nil {
		return ErrNameTooLong
	}
	return nil
}

// Validate enforces the message text bound.
func (f ChatFrame) Validate() error {
	if err := validate.Struct(f); err != nil {
		return ErrMessageTooLong
	}
	return nil
}
