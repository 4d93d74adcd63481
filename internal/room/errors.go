package room

import "errors"

var (
	ErrRoomClosed    = errors.New("room is closed")
	ErrManagerClosed = errors.New("room manager is shut down")
	ErrNilConnection = errors.New("connection is nil")
)
