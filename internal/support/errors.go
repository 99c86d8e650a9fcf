package support

import (
	"errors"
	"fmt"
	"supportchat/backend/internal/chathub"
)

var (
	ErrDuplicateActiveRoom = errors.New("customer already has an active room")
	ErrRoomClosed          = errors.New("room is closed")
	ErrNotFound            = errors.New("not found")
	ErrForbidden           = errors.New("forbidden")
	ErrValidation          = errors.New("validation failed")
	ErrRateLimited         = errors.New("too many messages")
	ErrTransportDropped    = chathub.ErrTransportDropped
)

// DuplicateRoomError carries the room that blocks creating a new one.
type DuplicateRoomError struct {
	RoomID string
}

func (e *DuplicateRoomError) Error() string {
	return fmt.Sprintf("%v: %s", ErrDuplicateActiveRoom, e.RoomID)
}

func (e *DuplicateRoomError) Is(target error) bool {
	return target == ErrDuplicateActiveRoom
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
