package chat

import (
	"errors"
	"fmt"
)

var (
	ErrRoomNotFound     = errors.New("room not found")
	ErrRoomFull         = errors.New("room is full")
	ErrValidation       = errors.New("invalid message")
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrBroadcastFailure = errors.New("broadcast failed")
	errIDSpaceExhausted = errors.New("could not allocate an unused room id")
)

// ValidationError describes the first field of a message that failed validation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

func storeErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, op, err)
}
