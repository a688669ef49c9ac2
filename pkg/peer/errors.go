package peer

import (
	"errors"
	"fmt"
)

var (
	ErrConfiguration    = errors.New("no usable peer connection engine")
	ErrSignaling        = errors.New("malformed signaling payload")
	ErrChannelClosed    = errors.New("channel is closed")
	ErrTransport        = errors.New("transport failure")
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrDuplicateChannel = errors.New("channel name already in use")
	ErrWritePending     = errors.New("previous write has not completed")

	ErrSessionDestroyed = fmt.Errorf("session is destroyed: %w", ErrChannelClosed)
)
