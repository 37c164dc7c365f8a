package interfaces

import "errors"

// Common connection errors used across transports
var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrSendTimeout      = errors.New("send timeout")
)
