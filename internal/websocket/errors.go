package websocket

import "errors"

// Transport errors
var (
	ErrInvalidJSON = errors.New("invalid JSON data")
)

// Handler errors
var (
	ErrUnknownClientType = errors.New("unknown client type")
)
