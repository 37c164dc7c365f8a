package connection

import "errors"

// ErrMalformedMessage marks an inbound payload the receive loop should skip.
var ErrMalformedMessage = errors.New("malformed message")
