package socket

import "errors"

var ErrAlreadyListening = errors.New("socket listener already started")
