package auth

import "errors"

var (
	ErrTokenMissing        = errors.New("token is missing")
	ErrTokenInvalid        = errors.New("token is invalid")
	ErrTokenMissingSession = errors.New("token is invalid: missing session")
	ErrNoSecret            = errors.New("token secret is not configured")
)
