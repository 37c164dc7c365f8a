package store

import "errors"

var (
	ErrSessionClosed = errors.New("session is closed")
	ErrCommitFailed  = errors.New("failed to commit session")
)
