package engine

import "errors"

var (
	// ErrInvalidCallOrder means a command was applied without the state a prior
	// Validate or Restore would have loaded. It is never converted into a failed
	// result.
	ErrInvalidCallOrder = errors.New("command is not in a valid state: call Validate or Restore first")

	ErrAuditLogFailed = errors.New("failed to store command log")
)
