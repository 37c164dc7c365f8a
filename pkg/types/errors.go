package types

import "errors"

// Protocol errors. Transports drop the offending frame or payload and keep
// their receive loop running.
var (
	ErrFrameTooShort     = errors.New("frame shorter than header")
	ErrFrameTooLarge     = errors.New("frame exceeds 1024 bytes")
	ErrMissingTerminator = errors.New("frame missing terminator")
)

// Validation errors for names supplied by clients.
var (
	ErrInvalidName        = errors.New("name must be 1-100 characters without control characters")
	ErrInvalidMachineName = errors.New("machine name must be 1-50 characters, alphanumeric + underscore/hyphen/dot only")
)
