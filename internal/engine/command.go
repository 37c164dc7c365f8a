package engine

import (
	"context"
	"fmt"
	"time"

	"roboclass/internal/store"
)

// Command is a single state change. Validate must not write; Apply performs the
// change against the session it is given.
type Command interface {
	Base() *CommandBase
	Validate(ctx context.Context, s *store.Session) ([]CommandError, error)
	Apply(ctx context.Context, s *store.Session) (*Result, error)
}

// Restorer is implemented by commands that can be replayed from the command
// log. Restore loads the state Apply needs without repeating live-only checks.
type Restorer interface {
	Restore(ctx context.Context, s *store.Session) ([]CommandError, error)
}

// Rollbacker is implemented by commands that can undo themselves.
type Rollbacker interface {
	CheckCanRollback(ctx context.Context, s *store.Session) (bool, error)
	Rollback(ctx context.Context, s *store.Session) (*Result, error)
}

// CommandBase carries the fields every command shares. Embed it by value.
type CommandBase struct {
	Number       int       `json:"number"`
	WhenExecuted time.Time `json:"whenExecuted"`
}

func (b *CommandBase) Base() *CommandBase { return b }

// Errorf builds a CommandError tagged with the command number.
func (b *CommandBase) Errorf(format string, args ...any) CommandError {
	return CommandError{Number: b.Number, Error: fmt.Sprintf(format, args...)}
}

// Success builds a successful result carrying output (which may be nil).
func (b *CommandBase) Success(output any) *Result {
	return &Result{Number: b.Number, Output: output}
}

// Failure builds a failed result.
func (b *CommandBase) Failure(message string) *Result {
	return &Result{Number: b.Number, Error: message}
}

// RequireState returns ErrInvalidCallOrder unless every flag is true. Commands
// call it at the top of Apply with the presence of whatever Validate loads.
func RequireState(ready ...bool) error {
	for _, ok := range ready {
		if !ok {
			return ErrInvalidCallOrder
		}
	}
	return nil
}
