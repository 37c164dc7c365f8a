package commands

import (
	"context"

	"roboclass/internal/compiler"
	"roboclass/internal/engine"
	"roboclass/internal/store"
)

// CompileCode parses a program. Syntax errors are part of the output, so Apply
// succeeds whenever there was code to parse.
type CompileCode struct {
	engine.CommandBase
	Code string `json:"code"`
}

func (c *CompileCode) Validate(context.Context, *store.Session) ([]engine.CommandError, error) {
	if isBlank(c.Code) {
		return []engine.CommandError{c.Errorf("No code to compile")}, nil
	}
	return nil, nil
}

func (c *CompileCode) Apply(context.Context, *store.Session) (*engine.Result, error) {
	return c.Success(compiler.Parse(c.Code)), nil
}
