package engine

import "fmt"

// CommandError is one validation or execution problem for a numbered command.
type CommandError struct {
	Number int    `json:"number"`
	Error  string `json:"error"`
}

func (e CommandError) String() string {
	return fmt.Sprintf("%d: %s", e.Number, e.Error)
}

// Result is the outcome of applying a command. An empty Error means success.
type Result struct {
	Number int    `json:"number"`
	Error  string `json:"error,omitempty"`
	Output any    `json:"output,omitempty"`
}

// WasSuccessful reports whether the command succeeded.
func (r *Result) WasSuccessful() bool {
	return r.Error == ""
}

// ToErrors returns the failure as a one-element list, or nil on success.
func (r *Result) ToErrors() []CommandError {
	if r.WasSuccessful() {
		return nil
	}
	return []CommandError{{Number: r.Number, Error: r.Error}}
}

// OutputAs returns the typed output of r. ok is false when the result has no
// output of type T, including the absent output of a successful no-op.
func OutputAs[T any](r *Result) (T, bool) {
	var zero T
	if r == nil || r.Output == nil {
		return zero, false
	}
	v, ok := r.Output.(T)
	return v, ok
}

// ErrorTexts flattens errors for logging and HTTP responses.
func ErrorTexts(errs []CommandError) []string {
	texts := make([]string, len(errs))
	for i, e := range errs {
		texts[i] = e.Error
	}
	return texts
}
