package agent

import (
	"errors"
	"fmt"
)

var (
	// ErrParse is returned when the engine's reply is neither a capability
	// invocation nor a final answer.
	ErrParse = errors.New("unparsable decision")

	// ErrStepLimit is returned when the step budget runs out before a final
	// answer.
	ErrStepLimit = errors.New("step limit reached")

	ErrNoStepLimit = errors.New("max steps must be greater than zero")
)

// ErrorKind classifies why a run terminated.
type ErrorKind string

const (
	KindProtocol  ErrorKind = "protocol"
	KindParse     ErrorKind = "parse"
	KindStepLimit ErrorKind = "step-limit"
	KindEngine    ErrorKind = "engine"
	KindCancelled ErrorKind = "cancelled"
)

// RunError is the terminal error of a run. Step is the step during which the
// run failed, counting from 1.
type RunError struct {
	Kind ErrorKind
	Step int
	Err  error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("%s error at step %d: %v", e.Kind, e.Step, e.Err)
}

func (e *RunError) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of a *RunError anywhere in err's chain.
func KindOf(err error) (ErrorKind, bool) {
	var runErr *RunError
	if errors.As(err, &runErr) {
		return runErr.Kind, true
	}
	return "", false
}
