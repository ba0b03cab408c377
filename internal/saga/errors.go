package saga

import (
	"errors"
	"fmt"
)

// ErrEmptyResult is returned when an insert reports success but yields
// fewer ids than rows. The workflow cannot continue without those ids.
var ErrEmptyResult = errors.New("insert returned no id")

// StepError is the terminal error of a failed saga.
// It names the failing step and unwraps to the step's original error.
type StepError struct {
	Workflow string
	Step     string
	Index    int
	Err      error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s: step %q failed: %v", e.Workflow, e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// FailedStep extracts the failing step name from a saga error.
// Uses errors.As to handle wrapped errors.
func FailedStep(err error) (string, bool) {
	var se *StepError
	if errors.As(err, &se) {
		return se.Step, true
	}
	return "", false
}
