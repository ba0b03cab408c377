package purge

import (
	"errors"
	"fmt"
)

// ValidationError rejects a request before anything is deleted.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid purge request: %s %s", e.Field, e.Message)
}

// IsValidationError checks if err is a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// TableError is the terminal error of a purge aborted by a failed delete.
type TableError struct {
	Table string
	Err   error
}

func (e *TableError) Error() string {
	return fmt.Sprintf("purge aborted at table %q: %v", e.Table, e.Err)
}

func (e *TableError) Unwrap() error {
	return e.Err
}

// IsTableError checks if err is a TableError.
func IsTableError(err error) bool {
	var te *TableError
	return errors.As(err, &te)
}

// FailedTable extracts the offending table from a purge error.
func FailedTable(err error) (string, bool) {
	var te *TableError
	if errors.As(err, &te) {
		return te.Table, true
	}
	return "", false
}
