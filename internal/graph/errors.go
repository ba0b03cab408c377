package graph

import (
	"errors"
	"fmt"
)

// ConfigError reports a malformed graph configuration.
type ConfigError struct {
	Table   string
	Message string
}

func (e *ConfigError) Error() string {
	if e.Table != "" {
		return fmt.Sprintf("graph config: table %q: %s", e.Table, e.Message)
	}
	return fmt.Sprintf("graph config: %s", e.Message)
}

// InvariantError reports a table whose tier is not strictly below a table
// it references. Deleting in tier order would then hit a foreign key.
type InvariantError struct {
	Table         string
	Reference     string
	TableTier     int
	ReferenceTier int
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("graph invariant: %s (tier %d) references %s (tier %d); tier must be lower",
		e.Table, e.TableTier, e.Reference, e.ReferenceTier)
}

// IsInvariantError returns true if err is or wraps an InvariantError.
func IsInvariantError(err error) bool {
	var ie *InvariantError
	return errors.As(err, &ie)
}
