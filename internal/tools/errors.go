package tools

import (
	"errors"
	"fmt"
)

var (
	// ErrDisabled means the connection is off or the tool is in the
	// session's disabled set.
	ErrDisabled = errors.New("tool disabled")

	// ErrUnavailable means the tool is not in the advertised set.
	ErrUnavailable = errors.New("tool unavailable")
)

// ExecError wraps a failure reported by the tool executor.
type ExecError struct {
	Tool    string
	Args    map[string]any
	Message string
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("tool %s failed: %s", e.Tool, e.Message)
}
