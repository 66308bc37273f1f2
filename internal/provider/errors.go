package provider

import (
	"errors"
	"fmt"
)

// ErrUnavailable marks a model whose credential is missing or invalid.
// Invoke recovers from it internally by degrading to the demo reply, so
// callers normally only see it from lower-level helpers.
var ErrUnavailable = errors.New("provider unavailable: no valid credential")

// ErrUnknownModel is returned for a model id the registry does not hold.
var ErrUnknownModel = errors.New("unknown model id")

// CallError reports an upstream provider failure. It is fatal to the
// conversation turn that triggered it.
type CallError struct {
	ModelID string
	Message string
}

func (e *CallError) Error() string {
	return fmt.Sprintf("provider %s: %s", e.ModelID, e.Message)
}
