package models

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a package, rate or notification does not
// exist.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a package row changed under a transition
// attempt (row lock re-check failed). Callers should retry the whole
// transition from scratch.
var ErrConflict = errors.New("concurrent modification detected")

// InvalidTransitionError rejects a status change not present in the
// transition graph. The attempted edge is preserved for the caller.
type InvalidTransitionError struct {
	From string
	To   string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("transition not allowed: %s -> %s", e.From, e.To)
}

// RateNotConfiguredError means no active rate covers the requested
// instant. Fee computation cannot proceed without it, so the whole
// transition aborts.
type RateNotConfiguredError struct {
	RateType string
	Name     string
}

func (e *RateNotConfiguredError) Error() string {
	return fmt.Sprintf("no active rate configured for %s/%s", e.RateType, e.Name)
}

// TemplateRenderError names the template variable that could not be
// resolved. Rendering fails fast instead of substituting blanks.
type TemplateRenderError struct {
	TemplateID string
	Variable   string
}

func (e *TemplateRenderError) Error() string {
	return fmt.Sprintf("template %s: undefined variable {%s}", e.TemplateID, e.Variable)
}
