package types

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Error kinds. Every error returned by the core matches exactly one of these
// with errors.Is.
var (
	ErrValidation        = errors.New("validation failed")
	ErrNotFound          = errors.New("not found")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrConflict          = errors.New("conflict")
	ErrStoreUnavailable  = errors.New("store unavailable")
	ErrDisabled          = errors.New("feature disabled")
)

var (
	ErrRequestNotFound      = fmt.Errorf("blood request %w", ErrNotFound)
	ErrDonorNotFound        = fmt.Errorf("donor %w", ErrNotFound)
	ErrNotificationNotFound = fmt.Errorf("notification %w", ErrNotFound)

	ErrDonorExists       = fmt.Errorf("donor profile already exists for user: %w", ErrConflict)
	ErrRequestClaimed    = fmt.Errorf("request already has a donor: %w", ErrConflict)
	ErrDonorNotMatchable = fmt.Errorf("donor is not matchable: %w", ErrInvalidTransition)
	ErrDonorIneligible   = fmt.Errorf("donor does not satisfy the request's blood type or radius: %w", ErrInvalidTransition)
	ErrSelfMatch         = fmt.Errorf("donor cannot fulfil their own request: %w", ErrInvalidTransition)
	ErrLocationRequired  = fmt.Errorf("request has no location: %w", ErrInvalidTransition)
)

// ValidationError carries field level detail. It matches ErrValidation.
type ValidationError struct {
	Fields map[string]string `json:"fields"`
}

func NewValidationError() *ValidationError {
	return &ValidationError{Fields: make(map[string]string)}
}

// Add records the first message for a field.
func (e *ValidationError) Add(field, msg string) {
	if _, ok := e.Fields[field]; ok {
		return
	}
	e.Fields[field] = msg
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, e.Fields[k]))
	}

	return fmt.Sprintf("%s: %s", ErrValidation, strings.Join(parts, "; "))
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// OrNil returns nil when no field failed.
func (e *ValidationError) OrNil() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}
