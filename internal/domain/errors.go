package domain

import (
	"errors"
	"fmt"
)

var (
	ErrValidation       = errors.New("invalid schedule request")
	ErrCorruptRecord    = errors.New("corrupt schedule record")
	ErrCapabilityDenied = errors.New("alarm capability denied")
	ErrStorage          = errors.New("storage failure")
	ErrNotFound         = errors.New("schedule request not found")
)

// ValidationError names the offending field. It matches ErrValidation under errors.Is.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrValidation, e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
