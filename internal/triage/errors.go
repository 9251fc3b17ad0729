package triage

import (
	"errors"
	"fmt"
)

var (
	// ErrService marks an AI classification that could not be completed or
	// interpreted. The engine recovers from it by falling back to rules.
	ErrService = errors.New("classification service error")

	// ErrStorage marks a persistence failure after a successful classification.
	ErrStorage = errors.New("storage error")
)

// ServiceError wraps the cause of a failed AI classification.
type ServiceError struct {
	Reason string // transport, invalid_response, timeout, unavailable
	Err    error
}

func (e *ServiceError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", ErrService, e.Reason)
	}
	return fmt.Sprintf("%s: %s: %v", ErrService, e.Reason, e.Err)
}

func (e *ServiceError) Unwrap() []error { return []error{ErrService, e.Err} }

// StorageError wraps a failed store operation.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrStorage, e.Op, e.Err)
}

func (e *StorageError) Unwrap() []error { return []error{ErrStorage, e.Err} }
