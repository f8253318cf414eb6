// Package errs holds the error types shared across the tour pipeline.
//
// Only configuration problems surface as errors to callers. Worker failures are
// recorded on candidates, and a junction without a winner is data on the
// judge decision rather than an error.
package errs

import (
	"errors"
	"fmt"
)

var (
	ErrConfiguration = errors.New("configuration error")
	ErrWorkerFailure = errors.New("worker failure")
)

// ConfigurationError reports invalid setup detected before any work starts.
type ConfigurationError struct {
	Component string
	Field     string
	Reason    string
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", e.Component, e.Reason)
	}
	return fmt.Sprintf("%s: %s: %s", e.Component, e.Field, e.Reason)
}

func (e *ConfigurationError) Is(target error) bool {
	return target == ErrConfiguration
}

// Config builds a ConfigurationError.
func Config(component, field, reason string) error {
	return &ConfigurationError{Component: component, Field: field, Reason: reason}
}

// FailureKind classifies why a worker did not produce a usable result.
type FailureKind string

const (
	FailureError   FailureKind = "error"
	FailureTimeout FailureKind = "timeout"
	FailureFault   FailureKind = "fault"
)

// WorkerFailure describes a single worker's failure on a junction.
type WorkerFailure struct {
	WorkerID   string
	JunctionID int
	Kind       FailureKind
	Err        error
}

func (e *WorkerFailure) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("worker %s junction %d: %s", e.WorkerID, e.JunctionID, e.Kind)
	}
	return fmt.Sprintf("worker %s junction %d: %s: %v", e.WorkerID, e.JunctionID, e.Kind, e.Err)
}

func (e *WorkerFailure) Unwrap() error { return e.Err }

func (e *WorkerFailure) Is(target error) bool {
	return target == ErrWorkerFailure
}
