// Package persistence provides standardized error types for persistence operations.
package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrDefinitionNotFound indicates no definition exists for the given id/version.
	ErrDefinitionNotFound = errors.New("definition not found")

	// ErrVersionExists indicates an attempt to overwrite an existing (id, version) pair.
	ErrVersionExists = errors.New("definition version already exists")

	// ErrInstanceNotFound indicates a process instance was not found by the given key.
	ErrInstanceNotFound = errors.New("instance not found")

	// ErrJobNotFound indicates a job was not found by the given key.
	ErrJobNotFound = errors.New("job not found")
)

// DefinitionError wraps definition-related errors with additional context.
type DefinitionError struct {
	Op      string // Operation being performed (e.g., "Save", "ByVersion")
	ID      string // Process definition id
	Version int    // Definition version if applicable
	Err     error  // Underlying error
}

func (e *DefinitionError) Error() string {
	if e.Version > 0 {
		return fmt.Sprintf("%s operation failed for definition %s v%d: %v", e.Op, e.ID, e.Version, e.Err)
	}

	return fmt.Sprintf("%s operation failed for definition %s: %v", e.Op, e.ID, e.Err)
}

func (e *DefinitionError) Unwrap() error {
	return e.Err
}

func (e *DefinitionError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewDefinitionError creates a new definition error with context.
func NewDefinitionError(op, id string, version int, err error) *DefinitionError {
	return &DefinitionError{
		Op:      op,
		ID:      id,
		Version: version,
		Err:     err,
	}
}

// InstanceError wraps instance-related errors with additional context.
type InstanceError struct {
	Op  string // Operation being performed
	Key string // Instance key
	Err error  // Underlying error
}

func (e *InstanceError) Error() string {
	return fmt.Sprintf("%s operation failed for instance %s: %v", e.Op, e.Key, e.Err)
}

func (e *InstanceError) Unwrap() error {
	return e.Err
}

func (e *InstanceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// JobError wraps job-related errors with additional context.
type JobError struct {
	Op  string // Operation being performed
	Key string // Job key
	Err error  // Underlying error
}

func (e *JobError) Error() string {
	return fmt.Sprintf("%s operation failed for job %s: %v", e.Op, e.Key, e.Err)
}

func (e *JobError) Unwrap() error {
	return e.Err
}

func (e *JobError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsDefinitionNotFound checks if an error indicates a definition was not found.
func IsDefinitionNotFound(err error) bool {
	return errors.Is(err, ErrDefinitionNotFound)
}

// IsVersionExists checks if an error indicates a duplicate definition version.
func IsVersionExists(err error) bool {
	return errors.Is(err, ErrVersionExists)
}

// IsInstanceNotFound checks if an error indicates an instance was not found.
func IsInstanceNotFound(err error) bool {
	return errors.Is(err, ErrInstanceNotFound)
}

// IsJobNotFound checks if an error indicates a job was not found.
func IsJobNotFound(err error) bool {
	return errors.Is(err, ErrJobNotFound)
}
