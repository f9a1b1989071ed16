package errors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrorType represents the category of error
type ErrorType string

const (
	// ErrorTypeNode represents node store errors
	ErrorTypeNode ErrorType = "node"
	// ErrorTypeVersioning represents versioning backend errors
	ErrorTypeVersioning ErrorType = "versioning"
	// ErrorTypeMerge represents merge outcome errors
	ErrorTypeMerge ErrorType = "merge"
	// ErrorTypeSimilarity represents similarity index errors
	ErrorTypeSimilarity ErrorType = "similarity"
	// ErrorTypeConfig represents configuration errors
	ErrorTypeConfig ErrorType = "config"
)

// BaseError is the base error type with common fields
type BaseError struct {
	Type      ErrorType
	Message   string
	Timestamp time.Time
	Err       error // Wrapped error
}

// Error implements the error interface
func (e *BaseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap returns the wrapped error for error unwrapping
func (e *BaseError) Unwrap() error {
	return e.Err
}

// Kind returns the error category, promoted to every typed error below.
func (e *BaseError) Kind() ErrorType {
	return e.Type
}

// NewBaseError creates a new base error
func NewBaseError(errType ErrorType, message string, err error) *BaseError {
	return &BaseError{
		Type:      errType,
		Message:   message,
		Timestamp: time.Now(),
		Err:       err,
	}
}

// Node Errors

// ErrNodeNotFound is returned when a node does not exist in the store
type ErrNodeNotFound struct {
	*BaseError
	Name string
}

func NewNodeNotFound(name string) *ErrNodeNotFound {
	return &ErrNodeNotFound{
		BaseError: NewBaseError(ErrorTypeNode, fmt.Sprintf("node not found: %s", name), nil),
		Name:      name,
	}
}

// ErrNodeExists is returned when an exclusive create hits an existing node
type ErrNodeExists struct {
	*BaseError
	Name string
}

func NewNodeExists(name string) *ErrNodeExists {
	return &ErrNodeExists{
		BaseError: NewBaseError(ErrorTypeNode, fmt.Sprintf("node already exists: %s", name), nil),
		Name:      name,
	}
}

// ErrInvalidName is returned when a node name cannot be used as a file stem
type ErrInvalidName struct {
	*BaseError
	Name string
}

func NewInvalidName(name string) *ErrInvalidName {
	return &ErrInvalidName{
		BaseError: NewBaseError(ErrorTypeNode, fmt.Sprintf("invalid node name: %q", name), nil),
		Name:      name,
	}
}

// Merge Errors

// ErrMergeConflict is returned when a branch cannot be folded into trunk.
// Nodes lists the node names whose content conflicted.
type ErrMergeConflict struct {
	*BaseError
	Nodes []string
}

func NewMergeConflict(nodes []string) *ErrMergeConflict {
	return &ErrMergeConflict{
		BaseError: NewBaseError(ErrorTypeMerge, fmt.Sprintf("merge conflict on: %s", strings.Join(nodes, ", ")), nil),
		Nodes:     nodes,
	}
}

// Versioning Errors

// ErrBackendFailure is returned when a versioning primitive itself fails.
// Output carries the backend's diagnostic text.
type ErrBackendFailure struct {
	*BaseError
	Op     string
	Output string
}

func NewBackendFailure(op, output string, err error) *ErrBackendFailure {
	return &ErrBackendFailure{
		BaseError: NewBaseError(ErrorTypeVersioning, fmt.Sprintf("backend %s failed: %s", op, strings.TrimSpace(output)), err),
		Op:        op,
		Output:    output,
	}
}

// Similarity Errors

// ErrSimilarityFailed is returned when the similarity oracle errors
type ErrSimilarityFailed struct {
	*BaseError
	Op string
}

func NewSimilarityFailed(op string, err error) *ErrSimilarityFailed {
	return &ErrSimilarityFailed{
		BaseError: NewBaseError(ErrorTypeSimilarity, fmt.Sprintf("similarity %s failed", op), err),
		Op:        op,
	}
}

// Config Errors

// ErrConfigMissingRequired is returned when a required config value is missing
type ErrConfigMissingRequired struct {
	*BaseError
	Field string
}

func NewConfigMissingRequired(field string) *ErrConfigMissingRequired {
	return &ErrConfigMissingRequired{
		BaseError: NewBaseError(ErrorTypeConfig, fmt.Sprintf("missing required config: %s", field), nil),
		Field:     field,
	}
}

// Helper functions

// IsErrorType checks if an error is of a specific type
func IsErrorType(err error, errType ErrorType) bool {
	var kinded interface{ Kind() ErrorType }
	if errors.As(err, &kinded) {
		return kinded.Kind() == errType
	}
	return false
}

// IsNotFound checks for a missing-node result anywhere in the chain
func IsNotFound(err error) bool {
	var e *ErrNodeNotFound
	return errors.As(err, &e)
}

// IsAlreadyExists checks for an exclusive-create collision
func IsAlreadyExists(err error) bool {
	var e *ErrNodeExists
	return errors.As(err, &e)
}

// IsMergeConflict checks for a merge conflict outcome
func IsMergeConflict(err error) bool {
	var e *ErrMergeConflict
	return errors.As(err, &e)
}

// IsBackendFailure checks for a hard versioning backend failure
func IsBackendFailure(err error) bool {
	var e *ErrBackendFailure
	return errors.As(err, &e)
}

// IsRecoverable reports whether the caller can recover by retrying with
// different input: missing nodes, existing nodes and merge conflicts are
// normal negative results, backend failures are not.
func IsRecoverable(err error) bool {
	if IsNotFound(err) || IsAlreadyExists(err) || IsMergeConflict(err) {
		return true
	}
	return false
}
