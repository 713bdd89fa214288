// Package apperr defines the error kinds shared by the IPM engine and its surfaces.
package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrAlreadyExists = errors.New("already exists")

	// ErrCycleDetected is returned when a symbolic link leads back to a
	// directory that is already being walked.
	ErrCycleDetected = errors.New("cycle detected")
	// ErrAccessDenied is returned when a file or directory cannot be read
	// during ingestion.
	ErrAccessDenied = errors.New("access denied")
	// ErrIllegalTypeChange is recoverable: re-query the valid types and retry.
	ErrIllegalTypeChange = errors.New("illegal type change")
	// ErrUnknownNodeType is fatal for the deserialization that hit it.
	ErrUnknownNodeType = errors.New("unknown node type")
	ErrInvalidProfile  = errors.New("invalid domain profile")
	// ErrContractViolation marks calls a correct caller never makes, such as
	// collapsing a parent that was not produced by a split.
	ErrContractViolation = errors.New("contract violation")
)

// Error carries one of the sentinel kinds above together with the
// operation and subject that produced it.
type Error struct {
	Kind error
	Op   string
	Msg  string
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Kind.Error()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Msg != "" {
		msg += ": " + e.Msg
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Kind }

// New builds an *Error of the given kind.
func New(kind error, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches kind to an underlying cause, keeping both reachable through errors.Is.
func Wrap(kind error, op string, cause error) error {
	return fmt.Errorf("%w: %w", &Error{Kind: kind, Op: op}, cause)
}
