package outline

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidOperation marks an operation that cannot be satisfied against the
	// current workspace: an unknown id, an invalid enum, a cycle, a cross-group parent.
	ErrInvalidOperation = errors.New("invalid operation")
	// ErrInvalidPayload marks a full-replacement workspace rejected by Validate.
	ErrInvalidPayload = errors.New("invalid workspace")
	// ErrUnknownOperation is the ErrInvalidOperation raised for an operation name
	// that is not in the operation table.
	ErrUnknownOperation = fmt.Errorf("unknown operation: %w", ErrInvalidOperation)
)

// Error is returned by Apply, ParseOperation and Validate. Op is empty for
// validation failures.
type Error struct {
	Op      string
	Message string
	kind    error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Message
	}
	return e.Op + ": " + e.Message
}

func (e *Error) Unwrap() error {
	return e.kind
}

func opError(op, format string, args ...any) error {
	return &Error{Op: op, Message: fmt.Sprintf(format, args...), kind: ErrInvalidOperation}
}

func unknownOpError(name string) error {
	return &Error{Op: name, Message: fmt.Sprintf("unknown operation %q", name), kind: ErrUnknownOperation}
}

func payloadError(format string, args ...any) error {
	return &Error{Message: fmt.Sprintf(format, args...), kind: ErrInvalidPayload}
}
