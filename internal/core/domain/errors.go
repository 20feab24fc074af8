package domain

import "fmt"

// ErrorKind names a business-rule failure. These are expected outcomes the
// caller can act on, never faults.
type ErrorKind string

const (
	InventoryUnavailable ErrorKind = "InventoryUnavailable"
	InvalidQuantity      ErrorKind = "InvalidQuantity"
	InvalidDateRange     ErrorKind = "InvalidDateRange"
	DateInPast           ErrorKind = "DateInPast"
	CapacityExceeded     ErrorKind = "CapacityExceeded"
	AlreadyTerminal      ErrorKind = "AlreadyTerminal"
	InvalidTransition    ErrorKind = "InvalidTransition"
)

// RejectionError is a business-rule failure with a message fit for end users.
// errors.Is matches any RejectionError of the same Kind, so the package-level
// sentinels below can be used as targets.
type RejectionError struct {
	Kind    ErrorKind
	Message string
}

func (e *RejectionError) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *RejectionError) Is(target error) bool {
	t, ok := target.(*RejectionError)
	return ok && t.Kind == e.Kind
}

func Reject(kind ErrorKind, format string, args ...any) *RejectionError {
	return &RejectionError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

var (
	ErrInventoryUnavailable = &RejectionError{Kind: InventoryUnavailable}
	ErrInvalidQuantity      = &RejectionError{Kind: InvalidQuantity}
	ErrInvalidDateRange     = &RejectionError{Kind: InvalidDateRange}
	ErrDateInPast           = &RejectionError{Kind: DateInPast}
	ErrCapacityExceeded     = &RejectionError{Kind: CapacityExceeded}
	ErrAlreadyTerminal      = &RejectionError{Kind: AlreadyTerminal}
	ErrInvalidTransition    = &RejectionError{Kind: InvalidTransition}
)
