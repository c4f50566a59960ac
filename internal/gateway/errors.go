package gateway

import (
	"errors"
	"fmt"
)

// Kind classifies a gateway failure so callers can branch on the value.
type Kind string

const (
	KindValidation     Kind = "validation"      // request rejected before reaching the broker
	KindBrokerRejected Kind = "broker_rejected" // broker refused the operation
	KindConnectionLost Kind = "connection_lost" // broker unreachable
	KindNotFound       Kind = "not_found"       // ticket unknown to the broker
)

// Error is the failure type every gateway operation returns.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("gateway: %s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("gateway: %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError wraps err as a gateway failure of the given kind.
func NewError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf builds a gateway failure from a format string.
func Errorf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// IsKind reports whether err is (or wraps) a gateway Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var ge *Error
	return errors.As(err, &ge) && ge.Kind == kind
}
