package metastore

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies a metastore error per the taxonomy in spec.md §7.
type Kind int

const (
	// KindNotFound: the named entity does not exist. Not retryable.
	KindNotFound Kind = iota
	// KindAlreadyExists: create on an entity that already exists. Not retryable.
	KindAlreadyExists
	// KindInvalidArgument: validation failed before any state change. Not retryable.
	KindInvalidArgument
	// KindCheckpointError: a checkpoint delta disagreed with the stored
	// position. Treated as "someone else advanced"; callers recover by
	// reloading and re-deriving the delta.
	KindCheckpointError
	// KindConnection: a transient failure talking to the backing store.
	// Retried with exponential backoff up to a cap.
	KindConnection
	// KindInternal: programming error or corruption. Not retryable.
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindAlreadyExists:
		return "already_exists"
	case KindInvalidArgument:
		return "invalid_argument"
	case KindCheckpointError:
		return "checkpoint_error"
	case KindConnection:
		return "connection"
	case KindInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// Error is the error type every Metastore method returns on failure.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("metastore: %s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("metastore: %s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Retryable reports whether the propagation policy in spec.md §7 calls for
// the caller to retry this error locally (Connection) versus surface or
// terminate (everything else).
func (e *Error) Retryable() bool {
	return e.Kind == KindConnection
}

func newErr(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func wrapErr(kind Kind, cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: errors.WithStack(cause)}
}

// IsNotFound reports whether err is a *Error of KindNotFound.
func IsNotFound(err error) bool {
	var me *Error
	return errors.As(err, &me) && me.Kind == KindNotFound
}

// IsAlreadyExists reports whether err is a *Error of KindAlreadyExists.
func IsAlreadyExists(err error) bool {
	var me *Error
	return errors.As(err, &me) && me.Kind == KindAlreadyExists
}

// IsCheckpointError reports whether err is a *Error of KindCheckpointError.
func IsCheckpointError(err error) bool {
	var me *Error
	return errors.As(err, &me) && me.Kind == KindCheckpointError
}
