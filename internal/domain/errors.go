package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind is one of the typed error categories named by the orchestrator's
// error-handling design. Components return *Error (or wrap one) instead of
// ad hoc strings so callers can switch on Kind.
type ErrorKind string

const (
	KindGuardrailDenied    ErrorKind = "GuardrailDenied"
	KindApprovalRequired   ErrorKind = "ApprovalRequired"
	KindSchemaInvalid      ErrorKind = "SchemaInvalid"
	KindRateLimited        ErrorKind = "RateLimited"
	KindTimeout            ErrorKind = "Timeout"
	KindWorkerCrashed      ErrorKind = "WorkerCrashed"
	KindSandboxCrashed     ErrorKind = "SandboxCrashed"
	KindLoadTimeout        ErrorKind = "LoadTimeout"
	KindNotApproved        ErrorKind = "NotApproved"
	KindSignatureMismatch  ErrorKind = "SignatureMismatch"
	KindStorageUnavailable ErrorKind = "StorageUnavailable"
	KindDecompositionFailed ErrorKind = "DecompositionFailed"
	KindRegression         ErrorKind = "Regression"
	KindIllegalTransition  ErrorKind = "IllegalTransition"
	KindUnknownAPI         ErrorKind = "UnknownAPI"
	KindNotFound           ErrorKind = "NotFound"
)

// transient marks the kinds that the caller may retry automatically per the
// task retry policy, as opposed to ones that are final for the attempt.
var transient = map[ErrorKind]bool{
	KindRateLimited:    true,
	KindTimeout:        true,
	KindWorkerCrashed:  true,
	KindSandboxCrashed: true,
}

// Error is the single typed error value propagated by every component.
type Error struct {
	Kind      ErrorKind
	Message   string
	TraceID   string
	ResetAt   time.Time // set for KindRateLimited
	Cause     error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Transient reports whether the error kind is eligible for automatic retry.
func (e *Error) Transient() bool { return transient[e.Kind] }

// New builds an *Error with the given kind and formatted message.
func New(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an *Error around an existing error without discarding it.
func Wrap(kind ErrorKind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// KindOf extracts the ErrorKind from err if it is (or wraps) a *Error.
func KindOf(err error) (ErrorKind, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind, true
	}
	return "", false
}

// Is reports whether err is a *Error of the given kind.
func Is(err error, kind ErrorKind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
