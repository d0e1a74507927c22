package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// Phase indicates which operation produced the error
type Phase string

const (
	PhaseAttach   Phase = "attach"   // ownership transfer into a style
	PhaseDetach   Phase = "detach"   // ownership transfer back to the peer
	PhaseTeardown Phase = "teardown" // peer destruction
	PhaseStyle    Phase = "style"    // container operations
	PhaseHost     Phase = "host"     // proxy runtime operations
	PhaseLoad     Phase = "load"     // style document loading
	PhaseRegister Phase = "register" // class registration
)

// Kind categorizes the error
type Kind string

const (
	KindAlreadyAttached Kind = "already_attached"
	KindNotAttached     Kind = "not_attached"
	KindConflict        Kind = "conflict"
	KindNotFound        Kind = "not_found"
	KindInvalidInput    Kind = "invalid_input"
	KindNotInitialized  Kind = "not_initialized"
	KindPrecondition    Kind = "precondition"
	KindRegistration    Kind = "registration"
	KindClosed          Kind = "closed"
	KindInvariant       Kind = "invariant"
)

// Error is the structured error type used throughout the module
type Error struct {
	Cause  error
	Phase  Phase
	Kind   Kind
	Source string
	Detail string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.Source != "" {
		b.WriteString(" source ")
		b.WriteString(fmt.Sprintf("%q", e.Source))
	}

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error.
// An empty Phase on the target matches any phase.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Phase != "" && t.Phase != e.Phase {
		return false
	}
	return e.Kind == t.Kind
}

// IsKind reports whether any error in err's chain is an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	return stderrors.Is(err, &Error{Kind: kind})
}

// KindOf returns the kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Source sets the source ID
func (b *Builder) Source(id string) *Builder {
	b.err.Source = id
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for common error patterns

// AlreadyAttached reports an attach on a peer that does not own its source.
func AlreadyAttached(id string) *Error {
	return &Error{
		Phase:  PhaseAttach,
		Kind:   KindAlreadyAttached,
		Source: id,
		Detail: "cannot add source twice",
	}
}

// NotAttached reports a detach on a peer that is not attached to the given style.
func NotAttached(id, detail string) *Error {
	return &Error{
		Phase:  PhaseDetach,
		Kind:   KindNotAttached,
		Source: id,
		Detail: detail,
	}
}

// Conflict creates an identity collision error
func Conflict(phase Phase, id string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindConflict,
		Source: id,
		Detail: "a source with this id already exists",
	}
}

// NotFound creates a not found error
func NotFound(phase Phase, id string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Source: id,
		Detail: "no such source",
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// NotInitialized creates an error for use before initialization
func NotInitialized(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotInitialized,
		Detail: what + " not initialized",
	}
}

// Precondition creates an error for a violated call precondition
func Precondition(phase Phase, id, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindPrecondition,
		Source: id,
		Detail: detail,
	}
}

// Registration creates a class registration error
func Registration(name, detail string) *Error {
	return &Error{
		Phase:  PhaseRegister,
		Kind:   KindRegistration,
		Detail: fmt.Sprintf("%s: %s", name, detail),
	}
}

// Closed creates an error for operations on a closed object
func Closed(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindClosed,
		Detail: what + " is closed",
	}
}

// Invariant creates an internal invariant violation error.
// Callers panic with it; it is never returned to users.
func Invariant(phase Phase, id, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvariant,
		Source: id,
		Detail: detail,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}
