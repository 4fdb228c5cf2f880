// Package thinkerr defines the stable error-kind taxonomy used across the
// decision pipeline and execution plane (spec §7), plus the Interrupt
// sentinel used for user-initiated cancellation.
package thinkerr

import (
	"errors"
	"fmt"
)

// Kind is a stable error classification. Callers match on Kind via
// KindOf, or via errors.Is against an *Error built with the same Kind,
// not by inspecting error strings.
type Kind string

const (
	// EDepth indicates a nesting-depth policy breach.
	EDepth Kind = "E_DEPTH"
	// EFanout indicates a fan-out (parallel branch count) policy breach.
	EFanout Kind = "E_FANOUT"
	// EChildren indicates a child-execution count policy breach.
	EChildren Kind = "E_CHILDREN"
	// EProvider indicates an upstream language-model provider error.
	EProvider Kind = "E_PROVIDER"
	// ETimeout indicates a per-handler or task timeout was exceeded.
	ETimeout Kind = "E_TIMEOUT"
	// EValidation indicates a schema breach in facts, plan, config, or module output.
	EValidation Kind = "E_VALIDATION"
	// ETool indicates a tool call failure.
	ETool Kind = "E_TOOL"
	// EInterrupt is a sentinel kind for user cancellation; not a failure.
	EInterrupt Kind = "E_INTERRUPT"
	// EUnknown is the residual catch-all kind.
	EUnknown Kind = "E_UNKNOWN"
)

// Error wraps an error with a stable Kind for classification and an
// optional underlying cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

// New builds an Error of the given kind with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an Error of the given kind around an existing error.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target is a *Error with the same Kind, enabling
// errors.Is(err, thinkerr.New(thinkerr.EProvider, "")) comparisons. Callers
// more commonly use KindOf(err) == thinkerr.EProvider directly.
func (e *Error) Is(target error) bool {
	var te *Error
	if errors.As(target, &te) {
		return e.Kind == te.Kind
	}
	return false
}

// KindOf extracts the Kind from err if it is (or wraps) a *Error or an
// *Interrupt, returning EUnknown otherwise.
func KindOf(err error) Kind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	var ti *Interrupt
	if errors.As(err, &ti) {
		return EInterrupt
	}
	return EUnknown
}
