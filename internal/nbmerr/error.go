// Package nbmerr implements the domain-level error kinds and stacked
// context used throughout the module: a total alternative to exceptions
// for ordinary control flow, with a rendered chain suitable for stderr.
package nbmerr

import (
	"fmt"
	"strings"

	"golang.org/x/xerrors"
)

// Kind identifies which of the domain error categories an Error carries.
type Kind int

const (
	// KindUnknown is the zero value; Errors constructed via New always set
	// a real Kind, so seeing this means a bug.
	KindUnknown Kind = iota
	KindManifestMissing
	KindManifestParse
	KindCyclicDependency
	KindUnknownEnvRef
	KindBuildFailed
	KindCancelled
	KindCacheIOError
	KindLockContention
)

func (k Kind) String() string {
	switch k {
	case KindManifestMissing:
		return "ManifestMissing"
	case KindManifestParse:
		return "ManifestParse"
	case KindCyclicDependency:
		return "CyclicDependency"
	case KindUnknownEnvRef:
		return "UnknownEnvRef"
	case KindBuildFailed:
		return "BuildFailed"
	case KindCancelled:
		return "Cancelled"
	case KindCacheIOError:
		return "CacheIOError"
	case KindLockContention:
		return "LockContention"
	default:
		return "Unknown"
	}
}

// Fatal reports whether errors of this kind should abort the operation they
// occurred in, as opposed to being locally recoverable. Only CacheIOError
// is recovered locally: a broken cache degrades to recomputation.
func (k Kind) Fatal() bool {
	return k != KindCacheIOError
}

// Error is the module's domain error type: a Kind, an optional wrapped
// cause, and an ordered stack of "while doing X" context strings, pushed
// outermost-last and rendered outermost-first.
type Error struct {
	kind    Kind
	cause   error
	context []string
}

// New constructs a bare domain error of the given kind with a message.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{kind: kind, cause: xerrors.Errorf(format, args...)}
}

// Wrap attaches a Kind to an existing error, preserving it as the cause.
func Wrap(kind Kind, cause error) *Error {
	return &Error{kind: kind, cause: cause}
}

// WithContext returns a new Error with an additional "while <msg>" frame
// pushed onto the context stack. The combinator is non-mutating so the same
// base error can be annotated differently by different callers.
func (e *Error) WithContext(msg string) *Error {
	next := &Error{kind: e.kind, cause: e.cause}
	next.context = make([]string, len(e.context)+1)
	copy(next.context, e.context)
	next.context[len(e.context)] = msg
	return next
}

// Kind returns the error's domain category.
func (e *Error) Kind() Kind { return e.kind }

// Unwrap exposes the wrapped cause for errors.Is/errors.As.
func (e *Error) Unwrap() error { return e.cause }

// Error renders the full chain: kind, cause, then context frames from
// outermost (last pushed) to innermost, one per line indented like a stack.
func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %v", e.kind, e.cause)
	for i := len(e.context) - 1; i >= 0; i-- {
		fmt.Fprintf(&b, "\n  while %s", e.context[i])
	}
	return b.String()
}

// Chain is an alias for Error provided for call sites that want to make the
// "render the full chain for stderr" intent explicit.
func (e *Error) Chain() string { return e.Error() }

// WithContext is a package-level helper for wrapping a plain error (not
// already an *Error) with context and a kind in one call.
func WithContext(err error, kind Kind, msg string) *Error {
	if de, ok := err.(*Error); ok {
		return de.WithContext(msg)
	}
	return Wrap(kind, err).WithContext(msg)
}

// Is reports whether err (or any error it wraps) carries the given Kind.
func Is(err error, kind Kind) bool {
	for err != nil {
		var de *Error
		if !xerrors.As(err, &de) {
			return false
		}
		if de.kind == kind {
			return true
		}
		err = de.cause
	}
	return false
}
