// Package ndproxyerr defines the small, stable error taxonomy shared across
// the proxy daemon's components, so that callers at any layer — and the
// control-plane verb handlers in particular — can map an error to a
// response without inspecting strings.
package ndproxyerr

import "fmt"

// Kind classifies an [Error] into one of a fixed set of outcomes.
type Kind string

// Recognized error kinds.
const (
	// BadPermissions reports that a privileged socket operation was denied.
	BadPermissions Kind = "bad_permissions"

	// DoesNotExist reports a missing interface, group, or cache entry.
	DoesNotExist Kind = "does_not_exist"

	// AlreadyExists reports a group name collision or interface double-bind.
	AlreadyExists Kind = "already_exists"

	// InvalidArgument reports an empty name, invalid group name, or wrong
	// address family.
	InvalidArgument Kind = "invalid_argument"

	// ResultUnavailable reports a non-blocking receive with nothing to read.
	ResultUnavailable Kind = "result_unavailable"

	// MalformedPacket reports a truncated or structurally invalid ND message.
	MalformedPacket Kind = "malformed_packet"

	// MtuExceeded reports an outbound frame larger than the link MTU.
	MtuExceeded Kind = "mtu_exceeded"

	// ResourceInUse reports that a socket is already bound to an interface.
	ResourceInUse Kind = "resource_in_use"

	// UnsupportedType reports an unknown hardware type or unsupported option
	// shape.
	UnsupportedType Kind = "unsupported_type"

	// BadInternalState reports a call made on an uninitialized or closed
	// socket or interface.
	BadInternalState Kind = "bad_internal_state"

	// UnexpectedFailure covers everything else; the error's wrapped cause,
	// returned by [Error.Unwrap], typically holds the underlying system
	// error.
	UnexpectedFailure Kind = "unexpected_failure"
)

// Error is a kind-tagged error with an appendable message trail.
type Error struct {
	Kind  Kind
	msg   string
	cause error
}

// New returns an *Error of the given kind with msg as its message.
func New(kind Kind, msg string) (err *Error) {
	return &Error{Kind: kind, msg: msg}
}

// Wrap returns an *Error of the given kind, wrapping cause and prefixing its
// trail with msg.
func Wrap(kind Kind, cause error, msg string) (err *Error) {
	return &Error{Kind: kind, msg: msg, cause: cause}
}

// Error implements the error interface.
func (e *Error) Error() (s string) {
	if e.cause == nil {
		return e.msg
	}

	return fmt.Sprintf("%s: %s", e.msg, e.cause)
}

// Unwrap returns e's wrapped cause, if any, for use with errors.Is/As.
func (e *Error) Unwrap() (cause error) { return e.cause }

// Annotate returns a copy of e with msg prepended to its trail, e itself
// becoming the wrapped cause.
func (e *Error) Annotate(msg string) (wrapped *Error) {
	return &Error{Kind: e.Kind, msg: msg, cause: e}
}

// KindOf walks err's Unwrap chain and returns the Kind of the first *Error
// found.
func KindOf(err error) (kind Kind, ok bool) {
	for err != nil {
		if e, isErr := err.(*Error); isErr {
			return e.Kind, true
		}

		u, isUnwrap := err.(interface{ Unwrap() error })
		if !isUnwrap {
			break
		}

		err = u.Unwrap()
	}

	return "", false
}
