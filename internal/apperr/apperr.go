// Package apperr defines the typed errors returned by core operations.
// Transport layers map Kind to a status code; Code and Field give callers
// enough detail to refresh their view instead of retrying blindly.
package apperr

import (
	"errors"
	"fmt"
)

type Kind int

const (
	KindValidation Kind = iota + 1
	KindPermission
	KindStateConflict
	KindNotFound
	KindResourceExhausted
	KindStore
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindPermission:
		return "permission"
	case KindStateConflict:
		return "state_conflict"
	case KindNotFound:
		return "not_found"
	case KindResourceExhausted:
		return "resource_exhausted"
	case KindStore:
		return "store"
	default:
		return "unknown"
	}
}

// Machine-readable error codes.
const (
	CodeAlreadySwapping    = "already_swapping"
	CodeAlreadyResolved    = "already_resolved"
	CodeExpired            = "expired"
	CodeNothingToTransfer  = "nothing_to_transfer"
	CodeTooLateToSwap      = "too_late_to_swap"
	CodeNoEligibleAssignee = "no_eligible_assignee"
	CodePointsMismatch     = "points_mismatch"
)

type Error struct {
	Kind   Kind
	Code   string
	Field  string // offending field, validation errors only
	Status string // current swap status, state conflicts only
	msg    string
	cause  error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.msg, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.msg)
}

func (e *Error) Unwrap() error { return e.cause }

// Message is the client-facing description, without the kind prefix.
func (e *Error) Message() string { return e.msg }

func Validation(field, msg string) *Error {
	return &Error{Kind: KindValidation, Field: field, msg: msg}
}

func ValidationCode(code, field, msg string) *Error {
	return &Error{Kind: KindValidation, Code: code, Field: field, msg: msg}
}

func Permission(msg string) *Error {
	return &Error{Kind: KindPermission, msg: msg}
}

func Conflict(code, currentStatus, msg string) *Error {
	return &Error{Kind: KindStateConflict, Code: code, Status: currentStatus, msg: msg}
}

func NotFound(entity string, id int64) *Error {
	return &Error{Kind: KindNotFound, msg: fmt.Sprintf("%s %d not found", entity, id)}
}

func Exhausted(code, msg string) *Error {
	return &Error{Kind: KindResourceExhausted, Code: code, msg: msg}
}

// Store wraps an entity-store failure. The enclosing transaction has been
// rolled back by the time callers see it.
func Store(op string, err error) *Error {
	return &Error{Kind: KindStore, msg: op, cause: err}
}

// From extracts a typed error, or nil if err is not one.
func From(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return nil
}

// KindOf returns the kind of err, or 0 for untyped errors.
func KindOf(err error) Kind {
	if e := From(err); e != nil {
		return e.Kind
	}
	return 0
}

// IsCode reports whether err is a typed error carrying the given code.
func IsCode(err error, code string) bool {
	e := From(err)
	return e != nil && e.Code == code
}
