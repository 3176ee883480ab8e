// errors.go: coded error taxonomy for the shared-memory IPC primitives
//
// Copyright (c) 2025 AGILira
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

// Package cerrors gives every failure path in concord a stable code,
// built directly on github.com/agilira/go-errors rather than ad-hoc
// fmt.Errorf strings callers have to pattern-match.
package cerrors

import (
	goerrors "github.com/agilira/go-errors"
)

// Code classifies a concord error. Callers should switch on Code, never
// on the message text.
type Code string

const (
	// ArgBounds: negative length, typeId <= 0, or length > maxMsgLength.
	// Commit/Abort do not range-check their index argument; an index past
	// the end of the buffer panics with membuf's BoundsCheck error.
	ArgBounds Code = "ARG_BOUNDS"

	// StateCapacity: counter allocation would exceed the values/metadata
	// region capacity.
	StateCapacity Code = "STATE_CAPACITY"

	// StateProtocol: Commit or Abort called on a slot that was already
	// committed (length non-negative) or already aborted (type is padding).
	StateProtocol Code = "STATE_PROTOCOL"

	// CapacityShape: a constructor saw a capacity that is not a power of
	// two, below the component's minimum, or metadata < 2x values.
	CapacityShape Code = "CAPACITY_SHAPE"

	// BoundsCheck: a buffer access fell outside the underlying region.
	BoundsCheck Code = "BOUNDS_CHECK"
)

// Error is the concrete error type every package in this module raises.
// It wraps a *goerrors.Error so callers get go-errors' formatting and
// cause-chaining for free, while still exposing a stable Code callers
// can switch on without parsing the message. The wrapped error is a
// named field, not embedded: an embedded *goerrors.Error's promoted
// Error() method would be shadowed by the field itself (both named
// "Error" at different depths), leaving *Error without an Error()
// string method and so failing to satisfy the error interface.
type Error struct {
	Code Code
	Err  *goerrors.Error
}

// New builds an *Error with no cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Err: goerrors.New(string(code), message)}
}

// Wrap builds an *Error that carries cause as its Unwrap target.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Err: goerrors.New(string(code), message).WithCause(cause)}
}

// Error satisfies the error interface by delegating to the wrapped
// go-errors value.
func (e *Error) Error() string {
	return e.Err.Error()
}

// Unwrap exposes the wrapped cause, if any, to errors.Is/errors.As.
func (e *Error) Unwrap() error {
	return e.Err.Unwrap()
}

// Is reports whether target is an *Error with the same Code, so
// errors.Is(err, cerrors.New(cerrors.ArgBounds, "")) works as a code
// check regardless of message.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == other.Code
}
