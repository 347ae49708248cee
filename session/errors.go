package session

import "errors"

// Session package errors.
var (
	// ErrNoAuthSession is returned by AuthStep when no authentication
	// conversation is active.
	ErrNoAuthSession = errors.New("session: no authentication session")

	// ErrAuthStepOutOfOrder is returned when a step number is replayed or
	// skips ahead. The record is left unchanged.
	ErrAuthStepOutOfOrder = errors.New("session: authentication step out of order")

	// ErrAuthCompletedEarly is returned when the mechanism reports completion
	// on the very first step.
	ErrAuthCompletedEarly = errors.New("session: authentication completed on first step")

	// ErrAuthFailed wraps mechanism errors.
	ErrAuthFailed = errors.New("session: authentication failed")

	// ErrNoMechanism is returned when an authentication session is requested
	// without a mechanism context.
	ErrNoMechanism = errors.New("session: no mechanism context")

	// ErrSessionClosed is returned when an authentication session is
	// requested on a record that was already closed.
	ErrSessionClosed = errors.New("session: record closed")
)
