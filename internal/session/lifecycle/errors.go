// SPDX-License-Identifier: MIT

package lifecycle

import "errors"

var (
	// ErrWrongState marks a mutating call that is invalid for the
	// session's current state. The state is left unchanged.
	ErrWrongState = errors.New("wrong session state")

	// ErrUnknownSession marks a mutating call against an id with no
	// record. Info queries never return this; they yield the synthetic
	// unknown record instead.
	ErrUnknownSession = errors.New("unknown session")

	// ErrConflictingSession marks an id reused with incompatible group
	// membership or reused while mid-flight in a state that must not be
	// silently replaced.
	ErrConflictingSession = errors.New("conflicting session")
)
