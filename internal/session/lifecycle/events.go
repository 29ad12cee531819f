// SPDX-License-Identifier: MIT

// Package lifecycle defines the session state machine: the allowed
// transition edges and the single Apply entry point that advances a record.
package lifecycle

// EventKind names the inputs that drive session state transitions.
type EventKind string

const (
	// EvSubmit (re)creates a session in the verified state. Overwriting is
	// only legal before staging.
	EvSubmit EventKind = "submit"

	// EvMarkReady moves a verified session to staged. Idempotent once
	// staged.
	EvMarkReady EventKind = "mark_ready"

	// EvActivationOK records a fully activated session.
	EvActivationOK EventKind = "activation_ok"

	// EvActivationRetry records a recoverable activation failure: the
	// session stays staged with the pending-retry flag set.
	EvActivationRetry EventKind = "activation_retry"

	// EvActivationFatal records an unrecoverable activation failure. Also
	// accepted from the activated state so an external failed-boot driver
	// can finalize the session.
	EvActivationFatal EventKind = "activation_fatal"

	// EvMarkSuccessful finalizes an activated session. Idempotent once
	// successful.
	EvMarkSuccessful EventKind = "mark_successful"
)
