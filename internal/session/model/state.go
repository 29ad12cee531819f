// SPDX-License-Identifier: MIT

// Package model defines the durable session record and its public
// projection.
package model

// State is the lifecycle state of an install session. States only ever
// advance forward; a record is replaced wholesale only by a newer
// submission of the same id while still non-terminal.
type State string

const (
	StateVerified         State = "VERIFIED"
	StateStaged           State = "STAGED"
	StateActivated        State = "ACTIVATED"
	StateActivationFailed State = "ACTIVATION_FAILED"
	StateSuccess          State = "SUCCESS"
)

// Terminal reports whether the state admits no further transitions.
func (s State) Terminal() bool {
	return s == StateSuccess || s == StateActivationFailed
}

// Valid reports whether s is a known state tag.
func (s State) Valid() bool {
	switch s {
	case StateVerified, StateStaged, StateActivated, StateActivationFailed, StateSuccess:
		return true
	}
	return false
}
