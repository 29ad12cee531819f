// SPDX-License-Identifier: MIT

package lifecycle

import "github.com/StagOS/android-system-apex/internal/session/model"

// Transition is a single allowed edge in the session state machine.
type Transition struct {
	From  model.State
	To    model.State
	Event EventKind

	// PendingRetry is the resulting value of the session's pending-retry
	// flag after the transition.
	PendingRetry bool
}

var transitionsTable = []Transition{
	// Submit path: idempotent overwrite is only legal before staging.
	{From: model.StateVerified, To: model.StateVerified, Event: EvSubmit},

	// Staging
	{From: model.StateVerified, To: model.StateStaged, Event: EvMarkReady},
	{From: model.StateStaged, To: model.StateStaged, Event: EvMarkReady},

	// Activation outcomes
	{From: model.StateStaged, To: model.StateActivated, Event: EvActivationOK},
	{From: model.StateStaged, To: model.StateStaged, Event: EvActivationRetry, PendingRetry: true},
	{From: model.StateStaged, To: model.StateActivationFailed, Event: EvActivationFatal},

	// External failed-boot driver may fail an activated session.
	{From: model.StateActivated, To: model.StateActivationFailed, Event: EvActivationFatal},

	// Finalization
	{From: model.StateActivated, To: model.StateSuccess, Event: EvMarkSuccessful},
	{From: model.StateSuccess, To: model.StateSuccess, Event: EvMarkSuccessful},
}

// TransitionFor returns the allowed transition for a given state+event.
func TransitionFor(from model.State, ev EventKind) (Transition, bool) {
	for _, tr := range transitionsTable {
		if tr.From == from && tr.Event == ev {
			return tr, true
		}
	}
	return Transition{}, false
}

// resultingPendingRetry keeps an already-set pending-retry flag across the
// idempotent staged->staged markReady edge; every other transition takes
// the table value.
func resultingPendingRetry(tr Transition, current bool) bool {
	if tr.Event == EvMarkReady && tr.From == model.StateStaged {
		return current
	}
	return tr.PendingRetry
}
