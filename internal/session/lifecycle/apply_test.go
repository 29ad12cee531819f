// SPDX-License-Identifier: MIT

package lifecycle

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/StagOS/android-system-apex/internal/session/model"
)

func TestApply_HappyPath(t *testing.T) {
	s := NewRecord(1, nil, []string{"/p.apex"}, false)
	require.Equal(t, model.StateVerified, s.State)

	require.NoError(t, Apply(s, EvMarkReady, ""))
	require.Equal(t, model.StateStaged, s.State)

	require.NoError(t, Apply(s, EvActivationOK, ""))
	require.Equal(t, model.StateActivated, s.State)

	require.NoError(t, Apply(s, EvMarkSuccessful, ""))
	require.Equal(t, model.StateSuccess, s.State)
}

func TestApply_IdempotentEvents(t *testing.T) {
	tests := []struct {
		name  string
		state model.State
		ev    EventKind
	}{
		{"markReady on staged", model.StateStaged, EvMarkReady},
		{"markSuccessful on success", model.StateSuccess, EvMarkSuccessful},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &model.Session{ID: 1, State: tt.state}
			require.NoError(t, Apply(s, tt.ev, ""))
			require.Equal(t, tt.state, s.State)
		})
	}
}

func TestApply_WrongState(t *testing.T) {
	tests := []struct {
		name  string
		state model.State
		ev    EventKind
	}{
		{"markSuccessful on staged", model.StateStaged, EvMarkSuccessful},
		{"markSuccessful on verified", model.StateVerified, EvMarkSuccessful},
		{"activate on verified", model.StateVerified, EvActivationOK},
		{"markReady on activated", model.StateActivated, EvMarkReady},
		{"markReady on failed", model.StateActivationFailed, EvMarkReady},
		{"markReady on success", model.StateSuccess, EvMarkReady},
		{"activate on success", model.StateSuccess, EvActivationOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &model.Session{ID: 1, State: tt.state}
			err := Apply(s, tt.ev, "")
			require.ErrorIs(t, err, ErrWrongState)
			require.Equal(t, tt.state, s.State)
		})
	}
}

func TestApply_RetrySetsAndClearsFlag(t *testing.T) {
	s := &model.Session{ID: 1, State: model.StateStaged}

	require.NoError(t, Apply(s, EvActivationRetry, "mount failed"))
	require.Equal(t, model.StateStaged, s.State)
	require.True(t, s.PendingRetry)
	require.Equal(t, "mount failed", s.ErrorMessage)

	// Another markReady keeps the flag; a successful activation clears it.
	require.NoError(t, Apply(s, EvMarkReady, ""))
	require.True(t, s.PendingRetry)

	require.NoError(t, Apply(s, EvActivationOK, ""))
	require.False(t, s.PendingRetry)
	require.Equal(t, model.StateActivated, s.State)
	require.Empty(t, s.ErrorMessage)
}

func TestApply_FatalFromStagedAndActivated(t *testing.T) {
	for _, from := range []model.State{model.StateStaged, model.StateActivated} {
		s := &model.Session{ID: 1, State: from}
		require.NoError(t, Apply(s, EvActivationFatal, "boom"))
		require.Equal(t, model.StateActivationFailed, s.State)
		require.Equal(t, "boom", s.ErrorMessage)
		require.False(t, s.PendingRetry)
	}
}

func TestApply_TerminalStatesRejectEverythingElse(t *testing.T) {
	events := []EventKind{EvMarkReady, EvActivationOK, EvActivationRetry, EvActivationFatal}
	for _, ev := range events {
		s := &model.Session{ID: 1, State: model.StateActivationFailed}
		require.ErrorIs(t, Apply(s, ev, ""), ErrWrongState)
	}
}

func TestNewRecord_CopiesSlices(t *testing.T) {
	children := []int{20, 30}
	paths := []string{"/a.apex", "/b.apex"}
	s := NewRecord(10, children, paths, true)

	children[0] = 99
	paths[0] = "/other.apex"

	require.Equal(t, []int{20, 30}, s.ChildIDs)
	require.Equal(t, []string{"/a.apex", "/b.apex"}, s.PackagePaths)
	require.True(t, s.IsRollback)
	require.NotZero(t, s.CreatedAtUnix)
}
