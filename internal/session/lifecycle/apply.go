// SPDX-License-Identifier: MIT

package lifecycle

import (
	"fmt"
	"time"

	"github.com/StagOS/android-system-apex/internal/session/model"
)

// Apply advances the session according to the transition table. On an
// illegal state+event pair it returns ErrWrongState and leaves the record
// untouched. errMsg is recorded on the session for failure events and
// cleared otherwise.
func Apply(s *model.Session, ev EventKind, errMsg string) error {
	tr, ok := TransitionFor(s.State, ev)
	if !ok {
		return fmt.Errorf("%w: session %d in state %s cannot accept %s", ErrWrongState, s.ID, s.State, ev)
	}
	s.PendingRetry = resultingPendingRetry(tr, s.PendingRetry)
	s.State = tr.To
	s.ErrorMessage = errMsg
	s.UpdatedAtUnix = time.Now().Unix()
	return nil
}

// NewRecord builds a fresh verified session record for a submission.
func NewRecord(id int, childIDs []int, packagePaths []string, isRollback bool) *model.Session {
	now := time.Now().Unix()
	return &model.Session{
		ID:            id,
		State:         model.StateVerified,
		ChildIDs:      append([]int(nil), childIDs...),
		PackagePaths:  append([]string(nil), packagePaths...),
		IsRollback:    isRollback,
		CreatedAtUnix: now,
		UpdatedAtUnix: now,
	}
}
