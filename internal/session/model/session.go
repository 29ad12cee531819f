// SPDX-License-Identifier: MIT

package model

// Session is the durable record of one install attempt. The store owns its
// persistence; every state change is committed before it becomes visible to
// a caller.
type Session struct {
	ID    int   `json:"id"`
	State State `json:"state"`

	// PendingRetry distinguishes a recoverable activation failure from a
	// terminal one. Only meaningful while State is StateStaged.
	PendingRetry bool `json:"pendingRetry,omitempty"`

	// ChildIDs records member sessions when this session represents a
	// group; empty for a standalone session. Order is significant: member
	// packages map one-to-one positionally.
	ChildIDs []int `json:"childIds,omitempty"`

	// PackagePaths are the staged file locations this session owns, one per
	// member package.
	PackagePaths []string `json:"packagePaths,omitempty"`

	// IsRollback marks a reversion to a previously active version. The
	// activation engine relaxes its downgrade check for rollback sessions.
	IsRollback bool `json:"isRollback,omitempty"`

	// ErrorMessage is set only in failure states.
	ErrorMessage string `json:"errorMessage,omitempty"`

	CreatedAtUnix int64 `json:"createdAtUnix"`
	UpdatedAtUnix int64 `json:"updatedAtUnix"`
}

// Clone returns a deep copy so store callers can never alias the stored
// record.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	out.ChildIDs = append([]int(nil), s.ChildIDs...)
	out.PackagePaths = append([]string(nil), s.PackagePaths...)
	return &out
}
