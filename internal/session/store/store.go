// SPDX-License-Identifier: MIT

// Package store persists session records. Every mutation is committed to
// durable storage before it returns, so a crash immediately after any call
// leaves the system consistent with what was reported.
package store

import (
	"context"
	"errors"

	"github.com/StagOS/android-system-apex/internal/session/lifecycle"
	"github.com/StagOS/android-system-apex/internal/session/model"
)

// ErrStorage marks a failed durable write. It is always surfaced, never
// swallowed: a lost commit would break the crash-consistency guarantee.
var ErrStorage = errors.New("session storage failure")

// Store is the durable session table. Implementations serialize racing
// UpdateStateAndCommit calls on the same id; operations on different ids
// are independent.
type Store interface {
	// Put creates or overwrites the record durably. Overwrite policy is the
	// caller's concern (the staging pipeline enforces it).
	Put(ctx context.Context, s *model.Session) error

	// Get returns the record for id, or (nil, nil) when absent.
	Get(ctx context.Context, id int) (*model.Session, error)

	// List returns all records in no particular order.
	List(ctx context.Context) ([]*model.Session, error)

	// UpdateStateAndCommit applies ev to the record inside a single
	// transaction and commits before returning the updated copy. Illegal
	// transitions return lifecycle.ErrWrongState; a missing record returns
	// lifecycle.ErrUnknownSession. On ErrStorage the caller must re-read:
	// its in-memory copy is no longer authoritative.
	UpdateStateAndCommit(ctx context.Context, id int, ev lifecycle.EventKind, errMsg string) (*model.Session, error)

	// Delete removes the record for id; deleting a missing id is a no-op.
	Delete(ctx context.Context, id int) error

	Close() error
}
