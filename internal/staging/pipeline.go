// SPDX-License-Identifier: MIT

// Package staging turns a submitted group of package files into a single
// durable verified session, or fails the whole group.
package staging

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/StagOS/android-system-apex/internal/apex"
	"github.com/StagOS/android-system-apex/internal/log"
	"github.com/StagOS/android-system-apex/internal/session/lifecycle"
	"github.com/StagOS/android-system-apex/internal/session/model"
	"github.com/StagOS/android-system-apex/internal/session/store"
)

// Pipeline validates submissions and persists the resulting session. It is
// a stateless transformer borrowing the session store for one operation at
// a time.
type Pipeline struct {
	store    store.Store
	verifier apex.Verifier
	logger   zerolog.Logger
}

// New builds a pipeline over the given store and verifier.
func New(st store.Store, verifier apex.Verifier) *Pipeline {
	return &Pipeline{
		store:    st,
		verifier: verifier,
		logger:   log.WithComponent("staging"),
	}
}

// Submit verifies every package, then creates (or overwrites) the session
// at sessionID in the verified state. If any package fails verification
// the whole submission fails and no session is touched. A non-empty
// childIDs marks a group submission: member packages map one-to-one
// positionally to child ids.
//
// Side effect on success: every other session still in a non-terminal
// pre-activation state is superseded and removed, so at most one
// verified-or-staged session goes into the next boot. Activated sessions
// survive; they represent in-flight activation.
func (p *Pipeline) Submit(ctx context.Context, sessionID int, childIDs []int, paths []string, isRollback bool) ([]apex.PackageInfo, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("%w: submission for session %d has no packages", apex.ErrVerification, sessionID)
	}
	if len(childIDs) > 0 && len(childIDs) != len(paths) {
		return nil, fmt.Errorf("%w: session %d: %d child ids for %d packages",
			lifecycle.ErrConflictingSession, sessionID, len(childIDs), len(paths))
	}

	infos, err := p.verifyAll(ctx, paths)
	if err != nil {
		return nil, err
	}

	if err := p.checkExisting(ctx, sessionID, childIDs); err != nil {
		return nil, err
	}

	rec := lifecycle.NewRecord(sessionID, childIDs, paths, isRollback)
	if err := p.store.Put(ctx, rec); err != nil {
		return nil, err
	}
	p.logger.Info().
		Str(log.FieldEvent, "session.verified").
		Int(log.FieldSessionID, sessionID).
		Ints("child_ids", childIDs).
		Int("packages", len(paths)).
		Msg("session submitted and verified")

	if err := p.sweepSuperseded(ctx, sessionID); err != nil {
		return nil, err
	}
	return infos, nil
}

// verifyAll verifies every path concurrently and returns infos in
// submission order.
func (p *Pipeline) verifyAll(ctx context.Context, paths []string) ([]apex.PackageInfo, error) {
	infos := make([]apex.PackageInfo, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	for i, path := range paths {
		g.Go(func() error {
			b, err := p.verifier.OpenAndVerify(gctx, path)
			if err != nil {
				return err
			}
			infos[i] = b.Info()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return infos, nil
}

// checkExisting enforces the overwrite policy: a same-id resubmission is an
// idempotent overwrite only while the session is still verified. Anything
// further along must not be silently replaced.
func (p *Pipeline) checkExisting(ctx context.Context, sessionID int, childIDs []int) error {
	existing, err := p.store.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if existing == nil {
		return nil
	}
	if existing.State != model.StateVerified {
		return fmt.Errorf("%w: session %d already exists in state %s",
			lifecycle.ErrConflictingSession, sessionID, existing.State)
	}
	if !equalIntSlices(existing.ChildIDs, childIDs) {
		return fmt.Errorf("%w: session %d resubmitted with different group membership",
			lifecycle.ErrConflictingSession, sessionID)
	}
	return nil
}

// sweepSuperseded removes every other verified or staged session. A new
// submission invalidates a stale unreadied install.
func (p *Pipeline) sweepSuperseded(ctx context.Context, keepID int) error {
	sessions, err := p.store.List(ctx)
	if err != nil {
		return err
	}
	for _, s := range sessions {
		if s.ID == keepID {
			continue
		}
		if s.State != model.StateVerified && s.State != model.StateStaged {
			continue
		}
		if err := p.store.Delete(ctx, s.ID); err != nil {
			return err
		}
		p.logger.Warn().
			Str(log.FieldEvent, "session.superseded").
			Int(log.FieldSessionID, s.ID).
			Str(log.FieldOldState, string(s.State)).
			Int("superseded_by", keepID).
			Msg("non-final session superseded by new submission")
	}
	return nil
}

func equalIntSlices(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
