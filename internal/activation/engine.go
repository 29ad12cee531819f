// SPDX-License-Identifier: MIT

// Package activation flips which version of a package is live. A group
// activates as one atomic unit: every member or none.
package activation

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/StagOS/android-system-apex/internal/apex"
	"github.com/StagOS/android-system-apex/internal/log"
	"github.com/StagOS/android-system-apex/internal/registry"
	"github.com/StagOS/android-system-apex/internal/session/lifecycle"
	"github.com/StagOS/android-system-apex/internal/session/model"
	"github.com/StagOS/android-system-apex/internal/session/store"
)

// ErrActivation marks a mount or registry-swap failure. The group is
// always rolled back before this error surfaces: partial activation is a
// bug, not a degraded state.
var ErrActivation = errors.New("activation failed")

// Engine performs session activation against the registry. It is a
// stateless transformer borrowing both stores per operation.
type Engine struct {
	store       store.Store
	reg         *registry.Registry
	verifier    apex.Verifier
	mounter     Mounter
	classify    Classifier
	packagesDir string
	logger      zerolog.Logger
}

// New builds an engine. packagesDir holds the staged package artifacts
// whose superseded versions the engine cleans up after an upgrade.
func New(st store.Store, reg *registry.Registry, verifier apex.Verifier, mounter Mounter, classify Classifier, packagesDir string) *Engine {
	if classify == nil {
		classify = DefaultClassifier
	}
	return &Engine{
		store:       st,
		reg:         reg,
		verifier:    verifier,
		mounter:     mounter,
		classify:    classify,
		packagesDir: packagesDir,
		logger:      log.WithComponent("activation"),
	}
}

// ActivateSession activates every package of the staged session as one
// unit, then commits the session state: ACTIVATED on success, back to
// STAGED with the pending-retry flag on a recoverable failure, or
// ACTIVATION_FAILED on a fatal one.
func (e *Engine) ActivateSession(ctx context.Context, id int) ([]apex.PackageInfo, error) {
	rec, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("%w: session %d", lifecycle.ErrUnknownSession, id)
	}
	if rec.State != model.StateStaged {
		return nil, fmt.Errorf("%w: session %d is %s, want %s", lifecycle.ErrWrongState, id, rec.State, model.StateStaged)
	}

	infos, actErr := e.activateGroup(ctx, rec.PackagePaths, rec.IsRollback)
	switch e.classify(actErr) {
	case OutcomeSuccess:
		if _, err := e.store.UpdateStateAndCommit(ctx, id, lifecycle.EvActivationOK, ""); err != nil {
			return nil, err
		}
		e.logger.Info().
			Str(log.FieldEvent, "session.activated").
			Int(log.FieldSessionID, id).
			Int("packages", len(infos)).
			Msg("session activated")
		return infos, nil
	case OutcomeRetryable:
		if _, err := e.store.UpdateStateAndCommit(ctx, id, lifecycle.EvActivationRetry, actErr.Error()); err != nil {
			return nil, err
		}
		e.logger.Warn().
			Err(actErr).
			Str(log.FieldEvent, "session.activation_retry").
			Int(log.FieldSessionID, id).
			Msg("activation failed, session staged for retry")
		return nil, actErr
	default:
		if _, err := e.store.UpdateStateAndCommit(ctx, id, lifecycle.EvActivationFatal, actErr.Error()); err != nil {
			return nil, err
		}
		e.logger.Error().
			Err(actErr).
			Str(log.FieldEvent, "session.activation_failed").
			Int(log.FieldSessionID, id).
			Msg("activation failed fatally")
		return nil, actErr
	}
}

// ActivatePath activates a single package file outside any session.
func (e *Engine) ActivatePath(ctx context.Context, path string) (*apex.PackageInfo, error) {
	infos, err := e.activateGroup(ctx, []string{path}, false)
	if err != nil {
		return nil, err
	}
	return &infos[0], nil
}

// DeactivatePath removes the active entry for the package at path and
// tears down its content.
func (e *Engine) DeactivatePath(ctx context.Context, path string) error {
	b, err := e.verifier.OpenAndVerify(ctx, path)
	if err != nil {
		return err
	}
	prev, err := e.reg.Remove(ctx, b.Manifest.Name)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrActivation, err)
	}
	if prev == nil {
		return nil
	}
	if err := e.mounter.Unmount(ctx, prev.MountPath); err != nil {
		return fmt.Errorf("%w: %v", ErrActivation, err)
	}
	e.logger.Info().
		Str(log.FieldEvent, "package.deactivated").
		Str(log.FieldPackage, prev.Name).
		Int64(log.FieldVersion, prev.Version).
		Msg("package deactivated")
	return nil
}

type swapRec struct {
	entry registry.Entry
	prev  *registry.Entry
}

// activateGroup mounts and swaps every package, all or nothing. Phase one
// mounts all content; phase two flips registry entries. Any failure
// unwinds both phases. Cleanup of displaced versions happens only after
// the whole group committed, so the unwind can always restore them.
func (e *Engine) activateGroup(ctx context.Context, paths []string, isRollback bool) ([]apex.PackageInfo, error) {
	var (
		mounted []string
		swaps   []swapRec
	)
	undo := func() {
		for i := len(swaps) - 1; i >= 0; i-- {
			s := swaps[i]
			if s.prev != nil {
				_, _ = e.reg.Swap(ctx, *s.prev)
			} else {
				_, _ = e.reg.Remove(ctx, s.entry.Name)
			}
		}
		for i := len(mounted) - 1; i >= 0; i-- {
			_ = e.mounter.Unmount(ctx, mounted[i])
		}
	}

	bundles := make([]*apex.Bundle, len(paths))
	for i, path := range paths {
		b, err := e.verifier.OpenAndVerify(ctx, path)
		if err != nil {
			return nil, err
		}
		bundles[i] = b
	}

	// Phase one: mount. A version directory that already exists belongs to
	// the currently active entry and is reused as-is.
	for _, b := range bundles {
		m := b.Manifest
		if prev, ok := e.reg.Get(m.Name); ok && prev.Version > m.Version && !isRollback {
			undo()
			return nil, fmt.Errorf("%w: %s downgrades active version %d to %d without rollback",
				ErrActivation, m.Name, prev.Version, m.Version)
		}
		target := e.reg.VersionedPath(m.Name, m.Version)
		if _, err := os.Stat(target); os.IsNotExist(err) {
			if err := e.mounter.Mount(ctx, b, target); err != nil {
				undo()
				return nil, fmt.Errorf("%w: %v", ErrActivation, err)
			}
			mounted = append(mounted, target)
		} else if err != nil {
			undo()
			return nil, fmt.Errorf("%w: stat %s: %v", ErrActivation, target, err)
		}
	}

	// Phase two: swap registry entries.
	for _, b := range bundles {
		m := b.Manifest
		entry := registry.Entry{
			Name:      m.Name,
			Version:   m.Version,
			MountPath: e.reg.VersionedPath(m.Name, m.Version),
		}
		_, hadEntry := e.reg.Get(entry.Name)
		prev, err := e.reg.Swap(ctx, entry)
		if err != nil {
			undo()
			return nil, fmt.Errorf("%w: swap %s: %v", ErrActivation, entry.ID(), err)
		}
		switch {
		case prev != nil:
			swaps = append(swaps, swapRec{entry: entry, prev: prev})
		case !hadEntry:
			swaps = append(swaps, swapRec{entry: entry})
		default:
			// Same version already active: idempotent no-op, nothing to
			// unwind or clean up.
		}
	}

	// Group committed: tear down displaced versions.
	for _, s := range swaps {
		if s.prev == nil || s.prev.Version == s.entry.Version {
			continue
		}
		if err := e.mounter.Unmount(ctx, s.prev.MountPath); err != nil {
			e.logger.Warn().Err(err).
				Str(log.FieldPackage, s.prev.Name).
				Msg("cleanup of displaced version failed")
		}
		e.removeArtifact(s.prev.Name, s.prev.Version)
	}

	infos := make([]apex.PackageInfo, len(bundles))
	for i, b := range bundles {
		infos[i] = b.Info()
	}
	return infos, nil
}

// removeArtifact deletes the staged package file for a displaced version.
func (e *Engine) removeArtifact(name string, version int64) {
	if e.packagesDir == "" {
		return
	}
	artifact := filepath.Join(e.packagesDir, fmt.Sprintf("%s@%d.apex", name, version))
	if err := os.Remove(artifact); err != nil && !os.IsNotExist(err) {
		e.logger.Warn().Err(err).
			Str(log.FieldPath, artifact).
			Msg("removal of displaced artifact failed")
	}
}
