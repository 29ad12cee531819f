// SPDX-License-Identifier: MIT

// Package server is the daemon's service facade: the operations clients
// invoke, wired over the session store, the registry, and the pipelines.
package server

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/rs/zerolog"

	"github.com/StagOS/android-system-apex/internal/activation"
	"github.com/StagOS/android-system-apex/internal/apex"
	"github.com/StagOS/android-system-apex/internal/hooks"
	"github.com/StagOS/android-system-apex/internal/log"
	platformfs "github.com/StagOS/android-system-apex/internal/platform/fs"
	"github.com/StagOS/android-system-apex/internal/registry"
	"github.com/StagOS/android-system-apex/internal/session/lifecycle"
	"github.com/StagOS/android-system-apex/internal/session/model"
	"github.com/StagOS/android-system-apex/internal/session/store"
	"github.com/StagOS/android-system-apex/internal/staging"
)

// Service implements the client-facing operations. All mutating
// operations are synchronous: when they return, the state they report is
// already durable.
type Service struct {
	store       store.Store
	reg         *registry.Registry
	pipeline    *staging.Pipeline
	engine      *activation.Engine
	hooks       *hooks.Runner
	verifier    apex.Verifier
	packagesDir string
	logger      zerolog.Logger
}

// Options wires the service's collaborators.
type Options struct {
	Store       store.Store
	Registry    *registry.Registry
	Verifier    apex.Verifier
	Mounter     activation.Mounter
	Classifier  activation.Classifier
	Hooks       *hooks.Runner
	PackagesDir string
}

// New builds the service facade.
func New(opts Options) (*Service, error) {
	if err := platformfs.MkdirAll(opts.PackagesDir); err != nil {
		return nil, fmt.Errorf("create packages dir: %w", err)
	}
	return &Service{
		store:       opts.Store,
		reg:         opts.Registry,
		pipeline:    staging.New(opts.Store, opts.Verifier),
		engine:      activation.New(opts.Store, opts.Registry, opts.Verifier, opts.Mounter, opts.Classifier, opts.PackagesDir),
		hooks:       opts.Hooks,
		verifier:    opts.Verifier,
		packagesDir: opts.PackagesDir,
		logger:      log.WithComponent("server"),
	}, nil
}

// StagePackage verifies and copies a single package into the staged
// artifact directory without session bookkeeping.
func (s *Service) StagePackage(ctx context.Context, path string) error {
	return s.StagePackages(ctx, []string{path})
}

// StagePackages verifies and copies packages into the staged artifact
// directory. Any verification failure fails the whole call before any
// copy. Re-staging an already staged package is success with no duplicate
// artifact; staging a different version of an already staged name replaces
// the old artifact.
func (s *Service) StagePackages(ctx context.Context, paths []string) error {
	bundles := make([]*apex.Bundle, 0, len(paths))
	for _, path := range paths {
		b, err := s.verifier.OpenAndVerify(ctx, path)
		if err != nil {
			recordVerificationFailure()
			return err
		}
		bundles = append(bundles, b)
	}
	for _, b := range bundles {
		if err := s.removeStagedSiblings(b.Manifest); err != nil {
			return err
		}
		dst := filepath.Join(s.packagesDir, b.Manifest.ID()+".apex")
		if _, err := os.Stat(dst); err == nil {
			continue
		} else if !os.IsNotExist(err) {
			return fmt.Errorf("%w: stat %s: %v", store.ErrStorage, dst, err)
		}
		if err := platformfs.AtomicCopyFile(b.Path, dst); err != nil {
			return fmt.Errorf("%w: stage %s: %v", store.ErrStorage, b.Manifest.ID(), err)
		}
		s.logger.Info().
			Str(log.FieldEvent, "package.staged").
			Str(log.FieldPackage, b.Manifest.Name).
			Int64(log.FieldVersion, b.Manifest.Version).
			Str(log.FieldPath, dst).
			Msg("package staged")
	}
	return nil
}

// removeStagedSiblings deletes staged artifacts for the same package name
// at any other version. At most one staged file per name exists at a time;
// artifacts of other names are untouched.
func (s *Service) removeStagedSiblings(m apex.Manifest) error {
	matches, err := filepath.Glob(filepath.Join(s.packagesDir, m.Name+"@*.apex"))
	if err != nil {
		return fmt.Errorf("%w: scan staged artifacts for %s: %v", store.ErrStorage, m.Name, err)
	}
	keep := m.ID() + ".apex"
	for _, match := range matches {
		if filepath.Base(match) == keep {
			continue
		}
		if err := os.Remove(match); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("%w: remove superseded artifact %s: %v", store.ErrStorage, match, err)
		}
		s.logger.Info().
			Str(log.FieldEvent, "package.unstaged").
			Str(log.FieldPackage, m.Name).
			Str(log.FieldPath, match).
			Msg("superseded staged artifact removed")
	}
	return nil
}

// SubmitStagedSession verifies the group and persists a verified session.
func (s *Service) SubmitStagedSession(ctx context.Context, sessionID int, childIDs []int, paths []string, isRollback bool) ([]apex.PackageInfo, error) {
	ctx = log.ContextWithSessionID(ctx, sessionID)
	infos, err := s.pipeline.Submit(ctx, sessionID, childIDs, paths, isRollback)
	if err != nil {
		if errors.Is(err, apex.ErrVerification) {
			recordVerificationFailure()
		}
		return nil, err
	}
	recordSessionTransition(model.StateVerified)
	return infos, nil
}

// MarkStagedSessionReady advances a verified session to staged.
// Idempotent once staged.
func (s *Service) MarkStagedSessionReady(ctx context.Context, sessionID int) error {
	rec, err := s.store.UpdateStateAndCommit(ctx, sessionID, lifecycle.EvMarkReady, "")
	if err != nil {
		return err
	}
	recordSessionTransition(rec.State)
	return nil
}

// MarkStagedSessionSuccessful finalizes an activated session. Idempotent
// once successful; any other state is an error and no transition happens.
func (s *Service) MarkStagedSessionSuccessful(ctx context.Context, sessionID int) error {
	rec, err := s.store.UpdateStateAndCommit(ctx, sessionID, lifecycle.EvMarkSuccessful, "")
	if err != nil {
		return err
	}
	recordSessionTransition(rec.State)
	return nil
}

// ActivateStagedSession runs the activation engine for a staged session.
func (s *Service) ActivateStagedSession(ctx context.Context, sessionID int) ([]apex.PackageInfo, error) {
	ctx = log.ContextWithSessionID(ctx, sessionID)
	infos, err := s.engine.ActivateSession(ctx, sessionID)
	recordActivation(err)
	return infos, err
}

// GetStagedSessionInfo reports the session's public projection. It never
// errors: an unknown id yields the synthetic unknown record, and so does a
// storage failure after logging it.
func (s *Service) GetStagedSessionInfo(ctx context.Context, sessionID int) model.SessionInfo {
	rec, err := s.store.Get(ctx, sessionID)
	if err != nil {
		s.logger.Warn().Err(err).
			Int(log.FieldSessionID, sessionID).
			Msg("session info read failed, reporting unknown")
		return model.UnknownSessionInfo()
	}
	return model.InfoOf(rec)
}

// GetSessions lists all session projections sorted by id.
func (s *Service) GetSessions(ctx context.Context) ([]model.SessionInfo, error) {
	sessions, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}
	infos := make([]model.SessionInfo, 0, len(sessions))
	for _, rec := range sessions {
		infos = append(infos, model.InfoOf(rec))
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].SessionID < infos[j].SessionID })
	return infos, nil
}

// ActivatePackage activates a single package file immediately.
func (s *Service) ActivatePackage(ctx context.Context, path string) (*apex.PackageInfo, error) {
	info, err := s.engine.ActivatePath(ctx, path)
	recordActivation(err)
	return info, err
}

// DeactivatePackage removes the active entry for the package at path.
func (s *Service) DeactivatePackage(ctx context.Context, path string) error {
	return s.engine.DeactivatePath(ctx, path)
}

// GetActivePackages lists the active set.
func (s *Service) GetActivePackages(ctx context.Context) []apex.PackageInfo {
	entries := s.reg.List()
	infos := make([]apex.PackageInfo, 0, len(entries))
	for _, e := range entries {
		infos = append(infos, apex.PackageInfo{Name: e.Name, Version: e.Version, SourcePath: e.MountPath})
	}
	return infos
}

// GetActivePackage returns the active entry for name.
func (s *Service) GetActivePackage(ctx context.Context, name string) (*apex.PackageInfo, bool) {
	e, ok := s.reg.Get(name)
	if !ok {
		return nil, false
	}
	return &apex.PackageInfo{Name: e.Name, Version: e.Version, SourcePath: e.MountPath}, true
}

// PreinstallPackages runs the pre-install hook batch. Nothing becomes
// active regardless of outcome.
func (s *Service) PreinstallPackages(ctx context.Context, paths []string) error {
	return s.hooks.Run(ctx, hooks.Pre, paths)
}

// PostinstallPackages runs the post-install hook batch.
func (s *Service) PostinstallPackages(ctx context.Context, paths []string) error {
	return s.hooks.Run(ctx, hooks.Post, paths)
}
