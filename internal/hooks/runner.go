// SPDX-License-Identifier: MIT

// Package hooks executes pre/post-install programs for a batch of verified
// packages. This path never touches the active-package registry or the
// session store: a hook batch leaves system state exactly as it found it.
package hooks

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/rs/zerolog"

	"github.com/StagOS/android-system-apex/internal/apex"
	"github.com/StagOS/android-system-apex/internal/log"
)

// ErrHook marks a failed hook program. The whole batch is aborted; nothing
// is activated.
var ErrHook = errors.New("hook execution failed")

// Kind selects which hook program of a bundle runs.
type Kind string

const (
	Pre  Kind = "pre"
	Post Kind = "post"
)

// Runner unpacks each bundle into a throwaway scratch directory and runs
// its hook program there. The scratch tree is removed regardless of
// outcome.
type Runner struct {
	verifier apex.Verifier
	timeout  time.Duration
	logger   zerolog.Logger
}

// New builds a runner. timeout bounds each hook program individually; zero
// means no bound.
func New(verifier apex.Verifier, timeout time.Duration) *Runner {
	return &Runner{
		verifier: verifier,
		timeout:  timeout,
		logger:   log.WithComponent("hooks"),
	}
}

// Run executes the hook of the given kind for every package in order. The
// whole batch is verified before any hook program runs, so a verification
// failure anywhere leaves no partial execution behind. The first hook
// failure aborts the batch. A bundle that declares no hook of this kind
// passes trivially.
func (r *Runner) Run(ctx context.Context, kind Kind, paths []string) error {
	bundles := make([]*apex.Bundle, 0, len(paths))
	for _, path := range paths {
		b, err := r.verifier.OpenAndVerify(ctx, path)
		if err != nil {
			return err
		}
		bundles = append(bundles, b)
	}
	for _, b := range bundles {
		if err := r.runOne(ctx, kind, b); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) runOne(ctx context.Context, kind Kind, b *apex.Bundle) error {
	program := b.Manifest.PreInstallHook
	if kind == Post {
		program = b.Manifest.PostInstallHook
	}
	if program == "" {
		return nil
	}

	scratch, err := os.MkdirTemp("", "apexd-hook-*")
	if err != nil {
		return fmt.Errorf("%w: create scratch dir: %v", ErrHook, err)
	}
	defer func() { _ = os.RemoveAll(scratch) }()

	if err := b.Unpack(scratch); err != nil {
		return fmt.Errorf("%w: unpack %s: %v", ErrHook, b.Manifest.ID(), err)
	}

	runCtx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, "./"+program)
	cmd.Dir = scratch
	out, err := cmd.CombinedOutput()
	if err != nil {
		r.logger.Error().
			Err(err).
			Str(log.FieldEvent, "hook.failed").
			Str(log.FieldPackage, b.Manifest.Name).
			Str("kind", string(kind)).
			Str("program", program).
			Bytes("output", out).
			Msg("hook program failed")
		return fmt.Errorf("%w: %s hook of %s: %v", ErrHook, kind, b.Manifest.ID(), err)
	}
	r.logger.Debug().
		Str(log.FieldEvent, "hook.ok").
		Str(log.FieldPackage, b.Manifest.Name).
		Str("kind", string(kind)).
		Msg("hook program succeeded")
	return nil
}
