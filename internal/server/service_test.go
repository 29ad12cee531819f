// SPDX-License-Identifier: MIT

package server

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/StagOS/android-system-apex/internal/activation"
	"github.com/StagOS/android-system-apex/internal/apex"
	"github.com/StagOS/android-system-apex/internal/apex/apextest"
	"github.com/StagOS/android-system-apex/internal/hooks"
	"github.com/StagOS/android-system-apex/internal/registry"
	"github.com/StagOS/android-system-apex/internal/session/lifecycle"
	"github.com/StagOS/android-system-apex/internal/session/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newService(t *testing.T) (*Service, *registry.Registry, store.Store) {
	t.Helper()
	st := store.NewMemoryStore()
	t.Cleanup(func() { _ = st.Close() })

	reg, err := registry.New(t.TempDir())
	require.NoError(t, err)

	svc, err := New(Options{
		Store:       st,
		Registry:    reg,
		Verifier:    apex.FileVerifier{},
		Mounter:     activation.DirMounter{},
		Classifier:  activation.DefaultClassifier,
		Hooks:       hooks.New(apex.FileVerifier{}, 10*time.Second),
		PackagesDir: t.TempDir(),
	})
	require.NoError(t, err)
	return svc, reg, st
}

// TestSessionLifecycle drives one session through its whole life and
// checks the reported projection at every step.
func TestSessionLifecycle(t *testing.T) {
	ctx := context.Background()
	svc, reg, _ := newService(t)
	dir := t.TempDir()
	path := apextest.Write(t, dir, apextest.Bundle{Name: "com.os.media", Version: 1})

	infos, err := svc.SubmitStagedSession(ctx, 239, nil, []string{path}, false)
	require.NoError(t, err)
	require.Len(t, infos, 1)
	require.True(t, svc.GetStagedSessionInfo(ctx, 239).IsVerified)

	require.NoError(t, svc.MarkStagedSessionReady(ctx, 239))
	require.True(t, svc.GetStagedSessionInfo(ctx, 239).IsStaged)

	// markSuccessful before activation must fail and change nothing.
	err = svc.MarkStagedSessionSuccessful(ctx, 239)
	require.ErrorIs(t, err, lifecycle.ErrWrongState)
	require.True(t, svc.GetStagedSessionInfo(ctx, 239).IsStaged)

	_, err = svc.ActivateStagedSession(ctx, 239)
	require.NoError(t, err)
	require.True(t, svc.GetStagedSessionInfo(ctx, 239).IsActivated)
	require.True(t, reg.IsActive("com.os.media"))

	require.NoError(t, svc.MarkStagedSessionSuccessful(ctx, 239))
	require.True(t, svc.GetStagedSessionInfo(ctx, 239).IsSuccess)

	// Finalization is idempotent.
	require.NoError(t, svc.MarkStagedSessionSuccessful(ctx, 239))
	require.True(t, svc.GetStagedSessionInfo(ctx, 239).IsSuccess)
}

func TestGetStagedSessionInfo_UnknownId(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newService(t)

	info := svc.GetStagedSessionInfo(ctx, 12345)
	require.Equal(t, -1, info.SessionID)
	require.True(t, info.IsUnknown)
	require.False(t, info.IsVerified)
}

func TestMarkReady_Idempotent(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newService(t)
	dir := t.TempDir()
	path := apextest.Write(t, dir, apextest.Bundle{Name: "com.os.media", Version: 1})

	_, err := svc.SubmitStagedSession(ctx, 1, nil, []string{path}, false)
	require.NoError(t, err)
	require.NoError(t, svc.MarkStagedSessionReady(ctx, 1))
	require.NoError(t, svc.MarkStagedSessionReady(ctx, 1))
	require.True(t, svc.GetStagedSessionInfo(ctx, 1).IsStaged)
}

func TestGroupSession_ParentAndChildren(t *testing.T) {
	ctx := context.Background()
	svc, reg, st := newService(t)
	dir := t.TempDir()
	a := apextest.Write(t, dir, apextest.Bundle{Name: "com.os.media", Version: 1})
	b := apextest.Write(t, dir, apextest.Bundle{Name: "com.os.net", Version: 1})

	infos, err := svc.SubmitStagedSession(ctx, 10, []int{20, 30}, []string{a, b}, false)
	require.NoError(t, err)
	require.Len(t, infos, 2)

	rec, err := st.Get(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, []int{20, 30}, rec.ChildIDs)

	require.NoError(t, svc.MarkStagedSessionReady(ctx, 10))
	_, err = svc.ActivateStagedSession(ctx, 10)
	require.NoError(t, err)

	require.True(t, reg.IsActive("com.os.media"))
	require.True(t, reg.IsActive("com.os.net"))
}

func TestSubmit_SupersedesPriorSubmission(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newService(t)
	dir := t.TempDir()
	first := apextest.Write(t, dir, apextest.Bundle{Name: "com.os.media", Version: 1})
	second := apextest.Write(t, dir, apextest.Bundle{Name: "com.os.net", Version: 1})

	_, err := svc.SubmitStagedSession(ctx, 1, nil, []string{first}, false)
	require.NoError(t, err)
	_, err = svc.SubmitStagedSession(ctx, 2, nil, []string{second}, false)
	require.NoError(t, err)

	require.True(t, svc.GetStagedSessionInfo(ctx, 1).IsUnknown)
	require.True(t, svc.GetStagedSessionInfo(ctx, 2).IsVerified)
}

func TestStagePackages(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newService(t)
	dir := t.TempDir()
	path := apextest.Write(t, dir, apextest.Bundle{Name: "com.os.media", Version: 1})

	require.NoError(t, svc.StagePackage(ctx, path))
	artifact := filepath.Join(svc.packagesDir, "com.os.media@1.apex")
	_, err := os.Stat(artifact)
	require.NoError(t, err)

	// Re-staging is success with no duplicate.
	require.NoError(t, svc.StagePackage(ctx, path))
}

func TestStagePackages_ReplacesPreviouslyStagedVersion(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newService(t)
	dir := t.TempDir()
	mediaV2 := apextest.Write(t, dir, apextest.Bundle{Name: "com.os.media", Version: 2})
	netV1 := apextest.Write(t, dir, apextest.Bundle{Name: "com.os.net", Version: 1})
	mediaV1 := apextest.Write(t, dir, apextest.Bundle{Name: "com.os.media", Version: 1})

	require.NoError(t, svc.StagePackage(ctx, mediaV2))
	require.NoError(t, svc.StagePackage(ctx, netV1))
	require.NoError(t, svc.StagePackage(ctx, mediaV1))

	// The older media artifact is displaced; the other name is untouched.
	_, err := os.Stat(filepath.Join(svc.packagesDir, "com.os.media@2.apex"))
	require.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(svc.packagesDir, "com.os.media@1.apex"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(svc.packagesDir, "com.os.net@1.apex"))
	require.NoError(t, err)
}

func TestStagePackages_BadPackageFailsWholeCall(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newService(t)
	dir := t.TempDir()
	good := apextest.Write(t, dir, apextest.Bundle{Name: "com.os.media", Version: 1})
	bad := apextest.WriteCorrupt(t, dir, "bad.apex")

	err := svc.StagePackages(ctx, []string{good, bad})
	require.ErrorIs(t, err, apex.ErrVerification)

	// The good package was not copied either.
	_, statErr := os.Stat(filepath.Join(svc.packagesDir, "com.os.media@1.apex"))
	require.True(t, os.IsNotExist(statErr))
}

func TestActivateAndQueryPackages(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newService(t)
	dir := t.TempDir()
	path := apextest.Write(t, dir, apextest.Bundle{Name: "com.os.tz", Version: 4})

	info, err := svc.ActivatePackage(ctx, path)
	require.NoError(t, err)
	require.Equal(t, "com.os.tz", info.Name)

	all := svc.GetActivePackages(ctx)
	require.Len(t, all, 1)
	require.Equal(t, int64(4), all[0].Version)

	got, ok := svc.GetActivePackage(ctx, "com.os.tz")
	require.True(t, ok)
	require.Equal(t, int64(4), got.Version)

	_, ok = svc.GetActivePackage(ctx, "com.os.other")
	require.False(t, ok)

	require.NoError(t, svc.DeactivatePackage(ctx, path))
	require.Empty(t, svc.GetActivePackages(ctx))
}

func TestGetSessions_SortedById(t *testing.T) {
	ctx := context.Background()
	svc, _, st := newService(t)
	dir := t.TempDir()
	path := apextest.Write(t, dir, apextest.Bundle{Name: "com.os.media", Version: 1})

	// Seed out of order, bypassing the supersede sweep.
	for _, id := range []int{30, 10, 20} {
		require.NoError(t, st.Put(ctx, lifecycle.NewRecord(id, nil, []string{path}, false)))
	}
	infos, err := svc.GetSessions(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 3)
	require.Equal(t, 10, infos[0].SessionID)
	require.Equal(t, 20, infos[1].SessionID)
	require.Equal(t, 30, infos[2].SessionID)
}

func TestHookBatches_DoNotTouchState(t *testing.T) {
	ctx := context.Background()
	svc, reg, st := newService(t)
	dir := t.TempDir()
	path := apextest.Write(t, dir, apextest.Bundle{
		Name: "com.os.media", Version: 1,
		PreInstallHook:  "bin/pre",
		PostInstallHook: "bin/post",
		Hooks: map[string]string{
			"bin/pre":  "#!/bin/sh\nexit 0\n",
			"bin/post": "#!/bin/sh\nexit 0\n",
		},
	})

	require.NoError(t, svc.PreinstallPackages(ctx, []string{path}))
	require.NoError(t, svc.PostinstallPackages(ctx, []string{path}))

	require.Empty(t, reg.List())
	sessions, err := st.List(ctx)
	require.NoError(t, err)
	require.Empty(t, sessions)
}
