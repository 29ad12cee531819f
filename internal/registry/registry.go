// SPDX-License-Identifier: MIT

// Package registry owns the active-package-set: the authoritative mapping
// from package name to its currently live version, mirrored on disk as one
// directory per name@version plus one alias entry per name.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/StagOS/android-system-apex/internal/log"
	platformfs "github.com/StagOS/android-system-apex/internal/platform/fs"
)

const stateFileName = ".active.json"

// Entry is one row of the active-package-set.
type Entry struct {
	Name      string `json:"name"`
	Version   int64  `json:"version"`
	MountPath string `json:"mountPath"`
}

// ID returns the canonical name@version identifier.
func (e Entry) ID() string {
	return fmt.Sprintf("%s@%d", e.Name, e.Version)
}

// Registry maintains the in-memory map and its on-disk mirror. Swaps for
// the same name are mutually exclusive; different names proceed
// concurrently.
type Registry struct {
	root   string
	logger zerolog.Logger

	mu      sync.Mutex
	locks   map[string]*sync.Mutex
	entries map[string]Entry
}

// New prepares a registry rooted at dir. Call Restore to rebuild state
// from disk after a restart.
func New(root string) (*Registry, error) {
	if err := platformfs.MkdirAll(root); err != nil {
		return nil, fmt.Errorf("create apex root %s: %w", root, err)
	}
	return &Registry{
		root:    root,
		logger:  log.WithComponent("registry"),
		locks:   make(map[string]*sync.Mutex),
		entries: make(map[string]Entry),
	}, nil
}

// Root returns the directory holding mounted package content and aliases.
func (r *Registry) Root() string { return r.root }

// VersionedPath returns the mount target for name@version under the root.
func (r *Registry) VersionedPath(name string, version int64) string {
	return filepath.Join(r.root, fmt.Sprintf("%s@%d", name, version))
}

// AliasPath returns the name-scoped alias that resolves to the active
// version's content.
func (r *Registry) AliasPath(name string) string {
	return filepath.Join(r.root, name)
}

// LockName serializes operations on a single package name. The returned
// function releases the lock.
func (r *Registry) LockName(name string) func() {
	r.mu.Lock()
	l, ok := r.locks[name]
	if !ok {
		l = &sync.Mutex{}
		r.locks[name] = l
	}
	r.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// Swap atomically installs e as the active entry for its name and returns
// the displaced entry, if any. The caller holds the artifact cleanup
// responsibility for the displaced entry; the alias flips before Swap
// returns, so readers always resolve to the new version. Swapping in an
// entry identical to the current one is a no-op.
func (r *Registry) Swap(ctx context.Context, e Entry) (*Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	unlock := r.LockName(e.Name)
	defer unlock()

	r.mu.Lock()
	prev, had := r.entries[e.Name]
	r.mu.Unlock()

	if had && prev.Version == e.Version {
		return nil, nil
	}

	if err := platformfs.ReplaceSymlink(filepath.Base(e.MountPath), r.AliasPath(e.Name)); err != nil {
		return nil, fmt.Errorf("flip alias for %s: %w", e.Name, err)
	}

	r.mu.Lock()
	r.entries[e.Name] = e
	r.mu.Unlock()

	if err := r.persist(); err != nil {
		return nil, err
	}

	r.logger.Info().
		Str(log.FieldEvent, "registry.swap").
		Str(log.FieldPackage, e.Name).
		Int64(log.FieldVersion, e.Version).
		Str(log.FieldMountPath, e.MountPath).
		Msg("active package swapped")

	if !had {
		return nil, nil
	}
	return &prev, nil
}

// Remove drops the entry for name, removes its alias, and returns the
// removed entry for cleanup by the caller. Removing an absent name is a
// no-op.
func (r *Registry) Remove(ctx context.Context, name string) (*Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	unlock := r.LockName(name)
	defer unlock()

	r.mu.Lock()
	prev, had := r.entries[name]
	delete(r.entries, name)
	r.mu.Unlock()

	if !had {
		return nil, nil
	}

	if err := os.Remove(r.AliasPath(name)); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("remove alias for %s: %w", name, err)
	}
	if err := r.persist(); err != nil {
		return nil, err
	}

	r.logger.Info().
		Str(log.FieldEvent, "registry.remove").
		Str(log.FieldPackage, name).
		Msg("active package removed")
	return &prev, nil
}

// IsActive reports whether name has an active entry.
func (r *Registry) IsActive(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[name]
	return ok
}

// Get returns the active entry for name.
func (r *Registry) Get(name string) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[name]
	return e, ok
}

// List returns all active entries sorted by name.
func (r *Registry) List() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Restore rebuilds the in-memory map from the on-disk tree. The directory
// tree is the source of truth; aliases are recreated if missing and the
// last persisted snapshot breaks ties when the alias cannot. Restore makes
// a crash between mutation and restart recoverable.
func (r *Registry) Restore(ctx context.Context) error {
	entries, err := os.ReadDir(r.root)
	if err != nil {
		return fmt.Errorf("scan apex root %s: %w", r.root, err)
	}
	snapshot := r.loadSnapshot()

	found := make(map[string]Entry)
	for _, de := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !de.IsDir() {
			continue
		}
		name, version, ok := parseVersionedName(de.Name())
		if !ok {
			continue
		}
		e := Entry{Name: name, Version: version, MountPath: filepath.Join(r.root, de.Name())}
		if existing, dup := found[name]; dup {
			// Two versions on disk for one name: a crash mid-swap. The
			// alias decides which one survives.
			winner, err := r.resolveCrashDuplicate(name, existing, e, snapshot)
			if err != nil {
				return err
			}
			loser := existing
			if loser.MountPath == winner.MountPath {
				loser = e
			}
			if err := os.RemoveAll(loser.MountPath); err != nil {
				r.logger.Warn().Err(err).
					Str(log.FieldPackage, name).
					Str(log.FieldMountPath, loser.MountPath).
					Msg("cleanup of crash-duplicate version failed")
			}
			e = winner
		}
		found[name] = e
	}

	for name, e := range found {
		if err := platformfs.ReplaceSymlink(filepath.Base(e.MountPath), r.AliasPath(name)); err != nil {
			return fmt.Errorf("restore alias for %s: %w", name, err)
		}
	}

	r.mu.Lock()
	r.entries = found
	r.mu.Unlock()

	if err := r.persist(); err != nil {
		return err
	}
	r.logger.Info().
		Str(log.FieldEvent, "registry.restored").
		Int("packages", len(found)).
		Msg("active package set restored from disk")
	return nil
}

// resolveCrashDuplicate picks the entry the alias points at, then the one
// the last persisted snapshot recorded, falling back to the higher version.
func (r *Registry) resolveCrashDuplicate(name string, a, b Entry, snapshot map[string]Entry) (Entry, error) {
	target, err := os.Readlink(r.AliasPath(name))
	if err == nil {
		if target == filepath.Base(a.MountPath) {
			return a, nil
		}
		if target == filepath.Base(b.MountPath) {
			return b, nil
		}
	}
	if want, ok := snapshot[name]; ok {
		if want.Version == a.Version {
			return a, nil
		}
		if want.Version == b.Version {
			return b, nil
		}
	}
	if a.Version > b.Version {
		return a, nil
	}
	return b, nil
}

// loadSnapshot reads the last persisted active-set state. A missing or
// unreadable snapshot yields nil; the directory tree stays the source of
// truth.
func (r *Registry) loadSnapshot() map[string]Entry {
	raw, err := os.ReadFile(filepath.Join(r.root, stateFileName))
	if err != nil {
		return nil
	}
	var list []Entry
	if err := json.Unmarshal(raw, &list); err != nil {
		r.logger.Warn().Err(err).Msg("registry snapshot unreadable, ignoring")
		return nil
	}
	out := make(map[string]Entry, len(list))
	for _, e := range list {
		out[e.Name] = e
	}
	return out
}

func (r *Registry) persist() error {
	r.mu.Lock()
	list := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		list = append(list, e)
	}
	r.mu.Unlock()
	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })

	raw, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return fmt.Errorf("encode registry state: %w", err)
	}
	if err := platformfs.AtomicWriteFile(filepath.Join(r.root, stateFileName), raw, 0o644); err != nil {
		return fmt.Errorf("persist registry state: %w", err)
	}
	return nil
}

func parseVersionedName(dir string) (string, int64, bool) {
	idx := strings.LastIndex(dir, "@")
	if idx <= 0 || idx == len(dir)-1 {
		return "", 0, false
	}
	version, err := strconv.ParseInt(dir[idx+1:], 10, 64)
	if err != nil {
		return "", 0, false
	}
	return dir[:idx], version, true
}
