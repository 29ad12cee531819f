// SPDX-License-Identifier: MIT

package store

import (
	"fmt"
	"path/filepath"

	platformfs "github.com/StagOS/android-system-apex/internal/platform/fs"
)

// Options selects and locates the session store backend.
type Options struct {
	// Backend is one of "badger", "sqlite" or "memory".
	Backend string
	// Dir is the sessions directory for durable backends.
	Dir string
}

// New opens the configured session store.
func New(opts Options) (Store, error) {
	switch opts.Backend {
	case "memory":
		return NewMemoryStore(), nil
	case "badger":
		if err := platformfs.MkdirAll(opts.Dir); err != nil {
			return nil, fmt.Errorf("create sessions dir: %w", err)
		}
		return OpenBadgerStore(filepath.Join(opts.Dir, "badger"))
	case "sqlite":
		if err := platformfs.MkdirAll(opts.Dir); err != nil {
			return nil, fmt.Errorf("create sessions dir: %w", err)
		}
		return OpenSqliteStore(filepath.Join(opts.Dir, "sessions.db"))
	default:
		return nil, fmt.Errorf("unknown session store backend %q", opts.Backend)
	}
}
