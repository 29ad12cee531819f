// SPDX-License-Identifier: MIT

package fs

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"
)

// AtomicWriteFile writes data to path with full durability guarantees:
// temp file, fsync, atomic rename. A crash mid-write leaves either the old
// content or the new content, never a torn file.
func AtomicWriteFile(path string, data []byte, perm os.FileMode) error {
	return renameio.WriteFile(path, data, perm)
}

// AtomicCopyFile copies src to dst atomically and durably. The destination
// never becomes visible half-written.
func AtomicCopyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer func() { _ = in.Close() }()

	pending, err := renameio.NewPendingFile(dst, renameio.WithPermissions(0o644))
	if err != nil {
		return fmt.Errorf("create pending file: %w", err)
	}
	defer func() { _ = pending.Cleanup() }()

	if _, err := io.Copy(pending, in); err != nil {
		return fmt.Errorf("copy contents: %w", err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("atomically replace %s: %w", dst, err)
	}
	return nil
}

// ReplaceSymlink atomically points link at target, replacing any previous
// link. The link flips in a single rename so readers never observe a
// missing alias.
func ReplaceSymlink(target, link string) error {
	tmp := link + ".tmp"
	if err := os.Remove(tmp); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove stale temp link: %w", err)
	}
	if err := os.Symlink(target, tmp); err != nil {
		return fmt.Errorf("create temp link: %w", err)
	}
	if err := os.Rename(tmp, link); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace link %s: %w", link, err)
	}
	return nil
}

// ListDirNames returns the sorted entry names of dir.
func ListDirNames(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names, nil
}

// MkdirAll creates dir and parents with conventional daemon permissions.
func MkdirAll(dir string) error {
	return os.MkdirAll(filepath.Clean(dir), 0o755)
}
