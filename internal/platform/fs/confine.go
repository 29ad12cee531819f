// SPDX-License-Identifier: MIT

// Package fs provides filesystem primitives shared by the daemon: path
// confinement against traversal and symlink escapes, and atomic durable
// file writes.
package fs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ConfineRelPath resolves a relative path inside the given root directory
// while protecting against path traversal and symlink escapes. The target
// does not need to exist, but its resolved location must stay under root.
func ConfineRelPath(root, relTarget string) (string, error) {
	clean := filepath.Clean(relTarget)
	if filepath.IsAbs(clean) {
		return "", fmt.Errorf("path must be relative: %s", relTarget)
	}
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path contains traversal: %s", relTarget)
	}

	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve root: %w", err)
	}

	resolvedRoot, err := filepath.EvalSymlinks(rootAbs)
	if err != nil {
		resolvedRoot = rootAbs
	}

	full := filepath.Join(rootAbs, clean)
	resolved := full
	if _, statErr := os.Lstat(full); statErr == nil {
		if r, evalErr := filepath.EvalSymlinks(full); evalErr == nil {
			resolved = r
		}
	} else if !errors.Is(statErr, os.ErrNotExist) {
		return "", fmt.Errorf("stat target: %w", statErr)
	} else if realDir, evalErr := filepath.EvalSymlinks(filepath.Dir(full)); evalErr == nil {
		resolved = filepath.Join(realDir, filepath.Base(full))
	}

	relToRoot, err := filepath.Rel(resolvedRoot, resolved)
	if err != nil {
		return "", fmt.Errorf("resolve relative path: %w", err)
	}
	if relToRoot == ".." || strings.HasPrefix(relToRoot, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes root: %s", relTarget)
	}

	return full, nil
}

// IsRegularFile reports an error unless path names an existing regular file.
func IsRegularFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("not a regular file: %s", path)
	}
	return nil
}
