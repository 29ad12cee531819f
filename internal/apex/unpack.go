// SPDX-License-Identifier: MIT

package apex

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"

	platformfs "github.com/StagOS/android-system-apex/internal/platform/fs"
)

// Unpack extracts the bundle's content into dst. Entry paths are confined
// to dst so a malicious container cannot write outside its target tree.
// File modes from the container are preserved so hook programs stay
// executable.
func (b *Bundle) Unpack(dst string) error {
	zr, err := zip.OpenReader(b.Path)
	if err != nil {
		return fmt.Errorf("open container %s: %w", b.Path, err)
	}
	defer func() { _ = zr.Close() }()

	if err := os.MkdirAll(dst, 0o755); err != nil {
		return fmt.Errorf("create target %s: %w", dst, err)
	}

	for _, f := range zr.File {
		target, err := platformfs.ConfineRelPath(dst, f.Name)
		if err != nil {
			return fmt.Errorf("entry %s in %s: %w", f.Name, b.Path, err)
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		if err := extractFile(f, target); err != nil {
			return fmt.Errorf("extract %s from %s: %w", f.Name, b.Path, err)
		}
	}
	return nil
}

func extractFile(f *zip.File, target string) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer func() { _ = rc.Close() }()

	mode := f.Mode().Perm()
	if mode == 0 {
		mode = 0o644
	}
	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, rc); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
