// SPDX-License-Identifier: MIT

package apex

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"

	platformfs "github.com/StagOS/android-system-apex/internal/platform/fs"
)

// ErrVerification marks a bundle that failed to open or validate. It is
// never partially applied: a failed verification leaves no state behind.
var ErrVerification = errors.New("package verification failed")

// Bundle is an opened, verified package bundle.
type Bundle struct {
	Manifest Manifest
	Path     string
}

// Info projects the bundle into its public package info.
func (b *Bundle) Info() PackageInfo {
	return PackageInfo{
		Name:       b.Manifest.Name,
		Version:    b.Manifest.Version,
		SourcePath: b.Path,
	}
}

// Verifier opens and validates a package bundle at a file path. Container
// parsing and signature checking live behind this boundary; the daemon core
// only consumes its result.
type Verifier interface {
	OpenAndVerify(ctx context.Context, path string) (*Bundle, error)
}

// FileVerifier validates bundles stored as zip containers with an embedded
// manifest entry.
type FileVerifier struct{}

var _ Verifier = FileVerifier{}

// OpenAndVerify opens the bundle at path, checks the container is readable
// and the manifest identifies a package. Any failure wraps ErrVerification.
func (FileVerifier) OpenAndVerify(ctx context.Context, path string) (*Bundle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := platformfs.IsRegularFile(path); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrVerification, path, err)
	}

	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open container %s: %v", ErrVerification, path, err)
	}
	defer func() { _ = zr.Close() }()

	var manifest *Manifest
	for _, f := range zr.File {
		if f.Name != ManifestName {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("%w: open manifest in %s: %v", ErrVerification, path, err)
		}
		m, err := parseManifest(rc)
		_ = rc.Close()
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrVerification, path, err)
		}
		manifest = &m
		break
	}
	if manifest == nil {
		return nil, fmt.Errorf("%w: %s has no %s", ErrVerification, path, ManifestName)
	}

	return &Bundle{Manifest: *manifest, Path: path}, nil
}
