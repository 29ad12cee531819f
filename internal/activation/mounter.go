// SPDX-License-Identifier: MIT

package activation

import (
	"context"
	"fmt"
	"os"

	"github.com/StagOS/android-system-apex/internal/apex"
)

// Mounter makes a verified bundle's content visible at a target path and
// tears it down again. Mount-namespace mechanics live behind this
// boundary.
type Mounter interface {
	Mount(ctx context.Context, b *apex.Bundle, target string) error
	Unmount(ctx context.Context, target string) error
}

// DirMounter materializes bundle content as a plain directory tree.
type DirMounter struct{}

var _ Mounter = DirMounter{}

// Mount extracts the bundle into target.
func (DirMounter) Mount(ctx context.Context, b *apex.Bundle, target string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := b.Unpack(target); err != nil {
		return fmt.Errorf("mount %s at %s: %w", b.Manifest.ID(), target, err)
	}
	return nil
}

// Unmount removes the materialized tree at target.
func (DirMounter) Unmount(ctx context.Context, target string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.RemoveAll(target); err != nil {
		return fmt.Errorf("unmount %s: %w", target, err)
	}
	return nil
}
