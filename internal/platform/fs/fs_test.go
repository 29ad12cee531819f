// SPDX-License-Identifier: MIT

package fs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConfineRelPath(t *testing.T) {
	root := t.TempDir()

	tests := []struct {
		name    string
		rel     string
		wantErr bool
	}{
		{"simple file", "file.txt", false},
		{"nested path", "a/b/c.txt", false},
		{"dot segments collapse inside", "a/./b/../c.txt", false},
		{"absolute path", "/etc/passwd", true},
		{"plain traversal", "../outside.txt", true},
		{"nested traversal", "a/../../outside.txt", true},
		{"bare dotdot", "..", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ConfineRelPath(root, tt.rel)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.True(t, filepath.IsAbs(got))
		})
	}
}

func TestConfineRelPath_SymlinkEscape(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()

	// A symlink inside root pointing outside must not be followable.
	require.NoError(t, os.Symlink(outside, filepath.Join(root, "escape")))
	_, err := ConfineRelPath(root, "escape/secret.txt")
	require.Error(t, err)

	// A symlink staying inside root is fine.
	require.NoError(t, os.MkdirAll(filepath.Join(root, "real"), 0o755))
	require.NoError(t, os.Symlink(filepath.Join(root, "real"), filepath.Join(root, "alias")))
	_, err = ConfineRelPath(root, "alias/file.txt")
	require.NoError(t, err)
}

func TestIsRegularFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "f.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	require.NoError(t, IsRegularFile(file))
	require.Error(t, IsRegularFile(dir))
	require.Error(t, IsRegularFile(filepath.Join(dir, "absent")))
}

func TestAtomicWriteFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")

	require.NoError(t, AtomicWriteFile(path, []byte("v1"), 0o644))
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "v1", string(raw))

	// Overwrite through the same path.
	require.NoError(t, AtomicWriteFile(path, []byte("v2"), 0o644))
	raw, err = os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "v2", string(raw))

	// No temp files survive.
	names, err := ListDirNames(dir)
	require.NoError(t, err)
	require.Equal(t, []string{"state.json"}, names)
}

func TestAtomicCopyFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.bin")
	dst := filepath.Join(dir, "sub", "dst.bin")
	require.NoError(t, os.WriteFile(src, []byte("payload"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Dir(dst), 0o755))

	require.NoError(t, AtomicCopyFile(src, dst))
	raw, err := os.ReadFile(dst)
	require.NoError(t, err)
	require.Equal(t, "payload", string(raw))
}

func TestReplaceSymlink(t *testing.T) {
	dir := t.TempDir()
	link := filepath.Join(dir, "current")

	require.NoError(t, ReplaceSymlink("v1", link))
	target, err := os.Readlink(link)
	require.NoError(t, err)
	require.Equal(t, "v1", target)

	// Replacing an existing link flips it atomically.
	require.NoError(t, ReplaceSymlink("v2", link))
	target, err = os.Readlink(link)
	require.NoError(t, err)
	require.Equal(t, "v2", target)
}
