// SPDX-License-Identifier: MIT

// Package apextest builds throwaway package bundles for tests.
package apextest

import (
	"archive/zip"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/StagOS/android-system-apex/internal/apex"
)

// Bundle describes a test package bundle to build.
type Bundle struct {
	Name    string
	Version int64
	// Files maps entry path to content. The manifest entry is generated.
	Files map[string]string
	// Hooks maps entry path to executable script content.
	Hooks map[string]string

	PreInstallHook  string
	PostInstallHook string
}

// Write builds the bundle as a zip container under dir and returns its path.
func Write(t *testing.T, dir string, b Bundle) string {
	t.Helper()

	path := filepath.Join(dir, fmt.Sprintf("%s@%d.apex", b.Name, b.Version))
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create bundle file: %v", err)
	}
	zw := zip.NewWriter(f)

	manifest := apex.Manifest{
		Name:            b.Name,
		Version:         b.Version,
		PreInstallHook:  b.PreInstallHook,
		PostInstallHook: b.PostInstallHook,
	}
	raw, err := json.Marshal(manifest)
	if err != nil {
		t.Fatalf("marshal manifest: %v", err)
	}
	addEntry(t, zw, apex.ManifestName, raw, 0o644)

	for name, content := range b.Files {
		addEntry(t, zw, name, []byte(content), 0o644)
	}
	for name, content := range b.Hooks {
		addEntry(t, zw, name, []byte(content), 0o755)
	}

	if err := zw.Close(); err != nil {
		t.Fatalf("close zip writer: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close bundle file: %v", err)
	}
	return path
}

// WriteCorrupt writes a file that is not a valid container.
func WriteCorrupt(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("not a zip container"), 0o644); err != nil {
		t.Fatalf("write corrupt bundle: %v", err)
	}
	return path
}

func addEntry(t *testing.T, zw *zip.Writer, name string, content []byte, mode os.FileMode) {
	t.Helper()
	hdr := &zip.FileHeader{Name: name, Method: zip.Deflate}
	hdr.SetMode(mode)
	w, err := zw.CreateHeader(hdr)
	if err != nil {
		t.Fatalf("create zip entry %s: %v", name, err)
	}
	if _, err := w.Write(content); err != nil {
		t.Fatalf("write zip entry %s: %v", name, err)
	}
}
