// SPDX-License-Identifier: MIT

package apex_test

import (
	"archive/zip"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/StagOS/android-system-apex/internal/apex"
	"github.com/StagOS/android-system-apex/internal/apex/apextest"
)

func TestOpenAndVerify_Valid(t *testing.T) {
	dir := t.TempDir()
	path := apextest.Write(t, dir, apextest.Bundle{
		Name: "com.os.media", Version: 3,
		Files: map[string]string{"lib/libmedia.so": "elf"},
	})

	b, err := apex.FileVerifier{}.OpenAndVerify(context.Background(), path)
	require.NoError(t, err)
	require.Equal(t, "com.os.media", b.Manifest.Name)
	require.Equal(t, int64(3), b.Manifest.Version)
	require.Equal(t, "com.os.media@3", b.Manifest.ID())

	info := b.Info()
	require.Equal(t, path, info.SourcePath)
}

func TestOpenAndVerify_Failures(t *testing.T) {
	dir := t.TempDir()

	writeZip := func(name string, entries map[string]string) string {
		path := filepath.Join(dir, name)
		f, err := os.Create(path)
		require.NoError(t, err)
		zw := zip.NewWriter(f)
		for entry, content := range entries {
			w, err := zw.Create(entry)
			require.NoError(t, err)
			_, err = w.Write([]byte(content))
			require.NoError(t, err)
		}
		require.NoError(t, zw.Close())
		require.NoError(t, f.Close())
		return path
	}

	tests := []struct {
		name string
		path string
	}{
		{"not a container", apextest.WriteCorrupt(t, dir, "corrupt.apex")},
		{"missing file", filepath.Join(dir, "absent.apex")},
		{"directory", dir},
		{"no manifest", writeZip("nomanifest.apex", map[string]string{"readme": "x"})},
		{"manifest not json", writeZip("badjson.apex", map[string]string{apex.ManifestName: "{nope"})},
		{"empty name", writeZip("noname.apex", map[string]string{apex.ManifestName: `{"name":"","version":1}`})},
		{"zero version", writeZip("nover.apex", map[string]string{apex.ManifestName: `{"name":"a","version":0}`})},
		{"unknown manifest key", writeZip("extra.apex", map[string]string{apex.ManifestName: `{"name":"a","version":1,"bogus":true}`})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := apex.FileVerifier{}.OpenAndVerify(context.Background(), tt.path)
			require.ErrorIs(t, err, apex.ErrVerification)
		})
	}
}

func TestUnpack(t *testing.T) {
	dir := t.TempDir()
	path := apextest.Write(t, dir, apextest.Bundle{
		Name: "com.os.media", Version: 1,
		Files: map[string]string{"etc/conf": "k=v", "lib/a.so": "elf"},
		Hooks: map[string]string{"bin/hook": "#!/bin/sh\n"},
	})
	b, err := apex.FileVerifier{}.OpenAndVerify(context.Background(), path)
	require.NoError(t, err)

	dst := filepath.Join(t.TempDir(), "out")
	require.NoError(t, b.Unpack(dst))

	raw, err := os.ReadFile(filepath.Join(dst, "etc", "conf"))
	require.NoError(t, err)
	require.Equal(t, "k=v", string(raw))

	// Hook entries keep their executable bit.
	info, err := os.Stat(filepath.Join(dst, "bin", "hook"))
	require.NoError(t, err)
	require.NotZero(t, info.Mode()&0o100)
}

func TestUnpack_RejectsEscapingEntries(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "evil.apex")
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)

	w, err := zw.Create(apex.ManifestName)
	require.NoError(t, err)
	_, err = w.Write([]byte(`{"name":"com.os.evil","version":1}`))
	require.NoError(t, err)

	w, err = zw.Create("../escape.txt")
	require.NoError(t, err)
	_, err = w.Write([]byte("pwned"))
	require.NoError(t, err)

	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())

	b, err := apex.FileVerifier{}.OpenAndVerify(context.Background(), path)
	require.NoError(t, err)

	dst := filepath.Join(t.TempDir(), "out")
	require.Error(t, b.Unpack(dst))
	_, statErr := os.Stat(filepath.Join(filepath.Dir(dst), "escape.txt"))
	require.True(t, os.IsNotExist(statErr))
}
