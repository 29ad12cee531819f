// SPDX-License-Identifier: MIT

// Package apex models signed package bundles: manifest metadata, the
// open-and-verify boundary, and bundle content extraction.
package apex

import (
	"encoding/json"
	"fmt"
	"io"
)

// ManifestName is the well-known manifest entry inside a package bundle.
const ManifestName = "apex_manifest.json"

// Manifest is the metadata record embedded in every package bundle.
type Manifest struct {
	Name    string `json:"name"`
	Version int64  `json:"version"`

	// Optional hook programs, paths relative to the bundle root.
	PreInstallHook  string `json:"preInstallHook,omitempty"`
	PostInstallHook string `json:"postInstallHook,omitempty"`
}

// Validate rejects manifests that cannot identify a package.
func (m Manifest) Validate() error {
	if m.Name == "" {
		return fmt.Errorf("manifest has empty name")
	}
	if m.Version <= 0 {
		return fmt.Errorf("manifest for %s has non-positive version %d", m.Name, m.Version)
	}
	return nil
}

// ID returns the canonical name@version identifier.
func (m Manifest) ID() string {
	return fmt.Sprintf("%s@%d", m.Name, m.Version)
}

func parseManifest(r io.Reader) (Manifest, error) {
	var m Manifest
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&m); err != nil {
		return Manifest{}, fmt.Errorf("decode manifest: %w", err)
	}
	if err := m.Validate(); err != nil {
		return Manifest{}, err
	}
	return m, nil
}

// PackageInfo is the transient verification/activation result handed to
// clients. It is never persisted.
type PackageInfo struct {
	Name       string `json:"name"`
	Version    int64  `json:"version"`
	SourcePath string `json:"sourcePath"`
}
