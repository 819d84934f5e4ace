// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"github.com/spf13/afero"
)

// layerCandidates is the declarative path-resolution policy: for each
// layer, the ordered list of directories checked, first existing wins.
// The first entry doubles as the layer's default when none exist.
//
// Daemons on different distributions scatter their configuration
// differently (tor under /etc or /usr/local/etc, I2P variants under
// three different homes), so resolution is explicit and testable
// rather than a filesystem search with fallbacks.
var layerCandidates = map[string][]string{
	"overlay":  {"/etc/tailscale", "/var/lib/tailscale"},
	"onion":    {"/etc/tor", "/usr/local/etc/tor"},
	"garlic":   {"/etc/i2pd", "/var/lib/i2p/i2p-config", "/usr/share/i2p"},
	"firewall": {"/etc/ufw", "/usr/local/etc/ufw"},
}

// PathResolver resolves layer configuration directories against a
// filesystem. Tested independently of the pipeline.
type PathResolver struct {
	fs afero.Fs
}

// NewPathResolver creates a resolver over the given filesystem.
func NewPathResolver(fs afero.Fs) *PathResolver {
	return &PathResolver{fs: fs}
}

// Resolve returns the configuration directory for the named layer.
//
// # Description
//
// An override pin (from kodiak.yaml layer_dirs) wins unconditionally
// and is reported as a non-default resolution. Otherwise the first
// existing candidate directory wins; if none exists, the layer's
// default is returned with UsedDefault=true so the caller can decide
// whether a missing directory is acceptable for that layer.
func (r *PathResolver) Resolve(layer string, override string) Resolution {
	if override != "" {
		return Resolution{Path: override}
	}

	candidates := layerCandidates[layer]
	for _, dir := range candidates {
		if ok, err := afero.DirExists(r.fs, dir); err == nil && ok {
			return Resolution{Path: dir}
		}
	}

	if len(candidates) > 0 {
		return Resolution{Path: candidates[0], UsedDefault: true}
	}
	return Resolution{UsedDefault: true}
}

// ResolveAll resolves every layer's directory in one pass.
func (r *PathResolver) ResolveAll(overrides map[string]string) LayerPaths {
	return LayerPaths{
		Overlay:  r.Resolve("overlay", overrides["overlay"]),
		Onion:    r.Resolve("onion", overrides["onion"]),
		Garlic:   r.Resolve("garlic", overrides["garlic"]),
		Firewall: r.Resolve("firewall", overrides["firewall"]),
	}
}
