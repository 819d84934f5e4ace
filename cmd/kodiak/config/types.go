// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config owns the run's durable configuration: advisory-service
// credentials, the optional overlay auth token, operator overrides, and
// the resolved per-layer configuration directories.
//
// A RunConfig is loaded once at start, is immutable for the duration of
// a run, and is lent read-only to every stage. Only this package
// persists it; stage logic never mutates or writes configuration.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings like
// "90s" or "2m".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the standard library representation.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Credentials is the durable, host-local credential file
// (config.json). It is written by the credential-entry collaborator if
// absent; this package only reads and re-persists it.
type Credentials struct {
	// GeminiAPIKey authenticates against the advisory service.
	GeminiAPIKey string `json:"gemini_api_key" validate:"required"`

	// GeminiAPIURL is the advisory service endpoint.
	GeminiAPIURL string `json:"gemini_api_url" validate:"required,url"`

	// TailscaleAuthKey pre-authorizes the overlay join. Optional;
	// when empty, `tailscale up` runs interactively or reuses prior
	// node state.
	TailscaleAuthKey string `json:"tailscale_auth_key,omitempty" validate:"omitempty"`
}

// Overrides is the optional operator settings file (kodiak.yaml).
// Everything here has a working default; the file exists for hosts
// with nonstandard layouts.
type Overrides struct {
	// LockDir overrides where the run-lock file lives.
	LockDir string `yaml:"lock_dir"`

	// CommandTimeout overrides the per-call timeout for external
	// commands.
	CommandTimeout Duration `yaml:"command_timeout"`

	// PortRangeMin and PortRangeMax override the allocator's draw
	// range.
	PortRangeMin int `yaml:"port_range_min"`
	PortRangeMax int `yaml:"port_range_max"`

	// ReservedPorts extends the allocator's blocklist.
	ReservedPorts []int `yaml:"reserved_ports"`

	// LayerDirs pins a layer's configuration directory, bypassing
	// path resolution. Keys: overlay, onion, garlic, firewall.
	LayerDirs map[string]string `yaml:"layer_dirs"`

	// LogDir overrides the log file directory.
	LogDir string `yaml:"log_dir"`
}

// Resolution is the outcome of resolving one layer's configuration
// directory: either an existing candidate path, or the layer's default
// with UsedDefault set. There is no silent fallback chain; callers can
// always tell which case they got.
type Resolution struct {
	Path        string
	UsedDefault bool
}

// LayerPaths carries the resolved configuration directory for each
// layer.
type LayerPaths struct {
	Overlay  Resolution
	Onion    Resolution
	Garlic   Resolution
	Firewall Resolution
}

// RunConfig is everything a run needs, assembled by Load. Immutable
// once returned.
type RunConfig struct {
	Credentials Credentials
	Overrides   Overrides
	Paths       LayerPaths

	// Source is the credentials file the run loaded, kept so Save
	// writes back to the same place.
	Source string
}
