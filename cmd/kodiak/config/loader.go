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
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// Credential file locations, checked in order. The /etc path is the
// normal one for a root-run provisioner; the home path supports
// development runs.
func credentialCandidates(home string) []string {
	return []string{
		"/etc/kodiak/config.json",
		filepath.Join(home, ".kodiak", "config.json"),
	}
}

func overridesPath(home string) string {
	return filepath.Join(home, ".kodiak", "kodiak.yaml")
}

var validate = validator.New()

// Load assembles the RunConfig: credentials file, optional overrides,
// and resolved layer paths.
//
// # Description
//
// Reads the first credentials file that exists, validates it, merges
// the optional kodiak.yaml overrides, and resolves each layer's
// configuration directory through the PathResolver. The returned
// RunConfig is immutable for the run.
//
// # Inputs
//
//   - fs: filesystem to read from (afero.NewOsFs() in production)
//
// # Outputs
//
//   - *RunConfig: the assembled, validated configuration
//   - error: missing credentials file, unreadable file, JSON/YAML
//     syntax errors, or validation failures
func Load(fs afero.Fs) (*RunConfig, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "/root"
	}
	return LoadFrom(fs, home)
}

// LoadFrom is Load with an explicit home directory, for tests.
func LoadFrom(fs afero.Fs, home string) (*RunConfig, error) {
	cfg := &RunConfig{}

	source, creds, err := loadCredentials(fs, home)
	if err != nil {
		return nil, err
	}
	cfg.Source = source
	cfg.Credentials = creds

	overrides, err := loadOverrides(fs, home)
	if err != nil {
		return nil, err
	}
	cfg.Overrides = overrides

	resolver := NewPathResolver(fs)
	cfg.Paths = resolver.ResolveAll(overrides.LayerDirs)

	return cfg, nil
}

// Save persists the credentials back to the file they were loaded
// from. Only ConfigStore writes durable configuration; stage logic
// never calls this.
func Save(fs afero.Fs, cfg *RunConfig) error {
	if cfg.Source == "" {
		return fmt.Errorf("config has no source path to save to")
	}
	data, err := json.MarshalIndent(cfg.Credentials, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal credentials: %w", err)
	}
	if err := fs.MkdirAll(filepath.Dir(cfg.Source), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	// 0600: the file holds API keys and the overlay auth token.
	if err := afero.WriteFile(fs, cfg.Source, append(data, '\n'), 0600); err != nil {
		return fmt.Errorf("failed to write %s: %w", cfg.Source, err)
	}
	return nil
}

func loadCredentials(fs afero.Fs, home string) (string, Credentials, error) {
	var creds Credentials

	for _, path := range credentialCandidates(home) {
		ok, err := afero.Exists(fs, path)
		if err != nil || !ok {
			continue
		}

		data, err := afero.ReadFile(fs, path)
		if err != nil {
			return "", creds, fmt.Errorf("failed to read credentials file %s: %w", path, err)
		}
		if err := json.Unmarshal(data, &creds); err != nil {
			return "", creds, fmt.Errorf("failed to parse credentials file %s: %w", path, err)
		}
		if err := validate.Struct(creds); err != nil {
			return "", creds, fmt.Errorf("invalid credentials in %s: %w", path, err)
		}
		return path, creds, nil
	}

	return "", creds, fmt.Errorf(
		"no credentials file found (looked for %v); run the credential setup first",
		credentialCandidates(home))
}

func loadOverrides(fs afero.Fs, home string) (Overrides, error) {
	var overrides Overrides

	path := overridesPath(home)
	ok, err := afero.Exists(fs, path)
	if err != nil || !ok {
		return overrides, nil // optional file
	}

	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return overrides, fmt.Errorf("failed to read overrides file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return overrides, fmt.Errorf("failed to parse overrides file %s: %w", path, err)
	}
	return overrides, nil
}
