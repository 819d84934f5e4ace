// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validCreds = `{
  "gemini_api_key": "test-key",
  "gemini_api_url": "https://advisory.example.com/v1/suggest",
  "tailscale_auth_key": "tskey-abc123"
}`

func TestLoadFrom_EtcTakesPrecedence(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/etc/kodiak/config.json", []byte(validCreds), 0600))
	require.NoError(t, afero.WriteFile(fs, "/home/op/.kodiak/config.json",
		[]byte(`{"gemini_api_key":"other","gemini_api_url":"https://other.example.com"}`), 0600))

	cfg, err := LoadFrom(fs, "/home/op")
	require.NoError(t, err)

	assert.Equal(t, "/etc/kodiak/config.json", cfg.Source)
	assert.Equal(t, "test-key", cfg.Credentials.GeminiAPIKey)
	assert.Equal(t, "tskey-abc123", cfg.Credentials.TailscaleAuthKey)
}

func TestLoadFrom_HomeFallback(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/home/op/.kodiak/config.json", []byte(validCreds), 0600))

	cfg, err := LoadFrom(fs, "/home/op")
	require.NoError(t, err)
	assert.Equal(t, "/home/op/.kodiak/config.json", cfg.Source)
}

func TestLoadFrom_MissingFile(t *testing.T) {
	fs := afero.NewMemMapFs()

	_, err := LoadFrom(fs, "/home/op")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no credentials file found")
}

func TestLoadFrom_ValidationFailures(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "missing api key", body: `{"gemini_api_url": "https://a.example.com"}`},
		{name: "missing url", body: `{"gemini_api_key": "k"}`},
		{name: "malformed url", body: `{"gemini_api_key": "k", "gemini_api_url": "not a url"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := afero.NewMemMapFs()
			require.NoError(t, afero.WriteFile(fs, "/etc/kodiak/config.json", []byte(tt.body), 0600))

			_, err := LoadFrom(fs, "/home/op")
			assert.Error(t, err)
		})
	}
}

func TestLoadFrom_MalformedJSON(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/etc/kodiak/config.json", []byte("{nope"), 0600))

	_, err := LoadFrom(fs, "/home/op")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse")
}

func TestLoadFrom_Overrides(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/etc/kodiak/config.json", []byte(validCreds), 0600))
	require.NoError(t, afero.WriteFile(fs, "/home/op/.kodiak/kodiak.yaml", []byte(`
lock_dir: /run/kodiak
command_timeout: 90s
port_range_min: 30000
port_range_max: 31000
reserved_ports: [30500]
layer_dirs:
  onion: /srv/tor
`), 0644))

	cfg, err := LoadFrom(fs, "/home/op")
	require.NoError(t, err)

	assert.Equal(t, "/run/kodiak", cfg.Overrides.LockDir)
	assert.Equal(t, 90*time.Second, cfg.Overrides.CommandTimeout.Std())
	assert.Equal(t, 30000, cfg.Overrides.PortRangeMin)
	assert.Equal(t, []int{30500}, cfg.Overrides.ReservedPorts)
	assert.Equal(t, "/srv/tor", cfg.Paths.Onion.Path)
	assert.False(t, cfg.Paths.Onion.UsedDefault)
}

func TestSave_RoundTrip(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/etc/kodiak/config.json", []byte(validCreds), 0600))

	cfg, err := LoadFrom(fs, "/home/op")
	require.NoError(t, err)
	require.NoError(t, Save(fs, cfg))

	reloaded, err := LoadFrom(fs, "/home/op")
	require.NoError(t, err)
	assert.Equal(t, cfg.Credentials, reloaded.Credentials)
}

func TestSave_NoSource(t *testing.T) {
	err := Save(afero.NewMemMapFs(), &RunConfig{})
	assert.Error(t, err)
}

func TestPathResolver_Resolve(t *testing.T) {
	tests := []struct {
		name        string
		existing    []string
		layer       string
		override    string
		wantPath    string
		wantDefault bool
	}{
		{
			name:     "first candidate exists",
			existing: []string{"/etc/tor"},
			layer:    "onion",
			wantPath: "/etc/tor",
		},
		{
			name:     "later candidate wins when first missing",
			existing: []string{"/usr/local/etc/tor"},
			layer:    "onion",
			wantPath: "/usr/local/etc/tor",
		},
		{
			name:        "nothing exists falls back to typed default",
			layer:       "garlic",
			wantPath:    "/etc/i2pd",
			wantDefault: true,
		},
		{
			name:     "override pins unconditionally",
			existing: []string{"/etc/tor"},
			layer:    "onion",
			override: "/srv/tor",
			wantPath: "/srv/tor",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := afero.NewMemMapFs()
			for _, dir := range tt.existing {
				require.NoError(t, fs.MkdirAll(dir, 0755))
			}

			got := NewPathResolver(fs).Resolve(tt.layer, tt.override)
			assert.Equal(t, tt.wantPath, got.Path)
			assert.Equal(t, tt.wantDefault, got.UsedDefault)
		})
	}
}
