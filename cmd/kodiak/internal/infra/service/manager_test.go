// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/KodiakPrivacy/cmd/kodiak/internal/infra/process"
)

func TestSystemdManager_Verbs(t *testing.T) {
	tests := []struct {
		name     string
		call     func(m *SystemdManager, ctx context.Context) error
		wantArgs []string
	}{
		{
			name:     "enable",
			call:     func(m *SystemdManager, ctx context.Context) error { return m.Enable(ctx, "tor") },
			wantArgs: []string{"enable", "tor"},
		},
		{
			name:     "restart",
			call:     func(m *SystemdManager, ctx context.Context) error { return m.Restart(ctx, "tailscaled") },
			wantArgs: []string{"restart", "tailscaled"},
		},
		{
			name:     "stop",
			call:     func(m *SystemdManager, ctx context.Context) error { return m.Stop(ctx, "i2pd") },
			wantArgs: []string{"stop", "i2pd"},
		},
		{
			name:     "daemon-reload",
			call:     func(m *SystemdManager, ctx context.Context) error { return m.DaemonReload(ctx) },
			wantArgs: []string{"daemon-reload"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &process.MockRunner{
				RunFunc: func(ctx context.Context, name string, args ...string) ([]byte, error) {
					return nil, nil
				},
			}
			mgr := NewSystemdManager(runner)

			require.NoError(t, tt.call(mgr, context.Background()))

			calls := runner.GetCalls()
			require.Len(t, calls, 1)
			assert.Equal(t, "systemctl", calls[0].Name)
			assert.Equal(t, tt.wantArgs, calls[0].Args)
		})
	}
}

func TestSystemdManager_RestartFailureWrapsUnit(t *testing.T) {
	runner := &process.MockRunner{
		RunFunc: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return nil, errors.New("exit status 1: Job for tor.service failed")
		},
	}
	mgr := NewSystemdManager(runner)

	err := mgr.Restart(context.Background(), "tor")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "systemctl restart tor")
}

func TestSystemdManager_IsActive(t *testing.T) {
	tests := []struct {
		name    string
		output  string
		err     error
		want    bool
		wantErr bool
	}{
		{name: "active", output: "active\n", want: true},
		{name: "inactive", output: "inactive\n", err: errors.New("exit status 3"), want: false},
		{name: "failed", output: "failed\n", err: errors.New("exit status 3"), want: false},
		// No state on stdout means the invocation itself broke.
		{name: "broken invocation", output: "", err: errors.New("exit status 4"), want: false, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &process.MockRunner{
				RunFunc: func(ctx context.Context, name string, args ...string) ([]byte, error) {
					return []byte(tt.output), tt.err
				},
			}
			mgr := NewSystemdManager(runner)

			active, err := mgr.IsActive(context.Background(), "tor")
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.want, active)
		})
	}
}

func TestMockManager_RecordsCalls(t *testing.T) {
	mock := &MockManager{}
	ctx := context.Background()

	require.NoError(t, mock.Enable(ctx, "tor"))
	require.NoError(t, mock.Restart(ctx, "tor"))
	require.NoError(t, mock.DaemonReload(ctx))

	assert.Equal(t, []string{"enable tor", "restart tor", "daemon-reload"}, mock.GetCalls())
}
