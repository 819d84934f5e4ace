// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package layers

import (
	"context"
	"errors"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/KodiakPrivacy/cmd/kodiak/internal/infra/process"
	"github.com/AleutianAI/KodiakPrivacy/cmd/kodiak/internal/infra/service"
	"github.com/AleutianAI/KodiakPrivacy/cmd/kodiak/internal/pipeline"
)

func TestOverlayACL_WritesDescriptor(t *testing.T) {
	st := newTestState(nil, nil)
	stage := &OverlayACL{}

	undo, err := stage.Apply(context.Background(), st)
	require.NoError(t, err)
	require.NotNil(t, undo)
	assert.Equal(t, "overlay-acl", undo.Stage)

	data, err := afero.ReadFile(st.FS, "/etc/tailscale/kodiak-acl.hujson")
	require.NoError(t, err)
	assert.Contains(t, string(data), "tag:kodiak")
	assert.Contains(t, string(data), "// "+beginMarkerText)
}

func TestOverlayACL_MissingTailscale(t *testing.T) {
	runner := &process.MockRunner{
		LookPathFunc: func(name string) (string, error) {
			return "", errors.New("executable not found")
		},
	}
	st := newTestState(runner, nil)

	_, err := (&OverlayACL{}).Apply(context.Background(), st)

	var depErr *pipeline.DependencyMissingError
	require.ErrorAs(t, err, &depErr)
	assert.Equal(t, "tailscale", depErr.Tool)
	assert.False(t, pipeline.IsRecoverable(err))
}

func TestOverlayACL_DoubleApplyIdentical(t *testing.T) {
	st := newTestState(nil, nil)
	stage := &OverlayACL{}

	_, err := stage.Apply(context.Background(), st)
	require.NoError(t, err)
	first, err := afero.ReadFile(st.FS, "/etc/tailscale/kodiak-acl.hujson")
	require.NoError(t, err)

	_, err = stage.Apply(context.Background(), st)
	require.NoError(t, err)
	second, err := afero.ReadFile(st.FS, "/etc/tailscale/kodiak-acl.hujson")
	require.NoError(t, err)

	assert.Equal(t, string(first), string(second))
}

func TestOverlayACL_UndoRemovesDescriptor(t *testing.T) {
	st := newTestState(nil, nil)

	undo, err := (&OverlayACL{}).Apply(context.Background(), st)
	require.NoError(t, err)
	require.NoError(t, undo.Run(context.Background()))

	present, err := afero.Exists(st.FS, "/etc/tailscale/kodiak-acl.hujson")
	require.NoError(t, err)
	assert.False(t, present)
}

func TestOverlayUp_EnablesStartsAndJoins(t *testing.T) {
	runner := &process.MockRunner{
		RunFunc: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return nil, nil
		},
	}
	services := &service.MockManager{}
	st := newTestState(runner, services)
	st.Config.Credentials.TailscaleAuthKey = "tskey-auth-test"

	undo, err := (&OverlayUp{}).Apply(context.Background(), st)
	require.NoError(t, err)
	require.NotNil(t, undo)

	assert.Equal(t, []string{"enable tailscaled", "start tailscaled"}, services.GetCalls())

	calls := runner.GetCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "tailscale", calls[0].Name)
	assert.Equal(t, []string{"up", "--auth-key=tskey-auth-test"}, calls[0].Args)
}

func TestOverlayUp_NoAuthKey(t *testing.T) {
	runner := &process.MockRunner{
		RunFunc: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return nil, nil
		},
	}
	st := newTestState(runner, nil)

	_, err := (&OverlayUp{}).Apply(context.Background(), st)
	require.NoError(t, err)

	calls := runner.GetCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, []string{"up"}, calls[0].Args)
}

func TestOverlayUp_StartFailureIsRecoverable(t *testing.T) {
	services := &service.MockManager{
		StartFunc: func(ctx context.Context, unit string) error {
			return errors.New("unit tailscaled failed to start")
		},
	}
	st := newTestState(nil, services)

	_, err := (&OverlayUp{}).Apply(context.Background(), st)

	var cfgErr *pipeline.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.True(t, pipeline.IsRecoverable(err))
}

func TestOverlayUp_UndoLeavesNetworkAndStops(t *testing.T) {
	runner := &process.MockRunner{
		RunFunc: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return nil, nil
		},
	}
	services := &service.MockManager{}
	st := newTestState(runner, services)

	undo, err := (&OverlayUp{}).Apply(context.Background(), st)
	require.NoError(t, err)
	require.NoError(t, undo.Run(context.Background()))

	calls := runner.GetCalls()
	require.Len(t, calls, 2)
	assert.Equal(t, []string{"down"}, calls[1].Args)
	assert.Contains(t, services.GetCalls(), "stop tailscaled")
}
