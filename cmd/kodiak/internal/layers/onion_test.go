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
	"fmt"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/KodiakPrivacy/cmd/kodiak/internal/infra/process"
	"github.com/AleutianAI/KodiakPrivacy/cmd/kodiak/internal/infra/service"
	"github.com/AleutianAI/KodiakPrivacy/cmd/kodiak/internal/pipeline"
	"github.com/AleutianAI/KodiakPrivacy/cmd/kodiak/internal/ports"
)

func TestOnionRouting_WritesTorrcAndRestarts(t *testing.T) {
	services := &service.MockManager{}
	st := newTestState(nil, services)

	undo, err := (&OnionRouting{}).Apply(context.Background(), st)
	require.NoError(t, err)
	require.NotNil(t, undo)

	port, ok := st.AllocationFor("onion", "hidden-service-forward")
	require.True(t, ok)
	assert.GreaterOrEqual(t, port, ports.DefaultRangeMin)
	assert.Less(t, port, ports.DefaultRangeMax)

	data, err := afero.ReadFile(st.FS, "/etc/tor/torrc")
	require.NoError(t, err)
	content := string(data)
	assert.Contains(t, content, "SocksPort 9050")
	assert.Contains(t, content, "ControlPort 9051")
	assert.Contains(t, content, "HiddenServiceDir /var/lib/tor/kodiak_hidden_service")
	assert.Contains(t, content, fmt.Sprintf("HiddenServicePort 80 127.0.0.1:%d", port))

	assert.Equal(t, []string{"restart tor"}, services.GetCalls())
}

func TestOnionRouting_ReusesPortOnReapply(t *testing.T) {
	st := newTestState(nil, nil)
	stage := &OnionRouting{}

	_, err := stage.Apply(context.Background(), st)
	require.NoError(t, err)
	first, ok := st.AllocationFor("onion", "hidden-service-forward")
	require.True(t, ok)
	firstContent, err := afero.ReadFile(st.FS, "/etc/tor/torrc")
	require.NoError(t, err)

	_, err = stage.Apply(context.Background(), st)
	require.NoError(t, err)
	second, ok := st.AllocationFor("onion", "hidden-service-forward")
	require.True(t, ok)
	secondContent, err := afero.ReadFile(st.FS, "/etc/tor/torrc")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, string(firstContent), string(secondContent))
}

func TestOnionRouting_MissingTor(t *testing.T) {
	runner := &process.MockRunner{
		LookPathFunc: func(name string) (string, error) {
			return "", errors.New("executable not found")
		},
	}
	st := newTestState(runner, nil)

	_, err := (&OnionRouting{}).Apply(context.Background(), st)

	var depErr *pipeline.DependencyMissingError
	require.ErrorAs(t, err, &depErr)
	assert.Equal(t, "tor", depErr.Tool)
}

func TestOnionRouting_RestartFailureIsRecoverable(t *testing.T) {
	services := &service.MockManager{
		RestartFunc: func(ctx context.Context, unit string) error {
			return errors.New("job for tor.service failed")
		},
	}
	st := newTestState(nil, services)

	_, err := (&OnionRouting{}).Apply(context.Background(), st)

	var cfgErr *pipeline.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Contains(t, cfgErr.Action, "restart onion-routing service tor")
	assert.True(t, pipeline.IsRecoverable(err))
}

func TestOnionRouting_PreservesHostTorrc(t *testing.T) {
	st := newTestState(nil, nil)
	require.NoError(t, afero.WriteFile(st.FS, "/etc/tor/torrc",
		[]byte("Log notice file /var/log/tor/log\n"), 0644))

	_, err := (&OnionRouting{}).Apply(context.Background(), st)
	require.NoError(t, err)

	data, err := afero.ReadFile(st.FS, "/etc/tor/torrc")
	require.NoError(t, err)
	assert.Contains(t, string(data), "Log notice file /var/log/tor/log")
}

func TestOnionRouting_UndoStripsAndStops(t *testing.T) {
	services := &service.MockManager{}
	st := newTestState(nil, services)
	require.NoError(t, afero.WriteFile(st.FS, "/etc/tor/torrc",
		[]byte("Log notice file /var/log/tor/log\n"), 0644))

	undo, err := (&OnionRouting{}).Apply(context.Background(), st)
	require.NoError(t, err)
	require.NoError(t, undo.Run(context.Background()))

	data, err := afero.ReadFile(st.FS, "/etc/tor/torrc")
	require.NoError(t, err)
	assert.NotContains(t, string(data), "HiddenServiceDir")
	assert.Contains(t, string(data), "Log notice file /var/log/tor/log")
	assert.Contains(t, services.GetCalls(), "stop tor")
}
