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
	"bytes"
	"context"

	"github.com/spf13/afero"

	"github.com/AleutianAI/KodiakPrivacy/cmd/kodiak/config"
	"github.com/AleutianAI/KodiakPrivacy/cmd/kodiak/internal/infra/process"
	"github.com/AleutianAI/KodiakPrivacy/cmd/kodiak/internal/infra/service"
	"github.com/AleutianAI/KodiakPrivacy/cmd/kodiak/internal/pipeline"
	"github.com/AleutianAI/KodiakPrivacy/cmd/kodiak/internal/ports"
	"github.com/AleutianAI/KodiakPrivacy/pkg/logging"
)

// newTestState builds a pipeline state over an in-memory filesystem
// with succeed-by-default doubles for commands and services.
func newTestState(runner *process.MockRunner, services *service.MockManager) *pipeline.State {
	if runner == nil {
		runner = &process.MockRunner{
			RunFunc: func(ctx context.Context, name string, args ...string) ([]byte, error) {
				return nil, nil
			},
		}
	}
	if services == nil {
		services = &service.MockManager{}
	}
	return &pipeline.State{
		Config: &config.RunConfig{
			Paths: config.LayerPaths{
				Overlay:  config.Resolution{Path: "/etc/tailscale"},
				Onion:    config.Resolution{Path: "/etc/tor"},
				Garlic:   config.Resolution{Path: "/etc/i2pd"},
				Firewall: config.Resolution{Path: "/etc/ufw"},
			},
		},
		FS:       afero.NewMemMapFs(),
		Runner:   runner,
		Services: services,
		Ports:    ports.NewAllocator(ports.Config{}),
		Log:      logging.New(logging.Config{Quiet: true}),
		Output:   &bytes.Buffer{},
		RunID:    "test-run",
	}
}

// stubRuleSource feeds canned advisory rule proposals to the firewall
// configurator.
type stubRuleSource struct {
	rules []string
	ok    bool
}

func (s *stubRuleSource) ProposeRules(ctx context.Context) ([]string, bool) {
	return s.rules, s.ok
}
