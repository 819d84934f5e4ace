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
	"fmt"
	"path/filepath"

	"github.com/AleutianAI/KodiakPrivacy/cmd/kodiak/internal/pipeline"
)

const (
	onionUnit = "tor"

	// Fixed by Tor convention; both live in the allocator's reserved
	// blocklist.
	onionSocksPort   = 9050
	onionControlPort = 9051

	onionHiddenServiceDir = "/var/lib/tor/kodiak_hidden_service"
)

// OnionRouting configures the onion-routing layer: rewrites the torrc
// generated section with the hidden-service definition and restarts the
// daemon.
type OnionRouting struct{}

// Name implements pipeline.Stage.
func (s *OnionRouting) Name() string { return "onion-routing" }

// Apply allocates the hidden service's forward port, installs the torrc
// generated section, and restarts tor.
func (s *OnionRouting) Apply(ctx context.Context, st *pipeline.State) (*pipeline.UndoAction, error) {
	if _, err := st.Runner.LookPath("tor"); err != nil {
		return nil, &pipeline.DependencyMissingError{
			Tool: "tor",
			Hint: "install tor before provisioning the onion-routing layer",
		}
	}

	// Re-runs reuse the port already granted this run; a fresh run
	// draws a fresh one. The torrc is the durable record.
	forwardPort, ok := st.AllocationFor("onion", "hidden-service-forward")
	if !ok {
		var err error
		forwardPort, err = st.Allocate("onion", "hidden-service-forward")
		if err != nil {
			return nil, err
		}
	}

	body := fmt.Sprintf(`SocksPort %d
ControlPort %d
CookieAuthentication 1
HiddenServiceDir %s
HiddenServicePort 80 127.0.0.1:%d`,
		onionSocksPort, onionControlPort, onionHiddenServiceDir, forwardPort)

	path := filepath.Join(st.Config.Paths.Onion.Path, "torrc")
	existed, err := writeGeneratedSection(st.FS, path, "#", body)
	if err != nil {
		return nil, &pipeline.ConfigurationError{
			Action: "write onion-routing directives",
			Err:    err,
		}
	}
	st.Log.Info("onion-routing directives written", "path", path, "forward_port", forwardPort)
	fmt.Fprintf(st.Output, "    wrote %s (hidden service -> 127.0.0.1:%d)\n", path, forwardPort)

	if err := st.Services.Restart(ctx, onionUnit); err != nil {
		return nil, &pipeline.ConfigurationError{
			Action: fmt.Sprintf("restart onion-routing service %s", onionUnit),
			Err:    err,
		}
	}

	fs := st.FS
	services := st.Services
	return &pipeline.UndoAction{
		Stage: s.Name(),
		Desc:  "remove onion-routing directives and stop " + onionUnit,
		Run: func(ctx context.Context) error {
			if err := stripGeneratedSection(fs, path, "#", existed); err != nil {
				return err
			}
			return services.Stop(ctx, onionUnit)
		},
	}, nil
}

var _ pipeline.Stage = (*OnionRouting)(nil)
