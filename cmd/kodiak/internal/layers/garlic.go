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
	"strings"

	"github.com/spf13/afero"

	"github.com/AleutianAI/KodiakPrivacy/cmd/kodiak/internal/pipeline"
)

// Fixed by I2P convention; reserved in the allocator's blocklist.
const garlicConsolePort = 7657

// GarlicRouting configures the garlic-routing layer: rewrites the
// router.config generated properties block and restarts the router.
type GarlicRouting struct{}

// Name implements pipeline.Stage.
func (s *GarlicRouting) Name() string { return "garlic-routing" }

// Apply requires the router's configuration directory to already exist:
// its absence means the router was never installed, which is a missing
// dependency, not something a corrective command can fix.
func (s *GarlicRouting) Apply(ctx context.Context, st *pipeline.State) (*pipeline.UndoAction, error) {
	dir := st.Config.Paths.Garlic.Path
	exists, err := afero.DirExists(st.FS, dir)
	if err != nil {
		return nil, &pipeline.ConfigurationError{
			Action: "check garlic-routing configuration directory " + dir,
			Err:    err,
		}
	}
	if !exists {
		return nil, &pipeline.DependencyMissingError{
			Tool: dir,
			Hint: "install an I2P router before provisioning the garlic-routing layer",
		}
	}

	transportPort, ok := st.AllocationFor("garlic", "router-transport")
	if !ok {
		transportPort, err = st.Allocate("garlic", "router-transport")
		if err != nil {
			return nil, err
		}
	}

	body := fmt.Sprintf(`i2np.udp.port=%d
i2np.ntcp2.port=%d
routerconsole.port=%d
routerconsole.lang=en
i2np.upnp.enable=false`,
		transportPort, transportPort, garlicConsolePort)

	path := filepath.Join(dir, "router.config")
	existed, err := writeGeneratedSection(st.FS, path, "#", body)
	if err != nil {
		return nil, &pipeline.ConfigurationError{
			Action: "write garlic-routing properties",
			Err:    err,
		}
	}

	unit := garlicUnit(dir)
	st.Log.Info("garlic-routing properties written",
		"path", path, "transport_port", transportPort, "unit", unit)
	fmt.Fprintf(st.Output, "    wrote %s (transport port %d)\n", path, transportPort)

	if err := st.Services.Restart(ctx, unit); err != nil {
		return nil, &pipeline.ConfigurationError{
			Action: fmt.Sprintf("restart garlic-routing service %s", unit),
			Err:    err,
		}
	}

	fs := st.FS
	services := st.Services
	return &pipeline.UndoAction{
		Stage: s.Name(),
		Desc:  "remove garlic-routing properties and stop " + unit,
		Run: func(ctx context.Context) error {
			if err := stripGeneratedSection(fs, path, "#", existed); err != nil {
				return err
			}
			return services.Stop(ctx, unit)
		},
	}, nil
}

// garlicUnit picks the service unit matching the installed router
// flavor: the C++ router (i2pd) keeps its config under /etc/i2pd, the
// Java router anywhere else.
func garlicUnit(configDir string) string {
	if strings.Contains(configDir, "i2pd") {
		return "i2pd"
	}
	return "i2p"
}

var _ pipeline.Stage = (*GarlicRouting)(nil)
