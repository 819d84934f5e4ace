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
	overlayUnit    = "tailscaled"
	overlayACLFile = "kodiak-acl.hujson"
)

// aclPolicy is the overlay ACL descriptor body. Grants within-tailnet
// reachability plus SSH between tagged hosts; the tailnet admin applies
// it to the control plane.
const aclPolicy = `{
	"tagOwners": {
		"tag:kodiak": ["autogroup:admin"],
	},
	"acls": [
		{"action": "accept", "src": ["tag:kodiak"], "dst": ["tag:kodiak:*"]},
		{"action": "accept", "src": ["autogroup:member"], "dst": ["autogroup:self:*"]},
	],
	"ssh": [
		{"action": "check", "src": ["autogroup:member"], "dst": ["autogroup:self"], "users": ["autogroup:nonroot"]},
	],
}`

// OverlayACL generates the overlay network's ACL policy descriptor.
// First stage of the pipeline: it produces a file only, so a failure
// here aborts before any service has been touched.
type OverlayACL struct{}

// Name implements pipeline.Stage.
func (s *OverlayACL) Name() string { return "overlay-acl" }

// Apply writes the ACL descriptor into the overlay configuration
// directory.
func (s *OverlayACL) Apply(ctx context.Context, st *pipeline.State) (*pipeline.UndoAction, error) {
	if _, err := st.Runner.LookPath("tailscale"); err != nil {
		return nil, &pipeline.DependencyMissingError{
			Tool: "tailscale",
			Hint: "install tailscale before provisioning the overlay layer",
		}
	}

	dir := st.Config.Paths.Overlay.Path
	if err := st.FS.MkdirAll(dir, 0755); err != nil {
		return nil, &pipeline.ConfigurationError{
			Action: "create overlay configuration directory",
			Err:    err,
		}
	}

	path := filepath.Join(dir, overlayACLFile)
	existed, err := writeGeneratedSection(st.FS, path, "//", aclPolicy)
	if err != nil {
		return nil, &pipeline.ConfigurationError{
			Action: "write overlay ACL descriptor",
			Err:    err,
		}
	}
	st.Log.Info("overlay ACL descriptor written", "path", path)
	fmt.Fprintf(st.Output, "    wrote %s\n", path)

	fs := st.FS
	return &pipeline.UndoAction{
		Stage: s.Name(),
		Desc:  "remove overlay ACL descriptor",
		Run: func(ctx context.Context) error {
			return stripGeneratedSection(fs, path, "//", existed)
		},
	}, nil
}

// OverlayUp activates the overlay network. Deliberately the last stage:
// routes are advertised only after every other layer is live.
type OverlayUp struct{}

// Name implements pipeline.Stage.
func (s *OverlayUp) Name() string { return "overlay-up" }

// Apply enables and starts the overlay daemon, then joins the tailnet.
// Both are service-level actions, so failures are recoverable
// configuration errors eligible for remediation.
func (s *OverlayUp) Apply(ctx context.Context, st *pipeline.State) (*pipeline.UndoAction, error) {
	if err := st.Services.Enable(ctx, overlayUnit); err != nil {
		return nil, &pipeline.ConfigurationError{
			Action: fmt.Sprintf("enable overlay service %s", overlayUnit),
			Err:    err,
		}
	}
	if err := st.Services.Start(ctx, overlayUnit); err != nil {
		return nil, &pipeline.ConfigurationError{
			Action: fmt.Sprintf("start overlay service %s", overlayUnit),
			Err:    err,
		}
	}

	args := []string{"up"}
	if key := st.Config.Credentials.TailscaleAuthKey; key != "" {
		args = append(args, "--auth-key="+key)
	}
	if _, err := st.Runner.Run(ctx, "tailscale", args...); err != nil {
		return nil, &pipeline.ConfigurationError{
			Action: "join overlay network (tailscale up)",
			Err:    err,
		}
	}

	st.Log.Info("overlay network activated", "unit", overlayUnit)
	fmt.Fprintf(st.Output, "    overlay network up\n")

	runner := st.Runner
	services := st.Services
	return &pipeline.UndoAction{
		Stage: s.Name(),
		Desc:  "leave overlay network and stop " + overlayUnit,
		Run: func(ctx context.Context) error {
			_, downErr := runner.Run(ctx, "tailscale", "down")
			stopErr := services.Stop(ctx, overlayUnit)
			if downErr != nil {
				return downErr
			}
			return stopErr
		},
	}, nil
}

// Compile-time interface compliance check.
var (
	_ pipeline.Stage = (*OverlayACL)(nil)
	_ pipeline.Stage = (*OverlayUp)(nil)
)
