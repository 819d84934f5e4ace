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
	"regexp"
	"strconv"
	"strings"

	"github.com/AleutianAI/KodiakPrivacy/cmd/kodiak/internal/pipeline"
)

const firewallUnit = "ufw"

// overlayWireguardPort is the overlay layer's fixed WireGuard port.
const overlayWireguardPort = 41641

// fallbackServiceRules is applied when the advisory service yields
// nothing usable. Scoped to the services a freshly-provisioned host
// actually needs reachable.
var fallbackServiceRules = []string{"allow ssh", "allow http", "allow https"}

// RuleSource proposes firewall service rules. Implementations must
// report unavailability as ok=false, never as an error; the configurator
// falls back to fallbackServiceRules.
type RuleSource interface {
	ProposeRules(ctx context.Context) ([]string, bool)
}

// Rule grammar. Three forms only:
//
//	allow <service-name>
//	allow <port>/<proto>
//	allow from <addr>[/<prefix>] to any port <port> proto <proto>
//
// Anything else - options, deletes, denies, interface pins, arbitrary
// tokens - is rejected. Advisory output feeds this grammar, so it stays
// deliberately small.
var (
	namedServicePattern = regexp.MustCompile(`^allow ([a-z][a-z0-9-]{0,31})$`)
	portProtoPattern    = regexp.MustCompile(`^allow (\d{1,5})/(tcp|udp)$`)
	sourcePortPattern   = regexp.MustCompile(`^allow from (\d{1,3}(?:\.\d{1,3}){3}(?:/\d{1,2})?) to any port (\d{1,5}) proto (tcp|udp)$`)
)

// validateRule checks one candidate rule string against the allowlist
// grammar. Returns a *pipeline.ValidationError describing the rejection.
func validateRule(rule string) error {
	if m := namedServicePattern.FindStringSubmatch(rule); m != nil {
		return nil
	}
	if m := portProtoPattern.FindStringSubmatch(rule); m != nil {
		return checkPort(rule, m[1])
	}
	if m := sourcePortPattern.FindStringSubmatch(rule); m != nil {
		return checkPort(rule, m[2])
	}
	return &pipeline.ValidationError{Item: rule, Reason: "does not match the rule grammar"}
}

func checkPort(rule, portStr string) error {
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return &pipeline.ValidationError{Item: rule, Reason: "port out of range"}
	}
	return nil
}

// RuleSet is an ordered, de-duplicated sequence of validated rule
// strings. Ownership transfers from the builder to the apply step; it
// is not reused across runs.
type RuleSet struct {
	rules []string
	seen  map[string]struct{}
}

// NewRuleSet creates an empty RuleSet.
func NewRuleSet() *RuleSet {
	return &RuleSet{seen: make(map[string]struct{})}
}

// Add validates and appends one rule. A malformed rule is rejected with
// a *pipeline.ValidationError; duplicates are silently skipped.
func (rs *RuleSet) Add(rule string) error {
	rule = strings.ToLower(strings.TrimSpace(rule))
	if err := validateRule(rule); err != nil {
		return err
	}
	if _, dup := rs.seen[rule]; dup {
		return nil
	}
	rs.seen[rule] = struct{}{}
	rs.rules = append(rs.rules, rule)
	return nil
}

// Rules returns the validated rules in insertion order.
func (rs *RuleSet) Rules() []string {
	out := make([]string, len(rs.rules))
	copy(out, rs.rules)
	return out
}

// Firewall configures the packet-filter layer.
//
// # Description
//
// The only non-regenerable layer: rules accumulate inside ufw's own
// state, so the apply resets the filter and rebuilds it from scratch
// instead of merging. Sequence: reset, default-deny-incoming /
// default-allow-outgoing, advisory-or-fallback service rules, mandatory
// layer-port rules, enable. The safety floor (default policies plus
// mandatory layer ports) is applied regardless of advisory output,
// including total advisory unavailability.
type Firewall struct {
	// Rules proposes the service rule set. Nil behaves like an
	// unavailable source (fallback rules apply).
	Rules RuleSource
}

// Name implements pipeline.Stage.
func (s *Firewall) Name() string { return "firewall" }

// Apply resets and rebuilds the packet filter, then enables it.
func (s *Firewall) Apply(ctx context.Context, st *pipeline.State) (*pipeline.UndoAction, error) {
	if _, err := st.Runner.LookPath("ufw"); err != nil {
		return nil, &pipeline.DependencyMissingError{
			Tool: "ufw",
			Hint: "install ufw before provisioning the firewall layer",
		}
	}

	ruleSet := s.buildRuleSet(ctx, st)

	// Reset before policy, policy before rules, enable last. A failed
	// enable leaves the filter disabled, which the undo handles the
	// same as an enabled one.
	setup := [][]string{
		{"--force", "reset"},
		{"default", "deny", "incoming"},
		{"default", "allow", "outgoing"},
	}
	for _, args := range setup {
		if _, err := st.Runner.Run(ctx, "ufw", args...); err != nil {
			return nil, &pipeline.ConfigurationError{
				Action: "apply firewall policy: ufw " + strings.Join(args, " "),
				Err:    err,
			}
		}
	}

	for _, rule := range ruleSet.Rules() {
		if _, err := st.Runner.Run(ctx, "ufw", strings.Fields(rule)...); err != nil {
			return nil, &pipeline.ConfigurationError{
				Action: "apply firewall rule: ufw " + rule,
				Err:    err,
			}
		}
	}

	if _, err := st.Runner.Run(ctx, "ufw", "--force", "enable"); err != nil {
		return nil, &pipeline.ConfigurationError{
			Action: "enable firewall",
			Err:    err,
		}
	}

	st.Log.Info("firewall enabled", "rules", len(ruleSet.Rules()))
	fmt.Fprintf(st.Output, "    firewall enabled with %d rule(s)\n", len(ruleSet.Rules()))

	runner := st.Runner
	return &pipeline.UndoAction{
		Stage: s.Name(),
		Desc:  "disable and reset firewall",
		Run: func(ctx context.Context) error {
			if _, err := runner.Run(ctx, "ufw", "--force", "disable"); err != nil {
				return err
			}
			_, err := runner.Run(ctx, "ufw", "--force", "reset")
			return err
		},
	}, nil
}

// buildRuleSet merges the advisory-proposed rules with the mandatory
// layer-port rules. Malformed advisory rules are dropped with a
// warning; the mandatory rules are generated locally and always
// present.
func (s *Firewall) buildRuleSet(ctx context.Context, st *pipeline.State) *RuleSet {
	ruleSet := NewRuleSet()

	proposed, ok := []string(nil), false
	if s.Rules != nil {
		proposed, ok = s.Rules.ProposeRules(ctx)
	}
	if !ok || len(proposed) == 0 {
		st.Log.Warn("advisory rule proposal unavailable, using fallback service rules")
		fmt.Fprintf(st.Output, "    advisory unavailable, using fallback rules %v\n", fallbackServiceRules)
		proposed = fallbackServiceRules
	}

	for _, rule := range proposed {
		if err := ruleSet.Add(rule); err != nil {
			// Local, non-fatal: drop the rule, keep going.
			st.Log.Warn("dropping malformed firewall rule", "rule", rule, "error", err)
		}
	}

	for _, rule := range s.mandatoryRules(st) {
		if err := ruleSet.Add(rule); err != nil {
			// Unreachable for generated rules; logged for safety.
			st.Log.Error("mandatory firewall rule rejected", "rule", rule, "error", err)
		}
	}

	return ruleSet
}

// mandatoryRules produces the layer-port rules that must survive
// regardless of advisory output: the overlay's WireGuard port, the
// garlic router's transport port, and loopback-only access to the
// hidden-service forward port and the anonymity layers' control ports.
func (s *Firewall) mandatoryRules(st *pipeline.State) []string {
	rules := []string{
		fmt.Sprintf("allow %d/udp", overlayWireguardPort),
		fmt.Sprintf("allow from 127.0.0.1 to any port %d proto tcp", onionControlPort),
		fmt.Sprintf("allow from 127.0.0.1 to any port %d proto tcp", garlicConsolePort),
	}
	if port, ok := st.AllocationFor("onion", "hidden-service-forward"); ok {
		rules = append(rules, fmt.Sprintf("allow from 127.0.0.1 to any port %d proto tcp", port))
	}
	if port, ok := st.AllocationFor("garlic", "router-transport"); ok {
		rules = append(rules,
			fmt.Sprintf("allow %d/udp", port),
			fmt.Sprintf("allow %d/tcp", port))
	}
	return rules
}

var _ pipeline.Stage = (*Firewall)(nil)
