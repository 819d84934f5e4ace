// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package advisor

import (
	"regexp"
	"strings"
)

// CorrectiveKind enumerates the closed set of corrective actions the
// remediation loop may take. There is deliberately no "run this
// command" member: advisory output is untrusted and is never executed.
type CorrectiveKind int

const (
	// CorrectiveRetry re-attempts the failed stage with no other action.
	CorrectiveRetry CorrectiveKind = iota

	// CorrectiveRestartService restarts one of the stack's own units
	// before re-attempting the stage.
	CorrectiveRestartService

	// CorrectiveDaemonReload reloads unit definitions before
	// re-attempting the stage.
	CorrectiveDaemonReload
)

// String returns the corrective's canonical spelling.
func (k CorrectiveKind) String() string {
	switch k {
	case CorrectiveRetry:
		return "retry"
	case CorrectiveRestartService:
		return "restart-service"
	case CorrectiveDaemonReload:
		return "daemon-reload"
	default:
		return "unknown"
	}
}

// Corrective is one parsed, parameterized corrective action.
type Corrective struct {
	Kind CorrectiveKind

	// Unit is set only for CorrectiveRestartService and is always one
	// of the stack's own units.
	Unit string
}

// allowedUnits are the only units a suggested restart may touch. A
// suggestion restarting anything else is discarded.
var allowedUnits = map[string]struct{}{
	"tailscaled": {},
	"tor":        {},
	"i2p":        {},
	"i2pd":       {},
	"ufw":        {},
}

var (
	restartPattern = regexp.MustCompile(`restart[- ]service\s+([a-z0-9@._-]+)`)
	// Loose fallback: "restart the tor service", "try restarting tor".
	looseRestartPattern = regexp.MustCompile(`restart(?:ing)?(?:\s+the)?\s+([a-z0-9@._-]+)`)
)

// ParseCorrective maps free-form advisory text onto the corrective
// allowlist.
//
// # Description
//
// Matching is intentionally narrow. Canonical spellings are recognized
// first ("restart-service tor", "daemon-reload", "retry"), then a loose
// restart phrasing as long as the named unit is one of the stack's own.
// Anything else - including any text that looks like a shell command -
// returns ok=false and the caller proceeds as if no suggestion existed.
//
// # Outputs
//
//   - Corrective: the parsed action (zero value when ok is false)
//   - bool: false when the text maps to nothing on the allowlist
func ParseCorrective(text string) (Corrective, bool) {
	normalized := strings.ToLower(strings.TrimSpace(text))
	if normalized == "" {
		return Corrective{}, false
	}

	// Anything carrying shell syntax is refused outright, even if a
	// recognizable phrase is embedded in it.
	if strings.ContainsAny(normalized, ";|&`$><") {
		return Corrective{}, false
	}

	if m := restartPattern.FindStringSubmatch(normalized); m != nil {
		if unit, ok := allowedUnit(m[1]); ok {
			return Corrective{Kind: CorrectiveRestartService, Unit: unit}, true
		}
		return Corrective{}, false
	}

	if strings.Contains(normalized, "daemon-reload") || strings.Contains(normalized, "daemon reload") {
		return Corrective{Kind: CorrectiveDaemonReload}, true
	}

	if normalized == "retry" || strings.HasPrefix(normalized, "retry ") {
		return Corrective{Kind: CorrectiveRetry}, true
	}

	if m := looseRestartPattern.FindStringSubmatch(normalized); m != nil {
		if unit, ok := allowedUnit(m[1]); ok {
			return Corrective{Kind: CorrectiveRestartService, Unit: unit}, true
		}
	}

	return Corrective{}, false
}

// allowedUnit canonicalizes a suggested unit name and checks it against
// the allowlist. A ".service" suffix is tolerated.
func allowedUnit(name string) (string, bool) {
	name = strings.TrimSuffix(name, ".service")
	if _, ok := allowedUnits[name]; ok {
		return name, true
	}
	return "", false
}
