// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

/*
Package layers holds the four layer configurators: overlay network
(Tailscale), onion routing (Tor), garlic routing (I2P), and the packet
filter (UFW).

Each configurator applies one layer's configuration and is independently
idempotent: generated file content lives between marker lines, and
re-applying replaces the marked block instead of appending a duplicate.
Host files outside the markers are never touched.
*/
package layers

import (
	"fmt"
	"strings"

	"github.com/spf13/afero"
)

// Marker text delimiting a generated section. The comment prefix varies
// by file syntax ("#" for torrc and properties, "//" for HuJSON).
const (
	beginMarkerText = "BEGIN KODIAK GENERATED SECTION - do not edit between markers"
	endMarkerText   = "END KODIAK GENERATED SECTION"
)

// renderSection produces the marker-delimited block for a body.
func renderSection(comment, body string) string {
	var b strings.Builder
	b.WriteString(comment + " " + beginMarkerText + "\n")
	b.WriteString(strings.TrimRight(body, "\n"))
	b.WriteString("\n" + comment + " " + endMarkerText + "\n")
	return b.String()
}

// replaceSection returns content with its generated section replaced by
// the given block, or with the block appended if no section exists yet.
// Idempotent: applying the same block twice yields identical content.
func replaceSection(content, comment, block string) string {
	begin := comment + " " + beginMarkerText
	end := comment + " " + endMarkerText

	lines := strings.Split(content, "\n")
	beginIdx, endIdx := -1, -1
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if beginIdx == -1 && trimmed == begin {
			beginIdx = i
		} else if beginIdx != -1 && trimmed == end {
			endIdx = i
			break
		}
	}

	if beginIdx == -1 || endIdx == -1 {
		// No prior section (or a damaged one with no end marker -
		// leave the damage alone and append a clean section).
		if strings.TrimSpace(content) == "" {
			return block
		}
		return strings.TrimRight(content, "\n") + "\n\n" + block
	}

	var b strings.Builder
	for _, line := range lines[:beginIdx] {
		b.WriteString(line + "\n")
	}
	b.WriteString(strings.TrimRight(block, "\n") + "\n")
	tail := lines[endIdx+1:]
	for _, line := range tail {
		b.WriteString(line + "\n")
	}
	out := b.String()
	// Collapse the trailing newline run the split/join cycle can grow.
	return strings.TrimRight(out, "\n") + "\n"
}

// removeSection returns content with the generated section stripped.
// Content without a section comes back unchanged.
func removeSection(content, comment string) string {
	begin := comment + " " + beginMarkerText
	end := comment + " " + endMarkerText

	lines := strings.Split(content, "\n")
	var kept []string
	inSection := false
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		switch {
		case !inSection && trimmed == begin:
			inSection = true
		case inSection && trimmed == end:
			inSection = false
		case !inSection:
			kept = append(kept, line)
		}
	}
	out := strings.Join(kept, "\n")
	if strings.TrimSpace(out) == "" {
		return ""
	}
	return strings.TrimRight(out, "\n") + "\n"
}

// writeGeneratedSection installs the body as the file's generated
// section, creating the file if needed. Returns whether the file
// existed before, for the undo action.
func writeGeneratedSection(fs afero.Fs, path, comment, body string) (existed bool, err error) {
	block := renderSection(comment, body)

	existed, err = afero.Exists(fs, path)
	if err != nil {
		return false, fmt.Errorf("checking %s: %w", path, err)
	}

	content := ""
	if existed {
		data, err := afero.ReadFile(fs, path)
		if err != nil {
			return existed, fmt.Errorf("reading %s: %w", path, err)
		}
		content = string(data)
	}

	next := replaceSection(content, comment, block)
	if err := afero.WriteFile(fs, path, []byte(next), 0644); err != nil {
		return existed, fmt.Errorf("writing %s: %w", path, err)
	}
	return existed, nil
}

// stripGeneratedSection removes the generated section from the file.
// If this run created the file and stripping empties it, the file is
// deleted. Used by undo actions.
func stripGeneratedSection(fs afero.Fs, path, comment string, existedBefore bool) error {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	stripped := removeSection(string(data), comment)
	if stripped == "" && !existedBefore {
		return fs.Remove(path)
	}
	return afero.WriteFile(fs, path, []byte(stripped), 0644)
}
