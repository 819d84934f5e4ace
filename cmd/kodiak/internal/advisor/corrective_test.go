// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package advisor

import "testing"

func TestParseCorrective(t *testing.T) {
	tests := []struct {
		name string
		text string
		want Corrective
		ok   bool
	}{
		{
			name: "canonical restart",
			text: "restart-service tor",
			want: Corrective{Kind: CorrectiveRestartService, Unit: "tor"},
			ok:   true,
		},
		{
			name: "restart with service suffix",
			text: "restart-service tor.service",
			want: Corrective{Kind: CorrectiveRestartService, Unit: "tor"},
			ok:   true,
		},
		{
			name: "loose restart phrasing",
			text: "Try restarting the i2pd daemon, that usually clears this up.",
			want: Corrective{Kind: CorrectiveRestartService, Unit: "i2pd"},
			ok:   true,
		},
		{
			name: "daemon reload",
			text: "Run a daemon-reload and try again",
			want: Corrective{Kind: CorrectiveDaemonReload},
			ok:   true,
		},
		{
			name: "plain retry",
			text: "retry",
			want: Corrective{Kind: CorrectiveRetry},
			ok:   true,
		},
		{
			name: "retry with trailing text",
			text: "retry the stage once the service settles",
			want: Corrective{Kind: CorrectiveRetry},
			ok:   true,
		},
		{
			name: "restart of a foreign unit is rejected",
			text: "restart-service sshd",
			ok:   false,
		},
		{
			name: "shell command is rejected",
			text: "rm -rf /etc/tor && systemctl restart tor",
			ok:   false,
		},
		{
			name: "arbitrary prose is rejected",
			text: "You should check the configuration file for syntax errors.",
			ok:   false,
		},
		{
			name: "empty",
			text: "   ",
			ok:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseCorrective(tt.text)
			if ok != tt.ok {
				t.Fatalf("ParseCorrective(%q) ok = %v, want %v", tt.text, ok, tt.ok)
			}
			if ok && got != tt.want {
				t.Errorf("ParseCorrective(%q) = %+v, want %+v", tt.text, got, tt.want)
			}
		})
	}
}

func TestCorrectiveKind_String(t *testing.T) {
	tests := []struct {
		kind CorrectiveKind
		want string
	}{
		{CorrectiveRetry, "retry"},
		{CorrectiveRestartService, "restart-service"},
		{CorrectiveDaemonReload, "daemon-reload"},
		{CorrectiveKind(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.kind.String(); got != tt.want {
			t.Errorf("CorrectiveKind(%d).String() = %q, want %q", tt.kind, got, tt.want)
		}
	}
}
