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
Package advisor wraps the external generative advisory service behind a
narrow best-effort interface.

The advisory service is consulted in exactly two situations: proposing a
corrective action after a recoverable stage failure, and proposing
firewall service rules. In both cases its output is untrusted input.
Nothing the service returns is ever executed; suggestions are parsed
against a closed allowlist (corrective.go) or a rule grammar owned by
the firewall configurator, and anything unmappable is discarded.

Transport failures, malformed responses, and empty suggestions are all
reported as "no suggestion" (ok=false), never as errors. The pipeline
must behave identically whether the service is down or merely unhelpful.
*/
package advisor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/AleutianAI/KodiakPrivacy/pkg/logging"
)

const (
	// maxErrorText bounds the failure detail included in a prompt.
	// Keeps the request size predictable and avoids shipping entire
	// daemon logs to an external service.
	maxErrorText = 2048

	// maxResponseBody bounds how much of a response we will read.
	maxResponseBody = 1 << 20
)

// suggestRequest is the advisory service's wire request.
type suggestRequest struct {
	Prompt string `json:"prompt"`
}

// suggestResponse is the advisory service's wire response.
type suggestResponse struct {
	Response string `json:"response"`
}

// Client talks to the advisory endpoint.
//
// The zero value is not usable; create via NewClient.
type Client struct {
	httpClient *http.Client
	apiKey     string
	endpoint   string
	log        *logging.Logger
}

// NewClient creates an advisory client for the configured endpoint.
//
// # Inputs
//
//   - endpoint: full URL of the advisory service
//   - apiKey: sent as the X-Goog-Api-Key header
//   - log: logger for warn-level diagnostics; nil uses the default
func NewClient(endpoint, apiKey string, log *logging.Logger) *Client {
	if log == nil {
		log = logging.Default()
	}
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		apiKey:     apiKey,
		endpoint:   endpoint,
		log:        log,
	}
}

// Suggest asks the advisory service for a corrective suggestion.
//
// # Description
//
// Builds a bounded prompt from the failing action and its error text and
// POSTs it to the endpoint. Any transport failure, non-200 status,
// malformed body, or empty suggestion yields ("", false) with a logged
// warning. Remediation is best-effort; the caller falls back to its
// default behavior on false.
//
// # Outputs
//
//   - string: the raw suggestion text (untrusted - parse before use)
//   - bool: false when no usable suggestion was obtained
func (c *Client) Suggest(ctx context.Context, action, errText string) (string, bool) {
	if c.endpoint == "" {
		return "", false
	}

	if len(errText) > maxErrorText {
		errText = errText[:maxErrorText]
	}

	prompt := fmt.Sprintf(
		"While provisioning a host privacy stack, the action %q failed with this error:\n%s\n"+
			"Reply with a single corrective action: 'restart-service <unit>', 'daemon-reload', or 'retry'.",
		action, errText)

	text, err := c.post(ctx, prompt)
	if err != nil {
		c.log.Warn("advisory service unavailable", "action", action, "error", err)
		return "", false
	}

	text = strings.TrimSpace(text)
	if text == "" {
		c.log.Warn("advisory service returned an empty suggestion", "action", action)
		return "", false
	}
	return text, true
}

// ProposeRules asks the advisory service for firewall service rules.
//
// Returns one candidate rule string per line of the response. Every
// candidate must still pass the firewall configurator's allowlist
// grammar; this method does no validation of its own.
func (c *Client) ProposeRules(ctx context.Context) ([]string, bool) {
	if c.endpoint == "" {
		return nil, false
	}

	prompt := "Propose ufw allow rules for a host running ssh and web services. " +
		"Reply with one rule per line in the form 'allow <service>' or 'allow <port>/<proto>'. " +
		"No commentary."

	text, err := c.post(ctx, prompt)
	if err != nil {
		c.log.Warn("advisory service unavailable for rule proposal", "error", err)
		return nil, false
	}

	var rules []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			rules = append(rules, line)
		}
	}
	if len(rules) == 0 {
		return nil, false
	}
	return rules, true
}

// post performs one request/response round trip.
func (c *Client) post(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(suggestRequest{Prompt: prompt})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-Goog-Api-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var parsed suggestResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", fmt.Errorf("malformed response: %w", err)
	}
	return parsed.Response, nil
}
