// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package tracker shells out to the bd issue-tracker CLI for listing,
// inspecting, and mutating the backlog. Output is parsed as JSON directly
// in-process rather than shelled out to jq.
package tracker

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	"github.com/hashicorp/go-hclog"
)

// BD wraps the bd CLI.
type BD struct {
	ProjectRoot string

	logger hclog.Logger
}

// New creates a BD collaborator rooted at projectRoot.
func New(projectRoot string) *BD {
	return &BD{
		ProjectRoot: projectRoot,
		logger: hclog.New(&hclog.LoggerOptions{
			Name:  "tracker.bd",
			Level: hclog.Debug,
		}),
	}
}

func (b *BD) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "bd", args...)
	cmd.Dir = b.ProjectRoot
	b.logger.Debug("running bd command", "args", args)
	output, err := cmd.CombinedOutput()
	if err != nil {
		b.logger.Debug("bd command failed", "args", args, "output", string(output), "error", err)
		return "", fmt.Errorf("bd %s failed: %w, output: %s", strings.Join(args, " "), err, string(output))
	}
	return string(output), nil
}

// Issue is the shape of one issue as bd reports it via --json.
type Issue struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Status   string `json:"status"`
	Priority int    `json:"priority"`
	Body     string `json:"body"`
}

// ReadyIssues returns the ids of issues bd reports as ready (unblocked),
// in the tracker's own priority order.
func (b *BD) ReadyIssues(ctx context.Context) ([]string, error) {
	output, err := b.run(ctx, "ready", "--json")
	if err != nil {
		return nil, fmt.Errorf("failed to list ready issues: %w", err)
	}
	var issues []Issue
	if err := json.Unmarshal([]byte(output), &issues); err != nil {
		return nil, fmt.Errorf("failed to parse ready issues: %w", err)
	}
	ids := make([]string, len(issues))
	for i, iss := range issues {
		ids[i] = iss.ID
	}
	return ids, nil
}

// BlockedIssues returns the ids of issues bd reports as blocked.
func (b *BD) BlockedIssues(ctx context.Context) ([]string, error) {
	output, err := b.run(ctx, "blocked", "--json")
	if err != nil {
		return nil, fmt.Errorf("failed to list blocked issues: %w", err)
	}
	var issues []Issue
	if err := json.Unmarshal([]byte(output), &issues); err != nil {
		return nil, fmt.Errorf("failed to parse blocked issues: %w", err)
	}
	ids := make([]string, len(issues))
	for i, iss := range issues {
		ids[i] = iss.ID
	}
	return ids, nil
}

// Show fetches the full record for a single issue.
func (b *BD) Show(ctx context.Context, id string) (*Issue, error) {
	output, err := b.run(ctx, "show", id, "--json")
	if err != nil {
		return nil, fmt.Errorf("failed to show issue %s: %w", id, err)
	}
	var issue Issue
	if err := json.Unmarshal([]byte(output), &issue); err != nil {
		return nil, fmt.Errorf("failed to parse issue %s: %w", id, err)
	}
	return &issue, nil
}

// UpdateStatus sets an issue's tracker-side status.
func (b *BD) UpdateStatus(ctx context.Context, id, status string) error {
	_, err := b.run(ctx, "update", id, "--status", status)
	if err != nil {
		return fmt.Errorf("failed to update status for %s: %w", id, err)
	}
	return nil
}

// Close closes an issue with a reason.
func (b *BD) Close(ctx context.Context, id, reason string) error {
	_, err := b.run(ctx, "close", id, "--reason", reason)
	if err != nil {
		return fmt.Errorf("failed to close issue %s: %w", id, err)
	}
	return nil
}

// AddDependency records that issue `on` must complete before `id`.
func (b *BD) AddDependency(ctx context.Context, id, on string) error {
	_, err := b.run(ctx, "dep", "add", id, on)
	if err != nil {
		return fmt.Errorf("failed to add dependency %s -> %s: %w", id, on, err)
	}
	return nil
}

type commentEnvelope struct {
	Body string `json:"body"`
}

// Comments returns the raw comment bodies for id, oldest first.
func (b *BD) Comments(ctx context.Context, id string) ([]string, error) {
	output, err := b.run(ctx, "comments", id, "--json")
	if err != nil {
		return nil, fmt.Errorf("failed to fetch comments for %s: %w", id, err)
	}
	var envelopes []commentEnvelope
	if err := json.Unmarshal([]byte(output), &envelopes); err != nil {
		return nil, fmt.Errorf("failed to parse comments for %s: %w", id, err)
	}
	bodies := make([]string, len(envelopes))
	for i, e := range envelopes {
		bodies[i] = e.Body
	}
	return bodies, nil
}
