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

// Package batchplanner loads manifest annotations from issue-tracker
// comments and greedily packs ready issues into conflict-free batches for
// the worker pool.
package batchplanner

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/kadirpekel/noface/pkg/model"
)

// Tracker is the narrow slice of the issue-tracker collaborator this
// package needs.
type Tracker interface {
	ReadyIssues(ctx context.Context) ([]string, error)
	Comments(ctx context.Context, issueID string) ([]string, error)
}

// Store is the narrow slice of the state store this package needs.
type Store interface {
	SetManifest(id string, m *model.Manifest)
	GetManifest(id string) *model.Manifest
	IssuesConflict(a, b string) bool
	ClearPendingBatches()
	AddBatch(issueIDs []string) int
}

// Planner loads manifests and packs batches.
type Planner struct {
	tracker Tracker
	store   Store
}

// New creates a Planner backed by the given tracker and state store.
func New(tracker Tracker, store Store) *Planner {
	return &Planner{tracker: tracker, store: store}
}

// manifestMarker matches a MANIFEST: line, e.g.
//
//	MANIFEST: primary=[a.go,b.go] read=[c.go] forbidden=[d.go]
var manifestMarker = regexp.MustCompile(`MANIFEST:\s*primary=\[([^\]]*)\]\s*read=\[([^\]]*)\]\s*forbidden=\[([^\]]*)\]`)

// parseList splits a comma-separated bracket body and trims whitespace
// from each entry, dropping empties.
func parseList(body string) []string {
	if strings.TrimSpace(body) == "" {
		return nil
	}
	parts := strings.Split(body, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// parseManifest scans comment text for a MANIFEST: marker line and parses
// it into a Manifest. Returns nil, false if no marker is found or the
// parsed manifest has no primary files.
func parseManifest(comment string) (*model.Manifest, bool) {
	match := manifestMarker.FindStringSubmatch(comment)
	if match == nil {
		return nil, false
	}
	m := &model.Manifest{
		PrimaryFiles:   parseList(match[1]),
		ReadFiles:      parseList(match[2]),
		ForbiddenFiles: parseList(match[3]),
	}
	if len(m.PrimaryFiles) == 0 {
		return nil, false
	}
	return m, true
}

// LoadManifests fetches comments for every ready issue and stores the most
// recent well-formed MANIFEST: declaration found, if any. Returns the
// ordered list of ready issue ids that ended up with a manifest.
func (p *Planner) LoadManifests(ctx context.Context) ([]string, error) {
	ready, err := p.tracker.ReadyIssues(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list ready issues: %w", err)
	}

	var withManifest []string
	for _, id := range ready {
		comments, err := p.tracker.Comments(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch comments for %s: %w", id, err)
		}

		var found *model.Manifest
		for _, c := range comments {
			if m, ok := parseManifest(c); ok {
				found = m
			}
		}
		if found == nil {
			slog.Debug("batchplanner: no manifest found for ready issue", "issue", id)
			continue
		}
		p.store.SetManifest(id, found)
		withManifest = append(withManifest, id)
	}

	return withManifest, nil
}

// PlanBatches clears the pending batch queue and greedily repacks R (the
// ordered list of ready issues with manifests) into conflict-free batches:
// for each issue in R order, it joins the first in-progress batch it does
// not conflict with any current member of, else starts a new batch.
// Deterministic for identical R and manifests. Returns the number of
// batches created.
func (p *Planner) PlanBatches(r []string) int {
	p.store.ClearPendingBatches()

	assigned := make(map[string]bool, len(r))
	batches := 0

	for len(assigned) < len(r) {
		var batch []string
		for _, id := range r {
			if assigned[id] {
				continue
			}
			conflicts := false
			for _, member := range batch {
				if p.store.IssuesConflict(id, member) {
					conflicts = true
					break
				}
			}
			if !conflicts {
				batch = append(batch, id)
				assigned[id] = true
			}
		}
		if len(batch) == 0 {
			break
		}
		p.store.AddBatch(batch)
		batches++
	}

	return batches
}
