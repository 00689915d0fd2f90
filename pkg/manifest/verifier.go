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

// Package manifest diffs a worker's workspace against a pre-recorded
// baseline, classifies every newly touched path against the issue's
// manifest, and drives selective rollback of anything out of contract.
package manifest

import (
	"context"
	"fmt"

	"github.com/kadirpekel/noface/pkg/model"
)

// ChangeLister is the narrow slice of the VCS collaborator this package
// needs: the union of modified, added, and deleted paths in the working
// copy, and the ability to restore one path to its parent revision.
type ChangeLister interface {
	ChangedPaths(ctx context.Context) ([]string, error)
	RestorePath(ctx context.Context, path string) error
}

// ComplianceResult is the outcome of verifying one attempt against its
// manifest.
type ComplianceResult struct {
	Compliant bool

	FilesActuallyTouched []string
	ForbiddenFilesTouched []string
	UnauthorizedFiles    []string

	// Instrumentation: predicted is a copy of the manifest's
	// primary_files taken at Verify time, as is everything derived from it.
	ManifestFilesPredicted []string
	FalsePositives         []string // predicted but untouched
	FalseNegatives         []string // touched but unpredicted
	Accuracy               float64  // |predicted ∩ touched| / |predicted ∪ touched|; NaN if both empty
}

// Verifier captures workspace baselines and verifies post-agent changes
// against an issue's manifest.
type Verifier struct {
	vcs ChangeLister
}

// New creates a Verifier backed by the given VCS collaborator.
func New(vcs ChangeLister) *Verifier {
	return &Verifier{vcs: vcs}
}

// CaptureBaseline asks the VCS collaborator for the deduplicated set of
// paths already dirty in the working copy before an agent runs.
func (v *Verifier) CaptureBaseline(ctx context.Context) (map[string]bool, error) {
	paths, err := v.vcs.ChangedPaths(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to capture baseline: %w", err)
	}
	baseline := make(map[string]bool, len(paths))
	for _, p := range paths {
		baseline[p] = true
	}
	return baseline, nil
}

// Verify re-enumerates changed paths, subtracts baseline, and classifies
// every newly touched path against m. If m is nil the result is compliant
// unconditionally (legacy behavior for issues with no manifest).
func (v *Verifier) Verify(ctx context.Context, m *model.Manifest, baseline map[string]bool) (*ComplianceResult, error) {
	changed, err := v.vcs.ChangedPaths(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate changes for verification: %w", err)
	}

	result := &ComplianceResult{Compliant: true}
	if m != nil {
		result.ManifestFilesPredicted = append([]string{}, m.PrimaryFiles...)
	}

	touched := make(map[string]bool)
	for _, p := range changed {
		if baseline[p] {
			continue
		}
		touched[p] = true
		result.FilesActuallyTouched = append(result.FilesActuallyTouched, p)

		if m == nil {
			continue
		}
		switch {
		case m.IsForbidden(p):
			result.ForbiddenFilesTouched = append(result.ForbiddenFilesTouched, p)
		case !m.AllowsWrite(p):
			result.UnauthorizedFiles = append(result.UnauthorizedFiles, p)
		}
	}

	result.Compliant = len(result.ForbiddenFilesTouched) == 0 && len(result.UnauthorizedFiles) == 0

	if m != nil {
		predicted := make(map[string]bool, len(m.PrimaryFiles))
		for _, p := range m.PrimaryBasePaths() {
			predicted[p] = true
		}
		result.FalsePositives = setDifference(predicted, touched)
		result.FalseNegatives = setDifference(touched, predicted)
		result.Accuracy = accuracy(predicted, touched)
	}

	return result, nil
}

// RollbackFiles restores every unauthorized or forbidden-touched path in
// result to its parent-revision state, preserving baseline changes.
func (v *Verifier) RollbackFiles(ctx context.Context, result *ComplianceResult) error {
	for _, p := range result.UnauthorizedFiles {
		if err := v.vcs.RestorePath(ctx, p); err != nil {
			return fmt.Errorf("failed to roll back unauthorized file %q: %w", p, err)
		}
	}
	for _, p := range result.ForbiddenFilesTouched {
		if err := v.vcs.RestorePath(ctx, p); err != nil {
			return fmt.Errorf("failed to roll back forbidden file %q: %w", p, err)
		}
	}
	return nil
}

func setDifference(a, b map[string]bool) []string {
	var out []string
	for k := range a {
		if !b[k] {
			out = append(out, k)
		}
	}
	return out
}

// accuracy computes |predicted ∩ touched| / |predicted ∪ touched|. The
// ratio is undefined (NaN) when both sets are empty.
func accuracy(predicted, touched map[string]bool) float64 {
	if len(predicted) == 0 && len(touched) == 0 {
		return nan()
	}
	union := make(map[string]bool, len(predicted)+len(touched))
	intersect := 0
	for k := range predicted {
		union[k] = true
		if touched[k] {
			intersect++
		}
	}
	for k := range touched {
		union[k] = true
	}
	return float64(intersect) / float64(len(union))
}

func nan() float64 {
	var zero float64
	return zero / zero
}
