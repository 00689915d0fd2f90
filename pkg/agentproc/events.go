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

package agentproc

import "strings"

// MarkerKind is a tagged union over the marker strings agents emit on
// stdout. Parsing is localized here at the collaborator boundary
// so the rest of the system works with explicit variants instead of
// re-scanning raw lines.
type MarkerKind int

const (
	MarkerNone MarkerKind = iota
	MarkerReadyForReview
	MarkerApproved
	MarkerChangesRequested
	MarkerMergeComplete
	MarkerIssueComplete
	MarkerBlocked
	MarkerPlanningComplete
	MarkerQualityReviewComplete
	MarkerBreakdownComplete
)

// Marker is a parsed marker line, with any trailing free-text payload
// (feedback for CHANGES_REQUESTED, reason for BLOCKED).
type Marker struct {
	Kind    MarkerKind
	Payload string
}

// Event is one line of child-process output, paired with any marker it
// matched.
type Event struct {
	Line   string
	Marker Marker
}

// markerPrefixes maps each bare marker string to its kind. Markers that
// carry a payload (CHANGES_REQUESTED, BLOCKED) use a ": " separator and
// are handled first in ScanMarker. Every marker is matched anywhere in the
// line, not only at its start.
var markerPrefixes = []struct {
	prefix string
	kind   MarkerKind
}{
	{"READY_FOR_REVIEW", MarkerReadyForReview},
	{"APPROVED", MarkerApproved},
	{"MERGE_COMPLETE", MarkerMergeComplete},
	{"ISSUE_COMPLETE", MarkerIssueComplete},
	{"PLANNING_COMPLETE", MarkerPlanningComplete},
	{"QUALITY_REVIEW_COMPLETE", MarkerQualityReviewComplete},
	{"BREAKDOWN_COMPLETE", MarkerBreakdownComplete},
}

// ScanMarker inspects a single output line for any of the marker strings
// agents are documented to emit, returning MarkerNone if none is present.
func ScanMarker(line string) Marker {
	trimmed := strings.TrimSpace(line)

	if payload, ok := cutPrefix(trimmed, "CHANGES_REQUESTED:"); ok {
		return Marker{Kind: MarkerChangesRequested, Payload: strings.TrimSpace(payload)}
	}
	if payload, ok := cutPrefix(trimmed, "BLOCKED:"); ok {
		return Marker{Kind: MarkerBlocked, Payload: strings.TrimSpace(payload)}
	}

	for _, m := range markerPrefixes {
		if strings.Contains(trimmed, m.prefix) {
			return Marker{Kind: m.kind}
		}
	}

	return Marker{Kind: MarkerNone}
}

func cutPrefix(s, prefix string) (string, bool) {
	idx := strings.Index(s, prefix)
	if idx < 0 {
		return "", false
	}
	return s[idx+len(prefix):], true
}
