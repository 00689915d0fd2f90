package agentproc

import "testing"

func TestScanMarkerChangesRequestedCarriesFeedback(t *testing.T) {
	m := ScanMarker("CHANGES_REQUESTED: add a null check before dereferencing")
	if m.Kind != MarkerChangesRequested {
		t.Fatalf("expected MarkerChangesRequested, got %v", m.Kind)
	}
	if m.Payload != "add a null check before dereferencing" {
		t.Fatalf("unexpected payload: %q", m.Payload)
	}
}

func TestScanMarkerBlockedCarriesReason(t *testing.T) {
	m := ScanMarker("BLOCKED: missing API credentials")
	if m.Kind != MarkerBlocked {
		t.Fatalf("expected MarkerBlocked, got %v", m.Kind)
	}
	if m.Payload != "missing API credentials" {
		t.Fatalf("unexpected payload: %q", m.Payload)
	}
}

func TestScanMarkerBareMarkers(t *testing.T) {
	cases := map[string]MarkerKind{
		"READY_FOR_REVIEW":                MarkerReadyForReview,
		"APPROVED":                        MarkerApproved,
		"MERGE_COMPLETE":                  MarkerMergeComplete,
		"ISSUE_COMPLETE":                  MarkerIssueComplete,
		"PLANNING_COMPLETE":               MarkerPlanningComplete,
		"QUALITY_REVIEW_COMPLETE":         MarkerQualityReviewComplete,
		"BREAKDOWN_COMPLETE":              MarkerBreakdownComplete,
		"just some regular agent chatter": MarkerNone,
	}
	for line, want := range cases {
		if got := ScanMarker(line).Kind; got != want {
			t.Errorf("line %q: got %v, want %v", line, got, want)
		}
	}
}

func TestExtractTextFromMessageContent(t *testing.T) {
	line := `{"type":"message","message":{"content":[{"type":"text","text":"hello "},{"type":"text","text":"world"}]}}`
	text, ok := ExtractText(line)
	if !ok || text != "hello world" {
		t.Fatalf("got (%q, %v)", text, ok)
	}
}

func TestExtractTextFromEventDelta(t *testing.T) {
	line := `{"type":"event","event":{"delta":{"text":"partial"}}}`
	text, ok := ExtractText(line)
	if !ok || text != "partial" {
		t.Fatalf("got (%q, %v)", text, ok)
	}
}

func TestExtractTextNonJSONLineFallsBack(t *testing.T) {
	if _, ok := ExtractText("READY_FOR_REVIEW"); ok {
		t.Fatalf("expected non-JSON line to report ok=false")
	}
}
