package prompt

import (
	"strings"
	"testing"
)

func TestBuildImplementIncludesFeedback(t *testing.T) {
	b, err := NewBuilder()
	if err != nil {
		t.Fatalf("NewBuilder: %v", err)
	}

	out, err := b.Build(KindImplement, Data{
		IssueID:    "T-1",
		IssueTitle: "fix the thing",
		IssueBody:  "details here",
		Feedback:   "add a null check",
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !strings.Contains(out, "T-1") || !strings.Contains(out, "add a null check") {
		t.Fatalf("rendered prompt missing expected substitutions: %s", out)
	}
	if !strings.Contains(out, "READY_FOR_REVIEW") {
		t.Fatalf("expected implement template to mention READY_FOR_REVIEW")
	}
}

func TestBuildUnknownKind(t *testing.T) {
	b, err := NewBuilder()
	if err != nil {
		t.Fatalf("NewBuilder: %v", err)
	}
	if _, err := b.Build(Kind("nonsense"), Data{}); err == nil {
		t.Fatalf("expected error for unknown kind")
	}
}

func TestRenderManifestOmitsEmptyLists(t *testing.T) {
	out := RenderManifest([]string{"a.go"}, nil, nil)
	if !strings.Contains(out, "a.go") {
		t.Fatalf("expected primary path in output: %s", out)
	}
	if strings.Contains(out, "forbidden") {
		t.Fatalf("expected empty forbidden list to be omitted: %s", out)
	}
}
