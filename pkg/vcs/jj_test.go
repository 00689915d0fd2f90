package vcs

import "testing"

func TestParseDiffSummary(t *testing.T) {
	output := "M src/a.rs\nA src/new.rs\nD src/old.rs\nM src/a.rs\n"
	paths := parseDiffSummary(output)

	want := []string{"src/a.rs", "src/new.rs", "src/old.rs"}
	if len(paths) != len(want) {
		t.Fatalf("got %v, want %v", paths, want)
	}
	for i, p := range want {
		if paths[i] != p {
			t.Errorf("index %d: got %q, want %q", i, paths[i], p)
		}
	}
}

func TestParseDiffSummaryEmpty(t *testing.T) {
	if paths := parseDiffSummary(""); len(paths) != 0 {
		t.Fatalf("expected no paths, got %v", paths)
	}
}

func TestParseWorkerWorkspaceName(t *testing.T) {
	id, ok := parseWorkerWorkspaceName("worker-3")
	if !ok || id != 3 {
		t.Fatalf("expected (3, true), got (%d, %v)", id, ok)
	}

	if _, ok := parseWorkerWorkspaceName("default"); ok {
		t.Fatalf("expected default workspace to not parse as a worker workspace")
	}
}

func TestWorkspacePath(t *testing.T) {
	j := New("/repo", "/repo/.noface/workspaces")
	got := j.workspacePath(2)
	want := "/repo/.noface/workspaces/worker-2"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}
