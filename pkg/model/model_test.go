package model

import "testing"

func TestManifestAllowsWrite(t *testing.T) {
	m := &Manifest{
		PrimaryFiles:   []string{"pkg/foo/foo.go:10-40"},
		ForbiddenFiles: []string{"pkg/foo/foo_test.go"},
	}

	if !m.AllowsWrite("pkg/foo/foo.go") {
		t.Fatalf("expected primary file to be writable")
	}
	if m.AllowsWrite("pkg/bar/bar.go") {
		t.Fatalf("expected unlisted file to be unwritable")
	}
	if !m.IsForbidden("pkg/foo/foo_test.go") {
		t.Fatalf("expected forbidden file to be reported forbidden")
	}
}

func TestManifestHasDuplicatePrimaryPaths(t *testing.T) {
	dup := &Manifest{PrimaryFiles: []string{"a.go:1-5", "a.go:10-20"}}
	if !dup.HasDuplicatePrimaryPaths() {
		t.Fatalf("expected duplicate base path to be detected")
	}

	clean := &Manifest{PrimaryFiles: []string{"a.go:1-5", "b.go:1-5"}}
	if clean.HasDuplicatePrimaryPaths() {
		t.Fatalf("expected distinct base paths to not be flagged")
	}
}

func TestManifestConflicts(t *testing.T) {
	a := &Manifest{PrimaryFiles: []string{"x.go"}}
	b := &Manifest{PrimaryFiles: []string{"x.go:1-10"}}
	c := &Manifest{PrimaryFiles: []string{"y.go"}}

	if !a.Conflicts(b) {
		t.Fatalf("expected shared base path to conflict")
	}
	if a.Conflicts(c) {
		t.Fatalf("expected disjoint base paths to not conflict")
	}
}

func TestWorkerStatusAvailable(t *testing.T) {
	cases := map[WorkerStatus]bool{
		WorkerIdle:      true,
		WorkerCompleted: true,
		WorkerFailed:    true,
		WorkerStarting:  false,
		WorkerRunning:   false,
		WorkerTimeout:   false,
	}
	for status, want := range cases {
		if got := status.Available(); got != want {
			t.Errorf("status %q: Available() = %v, want %v", status, got, want)
		}
	}
}

func TestNewOrchestratorState(t *testing.T) {
	st := NewOrchestratorState("demo", 3)
	if len(st.Workers) != 3 {
		t.Fatalf("expected 3 workers, got %d", len(st.Workers))
	}
	for _, w := range st.Workers {
		if w.Status != WorkerIdle {
			t.Errorf("expected fresh worker %d to be idle, got %q", w.ID, w.Status)
		}
	}
	if st.NextBatchID != 1 {
		t.Fatalf("expected NextBatchID to start at 1, got %d", st.NextBatchID)
	}

	capped := NewOrchestratorState("demo", 99)
	if len(capped.Workers) != MaxWorkers {
		t.Fatalf("expected worker count capped at %d, got %d", MaxWorkers, len(capped.Workers))
	}
}
