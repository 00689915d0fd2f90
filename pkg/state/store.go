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

// Package state owns the orchestrator's persisted state tree: issues,
// manifests, attempts, the file-lock table, the batch queue, and worker
// snapshots. It is the single writer of the on-disk JSON snapshot and the
// only component that mutates model.OrchestratorState directly; every
// other package borrows read-only views or requests mutations through the
// methods on Store.
package state

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/kadirpekel/noface/pkg/model"
)

// snapshotFile is the name of the JSON state file inside the state
// directory; backupFile is its previous-generation sibling.
const (
	snapshotFile = "state.json"
	backupFile   = "state.json.bak"
)

// Store is the exclusive owner of model.OrchestratorState. All access goes
// through its methods, which hold mu for the duration of any read or
// mutation — the control thread is single-threaded in practice, but the
// mutex keeps Store safe to share with, e.g., a dashboard goroutine.
type Store struct {
	mu    sync.Mutex
	dir   string
	state *model.OrchestratorState
}

// Load reads the snapshot for projectName from dir, creating a fresh state
// if no snapshot file exists yet — absence of the file is not an error.
// If the primary snapshot is missing but a .bak sibling exists (a crash
// landed between rotating the old snapshot to .bak and renaming the new
// one into place), Load falls back to .bak rather than silently starting
// over, since .bak always holds a complete, previously-durable snapshot.
func Load(dir, projectName string, numWorkers int) (*Store, error) {
	s := &Store{dir: dir}

	path := filepath.Join(dir, snapshotFile)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		bak := filepath.Join(dir, backupFile)
		bakData, bakErr := os.ReadFile(bak)
		if bakErr != nil {
			s.state = model.NewOrchestratorState(projectName, numWorkers)
			return s, nil
		}
		slog.Warn("state: snapshot missing, recovering from backup", "path", path, "backup", bak)
		data = bakData
	} else if err != nil {
		return nil, fmt.Errorf("failed to read state file %q: %w", path, err)
	}

	var st model.OrchestratorState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("failed to parse state file %q: %w", path, err)
	}
	if st.Issues == nil {
		st.Issues = make(map[string]*model.IssueState)
	}
	if st.Locks == nil {
		st.Locks = make(map[string]*model.LockEntry)
	}
	s.state = &st
	return s, nil
}

// Save persists the current state atomically: the new snapshot is written
// to a temp file in the same directory, then the previous snapshot (if
// any) is renamed to its .bak sibling, and the temp file is renamed into
// place. Renaming
// within one directory is atomic on POSIX filesystems, so readers never
// observe a partially written file.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked()
}

func (s *Store) saveLocked() error {
	s.state.LastSaved = time.Now()

	data, err := json.MarshalIndent(s.state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	path := filepath.Join(s.dir, snapshotFile)
	bak := filepath.Join(s.dir, backupFile)

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp state file %q: %w", tmp, err)
	}

	// Only rotate the backup once the new snapshot is fully written
	// under tmp — otherwise a crash between the rename-to-bak and
	// the write could leave neither path nor bak holding a complete
	// snapshot.
	if _, err := os.Stat(path); err == nil {
		if err := os.Rename(path, bak); err != nil {
			slog.Warn("state: failed to rotate backup snapshot", "error", err)
		}
	}

	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace state file %q: %w", path, err)
	}
	return nil
}

// Snapshot returns a pointer to the live state for read-only inspection.
// Callers must not mutate the returned value; use the typed methods below
// for every mutation so invariants stay enforced in one place.
func (s *Store) Snapshot() *model.OrchestratorState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// UpdateIssue sets an issue's status, creating the IssueState if unseen.
func (s *Store) UpdateIssue(id string, status model.IssueStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	issue := s.issueLocked(id)
	issue.Status = status
}

func (s *Store) issueLocked(id string) *model.IssueState {
	issue, ok := s.state.Issues[id]
	if !ok {
		issue = &model.IssueState{ID: id, Status: model.IssuePending}
		s.state.Issues[id] = issue
	}
	return issue
}

// RecordAttempt stores a new attempt record as issue id's LastAttempt
// (replacing the previous one), assigning attempt_number ==
// issue.attempt_count at the time of insertion, then increments
// attempt_count. This preserves the invariant that attempt
// numbers are serially assigned in insertion order.
func (s *Store) RecordAttempt(id string, result model.AttemptResult, filesTouched []string, notes string) *model.AttemptRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	issue := s.issueLocked(id)
	record := &model.AttemptRecord{
		AttemptNumber: issue.AttemptCount,
		Timestamp:     time.Now(),
		Result:        result,
		FilesTouched:  filesTouched,
		Notes:         notes,
	}
	issue.AttemptCount++
	issue.LastAttempt = record

	switch result {
	case model.ResultSuccess:
		s.state.SuccessfulCompletions++
	case model.ResultFailed, model.ResultTimeout, model.ResultViolation:
		s.state.FailedAttempts++
	}

	return record
}

// SetManifest replaces issue id's manifest, destroying the old one.
func (s *Store) SetManifest(id string, m *model.Manifest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.issueLocked(id).Manifest = m
}

// GetManifest returns issue id's current manifest, or nil if unset.
func (s *Store) GetManifest(id string) *model.Manifest {
	s.mu.Lock()
	defer s.mu.Unlock()
	issue, ok := s.state.Issues[id]
	if !ok {
		return nil
	}
	return issue.Manifest
}

// IssuesConflict reports whether issues a and b have manifests whose
// primary-file base-path sets intersect. Issues without a manifest never
// conflict by this predicate.
func (s *Store) IssuesConflict(a, b string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	ia, ok := s.state.Issues[a]
	if !ok {
		return false
	}
	ib, ok := s.state.Issues[b]
	if !ok {
		return false
	}
	return ia.Manifest.Conflicts(ib.Manifest)
}
