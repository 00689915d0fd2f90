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

package state

import (
	"strings"
	"time"

	"github.com/kadirpekel/noface/pkg/model"
)

// ErrDuplicatePrimaryPath is returned by TryAcquireLocks when a manifest
// claims the same base path more than once in its own primary_files list.
// Rejected rather than silently tolerated: a well-formed manifest never
// needs this, and a planner bug that produces one is more useful surfaced
// than swallowed.
type ErrDuplicatePrimaryPath struct {
	IssueID string
	Path    string
}

func (e *ErrDuplicatePrimaryPath) Error() string {
	return "manifest for issue " + e.IssueID + " claims base path " + e.Path + " more than once"
}

// TryAcquireLocks attempts to acquire every base-path lock named by
// manifest m on behalf of issue. It is two-phase: first it checks every
// path is either unlocked or already held by the same issue (idempotent
// re-acquire), and only once every path clears does it create or
// overwrite the lock entries — preserving all-or-nothing semantics so a
// conflicting manifest never leaves a partial lock set behind.
func (s *Store) TryAcquireLocks(issue string, m *model.Manifest, workerID int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if m.HasDuplicatePrimaryPaths() {
		seen := make(map[string]bool, len(m.PrimaryFiles))
		for _, p := range m.PrimaryFiles {
			base, _, _ := strings.Cut(p, ":")
			if seen[base] {
				return false, &ErrDuplicatePrimaryPath{IssueID: issue, Path: base}
			}
			seen[base] = true
		}
	}

	paths := m.PrimaryBasePaths()

	for _, p := range paths {
		if existing, ok := s.state.Locks[p]; ok && existing.IssueID != issue {
			return false, nil
		}
	}

	now := time.Now()
	for _, p := range paths {
		s.state.Locks[p] = &model.LockEntry{
			File:       p,
			IssueID:    issue,
			WorkerID:   workerID,
			AcquiredAt: now,
		}
	}
	return true, nil
}

// ReleaseLocks drops every lock entry held by issue.
func (s *Store) ReleaseLocks(issue string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.releaseLocksLocked(issue)
}

func (s *Store) releaseLocksLocked(issue string) {
	for path, lock := range s.state.Locks {
		if lock.IssueID == issue {
			delete(s.state.Locks, path)
		}
	}
}

// CleanupStaleLocks drops every lock older than maxAge and returns the
// number removed.
func (s *Store) CleanupStaleLocks(maxAge time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for path, lock := range s.state.Locks {
		if lock.AcquiredAt.Before(cutoff) {
			delete(s.state.Locks, path)
			removed++
		}
	}
	return removed
}

// RecoverFromCrash resets any worker left in {starting, running} by a
// prior crash: releases that worker's issue's locks, resets the issue to
// pending with no assigned worker, and idles the worker slot. It then runs
// stale-lock cleanup and returns the total number of items touched
// (workers reset + locks released or dropped as stale). Idempotent: calling it again on an
// already-recovered state touches nothing further.
func (s *Store) RecoverFromCrash(staleLockAge time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	recovered := 0
	for _, w := range s.state.Workers {
		if w.Status != model.WorkerStarting && w.Status != model.WorkerRunning {
			continue
		}
		if w.CurrentIssue != nil {
			issueID := *w.CurrentIssue
			held := len(s.state.Locks)
			s.releaseLocksLocked(issueID)
			recovered += held - len(s.state.Locks)
			if issue, ok := s.state.Issues[issueID]; ok {
				issue.Status = model.IssuePending
				issue.AssignedWorker = nil
			}
		}
		w.Status = model.WorkerIdle
		w.CurrentIssue = nil
		w.ProcessPID = nil
		w.StartedAt = nil
		recovered++
	}

	cutoff := time.Now().Add(-staleLockAge)
	for path, lock := range s.state.Locks {
		if lock.AcquiredAt.Before(cutoff) {
			delete(s.state.Locks, path)
			recovered++
		}
	}

	return recovered
}
