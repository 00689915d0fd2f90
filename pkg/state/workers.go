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
	"time"

	"github.com/kadirpekel/noface/pkg/model"
)

// FindIdleWorker returns the first worker slot whose status is available,
// or nil if every slot is busy.
func (s *Store) FindIdleWorker() *model.WorkerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, w := range s.state.Workers {
		if w.Status.Available() {
			return w
		}
	}
	return nil
}

// AssignWorker marks worker as starting on issue id, recording the start
// time. The issue is marked assigned with this worker id.
func (s *Store) AssignWorker(workerID int, issueID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for _, w := range s.state.Workers {
		if w.ID == workerID {
			w.Status = model.WorkerStarting
			w.CurrentIssue = &issueID
			w.StartedAt = &now
			break
		}
	}

	issue := s.issueLocked(issueID)
	issue.Status = model.IssueAssigned
	id := workerID
	issue.AssignedWorker = &id
}

// MarkWorkerRunning transitions a starting worker to running, recording
// its child process id.
func (s *Store) MarkWorkerRunning(workerID, pid int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, w := range s.state.Workers {
		if w.ID == workerID {
			w.Status = model.WorkerRunning
			p := pid
			w.ProcessPID = &p
			if w.CurrentIssue != nil {
				s.issueLocked(*w.CurrentIssue).Status = model.IssueRunning
			}
			return
		}
	}
}

// CompleteWorker transitions worker to a terminal status (completed or
// failed), releases its issue's locks, and clears the slot back to idle
// bookkeeping fields so it is immediately Available() again.
func (s *Store) CompleteWorker(workerID int, success bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, w := range s.state.Workers {
		if w.ID != workerID {
			continue
		}
		if success {
			w.Status = model.WorkerCompleted
		} else {
			w.Status = model.WorkerFailed
		}
		if w.CurrentIssue != nil {
			s.releaseLocksLocked(*w.CurrentIssue)
		}
		w.CurrentIssue = nil
		w.ProcessPID = nil
		w.StartedAt = nil
		return
	}
}

// MarkWorkerTimeout transitions worker to the timeout status, releasing
// its issue's locks the same way CompleteWorker does for a failure.
func (s *Store) MarkWorkerTimeout(workerID int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, w := range s.state.Workers {
		if w.ID != workerID {
			continue
		}
		w.Status = model.WorkerTimeout
		if w.CurrentIssue != nil {
			s.releaseLocksLocked(*w.CurrentIssue)
		}
		w.CurrentIssue = nil
		w.ProcessPID = nil
		w.StartedAt = nil
		return
	}
}
