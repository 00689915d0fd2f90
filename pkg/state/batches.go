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

// AddBatch appends a new pending batch containing issueIDs and returns its
// monotonic id. next_batch_id is advanced so it always exceeds the id of
// every batch this state has ever issued.
func (s *Store) AddBatch(issueIDs []string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.state.NextBatchID
	s.state.NextBatchID++

	s.state.PendingBatches = append(s.state.PendingBatches, &model.Batch{
		ID:       id,
		IssueIDs: issueIDs,
		Status:   model.BatchPending,
	})
	return id
}

// GetNextPendingBatch pops the first pending batch (FIFO) and sets it as
// the current batch, or returns nil if the queue is empty.
func (s *Store) GetNextPendingBatch() *model.Batch {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.state.PendingBatches) == 0 {
		return nil
	}
	batch := s.state.PendingBatches[0]
	s.state.PendingBatches = s.state.PendingBatches[1:]
	s.state.CurrentBatch = batch
	return batch
}

// MarkCurrentBatchRunning flips the in-flight current batch to running and
// records its start time.
func (s *Store) MarkCurrentBatchRunning() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.CurrentBatch == nil {
		return
	}
	now := time.Now()
	s.state.CurrentBatch.Status = model.BatchRunning
	s.state.CurrentBatch.StartedAt = &now
}

// ClearPendingBatches discards every queued batch, e.g. before the
// BatchPlanner regenerates the queue from a fresh planner pass.
func (s *Store) ClearPendingBatches() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.PendingBatches = nil
}

// RequeueCurrentBatch pushes the in-flight current batch back to the front
// of the pending queue, used when a dispatch is interrupted mid-flight.
func (s *Store) RequeueCurrentBatch() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.CurrentBatch == nil {
		return
	}
	s.state.CurrentBatch.Status = model.BatchPending
	s.state.PendingBatches = append([]*model.Batch{s.state.CurrentBatch}, s.state.PendingBatches...)
	s.state.CurrentBatch = nil
}

// CompleteCurrentBatch marks the current batch completed and clears it.
func (s *Store) CompleteCurrentBatch() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.CurrentBatch == nil {
		return
	}
	now := time.Now()
	s.state.CurrentBatch.Status = model.BatchCompleted
	s.state.CurrentBatch.CompletedAt = &now
	s.state.CurrentBatch = nil
}

// IncrementIterations bumps the total-iterations counter.
func (s *Store) IncrementIterations() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.TotalIterations++
}
