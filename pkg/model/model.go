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

// Package model defines the orchestrator's data model: issues, manifests,
// attempts, workers, batches, and locks, plus the OrchestratorState root
// that owns all of them. See pkg/state for the store that mutates this
// tree and pkg/manifest/pkg/batchplanner/pkg/worker for the components
// that read and request mutations of it.
package model

import "time"

// MaxWorkers is the hard ceiling on worker slots.
const MaxWorkers = 8

// IssueStatus is the lifecycle status of a tracked issue.
type IssueStatus string

const (
	IssuePending   IssueStatus = "pending"
	IssueAssigned  IssueStatus = "assigned"
	IssueRunning   IssueStatus = "running"
	IssueCompleted IssueStatus = "completed"
	IssueFailed    IssueStatus = "failed"
)

// AttemptResult is the outcome of one implementation attempt.
type AttemptResult string

const (
	ResultSuccess   AttemptResult = "success"
	ResultFailed    AttemptResult = "failed"
	ResultTimeout   AttemptResult = "timeout"
	ResultViolation AttemptResult = "violation"
)

// WorkerStatus is the lifecycle status of a worker slot.
type WorkerStatus string

const (
	WorkerIdle      WorkerStatus = "idle"
	WorkerStarting  WorkerStatus = "starting"
	WorkerRunning   WorkerStatus = "running"
	WorkerCompleted WorkerStatus = "completed"
	WorkerFailed    WorkerStatus = "failed"
	WorkerTimeout   WorkerStatus = "timeout"
)

// Available reports whether a worker in this status can accept new work.
func (s WorkerStatus) Available() bool {
	switch s {
	case WorkerIdle, WorkerCompleted, WorkerFailed:
		return true
	default:
		return false
	}
}

// BatchStatus is the lifecycle status of a batch.
type BatchStatus string

const (
	BatchPending   BatchStatus = "pending"
	BatchRunning   BatchStatus = "running"
	BatchCompleted BatchStatus = "completed"
)

// Manifest declares which paths an implementation attempt may touch.
//
// primary_files is the only set the agent is authorized to write;
// read_files is advisory; forbidden_files always wins over primary_files
// for any path that (malformed as that would be) appears in both.
type Manifest struct {
	PrimaryFiles   []string `json:"primary_files"`
	ReadFiles      []string `json:"read_files,omitempty"`
	ForbiddenFiles []string `json:"forbidden_files,omitempty"`
}

// basePath strips a trailing ":line-start-line-end" suffix from a manifest
// path entry, which is what locking and verification operate on.
func basePath(pattern string) string {
	for i := 0; i < len(pattern); i++ {
		if pattern[i] == ':' {
			return pattern[:i]
		}
	}
	return pattern
}

// PrimaryBasePaths returns the deduplicated base paths of PrimaryFiles.
func (m *Manifest) PrimaryBasePaths() []string {
	if m == nil {
		return nil
	}
	seen := make(map[string]bool, len(m.PrimaryFiles))
	out := make([]string, 0, len(m.PrimaryFiles))
	for _, p := range m.PrimaryFiles {
		b := basePath(p)
		if !seen[b] {
			seen[b] = true
			out = append(out, b)
		}
	}
	return out
}

// HasDuplicatePrimaryPaths reports whether PrimaryFiles claims the same
// base path more than once. TryAcquireLocks rejects such a manifest
// up front rather than letting two dispatches silently race for the same
// file.
func (m *Manifest) HasDuplicatePrimaryPaths() bool {
	if m == nil {
		return false
	}
	seen := make(map[string]bool, len(m.PrimaryFiles))
	for _, p := range m.PrimaryFiles {
		b := basePath(p)
		if seen[b] {
			return true
		}
		seen[b] = true
	}
	return false
}

// AllowsWrite reports whether path is authorized for write under this
// manifest. isForbidden overrides allowsWrite, so check that first.
func (m *Manifest) AllowsWrite(path string) bool {
	if m == nil {
		return false
	}
	for _, p := range m.PrimaryFiles {
		if basePath(p) == path {
			return true
		}
	}
	return false
}

// IsForbidden reports whether path is explicitly off-limits.
func (m *Manifest) IsForbidden(path string) bool {
	if m == nil {
		return false
	}
	for _, p := range m.ForbiddenFiles {
		if basePath(p) == path {
			return true
		}
	}
	return false
}

// Conflicts reports whether two manifests' primary base-path sets
// intersect.
func (m *Manifest) Conflicts(other *Manifest) bool {
	if m == nil || other == nil {
		return false
	}
	mine := make(map[string]bool)
	for _, p := range m.PrimaryBasePaths() {
		mine[p] = true
	}
	for _, p := range other.PrimaryBasePaths() {
		if mine[p] {
			return true
		}
	}
	return false
}

// AttemptRecord captures one pass of an implementation agent against one
// issue.
type AttemptRecord struct {
	AttemptNumber int           `json:"attempt_number"`
	Timestamp     time.Time     `json:"timestamp"`
	Result        AttemptResult `json:"result"`
	FilesTouched  []string      `json:"files_touched,omitempty"`
	Notes         string        `json:"notes,omitempty"`
}

// IssueState is the orchestrator's view of a tracked issue.
type IssueState struct {
	ID             string         `json:"id"`
	Status         IssueStatus    `json:"status"`
	AttemptCount   int            `json:"attempt_count"`
	Manifest       *Manifest      `json:"manifest,omitempty"`
	AssignedWorker *int           `json:"assigned_worker,omitempty"`
	LastAttempt    *AttemptRecord `json:"last_attempt,omitempty"`
}

// WorkerState is one slot in the fixed-size worker array.
type WorkerState struct {
	ID           int          `json:"id"`
	Status       WorkerStatus `json:"status"`
	CurrentIssue *string      `json:"current_issue,omitempty"`
	ProcessPID   *int         `json:"process_pid,omitempty"`
	StartedAt    *time.Time   `json:"started_at,omitempty"`
}

// Batch is a set of issues with pairwise disjoint manifests, dispatched
// together to the worker pool.
type Batch struct {
	ID          int         `json:"id"`
	IssueIDs    []string    `json:"issue_ids"`
	Status      BatchStatus `json:"status"`
	StartedAt   *time.Time  `json:"started_at,omitempty"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
}

// LockEntry records which issue/worker holds an exclusive claim on a base
// path.
type LockEntry struct {
	File       string    `json:"file"`
	IssueID    string    `json:"issue_id"`
	WorkerID   int       `json:"worker_id"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// OrchestratorState is the root of the persisted state tree.
type OrchestratorState struct {
	ProjectName           string                 `json:"project_name"`
	StateVersion          int                    `json:"state_version"`
	LastSaved             time.Time              `json:"last_saved"`
	Issues                map[string]*IssueState `json:"issues"`
	PendingBatches        []*Batch               `json:"pending_batches"`
	CurrentBatch          *Batch                 `json:"current_batch,omitempty"`
	NextBatchID           int                    `json:"next_batch_id"`
	Workers               []*WorkerState         `json:"workers"`
	Locks                 map[string]*LockEntry  `json:"locks"`
	TotalIterations       int                    `json:"total_iterations"`
	SuccessfulCompletions int                    `json:"successful_completions"`
	FailedAttempts        int                    `json:"failed_attempts"`
}

// CurrentStateVersion is the schema version written by this implementation.
const CurrentStateVersion = 1

// NewOrchestratorState creates a fresh state with numWorkers idle slots.
func NewOrchestratorState(projectName string, numWorkers int) *OrchestratorState {
	if numWorkers <= 0 {
		numWorkers = 1
	}
	if numWorkers > MaxWorkers {
		numWorkers = MaxWorkers
	}
	workers := make([]*WorkerState, numWorkers)
	for i := range workers {
		workers[i] = &WorkerState{ID: i, Status: WorkerIdle}
	}
	return &OrchestratorState{
		ProjectName:    projectName,
		StateVersion:   CurrentStateVersion,
		LastSaved:      time.Now(),
		Issues:         make(map[string]*IssueState),
		PendingBatches: nil,
		NextBatchID:    1,
		Workers:        workers,
		Locks:          make(map[string]*LockEntry),
	}
}
