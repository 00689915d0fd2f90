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

// Package worker dispatches ready issues into isolated per-worker VCS
// workspaces and drives each through the implement → review → merge phase
// machine, detecting idle agents and retrying review-requested changes up
// to a fixed iteration cap. ExecuteBatch's dispatch loop polls every child
// from one goroutine; only the dispatch of newly assigned issues fans out
// across goroutines (see dispatchConcurrently), each touching only its own
// slot, and the loop waits for them before polling slot state again.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/kadirpekel/noface/pkg/agentproc"
	"github.com/kadirpekel/noface/pkg/logger"
	"github.com/kadirpekel/noface/pkg/model"
	"github.com/kadirpekel/noface/pkg/prompt"
	"github.com/kadirpekel/noface/pkg/state"
)

// MaxReviewIterations caps the implement/review retry loop.
const MaxReviewIterations = 5

// dispatchPollInterval is the quantum of the dispatch loop's busy-wait
// avoidance sleep.
const dispatchPollInterval = 100 * time.Millisecond

// maxConcurrentWorkspaceCreations bounds how many VCS workspace-creation
// calls run at once when a tick dispatches several issues at the same
// time. Workspace creation shells out to the VCS CLI and is I/O-bound,
// so fanning it out is worth it, but unbounded fan-out would let a big
// batch hammer the VCS backend with NumWorkers simultaneous CLI
// invocations.
const maxConcurrentWorkspaceCreations = 4

// Workspaces is the narrow slice of the VCS collaborator the pool needs
// to isolate each worker's edits.
type Workspaces interface {
	CreateWorkspace(ctx context.Context, workerID int) (string, error)
	RemoveWorkspace(ctx context.Context, workerID int) error
	ReapOrphanedWorkspaces(ctx context.Context, activeWorkerIDs map[int]bool) (int, error)
}

// SpawnFunc starts a command and returns a supervised Process; overridden
// in tests to avoid shelling out to real agent CLIs.
type SpawnFunc func(ctx context.Context, dir, name string, args ...string) (*agentproc.Process, error)

// Result is the terminal outcome of one issue's pass through the pool.
type Result struct {
	IssueID  string
	Success  bool
	ExitCode int
	Result   model.AttemptResult
	Notes    string
}

// Config configures the pool's agent invocations.
type Config struct {
	NumWorkers          int
	ImplementerCommand  string
	ReviewerCommand     string
	AgentTimeoutSeconds int
}

// Pool supervises up to NumWorkers concurrent agent child processes.
type Pool struct {
	cfg     Config
	store   *state.Store
	vcs     Workspaces
	spawn   SpawnFunc
	prompts *prompt.Builder

	slots     []*slot
	wsLimiter *semaphore.Weighted
}

// Option customizes Pool construction.
type Option func(*Pool)

// WithSpawnFunc overrides the process-spawning function, for tests.
func WithSpawnFunc(fn SpawnFunc) Option {
	return func(p *Pool) { p.spawn = fn }
}

// New creates a Pool backed by store and vcs.
func New(cfg Config, store *state.Store, vcs Workspaces, prompts *prompt.Builder, opts ...Option) *Pool {
	if cfg.AgentTimeoutSeconds <= 0 {
		cfg.AgentTimeoutSeconds = 900
	}
	p := &Pool{
		cfg:       cfg,
		store:     store,
		vcs:       vcs,
		prompts:   prompts,
		spawn:     agentproc.Spawn,
		slots:     make([]*slot, cfg.NumWorkers),
		wsLimiter: semaphore.NewWeighted(maxConcurrentWorkspaceCreations),
	}
	for i := range p.slots {
		p.slots[i] = &slot{id: i}
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Config returns the pool's agent-invocation configuration, for
// collaborators that need to spawn agents the same way the pool does.
func (p *Pool) Config() Config {
	return p.cfg
}

// ReapOrphans removes any workspace left by a previous crashed run that
// does not correspond to one of this pool's worker ids. Called once on
// cold start.
func (p *Pool) ReapOrphans(ctx context.Context) (int, error) {
	active := make(map[int]bool, len(p.slots))
	for _, s := range p.slots {
		active[s.id] = true
	}
	return p.vcs.ReapOrphanedWorkspaces(ctx, active)
}

// phase is a worker slot's position in the implement/review/merge machine.
type phase string

const (
	phaseImplementing phase = "implementing"
	phaseReviewing    phase = "reviewing"
	phaseMerging      phase = "merging"
)

// slot is the pool's in-memory view of one worker; model.WorkerState in
// the store tracks the parallel, persisted view.
type slot struct {
	id            int
	issueID       string
	workspace     string
	phase         phase
	proc          *agentproc.Process
	reviewIter    int
	feedback      string
	violationNote string
	sawMarker     agentproc.MarkerKind
	busy          bool
}

// ExecuteBatch drives every issue in batch through the pool until each has
// produced a Result, honoring interrupted for cooperative cancellation. On
// interrupt it kills every running child, re-queues the batch, and
// returns what was collected so far with ok=false.
func (p *Pool) ExecuteBatch(ctx context.Context, batch *model.Batch, interrupted func() bool) ([]Result, bool) {
	p.store.MarkCurrentBatchRunning()

	pending := append([]string{}, batch.IssueIDs...)
	dispatched := make(map[string]bool, len(pending))
	var results []Result

	for len(results) < len(batch.IssueIDs) {
		if interrupted() {
			p.killAll()
			p.store.RequeueCurrentBatch()
			return results, false
		}

		p.drainEvents()

		for _, s := range p.slots {
			if !s.busy {
				continue
			}
			if exitCode, exited := s.proc.TryWait(); exited {
				res := p.onExit(ctx, s, exitCode)
				if res != nil {
					results = append(results, *res)
				}
				continue
			}
			if time.Since(s.proc.LastOutputTime()) > time.Duration(p.cfg.AgentTimeoutSeconds)*time.Second {
				p.onTimeout(ctx, s)
				results = append(results, Result{
					IssueID:  s.issueID,
					Success:  false,
					ExitCode: 124,
					Result:   model.ResultTimeout,
					Notes:    "idle timeout",
				})
			}
		}

		var toDispatch []dispatchCandidate
		for _, id := range pending {
			if dispatched[id] {
				continue
			}
			w := p.store.FindIdleWorker()
			if w == nil {
				break
			}
			p.store.AssignWorker(w.ID, id)
			toDispatch = append(toDispatch, dispatchCandidate{issueID: id, slot: p.slots[w.ID]})
			dispatched[id] = true
		}
		if len(toDispatch) > 0 {
			p.dispatchConcurrently(ctx, toDispatch)
		}

		time.Sleep(dispatchPollInterval)
	}

	p.store.CompleteCurrentBatch()
	return results, true
}

func (p *Pool) killAll() {
	for _, s := range p.slots {
		if s.busy && s.proc != nil {
			_ = s.proc.Kill()
		}
	}
}

// drainEvents non-blockingly consumes buffered output events from every
// busy slot's process, updating which marker (if any) it has last seen.
func (p *Pool) drainEvents() {
	for _, s := range p.slots {
		if !s.busy || s.proc == nil {
			continue
		}
	drain:
		for {
			select {
			case ev, ok := <-s.proc.Events():
				if !ok {
					break drain
				}
				if ev.Marker.Kind != agentproc.MarkerNone {
					s.sawMarker = ev.Marker.Kind
					if ev.Marker.Kind == agentproc.MarkerChangesRequested {
						s.feedback = ev.Marker.Payload
					}
				}
			default:
				break drain
			}
		}
	}
}

// dispatchCandidate pairs a ready issue with the idle slot it was just
// reserved onto, for a single tick's concurrent dispatch fan-out.
type dispatchCandidate struct {
	issueID string
	slot    *slot
}

// dispatchConcurrently fans the VCS workspace-creation call for each
// candidate out across goroutines bounded by wsLimiter, then lets each
// finish its own spawn sequentially within its goroutine. Candidates
// touch disjoint slots, so there's no shared mutable state between them;
// the caller doesn't read slot state again until the next dispatch tick,
// after this call's WaitGroup has returned.
func (p *Pool) dispatchConcurrently(ctx context.Context, candidates []dispatchCandidate) {
	var wg sync.WaitGroup
	for _, c := range candidates {
		wg.Add(1)
		go func(c dispatchCandidate) {
			defer wg.Done()
			if err := p.wsLimiter.Acquire(ctx, 1); err != nil {
				slog.Error("worker: failed to acquire workspace creation slot", "issue", c.issueID, "error", err)
				return
			}
			defer p.wsLimiter.Release(1)

			if err := p.dispatchImplement(ctx, c.slot, c.issueID, ""); err != nil {
				slog.Error("worker: failed to dispatch", "issue", c.issueID, "error", err)
			}
		}(c)
	}
	wg.Wait()
}

func (p *Pool) dispatchImplement(ctx context.Context, s *slot, issueID, feedback string) error {
	workspace, err := p.vcs.CreateWorkspace(ctx, s.id)
	if err != nil {
		return fmt.Errorf("failed to create workspace for worker %d: %w", s.id, err)
	}

	m := p.store.GetManifest(issueID)
	ok, err := p.store.TryAcquireLocks(issueID, m, s.id)
	if err != nil || !ok {
		return fmt.Errorf("failed to acquire locks for %s: %w", issueID, err)
	}

	s.issueID = issueID
	s.workspace = workspace
	s.phase = phaseImplementing
	s.feedback = feedback
	s.sawMarker = agentproc.MarkerNone
	s.busy = true

	p.store.AssignWorker(s.id, issueID)

	promptText, err := p.renderImplementPrompt(issueID, s)
	if err != nil {
		return err
	}

	proc, err := p.spawn(ctx, workspace, p.cfg.ImplementerCommand, "-p", promptText)
	if err != nil {
		return fmt.Errorf("failed to spawn implementer for %s: %w", issueID, err)
	}
	s.proc = proc
	p.store.MarkWorkerRunning(s.id, proc.Pid())
	logger.ForWorker(s.id).Info("dispatched implementation agent", "issue", issueID, "workspace", workspace, "invocation_id", proc.ID())
	return nil
}

func (p *Pool) renderImplementPrompt(issueID string, s *slot) (string, error) {
	m := p.store.GetManifest(issueID)
	var manifestText string
	if m != nil {
		manifestText = prompt.RenderManifest(m.PrimaryFiles, m.ReadFiles, m.ForbiddenFiles)
	}
	return p.prompts.Build(prompt.KindImplement, prompt.Data{
		IssueID:          issueID,
		Manifest:         manifestText,
		Feedback:         s.feedback,
		ViolationSummary: s.violationNote,
	})
}

// onExit drives the phase machine's transition for a slot whose process
// just exited, returning a terminal Result if the issue reached a final
// state, or nil if it advanced to the next phase.
func (p *Pool) onExit(ctx context.Context, s *slot, exitCode int) *Result {
	switch s.phase {
	case phaseImplementing:
		return p.onImplementExit(ctx, s, exitCode)
	case phaseReviewing:
		return p.onReviewExit(ctx, s, exitCode)
	case phaseMerging:
		return p.onMergeExit(ctx, s, exitCode)
	default:
		return p.fail(ctx, s, exitCode, "unknown phase at exit")
	}
}

func (p *Pool) onImplementExit(ctx context.Context, s *slot, exitCode int) *Result {
	if s.sawMarker == agentproc.MarkerBlocked {
		return p.fail(ctx, s, exitCode, "blocked: "+s.feedback)
	}
	if exitCode != 0 {
		return p.fail(ctx, s, exitCode, "implementation agent exited non-zero")
	}
	if s.sawMarker != agentproc.MarkerReadyForReview {
		return p.fail(ctx, s, exitCode, "implementation agent exited without READY_FOR_REVIEW")
	}

	s.phase = phaseReviewing
	s.sawMarker = agentproc.MarkerNone
	promptText, err := p.prompts.Build(prompt.KindReview, prompt.Data{IssueID: s.issueID})
	if err != nil {
		return p.fail(ctx, s, 1, err.Error())
	}
	proc, err := p.spawn(ctx, s.workspace, p.cfg.ReviewerCommand, "exec",
		"--dangerously-bypass-approvals-and-sandbox", promptText)
	if err != nil {
		return p.fail(ctx, s, 1, err.Error())
	}
	s.proc = proc
	logger.ForWorker(s.id).Info("dispatched review agent", "issue", s.issueID, "invocation_id", proc.ID())
	return nil
}

func (p *Pool) onReviewExit(ctx context.Context, s *slot, exitCode int) *Result {
	if exitCode != 0 {
		return p.fail(ctx, s, exitCode, "review agent exited non-zero")
	}

	switch s.sawMarker {
	case agentproc.MarkerApproved:
		s.phase = phaseMerging
		s.sawMarker = agentproc.MarkerNone
		promptText, err := p.prompts.Build(prompt.KindMerge, prompt.Data{IssueID: s.issueID})
		if err != nil {
			return p.fail(ctx, s, 1, err.Error())
		}
		proc, err := p.spawn(ctx, s.workspace, p.cfg.ReviewerCommand, "exec",
			"--dangerously-bypass-approvals-and-sandbox", promptText)
		if err != nil {
			return p.fail(ctx, s, 1, err.Error())
		}
		s.proc = proc
		logger.ForWorker(s.id).Info("dispatched merge agent", "issue", s.issueID, "invocation_id", proc.ID())
		return nil

	case agentproc.MarkerChangesRequested:
		s.reviewIter++
		if s.reviewIter >= MaxReviewIterations {
			return p.fail(ctx, s, exitCode, "exceeded max review iterations")
		}
		if err := p.dispatchImplement(ctx, s, s.issueID, s.feedback); err != nil {
			return p.fail(ctx, s, 1, err.Error())
		}
		logger.ForWorker(s.id).Info("review requested changes, re-entering implementation",
			"issue", s.issueID, "iteration", s.reviewIter)
		return nil

	default:
		return p.fail(ctx, s, exitCode, "review agent exited without a recognized marker")
	}
}

func (p *Pool) onMergeExit(ctx context.Context, s *slot, exitCode int) *Result {
	if exitCode != 0 || s.sawMarker != agentproc.MarkerMergeComplete {
		return p.fail(ctx, s, exitCode, "merge agent did not confirm MERGE_COMPLETE")
	}
	return p.finishWithContext(ctx, s, true, 0, model.ResultSuccess, "completed")
}

func (p *Pool) onTimeout(ctx context.Context, s *slot) {
	_ = s.proc.Kill()
	p.store.MarkWorkerTimeout(s.id)
	_ = p.vcs.RemoveWorkspace(ctx, s.id)
	logger.ForWorker(s.id).Warn("agent idle timeout", "issue", s.issueID)
	s.busy = false
}

func (p *Pool) fail(ctx context.Context, s *slot, exitCode int, notes string) *Result {
	return p.finishWithContext(ctx, s, false, exitCode, model.ResultFailed, notes)
}

// finishWithContext records the terminal outcome of s's current issue and
// asks the VCS collaborator to remove its workspace, on both the success
// and the failure path — only onTimeout's own kill-and-reap path handles
// workspace removal outside of this function.
func (p *Pool) finishWithContext(ctx context.Context, s *slot, success bool, exitCode int, result model.AttemptResult, notes string) *Result {
	issueID := s.issueID
	p.store.CompleteWorker(s.id, success)
	p.store.RecordAttempt(issueID, result, nil, notes)
	if success {
		p.store.UpdateIssue(issueID, model.IssueCompleted)
	} else {
		p.store.UpdateIssue(issueID, model.IssueFailed)
	}
	if err := p.vcs.RemoveWorkspace(ctx, s.id); err != nil {
		logger.ForWorker(s.id).Warn("failed to remove workspace", "issue", issueID, "error", err)
	}
	s.busy = false
	s.proc = nil
	return &Result{IssueID: issueID, Success: success, ExitCode: exitCode, Result: result, Notes: notes}
}
