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

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"github.com/kadirpekel/noface/pkg/agentproc"
	"github.com/kadirpekel/noface/pkg/batchplanner"
	"github.com/kadirpekel/noface/pkg/logger"
	"github.com/kadirpekel/noface/pkg/manifest"
	"github.com/kadirpekel/noface/pkg/model"
	"github.com/kadirpekel/noface/pkg/observability"
	"github.com/kadirpekel/noface/pkg/prompt"
	"github.com/kadirpekel/noface/pkg/state"
	"github.com/kadirpekel/noface/pkg/tracker"
	"github.com/kadirpekel/noface/pkg/worker"
)

// PlannerMode selects how the planner pass is triggered.
type PlannerMode string

const (
	PlannerModeInterval     PlannerMode = "interval"
	PlannerModeEventDriven  PlannerMode = "event_driven"
)

// Sync is the optional downstream issue-sync provider contract.
type Sync interface {
	SyncIssue(ctx context.Context, issueID string) error
}

// Config configures one orchestrator run.
type Config struct {
	ProjectName         string
	MaxIterations       int    // 0 = unbounded
	SingleIssueID       string // if set, stop once this issue completes
	PlannerEnabled      bool
	PlannerMode         PlannerMode
	PlannerInterval     time.Duration
	QualityEnabled      bool
	QualityInterval     time.Duration
	AllBlockedWait      time.Duration // override of the default 30s wait
	InterIterationPause time.Duration
	StaleLockAge        time.Duration
	Retry               RetryPolicy
}

// SetDefaults fills in the standard timing constants where the config
// left them zero.
func (c *Config) SetDefaults() {
	if c.AllBlockedWait <= 0 {
		c.AllBlockedWait = 30 * time.Second
	}
	if c.InterIterationPause <= 0 {
		c.InterIterationPause = 5 * time.Second
	}
	if c.StaleLockAge <= 0 {
		c.StaleLockAge = time.Hour
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry = DefaultRetryPolicy()
	}
}

// Loop is the top-level control loop.
type Loop struct {
	cfg     Config
	store   *state.Store
	pool    *worker.Pool
	planner *batchplanner.Planner
	verify  *manifest.Verifier
	tracker Tracker
	prompts *prompt.Builder
	obs     *observability.Manager
	sync    Sync // optional, may be nil

	interrupt     *InterruptFlag
	lastPlannerAt time.Time
	lastQualityAt time.Time
	plannedThisIt bool
}

// Tracker is the narrow slice of the issue-tracker collaborator the loop
// itself needs, beyond what BatchPlanner already wraps.
type Tracker interface {
	batchplanner.Tracker
	BlockedIssues(ctx context.Context) ([]string, error)
	Show(ctx context.Context, id string) (*tracker.Issue, error)
	Close(ctx context.Context, id, reason string) error
}

// New creates a Loop from its collaborators. sync may be nil.
func New(cfg Config, store *state.Store, pool *worker.Pool, planner *batchplanner.Planner,
	verify *manifest.Verifier, tr Tracker, prompts *prompt.Builder, obs *observability.Manager, sync Sync) *Loop {
	cfg.SetDefaults()
	return &Loop{
		cfg: cfg, store: store, pool: pool, planner: planner, verify: verify,
		tracker: tr, prompts: prompts, obs: obs, sync: sync,
		interrupt: NewInterruptFlag(),
	}
}

// ErrMissingPrerequisite is returned by CheckPrerequisites.
type ErrMissingPrerequisite struct{ Name string }

func (e *ErrMissingPrerequisite) Error() string {
	return fmt.Sprintf("required collaborator %q not found on PATH", e.Name)
}

// CheckPrerequisites verifies every required external CLI resolves on
// PATH, and optionally that a build command succeeds once. A fatal
// failure here aborts before the loop enters its main cycle.
func CheckPrerequisites(implementer, reviewer, trackerCmd, vcsCmd, buildCmd string) error {
	for name, cmd := range map[string]string{
		"implementer": implementer, "reviewer": reviewer,
		"tracker": trackerCmd, "vcs": vcsCmd,
	} {
		if cmd == "" {
			continue
		}
		if _, err := exec.LookPath(cmd); err != nil {
			return &ErrMissingPrerequisite{Name: name}
		}
	}
	if buildCmd != "" {
		if err := exec.Command("sh", "-c", buildCmd).Run(); err != nil {
			return fmt.Errorf("build command failed at startup: %w", err)
		}
	}
	return nil
}

// Run installs signal handlers, runs crash recovery on the already-loaded
// store, and drives iterations until a stop condition is met. Returns the total number of
// successful completions recorded in this run.
func (l *Loop) Run(ctx context.Context) (int, error) {
	stopSignals := l.interrupt.Install()
	defer stopSignals()

	recovered := l.store.RecoverFromCrash(l.cfg.StaleLockAge)
	logger.Success("orchestrator: state loaded", "recovered_items", recovered,
		"total_iterations", l.store.Snapshot().TotalIterations)

	startingCompletions := l.store.Snapshot().SuccessfulCompletions

runLoop:
	for !l.interrupt.Interrupted() {
		if err := l.iterate(ctx); err != nil {
			if errors.Is(err, errStopLoop) {
				break runLoop
			}
			logger.GetLogger().Error("orchestrator: iteration failed", "error", err)
		}

		if err := l.store.Save(); err != nil {
			logger.GetLogger().Error("orchestrator: failed to save state", "error", err)
		}

		snap := l.store.Snapshot()
		busy := 0
		for _, w := range snap.Workers {
			if w.Status == model.WorkerStarting || w.Status == model.WorkerRunning {
				busy++
			}
		}
		l.obs.Metrics().SetWorkersBusy(busy)
		l.obs.Metrics().SetLocksHeld(len(snap.Locks))

		if l.cfg.MaxIterations > 0 && snap.TotalIterations >= l.cfg.MaxIterations {
			break runLoop
		}
		if l.cfg.SingleIssueID != "" {
			if issue, ok := snap.Issues[l.cfg.SingleIssueID]; ok && issue.Status == model.IssueCompleted {
				break runLoop
			}
		}
		if l.interrupt.Interrupted() {
			break runLoop
		}

		select {
		case <-ctx.Done():
			break runLoop
		case <-time.After(l.cfg.InterIterationPause):
		}
	}

	if err := l.store.Save(); err != nil {
		logger.GetLogger().Error("orchestrator: failed final save", "error", err)
	}

	if l.interrupt.Interrupted() {
		logger.GetLogger().Warn("orchestrator: interrupted",
			"current_issue", l.interrupt.CurrentIssue(), "status", "not completed")
	}

	final := l.store.Snapshot().SuccessfulCompletions
	return final - startingCompletions, nil
}

// iterate runs one pass of the main loop: planner and quality passes if
// due, then a batch dispatch or a single sequential-issue iteration.
func (l *Loop) iterate(ctx context.Context) error {
	ctx, span := l.obs.Tracer().Start(ctx, "orchestrator.iteration")
	defer span.End()

	l.store.IncrementIterations()
	l.obs.Metrics().IterationStarted()
	l.plannedThisIt = false

	snap := l.store.Snapshot()
	firstIteration := snap.TotalIterations <= 1

	if l.shouldRunPlanner(firstIteration) {
		if err := l.runPlannerPass(ctx); err != nil {
			logger.GetLogger().Warn("orchestrator: planner pass failed", "error", err)
		}
	}

	if l.cfg.QualityEnabled && !firstIteration && time.Since(l.lastQualityAt) >= l.cfg.QualityInterval {
		if err := l.runQualityPass(ctx); err != nil {
			logger.GetLogger().Warn("orchestrator: quality pass failed", "error", err)
		}
		l.lastQualityAt = time.Now()
	}

	batch := l.store.GetNextPendingBatch()
	if batch == nil {
		if l.cfg.PlannerMode == PlannerModeEventDriven && l.cfg.PlannerEnabled && !l.plannedThisIt {
			if err := l.runPlannerPass(ctx); err != nil {
				logger.GetLogger().Warn("orchestrator: event-driven planner retry failed", "error", err)
			}
			batch = l.store.GetNextPendingBatch()
		}
	}

	if batch != nil {
		bctx, bspan := l.obs.Tracer().Start(ctx, "orchestrator.batch")
		results, ok := l.pool.ExecuteBatch(bctx, batch, l.interrupt.Interrupted)
		bspan.End()
		if !ok {
			return nil
		}
		succeeded := 0
		for _, r := range results {
			if r.Success {
				succeeded++
			}
			if r.Result == model.ResultTimeout {
				l.obs.Metrics().AgentIdleTimeout()
			}
			l.obs.Metrics().AttemptRecorded(string(r.Result))
		}
		l.obs.Metrics().BatchCompleted()
		logger.Success("orchestrator: batch completed", "succeeded", succeeded, "total", len(results))
		return nil
	}

	return l.sequentialIteration(ctx)
}

func (l *Loop) shouldRunPlanner(firstIteration bool) bool {
	if !l.cfg.PlannerEnabled {
		return false
	}
	if l.cfg.PlannerMode == PlannerModeEventDriven {
		return firstIteration
	}
	return firstIteration || time.Since(l.lastPlannerAt) >= l.cfg.PlannerInterval
}

func (l *Loop) runPlannerPass(ctx context.Context) error {
	promptText, err := l.prompts.Build(prompt.KindPlanning, prompt.Data{})
	if err != nil {
		return err
	}
	if err := l.runReviewStyleAgent(ctx, promptText, agentproc.MarkerPlanningComplete); err != nil {
		return err
	}
	l.lastPlannerAt = time.Now()
	l.plannedThisIt = true

	ready, err := l.planner.LoadManifests(ctx)
	if err != nil {
		return fmt.Errorf("failed to reload manifests: %w", err)
	}
	l.planner.PlanBatches(ready)
	return nil
}

func (l *Loop) runQualityPass(ctx context.Context) error {
	promptText, err := l.prompts.Build(prompt.KindQuality, prompt.Data{})
	if err != nil {
		return err
	}
	return l.runReviewStyleAgent(ctx, promptText, agentproc.MarkerQualityReviewComplete)
}

// runReviewStyleAgent spawns an agent the way the review agent CLI is
// invoked — "exec --dangerously-bypass-approvals-and-sandbox <prompt>" —
// and waits for it to exit, requiring the given completion marker.
func (l *Loop) runReviewStyleAgent(ctx context.Context, promptText string, want agentproc.MarkerKind) error {
	proc, err := agentproc.Spawn(ctx, "", l.pool.Config().ReviewerCommand, "exec",
		"--dangerously-bypass-approvals-and-sandbox", promptText)
	if err != nil {
		return err
	}

	timeout := time.Duration(l.pool.Config().AgentTimeoutSeconds) * time.Second
	saw := agentproc.MarkerNone
	for {
	drain:
		for {
			select {
			case ev, ok := <-proc.Events():
				if !ok {
					break drain
				}
				if ev.Marker.Kind != agentproc.MarkerNone {
					saw = ev.Marker.Kind
				}
			default:
				break drain
			}
		}

		if code, ok := proc.TryWait(); ok {
			if code != 0 {
				return fmt.Errorf("agent exited with code %d", code)
			}
			if saw != want {
				return errors.New("agent did not emit expected completion marker")
			}
			return nil
		}
		if time.Since(proc.LastOutputTime()) > timeout {
			_ = proc.Kill()
			return errors.New("agent idle timeout")
		}
		time.Sleep(50 * time.Millisecond)
	}
}
