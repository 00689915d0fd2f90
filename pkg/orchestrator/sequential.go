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
	"fmt"
	"strings"
	"time"

	"github.com/kadirpekel/noface/pkg/agentproc"
	"github.com/kadirpekel/noface/pkg/logger"
	"github.com/kadirpekel/noface/pkg/manifest"
	"github.com/kadirpekel/noface/pkg/model"
	"github.com/kadirpekel/noface/pkg/prompt"
)

// exitIdleTimeout mirrors the worker pool's exit-code convention for the
// single-process path: an idle child is killed and reported as 124,
// matching model.ResultTimeout's triggering condition.
const exitIdleTimeout = 124

// exitInterrupted is reported for a sequential attempt whose agent was
// killed because SIGINT/SIGTERM flipped the interrupt flag mid-run.
const exitInterrupted = 130

// sequentialIteration runs exactly one issue through implement/verify
// without the worker pool, used whenever no batch is queued.
func (l *Loop) sequentialIteration(ctx context.Context) error {
	issueID, reason, err := l.selectNextIssue(ctx)
	if err != nil {
		return fmt.Errorf("failed to select next issue: %w", err)
	}
	if issueID == "" {
		if reason == "empty backlog" {
			logger.Success("orchestrator: backlog empty, nothing left to do")
			return errStopLoop
		}
		logger.GetLogger().Warn("orchestrator: all ready issues are blocked", "wait", l.cfg.AllBlockedWait)
		time.Sleep(l.cfg.AllBlockedWait)
		return nil
	}

	l.interrupt.SetCurrentIssue(issueID)
	defer l.interrupt.SetCurrentIssue("")

	l.store.UpdateIssue(issueID, model.IssueRunning)

	var violationSummary, lastNotes string
	for attempt := 1; attempt <= l.cfg.Retry.MaxAttempts; attempt++ {
		if l.interrupt.Interrupted() {
			return nil
		}
		if d := l.cfg.Retry.Delay(attempt); d > 0 {
			time.Sleep(d)
		}

		baseline, err := l.verify.CaptureBaseline(ctx)
		if err != nil {
			return fmt.Errorf("failed to capture baseline for %s: %w", issueID, err)
		}

		m := l.store.GetManifest(issueID)
		manifestText := ""
		if m != nil {
			manifestText = prompt.RenderManifest(m.PrimaryFiles, m.ReadFiles, m.ForbiddenFiles)
		}
		promptText, err := l.prompts.Build(prompt.KindImplement, prompt.Data{
			IssueID:          issueID,
			Manifest:         manifestText,
			ViolationSummary: violationSummary,
		})
		if err != nil {
			return err
		}

		exitCode, sawReady := l.runImplementOnce(ctx, promptText)

		vctx, vspan := l.obs.Tracer().Start(ctx, "manifest.verify")
		result, verr := l.verify.Verify(vctx, m, baseline)
		vspan.End()
		if verr != nil {
			return fmt.Errorf("failed to verify manifest compliance for %s: %w", issueID, verr)
		}
		l.obs.Metrics().SetManifestAccuracy(result.Accuracy)

		if !result.Compliant {
			l.obs.Metrics().ViolationRecorded()
			if rerr := l.verify.RollbackFiles(ctx, result); rerr != nil {
				logger.GetLogger().Error("orchestrator: rollback failed", "issue", issueID, "error", rerr)
			}
			l.store.RecordAttempt(issueID, model.ResultViolation, result.FilesActuallyTouched,
				"manifest violation: forbidden="+strings.Join(result.ForbiddenFilesTouched, ",")+
					" unauthorized="+strings.Join(result.UnauthorizedFiles, ","))
			violationSummary = stricterFeedback(result)
			lastNotes = "manifest violation"
			continue
		}

		if exitCode == 0 && sawReady {
			l.store.RecordAttempt(issueID, model.ResultSuccess, result.FilesActuallyTouched, "completed")
			l.store.UpdateIssue(issueID, model.IssueCompleted)
			return l.finalizeSuccess(ctx, issueID)
		}

		resultKind := model.ResultFailed
		if exitCode == exitIdleTimeout {
			resultKind = model.ResultTimeout
			l.obs.Metrics().AgentIdleTimeout()
		}
		lastNotes = fmt.Sprintf("attempt %d exited %d", attempt, exitCode)
		l.store.RecordAttempt(issueID, resultKind, result.FilesActuallyTouched, lastNotes)

		if !ShouldRetry(exitCode) {
			break
		}
	}

	l.store.UpdateIssue(issueID, model.IssueFailed)
	logger.GetLogger().Warn("orchestrator: all attempts failed, requesting breakdown",
		"issue", issueID, "notes", lastNotes)
	return l.requestBreakdown(ctx, issueID, lastNotes)
}

// errStopLoop signals Run to stop iterating without treating it as a
// failure; handled by the caller.
var errStopLoop = stopLoopError{}

type stopLoopError struct{}

func (stopLoopError) Error() string { return "backlog empty" }

// selectNextIssue implements the reasoning order: resumed in-progress
// issue first, then highest-priority ready issue, else "all-blocked" or
// "empty backlog".
func (l *Loop) selectNextIssue(ctx context.Context) (id string, reason string, err error) {
	snap := l.store.Snapshot()
	for issueID, st := range snap.Issues {
		if st.Status == model.IssueRunning || st.Status == model.IssueAssigned {
			return issueID, "resumed in-progress", nil
		}
	}

	ready, err := l.tracker.ReadyIssues(ctx)
	if err != nil {
		return "", "", fmt.Errorf("failed to list ready issues: %w", err)
	}
	if len(ready) == 0 {
		blocked, berr := l.tracker.BlockedIssues(ctx)
		if berr == nil && len(blocked) > 0 {
			return "", "all-blocked", nil
		}
		return "", "empty backlog", nil
	}

	best := ready[0]
	bestPriority := -1
	for _, candidate := range ready {
		issue, serr := l.tracker.Show(ctx, candidate)
		if serr != nil {
			continue
		}
		if issue.Priority > bestPriority {
			bestPriority = issue.Priority
			best = candidate
		}
	}
	return best, "highest-priority ready", nil
}

// runImplementOnce spawns a single implementation agent and waits for its
// exit, reporting whether READY_FOR_REVIEW (or ISSUE_COMPLETE, for a
// single-shot sequential run) was observed.
func (l *Loop) runImplementOnce(ctx context.Context, promptText string) (exitCode int, sawReady bool) {
	attemptCtx, cancel := context.WithTimeout(ctx, time.Duration(l.pool.Config().AgentTimeoutSeconds)*time.Second)
	defer cancel()

	proc, err := agentproc.Spawn(attemptCtx, "", l.pool.Config().ImplementerCommand, "-p", promptText)
	if err != nil {
		return 1, false
	}

	timeout := time.Duration(l.pool.Config().AgentTimeoutSeconds) * time.Second
	for {
	drain:
		for {
			select {
			case ev, ok := <-proc.Events():
				if !ok {
					break drain
				}
				switch ev.Marker.Kind {
				case agentproc.MarkerReadyForReview, agentproc.MarkerIssueComplete:
					sawReady = true
				}
			default:
				break drain
			}
		}

		if code, ok := proc.TryWait(); ok {
			return code, sawReady
		}
		if l.interrupt.Interrupted() {
			_ = proc.Kill()
			return exitInterrupted, sawReady
		}
		if time.Since(proc.LastOutputTime()) > timeout || attemptCtx.Err() != nil {
			_ = proc.Kill()
			return exitIdleTimeout, sawReady
		}
		time.Sleep(50 * time.Millisecond)
	}
}

// stricterFeedback enumerates exactly which forbidden and unauthorized
// files were touched, for the ViolationSummary slot of the next attempt's
// prompt.
func stricterFeedback(r *manifest.ComplianceResult) string {
	var parts []string
	if len(r.ForbiddenFilesTouched) > 0 {
		parts = append(parts, "forbidden: "+strings.Join(r.ForbiddenFilesTouched, ", "))
	}
	if len(r.UnauthorizedFiles) > 0 {
		parts = append(parts, "unauthorized: "+strings.Join(r.UnauthorizedFiles, ", "))
	}
	return strings.Join(parts, "; ")
}

// finalizeSuccess closes the tracker issue and invokes the optional sync
// provider.
func (l *Loop) finalizeSuccess(ctx context.Context, issueID string) error {
	if err := l.tracker.Close(ctx, issueID, "completed by automated implementation"); err != nil {
		logger.GetLogger().Error("orchestrator: failed to close tracker issue", "issue", issueID, "error", err)
	}
	if l.sync != nil {
		if err := l.sync.SyncIssue(ctx, issueID); err != nil {
			logger.GetLogger().Error("orchestrator: downstream sync failed", "issue", issueID, "error", err)
		}
	}
	logger.Success("orchestrator: issue completed", "issue", issueID)
	return nil
}

// requestBreakdown asks a breakdown-planner agent to split a permanently
// failing issue into sub-issues.
func (l *Loop) requestBreakdown(ctx context.Context, issueID, notes string) error {
	promptText, err := l.prompts.Build(prompt.KindBreakdown, prompt.Data{IssueID: issueID, Feedback: notes})
	if err != nil {
		return err
	}
	return l.runReviewStyleAgent(ctx, promptText, agentproc.MarkerBreakdownComplete)
}
