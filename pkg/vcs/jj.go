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

// Package vcs shells out to the jj (Jujutsu) CLI to give each worker an
// isolated workspace, enumerate and restore changed paths, and fold
// finished work back into the main working copy. The orchestrator core
// treats the VCS, like the tracker and the agent CLIs, as a black box;
// everything here is a thin, typed wrapper around subprocess calls.
package vcs

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-hclog"
)

// JJ wraps the jj CLI rooted at a project directory.
type JJ struct {
	ProjectRoot  string
	WorkspaceDir string // parent directory under which worker workspaces are created

	logger hclog.Logger
}

// New creates a JJ collaborator rooted at projectRoot, with worker
// workspaces created under workspaceDir (created if missing on first use).
func New(projectRoot, workspaceDir string) *JJ {
	return &JJ{
		ProjectRoot:  projectRoot,
		WorkspaceDir: workspaceDir,
		logger: hclog.New(&hclog.LoggerOptions{
			Name:  "vcs.jj",
			Level: hclog.Debug,
		}),
	}
}

func (j *JJ) run(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "jj", args...)
	cmd.Dir = dir
	j.logger.Debug("running jj command", "dir", dir, "args", args)
	output, err := cmd.CombinedOutput()
	if err != nil {
		j.logger.Debug("jj command failed", "args", args, "output", string(output), "error", err)
		return "", fmt.Errorf("jj %s failed: %w, output: %s", strings.Join(args, " "), err, string(output))
	}
	return string(output), nil
}

// ChangedPaths returns the deduplicated union of modified, added, and
// deleted paths in the working copy at ProjectRoot.
func (j *JJ) ChangedPaths(ctx context.Context) ([]string, error) {
	output, err := j.run(ctx, j.ProjectRoot, "diff", "--summary")
	if err != nil {
		return nil, err
	}
	return parseDiffSummary(output), nil
}

// parseDiffSummary parses `jj diff --summary` lines of the form
// "M path", "A path", "D path" into a deduplicated path list.
func parseDiffSummary(output string) []string {
	seen := make(map[string]bool)
	var paths []string
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.SplitN(line, " ", 2)
		if len(fields) != 2 {
			continue
		}
		path := strings.TrimSpace(fields[1])
		if path != "" && !seen[path] {
			seen[path] = true
			paths = append(paths, path)
		}
	}
	return paths
}

// RestorePath restores a single path to its parent-revision state,
// preserving every other pending change.
func (j *JJ) RestorePath(ctx context.Context, path string) error {
	_, err := j.run(ctx, j.ProjectRoot, "restore", "--from", "@-", path)
	return err
}

// workspacePath returns the directory a worker's workspace lives under.
func (j *JJ) workspacePath(workerID int) string {
	return filepath.Join(j.WorkspaceDir, fmt.Sprintf("worker-%d", workerID))
}

// CreateWorkspace creates (or recreates) a fresh jj workspace for workerID
// and returns its path.
func (j *JJ) CreateWorkspace(ctx context.Context, workerID int) (string, error) {
	path := j.workspacePath(workerID)
	// Forgetting a workspace that doesn't exist yet is expected on first use.
	_, _ = j.run(ctx, j.ProjectRoot, "workspace", "forget", filepath.Base(path))
	if _, err := j.run(ctx, j.ProjectRoot, "workspace", "add", path); err != nil {
		return "", fmt.Errorf("failed to create workspace for worker %d: %w", workerID, err)
	}
	return path, nil
}

// RemoveWorkspace tears down workerID's workspace.
func (j *JJ) RemoveWorkspace(ctx context.Context, workerID int) error {
	path := j.workspacePath(workerID)
	if _, err := j.run(ctx, j.ProjectRoot, "workspace", "forget", filepath.Base(path)); err != nil {
		return fmt.Errorf("failed to remove workspace for worker %d: %w", workerID, err)
	}
	return nil
}

// ListWorkspaces enumerates every workspace jj currently knows about,
// including orphans left by a previous crashed run.
func (j *JJ) ListWorkspaces(ctx context.Context) ([]string, error) {
	output, err := j.run(ctx, j.ProjectRoot, "workspace", "list")
	if err != nil {
		return nil, err
	}
	var names []string
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		name := strings.SplitN(line, ":", 2)[0]
		name = strings.TrimSpace(name)
		if name != "" {
			names = append(names, name)
		}
	}
	return names, nil
}

// ReapOrphanedWorkspaces removes every workspace whose name is not in
// activeWorkerIDs, returning the count removed. Called once on cold start.
func (j *JJ) ReapOrphanedWorkspaces(ctx context.Context, activeWorkerIDs map[int]bool) (int, error) {
	names, err := j.ListWorkspaces(ctx)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, name := range names {
		id, ok := parseWorkerWorkspaceName(name)
		if !ok {
			continue
		}
		if activeWorkerIDs[id] {
			continue
		}
		if _, err := j.run(ctx, j.ProjectRoot, "workspace", "forget", name); err != nil {
			return removed, fmt.Errorf("failed to reap orphaned workspace %q: %w", name, err)
		}
		removed++
	}
	return removed, nil
}

func parseWorkerWorkspaceName(name string) (int, bool) {
	const prefix = "worker-"
	if !strings.HasPrefix(name, prefix) {
		return 0, false
	}
	var id int
	if _, err := fmt.Sscanf(name[len(prefix):], "%d", &id); err != nil {
		return 0, false
	}
	return id, true
}

// SquashWorkspace folds workerID's workspace changes into the main working
// copy.
func (j *JJ) SquashWorkspace(ctx context.Context, workerID int) error {
	path := j.workspacePath(workerID)
	_, err := j.run(ctx, path, "squash", "--into", "@-")
	return err
}

// Diff returns the textual diff of the working copy at dir.
func (j *JJ) Diff(ctx context.Context, dir string) (string, error) {
	return j.run(ctx, dir, "diff")
}

// Finalize commits the working copy at dir with the given message.
func (j *JJ) Finalize(ctx context.Context, dir, message string) error {
	_, err := j.run(ctx, dir, "commit", "-m", message)
	return err
}
