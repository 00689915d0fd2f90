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

// Package sync implements the optional downstream issue-sync providers:
// after an issue is closed in the local tracker, a Provider may mirror
// that completion to an external system. Sync failures are non-fatal
// side effects — pkg/orchestrator logs and continues on error, it never
// blocks or fails the run on a sync failure.
package sync

import (
	"context"
	"fmt"

	"github.com/kadirpekel/noface/pkg/config"
	"github.com/kadirpekel/noface/pkg/tracker"
)

// Provider is the downstream issue-sync contract, matching
// pkg/orchestrator.Sync.
type Provider interface {
	SyncIssue(ctx context.Context, issueID string) error
}

// IssueLookup is the slice of the tracker collaborator a Provider needs
// to describe the issue it's syncing.
type IssueLookup interface {
	Show(ctx context.Context, id string) (*tracker.Issue, error)
}

// New builds a Provider from the [sync] config section. An empty or
// "none" provider name yields a NoOp, so a project that doesn't configure
// downstream sync never pays for it; any other unrecognized name is an
// error.
func New(cfg config.SyncConfig, lookup IssueLookup) (Provider, error) {
	switch cfg.Provider {
	case "", "none":
		return NoOp{}, nil
	case "github":
		return NewGitHub(GitHubConfig{
			APIURL: cfg.APIURL,
			Repo:   cfg.Repo,
			Token:  cfg.Token,
		}, lookup)
	default:
		return nil, fmt.Errorf("unknown sync provider %q", cfg.Provider)
	}
}

// NoOp is a Provider that does nothing, used when downstream sync isn't
// configured.
type NoOp struct{}

// SyncIssue implements Provider.
func (NoOp) SyncIssue(context.Context, string) error { return nil }
