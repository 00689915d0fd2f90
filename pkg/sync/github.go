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

package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultGitHubAPIURL = "https://api.github.com"

// GitHubConfig configures the GitHub-backed sync provider.
type GitHubConfig struct {
	// APIURL is the GitHub API base, for GitHub Enterprise deployments.
	// Defaults to https://api.github.com.
	APIURL string

	// Repo is "owner/name".
	Repo string

	// Token is a personal access token or installation token, sent as a
	// bearer credential.
	Token string
}

// GitHub posts a completion comment to the issue's GitHub mirror.
type GitHub struct {
	cfg    GitHubConfig
	lookup IssueLookup
	client *http.Client
}

// NewGitHub validates cfg and returns a GitHub provider.
func NewGitHub(cfg GitHubConfig, lookup IssueLookup) (*GitHub, error) {
	if cfg.Repo == "" {
		return nil, fmt.Errorf("sync: github provider requires repo to be set")
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("sync: github provider requires token to be set")
	}
	if cfg.APIURL == "" {
		cfg.APIURL = defaultGitHubAPIURL
	}
	return &GitHub{
		cfg:    cfg,
		lookup: lookup,
		client: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

type githubCommentRequest struct {
	Body string `json:"body"`
}

// SyncIssue looks up the issue's title and posts a completion comment
// to its GitHub mirror, identified by issueID as the GitHub issue
// number.
func (g *GitHub) SyncIssue(ctx context.Context, issueID string) error {
	title := issueID
	if g.lookup != nil {
		if issue, err := g.lookup.Show(ctx, issueID); err == nil && issue != nil && issue.Title != "" {
			title = issue.Title
		}
	}

	payload := githubCommentRequest{
		Body: fmt.Sprintf("Closed locally by automated implementation: %s", title),
	}
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal github comment payload: %w", err)
	}

	url := fmt.Sprintf("%s/repos/%s/issues/%s/comments", g.cfg.APIURL, g.cfg.Repo, issueID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create github request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("Authorization", "Bearer "+g.cfg.Token)

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("github sync request failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("github sync failed with status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}
