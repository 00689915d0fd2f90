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
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kadirpekel/noface/pkg/config"
	"github.com/kadirpekel/noface/pkg/tracker"
)

type fakeLookup struct {
	issue *tracker.Issue
}

func (f fakeLookup) Show(context.Context, string) (*tracker.Issue, error) {
	return f.issue, nil
}

func TestGitHubSyncIssuePostsComment(t *testing.T) {
	var gotAuth, gotMethod, gotPath string
	var gotBody githubCommentRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotMethod = r.Method
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	provider, err := NewGitHub(GitHubConfig{
		APIURL: srv.URL,
		Repo:   "acme/widgets",
		Token:  "tok123",
	}, fakeLookup{issue: &tracker.Issue{ID: "42", Title: "fix the thing"}})
	if err != nil {
		t.Fatalf("NewGitHub: %v", err)
	}

	if err := provider.SyncIssue(context.Background(), "42"); err != nil {
		t.Fatalf("SyncIssue: %v", err)
	}
	if gotMethod != http.MethodPost {
		t.Errorf("method = %q, want POST", gotMethod)
	}
	if gotPath != "/repos/acme/widgets/issues/42/comments" {
		t.Errorf("path = %q", gotPath)
	}
	if gotAuth != "Bearer tok123" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotBody.Body == "" {
		t.Error("expected a non-empty comment body")
	}
}

func TestGitHubSyncIssuePropagatesServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message":"Bad credentials"}`))
	}))
	defer srv.Close()

	provider, err := NewGitHub(GitHubConfig{APIURL: srv.URL, Repo: "acme/widgets", Token: "bad"}, nil)
	if err != nil {
		t.Fatalf("NewGitHub: %v", err)
	}
	if err := provider.SyncIssue(context.Background(), "1"); err == nil {
		t.Fatal("expected an error on 401 response")
	}
}

func TestNewRejectsMissingRepoOrToken(t *testing.T) {
	if _, err := NewGitHub(GitHubConfig{Token: "tok"}, nil); err == nil {
		t.Error("expected error when repo is missing")
	}
	if _, err := NewGitHub(GitHubConfig{Repo: "acme/widgets"}, nil); err == nil {
		t.Error("expected error when token is missing")
	}
}

func TestNewProviderSelection(t *testing.T) {
	p, err := New(config.SyncConfig{}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, ok := p.(NoOp); !ok {
		t.Errorf("expected NoOp for empty provider, got %T", p)
	}

	if _, err := New(config.SyncConfig{Provider: "bogus"}, nil); err == nil {
		t.Error("expected error for unknown provider")
	}

	p, err = New(config.SyncConfig{Provider: "github", Repo: "acme/widgets", Token: "tok"}, nil)
	if err != nil {
		t.Fatalf("New(github): %v", err)
	}
	if _, ok := p.(*GitHub); !ok {
		t.Errorf("expected *GitHub, got %T", p)
	}
}
