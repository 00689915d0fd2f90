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

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.conf"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Agents.NumWorkers != 4 {
		t.Errorf("NumWorkers = %d, want default 4", cfg.Agents.NumWorkers)
	}
	if cfg.Tracker.Type != "beads" {
		t.Errorf("Tracker.Type = %q, want default \"beads\"", cfg.Tracker.Type)
	}
	if cfg.Passes.PlannerMode != "interval" {
		t.Errorf("PlannerMode = %q, want \"interval\"", cfg.Passes.PlannerMode)
	}
}

func TestLoadParsesSections(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "noface.conf")
	body := `
# comment line
[project]
name = "demo" # trailing comment
build = go build ./...

[agents]
implementer = claude
num_workers = 6
verbose = true

[passes]
scrum_enabled = false
planner_mode = event_driven

[tracker]
type = github

[sync]
provider = github
api_url = "https://api.github.com"
repo = acme/widgets
token = "${TEST_NOFACE_TOKEN:-fallback-token}"

[monowiki]
neighbor_depth = 3
max_file_size_kb = 512

[observability]
metrics_enabled = true
metrics_addr = ":9999"
sampling_rate = 0.5
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Project.Name != "demo" {
		t.Errorf("Project.Name = %q, want \"demo\"", cfg.Project.Name)
	}
	if cfg.Project.Build != "go build ./..." {
		t.Errorf("Project.Build = %q", cfg.Project.Build)
	}
	if cfg.Agents.Implementer != "claude" || cfg.Agents.NumWorkers != 6 || !cfg.Agents.Verbose {
		t.Errorf("Agents = %+v", cfg.Agents)
	}
	if cfg.Passes.PlannerEnabled {
		t.Error("expected scrum_enabled=false to disable the planner")
	}
	if cfg.Passes.PlannerMode != "event_driven" {
		t.Errorf("PlannerMode = %q, want event_driven", cfg.Passes.PlannerMode)
	}
	if cfg.Tracker.Type != "github" {
		t.Errorf("Tracker.Type = %q, want github", cfg.Tracker.Type)
	}
	if cfg.Sync.Repo != "acme/widgets" {
		t.Errorf("Sync.Repo = %q", cfg.Sync.Repo)
	}
	if cfg.Sync.Token != "fallback-token" {
		t.Errorf("Sync.Token = %q, want expanded fallback", cfg.Sync.Token)
	}
	if cfg.Monowiki.NeighborDepth != 3 || cfg.Monowiki.MaxFileSizeKB != 512 {
		t.Errorf("Monowiki = %+v", cfg.Monowiki)
	}
	if !cfg.Observability.MetricsEnabled || cfg.Observability.MetricsAddr != ":9999" {
		t.Errorf("Observability = %+v", cfg.Observability)
	}
	if cfg.Observability.SamplingRate != 0.5 {
		t.Errorf("Observability.SamplingRate = %v, want 0.5", cfg.Observability.SamplingRate)
	}
}

func TestLoadObservabilityDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.conf"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Observability.MetricsEnabled {
		t.Error("expected metrics disabled by default")
	}
	if cfg.Observability.MetricsAddr != ":9090" {
		t.Errorf("Observability.MetricsAddr = %q, want default \":9090\"", cfg.Observability.MetricsAddr)
	}
	if cfg.Observability.SamplingRate != 1.0 {
		t.Errorf("Observability.SamplingRate = %v, want default 1.0", cfg.Observability.SamplingRate)
	}
}

func TestLoadObservabilityRejectsOutOfRangeSamplingRate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad-obs.conf")
	body := "[observability]\nsampling_rate = 2.5\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Observability.SamplingRate != 1.0 {
		t.Errorf("SamplingRate = %v, want default 1.0 (2.5 is out of the 0-1 range)", cfg.Observability.SamplingRate)
	}
}

func TestLoadMalformedValueFallsBackToDefault(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.conf")
	body := "[agents]\nnum_workers = 99\ntimeout_seconds = not-a-number\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Agents.NumWorkers != 4 {
		t.Errorf("NumWorkers = %d, want default 4 (99 is out of the 1-8 range)", cfg.Agents.NumWorkers)
	}
	if cfg.Agents.TimeoutSeconds != 900 {
		t.Errorf("TimeoutSeconds = %d, want default 900", cfg.Agents.TimeoutSeconds)
	}
}

func TestExpandEnvVariants(t *testing.T) {
	os.Setenv("NOFACE_TEST_VAR", "hello")
	defer os.Unsetenv("NOFACE_TEST_VAR")
	os.Unsetenv("NOFACE_TEST_MISSING")

	cases := map[string]string{
		"$NOFACE_TEST_VAR":               "hello",
		"${NOFACE_TEST_VAR}":             "hello",
		"${NOFACE_TEST_MISSING:-backup}": "backup",
		"plain":                          "plain",
	}
	for in, want := range cases {
		if got := expandEnv(in); got != want {
			t.Errorf("expandEnv(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestUnquoteEscapes(t *testing.T) {
	got, err := unquote(`"line one\nline two\t\"quoted\""`)
	if err != nil {
		t.Fatalf("unquote: %v", err)
	}
	want := "line one\nline two\t\"quoted\""
	if got != want {
		t.Errorf("unquote = %q, want %q", got, want)
	}
}

func TestValidateRejectsRedundantSyncToGithub(t *testing.T) {
	cfg := &Config{}
	cfg.setDefaults()
	cfg.Tracker.Type = "github"
	cfg.Tracker.SyncToGithub = true
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected Validate to reject type=github with sync_to_github=true")
	}
}
