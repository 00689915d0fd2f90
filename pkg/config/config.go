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

// Package config loads the orchestrator's small key-value configuration
// format: bracketed sections, quoted or bare string values, "#" comments,
// and "${VAR}"/"${VAR:-default}"/"$VAR" environment expansion. A missing
// file is not an error — every field falls back to its documented
// default — and unknown keys are ignored rather than rejected, so older
// and newer config files stay forward- and backward-compatible.
package config

import (
	"fmt"
	"math"
	"os"

	"github.com/joho/godotenv"
	"github.com/kadirpekel/noface/pkg/logger"
)

// Config is the fully parsed, defaulted, and validated configuration.
type Config struct {
	Project  ProjectConfig
	Agents   AgentsConfig
	Passes   PassesConfig
	Tracker  TrackerConfig
	Sync     SyncConfig
	Monowiki MonowikiConfig

	Observability ObservabilityConfig
}

// ProjectConfig is the [project] section.
type ProjectConfig struct {
	Name  string
	Build string
	Test  string
}

// AgentsConfig is the [agents] section.
type AgentsConfig struct {
	Implementer    string
	Reviewer       string
	TimeoutSeconds int
	NumWorkers     int
	Verbose        bool
}

// PassesConfig is the [passes] section. The scrum_* key names are
// accepted as aliases of planner_* for files written against an older
// vocabulary; both populate the same fields.
type PassesConfig struct {
	PlannerEnabled  bool
	PlannerInterval int // seconds
	PlannerMode     string
	QualityEnabled  bool
	QualityInterval int // seconds
	AllBlockedWaitS int // optional override, 0 = use the orchestrator default
}

// TrackerConfig is the [tracker] section.
type TrackerConfig struct {
	Type         string
	SyncToGithub bool
}

// SyncConfig is the [sync] section.
type SyncConfig struct {
	Provider string
	APIURL   string
	Repo     string
	Token    string
}

// MonowikiConfig is the [monowiki] section.
type MonowikiConfig struct {
	Vault            string
	ProactiveSearch  bool
	ResolveWikilinks bool
	ExpandNeighbors  bool
	NeighborDepth    int
	APIDocsSlug      string
	SyncAPIDocs      bool
	MaxContextDocs   int
	MaxFileSizeKB    int
}

// ObservabilityConfig is the [observability] section. It controls whether
// the orchestrator starts the stdout trace exporter and the Prometheus
// /metrics HTTP server, and where that server listens.
type ObservabilityConfig struct {
	TracingEnabled bool
	SamplingRate   float64
	MetricsEnabled bool
	MetricsAddr    string
	MetricsPath    string
	Namespace      string
}

// Load reads the config file at path, applying environment expansion and
// defaults. A missing file yields full defaults rather than an error.
// .env and .env.local are loaded into the process environment first, so
// expansion sees them, mirroring how the rest of the ecosystem loads
// dotenv files before reading application config.
func Load(path string) (*Config, error) {
	loadDotenv()

	cfg := &Config{}
	cfg.setDefaults()

	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	sections, err := parse(string(data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	cfg.apply(sections)
	return cfg, nil
}

func loadDotenv() {
	for _, f := range []string{".env.local", ".env"} {
		if err := godotenv.Load(f); err != nil && !os.IsNotExist(err) {
			logger.GetLogger().Warn("config: failed to load dotenv file", "file", f, "error", err)
		}
	}
}

func (c *Config) setDefaults() {
	c.Agents.TimeoutSeconds = 900
	c.Agents.NumWorkers = 4
	c.Passes.PlannerEnabled = true
	c.Passes.PlannerInterval = 300
	c.Passes.PlannerMode = "interval"
	c.Passes.QualityEnabled = true
	c.Passes.QualityInterval = 600
	c.Tracker.Type = "beads"
	c.Monowiki.NeighborDepth = 2
	c.Monowiki.MaxContextDocs = 10
	c.Monowiki.MaxFileSizeKB = 256
	c.Observability.SamplingRate = 1.0
	c.Observability.MetricsAddr = ":9090"
	c.Observability.MetricsPath = "/metrics"
	c.Observability.Namespace = "noface"
}

// apply walks the parsed sections, assigning recognized keys onto cfg and
// falling back to the existing default (already set by setDefaults) plus
// a logged diagnostic for any value that fails to parse as its expected
// type. Unknown keys and unknown sections are silently ignored.
func (c *Config) apply(sections map[string]map[string]string) {
	if s, ok := sections["project"]; ok {
		assignString(s, "name", &c.Project.Name)
		assignString(s, "build", &c.Project.Build)
		assignString(s, "test", &c.Project.Test)
	}
	if s, ok := sections["agents"]; ok {
		assignString(s, "implementer", &c.Agents.Implementer)
		assignString(s, "reviewer", &c.Agents.Reviewer)
		assignIntRange(s, "timeout_seconds", &c.Agents.TimeoutSeconds, 1, math.MaxUint32)
		assignIntRange(s, "num_workers", &c.Agents.NumWorkers, 1, 8)
		assignBool(s, "verbose", &c.Agents.Verbose)
	}
	if s, ok := sections["passes"]; ok {
		assignBoolAlias(s, "planner_enabled", "scrum_enabled", &c.Passes.PlannerEnabled)
		assignIntRangeAlias(s, "planner_interval", "scrum_interval", &c.Passes.PlannerInterval, 1, math.MaxInt32)
		assignEnumAlias(s, "planner_mode", "scrum_mode", &c.Passes.PlannerMode, "interval", "event_driven")
		assignBool(s, "quality_enabled", &c.Passes.QualityEnabled)
		assignIntRange(s, "quality_interval", &c.Passes.QualityInterval, 1, math.MaxInt32)
		assignIntRange(s, "all_blocked_wait_seconds", &c.Passes.AllBlockedWaitS, 1, math.MaxInt32)
	}
	if s, ok := sections["tracker"]; ok {
		assignEnum(s, "type", &c.Tracker.Type, "beads", "github")
		assignBool(s, "sync_to_github", &c.Tracker.SyncToGithub)
	}
	if s, ok := sections["sync"]; ok {
		assignString(s, "provider", &c.Sync.Provider)
		assignString(s, "api_url", &c.Sync.APIURL)
		assignString(s, "repo", &c.Sync.Repo)
		assignString(s, "token", &c.Sync.Token)
	}
	if s, ok := sections["monowiki"]; ok {
		assignString(s, "vault", &c.Monowiki.Vault)
		assignBool(s, "proactive_search", &c.Monowiki.ProactiveSearch)
		assignBool(s, "resolve_wikilinks", &c.Monowiki.ResolveWikilinks)
		assignBool(s, "expand_neighbors", &c.Monowiki.ExpandNeighbors)
		assignIntRange(s, "neighbor_depth", &c.Monowiki.NeighborDepth, 0, 255)
		assignString(s, "api_docs_slug", &c.Monowiki.APIDocsSlug)
		assignBool(s, "sync_api_docs", &c.Monowiki.SyncAPIDocs)
		assignIntRange(s, "max_context_docs", &c.Monowiki.MaxContextDocs, 0, 255)
		assignIntRange(s, "max_file_size_kb", &c.Monowiki.MaxFileSizeKB, 1, math.MaxInt32)
	}
	if s, ok := sections["observability"]; ok {
		assignBool(s, "tracing_enabled", &c.Observability.TracingEnabled)
		assignFloatRange(s, "sampling_rate", &c.Observability.SamplingRate, 0, 1)
		assignBool(s, "metrics_enabled", &c.Observability.MetricsEnabled)
		assignString(s, "metrics_addr", &c.Observability.MetricsAddr)
		assignString(s, "metrics_path", &c.Observability.MetricsPath)
		assignString(s, "namespace", &c.Observability.Namespace)
	}
}

// Validate re-checks cross-field invariants that a single key's range
// check can't express on its own.
func (c *Config) Validate() error {
	if c.Tracker.Type == "github" && c.Tracker.SyncToGithub {
		return fmt.Errorf("tracker.type is already github; sync_to_github is redundant")
	}
	return nil
}
