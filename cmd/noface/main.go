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

// Command noface drives the autonomous implement/review/merge loop
// against a local issue backlog.
//
// Usage:
//
//	noface run --config noface.conf
//	noface run --config noface.conf --issue ISSUE-123
//	noface validate --config noface.conf
//	noface version
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	"github.com/alecthomas/kong"

	"github.com/kadirpekel/noface/pkg/batchplanner"
	"github.com/kadirpekel/noface/pkg/config"
	"github.com/kadirpekel/noface/pkg/logger"
	"github.com/kadirpekel/noface/pkg/manifest"
	"github.com/kadirpekel/noface/pkg/observability"
	"github.com/kadirpekel/noface/pkg/orchestrator"
	"github.com/kadirpekel/noface/pkg/prompt"
	"github.com/kadirpekel/noface/pkg/state"
	"github.com/kadirpekel/noface/pkg/sync"
	"github.com/kadirpekel/noface/pkg/tracker"
	"github.com/kadirpekel/noface/pkg/utils"
	"github.com/kadirpekel/noface/pkg/vcs"
	"github.com/kadirpekel/noface/pkg/worker"
)

// CLI defines the command-line interface.
type CLI struct {
	Run      RunCmd      `cmd:"" help:"Run the orchestrator loop."`
	Validate ValidateCmd `cmd:"" help:"Validate a config file and report what it resolves to."`
	Version  VersionCmd  `cmd:"" help:"Show version information."`

	Config    string `short:"c" help:"Path to config file." type:"path"`
	LogLevel  string `help:"Log level (debug, info, warn, error)." default:"info"`
	LogFile   string `help:"Log file path (empty = stderr)."`
	LogFormat string `help:"Log format (colored, text, json)." default:"colored"`
}

// VersionCmd prints the build version.
type VersionCmd struct{}

// Run implements VersionCmd.
func (c *VersionCmd) Run() error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			version = info.Main.Version
		}
	}
	fmt.Printf("noface %s\n", version)
	return nil
}

// ValidateCmd loads and validates a config file without running the loop.
type ValidateCmd struct{}

// Run implements ValidateCmd.
func (c *ValidateCmd) Run(cli *CLI) error {
	cfg, err := config.Load(cli.Config)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config is invalid: %w", err)
	}
	fmt.Printf("config OK: project=%q agents.num_workers=%d tracker.type=%q sync.provider=%q\n",
		cfg.Project.Name, cfg.Agents.NumWorkers, cfg.Tracker.Type, cfg.Sync.Provider)
	return nil
}

// RunCmd starts the orchestrator loop.
type RunCmd struct {
	ProjectRoot   string `name:"project-root" help:"Project working directory." type:"path" default:"."`
	Issue         string `name:"issue" help:"Run a single issue to completion, then stop."`
	MaxIterations int    `name:"max-iterations" help:"Stop after this many iterations (0 = unbounded)."`
}

// Run implements RunCmd.
func (c *RunCmd) Run(cli *CLI) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load(cli.Config)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config is invalid: %w", err)
	}

	if err := orchestrator.CheckPrerequisites(
		cfg.Agents.Implementer, cfg.Agents.Reviewer, "bd", "jj", cfg.Project.Build,
	); err != nil {
		return fmt.Errorf("prerequisite check failed: %w", err)
	}

	stateDir, err := utils.EnsureStateDir(c.ProjectRoot)
	if err != nil {
		return fmt.Errorf("failed to prepare state directory: %w", err)
	}
	store, err := state.Load(stateDir, cfg.Project.Name, cfg.Agents.NumWorkers)
	if err != nil {
		return fmt.Errorf("failed to load state: %w", err)
	}

	obsCfg := &observability.Config{}
	obsCfg.SetDefaults()
	obsCfg.Tracing.Enabled = cfg.Observability.TracingEnabled
	obsCfg.Tracing.SamplingRate = cfg.Observability.SamplingRate
	obsCfg.Metrics.Enabled = cfg.Observability.MetricsEnabled
	obsCfg.Metrics.Endpoint = cfg.Observability.MetricsPath
	obsCfg.Metrics.Namespace = cfg.Observability.Namespace
	obs, err := observability.NewManager(ctx, obsCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize observability: %w", err)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = obs.Shutdown(shutdownCtx)
	}()

	var metricsServer *http.Server
	if cfg.Observability.MetricsEnabled {
		mux := http.NewServeMux()
		mux.Handle(obs.MetricsEndpoint(), obs.MetricsHandler())
		metricsServer = &http.Server{Addr: cfg.Observability.MetricsAddr, Handler: mux}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.GetLogger().Warn("metrics server stopped", "error", err)
			}
		}()
		logger.GetLogger().Info("serving metrics", "addr", cfg.Observability.MetricsAddr, "path", obs.MetricsEndpoint())
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			_ = metricsServer.Shutdown(shutdownCtx)
		}()
	}

	promptBuilder, err := prompt.NewBuilder()
	if err != nil {
		return fmt.Errorf("failed to initialize prompt builder: %w", err)
	}

	workspaceDir := filepath.Join(stateDir, "workspaces")
	vcsClient := vcs.New(c.ProjectRoot, workspaceDir)
	trackerClient := tracker.New(c.ProjectRoot)
	verifier := manifest.New(vcsClient)
	planner := batchplanner.New(trackerClient, store)

	pool := worker.New(worker.Config{
		NumWorkers:          cfg.Agents.NumWorkers,
		ImplementerCommand:  cfg.Agents.Implementer,
		ReviewerCommand:     cfg.Agents.Reviewer,
		AgentTimeoutSeconds: cfg.Agents.TimeoutSeconds,
	}, store, vcsClient, promptBuilder)

	if reaped, err := pool.ReapOrphans(ctx); err != nil {
		logger.GetLogger().Warn("failed to reap orphaned workspaces", "error", err)
	} else if reaped > 0 {
		logger.GetLogger().Info("reaped orphaned workspaces from a previous run", "count", reaped)
	}

	syncProvider, err := sync.New(cfg.Sync, trackerClient)
	if err != nil {
		return fmt.Errorf("failed to initialize sync provider: %w", err)
	}

	loopCfg := orchestrator.Config{
		ProjectName:     cfg.Project.Name,
		MaxIterations:   c.MaxIterations,
		SingleIssueID:   c.Issue,
		PlannerEnabled:  cfg.Passes.PlannerEnabled,
		PlannerMode:     orchestrator.PlannerMode(cfg.Passes.PlannerMode),
		PlannerInterval: time.Duration(cfg.Passes.PlannerInterval) * time.Second,
		QualityEnabled:  cfg.Passes.QualityEnabled,
		QualityInterval: time.Duration(cfg.Passes.QualityInterval) * time.Second,
	}
	if cfg.Passes.AllBlockedWaitS > 0 {
		loopCfg.AllBlockedWait = time.Duration(cfg.Passes.AllBlockedWaitS) * time.Second
	}

	loop := orchestrator.New(loopCfg, store, pool, planner, verifier, trackerClient, promptBuilder, obs, syncProvider)

	completions, err := loop.Run(ctx)
	if err != nil {
		return fmt.Errorf("orchestrator loop failed: %w", err)
	}
	logger.Success("noface: run finished", "completions", completions)
	return nil
}

func main() {
	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("noface"),
		kong.Description("Autonomous issue-backlog implementation loop."),
		kong.UsageOnError(),
	)

	level, err := logger.ParseLevel(cli.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid --log-level: %v\n", err)
		os.Exit(1)
	}

	output := os.Stderr
	if cli.LogFile != "" {
		file, cleanup, err := logger.OpenLogFile(cli.LogFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to open --log-file: %v\n", err)
			os.Exit(1)
		}
		defer cleanup()
		output = file
	}
	logger.Init(level, output, cli.LogFormat)
	slog.SetDefault(logger.GetLogger())

	err = ctx.Run(&cli)
	ctx.FatalIfErrorf(err)
}
