// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later
// Package main implements the skilldex CLI for crawling code hosts and
// indexing AI-agent skills.
//
// Usage:
//
//	skilldex crawl [--full]       Run a crawl inline
//	skilldex worker               Run the queue worker daemon
//	skilldex scan <owner/repo>    Deep-scan one repository
//	skilldex status [--json]      Show catalog and quota status
//	skilldex migrate              Apply database migrations
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/kraklabs/skilldex/internal/config"
	"github.com/kraklabs/skilldex/internal/errors"
	"github.com/kraklabs/skilldex/internal/ui"
	"github.com/kraklabs/skilldex/pkg/catalog"
	"github.com/kraklabs/skilldex/pkg/githost"
	"github.com/kraklabs/skilldex/pkg/jobs"
)

// Version information (set via ldflags during build)
var (
	version = "dev"     // Version string
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// GlobalFlags holds the global CLI flags that apply to all commands.
type GlobalFlags struct {
	JSON    bool // Output in JSON format (for applicable commands)
	NoColor bool // Disable color output
	Verbose int  // Verbosity level: 0=normal, 1=-v (debug logging)
	Quiet   bool // Suppress non-essential output (progress, info messages)
}

func main() {
	// Global flags with short forms
	var (
		showVersion = flag.BoolP("version", "V", false, "Show version and exit")
		jsonOutput  = flag.Bool("json", false, "Output in JSON format (for applicable commands)")
		noColor     = flag.Bool("no-color", false, "Disable color output")
		verbose     = flag.CountP("verbose", "v", "Increase verbosity (-v for debug logging)")
		quiet       = flag.BoolP("quiet", "q", false, "Suppress non-essential output (progress, info messages)")
	)

	// Stop parsing at the first non-flag argument (the command name).
	// This lets subcommand flags like "crawl --full" reach the
	// subcommand's own flag set instead of being rejected here.
	flag.SetInterspersed(false)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `skilldex - AI-agent skill indexer

skilldex discovers instruction files for AI coding agents (SKILL.md,
AGENTS.md, .cursorrules, and friends) on public code hosts, scans them
for prompt-injection and exfiltration patterns, scores their quality,
and maintains a searchable catalog.

Usage:
  skilldex <command> [options]

Commands:
  crawl       Run a crawl inline: discover, scan, and index
  worker      Run the queue worker daemon with the crawl scheduler
  scan        Deep-scan one repository and index its skills
  score       Reclassify the catalog and rescore stale skills
  status      Show catalog counts and API quota status
  block       Block a skill id and purge it from search
  requests    Process approved add and removal requests once
  migrate     Apply database migrations

Global Options:
  --json            Output in JSON format (for applicable commands)
  --no-color        Disable color output (respects NO_COLOR env var)
  -v, --verbose     Increase verbosity (-v for debug logging)
  -q, --quiet       Suppress non-essential output (progress, info messages)
  -V, --version     Show version and exit

Examples:
  skilldex migrate                   Prepare the database
  skilldex crawl --full              Full crawl, all discovery strategies
  skilldex crawl                     Incremental crawl (recent pushes only)
  skilldex worker                    Run the daemon (crawls on a schedule)
  skilldex scan anthropics/skills    Index one repository right now
  skilldex status --json             Catalog counts as JSON

Environment Variables:
  DATABASE_URL       Postgres connection string (required)
  GITHUB_TOKENS      Comma-separated API tokens for the credential pool
  MEILI_URL          Meilisearch endpoint for the search index
  REDIS_URL          Redis endpoint for page-cache invalidation
  METRICS_ADDR       Listen address for /metrics and /healthz (worker)

A .env file in the working directory is loaded when present; real
environment variables win.

For detailed command help: skilldex <command> --help

`)
	}

	flag.Parse()

	if *showVersion {
		fmt.Printf("skilldex version %s\n", version)
		fmt.Printf("commit: %s\n", commit)
		fmt.Printf("built: %s\n", date)
		os.Exit(0)
	}

	// Check NO_COLOR environment variable
	if os.Getenv("NO_COLOR") != "" {
		*noColor = true
	}

	if *quiet && *verbose > 0 {
		fmt.Fprintf(os.Stderr, "Error: cannot use --quiet and --verbose together\n")
		os.Exit(1)
	}

	// JSON mode auto-enables quiet so progress bars cannot corrupt the
	// JSON stream.
	if *jsonOutput {
		*quiet = true
	}

	globals := GlobalFlags{
		JSON:    *jsonOutput,
		NoColor: *noColor,
		Verbose: *verbose,
		Quiet:   *quiet,
	}

	ui.InitColors(globals.NoColor)

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(1)
	}

	command := args[0]
	cmdArgs := args[1:]

	switch command {
	case "crawl":
		runCrawl(cmdArgs, globals)
	case "worker":
		runWorker(cmdArgs, globals)
	case "scan":
		runScan(cmdArgs, globals)
	case "score":
		runScore(cmdArgs, globals)
	case "status":
		runStatus(cmdArgs, globals)
	case "block":
		runBlock(cmdArgs, globals)
	case "requests":
		runRequests(cmdArgs, globals)
	case "migrate":
		runMigrate(cmdArgs, globals)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		flag.Usage()
		os.Exit(1)
	}
}

// loadConfig reads the environment and applies the verbosity flags to
// the log level. Exits through FatalError when required settings are
// missing.
func loadConfig(globals GlobalFlags) *config.Config {
	cfg, err := config.Load()
	if err != nil {
		errors.FatalError(err, globals.JSON)
	}
	if globals.Verbose > 0 {
		cfg.LogLevel = slog.LevelDebug
	} else if globals.Quiet {
		cfg.LogLevel = slog.LevelWarn
	}
	return cfg
}

// openCatalog connects the Postgres store and the configured side-effect
// targets: search index, page cache, and requester webhook. The second
// return value exposes the store for pool sharing and shutdown.
func openCatalog(ctx context.Context, cfg *config.Config, logger *slog.Logger, globals GlobalFlags) (*catalog.Catalog, *catalog.PGStore) {
	store, err := catalog.NewPGStore(ctx, cfg.DatabaseURL)
	if err != nil {
		errors.FatalError(errors.NewDatabaseError(
			"Cannot connect to the catalog database",
			"Failed to open a Postgres connection pool",
			"Check DATABASE_URL and that the database is reachable. Run 'skilldex migrate' on first use",
			err,
		), globals.JSON)
	}

	opts := catalog.Options{Logger: logger}
	if cfg.MeiliURL != "" {
		opts.Search = catalog.NewSearchIndex(cfg.MeiliURL, cfg.MeiliMasterKey, logger)
	}
	if cfg.RedisURL != "" {
		cache, err := catalog.NewCache(ctx, cfg.RedisURL, logger)
		if err != nil {
			errors.FatalError(errors.NewNetworkError(
				"Cannot connect to Redis",
				"Failed to reach the page cache",
				"Check REDIS_URL, or unset it to run without cache invalidation",
				err,
			), globals.JSON)
		}
		opts.Cache = cache
	}
	if cfg.WebhookURL != "" {
		opts.Notifier = catalog.NewWebhookNotifier(cfg.WebhookURL, cfg.WebhookToken)
	}

	return catalog.New(store, opts), store
}

// newHost builds the authenticated code-host client over the configured
// credential pool. Commands that call the API require at least one token.
func newHost(cfg *config.Config, logger *slog.Logger, globals GlobalFlags) (*githost.Client, *githost.Pool) {
	creds, err := cfg.RequireTokens()
	if err != nil {
		errors.FatalError(err, globals.JSON)
	}
	pool := githost.NewPool(creds, logger)
	client := githost.NewClient(githost.Config{
		CodeSearchInterval: cfg.CodeSearchInterval,
	}, pool, logger)
	return client, pool
}

// newRunnerConfig maps environment settings onto the crawl runner.
func newRunnerConfig(cfg *config.Config) jobs.RunnerConfig {
	rc := jobs.DefaultRunnerConfig()
	rc.Discovery.MinStars = cfg.MinStars
	rc.Pipeline.Workers = cfg.Concurrency
	return rc
}
