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

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/schollz/progressbar/v3"
	flag "github.com/spf13/pflag"

	"github.com/kraklabs/skilldex/internal/errors"
	"github.com/kraklabs/skilldex/internal/ui"
	"github.com/kraklabs/skilldex/pkg/jobs"
)

// runCrawl executes the 'crawl' CLI command, running a crawl inline in
// the foreground: discover repositories, deep-scan them, and index every
// candidate skill file.
//
// Flags:
//   - --full: Run every discovery strategy from page one (default: incremental)
//
// Examples:
//
//	skilldex crawl            Incremental crawl (recently pushed repos only)
//	skilldex crawl --full     Full crawl across all discovery strategies
func runCrawl(args []string, globals GlobalFlags) {
	fs := flag.NewFlagSet("crawl", flag.ExitOnError)
	full := fs.Bool("full", false, "Run every discovery strategy from page one")
	incremental := fs.Bool("incremental", false, "Restrict discovery to recently pushed repos (the default)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: skilldex crawl [options]

Description:
  Run a crawl in the foreground. Discovery queries the code host for
  skill files (code search, topics, popular repos, commit messages),
  each discovered repository gets a deep scan of its file tree, and
  every candidate is fetched, security-scanned, quality-scored, and
  written to the catalog.

  The default incremental crawl only looks at repositories pushed
  within the last few days and rescans stale known repos. Use --full
  for the exhaustive pass; it is slower and burns much more API quota.

  For scheduled crawls, run 'skilldex worker' instead.

Options:
`)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Examples:
  # Incremental crawl
  skilldex crawl

  # Exhaustive crawl, all strategies
  skilldex crawl --full

  # Quiet mode for cron
  skilldex crawl -q

Notes:
  A full crawl can take an hour or more depending on configured
  credentials. Code search is throttled to one query per interval
  per token, so more tokens mean faster discovery.

`)
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	if *full && *incremental {
		fmt.Fprintf(os.Stderr, "Error: cannot use --full and --incremental together\n")
		os.Exit(1)
	}

	cfg := loadConfig(globals)
	logger := cfg.Logger()
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logger.Info("shutdown.signal", "signal", sig.String())
		cancel()
	}()

	cat, store := openCatalog(ctx, cfg, logger, globals)
	defer func() { _ = store.Close() }()
	defer cat.Wait()

	host, _ := newHost(cfg, logger, globals)

	// Inline crawls never enqueue follow-up jobs, so a throwaway queue
	// satisfies the runner.
	runner := jobs.NewRunner(host, cat, jobs.NewMemQueue(), newRunnerConfig(cfg), logger)

	progressCfg := NewProgressConfig(globals)
	var currentBar *progressbar.ProgressBar

	progress := func(done, total int64) {
		if currentBar == nil {
			currentBar = NewProgressBar(progressCfg, total, "Indexing skills")
		}
		_ = currentBar.Set64(done)
	}

	report, err := runner.Crawl(ctx, *full, progress)

	if currentBar != nil {
		_ = currentBar.Finish()
	}

	if err != nil {
		errors.FatalError(errors.NewNetworkError(
			"Crawl failed",
			"An error occurred while crawling the code host",
			"Check the error details above. Rate-limit errors usually resolve after the quota window resets",
			err,
		), globals.JSON)
	}

	printCrawlReport(report)
}

// printCrawlReport prints the crawl summary to stdout.
func printCrawlReport(report *jobs.CrawlReport) {
	fmt.Println()

	mode := "Incremental"
	if report.Full {
		mode = "Full"
	}

	res := report.Result
	if res == nil || res.Candidates == 0 {
		ui.Header(mode + " Crawl Complete")
		fmt.Printf("%s %s\n", ui.Label("Repos Discovered:"), ui.CountText(report.ReposDiscovered))
		fmt.Printf("%s %s\n", ui.Label("Repos Scanned:"), ui.CountText(report.ReposScanned))
		_, _ = ui.Green.Println("No new skill files found.")
		fmt.Println()
		return
	}

	ui.Header(mode + " Crawl Complete")
	fmt.Printf("%s %s\n", ui.Label("Repos Discovered:"), ui.CountText(report.ReposDiscovered))
	fmt.Printf("%s %s\n", ui.Label("Repos Scanned:"), ui.CountText(report.ReposScanned))
	fmt.Printf("%s %s\n", ui.Label("Candidates:"), ui.CountText(report.Candidates))

	fmt.Printf("Indexed: %s ", ui.CountText(res.Indexed))
	if res.Failed > 0 {
		_, _ = ui.Yellow.Printf("(%d failed)\n", res.Failed)
	} else {
		_, _ = ui.Green.Println("✓")
	}

	fmt.Printf("Unchanged: %s\n", ui.CountText(res.Unchanged))
	if res.Invalid > 0 {
		_, _ = ui.Yellow.Printf("Invalid: %d\n", res.Invalid)
	}
	if res.Blocked > 0 {
		_, _ = ui.Yellow.Printf("Blocked: %d\n", res.Blocked)
	}
	if res.Skipped > 0 {
		_, _ = ui.Dim.Printf("Skipped (gone from host): %d\n", res.Skipped)
	}

	fmt.Println()
	ui.SubHeader("Timings:")
	fmt.Printf("  Discover: %s\n", ui.DimText(report.DiscoverDuration.String()))
	fmt.Printf("  Scan: %s\n", ui.DimText(report.ScanDuration.String()))
	fmt.Printf("  Index: %s\n", ui.DimText(res.Duration.String()))
	fmt.Println()
}
