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
	"strings"
	"syscall"

	"github.com/schollz/progressbar/v3"
	flag "github.com/spf13/pflag"

	"github.com/kraklabs/skilldex/internal/errors"
	"github.com/kraklabs/skilldex/internal/ui"
	"github.com/kraklabs/skilldex/pkg/jobs"
)

// runScan executes the 'scan' CLI command: deep-scan one repository's
// file tree and index every skill file it contains.
//
// Examples:
//
//	skilldex scan anthropics/skills
//	skilldex scan alice/dotfiles
func runScan(args []string, globals GlobalFlags) {
	fs := flag.NewFlagSet("scan", flag.ExitOnError)

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: skilldex scan <owner/repo>

Description:
  Deep-scan a single repository right now, without waiting for the
  crawl schedule. The repository's full file tree is listed and every
  instruction file found (SKILL.md, AGENTS.md, .cursorrules, and
  friends) is fetched, security-scanned, quality-scored, and written
  to the catalog.

  The repository is recorded in the deep-scan table, so future
  incremental crawls will keep it fresh.

Options:
`)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Examples:
  # Index one repository
  skilldex scan anthropics/skills

  # Quietly, for scripts
  skilldex scan -q alice/dotfiles

`)
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	if fs.NArg() != 1 {
		fs.Usage()
		os.Exit(1)
	}

	owner, repo, ok := strings.Cut(fs.Arg(0), "/")
	if !ok || owner == "" || repo == "" {
		errors.FatalError(errors.NewInputError(
			"Invalid repository",
			fmt.Sprintf("%q is not an owner/repo pair", fs.Arg(0)),
			"Pass the repository as owner/repo, e.g. 'skilldex scan anthropics/skills'",
			nil,
		), globals.JSON)
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
	runner := jobs.NewRunner(host, cat, jobs.NewMemQueue(), newRunnerConfig(cfg), logger)

	progressCfg := NewProgressConfig(globals)
	var currentBar *progressbar.ProgressBar

	progress := func(done, total int64) {
		if currentBar == nil {
			currentBar = NewProgressBar(progressCfg, total, "Indexing "+owner+"/"+repo)
		}
		_ = currentBar.Set64(done)
	}

	result, err := runner.Scan(ctx, owner, repo, progress)

	if currentBar != nil {
		_ = currentBar.Finish()
	}

	if err != nil {
		errors.FatalError(errors.NewNetworkError(
			"Scan failed",
			fmt.Sprintf("Could not scan %s/%s", owner, repo),
			"Check that the repository exists and is public, and that a valid token is configured",
			err,
		), globals.JSON)
	}

	fmt.Println()
	ui.Header("Scan Complete")
	fmt.Printf("%s %s/%s\n", ui.Label("Repository:"), owner, repo)
	fmt.Printf("%s %s\n", ui.Label("Candidates:"), ui.CountText(result.Candidates))

	if result.Candidates == 0 {
		_, _ = ui.Green.Println("No instruction files in this repository.")
		fmt.Println()
		return
	}

	fmt.Printf("Indexed: %s ", ui.CountText(result.Indexed))
	if result.Failed > 0 {
		_, _ = ui.Yellow.Printf("(%d failed)\n", result.Failed)
	} else {
		_, _ = ui.Green.Println("✓")
	}
	fmt.Printf("Unchanged: %s\n", ui.CountText(result.Unchanged))
	if result.Invalid > 0 {
		_, _ = ui.Yellow.Printf("Invalid: %d\n", result.Invalid)
	}
	if result.Blocked > 0 {
		_, _ = ui.Yellow.Printf("Blocked: %d\n", result.Blocked)
	}
	fmt.Printf("%s %s\n", ui.Label("Duration:"), ui.DimText(result.Duration.String()))
	fmt.Println()
}
