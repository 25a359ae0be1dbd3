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

	flag "github.com/spf13/pflag"

	"github.com/kraklabs/skilldex/internal/errors"
	"github.com/kraklabs/skilldex/internal/ui"
	"github.com/kraklabs/skilldex/pkg/jobs"
)

// runScore executes the 'score' CLI command: reclassify the catalog
// (repo context, duplicate groups) and rescore skills whose stored
// scores have gone stale.
//
// Flags:
//   - --limit: Maximum number of stale skills to rescore (default: 500)
//
// Examples:
//
//	skilldex score
//	skilldex score --limit 2000
func runScore(args []string, globals GlobalFlags) {
	fs := flag.NewFlagSet("score", flag.ExitOnError)
	limit := fs.Int("limit", 0, "Maximum stale skills to rescore (0 for the configured batch size)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: skilldex score [options]

Description:
  Recompute derived catalog state without touching the code host.
  Classification rebuilds repo context (aggregator and collection
  detection) and duplicate groups across the whole catalog. Rescoring
  re-runs the security scanner and quality scorer over skills whose
  stored scores are older than the staleness window, picking up
  pattern and heuristic changes shipped since they were indexed.

  The worker daemon schedules this automatically after each crawl;
  run it by hand after deploying scanner changes.

Options:
`)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Examples:
  # Classify and rescore one batch of stale skills
  skilldex score

  # Rescore a bigger batch
  skilldex score --limit 2000

`)
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	cfg := loadConfig(globals)
	logger := cfg.Logger()
	slog.SetDefault(logger)

	ctx := context.Background()

	cat, store := openCatalog(ctx, cfg, logger, globals)
	defer func() { _ = store.Close() }()
	defer cat.Wait()

	// Scoring never calls the code host, so no client is built here.
	runner := jobs.NewRunner(nil, cat, jobs.NewMemQueue(), newRunnerConfig(cfg), logger)

	report, err := runner.Score(ctx, *limit)
	if err != nil {
		errors.FatalError(errors.NewDatabaseError(
			"Scoring failed",
			"An error occurred while reclassifying or rescoring the catalog",
			"Check the database connection and the error details above",
			err,
		), globals.JSON)
	}

	fmt.Println()
	ui.Header("Scoring Complete")
	if report.Classified != nil {
		fmt.Printf("%s %s\n", ui.Label("Records Classified:"), ui.CountText(report.Classified.Records))
		fmt.Printf("%s %s\n", ui.Label("Duplicate Groups:"), ui.CountText(report.Classified.Duplicates))
		fmt.Printf("%s %s\n", ui.Label("Aggregator Repos:"), ui.CountText(report.Classified.Aggregators))
		fmt.Printf("%s %s\n", ui.Label("Collection Repos:"), ui.CountText(report.Classified.Collections))
	}
	fmt.Printf("%s %s\n", ui.Label("Skills Rescored:"), ui.CountText(report.Rescored))
	fmt.Println()
}
