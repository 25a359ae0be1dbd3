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

// runRequests executes the 'requests' CLI command: process approved add
// and removal requests once. Approved add requests become deep-scan jobs;
// approved removals are enforced against the catalog.
//
// Examples:
//
//	skilldex requests
func runRequests(args []string, globals GlobalFlags) {
	fs := flag.NewFlagSet("requests", flag.ExitOnError)

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: skilldex requests

Description:
  Process the moderation queues once. Approved add requests are turned
  into deep-scan jobs for the worker to pick up, and approved removal
  requests are enforced: the named skills are blocked and purged from
  search, and the requester webhook is notified.

  The worker daemon does this every minute on its own; run it by hand
  to apply a moderation decision immediately.

Options:
`)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Examples:
  # Apply pending approvals now
  skilldex requests

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

	// Request processing only touches the database and the queue.
	queue := jobs.NewPGQueue(store.Pool(), logger)
	runner := jobs.NewRunner(nil, cat, queue, newRunnerConfig(cfg), logger)

	report, err := runner.ProcessRequests(ctx)
	if err != nil {
		errors.FatalError(errors.NewDatabaseError(
			"Cannot process requests",
			"An error occurred while reading or applying moderation requests",
			"Check the database connection and the error details above",
			err,
		), globals.JSON)
	}

	if report.ScansQueued == 0 && report.Removed == 0 {
		ui.Info("No approved requests waiting.")
		return
	}

	ui.Successf("Queued %d deep scans, removed %d skills", report.ScansQueued, report.Removed)
}
