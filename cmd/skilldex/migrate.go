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
	"github.com/kraklabs/skilldex/pkg/catalog"
)

// runMigrate executes the 'migrate' CLI command: apply the embedded
// database migrations to the configured Postgres database.
//
// Examples:
//
//	skilldex migrate
func runMigrate(args []string, globals GlobalFlags) {
	fs := flag.NewFlagSet("migrate", flag.ExitOnError)

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: skilldex migrate

Description:
  Apply database migrations. Migrations are embedded in the binary and
  applied in order; already-applied versions are skipped, so running
  this repeatedly is safe.

  Run this once before the first crawl and again after every upgrade.

Options:
`)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Examples:
  # Prepare or upgrade the database schema
  skilldex migrate

`)
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	cfg := loadConfig(globals)
	logger := cfg.Logger()
	slog.SetDefault(logger)

	ctx := context.Background()

	if err := catalog.Migrate(ctx, cfg.DatabaseURL); err != nil {
		errors.FatalError(errors.NewDatabaseError(
			"Migration failed",
			"Could not apply database migrations",
			"Check DATABASE_URL and that the configured role may create tables",
			err,
		), globals.JSON)
	}

	ui.Success("Database schema is up to date")
}
