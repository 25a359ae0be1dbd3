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
)

// runBlock executes the 'block' CLI command: mark a skill as blocked so
// crawls can never resurrect it, and purge it from the search index.
//
// Examples:
//
//	skilldex block alice/demo/hello-world
func runBlock(args []string, globals GlobalFlags) {
	fs := flag.NewFlagSet("block", flag.ExitOnError)

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: skilldex block <skill-id>

Description:
  Block a skill by id. A blocked skill is removed from the search
  index, dropped from listings, and stays blocked: future crawls that
  rediscover the same file will not overwrite or unhide it.

  Skill ids have the form owner/repo/name, as shown in search results
  and catalog listings.

  Use this for skills confirmed malicious or spammy after review.

Options:
`)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Examples:
  # Block a malicious skill
  skilldex block badactor/exfil-kit/helper

`)
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	if fs.NArg() != 1 {
		fs.Usage()
		os.Exit(1)
	}
	id := fs.Arg(0)

	cfg := loadConfig(globals)
	logger := cfg.Logger()
	slog.SetDefault(logger)

	ctx := context.Background()

	cat, store := openCatalog(ctx, cfg, logger, globals)
	defer func() { _ = store.Close() }()
	defer cat.Wait()

	if err := cat.Block(ctx, id); err != nil {
		errors.FatalError(errors.NewDatabaseError(
			"Cannot block skill",
			fmt.Sprintf("Failed to block %q", id),
			"Check the skill id against 'skilldex status' and the catalog listings",
			err,
		), globals.JSON)
	}

	ui.Successf("Blocked %s", id)
}
