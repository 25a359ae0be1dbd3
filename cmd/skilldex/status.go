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
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/kraklabs/skilldex/internal/config"
	"github.com/kraklabs/skilldex/internal/errors"
	"github.com/kraklabs/skilldex/internal/ui"
	"github.com/kraklabs/skilldex/pkg/catalog"
	"github.com/kraklabs/skilldex/pkg/githost"
	"github.com/kraklabs/skilldex/pkg/jobs"
)

// StatusResult represents the catalog status for JSON output.
type StatusResult struct {
	Skills         int            `json:"skills"`
	Blocked        int            `json:"blocked"`
	Duplicates     int            `json:"duplicates"`
	Repos          int            `json:"repos"`
	UnscannedRepos int            `json:"unscanned_repos"`
	ByFormat       map[string]int `json:"by_format,omitempty"`
	ByType         map[string]int `json:"by_type,omitempty"`
	Queue          map[string]int `json:"queue,omitempty"`
	Tokens         []TokenStatus  `json:"tokens,omitempty"`
	Timestamp      time.Time      `json:"timestamp"`
}

// TokenStatus reports one credential's primary quota.
type TokenStatus struct {
	Name      string    `json:"name"`
	Remaining int       `json:"remaining"`
	Limit     int       `json:"limit"`
	Reset     time.Time `json:"reset"`
	Error     string    `json:"error,omitempty"`
}

// runStatus executes the 'status' CLI command, displaying catalog counts,
// queue depth, and per-credential API quota.
//
// Global flags from main:
//   - --json: Output results as JSON (from globals.JSON)
//
// Examples:
//
//	skilldex status           Display formatted status
//	skilldex status --json    Output as JSON for programmatic use
func runStatus(args []string, globals GlobalFlags) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: skilldex status [options]

Description:
  Display the current state of the skill catalog: indexed skill counts
  by file format and repo type, repositories known to the deep-scan
  table, pending jobs by kind, and remaining API quota for every
  configured credential.

  Quota numbers are read live from the code host when tokens are
  configured; everything else comes from the database.

Options:
`)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Examples:
  # Show human-readable status
  skilldex status

  # Output as JSON for programmatic use
  skilldex status --json

  # Watch queue depth during a crawl
  skilldex status --json | jq '.queue'

`)
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	cfg := loadConfig(globals)
	logger := cfg.Logger()

	ctx := context.Background()

	store, err := catalog.NewPGStore(ctx, cfg.DatabaseURL)
	if err != nil {
		errors.FatalError(errors.NewDatabaseError(
			"Cannot connect to the catalog database",
			"Failed to open a Postgres connection pool",
			"Check DATABASE_URL and that the database is reachable. Run 'skilldex migrate' on first use",
			err,
		), globals.JSON)
	}
	defer func() { _ = store.Close() }()

	stats, err := store.Stats(ctx)
	if err != nil {
		errors.FatalError(errors.NewDatabaseError(
			"Cannot read catalog statistics",
			"The stats query failed",
			"Run 'skilldex migrate' if the schema is out of date",
			err,
		), globals.JSON)
	}

	result := &StatusResult{
		Skills:         stats.Skills,
		Blocked:        stats.Blocked,
		Duplicates:     stats.Duplicates,
		Repos:          stats.Repos,
		UnscannedRepos: stats.UnscannedRepos,
		ByFormat:       stats.ByFormat,
		ByType:         stats.ByType,
		Timestamp:      time.Now(),
	}

	queue := jobs.NewPGQueue(store.Pool(), logger)
	if depth, err := queue.Depth(ctx); err == nil {
		result.Queue = make(map[string]int, len(depth))
		for kind, n := range depth {
			result.Queue[string(kind)] = n
		}
	}

	// Quota is optional: status still works with no tokens configured.
	if creds, err := cfg.RequireTokens(); err == nil {
		result.Tokens = fetchTokenStatus(ctx, cfg, creds, logger)
	}

	if globals.JSON {
		outputStatusJSON(result)
	} else {
		printStatus(result)
	}
}

// fetchTokenStatus reads live quota for each credential. A credential
// whose read fails is still listed, with the error instead of numbers.
func fetchTokenStatus(ctx context.Context, cfg *config.Config, creds []githost.Credential, logger *slog.Logger) []TokenStatus {
	pool := githost.NewPool(creds, logger)
	client := githost.NewClient(githost.Config{
		CodeSearchInterval: cfg.CodeSearchInterval,
	}, pool, logger)

	out := make([]TokenStatus, 0, len(creds))
	for _, cred := range creds {
		qctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		rl, err := client.FetchQuota(qctx, cred)
		cancel()
		if err != nil {
			out = append(out, TokenStatus{Name: cred.Name, Error: err.Error()})
			continue
		}
		out = append(out, TokenStatus{
			Name:      cred.Name,
			Remaining: rl.Remaining,
			Limit:     rl.Limit,
			Reset:     rl.Reset,
		})
	}
	return out
}

// outputStatusJSON writes the status result as formatted JSON to stdout.
func outputStatusJSON(result *StatusResult) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(result)
}

// printStatus prints the status result as formatted text to stdout.
func printStatus(result *StatusResult) {
	ui.Header("Skill Catalog Status")
	fmt.Printf("%s %s", ui.Label("Skills:"), ui.CountText(result.Skills))
	if result.Blocked > 0 {
		_, _ = ui.Yellow.Printf("  (%d blocked)", result.Blocked)
	}
	fmt.Println()
	fmt.Printf("%s %s\n", ui.Label("Duplicates:"), ui.CountText(result.Duplicates))
	fmt.Printf("%s %s", ui.Label("Repos Known:"), ui.CountText(result.Repos))
	if result.UnscannedRepos > 0 {
		fmt.Printf("  %s", ui.DimText(fmt.Sprintf("(%d awaiting scan)", result.UnscannedRepos)))
	}
	fmt.Println()

	if len(result.ByFormat) > 0 {
		fmt.Println()
		ui.SubHeader("By Format:")
		for _, k := range sortedKeys(result.ByFormat) {
			fmt.Printf("  %-28s %s\n", k, ui.CountText(result.ByFormat[k]))
		}
	}

	if len(result.ByType) > 0 {
		fmt.Println()
		ui.SubHeader("By Repo Type:")
		for _, k := range sortedKeys(result.ByType) {
			fmt.Printf("  %-28s %s\n", k, ui.CountText(result.ByType[k]))
		}
	}

	if len(result.Queue) > 0 {
		fmt.Println()
		ui.SubHeader("Queue:")
		for _, k := range sortedKeys(result.Queue) {
			fmt.Printf("  %-28s %s\n", k, ui.CountText(result.Queue[k]))
		}
	}

	if len(result.Tokens) > 0 {
		fmt.Println()
		ui.SubHeader("API Quota:")
		for _, tok := range result.Tokens {
			if tok.Error != "" {
				fmt.Printf("  %-12s ", tok.Name)
				_, _ = ui.Yellow.Printf("unavailable: %s\n", tok.Error)
				continue
			}
			fmt.Printf("  %-12s %s/%s remaining", tok.Name,
				ui.CountText(tok.Remaining), ui.CountText(tok.Limit))
			if !tok.Reset.IsZero() {
				fmt.Printf("  %s", ui.DimText("resets "+tok.Reset.Local().Format("15:04")))
			}
			fmt.Println()
		}
	}

	fmt.Println()
}

// sortedKeys returns m's keys in lexical order.
func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
