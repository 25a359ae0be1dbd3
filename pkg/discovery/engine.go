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

package discovery

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// Engine fans out over a strategy set and merges the harvests. Strategies
// run concurrently; merge order follows registration order so the final
// first-wins dedup is stable regardless of completion order.
type Engine struct {
	strategies []Strategy
	logger     *slog.Logger
}

// NewEngine assembles the full-crawl strategy set: segmented code search,
// topic search, popular-repo sweep, and the recent-commit sweep.
func NewEngine(host Host, cfg Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		logger: logger,
		strategies: []Strategy{
			&codeSearch{host: host, cfg: cfg, logger: logger, now: time.Now},
			&topicSearch{host: host, cfg: cfg, logger: logger},
			&popularSweep{host: host, cfg: cfg, logger: logger},
			&commitSweep{host: host, cfg: cfg, logger: logger, now: time.Now},
		},
	}
}

// NewIncrementalEngine assembles the narrow strategy set for hourly
// crawls: code search restricted to recently pushed repos plus the
// commit sweep over a short window.
func NewIncrementalEngine(host Host, cfg Config, windowDays int, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.PushedWithinDays = windowDays
	cfg.CommitWindowDays = windowDays
	return &Engine{
		logger: logger,
		strategies: []Strategy{
			&codeSearch{host: host, cfg: cfg, logger: logger, now: time.Now},
			&commitSweep{host: host, cfg: cfg, logger: logger, now: time.Now},
		},
	}
}

// NewEngineFromStrategies builds an engine over an explicit strategy set.
func NewEngineFromStrategies(logger *slog.Logger, strategies ...Strategy) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{strategies: strategies, logger: logger}
}

// Run executes every strategy and returns the merged, deduplicated
// harvest. A strategy failing is logged and its partial output kept;
// only context cancellation aborts the run.
func (e *Engine) Run(ctx context.Context) (*Harvest, error) {
	harvests := make([]*Harvest, len(e.strategies))

	g, gctx := errgroup.WithContext(ctx)
	for i, strat := range e.strategies {
		i, strat := i, strat
		g.Go(func() error {
			start := time.Now()
			h, err := strat.Discover(gctx)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				e.logger.Warn("discovery.strategy.failed",
					"strategy", strat.Name(), "error", err)
			}
			if h == nil {
				h = &Harvest{}
			}
			harvests[i] = h
			e.logger.Info("discovery.strategy.done",
				"strategy", strat.Name(),
				"candidates", len(h.Candidates),
				"repos", len(h.Repos),
				"elapsed", time.Since(start).Round(time.Millisecond).String())
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	candidateLists := make([][]Candidate, len(harvests))
	repoLists := make([][]DiscoveredRepo, len(harvests))
	for i, h := range harvests {
		candidateLists[i] = h.Candidates
		repoLists[i] = h.Repos
	}
	merged := &Harvest{
		Candidates: MergeCandidates(candidateLists...),
		Repos:      MergeRepos(repoLists...),
	}
	e.logger.Info("discovery.merged",
		"candidates", len(merged.Candidates),
		"repos", len(merged.Repos))
	return merged, nil
}
