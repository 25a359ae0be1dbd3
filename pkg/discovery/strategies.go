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
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kraklabs/skilldex/internal/metrics"
	"github.com/kraklabs/skilldex/pkg/githost"
	"github.com/kraklabs/skilldex/pkg/skillfile"
)

// Host is the slice of the code-host client the strategies consume.
type Host interface {
	SearchCode(ctx context.Context, query string, page, perPage int) (*githost.CodeSearchResult, error)
	SearchRepos(ctx context.Context, query, sort, order string, page, perPage int) (*githost.RepoSearchResult, error)
	SearchCommits(ctx context.Context, query string, page, perPage int) (*githost.CommitSearchResult, error)
	GetRepo(ctx context.Context, owner, repo string) (*githost.Repo, error)
	ListBranches(ctx context.Context, owner, repo string, page, perPage int) ([]githost.Branch, error)
	GetTree(ctx context.Context, owner, repo, ref string, recursive bool) (*githost.Tree, error)
	ListDirectory(ctx context.Context, owner, repo, dirPath, ref string) ([]githost.DirEntry, error)
}

// Strategy is one discovery approach. Discover returns everything the
// strategy could harvest; partial results with a nil error are normal
// when a pagination cap is hit.
type Strategy interface {
	Name() string
	Discover(ctx context.Context) (*Harvest, error)
}

// Config tunes the strategy set.
type Config struct {
	// MinStars filters repo-search strategies. Candidates from code
	// search are kept regardless; star quality surfaces in scoring.
	MinStars int
	// MaxPages bounds pagination per query.
	MaxPages int
	// PerPage is the page size for all search calls.
	PerPage int
	// CommitWindowDays bounds the recent-commit sweep.
	CommitWindowDays int
	// PushedWithinDays, when positive, restricts code search to
	// recently pushed repos. Incremental crawls set it.
	PushedWithinDays int
}

// DefaultConfig returns the full-crawl settings.
func DefaultConfig() Config {
	return Config{
		MinStars:         2,
		MaxPages:         10,
		PerPage:          100,
		CommitWindowDays: 30,
	}
}

// codeSearch partitions the code-search space by filename, path, and
// size so each segment stays under the host's 1000-result cap.
type codeSearch struct {
	host   Host
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

func (s *codeSearch) Name() string { return "code-search" }

type codeQuery struct {
	q      string
	format skillfile.Format
}

// codeQueries builds the fixed query segmentation. SKILL.md is the
// high-volume format, so it is split by well-known path and by size;
// each remaining format gets one query.
func (s *codeSearch) codeQueries() []codeQuery {
	queries := []codeQuery{
		{q: "filename:SKILL.md", format: skillfile.FormatSkillMD},
		{q: "filename:SKILL.md path:skills", format: skillfile.FormatSkillMD},
		{q: "filename:SKILL.md path:.claude", format: skillfile.FormatSkillMD},
		{q: "filename:SKILL.md path:.github", format: skillfile.FormatSkillMD},
		{q: "filename:SKILL.md path:.codex", format: skillfile.FormatSkillMD},
		{q: "filename:SKILL.md size:<1000", format: skillfile.FormatSkillMD},
		{q: "filename:SKILL.md size:1000..5000", format: skillfile.FormatSkillMD},
		{q: "filename:SKILL.md size:>5000", format: skillfile.FormatSkillMD},
		{q: "filename:AGENTS.md", format: skillfile.FormatAgentsMD},
		{q: "filename:.cursorrules", format: skillfile.FormatCursorRules},
		{q: "filename:.windsurfrules", format: skillfile.FormatWindsurfRules},
		{q: "filename:copilot-instructions.md path:.github", format: skillfile.FormatCopilotInstructions},
	}
	if s.cfg.PushedWithinDays > 0 {
		cutoff := s.now().AddDate(0, 0, -s.cfg.PushedWithinDays).Format("2006-01-02")
		for i := range queries {
			queries[i].q += " pushed:>" + cutoff
		}
	}
	return queries
}

func (s *codeSearch) Discover(ctx context.Context) (*Harvest, error) {
	h := &Harvest{}
	for _, cq := range s.codeQueries() {
		if err := s.runQuery(ctx, cq, h); err != nil {
			if ctx.Err() != nil {
				return h, err
			}
			s.logger.Warn("discovery.codesearch.query_failed",
				"query", cq.q, "error", err)
		}
	}
	metrics.CandidatesDiscovered.WithLabelValues(s.Name()).Add(float64(len(h.Candidates)))
	return h, nil
}

func (s *codeSearch) runQuery(ctx context.Context, cq codeQuery, h *Harvest) error {
	for page := 1; page <= s.cfg.MaxPages; page++ {
		res, err := s.host.SearchCode(ctx, cq.q, page, s.cfg.PerPage)
		if err != nil {
			if errors.Is(err, githost.ErrBeyondResults) {
				s.logger.Debug("discovery.codesearch.capped", "query", cq.q, "page", page)
				return nil
			}
			return err
		}
		for _, hit := range res.Items {
			spec, ok := skillfile.MatchPath(hit.Path)
			if !ok || spec.Format != cq.format {
				continue
			}
			meta := hit.Repo
			h.Candidates = append(h.Candidates, Candidate{
				Owner:  meta.Owner,
				Repo:   meta.Name,
				Path:   spec.CandidatePath(hit.Path),
				Format: spec.Format,
				Meta:   &meta,
			})
		}
		if len(res.Items) < s.cfg.PerPage || page*s.cfg.PerPage >= res.TotalCount {
			return nil
		}
	}
	return nil
}

// topicSearch queries the repo-search endpoint over curated topics and
// readme phrases. Hits feed the deep-scan table, not the candidate list.
type topicSearch struct {
	host   Host
	cfg    Config
	logger *slog.Logger
}

func (s *topicSearch) Name() string { return "topic-search" }

var topicQueries = []string{
	"topic:claude-skills",
	"topic:agent-skills",
	"topic:cursor-rules",
	"topic:skills",
	"topic:skill",
	`"SKILL.md" in:readme`,
	`"AGENTS.md" in:readme`,
	`".cursorrules" in:readme`,
}

func (s *topicSearch) Discover(ctx context.Context) (*Harvest, error) {
	h := &Harvest{}
	for _, q := range topicQueries {
		query := fmt.Sprintf("%s stars:>=%d", q, s.cfg.MinStars)
		if err := repoSearchPages(ctx, s.host, s.cfg, query, s.Name(), h); err != nil {
			if ctx.Err() != nil {
				return h, err
			}
			s.logger.Warn("discovery.topicsearch.query_failed", "query", q, "error", err)
		}
	}
	metrics.ReposDiscovered.WithLabelValues(s.Name()).Add(float64(len(h.Repos)))
	return h, nil
}

// popularSweep segments the repo search by star ranges to get past the
// result cap on high-signal keywords.
type popularSweep struct {
	host   Host
	cfg    Config
	logger *slog.Logger
}

func (s *popularSweep) Name() string { return "popular-sweep" }

var sweepKeywords = []string{
	"claude skills in:name,description,topics",
	"agent skills in:name,description,topics",
}

func (s *popularSweep) starRanges() []string {
	return []string{
		fmt.Sprintf("%d..500", s.cfg.MinStars),
		"500..1000",
		"1000..2000",
		"2000..5000",
		"5000..10000",
		"10000..50000",
		"50000..100000",
		">100000",
	}
}

func (s *popularSweep) Discover(ctx context.Context) (*Harvest, error) {
	h := &Harvest{}
	for _, kw := range sweepKeywords {
		for _, rng := range s.starRanges() {
			query := fmt.Sprintf("%s stars:%s", kw, rng)
			if err := repoSearchPages(ctx, s.host, s.cfg, query, s.Name(), h); err != nil {
				if ctx.Err() != nil {
					return h, err
				}
				s.logger.Warn("discovery.sweep.query_failed", "query", query, "error", err)
			}
		}
	}
	metrics.ReposDiscovered.WithLabelValues(s.Name()).Add(float64(len(h.Repos)))
	return h, nil
}

// repoSearchPages paginates one repo-search query into h, skipping
// archived repos. The beyond-results cap ends the query quietly.
func repoSearchPages(ctx context.Context, host Host, cfg Config, query, via string, h *Harvest) error {
	for page := 1; page <= cfg.MaxPages; page++ {
		res, err := host.SearchRepos(ctx, query, "stars", "desc", page, cfg.PerPage)
		if err != nil {
			if errors.Is(err, githost.ErrBeyondResults) {
				return nil
			}
			return err
		}
		for _, r := range res.Items {
			if r.Archived || r.Stars < cfg.MinStars {
				continue
			}
			h.Repos = append(h.Repos, DiscoveredRepo{
				Owner:         r.Owner,
				Repo:          r.Name,
				Via:           via,
				Stars:         r.Stars,
				DefaultBranch: r.DefaultBranch,
			})
		}
		if len(res.Items) < cfg.PerPage || page*cfg.PerPage >= res.TotalCount {
			return nil
		}
	}
	return nil
}

// commitSweep finds repos whose recent commit messages mention an
// instruction filename. Code search only covers default branches; this
// catches files landing elsewhere.
type commitSweep struct {
	host   Host
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

func (s *commitSweep) Name() string { return "commit-sweep" }

func (s *commitSweep) Discover(ctx context.Context) (*Harvest, error) {
	h := &Harvest{}
	cutoff := s.now().AddDate(0, 0, -s.cfg.CommitWindowDays).Format("2006-01-02")
	for _, spec := range skillfile.Specs {
		query := fmt.Sprintf("%q committer-date:>%s", spec.Filename, cutoff)
		if err := s.runQuery(ctx, query, h); err != nil {
			if ctx.Err() != nil {
				return h, err
			}
			s.logger.Warn("discovery.commitsweep.query_failed", "query", query, "error", err)
		}
	}
	metrics.ReposDiscovered.WithLabelValues(s.Name()).Add(float64(len(h.Repos)))
	return h, nil
}

func (s *commitSweep) runQuery(ctx context.Context, query string, h *Harvest) error {
	for page := 1; page <= s.cfg.MaxPages; page++ {
		res, err := s.host.SearchCommits(ctx, query, page, s.cfg.PerPage)
		if err != nil {
			if errors.Is(err, githost.ErrBeyondResults) {
				return nil
			}
			return err
		}
		for _, r := range res.Repos {
			if r.Archived {
				continue
			}
			h.Repos = append(h.Repos, DiscoveredRepo{
				Owner:         r.Owner,
				Repo:          r.Name,
				Via:           s.Name(),
				Stars:         r.Stars,
				DefaultBranch: r.DefaultBranch,
			})
		}
		if len(res.Repos) == 0 || page*s.cfg.PerPage >= res.TotalCount {
			return nil
		}
	}
	return nil
}
