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

	"github.com/kraklabs/skilldex/internal/metrics"
	"github.com/kraklabs/skilldex/pkg/githost"
	"github.com/kraklabs/skilldex/pkg/skillfile"
)

// wellKnownRoots lists directories worth walking when a recursive tree
// comes back truncated, with the depth the walk may descend below each.
// Root and .github only hold instruction files directly; skill roots
// nest one directory per skill. Order is fixed so the fallback scan is
// deterministic.
var wellKnownRoots = []struct {
	dir   string
	depth int
}{
	{".", 1},
	{".github", 1},
	{"skills", 3},
	{".claude/skills", 3},
	{".github/skills", 3},
	{".codex/skills", 3},
}

// Scanner walks a repository's branches for instruction files. Branches
// are scanned sequentially so first-wins dedup keeps the default-branch
// variant of any path found on several branches.
type Scanner struct {
	host   Host
	logger *slog.Logger

	// ExtraBranches adds caller patterns (exact names or prefixes) to
	// the branch selection.
	ExtraBranches []string
	// AllBranches lifts the branch cap.
	AllBranches bool
}

// NewScanner builds a deep scanner over host.
func NewScanner(host Host, logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{host: host, logger: logger}
}

// ScanRepo enumerates instruction-file candidates across the selected
// branches of owner/repo. Archived repos return no candidates. The repo
// metadata is returned for bookkeeping even when no candidates exist;
// a vanished repo returns githost.ErrNotFound.
func (s *Scanner) ScanRepo(ctx context.Context, owner, repo string) ([]Candidate, *githost.Repo, error) {
	meta, err := s.host.GetRepo(ctx, owner, repo)
	if err != nil {
		return nil, nil, fmt.Errorf("resolving %s/%s: %w", owner, repo, err)
	}
	if meta.Archived {
		s.logger.Debug("discovery.deepscan.archived", "repo", meta.FullName)
		return nil, meta, nil
	}

	branches, err := s.listBranchNames(ctx, owner, repo)
	if err != nil {
		return nil, meta, err
	}
	selected := FilterAndSortBranches(branches, meta.DefaultBranch, s.ExtraBranches, s.AllBranches)

	var perBranch [][]Candidate
	for _, branch := range selected {
		cands, err := s.scanBranch(ctx, owner, repo, branch, meta)
		if err != nil {
			if errors.Is(err, githost.ErrNotFound) {
				continue
			}
			return nil, meta, err
		}
		perBranch = append(perBranch, cands)
	}

	merged := mergeAcrossBranches(perBranch)
	s.logger.Info("discovery.deepscan.done",
		"repo", meta.FullName,
		"branches", len(selected),
		"candidates", len(merged))
	metrics.CandidatesDiscovered.WithLabelValues("deep-scan").Add(float64(len(merged)))
	return merged, meta, nil
}

// mergeAcrossBranches collapses per-branch results on (path, format).
// The default branch is scanned first, so its variant wins.
func mergeAcrossBranches(perBranch [][]Candidate) []Candidate {
	type pf struct {
		path   string
		format skillfile.Format
	}
	seen := make(map[pf]bool)
	var out []Candidate
	for _, cands := range perBranch {
		for _, c := range cands {
			k := pf{path: c.Path, format: c.Format}
			if seen[k] {
				continue
			}
			seen[k] = true
			out = append(out, c)
		}
	}
	return out
}

func (s *Scanner) listBranchNames(ctx context.Context, owner, repo string) ([]string, error) {
	perPage := 100
	var names []string
	for page := 1; ; page++ {
		branches, err := s.host.ListBranches(ctx, owner, repo, page, perPage)
		if err != nil {
			return nil, fmt.Errorf("listing branches for %s/%s: %w", owner, repo, err)
		}
		for _, b := range branches {
			names = append(names, b.Name)
		}
		if len(branches) < perPage {
			return names, nil
		}
		if !s.AllBranches && len(names) >= 300 {
			// Enough to select from; the cap keeps pathological repos
			// from consuming a page budget here.
			return names, nil
		}
	}
}

func (s *Scanner) scanBranch(ctx context.Context, owner, repo, branch string, meta *githost.Repo) ([]Candidate, error) {
	tree, err := s.host.GetTree(ctx, owner, repo, branch, true)
	if err != nil {
		return nil, err
	}
	if tree.Truncated {
		s.logger.Warn("discovery.deepscan.truncated",
			"repo", owner+"/"+repo, "branch", branch)
		return s.scanTruncated(ctx, owner, repo, branch, meta)
	}

	var out []Candidate
	for _, entry := range tree.Entries {
		if entry.Type != "blob" {
			continue
		}
		spec, ok := skillfile.MatchPath(entry.Path)
		if !ok {
			continue
		}
		out = append(out, Candidate{
			Owner:  owner,
			Repo:   repo,
			Path:   spec.CandidatePath(entry.Path),
			Branch: branch,
			Format: spec.Format,
			Meta:   meta,
		})
	}
	return out, nil
}

// scanTruncated lists the well-known roots directory by directory when
// the recursive tree exceeded the host's entry cap.
func (s *Scanner) scanTruncated(ctx context.Context, owner, repo, branch string, meta *githost.Repo) ([]Candidate, error) {
	var out []Candidate
	for _, root := range wellKnownRoots {
		cands, err := s.walkDir(ctx, owner, repo, branch, root.dir, root.depth, meta)
		if err != nil {
			if errors.Is(err, githost.ErrNotFound) {
				continue
			}
			return nil, err
		}
		out = append(out, cands...)
	}
	return MergeCandidates(out), nil
}

func (s *Scanner) walkDir(ctx context.Context, owner, repo, branch, dir string, depth int, meta *githost.Repo) ([]Candidate, error) {
	entries, err := s.host.ListDirectory(ctx, owner, repo, dir, branch)
	if err != nil {
		return nil, err
	}
	var out []Candidate
	for _, entry := range entries {
		switch entry.Type {
		case "file":
			spec, ok := skillfile.MatchPath(entry.Path)
			if !ok {
				continue
			}
			out = append(out, Candidate{
				Owner:  owner,
				Repo:   repo,
				Path:   spec.CandidatePath(entry.Path),
				Branch: branch,
				Format: spec.Format,
				Meta:   meta,
			})
		case "dir":
			if depth <= 1 {
				continue
			}
			sub, err := s.walkDir(ctx, owner, repo, branch, entry.Path, depth-1, meta)
			if err != nil {
				if errors.Is(err, githost.ErrNotFound) {
					continue
				}
				return nil, err
			}
			out = append(out, sub...)
		}
	}
	return out, nil
}
