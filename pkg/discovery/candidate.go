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

// Package discovery enumerates candidate instruction files on the code
// host. Search-based strategies partition the query space to work around
// the host's 1000-result cap; the deep scanner walks git trees of
// repositories the searches surfaced.
package discovery

import (
	"github.com/kraklabs/skilldex/pkg/githost"
	"github.com/kraklabs/skilldex/pkg/skillfile"
)

// Candidate identifies a prospective instruction file prior to fetching.
// Path is the directory containing the file, "." at the repo root. Branch
// is empty until resolved against repo metadata.
type Candidate struct {
	Owner  string
	Repo   string
	Path   string
	Branch string
	Format skillfile.Format

	// Meta carries repository metadata when the strategy that found the
	// candidate already had it, saving one metadata call downstream.
	Meta *githost.Repo
}

type candidateKey struct {
	owner, repo, path string
	format            skillfile.Format
}

func (c Candidate) key() candidateKey {
	return candidateKey{owner: c.Owner, repo: c.Repo, path: c.Path, format: c.Format}
}

// DiscoveredRepo is a repository surfaced by a search strategy, queued for
// a deep scan.
type DiscoveredRepo struct {
	Owner         string
	Repo          string
	Via           string
	Stars         int
	DefaultBranch string
	Archived      bool
	HasSkillMD    bool
}

// Harvest is the combined output of one or more strategies.
type Harvest struct {
	Candidates []Candidate
	Repos      []DiscoveredRepo
}

// MergeCandidates deduplicates candidate lists on (owner, repo, path,
// format). The first occurrence wins, so scanning the default branch
// first keeps its variant, and merging a set with itself is a no-op.
func MergeCandidates(lists ...[]Candidate) []Candidate {
	seen := make(map[candidateKey]bool)
	var out []Candidate
	for _, list := range lists {
		for _, c := range list {
			k := c.key()
			if seen[k] {
				continue
			}
			seen[k] = true
			out = append(out, c)
		}
	}
	return out
}

// MergeRepos deduplicates discovered repos on (owner, repo), first
// occurrence wins.
func MergeRepos(lists ...[]DiscoveredRepo) []DiscoveredRepo {
	type repoKey struct{ owner, repo string }
	seen := make(map[repoKey]bool)
	var out []DiscoveredRepo
	for _, list := range lists {
		for _, r := range list {
			k := repoKey{owner: r.Owner, repo: r.Repo}
			if seen[k] {
				continue
			}
			seen[k] = true
			out = append(out, r)
		}
	}
	return out
}
