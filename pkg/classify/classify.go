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

// Package classify derives per-repo skill counts, repository types, and
// content-hash duplicate groups from a catalog snapshot. Run is a pure
// function of its input, so a second pass over unchanged rows yields
// identical output.
package classify

import (
	"crypto/md5"
	"encoding/hex"
	"regexp"
	"sort"
	"strings"
	"time"
)

// Type buckets a repository by how its skills relate to it. Only
// standalone and collection records surface in browse queries.
type Type string

const (
	TypeStandalone   Type = "standalone"
	TypeCollection   Type = "collection"
	TypeAggregator   Type = "aggregator"
	TypeProjectBound Type = "project-bound"
)

const (
	// aggregatorCount alone marks a repo as an aggregator.
	aggregatorCount = 50
	// aggregatorNamedCount suffices when the repo name also looks like
	// a marketplace.
	aggregatorNamedCount = 10
	// collectionMin and collectionMax bound the collection bucket.
	collectionMin = 3
	collectionMax = 49
	// projectBoundMax is the ceiling for the project-bound heuristic.
	projectBoundMax = 2
	// forkMarketplaceSkills and forkMarketplaceOwners detect the same
	// marketplace repo forked across owners.
	forkMarketplaceSkills = 20
	forkMarketplaceOwners = 3
)

var (
	aggregatorNamePattern   = regexp.MustCompile(`(?i)marketplace|awesome|collection|registry`)
	projectBoundNamePattern = regexp.MustCompile(`(?i)my-|project|team|internal|\.mdc|cursorrule|config|setup`)
)

// Record is the slice of a skill row the classifier reads. Blocked rows
// must not be passed in; they keep their stored values.
type Record struct {
	ID         string
	Owner      string
	Repo       string
	Stars      int
	CreatedAt  time.Time
	RawContent string
}

// Result carries the classifier's verdict for one record.
type Result struct {
	ID             string
	RepoSkillCount int
	Type           Type
	ContentHash    string
	IsDuplicate    bool
	CanonicalID    string
}

// Hash fingerprints raw instruction-file content. md5 is used as a
// fingerprint only; the dedup key never faces an adversary with write
// access to the catalog.
func Hash(raw string) string {
	sum := md5.Sum([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// Run classifies every record and assigns duplicate groups. The output
// has one result per input record, in input order.
func Run(records []Record) []Result {
	type repoKey struct{ owner, repo string }

	counts := make(map[repoKey]int)
	nameTotals := make(map[string]int)
	nameOwners := make(map[string]map[string]bool)
	for _, r := range records {
		k := repoKey{owner: r.Owner, repo: r.Repo}
		counts[k]++
		name := strings.ToLower(r.Repo)
		nameTotals[name]++
		if nameOwners[name] == nil {
			nameOwners[name] = make(map[string]bool)
		}
		nameOwners[name][r.Owner] = true
	}

	results := make([]Result, len(records))
	index := make(map[string]int, len(records))
	for i, r := range records {
		count := counts[repoKey{owner: r.Owner, repo: r.Repo}]
		res := Result{
			ID:             r.ID,
			RepoSkillCount: count,
			Type:           classifyRepo(r.Repo, count),
		}
		name := strings.ToLower(r.Repo)
		if nameTotals[name] >= forkMarketplaceSkills && len(nameOwners[name]) >= forkMarketplaceOwners {
			res.Type = TypeAggregator
		}
		if r.RawContent != "" {
			res.ContentHash = Hash(r.RawContent)
		}
		results[i] = res
		index[r.ID] = i
	}

	assignDuplicates(records, results, index)
	return results
}

func classifyRepo(repoName string, count int) Type {
	switch {
	case count >= aggregatorCount:
		return TypeAggregator
	case count >= aggregatorNamedCount && aggregatorNamePattern.MatchString(repoName):
		return TypeAggregator
	case count >= collectionMin && count <= collectionMax:
		return TypeCollection
	case count <= projectBoundMax && projectBoundNamePattern.MatchString(repoName):
		return TypeProjectBound
	default:
		return TypeStandalone
	}
}

// assignDuplicates partitions records by content hash and marks every
// rank-two-or-worse row a duplicate of the group's canonical. Ranking is
// stars descending, then record age ascending, then id ascending.
func assignDuplicates(records []Record, results []Result, index map[string]int) {
	groups := make(map[string][]Record)
	for i, r := range records {
		if results[i].ContentHash == "" {
			continue
		}
		groups[results[i].ContentHash] = append(groups[results[i].ContentHash], r)
	}

	for _, group := range groups {
		if len(group) < 2 {
			continue
		}
		sort.Slice(group, func(i, j int) bool {
			a, b := group[i], group[j]
			if a.Stars != b.Stars {
				return a.Stars > b.Stars
			}
			if !a.CreatedAt.Equal(b.CreatedAt) {
				return a.CreatedAt.Before(b.CreatedAt)
			}
			return a.ID < b.ID
		})
		canonical := group[0]
		for _, dup := range group[1:] {
			i := index[dup.ID]
			results[i].IsDuplicate = true
			results[i].CanonicalID = canonical.ID
		}
	}
}
