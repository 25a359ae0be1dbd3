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

// Package catalog persists skills and drives the post-write side effects:
// search-index sync, cache invalidation, and claim notification. Two
// store implementations exist, a Postgres store for production and an
// in-memory store for tests and local crawls.
package catalog

import (
	"time"

	"github.com/kraklabs/skilldex/pkg/classify"
	"github.com/kraklabs/skilldex/pkg/quality"
	"github.com/kraklabs/skilldex/pkg/security"
	"github.com/kraklabs/skilldex/pkg/skillfile"
)

// Skill is one catalog row. IDs follow owner/repo/name with a ~format
// suffix for non-SKILL.md sources.
type Skill struct {
	ID           string             `json:"id"`
	Name         string             `json:"name"`
	Description  string             `json:"description"`
	Owner        string             `json:"owner"`
	Repo         string             `json:"repo"`
	SkillPath    string             `json:"skill_path"`
	Branch       string             `json:"branch"`
	SourceFormat skillfile.Format   `json:"source_format"`
	Version      string             `json:"version,omitempty"`
	License      string             `json:"license,omitempty"`
	Author       string             `json:"author,omitempty"`
	Homepage     string             `json:"homepage,omitempty"`
	Platforms    []string           `json:"platforms,omitempty"`
	Triggers     skillfile.Triggers `json:"triggers,omitempty"`

	Stars  int      `json:"github_stars"`
	Forks  int      `json:"github_forks"`
	Topics []string `json:"github_topics,omitempty"`

	// PushedAt is the repo's last push captured at index time. Batch
	// rescoring reads it so the maintenance factor decays without an
	// API round-trip.
	PushedAt time.Time `json:"repo_pushed_at,omitempty"`

	SecurityScore  int              `json:"security_score"`
	SecurityStatus security.Status  `json:"security_status"`
	SecurityIssues []security.Issue `json:"security_issues,omitempty"`
	QualityScore   int              `json:"quality_score"`
	QualityDetails quality.Details  `json:"quality_details"`

	ContentHash string       `json:"content_hash"`
	RawContent  string       `json:"raw_content"`
	CachedFiles []CachedFile `json:"cached_files,omitempty"`

	SkillType        classify.Type `json:"skill_type"`
	RepoSkillCount   int           `json:"repo_skill_count"`
	IsDuplicate      bool          `json:"is_duplicate"`
	CanonicalSkillID string        `json:"canonical_skill_id,omitempty"`

	IsBlocked  bool `json:"is_blocked"`
	IsVerified bool `json:"is_verified"`
	IsFeatured bool `json:"is_featured"`

	// CreatedAt is set on first insert and never changes; the deduper
	// ranks on it. IndexedAt bumps on every content write.
	CreatedAt time.Time `json:"created_at"`
	IndexedAt time.Time `json:"indexed_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CachedFile is one sibling file snapshot stored with a skill: scripts
// and reference documents fetched alongside a SKILL.md.
type CachedFile struct {
	Path    string `json:"path"`
	Kind    string `json:"kind"` // script or reference
	Size    int    `json:"size"`
	Content string `json:"content"`
}

// UpsertOutcome reports what an upsert did.
type UpsertOutcome int

const (
	// OutcomeWritten means the row was inserted or updated.
	OutcomeWritten UpsertOutcome = iota
	// OutcomeUnchanged means the content hash matched and force was not
	// requested.
	OutcomeUnchanged
	// OutcomeBlocked means a blocked row exists under this id.
	OutcomeBlocked
)

func (o UpsertOutcome) String() string {
	switch o {
	case OutcomeWritten:
		return "written"
	case OutcomeUnchanged:
		return "unchanged"
	case OutcomeBlocked:
		return "blocked"
	default:
		return "unknown"
	}
}

// DiscoveredRepoRow is the persisted deep-scan ledger entry.
type DiscoveredRepoRow struct {
	Owner         string     `json:"owner"`
	Repo          string     `json:"repo"`
	DiscoveredVia string     `json:"discovered_via"`
	Stars         int        `json:"stars"`
	HasSkillMD    bool       `json:"has_skill_md"`
	DefaultBranch string     `json:"default_branch,omitempty"`
	IsArchived    bool       `json:"is_archived"`
	LastScanned   *time.Time `json:"last_scanned,omitempty"`
	DiscoveredAt  time.Time  `json:"discovered_at"`
}

// AddRequest is an approved user request to index a repository. The
// pipeline reads these and notifies the requester once a skill from
// the repo lands.
type AddRequest struct {
	ID        int64     `json:"id"`
	Owner     string    `json:"owner"`
	Repo      string    `json:"repo"`
	UserEmail string    `json:"user_email"`
	Locale    string    `json:"locale"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// RemovalRequest is an approved request to block a skill.
type RemovalRequest struct {
	ID        int64     `json:"id"`
	SkillID   string    `json:"skill_id"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// Stats summarizes the catalog for the status command.
type Stats struct {
	Skills         int
	Blocked        int
	Duplicates     int
	ByFormat       map[string]int
	ByType         map[string]int
	Repos          int
	UnscannedRepos int
}
