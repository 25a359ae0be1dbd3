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

package catalog

import (
	"context"
	"errors"
	"time"

	"github.com/kraklabs/skilldex/pkg/classify"
)

// ErrNotFound reports a missing row.
var ErrNotFound = errors.New("catalog: not found")

// ErrClosed reports use after Close.
var ErrClosed = errors.New("catalog: store is closed")

// Store is the persistence boundary. PGStore implements it on Postgres;
// MemoryStore implements it in process for tests and local crawls.
type Store interface {
	// UpsertSkill writes rec under its id. A blocked existing row makes
	// it a no-op with OutcomeBlocked; an unchanged content hash without
	// force makes it a no-op with OutcomeUnchanged. CreatedAt of an
	// existing row is preserved.
	UpsertSkill(ctx context.Context, rec *Skill, force bool) (UpsertOutcome, error)

	// GetSkill returns the row under id or ErrNotFound.
	GetSkill(ctx context.Context, id string) (*Skill, error)

	// BlockSkill flips is_blocked on id. Blocking a missing id creates
	// a tombstone row so future discoveries stay skipped.
	BlockSkill(ctx context.Context, id string) error

	// ListSkillIDs returns ids of non-blocked rows, ordered by id.
	ListSkillIDs(ctx context.Context) ([]string, error)

	// SnapshotForClassify returns the classifier's view of every
	// non-blocked row, ordered by id.
	SnapshotForClassify(ctx context.Context) ([]classify.Record, error)

	// ApplyClassification writes classifier results back.
	ApplyClassification(ctx context.Context, results []classify.Result) error

	// ListSkillsForRescore returns full non-blocked rows whose
	// indexed_at is older than cutoff, ordered by id, at most limit.
	ListSkillsForRescore(ctx context.Context, cutoff time.Time, limit int) ([]*Skill, error)

	// UpdateScores persists rescored security and quality fields.
	UpdateScores(ctx context.Context, rec *Skill) error

	// UpsertDiscoveredRepo records a repo surfaced by discovery,
	// keeping the earliest discovered_via.
	UpsertDiscoveredRepo(ctx context.Context, row DiscoveredRepoRow) error

	// ListReposToScan returns repos never scanned or last scanned
	// before cutoff, ordered by discovery time, at most limit.
	ListReposToScan(ctx context.Context, cutoff time.Time, limit int) ([]DiscoveredRepoRow, error)

	// MarkRepoScanned stamps the scan result onto the repo row.
	MarkRepoScanned(ctx context.Context, owner, repo string, hasSkillMD bool, defaultBranch string, archived bool) error

	// ApprovedAddRequests returns add-requests in approved status that
	// have not been matched to an indexed skill yet.
	ApprovedAddRequests(ctx context.Context) ([]AddRequest, error)

	// MatchAddRequest finds a pending approved add-request for the
	// repo, or ErrNotFound.
	MatchAddRequest(ctx context.Context, owner, repo string) (*AddRequest, error)

	// ResolveAddRequest marks an add-request notified.
	ResolveAddRequest(ctx context.Context, id int64) error

	// ApprovedRemovalRequests returns removal-requests awaiting
	// enforcement.
	ApprovedRemovalRequests(ctx context.Context) ([]RemovalRequest, error)

	// ResolveRemovalRequest marks a removal-request enforced.
	ResolveRemovalRequest(ctx context.Context, id int64) error

	// SetSkillCategories replaces the category slugs linked to a skill.
	SetSkillCategories(ctx context.Context, skillID string, slugs []string) error

	// Stats reports catalog counts.
	Stats(ctx context.Context) (*Stats, error)

	// Close releases the store. Further calls return ErrClosed.
	Close() error
}
