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
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/kraklabs/skilldex/pkg/classify"
)

// MemoryStore implements Store in process. It backs tests and local
// crawls; with a SnapshotPath it persists a JSON snapshot across runs.
type MemoryStore struct {
	mu     sync.RWMutex
	closed bool

	skills     map[string]*Skill
	repos      map[string]*DiscoveredRepoRow
	categories map[string][]string
	addReqs    map[int64]*AddRequest
	removals   map[int64]*RemovalRequest

	snapshotPath string
	now          func() time.Time
}

// MemoryConfig configures the in-memory store.
type MemoryConfig struct {
	// SnapshotPath, when set, is a JSON file loaded on open and written
	// on Close. Empty keeps everything in memory.
	SnapshotPath string
}

type memorySnapshot struct {
	Skills     map[string]*Skill             `json:"skills"`
	Repos      map[string]*DiscoveredRepoRow `json:"repos"`
	Categories map[string][]string           `json:"categories"`
}

// NewMemoryStore opens an in-memory store, loading the snapshot file
// when configured and present.
func NewMemoryStore(config MemoryConfig) (*MemoryStore, error) {
	s := &MemoryStore{
		skills:       make(map[string]*Skill),
		repos:        make(map[string]*DiscoveredRepoRow),
		categories:   make(map[string][]string),
		addReqs:      make(map[int64]*AddRequest),
		removals:     make(map[int64]*RemovalRequest),
		snapshotPath: config.SnapshotPath,
		now:          time.Now,
	}
	if config.SnapshotPath != "" {
		raw, err := os.ReadFile(config.SnapshotPath)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("reading snapshot: %w", err)
			}
		} else {
			var snap memorySnapshot
			if err := json.Unmarshal(raw, &snap); err != nil {
				return nil, fmt.Errorf("parsing snapshot %s: %w", config.SnapshotPath, err)
			}
			if snap.Skills != nil {
				s.skills = snap.Skills
			}
			if snap.Repos != nil {
				s.repos = snap.Repos
			}
			if snap.Categories != nil {
				s.categories = snap.Categories
			}
		}
	}
	return s, nil
}

func (s *MemoryStore) UpsertSkill(_ context.Context, rec *Skill, force bool) (UpsertOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return OutcomeUnchanged, ErrClosed
	}

	now := s.now()
	cp := *rec
	if existing, ok := s.skills[rec.ID]; ok {
		if existing.IsBlocked {
			return OutcomeBlocked, nil
		}
		if existing.ContentHash == rec.ContentHash && !force {
			return OutcomeUnchanged, nil
		}
		cp.CreatedAt = existing.CreatedAt
	} else if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.IndexedAt = now
	cp.UpdatedAt = now
	s.skills[cp.ID] = &cp
	return OutcomeWritten, nil
}

func (s *MemoryStore) GetSkill(_ context.Context, id string) (*Skill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	rec, ok := s.skills[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (s *MemoryStore) BlockSkill(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	now := s.now()
	if rec, ok := s.skills[id]; ok {
		rec.IsBlocked = true
		rec.UpdatedAt = now
		return nil
	}
	// Tombstone: future discoveries of this id must stay skipped even
	// though the row was never indexed.
	s.skills[id] = &Skill{ID: id, IsBlocked: true, CreatedAt: now, UpdatedAt: now}
	return nil
}

func (s *MemoryStore) ListSkillIDs(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	var ids []string
	for id, rec := range s.skills {
		if rec.IsBlocked {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *MemoryStore) SnapshotForClassify(_ context.Context) ([]classify.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	var records []classify.Record
	for _, rec := range s.skills {
		if rec.IsBlocked {
			continue
		}
		records = append(records, classify.Record{
			ID:         rec.ID,
			Owner:      rec.Owner,
			Repo:       rec.Repo,
			Stars:      rec.Stars,
			CreatedAt:  rec.CreatedAt,
			RawContent: rec.RawContent,
		})
	}
	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })
	return records, nil
}

func (s *MemoryStore) ApplyClassification(_ context.Context, results []classify.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	now := s.now()
	for _, res := range results {
		rec, ok := s.skills[res.ID]
		if !ok || rec.IsBlocked {
			continue
		}
		rec.RepoSkillCount = res.RepoSkillCount
		rec.SkillType = res.Type
		if res.ContentHash != "" {
			rec.ContentHash = res.ContentHash
		}
		rec.IsDuplicate = res.IsDuplicate
		rec.CanonicalSkillID = res.CanonicalID
		rec.UpdatedAt = now
	}
	return nil
}

func (s *MemoryStore) ListSkillsForRescore(_ context.Context, cutoff time.Time, limit int) ([]*Skill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	var out []*Skill
	for _, rec := range s.skills {
		if rec.IsBlocked || !rec.IndexedAt.Before(cutoff) {
			continue
		}
		cp := *rec
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) UpdateScores(_ context.Context, rec *Skill) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	existing, ok := s.skills[rec.ID]
	if !ok {
		return ErrNotFound
	}
	existing.SecurityScore = rec.SecurityScore
	existing.SecurityStatus = rec.SecurityStatus
	existing.SecurityIssues = rec.SecurityIssues
	existing.QualityScore = rec.QualityScore
	existing.QualityDetails = rec.QualityDetails
	existing.UpdatedAt = s.now()
	return nil
}

func repoRowKey(owner, repo string) string { return owner + "/" + repo }

func (s *MemoryStore) UpsertDiscoveredRepo(_ context.Context, row DiscoveredRepoRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	key := repoRowKey(row.Owner, row.Repo)
	if existing, ok := s.repos[key]; ok {
		existing.Stars = row.Stars
		if row.DefaultBranch != "" {
			existing.DefaultBranch = row.DefaultBranch
		}
		return nil
	}
	cp := row
	if cp.DiscoveredAt.IsZero() {
		cp.DiscoveredAt = s.now()
	}
	s.repos[key] = &cp
	return nil
}

func (s *MemoryStore) ListReposToScan(_ context.Context, cutoff time.Time, limit int) ([]DiscoveredRepoRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	var out []DiscoveredRepoRow
	for _, row := range s.repos {
		if row.IsArchived {
			continue
		}
		if row.LastScanned != nil && !row.LastScanned.Before(cutoff) {
			continue
		}
		out = append(out, *row)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].DiscoveredAt.Equal(out[j].DiscoveredAt) {
			return out[i].DiscoveredAt.Before(out[j].DiscoveredAt)
		}
		return repoRowKey(out[i].Owner, out[i].Repo) < repoRowKey(out[j].Owner, out[j].Repo)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) MarkRepoScanned(_ context.Context, owner, repo string, hasSkillMD bool, defaultBranch string, archived bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	now := s.now()
	key := repoRowKey(owner, repo)
	row, ok := s.repos[key]
	if !ok {
		row = &DiscoveredRepoRow{Owner: owner, Repo: repo, DiscoveredVia: "seed", DiscoveredAt: now}
		s.repos[key] = row
	}
	row.HasSkillMD = hasSkillMD
	if defaultBranch != "" {
		row.DefaultBranch = defaultBranch
	}
	row.IsArchived = archived
	row.LastScanned = &now
	return nil
}

// SeedAddRequest loads an add-request row, standing in for the web
// layer's writes in tests and local mode.
func (s *MemoryStore) SeedAddRequest(req AddRequest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := req
	s.addReqs[req.ID] = &cp
}

// SeedRemovalRequest loads a removal-request row.
func (s *MemoryStore) SeedRemovalRequest(req RemovalRequest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := req
	s.removals[req.ID] = &cp
}

func (s *MemoryStore) ApprovedAddRequests(_ context.Context) ([]AddRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	var out []AddRequest
	for _, req := range s.addReqs {
		if req.Status == "approved" {
			out = append(out, *req)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) MatchAddRequest(_ context.Context, owner, repo string) (*AddRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	var best *AddRequest
	for _, req := range s.addReqs {
		if req.Status != "approved" || req.Owner != owner || req.Repo != repo {
			continue
		}
		if best == nil || req.ID < best.ID {
			best = req
		}
	}
	if best == nil {
		return nil, ErrNotFound
	}
	cp := *best
	return &cp, nil
}

func (s *MemoryStore) ResolveAddRequest(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	req, ok := s.addReqs[id]
	if !ok {
		return ErrNotFound
	}
	req.Status = "notified"
	return nil
}

func (s *MemoryStore) ApprovedRemovalRequests(_ context.Context) ([]RemovalRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	var out []RemovalRequest
	for _, req := range s.removals {
		if req.Status == "approved" {
			out = append(out, *req)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) ResolveRemovalRequest(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	req, ok := s.removals[id]
	if !ok {
		return ErrNotFound
	}
	req.Status = "enforced"
	return nil
}

func (s *MemoryStore) SetSkillCategories(_ context.Context, skillID string, slugs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	cp := make([]string, len(slugs))
	copy(cp, slugs)
	s.categories[skillID] = cp
	return nil
}

// SkillCategories returns the slugs linked to a skill.
func (s *MemoryStore) SkillCategories(skillID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.categories[skillID]
}

func (s *MemoryStore) Stats(_ context.Context) (*Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	st := &Stats{
		ByFormat: make(map[string]int),
		ByType:   make(map[string]int),
	}
	for _, rec := range s.skills {
		if rec.IsBlocked {
			st.Blocked++
			continue
		}
		st.Skills++
		if rec.IsDuplicate {
			st.Duplicates++
		}
		st.ByFormat[string(rec.SourceFormat)]++
		if rec.SkillType != "" {
			st.ByType[string(rec.SkillType)]++
		}
	}
	st.Repos = len(s.repos)
	for _, row := range s.repos {
		if row.LastScanned == nil {
			st.UnscannedRepos++
		}
	}
	return st, nil
}

// Close writes the snapshot when configured and marks the store closed.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.snapshotPath == "" {
		return nil
	}
	return s.writeSnapshotLocked()
}

func (s *MemoryStore) writeSnapshotLocked() error {
	snap := memorySnapshot{
		Skills:     s.skills,
		Repos:      s.repos,
		Categories: s.categories,
	}
	raw, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}
	dir := filepath.Dir(s.snapshotPath)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("creating snapshot dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".skilldex-snapshot-*")
	if err != nil {
		return fmt.Errorf("creating snapshot temp file: %w", err)
	}
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("writing snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("closing snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.snapshotPath); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replacing snapshot: %w", err)
	}
	return nil
}
