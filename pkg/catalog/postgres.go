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
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kraklabs/skilldex/pkg/classify"
	"github.com/kraklabs/skilldex/pkg/security"
	"github.com/kraklabs/skilldex/pkg/skillfile"
)

// PGStore implements Store on Postgres. Row-level locks in UpsertSkill
// serialize concurrent writes to the same id; writes to different ids
// proceed in parallel.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore connects a pool and verifies it.
func NewPGStore(ctx context.Context, databaseURL string) (*PGStore, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing database url: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return &PGStore{pool: pool}, nil
}

// Pool exposes the underlying pool for components sharing the database,
// such as the job queue.
func (s *PGStore) Pool() *pgxpool.Pool { return s.pool }

const skillColumns = `
	id, name, description, owner, repo, skill_path, branch, source_format,
	version, license, author, homepage, platforms, triggers,
	github_stars, github_forks, github_topics, repo_pushed_at,
	security_score, security_status, security_issues,
	quality_score, quality_details,
	content_hash, raw_content, cached_files,
	skill_type, repo_skill_count, is_duplicate, canonical_skill_id,
	is_blocked, is_verified, is_featured,
	created_at, indexed_at, updated_at`

func (s *PGStore) UpsertSkill(ctx context.Context, rec *Skill, force bool) (UpsertOutcome, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return OutcomeUnchanged, fmt.Errorf("beginning upsert tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var (
		existingHash string
		blocked      bool
		createdAt    time.Time
		exists       = true
	)
	err = tx.QueryRow(ctx,
		`SELECT content_hash, is_blocked, created_at FROM skills WHERE id = $1 FOR UPDATE`,
		rec.ID,
	).Scan(&existingHash, &blocked, &createdAt)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return OutcomeUnchanged, fmt.Errorf("locking skill %s: %w", rec.ID, err)
		}
		exists = false
	}

	if exists {
		if blocked {
			return OutcomeBlocked, nil
		}
		if existingHash == rec.ContentHash && !force {
			return OutcomeUnchanged, nil
		}
	}

	triggers, err := json.Marshal(rec.Triggers)
	if err != nil {
		return OutcomeUnchanged, fmt.Errorf("encoding triggers: %w", err)
	}
	issues, err := json.Marshal(rec.SecurityIssues)
	if err != nil {
		return OutcomeUnchanged, fmt.Errorf("encoding security issues: %w", err)
	}
	details, err := json.Marshal(rec.QualityDetails)
	if err != nil {
		return OutcomeUnchanged, fmt.Errorf("encoding quality details: %w", err)
	}
	cached, err := json.Marshal(rec.CachedFiles)
	if err != nil {
		return OutcomeUnchanged, fmt.Errorf("encoding cached files: %w", err)
	}

	if exists {
		_, err = tx.Exec(ctx, `
			UPDATE skills SET
				name = $2, description = $3, owner = $4, repo = $5,
				skill_path = $6, branch = $7, source_format = $8,
				version = $9, license = $10, author = $11, homepage = $12,
				platforms = $13, triggers = $14,
				github_stars = $15, github_forks = $16, github_topics = $17, repo_pushed_at = $18,
				security_score = $19, security_status = $20, security_issues = $21,
				quality_score = $22, quality_details = $23,
				content_hash = $24, raw_content = $25, cached_files = $26,
				indexed_at = now(), updated_at = now()
			WHERE id = $1`,
			rec.ID, rec.Name, rec.Description, rec.Owner, rec.Repo,
			rec.SkillPath, rec.Branch, string(rec.SourceFormat),
			rec.Version, rec.License, rec.Author, rec.Homepage,
			rec.Platforms, triggers,
			rec.Stars, rec.Forks, rec.Topics, rec.PushedAt,
			rec.SecurityScore, string(rec.SecurityStatus), issues,
			rec.QualityScore, details,
			rec.ContentHash, rec.RawContent, cached,
		)
	} else {
		_, err = tx.Exec(ctx, `
			INSERT INTO skills (
				id, name, description, owner, repo, skill_path, branch, source_format,
				version, license, author, homepage, platforms, triggers,
				github_stars, github_forks, github_topics, repo_pushed_at,
				security_score, security_status, security_issues,
				quality_score, quality_details,
				content_hash, raw_content, cached_files,
				skill_type, repo_skill_count, is_duplicate, canonical_skill_id,
				is_blocked, is_verified, is_featured,
				created_at, indexed_at, updated_at
			) VALUES (
				$1, $2, $3, $4, $5, $6, $7, $8,
				$9, $10, $11, $12, $13, $14,
				$15, $16, $17, $18,
				$19, $20, $21,
				$22, $23,
				$24, $25, $26,
				$27, 0, false, '',
				false, false, false,
				now(), now(), now()
			)`,
			rec.ID, rec.Name, rec.Description, rec.Owner, rec.Repo,
			rec.SkillPath, rec.Branch, string(rec.SourceFormat),
			rec.Version, rec.License, rec.Author, rec.Homepage,
			rec.Platforms, triggers,
			rec.Stars, rec.Forks, rec.Topics, rec.PushedAt,
			rec.SecurityScore, string(rec.SecurityStatus), issues,
			rec.QualityScore, details,
			rec.ContentHash, rec.RawContent, cached,
			string(classify.TypeStandalone),
		)
	}
	if err != nil {
		return OutcomeUnchanged, fmt.Errorf("writing skill %s: %w", rec.ID, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return OutcomeUnchanged, fmt.Errorf("committing skill %s: %w", rec.ID, err)
	}
	return OutcomeWritten, nil
}

func (s *PGStore) GetSkill(ctx context.Context, id string) (*Skill, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+skillColumns+` FROM skills WHERE id = $1`, id)
	rec, err := scanSkill(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("reading skill %s: %w", id, err)
	}
	return rec, nil
}

func scanSkill(row pgx.Row) (*Skill, error) {
	var (
		rec          Skill
		sourceFormat string
		status       string
		skillType    string
		triggersJSON []byte
		issuesJSON   []byte
		detailsJSON  []byte
		cachedJSON   []byte
	)
	err := row.Scan(
		&rec.ID, &rec.Name, &rec.Description, &rec.Owner, &rec.Repo,
		&rec.SkillPath, &rec.Branch, &sourceFormat,
		&rec.Version, &rec.License, &rec.Author, &rec.Homepage,
		&rec.Platforms, &triggersJSON,
		&rec.Stars, &rec.Forks, &rec.Topics, &rec.PushedAt,
		&rec.SecurityScore, &status, &issuesJSON,
		&rec.QualityScore, &detailsJSON,
		&rec.ContentHash, &rec.RawContent, &cachedJSON,
		&skillType, &rec.RepoSkillCount, &rec.IsDuplicate, &rec.CanonicalSkillID,
		&rec.IsBlocked, &rec.IsVerified, &rec.IsFeatured,
		&rec.CreatedAt, &rec.IndexedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	rec.SourceFormat = skillfile.Format(sourceFormat)
	rec.SecurityStatus = security.Status(status)
	rec.SkillType = classify.Type(skillType)
	if len(triggersJSON) > 0 {
		if err := json.Unmarshal(triggersJSON, &rec.Triggers); err != nil {
			return nil, fmt.Errorf("decoding triggers: %w", err)
		}
	}
	if len(issuesJSON) > 0 {
		if err := json.Unmarshal(issuesJSON, &rec.SecurityIssues); err != nil {
			return nil, fmt.Errorf("decoding security issues: %w", err)
		}
	}
	if len(detailsJSON) > 0 {
		if err := json.Unmarshal(detailsJSON, &rec.QualityDetails); err != nil {
			return nil, fmt.Errorf("decoding quality details: %w", err)
		}
	}
	if len(cachedJSON) > 0 {
		if err := json.Unmarshal(cachedJSON, &rec.CachedFiles); err != nil {
			return nil, fmt.Errorf("decoding cached files: %w", err)
		}
	}
	return &rec, nil
}

func (s *PGStore) BlockSkill(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE skills SET is_blocked = true, updated_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("blocking skill %s: %w", id, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	// Tombstone row so re-discovery of this id stays a no-op.
	_, err = s.pool.Exec(ctx, `
		INSERT INTO skills (id, name, description, owner, repo, skill_path, branch, source_format,
			version, license, author, homepage, platforms, triggers,
			github_stars, github_forks, github_topics,
			security_score, security_status, security_issues,
			quality_score, quality_details,
			content_hash, raw_content, cached_files,
			skill_type, repo_skill_count, is_duplicate, canonical_skill_id,
			is_blocked, is_verified, is_featured, created_at, indexed_at, updated_at)
		VALUES ($1, '', '', '', '', '', '', '', '', '', '', '', '{}', 'null',
			0, 0, '{}', 0, 'pass', 'null', 0, 'null', '', '', 'null',
			'standalone', 0, false, '', true, false, false, now(), now(), now())
		ON CONFLICT (id) DO UPDATE SET is_blocked = true, updated_at = now()`,
		id)
	if err != nil {
		return fmt.Errorf("tombstoning skill %s: %w", id, err)
	}
	return nil
}

func (s *PGStore) ListSkillIDs(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT id FROM skills WHERE NOT is_blocked ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing skill ids: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *PGStore) SnapshotForClassify(ctx context.Context) ([]classify.Record, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, owner, repo, github_stars, created_at, raw_content
		FROM skills WHERE NOT is_blocked ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("snapshotting for classify: %w", err)
	}
	defer rows.Close()
	var records []classify.Record
	for rows.Next() {
		var r classify.Record
		if err := rows.Scan(&r.ID, &r.Owner, &r.Repo, &r.Stars, &r.CreatedAt, &r.RawContent); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func (s *PGStore) ApplyClassification(ctx context.Context, results []classify.Result) error {
	batch := &pgx.Batch{}
	for _, res := range results {
		batch.Queue(`
			UPDATE skills SET
				repo_skill_count = $2, skill_type = $3,
				content_hash = CASE WHEN $4 = '' THEN content_hash ELSE $4 END,
				is_duplicate = $5, canonical_skill_id = $6,
				updated_at = now()
			WHERE id = $1 AND NOT is_blocked`,
			res.ID, res.RepoSkillCount, string(res.Type),
			res.ContentHash, res.IsDuplicate, res.CanonicalID)
	}
	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range results {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("applying classification: %w", err)
		}
	}
	return nil
}

func (s *PGStore) ListSkillsForRescore(ctx context.Context, cutoff time.Time, limit int) ([]*Skill, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+skillColumns+` FROM skills
		 WHERE NOT is_blocked AND indexed_at < $1 ORDER BY id LIMIT $2`,
		cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("listing skills for rescore: %w", err)
	}
	defer rows.Close()
	var out []*Skill
	for rows.Next() {
		rec, err := scanSkill(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *PGStore) UpdateScores(ctx context.Context, rec *Skill) error {
	issues, err := json.Marshal(rec.SecurityIssues)
	if err != nil {
		return fmt.Errorf("encoding security issues: %w", err)
	}
	details, err := json.Marshal(rec.QualityDetails)
	if err != nil {
		return fmt.Errorf("encoding quality details: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE skills SET
			security_score = $2, security_status = $3, security_issues = $4,
			quality_score = $5, quality_details = $6, updated_at = now()
		WHERE id = $1`,
		rec.ID, rec.SecurityScore, string(rec.SecurityStatus), issues,
		rec.QualityScore, details)
	if err != nil {
		return fmt.Errorf("updating scores for %s: %w", rec.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PGStore) UpsertDiscoveredRepo(ctx context.Context, row DiscoveredRepoRow) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO discovered_repos (owner, repo, discovered_via, stars, default_branch, discovered_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (owner, repo) DO UPDATE SET
			stars = EXCLUDED.stars,
			default_branch = CASE WHEN EXCLUDED.default_branch = ''
				THEN discovered_repos.default_branch ELSE EXCLUDED.default_branch END`,
		row.Owner, row.Repo, row.DiscoveredVia, row.Stars, row.DefaultBranch)
	if err != nil {
		return fmt.Errorf("upserting discovered repo %s/%s: %w", row.Owner, row.Repo, err)
	}
	return nil
}

func (s *PGStore) ListReposToScan(ctx context.Context, cutoff time.Time, limit int) ([]DiscoveredRepoRow, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT owner, repo, discovered_via, stars, has_skill_md, default_branch,
		       is_archived, last_scanned, discovered_at
		FROM discovered_repos
		WHERE NOT is_archived AND (last_scanned IS NULL OR last_scanned < $1)
		ORDER BY discovered_at, owner, repo
		LIMIT $2`,
		cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("listing repos to scan: %w", err)
	}
	defer rows.Close()
	var out []DiscoveredRepoRow
	for rows.Next() {
		var r DiscoveredRepoRow
		if err := rows.Scan(&r.Owner, &r.Repo, &r.DiscoveredVia, &r.Stars, &r.HasSkillMD,
			&r.DefaultBranch, &r.IsArchived, &r.LastScanned, &r.DiscoveredAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PGStore) MarkRepoScanned(ctx context.Context, owner, repo string, hasSkillMD bool, defaultBranch string, archived bool) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO discovered_repos (owner, repo, discovered_via, stars, has_skill_md,
			default_branch, is_archived, last_scanned, discovered_at)
		VALUES ($1, $2, 'seed', 0, $3, $4, $5, now(), now())
		ON CONFLICT (owner, repo) DO UPDATE SET
			has_skill_md = EXCLUDED.has_skill_md,
			default_branch = CASE WHEN EXCLUDED.default_branch = ''
				THEN discovered_repos.default_branch ELSE EXCLUDED.default_branch END,
			is_archived = EXCLUDED.is_archived,
			last_scanned = now()`,
		owner, repo, hasSkillMD, defaultBranch, archived)
	if err != nil {
		return fmt.Errorf("marking repo %s/%s scanned: %w", owner, repo, err)
	}
	return nil
}

func (s *PGStore) ApprovedAddRequests(ctx context.Context) ([]AddRequest, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, owner, repo, user_email, locale, status, created_at
		FROM add_requests WHERE status = 'approved' ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing add requests: %w", err)
	}
	defer rows.Close()
	var out []AddRequest
	for rows.Next() {
		var r AddRequest
		if err := rows.Scan(&r.ID, &r.Owner, &r.Repo, &r.UserEmail, &r.Locale, &r.Status, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PGStore) MatchAddRequest(ctx context.Context, owner, repo string) (*AddRequest, error) {
	var r AddRequest
	err := s.pool.QueryRow(ctx, `
		SELECT id, owner, repo, user_email, locale, status, created_at
		FROM add_requests WHERE status = 'approved' AND owner = $1 AND repo = $2
		ORDER BY id LIMIT 1`,
		owner, repo,
	).Scan(&r.ID, &r.Owner, &r.Repo, &r.UserEmail, &r.Locale, &r.Status, &r.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("matching add request for %s/%s: %w", owner, repo, err)
	}
	return &r, nil
}

func (s *PGStore) ResolveAddRequest(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE add_requests SET status = 'notified' WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("resolving add request %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PGStore) ApprovedRemovalRequests(ctx context.Context) ([]RemovalRequest, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, skill_id, status, created_at
		FROM removal_requests WHERE status = 'approved' ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing removal requests: %w", err)
	}
	defer rows.Close()
	var out []RemovalRequest
	for rows.Next() {
		var r RemovalRequest
		if err := rows.Scan(&r.ID, &r.SkillID, &r.Status, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PGStore) ResolveRemovalRequest(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE removal_requests SET status = 'enforced' WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("resolving removal request %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PGStore) SetSkillCategories(ctx context.Context, skillID string, slugs []string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning category tx: %w", err)
	}
	defer tx.Rollback(ctx)
	if _, err := tx.Exec(ctx,
		`DELETE FROM skill_categories WHERE skill_id = $1`, skillID); err != nil {
		return fmt.Errorf("clearing categories for %s: %w", skillID, err)
	}
	for _, slug := range slugs {
		if _, err := tx.Exec(ctx,
			`INSERT INTO skill_categories (skill_id, category_slug) VALUES ($1, $2)
			 ON CONFLICT DO NOTHING`,
			skillID, slug); err != nil {
			return fmt.Errorf("linking %s to %s: %w", skillID, slug, err)
		}
	}
	return tx.Commit(ctx)
}

func (s *PGStore) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{
		ByFormat: make(map[string]int),
		ByType:   make(map[string]int),
	}
	err := s.pool.QueryRow(ctx, `
		SELECT
			count(*) FILTER (WHERE NOT is_blocked),
			count(*) FILTER (WHERE is_blocked),
			count(*) FILTER (WHERE is_duplicate AND NOT is_blocked)
		FROM skills`,
	).Scan(&st.Skills, &st.Blocked, &st.Duplicates)
	if err != nil {
		return nil, fmt.Errorf("counting skills: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT source_format, count(*) FROM skills WHERE NOT is_blocked GROUP BY source_format`)
	if err != nil {
		return nil, fmt.Errorf("counting formats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var format string
		var n int
		if err := rows.Scan(&format, &n); err != nil {
			return nil, err
		}
		st.ByFormat[format] = n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	typeRows, err := s.pool.Query(ctx, `
		SELECT skill_type, count(*) FROM skills WHERE NOT is_blocked GROUP BY skill_type`)
	if err != nil {
		return nil, fmt.Errorf("counting types: %w", err)
	}
	defer typeRows.Close()
	for typeRows.Next() {
		var typ string
		var n int
		if err := typeRows.Scan(&typ, &n); err != nil {
			return nil, err
		}
		st.ByType[typ] = n
	}
	if err := typeRows.Err(); err != nil {
		return nil, err
	}

	err = s.pool.QueryRow(ctx, `
		SELECT count(*), count(*) FILTER (WHERE last_scanned IS NULL)
		FROM discovered_repos`,
	).Scan(&st.Repos, &st.UnscannedRepos)
	if err != nil {
		return nil, fmt.Errorf("counting repos: %w", err)
	}
	return st, nil
}

func (s *PGStore) Close() error {
	s.pool.Close()
	return nil
}
