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

package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrEmpty reports that no job of the requested kind is due.
var ErrEmpty = errors.New("jobs: queue empty")

// Queue is the durable job store. PGQueue backs production; MemQueue
// backs tests and local crawls.
type Queue interface {
	// Enqueue persists a pending job.
	Enqueue(ctx context.Context, job *Job) error

	// Claim atomically takes one due pending job of the kind, marks it
	// running, and bumps its attempt counter. Returns ErrEmpty when
	// none is due.
	Claim(ctx context.Context, kind Kind) (*Job, error)

	// Complete marks a running job done.
	Complete(ctx context.Context, id uuid.UUID) error

	// Fail records a failure. Transient failures under the attempt
	// budget reschedule with backoff; the rest become terminal.
	Fail(ctx context.Context, job *Job, jobErr error, permanent bool) error

	// HasPending reports whether a pending or running job of the kind
	// exists. A non-nil payload narrows the check to payload equality.
	HasPending(ctx context.Context, kind Kind, payload []byte) (bool, error)

	// Depth counts pending jobs per kind.
	Depth(ctx context.Context) (map[Kind]int, error)
}

// PGQueue implements Queue on the shared Postgres pool. SKIP LOCKED in
// Claim keeps concurrent workers from double-running a job.
type PGQueue struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPGQueue wraps an existing pool; the catalog store owns its lifecycle.
func NewPGQueue(pool *pgxpool.Pool, logger *slog.Logger) *PGQueue {
	if logger == nil {
		logger = slog.Default()
	}
	return &PGQueue{pool: pool, logger: logger}
}

const jobColumns = `
	id, kind, payload, status, attempts, max_attempts,
	run_at, started_at, finished_at, last_error, created_at, updated_at`

func (q *PGQueue) Enqueue(ctx context.Context, job *Job) error {
	_, err := q.pool.Exec(ctx, `
		INSERT INTO jobs (id, kind, payload, status, attempts, max_attempts, run_at, last_error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, '')`,
		job.ID, string(job.Kind), job.Payload, string(job.Status),
		job.Attempts, job.MaxAttempts, job.RunAt)
	if err != nil {
		return fmt.Errorf("enqueueing %s job: %w", job.Kind, err)
	}
	return nil
}

func (q *PGQueue) Claim(ctx context.Context, kind Kind) (*Job, error) {
	row := q.pool.QueryRow(ctx, `
		UPDATE jobs SET
			status = 'running', attempts = attempts + 1,
			started_at = now(), updated_at = now()
		WHERE id = (
			SELECT id FROM jobs
			WHERE kind = $1 AND status = 'pending' AND run_at <= now()
			ORDER BY run_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+jobColumns,
		string(kind))
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrEmpty
		}
		return nil, fmt.Errorf("claiming %s job: %w", kind, err)
	}
	return job, nil
}

func (q *PGQueue) Complete(ctx context.Context, id uuid.UUID) error {
	tag, err := q.pool.Exec(ctx, `
		UPDATE jobs SET status = 'done', finished_at = now(), updated_at = now()
		WHERE id = $1 AND status = 'running'`,
		id)
	if err != nil {
		return fmt.Errorf("completing job %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("completing job %s: not running", id)
	}
	return nil
}

func (q *PGQueue) Fail(ctx context.Context, job *Job, jobErr error, permanent bool) error {
	msg := ""
	if jobErr != nil {
		msg = jobErr.Error()
	}
	if permanent || job.Attempts >= job.MaxAttempts {
		_, err := q.pool.Exec(ctx, `
			UPDATE jobs SET status = 'failed', finished_at = now(),
				last_error = $2, updated_at = now()
			WHERE id = $1`,
			job.ID, msg)
		if err != nil {
			return fmt.Errorf("failing job %s: %w", job.ID, err)
		}
		return nil
	}
	_, err := q.pool.Exec(ctx, `
		UPDATE jobs SET status = 'pending', run_at = now() + make_interval(secs => $2),
			last_error = $3, updated_at = now()
		WHERE id = $1`,
		job.ID, retryDelay(job.Attempts).Seconds(), msg)
	if err != nil {
		return fmt.Errorf("rescheduling job %s: %w", job.ID, err)
	}
	return nil
}

func (q *PGQueue) HasPending(ctx context.Context, kind Kind, payload []byte) (bool, error) {
	var exists bool
	var err error
	if payload == nil {
		err = q.pool.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM jobs
				WHERE kind = $1 AND status IN ('pending', 'running')
			)`,
			string(kind)).Scan(&exists)
	} else {
		// jsonb equality is structural, so key order does not matter.
		err = q.pool.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM jobs
				WHERE kind = $1 AND status IN ('pending', 'running')
				  AND payload = $2::jsonb
			)`,
			string(kind), payload).Scan(&exists)
	}
	if err != nil {
		return false, fmt.Errorf("checking pending %s jobs: %w", kind, err)
	}
	return exists, nil
}

func (q *PGQueue) Depth(ctx context.Context) (map[Kind]int, error) {
	rows, err := q.pool.Query(ctx, `
		SELECT kind, count(*) FROM jobs WHERE status = 'pending' GROUP BY kind`)
	if err != nil {
		return nil, fmt.Errorf("counting pending jobs: %w", err)
	}
	defer rows.Close()
	depth := make(map[Kind]int)
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, err
		}
		depth[Kind(kind)] = n
	}
	return depth, rows.Err()
}

// Requeue releases jobs stuck in running back to pending. Called on
// worker startup to recover from a crash mid-job.
func (q *PGQueue) Requeue(ctx context.Context, olderThan time.Duration) (int, error) {
	tag, err := q.pool.Exec(ctx, `
		UPDATE jobs SET status = 'pending', run_at = now(), updated_at = now()
		WHERE status = 'running' AND started_at < now() - make_interval(secs => $1)`,
		olderThan.Seconds())
	if err != nil {
		return 0, fmt.Errorf("requeueing stuck jobs: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func scanJob(row pgx.Row) (*Job, error) {
	var (
		j      Job
		kind   string
		status string
	)
	err := row.Scan(
		&j.ID, &kind, &j.Payload, &status, &j.Attempts, &j.MaxAttempts,
		&j.RunAt, &j.StartedAt, &j.FinishedAt, &j.LastError, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	j.Kind = Kind(kind)
	j.Status = Status(status)
	return &j, nil
}
