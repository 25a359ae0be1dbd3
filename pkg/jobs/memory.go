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
	"bytes"
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemQueue implements Queue in process, for tests and queue-less local
// crawls. Claim ordering matches the Postgres queue: earliest run_at
// first.
type MemQueue struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*Job
	now  func() time.Time
}

// NewMemQueue returns an empty in-memory queue.
func NewMemQueue() *MemQueue {
	return &MemQueue{jobs: make(map[uuid.UUID]*Job), now: time.Now}
}

func (q *MemQueue) Enqueue(_ context.Context, job *Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	cp := *job
	q.jobs[job.ID] = &cp
	return nil
}

func (q *MemQueue) Claim(_ context.Context, kind Kind) (*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.now()

	var due []*Job
	for _, j := range q.jobs {
		if j.Kind == kind && j.Status == StatusPending && !j.RunAt.After(now) {
			due = append(due, j)
		}
	}
	if len(due) == 0 {
		return nil, ErrEmpty
	}
	sort.Slice(due, func(i, k int) bool {
		if !due[i].RunAt.Equal(due[k].RunAt) {
			return due[i].RunAt.Before(due[k].RunAt)
		}
		return due[i].ID.String() < due[k].ID.String()
	})

	j := due[0]
	j.Status = StatusRunning
	j.Attempts++
	started := now
	j.StartedAt = &started
	j.UpdatedAt = now
	cp := *j
	return &cp, nil
}

func (q *MemQueue) Complete(_ context.Context, id uuid.UUID) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, ok := q.jobs[id]
	if !ok || j.Status != StatusRunning {
		return ErrEmpty
	}
	now := q.now()
	j.Status = StatusDone
	j.FinishedAt = &now
	j.UpdatedAt = now
	return nil
}

func (q *MemQueue) Fail(_ context.Context, job *Job, jobErr error, permanent bool) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, ok := q.jobs[job.ID]
	if !ok {
		return ErrEmpty
	}
	now := q.now()
	if jobErr != nil {
		j.LastError = jobErr.Error()
	}
	if permanent || j.Attempts >= j.MaxAttempts {
		j.Status = StatusFailed
		j.FinishedAt = &now
	} else {
		j.Status = StatusPending
		j.RunAt = now.Add(retryDelay(j.Attempts))
	}
	j.UpdatedAt = now
	return nil
}

func (q *MemQueue) HasPending(_ context.Context, kind Kind, payload []byte) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, j := range q.jobs {
		if j.Kind != kind {
			continue
		}
		if j.Status != StatusPending && j.Status != StatusRunning {
			continue
		}
		if payload == nil || bytes.Equal(j.Payload, payload) {
			return true, nil
		}
	}
	return false, nil
}

func (q *MemQueue) Depth(_ context.Context) (map[Kind]int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	depth := make(map[Kind]int)
	for _, j := range q.jobs {
		if j.Status == StatusPending {
			depth[j.Kind]++
		}
	}
	return depth, nil
}

// Snapshot returns copies of every job of the kind, ordered by creation,
// for assertions in tests.
func (q *MemQueue) Snapshot(kind Kind) []Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []Job
	for _, j := range q.jobs {
		if j.Kind == kind {
			out = append(out, *j)
		}
	}
	sort.Slice(out, func(i, k int) bool {
		if !out[i].CreatedAt.Equal(out[k].CreatedAt) {
			return out[i].CreatedAt.Before(out[k].CreatedAt)
		}
		return out[i].ID.String() < out[k].ID.String()
	})
	return out
}
