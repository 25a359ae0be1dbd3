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

// Package jobs is the durable work queue behind the indexer. Crawls
// decompose into per-repo and per-candidate jobs persisted in Postgres,
// so a crash or redeploy resumes instead of restarting; claims use
// FOR UPDATE SKIP LOCKED, making concurrent workers safe.
package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kraklabs/skilldex/pkg/discovery"
)

// Kind names a job type.
type Kind string

const (
	// KindFullCrawl runs every discovery strategy, then fans out
	// deep-scan and index-skill jobs.
	KindFullCrawl Kind = "full-crawl"
	// KindIncrementalCrawl runs the narrow-window strategies and
	// re-scans stale repos.
	KindIncrementalCrawl Kind = "incremental-crawl"
	// KindIndexSkill fetches, scans, scores, and upserts one candidate.
	KindIndexSkill Kind = "index-skill"
	// KindDeepScan walks one repository's trees for candidates.
	KindDeepScan Kind = "deep-scan"
	// KindScoreBatch reclassifies the catalog and rescores stale rows.
	KindScoreBatch Kind = "score-batch"
)

// Kinds lists every job kind, in worker registration order.
func Kinds() []Kind {
	return []Kind{KindFullCrawl, KindIncrementalCrawl, KindIndexSkill, KindDeepScan, KindScoreBatch}
}

// Status is a job's lifecycle state.
type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
)

// DefaultMaxAttempts bounds retries of transiently failing jobs.
const DefaultMaxAttempts = 3

// Job is one queued unit of work.
type Job struct {
	ID          uuid.UUID
	Kind        Kind
	Payload     []byte
	Status      Status
	Attempts    int
	MaxAttempts int
	RunAt       time.Time
	StartedAt   *time.Time
	FinishedAt  *time.Time
	LastError   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// CrawlPayload parameterizes full-crawl and incremental-crawl jobs.
type CrawlPayload struct {
	// WindowDays narrows the commit/push window for incremental crawls.
	WindowDays int `json:"window_days,omitempty"`
}

// DeepScanPayload identifies the repository to walk.
type DeepScanPayload struct {
	Owner string `json:"owner"`
	Repo  string `json:"repo"`
}

// IndexSkillPayload carries the candidate to ingest. Repo metadata
// travels inside the candidate when discovery already had it.
type IndexSkillPayload struct {
	Candidate discovery.Candidate `json:"candidate"`
}

// ScoreBatchPayload bounds one rescoring pass.
type ScoreBatchPayload struct {
	// Limit caps rescored rows per run; 0 uses the runner default.
	Limit int `json:"limit,omitempty"`
}

// NewJob builds a pending job due immediately. payload may be nil.
func NewJob(kind Kind, payload any) (*Job, error) {
	raw := []byte("{}")
	if payload != nil {
		var err error
		raw, err = json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encoding %s payload: %w", kind, err)
		}
	}
	now := time.Now().UTC()
	return &Job{
		ID:          uuid.New(),
		Kind:        kind,
		Payload:     raw,
		Status:      StatusPending,
		MaxAttempts: DefaultMaxAttempts,
		RunAt:       now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// retryDelay backs off exponentially on the attempt number: 30s, 60s,
// 120s, ...
func retryDelay(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	return time.Duration(1<<(attempts-1)) * 30 * time.Second
}
