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
	"log/slog"
	"time"
)

// Scheduler enqueues the recurring crawls and polls moderation requests.
// Cadence restarts with the daemon; HasPending keeps a restart from
// stacking a second crawl behind one still in flight.
type Scheduler struct {
	queue  Queue
	runner *Runner
	logger *slog.Logger

	// FullInterval is the cadence of full crawls.
	FullInterval time.Duration
	// IncrementalInterval is the cadence of incremental crawls.
	IncrementalInterval time.Duration
	// RequestsInterval is how often approved add and removal requests
	// are processed.
	RequestsInterval time.Duration
}

// NewScheduler returns a scheduler with the production cadence: full
// crawls daily, incremental crawls hourly, request processing every
// minute.
func NewScheduler(queue Queue, runner *Runner, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		queue:               queue,
		runner:              runner,
		logger:              logger,
		FullInterval:        24 * time.Hour,
		IncrementalInterval: time.Hour,
		RequestsInterval:    time.Minute,
	}
}

// Run ticks until ctx is cancelled. An incremental crawl is enqueued
// immediately so a restarted daemon catches up without waiting a full
// interval.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("jobs.scheduler.start",
		"full_interval", s.FullInterval.String(),
		"incremental_interval", s.IncrementalInterval.String(),
		"requests_interval", s.RequestsInterval.String())

	s.enqueueCrawl(ctx, KindIncrementalCrawl)

	full := time.NewTicker(s.FullInterval)
	defer full.Stop()
	incremental := time.NewTicker(s.IncrementalInterval)
	defer incremental.Stop()
	requests := time.NewTicker(s.RequestsInterval)
	defer requests.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-full.C:
			s.enqueueCrawl(ctx, KindFullCrawl)
		case <-incremental.C:
			s.enqueueCrawl(ctx, KindIncrementalCrawl)
		case <-requests.C:
			report, err := s.runner.ProcessRequests(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				s.logger.Warn("jobs.scheduler.requests_failed", "error", err)
				continue
			}
			if report.ScansQueued > 0 || report.Removed > 0 {
				s.logger.Info("jobs.scheduler.requests",
					"scans_queued", report.ScansQueued,
					"removed", report.Removed)
			}
		}
	}
}

// enqueueCrawl queues a crawl of the given kind unless one is already
// pending or running. An incremental crawl is skipped while a full
// crawl is in flight; the full sweep covers the window anyway.
func (s *Scheduler) enqueueCrawl(ctx context.Context, kind Kind) {
	if kind == KindIncrementalCrawl {
		busy, err := s.queue.HasPending(ctx, KindFullCrawl, nil)
		if err != nil {
			s.logger.Warn("jobs.scheduler.enqueue_failed", "kind", kind, "error", err)
			return
		}
		if busy {
			s.logger.Debug("jobs.scheduler.skip", "kind", kind, "reason", "full crawl in flight")
			return
		}
	}
	dup, err := s.queue.HasPending(ctx, kind, nil)
	if err != nil {
		s.logger.Warn("jobs.scheduler.enqueue_failed", "kind", kind, "error", err)
		return
	}
	if dup {
		s.logger.Debug("jobs.scheduler.skip", "kind", kind, "reason", "already queued")
		return
	}
	job, err := NewJob(kind, nil)
	if err != nil {
		s.logger.Warn("jobs.scheduler.enqueue_failed", "kind", kind, "error", err)
		return
	}
	if err := s.queue.Enqueue(ctx, job); err != nil {
		s.logger.Warn("jobs.scheduler.enqueue_failed", "kind", kind, "error", err)
		return
	}
	s.logger.Info("jobs.scheduler.enqueued", "kind", kind, "job", job.ID.String())
}
