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
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kraklabs/skilldex/internal/metrics"
)

// Handler executes one claimed job.
type Handler func(ctx context.Context, job *Job) error

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks a handler failure that must not be retried: the job is
// dropped as failed regardless of remaining attempts.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err carries the no-retry marker.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

// DefaultSlots is the per-kind claim-loop width. One crawl of each mode
// at a time; index-skill dominates volume and gets the most loops.
func DefaultSlots() map[Kind]int {
	return map[Kind]int{
		KindFullCrawl:        1,
		KindIncrementalCrawl: 1,
		KindIndexSkill:       3,
		KindDeepScan:         2,
		KindScoreBatch:       1,
	}
}

// Worker drains the queue: per registered kind it runs a fixed number of
// claim loops, so concurrency is bounded per kind rather than globally.
type Worker struct {
	queue  Queue
	logger *slog.Logger
	poll   time.Duration

	handlers map[Kind]Handler
	slots    map[Kind]int
}

// NewWorker builds a worker polling the queue every few seconds when idle.
func NewWorker(queue Queue, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		queue:    queue,
		logger:   logger,
		poll:     3 * time.Second,
		handlers: make(map[Kind]Handler),
		slots:    make(map[Kind]int),
	}
}

// Register binds a handler and its claim-loop count. Must be called
// before Run.
func (w *Worker) Register(kind Kind, slots int, h Handler) {
	if slots < 1 {
		slots = 1
	}
	w.handlers[kind] = h
	w.slots[kind] = slots
}

// Run blocks until ctx is cancelled, claiming and executing jobs.
func (w *Worker) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for kind := range w.handlers {
		kind := kind
		for i := 0; i < w.slots[kind]; i++ {
			g.Go(func() error {
				w.claimLoop(ctx, kind)
				return nil
			})
		}
	}
	g.Go(func() error {
		w.depthLoop(ctx)
		return nil
	})
	w.logger.Info("jobs.worker.start", "kinds", len(w.handlers))
	return g.Wait()
}

func (w *Worker) claimLoop(ctx context.Context, kind Kind) {
	for {
		if ctx.Err() != nil {
			return
		}
		job, err := w.queue.Claim(ctx, kind)
		if err != nil {
			if !errors.Is(err, ErrEmpty) && ctx.Err() == nil {
				w.logger.Warn("jobs.claim.failed", "kind", string(kind), "error", err)
			}
			if !sleepCtx(ctx, w.poll) {
				return
			}
			continue
		}
		w.runJob(ctx, job)
	}
}

func (w *Worker) runJob(ctx context.Context, job *Job) {
	h := w.handlers[job.Kind]
	start := time.Now()
	err := h(ctx, job)
	elapsed := time.Since(start)

	// Bookkeeping writes survive cancellation of the job itself;
	// otherwise a shutdown mid-job would leave the row running until
	// the next startup requeue.
	bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if err == nil {
		if cerr := w.queue.Complete(bctx, job.ID); cerr != nil {
			w.logger.Warn("jobs.complete.failed", "id", job.ID, "error", cerr)
		}
		metrics.JobDuration.WithLabelValues(string(job.Kind), "done").Observe(elapsed.Seconds())
		w.logger.Info("jobs.run.complete",
			"kind", string(job.Kind), "id", job.ID,
			"attempt", job.Attempts, "duration", elapsed)
		return
	}

	permanent := IsPermanent(err)
	terminal := permanent || job.Attempts >= job.MaxAttempts
	status := "retry"
	if terminal {
		status = "failed"
	}
	if ferr := w.queue.Fail(bctx, job, err, permanent); ferr != nil {
		w.logger.Warn("jobs.fail.failed", "id", job.ID, "error", ferr)
	}
	metrics.JobDuration.WithLabelValues(string(job.Kind), status).Observe(elapsed.Seconds())
	w.logger.Warn("jobs.run.failed",
		"kind", string(job.Kind), "id", job.ID,
		"attempt", job.Attempts, "terminal", terminal, "error", err)
}

// depthLoop samples pending counts into the queue-depth gauge.
func (w *Worker) depthLoop(ctx context.Context) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		depth, err := w.queue.Depth(ctx)
		if err != nil {
			if ctx.Err() == nil {
				w.logger.Warn("jobs.depth.failed", "error", err)
			}
			continue
		}
		for _, kind := range Kinds() {
			metrics.QueueDepth.WithLabelValues(string(kind)).Set(float64(depth[kind]))
		}
	}
}

// sleepCtx waits d unless ctx ends first; reports whether the full wait
// happened.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
