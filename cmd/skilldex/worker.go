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

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/kraklabs/skilldex/internal/errors"
	"github.com/kraklabs/skilldex/internal/ui"
	"github.com/kraklabs/skilldex/pkg/jobs"
)

// runWorker executes the 'worker' CLI command: the long-running daemon
// that claims jobs from the Postgres queue and keeps the crawl schedule.
//
// Flags:
//   - --metrics-addr: HTTP address for Prometheus metrics (overrides METRICS_ADDR)
//   - --requeue-after: Reschedule running jobs older than this at startup (default: 15m)
//   - --no-schedule: Process jobs only, without enqueueing scheduled crawls
//
// Examples:
//
//	skilldex worker                        Run the daemon
//	skilldex worker --metrics-addr :9090   Expose /metrics and /healthz
func runWorker(args []string, globals GlobalFlags) {
	fs := flag.NewFlagSet("worker", flag.ExitOnError)
	metricsAddr := fs.String("metrics-addr", "", "HTTP listen address for metrics and health (overrides METRICS_ADDR)")
	requeueAfter := fs.Duration("requeue-after", 15*time.Minute, "Reschedule running jobs older than this at startup")
	noSchedule := fs.Bool("no-schedule", false, "Process jobs only, without enqueueing scheduled crawls")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: skilldex worker [options]

Description:
  Run the worker daemon. It claims jobs from the database-backed queue
  (crawls, deep scans, skill indexing, score batches) and executes them
  with per-kind concurrency. A built-in scheduler enqueues an
  incremental crawl every hour, a full crawl every 24 hours, and
  processes approved add/removal requests every minute.

  Multiple workers can share one database; the queue hands each job to
  exactly one of them. Jobs left running by a crashed worker are
  rescheduled at startup.

  Stop with SIGINT or SIGTERM. In-flight jobs finish their bookkeeping
  before the process exits.

Options:
`)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Examples:
  # Run the daemon with the schedule
  skilldex worker

  # Expose Prometheus metrics and a health endpoint
  skilldex worker --metrics-addr :9090

  # Drain the queue without scheduling new crawls
  skilldex worker --no-schedule

Notes:
  The scheduler deduplicates crawls: an incremental crawl is skipped
  while a full crawl is queued or running, and a crawl kind is never
  queued twice.

`)
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	cfg := loadConfig(globals)
	logger := cfg.Logger()
	slog.SetDefault(logger)

	if *metricsAddr == "" {
		*metricsAddr = cfg.MetricsAddr
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logger.Info("shutdown.signal", "signal", sig.String())
		cancel()
	}()

	cat, store := openCatalog(ctx, cfg, logger, globals)
	defer func() { _ = store.Close() }()
	defer cat.Wait()

	host, _ := newHost(cfg, logger, globals)

	queue := jobs.NewPGQueue(store.Pool(), logger)

	// Reschedule jobs orphaned by a crashed worker.
	if n, err := queue.Requeue(ctx, *requeueAfter); err != nil {
		logger.Warn("worker.requeue_failed", "err", err)
	} else if n > 0 {
		logger.Info("worker.requeued", "jobs", n)
	}

	runner := jobs.NewRunner(host, cat, queue, newRunnerConfig(cfg), logger)

	worker := jobs.NewWorker(queue, logger)
	runner.Register(worker, nil)

	// Prometheus metrics endpoint (optional)
	if *metricsAddr != "" {
		addr := *metricsAddr
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusOK)
				_, _ = w.Write([]byte("ok\n"))
			})
			srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
			logger.Info("metrics.http.start", "addr", addr, "path", "/metrics")
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Warn("metrics.http.error", "err", err)
			}
		}()
	}

	if !globals.Quiet {
		ui.Infof("Worker started (pid %d). Press Ctrl+C to stop.", os.Getpid())
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return worker.Run(gctx) })
	if !*noSchedule {
		sched := jobs.NewScheduler(queue, runner, logger)
		g.Go(func() error { return sched.Run(gctx) })
	}

	if err := g.Wait(); err != nil && err != context.Canceled {
		errors.FatalError(errors.NewInternalError(
			"Worker stopped unexpectedly",
			"The job worker exited with an error",
			"Check the log output above for the failing component",
			err,
		), globals.JSON)
	}

	logger.Info("worker.stopped")
}
