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
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kraklabs/skilldex/pkg/catalog"
	"github.com/kraklabs/skilldex/pkg/discovery"
	"github.com/kraklabs/skilldex/pkg/githost"
	"github.com/kraklabs/skilldex/pkg/ingest"
	"github.com/kraklabs/skilldex/pkg/skillfile"
)

// Host is the code-host surface the runner needs: discovery searches
// plus content fetches. *githost.Client satisfies it.
type Host interface {
	discovery.Host
	ingest.FetchHost
}

// RunnerConfig tunes crawl decomposition and batch sizes.
type RunnerConfig struct {
	// Discovery parameterizes the search strategies.
	Discovery discovery.Config
	// Pipeline parameterizes per-candidate ingestion.
	Pipeline ingest.Config

	// IncrementalWindowDays narrows incremental-crawl searches to
	// recently pushed or committed repos.
	IncrementalWindowDays int
	// RescanAfter is how stale a repo's last deep scan may get before an
	// incremental crawl re-queues it.
	RescanAfter time.Duration
	// ScanBatch caps stale repos re-queued per incremental crawl.
	ScanBatch int

	// RescoreAfter is how stale a skill's indexed_at may get before a
	// score batch rescores it.
	RescoreAfter time.Duration
	// RescoreBatch caps rescored rows per score-batch run.
	RescoreBatch int
	// ScoreDelay is how long after a crawl the follow-up score batch is
	// scheduled, leaving the fanned-out jobs time to land.
	ScoreDelay time.Duration
}

// DefaultRunnerConfig returns the production defaults.
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		Discovery:             discovery.DefaultConfig(),
		Pipeline:              ingest.DefaultConfig(),
		IncrementalWindowDays: 2,
		RescanAfter:           7 * 24 * time.Hour,
		ScanBatch:             50,
		RescoreAfter:          7 * 24 * time.Hour,
		RescoreBatch:          500,
		ScoreDelay:            30 * time.Minute,
	}
}

// Runner binds the crawl stages to the queue. The job handlers decompose
// crawls into deep-scan and index-skill jobs for the worker daemon; the
// CLI runs the same stages inline through Crawl, Scan, and Score.
type Runner struct {
	host     Host
	cat      *catalog.Catalog
	queue    Queue
	cfg      RunnerConfig
	logger   *slog.Logger
	scanner  *discovery.Scanner
	pipeline *ingest.Pipeline
	now      func() time.Time
}

// NewRunner wires a runner. A zero-value field in cfg falls back to its
// default.
func NewRunner(host Host, cat *catalog.Catalog, queue Queue, cfg RunnerConfig, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultRunnerConfig()
	if cfg.Discovery == (discovery.Config{}) {
		cfg.Discovery = def.Discovery
	}
	if cfg.IncrementalWindowDays <= 0 {
		cfg.IncrementalWindowDays = def.IncrementalWindowDays
	}
	if cfg.RescanAfter <= 0 {
		cfg.RescanAfter = def.RescanAfter
	}
	if cfg.ScanBatch <= 0 {
		cfg.ScanBatch = def.ScanBatch
	}
	if cfg.RescoreAfter <= 0 {
		cfg.RescoreAfter = def.RescoreAfter
	}
	if cfg.RescoreBatch <= 0 {
		cfg.RescoreBatch = def.RescoreBatch
	}
	if cfg.ScoreDelay <= 0 {
		cfg.ScoreDelay = def.ScoreDelay
	}

	fetcher := ingest.NewFetcher(host, logger)
	return &Runner{
		host:     host,
		cat:      cat,
		queue:    queue,
		cfg:      cfg,
		logger:   logger,
		scanner:  discovery.NewScanner(host, logger),
		pipeline: ingest.NewPipeline(fetcher, cat, cfg.Pipeline, logger),
		now:      time.Now,
	}
}

// Register binds the five job handlers to w. nil slots uses DefaultSlots.
func (r *Runner) Register(w *Worker, slots map[Kind]int) {
	if slots == nil {
		slots = DefaultSlots()
	}
	w.Register(KindFullCrawl, slots[KindFullCrawl], r.handleFullCrawl)
	w.Register(KindIncrementalCrawl, slots[KindIncrementalCrawl], r.handleIncrementalCrawl)
	w.Register(KindIndexSkill, slots[KindIndexSkill], r.handleIndexSkill)
	w.Register(KindDeepScan, slots[KindDeepScan], r.handleDeepScan)
	w.Register(KindScoreBatch, slots[KindScoreBatch], r.handleScoreBatch)
}

// handleFullCrawl runs every discovery strategy, persists the discovered
// repos, and fans the follow-up work out as jobs.
func (r *Runner) handleFullCrawl(ctx context.Context, _ *Job) error {
	engine := discovery.NewEngine(r.host, r.cfg.Discovery, r.logger)
	harvest, err := engine.Run(ctx)
	if err != nil {
		return err
	}
	scans, skills, err := r.fanOut(ctx, harvest)
	if err != nil {
		return err
	}
	if err := r.scheduleScoreBatch(ctx); err != nil {
		return err
	}
	r.logger.Info("jobs.crawl.full.fanout",
		"repos", len(harvest.Repos),
		"candidates", len(harvest.Candidates),
		"deep_scans_queued", scans,
		"index_jobs_queued", skills)
	return nil
}

// handleIncrementalCrawl runs the narrow-window strategies and re-queues
// stale repos for scanning.
func (r *Runner) handleIncrementalCrawl(ctx context.Context, job *Job) error {
	var p CrawlPayload
	if len(job.Payload) > 0 {
		if err := json.Unmarshal(job.Payload, &p); err != nil {
			return Permanent(fmt.Errorf("decoding crawl payload: %w", err))
		}
	}
	windowDays := p.WindowDays
	if windowDays <= 0 {
		windowDays = r.cfg.IncrementalWindowDays
	}

	engine := discovery.NewIncrementalEngine(r.host, r.cfg.Discovery, windowDays, r.logger)
	harvest, err := engine.Run(ctx)
	if err != nil {
		return err
	}
	scans, skills, err := r.fanOut(ctx, harvest)
	if err != nil {
		return err
	}

	stale, err := r.cat.Store().ListReposToScan(ctx, r.now().Add(-r.cfg.RescanAfter), r.cfg.ScanBatch)
	if err != nil {
		return err
	}
	requeued := 0
	for _, row := range stale {
		ok, err := r.enqueueUnique(ctx, KindDeepScan, DeepScanPayload{Owner: row.Owner, Repo: row.Repo})
		if err != nil {
			return err
		}
		if ok {
			requeued++
		}
	}

	if err := r.scheduleScoreBatch(ctx); err != nil {
		return err
	}
	r.logger.Info("jobs.crawl.incremental.fanout",
		"window_days", windowDays,
		"repos", len(harvest.Repos),
		"candidates", len(harvest.Candidates),
		"deep_scans_queued", scans,
		"stale_rescans_queued", requeued,
		"index_jobs_queued", skills)
	return nil
}

// handleDeepScan walks one repo's branches and queues an index-skill job
// per candidate. A vanished repo is a permanent failure; the scan ledger
// is stamped either way.
func (r *Runner) handleDeepScan(ctx context.Context, job *Job) error {
	var p DeepScanPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return Permanent(fmt.Errorf("decoding deep-scan payload: %w", err))
	}
	cands, err := r.scanAndMark(ctx, p.Owner, p.Repo)
	if err != nil {
		if errors.Is(err, githost.ErrNotFound) {
			return Permanent(err)
		}
		return err
	}
	queued := 0
	for _, c := range cands {
		ok, err := r.enqueueUnique(ctx, KindIndexSkill, IndexSkillPayload{Candidate: c})
		if err != nil {
			return err
		}
		if ok {
			queued++
		}
	}
	r.logger.Info("jobs.deepscan.done",
		"repo", p.Owner+"/"+p.Repo,
		"candidates", len(cands),
		"index_jobs_queued", queued)
	return nil
}

// handleIndexSkill ingests one candidate. Validation failures are
// permanent; fetch or write errors retry.
func (r *Runner) handleIndexSkill(ctx context.Context, job *Job) error {
	var p IndexSkillPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return Permanent(fmt.Errorf("decoding index-skill payload: %w", err))
	}
	res, err := r.pipeline.Run(ctx, []discovery.Candidate{p.Candidate})
	if err != nil {
		return err
	}
	switch {
	case res.Failed > 0:
		return fmt.Errorf("indexing %s/%s %s: transient failure",
			p.Candidate.Owner, p.Candidate.Repo, p.Candidate.Path)
	case res.Invalid > 0:
		return Permanent(fmt.Errorf("indexing %s/%s %s: invalid instruction file",
			p.Candidate.Owner, p.Candidate.Repo, p.Candidate.Path))
	}
	return nil
}

// handleScoreBatch reclassifies the catalog and rescores stale rows.
func (r *Runner) handleScoreBatch(ctx context.Context, job *Job) error {
	var p ScoreBatchPayload
	if len(job.Payload) > 0 {
		if err := json.Unmarshal(job.Payload, &p); err != nil {
			return Permanent(fmt.Errorf("decoding score-batch payload: %w", err))
		}
	}
	report, err := r.Score(ctx, p.Limit)
	if err != nil {
		return err
	}
	r.logger.Info("jobs.scorebatch.done",
		"records", report.Classified.Records,
		"duplicates", report.Classified.Duplicates,
		"rescored", report.Rescored)
	return nil
}

// fanOut persists harvested repos and queues the follow-up jobs: a
// deep-scan per repo and an index-skill per search candidate.
func (r *Runner) fanOut(ctx context.Context, harvest *discovery.Harvest) (scans, skills int, err error) {
	if err := r.persistRepos(ctx, harvest.Repos); err != nil {
		return 0, 0, err
	}
	for _, repo := range harvest.Repos {
		if repo.Archived {
			continue
		}
		ok, err := r.enqueueUnique(ctx, KindDeepScan, DeepScanPayload{Owner: repo.Owner, Repo: repo.Repo})
		if err != nil {
			return scans, skills, err
		}
		if ok {
			scans++
		}
	}
	for _, cand := range harvest.Candidates {
		ok, err := r.enqueueUnique(ctx, KindIndexSkill, IndexSkillPayload{Candidate: cand})
		if err != nil {
			return scans, skills, err
		}
		if ok {
			skills++
		}
	}
	return scans, skills, nil
}

// persistRepos records discovered repos in the scan ledger.
func (r *Runner) persistRepos(ctx context.Context, repos []discovery.DiscoveredRepo) error {
	store := r.cat.Store()
	for _, repo := range repos {
		row := catalog.DiscoveredRepoRow{
			Owner:         repo.Owner,
			Repo:          repo.Repo,
			DiscoveredVia: repo.Via,
			Stars:         repo.Stars,
			DefaultBranch: repo.DefaultBranch,
		}
		if err := store.UpsertDiscoveredRepo(ctx, row); err != nil {
			return err
		}
	}
	return nil
}

// enqueueUnique queues a job unless an equal pending or running one
// exists. Reports whether a job was queued.
func (r *Runner) enqueueUnique(ctx context.Context, kind Kind, payload any) (bool, error) {
	job, err := NewJob(kind, payload)
	if err != nil {
		return false, err
	}
	dup, err := r.queue.HasPending(ctx, kind, job.Payload)
	if err != nil {
		return false, err
	}
	if dup {
		return false, nil
	}
	return true, r.queue.Enqueue(ctx, job)
}

// scheduleScoreBatch queues the post-crawl score batch after ScoreDelay,
// unless one is already waiting.
func (r *Runner) scheduleScoreBatch(ctx context.Context) error {
	dup, err := r.queue.HasPending(ctx, KindScoreBatch, nil)
	if err != nil {
		return err
	}
	if dup {
		return nil
	}
	job, err := NewJob(KindScoreBatch, nil)
	if err != nil {
		return err
	}
	job.RunAt = r.now().Add(r.cfg.ScoreDelay)
	return r.queue.Enqueue(ctx, job)
}

// scanAndMark deep-scans one repo and stamps the scan ledger. A vanished
// repo is marked scanned so it stops being reselected, and the not-found
// error propagates.
func (r *Runner) scanAndMark(ctx context.Context, owner, repo string) ([]discovery.Candidate, error) {
	cands, meta, err := r.scanner.ScanRepo(ctx, owner, repo)
	if err != nil {
		if errors.Is(err, githost.ErrNotFound) {
			if merr := r.cat.Store().MarkRepoScanned(ctx, owner, repo, false, "", false); merr != nil {
				r.logger.Warn("jobs.deepscan.mark_failed", "repo", owner+"/"+repo, "error", merr)
			}
		}
		return nil, err
	}
	hasSkill := false
	for _, c := range cands {
		if c.Format == skillfile.FormatSkillMD {
			hasSkill = true
			break
		}
	}
	if err := r.cat.Store().MarkRepoScanned(ctx, owner, repo, hasSkill, meta.DefaultBranch, meta.Archived); err != nil {
		return nil, err
	}
	return cands, nil
}

// CrawlReport tallies an inline crawl for the CLI.
type CrawlReport struct {
	Full             bool
	ReposDiscovered  int
	ReposScanned     int
	Candidates       int
	Result           *ingest.Result
	DiscoverDuration time.Duration
	ScanDuration     time.Duration
}

// Crawl runs a crawl inline: discover, deep-scan every discovered repo,
// then push all candidates through the pipeline. progress, when non-nil,
// observes the indexing phase.
func (r *Runner) Crawl(ctx context.Context, full bool, progress ingest.ProgressFunc) (*CrawlReport, error) {
	report := &CrawlReport{Full: full}

	start := r.now()
	var engine *discovery.Engine
	if full {
		engine = discovery.NewEngine(r.host, r.cfg.Discovery, r.logger)
	} else {
		engine = discovery.NewIncrementalEngine(r.host, r.cfg.Discovery, r.cfg.IncrementalWindowDays, r.logger)
	}
	harvest, err := engine.Run(ctx)
	if err != nil {
		return report, err
	}
	report.DiscoverDuration = r.now().Sub(start)
	report.ReposDiscovered = len(harvest.Repos)

	if err := r.persistRepos(ctx, harvest.Repos); err != nil {
		return report, err
	}

	start = r.now()
	scanned, candidates, err := r.scanRepos(ctx, harvest)
	if err != nil {
		return report, err
	}
	report.ScanDuration = r.now().Sub(start)
	report.ReposScanned = scanned
	report.Candidates = len(candidates)

	r.pipeline.SetProgressFunc(progress)
	res, err := r.pipeline.Run(ctx, candidates)
	report.Result = res
	return report, err
}

// scanRepos deep-scans the harvest's repos with bounded concurrency and
// merges their candidates with the search candidates, search first so a
// resolved branch wins dedup.
func (r *Runner) scanRepos(ctx context.Context, harvest *discovery.Harvest) (int, []discovery.Candidate, error) {
	var (
		mu      sync.Mutex
		lists   [][]discovery.Candidate
		scanned int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(2)
	for _, repo := range harvest.Repos {
		repo := repo
		if repo.Archived {
			continue
		}
		g.Go(func() error {
			cands, err := r.scanAndMark(gctx, repo.Owner, repo.Repo)
			if err != nil {
				// A vanished repo is bookkept and skipped; anything
				// else aborts the crawl.
				if errors.Is(err, githost.ErrNotFound) {
					return nil
				}
				return err
			}
			mu.Lock()
			lists = append(lists, cands)
			scanned++
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, nil, err
	}
	all := append([][]discovery.Candidate{harvest.Candidates}, lists...)
	return scanned, discovery.MergeCandidates(all...), nil
}

// ScoreReport tallies one classification and rescoring pass.
type ScoreReport struct {
	Classified *catalog.ClassifySummary
	Rescored   int
}

// Score reclassifies the catalog and rescores rows indexed before the
// staleness cutoff. limit 0 uses the configured batch size.
func (r *Runner) Score(ctx context.Context, limit int) (*ScoreReport, error) {
	summary, err := r.cat.Classify(ctx)
	if err != nil {
		return nil, err
	}
	report := &ScoreReport{Classified: summary}

	if limit <= 0 {
		limit = r.cfg.RescoreBatch
	}
	now := r.now()
	rows, err := r.cat.Store().ListSkillsForRescore(ctx, now.Add(-r.cfg.RescoreAfter), limit)
	if err != nil {
		return nil, err
	}
	for _, rec := range rows {
		ingest.Rescore(rec, now)
		if err := r.cat.UpdateScores(ctx, rec); err != nil {
			return report, err
		}
		report.Rescored++
	}
	return report, nil
}

// Scan deep-scans one repo inline and ingests its candidates.
func (r *Runner) Scan(ctx context.Context, owner, repo string, progress ingest.ProgressFunc) (*ingest.Result, error) {
	cands, err := r.scanAndMark(ctx, owner, repo)
	if err != nil {
		return nil, err
	}
	r.pipeline.SetProgressFunc(progress)
	return r.pipeline.Run(ctx, cands)
}

// RequestsReport tallies one request-processing pass.
type RequestsReport struct {
	ScansQueued int
	Removed     int
}

// ProcessRequests polls approved add-requests into deep-scan jobs and
// enforces approved removal requests. The worker daemon calls this on a
// timer; the requests command runs it once.
func (r *Runner) ProcessRequests(ctx context.Context) (*RequestsReport, error) {
	report := &RequestsReport{}

	reqs, err := r.cat.Store().ApprovedAddRequests(ctx)
	if err != nil {
		return nil, err
	}
	for _, req := range reqs {
		ok, err := r.enqueueUnique(ctx, KindDeepScan, DeepScanPayload{Owner: req.Owner, Repo: req.Repo})
		if err != nil {
			return report, err
		}
		if ok {
			report.ScansQueued++
			r.logger.Info("jobs.requests.scan_queued",
				"repo", req.Owner+"/"+req.Repo, "request", req.ID)
		}
	}

	removed, err := r.cat.EnforceRemovals(ctx)
	if err != nil {
		return report, err
	}
	report.Removed = removed
	return report, nil
}
