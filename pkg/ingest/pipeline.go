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

package ingest

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kraklabs/skilldex/pkg/catalog"
	"github.com/kraklabs/skilldex/pkg/classify"
	"github.com/kraklabs/skilldex/pkg/discovery"
	"github.com/kraklabs/skilldex/pkg/quality"
	"github.com/kraklabs/skilldex/pkg/security"
	"github.com/kraklabs/skilldex/pkg/skillfile"
)

// ProgressFunc is called after each candidate finishes, with the number
// done so far and the total.
type ProgressFunc func(done, total int64)

// Config tunes the pipeline.
type Config struct {
	// Workers is the number of concurrent candidate processors.
	Workers int
	// Force rewrites records even when the content hash is unchanged.
	Force bool
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{Workers: 5}
}

// Result summarizes one pipeline run.
type Result struct {
	// Candidates is how many candidates entered the pipeline.
	Candidates int
	// Indexed counts records written or updated.
	Indexed int
	// Unchanged counts records whose content hash already matched.
	Unchanged int
	// Blocked counts writes refused because the record is blocked.
	Blocked int
	// Invalid counts candidates whose instruction file failed validation.
	Invalid int
	// Skipped counts candidates gone from the host (repo deleted,
	// archived, or file removed).
	Skipped int
	// Failed counts candidates that errored and may deserve a retry.
	Failed int
	// Duration is the wall time of the run.
	Duration time.Duration
}

// Pipeline processes discovery candidates into the catalog.
type Pipeline struct {
	fetcher    *Fetcher
	catalog    *catalog.Catalog
	cfg        Config
	logger     *slog.Logger
	onProgress ProgressFunc
	now        func() time.Time
}

// NewPipeline builds a Pipeline. A zero Config gets defaults.
func NewPipeline(fetcher *Fetcher, cat *catalog.Catalog, cfg Config, logger *slog.Logger) *Pipeline {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultConfig().Workers
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		fetcher: fetcher,
		catalog: cat,
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
	}
}

// SetProgressFunc installs an optional progress callback.
func (p *Pipeline) SetProgressFunc(fn ProgressFunc) { p.onProgress = fn }

// Run processes every candidate through a worker pool and returns the
// tally. Individual failures never abort the run; only context
// cancellation does.
func (p *Pipeline) Run(ctx context.Context, candidates []discovery.Candidate) (*Result, error) {
	start := p.now()
	total := int64(len(candidates))
	p.logger.Info("ingest.pipeline.start",
		"candidates", len(candidates), "workers", p.cfg.Workers, "force", p.cfg.Force)

	var indexed, unchanged, blocked, invalid, skipped, failed, done int64

	jobs := make(chan discovery.Candidate, len(candidates))
	var wg sync.WaitGroup
	for w := 0; w < p.cfg.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for cand := range jobs {
				select {
				case <-ctx.Done():
					return
				default:
				}
				switch p.process(ctx, cand) {
				case outcomeIndexed:
					atomic.AddInt64(&indexed, 1)
				case outcomeUnchanged:
					atomic.AddInt64(&unchanged, 1)
				case outcomeBlocked:
					atomic.AddInt64(&blocked, 1)
				case outcomeInvalid:
					atomic.AddInt64(&invalid, 1)
				case outcomeSkipped:
					atomic.AddInt64(&skipped, 1)
				case outcomeFailed:
					atomic.AddInt64(&failed, 1)
				}
				if p.onProgress != nil {
					p.onProgress(atomic.AddInt64(&done, 1), total)
				}
			}
		}()
	}
	for _, cand := range candidates {
		jobs <- cand
	}
	close(jobs)
	wg.Wait()

	result := &Result{
		Candidates: len(candidates),
		Indexed:    int(atomic.LoadInt64(&indexed)),
		Unchanged:  int(atomic.LoadInt64(&unchanged)),
		Blocked:    int(atomic.LoadInt64(&blocked)),
		Invalid:    int(atomic.LoadInt64(&invalid)),
		Skipped:    int(atomic.LoadInt64(&skipped)),
		Failed:     int(atomic.LoadInt64(&failed)),
		Duration:   p.now().Sub(start),
	}
	p.logger.Info("ingest.pipeline.done",
		"candidates", result.Candidates,
		"indexed", result.Indexed,
		"unchanged", result.Unchanged,
		"blocked", result.Blocked,
		"invalid", result.Invalid,
		"skipped", result.Skipped,
		"failed", result.Failed,
		"duration_ms", result.Duration.Milliseconds(),
	)
	return result, ctx.Err()
}

type outcome int

const (
	outcomeIndexed outcome = iota
	outcomeUnchanged
	outcomeBlocked
	outcomeInvalid
	outcomeSkipped
	outcomeFailed
)

// process runs one candidate end to end: fetch, parse, scan, score,
// upsert.
func (p *Pipeline) process(ctx context.Context, cand discovery.Candidate) outcome {
	repoName := cand.Owner + "/" + cand.Repo

	fetched, err := p.fetcher.Fetch(ctx, cand)
	if err != nil {
		var skip *Skip
		if errors.As(err, &skip) {
			p.logger.Debug("ingest.candidate.skipped",
				"repo", repoName, "path", cand.Path, "reason", skip.Reason)
			return outcomeSkipped
		}
		p.logger.Warn("ingest.candidate.failed",
			"repo", repoName, "path", cand.Path, "error", err)
		return outcomeFailed
	}

	doc := skillfile.Parse(cand.Format, fetched.Raw, skillfile.RepoContext{
		Owner:       fetched.Meta.Owner,
		Repo:        fetched.Meta.Name,
		Description: fetched.Meta.Description,
		License:     fetched.Meta.License,
	})
	if !doc.Valid() {
		p.logger.Warn("ingest.candidate.invalid",
			"repo", repoName, "path", fetched.FilePath, "errors", doc.Errors)
		return outcomeInvalid
	}

	report := security.Scan(doc.Body, scriptFiles(fetched.Cached))
	rec := p.buildRecord(fetched, doc, report)

	result, err := p.catalog.Upsert(ctx, rec, p.cfg.Force)
	if err != nil {
		p.logger.Warn("ingest.candidate.upsert_failed",
			"skill", rec.ID, "error", err)
		return outcomeFailed
	}
	switch result {
	case catalog.OutcomeWritten:
		p.logger.Info("ingest.candidate.indexed",
			"skill", rec.ID,
			"format", string(cand.Format),
			"security", string(rec.SecurityStatus),
			"quality", rec.QualityScore)
		return outcomeIndexed
	case catalog.OutcomeBlocked:
		return outcomeBlocked
	default:
		return outcomeUnchanged
	}
}

// buildRecord assembles the catalog record from the fetched content, the
// parsed document, and the security report.
func (p *Pipeline) buildRecord(fetched *Fetched, doc *skillfile.Document, report *security.Report) *catalog.Skill {
	meta := fetched.Meta
	raw := string(fetched.Raw)
	headers, fenced := quality.BodyStats(doc.Body)

	scripts, references := 0, 0
	for _, cf := range fetched.Cached {
		switch cf.Kind {
		case "script":
			scripts++
		case "reference":
			references++
		}
	}

	q := quality.Score(quality.Input{
		Description:    doc.Description,
		BodyLength:     len(doc.Body),
		HeaderCount:    headers,
		HasFencedCode:  fenced,
		HasVersion:     doc.Version != "",
		HasLicense:     doc.License != "",
		PlatformCount:  len(doc.Platforms),
		ScriptCount:    scripts,
		ReferenceCount: references,

		RepoPushedAt:    meta.PushedAt,
		RepoHasLicense:  meta.License != "",
		RepoDescription: meta.Description,
		RepoTopics:      meta.Topics,
		Stars:           meta.Stars,
		Forks:           meta.Forks,

		SecurityScore:    report.Score,
		Valid:            true,
		ValidationErrors: 0,
	}, p.now())

	return &catalog.Skill{
		ID:           skillfile.SkillID(meta.Owner, meta.Name, doc.Name, fetched.Candidate.Format),
		Name:         doc.Name,
		Description:  doc.Description,
		Owner:        meta.Owner,
		Repo:         meta.Name,
		SkillPath:    fetched.FilePath,
		Branch:       fetched.Branch,
		SourceFormat: fetched.Candidate.Format,
		Version:      doc.Version,
		License:      doc.License,
		Author:       doc.Author,
		Homepage:     doc.Homepage,
		Platforms:    doc.Platforms,
		Triggers:     doc.Triggers,

		Stars:    meta.Stars,
		Forks:    meta.Forks,
		Topics:   meta.Topics,
		PushedAt: meta.PushedAt,

		SecurityScore:  report.Score,
		SecurityStatus: report.Status,
		SecurityIssues: report.Issues,
		QualityScore:   q.Overall,
		QualityDetails: q.Details,

		ContentHash: classify.Hash(raw),
		RawContent:  raw,
		CachedFiles: fetched.Cached,
		SkillType:   classify.TypeStandalone,
	}
}

// scriptFiles converts cached script files for the security scanner.
func scriptFiles(cached []catalog.CachedFile) []security.ScriptFile {
	var out []security.ScriptFile
	for _, cf := range cached {
		if cf.Kind != "script" {
			continue
		}
		out = append(out, security.ScriptFile{Path: cf.Path, Content: cf.Content})
	}
	return out
}
