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
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kraklabs/skilldex/internal/metrics"
	"github.com/kraklabs/skilldex/pkg/classify"
	"github.com/kraklabs/skilldex/pkg/taxonomy"
)

// SkillSearch mirrors writes into a search engine.
type SkillSearch interface {
	SyncSkill(rec *Skill) error
	RemoveSkill(id string) error
}

// PageCache invalidates rendered pages after writes.
type PageCache interface {
	InvalidateSkill(ctx context.Context, rec *Skill) error
}

const sideEffectTimeout = 30 * time.Second

// Options are the optional collaborators of a Catalog. Any of them may be
// nil; the catalog then skips that side effect.
type Options struct {
	Search      SkillSearch
	Cache       PageCache
	Notifier    Notifier
	Logger      *slog.Logger
	RepoURLBase string
}

// Catalog wraps a Store with the write-path orchestration: category
// assignment, search sync, cache invalidation, and requester
// notifications. The store write is authoritative; everything else is
// best-effort and runs off the caller's critical path.
type Catalog struct {
	store       Store
	search      SkillSearch
	cache       PageCache
	notifier    Notifier
	logger      *slog.Logger
	repoURLBase string

	wg sync.WaitGroup
}

// New builds a Catalog over store.
func New(store Store, opts Options) *Catalog {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	base := opts.RepoURLBase
	if base == "" {
		base = "https://github.com"
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = &LogNotifier{Logger: logger}
	}
	return &Catalog{
		store:       store,
		search:      opts.Search,
		cache:       opts.Cache,
		notifier:    notifier,
		logger:      logger,
		repoURLBase: base,
	}
}

// Store exposes the underlying store for read paths that need no
// orchestration.
func (c *Catalog) Store() Store { return c.store }

// Upsert writes a skill and, when the write landed, fans out the side
// effects. The returned outcome is the store's verdict.
func (c *Catalog) Upsert(ctx context.Context, rec *Skill, force bool) (UpsertOutcome, error) {
	outcome, err := c.store.UpsertSkill(ctx, rec, force)
	if err != nil {
		return outcome, err
	}
	metrics.CatalogUpserts.WithLabelValues(outcome.String()).Inc()
	if outcome != OutcomeWritten {
		return outcome, nil
	}

	slugs := taxonomy.Categorize(rec.Name, rec.Description, rec.Topics)
	if len(slugs) > 0 {
		if err := c.store.SetSkillCategories(ctx, rec.ID, slugs); err != nil {
			c.logger.Warn("catalog.categories.failed", "skill", rec.ID, "error", err)
		}
	}

	stored, err := c.store.GetSkill(ctx, rec.ID)
	if err != nil {
		// The write committed; side effects just use the input record.
		copied := *rec
		stored = &copied
	}

	if c.search != nil {
		c.async("search", func(ctx context.Context) error {
			return c.search.SyncSkill(stored)
		})
	}
	if c.cache != nil {
		c.async("cache", func(ctx context.Context) error {
			return c.cache.InvalidateSkill(ctx, stored)
		})
	}
	c.async("notifier", func(ctx context.Context) error {
		return c.notifyRequester(ctx, stored)
	})
	return outcome, nil
}

// notifyRequester resolves an approved add request covering this skill's
// repository, if one exists.
func (c *Catalog) notifyRequester(ctx context.Context, rec *Skill) error {
	req, err := c.store.MatchAddRequest(ctx, rec.Owner, rec.Repo)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return fmt.Errorf("matching add request: %w", err)
	}
	note := IndexedNote{
		UserEmail:     req.UserEmail,
		Locale:        req.Locale,
		SkillID:       rec.ID,
		SkillName:     rec.Name,
		RepositoryURL: fmt.Sprintf("%s/%s/%s", c.repoURLBase, rec.Owner, rec.Repo),
	}
	if err := c.notifier.SkillIndexed(ctx, note); err != nil {
		return fmt.Errorf("notifying %s: %w", req.UserEmail, err)
	}
	if err := c.store.ResolveAddRequest(ctx, req.ID); err != nil {
		return fmt.Errorf("resolving add request %d: %w", req.ID, err)
	}
	c.logger.Info("catalog.addrequest.notified",
		"request", req.ID, "skill", rec.ID, "repo", rec.Owner+"/"+rec.Repo)
	return nil
}

// Block tombstones a skill and clears it from the search index and cache.
func (c *Catalog) Block(ctx context.Context, id string) error {
	rec, getErr := c.store.GetSkill(ctx, id)
	if err := c.store.BlockSkill(ctx, id); err != nil {
		return err
	}
	if c.search != nil {
		c.async("search", func(ctx context.Context) error {
			return c.search.RemoveSkill(id)
		})
	}
	if c.cache != nil && getErr == nil {
		c.async("cache", func(ctx context.Context) error {
			return c.cache.InvalidateSkill(ctx, rec)
		})
	}
	return nil
}

// EnforceRemovals blocks every skill with an approved removal request and
// marks the requests enforced. Returns how many were enforced.
func (c *Catalog) EnforceRemovals(ctx context.Context) (int, error) {
	reqs, err := c.store.ApprovedRemovalRequests(ctx)
	if err != nil {
		return 0, err
	}
	enforced := 0
	for _, req := range reqs {
		if err := c.Block(ctx, req.SkillID); err != nil {
			c.logger.Warn("catalog.removal.block_failed",
				"request", req.ID, "skill", req.SkillID, "error", err)
			continue
		}
		if err := c.store.ResolveRemovalRequest(ctx, req.ID); err != nil {
			c.logger.Warn("catalog.removal.resolve_failed",
				"request", req.ID, "error", err)
			continue
		}
		enforced++
	}
	return enforced, nil
}

// ClassifySummary reports what a classification pass changed.
type ClassifySummary struct {
	Records     int
	Duplicates  int
	Aggregators int
	Collections int
}

// Classify snapshots the catalog, recomputes repo context and duplicate
// groups, and writes the results back. Runs after a crawl completes so
// every record in a repo or duplicate group is judged against the same
// snapshot.
func (c *Catalog) Classify(ctx context.Context) (*ClassifySummary, error) {
	records, err := c.store.SnapshotForClassify(ctx)
	if err != nil {
		return nil, fmt.Errorf("snapshotting catalog: %w", err)
	}
	results := classify.Run(records)
	if err := c.store.ApplyClassification(ctx, results); err != nil {
		return nil, fmt.Errorf("applying classification: %w", err)
	}
	summary := &ClassifySummary{Records: len(results)}
	for _, res := range results {
		if res.IsDuplicate {
			summary.Duplicates++
		}
		switch res.Type {
		case classify.TypeAggregator:
			summary.Aggregators++
		case classify.TypeCollection:
			summary.Collections++
		}
	}
	c.logger.Info("catalog.classify.done",
		"records", summary.Records,
		"duplicates", summary.Duplicates,
		"aggregators", summary.Aggregators,
		"collections", summary.Collections)
	return summary, nil
}

// UpdateScores persists fresh security and quality scores and resyncs the
// search document.
func (c *Catalog) UpdateScores(ctx context.Context, rec *Skill) error {
	if err := c.store.UpdateScores(ctx, rec); err != nil {
		return err
	}
	if c.search != nil {
		stored, err := c.store.GetSkill(ctx, rec.ID)
		if err != nil {
			stored = rec
		}
		c.async("search", func(ctx context.Context) error {
			return c.search.SyncSkill(stored)
		})
	}
	return nil
}

// Wait drains in-flight side effects. Call before shutdown.
func (c *Catalog) Wait() { c.wg.Wait() }

// async runs fn detached from the caller's lifetime but bounded, counting
// failures instead of propagating them.
func (c *Catalog) async(target string, fn func(context.Context) error) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), sideEffectTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			metrics.SideEffectFailures.WithLabelValues(target).Inc()
			c.logger.Warn("catalog.sideeffect.failed", "target", target, "error", err)
		}
	}()
}
