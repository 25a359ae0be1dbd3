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
	"fmt"
	"log/slog"
	"time"

	"github.com/meilisearch/meilisearch-go"
	"github.com/sony/gobreaker"
)

// SearchDoc is the slice of a skill record pushed to the search engine.
// The database stays the source of truth; the index is rebuildable.
type SearchDoc struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Description   string    `json:"description"`
	Owner         string    `json:"owner"`
	Repo          string    `json:"repo"`
	Compatibility []string  `json:"compatibility"`
	Stars         int       `json:"stars"`
	SecurityScore int       `json:"security_score"`
	IndexedAt     time.Time `json:"indexed_at"`
}

// DocumentIndexer is the subset of the search engine index API the
// catalog needs. meilisearch.Index satisfies it.
type DocumentIndexer interface {
	AddDocuments(documentsPtr interface{}, primaryKey ...string) (*meilisearch.TaskInfo, error)
	DeleteDocument(identifier string) (*meilisearch.TaskInfo, error)
	UpdateSettings(request *meilisearch.Settings) (*meilisearch.TaskInfo, error)
}

// SearchIndex mirrors catalog writes into the search engine. All calls go
// through a circuit breaker so a down search host degrades indexing to
// database-only instead of stalling the pipeline.
type SearchIndex struct {
	index   DocumentIndexer
	breaker *gobreaker.CircuitBreaker
	logger  *slog.Logger
}

// NewSearchIndex connects to the search host and targets the skills index.
func NewSearchIndex(host, apiKey string, logger *slog.Logger) *SearchIndex {
	client := meilisearch.NewClient(meilisearch.ClientConfig{
		Host:   host,
		APIKey: apiKey,
	})
	return NewSearchIndexWith(client.Index("skills"), logger)
}

// NewSearchIndexWith wraps an existing index handle.
func NewSearchIndexWith(index DocumentIndexer, logger *slog.Logger) *SearchIndex {
	if logger == nil {
		logger = slog.Default()
	}
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "search-index",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("catalog.search.breaker_state",
				"breaker", name,
				"from", from.String(),
				"to", to.String())
		},
	})
	return &SearchIndex{index: index, breaker: breaker, logger: logger}
}

// EnsureSettings pushes index settings. Call once at startup.
func (si *SearchIndex) EnsureSettings() error {
	_, err := si.breaker.Execute(func() (interface{}, error) {
		return si.index.UpdateSettings(&meilisearch.Settings{
			SearchableAttributes: []string{"name", "description", "owner", "repo"},
			FilterableAttributes: []string{"owner", "compatibility", "security_score"},
			SortableAttributes:   []string{"stars", "indexed_at"},
		})
	})
	if err != nil {
		return fmt.Errorf("updating search settings: %w", err)
	}
	return nil
}

// SyncSkill pushes one skill document.
func (si *SearchIndex) SyncSkill(rec *Skill) error {
	doc := SearchDoc{
		ID:            rec.ID,
		Name:          rec.Name,
		Description:   rec.Description,
		Owner:         rec.Owner,
		Repo:          rec.Repo,
		Compatibility: rec.Platforms,
		Stars:         rec.Stars,
		SecurityScore: rec.SecurityScore,
		IndexedAt:     rec.IndexedAt,
	}
	_, err := si.breaker.Execute(func() (interface{}, error) {
		return si.index.AddDocuments([]SearchDoc{doc}, "id")
	})
	if err != nil {
		return fmt.Errorf("syncing %s to search: %w", rec.ID, err)
	}
	return nil
}

// RemoveSkill drops a document, used when a skill is blocked or removed.
func (si *SearchIndex) RemoveSkill(id string) error {
	_, err := si.breaker.Execute(func() (interface{}, error) {
		return si.index.DeleteDocument(id)
	})
	if err != nil {
		return fmt.Errorf("removing %s from search: %w", id, err)
	}
	return nil
}
