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
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// Cache invalidates rendered-page entries kept in Redis by the web tier.
// The indexer only deletes keys; it never writes page content.
type Cache struct {
	rdb    *redis.Client
	prefix string
	logger *slog.Logger
}

// NewCache connects to Redis from a URL such as redis://host:6379/0.
func NewCache(ctx context.Context, url string, logger *slog.Logger) (*Cache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{rdb: rdb, prefix: "skilldex", logger: logger}, nil
}

// InvalidateSkill drops the skill detail entry, every page listing the
// owner, and the shared list pages (featured, recent, categories) that
// could show stale data after a write.
func (c *Cache) InvalidateSkill(ctx context.Context, rec *Skill) error {
	if err := c.rdb.Del(ctx, fmt.Sprintf("%s:skill:%s", c.prefix, rec.ID)).Err(); err != nil {
		return fmt.Errorf("deleting skill key: %w", err)
	}
	patterns := []string{
		fmt.Sprintf("%s:owner:%s:*", c.prefix, rec.Owner),
		fmt.Sprintf("%s:list:*", c.prefix),
	}
	for _, pattern := range patterns {
		if err := c.deleteMatching(ctx, pattern); err != nil {
			return err
		}
	}
	return nil
}

func (c *Cache) deleteMatching(ctx context.Context, pattern string) error {
	iter := c.rdb.Scan(ctx, 0, pattern, 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
		if len(keys) >= 500 {
			if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("deleting %s batch: %w", pattern, err)
			}
			keys = keys[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scanning %s: %w", pattern, err)
	}
	if len(keys) > 0 {
		if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
			return fmt.Errorf("deleting %s batch: %w", pattern, err)
		}
	}
	return nil
}

func (c *Cache) Close() error { return c.rdb.Close() }
