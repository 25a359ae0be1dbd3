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

// Package metrics registers the process-wide Prometheus collectors. They are
// exposed by the worker's /metrics listener when METRICS_ADDR is set.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "skilldex"

var (
	// APIRequests counts code-host API calls by endpoint family and HTTP status.
	APIRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "githost",
		Name:      "api_requests_total",
		Help:      "Code host API requests by endpoint and HTTP status.",
	}, []string{"endpoint", "status"})

	// RateLimitSleeps counts scheduler pauses by kind: primary, secondary, pacing.
	RateLimitSleeps = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "githost",
		Name:      "ratelimit_sleeps_total",
		Help:      "Sleeps taken to honor rate limits, by kind.",
	}, []string{"kind"})

	// CandidatesDiscovered counts instruction-file candidates per strategy.
	CandidatesDiscovered = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "discovery",
		Name:      "candidates_total",
		Help:      "Candidates discovered, by strategy.",
	}, []string{"strategy"})

	// ReposDiscovered counts repositories fed to the deep-scan table per strategy.
	ReposDiscovered = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "discovery",
		Name:      "repos_total",
		Help:      "Repositories discovered, by strategy.",
	}, []string{"strategy"})

	// CatalogUpserts counts upsert outcomes: written, unchanged, blocked.
	CatalogUpserts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "catalog",
		Name:      "upserts_total",
		Help:      "Catalog upsert outcomes.",
	}, []string{"outcome"})

	// SideEffectFailures counts best-effort side effect failures by target:
	// search, cache, notifier.
	SideEffectFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "catalog",
		Name:      "side_effect_failures_total",
		Help:      "Best-effort side effect failures by target.",
	}, []string{"target"})

	// JobDuration observes job execution time by kind and terminal status.
	JobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "jobs",
		Name:      "duration_seconds",
		Help:      "Job execution duration by kind and status.",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 14),
	}, []string{"kind", "status"})

	// QueueDepth tracks pending jobs by kind, sampled by the worker loop.
	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "jobs",
		Name:      "queue_depth",
		Help:      "Pending jobs by kind.",
	}, []string{"kind"})
)
