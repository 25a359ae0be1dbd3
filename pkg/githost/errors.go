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

package githost

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound reports a 404 from the host: deleted repo, missing path,
	// or a ref that no longer exists. Callers treat it as an empty result.
	ErrNotFound = errors.New("githost: not found")

	// ErrBeyondResults reports the host's hard cap on search pagination.
	// Pagination loops stop on it without failing the crawl.
	ErrBeyondResults = errors.New("githost: page beyond first 1000 results")

	// ErrNoCredentials reports an empty token pool.
	ErrNoCredentials = errors.New("githost: no credentials configured")
)

// APIError is a non-retryable host response that is not covered by a
// sentinel: validation failures, permission errors, unexpected statuses.
type APIError struct {
	StatusCode int
	Message    string
	URL        string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("githost: %s returned %d: %s", e.URL, e.StatusCode, e.Message)
}

// SecondaryLimitError surfaces an abuse-detection block that persisted
// through the client's internal retry budget.
type SecondaryLimitError struct {
	RetryAfter time.Duration
}

func (e *SecondaryLimitError) Error() string {
	return fmt.Sprintf("githost: secondary rate limit, retry after %s", e.RetryAfter)
}
