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
	"context"
	"net/url"
	"strconv"
)

// SearchCode runs one page of a code search. Calls are paced to the
// configured interval process-wide; a page past the host's result cap
// returns ErrBeyondResults.
func (c *Client) SearchCode(ctx context.Context, query string, page, perPage int) (*CodeSearchResult, error) {
	if err := c.paceCodeSearch(ctx); err != nil {
		return nil, err
	}
	q := url.Values{}
	q.Set("q", query)
	q.Set("per_page", strconv.Itoa(perPage))
	q.Set("page", strconv.Itoa(page))

	var wire struct {
		TotalCount        int           `json:"total_count"`
		IncompleteResults bool          `json:"incomplete_results"`
		Items             []codeHitWire `json:"items"`
	}
	if err := c.getJSON(ctx, "search_code", "/search/code", q, c.cfg.Timeout, &wire); err != nil {
		return nil, err
	}
	res := &CodeSearchResult{
		TotalCount:        wire.TotalCount,
		IncompleteResults: wire.IncompleteResults,
		Items:             make([]CodeHit, len(wire.Items)),
	}
	for i, item := range wire.Items {
		res.Items[i] = CodeHit{
			Name: item.Name,
			Path: item.Path,
			Repo: item.Repository.toRepo(),
		}
	}
	return res, nil
}

// SearchRepos runs one page of a repository search. sort and order are
// passed through when non-empty.
func (c *Client) SearchRepos(ctx context.Context, query, sort, order string, page, perPage int) (*RepoSearchResult, error) {
	q := url.Values{}
	q.Set("q", query)
	if sort != "" {
		q.Set("sort", sort)
	}
	if order != "" {
		q.Set("order", order)
	}
	q.Set("per_page", strconv.Itoa(perPage))
	q.Set("page", strconv.Itoa(page))

	var wire struct {
		TotalCount        int        `json:"total_count"`
		IncompleteResults bool       `json:"incomplete_results"`
		Items             []repoWire `json:"items"`
	}
	if err := c.getJSON(ctx, "search_repos", "/search/repositories", q, c.cfg.Timeout, &wire); err != nil {
		return nil, err
	}
	res := &RepoSearchResult{
		TotalCount:        wire.TotalCount,
		IncompleteResults: wire.IncompleteResults,
		Items:             make([]Repo, len(wire.Items)),
	}
	for i, item := range wire.Items {
		res.Items[i] = item.toRepo()
	}
	return res, nil
}

// SearchCommits runs one page of a commit search and reduces the hits to
// the repositories the commits touched, deduplicated within the page.
func (c *Client) SearchCommits(ctx context.Context, query string, page, perPage int) (*CommitSearchResult, error) {
	q := url.Values{}
	q.Set("q", query)
	q.Set("sort", "committer-date")
	q.Set("order", "desc")
	q.Set("per_page", strconv.Itoa(perPage))
	q.Set("page", strconv.Itoa(page))

	var wire struct {
		TotalCount        int  `json:"total_count"`
		IncompleteResults bool `json:"incomplete_results"`
		Items             []struct {
			Repository repoWire `json:"repository"`
		} `json:"items"`
	}
	if err := c.getJSON(ctx, "search_commits", "/search/commits", q, c.cfg.Timeout, &wire); err != nil {
		return nil, err
	}
	res := &CommitSearchResult{
		TotalCount:        wire.TotalCount,
		IncompleteResults: wire.IncompleteResults,
	}
	seen := make(map[string]bool, len(wire.Items))
	for _, item := range wire.Items {
		r := item.Repository.toRepo()
		if seen[r.FullName] {
			continue
		}
		seen[r.FullName] = true
		res.Repos = append(res.Repos, r)
	}
	return res, nil
}
