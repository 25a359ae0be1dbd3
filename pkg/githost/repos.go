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
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// GetRepo fetches repository metadata. Deleted and hidden repositories
// return ErrNotFound.
func (c *Client) GetRepo(ctx context.Context, owner, repo string) (*Repo, error) {
	var wire repoWire
	path := fmt.Sprintf("/repos/%s/%s", url.PathEscape(owner), url.PathEscape(repo))
	if err := c.getJSON(ctx, "repos", path, nil, c.cfg.Timeout, &wire); err != nil {
		return nil, err
	}
	r := wire.toRepo()
	return &r, nil
}

// ListBranches returns one page of branch refs.
func (c *Client) ListBranches(ctx context.Context, owner, repo string, page, perPage int) ([]Branch, error) {
	q := url.Values{}
	q.Set("per_page", strconv.Itoa(perPage))
	q.Set("page", strconv.Itoa(page))
	var wires []branchWire
	path := fmt.Sprintf("/repos/%s/%s/branches", url.PathEscape(owner), url.PathEscape(repo))
	if err := c.getJSON(ctx, "branches", path, q, c.cfg.Timeout, &wires); err != nil {
		return nil, err
	}
	branches := make([]Branch, len(wires))
	for i, w := range wires {
		branches[i] = Branch{Name: w.Name, SHA: w.Commit.SHA}
	}
	return branches, nil
}

// GetTree lists a git tree at ref. With recursive set the host returns the
// whole tree in one call but may mark it truncated past its entry cap;
// callers handle that with targeted ListDirectory walks.
func (c *Client) GetTree(ctx context.Context, owner, repo, ref string, recursive bool) (*Tree, error) {
	q := url.Values{}
	if recursive {
		q.Set("recursive", "1")
	}
	var tree Tree
	path := fmt.Sprintf("/repos/%s/%s/git/trees/%s",
		url.PathEscape(owner), url.PathEscape(repo), url.PathEscape(ref))
	if err := c.getJSON(ctx, "git_trees", path, q, c.cfg.TreeTimeout, &tree); err != nil {
		return nil, err
	}
	return &tree, nil
}

// GetContents fetches one file at path on ref and leaves decoding to the
// caller. Directories at path return an APIError; use ListDirectory.
func (c *Client) GetContents(ctx context.Context, owner, repo, filePath, ref string) (*ContentFile, error) {
	q := url.Values{}
	if ref != "" {
		q.Set("ref", ref)
	}
	path := fmt.Sprintf("/repos/%s/%s/contents/%s",
		url.PathEscape(owner), url.PathEscape(repo), escapePath(filePath))

	// The contents endpoint returns an object for files and an array for
	// directories. Decode raw first so the mismatch is reported cleanly.
	var raw json.RawMessage
	if err := c.getJSON(ctx, "contents", path, q, c.cfg.Timeout, &raw); err != nil {
		return nil, err
	}
	if len(raw) > 0 && raw[0] == '[' {
		return nil, &APIError{StatusCode: 200, Message: "path is a directory", URL: path}
	}
	var file ContentFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("githost: decoding contents response: %w", err)
	}
	return &file, nil
}

// ListDirectory lists the entries directly under dirPath on ref. A file at
// dirPath returns a single-element listing.
func (c *Client) ListDirectory(ctx context.Context, owner, repo, dirPath, ref string) ([]DirEntry, error) {
	q := url.Values{}
	if ref != "" {
		q.Set("ref", ref)
	}
	path := fmt.Sprintf("/repos/%s/%s/contents/%s",
		url.PathEscape(owner), url.PathEscape(repo), escapePath(dirPath))

	var raw json.RawMessage
	if err := c.getJSON(ctx, "contents", path, q, c.cfg.Timeout, &raw); err != nil {
		return nil, err
	}
	if len(raw) > 0 && raw[0] == '[' {
		var entries []DirEntry
		if err := json.Unmarshal(raw, &entries); err != nil {
			return nil, fmt.Errorf("githost: decoding directory listing: %w", err)
		}
		return entries, nil
	}
	var single DirEntry
	if err := json.Unmarshal(raw, &single); err != nil {
		return nil, fmt.Errorf("githost: decoding directory listing: %w", err)
	}
	return []DirEntry{single}, nil
}

// escapePath escapes each path segment while keeping the separators.
func escapePath(p string) string {
	segs := strings.Split(p, "/")
	for i, seg := range segs {
		segs[i] = url.PathEscape(seg)
	}
	return strings.Join(segs, "/")
}
