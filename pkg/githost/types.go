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
	"encoding/base64"
	"fmt"
	"strings"
	"time"
)

// Repo is the subset of repository metadata the indexer consumes,
// flattened from the host's nested wire shape.
type Repo struct {
	Owner         string
	Name          string
	FullName      string
	Description   string
	DefaultBranch string
	Stars         int
	Forks         int
	Topics        []string
	License       string
	Archived      bool
	Fork          bool
	PushedAt      time.Time
	CreatedAt     time.Time
	HTMLURL       string
}

type repoWire struct {
	Name  string `json:"name"`
	Owner struct {
		Login string `json:"login"`
	} `json:"owner"`
	FullName      string   `json:"full_name"`
	Description   string   `json:"description"`
	DefaultBranch string   `json:"default_branch"`
	Stars         int      `json:"stargazers_count"`
	Forks         int      `json:"forks_count"`
	Topics        []string `json:"topics"`
	License       *struct {
		SPDXID string `json:"spdx_id"`
	} `json:"license"`
	Archived  bool      `json:"archived"`
	Fork      bool      `json:"fork"`
	PushedAt  time.Time `json:"pushed_at"`
	CreatedAt time.Time `json:"created_at"`
	HTMLURL   string    `json:"html_url"`
}

func (w *repoWire) toRepo() Repo {
	r := Repo{
		Owner:         w.Owner.Login,
		Name:          w.Name,
		FullName:      w.FullName,
		Description:   w.Description,
		DefaultBranch: w.DefaultBranch,
		Stars:         w.Stars,
		Forks:         w.Forks,
		Topics:        w.Topics,
		Archived:      w.Archived,
		Fork:          w.Fork,
		PushedAt:      w.PushedAt,
		CreatedAt:     w.CreatedAt,
		HTMLURL:       w.HTMLURL,
	}
	if w.License != nil && w.License.SPDXID != "NOASSERTION" {
		r.License = w.License.SPDXID
	}
	if r.FullName == "" && r.Owner != "" {
		r.FullName = r.Owner + "/" + r.Name
	}
	return r
}

// Branch is one ref from the branches listing.
type Branch struct {
	Name string `json:"name"`
	SHA  string
}

type branchWire struct {
	Name   string `json:"name"`
	Commit struct {
		SHA string `json:"sha"`
	} `json:"commit"`
}

// Tree is a git tree listing, optionally recursive. Truncated is set by the
// host when the listing exceeded its entry cap and callers must fall back
// to per-directory walks.
type Tree struct {
	SHA       string      `json:"sha"`
	Truncated bool        `json:"truncated"`
	Entries   []TreeEntry `json:"tree"`
}

// TreeEntry is one path in a tree. Type is "blob" or "tree".
type TreeEntry struct {
	Path string `json:"path"`
	Mode string `json:"mode"`
	Type string `json:"type"`
	Size int64  `json:"size"`
	SHA  string `json:"sha"`
}

// ContentFile is a single file fetched through the contents endpoint.
type ContentFile struct {
	Name     string `json:"name"`
	Path     string `json:"path"`
	SHA      string `json:"sha"`
	Size     int64  `json:"size"`
	Type     string `json:"type"`
	Encoding string `json:"encoding"`
	Content  string `json:"content"`
}

// Decode returns the file body. The host base64-encodes content and
// inserts line breaks every 60 characters.
func (f *ContentFile) Decode() ([]byte, error) {
	if f.Encoding != "base64" {
		return []byte(f.Content), nil
	}
	clean := strings.ReplaceAll(f.Content, "\n", "")
	raw, err := base64.StdEncoding.DecodeString(clean)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", f.Path, err)
	}
	return raw, nil
}

// DirEntry is one entry from a directory listing via the contents endpoint.
type DirEntry struct {
	Name string `json:"name"`
	Path string `json:"path"`
	Type string `json:"type"`
	Size int64  `json:"size"`
}

// CodeHit is one code-search result: a blob path plus its repository.
type CodeHit struct {
	Name string `json:"name"`
	Path string `json:"path"`
	Repo Repo
}

type codeHitWire struct {
	Name       string   `json:"name"`
	Path       string   `json:"path"`
	Repository repoWire `json:"repository"`
}

// CodeSearchResult is one page of code-search hits.
type CodeSearchResult struct {
	TotalCount        int
	IncompleteResults bool
	Items             []CodeHit
}

// RepoSearchResult is one page of repository-search hits.
type RepoSearchResult struct {
	TotalCount        int
	IncompleteResults bool
	Items             []Repo
}

// CommitSearchResult is one page of commit-search hits reduced to the
// repositories the commits touched.
type CommitSearchResult struct {
	TotalCount        int
	IncompleteResults bool
	Repos             []Repo
}

// RateLimit is the primary quota snapshot for one credential.
type RateLimit struct {
	Limit     int
	Remaining int
	Reset     time.Time
}
