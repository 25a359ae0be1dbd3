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

// Package ingest turns discovery candidates into catalog records: fetch
// the instruction file and its bundled resources, parse, scan, score,
// then upsert.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/kraklabs/skilldex/pkg/catalog"
	"github.com/kraklabs/skilldex/pkg/discovery"
	"github.com/kraklabs/skilldex/pkg/githost"
	"github.com/kraklabs/skilldex/pkg/skillfile"
)

// FetchHost is the slice of the code-host client the fetcher needs.
type FetchHost interface {
	GetRepo(ctx context.Context, owner, repo string) (*githost.Repo, error)
	GetContents(ctx context.Context, owner, repo, filePath, ref string) (*githost.ContentFile, error)
	ListDirectory(ctx context.Context, owner, repo, dirPath, ref string) ([]githost.DirEntry, error)
}

const (
	// maxSiblingBytes caps each cached scripts/ or references/ file.
	maxSiblingBytes = 100 * 1024
	// maxSiblingFiles caps how many files are cached per directory so a
	// padded skill cannot burn the fetch budget.
	maxSiblingFiles = 20
)

var scriptExts = map[string]bool{
	".sh": true, ".bash": true, ".py": true, ".js": true,
	".ts": true, ".rb": true, ".ps1": true,
}

var referenceExts = map[string]bool{
	".md": true, ".txt": true, ".json": true, ".yaml": true,
	".yml": true, ".xml": true, ".html": true, ".css": true,
}

// Skip marks a candidate that cannot be fetched and should be dropped
// quietly: the repository vanished, was archived, or no longer has the
// file. It is not a pipeline failure.
type Skip struct {
	Reason string
}

func (s *Skip) Error() string { return "skipped: " + s.Reason }

// Fetched is a candidate with its content pulled from the host, ready
// for parsing.
type Fetched struct {
	Candidate discovery.Candidate
	Meta      githost.Repo
	Branch    string
	FilePath  string
	Raw       []byte
	Cached    []catalog.CachedFile
}

// Fetcher pulls candidate content from the code host.
type Fetcher struct {
	host   FetchHost
	logger *slog.Logger
}

// NewFetcher builds a Fetcher.
func NewFetcher(host FetchHost, logger *slog.Logger) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{host: host, logger: logger}
}

// Fetch resolves the candidate's branch, downloads the instruction file,
// and, for SKILL.md candidates, caches the bundled scripts/ and
// references/ directories best effort.
func (f *Fetcher) Fetch(ctx context.Context, cand discovery.Candidate) (*Fetched, error) {
	meta := cand.Meta
	if meta == nil {
		r, err := f.host.GetRepo(ctx, cand.Owner, cand.Repo)
		if err != nil {
			if errors.Is(err, githost.ErrNotFound) {
				return nil, &Skip{Reason: "repository gone"}
			}
			return nil, fmt.Errorf("fetching repo metadata: %w", err)
		}
		meta = r
	}
	if meta.Archived {
		return nil, &Skip{Reason: "repository archived"}
	}

	branch := cand.Branch
	if branch == "" {
		branch = meta.DefaultBranch
	}

	spec, ok := skillfile.ByFormat(cand.Format)
	if !ok {
		return nil, fmt.Errorf("unknown format %q", cand.Format)
	}
	filePath := spec.FilePath(cand.Path)

	file, err := f.host.GetContents(ctx, cand.Owner, cand.Repo, filePath, branch)
	if err != nil {
		if errors.Is(err, githost.ErrNotFound) {
			return nil, &Skip{Reason: "instruction file gone"}
		}
		return nil, fmt.Errorf("fetching %s: %w", filePath, err)
	}
	raw, err := file.Decode()
	if err != nil {
		return nil, err
	}

	fetched := &Fetched{
		Candidate: cand,
		Meta:      *meta,
		Branch:    branch,
		FilePath:  filePath,
		Raw:       raw,
	}
	if cand.Format == skillfile.FormatSkillMD {
		fetched.Cached = f.fetchSiblings(ctx, cand, branch)
	}
	return fetched, nil
}

// fetchSiblings caches the scripts/ and references/ directories next to a
// SKILL.md. Every failure here is logged and swallowed: a skill without
// its extras is still worth indexing.
func (f *Fetcher) fetchSiblings(ctx context.Context, cand discovery.Candidate, branch string) []catalog.CachedFile {
	var cached []catalog.CachedFile
	for _, group := range []struct {
		dir  string
		kind string
		exts map[string]bool
	}{
		{dir: "scripts", kind: "script", exts: scriptExts},
		{dir: "references", kind: "reference", exts: referenceExts},
	} {
		dirPath := path.Join(cand.Path, group.dir)
		entries, err := f.host.ListDirectory(ctx, cand.Owner, cand.Repo, dirPath, branch)
		if err != nil {
			if !errors.Is(err, githost.ErrNotFound) {
				f.logger.Warn("ingest.siblings.list_failed",
					"repo", cand.Owner+"/"+cand.Repo, "dir", dirPath, "error", err)
			}
			continue
		}
		taken := 0
		for _, entry := range entries {
			if entry.Type != "file" || taken >= maxSiblingFiles {
				continue
			}
			ext := strings.ToLower(path.Ext(entry.Name))
			if !group.exts[ext] {
				continue
			}
			if entry.Size > maxSiblingBytes {
				f.logger.Debug("ingest.siblings.too_large",
					"path", entry.Path, "size", entry.Size)
				continue
			}
			file, err := f.host.GetContents(ctx, cand.Owner, cand.Repo, entry.Path, branch)
			if err != nil {
				f.logger.Warn("ingest.siblings.fetch_failed",
					"path", entry.Path, "error", err)
				continue
			}
			raw, err := file.Decode()
			if err != nil {
				f.logger.Warn("ingest.siblings.decode_failed",
					"path", entry.Path, "error", err)
				continue
			}
			if len(raw) > maxSiblingBytes {
				continue
			}
			cached = append(cached, catalog.CachedFile{
				Path:    entry.Path,
				Kind:    group.kind,
				Size:    len(raw),
				Content: string(raw),
			})
			taken++
		}
	}
	return cached
}
