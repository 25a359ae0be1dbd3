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

// Package skillfile knows the recognized agent instruction-file formats and
// how to parse them into catalog metadata.
//
// The format table below is the single source of truth for filenames,
// placement rules, and target platforms. Discovery consults it to match tree
// blobs, the fetcher to build file paths, and the parser to synthesize
// metadata for formats that carry no frontmatter of their own.
package skillfile

import (
	"path"
	"strings"
)

// Format tags a recognized instruction-file format. The tag doubles as the id
// suffix for non-SKILL.md records ("owner/repo/name~cursorrules").
type Format string

const (
	FormatSkillMD             Format = "skill.md"
	FormatAgentsMD            Format = "agents.md"
	FormatCursorRules         Format = "cursorrules"
	FormatWindsurfRules       Format = "windsurfrules"
	FormatCopilotInstructions Format = "copilot-instructions"
)

// Spec describes one recognized instruction-file format.
type Spec struct {
	Format   Format
	Filename string // exact filename, matched case-insensitively
	RootOnly bool   // file must live at the repository root
	PathDir  string // required parent directory ("" = anywhere)
	Platform string // agent platform the format targets
	Label    string // human label for synthesized descriptions
}

// Specs enumerates every recognized format. Order matters: when a filename is
// ambiguous the first match wins.
var Specs = [...]Spec{
	{Format: FormatSkillMD, Filename: "SKILL.md", Platform: "claude", Label: "Claude skill"},
	{Format: FormatAgentsMD, Filename: "AGENTS.md", Platform: "codex", Label: "Agent instructions"},
	{Format: FormatCursorRules, Filename: ".cursorrules", RootOnly: true, Platform: "cursor", Label: "Cursor rules"},
	{Format: FormatWindsurfRules, Filename: ".windsurfrules", RootOnly: true, Platform: "windsurf", Label: "Windsurf rules"},
	{Format: FormatCopilotInstructions, Filename: "copilot-instructions.md", PathDir: ".github", Platform: "copilot", Label: "Copilot instructions"},
}

// ByFormat looks up the Spec for a format tag.
func ByFormat(f Format) (Spec, bool) {
	for _, s := range Specs {
		if s.Format == f {
			return s, true
		}
	}
	return Spec{}, false
}

// MatchPath reports whether a repository-relative blob path names an
// instruction file, honoring root-only and directory placement rules.
func MatchPath(blobPath string) (Spec, bool) {
	blobPath = strings.TrimPrefix(blobPath, "/")
	base := path.Base(blobPath)
	dir := path.Dir(blobPath)
	for _, s := range Specs {
		if !strings.EqualFold(base, s.Filename) {
			continue
		}
		if s.RootOnly && dir != "." {
			continue
		}
		if s.PathDir != "" && path.Base(dir) != s.PathDir {
			continue
		}
		return s, true
	}
	return Spec{}, false
}

// CandidatePath derives the candidate path ("." for root) from a blob path
// that matched this spec. For SKILL.md under skills/web/ the candidate path is
// "skills/web"; for root-only formats it is always ".".
func (s Spec) CandidatePath(blobPath string) string {
	if s.RootOnly {
		return "."
	}
	dir := path.Dir(strings.TrimPrefix(blobPath, "/"))
	if dir == "" || dir == "/" {
		return "."
	}
	return dir
}

// FilePath builds the repository-relative file path for a candidate path.
// The inverse of CandidatePath.
func (s Spec) FilePath(candidatePath string) string {
	switch {
	case s.RootOnly:
		return s.Filename
	case s.PathDir != "":
		return path.Join(s.PathDir, s.Filename)
	case candidatePath == "" || candidatePath == ".":
		return s.Filename
	default:
		return path.Join(candidatePath, s.Filename)
	}
}

// SkillID builds the catalog identity for a parsed skill. The format tag is
// appended for every format except SKILL.md so that the same name hosted in
// several formats yields distinct records.
func SkillID(owner, repo, name string, f Format) string {
	id := owner + "/" + repo + "/" + name
	if f != FormatSkillMD {
		id += "~" + string(f)
	}
	return id
}
