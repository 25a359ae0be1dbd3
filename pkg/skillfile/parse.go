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

package skillfile

import (
	"bufio"
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// namePattern is the allowed shape for a skill name: lowercase, digits,
// underscore and hyphen, starting with a letter or digit.
var namePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// resourcePattern finds body references to bundled script and reference files.
var resourcePattern = regexp.MustCompile(`(?:scripts|references)/[\w][\w./-]*`)

// minDescriptionLen is the recommended minimum description length; shorter
// descriptions produce a warning, not an error.
const minDescriptionLen = 20

// Triggers describes when an agent should activate a skill.
type Triggers struct {
	FilePatterns []string `yaml:"filePatterns" json:"file_patterns,omitempty"`
	Keywords     []string `yaml:"keywords" json:"keywords,omitempty"`
	Languages    []string `yaml:"languages" json:"languages,omitempty"`
}

// Metadata is the catalog-facing metadata extracted (or synthesized) from an
// instruction file.
type Metadata struct {
	Name        string
	Description string
	Version     string
	License     string
	Author      string
	Homepage    string
	Platforms   []string
	Triggers    Triggers
}

// RepoContext carries repository facts used to synthesize metadata for
// formats that declare none of their own.
type RepoContext struct {
	Owner       string
	Repo        string
	Description string
	License     string // SPDX id from repo metadata, used when frontmatter has none
}

// Document is the result of parsing one instruction file.
type Document struct {
	Format Format
	Metadata
	Body      string
	Resources []string // scripts/ and references/ paths mentioned in the body
	Warnings  []string
	Errors    []string
}

// Valid reports whether the document passed validation.
func (d *Document) Valid() bool { return len(d.Errors) == 0 }

// frontmatter mirrors the recognized YAML frontmatter fields.
type frontmatter struct {
	Name          string `yaml:"name"`
	Description   string `yaml:"description"`
	Version       string `yaml:"version"`
	License       string `yaml:"license"`
	Author        string `yaml:"author"`
	Homepage      string `yaml:"homepage"`
	Compatibility struct {
		Platforms []string `yaml:"platforms"`
	} `yaml:"compatibility"`
	Triggers Triggers `yaml:"triggers"`
}

// Parse turns raw instruction-file bytes into a Document.
//
// SKILL.md files must carry YAML frontmatter with a valid name and a
// description; all other formats synthesize metadata from whatever
// frontmatter exists, the repository description, or the body itself, and
// fail validation only when the body is empty.
func Parse(f Format, raw []byte, rc RepoContext) *Document {
	spec, ok := ByFormat(f)
	if !ok {
		return &Document{Format: f, Errors: []string{fmt.Sprintf("unknown format %q", f)}}
	}

	doc := &Document{Format: f}
	content := strings.ReplaceAll(string(raw), "\r\n", "\n")

	fm, body, fmErr := splitFrontmatter(content)
	doc.Body = strings.TrimSpace(body)

	if f == FormatSkillMD {
		parseSkillMD(doc, fm, fmErr)
	} else {
		synthesize(doc, spec, fm, rc)
	}

	if doc.License == "" {
		doc.License = rc.License
	}
	doc.Platforms = mergePlatforms(spec.Platform, doc.Platforms)
	doc.Resources = extractResources(doc.Body)
	return doc
}

// parseSkillMD validates the strict SKILL.md contract.
func parseSkillMD(doc *Document, fm *frontmatter, fmErr error) {
	if fmErr != nil {
		doc.Errors = append(doc.Errors, fmt.Sprintf("invalid frontmatter: %v", fmErr))
		return
	}
	if fm == nil {
		doc.Errors = append(doc.Errors, "missing frontmatter")
		return
	}

	applyFrontmatter(doc, fm)

	switch {
	case doc.Name == "":
		doc.Errors = append(doc.Errors, "frontmatter missing required field: name")
	case !namePattern.MatchString(doc.Name):
		doc.Errors = append(doc.Errors, fmt.Sprintf("invalid skill name %q", doc.Name))
	}
	if doc.Description == "" {
		doc.Errors = append(doc.Errors, "frontmatter missing required field: description")
	} else if len(doc.Description) <= minDescriptionLen {
		doc.Warnings = append(doc.Warnings, fmt.Sprintf("description shorter than %d characters", minDescriptionLen))
	}
	if doc.Body == "" {
		doc.Errors = append(doc.Errors, "empty instruction body")
	}
}

// synthesize fills metadata for formats that usually carry none. Preference
// order for the description: frontmatter, repository description, first body
// paragraph of useful length, then a generic label.
func synthesize(doc *Document, spec Spec, fm *frontmatter, rc RepoContext) {
	if fm != nil {
		applyFrontmatter(doc, fm)
	}
	if doc.Name != "" && !namePattern.MatchString(doc.Name) {
		doc.Name = sanitizeName(doc.Name)
	}
	if doc.Name == "" {
		doc.Name = sanitizeName(rc.Repo)
	}
	if doc.Description == "" {
		doc.Description = rc.Description
	}
	if doc.Description == "" {
		doc.Description = firstParagraph(doc.Body)
	}
	if doc.Description == "" {
		doc.Description = fmt.Sprintf("%s from %s/%s", spec.Label, rc.Owner, rc.Repo)
	}
	if doc.Author == "" {
		doc.Author = rc.Owner
	}
	if doc.Body == "" {
		doc.Errors = append(doc.Errors, "empty instruction body")
	}
}

func applyFrontmatter(doc *Document, fm *frontmatter) {
	doc.Name = strings.TrimSpace(fm.Name)
	doc.Description = strings.TrimSpace(fm.Description)
	doc.Version = strings.TrimSpace(fm.Version)
	doc.License = strings.TrimSpace(fm.License)
	doc.Author = strings.TrimSpace(fm.Author)
	doc.Homepage = strings.TrimSpace(fm.Homepage)
	doc.Platforms = fm.Compatibility.Platforms
	doc.Triggers = fm.Triggers
}

// splitFrontmatter separates a leading YAML frontmatter block (between ---
// lines) from the body. Returns (nil, content, nil) when the content has no
// frontmatter, and a non-nil error when a block exists but is invalid YAML.
func splitFrontmatter(content string) (*frontmatter, string, error) {
	trimmed := strings.TrimPrefix(content, "\uFEFF")
	scanner := bufio.NewScanner(strings.NewReader(trimmed))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	if !scanner.Scan() || strings.TrimSpace(scanner.Text()) != "---" {
		return nil, content, nil
	}

	var fmLines []string
	closed := false
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "---" {
			closed = true
			break
		}
		fmLines = append(fmLines, line)
	}
	if !closed {
		// An opening delimiter with no close is a horizontal rule, not
		// frontmatter. Treat everything as body.
		return nil, content, nil
	}

	var body strings.Builder
	for scanner.Scan() {
		body.WriteString(scanner.Text())
		body.WriteByte('\n')
	}

	var fm frontmatter
	if err := yaml.Unmarshal([]byte(strings.Join(fmLines, "\n")), &fm); err != nil {
		return nil, body.String(), err
	}
	return &fm, body.String(), nil
}

// sanitizeName lowers a repository or declared name into the allowed name
// shape: non [a-z0-9_-] runes become hyphens, runs collapse, leading and
// trailing separators are trimmed.
func sanitizeName(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	out := b.String()
	for strings.Contains(out, "--") {
		out = strings.ReplaceAll(out, "--", "-")
	}
	out = strings.Trim(out, "-_")
	if out == "" {
		return "skill"
	}
	return out
}

// firstParagraph returns the first non-heading paragraph of at least
// minDescriptionLen characters, flattened to one line and capped at 200 runes.
func firstParagraph(body string) string {
	for _, para := range strings.Split(body, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" || strings.HasPrefix(para, "#") || strings.HasPrefix(para, "```") {
			continue
		}
		flat := strings.Join(strings.Fields(para), " ")
		if len(flat) < minDescriptionLen {
			continue
		}
		if runes := []rune(flat); len(runes) > 200 {
			return string(runes[:200])
		}
		return flat
	}
	return ""
}

// mergePlatforms places the format's own platform first, then any declared
// platforms, deduplicated case-insensitively.
func mergePlatforms(formatPlatform string, declared []string) []string {
	out := []string{formatPlatform}
	seen := map[string]bool{strings.ToLower(formatPlatform): true}
	for _, p := range declared {
		p = strings.TrimSpace(p)
		if p == "" || seen[strings.ToLower(p)] {
			continue
		}
		seen[strings.ToLower(p)] = true
		out = append(out, p)
	}
	return out
}

// extractResources collects unique scripts/ and references/ mentions in body
// order.
func extractResources(body string) []string {
	matches := resourcePattern.FindAllString(body, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(matches))
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		m = strings.TrimRight(m, ".")
		if seen[m] {
			continue
		}
		seen[m] = true
		out = append(out, m)
	}
	return out
}
