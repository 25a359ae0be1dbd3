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

// Package taxonomy maps skills onto a static category table by keyword.
// There is no learned model behind this; browse pages only need stable,
// explainable buckets.
package taxonomy

import "strings"

// Category is one browse bucket. Keywords are matched as substrings of
// the lowercased skill name, description, and repo topics.
type Category struct {
	Slug     string
	Label    string
	Keywords []string
}

// Categories is the static table, in display order. Slugs are stable and
// persisted in the join table; labels may change.
var Categories = []Category{
	{Slug: "coding", Label: "Coding & Refactoring", Keywords: []string{
		"code", "coding", "program", "refactor", "develop", "typescript", "python", "golang", "rust", "java",
	}},
	{Slug: "documentation", Label: "Documentation", Keywords: []string{
		"document", "docs", "readme", "changelog", "comment",
	}},
	{Slug: "testing", Label: "Testing & QA", Keywords: []string{
		"test", "testing", "qa", "coverage", "lint",
	}},
	{Slug: "devops", Label: "DevOps & Infrastructure", Keywords: []string{
		"devops", "deploy", "docker", "kubernetes", "terraform", "ci/cd", "cicd", "pipeline", "infra",
	}},
	{Slug: "data", Label: "Data & Analytics", Keywords: []string{
		"data", "sql", "analytics", "etl", "pandas", "spreadsheet", "csv",
	}},
	{Slug: "web", Label: "Web Development", Keywords: []string{
		"web", "frontend", "react", "next.js", "nextjs", "vue", "css", "html", "tailwind",
	}},
	{Slug: "security", Label: "Security", Keywords: []string{
		"security", "vulnerab", "audit", "pentest", "crypto",
	}},
	{Slug: "writing", Label: "Writing & Content", Keywords: []string{
		"writing", "blog", "copywrit", "translat", "summar", "content",
	}},
	{Slug: "productivity", Label: "Productivity & Workflow", Keywords: []string{
		"workflow", "productiv", "automat", "task", "todo", "organiz",
	}},
	{Slug: "design", Label: "Design & UX", Keywords: []string{
		"design", "figma", "user interface", "user experience", "accessib",
	}},
}

// Categorize returns the slugs of every category whose keywords appear in
// the skill's name, description, or repo topics, in table order. A skill
// matching nothing gets no categories.
func Categorize(name, description string, topics []string) []string {
	var sb strings.Builder
	sb.WriteString(strings.ToLower(name))
	sb.WriteByte(' ')
	sb.WriteString(strings.ToLower(description))
	for _, t := range topics {
		sb.WriteByte(' ')
		sb.WriteString(strings.ToLower(t))
	}
	haystack := sb.String()

	var slugs []string
	for _, cat := range Categories {
		for _, kw := range cat.Keywords {
			if strings.Contains(haystack, kw) {
				slugs = append(slugs, cat.Slug)
				break
			}
		}
	}
	return slugs
}

// BySlug looks a category up by its slug.
func BySlug(slug string) (Category, bool) {
	for _, cat := range Categories {
		if cat.Slug == slug {
			return cat, true
		}
	}
	return Category{}, false
}
