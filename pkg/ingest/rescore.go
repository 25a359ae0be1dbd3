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

package ingest

import (
	"time"

	"github.com/kraklabs/skilldex/pkg/catalog"
	"github.com/kraklabs/skilldex/pkg/quality"
	"github.com/kraklabs/skilldex/pkg/security"
	"github.com/kraklabs/skilldex/pkg/skillfile"
)

// Rescore recomputes the security and quality fields of a stored record
// from its persisted content and repo metadata, with no host calls. The
// maintenance factor decays as now moves past the stored push time.
func Rescore(rec *catalog.Skill, now time.Time) {
	doc := skillfile.Parse(rec.SourceFormat, []byte(rec.RawContent), skillfile.RepoContext{
		Owner:       rec.Owner,
		Repo:        rec.Repo,
		Description: rec.Description,
		License:     rec.License,
	})
	report := security.Scan(doc.Body, scriptFiles(rec.CachedFiles))
	headers, fenced := quality.BodyStats(doc.Body)

	scripts, references := 0, 0
	for _, cf := range rec.CachedFiles {
		switch cf.Kind {
		case "script":
			scripts++
		case "reference":
			references++
		}
	}

	q := quality.Score(quality.Input{
		Description:    rec.Description,
		BodyLength:     len(doc.Body),
		HeaderCount:    headers,
		HasFencedCode:  fenced,
		HasVersion:     rec.Version != "",
		HasLicense:     rec.License != "",
		PlatformCount:  len(rec.Platforms),
		ScriptCount:    scripts,
		ReferenceCount: references,

		RepoPushedAt:    rec.PushedAt,
		RepoHasLicense:  rec.License != "",
		RepoDescription: rec.Description,
		RepoTopics:      rec.Topics,
		Stars:           rec.Stars,
		Forks:           rec.Forks,

		SecurityScore:    report.Score,
		Valid:            doc.Valid(),
		ValidationErrors: len(doc.Errors),
	}, now)

	rec.SecurityScore = report.Score
	rec.SecurityStatus = report.Status
	rec.SecurityIssues = report.Issues
	rec.QualityScore = q.Overall
	rec.QualityDetails = q.Details
}
