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

// Package quality scores indexed skills on a 0-100 scale from five weighted
// factors: documentation 0.30, maintenance 0.25, popularity 0.20, security
// 0.15, validation 0.10.
package quality

import (
	"math"
	"strings"
	"time"
)

// Weights of the five factors. They sum to 1.
const (
	weightDocumentation = 0.30
	weightMaintenance   = 0.25
	weightPopularity    = 0.20
	weightSecurity      = 0.15
	weightValidation    = 0.10
)

// agentKeywords earn the popularity topic bonus when any repo topic contains
// one of them.
var agentKeywords = []string{"ai", "agent", "llm", "claude", "cursor", "copilot", "skill", "gpt", "assistant"}

// Input bundles everything scoring needs: parsed document facts, repository
// metadata captured at fetch time, and the security scan outcome.
type Input struct {
	Description    string
	BodyLength     int
	HeaderCount    int
	HasFencedCode  bool
	HasVersion     bool
	HasLicense     bool
	PlatformCount  int
	ScriptCount    int
	ReferenceCount int

	RepoPushedAt    time.Time
	RepoHasLicense  bool
	RepoDescription string
	RepoTopics      []string
	Stars           int
	Forks           int

	SecurityScore    int
	Valid            bool
	ValidationErrors int
}

// Details carries the persisted sub-scores.
type Details struct {
	Documentation int `json:"documentation"`
	Maintenance   int `json:"maintenance"`
	Popularity    int `json:"popularity"`
	Security      int `json:"security"`
	Validation    int `json:"validation"`
}

// Result is the overall score plus its breakdown.
type Result struct {
	Overall int
	Details Details
}

// Score computes the weighted quality score. now anchors the maintenance
// recency buckets so results are reproducible in tests.
func Score(in Input, now time.Time) Result {
	d := Details{
		Documentation: clamp(documentationScore(in)),
		Maintenance:   clamp(maintenanceScore(in, now)),
		Popularity:    clamp(popularityScore(in)),
		Security:      clamp(in.SecurityScore),
		Validation:    clamp(validationScore(in)),
	}
	overall := weightDocumentation*float64(d.Documentation) +
		weightMaintenance*float64(d.Maintenance) +
		weightPopularity*float64(d.Popularity) +
		weightSecurity*float64(d.Security) +
		weightValidation*float64(d.Validation)
	return Result{Overall: clamp(int(math.Round(overall))), Details: d}
}

func documentationScore(in Input) int {
	score := 0
	switch {
	case len(in.Description) >= 50:
		score += 15
	case len(in.Description) >= 20:
		score += 8
	}
	switch {
	case in.BodyLength >= 2000:
		score += 20
	case in.BodyLength >= 500:
		score += 12
	case in.BodyLength >= 100:
		score += 6
	}
	switch {
	case in.HeaderCount >= 5:
		score += 15
	case in.HeaderCount >= 2:
		score += 8
	}
	if in.HasFencedCode {
		score += 10
	}
	if in.HasVersion {
		score += 10
	}
	if in.HasLicense {
		score += 10
	}
	if in.PlatformCount > 0 {
		score += 10
	}
	if in.ScriptCount > 0 {
		score += 5
	}
	if in.ReferenceCount > 0 {
		score += 5
	}
	return score
}

func maintenanceScore(in Input, now time.Time) int {
	score := 0
	if !in.RepoPushedAt.IsZero() {
		days := now.Sub(in.RepoPushedAt).Hours() / 24
		switch {
		case days < 30:
			score += 40
		case days < 90:
			score += 30
		case days < 180:
			score += 20
		case days < 365:
			score += 10
		}
	}
	if in.RepoHasLicense {
		score += 15
	}
	if in.RepoDescription != "" {
		score += 15
	}
	if len(in.RepoTopics) > 0 {
		score += 15
	}
	switch {
	case in.Forks >= 10:
		score += 15
	case in.Forks >= 1:
		score += 8
	}
	return score
}

func popularityScore(in Input) int {
	score := 0
	switch {
	case in.Stars >= 1000:
		score += 50
	case in.Stars >= 100:
		score += 40
	case in.Stars >= 50:
		score += 30
	case in.Stars >= 10:
		score += 20
	case in.Stars >= 5:
		score += 10
	case in.Stars >= 1:
		score += 5
	}
	switch {
	case in.Forks >= 100:
		score += 25
	case in.Forks >= 10:
		score += 15
	case in.Forks >= 1:
		score += 8
	}
	if hasAgentTopic(in.RepoTopics) {
		score += 25
	}
	return score
}

func validationScore(in Input) int {
	if in.Valid {
		return 100
	}
	return 100 - 20*in.ValidationErrors
}

func hasAgentTopic(topics []string) bool {
	for _, topic := range topics {
		lower := strings.ToLower(topic)
		for _, kw := range agentKeywords {
			if strings.Contains(lower, kw) {
				return true
			}
		}
	}
	return false
}

func clamp(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// BodyStats derives the documentation inputs that come from the instruction
// body itself.
func BodyStats(body string) (headerCount int, hasFencedCode bool) {
	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") {
			headerCount++
		}
		if strings.HasPrefix(trimmed, "```") {
			hasFencedCode = true
		}
	}
	return headerCount, hasFencedCode
}
