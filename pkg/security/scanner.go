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

// Package security performs a pattern-based static scan of instruction files
// and their bundled scripts. Nothing is ever executed; the scan looks for
// prompt-injection phrasing, exfiltration instructions, hardcoded
// credentials, and dangerous shell constructs.
package security

import "regexp"

// Severity grades a finding. Score deductions: critical 30, high 20,
// medium 10, low 5.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Status summarizes a report: fail iff any critical finding, warning iff any
// high finding without a critical one, pass otherwise.
type Status string

const (
	StatusPass    Status = "pass"
	StatusWarning Status = "warning"
	StatusFail    Status = "fail"
)

// Issue is a single finding.
type Issue struct {
	Category string   `json:"category"`
	Severity Severity `json:"severity"`
	Detail   string   `json:"detail"`
	Match    string   `json:"match"`
	File     string   `json:"file,omitempty"` // empty for the instruction body
}

// Report is the outcome of scanning one skill.
type Report struct {
	Score  int     `json:"score"`
	Status Status  `json:"status"`
	Issues []Issue `json:"issues,omitempty"`
}

// ScriptFile is a bundled script passed alongside the instruction body.
type ScriptFile struct {
	Path    string
	Content string
}

type rule struct {
	re       *regexp.Regexp
	severity Severity
	detail   string
}

const (
	categoryInjection    = "prompt-injection"
	categoryExfiltration = "exfiltration"
	categoryCredentials  = "credential-exposure"
	categoryShell        = "dangerous-shell"
)

// Instruction-body rules. Kept as string patterns people actually write in
// poisoned skills; matching is case-insensitive throughout.
var injectionRules = []rule{
	{regexp.MustCompile(`(?i)ignore\s+(all\s+)?(previous|prior|above)\s+instructions?`), SeverityHigh, "override of prior instructions"},
	{regexp.MustCompile(`(?i)disregard\s+(all\s+)?(previous|prior|above)\s+instructions?`), SeverityHigh, "override of prior instructions"},
	{regexp.MustCompile(`(?i)you\s+are\s+now\s+(in\s+)?[\w-]+\s+mode`), SeverityHigh, "role/mode manipulation"},
	{regexp.MustCompile(`(?i)\[\s*system\s*\]`), SeverityHigh, "system delimiter injection"},
	{regexp.MustCompile(`(?i)forget\s+everything\s+you\s+know`), SeverityHigh, "memory reset instruction"},
	{regexp.MustCompile(`(?im)^\s*system\s*:`), SeverityHigh, "fake system preamble"},
}

var exfiltrationRules = []rule{
	{regexp.MustCompile(`(?i)upload\s+(your\s+|the\s+)?credentials`), SeverityCritical, "credential upload instruction"},
	{regexp.MustCompile(`(?i)transmit\s+(your\s+|the\s+)?api[\s_-]?key`), SeverityCritical, "api key transmission instruction"},
	{regexp.MustCompile(`(?i)base64\s+encode\s+(your\s+|the\s+)?secret`), SeverityCritical, "secret encoding instruction"},
	{regexp.MustCompile(`(?i)exfiltrat(e|ion|ing)`), SeverityHigh, "exfiltration language"},
	{regexp.MustCompile(`(?i)send\s+[^\n]{0,60}\s+to\s+(an\s+)?external`), SeverityHigh, "send-to-external instruction"},
}

// Credential rules apply to the body and to every script.
var credentialRules = []rule{
	{regexp.MustCompile(`(?i)password\s*[:=]\s*["'][^"']{6,}["']`), SeverityCritical, "hardcoded password"},
	{regexp.MustCompile(`(?i)api[_-]?key\s*[:=]\s*["']?[A-Za-z0-9]{20,}`), SeverityCritical, "hardcoded api key"},
	{regexp.MustCompile(`(?i)(-----BEGIN[A-Z ]*PRIVATE KEY-----|private[_-]?key\s*[:=]\s*["'][^"']+["'])`), SeverityCritical, "private key material"},
	{regexp.MustCompile(`(?i)secret\s*[:=]\s*["'][^"']{10,}["']`), SeverityHigh, "hardcoded secret"},
}

// Shell rules apply to scripts only.
var shellRules = []rule{
	{regexp.MustCompile(`rm\s+-[rRf]{2,}\s+/(\s|$|["'])`), SeverityCritical, "recursive delete of filesystem root"},
	{regexp.MustCompile(`rm\s+-[rRf]{2,}\s+["']?\$`), SeverityCritical, "recursive delete of variable path"},
	{regexp.MustCompile(`(?i)(curl|wget)[^|\n]*\|\s*(ba|z|da)?sh`), SeverityCritical, "pipe download to shell"},
	{regexp.MustCompile(`(?i)wget[^\n]*&&[^\n]*chmod\s+\+x[^\n]*&&`), SeverityCritical, "download, mark executable, run"},
	{regexp.MustCompile(`(?i)subprocess\.(call|run|popen)\s*\([^)]*shell\s*=\s*true`), SeverityHigh, "python shell subprocess"},
	{regexp.MustCompile(`(?i)os\.system\s*\(`), SeverityHigh, "python os.system call"},
	{regexp.MustCompile(`(?i)child_process\.exec\s*\(`), SeverityHigh, "node child_process.exec call"},
	{regexp.MustCompile(`\beval\s*\(`), SeverityMedium, "eval call"},
	{regexp.MustCompile(`(?i)\beval\s+["']`), SeverityMedium, "shell eval of string"},
	{regexp.MustCompile(`\bexec\s*\(`), SeverityMedium, "exec call"},
}

const maxMatchLen = 80

// Scan runs all pattern groups over the instruction body and its scripts.
// Each rule is reported at most once per target so a repeated phrase does not
// zero the score by itself.
func Scan(body string, scripts []ScriptFile) *Report {
	r := &Report{}

	r.apply(injectionRules, categoryInjection, body, "")
	r.apply(exfiltrationRules, categoryExfiltration, body, "")
	r.apply(credentialRules, categoryCredentials, body, "")
	for _, s := range scripts {
		r.apply(credentialRules, categoryCredentials, s.Content, s.Path)
		r.apply(shellRules, categoryShell, s.Content, s.Path)
	}

	r.Score = scoreIssues(r.Issues)
	r.Status = statusFor(r.Issues)
	return r
}

func (r *Report) apply(rules []rule, category, content, file string) {
	if content == "" {
		return
	}
	for _, ru := range rules {
		m := ru.re.FindString(content)
		if m == "" {
			continue
		}
		if len(m) > maxMatchLen {
			m = m[:maxMatchLen]
		}
		r.Issues = append(r.Issues, Issue{
			Category: category,
			Severity: ru.severity,
			Detail:   ru.detail,
			Match:    m,
			File:     file,
		})
	}
}

func scoreIssues(issues []Issue) int {
	score := 100
	for _, is := range issues {
		switch is.Severity {
		case SeverityCritical:
			score -= 30
		case SeverityHigh:
			score -= 20
		case SeverityMedium:
			score -= 10
		case SeverityLow:
			score -= 5
		}
	}
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

func statusFor(issues []Issue) Status {
	hasHigh := false
	for _, is := range issues {
		switch is.Severity {
		case SeverityCritical:
			return StatusFail
		case SeverityHigh:
			hasHigh = true
		}
	}
	if hasHigh {
		return StatusWarning
	}
	return StatusPass
}
