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
	"testing"
)

func TestMatchPath_SkillAnywhere(t *testing.T) {
	cases := []struct {
		path string
		want string
	}{
		{"SKILL.md", "."},
		{"skills/web/SKILL.md", "skills/web"},
		{".claude/skills/review/SKILL.md", ".claude/skills/review"},
		{"deep/nested/dir/skill.md", "deep/nested/dir"},
	}
	for _, c := range cases {
		spec, ok := MatchPath(c.path)
		if !ok {
			t.Fatalf("MatchPath(%q) should match", c.path)
		}
		if spec.Format != FormatSkillMD {
			t.Errorf("MatchPath(%q) format = %q, want skill.md", c.path, spec.Format)
		}
		if got := spec.CandidatePath(c.path); got != c.want {
			t.Errorf("CandidatePath(%q) = %q, want %q", c.path, got, c.want)
		}
	}
}

func TestMatchPath_RootOnlyFormats(t *testing.T) {
	if _, ok := MatchPath(".cursorrules"); !ok {
		t.Error("root .cursorrules should match")
	}
	if _, ok := MatchPath("config/.cursorrules"); ok {
		t.Error("nested .cursorrules must not match (root only)")
	}
	if _, ok := MatchPath(".windsurfrules"); !ok {
		t.Error("root .windsurfrules should match")
	}
	if _, ok := MatchPath("pkg/.windsurfrules"); ok {
		t.Error("nested .windsurfrules must not match (root only)")
	}
}

func TestMatchPath_CopilotUnderGithub(t *testing.T) {
	spec, ok := MatchPath(".github/copilot-instructions.md")
	if !ok {
		t.Fatal(".github/copilot-instructions.md should match")
	}
	if spec.Format != FormatCopilotInstructions {
		t.Errorf("format = %q, want copilot-instructions", spec.Format)
	}
	if _, ok := MatchPath("copilot-instructions.md"); ok {
		t.Error("root copilot-instructions.md must not match (requires .github/)")
	}
	if _, ok := MatchPath("docs/copilot-instructions.md"); ok {
		t.Error("copilot-instructions.md outside .github/ must not match")
	}
}

func TestFilePath_RoundTrip(t *testing.T) {
	cases := []struct {
		format Format
		cand   string
		want   string
	}{
		{FormatSkillMD, "skills/web", "skills/web/SKILL.md"},
		{FormatSkillMD, ".", "SKILL.md"},
		{FormatAgentsMD, ".", "AGENTS.md"},
		{FormatCursorRules, ".", ".cursorrules"},
		{FormatWindsurfRules, ".", ".windsurfrules"},
		{FormatCopilotInstructions, ".github", ".github/copilot-instructions.md"},
	}
	for _, c := range cases {
		spec, ok := ByFormat(c.format)
		if !ok {
			t.Fatalf("ByFormat(%q) should resolve", c.format)
		}
		if got := spec.FilePath(c.cand); got != c.want {
			t.Errorf("FilePath(%q, %q) = %q, want %q", c.format, c.cand, got, c.want)
		}
	}
}

func TestSkillID_FormatSuffix(t *testing.T) {
	if got := SkillID("alice", "demo", "hello", FormatSkillMD); got != "alice/demo/hello" {
		t.Errorf("skill.md id = %q, want alice/demo/hello", got)
	}
	if got := SkillID("carol", "app", "app", FormatCursorRules); got != "carol/app/app~cursorrules" {
		t.Errorf("cursorrules id = %q, want carol/app/app~cursorrules", got)
	}
	if got := SkillID("bob", "tool", "tool", FormatAgentsMD); got != "bob/tool/tool~agents.md" {
		t.Errorf("agents.md id = %q, want bob/tool/tool~agents.md", got)
	}
}
