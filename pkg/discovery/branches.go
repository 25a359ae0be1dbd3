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

package discovery

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// maxScanBranches caps the selection at the default branch plus five
// others. Scanning every branch of a large repo burns quota for content
// that is nearly always identical to the default branch.
const maxScanBranches = 6

// maxVersionBranches caps the version-style slice of the selection.
const maxVersionBranches = 5

var wellKnownBranches = []string{"stable", "next", "latest", "canary", "dev", "develop"}

var versionBranchPattern = regexp.MustCompile(`^[vV]\d`)

// FilterAndSortBranches selects which branches of a repo to deep-scan.
// The default branch always comes first; then well-known names, release
// branches, up to five version-style branches in descending version
// order, and caller extras (exact names or prefixes), capped at six
// total. With allBranches set the cap is lifted and every branch is
// returned, default first. The result is a pure function of its inputs.
func FilterAndSortBranches(branches []string, defaultBranch string, extras []string, allBranches bool) []string {
	seen := map[string]bool{defaultBranch: true}
	out := []string{defaultBranch}

	if allBranches {
		for _, b := range branches {
			if !seen[b] {
				seen[b] = true
				out = append(out, b)
			}
		}
		return out
	}

	present := make(map[string]bool, len(branches))
	for _, b := range branches {
		present[b] = true
	}

	add := func(name string) bool {
		if len(out) >= maxScanBranches {
			return false
		}
		if seen[name] || !present[name] {
			return true
		}
		seen[name] = true
		out = append(out, name)
		return true
	}

	for _, name := range wellKnownBranches {
		if !add(name) {
			return out
		}
	}

	var releases []string
	for _, b := range branches {
		if strings.HasPrefix(b, "release/") || strings.HasPrefix(b, "releases/") {
			releases = append(releases, b)
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(releases)))
	for _, name := range releases {
		if !add(name) {
			return out
		}
	}

	var versions []string
	for _, b := range branches {
		if versionBranchPattern.MatchString(b) {
			versions = append(versions, b)
		}
	}
	sort.SliceStable(versions, func(i, j int) bool {
		vi, vj := versionKey(versions[i]), versionKey(versions[j])
		if c := compareVersions(vi, vj); c != 0 {
			return c > 0
		}
		return versions[i] < versions[j]
	})
	if len(versions) > maxVersionBranches {
		versions = versions[:maxVersionBranches]
	}
	for _, name := range versions {
		if !add(name) {
			return out
		}
	}

	for _, pat := range extras {
		if present[pat] {
			if !add(pat) {
				return out
			}
			continue
		}
		for _, b := range branches {
			if strings.HasPrefix(b, pat) {
				if !add(b) {
					return out
				}
			}
		}
	}

	return out
}

// versionKey parses numeric segments out of a version-style branch name.
// "v2.1-rc" becomes [2 1 0]; non-numeric segments read as zero.
func versionKey(name string) []int {
	trimmed := strings.TrimLeft(name, "vV")
	segs := strings.FieldsFunc(trimmed, func(r rune) bool {
		return r == '.' || r == '-' || r == 'x'
	})
	key := make([]int, 0, len(segs))
	for _, s := range segs {
		n, err := strconv.Atoi(s)
		if err != nil {
			n = 0
		}
		key = append(key, n)
	}
	return key
}

func compareVersions(a, b []int) int {
	n := len(a)
	if len(b) > n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		var ai, bi int
		if i < len(a) {
			ai = a[i]
		}
		if i < len(b) {
			bi = b[i]
		}
		if ai != bi {
			if ai > bi {
				return 1
			}
			return -1
		}
	}
	return 0
}
