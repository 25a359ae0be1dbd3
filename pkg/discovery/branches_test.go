package discovery

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilterAndSortBranchesDefaultFirst(t *testing.T) {
	got := FilterAndSortBranches([]string{"dev", "main", "stable"}, "main", nil, false)
	require.NotEmpty(t, got)
	assert.Equal(t, "main", got[0])
}

func TestFilterAndSortBranchesWellKnownOrder(t *testing.T) {
	// Input order must not affect the selection order.
	a := FilterAndSortBranches([]string{"develop", "canary", "main", "next", "stable"}, "main", nil, false)
	b := FilterAndSortBranches([]string{"stable", "next", "main", "canary", "develop"}, "main", nil, false)
	assert.Equal(t, a, b)
	assert.Equal(t, []string{"main", "stable", "next", "canary", "develop"}, a)
}

func TestFilterAndSortBranchesVersionsDescending(t *testing.T) {
	branches := []string{"main", "v1.0", "v10.2", "v2.1", "v2.10", "v9"}
	got := FilterAndSortBranches(branches, "main", nil, false)
	assert.Equal(t, []string{"main", "v10.2", "v9", "v2.10", "v2.1", "v1.0"}, got)
}

func TestFilterAndSortBranchesCapsAtSix(t *testing.T) {
	branches := []string{
		"main", "stable", "next", "latest", "canary", "dev", "develop",
		"v1", "v2", "v3", "release/1.0",
	}
	got := FilterAndSortBranches(branches, "main", nil, false)
	assert.Len(t, got, 6)
	assert.Equal(t, "main", got[0])
}

func TestFilterAndSortBranchesReleasePrefixes(t *testing.T) {
	branches := []string{"main", "release/1.4", "release/2.0", "releases/0.9", "feature/x"}
	got := FilterAndSortBranches(branches, "main", nil, false)
	assert.Equal(t, []string{"main", "releases/0.9", "release/2.0", "release/1.4"}, got)
	assert.NotContains(t, got, "feature/x")
}

func TestFilterAndSortBranchesExtras(t *testing.T) {
	branches := []string{"main", "gh-pages", "docs/v1", "docs/v2"}
	got := FilterAndSortBranches(branches, "main", []string{"gh-pages", "docs/"}, false)
	assert.Equal(t, []string{"main", "gh-pages", "docs/v1", "docs/v2"}, got)
}

func TestFilterAndSortBranchesAllBranches(t *testing.T) {
	branches := []string{"dev", "main", "feature/x", "v1"}
	got := FilterAndSortBranches(branches, "main", nil, true)
	assert.Equal(t, []string{"main", "dev", "feature/x", "v1"}, got)
}

func TestFilterAndSortBranchesOnlyFromInput(t *testing.T) {
	branches := []string{"main", "trunk", "wip"}
	got := FilterAndSortBranches(branches, "main", []string{"stable"}, false)
	for _, b := range got[1:] {
		assert.Contains(t, branches, b)
	}
	assert.NotContains(t, got, "stable", "extras not present in the listing are ignored")
}

func TestFilterAndSortBranchesDeterministic(t *testing.T) {
	branches := []string{"main", "v3", "v1", "stable", "release/2.1", "dev", "v2"}
	first := FilterAndSortBranches(branches, "main", nil, false)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, FilterAndSortBranches(branches, "main", nil, false))
	}
}

func TestVersionKeyParsing(t *testing.T) {
	cases := []struct {
		name string
		want []int
	}{
		{"v2.1-rc", []int{2, 1, 0}},
		{"v10", []int{10}},
		{"V3.2.1", []int{3, 2, 1}},
		{"v1.x", []int{1}},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, versionKey(tc.name), tc.name)
	}
}
