package classify

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(n int) time.Time {
	return time.Date(2025, 1, n, 0, 0, 0, 0, time.UTC)
}

func TestHashIsMD5Hex(t *testing.T) {
	// md5("") is the canonical empty digest.
	assert.Equal(t, "d41d8cd98f00b204e9800998ecf8427e", Hash(""))
	assert.Equal(t, "9e107d9d372bb6826bd81d3542a419d6", Hash("The quick brown fox jumps over the lazy dog"))
}

func TestRunSingleStandalone(t *testing.T) {
	results := Run([]Record{
		{ID: "alice/demo/hello", Owner: "alice", Repo: "demo", Stars: 5, CreatedAt: day(1), RawContent: "# Hello"},
	})
	require.Len(t, results, 1)
	r := results[0]
	assert.Equal(t, 1, r.RepoSkillCount)
	assert.Equal(t, TypeStandalone, r.Type)
	assert.Equal(t, Hash("# Hello"), r.ContentHash)
	assert.False(t, r.IsDuplicate)
	assert.Empty(t, r.CanonicalID)
}

func TestRunDedupPrefersStars(t *testing.T) {
	body := "# Same content everywhere\n"
	results := Run([]Record{
		{ID: "alice/fork1/hello", Owner: "alice", Repo: "fork1", Stars: 10, CreatedAt: day(1), RawContent: body},
		{ID: "bob/fork2/hello", Owner: "bob", Repo: "fork2", Stars: 100, CreatedAt: day(2), RawContent: body},
	})
	require.Len(t, results, 2)

	alice, bob := results[0], results[1]
	assert.True(t, alice.IsDuplicate)
	assert.Equal(t, "bob/fork2/hello", alice.CanonicalID)
	assert.False(t, bob.IsDuplicate)
	assert.Empty(t, bob.CanonicalID)
	assert.Equal(t, alice.ContentHash, bob.ContentHash)
}

func TestRunDedupTieBreaks(t *testing.T) {
	body := "identical"
	results := Run([]Record{
		{ID: "b/r/skill", Owner: "b", Repo: "r", Stars: 10, CreatedAt: day(5), RawContent: body},
		{ID: "a/r2/skill", Owner: "a", Repo: "r2", Stars: 10, CreatedAt: day(1), RawContent: body},
		{ID: "c/r3/skill", Owner: "c", Repo: "r3", Stars: 10, CreatedAt: day(1), RawContent: body},
	})

	// Equal stars: oldest record wins; equal age: lowest id wins.
	byID := map[string]Result{}
	for _, r := range results {
		byID[r.ID] = r
	}
	assert.False(t, byID["a/r2/skill"].IsDuplicate)
	assert.True(t, byID["b/r/skill"].IsDuplicate)
	assert.True(t, byID["c/r3/skill"].IsDuplicate)
	assert.Equal(t, "a/r2/skill", byID["b/r/skill"].CanonicalID)
	assert.Equal(t, "a/r2/skill", byID["c/r3/skill"].CanonicalID)
}

func TestRunAggregatorByCount(t *testing.T) {
	var records []Record
	for i := 0; i < 60; i++ {
		records = append(records, Record{
			ID:         fmt.Sprintf("acme/marketplace/skill-%02d", i),
			Owner:      "acme",
			Repo:       "marketplace",
			RawContent: fmt.Sprintf("content %d", i),
		})
	}
	results := Run(records)
	require.Len(t, results, 60)
	for _, r := range results {
		assert.Equal(t, TypeAggregator, r.Type)
		assert.Equal(t, 60, r.RepoSkillCount)
	}
}

func TestRunAggregatorByNameAtTen(t *testing.T) {
	var records []Record
	for i := 0; i < 10; i++ {
		records = append(records, Record{
			ID:    fmt.Sprintf("dev/awesome-skills/s%d", i),
			Owner: "dev", Repo: "awesome-skills",
			RawContent: fmt.Sprintf("c%d", i),
		})
	}
	results := Run(records)
	for _, r := range results {
		assert.Equal(t, TypeAggregator, r.Type)
	}
}

func TestRunCollectionRange(t *testing.T) {
	var records []Record
	for i := 0; i < 5; i++ {
		records = append(records, Record{
			ID:    fmt.Sprintf("dana/toolbox/s%d", i),
			Owner: "dana", Repo: "toolbox",
			RawContent: fmt.Sprintf("c%d", i),
		})
	}
	results := Run(records)
	for _, r := range results {
		assert.Equal(t, TypeCollection, r.Type)
		assert.Equal(t, 5, r.RepoSkillCount)
	}
}

func TestRunProjectBoundNames(t *testing.T) {
	cases := []struct {
		repo string
		want Type
	}{
		{"my-rules", TypeProjectBound},
		{"team-conventions", TypeProjectBound},
		{"internal-docs", TypeProjectBound},
		{"rules.mdc", TypeProjectBound},
		{"cursorrules-pack", TypeProjectBound},
		{"editor-setup", TypeProjectBound},
		{"xmdc", TypeStandalone}, // the .mdc pattern requires the dot
		{"hello-world", TypeStandalone},
	}
	for _, tc := range cases {
		results := Run([]Record{{ID: "o/" + tc.repo + "/s", Owner: "o", Repo: tc.repo, RawContent: "x"}})
		assert.Equal(t, tc.want, results[0].Type, tc.repo)
	}
}

func TestRunForkMarketplaceUpgrade(t *testing.T) {
	// The same repo name under three owners, 21 skills in total. Each
	// repo alone is a collection; the cross-owner pattern upgrades all
	// of them.
	var records []Record
	for _, owner := range []string{"a", "b", "c"} {
		for i := 0; i < 7; i++ {
			records = append(records, Record{
				ID:    fmt.Sprintf("%s/claude-pack/s%d", owner, i),
				Owner: owner, Repo: "claude-pack",
				RawContent: fmt.Sprintf("%s-%d", owner, i),
			})
		}
	}
	results := Run(records)
	for _, r := range results {
		assert.Equal(t, TypeAggregator, r.Type)
		assert.Equal(t, 7, r.RepoSkillCount)
	}
}

func TestRunForkMarketplaceNeedsThreeOwners(t *testing.T) {
	var records []Record
	for _, owner := range []string{"a", "b"} {
		for i := 0; i < 12; i++ {
			records = append(records, Record{
				ID:    fmt.Sprintf("%s/shared-pack/s%d", owner, i),
				Owner: owner, Repo: "shared-pack",
				RawContent: fmt.Sprintf("%s-%d", owner, i),
			})
		}
	}
	// 24 skills but only two owners: stays a collection.
	results := Run(records)
	for _, r := range results {
		assert.Equal(t, TypeCollection, r.Type)
	}
}

func TestRunIdempotent(t *testing.T) {
	records := []Record{
		{ID: "alice/demo/hello", Owner: "alice", Repo: "demo", Stars: 5, CreatedAt: day(1), RawContent: "same"},
		{ID: "bob/fork/hello", Owner: "bob", Repo: "fork", Stars: 50, CreatedAt: day(2), RawContent: "same"},
		{ID: "carol/app/app~cursorrules", Owner: "carol", Repo: "app", Stars: 1, CreatedAt: day(3), RawContent: "other"},
	}
	first := Run(records)
	second := Run(records)
	assert.Equal(t, first, second, "classification must be a pure function of the snapshot")
}

func TestRunDuplicateInvariant(t *testing.T) {
	records := []Record{
		{ID: "a/x/s", Owner: "a", Repo: "x", Stars: 1, CreatedAt: day(1), RawContent: "dup"},
		{ID: "b/y/s", Owner: "b", Repo: "y", Stars: 9, CreatedAt: day(2), RawContent: "dup"},
		{ID: "c/z/s", Owner: "c", Repo: "z", Stars: 4, CreatedAt: day(3), RawContent: "dup"},
	}
	results := Run(records)

	byID := map[string]Result{}
	for _, r := range results {
		byID[r.ID] = r
	}
	for _, r := range results {
		if !r.IsDuplicate {
			continue
		}
		canonical, ok := byID[r.CanonicalID]
		require.True(t, ok, "canonical must exist in the snapshot")
		assert.False(t, canonical.IsDuplicate, "canonical must not itself be a duplicate")
		assert.Equal(t, r.ContentHash, canonical.ContentHash)
	}
}

func TestRunEmptyContentSkipsDedup(t *testing.T) {
	results := Run([]Record{
		{ID: "a/x/s", Owner: "a", Repo: "x"},
		{ID: "b/y/s", Owner: "b", Repo: "y"},
	})
	for _, r := range results {
		assert.Empty(t, r.ContentHash)
		assert.False(t, r.IsDuplicate)
	}
}
