package discovery

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kraklabs/skilldex/pkg/skillfile"
)

func TestMergeCandidatesFirstWins(t *testing.T) {
	a := []Candidate{
		{Owner: "alice", Repo: "demo", Path: "skills/hello", Branch: "main", Format: skillfile.FormatSkillMD},
		{Owner: "alice", Repo: "demo", Path: ".", Branch: "main", Format: skillfile.FormatCursorRules},
	}
	b := []Candidate{
		// Same identity as the first entry of a, different branch.
		{Owner: "alice", Repo: "demo", Path: "skills/hello", Branch: "dev", Format: skillfile.FormatSkillMD},
		{Owner: "bob", Repo: "tool", Path: ".", Branch: "main", Format: skillfile.FormatAgentsMD},
	}

	merged := MergeCandidates(a, b)
	assert.Len(t, merged, 3)
	assert.Equal(t, "main", merged[0].Branch, "first occurrence wins")
}

func TestMergeCandidatesIdempotent(t *testing.T) {
	list := []Candidate{
		{Owner: "alice", Repo: "demo", Path: "skills/hello", Format: skillfile.FormatSkillMD},
		{Owner: "bob", Repo: "tool", Path: ".", Format: skillfile.FormatAgentsMD},
		{Owner: "carol", Repo: "app", Path: ".", Format: skillfile.FormatCursorRules},
	}
	once := MergeCandidates(list)
	twice := MergeCandidates(once, once)
	assert.Equal(t, once, twice, "merging a set with itself must be a no-op")
}

func TestMergeCandidatesDistinguishesFormats(t *testing.T) {
	list := []Candidate{
		{Owner: "alice", Repo: "demo", Path: ".", Format: skillfile.FormatSkillMD},
		{Owner: "alice", Repo: "demo", Path: ".", Format: skillfile.FormatAgentsMD},
	}
	assert.Len(t, MergeCandidates(list), 2)
}

func TestMergeReposFirstWins(t *testing.T) {
	a := []DiscoveredRepo{{Owner: "alice", Repo: "demo", Via: "topic-search", Stars: 10}}
	b := []DiscoveredRepo{
		{Owner: "alice", Repo: "demo", Via: "commit-sweep", Stars: 10},
		{Owner: "bob", Repo: "tool", Via: "commit-sweep", Stars: 3},
	}
	merged := MergeRepos(a, b)
	assert.Len(t, merged, 2)
	assert.Equal(t, "topic-search", merged[0].Via)
}
