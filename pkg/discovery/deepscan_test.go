package discovery

import (
	"context"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kraklabs/skilldex/pkg/githost"
	"github.com/kraklabs/skilldex/pkg/skillfile"
)

// fakeHost serves canned host responses for one repository.
type fakeHost struct {
	repo     *githost.Repo
	branches []githost.Branch
	trees    map[string]*githost.Tree      // keyed by branch
	dirs     map[string][]githost.DirEntry // keyed by path
	code     map[string]*githost.CodeSearchResult
	searches atomic.Int32
}

func (f *fakeHost) GetRepo(_ context.Context, _, _ string) (*githost.Repo, error) {
	if f.repo == nil {
		return nil, githost.ErrNotFound
	}
	return f.repo, nil
}

func (f *fakeHost) ListBranches(_ context.Context, _, _ string, page, _ int) ([]githost.Branch, error) {
	if page > 1 {
		return nil, nil
	}
	return f.branches, nil
}

func (f *fakeHost) GetTree(_ context.Context, _, _, ref string, _ bool) (*githost.Tree, error) {
	tree, ok := f.trees[ref]
	if !ok {
		return nil, githost.ErrNotFound
	}
	return tree, nil
}

func (f *fakeHost) ListDirectory(_ context.Context, _, _, dirPath, _ string) ([]githost.DirEntry, error) {
	entries, ok := f.dirs[dirPath]
	if !ok {
		return nil, githost.ErrNotFound
	}
	return entries, nil
}

func (f *fakeHost) SearchCode(_ context.Context, query string, _, _ int) (*githost.CodeSearchResult, error) {
	f.searches.Add(1)
	if res, ok := f.code[query]; ok {
		return res, nil
	}
	return &githost.CodeSearchResult{}, nil
}

func (f *fakeHost) SearchRepos(_ context.Context, _, _, _ string, _, _ int) (*githost.RepoSearchResult, error) {
	return &githost.RepoSearchResult{}, nil
}

func (f *fakeHost) SearchCommits(_ context.Context, _ string, _, _ int) (*githost.CommitSearchResult, error) {
	return &githost.CommitSearchResult{}, nil
}

func blob(path string) githost.TreeEntry {
	return githost.TreeEntry{Path: path, Mode: "100644", Type: "blob", Size: 256}
}

func TestScannerFindsInstructionFiles(t *testing.T) {
	host := &fakeHost{
		repo: &githost.Repo{
			Owner: "alice", Name: "demo", FullName: "alice/demo",
			DefaultBranch: "main", Stars: 42,
		},
		branches: []githost.Branch{{Name: "main"}, {Name: "dev"}},
		trees: map[string]*githost.Tree{
			"main": {Entries: []githost.TreeEntry{
				blob("skills/hello/SKILL.md"),
				blob(".cursorrules"),
				blob("docs/guide/AGENTS.md"),
				blob("nested/.cursorrules"), // root-only, must be ignored
				blob("src/main.go"),
				{Path: "skills", Type: "tree"},
			}},
			"dev": {Entries: []githost.TreeEntry{
				blob("skills/hello/SKILL.md"), // same identity as main
				blob("skills/extra/SKILL.md"),
			}},
		},
	}

	s := NewScanner(host, slog.Default())
	cands, meta, err := s.ScanRepo(context.Background(), "alice", "demo")
	require.NoError(t, err)
	require.NotNil(t, meta)
	require.Len(t, cands, 4)

	byPath := map[string]Candidate{}
	for _, c := range cands {
		byPath[c.Path+"|"+string(c.Format)] = c
	}
	hello := byPath["skills/hello|skill.md"]
	assert.Equal(t, "main", hello.Branch, "default-branch variant wins across branches")
	assert.Equal(t, "alice", hello.Owner)

	assert.Contains(t, byPath, ".|cursorrules")
	assert.Contains(t, byPath, "docs/guide|agents.md")

	extra := byPath["skills/extra|skill.md"]
	assert.Equal(t, "dev", extra.Branch)
}

func TestScannerSkipsArchived(t *testing.T) {
	host := &fakeHost{
		repo: &githost.Repo{
			Owner: "alice", Name: "old", FullName: "alice/old",
			DefaultBranch: "main", Archived: true,
		},
	}
	s := NewScanner(host, slog.Default())
	cands, meta, err := s.ScanRepo(context.Background(), "alice", "old")
	require.NoError(t, err)
	assert.Empty(t, cands)
	require.NotNil(t, meta)
	assert.True(t, meta.Archived)
}

func TestScannerRepoGone(t *testing.T) {
	s := NewScanner(&fakeHost{}, slog.Default())
	_, _, err := s.ScanRepo(context.Background(), "ghost", "gone")
	assert.ErrorIs(t, err, githost.ErrNotFound)
}

func TestScannerTruncatedTreeFallsBack(t *testing.T) {
	host := &fakeHost{
		repo: &githost.Repo{
			Owner: "mega", Name: "monorepo", FullName: "mega/monorepo",
			DefaultBranch: "main",
		},
		branches: []githost.Branch{{Name: "main"}},
		trees: map[string]*githost.Tree{
			"main": {Truncated: true},
		},
		dirs: map[string][]githost.DirEntry{
			".": {
				{Name: ".cursorrules", Path: ".cursorrules", Type: "file"},
				{Name: "skills", Path: "skills", Type: "dir"},
				{Name: "README.md", Path: "README.md", Type: "file"},
			},
			"skills": {
				{Name: "demo", Path: "skills/demo", Type: "dir"},
			},
			"skills/demo": {
				{Name: "SKILL.md", Path: "skills/demo/SKILL.md", Type: "file"},
			},
		},
	}

	s := NewScanner(host, slog.Default())
	cands, _, err := s.ScanRepo(context.Background(), "mega", "monorepo")
	require.NoError(t, err)
	require.Len(t, cands, 2)

	formats := map[skillfile.Format]string{}
	for _, c := range cands {
		formats[c.Format] = c.Path
	}
	assert.Equal(t, ".", formats[skillfile.FormatCursorRules])
	assert.Equal(t, "skills/demo", formats[skillfile.FormatSkillMD])
}

func TestCodeSearchStrategyFiltersHits(t *testing.T) {
	host := &fakeHost{
		code: map[string]*githost.CodeSearchResult{
			"filename:SKILL.md": {
				TotalCount: 3,
				Items: []githost.CodeHit{
					{
						Name: "SKILL.md", Path: "skills/hello/SKILL.md",
						Repo: githost.Repo{Owner: "alice", Name: "demo", Stars: 42},
					},
					{
						Name: "README.md", Path: "README.md",
						Repo: githost.Repo{Owner: "bob", Name: "noise"},
					},
					{
						Name: "skill.md.bak", Path: "docs/skill.md.bak",
						Repo: githost.Repo{Owner: "bob", Name: "noise"},
					},
				},
			},
		},
	}

	strat := &codeSearch{
		host:   host,
		cfg:    DefaultConfig(),
		logger: slog.Default(),
		now:    func() time.Time { return time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC) },
	}
	h, err := strat.Discover(context.Background())
	require.NoError(t, err)
	require.Len(t, h.Candidates, 1)

	c := h.Candidates[0]
	assert.Equal(t, "alice", c.Owner)
	assert.Equal(t, "skills/hello", c.Path)
	assert.Equal(t, skillfile.FormatSkillMD, c.Format)
	require.NotNil(t, c.Meta)
	assert.Equal(t, 42, c.Meta.Stars)

	assert.Equal(t, int32(12), host.searches.Load(), "one call per query segment")
}

type stubStrategy struct {
	name string
	h    *Harvest
}

func (s *stubStrategy) Name() string { return s.name }
func (s *stubStrategy) Discover(_ context.Context) (*Harvest, error) {
	return s.h, nil
}

func TestEngineMergesInRegistrationOrder(t *testing.T) {
	first := &stubStrategy{name: "first", h: &Harvest{
		Candidates: []Candidate{
			{Owner: "alice", Repo: "demo", Path: "skills/hello", Branch: "main", Format: skillfile.FormatSkillMD},
		},
	}}
	second := &stubStrategy{name: "second", h: &Harvest{
		Candidates: []Candidate{
			{Owner: "alice", Repo: "demo", Path: "skills/hello", Branch: "dev", Format: skillfile.FormatSkillMD},
			{Owner: "bob", Repo: "tool", Path: ".", Branch: "main", Format: skillfile.FormatAgentsMD},
		},
		Repos: []DiscoveredRepo{{Owner: "carol", Repo: "app", Via: "second"}},
	}}

	e := NewEngineFromStrategies(slog.Default(), first, second)
	h, err := e.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, h.Candidates, 2)
	assert.Equal(t, "main", h.Candidates[0].Branch, "registration order wins over completion order")
	require.Len(t, h.Repos, 1)
}
