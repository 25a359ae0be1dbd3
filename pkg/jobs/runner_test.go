package jobs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"path"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kraklabs/skilldex/pkg/catalog"
	"github.com/kraklabs/skilldex/pkg/discovery"
	"github.com/kraklabs/skilldex/pkg/githost"
	"github.com/kraklabs/skilldex/pkg/ingest"
	"github.com/kraklabs/skilldex/pkg/skillfile"
)

// fakeHost serves canned responses for both search and content calls.
// Repo searches and commit searches return the same page-one hits for
// every query; merge dedup keeps the counts exact.
type fakeHost struct {
	repos      map[string]*githost.Repo      // owner/repo
	branches   map[string][]githost.Branch   // owner/repo
	trees      map[string]*githost.Tree      // owner/repo@ref
	files      map[string]string             // owner/repo@ref:path
	dirs       map[string][]githost.DirEntry // owner/repo@ref:path
	code       map[string]*githost.CodeSearchResult
	repoHits   []githost.Repo
	commitHits []githost.Repo
	contentErr error
}

func hostKey(owner, repo, ref, p string) string {
	return owner + "/" + repo + "@" + ref + ":" + p
}

func (f *fakeHost) GetRepo(_ context.Context, owner, repo string) (*githost.Repo, error) {
	r, ok := f.repos[owner+"/"+repo]
	if !ok {
		return nil, githost.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (f *fakeHost) ListBranches(_ context.Context, owner, repo string, page, _ int) ([]githost.Branch, error) {
	if page > 1 {
		return nil, nil
	}
	return f.branches[owner+"/"+repo], nil
}

func (f *fakeHost) GetTree(_ context.Context, owner, repo, ref string, _ bool) (*githost.Tree, error) {
	tree, ok := f.trees[owner+"/"+repo+"@"+ref]
	if !ok {
		return nil, githost.ErrNotFound
	}
	return tree, nil
}

func (f *fakeHost) ListDirectory(_ context.Context, owner, repo, dirPath, ref string) ([]githost.DirEntry, error) {
	entries, ok := f.dirs[hostKey(owner, repo, ref, dirPath)]
	if !ok {
		return nil, githost.ErrNotFound
	}
	return entries, nil
}

func (f *fakeHost) GetContents(_ context.Context, owner, repo, filePath, ref string) (*githost.ContentFile, error) {
	if f.contentErr != nil {
		return nil, f.contentErr
	}
	body, ok := f.files[hostKey(owner, repo, ref, filePath)]
	if !ok {
		return nil, githost.ErrNotFound
	}
	return &githost.ContentFile{
		Name:     path.Base(filePath),
		Path:     filePath,
		Size:     int64(len(body)),
		Type:     "file",
		Encoding: "base64",
		Content:  base64.StdEncoding.EncodeToString([]byte(body)),
	}, nil
}

func (f *fakeHost) SearchCode(_ context.Context, query string, page, _ int) (*githost.CodeSearchResult, error) {
	if page > 1 {
		return &githost.CodeSearchResult{}, nil
	}
	if res, ok := f.code[query]; ok {
		return res, nil
	}
	return &githost.CodeSearchResult{}, nil
}

func (f *fakeHost) SearchRepos(_ context.Context, _, _, _ string, page, _ int) (*githost.RepoSearchResult, error) {
	if page > 1 {
		return &githost.RepoSearchResult{}, nil
	}
	return &githost.RepoSearchResult{TotalCount: len(f.repoHits), Items: f.repoHits}, nil
}

func (f *fakeHost) SearchCommits(_ context.Context, _ string, page, _ int) (*githost.CommitSearchResult, error) {
	if page > 1 {
		return &githost.CommitSearchResult{}, nil
	}
	return &githost.CommitSearchResult{TotalCount: len(f.commitHits), Repos: f.commitHits}, nil
}

const helloSkill = `---
name: hello-world
description: Greets the user with a friendly message every time
version: 1.0.0
---

# Hello World

Say hello to the user, then wait for instructions.
`

func demoRepo() *githost.Repo {
	return &githost.Repo{
		Owner:         "alice",
		Name:          "demo",
		FullName:      "alice/demo",
		Description:   "Demo agent skills",
		DefaultBranch: "main",
		Stars:         42,
		Forks:         3,
		Topics:        []string{"ai", "skills"},
		License:       "MIT",
		PushedAt:      time.Date(2025, 5, 20, 0, 0, 0, 0, time.UTC),
	}
}

// demoHost is a host with one repo carrying one SKILL.md on main.
func demoHost() *fakeHost {
	return &fakeHost{
		repos:    map[string]*githost.Repo{"alice/demo": demoRepo()},
		branches: map[string][]githost.Branch{"alice/demo": {{Name: "main"}}},
		trees: map[string]*githost.Tree{
			"alice/demo@main": {Entries: []githost.TreeEntry{
				{Path: "skills/hello/SKILL.md", Mode: "100644", Type: "blob", Size: 128},
				{Path: "README.md", Mode: "100644", Type: "blob", Size: 64},
			}},
		},
		files: map[string]string{
			hostKey("alice", "demo", "main", "skills/hello/SKILL.md"): helloSkill,
		},
	}
}

func newTestRunner(t *testing.T, host Host) (*Runner, *MemQueue, *catalog.MemoryStore) {
	t.Helper()
	store, err := catalog.NewMemoryStore(catalog.MemoryConfig{})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	cat := catalog.New(store, catalog.Options{})
	t.Cleanup(cat.Wait)
	q := NewMemQueue()
	r := NewRunner(host, cat, q, RunnerConfig{Pipeline: ingest.Config{Workers: 2}}, slog.Default())
	return r, q, store
}

func TestHandleDeepScanQueuesIndexJobs(t *testing.T) {
	r, q, store := newTestRunner(t, demoHost())
	ctx := context.Background()

	job := mustJob(t, KindDeepScan, DeepScanPayload{Owner: "alice", Repo: "demo"})
	require.NoError(t, r.handleDeepScan(ctx, job))

	snap := q.Snapshot(KindIndexSkill)
	require.Len(t, snap, 1)
	var p IndexSkillPayload
	require.NoError(t, json.Unmarshal(snap[0].Payload, &p))
	assert.Equal(t, "alice", p.Candidate.Owner)
	assert.Equal(t, "skills/hello", p.Candidate.Path)
	assert.Equal(t, skillfile.FormatSkillMD, p.Candidate.Format)

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Repos, "scan ledger gains the repo")
	assert.Zero(t, stats.UnscannedRepos)
}

func TestHandleDeepScanDeduplicatesJobs(t *testing.T) {
	r, q, _ := newTestRunner(t, demoHost())
	ctx := context.Background()

	job := mustJob(t, KindDeepScan, DeepScanPayload{Owner: "alice", Repo: "demo"})
	require.NoError(t, r.handleDeepScan(ctx, job))
	require.NoError(t, r.handleDeepScan(ctx, job))

	assert.Len(t, q.Snapshot(KindIndexSkill), 1, "a queued candidate is not queued twice")
}

func TestHandleDeepScanGoneRepoIsPermanent(t *testing.T) {
	r, q, store := newTestRunner(t, &fakeHost{})
	ctx := context.Background()

	job := mustJob(t, KindDeepScan, DeepScanPayload{Owner: "ghost", Repo: "gone"})
	err := r.handleDeepScan(ctx, job)
	require.Error(t, err)
	assert.True(t, IsPermanent(err))
	assert.ErrorIs(t, err, githost.ErrNotFound)
	assert.Empty(t, q.Snapshot(KindIndexSkill))

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Repos, "gone repos are stamped so they stop being reselected")
	assert.Zero(t, stats.UnscannedRepos)
}

func TestHandleDeepScanBadPayloadIsPermanent(t *testing.T) {
	r, _, _ := newTestRunner(t, demoHost())
	job := &Job{ID: uuid.New(), Kind: KindDeepScan, Payload: []byte("{nope")}
	err := r.handleDeepScan(context.Background(), job)
	require.Error(t, err)
	assert.True(t, IsPermanent(err))
}

func TestHandleIndexSkillIndexesCandidate(t *testing.T) {
	r, _, store := newTestRunner(t, demoHost())
	ctx := context.Background()

	job := mustJob(t, KindIndexSkill, IndexSkillPayload{Candidate: discovery.Candidate{
		Owner: "alice", Repo: "demo", Path: "skills/hello", Branch: "main",
		Format: skillfile.FormatSkillMD,
	}})
	require.NoError(t, r.handleIndexSkill(ctx, job))

	rec, err := store.GetSkill(ctx, "alice/demo/hello-world")
	require.NoError(t, err)
	assert.Equal(t, "hello-world", rec.Name)
	assert.Equal(t, 42, rec.Stars)
}

func TestHandleIndexSkillInvalidIsPermanent(t *testing.T) {
	host := demoHost()
	host.files[hostKey("alice", "demo", "main", "skills/bad/SKILL.md")] = "# no frontmatter\n"
	r, _, _ := newTestRunner(t, host)

	job := mustJob(t, KindIndexSkill, IndexSkillPayload{Candidate: discovery.Candidate{
		Owner: "alice", Repo: "demo", Path: "skills/bad", Branch: "main",
		Format: skillfile.FormatSkillMD,
	}})
	err := r.handleIndexSkill(context.Background(), job)
	require.Error(t, err)
	assert.True(t, IsPermanent(err), "validation failures never retry")
}

func TestHandleIndexSkillTransientFailureRetries(t *testing.T) {
	host := demoHost()
	host.contentErr = errors.New("host returned 503")
	r, _, _ := newTestRunner(t, host)

	job := mustJob(t, KindIndexSkill, IndexSkillPayload{Candidate: discovery.Candidate{
		Owner: "alice", Repo: "demo", Path: "skills/hello", Branch: "main",
		Format: skillfile.FormatSkillMD,
	}})
	err := r.handleIndexSkill(context.Background(), job)
	require.Error(t, err)
	assert.False(t, IsPermanent(err), "host errors stay retryable")
}

func TestHandleFullCrawlFansOut(t *testing.T) {
	host := demoHost()
	host.code = map[string]*githost.CodeSearchResult{
		"filename:SKILL.md": {
			TotalCount: 1,
			Items: []githost.CodeHit{{
				Name: "SKILL.md", Path: "skills/hello/SKILL.md", Repo: *demoRepo(),
			}},
		},
	}
	host.repoHits = []githost.Repo{{
		Owner: "carol", Name: "app", FullName: "carol/app",
		DefaultBranch: "main", Stars: 7,
	}}
	r, q, store := newTestRunner(t, host)
	ctx := context.Background()

	require.NoError(t, r.handleFullCrawl(ctx, mustJob(t, KindFullCrawl, nil)))

	scans := q.Snapshot(KindDeepScan)
	require.Len(t, scans, 1)
	assert.JSONEq(t, `{"owner":"carol","repo":"app"}`, string(scans[0].Payload))

	assert.Len(t, q.Snapshot(KindIndexSkill), 1)

	batches := q.Snapshot(KindScoreBatch)
	require.Len(t, batches, 1)
	assert.True(t, batches[0].RunAt.After(time.Now().Add(20*time.Minute)),
		"the score batch waits for the fan-out to land")

	repos, err := store.ListReposToScan(ctx, time.Now(), 0)
	require.NoError(t, err)
	require.Len(t, repos, 1)
	assert.Equal(t, "carol", repos[0].Owner)

	// A second crawl over unchanged results queues nothing new.
	require.NoError(t, r.handleFullCrawl(ctx, mustJob(t, KindFullCrawl, nil)))
	assert.Len(t, q.Snapshot(KindDeepScan), 1)
	assert.Len(t, q.Snapshot(KindIndexSkill), 1)
	assert.Len(t, q.Snapshot(KindScoreBatch), 1)
}

func TestHandleIncrementalCrawlRequeuesStale(t *testing.T) {
	r, q, store := newTestRunner(t, &fakeHost{})
	ctx := context.Background()

	require.NoError(t, store.UpsertDiscoveredRepo(ctx, catalog.DiscoveredRepoRow{
		Owner: "carol", Repo: "app", DiscoveredVia: "topic-search", Stars: 7,
	}))

	job := mustJob(t, KindIncrementalCrawl, CrawlPayload{WindowDays: 2})
	require.NoError(t, r.handleIncrementalCrawl(ctx, job))

	scans := q.Snapshot(KindDeepScan)
	require.Len(t, scans, 1, "a never-scanned repo is requeued")
	assert.JSONEq(t, `{"owner":"carol","repo":"app"}`, string(scans[0].Payload))
	assert.Len(t, q.Snapshot(KindScoreBatch), 1)
}

func TestHandleScoreBatchRescores(t *testing.T) {
	r, _, store := newTestRunner(t, &fakeHost{})
	ctx := context.Background()

	rec := seedSkill(t, store)
	r.now = func() time.Time { return time.Now().Add(8 * 24 * time.Hour) }

	job := mustJob(t, KindScoreBatch, ScoreBatchPayload{Limit: 10})
	require.NoError(t, r.handleScoreBatch(ctx, job))

	got, err := store.GetSkill(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, 100, got.SecurityScore)
	assert.Greater(t, got.QualityScore, 0)
}

func TestRunnerScoreClassifiesAndRescores(t *testing.T) {
	r, _, store := newTestRunner(t, &fakeHost{})
	ctx := context.Background()

	seedSkill(t, store)
	r.now = func() time.Time { return time.Now().Add(8 * 24 * time.Hour) }

	report, err := r.Score(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Classified.Records)
	assert.Zero(t, report.Classified.Duplicates)
	assert.Equal(t, 1, report.Rescored)

	// A fresh pass right after finds nothing stale.
	r.now = time.Now
	report, err = r.Score(ctx, 0)
	require.NoError(t, err)
	assert.Zero(t, report.Rescored)
}

func TestRunnerScanInline(t *testing.T) {
	r, _, store := newTestRunner(t, demoHost())
	ctx := context.Background()

	res, err := r.Scan(ctx, "alice", "demo", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Indexed)

	_, err = store.GetSkill(ctx, "alice/demo/hello-world")
	require.NoError(t, err)
}

func TestRunnerCrawlInline(t *testing.T) {
	host := demoHost()
	host.code = map[string]*githost.CodeSearchResult{
		"filename:SKILL.md": {
			TotalCount: 1,
			Items: []githost.CodeHit{{
				Name: "SKILL.md", Path: "skills/hello/SKILL.md", Repo: *demoRepo(),
			}},
		},
	}
	host.repoHits = []githost.Repo{*demoRepo()}
	r, q, store := newTestRunner(t, host)
	ctx := context.Background()

	report, err := r.Crawl(ctx, true, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, report.ReposDiscovered)
	assert.Equal(t, 1, report.ReposScanned)
	assert.Equal(t, 1, report.Candidates, "deep-scan finds the same file code search did")
	require.NotNil(t, report.Result)
	assert.Equal(t, 1, report.Result.Indexed)

	_, err = store.GetSkill(ctx, "alice/demo/hello-world")
	require.NoError(t, err)

	assert.Empty(t, q.Snapshot(KindDeepScan), "inline crawls bypass the queue")
}

func TestProcessRequests(t *testing.T) {
	r, q, store := newTestRunner(t, &fakeHost{})
	ctx := context.Background()

	store.SeedAddRequest(catalog.AddRequest{
		ID: 1, Owner: "dana", Repo: "kit", UserEmail: "dana@example.com", Status: "approved",
	})
	rec := seedSkill(t, store)
	store.SeedRemovalRequest(catalog.RemovalRequest{ID: 1, SkillID: rec.ID, Status: "approved"})

	report, err := r.ProcessRequests(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.ScansQueued)
	assert.Equal(t, 1, report.Removed)

	scans := q.Snapshot(KindDeepScan)
	require.Len(t, scans, 1)
	assert.JSONEq(t, `{"owner":"dana","repo":"kit"}`, string(scans[0].Payload))

	blocked, err := store.GetSkill(ctx, rec.ID)
	require.NoError(t, err)
	assert.True(t, blocked.IsBlocked)

	// The add request stays approved until a skill lands; the queued
	// scan suppresses a duplicate, and the removal is already enforced.
	report, err = r.ProcessRequests(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.ScansQueued)
	assert.Zero(t, report.Removed)
}

// seedSkill stores a directly-indexed record the rescoring path can chew on.
func seedSkill(t *testing.T, store *catalog.MemoryStore) *catalog.Skill {
	t.Helper()
	rec := &catalog.Skill{
		ID:           "alice/demo/hello-world",
		Owner:        "alice",
		Repo:         "demo",
		Name:         "hello-world",
		Description:  "Greets the user with a friendly message every time",
		Version:      "1.0.0",
		License:      "MIT",
		Branch:       "main",
		SkillPath:    "skills/hello/SKILL.md",
		SourceFormat: skillfile.FormatSkillMD,
		RawContent:   helloSkill,
		ContentHash:  "abc123",
		Stars:        42,
		Forks:        3,
		Topics:       []string{"ai", "skills"},
		PushedAt:     time.Now().Add(-24 * time.Hour),
		Platforms:    []string{"claude"},
	}
	_, err := store.UpsertSkill(context.Background(), rec, false)
	require.NoError(t, err)
	return rec
}
