package githost

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeJSON(t *testing.T, w http.ResponseWriter, status int, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	require.NoError(t, json.NewEncoder(w).Encode(v))
}

func setQuotaHeaders(w http.ResponseWriter, limit, remaining int, reset time.Time) {
	h := w.Header()
	h.Set("x-ratelimit-limit", strconv.Itoa(limit))
	h.Set("x-ratelimit-remaining", strconv.Itoa(remaining))
	h.Set("x-ratelimit-reset", strconv.FormatInt(reset.Unix(), 10))
}

// newTestClient wires a client and single-credential pool against srv,
// with a fake clock shared by the pool and the client.
func newTestClient(t *testing.T, srv *httptest.Server, clock *fakeClock) *Client {
	t.Helper()
	pool := newTestPool(clock, Credential{Token: "tok-test", Name: "test"})
	cfg := DefaultConfig()
	cfg.BaseURL = srv.URL
	cfg.Retry = RetryConfig{MaxRetries: 3, InitialBackoff: 2 * time.Second, MaxBackoff: 8 * time.Second, Multiplier: 2.0}
	c := NewClient(cfg, pool, slog.Default())
	c.now = clock.Now
	c.sleep = clock.Sleep
	return c
}

func TestClientGetRepoNotFound(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setQuotaHeaders(w, 5000, 4999, base.Add(time.Hour))
		writeJSON(t, w, http.StatusNotFound, map[string]string{"message": "Not Found"})
	}))
	defer srv.Close()

	c := newTestClient(t, srv, newFakeClock(base))
	_, err := c.GetRepo(context.Background(), "ghost", "gone")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestClientGetRepoParsesWire(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/alice/toolkit", r.URL.Path)
		assert.Equal(t, "Bearer tok-test", r.Header.Get("Authorization"))
		setQuotaHeaders(w, 5000, 4999, base.Add(time.Hour))
		writeJSON(t, w, http.StatusOK, map[string]any{
			"name":              "toolkit",
			"full_name":         "alice/toolkit",
			"owner":             map[string]string{"login": "alice"},
			"description":       "Agent toolkit",
			"default_branch":    "main",
			"stargazers_count":  42,
			"forks_count":       3,
			"topics":            []string{"ai-agent", "skills"},
			"license":           map[string]string{"spdx_id": "MIT"},
			"archived":          false,
			"fork":              false,
			"pushed_at":         "2025-05-20T10:00:00Z",
			"created_at":        "2024-01-05T08:30:00Z",
			"html_url":          "https://example.com/alice/toolkit",
		})
	}))
	defer srv.Close()

	c := newTestClient(t, srv, newFakeClock(base))
	repo, err := c.GetRepo(context.Background(), "alice", "toolkit")
	require.NoError(t, err)
	assert.Equal(t, "alice", repo.Owner)
	assert.Equal(t, "toolkit", repo.Name)
	assert.Equal(t, 42, repo.Stars)
	assert.Equal(t, "MIT", repo.License)
	assert.Equal(t, "main", repo.DefaultBranch)
	assert.Equal(t, 2024, repo.CreatedAt.Year())
}

func TestClientSearchBeyondResults(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setQuotaHeaders(w, 5000, 4999, base.Add(time.Hour))
		writeJSON(t, w, http.StatusUnprocessableEntity, map[string]string{
			"message": "Only the first 1000 search results are available",
		})
	}))
	defer srv.Close()

	c := newTestClient(t, srv, newFakeClock(base))
	_, err := c.SearchCode(context.Background(), "filename:SKILL.md", 11, 100)
	assert.ErrorIs(t, err, ErrBeyondResults)
}

func TestClientCodeSearchPacing(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setQuotaHeaders(w, 5000, 4999, base.Add(time.Hour))
		writeJSON(t, w, http.StatusOK, map[string]any{
			"total_count": 0, "incomplete_results": false, "items": []any{},
		})
	}))
	defer srv.Close()

	clock := newFakeClock(base)
	c := newTestClient(t, srv, clock)

	_, err := c.SearchCode(context.Background(), "filename:SKILL.md", 1, 100)
	require.NoError(t, err)
	_, err = c.SearchCode(context.Background(), "filename:SKILL.md", 2, 100)
	require.NoError(t, err)

	// Back-to-back calls must observe the full pacing interval.
	waits := clock.recorded()
	require.Len(t, waits, 1, "first call is unpaced, second waits")
	assert.Equal(t, 7*time.Second, waits[0])
	assert.True(t, clock.Now().Sub(base) >= 7*time.Second)
}

func TestClientSecondaryLimitSleepsAndRetries(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setQuotaHeaders(w, 5000, 4000, base.Add(time.Hour))
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "30")
			writeJSON(t, w, http.StatusForbidden, map[string]string{
				"message": "You have exceeded a secondary rate limit. Please wait a few minutes before you try again.",
			})
			return
		}
		writeJSON(t, w, http.StatusOK, map[string]any{
			"name": "toolkit", "owner": map[string]string{"login": "alice"},
		})
	}))
	defer srv.Close()

	clock := newFakeClock(base)
	c := newTestClient(t, srv, clock)

	repo, err := c.GetRepo(context.Background(), "alice", "toolkit")
	require.NoError(t, err)
	assert.Equal(t, "toolkit", repo.Name)
	assert.Equal(t, int32(2), calls.Load())
	require.Len(t, clock.recorded(), 1)
	assert.Equal(t, 30*time.Second, clock.recorded()[0])
}

func TestClientSecondaryLimitFloorsRetryAfter(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setQuotaHeaders(w, 5000, 4000, base.Add(time.Hour))
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "2")
			writeJSON(t, w, http.StatusForbidden, map[string]string{
				"message": "You have exceeded a secondary rate limit.",
			})
			return
		}
		writeJSON(t, w, http.StatusOK, map[string]any{"name": "x", "owner": map[string]string{"login": "o"}})
	}))
	defer srv.Close()

	clock := newFakeClock(base)
	c := newTestClient(t, srv, clock)
	_, err := c.GetRepo(context.Background(), "o", "x")
	require.NoError(t, err)
	require.Len(t, clock.recorded(), 1)
	assert.Equal(t, 10*time.Second, clock.recorded()[0], "retry-after below the floor is raised to it")
}

func TestClientPrimaryLimitRotatesCredential(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.Header.Get("Authorization") == "Bearer tok-a" {
			setQuotaHeaders(w, 5000, 0, base.Add(time.Hour))
			writeJSON(t, w, http.StatusForbidden, map[string]string{"message": "API rate limit exceeded"})
			return
		}
		setQuotaHeaders(w, 5000, 4999, base.Add(time.Hour))
		writeJSON(t, w, http.StatusOK, map[string]any{"name": "x", "owner": map[string]string{"login": "o"}})
	}))
	defer srv.Close()

	clock := newFakeClock(base)
	pool := newTestPool(clock,
		Credential{Token: "tok-a", Name: "a"},
		Credential{Token: "tok-b", Name: "b"},
	)
	cfg := DefaultConfig()
	cfg.BaseURL = srv.URL
	c := NewClient(cfg, pool, slog.Default())
	c.now = clock.Now
	c.sleep = clock.Sleep

	repo, err := c.GetRepo(context.Background(), "o", "x")
	require.NoError(t, err)
	assert.Equal(t, "x", repo.Name)
	assert.Equal(t, int32(2), calls.Load())
	assert.Empty(t, clock.recorded(), "rotation to the second credential must not sleep")
}

func TestClientRetriesServerErrors(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		setQuotaHeaders(w, 5000, 4999, base.Add(time.Hour))
		writeJSON(t, w, http.StatusOK, map[string]any{"name": "x", "owner": map[string]string{"login": "o"}})
	}))
	defer srv.Close()

	clock := newFakeClock(base)
	c := newTestClient(t, srv, clock)
	_, err := c.GetRepo(context.Background(), "o", "x")
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
	require.Len(t, clock.recorded(), 1)
	assert.Equal(t, 2*time.Second, clock.recorded()[0])
}

func TestClientGetContentsDecodesBase64(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	body := "---\nname: demo\n---\n\n# Demo\n"
	// The host wraps base64 at 60 columns.
	enc := base64.StdEncoding.EncodeToString([]byte(body))
	wrapped := enc[:20] + "\n" + enc[20:]

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/o/x/contents/skills/demo/SKILL.md", r.URL.Path)
		assert.Equal(t, "main", r.URL.Query().Get("ref"))
		setQuotaHeaders(w, 5000, 4999, base.Add(time.Hour))
		writeJSON(t, w, http.StatusOK, map[string]any{
			"name":     "SKILL.md",
			"path":     "skills/demo/SKILL.md",
			"sha":      "abc123",
			"size":     len(body),
			"type":     "file",
			"encoding": "base64",
			"content":  wrapped,
		})
	}))
	defer srv.Close()

	c := newTestClient(t, srv, newFakeClock(base))
	file, err := c.GetContents(context.Background(), "o", "x", "skills/demo/SKILL.md", "main")
	require.NoError(t, err)

	raw, err := file.Decode()
	require.NoError(t, err)
	assert.Equal(t, body, string(raw))
}

func TestClientGetTreeReportsTruncation(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "1", r.URL.Query().Get("recursive"))
		setQuotaHeaders(w, 5000, 4999, base.Add(time.Hour))
		writeJSON(t, w, http.StatusOK, map[string]any{
			"sha":       "deadbeef",
			"truncated": true,
			"tree": []map[string]any{
				{"path": "SKILL.md", "mode": "100644", "type": "blob", "size": 512, "sha": "aaa"},
				{"path": "skills", "mode": "040000", "type": "tree", "sha": "bbb"},
			},
		})
	}))
	defer srv.Close()

	c := newTestClient(t, srv, newFakeClock(base))
	tree, err := c.GetTree(context.Background(), "o", "x", "main", true)
	require.NoError(t, err)
	assert.True(t, tree.Truncated)
	require.Len(t, tree.Entries, 2)
	assert.Equal(t, "blob", tree.Entries[0].Type)
}

func TestClientListDirectory(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setQuotaHeaders(w, 5000, 4999, base.Add(time.Hour))
		writeJSON(t, w, http.StatusOK, []map[string]any{
			{"name": "demo", "path": "skills/demo", "type": "dir"},
			{"name": "README.md", "path": "skills/README.md", "type": "file", "size": 100},
		})
	}))
	defer srv.Close()

	c := newTestClient(t, srv, newFakeClock(base))
	entries, err := c.ListDirectory(context.Background(), "o", "x", "skills", "main")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "dir", entries[0].Type)
}

func TestClientFetchQuota(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rate_limit", r.URL.Path)
		assert.Equal(t, "Bearer tok-other", r.Header.Get("Authorization"))
		writeJSON(t, w, http.StatusOK, map[string]any{
			"resources": map[string]any{
				"core": map[string]any{
					"limit":     5000,
					"remaining": 1234,
					"reset":     base.Add(time.Hour).Unix(),
				},
			},
		})
	}))
	defer srv.Close()

	c := newTestClient(t, srv, newFakeClock(base))
	rl, err := c.FetchQuota(context.Background(), Credential{Token: "tok-other", Name: "other"})
	require.NoError(t, err)
	assert.Equal(t, 1234, rl.Remaining)
	assert.Equal(t, base.Add(time.Hour).Unix(), rl.Reset.Unix())
}

func TestRetryAfterBounds(t *testing.T) {
	mk := func(v string) http.Header {
		h := http.Header{}
		if v != "" {
			h.Set("Retry-After", v)
		}
		return h
	}
	assert.Equal(t, 60*time.Second, retryAfter(mk("")), "missing header defaults to 60s")
	assert.Equal(t, 10*time.Second, retryAfter(mk("3")), "below floor is raised to 10s")
	assert.Equal(t, 45*time.Second, retryAfter(mk("45")))
	assert.Equal(t, 60*time.Second, retryAfter(mk("garbage")))
}

func TestAPIErrorWrapping(t *testing.T) {
	err := &APIError{StatusCode: 451, Message: "unavailable for legal reasons", URL: "/repos/o/x"}
	var apiErr *APIError
	assert.True(t, errors.As(err, &apiErr))
	assert.Contains(t, err.Error(), "451")
}
