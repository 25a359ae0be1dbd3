package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPermanentMarker(t *testing.T) {
	base := errors.New("bad payload")
	err := Permanent(base)
	assert.True(t, IsPermanent(err))
	assert.ErrorIs(t, err, base)

	wrapped := fmt.Errorf("handling job: %w", err)
	assert.True(t, IsPermanent(wrapped), "the marker survives wrapping")

	assert.False(t, IsPermanent(base))
	assert.NoError(t, Permanent(nil))
}

func TestWorkerRunExecutesJobs(t *testing.T) {
	q := NewMemQueue()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ran := make(chan *Job, 1)
	w := NewWorker(q, slog.Default())
	w.poll = 10 * time.Millisecond
	w.Register(KindScoreBatch, 1, func(_ context.Context, job *Job) error {
		ran <- job
		return nil
	})

	job := mustJob(t, KindScoreBatch, ScoreBatchPayload{Limit: 5})
	require.NoError(t, q.Enqueue(ctx, job))

	errc := make(chan error, 1)
	go func() { errc <- w.Run(ctx) }()

	select {
	case got := <-ran:
		assert.Equal(t, job.ID, got.ID)
		assert.JSONEq(t, `{"limit":5}`, string(got.Payload))
	case <-time.After(5 * time.Second):
		t.Fatal("worker never claimed the job")
	}
	cancel()
	require.NoError(t, <-errc)

	snap := q.Snapshot(KindScoreBatch)
	require.Len(t, snap, 1)
	assert.Equal(t, StatusDone, snap[0].Status)
}

func TestRunJobReschedulesTransientFailure(t *testing.T) {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	q, _ := fixedQueue(start)
	ctx := context.Background()

	w := NewWorker(q, slog.Default())
	w.Register(KindIndexSkill, 1, func(context.Context, *Job) error {
		return errors.New("host returned 502")
	})

	require.NoError(t, q.Enqueue(ctx, mustJob(t, KindIndexSkill, nil)))
	claimed, err := q.Claim(ctx, KindIndexSkill)
	require.NoError(t, err)
	w.runJob(ctx, claimed)

	snap := q.Snapshot(KindIndexSkill)
	require.Len(t, snap, 1)
	assert.Equal(t, StatusPending, snap[0].Status)
	assert.Equal(t, start.Add(30*time.Second), snap[0].RunAt)
	assert.Contains(t, snap[0].LastError, "502")
}

func TestRunJobDropsPermanentFailure(t *testing.T) {
	q, _ := fixedQueue(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	ctx := context.Background()

	w := NewWorker(q, slog.Default())
	w.Register(KindIndexSkill, 1, func(context.Context, *Job) error {
		return Permanent(errors.New("unparseable payload"))
	})

	require.NoError(t, q.Enqueue(ctx, mustJob(t, KindIndexSkill, nil)))
	claimed, err := q.Claim(ctx, KindIndexSkill)
	require.NoError(t, err)
	w.runJob(ctx, claimed)

	snap := q.Snapshot(KindIndexSkill)
	require.Len(t, snap, 1)
	assert.Equal(t, StatusFailed, snap[0].Status)
	assert.Equal(t, 1, snap[0].Attempts)
}

func TestRunJobFailsAfterMaxAttempts(t *testing.T) {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	q, clock := fixedQueue(start)
	ctx := context.Background()

	w := NewWorker(q, slog.Default())
	w.Register(KindDeepScan, 1, func(context.Context, *Job) error {
		return errors.New("always failing")
	})

	require.NoError(t, q.Enqueue(ctx, mustJob(t, KindDeepScan, DeepScanPayload{Owner: "a", Repo: "x"})))
	for i := 0; i < DefaultMaxAttempts; i++ {
		*clock = clock.Add(time.Hour)
		claimed, err := q.Claim(ctx, KindDeepScan)
		require.NoError(t, err)
		w.runJob(ctx, claimed)
	}

	snap := q.Snapshot(KindDeepScan)
	require.Len(t, snap, 1)
	assert.Equal(t, StatusFailed, snap[0].Status)
	assert.Equal(t, DefaultMaxAttempts, snap[0].Attempts)
}

func TestRegisterFloorsSlots(t *testing.T) {
	w := NewWorker(NewMemQueue(), slog.Default())
	w.Register(KindFullCrawl, 0, func(context.Context, *Job) error { return nil })
	assert.Equal(t, 1, w.slots[KindFullCrawl])
}
