package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yourusername/clever-backtest/internal/models"
)

func newTestStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store, err := NewRedisStore(client, "test", time.Hour)
	require.NoError(t, err)
	return store, mr
}

func pendingJob(id string) *models.BacktestJob {
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	return &models.BacktestJob{
		JobID:     id,
		ClientID:  "c1",
		Tier:      "free",
		Status:    models.JobStatusPending,
		Priority:  models.PriorityNormal,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestRedisStoreCreateAndGet(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateJob(ctx, pendingJob("j1")))
	assert.True(t, errors.Is(store.CreateJob(ctx, pendingJob("j1")), models.ErrDuplicateKey))

	job, err := store.GetJob(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, job.Status)
	assert.Equal(t, "c1", job.ClientID)

	_, err = store.GetJob(ctx, "missing")
	assert.True(t, errors.Is(err, models.ErrNotFound))

	ids, err := store.ActiveJobIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"j1"}, ids)
}

func TestRedisStoreUpdateJobAppliesTerminalTTL(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.CreateJob(ctx, pendingJob("j1")))

	job, err := store.UpdateJob(ctx, "j1", func(job *models.BacktestJob) (bool, error) {
		job.Status = models.JobStatusRunning
		return true, nil
	})
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusRunning, job.Status)
	assert.Equal(t, time.Duration(0), mr.TTL("test:job:j1"), "running jobs never expire")

	_, err = store.UpdateJob(ctx, "j1", func(job *models.BacktestJob) (bool, error) {
		job.Status = models.JobStatusCompleted
		return true, nil
	})
	require.NoError(t, err)
	assert.Equal(t, time.Hour, mr.TTL("test:job:j1"))

	ids, err := store.ActiveJobIDs(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestRedisStoreUpdateJobPropagatesErrors(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.CreateJob(ctx, pendingJob("j1")))

	boom := errors.New("boom")
	_, err := store.UpdateJob(ctx, "j1", func(job *models.BacktestJob) (bool, error) {
		job.Status = models.JobStatusFailed
		return false, boom
	})
	assert.ErrorIs(t, err, boom)

	job, err := store.GetJob(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, job.Status, "failed update writes nothing")

	_, err = store.UpdateJob(ctx, "missing", func(job *models.BacktestJob) (bool, error) { return true, nil })
	assert.True(t, errors.Is(err, models.ErrNotFound))
}

func TestRedisStoreLease(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	ok, err := store.AcquireLease(ctx, "j1", "owner-a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.AcquireLease(ctx, "j1", "owner-b", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.ReleaseLease(ctx, "j1", "owner-b"))
	held, err := store.LeaseHeld(ctx, "j1")
	require.NoError(t, err)
	assert.True(t, held, "only the owner releases")

	require.NoError(t, store.ReleaseLease(ctx, "j1", "owner-a"))
	held, err = store.LeaseHeld(ctx, "j1")
	require.NoError(t, err)
	assert.False(t, held)

	ok, err = store.AcquireLease(ctx, "j1", "owner-b", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	mr.FastForward(2 * time.Minute)
	held, err = store.LeaseHeld(ctx, "j1")
	require.NoError(t, err)
	assert.False(t, held, "leases expire")
}

func TestRedisStoreQuota(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()
	req := QuotaRequest{ClientID: "c1", PeriodKey: "2024-03", MaxPerPeriod: 2, MaxConcurrent: 1, PeriodTTL: 48 * time.Hour}

	decision, err := store.ReserveQuota(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, QuotaDecision{Allowed: true, Used: 1, Running: 1}, decision)
	assert.Equal(t, 48*time.Hour, mr.TTL("test:quota:c1:2024-03"))

	decision, err = store.ReserveQuota(ctx, req)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, QuotaReasonConcurrency, decision.Reason)

	require.NoError(t, store.ReleaseSlot(ctx, "c1"))
	decision, err = store.ReserveQuota(ctx, req)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Equal(t, 2, decision.Used)

	require.NoError(t, store.ReleaseSlot(ctx, "c1"))
	decision, err = store.ReserveQuota(ctx, req)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, QuotaReasonPeriod, decision.Reason)
	assert.Equal(t, 0, decision.Running, "rejections consume nothing")

	require.NoError(t, store.ReleaseSlot(ctx, "c1"))
	running, err := mr.Get("test:concurrency:c1")
	require.NoError(t, err)
	assert.Equal(t, "0", running, "slots never go negative")
}

func TestRedisStoreCheckpointAndResult(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.CreateJob(ctx, pendingJob("j1")))

	_, err := store.GetCheckpoint(ctx, "j1")
	assert.True(t, errors.Is(err, models.ErrNotFound))

	cp := &models.WorkerCheckpoint{JobID: "j1", LastRaceIndex: 4, LastRaceID: "R5", Capital: 950, ProcessedRaces: 5, TotalRaces: 10}
	require.NoError(t, store.SaveCheckpoint(ctx, cp))
	loaded, err := store.GetCheckpoint(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, cp.LastRaceID, loaded.LastRaceID)
	assert.Equal(t, cp.Capital, loaded.Capital)

	require.NoError(t, store.DeleteCheckpoint(ctx, "j1"))
	_, err = store.GetCheckpoint(ctx, "j1")
	assert.True(t, errors.Is(err, models.ErrNotFound))

	result := &models.BacktestResult{Summary: models.BacktestSummary{TotalBets: 3, FinalCapital: 1200}}
	require.NoError(t, store.SaveResult(ctx, "j1", result, 2*time.Hour))
	assert.Equal(t, 2*time.Hour, mr.TTL("test:result:j1"))
	got, err := store.GetResult(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, 1200.0, got.Summary.FinalCapital)

	require.NoError(t, store.DeleteResult(ctx, "j1"))
	_, err = store.GetResult(ctx, "j1")
	assert.True(t, errors.Is(err, models.ErrNotFound))

	assert.NoError(t, store.Ping(ctx))
}

func TestRedisStoreRefusesWritesForFinishedJobs(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()
	cp := &models.WorkerCheckpoint{JobID: "j1", LastRaceIndex: 2, ProcessedRaces: 3, TotalRaces: 10}

	assert.True(t, errors.Is(store.SaveCheckpoint(ctx, cp), models.ErrNotFound), "unknown job")

	require.NoError(t, store.CreateJob(ctx, pendingJob("j1")))
	_, err := store.UpdateJob(ctx, "j1", func(job *models.BacktestJob) (bool, error) {
		job.Status = models.JobStatusCancelled
		return true, nil
	})
	require.NoError(t, err)

	assert.True(t, errors.Is(store.SaveCheckpoint(ctx, cp), ErrJobFinished))
	assert.True(t, errors.Is(store.SaveResult(ctx, "j1", &models.BacktestResult{}, time.Hour), ErrJobFinished))
	assert.False(t, mr.Exists("test:checkpoint:j1"))
	assert.False(t, mr.Exists("test:result:j1"))
}
