package db

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTest(t *testing.T) *Handle {
	t.Helper()
	h, err := OpenAt(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, h.Migrate())
	t.Cleanup(func() { _ = h.Close() })
	return h
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open("oracle", "x")
	assert.Error(t, err)
}

func TestMigrate_Twice(t *testing.T) {
	h := openTest(t)
	require.NoError(t, h.DB.Create(&SyncIssue{ExternalID: "A", Reason: "dup", DocumentIDs: "[]"}).Error)
	require.NoError(t, h.Migrate())

	var n int64
	require.NoError(t, h.DB.Model(&SyncIssue{}).Count(&n).Error)
	assert.Zero(t, n, "issues are purged on migrate")
}

func TestRuns(t *testing.T) {
	h := openTest(t)
	ctx := context.Background()

	older := &SyncRun{RunID: "r1", Status: RunRunning, StartedAt: time.Now().UTC().Add(-time.Hour)}
	newer := &SyncRun{RunID: "r2", Status: RunRunning, StartedAt: time.Now().UTC()}
	require.NoError(t, CreateRun(ctx, h.DB, older))
	require.NoError(t, CreateRun(ctx, h.DB, newer))

	newer.Status = RunCompleted
	newer.Deleted = 2
	newer.Synced = 2
	require.NoError(t, FinishRun(ctx, h.DB, newer))

	runs, err := RecentRuns(ctx, h.DB, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "r2", runs[0].RunID)
	assert.Equal(t, RunCompleted, runs[0].Status)
	assert.Equal(t, 2, runs[0].Synced)
	assert.NotNil(t, runs[0].FinishedAt)
	assert.Equal(t, RunRunning, runs[1].Status)
}

func TestSnapshots(t *testing.T) {
	h := openTest(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, UpsertSnapshots(ctx, h.DB, []ProductSnapshot{
		{DocumentID: "d1", ExternalID: "A", Name: "Barrel Sauna", SeenAt: now},
		{DocumentID: "d2", ExternalID: "B", Name: "Cabin Sauna", SeenAt: now},
	}))

	require.NoError(t, MarkSnapshotsRemoved(ctx, h.DB, []string{"d1"}, now))
	live, err := LiveSnapshots(ctx, h.DB)
	require.NoError(t, err)
	require.Len(t, live, 1)
	assert.Equal(t, "d2", live[0].DocumentID)

	// ponowne zobaczenie dokumentu zdejmuje removed_at
	require.NoError(t, UpsertSnapshots(ctx, h.DB, []ProductSnapshot{
		{DocumentID: "d1", ExternalID: "A", Name: "Barrel Sauna XL", SeenAt: now},
	}))
	require.NoError(t, MarkSnapshotsRemovedExcept(ctx, h.DB, []string{"d1"}, now))

	live, err = LiveSnapshots(ctx, h.DB)
	require.NoError(t, err)
	require.Len(t, live, 1)
	assert.Equal(t, "Barrel Sauna XL", live[0].Name)
}

func TestKV(t *testing.T) {
	h := openTest(t)
	ctx := context.Background()

	_, ok, err := GetKV(ctx, h.DB, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, SetKV(ctx, h.DB, "k", "v1"))
	require.NoError(t, SetKV(ctx, h.DB, "k", "v2"))
	v, ok, err := GetKV(ctx, h.DB, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v2", v)
}

func TestSavePrice_Upsert(t *testing.T) {
	h := openTest(t)
	ctx := context.Background()

	require.NoError(t, SavePrice(ctx, h.DB, &PriceRecord{PriceID: "price_1", ProductID: "prod_1", Amount: 100, Currency: "eur"}))
	require.NoError(t, SavePrice(ctx, h.DB, &PriceRecord{PriceID: "price_1", ProductID: "prod_1", Amount: 250, Currency: "eur", Variant: "XL"}))

	var rec PriceRecord
	require.NoError(t, h.DB.Where("price_id = ?", "price_1").Take(&rec).Error)
	assert.Equal(t, int64(250), rec.Amount)
	assert.Equal(t, "XL", rec.Variant)
}
