package history

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jmylchreest/flowmux/internal/engine"
)

func setupTestRepo(t *testing.T) *Repository {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	repo, err := NewRepository(db)
	require.NoError(t, err)
	return repo
}

func sampleResult(runID string, status engine.Status) *engine.Result {
	return &engine.Result{
		RunID:  runID,
		Status: status,
		Stages: map[string]engine.StageReport{
			"mux/out": {
				Kind:  engine.KindMux,
				State: engine.StateFinished,
				Stats: engine.StageStats{UnitsIn: 120, UnitsOut: 120},
			},
			"demux/in": {
				Kind:  engine.KindDemux,
				State: engine.StateFinished,
				Stats: engine.StageStats{UnitsOut: 240},
			},
		},
		Duration: 3 * time.Second,
	}
}

func TestRepository_Record(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	started := time.Now().Add(-5 * time.Second)
	result := sampleResult("run-a", engine.StatusSuccess)
	result.Err = errors.New("encoder vanished")

	run, err := repo.Record(ctx, result, "input.ts", 2, started)
	require.NoError(t, err)
	assert.False(t, run.ID.IsZero())
	assert.Equal(t, "run-a", run.RunID)
	assert.Equal(t, "input.ts", run.Input)
	assert.Equal(t, 2, run.Outputs)
	assert.Equal(t, "encoder vanished", run.Error)
	assert.Equal(t, int64(3000), run.DurationMS)

	got, err := repo.GetByID(ctx, run.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, run.RunID, got.RunID)

	// Stage summaries round-trip through the JSON column in name order.
	require.Len(t, got.Stages, 2)
	assert.Equal(t, "demux/in", got.Stages[0].Name)
	assert.Equal(t, "mux/out", got.Stages[1].Name)
	assert.Equal(t, int64(120), got.Stages[1].UnitsIn)
	assert.Equal(t, "finished", got.Stages[1].State)
}

func TestRepository_GetMissing(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	got, err := repo.GetByID(ctx, NewULID())
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = repo.GetByRunID(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRepository_List(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i, status := range []engine.Status{engine.StatusSuccess, engine.StatusFailed, engine.StatusSuccess} {
		_, err := repo.Record(ctx, sampleResult(string(rune('a'+i)), status), "in.ts", 1, base.Add(time.Duration(i)*time.Minute))
		require.NoError(t, err)
	}

	runs, err := repo.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	// Newest first.
	assert.Equal(t, "c", runs[0].RunID)
	assert.Equal(t, "a", runs[2].RunID)

	runs, err = repo.List(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, runs, 2)

	failed, err := repo.ListByStatus(ctx, string(engine.StatusFailed), 0)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "b", failed[0].RunID)
}

func TestRepository_Prune(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	old := time.Now().Add(-72 * time.Hour)
	recent := time.Now().Add(-time.Hour)

	_, err := repo.Record(ctx, sampleResult("old", engine.StatusSuccess), "in.ts", 1, old)
	require.NoError(t, err)
	_, err = repo.Record(ctx, sampleResult("recent", engine.StatusSuccess), "in.ts", 1, recent)
	require.NoError(t, err)

	removed, err := repo.Prune(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	runs, err := repo.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "recent", runs[0].RunID)

	removed, err = repo.Prune(ctx, 0)
	require.NoError(t, err)
	assert.Zero(t, removed)
}
