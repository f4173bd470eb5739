package sqlite

import (
	"errors"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/decarlof/XFusion/internal/fusion"
)

func openTestStore(t *testing.T) *MetricStore {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "metrics.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestOpenAppliesMigrations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metrics.db")
	store, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	// Reopening an up-to-date database must be a no-op, not an error.
	store, err = Open(path)
	require.NoError(t, err)
	require.NoError(t, store.Close())
}

func TestInsertRunGeneratesID(t *testing.T) {
	store := openTestStore(t)

	run := &Run{
		TestSet:    "dataset1",
		LoFrameSep: 1,
		HiFrameSep: 3,
		B0:         0,
		Rank:       0,
		WorldSize:  1,
		Seed:       10,
		Frames:     12,
		PSNRMean:   31.5,
	}
	require.NoError(t, store.InsertRun(run))
	assert.NotEmpty(t, run.RunID)
	assert.NotZero(t, run.CreatedAt)

	got, err := store.GetRun(run.RunID)
	require.NoError(t, err)
	assert.Equal(t, "dataset1", got.TestSet)
	assert.Equal(t, 3, got.HiFrameSep)
	assert.Equal(t, int64(10), got.Seed)
	assert.InDelta(t, 31.5, got.PSNRMean, 1e-9)
}

func TestFrameMetricsRoundTrip(t *testing.T) {
	store := openTestStore(t)

	run := &Run{TestSet: "dataset1", WorldSize: 1, Frames: 2}
	require.NoError(t, store.InsertRun(run))

	recs := []fusion.MetricRecord{
		{
			Index:      1,
			PSNR:       28.125,
			AAD:        3.5,
			SSIM:       0.91,
			Attention:  []float64{0.1, 0.2, 0.3, 0.4},
			Boundary:   1,
			SourcePath: "LR/frame_0001.png",
		},
		{
			Index:      2,
			PSNR:       math.Inf(1),
			AAD:        0,
			SSIM:       1,
			Attention:  []float64{0.25, 0.25, 0.25, 0.25},
			Boundary:   0,
			SourcePath: "LR/frame_0002.png",
		},
	}
	// Insert out of order to exercise the ORDER BY.
	require.NoError(t, store.InsertFrameMetric(run.RunID, recs[1]))
	require.NoError(t, store.InsertFrameMetric(run.RunID, recs[0]))

	got, err := store.FrameMetrics(run.RunID)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, recs[0], got[0])
	assert.True(t, math.IsInf(got[1].PSNR, 1), "NULL psnr must read back as +Inf")
	assert.Equal(t, recs[1].Attention, got[1].Attention)
}

func TestGetRunUnknownID(t *testing.T) {
	store := openTestStore(t)
	_, err := store.GetRun("no-such-run")
	assert.Error(t, err)
}

func TestRetryOnBusy(t *testing.T) {
	calls := 0
	err := retryOnBusy(func() error {
		calls++
		if calls < 3 {
			return errors.New("database is locked (SQLITE_BUSY)")
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)

	permanent := errors.New("no such table: frame_metrics")
	calls = 0
	err = retryOnBusy(func() error {
		calls++
		return permanent
	})
	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, calls)
}
