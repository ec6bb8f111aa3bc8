package stats

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct{ t time.Time }

func (c *clock) Now() time.Time { return c.t }

func TestFileRecorder_Record(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "stats.json")
	c := &clock{t: time.Date(2026, 4, 20, 15, 0, 0, 0, time.UTC)}
	r := NewFileRecorder(path, c.Now)

	require.NoError(t, r.Record(ctx, 1024, "txt"))
	require.NoError(t, r.Record(ctx, 2048, "png"))
	require.NoError(t, r.Record(ctx, 10, "txt"))

	snap, err := r.Snapshot(ctx)
	require.NoError(t, err)

	assert.Equal(t, int64(3), snap.AllTime.Uploads)
	assert.Equal(t, int64(3082), snap.AllTime.TotalSize)
	assert.Equal(t, "3.0 KiB", snap.AllTime.HumanReadableSize)
	assert.Equal(t, int64(3), snap.Last7Days.Uploads)
	assert.Equal(t, map[string]int64{"txt": 2, "png": 1}, snap.FileTypes)
	require.Len(t, snap.DailyStats, 1)
	assert.Equal(t, "2026-04-20", snap.DailyStats[0].Date)

	t.Run("persists and reloads", func(t *testing.T) {
		_, err := os.Stat(path)
		require.NoError(t, err)

		reloaded := NewFileRecorder(path, c.Now)
		snap, err := reloaded.Snapshot(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(3), snap.AllTime.Uploads)
		assert.Equal(t, int64(2), snap.FileTypes["txt"])
	})
}

func TestFileRecorder_Windows(t *testing.T) {
	ctx := context.Background()
	c := &clock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	r := NewFileRecorder(filepath.Join(t.TempDir(), "stats.json"), c.Now)

	for day := 0; day < 40; day++ {
		require.NoError(t, r.Record(ctx, 100, "bin"))
		c.t = c.t.Add(24 * time.Hour)
	}
	c.t = c.t.Add(-24 * time.Hour)

	snap, err := r.Snapshot(ctx)
	require.NoError(t, err)

	assert.Equal(t, int64(40), snap.AllTime.Uploads)
	assert.Len(t, snap.DailyStats, RetainedDays)
	assert.Equal(t, int64(RecentDays), snap.Last7Days.Uploads)
	assert.Equal(t, int64(RecentDays*100), snap.Last7Days.TotalSize)
	assert.Equal(t, DateOf(c.t), snap.DailyStats[0].Date, "newest first")

	t.Run("quiet week empties the trailing window", func(t *testing.T) {
		c.t = c.t.Add(8 * 24 * time.Hour)
		snap, err := r.Snapshot(ctx)
		require.NoError(t, err)
		assert.Zero(t, snap.Last7Days.Uploads)
		assert.Equal(t, int64(40), snap.AllTime.Uploads)
	})
}

func TestFileRecorder_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stats.json")
	require.NoError(t, os.WriteFile(path, []byte("{oops"), 0644))

	r := NewFileRecorder(path, nil)
	snap, err := r.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Zero(t, snap.AllTime.Uploads)

	require.NoError(t, r.Record(context.Background(), 1, "unknown"))
	reloaded := NewFileRecorder(path, nil)
	snap, err = reloaded.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), snap.AllTime.Uploads)
}

func TestFormatSize(t *testing.T) {
	assert.Equal(t, "0 B", FormatSize(0))
	assert.Equal(t, "0 B", FormatSize(-5))
	assert.Equal(t, "1.0 MiB", FormatSize(1<<20))
}
