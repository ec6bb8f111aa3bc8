package stats

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/natefinch/atomic"
)

// FileRecorder keeps statistics in memory and rewrites a JSON file after
// every update.
type FileRecorder struct {
	path string
	now  func() time.Time

	mu   sync.Mutex
	snap Snapshot
}

// NewFileRecorder loads path if it exists. An unreadable file is logged and
// replaced with empty statistics on the next write.
func NewFileRecorder(path string, now func() time.Time) *FileRecorder {
	if now == nil {
		now = time.Now
	}
	r := &FileRecorder{path: path, now: now}
	r.snap.FileTypes = make(map[string]int64)

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		slog.Warn("failed to read stats file, starting fresh", "path", path, "error", err)
	default:
		var snap Snapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			slog.Warn("stats file is corrupt, starting fresh", "path", path, "error", err)
			break
		}
		r.snap = snap
		r.snap.Finalize(now())
	}
	return r
}

// Record adds one upload of size bytes with extension ext.
func (r *FileRecorder) Record(_ context.Context, size int64, ext string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now().UTC()
	r.snap.AllTime.Uploads++
	r.snap.AllTime.TotalSize += size
	r.snap.AllTime.LastUpdated = now

	today := DateOf(now)
	found := false
	for i := range r.snap.DailyStats {
		if r.snap.DailyStats[i].Date == today {
			r.snap.DailyStats[i].Uploads++
			r.snap.DailyStats[i].TotalSize += size
			found = true
			break
		}
	}
	if !found {
		r.snap.DailyStats = append(r.snap.DailyStats, Day{Date: today, Uploads: 1, TotalSize: size})
	}

	if ext != "" {
		r.snap.FileTypes[ext]++
	}
	r.snap.Finalize(now)

	slog.Debug("recorded upload",
		"size", FormatSize(size),
		"ext", ext,
		"total_uploads", r.snap.AllTime.Uploads,
		"total_size", r.snap.AllTime.HumanReadableSize,
	)
	return r.save()
}

// Snapshot returns a copy of the current statistics.
func (r *FileRecorder) Snapshot(_ context.Context) (*Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap := r.snap
	snap.DailyStats = append([]Day(nil), r.snap.DailyStats...)
	snap.FileTypes = make(map[string]int64, len(r.snap.FileTypes))
	for k, v := range r.snap.FileTypes {
		snap.FileTypes[k] = v
	}
	snap.Finalize(r.now())
	return &snap, nil
}

// save writes the snapshot. Caller holds r.mu.
func (r *FileRecorder) save() error {
	data, err := json.MarshalIndent(&r.snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode stats: %w", err)
	}
	if err := atomic.WriteFile(r.path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write stats: %w", err)
	}
	return nil
}
