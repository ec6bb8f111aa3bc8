// Package stats keeps upload statistics: all-time and trailing-week totals,
// a per-extension histogram and one bucket per day for the last 30 days.
package stats

import (
	"context"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
)

const (
	// RetainedDays is the number of daily buckets kept.
	RetainedDays = 30
	// RecentDays is the width of the trailing window reported as Last7Days.
	RecentDays = 7

	dateLayout = "2006-01-02"
)

// Recorder accumulates statistics for successful uploads.
type Recorder interface {
	Record(ctx context.Context, size int64, ext string) error
	Snapshot(ctx context.Context) (*Snapshot, error)
}

// Totals is a count of uploads and their combined size.
type Totals struct {
	Uploads           int64     `json:"uploads"`
	TotalSize         int64     `json:"totalSize"`
	HumanReadableSize string    `json:"humanReadableSize"`
	LastUpdated       time.Time `json:"lastUpdated"`
}

// Day is one UTC calendar day.
type Day struct {
	Date      string `json:"date"`
	Uploads   int64  `json:"uploads"`
	TotalSize int64  `json:"totalSize"`
}

// Snapshot is the reported statistics document. Its JSON form is also the
// stats.json file format.
type Snapshot struct {
	AllTime    Totals           `json:"allTime"`
	Last7Days  Totals           `json:"last7Days"`
	FileTypes  map[string]int64 `json:"fileTypes"`
	DailyStats []Day            `json:"dailyStats"`
}

// DateOf returns the bucket key for t.
func DateOf(t time.Time) string {
	return t.UTC().Format(dateLayout)
}

// Finalize orders daily buckets newest first, drops buckets older than
// RetainedDays, recomputes the trailing week and fills human-readable sizes.
func (s *Snapshot) Finalize(now time.Time) {
	sort.Slice(s.DailyStats, func(i, j int) bool {
		return s.DailyStats[i].Date > s.DailyStats[j].Date
	})

	today := now.UTC().Truncate(24 * time.Hour)
	oldestKept := DateOf(today.AddDate(0, 0, -(RetainedDays - 1)))
	oldestRecent := DateOf(today.AddDate(0, 0, -(RecentDays - 1)))

	kept := s.DailyStats[:0]
	var recent Totals
	for _, d := range s.DailyStats {
		if d.Date < oldestKept {
			continue
		}
		kept = append(kept, d)
		if d.Date >= oldestRecent {
			recent.Uploads += d.Uploads
			recent.TotalSize += d.TotalSize
		}
	}
	s.DailyStats = kept

	recent.LastUpdated = s.AllTime.LastUpdated
	s.Last7Days = recent

	if s.FileTypes == nil {
		s.FileTypes = make(map[string]int64)
	}
	s.AllTime.HumanReadableSize = FormatSize(s.AllTime.TotalSize)
	s.Last7Days.HumanReadableSize = FormatSize(s.Last7Days.TotalSize)
}

// FormatSize renders a byte count for people.
func FormatSize(n int64) string {
	if n < 0 {
		n = 0
	}
	return humanize.IBytes(uint64(n))
}
