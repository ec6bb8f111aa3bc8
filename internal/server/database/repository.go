package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"slashbin/internal/server/stats"
)

// StatsRepository records upload statistics in Postgres so several server
// processes can share one set of counters.
type StatsRepository struct {
	db  *DB
	now func() time.Time
}

// NewStatsRepository creates a new StatsRepository.
func NewStatsRepository(db *DB) *StatsRepository {
	return &StatsRepository{db: db, now: time.Now}
}

// Record adds one upload in a single transaction.
func (r *StatsRepository) Record(ctx context.Context, size int64, ext string) error {
	now := r.now().UTC()

	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin stats transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		UPDATE upload_totals
		SET uploads = uploads + 1, total_size = total_size + $1, updated_at = $2
		WHERE id = 1
	`, size, now); err != nil {
		return fmt.Errorf("failed to update totals: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO upload_days (day, uploads, total_size, updated_at)
		VALUES ($1::date, 1, $2, $3)
		ON CONFLICT (day) DO UPDATE
		SET uploads = upload_days.uploads + 1,
		    total_size = upload_days.total_size + EXCLUDED.total_size,
		    updated_at = EXCLUDED.updated_at
	`, stats.DateOf(now), size, now); err != nil {
		return fmt.Errorf("failed to update daily stats: %w", err)
	}

	if ext != "" {
		if _, err := tx.Exec(ctx, `
			INSERT INTO upload_file_types (ext, uploads) VALUES ($1, 1)
			ON CONFLICT (ext) DO UPDATE SET uploads = upload_file_types.uploads + 1
		`, ext); err != nil {
			return fmt.Errorf("failed to update file types: %w", err)
		}
	}

	cutoff := now.AddDate(0, 0, -(stats.RetainedDays - 1))
	if _, err := tx.Exec(ctx, "DELETE FROM upload_days WHERE day < $1::date", stats.DateOf(cutoff)); err != nil {
		return fmt.Errorf("failed to prune daily stats: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit stats: %w", err)
	}
	return nil
}

// Snapshot reads the current statistics.
func (r *StatsRepository) Snapshot(ctx context.Context) (*stats.Snapshot, error) {
	snap := &stats.Snapshot{FileTypes: make(map[string]int64)}

	err := r.db.Pool.QueryRow(ctx,
		"SELECT uploads, total_size, updated_at FROM upload_totals WHERE id = 1",
	).Scan(&snap.AllTime.Uploads, &snap.AllTime.TotalSize, &snap.AllTime.LastUpdated)
	if err != nil && err != pgx.ErrNoRows {
		return nil, fmt.Errorf("failed to get totals: %w", err)
	}

	rows, err := r.db.Pool.Query(ctx, `
		SELECT to_char(day, 'YYYY-MM-DD'), uploads, total_size
		FROM upload_days ORDER BY day DESC LIMIT $1
	`, stats.RetainedDays)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily stats: %w", err)
	}
	days, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (stats.Day, error) {
		var d stats.Day
		err := row.Scan(&d.Date, &d.Uploads, &d.TotalSize)
		return d, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan daily stats: %w", err)
	}
	snap.DailyStats = days

	rows, err = r.db.Pool.Query(ctx, "SELECT ext, uploads FROM upload_file_types")
	if err != nil {
		return nil, fmt.Errorf("failed to query file types: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var ext string
		var n int64
		if err := rows.Scan(&ext, &n); err != nil {
			return nil, fmt.Errorf("failed to scan file type: %w", err)
		}
		snap.FileTypes[ext] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read file types: %w", err)
	}

	snap.Finalize(r.now())
	return snap, nil
}
