package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/voxdial/callengine/internal/database/models"
)

// storageUsageRepo implements StorageUsageRepository.
type storageUsageRepo struct {
	db *DB
}

// NewStorageUsageRepository creates a new StorageUsageRepository.
func NewStorageUsageRepository(db *DB) StorageUsageRepository {
	return &storageUsageRepo{db: db}
}

func dayKey(t time.Time) string {
	return t.Format("2006-01-02")
}

// Upsert adds the given deltas to the row for date's local day, creating it
// first if absent (§4.8 step 5 / §4.9's daily storage usage rollup).
func (r *storageUsageRepo) Upsert(ctx context.Context, date time.Time, filesDelta, sizeDelta, addedDelta, deletedDelta int64) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO storage_usage_rows (date, total_files, total_size_bytes, recordings_added, recordings_deleted)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(date) DO UPDATE SET
		   total_files = total_files + excluded.total_files,
		   total_size_bytes = total_size_bytes + excluded.total_size_bytes,
		   recordings_added = recordings_added + excluded.recordings_added,
		   recordings_deleted = recordings_deleted + excluded.recordings_deleted`,
		dayKey(date), filesDelta, sizeDelta, addedDelta, deletedDelta,
	)
	if err != nil {
		return fmt.Errorf("upserting storage usage row: %w", err)
	}
	return nil
}

func (r *storageUsageRepo) GetByDate(ctx context.Context, date time.Time) (*models.StorageUsageRow, error) {
	var row models.StorageUsageRow
	var dateStr string
	err := r.db.QueryRowContext(ctx,
		`SELECT id, date, total_files, total_size_bytes, recordings_added, recordings_deleted
		 FROM storage_usage_rows WHERE date = ?`, dayKey(date),
	).Scan(&row.ID, &dateStr, &row.TotalFiles, &row.TotalSizeBytes, &row.RecordingsAdded, &row.RecordingsDeleted)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying storage usage row: %w", err)
	}
	row.Date, err = time.Parse("2006-01-02", dateStr)
	if err != nil {
		return nil, fmt.Errorf("parsing storage usage date: %w", err)
	}
	return &row, nil
}

func (r *storageUsageRepo) List(ctx context.Context, limit int) ([]models.StorageUsageRow, error) {
	if limit <= 0 {
		limit = 30
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, date, total_files, total_size_bytes, recordings_added, recordings_deleted
		 FROM storage_usage_rows ORDER BY date DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying storage usage rows: %w", err)
	}
	defer rows.Close()

	var out []models.StorageUsageRow
	for rows.Next() {
		var row models.StorageUsageRow
		var dateStr string
		if err := rows.Scan(&row.ID, &dateStr, &row.TotalFiles, &row.TotalSizeBytes,
			&row.RecordingsAdded, &row.RecordingsDeleted); err != nil {
			return nil, fmt.Errorf("scanning storage usage row: %w", err)
		}
		row.Date, err = time.Parse("2006-01-02", dateStr)
		if err != nil {
			return nil, fmt.Errorf("parsing storage usage date: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
