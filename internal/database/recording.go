package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/voxdial/callengine/internal/database/models"
)

// recordingRepo implements RecordingRepository.
type recordingRepo struct {
	db *DB
}

// NewRecordingRepository creates a new RecordingRepository.
func NewRecordingRepository(db *DB) RecordingRepository {
	return &recordingRepo{db: db}
}

const recordingColumns = `id, call_id, relative_path, byte_size, duration_seconds, format,
	 encryption_key_id, uploaded_at, retention_until, compliance_hold,
	 agent_name, lead_name, campaign_name, disposition, call_duration_seconds`

func (r *recordingRepo) Create(ctx context.Context, rec *models.Recording) error {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO recordings (call_id, relative_path, byte_size, duration_seconds, format,
		 encryption_key_id, uploaded_at, retention_until, compliance_hold,
		 agent_name, lead_name, campaign_name, disposition, call_duration_seconds)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.CallID, rec.RelativePath, rec.ByteSize, rec.DurationSeconds, rec.Format,
		rec.EncryptionKeyID, rec.UploadedAt, rec.RetentionUntil, rec.ComplianceHold,
		rec.AgentName, rec.LeadName, rec.CampaignName, rec.Disposition, rec.CallDurationSeconds,
	)
	if err != nil {
		return fmt.Errorf("inserting recording: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting last insert id: %w", err)
	}
	rec.ID = id
	return nil
}

func scanRecording(row *sql.Row) (*models.Recording, error) {
	var rec models.Recording
	err := row.Scan(&rec.ID, &rec.CallID, &rec.RelativePath, &rec.ByteSize, &rec.DurationSeconds,
		&rec.Format, &rec.EncryptionKeyID, &rec.UploadedAt, &rec.RetentionUntil, &rec.ComplianceHold,
		&rec.AgentName, &rec.LeadName, &rec.CampaignName, &rec.Disposition, &rec.CallDurationSeconds)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning recording: %w", err)
	}
	return &rec, nil
}

func (r *recordingRepo) GetByID(ctx context.Context, id int64) (*models.Recording, error) {
	return scanRecording(r.db.QueryRowContext(ctx, `SELECT `+recordingColumns+` FROM recordings WHERE id = ?`, id))
}

func (r *recordingRepo) GetByCallID(ctx context.Context, callID int64) (*models.Recording, error) {
	return scanRecording(r.db.QueryRowContext(ctx,
		`SELECT `+recordingColumns+` FROM recordings WHERE call_id = ?`, callID))
}

func (r *recordingRepo) List(ctx context.Context, limit, offset int) ([]models.Recording, int, error) {
	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM recordings`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting recordings: %w", err)
	}
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+recordingColumns+` FROM recordings ORDER BY uploaded_at DESC LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("querying recordings: %w", err)
	}
	defer rows.Close()

	var recs []models.Recording
	for rows.Next() {
		var rec models.Recording
		if err := rows.Scan(&rec.ID, &rec.CallID, &rec.RelativePath, &rec.ByteSize, &rec.DurationSeconds,
			&rec.Format, &rec.EncryptionKeyID, &rec.UploadedAt, &rec.RetentionUntil, &rec.ComplianceHold,
			&rec.AgentName, &rec.LeadName, &rec.CampaignName, &rec.Disposition, &rec.CallDurationSeconds); err != nil {
			return nil, 0, fmt.Errorf("scanning recording row: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, total, rows.Err()
}

// DueForDeletion returns recordings past retention and without a compliance
// hold (P9), oldest first, bounded by limit so the sweeper can run in
// batches rather than loading the entire table each tick.
func (r *recordingRepo) DueForDeletion(ctx context.Context, now time.Time, limit int) ([]models.Recording, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+recordingColumns+` FROM recordings
		 WHERE compliance_hold = 0 AND retention_until < ?
		 ORDER BY retention_until ASC LIMIT ?`,
		now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying recordings due for deletion: %w", err)
	}
	defer rows.Close()

	var recs []models.Recording
	for rows.Next() {
		var rec models.Recording
		if err := rows.Scan(&rec.ID, &rec.CallID, &rec.RelativePath, &rec.ByteSize, &rec.DurationSeconds,
			&rec.Format, &rec.EncryptionKeyID, &rec.UploadedAt, &rec.RetentionUntil, &rec.ComplianceHold,
			&rec.AgentName, &rec.LeadName, &rec.CampaignName, &rec.Disposition, &rec.CallDurationSeconds); err != nil {
			return nil, fmt.Errorf("scanning recording row: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

func (r *recordingRepo) Delete(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM recordings WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting recording: %w", err)
	}
	return nil
}

func (r *recordingRepo) SetComplianceHold(ctx context.Context, id int64, hold bool) error {
	_, err := r.db.ExecContext(ctx, `UPDATE recordings SET compliance_hold = ? WHERE id = ?`, hold, id)
	if err != nil {
		return fmt.Errorf("setting compliance hold: %w", err)
	}
	return nil
}
