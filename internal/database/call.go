package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/voxdial/callengine/internal/database/models"
)

// callRepo implements CallRepository, the durable mirror of the in-memory
// SIP dialog state tracked by internal/sip.Call.
type callRepo struct {
	db *DB
}

// NewCallRepository creates a new CallRepository.
func NewCallRepository(db *DB) CallRepository {
	return &callRepo{db: db}
}

const callColumns = `id, direction, status, lead_id, agent_id, campaign_id, from_number, to_number,
	 started_at, answered_at, ended_at, duration_seconds, disposition, external_dialog_id,
	 recording_id, recording_url`

func (r *callRepo) Create(ctx context.Context, c *models.Call) error {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO calls (direction, status, lead_id, agent_id, campaign_id, from_number, to_number,
		 started_at, answered_at, ended_at, duration_seconds, disposition, external_dialog_id,
		 recording_id, recording_url)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.Direction, c.Status, c.LeadID, c.AgentID, c.CampaignID, c.FromNumber, c.ToNumber,
		c.StartedAt, c.AnsweredAt, c.EndedAt, c.DurationSeconds, c.Disposition, c.ExternalDialogID,
		c.RecordingID, c.RecordingURL,
	)
	if err != nil {
		return fmt.Errorf("inserting call: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting last insert id: %w", err)
	}
	c.ID = id
	return nil
}

func scanCall(row *sql.Row) (*models.Call, error) {
	var c models.Call
	err := row.Scan(&c.ID, &c.Direction, &c.Status, &c.LeadID, &c.AgentID, &c.CampaignID,
		&c.FromNumber, &c.ToNumber, &c.StartedAt, &c.AnsweredAt, &c.EndedAt, &c.DurationSeconds,
		&c.Disposition, &c.ExternalDialogID, &c.RecordingID, &c.RecordingURL)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning call: %w", err)
	}
	return &c, nil
}

func (r *callRepo) GetByID(ctx context.Context, id int64) (*models.Call, error) {
	return scanCall(r.db.QueryRowContext(ctx, `SELECT `+callColumns+` FROM calls WHERE id = ?`, id))
}

func (r *callRepo) GetByExternalDialogID(ctx context.Context, dialogID string) (*models.Call, error) {
	return scanCall(r.db.QueryRowContext(ctx,
		`SELECT `+callColumns+` FROM calls WHERE external_dialog_id = ?`, dialogID))
}

func (r *callRepo) Update(ctx context.Context, c *models.Call) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE calls SET direction = ?, status = ?, lead_id = ?, agent_id = ?, campaign_id = ?,
		 from_number = ?, to_number = ?, started_at = ?, answered_at = ?, ended_at = ?,
		 duration_seconds = ?, disposition = ?, external_dialog_id = ?, recording_id = ?,
		 recording_url = ?
		 WHERE id = ?`,
		c.Direction, c.Status, c.LeadID, c.AgentID, c.CampaignID, c.FromNumber, c.ToNumber,
		c.StartedAt, c.AnsweredAt, c.EndedAt, c.DurationSeconds, c.Disposition, c.ExternalDialogID,
		c.RecordingID, c.RecordingURL, c.ID,
	)
	if err != nil {
		return fmt.Errorf("updating call: %w", err)
	}
	return nil
}

func (r *callRepo) List(ctx context.Context, filter CallListFilter) ([]models.Call, int, error) {
	where := "1=1"
	args := []any{}

	if filter.CampaignID != nil {
		where += " AND campaign_id = ?"
		args = append(args, *filter.CampaignID)
	}
	if filter.AgentID != nil {
		where += " AND agent_id = ?"
		args = append(args, *filter.AgentID)
	}
	if filter.Direction != "" {
		where += " AND direction = ?"
		args = append(args, filter.Direction)
	}
	if filter.Status != "" {
		where += " AND status = ?"
		args = append(args, filter.Status)
	}

	var total int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM calls WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting calls: %w", err)
	}

	limit, offset := filter.Limit, filter.Offset
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + callColumns + ` FROM calls WHERE ` + where + ` ORDER BY started_at DESC LIMIT ? OFFSET ?`
	rows, err := r.db.QueryContext(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("querying calls: %w", err)
	}
	defer rows.Close()

	var calls []models.Call
	for rows.Next() {
		var c models.Call
		if err := rows.Scan(&c.ID, &c.Direction, &c.Status, &c.LeadID, &c.AgentID, &c.CampaignID,
			&c.FromNumber, &c.ToNumber, &c.StartedAt, &c.AnsweredAt, &c.EndedAt, &c.DurationSeconds,
			&c.Disposition, &c.ExternalDialogID, &c.RecordingID, &c.RecordingURL); err != nil {
			return nil, 0, fmt.Errorf("scanning call row: %w", err)
		}
		calls = append(calls, c)
	}
	return calls, total, rows.Err()
}
