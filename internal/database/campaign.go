package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/voxdial/callengine/internal/database/models"
)

// campaignRepo implements CampaignRepository.
type campaignRepo struct {
	db *DB
}

// NewCampaignRepository creates a new CampaignRepository.
func NewCampaignRepository(db *DB) CampaignRepository {
	return &campaignRepo{db: db}
}

const campaignColumns = `id, name, status, dialer_mode, caller_id, window_start, window_end,
	 max_attempts, retry_delay_min, total_leads, dialed_count, connected_count,
	 error_message, created_at, updated_at`

func (r *campaignRepo) Create(ctx context.Context, c *models.Campaign) error {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO campaigns (name, status, dialer_mode, caller_id, window_start, window_end,
		 max_attempts, retry_delay_min, total_leads, dialed_count, connected_count, error_message,
		 created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, datetime('now'), datetime('now'))`,
		c.Name, c.Status, c.DialerMode, c.CallerID, c.WindowStart, c.WindowEnd,
		c.MaxAttempts, c.RetryDelayMin, c.TotalLeads, c.DialedCount, c.ConnectedCount, c.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("inserting campaign: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting last insert id: %w", err)
	}
	c.ID = id
	return nil
}

func scanCampaign(row *sql.Row) (*models.Campaign, error) {
	var c models.Campaign
	err := row.Scan(&c.ID, &c.Name, &c.Status, &c.DialerMode, &c.CallerID, &c.WindowStart, &c.WindowEnd,
		&c.MaxAttempts, &c.RetryDelayMin, &c.TotalLeads, &c.DialedCount, &c.ConnectedCount,
		&c.ErrorMessage, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning campaign: %w", err)
	}
	return &c, nil
}

func (r *campaignRepo) GetByID(ctx context.Context, id int64) (*models.Campaign, error) {
	return scanCampaign(r.db.QueryRowContext(ctx, `SELECT `+campaignColumns+` FROM campaigns WHERE id = ?`, id))
}

func (r *campaignRepo) List(ctx context.Context) ([]models.Campaign, error) {
	return r.queryList(ctx, `SELECT `+campaignColumns+` FROM campaigns ORDER BY created_at DESC`)
}

func (r *campaignRepo) ListActive(ctx context.Context) ([]models.Campaign, error) {
	return r.queryList(ctx, `SELECT `+campaignColumns+` FROM campaigns WHERE status = 'active' ORDER BY id`)
}

func (r *campaignRepo) queryList(ctx context.Context, query string) ([]models.Campaign, error) {
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying campaigns: %w", err)
	}
	defer rows.Close()

	var campaigns []models.Campaign
	for rows.Next() {
		var c models.Campaign
		if err := rows.Scan(&c.ID, &c.Name, &c.Status, &c.DialerMode, &c.CallerID, &c.WindowStart, &c.WindowEnd,
			&c.MaxAttempts, &c.RetryDelayMin, &c.TotalLeads, &c.DialedCount, &c.ConnectedCount,
			&c.ErrorMessage, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning campaign row: %w", err)
		}
		campaigns = append(campaigns, c)
	}
	return campaigns, rows.Err()
}

func (r *campaignRepo) Update(ctx context.Context, c *models.Campaign) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE campaigns SET name = ?, status = ?, dialer_mode = ?, caller_id = ?, window_start = ?,
		 window_end = ?, max_attempts = ?, retry_delay_min = ?, total_leads = ?, dialed_count = ?,
		 connected_count = ?, error_message = ?, updated_at = datetime('now')
		 WHERE id = ?`,
		c.Name, c.Status, c.DialerMode, c.CallerID, c.WindowStart, c.WindowEnd,
		c.MaxAttempts, c.RetryDelayMin, c.TotalLeads, c.DialedCount, c.ConnectedCount, c.ErrorMessage, c.ID,
	)
	if err != nil {
		return fmt.Errorf("updating campaign: %w", err)
	}
	return nil
}

func (r *campaignRepo) Delete(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM campaigns WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting campaign: %w", err)
	}
	return nil
}

func (r *campaignRepo) SetStatus(ctx context.Context, id int64, status models.CampaignStatus) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE campaigns SET status = ?, updated_at = datetime('now') WHERE id = ?`, status, id)
	if err != nil {
		return fmt.Errorf("setting campaign status: %w", err)
	}
	return nil
}

func (r *campaignRepo) IncrementCounters(ctx context.Context, id int64, dialedDelta, connectedDelta int) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE campaigns SET dialed_count = dialed_count + ?, connected_count = connected_count + ?,
		 updated_at = datetime('now') WHERE id = ?`,
		dialedDelta, connectedDelta, id,
	)
	if err != nil {
		return fmt.Errorf("incrementing campaign counters: %w", err)
	}
	return nil
}

func (r *campaignRepo) SetError(ctx context.Context, id int64, message string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE campaigns SET error_message = ?, updated_at = datetime('now') WHERE id = ?`, message, id)
	if err != nil {
		return fmt.Errorf("setting campaign error: %w", err)
	}
	return nil
}
