package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/voxdial/callengine/internal/database/models"
)

// leadRepo implements LeadRepository.
type leadRepo struct {
	db *DB
}

// NewLeadRepository creates a new LeadRepository.
func NewLeadRepository(db *DB) LeadRepository {
	return &leadRepo{db: db}
}

func (r *leadRepo) Create(ctx context.Context, lead *models.Lead) error {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO leads (phone, first_name, last_name, company, email, status,
		 campaign_id, assigned_agent_id, call_attempts, last_call_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, datetime('now'))`,
		lead.Phone, lead.FirstName, lead.LastName, lead.Company, lead.Email, lead.Status,
		lead.CampaignID, lead.AssignedAgentID, lead.CallAttempts, lead.LastCallAt,
	)
	if err != nil {
		return fmt.Errorf("inserting lead: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting last insert id: %w", err)
	}
	lead.ID = id
	return nil
}

func (r *leadRepo) scanOne(row *sql.Row) (*models.Lead, error) {
	var l models.Lead
	err := row.Scan(&l.ID, &l.Phone, &l.FirstName, &l.LastName, &l.Company, &l.Email, &l.Status,
		&l.CampaignID, &l.AssignedAgentID, &l.CallAttempts, &l.LastCallAt, &l.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning lead: %w", err)
	}
	return &l, nil
}

func (r *leadRepo) GetByID(ctx context.Context, id int64) (*models.Lead, error) {
	return r.scanOne(r.db.QueryRowContext(ctx,
		`SELECT id, phone, first_name, last_name, company, email, status,
		 campaign_id, assigned_agent_id, call_attempts, last_call_at, created_at
		 FROM leads WHERE id = ?`, id))
}

func (r *leadRepo) List(ctx context.Context, campaignID *int64) ([]models.Lead, error) {
	query := `SELECT id, phone, first_name, last_name, company, email, status,
		 campaign_id, assigned_agent_id, call_attempts, last_call_at, created_at
		 FROM leads`
	var args []any
	if campaignID != nil {
		query += " WHERE campaign_id = ?"
		args = append(args, *campaignID)
	}
	query += " ORDER BY created_at"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying leads: %w", err)
	}
	defer rows.Close()

	var leads []models.Lead
	for rows.Next() {
		var l models.Lead
		if err := rows.Scan(&l.ID, &l.Phone, &l.FirstName, &l.LastName, &l.Company, &l.Email, &l.Status,
			&l.CampaignID, &l.AssignedAgentID, &l.CallAttempts, &l.LastCallAt, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning lead row: %w", err)
		}
		leads = append(leads, l)
	}
	return leads, rows.Err()
}

func (r *leadRepo) Update(ctx context.Context, lead *models.Lead) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE leads SET phone = ?, first_name = ?, last_name = ?, company = ?, email = ?,
		 status = ?, campaign_id = ?, assigned_agent_id = ?, call_attempts = ?, last_call_at = ?
		 WHERE id = ?`,
		lead.Phone, lead.FirstName, lead.LastName, lead.Company, lead.Email, lead.Status,
		lead.CampaignID, lead.AssignedAgentID, lead.CallAttempts, lead.LastCallAt, lead.ID,
	)
	if err != nil {
		return fmt.Errorf("updating lead: %w", err)
	}
	return nil
}

func (r *leadRepo) Delete(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM leads WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting lead: %w", err)
	}
	return nil
}

// NextDue implements §4.9 step 5's lead-selection query. retryDelay is used
// as given; the 30-minute floor from the resolved open question (DESIGN.md)
// is applied by the caller (the scheduler's effectiveRetryDelay), which
// passes the campaign's retry_delay_minutes when it is at least 30 and 30
// minutes otherwise.
func (r *leadRepo) NextDue(ctx context.Context, campaignID int64, maxAttempts int, retryDelay time.Duration) (*models.Lead, error) {
	cutoff := time.Now().Add(-retryDelay)
	return r.scanOne(r.db.QueryRowContext(ctx,
		`SELECT id, phone, first_name, last_name, company, email, status,
		 campaign_id, assigned_agent_id, call_attempts, last_call_at, created_at
		 FROM leads
		 WHERE campaign_id = ? AND status IN ('new', 'contacted')
		 AND call_attempts < ?
		 AND (last_call_at IS NULL OR last_call_at < ?)
		 ORDER BY call_attempts ASC, created_at ASC
		 LIMIT 1`,
		campaignID, maxAttempts, cutoff))
}

func (r *leadRepo) RecordAttempt(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE leads SET call_attempts = call_attempts + 1, last_call_at = datetime('now') WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("recording lead attempt: %w", err)
	}
	return nil
}
