package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/voxdial/callengine/internal/database/models"
)

// retentionPolicyRepo implements RetentionPolicyRepository.
type retentionPolicyRepo struct {
	db *DB
}

// NewRetentionPolicyRepository creates a new RetentionPolicyRepository.
func NewRetentionPolicyRepository(db *DB) RetentionPolicyRepository {
	return &retentionPolicyRepo{db: db}
}

const retentionPolicyColumns = `id, retention_days, scope, campaign_id, agent_id, is_default,
	 created_at, updated_at`

func (r *retentionPolicyRepo) Create(ctx context.Context, p *models.RetentionPolicy) error {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO retention_policies (retention_days, scope, campaign_id, agent_id, is_default,
		 created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, datetime('now'), datetime('now'))`,
		p.RetentionDays, p.Scope, p.CampaignID, p.AgentID, p.IsDefault,
	)
	if err != nil {
		return fmt.Errorf("inserting retention policy: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting last insert id: %w", err)
	}
	p.ID = id
	return nil
}

func (r *retentionPolicyRepo) List(ctx context.Context) ([]models.RetentionPolicy, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+retentionPolicyColumns+` FROM retention_policies ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("querying retention policies: %w", err)
	}
	defer rows.Close()

	var policies []models.RetentionPolicy
	for rows.Next() {
		var p models.RetentionPolicy
		if err := rows.Scan(&p.ID, &p.RetentionDays, &p.Scope, &p.CampaignID, &p.AgentID, &p.IsDefault,
			&p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning retention policy row: %w", err)
		}
		policies = append(policies, p)
	}
	return policies, rows.Err()
}

func (r *retentionPolicyRepo) Update(ctx context.Context, p *models.RetentionPolicy) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE retention_policies SET retention_days = ?, scope = ?, campaign_id = ?, agent_id = ?,
		 is_default = ?, updated_at = datetime('now')
		 WHERE id = ?`,
		p.RetentionDays, p.Scope, p.CampaignID, p.AgentID, p.IsDefault, p.ID,
	)
	if err != nil {
		return fmt.Errorf("updating retention policy: %w", err)
	}
	return nil
}

func (r *retentionPolicyRepo) Delete(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM retention_policies WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting retention policy: %w", err)
	}
	return nil
}

// ResolveRetentionDays implements P8: campaign-scoped policy first, then
// agent-scoped, then the default All-scope row, then fallbackDays if no row
// exists at all. Each tier breaks ties by most recently updated.
func (r *retentionPolicyRepo) ResolveRetentionDays(ctx context.Context, campaignID, agentID *int64, fallbackDays int) (int, error) {
	if campaignID != nil {
		days, ok, err := r.queryScoped(ctx, models.RetentionScopeCampaign, *campaignID)
		if err != nil {
			return 0, err
		}
		if ok {
			return days, nil
		}
	}
	if agentID != nil {
		days, ok, err := r.queryScoped(ctx, models.RetentionScopeAgent, *agentID)
		if err != nil {
			return 0, err
		}
		if ok {
			return days, nil
		}
	}

	var days int
	err := r.db.QueryRowContext(ctx,
		`SELECT retention_days FROM retention_policies
		 WHERE scope = 'all' AND is_default = 1
		 ORDER BY updated_at DESC LIMIT 1`,
	).Scan(&days)
	if err == sql.ErrNoRows {
		return fallbackDays, nil
	}
	if err != nil {
		return 0, fmt.Errorf("resolving default retention policy: %w", err)
	}
	return days, nil
}

func (r *retentionPolicyRepo) queryScoped(ctx context.Context, scope models.RetentionScope, ownerID int64) (int, bool, error) {
	column := "campaign_id"
	if scope == models.RetentionScopeAgent {
		column = "agent_id"
	}

	var days int
	err := r.db.QueryRowContext(ctx,
		`SELECT retention_days FROM retention_policies
		 WHERE scope = ? AND `+column+` = ?
		 ORDER BY updated_at DESC LIMIT 1`,
		scope, ownerID,
	).Scan(&days)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("resolving %s retention policy: %w", scope, err)
	}
	return days, true, nil
}
