package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/voxdial/callengine/internal/database/models"
)

// agentRepo implements AgentRepository.
type agentRepo struct {
	db *DB
}

// NewAgentRepository creates a new AgentRepository.
func NewAgentRepository(db *DB) AgentRepository {
	return &agentRepo{db: db}
}

func (r *agentRepo) Create(ctx context.Context, a *models.Agent) error {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO agents (name, type, status, user_id, sip_extension, current_call_id,
		 status_changed_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, datetime('now'), datetime('now'), datetime('now'))`,
		a.Name, a.Type, a.Status, a.UserID, a.SIPExtension, a.CurrentCallID,
	)
	if err != nil {
		return fmt.Errorf("inserting agent: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting last insert id: %w", err)
	}
	a.ID = id
	return nil
}

func (r *agentRepo) scanOne(row *sql.Row) (*models.Agent, error) {
	var a models.Agent
	err := row.Scan(&a.ID, &a.Name, &a.Type, &a.Status, &a.UserID, &a.SIPExtension,
		&a.CurrentCallID, &a.StatusChangedAt, &a.CreatedAt, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning agent: %w", err)
	}
	return &a, nil
}

const agentColumns = `id, name, type, status, user_id, sip_extension, current_call_id,
	 status_changed_at, created_at, updated_at`

func (r *agentRepo) GetByID(ctx context.Context, id int64) (*models.Agent, error) {
	return r.scanOne(r.db.QueryRowContext(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE id = ?`, id))
}

func (r *agentRepo) List(ctx context.Context) ([]models.Agent, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+agentColumns+` FROM agents ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("querying agents: %w", err)
	}
	defer rows.Close()

	var agents []models.Agent
	for rows.Next() {
		var a models.Agent
		if err := rows.Scan(&a.ID, &a.Name, &a.Type, &a.Status, &a.UserID, &a.SIPExtension,
			&a.CurrentCallID, &a.StatusChangedAt, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning agent row: %w", err)
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

func (r *agentRepo) Update(ctx context.Context, a *models.Agent) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE agents SET name = ?, type = ?, status = ?, user_id = ?, sip_extension = ?,
		 current_call_id = ?, status_changed_at = ?, updated_at = datetime('now')
		 WHERE id = ?`,
		a.Name, a.Type, a.Status, a.UserID, a.SIPExtension, a.CurrentCallID, a.StatusChangedAt, a.ID,
	)
	if err != nil {
		return fmt.Errorf("updating agent: %w", err)
	}
	return nil
}

func (r *agentRepo) Delete(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM agents WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting agent: %w", err)
	}
	return nil
}

// ReadyForCampaign returns agents with status=Ready joined on
// campaign_agents membership for campaignID, ordered oldest-ready-first.
// An agent not assigned to campaignID is excluded even if Ready.
func (r *agentRepo) ReadyForCampaign(ctx context.Context, campaignID int64) ([]models.Agent, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT a.id, a.name, a.type, a.status, a.user_id, a.sip_extension, a.current_call_id,
		 a.status_changed_at, a.created_at, a.updated_at
		 FROM agents a
		 INNER JOIN campaign_agents ca ON a.id = ca.agent_id
		 WHERE ca.campaign_id = ? AND a.status = 'ready'
		 ORDER BY a.status_changed_at ASC`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("querying ready agents: %w", err)
	}
	defer rows.Close()

	var agents []models.Agent
	for rows.Next() {
		var a models.Agent
		if err := rows.Scan(&a.ID, &a.Name, &a.Type, &a.Status, &a.UserID, &a.SIPExtension,
			&a.CurrentCallID, &a.StatusChangedAt, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning agent row: %w", err)
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

// AssignToCampaign grants agentID membership in campaignID. Idempotent:
// re-assigning an already-member agent is a no-op.
func (r *agentRepo) AssignToCampaign(ctx context.Context, campaignID, agentID int64) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO campaign_agents (campaign_id, agent_id) VALUES (?, ?)`,
		campaignID, agentID,
	)
	if err != nil {
		return fmt.Errorf("assigning agent to campaign: %w", err)
	}
	return nil
}

// UnassignFromCampaign revokes agentID's membership in campaignID.
func (r *agentRepo) UnassignFromCampaign(ctx context.Context, campaignID, agentID int64) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM campaign_agents WHERE campaign_id = ? AND agent_id = ?`,
		campaignID, agentID,
	)
	if err != nil {
		return fmt.Errorf("unassigning agent from campaign: %w", err)
	}
	return nil
}

// CampaignsFor lists the IDs of campaigns agentID is assigned to.
func (r *agentRepo) CampaignsFor(ctx context.Context, agentID int64) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT campaign_id FROM campaign_agents WHERE agent_id = ? ORDER BY campaign_id`, agentID)
	if err != nil {
		return nil, fmt.Errorf("querying agent's campaigns: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning campaign id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *agentRepo) CompareAndSetStatus(ctx context.Context, id int64, expect, next models.AgentStatus) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE agents SET status = ?, status_changed_at = datetime('now'), updated_at = datetime('now')
		 WHERE id = ? AND status = ?`,
		next, id, expect,
	)
	if err != nil {
		return false, fmt.Errorf("compare-and-set agent status: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reading rows affected: %w", err)
	}
	return n == 1, nil
}
