package database

import (
	"context"
	"time"

	"github.com/voxdial/callengine/internal/database/models"
)

// SystemConfigRepository manages key-value system configuration.
type SystemConfigRepository interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	GetAll(ctx context.Context) ([]models.SystemConfig, error)
}

// AdminUserRepository manages control-plane operators.
type AdminUserRepository interface {
	Create(ctx context.Context, user *models.AdminUser) error
	GetByID(ctx context.Context, id int64) (*models.AdminUser, error)
	GetByUsername(ctx context.Context, username string) (*models.AdminUser, error)
	List(ctx context.Context) ([]models.AdminUser, error)
	Update(ctx context.Context, user *models.AdminUser) error
	Delete(ctx context.Context, id int64) error
	Count(ctx context.Context) (int64, error)
}

// LeadRepository manages dial targets.
type LeadRepository interface {
	Create(ctx context.Context, lead *models.Lead) error
	GetByID(ctx context.Context, id int64) (*models.Lead, error)
	List(ctx context.Context, campaignID *int64) ([]models.Lead, error)
	Update(ctx context.Context, lead *models.Lead) error
	Delete(ctx context.Context, id int64) error

	// NextDue selects the next lead due for a dial attempt under §4.9's
	// agent-selection query: same campaign, status in {New, Contacted},
	// call_attempts < max_attempts, and last_call_at either unset or older
	// than retryDelay. Ordered by call_attempts ASC, created_at ASC.
	// Returns nil, nil if no lead qualifies.
	NextDue(ctx context.Context, campaignID int64, maxAttempts int, retryDelay time.Duration) (*models.Lead, error)

	// RecordAttempt atomically increments call_attempts and sets
	// last_call_at=now for a lead about to be dialed.
	RecordAttempt(ctx context.Context, id int64) error
}

// AgentRepository manages dialer seats.
type AgentRepository interface {
	Create(ctx context.Context, agent *models.Agent) error
	GetByID(ctx context.Context, id int64) (*models.Agent, error)
	List(ctx context.Context) ([]models.Agent, error)
	Update(ctx context.Context, agent *models.Agent) error
	Delete(ctx context.Context, id int64) error

	// ReadyForCampaign returns Ready agents assigned to campaignID via
	// campaign_agents, ordered by status_changed_at ASC (oldest-ready
	// first, §4.9 step 4). An agent not assigned to campaignID is never
	// returned, even if otherwise Ready.
	ReadyForCampaign(ctx context.Context, campaignID int64) ([]models.Agent, error)

	// CompareAndSetStatus updates status only if the row's current status
	// still matches expect, preventing the scheduler from double-dispatching
	// an agent another tick already claimed (§4.9's optimistic write).
	CompareAndSetStatus(ctx context.Context, id int64, expect, next models.AgentStatus) (bool, error)

	// AssignToCampaign grants agentID membership in campaignID, making it
	// eligible for that campaign's dial loop. Idempotent.
	AssignToCampaign(ctx context.Context, campaignID, agentID int64) error

	// UnassignFromCampaign revokes agentID's membership in campaignID.
	UnassignFromCampaign(ctx context.Context, campaignID, agentID int64) error

	// CampaignsFor lists the IDs of campaigns agentID is assigned to.
	CampaignsFor(ctx context.Context, agentID int64) ([]int64, error)
}

// CampaignRepository manages dialing campaigns.
type CampaignRepository interface {
	Create(ctx context.Context, c *models.Campaign) error
	GetByID(ctx context.Context, id int64) (*models.Campaign, error)
	List(ctx context.Context) ([]models.Campaign, error)
	Update(ctx context.Context, c *models.Campaign) error
	Delete(ctx context.Context, id int64) error

	// ListActive returns campaigns with status=Active, for the scheduler to
	// iterate every tick.
	ListActive(ctx context.Context) ([]models.Campaign, error)

	// SetStatus transitions a campaign's status (start/pause/stop/complete).
	SetStatus(ctx context.Context, id int64, status models.CampaignStatus) error

	// IncrementCounters bumps dialed/connected counters after a dispatch.
	IncrementCounters(ctx context.Context, id int64, dialedDelta, connectedDelta int) error

	// SetError records a scheduler-observed error message on the campaign,
	// without affecting status (§4.9: "continues" on Database errors).
	SetError(ctx context.Context, id int64, message string) error
}

// CallListFilter specifies filtering and pagination for Call list queries.
type CallListFilter struct {
	Limit      int
	Offset     int
	CampaignID *int64
	AgentID    *int64
	Direction  models.CallDirection
	Status     models.CallStatus
}

// CallRepository manages durable call records.
type CallRepository interface {
	Create(ctx context.Context, call *models.Call) error
	GetByID(ctx context.Context, id int64) (*models.Call, error)
	GetByExternalDialogID(ctx context.Context, dialogID string) (*models.Call, error)
	Update(ctx context.Context, call *models.Call) error
	List(ctx context.Context, filter CallListFilter) ([]models.Call, int, error)
}

// RecordingRepository manages stored call recordings.
type RecordingRepository interface {
	Create(ctx context.Context, rec *models.Recording) error
	GetByID(ctx context.Context, id int64) (*models.Recording, error)
	GetByCallID(ctx context.Context, callID int64) (*models.Recording, error)
	List(ctx context.Context, limit, offset int) ([]models.Recording, int, error)

	// DueForDeletion returns recordings whose retention_until has passed and
	// compliance_hold is false (P9), for the retention sweeper.
	DueForDeletion(ctx context.Context, now time.Time, limit int) ([]models.Recording, error)
	Delete(ctx context.Context, id int64) error
	SetComplianceHold(ctx context.Context, id int64, hold bool) error
}

// RetentionPolicyRepository manages retention policy rows.
type RetentionPolicyRepository interface {
	Create(ctx context.Context, p *models.RetentionPolicy) error
	List(ctx context.Context) ([]models.RetentionPolicy, error)
	Update(ctx context.Context, p *models.RetentionPolicy) error
	Delete(ctx context.Context, id int64) error

	// ResolveRetentionDays implements P8's strict priority
	// campaign > agent > default > fallback, ties broken by most recently
	// updated. fallbackDays is the env-configured DefaultRetentionDays used
	// when no row matches at all.
	ResolveRetentionDays(ctx context.Context, campaignID, agentID *int64, fallbackDays int) (int, error)
}

// StorageUsageRepository manages the daily storage usage rollup.
type StorageUsageRepository interface {
	// Upsert adds the given deltas to the row for date (local day), creating
	// it if absent.
	Upsert(ctx context.Context, date time.Time, filesDelta, sizeDelta, addedDelta, deletedDelta int64) error
	GetByDate(ctx context.Context, date time.Time) (*models.StorageUsageRow, error)
	List(ctx context.Context, limit int) ([]models.StorageUsageRow, error)
}
