package models

import "time"

// SystemConfig represents a key-value configuration entry, used for
// tunables that are looked up by key rather than structured rows (e.g. the
// default retention policy flag).
type SystemConfig struct {
	ID        int64
	Key       string
	Value     string
	UpdatedAt time.Time
}

// AdminUser represents an operator of the control-plane HTTP surface.
type AdminUser struct {
	ID           int64
	Username     string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// LeadStatus enumerates a Lead's place in the dial funnel.
type LeadStatus string

const (
	LeadNew        LeadStatus = "new"
	LeadContacted  LeadStatus = "contacted"
	LeadQualified  LeadStatus = "qualified"
	LeadConverted  LeadStatus = "converted"
	LeadLost       LeadStatus = "lost"
	LeadDoNotCall  LeadStatus = "do_not_call"
)

// Lead is a dial target imported into a campaign.
//
// Invariant: Phone is never empty.
type Lead struct {
	ID              int64
	Phone           string // E.164
	FirstName       string
	LastName        string
	Company         string
	Email           string
	Status          LeadStatus
	CampaignID      *int64
	AssignedAgentID *int64
	CallAttempts    int
	LastCallAt      *time.Time
	CreatedAt       time.Time
}

// AgentType distinguishes a human operator from an AI conversation handler.
type AgentType string

const (
	AgentHuman AgentType = "human"
	AgentAI    AgentType = "ai"
)

// AgentStatus is an Agent's current availability for dispatch.
type AgentStatus string

const (
	AgentOffline   AgentStatus = "offline"
	AgentReady     AgentStatus = "ready"
	AgentOnCall    AgentStatus = "on_call"
	AgentAfterCall AgentStatus = "after_call"
	AgentBreak     AgentStatus = "break"
)

// Agent is a dialer seat, either a human operator or an AI handler.
//
// Invariant: at most one active CurrentCallID at a time.
type Agent struct {
	ID             int64
	Name           string
	Type           AgentType
	Status         AgentStatus
	UserID         *int64
	SIPExtension   string
	CurrentCallID  *int64
	StatusChangedAt time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// CampaignStatus is a Campaign's lifecycle state.
type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "draft"
	CampaignActive    CampaignStatus = "active"
	CampaignPaused    CampaignStatus = "paused"
	CampaignCompleted CampaignStatus = "completed"
)

// DialerMode selects how the scheduler paces outbound dials for a campaign.
type DialerMode string

const (
	DialerPreview     DialerMode = "preview"
	DialerProgressive DialerMode = "progressive"
	DialerPredictive  DialerMode = "predictive"
)

// Campaign groups leads and agents under a dialing policy.
type Campaign struct {
	ID               int64
	Name             string
	Status           CampaignStatus
	DialerMode       DialerMode
	CallerID         string
	WindowStart      string // wall-clock local, "HH:MM"
	WindowEnd        string
	MaxAttempts      int // default 3
	RetryDelayMin    int // default 30
	TotalLeads       int
	DialedCount      int
	ConnectedCount   int
	ErrorMessage     string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// CallDirection is Inbound or Outbound.
type CallDirection string

const (
	CallInbound  CallDirection = "inbound"
	CallOutbound CallDirection = "outbound"
)

// CallStatus is the relational-store mirror of the in-memory SIP dialog
// state (internal/sip.CallState); it is the durable record of a call's
// lifecycle, written at the transition points the scheduler and user agent
// observe.
type CallStatus string

const (
	CallInitiated CallStatus = "initiated"
	CallRinging   CallStatus = "ringing"
	CallAnswered  CallStatus = "answered"
	CallBridged   CallStatus = "bridged"
	CallCompleted CallStatus = "completed"
	CallNoAnswer  CallStatus = "no_answer"
	CallBusy      CallStatus = "busy"
	CallFailed    CallStatus = "failed"
)

// Call is the durable record of one dialed or received call.
type Call struct {
	ID                int64
	Direction         CallDirection
	Status            CallStatus
	LeadID            *int64
	AgentID           *int64
	CampaignID        *int64
	FromNumber        string
	ToNumber          string
	StartedAt         time.Time
	AnsweredAt        *time.Time
	EndedAt           *time.Time
	DurationSeconds   int
	Disposition       string
	ExternalDialogID  string // SIP Call-ID
	RecordingID       *int64
	RecordingURL      string
}

// Recording is a persisted, encrypted call recording.
type Recording struct {
	ID              int64
	CallID          int64
	RelativePath    string
	ByteSize        int64
	DurationSeconds int
	Format          string // "wav"
	EncryptionKeyID string
	UploadedAt      time.Time
	RetentionUntil  time.Time
	ComplianceHold  bool
	// Metadata blob, denormalized at write time so a recording remains
	// self-describing after its source rows are pruned.
	AgentName             string
	LeadName              string
	CampaignName          string
	Disposition           string
	CallDurationSeconds   int
}

// RetentionScope selects which rows a RetentionPolicy applies to.
type RetentionScope string

const (
	RetentionScopeAll      RetentionScope = "all"
	RetentionScopeCampaign RetentionScope = "campaign"
	RetentionScopeAgent    RetentionScope = "agent"
)

// RetentionPolicy sets how many days a Recording is kept before the sweeper
// deletes it, absent a compliance hold.
//
// Invariant: at most one row with IsDefault=true and Scope=All.
type RetentionPolicy struct {
	ID            int64
	RetentionDays int
	Scope         RetentionScope
	CampaignID    *int64
	AgentID       *int64
	IsDefault     bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// StorageUsageRow is a daily rollup of recording storage activity.
//
// Uniqueness: one row per Date.
type StorageUsageRow struct {
	ID               int64
	Date             time.Time // local day, time-of-day truncated
	TotalFiles       int64
	TotalSizeBytes   int64
	RecordingsAdded  int64
	RecordingsDeleted int64
}
