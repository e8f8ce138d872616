// Package scheduler implements the Campaign Scheduler (C9) and Retention
// Sweeper (C10): the two background loops that drive outbound dialing and
// recording expiry without any HTTP request in the call path.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/voxdial/callengine/internal/database"
	"github.com/voxdial/callengine/internal/database/models"
	"github.com/voxdial/callengine/internal/sip"
)

// tickInterval is how often a running campaign's loop re-evaluates whether
// there's an agent and a due lead to dispatch.
const tickInterval = 5 * time.Second

// minRetryDelay is the floor under a campaign's configured retry_delay:
// a lead is never redialed inside this window regardless of campaign
// configuration (P11, resolving the spec's retry_delay_minutes ambiguity
// in favor of the original implementation's hardcoded 30-minute floor).
const minRetryDelay = 30 * time.Minute

// pacing between dispatches within a single tick, by dialer mode. Preview
// dialing waits for an agent to review the lead before the next dial;
// predictive dials aggressively ahead of agent availability.
func pacingDelay(mode models.DialerMode) time.Duration {
	switch mode {
	case models.DialerPreview:
		return 10 * time.Second
	case models.DialerPredictive:
		return 2 * time.Second
	default: // Progressive
		return 5 * time.Second
	}
}

func effectiveRetryDelay(c models.Campaign) time.Duration {
	d := time.Duration(c.RetryDelayMin) * time.Minute
	if d < minRetryDelay {
		return minRetryDelay
	}
	return d
}

// isWithinWindow reports whether now's local wall-clock time falls inside
// the campaign's [start, end) call window, both given as "HH:MM".
func isWithinWindow(now time.Time, start, end string) bool {
	s, err1 := time.ParseInLocation("15:04", start, time.Local)
	e, err2 := time.ParseInLocation("15:04", end, time.Local)
	if err1 != nil || err2 != nil {
		return true // misconfigured window never blocks dialing
	}
	cur := now.Hour()*60 + now.Minute()
	lo := s.Hour()*60 + s.Minute()
	hi := e.Hour()*60 + e.Minute()
	return cur >= lo && cur < hi
}

// dispatchedCall is the intent record the scheduler keeps for a call it
// placed: enough to reconcile agent/lead/campaign state when the call's
// outcome arrives as a sip.AgentEvent, without holding a *sip.Call.
type dispatchedCall struct {
	dbCallID   int64
	leadID     int64
	agentID    int64
	campaignID int64
}

// CampaignScheduler runs one dial loop per active campaign, selecting a
// ready agent and a due lead each tick and placing a call through Dialer.
// Grounded on the original AutomationManager: a map of per-campaign
// cancelable loops ticking independently, each reading shared repositories.
type CampaignScheduler struct {
	campaigns database.CampaignRepository
	leads     database.LeadRepository
	agents    database.AgentRepository
	calls     database.CallRepository
	dialer    Dialer
	logger    *slog.Logger

	mu        sync.Mutex
	cancels   map[int64]context.CancelFunc
	lastDial  map[int64]time.Time

	dispatchMu sync.Mutex
	dispatched map[string]dispatchedCall
}

// AutomationStatus reports a running campaign's loop progress, mirroring
// the CampaignState record named in §4.9.
type AutomationStatus struct {
	IsRunning       bool
	CallsInProgress int
	LeadsProcessed  int
	LastDialAt      *time.Time
}

// Status reports campaignID's automation loop state. LeadsProcessed is the
// campaign's durable DialedCount; CallsInProgress counts this scheduler's
// currently dispatched-but-unresolved calls for the campaign.
func (s *CampaignScheduler) Status(ctx context.Context, campaignID int64) (AutomationStatus, error) {
	st := AutomationStatus{IsRunning: s.Running(campaignID)}

	campaign, err := s.campaigns.GetByID(ctx, campaignID)
	if err != nil {
		return st, err
	}
	if campaign != nil {
		st.LeadsProcessed = campaign.DialedCount
	}

	s.dispatchMu.Lock()
	for _, d := range s.dispatched {
		if d.campaignID == campaignID {
			st.CallsInProgress++
		}
	}
	s.dispatchMu.Unlock()

	s.mu.Lock()
	if t, ok := s.lastDial[campaignID]; ok {
		tCopy := t
		st.LastDialAt = &tCopy
	}
	s.mu.Unlock()

	return st, nil
}

// NewCampaignScheduler wires a scheduler against the relational store and a
// dialer able to place calls.
func NewCampaignScheduler(campaigns database.CampaignRepository, leads database.LeadRepository, agents database.AgentRepository, calls database.CallRepository, dialer Dialer, logger *slog.Logger) *CampaignScheduler {
	return &CampaignScheduler{
		campaigns:  campaigns,
		leads:      leads,
		agents:     agents,
		calls:      calls,
		dialer:     dialer,
		logger:     logger.With("subsystem", "scheduler"),
		cancels:    make(map[int64]context.CancelFunc),
		lastDial:   make(map[int64]time.Time),
		dispatched: make(map[string]dispatchedCall),
	}
}

// ErrInvalidState is returned by Start when the campaign's status isn't
// Active. ErrAlreadyRunning is returned when a dial loop is already
// running for the campaign. Both per §4.9's start_campaign contract.
var (
	ErrInvalidState   = errors.New("scheduler: campaign is not active")
	ErrAlreadyRunning = errors.New("scheduler: campaign automation already running")
)

// Start begins dialing campaignID. It rejects a campaign whose status
// isn't Active, or one that already has a running loop.
func (s *CampaignScheduler) Start(parent context.Context, campaignID int64) error {
	campaign, err := s.campaigns.GetByID(parent, campaignID)
	if err != nil {
		return err
	}
	if campaign == nil || campaign.Status != models.CampaignActive {
		return ErrInvalidState
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, running := s.cancels[campaignID]; running {
		return ErrAlreadyRunning
	}
	ctx, cancel := context.WithCancel(parent)
	s.cancels[campaignID] = cancel
	go s.runLoop(ctx, campaignID)
	return nil
}

// Stop halts campaignID's dial loop. It does not touch in-flight calls.
func (s *CampaignScheduler) Stop(campaignID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cancel, ok := s.cancels[campaignID]; ok {
		cancel()
		delete(s.cancels, campaignID)
	}
}

// Running reports whether campaignID currently has an active loop.
func (s *CampaignScheduler) Running(campaignID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.cancels[campaignID]
	return ok
}

func (s *CampaignScheduler) runLoop(ctx context.Context, campaignID int64) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !s.tick(ctx, campaignID) {
				s.mu.Lock()
				delete(s.cancels, campaignID)
				s.mu.Unlock()
				return
			}
		}
	}
}

// tick runs one dispatch attempt for campaignID. It returns false when the
// loop should stop (campaign no longer active, or exhausted of leads).
func (s *CampaignScheduler) tick(ctx context.Context, campaignID int64) bool {
	campaign, err := s.campaigns.GetByID(ctx, campaignID)
	if err != nil {
		s.logger.Error("scheduler: loading campaign", "campaign_id", campaignID, "error", err)
		return true
	}
	if campaign == nil || campaign.Status != models.CampaignActive {
		return false
	}

	if !isWithinWindow(time.Now(), campaign.WindowStart, campaign.WindowEnd) {
		return true
	}

	ready, err := s.agents.ReadyForCampaign(ctx, campaignID)
	if err != nil {
		s.campaigns.SetError(ctx, campaignID, err.Error())
		return true
	}
	if len(ready) == 0 {
		return true
	}

	lead, err := s.leads.NextDue(ctx, campaignID, campaign.MaxAttempts, effectiveRetryDelay(*campaign))
	if err != nil {
		s.campaigns.SetError(ctx, campaignID, err.Error())
		return true
	}
	if lead == nil {
		s.campaigns.SetStatus(ctx, campaignID, models.CampaignCompleted)
		return false
	}

	agent := ready[0]
	s.dispatch(ctx, campaign, &agent, lead)

	s.mu.Lock()
	s.lastDial[campaignID] = time.Now()
	s.mu.Unlock()

	time.Sleep(pacingDelay(campaign.DialerMode))
	return true
}

func (s *CampaignScheduler) dispatch(ctx context.Context, campaign *models.Campaign, agent *models.Agent, lead *models.Lead) {
	ok, err := s.agents.CompareAndSetStatus(ctx, agent.ID, models.AgentReady, models.AgentOnCall)
	if err != nil || !ok {
		// another tick (or operator action) already claimed this agent.
		return
	}

	if err := s.leads.RecordAttempt(ctx, lead.ID); err != nil {
		s.logger.Error("scheduler: recording lead attempt", "lead_id", lead.ID, "error", err)
		s.agents.CompareAndSetStatus(ctx, agent.ID, models.AgentOnCall, models.AgentReady)
		return
	}

	call := &models.Call{
		Direction:  models.CallOutbound,
		Status:     models.CallInitiated,
		LeadID:     &lead.ID,
		AgentID:    &agent.ID,
		CampaignID: &campaign.ID,
		FromNumber: campaign.CallerID,
		ToNumber:   lead.Phone,
		StartedAt:  time.Now(),
	}
	if err := s.calls.Create(ctx, call); err != nil {
		s.logger.Error("scheduler: creating call row", "lead_id", lead.ID, "error", err)
		s.agents.CompareAndSetStatus(ctx, agent.ID, models.AgentOnCall, models.AgentReady)
		return
	}

	sipCallID, err := s.dialer.Dial(ctx, lead.Phone)
	if err != nil {
		s.logger.Warn("scheduler: dial failed", "lead_id", lead.ID, "phone", lead.Phone, "error", err)
		call.Status = models.CallFailed
		now := time.Now()
		call.EndedAt = &now
		s.calls.Update(ctx, call)
		s.agents.CompareAndSetStatus(ctx, agent.ID, models.AgentOnCall, models.AgentReady)
		return
	}

	call.Status = models.CallRinging
	call.ExternalDialogID = sipCallID
	if err := s.calls.Update(ctx, call); err != nil {
		s.logger.Error("scheduler: updating call after dial", "call_id", call.ID, "error", err)
	}
	s.campaigns.IncrementCounters(ctx, campaign.ID, 1, 0)

	s.dispatchMu.Lock()
	s.dispatched[sipCallID] = dispatchedCall{dbCallID: call.ID, leadID: lead.ID, agentID: agent.ID, campaignID: campaign.ID}
	s.dispatchMu.Unlock()
}

// takeDispatchIfTerminal removes and returns the dispatch record for a sip
// call-id once that call reaches a terminal state (Ended or Failed). A call
// the scheduler never placed (e.g. inbound), or one still ringing/active,
// isn't returned.
func (s *CampaignScheduler) takeDispatchIfTerminal(sipCallID string, state sip.CallState) (dispatchedCall, bool) {
	if state != sip.Ended && state != sip.Failed {
		return dispatchedCall{}, false
	}
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()
	d, ok := s.dispatched[sipCallID]
	if ok {
		delete(s.dispatched, sipCallID)
	}
	return d, ok
}
