package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/voxdial/callengine/internal/database"
	"github.com/voxdial/callengine/internal/database/models"
	"github.com/voxdial/callengine/internal/sip"
)

// CallEventWatcher drains a sip.UserAgent's event stream and reconciles the
// campaign scheduler's dispatched intent against the call's real outcome:
// an agent freed back to Ready, the call row closed out with its final
// status and duration, and the campaign's connected counter bumped when
// the call ends as Ended (counted at close-out, not at answer; a Failed call
// is not counted). The scheduler places calls without holding a *sip.Call; this is
// the other half of that boundary, turning signaling events back into the
// agent/call state a dialed-but-not-yet-answered call left pending.
type CallEventWatcher struct {
	scheduler *CampaignScheduler
	agents    database.AgentRepository
	calls     database.CallRepository
	campaigns database.CampaignRepository
	logger    *slog.Logger
}

func NewCallEventWatcher(scheduler *CampaignScheduler, agents database.AgentRepository, calls database.CallRepository, campaigns database.CampaignRepository, logger *slog.Logger) *CallEventWatcher {
	return &CallEventWatcher{
		scheduler: scheduler,
		agents:    agents,
		calls:     calls,
		campaigns: campaigns,
		logger:    logger.With("subsystem", "scheduler.events"),
	}
}

// Run drains events until the channel closes or ctx is cancelled.
func (w *CallEventWatcher) Run(ctx context.Context, events <-chan sip.AgentEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Kind == sip.AgentCallStateChanged {
				w.handleCallState(ctx, ev)
			}
		}
	}
}

// handleCallState closes out a call's durable row and frees its agent when
// it reaches a terminal state. A call the scheduler dispatched is resolved
// through its dispatch intent record; a call placed outside the scheduler
// (manual dial via the API, or an inbound call) is resolved directly off
// its Call row instead, so agents from both paths get released the same
// way — the scheduler must not be the only thing that can free a seat.
func (w *CallEventWatcher) handleCallState(ctx context.Context, ev sip.AgentEvent) {
	if ev.CallState != sip.Ended && ev.CallState != sip.Failed {
		return
	}

	if dispatch, ok := w.scheduler.takeDispatchIfTerminal(ev.CallID, ev.CallState); ok {
		w.closeOut(ctx, dispatch.dbCallID, &dispatch.agentID, &dispatch.campaignID, ev.CallState)
		return
	}

	call, err := w.calls.GetByExternalDialogID(ctx, ev.CallID)
	if err != nil || call == nil {
		return
	}
	w.closeOut(ctx, call.ID, call.AgentID, call.CampaignID, ev.CallState)
}

func (w *CallEventWatcher) closeOut(ctx context.Context, dbCallID int64, agentID, campaignID *int64, state sip.CallState) {
	call, err := w.calls.GetByID(ctx, dbCallID)
	if err != nil || call == nil {
		w.logger.Error("scheduler: loading call on completion", "call_id", dbCallID, "error", err)
		if agentID != nil {
			w.agents.CompareAndSetStatus(ctx, *agentID, models.AgentOnCall, models.AgentReady)
		}
		return
	}

	now := time.Now()
	call.EndedAt = &now
	if call.StartedAt.Before(now) {
		call.DurationSeconds = int(now.Sub(call.StartedAt).Seconds())
	}

	connected := 0
	switch state {
	case sip.Ended:
		call.Status = models.CallCompleted
		connected = 1
	case sip.Failed:
		call.Status = models.CallFailed
	}

	if err := w.calls.Update(ctx, call); err != nil {
		w.logger.Error("scheduler: updating call on completion", "call_id", call.ID, "error", err)
	}
	if campaignID != nil {
		w.campaigns.IncrementCounters(ctx, *campaignID, 0, connected)
	}
	if agentID != nil {
		w.agents.CompareAndSetStatus(ctx, *agentID, models.AgentOnCall, models.AgentReady)
	}
}
