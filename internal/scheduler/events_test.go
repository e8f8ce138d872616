package scheduler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxdial/callengine/internal/database"
	"github.com/voxdial/callengine/internal/database/models"
	"github.com/voxdial/callengine/internal/sip"
)

func TestHandleCallStateClosesOutDispatchedCall(t *testing.T) {
	db, err := database.Open(t.TempDir())
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	campaigns := database.NewCampaignRepository(db)
	leads := database.NewLeadRepository(db)
	agents := database.NewAgentRepository(db)
	calls := database.NewCallRepository(db)

	campaign := &models.Campaign{Name: "C", Status: models.CampaignActive, DialerMode: models.DialerProgressive, WindowStart: "00:00", WindowEnd: "23:59"}
	require.NoError(t, campaigns.Create(ctx, campaign))
	agent := &models.Agent{Name: "Jamie", Type: models.AgentHuman, Status: models.AgentOnCall}
	require.NoError(t, agents.Create(ctx, agent))
	call := &models.Call{Direction: models.CallOutbound, Status: models.CallRinging, AgentID: &agent.ID, CampaignID: &campaign.ID, ExternalDialogID: "sip-1"}
	require.NoError(t, calls.Create(ctx, call))

	sched := NewCampaignScheduler(campaigns, leads, agents, calls, &fakeDialer{}, testLogger())
	sched.dispatched["sip-1"] = dispatchedCall{dbCallID: call.ID, agentID: agent.ID, campaignID: campaign.ID}

	watcher := NewCallEventWatcher(sched, agents, calls, campaigns, testLogger())
	watcher.handleCallState(ctx, sip.AgentEvent{Kind: sip.AgentCallStateChanged, CallID: "sip-1", CallState: sip.Ended})

	gotCall, err := calls.GetByID(ctx, call.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CallCompleted, gotCall.Status)
	assert.NotNil(t, gotCall.EndedAt)

	gotAgent, err := agents.GetByID(ctx, agent.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AgentReady, gotAgent.Status)

	gotCampaign, err := campaigns.GetByID(ctx, campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, gotCampaign.ConnectedCount)

	_, stillDispatched := sched.takeDispatchIfTerminal("sip-1", sip.Ended)
	assert.False(t, stillDispatched)
}

func TestHandleCallStateClosesOutManualDialCall(t *testing.T) {
	db, err := database.Open(t.TempDir())
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	campaigns := database.NewCampaignRepository(db)
	leads := database.NewLeadRepository(db)
	agents := database.NewAgentRepository(db)
	calls := database.NewCallRepository(db)

	agent := &models.Agent{Name: "Jamie", Type: models.AgentHuman, Status: models.AgentOnCall}
	require.NoError(t, agents.Create(ctx, agent))
	call := &models.Call{Direction: models.CallOutbound, Status: models.CallRinging, AgentID: &agent.ID, ExternalDialogID: "sip-direct-1"}
	require.NoError(t, calls.Create(ctx, call))

	sched := NewCampaignScheduler(campaigns, leads, agents, calls, &fakeDialer{}, testLogger())
	watcher := NewCallEventWatcher(sched, agents, calls, campaigns, testLogger())

	watcher.handleCallState(ctx, sip.AgentEvent{Kind: sip.AgentCallStateChanged, CallID: "sip-direct-1", CallState: sip.Failed})

	gotCall, err := calls.GetByID(ctx, call.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CallFailed, gotCall.Status)

	gotAgent, err := agents.GetByID(ctx, agent.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AgentReady, gotAgent.Status)
}

func TestHandleCallStateIgnoresNonTerminalTransitions(t *testing.T) {
	db, err := database.Open(t.TempDir())
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	campaigns := database.NewCampaignRepository(db)
	leads := database.NewLeadRepository(db)
	agents := database.NewAgentRepository(db)
	calls := database.NewCallRepository(db)

	sched := NewCampaignScheduler(campaigns, leads, agents, calls, &fakeDialer{}, testLogger())
	watcher := NewCallEventWatcher(sched, agents, calls, campaigns, testLogger())

	// Unknown call id, non-terminal state: must not panic or touch storage.
	watcher.handleCallState(ctx, sip.AgentEvent{Kind: sip.AgentCallStateChanged, CallID: "no-such-call", CallState: sip.Active})
}
