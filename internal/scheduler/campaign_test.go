package scheduler

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxdial/callengine/internal/database"
	"github.com/voxdial/callengine/internal/database/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestIsWithinWindow(t *testing.T) {
	day := time.Date(2026, 7, 31, 0, 0, 0, 0, time.Local)
	assert.True(t, isWithinWindow(day.Add(10*time.Hour), "09:00", "21:00"))
	assert.False(t, isWithinWindow(day.Add(7*time.Hour), "09:00", "21:00"))
	assert.False(t, isWithinWindow(day.Add(21*time.Hour), "09:00", "21:00"))
	assert.True(t, isWithinWindow(day.Add(12*time.Hour), "bogus", "21:00"))
}

func TestPacingDelay(t *testing.T) {
	assert.Equal(t, 10*time.Second, pacingDelay(models.DialerPreview))
	assert.Equal(t, 5*time.Second, pacingDelay(models.DialerProgressive))
	assert.Equal(t, 2*time.Second, pacingDelay(models.DialerPredictive))
}

func TestEffectiveRetryDelayFloorsAtThirtyMinutes(t *testing.T) {
	assert.Equal(t, minRetryDelay, effectiveRetryDelay(models.Campaign{RetryDelayMin: 5}))
	assert.Equal(t, 45*time.Minute, effectiveRetryDelay(models.Campaign{RetryDelayMin: 45}))
}

type fakeDialer struct {
	callID string
	err    error
	calls  []string
}

func (f *fakeDialer) Dial(ctx context.Context, to string) (string, error) {
	f.calls = append(f.calls, to)
	if f.err != nil {
		return "", f.err
	}
	return f.callID, nil
}

func TestTickDispatchesDueLeadToReadyAgent(t *testing.T) {
	db, err := database.Open(t.TempDir())
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	campaigns := database.NewCampaignRepository(db)
	leads := database.NewLeadRepository(db)
	agents := database.NewAgentRepository(db)
	calls := database.NewCallRepository(db)

	campaign := &models.Campaign{
		Name: "Q3 renewals", Status: models.CampaignActive, DialerMode: models.DialerProgressive,
		CallerID: "+15551230000", WindowStart: "00:00", WindowEnd: "23:59", MaxAttempts: 3, RetryDelayMin: 30,
	}
	require.NoError(t, campaigns.Create(ctx, campaign))

	lead := &models.Lead{Phone: "+15557654321", Status: models.LeadNew, CampaignID: &campaign.ID}
	require.NoError(t, leads.Create(ctx, lead))

	agent := &models.Agent{Name: "Jamie", Type: models.AgentHuman, Status: models.AgentReady}
	require.NoError(t, agents.Create(ctx, agent))
	require.NoError(t, agents.AssignToCampaign(ctx, campaign.ID, agent.ID))

	dialer := &fakeDialer{callID: "sip-call-1"}
	s := NewCampaignScheduler(campaigns, leads, agents, calls, dialer, testLogger())

	keepGoing := s.tick(ctx, campaign.ID)
	assert.True(t, keepGoing)

	gotLead, err := leads.GetByID(ctx, lead.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, gotLead.CallAttempts)
	assert.NotNil(t, gotLead.LastCallAt)

	gotAgent, err := agents.GetByID(ctx, agent.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AgentOnCall, gotAgent.Status)

	all, total, err := calls.List(ctx, database.CallListFilter{CampaignID: &campaign.ID})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	assert.Equal(t, models.CallOutbound, all[0].Direction)
	assert.Equal(t, models.CallRinging, all[0].Status)
	assert.Equal(t, "sip-call-1", all[0].ExternalDialogID)
	assert.Equal(t, []string{lead.Phone}, dialer.calls)
}

func TestTickMarksCompletedWhenNoLeadDue(t *testing.T) {
	db, err := database.Open(t.TempDir())
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	campaigns := database.NewCampaignRepository(db)
	leads := database.NewLeadRepository(db)
	agents := database.NewAgentRepository(db)
	calls := database.NewCallRepository(db)

	campaign := &models.Campaign{
		Name: "Exhausted", Status: models.CampaignActive, DialerMode: models.DialerProgressive,
		CallerID: "+15551230000", WindowStart: "00:00", WindowEnd: "23:59", MaxAttempts: 1, RetryDelayMin: 30,
	}
	require.NoError(t, campaigns.Create(ctx, campaign))

	agent := &models.Agent{Name: "Jamie", Type: models.AgentHuman, Status: models.AgentReady}
	require.NoError(t, agents.Create(ctx, agent))
	require.NoError(t, agents.AssignToCampaign(ctx, campaign.ID, agent.ID))

	s := NewCampaignScheduler(campaigns, leads, agents, calls, &fakeDialer{}, testLogger())
	keepGoing := s.tick(ctx, campaign.ID)
	assert.False(t, keepGoing)

	got, err := campaigns.GetByID(ctx, campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CampaignCompleted, got.Status)
}

func TestStartRejectsInactiveOrAlreadyRunning(t *testing.T) {
	db, err := database.Open(t.TempDir())
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	campaigns := database.NewCampaignRepository(db)
	leads := database.NewLeadRepository(db)
	agents := database.NewAgentRepository(db)
	calls := database.NewCallRepository(db)

	draft := &models.Campaign{Name: "Draft", Status: models.CampaignDraft, DialerMode: models.DialerProgressive, WindowStart: "00:00", WindowEnd: "23:59"}
	require.NoError(t, campaigns.Create(ctx, draft))

	s := NewCampaignScheduler(campaigns, leads, agents, calls, &fakeDialer{}, testLogger())
	assert.ErrorIs(t, s.Start(ctx, draft.ID), ErrInvalidState)

	active := &models.Campaign{Name: "Active", Status: models.CampaignActive, DialerMode: models.DialerProgressive, WindowStart: "00:00", WindowEnd: "23:59"}
	require.NoError(t, campaigns.Create(ctx, active))

	require.NoError(t, s.Start(ctx, active.ID))
	defer s.Stop(active.ID)
	assert.ErrorIs(t, s.Start(ctx, active.ID), ErrAlreadyRunning)
}

func TestTickSkipsWhenOutsideWindow(t *testing.T) {
	db, err := database.Open(t.TempDir())
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	campaigns := database.NewCampaignRepository(db)
	leads := database.NewLeadRepository(db)
	agents := database.NewAgentRepository(db)
	calls := database.NewCallRepository(db)

	now := time.Now()
	farFuture := now.Add(2 * time.Hour).Format("15:04")
	farFutureEnd := now.Add(3 * time.Hour).Format("15:04")
	campaign := &models.Campaign{
		Name: "Nightshift", Status: models.CampaignActive, DialerMode: models.DialerProgressive,
		CallerID: "+15551230000", WindowStart: farFuture, WindowEnd: farFutureEnd, MaxAttempts: 3, RetryDelayMin: 30,
	}
	require.NoError(t, campaigns.Create(ctx, campaign))

	dialer := &fakeDialer{}
	s := NewCampaignScheduler(campaigns, leads, agents, calls, dialer, testLogger())
	keepGoing := s.tick(ctx, campaign.ID)
	assert.True(t, keepGoing)
	assert.Empty(t, dialer.calls)
}
