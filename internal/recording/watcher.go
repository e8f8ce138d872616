package recording

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/voxdial/callengine/internal/database"
	"github.com/voxdial/callengine/internal/sip"
	"github.com/voxdial/callengine/internal/storage"
)

// Watcher drains a sip.UserAgent's event stream and attaches a CallRecorder
// to each call's RTP session the moment it goes Active, then finalizes and
// persists the recording when the call ends. It is the glue between the
// signaling layer (which owns the *rtp.Session) and the Recording Pipeline
// (which only knows how to mix and store bytes already captured).
type Watcher struct {
	agent                 *sip.UserAgent
	pipeline              *Pipeline
	agents                database.AgentRepository
	leads                 database.LeadRepository
	campaigns             database.CampaignRepository
	calls                 database.CallRepository
	recordings            database.RecordingRepository
	policies              database.RetentionPolicyRepository
	usage                 database.StorageUsageRepository
	fallbackRetentionDays int
	logger                *slog.Logger

	mu        sync.Mutex
	recorders map[string]*CallRecorder // keyed by SIP call ID
}

func NewWatcher(
	agent *sip.UserAgent,
	pipeline *Pipeline,
	agents database.AgentRepository,
	leads database.LeadRepository,
	campaigns database.CampaignRepository,
	calls database.CallRepository,
	recordings database.RecordingRepository,
	policies database.RetentionPolicyRepository,
	usage database.StorageUsageRepository,
	fallbackRetentionDays int,
	logger *slog.Logger,
) *Watcher {
	return &Watcher{
		agent:                 agent,
		pipeline:              pipeline,
		agents:                agents,
		leads:                 leads,
		campaigns:             campaigns,
		calls:                 calls,
		recordings:            recordings,
		policies:              policies,
		usage:                 usage,
		fallbackRetentionDays: fallbackRetentionDays,
		logger:                logger.With("subsystem", "recording.watcher"),
		recorders:             make(map[string]*CallRecorder),
	}
}

// Run drains events until the channel closes or ctx is cancelled.
func (w *Watcher) Run(ctx context.Context, events <-chan sip.AgentEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Kind != sip.AgentCallStateChanged {
				continue
			}
			switch ev.CallState {
			case sip.Active:
				w.attach(ctx, ev.CallID)
			case sip.Ended, sip.Failed:
				w.finish(ctx, ev.CallID)
			}
		}
	}
}

// attach installs a CallRecorder's tee on the call's RTP session. A Held
// call returning to Active re-fires this event; the recorders map makes
// that a no-op instead of a second recorder racing the first.
func (w *Watcher) attach(ctx context.Context, sipCallID string) {
	w.mu.Lock()
	_, already := w.recorders[sipCallID]
	w.mu.Unlock()
	if already {
		return
	}

	call, ok := w.agent.GetCall(sipCallID)
	if !ok {
		return
	}
	session := call.Session()
	if session == nil {
		return
	}

	dbCall, err := w.calls.GetByExternalDialogID(ctx, sipCallID)
	if err != nil || dbCall == nil {
		w.logger.Error("recording: no call row for active session", "sip_call_id", sipCallID, "error", err)
		return
	}

	rec := NewCallRecorder(dbCall.ID, w.logger)
	w.mu.Lock()
	if _, already := w.recorders[sipCallID]; already {
		w.mu.Unlock()
		return
	}
	w.recorders[sipCallID] = rec
	w.mu.Unlock()

	session.SetTee(rec.Tee())
}

// finish detaches sipCallID's recorder, if any, and finalizes and persists
// the recording. Nothing here affects the call's own outcome: a failed or
// empty recording is logged and dropped.
func (w *Watcher) finish(ctx context.Context, sipCallID string) {
	w.mu.Lock()
	rec, ok := w.recorders[sipCallID]
	if ok {
		delete(w.recorders, sipCallID)
	}
	w.mu.Unlock()
	if !ok {
		return
	}

	rf, err := w.pipeline.Finalize(ctx, rec)
	if err != nil {
		if errors.Is(err, ErrEmptyRecording) {
			return
		}
		var quotaErr *storage.QuotaExceededError
		if !errors.As(err, &quotaErr) {
			w.logger.Error("recording: finalize failed", "sip_call_id", sipCallID, "error", err)
		}
		return
	}

	dbCall, err := w.calls.GetByID(ctx, rec.callID)
	if err != nil || dbCall == nil {
		w.logger.Error("recording: loading call to persist recording", "call_id", rec.callID, "error", err)
		return
	}

	meta := Meta{
		Disposition:         dbCall.Disposition,
		CallDurationSeconds: dbCall.DurationSeconds,
		CampaignID:          dbCall.CampaignID,
		AgentID:             dbCall.AgentID,
	}
	if dbCall.AgentID != nil {
		if agent, err := w.agents.GetByID(ctx, *dbCall.AgentID); err == nil && agent != nil {
			meta.AgentName = agent.Name
		}
	}
	if dbCall.LeadID != nil {
		if lead, err := w.leads.GetByID(ctx, *dbCall.LeadID); err == nil && lead != nil {
			meta.LeadName = lead.FirstName + " " + lead.LastName
		}
	}
	if dbCall.CampaignID != nil {
		if campaign, err := w.campaigns.GetByID(ctx, *dbCall.CampaignID); err == nil && campaign != nil {
			meta.CampaignName = campaign.Name
		}
	}

	recording, err := w.pipeline.Persist(ctx, rf, meta, w.recordings, w.policies, w.usage, w.fallbackRetentionDays, dbCall.ID)
	if err != nil {
		w.logger.Error("recording: persist failed", "call_id", dbCall.ID, "error", err)
		return
	}

	dbCall.RecordingID = &recording.ID
	dbCall.RecordingURL = recording.RelativePath
	if err := w.calls.Update(ctx, dbCall); err != nil {
		w.logger.Error("recording: linking recording to call", "call_id", dbCall.ID, "error", err)
	}
}
