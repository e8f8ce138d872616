// Package recording implements the call Recording Pipeline (C8): capturing
// both legs of a call's RTP audio, mixing them into a single stereo or mono
// stream, encoding to WAV, and handing the result to encrypted storage.
package recording

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/voxdial/callengine/internal/audio"
	"github.com/voxdial/callengine/internal/database"
	"github.com/voxdial/callengine/internal/database/models"
	"github.com/voxdial/callengine/internal/rtp"
	"github.com/voxdial/callengine/internal/storage"
)

// capturedPacketBudget bounds how many RTP packets a single call's recorder
// retains before it starts dropping the newest arrivals. Both legs share the
// budget; at 50 packets/sec per direction, 20000 is roughly 200 seconds of
// a two-leg call — it exists to bound memory, not to normally bind.
const capturedPacketBudget = 20000 // ~200s per leg at 50pps, generous for a single call

// CallRecorder accumulates both directions of one call's RTP audio from the
// moment it's attached to a Session via SetTee until Finish is called at
// call end. Feeding is non-blocking: a recorder that falls behind drops the
// newest packets rather than stalling the RTP receive/send path (the
// transport loop that calls the tee must never wait on it).
type CallRecorder struct {
	callID int64
	logger *slog.Logger

	mu      sync.Mutex
	packets []rtp.CapturedPacket
	dropped uint64
}

// NewCallRecorder creates a recorder for callID. Attach it to a session with
// session.SetTee(rec.Tee()).
func NewCallRecorder(callID int64, logger *slog.Logger) *CallRecorder {
	return &CallRecorder{
		callID:  callID,
		logger:  logger.With("subsystem", "recording", "call_id", callID),
		packets: make([]rtp.CapturedPacket, 0, 256),
	}
}

// Tee returns the callback to install via Session.SetTee.
func (r *CallRecorder) Tee() func(rtp.CapturedPacket) {
	return func(p rtp.CapturedPacket) {
		r.mu.Lock()
		defer r.mu.Unlock()
		if len(r.packets) >= capturedPacketBudget {
			r.dropped++
			return
		}
		r.packets = append(r.packets, p)
	}
}

// Dropped reports how many packets were discarded for exceeding the budget.
func (r *CallRecorder) Dropped() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

func (r *CallRecorder) snapshot() []rtp.CapturedPacket {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]rtp.CapturedPacket, len(r.packets))
	copy(out, r.packets)
	return out
}

// ErrEmptyRecording is returned by Finalize when a call produced no audio to
// mix (e.g. it never connected), so there's nothing to store.
var ErrEmptyRecording = errors.New("recording: no audio captured for call")

// Pipeline finalizes recorders into stored WAV files. It wraps a Store and
// the mixing mode the engine is configured to produce.
type Pipeline struct {
	store  *storage.Store
	mode   audio.MixMode
	logger *slog.Logger
}

// NewPipeline creates a recording pipeline writing into store, mixing in
// mode (Stereo: agent left channel, remote right channel; Mono: averaged).
func NewPipeline(store *storage.Store, mode audio.MixMode, logger *slog.Logger) *Pipeline {
	return &Pipeline{store: store, mode: mode, logger: logger.With("subsystem", "recording")}
}

// Finalize mixes everything rec captured, encodes it to WAV, and stores it.
// A quota-exceeded condition is logged as a warning and returned to the
// caller as a *storage.QuotaExceededError — per the error taxonomy (§7),
// the call itself is never affected by a failed recording, so callers
// should log and continue rather than fail the hangup/cleanup path.
func (p *Pipeline) Finalize(ctx context.Context, rec *CallRecorder) (storage.RecordingFile, error) {
	packets := rec.snapshot()

	mixer := audio.NewMixer(p.mode, 8000)
	samples := mixer.Mix(packets)
	if len(samples) == 0 {
		return storage.RecordingFile{}, ErrEmptyRecording
	}

	wavBytes, err := audio.EncodeWAV(samples, mixer.SampleRate(), mixer.Channels())
	if err != nil {
		return storage.RecordingFile{}, fmt.Errorf("recording: encoding wav: %w", err)
	}

	rf, err := p.store.Store(rec.callID, wavBytes, "wav")
	if err != nil {
		var quotaErr *storage.QuotaExceededError
		if errors.As(err, &quotaErr) {
			p.logger.Warn("recording storage quota exceeded, skipping recording",
				"call_id", rec.callID, "used_bytes", quotaErr.UsedBytes, "quota_bytes", quotaErr.QuotaBytes)
		}
		return storage.RecordingFile{}, err
	}

	if dropped := rec.Dropped(); dropped > 0 {
		p.logger.Warn("recording dropped packets under backlog pressure", "call_id", rec.callID, "dropped", dropped)
	}

	p.logger.Info("call recording stored",
		"call_id", rec.callID,
		"path", rf.RelativePath,
		"bytes", rf.FileSize,
		"duration", time.Duration(len(samples)/int(mixer.Channels())/8000)*time.Second,
	)

	return rf, nil
}

// Meta carries the denormalized descriptive fields a Recording row stores
// alongside its file location (spec §3's "metadata blob"), plus the
// retention inputs needed to resolve how long to keep it.
type Meta struct {
	AgentName           string
	LeadName            string
	CampaignName        string
	Disposition         string
	CallDurationSeconds int
	CampaignID          *int64
	AgentID             *int64
}

// Persist inserts the Recording row for an already-stored file (§4.8 step
// 5), resolving retention_days by the campaign > agent > default > fallback
// priority (P8) and incrementing the day's recordings_added counter.
// Separate from Finalize so storing bytes never blocks on the database:
// Finalize can succeed and be retried into Persist independently.
func (p *Pipeline) Persist(ctx context.Context, rf storage.RecordingFile, meta Meta, recordings database.RecordingRepository, policies database.RetentionPolicyRepository, usage database.StorageUsageRepository, fallbackRetentionDays int, callID int64) (*models.Recording, error) {
	retentionDays, err := policies.ResolveRetentionDays(ctx, meta.CampaignID, meta.AgentID, fallbackRetentionDays)
	if err != nil {
		return nil, fmt.Errorf("recording: resolving retention policy: %w", err)
	}

	rec := &models.Recording{
		CallID:              callID,
		RelativePath:        rf.RelativePath,
		ByteSize:            int64(rf.FileSize),
		DurationSeconds:     meta.CallDurationSeconds,
		Format:              "wav",
		EncryptionKeyID:     rf.EncryptionKeyID,
		UploadedAt:          time.Now(),
		RetentionUntil:      time.Now().AddDate(0, 0, retentionDays),
		AgentName:           meta.AgentName,
		LeadName:            meta.LeadName,
		CampaignName:        meta.CampaignName,
		Disposition:         meta.Disposition,
		CallDurationSeconds: meta.CallDurationSeconds,
	}
	if err := recordings.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("recording: inserting row: %w", err)
	}

	if err := usage.Upsert(ctx, time.Now(), 1, int64(rf.FileSize), 1, 0); err != nil {
		p.logger.Warn("recording: storage usage upsert failed", "call_id", callID, "error", err)
	}

	return rec, nil
}
