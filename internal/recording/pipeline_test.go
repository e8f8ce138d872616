package recording

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxdial/callengine/internal/audio"
	"github.com/voxdial/callengine/internal/database"
	"github.com/voxdial/callengine/internal/database/models"
	"github.com/voxdial/callengine/internal/rtp"
	"github.com/voxdial/callengine/internal/storage"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestCallRecorderDropsBeyondBudget(t *testing.T) {
	rec := NewCallRecorder(1, testLogger())
	tee := rec.Tee()
	for i := 0; i < capturedPacketBudget+10; i++ {
		tee(rtp.CapturedPacket{Direction: rtp.Outgoing, Samples: []int16{1, 2, 3}})
	}
	assert.Equal(t, capturedPacketBudget, len(rec.snapshot()))
	assert.Equal(t, uint64(10), rec.Dropped())
}

func TestFinalizeEmptyRecordingReturnsError(t *testing.T) {
	dir := t.TempDir()
	st, err := storage.New(dir, 1<<30, storage.PlaintextKeyManager{})
	require.NoError(t, err)

	p := NewPipeline(st, audio.Stereo, testLogger())
	rec := NewCallRecorder(1, testLogger())

	_, err = p.Finalize(context.Background(), rec)
	assert.ErrorIs(t, err, ErrEmptyRecording)
}

func TestFinalizeStoresStereoMixedWAV(t *testing.T) {
	dir := t.TempDir()
	st, err := storage.New(dir, 1<<30, storage.PlaintextKeyManager{})
	require.NoError(t, err)

	p := NewPipeline(st, audio.Stereo, testLogger())
	rec := NewCallRecorder(42, testLogger())
	tee := rec.Tee()

	tee(rtp.CapturedPacket{Direction: rtp.Outgoing, Timestamp: 0, Samples: []int16{100, 200}})
	tee(rtp.CapturedPacket{Direction: rtp.Incoming, Timestamp: 0, Samples: []int16{300, 400}})

	rf, err := p.Finalize(context.Background(), rec)
	require.NoError(t, err)
	assert.NotEmpty(t, rf.RelativePath)

	data, err := st.Get(rf.RelativePath, rf.EncryptionKeyID)
	require.NoError(t, err)

	samples, rate, channels, err := audio.DecodeWAV(data)
	require.NoError(t, err)
	assert.Equal(t, uint32(8000), rate)
	assert.Equal(t, uint16(2), channels)
	assert.Equal(t, []int16{100, 300, 200, 400}, samples)
}

func TestFinalizeQuotaExceeded(t *testing.T) {
	dir := t.TempDir()
	st, err := storage.New(dir, 4, storage.PlaintextKeyManager{})
	require.NoError(t, err)

	p := NewPipeline(st, audio.Mono, testLogger())
	rec := NewCallRecorder(7, testLogger())
	tee := rec.Tee()
	tee(rtp.CapturedPacket{Direction: rtp.Outgoing, Samples: make([]int16, 1000)})

	_, err = p.Finalize(context.Background(), rec)
	require.Error(t, err)
	var quotaErr *storage.QuotaExceededError
	assert.ErrorAs(t, err, &quotaErr)
}

func TestPersistResolvesRetentionAndIncrementsUsage(t *testing.T) {
	dir := t.TempDir()
	st, err := storage.New(dir, 1<<30, storage.PlaintextKeyManager{})
	require.NoError(t, err)
	db, err := database.Open(t.TempDir())
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	policies := database.NewRetentionPolicyRepository(db)
	campaignID := int64(9)
	require.NoError(t, policies.Create(ctx, &models.RetentionPolicy{
		RetentionDays: 14, Scope: models.RetentionScopeCampaign, CampaignID: &campaignID,
	}))

	recordings := database.NewRecordingRepository(db)
	usage := database.NewStorageUsageRepository(db)

	p := NewPipeline(st, audio.Mono, testLogger())
	rec := NewCallRecorder(5, testLogger())
	tee := rec.Tee()
	tee(rtp.CapturedPacket{Direction: rtp.Outgoing, Samples: []int16{1, 2, 3, 4}})

	rf, err := p.Finalize(ctx, rec)
	require.NoError(t, err)

	got, err := p.Persist(ctx, rf, Meta{
		AgentName: "Jamie", CampaignID: &campaignID, CallDurationSeconds: 12,
	}, recordings, policies, usage, 90, 5)
	require.NoError(t, err)
	assert.Equal(t, int64(5), got.CallID)
	untilRetention := time.Until(got.RetentionUntil)
	assert.Greater(t, untilRetention, 13*24*time.Hour)
	assert.Less(t, untilRetention, 15*24*time.Hour)

	row, err := usage.GetByDate(ctx, time.Now())
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, int64(1), row.RecordingsAdded)
}
