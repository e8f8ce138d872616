package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxdial/callengine/internal/database"
	"github.com/voxdial/callengine/internal/database/models"
	"github.com/voxdial/callengine/internal/storage"
)

func TestInMaintenanceWindow(t *testing.T) {
	day := time.Date(2026, 7, 31, 0, 0, 0, 0, time.Local)
	assert.True(t, inMaintenanceWindow(day.Add(2*time.Hour+15*time.Minute)))
	assert.False(t, inMaintenanceWindow(day.Add(1*time.Hour)))
	assert.False(t, inMaintenanceWindow(day.Add(2*time.Hour+45*time.Minute)))
}

func TestSweepDeletesExpiredAndSparesComplianceHold(t *testing.T) {
	db, err := database.Open(t.TempDir())
	require.NoError(t, err)
	defer db.Close()

	dir := t.TempDir()
	st, err := storage.New(dir, 1<<30, storage.PlaintextKeyManager{})
	require.NoError(t, err)

	ctx := context.Background()
	recordings := database.NewRecordingRepository(db)
	usage := database.NewStorageUsageRepository(db)

	expiredFile, err := st.Store(1, []byte("expired"), "wav")
	require.NoError(t, err)
	heldFile, err := st.Store(2, []byte("held"), "wav")
	require.NoError(t, err)

	past := time.Now().Add(-time.Hour)
	future := time.Now().Add(24 * time.Hour)

	expired := &models.Recording{
		CallID: 1, RelativePath: expiredFile.RelativePath, ByteSize: int64(expiredFile.FileSize),
		Format: "wav", EncryptionKeyID: expiredFile.EncryptionKeyID, UploadedAt: time.Now(), RetentionUntil: past,
	}
	require.NoError(t, recordings.Create(ctx, expired))

	held := &models.Recording{
		CallID: 2, RelativePath: heldFile.RelativePath, ByteSize: int64(heldFile.FileSize),
		Format: "wav", EncryptionKeyID: heldFile.EncryptionKeyID, UploadedAt: time.Now(), RetentionUntil: past,
		ComplianceHold: true,
	}
	require.NoError(t, recordings.Create(ctx, held))

	notYetDue := &models.Recording{
		CallID: 3, RelativePath: "3/not-due.wav.enc", ByteSize: 10,
		Format: "wav", EncryptionKeyID: "k", UploadedAt: time.Now(), RetentionUntil: future,
	}
	require.NoError(t, recordings.Create(ctx, notYetDue))

	sweeper := NewRetentionSweeper(recordings, usage, st, testLogger())
	deleted := sweeper.Sweep(ctx)
	assert.Equal(t, 1, deleted)

	gotExpired, err := recordings.GetByID(ctx, expired.ID)
	require.NoError(t, err)
	assert.Nil(t, gotExpired)

	gotHeld, err := recordings.GetByID(ctx, held.ID)
	require.NoError(t, err)
	require.NotNil(t, gotHeld)

	gotNotDue, err := recordings.GetByID(ctx, notYetDue.ID)
	require.NoError(t, err)
	require.NotNil(t, gotNotDue)

	row, err := usage.GetByDate(ctx, time.Now())
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, int64(1), row.RecordingsDeleted)
}
