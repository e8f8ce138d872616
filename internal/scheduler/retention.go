package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/voxdial/callengine/internal/database"
	"github.com/voxdial/callengine/internal/storage"
)

// retentionSweepLimit bounds how many expired recordings a single sweep
// pass deletes, so one catch-up run after downtime can't monopolize disk
// I/O or hold the database busy.
const retentionSweepLimit = 1000

// retentionWindowStart/End gate the sweeper to a low-traffic maintenance
// window, matching the original cleanup loop's 02:00-02:30 local slot.
const (
	retentionWindowStart = 2 * 60
	retentionWindowEnd   = 2*60 + 30
)

// RetentionSweeper deletes recordings whose retention_until has passed and
// which are not under compliance hold (P9). It runs hourly but only
// actually sweeps when woken inside its maintenance window, so a deploy
// that happens to start at 14:00 doesn't immediately start deleting files.
type RetentionSweeper struct {
	recordings database.RecordingRepository
	usage      database.StorageUsageRepository
	store      *storage.Store
	logger     *slog.Logger
}

func NewRetentionSweeper(recordings database.RecordingRepository, usage database.StorageUsageRepository, store *storage.Store, logger *slog.Logger) *RetentionSweeper {
	return &RetentionSweeper{
		recordings: recordings,
		usage:      usage,
		store:      store,
		logger:     logger.With("subsystem", "scheduler.retention"),
	}
}

func inMaintenanceWindow(now time.Time) bool {
	minutes := now.Hour()*60 + now.Minute()
	return minutes >= retentionWindowStart && minutes < retentionWindowEnd
}

// Run ticks hourly until ctx is cancelled, sweeping whenever the tick lands
// inside the maintenance window.
func (s *RetentionSweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !inMaintenanceWindow(time.Now()) {
				continue
			}
			s.Sweep(ctx)
		}
	}
}

// Sweep deletes every recording due for deletion right now, up to
// retentionSweepLimit. It continues past individual file or database
// failures so one bad row never blocks the rest of the batch.
func (s *RetentionSweeper) Sweep(ctx context.Context) int {
	due, err := s.recordings.DueForDeletion(ctx, time.Now(), retentionSweepLimit)
	if err != nil {
		s.logger.Error("retention sweep: querying due recordings", "error", err)
		return 0
	}

	deleted := 0
	for _, rec := range due {
		if err := s.store.Delete(rec.RelativePath); err != nil {
			s.logger.Warn("retention sweep: deleting file", "recording_id", rec.ID, "path", rec.RelativePath, "error", err)
			continue
		}
		if err := s.recordings.Delete(ctx, rec.ID); err != nil {
			s.logger.Error("retention sweep: deleting row", "recording_id", rec.ID, "error", err)
			continue
		}
		if err := s.usage.Upsert(ctx, time.Now(), -1, -rec.ByteSize, 0, 1); err != nil {
			s.logger.Warn("retention sweep: updating storage usage", "recording_id", rec.ID, "error", err)
		}
		deleted++
	}

	if deleted > 0 {
		s.logger.Info("retention sweep complete", "deleted", deleted)
	}
	return deleted
}
