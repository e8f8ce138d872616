// Command callengine runs the call engine: SIP registration and dialog
// handling, RTP audio bridging, encrypted call recording, and the campaign
// dialing scheduler, behind an HTTP control-plane API.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/voxdial/callengine/internal/api"
	"github.com/voxdial/callengine/internal/api/middleware"
	"github.com/voxdial/callengine/internal/audio"
	"github.com/voxdial/callengine/internal/config"
	"github.com/voxdial/callengine/internal/database"
	"github.com/voxdial/callengine/internal/metrics"
	"github.com/voxdial/callengine/internal/recording"
	"github.com/voxdial/callengine/internal/scheduler"
	"github.com/voxdial/callengine/internal/sip"
	"github.com/voxdial/callengine/internal/storage"
)

const eventFanoutBuffer = 64

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("loading configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(cfg.SlogHandler(cfg.LogWriter(os.Stdout)))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("callengine exited with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	adminUsers := database.NewAdminUserRepository(db)
	systemConfig, err := database.NewSystemConfigRepository(ctx, db)
	if err != nil {
		return err
	}
	leads := database.NewLeadRepository(db)
	agents := database.NewAgentRepository(db)
	campaigns := database.NewCampaignRepository(db)
	calls := database.NewCallRepository(db)
	recordings := database.NewRecordingRepository(db)
	policies := database.NewRetentionPolicyRepository(db)
	usage := database.NewStorageUsageRepository(db)

	keys := newKeyManager(cfg, logger)
	store, err := storage.New(cfg.RecordingBasePath, cfg.RecordingQuotaBytes(), keys)
	if err != nil {
		return err
	}

	ua, err := sip.NewUserAgent(cfg, logger)
	if err != nil {
		return err
	}
	defer ua.Close()
	if err := ua.Start(ctx); err != nil {
		return err
	}
	if cfg.TrunkConfigured() {
		if err := ua.Register(ctx); err != nil {
			logger.Error("initial trunk registration failed, not retrying", "error", err)
		}
	} else {
		logger.Warn("no SIP trunk configured, running without trunk registration")
	}

	dialer := scheduler.UserAgentDialer{Agent: ua}
	sched := scheduler.NewCampaignScheduler(campaigns, leads, agents, calls, dialer, logger)
	callWatcher := scheduler.NewCallEventWatcher(sched, agents, calls, campaigns, logger)
	retentionSweeper := scheduler.NewRetentionSweeper(recordings, usage, store, logger)

	pipeline := recording.NewPipeline(store, audio.Stereo, logger)
	recWatcher := recording.NewWatcher(ua, pipeline, agents, leads, campaigns, calls, recordings, policies, usage, cfg.DefaultRetentionDays, logger)

	collector := metrics.NewCollector(ua, ua, calls, agents, time.Now())
	prometheus.MustRegister(collector)

	schedEvents := make(chan sip.AgentEvent, eventFanoutBuffer)
	recEvents := make(chan sip.AgentEvent, eventFanoutBuffer)
	go fanOutEvents(ctx, ua.Events(), logger, schedEvents, recEvents)

	go callWatcher.Run(ctx, schedEvents)
	go recWatcher.Run(ctx, recEvents)
	go retentionSweeper.Run(ctx)
	go func() {
		if err := store.WatchUsage(ctx, logger); err != nil {
			logger.Error("recording storage watcher stopped", "error", err)
		}
	}()

	sessions := middleware.NewSessionStore()
	go middleware.StartCleanupTicker(ctx, sessions, 1*time.Hour)

	srv := api.NewServer(api.Deps{
		Config:       cfg,
		Sessions:     sessions,
		AdminUsers:   adminUsers,
		SystemConfig: systemConfig,
		Campaigns:    campaigns,
		Leads:        leads,
		Agents:       agents,
		Calls:        calls,
		Recordings:   recordings,
		Store:        store,
		UserAgent:    ua,
		Scheduler:    sched,
	})

	httpServer := &http.Server{
		Addr:         addr(cfg.Port),
		Handler:      srv,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("callengine listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown", "error", err)
	}
	if cfg.TrunkConfigured() {
		if err := ua.Unregister(shutdownCtx); err != nil {
			logger.Error("sip unregister on shutdown", "error", err)
		}
	}

	return nil
}

// newKeyManager chooses the recording storage key manager. A configured
// RECORDING_ENCRYPTION_KEY opts into AES-256-GCM at rest; its value is only
// validated here (length, hex encoding) as the explicit production gate —
// AESKeyManager always seeds its own random data key, since the interface
// this module builds against (spec's pluggable KeyManager) has no API to
// import an externally-supplied key, only to generate its own.
func newKeyManager(cfg *config.Config, logger *slog.Logger) storage.KeyManager {
	hexKey := os.Getenv("RECORDING_ENCRYPTION_KEY")
	keyBytes, err := cfg.EncryptionKeyBytes(hexKey)
	if err != nil {
		logger.Error("invalid RECORDING_ENCRYPTION_KEY, falling back to plaintext storage", "error", err)
		return storage.PlaintextKeyManager{}
	}
	if keyBytes == nil {
		logger.Warn("no RECORDING_ENCRYPTION_KEY configured, recordings will be stored unencrypted (development only)")
		return storage.PlaintextKeyManager{}
	}
	km, err := storage.NewAESKeyManager()
	if err != nil {
		logger.Error("initializing AES key manager, falling back to plaintext storage", "error", err)
		return storage.PlaintextKeyManager{}
	}
	return km
}

// fanOutEvents forwards every event from the user agent onto both the
// scheduler's and the recording watcher's queues. Neither consumer ever
// blocks the SIP signaling loop: a full buffer drops the event for that
// consumer and logs it instead of stalling the fan-out goroutine.
func fanOutEvents(ctx context.Context, events <-chan sip.AgentEvent, logger *slog.Logger, outs ...chan<- sip.AgentEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			for _, out := range outs {
				select {
				case out <- ev:
				default:
					logger.Warn("dropping sip event, consumer queue full", "kind", ev.Kind)
				}
			}
		}
	}
}

func addr(port int) string {
	if port <= 0 {
		port = 8080
	}
	return ":" + strconv.Itoa(port)
}
