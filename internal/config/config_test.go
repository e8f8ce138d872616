package config

import (
	"io"
	"log/slog"
	"os"
	"testing"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, env := range []string{
		"DATABASE_URL", "JWT_SECRET", "PORT", "SIP_TRUNK_HOST", "SIP_TRUNK_PORT",
		"SIP_USERNAME", "SIP_PASSWORD", "SIP_CALLER_ID", "SIP_DOMAIN",
		"SIP_TRANSPORT", "SIP_CODEC", "SIP_LOCAL_IP", "SIP_RTP_PORT_START",
		"SIP_RTP_PORT_END", "SIP_REGISTER_EXPIRES", "SIP_STUN_SERVER",
		"RECORDING_BASE_PATH", "RECORDING_QUOTA_GB", "DEFAULT_RETENTION_DAYS",
		"CALLENGINE_LOG_LEVEL", "CALLENGINE_LOG_FORMAT", "CALLENGINE_LOG_FILE",
	} {
		t.Setenv(env, "")
		os.Unsetenv(env)
	}
}

func TestDefaults(t *testing.T) {
	clearEnv(t)

	os.Args = []string{"callengine"}
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.DatabaseURL != defaultDatabaseURL {
		t.Errorf("DatabaseURL = %q, want %q", cfg.DatabaseURL, defaultDatabaseURL)
	}
	if cfg.Port != defaultPort {
		t.Errorf("Port = %d, want %d", cfg.Port, defaultPort)
	}
	if cfg.SIPTransport != defaultSIPTransport {
		t.Errorf("SIPTransport = %q, want %q", cfg.SIPTransport, defaultSIPTransport)
	}
	if cfg.SIPCodec != defaultSIPCodec {
		t.Errorf("SIPCodec = %q, want %q", cfg.SIPCodec, defaultSIPCodec)
	}
	if cfg.LogLevel != defaultLogLevel {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, defaultLogLevel)
	}
	if cfg.LogFile != "" {
		t.Errorf("LogFile = %q, want empty", cfg.LogFile)
	}
	if cfg.TrunkConfigured() {
		t.Error("TrunkConfigured() = true with no trunk host/username set")
	}
}

func TestEnvVarOverride(t *testing.T) {
	clearEnv(t)
	os.Args = []string{"callengine"}
	t.Setenv("PORT", "9090")
	t.Setenv("DATABASE_URL", "/tmp/callengine-test")
	t.Setenv("CALLENGINE_LOG_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Port != 9090 {
		t.Errorf("Port = %d, want 9090", cfg.Port)
	}
	if cfg.DatabaseURL != "/tmp/callengine-test" {
		t.Errorf("DatabaseURL = %q, want /tmp/callengine-test", cfg.DatabaseURL)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
}

func TestCLIFlagsPrecedence(t *testing.T) {
	clearEnv(t)
	os.Args = []string{"callengine", "--port", "3000", "--log-level", "warn"}
	t.Setenv("PORT", "9090")
	t.Setenv("CALLENGINE_LOG_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Port != 3000 {
		t.Errorf("Port = %d, want 3000 (CLI should override env)", cfg.Port)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("LogLevel = %q, want warn (CLI should override env)", cfg.LogLevel)
	}
}

func TestValidateInvalidPort(t *testing.T) {
	clearEnv(t)
	os.Args = []string{"callengine", "--port", "99999"}
	_, err := Load()
	if err == nil {
		t.Fatal("expected error for invalid port, got nil")
	}
}

func TestValidateInvalidLogLevel(t *testing.T) {
	clearEnv(t)
	os.Args = []string{"callengine", "--log-level", "verbose"}
	_, err := Load()
	if err == nil {
		t.Fatal("expected error for invalid log level, got nil")
	}
}

func TestValidateInvalidRTPPortRange(t *testing.T) {
	clearEnv(t)
	os.Args = []string{"callengine", "--sip-rtp-port-start", "20001"}
	_, err := Load()
	if err == nil {
		t.Fatal("expected error for an odd rtp port start, got nil")
	}
}

func TestTrunkConfigured(t *testing.T) {
	clearEnv(t)
	os.Args = []string{"callengine", "--sip-trunk-host", "sip.example.com", "--sip-username", "1000"}
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cfg.TrunkConfigured() {
		t.Error("TrunkConfigured() = false with trunk host and username set")
	}
}

func TestLogWriterDefaultsToFallback(t *testing.T) {
	cfg := &Config{}
	if w := cfg.LogWriter(os.Stdout); w != io.Writer(os.Stdout) {
		t.Errorf("LogWriter() = %v, want os.Stdout", w)
	}
}

func TestLogWriterUsesRotatingFileWhenConfigured(t *testing.T) {
	cfg := &Config{LogFile: "/tmp/callengine-test.log"}
	w := cfg.LogWriter(os.Stdout)
	if w == io.Writer(os.Stdout) {
		t.Error("LogWriter() returned the fallback despite LogFile being set")
	}
}

func TestSlogLevel(t *testing.T) {
	tests := []struct {
		level string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			cfg := &Config{LogLevel: tt.level}
			if got := cfg.SlogLevel(); got != tt.want {
				t.Errorf("SlogLevel() = %v, want %v", got, tt.want)
			}
		})
	}
}
