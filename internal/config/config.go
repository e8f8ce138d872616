package config

import (
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Config holds all runtime configuration for the call engine.
// Precedence: CLI flags > env vars > defaults.
type Config struct {
	DatabaseURL string
	JWTSecret   string
	Port        int

	SIPTrunkHost    string
	SIPTrunkPort    int
	SIPUsername     string
	SIPPassword     string
	SIPCallerID     string
	SIPDomain       string
	SIPTransport    string
	SIPCodec        string
	SIPLocalIP      string
	SIPRTPPortStart int
	SIPRTPPortEnd   int
	SIPRegisterExp  int
	SIPSTUNServer   string

	RecordingBasePath     string
	RecordingQuotaGB      float64
	DefaultRetentionDays  int

	LogLevel  string
	LogFormat string
	LogFile   string
}

// defaults
const (
	defaultPort            = 8080
	defaultSIPTransport    = "UDP"
	defaultSIPCodec        = "PCMU"
	defaultSIPRTPPortStart = 20000
	defaultSIPRTPPortEnd   = 30000
	defaultSIPRegisterExp  = 3600
	defaultRetentionDays   = 90
	defaultLogLevel        = "info"
	defaultLogFormat       = "text"
	defaultDatabaseURL     = "./data"
)

// Load parses configuration from CLI flags and environment variables.
// Precedence: CLI flags > env vars > defaults. Flag names are hyphenated
// forms of the spec's environment variable contract (§6), which remains
// the canonical way to configure the engine in deployment.
func Load() (*Config, error) {
	cfg := &Config{}

	fs := flag.NewFlagSet("callengine", flag.ContinueOnError)

	fs.StringVar(&cfg.DatabaseURL, "database-url", defaultDatabaseURL, "directory holding the SQLite database file")
	fs.StringVar(&cfg.JWTSecret, "jwt-secret", "", "hex-encoded 32-byte secret for API JWT signing (auto-generated if empty)")
	fs.IntVar(&cfg.Port, "port", defaultPort, "HTTP API listen port")

	fs.StringVar(&cfg.SIPTrunkHost, "sip-trunk-host", "", "SIP trunk hostname or IP")
	fs.IntVar(&cfg.SIPTrunkPort, "sip-trunk-port", 5060, "SIP trunk port")
	fs.StringVar(&cfg.SIPUsername, "sip-username", "", "SIP trunk registration username")
	fs.StringVar(&cfg.SIPPassword, "sip-password", "", "SIP trunk registration password")
	fs.StringVar(&cfg.SIPCallerID, "sip-caller-id", "", "caller ID presented on outbound calls")
	fs.StringVar(&cfg.SIPDomain, "sip-domain", "", "SIP registration realm/domain")
	fs.StringVar(&cfg.SIPTransport, "sip-transport", defaultSIPTransport, "SIP transport (UDP, TCP, TLS)")
	fs.StringVar(&cfg.SIPCodec, "sip-codec", defaultSIPCodec, "preferred audio codec (PCMU, PCMA)")
	fs.StringVar(&cfg.SIPLocalIP, "sip-local-ip", "", "local IP to bind/advertise (auto-detected if empty)")
	fs.IntVar(&cfg.SIPRTPPortStart, "sip-rtp-port-start", defaultSIPRTPPortStart, "start of the RTP port allocation range")
	fs.IntVar(&cfg.SIPRTPPortEnd, "sip-rtp-port-end", defaultSIPRTPPortEnd, "end of the RTP port allocation range")
	fs.IntVar(&cfg.SIPRegisterExp, "sip-register-expires", defaultSIPRegisterExp, "requested REGISTER expiry in seconds")
	fs.StringVar(&cfg.SIPSTUNServer, "sip-stun-server", "", "optional STUN server for NAT traversal")

	fs.StringVar(&cfg.RecordingBasePath, "recording-base-path", "./data/recordings", "base directory for encrypted call recordings")
	fs.Float64Var(&cfg.RecordingQuotaGB, "recording-quota-gb", 50, "maximum recording storage in gigabytes")
	fs.IntVar(&cfg.DefaultRetentionDays, "default-retention-days", defaultRetentionDays, "days a recording is retained before the sweeper deletes it")

	fs.StringVar(&cfg.LogLevel, "log-level", defaultLogLevel, "log level (debug, info, warn, error)")
	fs.StringVar(&cfg.LogFormat, "log-format", defaultLogFormat, "log output format (text, json)")
	fs.StringVar(&cfg.LogFile, "log-file", "", "path to a log file to write to, with rotation (stdout if empty)")

	if err := fs.Parse(os.Args[1:]); err != nil {
		return nil, fmt.Errorf("parsing flags: %w", err)
	}

	applyEnvOverrides(fs, cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides checks environment variables for any flag that was not
// explicitly provided on the command line. This preserves the precedence:
// CLI flags > env vars > defaults. Env var names follow the spec's external
// interface contract verbatim (no FLOWPBX_-style prefix).
func applyEnvOverrides(fs *flag.FlagSet, cfg *Config) {
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})

	envMap := map[string]string{
		"database-url":           "DATABASE_URL",
		"jwt-secret":              "JWT_SECRET",
		"port":                    "PORT",
		"sip-trunk-host":          "SIP_TRUNK_HOST",
		"sip-trunk-port":          "SIP_TRUNK_PORT",
		"sip-username":            "SIP_USERNAME",
		"sip-password":            "SIP_PASSWORD",
		"sip-caller-id":           "SIP_CALLER_ID",
		"sip-domain":              "SIP_DOMAIN",
		"sip-transport":           "SIP_TRANSPORT",
		"sip-codec":               "SIP_CODEC",
		"sip-local-ip":            "SIP_LOCAL_IP",
		"sip-rtp-port-start":      "SIP_RTP_PORT_START",
		"sip-rtp-port-end":        "SIP_RTP_PORT_END",
		"sip-register-expires":    "SIP_REGISTER_EXPIRES",
		"sip-stun-server":         "SIP_STUN_SERVER",
		"recording-base-path":     "RECORDING_BASE_PATH",
		"recording-quota-gb":      "RECORDING_QUOTA_GB",
		"default-retention-days":  "DEFAULT_RETENTION_DAYS",
		"log-level":               "CALLENGINE_LOG_LEVEL",
		"log-format":              "CALLENGINE_LOG_FORMAT",
		"log-file":                "CALLENGINE_LOG_FILE",
	}

	for flagName, envVar := range envMap {
		if set[flagName] {
			continue
		}
		val, ok := os.LookupEnv(envVar)
		if !ok || val == "" {
			continue
		}
		switch flagName {
		case "database-url":
			cfg.DatabaseURL = val
		case "jwt-secret":
			cfg.JWTSecret = val
		case "port":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.Port = v
			}
		case "sip-trunk-host":
			cfg.SIPTrunkHost = val
		case "sip-trunk-port":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.SIPTrunkPort = v
			}
		case "sip-username":
			cfg.SIPUsername = val
		case "sip-password":
			cfg.SIPPassword = val
		case "sip-caller-id":
			cfg.SIPCallerID = val
		case "sip-domain":
			cfg.SIPDomain = val
		case "sip-transport":
			cfg.SIPTransport = val
		case "sip-codec":
			cfg.SIPCodec = val
		case "sip-local-ip":
			cfg.SIPLocalIP = val
		case "sip-rtp-port-start":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.SIPRTPPortStart = v
			}
		case "sip-rtp-port-end":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.SIPRTPPortEnd = v
			}
		case "sip-register-expires":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.SIPRegisterExp = v
			}
		case "sip-stun-server":
			cfg.SIPSTUNServer = val
		case "recording-base-path":
			cfg.RecordingBasePath = val
		case "recording-quota-gb":
			if v, err := strconv.ParseFloat(val, 64); err == nil {
				cfg.RecordingQuotaGB = v
			}
		case "default-retention-days":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.DefaultRetentionDays = v
			}
		case "log-level":
			cfg.LogLevel = val
		case "log-format":
			cfg.LogFormat = val
		case "log-file":
			cfg.LogFile = val
		}
	}
}

// validate checks that the config values are sane. SIP trunk credentials
// are deliberately not required here: an engine with no trunk configured
// simply never registers (AgentState stays Disconnected), which is a
// valid configuration for local development.
func (c *Config) validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", c.Port)
	}
	if c.SIPRTPPortStart < 1024 || c.SIPRTPPortStart > 65534 {
		return fmt.Errorf("sip-rtp-port-start must be between 1024 and 65534, got %d", c.SIPRTPPortStart)
	}
	if c.SIPRTPPortEnd < c.SIPRTPPortStart+2 || c.SIPRTPPortEnd > 65535 {
		return fmt.Errorf("sip-rtp-port-end must be at least sip-rtp-port-start+2 and at most 65535, got %d", c.SIPRTPPortEnd)
	}
	if c.SIPRTPPortStart%2 != 0 {
		return fmt.Errorf("sip-rtp-port-start must be even, got %d", c.SIPRTPPortStart)
	}

	transport := strings.ToUpper(c.SIPTransport)
	validTransports := map[string]bool{"UDP": true, "TCP": true, "TLS": true}
	if !validTransports[transport] {
		return fmt.Errorf("sip-transport must be one of UDP, TCP, TLS; got %q", c.SIPTransport)
	}
	c.SIPTransport = transport

	codec := strings.ToUpper(c.SIPCodec)
	if codec != "PCMU" && codec != "PCMA" {
		return fmt.Errorf("sip-codec must be PCMU or PCMA; got %q", c.SIPCodec)
	}
	c.SIPCodec = codec

	if c.RecordingQuotaGB <= 0 {
		return fmt.Errorf("recording-quota-gb must be positive, got %f", c.RecordingQuotaGB)
	}
	if c.DefaultRetentionDays <= 0 {
		return fmt.Errorf("default-retention-days must be positive, got %d", c.DefaultRetentionDays)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("log-level must be one of debug, info, warn, error; got %q", c.LogLevel)
	}
	c.LogLevel = strings.ToLower(c.LogLevel)

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.LogFormat)] {
		return fmt.Errorf("log-format must be one of text, json; got %q", c.LogFormat)
	}
	c.LogFormat = strings.ToLower(c.LogFormat)

	return nil
}

// TrunkConfigured reports whether enough SIP trunk configuration is
// present for the user agent to attempt registration.
func (c *Config) TrunkConfigured() bool {
	return c.SIPTrunkHost != "" && c.SIPUsername != ""
}

// RecordingQuotaBytes returns the configured recording quota in bytes.
func (c *Config) RecordingQuotaBytes() uint64 {
	return uint64(c.RecordingQuotaGB * (1 << 30))
}

// EncryptionKeyBytes returns the decoded 32-byte data-at-rest key, or nil
// if none is configured (falls back to plaintext storage in development).
func (c *Config) EncryptionKeyBytes(hexKey string) ([]byte, error) {
	if hexKey == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("decoding encryption key: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("encryption key must decode to 32 bytes, got %d", len(key))
	}
	return key, nil
}

// JWTSecretBytes returns the decoded 32-byte JWT signing secret. If no
// secret is configured, it generates a random 32-byte key and stores the
// hex-encoded value back in the config for the process lifetime.
func (c *Config) JWTSecretBytes() ([]byte, error) {
	if c.JWTSecret == "" {
		key := make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("generating jwt secret: %w", err)
		}
		c.JWTSecret = hex.EncodeToString(key)
		slog.Warn("no jwt secret configured, generated ephemeral key (tokens will not survive restart)")
		return key, nil
	}
	key, err := hex.DecodeString(c.JWTSecret)
	if err != nil {
		return nil, fmt.Errorf("decoding jwt secret: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("jwt secret must decode to 32 bytes, got %d", len(key))
	}
	return key, nil
}

// LocalIP returns the configured SIP local IP, or attempts to detect the
// machine's primary non-loopback IPv4 address if unset.
func (c *Config) LocalIP() string {
	if c.SIPLocalIP != "" {
		return c.SIPLocalIP
	}
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "127.0.0.1"
	}
	for _, addr := range addrs {
		if ipNet, ok := addr.(*net.IPNet); ok && !ipNet.IP.IsLoopback() {
			if ipNet.IP.To4() != nil {
				return ipNet.IP.String()
			}
		}
	}
	return "127.0.0.1"
}

// LogWriter returns the destination log lines are written to: a rotating
// file (100MB per file, 7 backups, 28 days, gzip-compressed) when LogFile
// is set, or the given fallback otherwise.
func (c *Config) LogWriter(fallback io.Writer) io.Writer {
	if c.LogFile == "" {
		return fallback
	}
	return &lumberjack.Logger{
		Filename:   c.LogFile,
		MaxSize:    100,
		MaxBackups: 7,
		MaxAge:     28,
		Compress:   true,
	}
}

// SlogHandler returns a slog.Handler configured with the appropriate format
// (text or json) and log level.
func (c *Config) SlogHandler(w io.Writer) slog.Handler {
	opts := &slog.HandlerOptions{Level: c.SlogLevel()}
	if c.LogFormat == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// SlogLevel returns the slog.Level corresponding to the configured log level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
