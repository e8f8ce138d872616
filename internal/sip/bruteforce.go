package sip

import (
	"log/slog"
	"net"
	"sync"
	"time"
)

const (
	// maxFailedAttempts is the number of failed inbound SIP attempts from a
	// source before it is blocked. Mirrors fail2ban's "maxretry" setting.
	maxFailedAttempts = 10

	// blockDuration is how long a source remains blocked after exceeding the
	// failure threshold. Starts at this base value and doubles on repeat
	// offences (progressive backoff).
	blockDuration = 5 * time.Minute

	// maxBlockDuration caps the progressive backoff at 24 hours.
	maxBlockDuration = 24 * time.Hour

	// failureWindow is the sliding window in which failures are counted.
	// Failures older than this are forgotten automatically.
	failureWindow = 10 * time.Minute
)

// ipRecord tracks per-IP failure state.
type ipRecord struct {
	failures  []time.Time
	blocked   bool
	blockedAt time.Time
	blockFor  time.Duration
}

// BruteForceGuard tracks inbound SIP requests from sources other than the
// configured trunk and automatically blocks sources that exceed the failure
// threshold — fail2ban-style progressive blocking. This user agent mostly
// originates calls, but it still fields OPTIONS/INVITE from the trunk side
// (spec §7's Authentication error kind: repeated bad auth ⟹ AuthFailed), so
// anything claiming to be the trunk from an unexpected source counts as a
// failure here.
type BruteForceGuard struct {
	mu      sync.Mutex
	records map[string]*ipRecord
	logger  *slog.Logger
}

// NewBruteForceGuard creates a new guard with empty state.
func NewBruteForceGuard(logger *slog.Logger) *BruteForceGuard {
	return &BruteForceGuard{
		records: make(map[string]*ipRecord),
		logger:  logger.With("subsystem", "bruteforce"),
	}
}

// IsBlocked returns true if the given source address is currently blocked.
// The source may be "ip:port" or just "ip".
func (g *BruteForceGuard) IsBlocked(source string) bool {
	ip := extractIP(source)
	if ip == "" {
		return false
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	rec, ok := g.records[ip]
	if !ok || !rec.blocked {
		return false
	}

	if time.Since(rec.blockedAt) > rec.blockFor {
		rec.blocked = false
		rec.failures = nil
		return false
	}

	return true
}

// RecordFailure records a rejected request from the given source. When the
// failure count reaches maxFailedAttempts, the source is blocked
// automatically.
func (g *BruteForceGuard) RecordFailure(source string) {
	ip := extractIP(source)
	if ip == "" {
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	rec, ok := g.records[ip]
	if !ok {
		rec = &ipRecord{blockFor: blockDuration}
		g.records[ip] = rec
	}
	if rec.blocked {
		return
	}

	now := time.Now()
	rec.failures = pruneOldFailures(rec.failures, now, failureWindow)
	rec.failures = append(rec.failures, now)

	if len(rec.failures) >= maxFailedAttempts {
		if !rec.blockedAt.IsZero() {
			// repeat offence: double the previous block, capped.
			nextBlock := rec.blockFor * 2
			if nextBlock > maxBlockDuration {
				nextBlock = maxBlockDuration
			}
			rec.blockFor = nextBlock
		}
		rec.blocked = true
		rec.blockedAt = now
		rec.failures = nil

		g.logger.Warn("source blocked due to excessive failed sip attempts",
			"source", ip, "block_duration", rec.blockFor.String())
	}
}

// RecordSuccess clears the failure counter for a source on a request from
// the configured trunk. The progressive block duration is preserved so
// repeat offenders still get longer blocks if they fail again.
func (g *BruteForceGuard) RecordSuccess(source string) {
	ip := extractIP(source)
	if ip == "" {
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if rec, ok := g.records[ip]; ok {
		rec.failures = nil
	}
}

// Cleanup removes expired blocks and stale records. Called periodically
// alongside the registration refresh loop.
func (g *BruteForceGuard) Cleanup() {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now()
	for ip, rec := range g.records {
		if rec.blocked && now.Sub(rec.blockedAt) > rec.blockFor {
			rec.blocked = false
			rec.failures = nil
		}
		if !rec.blocked && len(rec.failures) == 0 {
			delete(g.records, ip)
		}
	}
}

// BlockedIPEntry represents a single blocked source for admin display.
type BlockedIPEntry struct {
	IP        string    `json:"ip"`
	BlockedAt time.Time `json:"blockedAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// BlockedIPs returns a snapshot of currently blocked sources and when their
// block expires.
func (g *BruteForceGuard) BlockedIPs() []BlockedIPEntry {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now()
	var entries []BlockedIPEntry
	for ip, rec := range g.records {
		if rec.blocked && now.Sub(rec.blockedAt) <= rec.blockFor {
			entries = append(entries, BlockedIPEntry{
				IP:        ip,
				BlockedAt: rec.blockedAt,
				ExpiresAt: rec.blockedAt.Add(rec.blockFor),
			})
		}
	}
	return entries
}

// UnblockIP manually removes a block for the given source IP. Returns true
// if the IP was found and unblocked.
func (g *BruteForceGuard) UnblockIP(ip string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	rec, ok := g.records[ip]
	if !ok || !rec.blocked {
		return false
	}
	rec.blocked = false
	rec.failures = nil
	g.logger.Info("source manually unblocked", "ip", ip)
	return true
}

// extractIP parses the IP from a "host:port" string or returns the raw
// string if it's already a bare IP.
func extractIP(source string) string {
	if source == "" {
		return ""
	}
	host, _, err := net.SplitHostPort(source)
	if err != nil {
		if net.ParseIP(source) != nil {
			return source
		}
		return ""
	}
	return host
}

// pruneOldFailures returns only failures within the given window.
func pruneOldFailures(failures []time.Time, now time.Time, window time.Duration) []time.Time {
	cutoff := now.Add(-window)
	var pruned []time.Time
	for _, t := range failures {
		if t.After(cutoff) {
			pruned = append(pruned, t)
		}
	}
	return pruned
}
