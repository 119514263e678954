package admin

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// OtpTTL is how long an issued OTP request remains valid before expiry (§4.11).
const OtpTTL = 5 * time.Minute

// TempTokenTTL is how long a verified OTP's issued admin token remains valid.
const TempTokenTTL = 4 * time.Hour

// BlacklistSweepInterval is how often expired IP-blacklist entries are swept.
const BlacklistSweepInterval = time.Minute

// Admin-auth brute-force lockout: spec.md §6 lists GET/remove/clear for the
// IP blacklist but not how entries are added. Auto-blacklisting repeated bad
// admin tokens gives that table a real producer (Open Question decision,
// DESIGN.md).
const (
	authFailureThreshold = 10
	authFailureWindow    = time.Minute
	authFailureBanTTL    = 15 * time.Minute
)

type otpRequest struct {
	otp       string
	expiresAt time.Time
}

type tempToken struct {
	boundIP   string
	expiresAt time.Time
}

type blacklistEntry struct {
	expiresAt time.Time
}

// Trust holds the OTP, temp-admin-token, and IP-blacklist tables described
// in §4.11: in-memory, timed credentials with lazy-eviction-plus-sweep
// expiry. Grounded on the teacher's internal/blob newUUID for the
// crypto/rand-backed random-id shape, adapted here to a base64 OTP and a
// uuid.UUID temp token.
type Trust struct {
	mu        sync.Mutex
	otps      map[uuid.UUID]otpRequest
	tokens    map[string]tempToken
	blacklist map[string]blacklistEntry
	failures  map[string][]time.Time
}

// NewTrust constructs an empty Trust table.
func NewTrust() *Trust {
	return &Trust{
		otps:      make(map[uuid.UUID]otpRequest),
		tokens:    make(map[string]tempToken),
		blacklist: make(map[string]blacklistEntry),
		failures:  make(map[string][]time.Time),
	}
}

// RecordAuthFailure notes a bad admin-token attempt from ip and blacklists
// it for authFailureBanTTL once authFailureThreshold attempts land inside
// authFailureWindow. Returns true if ip is now blacklisted.
func (t *Trust) RecordAuthFailure(ip string) bool {
	if ip == "" {
		return false
	}
	now := time.Now()
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := now.Add(-authFailureWindow)
	kept := t.failures[ip][:0]
	for _, at := range t.failures[ip] {
		if at.After(cutoff) {
			kept = append(kept, at)
		}
	}
	kept = append(kept, now)
	t.failures[ip] = kept

	if len(kept) >= authFailureThreshold {
		t.blacklist[ip] = blacklistEntry{expiresAt: now.Add(authFailureBanTTL)}
		delete(t.failures, ip)
		return true
	}
	return false
}

// CreateOtpRequest issues a new (ssid, otp) pair with a 5-minute TTL (§4.11).
func (t *Trust) CreateOtpRequest() (ssid uuid.UUID, otp string, err error) {
	otp, err = randomOtp()
	if err != nil {
		return uuid.UUID{}, "", err
	}
	ssid = uuid.New()
	t.mu.Lock()
	t.otps[ssid] = otpRequest{otp: otp, expiresAt: time.Now().Add(OtpTTL)}
	t.mu.Unlock()
	return ssid, otp, nil
}

func randomOtp() (string, error) {
	var raw [8]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", fmt.Errorf("admin: generate otp: %w", err)
	}
	encoded := base64.URLEncoding.EncodeToString(raw[:])
	return strings.ToLower(encoded[:6]), nil
}

// VerifyOtp checks ssid/otp (case-insensitive, single-use) and, on success,
// issues a temp admin token bound to ip (§4.11). The request is removed
// whether or not verification succeeds.
func (t *Trust) VerifyOtp(ssid uuid.UUID, otp, ip string) (token string, expiresIn time.Duration, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	req, exists := t.otps[ssid]
	delete(t.otps, ssid)
	if !exists || time.Now().After(req.expiresAt) {
		return "", 0, false
	}
	if !strings.EqualFold(req.otp, otp) {
		return "", 0, false
	}

	token = uuid.New().String()
	t.tokens[token] = tempToken{boundIP: ip, expiresAt: time.Now().Add(TempTokenTTL)}
	return token, TempTokenTTL, true
}

// CheckTempToken reports whether token is a currently valid temp admin
// token bound to ip. A loopback-to-loopback IP mismatch is tolerated (the
// scenario in §7.5: verifying and using the token from two different
// loopback addresses both succeed); any other IP mismatch evicts the token
// and fails (§7.5 "using it from a non-loopback address ... evicts the
// token").
func (t *Trust) CheckTempToken(token, ip string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	tok, ok := t.tokens[token]
	if !ok {
		return false
	}
	if time.Now().After(tok.expiresAt) {
		delete(t.tokens, token)
		return false
	}
	if tok.boundIP == ip {
		return true
	}
	if isLoopback(tok.boundIP) && isLoopback(ip) {
		return true
	}
	delete(t.tokens, token)
	return false
}

func isLoopback(ip string) bool {
	host := ip
	if h, _, err := net.SplitHostPort(ip); err == nil {
		host = h
	}
	parsed := net.ParseIP(host)
	return parsed != nil && parsed.IsLoopback()
}

// Blacklist bans ip until expiresAt (admin operation, §6 IP blacklist).
func (t *Trust) Blacklist(ip string, expiresAt time.Time) {
	t.mu.Lock()
	t.blacklist[ip] = blacklistEntry{expiresAt: expiresAt}
	t.mu.Unlock()
}

// IsBlacklisted reports whether ip currently has an unexpired blacklist
// entry, evicting it lazily if it has expired (§4.11).
func (t *Trust) IsBlacklisted(ip string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.blacklist[ip]
	if !ok {
		return false
	}
	if time.Now().After(entry.expiresAt) {
		delete(t.blacklist, ip)
		return false
	}
	return true
}

// RemoveFromBlacklist unbans ip immediately (§6 POST /admin/ip-blacklist/remove).
func (t *Trust) RemoveFromBlacklist(ip string) {
	t.mu.Lock()
	delete(t.blacklist, ip)
	t.mu.Unlock()
}

// ClearBlacklist empties the blacklist (§6 POST /admin/ip-blacklist/clear).
func (t *Trust) ClearBlacklist() {
	t.mu.Lock()
	t.blacklist = make(map[string]blacklistEntry)
	t.mu.Unlock()
}

// Blacklisted returns a snapshot of every currently blacklisted ip (§6
// GET /admin/ip-blacklist).
func (t *Trust) Blacklisted() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := time.Now()
	out := make([]string, 0, len(t.blacklist))
	for ip, entry := range t.blacklist {
		if now.After(entry.expiresAt) {
			continue
		}
		out = append(out, ip)
	}
	return out
}

func (t *Trust) sweepOnce() {
	now := time.Now()
	t.mu.Lock()
	defer t.mu.Unlock()
	for ip, entry := range t.blacklist {
		if now.After(entry.expiresAt) {
			delete(t.blacklist, ip)
		}
	}
	for ssid, req := range t.otps {
		if now.After(req.expiresAt) {
			delete(t.otps, ssid)
		}
	}
	for token, tok := range t.tokens {
		if now.After(tok.expiresAt) {
			delete(t.tokens, token)
		}
	}
	cutoff := now.Add(-authFailureWindow)
	for ip, attempts := range t.failures {
		kept := attempts[:0]
		for _, at := range attempts {
			if at.After(cutoff) {
				kept = append(kept, at)
			}
		}
		if len(kept) == 0 {
			delete(t.failures, ip)
		} else {
			t.failures[ip] = kept
		}
	}
}

// RunBlacklistSweep runs the periodic eviction sweep until ctx is canceled,
// per §4.11's "1-minute sweep timer".
func (t *Trust) RunBlacklistSweep(ctx context.Context) {
	ticker := time.NewTicker(BlacklistSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.sweepOnce()
		}
	}
}
