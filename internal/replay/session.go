package replay

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// SessionTokenTTL is how long a replay-auth session token remains valid
// (§4.13), reusing the shape of internal/admin.Trust's OTP/temp-token
// tables (random token, expiry, single map lookup) rather than importing
// that package — the two concerns are unrelated beyond sharing a pattern.
const SessionTokenTTL = 30 * time.Minute

type replaySession struct {
	userID    int32
	expiresAt time.Time
}

// NewSessionToken mints a session token bound to userID, valid for
// SessionTokenTTL (§4.13 "mints a 30-minute session token").
func (s *Store) NewSessionToken(userID int32) (string, time.Duration, error) {
	buf := make([]byte, 18)
	if _, err := rand.Read(buf); err != nil {
		return "", 0, fmt.Errorf("replay: generate session token: %w", err)
	}
	token := base64.URLEncoding.EncodeToString(buf)

	s.sessMu.Lock()
	if s.sess == nil {
		s.sess = make(map[string]replaySession)
	}
	s.sess[token] = replaySession{userID: userID, expiresAt: time.Now().Add(SessionTokenTTL)}
	s.sessMu.Unlock()

	return token, SessionTokenTTL, nil
}

// ValidateSessionToken resolves token to the userID it was minted for, if
// still valid. Expired tokens are evicted lazily on lookup.
func (s *Store) ValidateSessionToken(token string) (int32, bool) {
	s.sessMu.Lock()
	defer s.sessMu.Unlock()
	sess, ok := s.sess[token]
	if !ok {
		return 0, false
	}
	if time.Now().After(sess.expiresAt) {
		delete(s.sess, token)
		return 0, false
	}
	return sess.userID, true
}

// ChartsForUser lists the chart ids userID has replay recordings under.
func (s *Store) ChartsForUser(userID int32) ([]int32, error) {
	dir := filepath.Join(s.baseDir, "record", itoa(userID))
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("replay: list charts for user %d: %w", userID, err)
	}
	var out []int32
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		id, err := strconv.ParseInt(e.Name(), 10, 32)
		if err != nil {
			continue
		}
		out = append(out, int32(id))
	}
	return out, nil
}
