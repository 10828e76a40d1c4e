// Package anomaly tracks device fingerprints and IP activity to surface
// suspicious behavior. It only raises alerts; blocking and challenge
// decisions belong to the caller.
package anomaly

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"time"
)

// Signals are the stable request attributes a fingerprint is derived from.
// Empty attributes are excluded before hashing, and composition is
// order-independent, so the same device always hashes the same.
type Signals struct {
	IP             string
	UserAgent      string
	AcceptLanguage string
	ClientHints    map[string]string
}

// Fingerprint returns a deterministic hash of the non-empty signals.
func Fingerprint(s Signals) string {
	parts := make([]string, 0, 3+len(s.ClientHints))

	if s.IP != "" {
		parts = append(parts, "ip="+s.IP)
	}
	if s.UserAgent != "" {
		parts = append(parts, "ua="+s.UserAgent)
	}
	if s.AcceptLanguage != "" {
		parts = append(parts, "lang="+s.AcceptLanguage)
	}
	for k, v := range s.ClientHints {
		if v != "" {
			parts = append(parts, "hint:"+k+"="+v)
		}
	}

	sort.Strings(parts)

	sum := sha256.Sum256([]byte(strings.Join(parts, "\n")))
	return hex.EncodeToString(sum[:])
}

// DeviceFingerprint is one tracked device hash for a principal. The store
// retains the most recent N per principal; fingerprints feed anomaly
// detection only and are never consulted for authorization.
type DeviceFingerprint struct {
	PrincipalID string    `json:"principal_id"`
	Hash        string    `json:"hash"`
	FirstSeen   time.Time `json:"first_seen"`
	LastSeen    time.Time `json:"last_seen"`
}
