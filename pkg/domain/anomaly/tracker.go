package anomaly

import (
	"context"
	"time"

	"github.com/driveport/api/pkg/logger"
)

// Severity grades an alert.
type Severity string

// Alert severities.
const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Alert is a suspicious-activity record. Alerts inform operators and may
// trigger a re-verification challenge downstream; they never deny a request
// by themselves.
type Alert struct {
	PrincipalID string    `json:"principal_id,omitempty"`
	IP          string    `json:"ip,omitempty"`
	Kind        string    `json:"kind"`
	Severity    Severity  `json:"severity"`
	Detail      string    `json:"detail"`
	Timestamp   time.Time `json:"timestamp"`
}

// Alert kinds.
const (
	KindNewDevice Kind = "new_device"
	KindIPFanout  Kind = "ip_fanout"
)

// Kind names a category of anomaly.
type Kind = string

// FingerprintStore keeps a bounded recent-set of device hashes per principal.
type FingerprintStore interface {
	// Record adds the hash to the principal's recent-set. It returns whether
	// the hash was already known and the set size before the insert. When the
	// set is at capacity the oldest entry is evicted.
	Record(ctx context.Context, principalID, hash string) (known bool, priorCount int, err error)
}

// IPActivityStore counts distinct principals seen from an IP inside a
// trailing window.
type IPActivityStore interface {
	// RecordPrincipal marks the principal as seen from the IP and returns the
	// number of distinct principals observed in the current window.
	RecordPrincipal(ctx context.Context, ip, principalID string) (distinct int, err error)
}

// AlertEmitter receives alerts. The jobs client implements it by enqueueing a
// notification task; tests capture alerts in memory.
type AlertEmitter interface {
	Emit(ctx context.Context, alert Alert)
}

// Config holds tracker thresholds.
type Config struct {
	// MaxFingerprints is the recent-set capacity per principal.
	MaxFingerprints int
	// IPFanoutThreshold is the number of distinct principals per IP, within
	// the store's window, beyond which the IP is suspicious.
	IPFanoutThreshold int
}

// DefaultConfig returns the default thresholds.
func DefaultConfig() Config {
	return Config{
		MaxFingerprints:   5,
		IPFanoutThreshold: 3,
	}
}

// Tracker evaluates device and IP signals.
type Tracker struct {
	fingerprints FingerprintStore
	ipActivity   IPActivityStore
	emitter      AlertEmitter
	cfg          Config
	log          *logger.Logger
}

// NewTracker creates an anomaly tracker.
func NewTracker(fps FingerprintStore, ips IPActivityStore, emitter AlertEmitter, cfg Config, log *logger.Logger) *Tracker {
	if cfg.MaxFingerprints <= 0 {
		cfg.MaxFingerprints = DefaultConfig().MaxFingerprints
	}
	if cfg.IPFanoutThreshold <= 0 {
		cfg.IPFanoutThreshold = DefaultConfig().IPFanoutThreshold
	}
	return &Tracker{
		fingerprints: fps,
		ipActivity:   ips,
		emitter:      emitter,
		cfg:          cfg,
		log:          log,
	}
}

// RecordAndCheck records the fingerprint for the principal and reports
// whether it is both new and arriving while the recent-set was already full.
// Store failures are logged and treated as "not suspicious": anomaly
// detection is advisory and must not turn infrastructure trouble into
// false alarms.
func (t *Tracker) RecordAndCheck(ctx context.Context, principalID, hash string) bool {
	known, priorCount, err := t.fingerprints.Record(ctx, principalID, hash)
	if err != nil {
		t.log.Warn("fingerprint store unavailable", "error", err)
		return false
	}
	if known {
		return false
	}
	if priorCount < t.cfg.MaxFingerprints {
		return false
	}

	t.emitter.Emit(ctx, Alert{
		PrincipalID: principalID,
		Kind:        KindNewDevice,
		Severity:    SeverityMedium,
		Detail:      "new device fingerprint while tracked set was full",
		Timestamp:   time.Now().UTC(),
	})
	return true
}

// TrackIPFanout records the principal against the IP and reports whether the
// IP has exceeded the distinct-principal threshold in the trailing window.
func (t *Tracker) TrackIPFanout(ctx context.Context, ip, principalID string) bool {
	if ip == "" || principalID == "" {
		return false
	}

	distinct, err := t.ipActivity.RecordPrincipal(ctx, ip, principalID)
	if err != nil {
		t.log.Warn("ip activity store unavailable", "error", err)
		return false
	}
	if distinct <= t.cfg.IPFanoutThreshold {
		return false
	}

	severity := SeverityHigh
	if distinct > t.cfg.IPFanoutThreshold*2 {
		severity = SeverityCritical
	}
	t.emitter.Emit(ctx, Alert{
		IP:        ip,
		Kind:      KindIPFanout,
		Severity:  severity,
		Detail:    "too many distinct principals from one IP",
		Timestamp: time.Now().UTC(),
	})
	return true
}
