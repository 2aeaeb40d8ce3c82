// Package healing provides the orchestrator's self-protection primitives:
// a circuit breaker for storage calls, and a quarantine manager
// that temporarily excludes repeatedly-failing devices from selection.
//
// Circuit Breaker states:
//
//	CLOSED  (normal)  → errors exceed threshold → OPEN
//	OPEN    (blocking) → after timeout → HALF_OPEN
//	HALF_OPEN (probing) → probe succeeds → CLOSED, probe fails → OPEN
package healing

import (
	"sync"
	"time"

	"github.com/edgeorchestra/orchestrator/internal/domain"
)

// ═══════════════════════════════════════════════════════════════════════════
// Circuit Breaker
// ═══════════════════════════════════════════════════════════════════════════

// CBState represents the circuit breaker state.
type CBState int

const (
	CBClosed   CBState = iota // Normal operation — requests pass through
	CBOpen                    // Tripped — all requests rejected immediately
	CBHalfOpen                // Recovery probe — limited traffic allowed
)

func (s CBState) String() string {
	switch s {
	case CBClosed:
		return "CLOSED"
	case CBOpen:
		return "OPEN"
	case CBHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// CircuitBreakerConfig configures a circuit breaker.
type CircuitBreakerConfig struct {
	FailureThreshold int           // number of failures to trip (default 5)
	ResetTimeout     time.Duration // time in OPEN before trying HALF_OPEN (default 30s)
	HalfOpenMax      int           // max requests allowed in HALF_OPEN (default 3)
}

// DefaultCircuitBreakerConfig returns production defaults.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		ResetTimeout:     30 * time.Second,
		HalfOpenMax:      3,
	}
}

// CircuitBreaker implements the circuit breaker pattern. Thread-safe for
// concurrent use. The daemon does not construct one, so no SQLite call in
// the coordinator or elsewhere currently passes through a breaker.
type CircuitBreaker struct {
	mu          sync.Mutex
	name        string
	config      CircuitBreakerConfig
	state       CBState
	failures    int
	successes   int // successes in HALF_OPEN state
	trippedAt   time.Time
	totalTrips  int
	now         func() time.Time // injectable clock for testing
}

// NewCircuitBreaker creates a circuit breaker with the given name and config.
func NewCircuitBreaker(name string, cfg CircuitBreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{
		name:   name,
		config: cfg,
		state:  CBClosed,
		now:    time.Now,
	}
}

// Allow checks whether a request should be permitted.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CBClosed:
		return nil
	case CBOpen:
		if cb.now().Sub(cb.trippedAt) >= cb.config.ResetTimeout {
			cb.state = CBHalfOpen
			cb.successes = 0
			return nil
		}
		return domain.ErrCircuitOpen
	case CBHalfOpen:
		return nil
	}
	return nil
}

// RecordSuccess records a successful request.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CBHalfOpen:
		cb.successes++
		if cb.successes >= cb.config.HalfOpenMax {
			cb.state = CBClosed
			cb.failures = 0
			cb.successes = 0
		}
	case CBClosed:
		if cb.failures > 0 {
			cb.failures--
		}
	}
}

// RecordFailure records a failed request. May trip the breaker.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CBClosed:
		cb.failures++
		if cb.failures >= cb.config.FailureThreshold {
			cb.state = CBOpen
			cb.trippedAt = cb.now()
			cb.totalTrips++
		}
	case CBHalfOpen:
		cb.state = CBOpen
		cb.trippedAt = cb.now()
		cb.totalTrips++
	}
}

// State returns the current circuit breaker state.
func (cb *CircuitBreaker) State() CBState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == CBOpen && cb.now().Sub(cb.trippedAt) >= cb.config.ResetTimeout {
		cb.state = CBHalfOpen
		cb.successes = 0
	}
	return cb.state
}

// Snapshot is a point-in-time view of the circuit breaker.
type Snapshot struct {
	Name       string    `json:"name"`
	State      CBState   `json:"state"`
	Failures   int       `json:"failures"`
	TotalTrips int       `json:"total_trips"`
	TrippedAt  time.Time `json:"tripped_at,omitempty"`
}

// Snapshot returns the current state snapshot.
func (cb *CircuitBreaker) Snapshot() Snapshot {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	st := cb.state
	if st == CBOpen && cb.now().Sub(cb.trippedAt) >= cb.config.ResetTimeout {
		st = CBHalfOpen
		cb.state = CBHalfOpen
		cb.successes = 0
	}
	return Snapshot{Name: cb.name, State: st, Failures: cb.failures, TotalTrips: cb.totalTrips, TrippedAt: cb.trippedAt}
}

// Reset forces the circuit breaker back to closed state.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = CBClosed
	cb.failures = 0
	cb.successes = 0
}

// ═══════════════════════════════════════════════════════════════════════════
// Quarantine Manager
// ═══════════════════════════════════════════════════════════════════════════

// QuarantineReason explains why a device was quarantined.
type QuarantineReason string

const (
	// QuarantineMissedRounds fires when a device is selected for a round
	// but fails to submit before the deadline, repeatedly.
	QuarantineMissedRounds QuarantineReason = "missed_rounds"
	// QuarantineBadSubmission fires on a submission the aggregator rejects
	// outright (layer/size mismatch, corrupt blob).
	QuarantineBadSubmission QuarantineReason = "bad_submission"
)

// QuarantineRecord tracks a quarantine period for one device.
type QuarantineRecord struct {
	DeviceID  string           `json:"device_id"`
	Reason    QuarantineReason `json:"reason"`
	StartedAt time.Time        `json:"started_at"`
	ExpiresAt time.Time        `json:"expires_at"`
	Released  bool             `json:"released"`
}

// IsActive reports whether the quarantine is currently in effect.
func (qr QuarantineRecord) IsActive(now time.Time) bool {
	return !qr.Released && now.Before(qr.ExpiresAt)
}

// QuarantineConfig sets quarantine durations and escalation thresholds.
type QuarantineConfig struct {
	MissDuration     time.Duration // quarantine length after MissThreshold misses
	BadSubDuration   time.Duration // quarantine length after a rejected submission
	MissThreshold    int           // consecutive missed rounds before quarantine
	BanDuration      time.Duration // escalated duration after BanThreshold quarantines
	BanWindow        time.Duration // rolling window the quarantine count is measured over
	BanThreshold     int           // quarantines within BanWindow that trigger the ban duration
}

// DefaultQuarantineConfig returns conservative defaults for edge fleets
// where transient connectivity loss is common and quarantine should not
// be punitive on the first miss.
func DefaultQuarantineConfig() QuarantineConfig {
	return QuarantineConfig{
		MissDuration:   10 * time.Minute,
		BadSubDuration: 30 * time.Minute,
		MissThreshold:  3,
		BanDuration:    24 * time.Hour,
		BanWindow:      7 * 24 * time.Hour,
		BanThreshold:   3,
	}
}

// QuarantineManager tracks device quarantines with escalation. Thread-safe.
type QuarantineManager struct {
	mu       sync.Mutex
	config   QuarantineConfig
	records  map[string][]QuarantineRecord // deviceID → history
	misses   map[string]int                // deviceID → consecutive miss count
	now      func() time.Time
}

// NewQuarantineManager creates a quarantine manager.
func NewQuarantineManager(cfg QuarantineConfig) *QuarantineManager {
	return &QuarantineManager{
		config:  cfg,
		records: make(map[string][]QuarantineRecord),
		misses:  make(map[string]int),
		now:     time.Now,
	}
}

// RecordMiss increments the consecutive-miss count for a device. Once it
// reaches MissThreshold, the device is quarantined and the counter resets.
// Returns the new record, or nil if the threshold wasn't reached.
func (qm *QuarantineManager) RecordMiss(deviceID string) *QuarantineRecord {
	qm.mu.Lock()
	defer qm.mu.Unlock()

	qm.misses[deviceID]++
	if qm.misses[deviceID] >= qm.config.MissThreshold {
		qm.misses[deviceID] = 0
		return qm.quarantineLocked(deviceID, QuarantineMissedRounds)
	}
	return nil
}

// RecordBadSubmission immediately quarantines a device for a rejected blob.
func (qm *QuarantineManager) RecordBadSubmission(deviceID string) *QuarantineRecord {
	qm.mu.Lock()
	defer qm.mu.Unlock()
	return qm.quarantineLocked(deviceID, QuarantineBadSubmission)
}

// RecordSubmission resets a device's consecutive-miss count on success.
func (qm *QuarantineManager) RecordSubmission(deviceID string) {
	qm.mu.Lock()
	defer qm.mu.Unlock()
	qm.misses[deviceID] = 0
}

// IsQuarantined reports whether a device is currently quarantined.
func (qm *QuarantineManager) IsQuarantined(deviceID string) bool {
	qm.mu.Lock()
	defer qm.mu.Unlock()
	now := qm.now()
	for _, r := range qm.records[deviceID] {
		if r.IsActive(now) {
			return true
		}
	}
	return false
}

// Release manually releases a device from quarantine.
func (qm *QuarantineManager) Release(deviceID string) {
	qm.mu.Lock()
	defer qm.mu.Unlock()
	for i := range qm.records[deviceID] {
		qm.records[deviceID][i].Released = true
	}
	qm.misses[deviceID] = 0
}

func (qm *QuarantineManager) quarantineLocked(deviceID string, reason QuarantineReason) *QuarantineRecord {
	now := qm.now()

	var duration time.Duration
	switch reason {
	case QuarantineBadSubmission:
		duration = qm.config.BadSubDuration
	default:
		duration = qm.config.MissDuration
	}

	if qm.recentCountLocked(deviceID)+1 >= qm.config.BanThreshold {
		duration = qm.config.BanDuration
	}

	record := QuarantineRecord{
		DeviceID:  deviceID,
		Reason:    reason,
		StartedAt: now,
		ExpiresAt: now.Add(duration),
	}
	qm.records[deviceID] = append(qm.records[deviceID], record)
	return &record
}

func (qm *QuarantineManager) recentCountLocked(deviceID string) int {
	now := qm.now()
	windowStart := now.Add(-qm.config.BanWindow)
	count := 0
	for _, r := range qm.records[deviceID] {
		if r.StartedAt.After(windowStart) {
			count++
		}
	}
	return count
}
