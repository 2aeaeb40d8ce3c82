package domain

import "time"

// RoundStatus is the state machine driven by the coordinator:
// forming → open → aggregating → closed | aborted.
type RoundStatus string

const (
	RoundForming     RoundStatus = "forming"
	RoundOpen        RoundStatus = "open"
	RoundAggregating RoundStatus = "aggregating"
	RoundClosed      RoundStatus = "closed"
	RoundAborted     RoundStatus = "aborted"
)

// RoundKey identifies a round within a job; rounds are keyed by this
// pair rather than owned by pointer, per SPEC_FULL.md's arena note.
type RoundKey struct {
	JobID string
	Round int
}

// Round is one iteration of federated averaging.
type Round struct {
	JobID           string
	Round           int
	GlobalModelID   string
	StartedAt       time.Time
	Deadline        time.Time
	Participants    []string // device IDs, selection order preserved
	AggregateModelID string
	Status          RoundStatus
	Attempt         int // retry counter, bounded by round_max_retries
}

// Key returns the round's arena key.
func (r Round) Key() RoundKey { return RoundKey{JobID: r.JobID, Round: r.Round} }

// HasParticipant reports whether deviceID was selected for this round.
func (r Round) HasParticipant(deviceID string) bool {
	for _, id := range r.Participants {
		if id == deviceID {
			return true
		}
	}
	return false
}
