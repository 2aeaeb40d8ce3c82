package domain

import "time"

// JobStatus tracks the lifecycle of a training job. Deliberately separate
// from DeviceStatus — see the Open Question resolved in SPEC_FULL.md.
type JobStatus string

const (
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// TrainingJob is one federated-learning run: repeated rounds of
// distribute → collect → aggregate until target_rounds is reached.
type TrainingJob struct {
	JobID          string        `json:"job_id"`
	Architecture   string        `json:"architecture"`
	InitialModelID string        `json:"initial_model_id"`
	Status         JobStatus     `json:"status"`
	CurrentRound   int           `json:"current_round"`
	TargetRounds   int           `json:"target_rounds"`
	Quorum         int           `json:"quorum"`
	RoundDeadline  time.Duration `json:"round_deadline"`
	StartedAt      time.Time     `json:"started_at"`
}

// IsTerminal reports whether the job reached a final state.
func (j TrainingJob) IsTerminal() bool {
	switch j.Status {
	case JobCompleted, JobFailed, JobCancelled:
		return true
	default:
		return false
	}
}

// JobSpec is the caller-supplied request to start a new training job.
type JobSpec struct {
	JobID          string
	Architecture   string
	InitialModelID string
	TargetRounds   int
	Quorum         int
	RoundDeadline  time.Duration
	RequiredFrameworks []string
}
