package domain

import (
	"context"
	"time"
)

// ─── Service Interfaces ─────────────────────────────────────────────────────
// These interfaces define boundaries between layers. Infrastructure
// implements them; the coordinator and rpc layers depend on them.

// DeviceRegistry is the durable store of known devices.
type DeviceRegistry interface {
	Register(ctx context.Context, d Device) error
	Unregister(ctx context.Context, deviceID string) error
	Get(ctx context.Context, deviceID string) (Device, error)
	List(ctx context.Context, filter DeviceFilter) ([]Device, error)
	Touch(ctx context.Context, deviceID string, status DeviceStatus, m Metrics, at time.Time) error
}

// LivenessStore tracks ephemeral per-device liveness and pending command
// queues. Unlike DeviceRegistry it is not durable: a restart drops it and
// devices show up as live again on their next heartbeat.
type LivenessStore interface {
	// MarkAlive records a heartbeat at the given sequence number. Returns
	// ErrStaleSequence if seq does not strictly increase.
	MarkAlive(deviceID string, seq uint64, at time.Time) error

	// IsLive reports whether deviceID has a recent-enough heartbeat.
	IsLive(deviceID string, at time.Time) bool

	// Enqueue appends a command to deviceID's queue, bounded to 32 entries.
	// On overflow the oldest non-shutdown command is dropped to make room;
	// ErrCommandQueueFull is returned only when every queued command is a
	// shutdown.
	Enqueue(deviceID string, cmd Command) error

	// Dequeue pops the next queued command for deviceID, or AckCommand()
	// if none is queued.
	Dequeue(deviceID string) Command

	// Stale returns device IDs whose last heartbeat is older than the cutoff.
	Stale(before time.Time) []string

	// Forget drops all liveness state for deviceID.
	Forget(deviceID string)
}

// ModelStore is content-addressed blob storage for model artifacts and
// round aggregates, keyed by the SHA-256 of their bytes.
type ModelStore interface {
	Put(ctx context.Context, data []byte) (ModelArtifact, error)
	Get(ctx context.Context, modelID string) ([]byte, error)
	Stat(ctx context.Context, modelID string) (ModelArtifact, error)
	Delete(ctx context.Context, modelID string) error

	// Chunks streams data for modelID in chunkSize pieces, for the
	// chunked transport RPC.
	Chunks(ctx context.Context, modelID string, chunkSize int) (ChunkMetadata, <-chan Chunk, error)
}

// JobStore is durable storage for training jobs and their rounds.
type JobStore interface {
	CreateJob(ctx context.Context, spec JobSpec) (TrainingJob, error)
	GetJob(ctx context.Context, jobID string) (TrainingJob, error)
	ListJobs(ctx context.Context) ([]TrainingJob, error)
	UpdateJobStatus(ctx context.Context, jobID string, status JobStatus, currentRound int) error

	CreateRound(ctx context.Context, r Round) error
	GetRound(ctx context.Context, key RoundKey) (Round, error)
	UpdateRoundStatus(ctx context.Context, key RoundKey, status RoundStatus) error
	SetRoundAggregate(ctx context.Context, key RoundKey, aggregateModelID string) error

	PutSubmission(ctx context.Context, s Submission) error
	ListSubmissions(ctx context.Context, key RoundKey) ([]Submission, error)
}

// Aggregator combines a round's submissions into a new global model.
type Aggregator interface {
	// Decode unpacks a submission blob (magic byte + lz4 + float16 layers)
	// into a DeltaSet.
	Decode(blob []byte) (DeltaSet, error)

	// Encode packs a DeltaSet back into wire form.
	Encode(deltas DeltaSet) ([]byte, error)

	// Aggregate performs sample-weighted FedAvg over submissions against
	// the round's current global model, returning the new aggregate blob.
	Aggregate(ctx context.Context, globalModel []byte, submissions []Submission) ([]byte, AggregateResult, error)
}

// EligibilitySelector chooses which devices may participate in a round.
type EligibilitySelector interface {
	// Select returns up to want eligible devices for spec, in priority
	// order. It may return fewer than want if not enough devices qualify.
	Select(ctx context.Context, spec JobSpec, want int) ([]Device, error)
}
