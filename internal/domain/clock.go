// Package domain holds the pure data types shared across the orchestrator:
// devices, commands, model artifacts, jobs, rounds, and submissions.
// Nothing here depends on storage, gRPC, or any other infrastructure.
package domain

import "time"

// Clock abstracts time so the coordinator, sweeper, and liveness tracker
// can be driven deterministically in tests.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock backed by the monotonic runtime clock.
type SystemClock struct{}

// Now returns the current time.
func (SystemClock) Now() time.Time { return time.Now() }
