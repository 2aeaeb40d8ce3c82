// Package coordinator implements the training job round state machine:
// forming → open → aggregating → closed | aborted. The Coordinator is the
// single writer of round state; every other component (heartbeat session,
// sweeper, rpc handlers) only calls into it or reads its own snapshots.
package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/edgeorchestra/orchestrator/internal/domain"
	"github.com/edgeorchestra/orchestrator/internal/infra/catalog"
	"github.com/edgeorchestra/orchestrator/internal/infra/healing"
)

// Config holds the round state machine's timing and retry policy, all
// overridable from the daemon's TOML config.
type Config struct {
	RoundTimeout         time.Duration // default 300s
	Grace                time.Duration // default 60s, added to RoundTimeout for the hard deadline
	SelectionBackoff     time.Duration // default 15s between forming retries
	SelectionMaxAttempts int           // default 8
	RoundMaxRetries      int           // default 3
}

// DefaultConfig returns the documented production defaults.
func DefaultConfig() Config {
	return Config{
		RoundTimeout:         300 * time.Second,
		Grace:                60 * time.Second,
		SelectionBackoff:     15 * time.Second,
		SelectionMaxAttempts: 8,
		RoundMaxRetries:      3,
	}
}

// Coordinator drives every active job's round state machine forward.
type Coordinator struct {
	mu sync.Mutex

	jobs       domain.JobStore
	models     domain.ModelStore
	aggregator domain.Aggregator
	selector   domain.EligibilitySelector
	quarantine *healing.QuarantineManager // optional
	catalog    *catalog.Catalog           // optional
	clock      domain.Clock
	cfg        Config
	log        *slog.Logger

	specs             map[string]domain.JobSpec    // jobID -> original spec, for re-selection
	selectionAttempts map[domain.RoundKey]int
	lastAttemptAt     map[domain.RoundKey]time.Time
	assigned          map[string]domain.RoundKey // deviceID -> round currently assigned to

	lastAggregate domain.AggregateResult
	haveAggregate bool
}

// New builds a Coordinator. quarantine and catalog may be nil.
func New(jobs domain.JobStore, models domain.ModelStore, aggregator domain.Aggregator, selector domain.EligibilitySelector, quarantine *healing.QuarantineManager, cat *catalog.Catalog, clock domain.Clock, cfg Config, log *slog.Logger) *Coordinator {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{
		jobs:              jobs,
		models:            models,
		aggregator:        aggregator,
		selector:          selector,
		quarantine:        quarantine,
		catalog:           cat,
		clock:             clock,
		cfg:               cfg,
		log:               log,
		specs:             make(map[string]domain.JobSpec),
		selectionAttempts: make(map[domain.RoundKey]int),
		lastAttemptAt:     make(map[domain.RoundKey]time.Time),
		assigned:          make(map[string]domain.RoundKey),
	}
}

// LastAggregate returns the most recent round's aggregate metrics, the
// server telemetry stamped into every heartbeat response per SPEC_FULL.md's
// heartbeat metadata echo. ok is false until the first round closes.
func (c *Coordinator) LastAggregate() (domain.AggregateResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastAggregate, c.haveAggregate
}

// IsAssigned reports whether deviceID currently belongs to an open round.
// Satisfies eligibility.AssignmentTracker.
func (c *Coordinator) IsAssigned(deviceID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.assigned[deviceID]
	return ok
}

// StartJob creates a new training job and attempts to form its first round.
func (c *Coordinator) StartJob(ctx context.Context, spec domain.JobSpec) (domain.TrainingJob, error) {
	job, err := c.jobs.CreateJob(ctx, spec)
	if err != nil {
		return domain.TrainingJob{}, err
	}

	c.mu.Lock()
	c.specs[job.JobID] = spec
	c.mu.Unlock()

	now := c.clock.Now()
	round := domain.Round{
		JobID:         job.JobID,
		Round:         1,
		GlobalModelID: spec.InitialModelID,
		StartedAt:     now,
		Status:        domain.RoundForming,
	}
	if err := c.jobs.CreateRound(ctx, round); err != nil {
		return domain.TrainingJob{}, err
	}
	c.tryForm(ctx, job, round, now)
	return job, nil
}

// CancelJob tears down a job's in-flight round and marks it cancelled.
func (c *Coordinator) CancelJob(ctx context.Context, jobID string) error {
	job, err := c.jobs.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.IsTerminal() {
		return nil
	}
	key := domain.RoundKey{JobID: jobID, Round: job.CurrentRound}
	round, err := c.jobs.GetRound(ctx, key)
	if err == nil {
		c.releaseParticipants(round)
	}
	return c.jobs.UpdateJobStatus(ctx, jobID, domain.JobCancelled, job.CurrentRound)
}

// Submit records a device's weight-delta submission for the round it was
// assigned to, validating it against the round's open/participant/layer
// invariants before persisting.
func (c *Coordinator) Submit(ctx context.Context, sub domain.Submission) error {
	key := domain.RoundKey{JobID: sub.JobID, Round: sub.Round}
	round, err := c.jobs.GetRound(ctx, key)
	if err != nil {
		return err
	}
	if round.Status != domain.RoundOpen {
		return domain.ErrRoundNotOpen
	}
	if !round.HasParticipant(sub.DeviceID) {
		return domain.ErrDeviceNotFound
	}

	job, err := c.jobs.GetJob(ctx, sub.JobID)
	if err != nil {
		return err
	}

	deltas, err := c.aggregator.Decode(sub.Blob)
	if err != nil {
		c.recordBadSubmission(sub.DeviceID)
		return err
	}
	if c.catalog != nil {
		if err := c.catalog.Validate(job.Architecture, deltas); err != nil {
			c.recordBadSubmission(sub.DeviceID)
			return err
		}
	}

	sub.ReceivedAt = c.clock.Now()
	if err := c.jobs.PutSubmission(ctx, sub); err != nil {
		return err
	}
	if c.quarantine != nil {
		c.quarantine.RecordSubmission(sub.DeviceID)
	}

	subs, err := c.jobs.ListSubmissions(ctx, key)
	if err != nil {
		return err
	}
	if len(subs) >= len(round.Participants) {
		c.aggregate(ctx, job, round, subs)
	}
	return nil
}

// Tick advances every active job's round by one state-machine step,
// evaluated against now. Call this from a ticker loop (see the daemon's
// wiring); it is also how tests drive the machine deterministically.
func (c *Coordinator) Tick(ctx context.Context, now time.Time) {
	jobs, err := c.jobs.ListJobs(ctx)
	if err != nil {
		c.log.Error("coordinator tick: list jobs failed", "err", err)
		return
	}
	for _, job := range jobs {
		if job.IsTerminal() {
			continue
		}
		key := domain.RoundKey{JobID: job.JobID, Round: job.CurrentRound}
		round, err := c.jobs.GetRound(ctx, key)
		if err != nil {
			c.log.Error("coordinator tick: get round failed", "job_id", job.JobID, "err", err)
			continue
		}
		c.tickRound(ctx, job, round, now)
	}
}

func (c *Coordinator) tickRound(ctx context.Context, job domain.TrainingJob, round domain.Round, now time.Time) {
	switch round.Status {
	case domain.RoundForming:
		key := round.Key()
		c.mu.Lock()
		last := c.lastAttemptAt[key]
		c.mu.Unlock()
		if now.Sub(last) >= c.cfg.SelectionBackoff {
			c.tryForm(ctx, job, round, now)
		}
	case domain.RoundOpen:
		c.tickOpen(ctx, job, round, now)
	case domain.RoundAborted:
		c.retryOrFail(ctx, job, round)
	}
}

func (c *Coordinator) tryForm(ctx context.Context, job domain.TrainingJob, round domain.Round, now time.Time) {
	key := round.Key()
	c.mu.Lock()
	spec := c.specs[job.JobID]
	c.lastAttemptAt[key] = now
	c.selectionAttempts[key]++
	attempts := c.selectionAttempts[key]
	c.mu.Unlock()

	// Every eligible device takes part; quorum is only the minimum.
	selected, err := c.selector.Select(ctx, spec, math.MaxInt)
	if err != nil {
		c.log.Error("coordinator: selection failed", "job_id", job.JobID, "round", round.Round, "err", err)
		return
	}
	if len(selected) < job.Quorum {
		if attempts >= c.cfg.SelectionMaxAttempts {
			c.log.Warn("coordinator: selection exhausted, failing job", "job_id", job.JobID, "round", round.Round)
			_ = c.jobs.UpdateJobStatus(ctx, job.JobID, domain.JobFailed, job.CurrentRound)
		}
		return
	}

	ids := make([]string, len(selected))
	c.mu.Lock()
	for i, d := range selected {
		ids[i] = d.ID
		c.assigned[d.ID] = key
	}
	delete(c.selectionAttempts, key)
	c.mu.Unlock()

	round.Participants = ids
	round.StartedAt = now
	round.Deadline = now.Add(c.cfg.RoundTimeout)
	round.Status = domain.RoundOpen
	if err := c.jobs.CreateRound(ctx, round); err != nil {
		c.log.Error("coordinator: persist opened round failed", "job_id", job.JobID, "round", round.Round, "err", err)
		return
	}
	c.log.Info("coordinator: round open", "job_id", job.JobID, "round", round.Round, "participants", len(ids))
}

func (c *Coordinator) tickOpen(ctx context.Context, job domain.TrainingJob, round domain.Round, now time.Time) {
	subs, err := c.jobs.ListSubmissions(ctx, round.Key())
	if err != nil {
		c.log.Error("coordinator: list submissions failed", "job_id", job.JobID, "round", round.Round, "err", err)
		return
	}

	allSubmitted := len(subs) >= len(round.Participants)
	quorumMet := len(subs) >= job.Quorum
	hardDeadline := round.Deadline.Add(c.cfg.Grace)

	switch {
	case allSubmitted:
		c.aggregate(ctx, job, round, subs)
	case quorumMet && !now.Before(round.Deadline):
		c.aggregate(ctx, job, round, subs)
	case !now.Before(hardDeadline):
		if quorumMet {
			c.aggregate(ctx, job, round, subs)
		} else {
			c.abort(ctx, job, round, "hard deadline exceeded below quorum")
		}
	}
}

func (c *Coordinator) aggregate(ctx context.Context, job domain.TrainingJob, round domain.Round, subs []domain.Submission) {
	key := round.Key()
	if err := c.jobs.UpdateRoundStatus(ctx, key, domain.RoundAggregating); err != nil {
		c.log.Error("coordinator: mark aggregating failed", "job_id", job.JobID, "round", round.Round, "err", err)
		return
	}

	globalBlob, err := c.models.Get(ctx, round.GlobalModelID)
	if err != nil {
		c.abort(ctx, job, round, fmt.Sprintf("load global model: %v", err))
		return
	}

	blob, aggResult, err := c.aggregator.Aggregate(ctx, globalBlob, subs)
	if err != nil {
		c.abort(ctx, job, round, fmt.Sprintf("aggregation failed: %v", err))
		return
	}
	c.mu.Lock()
	c.lastAggregate = aggResult
	c.haveAggregate = true
	c.mu.Unlock()

	artifact, err := c.models.Put(ctx, blob)
	if err != nil {
		c.abort(ctx, job, round, fmt.Sprintf("store aggregate: %v", err))
		return
	}
	if err := c.jobs.SetRoundAggregate(ctx, key, artifact.ModelID); err != nil {
		c.log.Error("coordinator: set round aggregate failed", "job_id", job.JobID, "round", round.Round, "err", err)
	}
	if err := c.jobs.UpdateRoundStatus(ctx, key, domain.RoundClosed); err != nil {
		c.log.Error("coordinator: close round failed", "job_id", job.JobID, "round", round.Round, "err", err)
	}
	c.penalizeMissing(round, subs)
	c.releaseParticipants(round)

	nextRound := job.CurrentRound + 1
	if nextRound > job.TargetRounds {
		_ = c.jobs.UpdateJobStatus(ctx, job.JobID, domain.JobCompleted, job.CurrentRound)
		c.log.Info("coordinator: job completed", "job_id", job.JobID, "rounds", job.CurrentRound)
		return
	}

	_ = c.jobs.UpdateJobStatus(ctx, job.JobID, domain.JobRunning, nextRound)
	next := domain.Round{
		JobID:         job.JobID,
		Round:         nextRound,
		GlobalModelID: artifact.ModelID,
		StartedAt:     c.clock.Now(),
		Status:        domain.RoundForming,
	}
	if err := c.jobs.CreateRound(ctx, next); err != nil {
		c.log.Error("coordinator: create next round failed", "job_id", job.JobID, "round", nextRound, "err", err)
		return
	}
	job.CurrentRound = nextRound
	c.tryForm(ctx, job, next, c.clock.Now())
}

func (c *Coordinator) abort(ctx context.Context, job domain.TrainingJob, round domain.Round, reason string) {
	c.log.Warn("coordinator: round aborted", "job_id", job.JobID, "round", round.Round, "reason", reason)
	if err := c.jobs.UpdateRoundStatus(ctx, round.Key(), domain.RoundAborted); err != nil {
		c.log.Error("coordinator: mark aborted failed", "job_id", job.JobID, "round", round.Round, "err", err)
	}
	c.releaseParticipants(round)
	c.retryOrFail(ctx, job, round)
}

func (c *Coordinator) retryOrFail(ctx context.Context, job domain.TrainingJob, round domain.Round) {
	if round.Attempt+1 > c.cfg.RoundMaxRetries {
		_ = c.jobs.UpdateJobStatus(ctx, job.JobID, domain.JobFailed, job.CurrentRound)
		c.log.Warn("coordinator: round retries exhausted, failing job", "job_id", job.JobID, "round", round.Round)
		return
	}

	retry := domain.Round{
		JobID:         round.JobID,
		Round:         round.Round,
		GlobalModelID: round.GlobalModelID,
		StartedAt:     c.clock.Now(),
		Status:        domain.RoundForming,
		Attempt:       round.Attempt + 1,
	}
	if err := c.jobs.CreateRound(ctx, retry); err != nil {
		c.log.Error("coordinator: persist round retry failed", "job_id", job.JobID, "round", round.Round, "err", err)
		return
	}
	c.tryForm(ctx, job, retry, c.clock.Now())
}

func (c *Coordinator) releaseParticipants(round domain.Round) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range round.Participants {
		delete(c.assigned, id)
	}
}

func (c *Coordinator) penalizeMissing(round domain.Round, subs []domain.Submission) {
	if c.quarantine == nil {
		return
	}
	submitted := make(map[string]struct{}, len(subs))
	for _, s := range subs {
		submitted[s.DeviceID] = struct{}{}
	}
	for _, id := range round.Participants {
		if _, ok := submitted[id]; !ok {
			c.quarantine.RecordMiss(id)
		}
	}
}

func (c *Coordinator) recordBadSubmission(deviceID string) {
	if c.quarantine != nil {
		c.quarantine.RecordBadSubmission(deviceID)
	}
}
