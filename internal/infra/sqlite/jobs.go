package sqlite

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/edgeorchestra/orchestrator/internal/domain"
)

// ─── Jobs ───────────────────────────────────────────────────────────────────
// Implements domain.JobStore.

func (d *DB) CreateJob(ctx context.Context, spec domain.JobSpec) (domain.TrainingJob, error) {
	job := domain.TrainingJob{
		JobID:          spec.JobID,
		Architecture:   spec.Architecture,
		InitialModelID: spec.InitialModelID,
		Status:         domain.JobRunning,
		CurrentRound:   1,
		TargetRounds:   spec.TargetRounds,
		Quorum:         spec.Quorum,
		RoundDeadline:  spec.RoundDeadline,
		StartedAt:      time.Now().UTC(),
	}
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO jobs (job_id, architecture, initial_model_id, status, current_round,
			target_rounds, quorum, round_deadline_s, started_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.JobID, job.Architecture, job.InitialModelID, string(job.Status), job.CurrentRound,
		job.TargetRounds, job.Quorum, int64(job.RoundDeadline/time.Second), unixPtr(job.StartedAt),
	)
	if isUniqueViolation(err) {
		return domain.TrainingJob{}, domain.ErrJobAlreadyExists
	}
	if err != nil {
		return domain.TrainingJob{}, err
	}
	return job, nil
}

func (d *DB) GetJob(ctx context.Context, jobID string) (domain.TrainingJob, error) {
	row := d.db.QueryRowContext(ctx, jobSelect+` WHERE job_id = ?`, jobID)
	job, err := scanJob(row)
	if err != nil {
		return domain.TrainingJob{}, mapErr(err, domain.ErrJobNotFound)
	}
	return job, nil
}

func (d *DB) ListJobs(ctx context.Context) ([]domain.TrainingJob, error) {
	rows, err := d.db.QueryContext(ctx, jobSelect+` ORDER BY started_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []domain.TrainingJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (d *DB) UpdateJobStatus(ctx context.Context, jobID string, status domain.JobStatus, currentRound int) error {
	res, err := d.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, current_round = ? WHERE job_id = ?`,
		string(status), currentRound, jobID,
	)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return domain.ErrJobNotFound
	}
	return nil
}

const jobSelect = `SELECT job_id, architecture, initial_model_id, status, current_round,
	target_rounds, quorum, round_deadline_s, started_at FROM jobs`

func scanJob(s scanner) (domain.TrainingJob, error) {
	var job domain.TrainingJob
	var status string
	var deadlineS, startedAt int64
	err := s.Scan(&job.JobID, &job.Architecture, &job.InitialModelID, &status, &job.CurrentRound,
		&job.TargetRounds, &job.Quorum, &deadlineS, &startedAt)
	if err != nil {
		return domain.TrainingJob{}, err
	}
	job.Status = domain.JobStatus(status)
	job.RoundDeadline = time.Duration(deadlineS) * time.Second
	job.StartedAt = unixToTime(startedAt)
	return job, nil
}

// ─── Rounds ─────────────────────────────────────────────────────────────────

func (d *DB) CreateRound(ctx context.Context, r domain.Round) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO rounds (job_id, round, global_model_id, started_at, deadline,
			participants, aggregate_model_id, status, attempt)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(job_id, round) DO UPDATE SET
			global_model_id=excluded.global_model_id, started_at=excluded.started_at,
			deadline=excluded.deadline, participants=excluded.participants,
			status=excluded.status, attempt=excluded.attempt`,
		r.JobID, r.Round, r.GlobalModelID, unixPtr(r.StartedAt), unixPtr(r.Deadline),
		strings.Join(r.Participants, ","), r.AggregateModelID, string(r.Status), r.Attempt,
	)
	return err
}

func (d *DB) GetRound(ctx context.Context, key domain.RoundKey) (domain.Round, error) {
	row := d.db.QueryRowContext(ctx, roundSelect+` WHERE job_id = ? AND round = ?`, key.JobID, key.Round)
	r, err := scanRound(row)
	if err != nil {
		return domain.Round{}, mapErr(err, domain.ErrRoundNotFound)
	}
	return r, nil
}

func (d *DB) UpdateRoundStatus(ctx context.Context, key domain.RoundKey, status domain.RoundStatus) error {
	res, err := d.db.ExecContext(ctx,
		`UPDATE rounds SET status = ? WHERE job_id = ? AND round = ?`,
		string(status), key.JobID, key.Round,
	)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return domain.ErrRoundNotFound
	}
	return nil
}

func (d *DB) SetRoundAggregate(ctx context.Context, key domain.RoundKey, aggregateModelID string) error {
	res, err := d.db.ExecContext(ctx,
		`UPDATE rounds SET aggregate_model_id = ? WHERE job_id = ? AND round = ?`,
		aggregateModelID, key.JobID, key.Round,
	)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return domain.ErrRoundNotFound
	}
	return nil
}

const roundSelect = `SELECT job_id, round, global_model_id, started_at, deadline,
	participants, aggregate_model_id, status, attempt FROM rounds`

func scanRound(s scanner) (domain.Round, error) {
	var r domain.Round
	var started, deadline int64
	var participants, status string
	err := s.Scan(&r.JobID, &r.Round, &r.GlobalModelID, &started, &deadline,
		&participants, &r.AggregateModelID, &status, &r.Attempt)
	if err != nil {
		return domain.Round{}, err
	}
	r.StartedAt = unixToTime(started)
	r.Deadline = unixToTime(deadline)
	r.Status = domain.RoundStatus(status)
	if participants != "" {
		r.Participants = strings.Split(participants, ",")
	}
	return r, nil
}

// ─── Submissions ────────────────────────────────────────────────────────────

func (d *DB) PutSubmission(ctx context.Context, sub domain.Submission) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO submissions (job_id, round, device_id, blob, num_samples, metrics, received_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sub.JobID, sub.Round, sub.DeviceID, sub.Blob, sub.NumSamples,
		encodeMetrics(sub.Metrics), unixPtr(sub.ReceivedAt),
	)
	if isUniqueViolation(err) {
		return domain.ErrAlreadySubmitted
	}
	return err
}

func (d *DB) ListSubmissions(ctx context.Context, key domain.RoundKey) ([]domain.Submission, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT job_id, round, device_id, blob, num_samples, metrics, received_at
		 FROM submissions WHERE job_id = ? AND round = ? ORDER BY received_at`,
		key.JobID, key.Round,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []domain.Submission
	for rows.Next() {
		var s domain.Submission
		var metrics string
		var receivedAt int64
		if err := rows.Scan(&s.JobID, &s.Round, &s.DeviceID, &s.Blob, &s.NumSamples, &metrics, &receivedAt); err != nil {
			return nil, err
		}
		s.Metrics = decodeMetrics(metrics)
		s.ReceivedAt = unixToTime(receivedAt)
		subs = append(subs, s)
	}
	return subs, rows.Err()
}

func encodeMetrics(m map[string]float64) string {
	var sb strings.Builder
	first := true
	for k, v := range m {
		if !first {
			sb.WriteByte(';')
		}
		first = false
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
	}
	return sb.String()
}

func decodeMetrics(s string) map[string]float64 {
	if s == "" {
		return nil
	}
	m := make(map[string]float64)
	for _, pair := range strings.Split(s, ";") {
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 {
			continue
		}
		v, err := strconv.ParseFloat(kv[1], 64)
		if err != nil {
			continue
		}
		m[kv[0]] = v
	}
	return m
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
