package jobstate

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rch-lane/xcode-worker/internal/protocol"
)

// Job is the durable row backing a submitted job.
type Job struct {
	ID              string
	JobKey          string
	LeaseID         string
	State           protocol.JobState
	JobKeyInputs    protocol.JobKeyInputs
	BackendIdentity string
	Failure         *protocol.FailureInfo
	ArtifactsPath   string
	XCResultPath    string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// transitions enumerates every permitted state change. A transition not
// listed here is rejected with InvalidTransitionError; terminal states
// (SUCCEEDED, FAILED, CANCELLED) never appear as a "from" key.
var transitions = map[protocol.JobState][]protocol.JobState{
	protocol.JobQueued:          {protocol.JobRunning, protocol.JobCancelRequested, protocol.JobCancelled},
	protocol.JobRunning:         {protocol.JobSucceeded, protocol.JobFailed, protocol.JobCancelRequested},
	protocol.JobCancelRequested: {protocol.JobCancelled, protocol.JobSucceeded, protocol.JobFailed},
}

func canTransition(from, to protocol.JobState) bool {
	if from == to {
		return true
	}
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Submit inserts a new job row, or returns the existing job unchanged if
// job_id was already submitted with an identical job_key (idempotent
// resubmission, spec P4/P5). A resubmission under the same job_id with a
// different job_key is rejected by the caller (dispatch layer), not here;
// this method only reports what is already on record. backendIdentity is
// the caller identity already verified by the dispatch layer (empty if the
// worker has no identity verifier configured); it is recorded alongside
// the job so a later attestation can attribute it without re-verifying a
// token that may have since expired.
func (s *Store) Submit(ctx context.Context, spec protocol.JobSpec, backendIdentity string) (Job, bool, error) {
	ctx = ctxOrBackground(ctx)

	existing, ok, err := s.GetJob(ctx, spec.JobID)
	if err != nil {
		return Job{}, false, err
	}
	if ok {
		return existing, true, nil
	}

	inputs, err := json.Marshal(spec.JobKeyInputs)
	if err != nil {
		return Job{}, false, fmt.Errorf("jobstate: marshal job_key_inputs: %w", err)
	}
	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, job_key, lease_id, state, job_key_inputs, backend_identity, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		spec.JobID, spec.JobKey, spec.LeaseID, string(protocol.JobQueued), string(inputs), backendIdentity, now, now,
	)
	if err != nil {
		if isUniqueConstraintErr(err) {
			return Job{}, false, &DuplicateJobKeyError{JobKey: spec.JobKey}
		}
		return Job{}, false, fmt.Errorf("jobstate: insert job: %w", err)
	}
	return Job{
		ID:              spec.JobID,
		JobKey:          spec.JobKey,
		LeaseID:         spec.LeaseID,
		State:           protocol.JobQueued,
		JobKeyInputs:    spec.JobKeyInputs,
		BackendIdentity: backendIdentity,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, false, nil
}

// GetJob loads a job by id.
func (s *Store) GetJob(ctx context.Context, jobID string) (Job, bool, error) {
	ctx = ctxOrBackground(ctx)
	row := s.db.QueryRowContext(ctx,
		`SELECT id, job_key, lease_id, state, job_key_inputs, backend_identity,
		        failure_kind, failure_subkind, failure_message,
		        artifacts_path, xcresult_path, created_at, updated_at
		 FROM jobs WHERE id = ?`, jobID)

	var j Job
	var leaseID sql.NullString
	var inputsRaw string
	var fKind, fSub, fMsg string
	if err := row.Scan(&j.ID, &j.JobKey, &leaseID, &j.State, &inputsRaw, &j.BackendIdentity,
		&fKind, &fSub, &fMsg, &j.ArtifactsPath, &j.XCResultPath, &j.CreatedAt, &j.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Job{}, false, nil
		}
		return Job{}, false, fmt.Errorf("jobstate: get job: %w", err)
	}
	j.LeaseID = leaseID.String
	if err := json.Unmarshal([]byte(inputsRaw), &j.JobKeyInputs); err != nil {
		return Job{}, false, fmt.Errorf("jobstate: unmarshal job_key_inputs: %w", err)
	}
	if fKind != "" {
		j.Failure = &protocol.FailureInfo{Kind: fKind, Subkind: fSub, Message: fMsg}
	}
	return j, true, nil
}

// ListJobs returns every job row, for GC sweeps and admin tooling. Callers
// doing a GC pass filter by State.Terminal() and UpdatedAt themselves via
// artifact.GC.
func (s *Store) ListJobs(ctx context.Context) ([]Job, error) {
	ctx = ctxOrBackground(ctx)
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, job_key, lease_id, state, job_key_inputs, backend_identity,
		        failure_kind, failure_subkind, failure_message,
		        artifacts_path, xcresult_path, created_at, updated_at
		 FROM jobs ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("jobstate: list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		var j Job
		var leaseID sql.NullString
		var inputsRaw string
		var fKind, fSub, fMsg string
		if err := rows.Scan(&j.ID, &j.JobKey, &leaseID, &j.State, &inputsRaw, &j.BackendIdentity,
			&fKind, &fSub, &fMsg, &j.ArtifactsPath, &j.XCResultPath, &j.CreatedAt, &j.UpdatedAt); err != nil {
			return nil, fmt.Errorf("jobstate: scan job: %w", err)
		}
		j.LeaseID = leaseID.String
		if err := json.Unmarshal([]byte(inputsRaw), &j.JobKeyInputs); err != nil {
			return nil, fmt.Errorf("jobstate: unmarshal job_key_inputs: %w", err)
		}
		if fKind != "" {
			j.Failure = &protocol.FailureInfo{Kind: fKind, Subkind: fSub, Message: fMsg}
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("jobstate: list jobs: %w", err)
	}
	return jobs, nil
}

// Transition moves jobID from its current state to to, enforcing the state
// machine. A job already in a terminal state never transitions further
// (P3); requesting the same state it is already in is a no-op success.
func (s *Store) Transition(ctx context.Context, jobID string, to protocol.JobState) (Job, error) {
	ctx = ctxOrBackground(ctx)
	job, ok, err := s.GetJob(ctx, jobID)
	if err != nil {
		return Job{}, err
	}
	if !ok {
		return Job{}, &JobNotFoundError{JobID: jobID}
	}
	if job.State.Terminal() {
		if job.State == to {
			return job, nil
		}
		return Job{}, &InvalidTransitionError{From: job.State, To: to}
	}
	if !canTransition(job.State, to) {
		return Job{}, &InvalidTransitionError{From: job.State, To: to}
	}
	now := time.Now().UTC()
	if _, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET state = ?, updated_at = ? WHERE id = ?`,
		string(to), now, jobID,
	); err != nil {
		return Job{}, fmt.Errorf("jobstate: update state: %w", err)
	}
	job.State = to
	job.UpdatedAt = now
	return job, nil
}

// Finish transitions jobID into a terminal state, recording failure detail
// and the artifact/xcresult paths produced by the executor.
func (s *Store) Finish(ctx context.Context, jobID string, to protocol.JobState, failure *protocol.FailureInfo, artifactsPath, xcresultPath string) (Job, error) {
	ctx = ctxOrBackground(ctx)
	if _, err := s.Transition(ctx, jobID, to); err != nil {
		return Job{}, err
	}
	var kind, sub, msg string
	if failure != nil {
		kind, sub, msg = failure.Kind, failure.Subkind, failure.Message
	}
	now := time.Now().UTC()
	if _, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET failure_kind = ?, failure_subkind = ?, failure_message = ?,
		                 artifacts_path = ?, xcresult_path = ?, updated_at = ?
		 WHERE id = ?`,
		kind, sub, msg, artifactsPath, xcresultPath, now, jobID,
	); err != nil {
		return Job{}, fmt.Errorf("jobstate: record finish: %w", err)
	}
	return s.mustGetJob(ctx, jobID)
}

// Cancel requests cooperative cancellation. If the job is already terminal
// this is a no-op (acknowledged=false); otherwise it moves to
// CANCEL_REQUESTED (or, if still QUEUED and never dispatched to an
// executor, straight to CANCELLED by the caller via Transition).
func (s *Store) Cancel(ctx context.Context, jobID string) (Job, bool, error) {
	ctx = ctxOrBackground(ctx)
	job, ok, err := s.GetJob(ctx, jobID)
	if err != nil {
		return Job{}, false, err
	}
	if !ok {
		return Job{}, false, &JobNotFoundError{JobID: jobID}
	}
	if job.State.Terminal() {
		return job, false, nil
	}
	updated, err := s.Transition(ctx, jobID, protocol.JobCancelRequested)
	if err != nil {
		return Job{}, false, err
	}
	return updated, true, nil
}

// CountActive returns the number of jobs not yet in a terminal state.
func (s *Store) CountActive(ctx context.Context) (int, error) {
	ctx = ctxOrBackground(ctx)
	row := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM jobs WHERE state NOT IN (?, ?, ?)`,
		string(protocol.JobSucceeded), string(protocol.JobFailed), string(protocol.JobCancelled),
	)
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("jobstate: count active jobs: %w", err)
	}
	return n, nil
}

func (s *Store) mustGetJob(ctx context.Context, jobID string) (Job, error) {
	job, ok, err := s.GetJob(ctx, jobID)
	if err != nil {
		return Job{}, err
	}
	if !ok {
		return Job{}, &JobNotFoundError{JobID: jobID}
	}
	return job, nil
}
