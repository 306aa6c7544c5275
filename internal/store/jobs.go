package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/castwave/release-factory/internal/lifecycle"
)

const jobColumns = `id, release_id, type, state, stage, priority, attempt,
	locked_by, locked_at, retry_at, progress_pct, progress_text, error_reason,
	approval_notified_at, published_at, delete_mp4_at, created_at, updated_at`

// scanJob reads one job row in jobColumns order.
func scanJob(row interface{ Scan(...any) error }) (*Job, error) {
	var j Job
	var state, stage string
	var lockedBy, progressText, errorReason sql.NullString
	var lockedAt, retryAt, progressPct, notifiedAt, publishedAt, deleteAt sql.NullFloat64

	err := row.Scan(
		&j.ID, &j.ReleaseID, &j.Type, &state, &stage, &j.Priority, &j.Attempt,
		&lockedBy, &lockedAt, &retryAt, &progressPct, &progressText, &errorReason,
		&notifiedAt, &publishedAt, &deleteAt, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	j.State = lifecycle.State(state)
	j.Stage = lifecycle.Stage(stage)
	j.LockedBy = nullStr(lockedBy)
	j.LockedAt = nullFloat(lockedAt)
	j.RetryAt = nullFloat(retryAt)
	j.ProgressPct = nullFloat(progressPct)
	j.ProgressText = nullStr(progressText)
	j.ErrorReason = nullStr(errorReason)
	j.ApprovalNotifiedAt = nullFloat(notifiedAt)
	j.PublishedAt = nullFloat(publishedAt)
	j.DeleteMP4At = nullFloat(deleteAt)
	return &j, nil
}

// CreateJob inserts a new job for a release in the given initial state.
func (s *Store) CreateJob(ctx context.Context, releaseID int64, state lifecycle.State, priority int) (int64, error) {
	now := s.nowUnix()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (release_id, state, stage, priority, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		releaseID, string(state), string(lifecycle.StageFor(state)), priority, now, now,
	)
	if err != nil {
		return 0, fmt.Errorf("create job: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("create job id: %w", err)
	}
	return id, nil
}

// GetJob returns one job by id, or ErrNotFound.
func (s *Store) GetJob(ctx context.Context, jobID int64) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, jobID)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

// ClearRetryAt makes a scheduled retry eligible immediately.
func (s *Store) ClearRetryAt(ctx context.Context, jobID int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET retry_at = NULL, updated_at = ? WHERE id = ? AND state != 'CANCELLED'`,
		s.nowUnix(), jobID,
	)
	if err != nil {
		return fmt.Errorf("clear retry for job %d: %w", jobID, err)
	}
	return nil
}

// GetJobByRelease returns the newest job bound to a release.
func (s *Store) GetJobByRelease(ctx context.Context, releaseID int64) (*Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE release_id = ? ORDER BY id DESC LIMIT 1`,
		releaseID,
	)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job by release: %w", err)
	}
	return job, nil
}

// ClaimJob atomically takes one job in the desired state for workerID.
//
// Inside a single immediate transaction it first releases leases older than
// leaseTTL held on that state, then picks the best eligible row (priority
// descending, created ascending, retry_at elapsed) and locks it with a
// conditional update. A lost race yields nil exactly like an empty queue:
// two workers can never both believe they own the same job.
//
// Returns nil when no job is claimable.
func (s *Store) ClaimJob(ctx context.Context, state lifecycle.State, workerID string, leaseTTL time.Duration) (*Job, error) {
	now := s.nowUnix()
	expiry := now - leaseTTL.Seconds()

	var claimedID int64
	claimed := false

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`UPDATE jobs SET locked_by = NULL, locked_at = NULL
			 WHERE state = ? AND locked_by IS NOT NULL AND locked_at < ?`,
			string(state), expiry,
		); err != nil {
			return fmt.Errorf("release expired leases: %w", err)
		}

		row := tx.QueryRowContext(ctx,
			`SELECT id FROM jobs
			 WHERE state = ? AND locked_by IS NULL
			   AND (retry_at IS NULL OR retry_at <= ?)
			 ORDER BY priority DESC, created_at ASC
			 LIMIT 1`,
			string(state), now,
		)
		var id int64
		if err := row.Scan(&id); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil
			}
			return fmt.Errorf("select claimable: %w", err)
		}

		res, err := tx.ExecContext(ctx,
			`UPDATE jobs SET locked_by = ?, locked_at = ?, updated_at = ?
			 WHERE id = ? AND locked_by IS NULL`,
			workerID, now, now, id,
		)
		if err != nil {
			return fmt.Errorf("acquire lock: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("acquire lock rows: %w", err)
		}
		if n == 1 {
			claimedID = id
			claimed = true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !claimed {
		return nil, nil
	}
	return s.GetJob(ctx, claimedID)
}

// TransitionFrom moves a job to a new state only when it currently is in one
// of the given states. A job in none of them (including CANCELLED) yields
// ErrConflict; a late write can therefore never revive a cancelled job.
func (s *Store) TransitionFrom(ctx context.Context, jobID int64, to lifecycle.State, from ...lifecycle.State) error {
	if len(from) == 0 {
		return fmt.Errorf("transition job %d: no source states", jobID)
	}
	placeholders := strings.TrimRight(strings.Repeat("?,", len(from)), ",")
	args := []any{string(to), string(lifecycle.StageFor(to)), s.nowUnix(), jobID}
	for _, f := range from {
		args = append(args, string(f))
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET state = ?, stage = ?, updated_at = ?
		 WHERE id = ? AND state IN (`+placeholders+`) AND state != 'CANCELLED'`,
		args...,
	)
	if err != nil {
		return fmt.Errorf("transition job %d: %w", jobID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("transition job %d rows: %w", jobID, err)
	}
	if n != 1 {
		return fmt.Errorf("transition job %d to %s: %w", jobID, to, ErrConflict)
	}
	return nil
}

// FinishToState concludes a successful stage: sets the new state, clears the
// lock and retry_at and resets the error reason. Gated on not CANCELLED.
func (s *Store) FinishToState(ctx context.Context, jobID int64, to lifecycle.State) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET state = ?, stage = ?, locked_by = NULL, locked_at = NULL,
		        retry_at = NULL, error_reason = NULL, updated_at = ?
		 WHERE id = ? AND state != 'CANCELLED'`,
		string(to), string(lifecycle.StageFor(to)), s.nowUnix(), jobID,
	)
	if err != nil {
		return fmt.Errorf("finish job %d: %w", jobID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finish job %d rows: %w", jobID, err)
	}
	if n != 1 {
		return fmt.Errorf("finish job %d to %s: %w", jobID, to, ErrConflict)
	}
	return nil
}

// SetProgress records advisory progress. Lost updates are harmless so the
// cancellation guard silently drops writes to cancelled jobs.
func (s *Store) SetProgress(ctx context.Context, jobID int64, pct float64, text string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET progress_pct = ?, progress_text = ?, updated_at = ?
		 WHERE id = ? AND state != 'CANCELLED'`,
		pct, text, s.nowUnix(), jobID,
	)
	if err != nil {
		return fmt.Errorf("set progress: %w", err)
	}
	return nil
}

// ReleaseLock clears the lease when held by workerID.
func (s *Store) ReleaseLock(ctx context.Context, jobID int64, workerID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET locked_by = NULL, locked_at = NULL, updated_at = ?
		 WHERE id = ? AND locked_by = ?`,
		s.nowUnix(), jobID, workerID,
	)
	if err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}

// ForceUnlock clears the lease regardless of holder. Operator escape hatch.
func (s *Store) ForceUnlock(ctx context.Context, jobID int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET locked_by = NULL, locked_at = NULL, updated_at = ? WHERE id = ?`,
		s.nowUnix(), jobID,
	)
	if err != nil {
		return fmt.Errorf("force unlock: %w", err)
	}
	return nil
}

// CancelJob forces a non-terminal job into CANCELLED, clearing lock and
// retry_at. Returns ErrConflict when the job is already terminal.
func (s *Store) CancelJob(ctx context.Context, jobID int64, reason string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET state = 'CANCELLED', stage = ?, locked_by = NULL, locked_at = NULL,
		        retry_at = NULL, error_reason = ?, updated_at = ?
		 WHERE id = ? AND state NOT IN ('CANCELLED', 'REJECTED', 'PUBLISHED', 'CLEANED')`,
		string(lifecycle.StageDone), reason, s.nowUnix(), jobID,
	)
	if err != nil {
		return fmt.Errorf("cancel job %d: %w", jobID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("cancel job %d rows: %w", jobID, err)
	}
	if n != 1 {
		return fmt.Errorf("cancel job %d: %w", jobID, ErrConflict)
	}
	return nil
}

// RetryOrFail applies the retry policy after a failed attempt: increment the
// attempt counter, then either schedule a retry back to the stage's ready
// state or mark the terminal failed state once the attempt budget is spent.
// It returns the state the job ended in.
func (s *Store) RetryOrFail(ctx context.Context, jobID int64, stage lifecycle.Stage, maxAttempts int, backoff time.Duration, reason string) (lifecycle.State, error) {
	var result lifecycle.State
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var attempt int
		var state string
		row := tx.QueryRowContext(ctx, `SELECT attempt, state FROM jobs WHERE id = ?`, jobID)
		if err := row.Scan(&attempt, &state); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("read attempt: %w", err)
		}
		if state == string(lifecycle.StateCancelled) {
			result = lifecycle.StateCancelled
			return nil
		}

		attempt++
		now := s.nowUnix()

		if attempt < maxAttempts {
			result = lifecycle.ReadyStateFor(stage)
			retryAt := now + backoff.Seconds()
			_, err := tx.ExecContext(ctx,
				`UPDATE jobs SET state = ?, stage = ?, attempt = ?, locked_by = NULL,
				        locked_at = NULL, retry_at = ?, error_reason = ?, updated_at = ?
				 WHERE id = ? AND state != 'CANCELLED'`,
				string(result), string(stage), attempt, retryAt, reason, now, jobID,
			)
			if err != nil {
				return fmt.Errorf("schedule retry: %w", err)
			}
			return nil
		}

		result = lifecycle.FailedStateFor(stage)
		_, err := tx.ExecContext(ctx,
			`UPDATE jobs SET state = ?, stage = ?, attempt = ?, locked_by = NULL,
			        locked_at = NULL, retry_at = NULL, error_reason = ?, updated_at = ?
			 WHERE id = ? AND state != 'CANCELLED'`,
			string(result), string(stage), attempt, reason, now, jobID,
		)
		if err != nil {
			return fmt.Errorf("mark terminal: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return result, nil
}

// ReclaimStale sweeps FETCHING_INPUTS and RENDERING jobs whose lease expired
// and applies the retry policy to each. Crashed orchestrators are recovered
// here before new work is claimed. Returns the number of jobs reclaimed.
func (s *Store) ReclaimStale(ctx context.Context, leaseTTL time.Duration, maxAttempts int, backoff time.Duration) (int, error) {
	expiry := s.nowUnix() - leaseTTL.Seconds()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM jobs
		 WHERE state IN ('FETCHING_INPUTS', 'RENDERING')
		   AND locked_at IS NOT NULL AND locked_at < ?`,
		expiry,
	)
	if err != nil {
		return 0, fmt.Errorf("list stale jobs: %w", err)
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return 0, fmt.Errorf("scan stale job: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return 0, fmt.Errorf("iterate stale jobs: %w", err)
	}
	_ = rows.Close()

	for _, id := range ids {
		reason := "reclaimed: lease expired"
		if _, err := s.RetryOrFail(ctx, id, lifecycle.StageRender, maxAttempts, backoff, reason); err != nil {
			return 0, fmt.Errorf("reclaim job %d: %w", id, err)
		}
	}
	return len(ids), nil
}

// Approve moves WAIT_APPROVAL to APPROVED.
func (s *Store) Approve(ctx context.Context, jobID int64) error {
	return s.TransitionFrom(ctx, jobID, lifecycle.StateApproved, lifecycle.StateWaitApproval)
}

// Reject moves WAIT_APPROVAL to REJECTED, recording the comment.
func (s *Store) Reject(ctx context.Context, jobID int64, comment string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET state = 'REJECTED', stage = ?, locked_by = NULL, locked_at = NULL,
		        retry_at = NULL, error_reason = ?, updated_at = ?
		 WHERE id = ? AND state = 'WAIT_APPROVAL'`,
		string(lifecycle.StageApproval), "rejected: "+comment, s.nowUnix(), jobID,
	)
	if err != nil {
		return fmt.Errorf("reject job %d: %w", jobID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reject job %d rows: %w", jobID, err)
	}
	if n != 1 {
		return fmt.Errorf("reject job %d: %w", jobID, ErrConflict)
	}
	return nil
}

// MarkPublished moves APPROVED or WAIT_APPROVAL to PUBLISHED, recording the
// publish time and scheduling MP4 deletion after the retention window. It
// returns the scheduled deletion time.
func (s *Store) MarkPublished(ctx context.Context, jobID int64, retention time.Duration) (time.Time, error) {
	now := s.now()
	deleteAt := now.Add(retention)

	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET state = 'PUBLISHED', stage = ?, locked_by = NULL, locked_at = NULL,
		        retry_at = NULL, published_at = ?, delete_mp4_at = ?, updated_at = ?
		 WHERE id = ? AND state IN ('APPROVED', 'WAIT_APPROVAL')`,
		string(lifecycle.StageApproval), unix(now), unix(deleteAt), unix(now), jobID,
	)
	if err != nil {
		return time.Time{}, fmt.Errorf("mark published %d: %w", jobID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return time.Time{}, fmt.Errorf("mark published %d rows: %w", jobID, err)
	}
	if n != 1 {
		return time.Time{}, fmt.Errorf("mark published %d: %w", jobID, ErrConflict)
	}
	return deleteAt, nil
}

// ListJobs returns jobs joined with release and channel, newest first. An
// empty state lists all jobs.
func (s *Store) ListJobs(ctx context.Context, state lifecycle.State, limit int) ([]JobView, error) {
	if limit <= 0 {
		limit = 200
	}
	query := `SELECT j.id, j.release_id, j.type, j.state, j.stage, j.priority, j.attempt,
		j.locked_by, j.locked_at, j.retry_at, j.progress_pct, j.progress_text, j.error_reason,
		j.approval_notified_at, j.published_at, j.delete_mp4_at, j.created_at, j.updated_at,
		r.title, c.slug, c.display_name
		FROM jobs j
		JOIN releases r ON r.id = j.release_id
		JOIN channels c ON c.id = r.channel_id`
	args := []any{}
	if state != "" {
		query += ` WHERE j.state = ?`
		args = append(args, string(state))
	}
	query += ` ORDER BY j.created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []JobView
	for rows.Next() {
		var v JobView
		var state, stage string
		var lockedBy, progressText, errorReason sql.NullString
		var lockedAt, retryAt, progressPct, notifiedAt, publishedAt, deleteAt sql.NullFloat64

		err := rows.Scan(
			&v.ID, &v.ReleaseID, &v.Type, &state, &stage, &v.Priority, &v.Attempt,
			&lockedBy, &lockedAt, &retryAt, &progressPct, &progressText, &errorReason,
			&notifiedAt, &publishedAt, &deleteAt, &v.CreatedAt, &v.UpdatedAt,
			&v.ReleaseTitle, &v.ChannelSlug, &v.ChannelDisplay,
		)
		if err != nil {
			return nil, fmt.Errorf("scan job view: %w", err)
		}
		v.State = lifecycle.State(state)
		v.Stage = lifecycle.Stage(stage)
		v.LockedBy = nullStr(lockedBy)
		v.LockedAt = nullFloat(lockedAt)
		v.RetryAt = nullFloat(retryAt)
		v.ProgressPct = nullFloat(progressPct)
		v.ProgressText = nullStr(progressText)
		v.ErrorReason = nullStr(errorReason)
		v.ApprovalNotifiedAt = nullFloat(notifiedAt)
		v.PublishedAt = nullFloat(publishedAt)
		v.DeleteMP4At = nullFloat(deleteAt)
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate job views: %w", err)
	}
	return out, nil
}

// ListJobsDue returns PUBLISHED jobs whose delete_mp4_at has elapsed.
func (s *Store) ListJobsDue(ctx context.Context) ([]Job, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs
		 WHERE state = 'PUBLISHED' AND delete_mp4_at IS NOT NULL AND delete_mp4_at <= ?`,
		s.nowUnix(),
	)
	if err != nil {
		return nil, fmt.Errorf("list due jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan due job: %w", err)
		}
		out = append(out, *j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate due jobs: %w", err)
	}
	return out, nil
}

// ListJobsInStates returns the ids of jobs currently in any of the states.
func (s *Store) ListJobsInStates(ctx context.Context, states ...lifecycle.State) ([]int64, error) {
	if len(states) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimRight(strings.Repeat("?,", len(states)), ",")
	args := make([]any, 0, len(states))
	for _, st := range states {
		args = append(args, string(st))
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM jobs WHERE state IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs in states: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan job id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate job ids: %w", err)
	}
	return ids, nil
}
