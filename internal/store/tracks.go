package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Track job states. The secondary catalog queue is much simpler than the
// release pipeline and keeps its own small set.
const (
	// TrackJobPending means the channel is waiting for a catalog scan.
	TrackJobPending = "PENDING"
	// TrackJobRunning means a worker is scanning the channel.
	TrackJobRunning = "RUNNING"
	// TrackJobDone means the scan completed.
	TrackJobDone = "DONE"
	// TrackJobFailed means the scan failed terminally.
	TrackJobFailed = "FAILED"
)

// UpsertTrack records one discovered catalog track. Re-discovering the same
// (channel, track number, file name) triple is a no-op.
func (s *Store) UpsertTrack(ctx context.Context, t Track) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO tracks (channel_id, track_no, title, file_name, origin_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		t.ChannelID, t.TrackNo, t.Title, t.FileName, t.OriginID, s.nowUnix(),
	)
	if err != nil {
		return fmt.Errorf("upsert track: %w", err)
	}
	return nil
}

// ListTracks returns the discovered tracks of a channel ordered by number.
func (s *Store) ListTracks(ctx context.Context, channelID int64) ([]Track, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, channel_id, track_no, title, file_name, origin_id, created_at
		 FROM tracks WHERE channel_id = ? ORDER BY track_no`, channelID)
	if err != nil {
		return nil, fmt.Errorf("list tracks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Track
	for rows.Next() {
		var t Track
		if err := rows.Scan(&t.ID, &t.ChannelID, &t.TrackNo, &t.Title, &t.FileName, &t.OriginID, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan track: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tracks: %w", err)
	}
	return out, nil
}

// CreateTrackJob enqueues a catalog scan for a channel.
func (s *Store) CreateTrackJob(ctx context.Context, channelID int64, priority int) (int64, error) {
	now := s.nowUnix()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO track_jobs (channel_id, state, priority, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)`,
		channelID, TrackJobPending, priority, now, now,
	)
	if err != nil {
		return 0, fmt.Errorf("create track job: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("create track job id: %w", err)
	}
	return id, nil
}

// ClaimTrackJob takes one pending scan with the same single-claim protocol
// the release queue uses.
func (s *Store) ClaimTrackJob(ctx context.Context, workerID string, leaseTTL time.Duration) (*TrackJob, error) {
	now := s.nowUnix()
	expiry := now - leaseTTL.Seconds()

	var claimedID int64
	claimed := false

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`UPDATE track_jobs SET locked_by = NULL, locked_at = NULL
			 WHERE state = ? AND locked_by IS NOT NULL AND locked_at < ?`,
			TrackJobPending, expiry,
		); err != nil {
			return fmt.Errorf("release expired track leases: %w", err)
		}

		row := tx.QueryRowContext(ctx,
			`SELECT id FROM track_jobs
			 WHERE state = ? AND locked_by IS NULL
			   AND (retry_at IS NULL OR retry_at <= ?)
			 ORDER BY priority DESC, created_at ASC
			 LIMIT 1`,
			TrackJobPending, now,
		)
		var id int64
		if err := row.Scan(&id); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil
			}
			return fmt.Errorf("select claimable track job: %w", err)
		}

		res, err := tx.ExecContext(ctx,
			`UPDATE track_jobs SET locked_by = ?, locked_at = ?, state = ?, updated_at = ?
			 WHERE id = ? AND locked_by IS NULL`,
			workerID, now, TrackJobRunning, now, id,
		)
		if err != nil {
			return fmt.Errorf("acquire track lock: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("acquire track lock rows: %w", err)
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
	return s.getTrackJob(ctx, claimedID)
}

// FinishTrackJob concludes a scan as done or failed and clears the lock.
func (s *Store) FinishTrackJob(ctx context.Context, jobID int64, state, reason string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE track_jobs SET state = ?, error_reason = ?, locked_by = NULL, locked_at = NULL, updated_at = ?
		 WHERE id = ?`,
		state, sqlNullableStr(reason), s.nowUnix(), jobID,
	)
	if err != nil {
		return fmt.Errorf("finish track job: %w", err)
	}
	return nil
}

func (s *Store) getTrackJob(ctx context.Context, id int64) (*TrackJob, error) {
	var t TrackJob
	var lockedBy, errorReason sql.NullString
	var lockedAt, retryAt sql.NullFloat64

	row := s.db.QueryRowContext(ctx,
		`SELECT id, channel_id, state, priority, attempt, locked_by, locked_at, retry_at,
		        error_reason, created_at, updated_at
		 FROM track_jobs WHERE id = ?`, id)
	err := row.Scan(&t.ID, &t.ChannelID, &t.State, &t.Priority, &t.Attempt,
		&lockedBy, &lockedAt, &retryAt, &errorReason, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get track job: %w", err)
	}
	t.LockedBy = nullStr(lockedBy)
	t.LockedAt = nullFloat(lockedAt)
	t.RetryAt = nullFloat(retryAt)
	t.ErrorReason = nullStr(errorReason)
	return &t, nil
}

func sqlNullableStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}
