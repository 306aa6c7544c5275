package store

import (
	"context"
	"fmt"
)

// AddApproval appends an audit row for a human decision on a job.
func (s *Store) AddApproval(ctx context.Context, jobID int64, action, comment string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO approvals (job_id, action, comment, created_at) VALUES (?, ?, ?, ?)`,
		jobID, action, comment, s.nowUnix(),
	)
	if err != nil {
		return fmt.Errorf("add approval: %w", err)
	}
	return nil
}

// ListApprovals returns the audit trail of one job, oldest first.
func (s *Store) ListApprovals(ctx context.Context, jobID int64) ([]Approval, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, job_id, action, comment, created_at
		 FROM approvals WHERE job_id = ? ORDER BY id ASC`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list approvals: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Approval
	for rows.Next() {
		var a Approval
		if err := rows.Scan(&a.ID, &a.JobID, &a.Action, &a.Comment, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan approval: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate approvals: %w", err)
	}
	return out, nil
}
