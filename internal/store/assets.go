package store

import (
	"context"
	"database/sql"
	"fmt"
)

// CreateAsset inserts an asset row and returns its id.
func (s *Store) CreateAsset(ctx context.Context, a Asset) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO assets (kind, origin, origin_id, local_path, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		string(a.Kind), a.Origin, a.OriginID, a.LocalPath, s.nowUnix(),
	)
	if err != nil {
		return 0, fmt.Errorf("create asset: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("create asset id: %w", err)
	}
	return id, nil
}

// EnsureAsset returns the id of the asset with the same kind, origin and
// origin id, creating it when absent. Import re-scans reuse rows instead of
// duplicating them.
func (s *Store) EnsureAsset(ctx context.Context, a Asset) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM assets WHERE kind = ? AND origin = ? AND origin_id = ?`,
		string(a.Kind), a.Origin, a.OriginID,
	).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return 0, fmt.Errorf("ensure asset: %w", err)
	}
	return s.CreateAsset(ctx, a)
}

// LinkJobInput attaches an asset to a job under a role. Re-linking the same
// triple is a no-op, so repeated import runs never duplicate inputs.
func (s *Store) LinkJobInput(ctx context.Context, jobID, assetID int64, role string, orderIdx int) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO job_inputs (job_id, asset_id, role, order_idx)
		 VALUES (?, ?, ?, ?)`,
		jobID, assetID, role, orderIdx,
	)
	if err != nil {
		return fmt.Errorf("link job input: %w", err)
	}
	return nil
}

// LinkJobOutput attaches an output asset to a job under a role.
func (s *Store) LinkJobOutput(ctx context.Context, jobID, assetID int64, role string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO job_outputs (job_id, asset_id, role)
		 VALUES (?, ?, ?)`,
		jobID, assetID, role,
	)
	if err != nil {
		return fmt.Errorf("link job output: %w", err)
	}
	return nil
}

// ListJobInputs returns the job's input links with their assets, TRACK links
// ordered by index.
func (s *Store) ListJobInputs(ctx context.Context, jobID int64) ([]JobInput, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT i.role, i.order_idx, a.id, a.kind, a.origin, a.origin_id, a.local_path, a.created_at
		 FROM job_inputs i JOIN assets a ON a.id = i.asset_id
		 WHERE i.job_id = ?
		 ORDER BY i.role, i.order_idx`,
		jobID,
	)
	if err != nil {
		return nil, fmt.Errorf("list job inputs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []JobInput
	for rows.Next() {
		var in JobInput
		var kind string
		if err := rows.Scan(&in.Role, &in.OrderIdx, &in.Asset.ID, &kind, &in.Asset.Origin, &in.Asset.OriginID, &in.Asset.LocalPath, &in.Asset.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan job input: %w", err)
		}
		in.Asset.Kind = AssetKind(kind)
		out = append(out, in)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate job inputs: %w", err)
	}
	return out, nil
}

// ListJobOutputs returns the job's output links with their assets.
func (s *Store) ListJobOutputs(ctx context.Context, jobID int64) ([]JobOutput, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT o.role, a.id, a.kind, a.origin, a.origin_id, a.local_path, a.created_at
		 FROM job_outputs o JOIN assets a ON a.id = o.asset_id
		 WHERE o.job_id = ?
		 ORDER BY o.role`,
		jobID,
	)
	if err != nil {
		return nil, fmt.Errorf("list job outputs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []JobOutput
	for rows.Next() {
		var o JobOutput
		var kind string
		if err := rows.Scan(&o.Role, &o.Asset.ID, &kind, &o.Asset.Origin, &o.Asset.OriginID, &o.Asset.LocalPath, &o.Asset.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan job output: %w", err)
		}
		o.Asset.Kind = AssetKind(kind)
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate job outputs: %w", err)
	}
	return out, nil
}
