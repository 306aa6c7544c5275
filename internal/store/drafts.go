package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/castwave/release-factory/internal/lifecycle"
)

// CreateDraft inserts a user-composed draft and returns its id.
func (s *Store) CreateDraft(ctx context.Context, d Draft) (int64, error) {
	now := s.nowUnix()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO drafts (channel_slug, title, tags_csv, background_name, background_ext,
		        cover_name, cover_ext, audio_ids, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ChannelSlug, d.Title, d.TagsCSV, d.BackgroundName, d.BackgroundExt,
		d.CoverName, d.CoverExt, d.AudioIDs, now, now,
	)
	if err != nil {
		return 0, fmt.Errorf("create draft: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("create draft id: %w", err)
	}
	return id, nil
}

// UpdateDraft rewrites the editable fields of a draft.
func (s *Store) UpdateDraft(ctx context.Context, d Draft) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE drafts SET title = ?, tags_csv = ?, background_name = ?, background_ext = ?,
		        cover_name = ?, cover_ext = ?, audio_ids = ?, updated_at = ?
		 WHERE id = ?`,
		d.Title, d.TagsCSV, d.BackgroundName, d.BackgroundExt,
		d.CoverName, d.CoverExt, d.AudioIDs, s.nowUnix(), d.ID,
	)
	if err != nil {
		return fmt.Errorf("update draft: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update draft rows: %w", err)
	}
	if n != 1 {
		return ErrNotFound
	}
	return nil
}

// BindDraftJob records the job a submitted draft was promoted into.
func (s *Store) BindDraftJob(ctx context.Context, draftID, jobID int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE drafts SET job_id = ?, updated_at = ? WHERE id = ?`,
		jobID, s.nowUnix(), draftID,
	)
	if err != nil {
		return fmt.Errorf("bind draft job: %w", err)
	}
	return nil
}

// MaterializeDraft turns a validated draft into its release, job and input
// links in a single transaction, leaving the job in READY_FOR_RENDER and the
// draft bound to it. A crash mid-way rolls everything back, so no job ever
// carries a partial link set.
func (s *Store) MaterializeDraft(ctx context.Context, rel Release, draftID int64, inputs []DraftInput, priority int) (int64, error) {
	tags, err := json.Marshal(rel.Tags)
	if err != nil {
		return 0, fmt.Errorf("marshal tags: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("materialize draft: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := s.nowUnix()
	res, err := tx.ExecContext(ctx,
		`INSERT INTO releases (channel_id, title, description, tags, planned_at, origin_meta_key, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rel.ChannelID, rel.Title, rel.Description, string(tags), floatArg(rel.PlannedAt), rel.OriginMetaKey, now,
	)
	if err != nil {
		return 0, fmt.Errorf("materialize draft: release: %w", err)
	}
	releaseID, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("materialize draft: release id: %w", err)
	}

	state := lifecycle.StateReadyForRender
	res, err = tx.ExecContext(ctx,
		`INSERT INTO jobs (release_id, state, stage, priority, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		releaseID, string(state), string(lifecycle.StageFor(state)), priority, now, now,
	)
	if err != nil {
		return 0, fmt.Errorf("materialize draft: job: %w", err)
	}
	jobID, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("materialize draft: job id: %w", err)
	}

	for _, in := range inputs {
		assetID, err := ensureAssetTx(ctx, tx, in.Asset, now)
		if err != nil {
			return 0, fmt.Errorf("materialize draft: asset: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO job_inputs (job_id, asset_id, role, order_idx)
			 VALUES (?, ?, ?, ?)`,
			jobID, assetID, in.Role, in.OrderIdx,
		); err != nil {
			return 0, fmt.Errorf("materialize draft: link input: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE drafts SET job_id = ?, updated_at = ? WHERE id = ?`,
		jobID, now, draftID,
	); err != nil {
		return 0, fmt.Errorf("materialize draft: bind: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("materialize draft: commit: %w", err)
	}
	return jobID, nil
}

// ensureAssetTx is EnsureAsset inside an open transaction.
func ensureAssetTx(ctx context.Context, tx *sql.Tx, a Asset, now float64) (int64, error) {
	var id int64
	err := tx.QueryRowContext(ctx,
		`SELECT id FROM assets WHERE kind = ? AND origin = ? AND origin_id = ?`,
		string(a.Kind), a.Origin, a.OriginID,
	).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return 0, err
	}
	res, err := tx.ExecContext(ctx,
		`INSERT INTO assets (kind, origin, origin_id, local_path, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		string(a.Kind), a.Origin, a.OriginID, a.LocalPath, now,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// GetDraft returns one draft, or ErrNotFound.
func (s *Store) GetDraft(ctx context.Context, id int64) (*Draft, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, channel_slug, title, tags_csv, background_name, background_ext,
		        cover_name, cover_ext, audio_ids, job_id, created_at, updated_at
		 FROM drafts WHERE id = ?`, id)
	return scanDraft(row)
}

// ListDrafts returns drafts for a channel (every channel when slug is empty),
// newest first. Submitted drafts keep their row; JobID tells them apart.
func (s *Store) ListDrafts(ctx context.Context, channelSlug string) ([]Draft, error) {
	query := `SELECT id, channel_slug, title, tags_csv, background_name, background_ext,
		cover_name, cover_ext, audio_ids, job_id, created_at, updated_at FROM drafts`
	args := []any{}
	if channelSlug != "" {
		query += ` WHERE channel_slug = ?`
		args = append(args, channelSlug)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list drafts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Draft
	for rows.Next() {
		d, err := scanDraft(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate drafts: %w", err)
	}
	return out, nil
}

func scanDraft(row interface{ Scan(...any) error }) (*Draft, error) {
	var d Draft
	var jobID sql.NullInt64
	err := row.Scan(&d.ID, &d.ChannelSlug, &d.Title, &d.TagsCSV, &d.BackgroundName, &d.BackgroundExt,
		&d.CoverName, &d.CoverExt, &d.AudioIDs, &jobID, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan draft: %w", err)
	}
	if jobID.Valid {
		id := jobID.Int64
		d.JobID = &id
	}
	return &d, nil
}
