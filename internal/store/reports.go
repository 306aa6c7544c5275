package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// UpsertQAReport writes or replaces the QA report of a job.
func (s *Store) UpsertQAReport(ctx context.Context, r QAReport) error {
	warnings, err := json.Marshal(emptyIfNil(r.Warnings))
	if err != nil {
		return fmt.Errorf("marshal warnings: %w", err)
	}
	info, err := json.Marshal(emptyIfNil(r.Info))
	if err != nil {
		return fmt.Errorf("marshal info: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO qa_reports (job_id, hard_ok, warnings, info, width, height, fps,
		        video_codec, audio_codec, sample_rate, channels,
		        duration_expected, duration_actual, mean_volume_db, max_volume_db, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (job_id) DO UPDATE SET
		   hard_ok = excluded.hard_ok, warnings = excluded.warnings, info = excluded.info,
		   width = excluded.width, height = excluded.height, fps = excluded.fps,
		   video_codec = excluded.video_codec, audio_codec = excluded.audio_codec,
		   sample_rate = excluded.sample_rate, channels = excluded.channels,
		   duration_expected = excluded.duration_expected, duration_actual = excluded.duration_actual,
		   mean_volume_db = excluded.mean_volume_db, max_volume_db = excluded.max_volume_db,
		   created_at = excluded.created_at`,
		r.JobID, boolInt(r.HardOK), string(warnings), string(info),
		intArg(r.Width), intArg(r.Height), floatArg(r.FPS),
		strArg(r.VideoCodec), strArg(r.AudioCodec), intArg(r.SampleRate), intArg(r.Channels),
		floatArg(r.DurationExpected), floatArg(r.DurationActual),
		floatArg(r.MeanVolumeDB), floatArg(r.MaxVolumeDB), s.nowUnix(),
	)
	if err != nil {
		return fmt.Errorf("upsert qa report: %w", err)
	}
	return nil
}

// GetQAReport returns the QA report of a job, or ErrNotFound.
func (s *Store) GetQAReport(ctx context.Context, jobID int64) (*QAReport, error) {
	var r QAReport
	var hardOK int
	var warnings, info string
	var width, height, sampleRate, channels sql.NullInt64
	var fps, durExp, durAct, meanDB, maxDB sql.NullFloat64
	var vcodec, acodec sql.NullString

	row := s.db.QueryRowContext(ctx,
		`SELECT job_id, hard_ok, warnings, info, width, height, fps, video_codec, audio_codec,
		        sample_rate, channels, duration_expected, duration_actual,
		        mean_volume_db, max_volume_db, created_at
		 FROM qa_reports WHERE job_id = ?`, jobID)
	err := row.Scan(&r.JobID, &hardOK, &warnings, &info, &width, &height, &fps, &vcodec, &acodec,
		&sampleRate, &channels, &durExp, &durAct, &meanDB, &maxDB, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get qa report: %w", err)
	}

	r.HardOK = hardOK != 0
	if err := json.Unmarshal([]byte(warnings), &r.Warnings); err != nil {
		return nil, fmt.Errorf("unmarshal warnings: %w", err)
	}
	if err := json.Unmarshal([]byte(info), &r.Info); err != nil {
		return nil, fmt.Errorf("unmarshal info: %w", err)
	}
	r.Width = nullInt(width)
	r.Height = nullInt(height)
	r.FPS = nullFloat(fps)
	r.VideoCodec = nullStr(vcodec)
	r.AudioCodec = nullStr(acodec)
	r.SampleRate = nullInt(sampleRate)
	r.Channels = nullInt(channels)
	r.DurationExpected = nullFloat(durExp)
	r.DurationActual = nullFloat(durAct)
	r.MeanVolumeDB = nullFloat(meanDB)
	r.MaxVolumeDB = nullFloat(maxDB)
	return &r, nil
}

// SetUpload writes or replaces the upload record of a job.
func (s *Store) SetUpload(ctx context.Context, u Upload) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO uploads (job_id, video_id, url, edit_url, privacy, uploaded_at, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (job_id) DO UPDATE SET
		   video_id = excluded.video_id, url = excluded.url, edit_url = excluded.edit_url,
		   privacy = excluded.privacy, uploaded_at = excluded.uploaded_at, error = excluded.error`,
		u.JobID, u.VideoID, u.URL, u.EditURL, u.Privacy, floatArg(u.UploadedAt), strArg(u.Error),
	)
	if err != nil {
		return fmt.Errorf("set upload: %w", err)
	}
	return nil
}

// SetUploadError records an upload failure without clearing an existing
// video id.
func (s *Store) SetUploadError(ctx context.Context, jobID int64, msg string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO uploads (job_id, error) VALUES (?, ?)
		 ON CONFLICT (job_id) DO UPDATE SET error = excluded.error`,
		jobID, msg,
	)
	if err != nil {
		return fmt.Errorf("set upload error: %w", err)
	}
	return nil
}

// GetUpload returns the upload record of a job, or ErrNotFound.
func (s *Store) GetUpload(ctx context.Context, jobID int64) (*Upload, error) {
	var u Upload
	var uploadedAt sql.NullFloat64
	var uploadErr sql.NullString

	row := s.db.QueryRowContext(ctx,
		`SELECT job_id, video_id, url, edit_url, privacy, uploaded_at, error
		 FROM uploads WHERE job_id = ?`, jobID)
	err := row.Scan(&u.JobID, &u.VideoID, &u.URL, &u.EditURL, &u.Privacy, &uploadedAt, &uploadErr)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get upload: %w", err)
	}
	u.UploadedAt = nullFloat(uploadedAt)
	u.Error = nullStr(uploadErr)
	return &u, nil
}

func emptyIfNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}

func intArg(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullInt(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}
