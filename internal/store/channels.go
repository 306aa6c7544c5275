package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// UpsertChannel inserts or updates a channel by slug and returns its id.
func (s *Store) UpsertChannel(ctx context.Context, ch Channel) (int64, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO channels (slug, display_name, render_profile, autopublish, youtube_channel_id)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (slug) DO UPDATE SET
		   display_name = excluded.display_name,
		   render_profile = excluded.render_profile,
		   autopublish = excluded.autopublish,
		   youtube_channel_id = excluded.youtube_channel_id`,
		ch.Slug, ch.DisplayName, ch.RenderProfile, boolInt(ch.Autopublish), strArg(ch.YouTubeChannelID),
	)
	if err != nil {
		return 0, fmt.Errorf("upsert channel %s: %w", ch.Slug, err)
	}
	got, err := s.GetChannelBySlug(ctx, ch.Slug)
	if err != nil {
		return 0, err
	}
	return got.ID, nil
}

// GetChannelBySlug returns one channel, or ErrNotFound.
func (s *Store) GetChannelBySlug(ctx context.Context, slug string) (*Channel, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, slug, display_name, render_profile, autopublish, youtube_channel_id
		 FROM channels WHERE slug = ?`, slug)
	return scanChannel(row)
}

// GetChannelByID returns one channel, or ErrNotFound.
func (s *Store) GetChannelByID(ctx context.Context, id int64) (*Channel, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, slug, display_name, render_profile, autopublish, youtube_channel_id
		 FROM channels WHERE id = ?`, id)
	return scanChannel(row)
}

// ListChannels returns all channels ordered by slug.
func (s *Store) ListChannels(ctx context.Context) ([]Channel, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, slug, display_name, render_profile, autopublish, youtube_channel_id
		 FROM channels ORDER BY slug`)
	if err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Channel
	for rows.Next() {
		ch, err := scanChannel(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *ch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate channels: %w", err)
	}
	return out, nil
}

func scanChannel(row interface{ Scan(...any) error }) (*Channel, error) {
	var ch Channel
	var autopublish int
	var ytID sql.NullString
	err := row.Scan(&ch.ID, &ch.Slug, &ch.DisplayName, &ch.RenderProfile, &autopublish, &ytID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan channel: %w", err)
	}
	ch.Autopublish = autopublish != 0
	ch.YouTubeChannelID = nullStr(ytID)
	return &ch, nil
}

// UpsertRenderProfile inserts or updates a render profile by name.
func (s *Store) UpsertRenderProfile(ctx context.Context, p RenderProfile) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO render_profiles (name, width, height, fps, video_codec, audio_rate, audio_channels, audio_codec)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (name) DO UPDATE SET
		   width = excluded.width, height = excluded.height, fps = excluded.fps,
		   video_codec = excluded.video_codec, audio_rate = excluded.audio_rate,
		   audio_channels = excluded.audio_channels, audio_codec = excluded.audio_codec`,
		p.Name, p.Width, p.Height, p.FPS, p.VideoCodec, p.AudioRate, p.AudioChannels, p.AudioCodec,
	)
	if err != nil {
		return fmt.Errorf("upsert render profile %s: %w", p.Name, err)
	}
	return nil
}

// GetRenderProfile returns one render profile, or ErrNotFound.
func (s *Store) GetRenderProfile(ctx context.Context, name string) (*RenderProfile, error) {
	var p RenderProfile
	row := s.db.QueryRowContext(ctx,
		`SELECT name, width, height, fps, video_codec, audio_rate, audio_channels, audio_codec
		 FROM render_profiles WHERE name = ?`, name)
	err := row.Scan(&p.Name, &p.Width, &p.Height, &p.FPS, &p.VideoCodec, &p.AudioRate, &p.AudioChannels, &p.AudioCodec)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get render profile: %w", err)
	}
	return &p, nil
}

// CreateRelease inserts a release and returns its id. The (channel, origin
// meta key) pair is unique, which makes importation idempotent; a duplicate
// insert fails with a constraint error the importer checks for with
// FindReleaseByMetaKey first.
func (s *Store) CreateRelease(ctx context.Context, r Release) (int64, error) {
	tags, err := json.Marshal(r.Tags)
	if err != nil {
		return 0, fmt.Errorf("marshal tags: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO releases (channel_id, title, description, tags, planned_at, origin_meta_key, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ChannelID, r.Title, r.Description, string(tags), floatArg(r.PlannedAt), r.OriginMetaKey, s.nowUnix(),
	)
	if err != nil {
		return 0, fmt.Errorf("create release: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("create release id: %w", err)
	}
	return id, nil
}

// FindReleaseByMetaKey returns the release imported under the given origin
// meta key for a channel, or ErrNotFound.
func (s *Store) FindReleaseByMetaKey(ctx context.Context, channelID int64, metaKey string) (*Release, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, channel_id, title, description, tags, planned_at, origin_meta_key, created_at
		 FROM releases WHERE channel_id = ? AND origin_meta_key = ?`,
		channelID, metaKey)
	return scanRelease(row)
}

// GetRelease returns one release by id, or ErrNotFound.
func (s *Store) GetRelease(ctx context.Context, id int64) (*Release, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, channel_id, title, description, tags, planned_at, origin_meta_key, created_at
		 FROM releases WHERE id = ?`, id)
	return scanRelease(row)
}

func scanRelease(row interface{ Scan(...any) error }) (*Release, error) {
	var r Release
	var tags string
	var plannedAt sql.NullFloat64
	err := row.Scan(&r.ID, &r.ChannelID, &r.Title, &r.Description, &tags, &plannedAt, &r.OriginMetaKey, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan release: %w", err)
	}
	if err := json.Unmarshal([]byte(tags), &r.Tags); err != nil {
		return nil, fmt.Errorf("unmarshal tags: %w", err)
	}
	r.PlannedAt = nullFloat(plannedAt)
	return &r, nil
}

// GetBundle loads a job together with its release, channel and render
// profile. Workers call this once per claim. A channel whose profile row is
// missing gets a zero Profile with only the name set.
func (s *Store) GetBundle(ctx context.Context, jobID int64) (*Bundle, error) {
	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	release, err := s.GetRelease(ctx, job.ReleaseID)
	if err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT id, slug, display_name, render_profile, autopublish, youtube_channel_id
		 FROM channels WHERE id = ?`, release.ChannelID)
	channel, err := scanChannel(row)
	if err != nil {
		return nil, err
	}
	profile, err := s.GetRenderProfile(ctx, channel.RenderProfile)
	if errors.Is(err, ErrNotFound) {
		profile = &RenderProfile{Name: channel.RenderProfile}
	} else if err != nil {
		return nil, err
	}
	return &Bundle{Job: *job, Release: *release, Channel: *channel, Profile: *profile}, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
