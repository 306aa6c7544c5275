package store

// schema is the full database layout. All timestamps are REAL unix seconds.
// Tags, warnings and info lists are stored as JSON text.
const schema = `
CREATE TABLE IF NOT EXISTS channels (
	id                 INTEGER PRIMARY KEY AUTOINCREMENT,
	slug               TEXT NOT NULL UNIQUE,
	display_name       TEXT NOT NULL,
	render_profile     TEXT NOT NULL DEFAULT 'default',
	autopublish        INTEGER NOT NULL DEFAULT 0,
	youtube_channel_id TEXT UNIQUE
);

CREATE TABLE IF NOT EXISTS render_profiles (
	name           TEXT PRIMARY KEY,
	width          INTEGER NOT NULL,
	height         INTEGER NOT NULL,
	fps            REAL NOT NULL,
	video_codec    TEXT NOT NULL,
	audio_rate     INTEGER NOT NULL,
	audio_channels INTEGER NOT NULL,
	audio_codec    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS releases (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	channel_id      INTEGER NOT NULL REFERENCES channels(id),
	title           TEXT NOT NULL,
	description     TEXT NOT NULL DEFAULT '',
	tags            TEXT NOT NULL DEFAULT '[]',
	planned_at      REAL,
	origin_meta_key TEXT NOT NULL,
	created_at      REAL NOT NULL,
	UNIQUE (channel_id, origin_meta_key)
);

CREATE TABLE IF NOT EXISTS assets (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	kind       TEXT NOT NULL,
	origin     TEXT NOT NULL DEFAULT '',
	origin_id  TEXT NOT NULL DEFAULT '',
	local_path TEXT NOT NULL DEFAULT '',
	created_at REAL NOT NULL
);

CREATE TABLE IF NOT EXISTS jobs (
	id                   INTEGER PRIMARY KEY AUTOINCREMENT,
	release_id           INTEGER NOT NULL REFERENCES releases(id),
	type                 TEXT NOT NULL DEFAULT 'RELEASE_RENDER',
	state                TEXT NOT NULL,
	stage                TEXT NOT NULL,
	priority             INTEGER NOT NULL DEFAULT 100,
	attempt              INTEGER NOT NULL DEFAULT 0,
	locked_by            TEXT,
	locked_at            REAL,
	retry_at             REAL,
	progress_pct         REAL,
	progress_text        TEXT,
	error_reason         TEXT,
	approval_notified_at REAL,
	published_at         REAL,
	delete_mp4_at        REAL,
	created_at           REAL NOT NULL,
	updated_at           REAL NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_jobs_claim ON jobs (state, locked_by, retry_at, priority, created_at);

CREATE TABLE IF NOT EXISTS job_inputs (
	job_id    INTEGER NOT NULL REFERENCES jobs(id),
	asset_id  INTEGER NOT NULL REFERENCES assets(id),
	role      TEXT NOT NULL,
	order_idx INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (job_id, asset_id, role)
);

CREATE TABLE IF NOT EXISTS job_outputs (
	job_id   INTEGER NOT NULL REFERENCES jobs(id),
	asset_id INTEGER NOT NULL REFERENCES assets(id),
	role     TEXT NOT NULL,
	PRIMARY KEY (job_id, asset_id, role)
);

CREATE TABLE IF NOT EXISTS qa_reports (
	job_id            INTEGER PRIMARY KEY REFERENCES jobs(id),
	hard_ok           INTEGER NOT NULL,
	warnings          TEXT NOT NULL DEFAULT '[]',
	info              TEXT NOT NULL DEFAULT '[]',
	width             INTEGER,
	height            INTEGER,
	fps               REAL,
	video_codec       TEXT,
	audio_codec       TEXT,
	sample_rate       INTEGER,
	channels          INTEGER,
	duration_expected REAL,
	duration_actual   REAL,
	mean_volume_db    REAL,
	max_volume_db     REAL,
	created_at        REAL NOT NULL
);

CREATE TABLE IF NOT EXISTS uploads (
	job_id      INTEGER PRIMARY KEY REFERENCES jobs(id),
	video_id    TEXT NOT NULL DEFAULT '',
	url         TEXT NOT NULL DEFAULT '',
	edit_url    TEXT NOT NULL DEFAULT '',
	privacy     TEXT NOT NULL DEFAULT '',
	uploaded_at REAL,
	error       TEXT
);

CREATE TABLE IF NOT EXISTS approvals (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	job_id     INTEGER NOT NULL REFERENCES jobs(id),
	action     TEXT NOT NULL,
	comment    TEXT NOT NULL DEFAULT '',
	created_at REAL NOT NULL
);

CREATE TABLE IF NOT EXISTS drafts (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	channel_slug    TEXT NOT NULL,
	title           TEXT NOT NULL,
	tags_csv        TEXT NOT NULL DEFAULT '',
	background_name TEXT NOT NULL DEFAULT '',
	background_ext  TEXT NOT NULL DEFAULT '',
	cover_name      TEXT NOT NULL DEFAULT '',
	cover_ext       TEXT NOT NULL DEFAULT '',
	audio_ids       TEXT NOT NULL DEFAULT '',
	job_id          INTEGER REFERENCES jobs(id),
	created_at      REAL NOT NULL,
	updated_at      REAL NOT NULL
);

CREATE TABLE IF NOT EXISTS worker_heartbeats (
	worker_id TEXT PRIMARY KEY,
	role      TEXT NOT NULL,
	pid       INTEGER NOT NULL,
	hostname  TEXT NOT NULL,
	last_seen REAL NOT NULL,
	detail    TEXT NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS tracks (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	channel_id INTEGER NOT NULL REFERENCES channels(id),
	track_no   TEXT NOT NULL,
	title      TEXT NOT NULL,
	file_name  TEXT NOT NULL,
	origin_id  TEXT NOT NULL DEFAULT '',
	created_at REAL NOT NULL,
	UNIQUE (channel_id, track_no, file_name)
);

CREATE TABLE IF NOT EXISTS track_jobs (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	channel_id   INTEGER NOT NULL REFERENCES channels(id),
	state        TEXT NOT NULL,
	priority     INTEGER NOT NULL DEFAULT 100,
	attempt      INTEGER NOT NULL DEFAULT 0,
	locked_by    TEXT,
	locked_at    REAL,
	retry_at     REAL,
	error_reason TEXT,
	created_at   REAL NOT NULL,
	updated_at   REAL NOT NULL
);
`
