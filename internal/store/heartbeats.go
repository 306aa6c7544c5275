package store

import (
	"context"
	"fmt"
)

// TouchWorker upserts a worker's heartbeat row. Called once per cycle so
// dashboards can tell live workers from dead ones.
func (s *Store) TouchWorker(ctx context.Context, hb Heartbeat) error {
	detail := hb.Detail
	if detail == "" {
		detail = "{}"
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO worker_heartbeats (worker_id, role, pid, hostname, last_seen, detail)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (worker_id) DO UPDATE SET
		   role = excluded.role, pid = excluded.pid, hostname = excluded.hostname,
		   last_seen = excluded.last_seen, detail = excluded.detail`,
		hb.WorkerID, hb.Role, hb.PID, hb.Hostname, s.nowUnix(), detail,
	)
	if err != nil {
		return fmt.Errorf("touch worker: %w", err)
	}
	return nil
}

// ListWorkers returns all heartbeat rows, most recently seen first.
func (s *Store) ListWorkers(ctx context.Context) ([]Heartbeat, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT worker_id, role, pid, hostname, last_seen, detail
		 FROM worker_heartbeats ORDER BY last_seen DESC`)
	if err != nil {
		return nil, fmt.Errorf("list workers: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Heartbeat
	for rows.Next() {
		var hb Heartbeat
		if err := rows.Scan(&hb.WorkerID, &hb.Role, &hb.PID, &hb.Hostname, &hb.LastSeen, &hb.Detail); err != nil {
			return nil, fmt.Errorf("scan heartbeat: %w", err)
		}
		out = append(out, hb)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate heartbeats: %w", err)
	}
	return out, nil
}
