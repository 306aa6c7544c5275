package storage

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// AppendJobLog appends one timestamped line to the per-job log file. Render
// output and worker decisions accumulate here and survive terminal states.
func (l *Layout) AppendJobLog(jobID int64, line string) error {
	f, err := os.OpenFile(l.JobLogPath(jobID), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600) // #nosec G304 - path is derived from the storage root
	if err != nil {
		return fmt.Errorf("open job log: %w", err)
	}
	defer func() { _ = f.Close() }()

	ts := time.Now().UTC().Format(time.RFC3339)
	if _, err := fmt.Fprintf(f, "%s %s\n", ts, strings.TrimRight(line, "\n")); err != nil {
		return fmt.Errorf("append job log: %w", err)
	}
	return nil
}

// TailJobLog returns the last n lines of the per-job log. A missing log file
// yields an empty slice.
func (l *Layout) TailJobLog(jobID int64, n int) ([]string, error) {
	data, err := os.ReadFile(l.JobLogPath(jobID)) // #nosec G304 - path is derived from the storage root
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read job log: %w", err)
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) == 1 && lines[0] == "" {
		return nil, nil
	}
	if n > 0 && len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines, nil
}
