package db

import (
	"fmt"
	"time"
)

// Recording is one cast file tracked by the index. Unfinished rows
// belong to sessions that are still running (or crashed mid-write).
type Recording struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"session_id"`
	SessionName string    `json:"session_name"`
	Path        string    `json:"path"`
	Width       int       `json:"width"`
	Height      int       `json:"height"`
	StartedAt   time.Time `json:"started_at"`
	Duration    float64   `json:"duration_seconds"`
	Finished    bool      `json:"finished"`
}

func nowUTC() time.Time {
	return time.Now().UTC()
}

func formatTimestamp(ts time.Time) string {
	if ts.IsZero() {
		ts = nowUTC()
	}
	return ts.UTC().Format(time.RFC3339)
}

func parseTimestamp(v string) (time.Time, error) {
	ts, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse timestamp %q: %w", v, err)
	}
	return ts, nil
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
