package db

import (
	"context"
	"database/sql"
	"fmt"
)

type RecordingRepo struct {
	db *sql.DB
}

func NewRecordingRepo(db *sql.DB) *RecordingRepo {
	return &RecordingRepo{db: db}
}

func (r *RecordingRepo) Insert(ctx context.Context, rec *Recording) error {
	if rec.ID == "" {
		return fmt.Errorf("recording id is required")
	}
	if rec.StartedAt.IsZero() {
		rec.StartedAt = nowUTC()
	}

	_, err := r.db.ExecContext(ctx, `
INSERT INTO recordings (id, session_id, session_name, path, width, height, started_at, duration_seconds, finished)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
`, rec.ID, rec.SessionID, rec.SessionName, rec.Path, rec.Width, rec.Height, formatTimestamp(rec.StartedAt), rec.Duration, boolToInt(rec.Finished))
	if err != nil {
		return fmt.Errorf("failed to insert recording: %w", err)
	}
	return nil
}

func (r *RecordingRepo) Finish(ctx context.Context, id string, duration float64) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE recordings SET duration_seconds = ?, finished = 1 WHERE id = ?
`, duration, id)
	if err != nil {
		return fmt.Errorf("failed to finish recording %q: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to finish recording %q: %w", id, err)
	}
	if affected == 0 {
		return fmt.Errorf("recording %q not found", id)
	}
	return nil
}

func (r *RecordingRepo) Get(ctx context.Context, id string) (*Recording, error) {
	var rec Recording
	var startedAtRaw string
	var finishedInt int

	err := r.db.QueryRowContext(ctx, `
SELECT id, session_id, session_name, path, width, height, started_at, duration_seconds, finished
FROM recordings
WHERE id = ?
`, id).Scan(&rec.ID, &rec.SessionID, &rec.SessionName, &rec.Path, &rec.Width, &rec.Height, &startedAtRaw, &rec.Duration, &finishedInt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get recording %q: %w", id, err)
	}

	rec.Finished = finishedInt != 0
	rec.StartedAt, err = parseTimestamp(startedAtRaw)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *RecordingRepo) List(ctx context.Context) ([]*Recording, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, session_id, session_name, path, width, height, started_at, duration_seconds, finished
FROM recordings
ORDER BY started_at DESC
`)
	if err != nil {
		return nil, fmt.Errorf("failed to list recordings: %w", err)
	}
	defer rows.Close()

	var recs []*Recording
	for rows.Next() {
		var rec Recording
		var startedAtRaw string
		var finishedInt int
		if err := rows.Scan(&rec.ID, &rec.SessionID, &rec.SessionName, &rec.Path, &rec.Width, &rec.Height, &startedAtRaw, &rec.Duration, &finishedInt); err != nil {
			return nil, fmt.Errorf("failed to scan recording: %w", err)
		}
		rec.Finished = finishedInt != 0
		rec.StartedAt, err = parseTimestamp(startedAtRaw)
		if err != nil {
			return nil, err
		}
		recs = append(recs, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate recordings: %w", err)
	}
	return recs, nil
}
