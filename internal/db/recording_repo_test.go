package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func newTestRepo(t *testing.T) *RecordingRepo {
	t.Helper()

	ctx := context.Background()
	database, err := Open(ctx, filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return NewRecordingRepo(database.SQL())
}

func sampleRecording(id string) *Recording {
	return &Recording{
		ID:          id,
		SessionID:   "sess-" + id,
		SessionName: "name-" + id,
		Path:        "/tmp/" + id + ".cast",
		Width:       80,
		Height:      24,
		StartedAt:   time.Now().UTC().Truncate(time.Second),
	}
}

func TestRecordingInsertGet(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	rec := sampleRecording("r1")
	if err := repo.Insert(ctx, rec); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	got, err := repo.Get(ctx, "r1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got == nil {
		t.Fatal("Get returned nil for existing recording")
	}
	if got.SessionID != rec.SessionID || got.Path != rec.Path {
		t.Errorf("unexpected recording %+v", got)
	}
	if got.Finished {
		t.Error("new recording should not be finished")
	}
	if !got.StartedAt.Equal(rec.StartedAt) {
		t.Errorf("StartedAt = %v, want %v", got.StartedAt, rec.StartedAt)
	}
}

func TestRecordingGetMissing(t *testing.T) {
	repo := newTestRepo(t)

	got, err := repo.Get(context.Background(), "missing")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for missing recording, got %+v", got)
	}
}

func TestRecordingInsertRequiresID(t *testing.T) {
	repo := newTestRepo(t)

	if err := repo.Insert(context.Background(), &Recording{}); err == nil {
		t.Error("expected error for missing id")
	}
}

func TestRecordingFinish(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	if err := repo.Insert(ctx, sampleRecording("r1")); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := repo.Finish(ctx, "r1", 12.5); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	got, err := repo.Get(ctx, "r1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !got.Finished || got.Duration != 12.5 {
		t.Errorf("expected finished with duration 12.5, got %+v", got)
	}

	if err := repo.Finish(ctx, "missing", 1); err == nil {
		t.Error("expected error finishing unknown recording")
	}
}

func TestRecordingListOrdersNewestFirst(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	older := sampleRecording("old")
	older.StartedAt = time.Now().UTC().Add(-time.Hour).Truncate(time.Second)
	newer := sampleRecording("new")

	if err := repo.Insert(ctx, older); err != nil {
		t.Fatalf("Insert older: %v", err)
	}
	if err := repo.Insert(ctx, newer); err != nil {
		t.Fatalf("Insert newer: %v", err)
	}

	recs, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 recordings, got %d", len(recs))
	}
	if recs[0].ID != "new" || recs[1].ID != "old" {
		t.Errorf("expected newest first, got %q then %q", recs[0].ID, recs[1].ID)
	}
}
