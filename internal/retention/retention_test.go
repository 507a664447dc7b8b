package retention_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/aserkali/tilmash/internal/retention"
	"github.com/aserkali/tilmash/internal/storage"
	"github.com/aserkali/tilmash/internal/store"
)

// flakyBlobs fails deletes for the configured keys.
type flakyBlobs struct {
	storage.Store
	failing map[string]bool
}

func (f *flakyBlobs) Delete(ctx context.Context, key string) error {
	if f.failing[key] {
		return errors.New("transient storage failure")
	}
	return f.Store.Delete(ctx, key)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSweepDeletesExpiredAudio(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	mem := store.NewMemStore()
	blobs := storage.NewMem()

	old := time.Now().Add(-48 * time.Hour)
	expired := &store.Turn{
		SessionID:      "s1",
		TurnNumber:     1,
		CreatedAt:      old,
		AudioInputKey:  "sessions/s1/turns/1/input.wav",
		AudioOutputKey: "sessions/s1/turns/1/output.mp3",
	}
	fresh := &store.Turn{
		SessionID:     "s1",
		TurnNumber:    2,
		CreatedAt:     time.Now(),
		AudioInputKey: "sessions/s1/turns/2/input.wav",
	}
	for _, turn := range []*store.Turn{expired, fresh} {
		if err := mem.AddTurn(ctx, turn); err != nil {
			t.Fatalf("AddTurn: %v", err)
		}
	}
	record := &store.SpeechRecord{UserID: "u1", AudioKey: "comparisons/r1/audio.wav", CreatedAt: old}
	if err := mem.AddSpeechRecord(ctx, record); err != nil {
		t.Fatalf("AddSpeechRecord: %v", err)
	}
	for _, key := range []string{expired.AudioInputKey, expired.AudioOutputKey, fresh.AudioInputKey, record.AudioKey} {
		if err := blobs.Upload(ctx, key, []byte("audio")); err != nil {
			t.Fatalf("Upload(%s): %v", key, err)
		}
	}

	s := retention.New(mem, mem, blobs, 24*time.Hour, time.Hour, discardLogger())
	report, err := s.SweepOnce(ctx)
	if err != nil {
		t.Fatalf("SweepOnce: %v", err)
	}
	if report.TurnsSwept != 1 || report.RecordsSwept != 1 || report.BlobsDeleted != 3 || report.Failures != 0 {
		t.Errorf("report = %+v", report)
	}

	gotTurn, err := mem.GetTurn(ctx, expired.ID)
	if err != nil {
		t.Fatalf("GetTurn: %v", err)
	}
	if gotTurn.AudioInputKey != "" || gotTurn.AudioOutputKey != "" {
		t.Errorf("expired turn keys not cleared: %+v", gotTurn)
	}
	gotRecord, err := mem.GetSpeechRecord(ctx, record.ID)
	if err != nil {
		t.Fatalf("GetSpeechRecord: %v", err)
	}
	if gotRecord.AudioKey != "" {
		t.Errorf("expired record key not cleared: %q", gotRecord.AudioKey)
	}

	// Fresh audio untouched.
	if _, err := blobs.Download(ctx, fresh.AudioInputKey); err != nil {
		t.Errorf("fresh audio deleted: %v", err)
	}

	st, err := s.StorageStats(ctx)
	if err != nil {
		t.Fatalf("StorageStats: %v", err)
	}
	if st.Objects != 1 {
		t.Errorf("Objects = %d, want 1", st.Objects)
	}
}

func TestSweepSkipsFailedDeletes(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	mem := store.NewMemStore()
	inner := storage.NewMem()
	blobs := &flakyBlobs{Store: inner, failing: map[string]bool{"sessions/s1/turns/1/input.wav": true}}

	old := time.Now().Add(-48 * time.Hour)
	stuck := &store.Turn{SessionID: "s1", TurnNumber: 1, CreatedAt: old, AudioInputKey: "sessions/s1/turns/1/input.wav"}
	fine := &store.Turn{SessionID: "s1", TurnNumber: 2, CreatedAt: old, AudioInputKey: "sessions/s1/turns/2/input.wav"}
	for _, turn := range []*store.Turn{stuck, fine} {
		if err := mem.AddTurn(ctx, turn); err != nil {
			t.Fatalf("AddTurn: %v", err)
		}
		if err := inner.Upload(ctx, turn.AudioInputKey, []byte("audio")); err != nil {
			t.Fatalf("Upload: %v", err)
		}
	}

	s := retention.New(mem, mem, blobs, 24*time.Hour, time.Hour, discardLogger())
	report, err := s.SweepOnce(ctx)
	if err != nil {
		t.Fatalf("SweepOnce: %v", err)
	}
	if report.TurnsSwept != 1 || report.Failures != 1 {
		t.Errorf("report = %+v", report)
	}

	// The failed turn keeps its key for the next sweep.
	gotStuck, err := mem.GetTurn(ctx, stuck.ID)
	if err != nil {
		t.Fatalf("GetTurn: %v", err)
	}
	if gotStuck.AudioInputKey == "" {
		t.Error("failed delete cleared the key anyway")
	}
}

func TestSweepTreatsMissingBlobAsDeleted(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	mem := store.NewMemStore()
	blobs := storage.NewMem()

	turn := &store.Turn{
		SessionID:     "s1",
		TurnNumber:    1,
		CreatedAt:     time.Now().Add(-48 * time.Hour),
		AudioInputKey: "sessions/s1/turns/1/input.wav",
	}
	if err := mem.AddTurn(ctx, turn); err != nil {
		t.Fatalf("AddTurn: %v", err)
	}

	s := retention.New(mem, mem, blobs, 24*time.Hour, time.Hour, discardLogger())
	report, err := s.SweepOnce(ctx)
	if err != nil {
		t.Fatalf("SweepOnce: %v", err)
	}
	if report.TurnsSwept != 1 || report.Failures != 0 {
		t.Errorf("report = %+v", report)
	}
	got, err := mem.GetTurn(ctx, turn.ID)
	if err != nil {
		t.Fatalf("GetTurn: %v", err)
	}
	if got.AudioInputKey != "" {
		t.Error("missing blob's key not cleared")
	}
}
