// Package retention deletes stored audio past its retention window. Sweeps
// are best effort: a blob that fails to delete is logged and retried on the
// next sweep, never blocking the rest of the pass.
package retention

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aserkali/tilmash/internal/storage"
	"github.com/aserkali/tilmash/internal/store"
)

// Report summarizes one sweep pass.
type Report struct {
	TurnsSwept   int
	RecordsSwept int
	BlobsDeleted int
	Failures     int
}

// Sweeper removes expired audio from turns and comparison records.
type Sweeper struct {
	turns   store.TurnStore
	records store.SpeechRecordStore
	blobs   storage.Store
	log     *slog.Logger
	now     func() time.Time

	maxAge   time.Duration
	interval time.Duration
}

// New returns a sweeper deleting audio older than maxAge, sweeping every
// interval when run in the background.
func New(turns store.TurnStore, records store.SpeechRecordStore, blobs storage.Store, maxAge, interval time.Duration, log *slog.Logger) *Sweeper {
	return &Sweeper{
		turns:    turns,
		records:  records,
		blobs:    blobs,
		log:      log,
		now:      time.Now,
		maxAge:   maxAge,
		interval: interval,
	}
}

// Run sweeps on the configured interval until the context is cancelled. An
// initial sweep runs immediately.
func (s *Sweeper) Run(ctx context.Context) {
	s.sweepAndLog(ctx)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepAndLog(ctx)
		}
	}
}

func (s *Sweeper) sweepAndLog(ctx context.Context) {
	report, err := s.SweepOnce(ctx)
	if err != nil {
		s.log.Error("retention sweep failed", "error", err)
		return
	}
	s.log.Info("retention sweep finished",
		"turns", report.TurnsSwept,
		"records", report.RecordsSwept,
		"blobs_deleted", report.BlobsDeleted,
		"failures", report.Failures)
}

// SweepOnce runs a single pass: audio of turns and comparison records
// created before now-maxAge is deleted and the stored keys cleared. Delete
// failures are counted, logged and left for the next sweep.
func (s *Sweeper) SweepOnce(ctx context.Context) (*Report, error) {
	cutoff := s.now().Add(-s.maxAge)
	report := &Report{}

	turns, err := s.turns.ListTurnsWithAudioBefore(ctx, cutoff)
	if err != nil {
		return nil, fmt.Errorf("retention: list expired turns: %w", err)
	}
	for _, turn := range turns {
		cleared := false
		if turn.AudioInputKey != "" && s.deleteBlob(ctx, turn.AudioInputKey, report) {
			turn.AudioInputKey = ""
			cleared = true
		}
		if turn.AudioOutputKey != "" && s.deleteBlob(ctx, turn.AudioOutputKey, report) {
			turn.AudioOutputKey = ""
			cleared = true
		}
		if !cleared {
			continue
		}
		if err := s.turns.UpdateTurn(ctx, turn); err != nil {
			report.Failures++
			s.log.Warn("clear turn audio keys failed", "turn_id", turn.ID, "error", err)
			continue
		}
		report.TurnsSwept++
	}

	records, err := s.records.ListSpeechRecordsBefore(ctx, cutoff)
	if err != nil {
		return nil, fmt.Errorf("retention: list expired records: %w", err)
	}
	for _, record := range records {
		if record.AudioKey == "" {
			continue
		}
		if !s.deleteBlob(ctx, record.AudioKey, report) {
			continue
		}
		record.AudioKey = ""
		if err := s.records.UpdateSpeechRecord(ctx, record); err != nil {
			report.Failures++
			s.log.Warn("clear record audio key failed", "record_id", record.ID, "error", err)
			continue
		}
		report.RecordsSwept++
	}

	return report, nil
}

// deleteBlob removes one object, treating an already missing blob as
// deleted. Returns whether the stored key may be cleared.
func (s *Sweeper) deleteBlob(ctx context.Context, key string, report *Report) bool {
	err := s.blobs.Delete(ctx, key)
	switch {
	case err == nil:
		report.BlobsDeleted++
		return true
	case errors.Is(err, storage.ErrNotFound):
		return true
	default:
		report.Failures++
		s.log.Warn("delete expired audio failed", "key", key, "error", err)
		return false
	}
}

// StorageStats reports the blob store's current contents.
func (s *Sweeper) StorageStats(ctx context.Context) (storage.Stats, error) {
	return s.blobs.Stats(ctx)
}
