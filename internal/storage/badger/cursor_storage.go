package badger

import (
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"
)

// CursorRecord persists one source's lastSyncTime watermark so incremental
// sources survive restarts without reprocessing their whole history.
type CursorRecord struct {
	SourceID     string `badgerhold:"key"`
	LastSyncTime time.Time
	UpdatedAt    time.Time
}

// CursorStorage implements interfaces.CursorStore over badgerhold.
type CursorStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewCursorStorage creates a cursor store backed by the database.
func NewCursorStorage(db *BadgerDB, logger arbor.ILogger) *CursorStorage {
	return &CursorStorage{
		db:     db,
		logger: logger,
	}
}

// GetCursor returns the stored watermark for a source. A missing record is
// not an error; ok is false.
func (s *CursorStorage) GetCursor(sourceID string) (time.Time, bool, error) {
	var record CursorRecord
	err := s.db.Store().Get(sourceID, &record)
	if err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("failed to read cursor for source %s: %w", sourceID, err)
	}
	return record.LastSyncTime, true, nil
}

// SetCursor stores the watermark for a source, replacing any prior value.
func (s *CursorStorage) SetCursor(sourceID string, t time.Time) error {
	record := CursorRecord{
		SourceID:     sourceID,
		LastSyncTime: t,
		UpdatedAt:    time.Now(),
	}

	if err := s.db.Store().Upsert(sourceID, &record); err != nil {
		return fmt.Errorf("failed to store cursor for source %s: %w", sourceID, err)
	}

	s.logger.Debug().
		Str("source_id", sourceID).
		Str("last_sync_time", t.Format(time.RFC3339)).
		Msg("Cursor stored")

	return nil
}

// DeleteCursor removes the stored watermark. Deleting a missing cursor is
// a no-op.
func (s *CursorStorage) DeleteCursor(sourceID string) error {
	err := s.db.Store().Delete(sourceID, CursorRecord{})
	if err != nil && !errors.Is(err, badgerhold.ErrNotFound) {
		return fmt.Errorf("failed to delete cursor for source %s: %w", sourceID, err)
	}
	return nil
}
