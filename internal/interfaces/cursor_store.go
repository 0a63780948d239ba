package interfaces

import "time"

// CursorStore persists per-source incremental cursors so a restart does not
// reprocess everything since the default lookback window. Handlers restore
// their cursor at Initialize and persist on explicit advance. A nil store
// degrades to in-memory cursors that reset on restart.
type CursorStore interface {
	// GetCursor returns the stored cursor for a source. The bool reports
	// whether a cursor exists; absence is not an error.
	GetCursor(sourceID string) (time.Time, bool, error)

	// SetCursor stores the cursor for a source
	SetCursor(sourceID string, t time.Time) error

	// DeleteCursor removes the cursor for a source
	DeleteCursor(sourceID string) error
}
