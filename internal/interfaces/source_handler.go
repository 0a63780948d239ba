package interfaces

import (
	"context"
	"time"

	"github.com/ternarybob/colligo/internal/models"
)

// SourceHandler is the polymorphic contract every source type implements.
// A handler instance is stateful: it owns its transport clients, incremental
// cursors and pooled resources, is initialized exactly once before first use
// and cleaned up exactly once before disposal.
type SourceHandler interface {
	// Initialize acquires transport/resources, validates reachability and
	// restores any persisted cursor. Called exactly once by the registry;
	// an error aborts registration.
	Initialize(ctx context.Context) error

	// ValidateConfig checks a source config for missing or invalid fields.
	// It never mutates the config and performs no I/O.
	ValidateConfig(cfg *models.SourceConfig) error

	// Discover enumerates candidate documents without fetching full bodies
	// where that is cheaply avoidable. An empty (but reachable) source
	// yields an empty slice, not an error.
	Discover(ctx context.Context) ([]*models.Document, error)

	// Extract fetches/reads the full content body of one discovered
	// document. A nil result with nil error means "unchanged" and must
	// never be treated as a failure.
	Extract(ctx context.Context, doc *models.Document) (*models.ExtractedContent, error)

	// Transform normalizes extracted content into the pipeline's canonical
	// shape. Pure, no I/O. A nil result means "filtered"/"no output".
	Transform(content *models.ExtractedContent) (*models.TransformedDocument, error)

	// Cleanup releases all handler-owned resources. Idempotent and
	// best-effort: partial sub-resource failure is logged, not returned.
	Cleanup() error
}

// CursorAdvancer is implemented by handlers that keep an incremental
// watermark. The cursor is never auto-advanced by the handler itself; the
// caller advances it explicitly after a successful run, preserving
// at-least-once semantics under caller-driven retry.
type CursorAdvancer interface {
	AdvanceCursor(t time.Time)
	Cursor() time.Time
}
