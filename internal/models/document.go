package models

import "time"

// Document status constants describing the terminal state of one document
// within a batch. No retry transition exists inside the core; a retry
// restarts from discovery.
const (
	StatusDelivered = "delivered"
	StatusUnchanged = "unchanged"
	StatusFiltered  = "filtered"
	StatusFailed    = "failed"
)

// Document is the discovery-stage artifact: a reference to a resource that
// can be extracted later. It never carries a content body. The ID is a pure
// function of the canonical path/URL so repeat discovery of the same
// resource yields the same id.
type Document struct {
	ID           string                 `json:"id"`
	SourceID     string                 `json:"source_id"`
	SourceType   string                 `json:"source_type"`
	URL          string                 `json:"url"` // URL or absolute path
	ContentType  string                 `json:"content_type,omitempty"`
	LastModified *time.Time             `json:"last_modified,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
	DiscoveredAt time.Time              `json:"discovered_at"`
}

// ExtractedContent is the raw body of one document after extraction.
// A nil ExtractedContent from a handler means "unchanged" (conditional
// fetch hit) and is never an error. Filtered content is returned with the
// Filtered flag and a human-readable reason rather than silently dropped.
type ExtractedContent struct {
	ID           string                 `json:"id"` // == Document.ID
	Content      string                 `json:"content"`
	ContentHash  string                 `json:"content_hash"`
	ExtractedAt  time.Time              `json:"extracted_at"`
	Method       string                 `json:"method"` // file-read, conditional-get, inline, permalink-fetch, browser-render, placeholder
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
	Filtered     bool                   `json:"filtered,omitempty"`
	FilterReason string                 `json:"filter_reason,omitempty"`
}

// TransformedDocument is the terminal artifact handed to downstream
// storage/enrichment. Metadata carries word/char counts, source id,
// visibility tag and processing timestamp.
type TransformedDocument struct {
	ID          string                 `json:"id"`
	Title       string                 `json:"title"`
	Content     string                 `json:"content"`
	ContentHash string                 `json:"content_hash"`
	Metadata    map[string]interface{} `json:"metadata"`
	ProcessedAt time.Time              `json:"processed_at"`
}

// DocumentFailure records one document that failed during batch processing.
// Document may be nil for whole-source failures folded into a batch result.
type DocumentFailure struct {
	Document *Document `json:"document,omitempty"`
	Error    string    `json:"error"`
}

// BatchResult aggregates the outcome of processing every discovered
// document of one source. One bad document never aborts the batch; it is
// recorded here instead.
type BatchResult struct {
	BatchID    string                 `json:"batch_id"`
	SourceID   string                 `json:"source_id"`
	Discovered int                    `json:"discovered"`
	Processed  []*TransformedDocument `json:"processed"`
	Failed     []DocumentFailure      `json:"failed"`
	Unchanged  int                    `json:"unchanged"`
	Filtered   int                    `json:"filtered"`
	StartedAt  time.Time              `json:"started_at"`
	Duration   time.Duration          `json:"duration"`
}

// Succeeded reports whether the batch completed without a single failure.
func (b *BatchResult) Succeeded() bool {
	return len(b.Failed) == 0
}
