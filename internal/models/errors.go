package models

import "fmt"

// ConfigurationError indicates bad or missing source configuration. Fatal
// at registration time; nothing is stored.
type ConfigurationError struct {
	SourceID string
	Field    string
	Message  string
}

func (e *ConfigurationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("configuration error for source %q: field %q: %s", e.SourceID, e.Field, e.Message)
	}
	return fmt.Sprintf("configuration error for source %q: %s", e.SourceID, e.Message)
}

// InitializationError indicates a source was unreachable or a handler could
// not acquire its resources at startup. Registration aborts and the
// registry stores nothing.
type InitializationError struct {
	SourceID string
	Err      error
}

func (e *InitializationError) Error() string {
	return fmt.Sprintf("initialization failed for source %q: %v", e.SourceID, e.Err)
}

func (e *InitializationError) Unwrap() error { return e.Err }

// DiscoveryError indicates one source's discovery failed. Batch operations
// isolate and log it without blocking other sources.
type DiscoveryError struct {
	SourceID string
	Err      error
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("discovery failed for source %q: %v", e.SourceID, e.Err)
}

func (e *DiscoveryError) Unwrap() error { return e.Err }

// ExtractionError indicates one document's fetch/read failed. It propagates
// to the immediate caller and is aggregated into the batch failed list.
type ExtractionError struct {
	DocumentID string
	Err        error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extraction failed for document %q: %v", e.DocumentID, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// TransformError indicates transformation of extracted content failed.
// Treated exactly like an ExtractionError by batch operations.
type TransformError struct {
	DocumentID string
	Err        error
}

func (e *TransformError) Error() string {
	return fmt.Sprintf("transform failed for document %q: %v", e.DocumentID, e.Err)
}

func (e *TransformError) Unwrap() error { return e.Err }
