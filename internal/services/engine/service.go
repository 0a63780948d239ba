package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
	"github.com/ternarybob/colligo/internal/services/sources"
)

// Options declares the retry policy callers should apply. The engine
// itself never retries: a processing error propagates to the immediate
// caller, and a retry is a fresh pass restarting from discovery.
type Options struct {
	// RetryAttempts is the total number of passes a caller should make
	// over a failing source. Values below 1 mean a single pass.
	RetryAttempts int
	// RetryDelay is the base delay between passes, doubled each retry.
	// Zero means immediate.
	RetryDelay time.Duration
}

// Attempts normalizes RetryAttempts to at least one pass.
func (o Options) Attempts() int {
	if o.RetryAttempts < 1 {
		return 1
	}
	return o.RetryAttempts
}

// Service orchestrates the discover/extract/transform pipeline across all
// registered sources and publishes lifecycle events. Handlers own all
// source-type specifics; the engine only sequences them.
type Service struct {
	registry *sources.Registry
	events   interfaces.EventService
	opts     Options
	logger   arbor.ILogger

	configs map[string]*models.SourceConfig
	mu      sync.Mutex
}

// NewService creates an engine over the registry. The event service may be
// nil, which disables event publication.
func NewService(registry *sources.Registry, events interfaces.EventService, opts Options, logger arbor.ILogger) *Service {
	if logger == nil {
		logger = arbor.NewLogger()
	}
	return &Service{
		registry: registry,
		events:   events,
		opts:     opts,
		logger:   logger,
		configs:  make(map[string]*models.SourceConfig),
	}
}

// AddSource validates, registers and initializes a new source. On success a
// sourceAdded event is published; on failure nothing is registered.
func (s *Service) AddSource(ctx context.Context, cfg *models.SourceConfig) error {
	if cfg == nil {
		return fmt.Errorf("source config cannot be nil")
	}
	s.mu.Lock()
	_, exists := s.configs[cfg.ID]
	s.mu.Unlock()
	if exists {
		return fmt.Errorf("source already exists: %s", cfg.ID)
	}

	if err := s.registry.RegisterHandler(ctx, cfg); err != nil {
		s.publish(ctx, interfaces.EventError, map[string]interface{}{
			"source_id": cfg.ID,
			"operation": "addSource",
			"error":     err.Error(),
		})
		return err
	}

	s.mu.Lock()
	s.configs[cfg.ID] = cfg
	s.mu.Unlock()

	s.logger.Info().
		Str("source_id", cfg.ID).
		Str("source_type", cfg.Type).
		Msg("Source added")

	s.publish(ctx, interfaces.EventSourceAdded, map[string]interface{}{
		"source_id":   cfg.ID,
		"source_type": cfg.Type,
	})

	return nil
}

// RemoveSource unregisters the source and publishes sourceRemoved.
func (s *Service) RemoveSource(ctx context.Context, sourceID string) error {
	if err := s.registry.UnregisterHandler(sourceID); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.configs, sourceID)
	s.mu.Unlock()

	s.logger.Info().
		Str("source_id", sourceID).
		Msg("Source removed")

	s.publish(ctx, interfaces.EventSourceRemoved, map[string]interface{}{
		"source_id": sourceID,
	})

	return nil
}

// UpdateSource replaces a source's configuration by unregistering the old
// handler and registering a fresh one. Documents processed between the two
// steps are not coordinated; callers should not update mid-batch.
func (s *Service) UpdateSource(ctx context.Context, cfg *models.SourceConfig) error {
	if cfg == nil {
		return fmt.Errorf("source config cannot be nil")
	}
	s.mu.Lock()
	_, exists := s.configs[cfg.ID]
	s.mu.Unlock()
	if !exists {
		return fmt.Errorf("source not found: %s", cfg.ID)
	}

	if err := s.registry.UnregisterHandler(cfg.ID); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.configs, cfg.ID)
	s.mu.Unlock()

	if err := s.registry.RegisterHandler(ctx, cfg); err != nil {
		s.publish(ctx, interfaces.EventError, map[string]interface{}{
			"source_id": cfg.ID,
			"operation": "updateSource",
			"error":     err.Error(),
		})
		return fmt.Errorf("failed to re-register source %s with updated config: %w", cfg.ID, err)
	}
	s.mu.Lock()
	s.configs[cfg.ID] = cfg
	s.mu.Unlock()

	s.logger.Info().
		Str("source_id", cfg.ID).
		Msg("Source updated")

	s.publish(ctx, interfaces.EventSourceUpdated, map[string]interface{}{
		"source_id": cfg.ID,
	})

	return nil
}

// RetryOptions returns the declared retry policy for callers that re-run
// failing sources.
func (s *Service) RetryOptions() Options {
	return s.opts
}

// GetSourceConfig returns the stored config for a source.
func (s *Service) GetSourceConfig(sourceID string) (*models.SourceConfig, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, exists := s.configs[sourceID]
	return cfg, exists
}

// SourceCount returns the number of managed sources.
func (s *Service) SourceCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.configs)
}

// ProcessDocument runs extract and transform for a single document. A nil
// result with nil error means the document was unchanged or filtered.
func (s *Service) ProcessDocument(ctx context.Context, sourceID string, doc *models.Document) (*models.TransformedDocument, error) {
	transformed, _, err := s.processOne(ctx, sourceID, doc)
	return transformed, err
}

// processOne performs the extract/transform steps and classifies the
// outcome as delivered, unchanged, filtered or failed.
func (s *Service) processOne(ctx context.Context, sourceID string, doc *models.Document) (*models.TransformedDocument, string, error) {
	handler, exists := s.registry.GetHandler(sourceID)
	if !exists {
		return nil, models.StatusFailed, fmt.Errorf("source not registered: %s", sourceID)
	}

	s.publish(ctx, interfaces.EventDocumentProcessingStarted, map[string]interface{}{
		"source_id":   sourceID,
		"document_id": doc.ID,
	})

	extracted, err := handler.Extract(ctx, doc)
	if err != nil {
		s.publish(ctx, interfaces.EventDocumentProcessingFailed, map[string]interface{}{
			"source_id":   sourceID,
			"document_id": doc.ID,
			"stage":       "extract",
			"error":       err.Error(),
		})
		return nil, models.StatusFailed, &models.ExtractionError{DocumentID: doc.ID, Err: err}
	}

	// Conditional fetch hit: nothing changed since the last run.
	if extracted == nil {
		s.publish(ctx, interfaces.EventDocumentProcessingCompleted, map[string]interface{}{
			"source_id":   sourceID,
			"document_id": doc.ID,
			"status":      models.StatusUnchanged,
		})
		return nil, models.StatusUnchanged, nil
	}

	transformed, err := handler.Transform(extracted)
	if err != nil {
		s.publish(ctx, interfaces.EventDocumentProcessingFailed, map[string]interface{}{
			"source_id":   sourceID,
			"document_id": doc.ID,
			"stage":       "transform",
			"error":       err.Error(),
		})
		return nil, models.StatusFailed, &models.TransformError{DocumentID: doc.ID, Err: err}
	}

	status := models.StatusDelivered
	if transformed == nil {
		status = models.StatusFiltered
		if !extracted.Filtered {
			status = models.StatusUnchanged
		}
	}

	s.publish(ctx, interfaces.EventDocumentProcessingCompleted, map[string]interface{}{
		"source_id":   sourceID,
		"document_id": doc.ID,
		"status":      status,
	})

	return transformed, status, nil
}

// ProcessAllDocuments discovers and processes every document of one source.
// Individual document failures are collected in the result, never aborting
// the batch. The source's sync cursor, if it has one, advances only when
// the batch completes without failures.
func (s *Service) ProcessAllDocuments(ctx context.Context, sourceID string) (*models.BatchResult, error) {
	handler, exists := s.registry.GetHandler(sourceID)
	if !exists {
		return nil, fmt.Errorf("source not registered: %s", sourceID)
	}

	result := &models.BatchResult{
		BatchID:   common.NewBatchID(),
		SourceID:  sourceID,
		StartedAt: time.Now(),
	}

	s.publish(ctx, interfaces.EventDiscoveryStarted, map[string]interface{}{
		"source_id": sourceID,
		"batch_id":  result.BatchID,
	})

	documents, err := handler.Discover(ctx)
	if err != nil {
		s.publish(ctx, interfaces.EventDiscoveryFailed, map[string]interface{}{
			"source_id": sourceID,
			"batch_id":  result.BatchID,
			"error":     err.Error(),
		})
		return nil, fmt.Errorf("discovery failed for source %s: %w", sourceID, err)
	}
	result.Discovered = len(documents)

	s.publish(ctx, interfaces.EventDiscoveryCompleted, map[string]interface{}{
		"source_id": sourceID,
		"batch_id":  result.BatchID,
		"documents": len(documents),
	})

	s.publish(ctx, interfaces.EventBatchProcessingStarted, map[string]interface{}{
		"source_id": sourceID,
		"batch_id":  result.BatchID,
	})

	var newestModified time.Time
	for _, doc := range documents {
		if err := ctx.Err(); err != nil {
			result.Failed = append(result.Failed, models.DocumentFailure{Document: doc, Error: err.Error()})
			break
		}

		transformed, status, err := s.processOne(ctx, sourceID, doc)
		switch {
		case err != nil:
			result.Failed = append(result.Failed, models.DocumentFailure{Document: doc, Error: err.Error()})
			s.logger.Warn().
				Err(err).
				Str("source_id", sourceID).
				Str("document_id", doc.ID).
				Msg("Document failed, continuing batch")
		case status == models.StatusUnchanged:
			result.Unchanged++
		case status == models.StatusFiltered:
			result.Filtered++
		default:
			result.Processed = append(result.Processed, transformed)
		}

		if doc.LastModified != nil && doc.LastModified.After(newestModified) {
			newestModified = *doc.LastModified
		}
	}

	result.Duration = time.Since(result.StartedAt)

	// Advance the source cursor only after a fully clean batch so failed
	// documents are rediscovered next run.
	if result.Succeeded() && !newestModified.IsZero() {
		if advancer, ok := handler.(interfaces.CursorAdvancer); ok {
			advancer.AdvanceCursor(newestModified)
		}
	}

	s.logger.Info().
		Str("source_id", sourceID).
		Str("batch_id", result.BatchID).
		Int("discovered", result.Discovered).
		Int("processed", len(result.Processed)).
		Int("failed", len(result.Failed)).
		Int("unchanged", result.Unchanged).
		Int("filtered", result.Filtered).
		Dur("duration", result.Duration).
		Msg("Batch completed")

	s.publish(ctx, interfaces.EventBatchProcessingCompleted, map[string]interface{}{
		"source_id": sourceID,
		"batch_id":  result.BatchID,
		"processed": len(result.Processed),
		"failed":    len(result.Failed),
		"unchanged": result.Unchanged,
		"filtered":  result.Filtered,
	})

	return result, nil
}

// ProcessAllSources runs a batch for every enabled source. A source whose
// discovery fails outright contributes a degenerate result and an error
// event; the remaining sources still run.
func (s *Service) ProcessAllSources(ctx context.Context) []*models.BatchResult {
	ids := s.registry.EnabledSourceIDs()

	results := make([]*models.BatchResult, 0, len(ids))
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}

		result, err := s.ProcessAllDocuments(ctx, id)
		if err != nil {
			s.logger.Error().
				Err(err).
				Str("source_id", id).
				Msg("Source batch failed, continuing with remaining sources")

			s.publish(ctx, interfaces.EventError, map[string]interface{}{
				"source_id": id,
				"operation": "processAllSources",
				"error":     err.Error(),
			})

			results = append(results, &models.BatchResult{
				BatchID:   common.NewBatchID(),
				SourceID:  id,
				StartedAt: time.Now(),
				Failed:    []models.DocumentFailure{{Error: err.Error()}},
			})
			continue
		}
		results = append(results, result)
	}

	return results
}

// publish sends an event when an event service is wired, logging delivery
// problems instead of propagating them into the pipeline.
func (s *Service) publish(ctx context.Context, eventType interfaces.EventType, payload interface{}) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, interfaces.Event{Type: eventType, Payload: payload}); err != nil {
		s.logger.Warn().
			Err(err).
			Str("event_type", string(eventType)).
			Msg("Failed to publish event")
	}
}
