package sources

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

// Registry tracks the live handlers by source ID. Registration is atomic:
// a handler that fails validation or initialization leaves no trace.
type Registry struct {
	factory  *Factory
	handlers map[string]interfaces.SourceHandler
	enabled  map[string]bool
	mu       sync.RWMutex
	logger   arbor.ILogger
}

// NewRegistry creates an empty registry backed by the factory.
func NewRegistry(factory *Factory, logger arbor.ILogger) *Registry {
	if logger == nil {
		logger = arbor.NewLogger()
	}
	return &Registry{
		factory:  factory,
		handlers: make(map[string]interfaces.SourceHandler),
		enabled:  make(map[string]bool),
		logger:   logger,
	}
}

// RegisterHandler validates the config, constructs the handler and
// initializes it. Any failure rolls the registration back completely.
func (r *Registry) RegisterHandler(ctx context.Context, cfg *models.SourceConfig) error {
	if cfg == nil {
		return fmt.Errorf("source config cannot be nil")
	}

	r.mu.Lock()
	if _, exists := r.handlers[cfg.ID]; exists {
		r.mu.Unlock()
		return fmt.Errorf("source already registered: %s", cfg.ID)
	}
	r.mu.Unlock()

	if err := r.factory.ValidateConfig(cfg); err != nil {
		return err
	}

	handler, err := r.factory.CreateHandler(cfg)
	if err != nil {
		return err
	}

	if err := handler.Initialize(ctx); err != nil {
		// Initialization failed after construction; release whatever the
		// handler may have acquired.
		if cleanupErr := handler.Cleanup(); cleanupErr != nil {
			r.logger.Warn().
				Err(cleanupErr).
				Str("source_id", cfg.ID).
				Msg("Cleanup after failed initialization reported an error")
		}
		return fmt.Errorf("failed to initialize source %s: %w", cfg.ID, err)
	}

	r.mu.Lock()
	// Re-check under the lock; a concurrent registration may have won.
	if _, exists := r.handlers[cfg.ID]; exists {
		r.mu.Unlock()
		handler.Cleanup()
		return fmt.Errorf("source already registered: %s", cfg.ID)
	}
	r.handlers[cfg.ID] = handler
	r.enabled[cfg.ID] = cfg.Enabled
	r.mu.Unlock()

	r.logger.Info().
		Str("source_id", cfg.ID).
		Str("source_type", cfg.Type).
		Bool("enabled", cfg.Enabled).
		Msg("Source handler registered")

	return nil
}

// UnregisterHandler removes the handler and runs its cleanup. Cleanup
// failures are logged, not returned; the handler is gone either way.
func (r *Registry) UnregisterHandler(sourceID string) error {
	r.mu.Lock()
	handler, exists := r.handlers[sourceID]
	if !exists {
		r.mu.Unlock()
		return fmt.Errorf("source not registered: %s", sourceID)
	}
	delete(r.handlers, sourceID)
	delete(r.enabled, sourceID)
	r.mu.Unlock()

	if err := handler.Cleanup(); err != nil {
		r.logger.Warn().
			Err(err).
			Str("source_id", sourceID).
			Msg("Handler cleanup reported an error")
	}

	r.logger.Info().
		Str("source_id", sourceID).
		Msg("Source handler unregistered")

	return nil
}

// GetHandler returns the handler for a source ID.
func (r *Registry) GetHandler(sourceID string) (interfaces.SourceHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	handler, exists := r.handlers[sourceID]
	return handler, exists
}

// EnableHandler marks a source eligible for processing.
func (r *Registry) EnableHandler(sourceID string) error {
	return r.setEnabled(sourceID, true)
}

// DisableHandler excludes a source from processing without unregistering
// it.
func (r *Registry) DisableHandler(sourceID string) error {
	return r.setEnabled(sourceID, false)
}

func (r *Registry) setEnabled(sourceID string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[sourceID]; !exists {
		return fmt.Errorf("source not registered: %s", sourceID)
	}
	r.enabled[sourceID] = enabled

	r.logger.Debug().
		Str("source_id", sourceID).
		Bool("enabled", enabled).
		Msg("Source handler state changed")

	return nil
}

// IsEnabled reports whether the source is registered and enabled.
func (r *Registry) IsEnabled(sourceID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.enabled[sourceID]
}

// GetHandlerCount returns the number of registered handlers.
func (r *Registry) GetHandlerCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers)
}

// EnabledSourceIDs returns the sorted IDs of enabled sources.
func (r *Registry) EnabledSourceIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.handlers))
	for id := range r.handlers {
		if r.enabled[id] {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// DiscoverAll runs discovery on every enabled handler and unions the
// results. One source's discovery failure is logged and skipped; the other
// sources still report.
func (r *Registry) DiscoverAll(ctx context.Context) []*models.Document {
	ids := r.EnabledSourceIDs()

	var documents []*models.Document
	for _, id := range ids {
		handler, exists := r.GetHandler(id)
		if !exists {
			continue
		}

		docs, err := handler.Discover(ctx)
		if err != nil {
			r.logger.Warn().
				Err(err).
				Str("source_id", id).
				Msg("Discovery failed for source, continuing with remaining sources")
			continue
		}
		documents = append(documents, docs...)
	}

	return documents
}

// CleanupAll runs cleanup on every handler and clears the registry.
func (r *Registry) CleanupAll() {
	r.mu.Lock()
	handlers := make(map[string]interfaces.SourceHandler, len(r.handlers))
	for id, h := range r.handlers {
		handlers[id] = h
	}
	r.handlers = make(map[string]interfaces.SourceHandler)
	r.enabled = make(map[string]bool)
	r.mu.Unlock()

	for id, handler := range handlers {
		if err := handler.Cleanup(); err != nil {
			r.logger.Warn().
				Err(err).
				Str("source_id", id).
				Msg("Handler cleanup reported an error")
		}
	}

	r.logger.Info().
		Int("handlers", len(handlers)).
		Msg("All source handlers cleaned up")
}

// Stats returns per-source registration state for diagnostics.
func (r *Registry) Stats() map[string]interface{} {
	r.mu.RLock()
	defer r.mu.RUnlock()

	enabledCount := 0
	for _, e := range r.enabled {
		if e {
			enabledCount++
		}
	}

	return map[string]interface{}{
		"registered": len(r.handlers),
		"enabled":    enabledCount,
	}
}
