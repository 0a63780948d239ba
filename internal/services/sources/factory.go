package sources

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

// Dependencies carries the shared collaborators injected into every handler
// constructed by the factory. Nil fields fall back to in-memory or default
// behavior.
type Dependencies struct {
	Logger      arbor.ILogger
	CursorStore interfaces.CursorStore // nil = in-memory cursors
	FeedParser  FeedParser             // nil = XML feed parser
	Limiter     Limiter                // nil = fixed-delay limiter per handler config
	HTTPTimeout time.Duration          // zero = 30s
	UserAgent   string
	Browser     BrowserConfig
}

// HandlerConstructor builds an uninitialized handler for one source config.
type HandlerConstructor func(cfg *models.SourceConfig, deps *Dependencies) (interfaces.SourceHandler, error)

// Factory maps source type tags to handler constructors. The four built-in
// types are pre-registered; additional types can be registered by callers,
// with an explicit override flag required to replace an existing one.
type Factory struct {
	constructors map[string]HandlerConstructor
	deps         *Dependencies
	mu           sync.RWMutex
	logger       arbor.ILogger
}

// NewFactory creates a factory with the four default handler types
// pre-registered.
func NewFactory(deps *Dependencies) *Factory {
	if deps == nil {
		deps = &Dependencies{}
	}
	if deps.Logger == nil {
		deps.Logger = arbor.NewLogger()
	}
	if deps.HTTPTimeout == 0 {
		deps.HTTPTimeout = 30 * time.Second
	}

	f := &Factory{
		constructors: make(map[string]HandlerConstructor),
		deps:         deps,
		logger:       deps.Logger,
	}

	f.constructors[models.SourceTypeStatic] = func(cfg *models.SourceConfig, deps *Dependencies) (interfaces.SourceHandler, error) {
		return NewStaticHandler(cfg, deps)
	}
	f.constructors[models.SourceTypeSemiStatic] = func(cfg *models.SourceConfig, deps *Dependencies) (interfaces.SourceHandler, error) {
		return NewSemiStaticHandler(cfg, deps)
	}
	f.constructors[models.SourceTypeDynamicConsistent] = func(cfg *models.SourceConfig, deps *Dependencies) (interfaces.SourceHandler, error) {
		return NewConsistentHandler(cfg, deps)
	}
	f.constructors[models.SourceTypeDynamicUnstructured] = func(cfg *models.SourceConfig, deps *Dependencies) (interfaces.SourceHandler, error) {
		return NewUnstructuredHandler(cfg, deps)
	}

	return f
}

// RegisterHandler registers a constructor for a source type. Registering an
// already-known type fails unless override is set.
func (f *Factory) RegisterHandler(sourceType string, ctor HandlerConstructor, override bool) error {
	if sourceType == "" {
		return fmt.Errorf("source type cannot be empty")
	}
	if ctor == nil {
		return fmt.Errorf("constructor cannot be nil")
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if _, exists := f.constructors[sourceType]; exists && !override {
		return fmt.Errorf("handler type already registered: %s (pass override to replace)", sourceType)
	}

	f.constructors[sourceType] = ctor

	f.logger.Debug().
		Str("source_type", sourceType).
		Bool("override", override).
		Msg("Handler constructor registered")

	return nil
}

// CreateHandler constructs an uninitialized handler for the config's type.
func (f *Factory) CreateHandler(cfg *models.SourceConfig) (interfaces.SourceHandler, error) {
	if cfg == nil {
		return nil, fmt.Errorf("source config cannot be nil")
	}

	f.mu.RLock()
	ctor, exists := f.constructors[cfg.Type]
	f.mu.RUnlock()

	if !exists {
		return nil, &models.ConfigurationError{
			SourceID: cfg.ID,
			Field:    "type",
			Message:  fmt.Sprintf("unknown source type: %s", cfg.Type),
		}
	}

	handler, err := ctor(cfg, f.deps)
	if err != nil {
		return nil, fmt.Errorf("failed to construct handler for source %s: %w", cfg.ID, err)
	}

	return handler, nil
}

// ValidateConfig constructs the handler for the config's type and delegates
// validation to it.
func (f *Factory) ValidateConfig(cfg *models.SourceConfig) error {
	if cfg == nil {
		return fmt.Errorf("source config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	handler, err := f.CreateHandler(cfg)
	if err != nil {
		return err
	}

	return handler.ValidateConfig(cfg)
}

// RegisteredTypes returns the sorted list of known source types.
func (f *Factory) RegisteredTypes() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	types := make([]string, 0, len(f.constructors))
	for t := range f.constructors {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
