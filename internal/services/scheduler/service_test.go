package scheduler

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
	"github.com/ternarybob/colligo/internal/services/engine"
	"github.com/ternarybob/colligo/internal/services/sources"
)

// flakyHandler fails the first N extractions, then succeeds.
type flakyHandler struct {
	failures int
	extracts int
}

func (h *flakyHandler) Initialize(ctx context.Context) error          { return nil }
func (h *flakyHandler) ValidateConfig(cfg *models.SourceConfig) error { return nil }

func (h *flakyHandler) Discover(ctx context.Context) ([]*models.Document, error) {
	return []*models.Document{{ID: "doc-1", SourceID: "flaky"}}, nil
}

func (h *flakyHandler) Extract(ctx context.Context, doc *models.Document) (*models.ExtractedContent, error) {
	h.extracts++
	if h.extracts <= h.failures {
		return nil, errors.New("transient")
	}
	return &models.ExtractedContent{ID: doc.ID, Content: "body"}, nil
}

func (h *flakyHandler) Transform(content *models.ExtractedContent) (*models.TransformedDocument, error) {
	return &models.TransformedDocument{ID: content.ID, Title: "T", Content: content.Content}, nil
}

func (h *flakyHandler) Cleanup() error { return nil }

func newTestScheduler(t *testing.T) *Service {
	t.Helper()

	logger := arbor.NewLogger()
	factory := sources.NewFactory(&sources.Dependencies{Logger: logger})
	registry := sources.NewRegistry(factory, logger)
	eng := engine.NewService(registry, nil, engine.Options{}, logger)

	return NewService(eng, logger)
}

func TestScheduler_StartStop(t *testing.T) {
	sched := newTestScheduler(t)
	assert.False(t, sched.IsRunning())

	require.NoError(t, sched.Start("*/15 * * * *"))
	assert.True(t, sched.IsRunning())

	err := sched.Start("*/15 * * * *")
	assert.Error(t, err, "starting twice fails")

	sched.Stop()
	assert.False(t, sched.IsRunning())

	// Stopping again is a no-op.
	sched.Stop()
}

func TestScheduler_RejectsInvalidSchedule(t *testing.T) {
	sched := newTestScheduler(t)

	err := sched.Start("not a cron expression")
	require.Error(t, err)
	assert.False(t, sched.IsRunning())
}

func TestScheduler_RunOnceWithNoSources(t *testing.T) {
	sched := newTestScheduler(t)

	// An empty registry completes immediately without error.
	sched.runOnce()
	assert.False(t, sched.IsRunning())
}

func TestScheduler_RetriesFailedSourceBatches(t *testing.T) {
	logger := arbor.NewLogger()
	handler := &flakyHandler{failures: 1}

	factory := sources.NewFactory(&sources.Dependencies{Logger: logger})
	ctor := func(cfg *models.SourceConfig, deps *sources.Dependencies) (interfaces.SourceHandler, error) {
		return handler, nil
	}
	require.NoError(t, factory.RegisterHandler("flaky", ctor, false))
	registry := sources.NewRegistry(factory, logger)

	eng := engine.NewService(registry, nil, engine.Options{RetryAttempts: 3}, logger)
	require.NoError(t, eng.AddSource(context.Background(), &models.SourceConfig{
		ID:      "flaky",
		Name:    "flaky",
		Type:    "flaky",
		Enabled: true,
		Config:  map[string]interface{}{},
	}))
	sched := NewService(eng, logger)

	ctx := context.Background()
	results := sched.retryFailed(ctx, eng.ProcessAllSources(ctx))

	require.Len(t, results, 1)
	assert.Empty(t, results[0].Failed, "a clean later pass replaces the failed result")
	assert.Len(t, results[0].Processed, 1)
	assert.Equal(t, 2, handler.extracts, "each pass restarts from discovery")
}
