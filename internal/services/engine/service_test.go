package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
	"github.com/ternarybob/colligo/internal/services/events"
	"github.com/ternarybob/colligo/internal/services/sources"
)

// fakeHandler drives engine tests with scripted discovery and extraction
// outcomes.
type fakeHandler struct {
	docs           []*models.Document
	discoErr       error
	extractErr     map[string]error
	extractErrOnce map[string]error
	unchanged      map[string]bool
	filtered       map[string]bool

	cursor   time.Time
	advanced []time.Time

	initErr     error
	cleanupRuns int
	extractRuns map[string]int
}

func (f *fakeHandler) Initialize(ctx context.Context) error { return f.initErr }

func (f *fakeHandler) ValidateConfig(cfg *models.SourceConfig) error { return nil }

func (f *fakeHandler) Discover(ctx context.Context) ([]*models.Document, error) {
	if f.discoErr != nil {
		return nil, f.discoErr
	}
	return f.docs, nil
}

func (f *fakeHandler) Extract(ctx context.Context, doc *models.Document) (*models.ExtractedContent, error) {
	if f.extractRuns == nil {
		f.extractRuns = make(map[string]int)
	}
	f.extractRuns[doc.ID]++

	if err := f.extractErr[doc.ID]; err != nil {
		return nil, err
	}
	if err := f.extractErrOnce[doc.ID]; err != nil && f.extractRuns[doc.ID] == 1 {
		return nil, err
	}
	if f.unchanged[doc.ID] {
		return nil, nil
	}
	return &models.ExtractedContent{
		ID:       doc.ID,
		Content:  "content of " + doc.ID,
		Filtered: f.filtered[doc.ID],
	}, nil
}

func (f *fakeHandler) Transform(content *models.ExtractedContent) (*models.TransformedDocument, error) {
	if content == nil || content.Filtered {
		return nil, nil
	}
	return &models.TransformedDocument{ID: content.ID, Title: "T", Content: content.Content}, nil
}

func (f *fakeHandler) Cleanup() error {
	f.cleanupRuns++
	return nil
}

func (f *fakeHandler) AdvanceCursor(t time.Time) {
	if t.After(f.cursor) {
		f.cursor = t
	}
	f.advanced = append(f.advanced, t)
}

func (f *fakeHandler) Cursor() time.Time { return f.cursor }

func newTestEngine(t *testing.T, handler *fakeHandler) (*Service, interfaces.EventService) {
	t.Helper()

	logger := arbor.NewLogger()
	factory := sources.NewFactory(&sources.Dependencies{Logger: logger})
	ctor := func(cfg *models.SourceConfig, deps *sources.Dependencies) (interfaces.SourceHandler, error) {
		return handler, nil
	}
	require.NoError(t, factory.RegisterHandler("fake", ctor, false))

	registry := sources.NewRegistry(factory, logger)
	eventService := events.NewService(logger)

	return NewService(registry, eventService, Options{RetryAttempts: 1}, logger), eventService
}

func fakeSourceConfig(id string) *models.SourceConfig {
	return &models.SourceConfig{
		ID:      id,
		Name:    id,
		Type:    "fake",
		Enabled: true,
		Config:  map[string]interface{}{},
	}
}

func docWithTime(id string, modified time.Time) *models.Document {
	return &models.Document{ID: id, SourceID: "src", URL: "https://example.com/" + id, LastModified: &modified}
}

func TestService_AddRemoveSource(t *testing.T) {
	handler := &fakeHandler{}
	svc, _ := newTestEngine(t, handler)

	require.NoError(t, svc.AddSource(context.Background(), fakeSourceConfig("src")))
	assert.Equal(t, 1, svc.SourceCount())

	err := svc.AddSource(context.Background(), fakeSourceConfig("src"))
	assert.Error(t, err, "duplicate source id rejected")

	require.NoError(t, svc.RemoveSource(context.Background(), "src"))
	assert.Equal(t, 0, svc.SourceCount())
	assert.Equal(t, 1, handler.cleanupRuns)
}

func TestService_AddSourceFailedInitLeavesNothing(t *testing.T) {
	handler := &fakeHandler{initErr: errors.New("boom")}
	svc, _ := newTestEngine(t, handler)

	err := svc.AddSource(context.Background(), fakeSourceConfig("src"))
	require.Error(t, err)
	assert.Equal(t, 0, svc.SourceCount())
}

func TestService_UpdateSourceIsRemoveThenAdd(t *testing.T) {
	handler := &fakeHandler{}
	svc, _ := newTestEngine(t, handler)

	require.NoError(t, svc.AddSource(context.Background(), fakeSourceConfig("src")))

	updated := fakeSourceConfig("src")
	updated.Name = "renamed"
	require.NoError(t, svc.UpdateSource(context.Background(), updated))

	cfg, ok := svc.GetSourceConfig("src")
	require.True(t, ok)
	assert.Equal(t, "renamed", cfg.Name)
	assert.Equal(t, 1, handler.cleanupRuns, "old handler cleaned up during update")

	err := svc.UpdateSource(context.Background(), fakeSourceConfig("ghost"))
	assert.Error(t, err)
}

func TestService_BatchIsolatesFailures(t *testing.T) {
	now := time.Now()
	handler := &fakeHandler{
		docs: []*models.Document{
			docWithTime("doc-1", now.Add(-3*time.Hour)),
			docWithTime("doc-2", now.Add(-2*time.Hour)),
			docWithTime("doc-3", now.Add(-1*time.Hour)),
		},
		extractErr: map[string]error{"doc-2": errors.New("fetch failed")},
	}
	svc, _ := newTestEngine(t, handler)
	require.NoError(t, svc.AddSource(context.Background(), fakeSourceConfig("src")))

	result, err := svc.ProcessAllDocuments(context.Background(), "src")
	require.NoError(t, err)

	assert.Equal(t, 3, result.Discovered)
	assert.Len(t, result.Processed, 2)
	require.Len(t, result.Failed, 1)
	assert.Equal(t, "doc-2", result.Failed[0].Document.ID)
	assert.Contains(t, result.Failed[0].Error, "fetch failed")
	assert.False(t, result.Succeeded())

	// A failed batch never advances the cursor.
	assert.Empty(t, handler.advanced)
}

func TestService_CleanBatchAdvancesCursor(t *testing.T) {
	now := time.Now()
	newest := now.Add(-time.Hour)
	handler := &fakeHandler{
		docs: []*models.Document{
			docWithTime("doc-1", now.Add(-2*time.Hour)),
			docWithTime("doc-2", newest),
		},
	}
	svc, _ := newTestEngine(t, handler)
	require.NoError(t, svc.AddSource(context.Background(), fakeSourceConfig("src")))

	result, err := svc.ProcessAllDocuments(context.Background(), "src")
	require.NoError(t, err)
	assert.True(t, result.Succeeded())

	require.Len(t, handler.advanced, 1)
	assert.True(t, handler.advanced[0].Equal(newest), "cursor advances to the newest document timestamp")
}

func TestService_UnchangedAndFilteredCounted(t *testing.T) {
	handler := &fakeHandler{
		docs: []*models.Document{
			{ID: "doc-new", SourceID: "src"},
			{ID: "doc-same", SourceID: "src"},
			{ID: "doc-junk", SourceID: "src"},
		},
		unchanged: map[string]bool{"doc-same": true},
		filtered:  map[string]bool{"doc-junk": true},
	}
	svc, _ := newTestEngine(t, handler)
	require.NoError(t, svc.AddSource(context.Background(), fakeSourceConfig("src")))

	result, err := svc.ProcessAllDocuments(context.Background(), "src")
	require.NoError(t, err)

	assert.Len(t, result.Processed, 1)
	assert.Equal(t, 1, result.Unchanged)
	assert.Equal(t, 1, result.Filtered)
	assert.Empty(t, result.Failed)
	assert.True(t, result.Succeeded(), "unchanged and filtered documents are not failures")
}

func TestService_ProcessDocumentExtractionErrorPropagates(t *testing.T) {
	// The handler fails only its first extraction. Even with retry options
	// declared, the engine makes a single attempt and surfaces the error;
	// retries are a caller concern and restart from discovery.
	handler := &fakeHandler{
		docs:           []*models.Document{{ID: "doc-1", SourceID: "src"}},
		extractErrOnce: map[string]error{"doc-1": errors.New("transient")},
	}

	logger := arbor.NewLogger()
	factory := sources.NewFactory(&sources.Dependencies{Logger: logger})
	ctor := func(cfg *models.SourceConfig, deps *sources.Dependencies) (interfaces.SourceHandler, error) {
		return handler, nil
	}
	require.NoError(t, factory.RegisterHandler("fake", ctor, false))
	registry := sources.NewRegistry(factory, logger)

	svc := NewService(registry, nil, Options{RetryAttempts: 3, RetryDelay: time.Millisecond}, logger)
	require.NoError(t, svc.AddSource(context.Background(), fakeSourceConfig("src")))

	transformed, err := svc.ProcessDocument(context.Background(), "src", handler.docs[0])
	require.Error(t, err)
	assert.Nil(t, transformed)

	var extractErr *models.ExtractionError
	assert.ErrorAs(t, err, &extractErr)
	assert.Equal(t, 1, handler.extractRuns["doc-1"], "single attempt, no internal retry")

	// A second, caller-driven pass succeeds.
	transformed, err = svc.ProcessDocument(context.Background(), "src", handler.docs[0])
	require.NoError(t, err)
	require.NotNil(t, transformed)
	assert.Equal(t, 2, handler.extractRuns["doc-1"])
}

func TestService_DiscoveryFailurePublishesEvent(t *testing.T) {
	handler := &fakeHandler{discoErr: errors.New("feed down")}
	svc, eventService := newTestEngine(t, handler)
	require.NoError(t, svc.AddSource(context.Background(), fakeSourceConfig("src")))

	var mu sync.Mutex
	var received []interfaces.EventType
	for _, et := range []interfaces.EventType{interfaces.EventDiscoveryStarted, interfaces.EventDiscoveryFailed} {
		eventType := et
		_, err := eventService.Subscribe(eventType, func(ctx context.Context, event interfaces.Event) error {
			mu.Lock()
			received = append(received, event.Type)
			mu.Unlock()
			return nil
		})
		require.NoError(t, err)
	}

	_, err := svc.ProcessAllDocuments(context.Background(), "src")
	require.Error(t, err)

	// Events are published asynchronously.
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 2
	}, time.Second, 10*time.Millisecond)
}

func TestService_ProcessAllSourcesContinuesPastFailures(t *testing.T) {
	broken := &fakeHandler{discoErr: errors.New("down")}
	healthy := &fakeHandler{docs: []*models.Document{{ID: "doc-1", SourceID: "good"}}}

	logger := arbor.NewLogger()
	factory := sources.NewFactory(&sources.Dependencies{Logger: logger})
	handlers := map[string]*fakeHandler{"bad": broken, "good": healthy}
	ctor := func(cfg *models.SourceConfig, deps *sources.Dependencies) (interfaces.SourceHandler, error) {
		return handlers[cfg.ID], nil
	}
	require.NoError(t, factory.RegisterHandler("fake", ctor, false))
	registry := sources.NewRegistry(factory, logger)

	svc := NewService(registry, nil, Options{}, logger)
	require.NoError(t, svc.AddSource(context.Background(), fakeSourceConfig("bad")))
	require.NoError(t, svc.AddSource(context.Background(), fakeSourceConfig("good")))

	results := svc.ProcessAllSources(context.Background())
	require.Len(t, results, 2)

	byID := map[string]*models.BatchResult{}
	for _, r := range results {
		byID[r.SourceID] = r
	}

	assert.False(t, byID["bad"].Succeeded())
	assert.True(t, byID["good"].Succeeded())
	assert.Len(t, byID["good"].Processed, 1)
}

func TestService_ProcessDocumentUnknownSource(t *testing.T) {
	svc, _ := newTestEngine(t, &fakeHandler{})

	_, err := svc.ProcessDocument(context.Background(), "ghost", &models.Document{ID: "doc"})
	require.Error(t, err)
}
