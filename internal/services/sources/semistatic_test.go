package sources

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/colligo/internal/models"
)

func semiStaticSourceConfig(endpoints ...SemiStaticEndpoint) *models.SourceConfig {
	eps := make([]interface{}, 0, len(endpoints))
	for _, e := range endpoints {
		eps = append(eps, map[string]interface{}{"name": e.Name, "url": e.URL})
	}
	return &models.SourceConfig{
		ID:      "semi-test",
		Name:    "Semi Test",
		Type:    models.SourceTypeSemiStatic,
		Enabled: true,
		Config:  map[string]interface{}{"endpoints": eps},
	}
}

func TestSemiStaticHandler_ConditionalGet(t *testing.T) {
	lastModified := time.Now().UTC().Add(-time.Hour).Format(http.TimeFormat)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("If-Modified-Since") == lastModified {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("Last-Modified", lastModified)
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("endpoint body"))
	}))
	defer server.Close()

	handler, err := NewSemiStaticHandler(
		semiStaticSourceConfig(SemiStaticEndpoint{Name: "status", URL: server.URL}),
		testDeps(),
	)
	require.NoError(t, err)
	require.NoError(t, handler.Initialize(context.Background()))

	docs, err := handler.Discover(context.Background())
	require.NoError(t, err)
	require.Len(t, docs, 1)

	// First fetch delivers the body and remembers Last-Modified.
	extracted, err := handler.Extract(context.Background(), docs[0])
	require.NoError(t, err)
	require.NotNil(t, extracted)
	assert.Equal(t, "conditional-get", extracted.Method)
	assert.Equal(t, "endpoint body", extracted.Content)

	// Second fetch hits 304: nil content, nil error means "unchanged".
	unchanged, err := handler.Extract(context.Background(), docs[0])
	require.NoError(t, err)
	assert.Nil(t, unchanged)
}

// memCursorStore is a map-backed cursor store for handler restart tests.
type memCursorStore struct {
	cursors map[string]time.Time
}

func newMemCursorStore() *memCursorStore {
	return &memCursorStore{cursors: make(map[string]time.Time)}
}

func (s *memCursorStore) GetCursor(sourceID string) (time.Time, bool, error) {
	t, ok := s.cursors[sourceID]
	return t, ok, nil
}

func (s *memCursorStore) SetCursor(sourceID string, t time.Time) error {
	s.cursors[sourceID] = t
	return nil
}

func (s *memCursorStore) DeleteCursor(sourceID string) error {
	delete(s.cursors, sourceID)
	return nil
}

func TestSemiStaticHandler_ConditionalGetSurvivesRestart(t *testing.T) {
	lastModified := time.Now().UTC().Add(-time.Hour).Format(http.TimeFormat)

	fullFetches := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("If-Modified-Since") == lastModified {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		if r.Method == http.MethodGet {
			fullFetches++
		}
		w.Header().Set("Last-Modified", lastModified)
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("endpoint body"))
	}))
	defer server.Close()

	store := newMemCursorStore()
	deps := testDeps()
	deps.CursorStore = store
	cfg := semiStaticSourceConfig(SemiStaticEndpoint{Name: "status", URL: server.URL})

	handler, err := NewSemiStaticHandler(cfg, deps)
	require.NoError(t, err)
	require.NoError(t, handler.Initialize(context.Background()))

	docs, err := handler.Discover(context.Background())
	require.NoError(t, err)
	require.Len(t, docs, 1)

	extracted, err := handler.Extract(context.Background(), docs[0])
	require.NoError(t, err)
	require.NotNil(t, extracted)
	assert.Equal(t, 1, fullFetches)

	// A fresh handler over the same store restores the validator at
	// Initialize: the unchanged endpoint still answers 304, not a refetch.
	restarted, err := NewSemiStaticHandler(cfg, deps)
	require.NoError(t, err)
	require.NoError(t, restarted.Initialize(context.Background()))

	docs, err = restarted.Discover(context.Background())
	require.NoError(t, err)
	require.Len(t, docs, 1)

	unchanged, err := restarted.Extract(context.Background(), docs[0])
	require.NoError(t, err)
	assert.Nil(t, unchanged)
	assert.Equal(t, 1, fullFetches, "restart does not refetch an unchanged endpoint")
}

func TestSemiStaticHandler_NotFoundIsNotFatal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	handler, err := NewSemiStaticHandler(
		semiStaticSourceConfig(SemiStaticEndpoint{Name: "gone", URL: server.URL}),
		testDeps(),
	)
	require.NoError(t, err)
	require.NoError(t, handler.Initialize(context.Background()))

	docs, err := handler.Discover(context.Background())
	require.NoError(t, err)
	require.Len(t, docs, 1)

	extracted, err := handler.Extract(context.Background(), docs[0])
	require.NoError(t, err)
	assert.Nil(t, extracted)
}

func TestSemiStaticHandler_ServerErrorIsExtractionError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	handler, err := NewSemiStaticHandler(
		semiStaticSourceConfig(SemiStaticEndpoint{Name: "broken", URL: server.URL}),
		testDeps(),
	)
	require.NoError(t, err)
	require.NoError(t, handler.Initialize(context.Background()))

	docs, err := handler.Discover(context.Background())
	require.NoError(t, err)
	require.Len(t, docs, 1)

	_, err = handler.Extract(context.Background(), docs[0])
	require.Error(t, err)

	var extractErr *models.ExtractionError
	assert.ErrorAs(t, err, &extractErr)
}

func TestSemiStaticHandler_TransformJSON(t *testing.T) {
	handler, err := NewSemiStaticHandler(
		semiStaticSourceConfig(SemiStaticEndpoint{Name: "api", URL: "http://example.com/api"}),
		testDeps(),
	)
	require.NoError(t, err)

	transformed, err := handler.Transform(&models.ExtractedContent{
		ID:      "doc-json",
		Content: `{"status":"ok","count":3}`,
		Metadata: map[string]interface{}{
			"endpoint":     "api",
			"content_type": "application/json",
		},
	})
	require.NoError(t, err)
	require.NotNil(t, transformed)
	assert.Equal(t, "api", transformed.Title)
	assert.Contains(t, transformed.Content, "\"status\": \"ok\"")
}

func TestSemiStaticHandler_TransformHTMLUsesPageTitle(t *testing.T) {
	handler, err := NewSemiStaticHandler(
		semiStaticSourceConfig(SemiStaticEndpoint{Name: "page", URL: "http://example.com/page"}),
		testDeps(),
	)
	require.NoError(t, err)

	transformed, err := handler.Transform(&models.ExtractedContent{
		ID:      "doc-html",
		Content: "<html><head><title>Release Notes</title></head><body><p>Body text.</p></body></html>",
		Metadata: map[string]interface{}{
			"endpoint":     "page",
			"content_type": "text/html",
		},
	})
	require.NoError(t, err)
	require.NotNil(t, transformed)
	assert.Equal(t, "Release Notes", transformed.Title)
	assert.Contains(t, transformed.Content, "Body text.")
	assert.NotContains(t, transformed.Content, "<p>")
}

func TestSemiStaticHandler_TransformNilMeansUnchanged(t *testing.T) {
	handler, err := NewSemiStaticHandler(
		semiStaticSourceConfig(SemiStaticEndpoint{Name: "x", URL: "http://example.com/x"}),
		testDeps(),
	)
	require.NoError(t, err)

	transformed, err := handler.Transform(nil)
	require.NoError(t, err)
	assert.Nil(t, transformed)
}

func TestSemiStaticHandler_RequiresEndpoints(t *testing.T) {
	cfg := &models.SourceConfig{
		ID:      "semi-empty",
		Name:    "Empty",
		Type:    models.SourceTypeSemiStatic,
		Enabled: true,
		Config:  map[string]interface{}{"endpoints": []interface{}{}},
	}

	_, err := NewSemiStaticHandler(cfg, testDeps())
	require.Error(t, err)

	var cfgErr *models.ConfigurationError
	assert.ErrorAs(t, err, &cfgErr)
}
