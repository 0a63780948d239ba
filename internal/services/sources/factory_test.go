package sources

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

// stubHandler is a minimal SourceHandler for factory and registry tests.
type stubHandler struct {
	initErr     error
	cleanupRuns int
	docs        []*models.Document
	extracted   map[string]*models.ExtractedContent
	extractErr  map[string]error
}

func (s *stubHandler) Initialize(ctx context.Context) error { return s.initErr }

func (s *stubHandler) ValidateConfig(cfg *models.SourceConfig) error { return nil }

func (s *stubHandler) Discover(ctx context.Context) ([]*models.Document, error) {
	return s.docs, nil
}

func (s *stubHandler) Extract(ctx context.Context, doc *models.Document) (*models.ExtractedContent, error) {
	if err := s.extractErr[doc.ID]; err != nil {
		return nil, err
	}
	if s.extracted == nil {
		return &models.ExtractedContent{ID: doc.ID, Content: "stub content"}, nil
	}
	return s.extracted[doc.ID], nil
}

func (s *stubHandler) Transform(content *models.ExtractedContent) (*models.TransformedDocument, error) {
	if content == nil {
		return nil, nil
	}
	if content.Filtered {
		return nil, nil
	}
	return &models.TransformedDocument{ID: content.ID, Title: "Stub", Content: content.Content}, nil
}

func (s *stubHandler) Cleanup() error {
	s.cleanupRuns++
	return nil
}

func stubSourceConfig(id, sourceType string) *models.SourceConfig {
	return &models.SourceConfig{
		ID:      id,
		Name:    id,
		Type:    sourceType,
		Enabled: true,
		Config:  map[string]interface{}{},
	}
}

func TestFactory_DefaultTypesRegistered(t *testing.T) {
	factory := NewFactory(testDeps())

	assert.Equal(t, []string{
		models.SourceTypeDynamicConsistent,
		models.SourceTypeDynamicUnstructured,
		models.SourceTypeSemiStatic,
		models.SourceTypeStatic,
	}, factory.RegisteredTypes())
}

func TestFactory_UnknownTypeIsConfigurationError(t *testing.T) {
	factory := NewFactory(testDeps())

	_, err := factory.CreateHandler(stubSourceConfig("s1", "telepathy"))
	require.Error(t, err)

	var cfgErr *models.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "type", cfgErr.Field)
}

func TestFactory_RegisterCustomType(t *testing.T) {
	factory := NewFactory(testDeps())

	ctor := func(cfg *models.SourceConfig, deps *Dependencies) (interfaces.SourceHandler, error) {
		return &stubHandler{}, nil
	}
	require.NoError(t, factory.RegisterHandler("custom", ctor, false))

	handler, err := factory.CreateHandler(stubSourceConfig("s1", "custom"))
	require.NoError(t, err)
	assert.NotNil(t, handler)
}

func TestFactory_DuplicateTypeNeedsOverride(t *testing.T) {
	factory := NewFactory(testDeps())

	ctor := func(cfg *models.SourceConfig, deps *Dependencies) (interfaces.SourceHandler, error) {
		return &stubHandler{}, nil
	}

	err := factory.RegisterHandler(models.SourceTypeStatic, ctor, false)
	require.Error(t, err, "replacing a built-in type requires the override flag")

	require.NoError(t, factory.RegisterHandler(models.SourceTypeStatic, ctor, true))

	handler, err := factory.CreateHandler(stubSourceConfig("s1", models.SourceTypeStatic))
	require.NoError(t, err)
	_, isStub := handler.(*stubHandler)
	assert.True(t, isStub)
}

func TestFactory_ValidateConfigRejectsInvalidSource(t *testing.T) {
	factory := NewFactory(testDeps())

	err := factory.ValidateConfig(&models.SourceConfig{
		ID:     "",
		Name:   "missing id",
		Type:   models.SourceTypeStatic,
		Config: map[string]interface{}{"basePath": "/tmp"},
	})
	require.Error(t, err)
}
