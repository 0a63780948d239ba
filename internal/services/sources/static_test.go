package sources

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/colligo/internal/models"
)

func testDeps() *Dependencies {
	return &Dependencies{Logger: arbor.NewLogger()}
}

func staticSourceConfig(t *testing.T, basePath string, extra map[string]interface{}) *models.SourceConfig {
	t.Helper()

	config := map[string]interface{}{"basePath": basePath}
	for k, v := range extra {
		config[k] = v
	}

	return &models.SourceConfig{
		ID:      "static-test",
		Name:    "Static Test",
		Type:    models.SourceTypeStatic,
		Enabled: true,
		Config:  config,
	}
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestStaticHandler_DiscoverAndTransform(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.md", "# Title\n\nSome body text.")
	writeFile(t, dir, "b.bin", "\x00\x01\x02")

	handler, err := NewStaticHandler(staticSourceConfig(t, dir, nil), testDeps())
	require.NoError(t, err)
	require.NoError(t, handler.Initialize(context.Background()))

	docs, err := handler.Discover(context.Background())
	require.NoError(t, err)
	require.Len(t, docs, 1, "only a.md passes the extension allow-list")

	doc := docs[0]
	assert.Equal(t, "text/markdown", doc.ContentType)
	assert.Equal(t, "a.md", doc.Metadata["filename"])

	extracted, err := handler.Extract(context.Background(), doc)
	require.NoError(t, err)
	require.NotNil(t, extracted)
	assert.Equal(t, "file-read", extracted.Method)

	transformed, err := handler.Transform(extracted)
	require.NoError(t, err)
	require.NotNil(t, transformed)
	assert.Equal(t, "Title", transformed.Title)
	assert.Equal(t, doc.ID, transformed.ID)
	assert.Equal(t, "static-test", transformed.Metadata["source_id"])
	assert.Equal(t, "internal", transformed.Metadata["visibility"])
	assert.Equal(t, 5, transformed.Metadata["word_count"])
}

func TestStaticHandler_DiscoveryIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "one.txt", "first")
	writeFile(t, dir, "sub/two.txt", "second")

	handler, err := NewStaticHandler(staticSourceConfig(t, dir, nil), testDeps())
	require.NoError(t, err)
	require.NoError(t, handler.Initialize(context.Background()))

	first, err := handler.Discover(context.Background())
	require.NoError(t, err)
	second, err := handler.Discover(context.Background())
	require.NoError(t, err)

	require.Len(t, first, 2)
	require.Len(t, second, 2)
	for i := range first {
		assert.Equal(t, first[i].ID, second[i].ID)
	}
}

func TestStaticHandler_SkipsDotAndIgnoredDirs(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "keep.md", "kept")
	writeFile(t, dir, ".hidden/skip.md", "hidden")
	writeFile(t, dir, "node_modules/skip.md", "dep")
	writeFile(t, dir, ".dotfile.md", "dotfile")

	handler, err := NewStaticHandler(staticSourceConfig(t, dir, nil), testDeps())
	require.NoError(t, err)
	require.NoError(t, handler.Initialize(context.Background()))

	docs, err := handler.Discover(context.Background())
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "keep.md", docs[0].Metadata["filename"])
}

func TestStaticHandler_NonRecursive(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "top.md", "top")
	writeFile(t, dir, "nested/below.md", "below")

	recursive := false
	cfg := staticSourceConfig(t, dir, map[string]interface{}{"recursive": recursive})

	handler, err := NewStaticHandler(cfg, testDeps())
	require.NoError(t, err)
	require.NoError(t, handler.Initialize(context.Background()))

	docs, err := handler.Discover(context.Background())
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "top.md", docs[0].Metadata["filename"])
}

func TestStaticHandler_ExcludePatterns(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "doc.md", "doc")
	writeFile(t, dir, "draft-notes.md", "draft")

	cfg := staticSourceConfig(t, dir, map[string]interface{}{
		"excludePatterns": []string{"draft"},
	})

	handler, err := NewStaticHandler(cfg, testDeps())
	require.NoError(t, err)
	require.NoError(t, handler.Initialize(context.Background()))

	docs, err := handler.Discover(context.Background())
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "doc.md", docs[0].Metadata["filename"])
}

func TestStaticHandler_BinaryPlaceholder(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "image.png", "not really a png")

	cfg := staticSourceConfig(t, dir, map[string]interface{}{
		"extensions": []string{".png"},
	})

	handler, err := NewStaticHandler(cfg, testDeps())
	require.NoError(t, err)
	require.NoError(t, handler.Initialize(context.Background()))

	docs, err := handler.Discover(context.Background())
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, path, docs[0].URL)

	extracted, err := handler.Extract(context.Background(), docs[0])
	require.NoError(t, err)
	assert.Equal(t, "placeholder", extracted.Method)
	assert.Contains(t, extracted.Content, "[binary file: image.png")
}

func TestStaticHandler_MissingBasePath(t *testing.T) {
	handler, err := NewStaticHandler(staticSourceConfig(t, "/nonexistent/path/colligo", nil), testDeps())
	require.NoError(t, err)

	err = handler.Initialize(context.Background())
	require.Error(t, err)

	var initErr *models.InitializationError
	assert.ErrorAs(t, err, &initErr)
}

func TestStaticHandler_ValidateConfigRequiresBasePath(t *testing.T) {
	cfg := &models.SourceConfig{
		ID:      "bad-static",
		Name:    "Bad",
		Type:    models.SourceTypeStatic,
		Enabled: true,
		Config:  map[string]interface{}{},
	}

	_, err := NewStaticHandler(cfg, testDeps())
	require.Error(t, err)

	var cfgErr *models.ConfigurationError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestStaticHandler_TitleFallsBackToFilename(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "release-notes.txt", "no heading here")

	handler, err := NewStaticHandler(staticSourceConfig(t, dir, nil), testDeps())
	require.NoError(t, err)
	require.NoError(t, handler.Initialize(context.Background()))

	docs, err := handler.Discover(context.Background())
	require.NoError(t, err)
	require.Len(t, docs, 1)

	extracted, err := handler.Extract(context.Background(), docs[0])
	require.NoError(t, err)

	transformed, err := handler.Transform(extracted)
	require.NoError(t, err)
	assert.Equal(t, "release-notes", transformed.Title)
}
