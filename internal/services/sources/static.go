package sources

import (
	"context"
	"fmt"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/models"
)

// defaultStaticExtensions is the allow-list applied when a static source
// does not configure its own. Text and document types only.
var defaultStaticExtensions = []string{
	".md", ".markdown", ".txt", ".text", ".html", ".htm",
	".json", ".csv", ".rst", ".adoc", ".xml", ".yaml", ".yml",
}

// binaryExtensions are recognized but never decoded; extraction produces an
// opaque placeholder instead.
var binaryExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".webp": true,
	".pdf": true, ".zip": true, ".gz": true, ".tar": true,
	".exe": true, ".bin": true, ".so": true, ".dll": true,
	".docx": true, ".xlsx": true, ".pptx": true,
}

// ignoredDirNames are directory names skipped during the walk in addition
// to any dot-prefixed directory.
var ignoredDirNames = map[string]bool{
	"node_modules": true,
	"vendor":       true,
	"__pycache__":  true,
	"target":       true,
	"dist":         true,
}

// StaticConfig is the type-specific configuration for a static source.
type StaticConfig struct {
	BasePath        string   `json:"basePath" validate:"required"`
	Recursive       *bool    `json:"recursive,omitempty"` // default true
	IncludePatterns []string `json:"includePatterns,omitempty"`
	ExcludePatterns []string `json:"excludePatterns,omitempty"`
	Extensions      []string `json:"extensions,omitempty"`
}

func (c *StaticConfig) recursive() bool {
	return c.Recursive == nil || *c.Recursive
}

func (c *StaticConfig) extensions() []string {
	if len(c.Extensions) > 0 {
		return c.Extensions
	}
	return defaultStaticExtensions
}

// StaticHandler performs one-time bulk discovery over a local file tree.
type StaticHandler struct {
	sourceID   string
	visibility string
	config     StaticConfig
	basePath   string // absolute, resolved at Initialize
	logger     arbor.ILogger
}

// NewStaticHandler creates an uninitialized static source handler.
func NewStaticHandler(cfg *models.SourceConfig, deps *Dependencies) (*StaticHandler, error) {
	var sc StaticConfig
	if err := decodeConfig(cfg.Config, &sc); err != nil {
		return nil, &models.ConfigurationError{SourceID: cfg.ID, Field: "config", Message: err.Error()}
	}

	return &StaticHandler{
		sourceID:   cfg.ID,
		visibility: cfg.VisibilityOrDefault(),
		config:     sc,
		logger:     deps.Logger,
	}, nil
}

// ValidateConfig checks the static-specific config fields without mutating
// the config or touching the filesystem.
func (h *StaticHandler) ValidateConfig(cfg *models.SourceConfig) error {
	var sc StaticConfig
	if err := decodeConfig(cfg.Config, &sc); err != nil {
		return &models.ConfigurationError{SourceID: cfg.ID, Field: "config.basePath", Message: err.Error()}
	}
	if strings.TrimSpace(sc.BasePath) == "" {
		return &models.ConfigurationError{SourceID: cfg.ID, Field: "config.basePath", Message: "basePath is required"}
	}
	return nil
}

// Initialize resolves and verifies the base path.
func (h *StaticHandler) Initialize(ctx context.Context) error {
	abs, err := filepath.Abs(h.config.BasePath)
	if err != nil {
		return &models.InitializationError{SourceID: h.sourceID, Err: err}
	}

	info, err := os.Stat(abs)
	if err != nil {
		return &models.InitializationError{SourceID: h.sourceID, Err: fmt.Errorf("base path not accessible: %w", err)}
	}
	if !info.IsDir() {
		return &models.InitializationError{SourceID: h.sourceID, Err: fmt.Errorf("base path is not a directory: %s", abs)}
	}

	h.basePath = abs

	h.logger.Info().
		Str("source_id", h.sourceID).
		Str("base_path", abs).
		Bool("recursive", h.config.recursive()).
		Msg("Static source initialized")

	return nil
}

// Discover walks the file tree and emits one Document per matching file.
// No file bodies are read. The walk is lexical, so two discoveries over an
// unchanged tree yield identical id sets.
func (h *StaticHandler) Discover(ctx context.Context) ([]*models.Document, error) {
	if h.basePath == "" {
		return nil, &models.DiscoveryError{SourceID: h.sourceID, Err: fmt.Errorf("handler not initialized")}
	}

	var documents []*models.Document

	err := filepath.WalkDir(h.basePath, func(path string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			h.logger.Warn().Err(walkErr).Str("path", path).Msg("Skipping unreadable path")
			if entry != nil && entry.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		if entry.IsDir() {
			if path == h.basePath {
				return nil
			}
			name := entry.Name()
			if strings.HasPrefix(name, ".") || ignoredDirNames[name] {
				return filepath.SkipDir
			}
			if !h.config.recursive() {
				return filepath.SkipDir
			}
			return nil
		}

		if !h.matchesFile(path, entry.Name()) {
			return nil
		}

		info, err := entry.Info()
		if err != nil {
			h.logger.Warn().Err(err).Str("path", path).Msg("Failed to stat file")
			return nil
		}

		modTime := info.ModTime()
		documents = append(documents, &models.Document{
			ID:           common.DocumentID(path),
			SourceID:     h.sourceID,
			SourceType:   models.SourceTypeStatic,
			URL:          path,
			ContentType:  contentTypeForPath(path),
			LastModified: &modTime,
			Metadata: map[string]interface{}{
				"filename": entry.Name(),
				"size":     info.Size(),
			},
			DiscoveredAt: time.Now(),
		})

		return nil
	})
	if err != nil {
		return nil, &models.DiscoveryError{SourceID: h.sourceID, Err: err}
	}

	h.logger.Info().
		Str("source_id", h.sourceID).
		Int("documents", len(documents)).
		Msg("Static discovery completed")

	return documents, nil
}

// matchesFile applies the extension allow-list and include/exclude
// substring filters.
func (h *StaticHandler) matchesFile(path, name string) bool {
	if strings.HasPrefix(name, ".") {
		return false
	}

	ext := strings.ToLower(filepath.Ext(name))
	allowed := false
	for _, e := range h.config.extensions() {
		if strings.EqualFold(e, ext) {
			allowed = true
			break
		}
	}
	if !allowed {
		return false
	}

	for _, pattern := range h.config.ExcludePatterns {
		if pattern != "" && strings.Contains(path, pattern) {
			return false
		}
	}

	if len(h.config.IncludePatterns) > 0 {
		for _, pattern := range h.config.IncludePatterns {
			if pattern != "" && strings.Contains(path, pattern) {
				return true
			}
		}
		return false
	}

	return true
}

// Extract reads the file body. Recognized binary extensions produce an
// opaque placeholder rather than decoded content.
func (h *StaticHandler) Extract(ctx context.Context, doc *models.Document) (*models.ExtractedContent, error) {
	path := doc.URL
	ext := strings.ToLower(filepath.Ext(path))

	info, err := os.Stat(path)
	if err != nil {
		return nil, &models.ExtractionError{DocumentID: doc.ID, Err: err}
	}

	if binaryExtensions[ext] {
		placeholder := fmt.Sprintf("[binary file: %s, %d bytes]", filepath.Base(path), info.Size())
		return &models.ExtractedContent{
			ID:          doc.ID,
			Content:     placeholder,
			ContentHash: common.ContentHash([]byte(placeholder)),
			ExtractedAt: time.Now(),
			Method:      "placeholder",
			Metadata: map[string]interface{}{
				"path":         path,
				"content_type": doc.ContentType,
				"extension":    ext,
				"size":         info.Size(),
			},
		}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &models.ExtractionError{DocumentID: doc.ID, Err: err}
	}

	return &models.ExtractedContent{
		ID:          doc.ID,
		Content:     string(data),
		ContentHash: common.ContentHash(data),
		ExtractedAt: time.Now(),
		Method:      "file-read",
		Metadata: map[string]interface{}{
			"path":         path,
			"content_type": doc.ContentType,
			"extension":    ext,
			"size":         info.Size(),
		},
	}, nil
}

// Transform normalizes the content and derives a title: Markdown H1 or HTML
// <title>, falling back to the filename stem. Pure, no I/O.
func (h *StaticHandler) Transform(content *models.ExtractedContent) (*models.TransformedDocument, error) {
	if content == nil {
		return nil, nil
	}

	path, _ := content.Metadata["path"].(string)
	contentType, _ := content.Metadata["content_type"].(string)

	var title string
	switch {
	case strings.Contains(contentType, "markdown"):
		title = ExtractMarkdownTitle([]byte(content.Content))
	case strings.Contains(contentType, "html"):
		title = ExtractHTMLTitle(content.Content)
	}
	if title == "" && path != "" {
		title = FilenameStem(path)
	}

	normalized := NormalizeText(content.Content)

	return &models.TransformedDocument{
		ID:          content.ID,
		Title:       title,
		Content:     normalized,
		ContentHash: content.ContentHash,
		Metadata: map[string]interface{}{
			"source_id":  h.sourceID,
			"visibility": h.visibility,
			"word_count": WordCount(normalized),
			"char_count": len(normalized),
			"path":       path,
		},
		ProcessedAt: time.Now(),
	}, nil
}

// Cleanup releases nothing for a static source; it exists to satisfy the
// contract and stays idempotent.
func (h *StaticHandler) Cleanup() error {
	return nil
}

// contentTypeForPath maps a file extension to a MIME content type.
func contentTypeForPath(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".md", ".markdown":
		return "text/markdown"
	case ".txt", ".text", ".rst", ".adoc":
		return "text/plain"
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "text/plain"
}
