package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/httpclient"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

// defaultCursorLookback bounds the first run of a consistent source when no
// persisted cursor exists.
const defaultCursorLookback = 24 * time.Hour

// defaultMinInlineLength is the inline-content length below which extract
// falls back to a permalink fetch.
const defaultMinInlineLength = 200

// ConsistentConfig is the type-specific configuration for a regularly
// updated structured source: a feed or a paged JSON API.
type ConsistentConfig struct {
	URL  string `json:"url" validate:"required,url"`
	Kind string `json:"kind,omitempty" validate:"omitempty,oneof=feed api"` // default feed

	// API mapping, used when Kind is "api".
	ItemsField   string `json:"itemsField,omitempty"`   // default "items"
	TitleField   string `json:"titleField,omitempty"`   // default "title"
	URLField     string `json:"urlField,omitempty"`     // default "url"
	ContentField string `json:"contentField,omitempty"` // default "content"
	DateField    string `json:"dateField,omitempty"`    // default "date"

	MinInlineLength int `json:"minInlineLength,omitempty"`
	TimeoutSeconds  int `json:"timeoutSeconds,omitempty"`
}

func (c *ConsistentConfig) kind() string {
	if c.Kind == "" {
		return "feed"
	}
	return c.Kind
}

func (c *ConsistentConfig) field(configured, fallback string) string {
	if configured != "" {
		return configured
	}
	return fallback
}

func (c *ConsistentConfig) minInlineLength() int {
	if c.MinInlineLength > 0 {
		return c.MinInlineLength
	}
	return defaultMinInlineLength
}

// ConsistentHandler handles regularly-updated structured sources. Discovery
// filters entries to those newer than the lastSyncTime cursor; the cursor
// is advanced only by an explicit AdvanceCursor call after a successful
// run, never automatically, preserving at-least-once semantics.
type ConsistentHandler struct {
	sourceID   string
	visibility string
	config     ConsistentConfig
	auth       *models.AuthConfig
	client     *http.Client
	timeout    time.Duration
	parser     FeedParser

	lastSyncTime time.Time

	cursorStore interfaces.CursorStore
	logger      arbor.ILogger
}

// NewConsistentHandler creates an uninitialized dynamic-consistent handler.
func NewConsistentHandler(cfg *models.SourceConfig, deps *Dependencies) (*ConsistentHandler, error) {
	var cc ConsistentConfig
	if err := decodeConfig(cfg.Config, &cc); err != nil {
		return nil, &models.ConfigurationError{SourceID: cfg.ID, Field: "config", Message: err.Error()}
	}

	timeout := deps.HTTPTimeout
	if cc.TimeoutSeconds > 0 {
		timeout = time.Duration(cc.TimeoutSeconds) * time.Second
	}

	parser := deps.FeedParser
	if parser == nil {
		parser = NewXMLFeedParser(deps.Logger)
	}

	return &ConsistentHandler{
		sourceID:    cfg.ID,
		visibility:  cfg.VisibilityOrDefault(),
		config:      cc,
		auth:        cfg.Auth,
		timeout:     timeout,
		parser:      parser,
		cursorStore: deps.CursorStore,
		logger:      deps.Logger,
	}, nil
}

// ValidateConfig checks the feed/API configuration.
func (h *ConsistentHandler) ValidateConfig(cfg *models.SourceConfig) error {
	var cc ConsistentConfig
	if err := decodeConfig(cfg.Config, &cc); err != nil {
		return &models.ConfigurationError{SourceID: cfg.ID, Field: "config.url", Message: err.Error()}
	}
	return nil
}

// Initialize builds the authenticated transport, verifies reachability and
// restores the cursor, defaulting to the 24h lookback window.
func (h *ConsistentHandler) Initialize(ctx context.Context) error {
	client, err := httpclient.NewHTTPClientWithAuth(h.auth, h.timeout)
	if err != nil {
		return &models.InitializationError{SourceID: h.sourceID, Err: err}
	}
	h.client = client

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, h.config.URL, nil)
	if err != nil {
		return &models.InitializationError{SourceID: h.sourceID, Err: err}
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return &models.InitializationError{SourceID: h.sourceID, Err: fmt.Errorf("source unreachable: %w", err)}
	}
	resp.Body.Close()

	h.lastSyncTime = time.Now().Add(-defaultCursorLookback)
	if h.cursorStore != nil {
		if t, ok, err := h.cursorStore.GetCursor(h.sourceID); err != nil {
			h.logger.Warn().Err(err).Str("source_id", h.sourceID).Msg("Failed to restore sync cursor")
		} else if ok {
			h.lastSyncTime = t
		}
	}

	h.logger.Info().
		Str("source_id", h.sourceID).
		Str("kind", h.config.kind()).
		Str("url", h.config.URL).
		Str("last_sync_time", h.lastSyncTime.Format(time.RFC3339)).
		Msg("Dynamic-consistent source initialized")

	return nil
}

// Discover fetches the feed/API and converts entries newer than the cursor
// to Documents. This filter is the correctness contract that prevents
// reprocessing.
func (h *ConsistentHandler) Discover(ctx context.Context) ([]*models.Document, error) {
	if h.client == nil {
		return nil, &models.DiscoveryError{SourceID: h.sourceID, Err: fmt.Errorf("handler not initialized")}
	}

	body, err := h.fetch(ctx, h.config.URL)
	if err != nil {
		return nil, &models.DiscoveryError{SourceID: h.sourceID, Err: err}
	}

	var entries []FeedEntry
	switch h.config.kind() {
	case "api":
		entries, err = h.parseAPIItems(body)
	default:
		var feed *Feed
		feed, err = h.parser.Parse(body)
		if feed != nil {
			entries = feed.Entries
		}
	}
	if err != nil {
		return nil, &models.DiscoveryError{SourceID: h.sourceID, Err: err}
	}

	var documents []*models.Document
	for _, entry := range entries {
		// Undated entries pass through; only dated entries at or before the
		// cursor are filtered out.
		if entry.Published != nil && !entry.Published.After(h.lastSyncTime) {
			continue
		}

		canonical := entry.GUID
		if canonical == "" {
			canonical = entry.Link
		}

		documents = append(documents, &models.Document{
			ID:           common.DocumentID(canonical),
			SourceID:     h.sourceID,
			SourceType:   models.SourceTypeDynamicConsistent,
			URL:          entry.Link,
			ContentType:  "text/html",
			LastModified: entry.Published,
			Metadata: map[string]interface{}{
				"guid":           entry.GUID,
				"entry_title":    entry.Title,
				"inline_content": entry.Content,
			},
			DiscoveredAt: time.Now(),
		})
	}

	h.logger.Info().
		Str("source_id", h.sourceID).
		Int("entries", len(entries)).
		Int("new_documents", len(documents)).
		Str("cursor", h.lastSyncTime.Format(time.RFC3339)).
		Msg("Consistent discovery completed")

	return documents, nil
}

// Extract uses inline entry content when it is substantial; short or absent
// inline content triggers a secondary permalink fetch with text extraction.
func (h *ConsistentHandler) Extract(ctx context.Context, doc *models.Document) (*models.ExtractedContent, error) {
	inline, _ := doc.Metadata["inline_content"].(string)

	if len(CollapseWhitespace(HTMLToText(inline))) >= h.config.minInlineLength() {
		return &models.ExtractedContent{
			ID:          doc.ID,
			Content:     inline,
			ContentHash: common.ContentHash([]byte(inline)),
			ExtractedAt: time.Now(),
			Method:      "inline",
			Metadata: map[string]interface{}{
				"entry_title": doc.Metadata["entry_title"],
			},
		}, nil
	}

	if doc.URL == "" {
		// Nothing to fetch; use whatever inline content exists.
		return &models.ExtractedContent{
			ID:          doc.ID,
			Content:     inline,
			ContentHash: common.ContentHash([]byte(inline)),
			ExtractedAt: time.Now(),
			Method:      "inline",
			Metadata: map[string]interface{}{
				"entry_title": doc.Metadata["entry_title"],
			},
		}, nil
	}

	body, err := h.fetch(ctx, doc.URL)
	if err != nil {
		return nil, &models.ExtractionError{DocumentID: doc.ID, Err: err}
	}

	return &models.ExtractedContent{
		ID:          doc.ID,
		Content:     string(body),
		ContentHash: common.ContentHash(body),
		ExtractedAt: time.Now(),
		Method:      "permalink-fetch",
		Metadata: map[string]interface{}{
			"entry_title": doc.Metadata["entry_title"],
			"url":         doc.URL,
		},
	}, nil
}

// Transform strips markup, normalizes whitespace and computes counts.
func (h *ConsistentHandler) Transform(content *models.ExtractedContent) (*models.TransformedDocument, error) {
	if content == nil {
		return nil, nil
	}

	text := HTMLToText(content.Content)

	title, _ := content.Metadata["entry_title"].(string)
	if title == "" {
		title = ExtractHTMLTitle(content.Content)
	}

	return &models.TransformedDocument{
		ID:          content.ID,
		Title:       title,
		Content:     text,
		ContentHash: content.ContentHash,
		Metadata: map[string]interface{}{
			"source_id":  h.sourceID,
			"visibility": h.visibility,
			"word_count": WordCount(text),
			"char_count": len(text),
		},
		ProcessedAt: time.Now(),
	}, nil
}

// Cleanup drops idle connections. The cursor is already persisted on each
// advance, so nothing else needs flushing.
func (h *ConsistentHandler) Cleanup() error {
	if h.client != nil {
		h.client.CloseIdleConnections()
	}
	return nil
}

// AdvanceCursor moves lastSyncTime forward and persists it. Called by the
// engine only after a batch completes without failures.
func (h *ConsistentHandler) AdvanceCursor(t time.Time) {
	if !t.After(h.lastSyncTime) {
		return
	}
	h.lastSyncTime = t

	if h.cursorStore != nil {
		if err := h.cursorStore.SetCursor(h.sourceID, t); err != nil {
			h.logger.Warn().Err(err).Str("source_id", h.sourceID).Msg("Failed to persist sync cursor")
		}
	}

	h.logger.Debug().
		Str("source_id", h.sourceID).
		Str("cursor", t.Format(time.RFC3339)).
		Msg("Sync cursor advanced")
}

// Cursor returns the current lastSyncTime watermark.
func (h *ConsistentHandler) Cursor() time.Time {
	return h.lastSyncTime
}

// fetch GETs a URL and returns the body for 2xx responses.
func (h *ConsistentHandler) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url)
	}

	return io.ReadAll(resp.Body)
}

// parseAPIItems maps a JSON API response to feed entries using the
// configured field names. Malformed items are skipped with a warning.
func (h *ConsistentHandler) parseAPIItems(body []byte) ([]FeedEntry, error) {
	var payload map[string]interface{}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("failed to parse API response: %w", err)
	}

	itemsField := h.config.field(h.config.ItemsField, "items")
	rawItems, ok := payload[itemsField].([]interface{})
	if !ok {
		return nil, fmt.Errorf("API response missing items array %q", itemsField)
	}

	entries := make([]FeedEntry, 0, len(rawItems))
	for i, raw := range rawItems {
		item, ok := raw.(map[string]interface{})
		if !ok {
			h.logger.Warn().Int("index", i).Msg("Skipping malformed API item")
			continue
		}

		url, _ := item[h.config.field(h.config.URLField, "url")].(string)
		title, _ := item[h.config.field(h.config.TitleField, "title")].(string)
		content, _ := item[h.config.field(h.config.ContentField, "content")].(string)
		if url == "" {
			h.logger.Warn().Int("index", i).Msg("Skipping API item without URL")
			continue
		}

		var published *time.Time
		if dateStr, ok := item[h.config.field(h.config.DateField, "date")].(string); ok && dateStr != "" {
			for _, format := range feedDateFormats {
				if t, err := time.Parse(format, dateStr); err == nil {
					published = &t
					break
				}
			}
		}

		entries = append(entries, FeedEntry{
			Title:     title,
			Link:      url,
			GUID:      url,
			Content:   content,
			Published: published,
		})
	}

	return entries, nil
}
