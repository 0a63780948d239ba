package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/httpclient"
	"github.com/ternarybob/colligo/internal/models"
)

// Review heuristic bounds. Content outside these is still delivered but
// flagged needs_review for downstream triage.
const (
	reviewMinWords = 50
	reviewMaxChars = 500000
)

// errorPageMarkers are phrases that indicate a rendered page is an error
// page rather than real content.
var errorPageMarkers = []string{
	"404 not found",
	"page not found",
	"access denied",
}

// TargetConfig is one discovery target of an unstructured source. Each
// target selects its own crawl strategy.
type TargetConfig struct {
	Name     string `json:"name" validate:"required"`
	Strategy string `json:"strategy" validate:"required,oneof=web_crawler sitemap search_api rss_discovery"`
	URL      string `json:"url" validate:"required,url"`

	// web_crawler bounds.
	MaxDepth       int      `json:"maxDepth,omitempty"`
	MaxPages       int      `json:"maxPages,omitempty"`
	AllowedDomains []string `json:"allowedDomains,omitempty"`
	RespectRobots  bool     `json:"respectRobots,omitempty"`

	// search_api mapping.
	ItemsField string `json:"itemsField,omitempty"` // default "results"

	// sitemap / rss_discovery cap.
	MaxURLs int `json:"maxUrls,omitempty"`
}

// SelectorConfig holds the CSS selectors used to pull fields out of a
// rendered page. Empty selectors fall back to whole-page extraction.
type SelectorConfig struct {
	Content string `json:"content,omitempty"`
	Title   string `json:"title,omitempty"`
	Author  string `json:"author,omitempty"`
	Date    string `json:"date,omitempty"`
}

// UnstructuredConfig is the type-specific configuration for a
// dynamic-unstructured source: crawl targets, selectors and filters.
type UnstructuredConfig struct {
	Targets        []TargetConfig       `json:"targets" validate:"required,min=1,dive"`
	Selectors      SelectorConfig       `json:"selectors,omitempty"`
	Filters        *ContentFilterConfig `json:"filters,omitempty"`
	RequestDelayMs int                  `json:"requestDelayMs,omitempty"`
}

// UnstructuredHandler handles irregular sources that need full browser
// rendering. Discovery runs over plain HTTP per target strategy; the
// headless browser is started lazily on first Extract, so sources that only
// discover never pay the browser cost.
type UnstructuredHandler struct {
	sourceID   string
	visibility string
	config     UnstructuredConfig
	auth       *models.AuthConfig

	client    *http.Client
	crawler   *crawler
	limiter   Limiter
	userAgent string
	timeout   time.Duration

	browser     *BrowserPool
	browserOnce sync.Once
	browserErr  error

	converter *md.Converter
	filter    *ContentFilter
	logger    arbor.ILogger
}

// NewUnstructuredHandler creates an uninitialized dynamic-unstructured
// handler.
func NewUnstructuredHandler(cfg *models.SourceConfig, deps *Dependencies) (*UnstructuredHandler, error) {
	var uc UnstructuredConfig
	if err := decodeConfig(cfg.Config, &uc); err != nil {
		return nil, &models.ConfigurationError{SourceID: cfg.ID, Field: "config", Message: err.Error()}
	}

	limiter := deps.Limiter
	if limiter == nil {
		limiter = NewFixedDelayLimiter(time.Duration(uc.RequestDelayMs) * time.Millisecond)
	}

	browserCfg := deps.Browser
	if browserCfg.UserAgent == "" {
		browserCfg.UserAgent = deps.UserAgent
	}
	if browserCfg.RequestTimeout <= 0 {
		browserCfg.RequestTimeout = deps.HTTPTimeout
	}

	return &UnstructuredHandler{
		sourceID:   cfg.ID,
		visibility: cfg.VisibilityOrDefault(),
		config:     uc,
		auth:       cfg.Auth,
		limiter:    limiter,
		userAgent:  deps.UserAgent,
		timeout:    deps.HTTPTimeout,
		browser:    NewBrowserPool(browserCfg, deps.Logger),
		converter:  md.NewConverter("", true, nil),
		filter:     NewContentFilter(uc.Filters),
		logger:     deps.Logger,
	}, nil
}

// ValidateConfig checks the targets, strategies and selectors.
func (h *UnstructuredHandler) ValidateConfig(cfg *models.SourceConfig) error {
	var uc UnstructuredConfig
	if err := decodeConfig(cfg.Config, &uc); err != nil {
		return &models.ConfigurationError{SourceID: cfg.ID, Field: "config.targets", Message: err.Error()}
	}
	return nil
}

// Initialize builds the HTTP client and crawler. The browser pool stays
// cold until extraction needs it.
func (h *UnstructuredHandler) Initialize(ctx context.Context) error {
	client, err := httpclient.NewHTTPClientWithAuth(h.auth, h.timeout)
	if err != nil {
		return &models.InitializationError{SourceID: h.sourceID, Err: err}
	}
	h.client = client
	h.crawler = newCrawler(client, h.limiter, h.logger)

	h.logger.Info().
		Str("source_id", h.sourceID).
		Int("targets", len(h.config.Targets)).
		Msg("Dynamic-unstructured source initialized")

	return nil
}

// Discover runs each target's strategy and unions the results. URLs found
// by multiple targets yield one document; a failing target is logged and
// skipped so one bad sitemap cannot sink the rest.
func (h *UnstructuredHandler) Discover(ctx context.Context) ([]*models.Document, error) {
	if h.client == nil {
		return nil, &models.DiscoveryError{SourceID: h.sourceID, Err: fmt.Errorf("handler not initialized")}
	}

	var documents []*models.Document
	seen := make(map[string]bool)
	failed := 0

	for _, target := range h.config.Targets {
		if err := ctx.Err(); err != nil {
			return documents, &models.DiscoveryError{SourceID: h.sourceID, Err: err}
		}

		urls, err := h.discoverTarget(ctx, target)
		if err != nil {
			failed++
			h.logger.Warn().
				Err(err).
				Str("source_id", h.sourceID).
				Str("target", target.Name).
				Str("strategy", target.Strategy).
				Msg("Target discovery failed, continuing with remaining targets")
			continue
		}

		for _, u := range urls {
			id := common.DocumentID(u)
			if seen[id] {
				continue
			}
			seen[id] = true

			documents = append(documents, &models.Document{
				ID:          id,
				SourceID:    h.sourceID,
				SourceType:  models.SourceTypeDynamicUnstructured,
				URL:         u,
				ContentType: "text/html",
				Metadata: map[string]interface{}{
					"target":   target.Name,
					"strategy": target.Strategy,
				},
				DiscoveredAt: time.Now(),
			})
		}
	}

	if failed == len(h.config.Targets) && failed > 0 {
		return nil, &models.DiscoveryError{
			SourceID: h.sourceID,
			Err:      fmt.Errorf("all %d discovery targets failed", failed),
		}
	}

	h.logger.Info().
		Str("source_id", h.sourceID).
		Int("documents", len(documents)).
		Int("targets_failed", failed).
		Msg("Unstructured discovery completed")

	return documents, nil
}

// discoverTarget dispatches to the target's strategy and returns page URLs.
func (h *UnstructuredHandler) discoverTarget(ctx context.Context, target TargetConfig) ([]string, error) {
	switch target.Strategy {
	case "web_crawler":
		pages, err := h.crawler.Crawl(ctx, crawlOptions{
			SeedURL:        target.URL,
			MaxDepth:       target.MaxDepth,
			MaxPages:       target.MaxPages,
			AllowedDomains: target.AllowedDomains,
			RespectRobots:  target.RespectRobots,
			UserAgent:      h.userAgent,
		})
		if err != nil {
			return nil, err
		}
		urls := make([]string, 0, len(pages))
		for _, p := range pages {
			urls = append(urls, p.URL)
		}
		return urls, nil

	case "sitemap":
		entries, err := fetchSitemap(ctx, h.client, target.URL, target.MaxURLs)
		if err != nil {
			return nil, err
		}
		urls := make([]string, 0, len(entries))
		for _, e := range entries {
			urls = append(urls, e.URL)
		}
		return urls, nil

	case "rss_discovery":
		return h.discoverFeedLinks(ctx, target)

	case "search_api":
		return h.discoverSearchAPI(ctx, target)

	default:
		return nil, fmt.Errorf("unknown discovery strategy %q", target.Strategy)
	}
}

// discoverFeedLinks uses a feed purely as a URL source, ignoring inline
// content.
func (h *UnstructuredHandler) discoverFeedLinks(ctx context.Context, target TargetConfig) ([]string, error) {
	body, err := h.fetch(ctx, target.URL)
	if err != nil {
		return nil, err
	}

	feed, err := NewXMLFeedParser(h.logger).Parse(body)
	if err != nil {
		return nil, err
	}

	limit := target.MaxURLs
	if limit <= 0 {
		limit = defaultSitemapCap
	}

	var urls []string
	for _, entry := range feed.Entries {
		if entry.Link == "" {
			continue
		}
		urls = append(urls, entry.Link)
		if len(urls) >= limit {
			break
		}
	}
	return urls, nil
}

// discoverSearchAPI pulls page URLs out of a JSON search endpoint.
func (h *UnstructuredHandler) discoverSearchAPI(ctx context.Context, target TargetConfig) ([]string, error) {
	body, err := h.fetch(ctx, target.URL)
	if err != nil {
		return nil, err
	}

	var payload map[string]interface{}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("failed to parse search API response: %w", err)
	}

	itemsField := target.ItemsField
	if itemsField == "" {
		itemsField = "results"
	}
	rawItems, ok := payload[itemsField].([]interface{})
	if !ok {
		return nil, fmt.Errorf("search API response missing results array %q", itemsField)
	}

	limit := target.MaxURLs
	if limit <= 0 {
		limit = defaultSitemapCap
	}

	var urls []string
	for _, raw := range rawItems {
		item, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		u, _ := item["url"].(string)
		if u == "" {
			continue
		}
		urls = append(urls, u)
		if len(urls) >= limit {
			break
		}
	}
	return urls, nil
}

// Extract renders the page in a headless browser, applies the configured
// selectors and runs the content filters. Filtered content is returned with
// an explicit marker and reason rather than dropped.
func (h *UnstructuredHandler) Extract(ctx context.Context, doc *models.Document) (*models.ExtractedContent, error) {
	h.browserOnce.Do(func() {
		h.browserErr = h.browser.Start()
	})
	if h.browserErr != nil {
		return nil, &models.ExtractionError{DocumentID: doc.ID, Err: fmt.Errorf("browser unavailable: %w", h.browserErr)}
	}

	if h.limiter != nil {
		if err := h.limiter.Wait(ctx, doc.URL); err != nil {
			return nil, &models.ExtractionError{DocumentID: doc.ID, Err: err}
		}
	}

	html, err := h.browser.Render(ctx, doc.URL)
	if err != nil {
		return nil, &models.ExtractionError{DocumentID: doc.ID, Err: err}
	}

	parsed, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, &models.ExtractionError{DocumentID: doc.ID, Err: fmt.Errorf("failed to parse rendered page: %w", err)}
	}

	content, contentHTML := h.selectContent(parsed, html)
	title := h.selectText(parsed, h.config.Selectors.Title)
	if title == "" {
		title = ExtractHTMLTitle(html)
	}

	metadata := map[string]interface{}{
		"url":    doc.URL,
		"title":  title,
		"target": doc.Metadata["target"],
	}
	if author := h.selectText(parsed, h.config.Selectors.Author); author != "" {
		metadata["author"] = author
	}
	if date := h.selectText(parsed, h.config.Selectors.Date); date != "" {
		metadata["date"] = date
	}

	extracted := &models.ExtractedContent{
		ID:          doc.ID,
		Content:     content,
		ContentHash: common.ContentHash([]byte(contentHTML)),
		ExtractedAt: time.Now(),
		Method:      "browser-render",
		Metadata:    metadata,
	}

	if reason := h.filter.Apply(content); reason != "" {
		extracted.Filtered = true
		extracted.FilterReason = reason
		h.logger.Debug().
			Str("document_id", doc.ID).
			Str("reason", reason).
			Msg("Content filtered")
	}

	return extracted, nil
}

// selectContent applies the content selector and converts the selection to
// Markdown, falling back to the whole page when the selector misses.
func (h *UnstructuredHandler) selectContent(parsed *goquery.Document, fullHTML string) (string, string) {
	selector := h.config.Selectors.Content
	if selector != "" {
		if sel := parsed.Find(selector); sel.Length() > 0 {
			if inner, err := sel.First().Html(); err == nil && strings.TrimSpace(inner) != "" {
				if converted, err := h.converter.ConvertString(inner); err == nil {
					return NormalizeText(converted), inner
				}
				return NormalizeText(HTMLToText(inner)), inner
			}
		}
		h.logger.Debug().
			Str("selector", selector).
			Msg("Content selector matched nothing, using full page")
	}

	if converted, err := h.converter.ConvertString(fullHTML); err == nil {
		return NormalizeText(converted), fullHTML
	}
	return NormalizeText(HTMLToText(fullHTML)), fullHTML
}

// selectText returns the trimmed text of the first selector match.
func (h *UnstructuredHandler) selectText(parsed *goquery.Document, selector string) string {
	if selector == "" {
		return ""
	}
	return strings.TrimSpace(parsed.Find(selector).First().Text())
}

// Transform passes filtered content through as nil and flags suspicious
// output for review instead of rejecting it.
func (h *UnstructuredHandler) Transform(content *models.ExtractedContent) (*models.TransformedDocument, error) {
	if content == nil || content.Filtered {
		return nil, nil
	}

	text := NormalizeText(content.Content)
	title, _ := content.Metadata["title"].(string)

	metadata := map[string]interface{}{
		"source_id":  h.sourceID,
		"visibility": h.visibility,
		"word_count": WordCount(text),
		"char_count": len(text),
	}
	for _, key := range []string{"url", "target", "author", "date"} {
		if v, ok := content.Metadata[key]; ok {
			metadata[key] = v
		}
	}

	if reason := reviewReason(text); reason != "" {
		metadata["needs_review"] = true
		metadata["review_reason"] = reason
	}

	return &models.TransformedDocument{
		ID:          content.ID,
		Title:       title,
		Content:     text,
		ContentHash: content.ContentHash,
		Metadata:    metadata,
		ProcessedAt: time.Now(),
	}, nil
}

// reviewReason flags content that is suspiciously short, suspiciously large
// or looks like an error page.
func reviewReason(text string) string {
	if WordCount(text) < reviewMinWords {
		return "content below minimum word count"
	}
	if len(text) > reviewMaxChars {
		return "content exceeds maximum length"
	}
	lower := strings.ToLower(text)
	for _, marker := range errorPageMarkers {
		if strings.Contains(lower, marker) {
			return fmt.Sprintf("content resembles an error page (%q)", marker)
		}
	}
	return ""
}

// Cleanup shuts the browser pool down and drops idle connections.
func (h *UnstructuredHandler) Cleanup() error {
	if h.browser != nil {
		h.browser.Shutdown()
	}
	if h.client != nil {
		h.client.CloseIdleConnections()
	}
	return nil
}

// fetch GETs a URL and returns the body for 2xx responses.
func (h *UnstructuredHandler) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if h.userAgent != "" {
		req.Header.Set("User-Agent", h.userAgent)
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
