package sources

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/httpclient"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

// SemiStaticEndpoint is one named endpoint within a semi-static source.
type SemiStaticEndpoint struct {
	Name string `json:"name" validate:"required"`
	URL  string `json:"url" validate:"required,url"`
}

// SemiStaticConfig is the type-specific configuration for a semi-static
// source: a fixed endpoint list polled at a caller-driven cadence.
type SemiStaticConfig struct {
	Endpoints      []SemiStaticEndpoint `json:"endpoints" validate:"required,min=1,dive"`
	TimeoutSeconds int                  `json:"timeoutSeconds,omitempty"`
}

// SemiStaticHandler polls a fixed list of named endpoints. Discovery is a
// cheap last-modified probe; extraction is a conditional GET that yields
// nil on not-modified, which the engine must treat as "no update".
type SemiStaticHandler struct {
	sourceID   string
	visibility string
	config     SemiStaticConfig
	auth       *models.AuthConfig
	client     *http.Client
	timeout    time.Duration

	// lastModified holds the Last-Modified value observed per endpoint
	// name, used to build conditional requests on the next poll. It is
	// restored from the cursor store at Initialize and persisted whenever
	// a fetch observes a new validator, so conditional requests survive a
	// restart.
	lastModified map[string]string

	cursorStore interfaces.CursorStore
	logger      arbor.ILogger
}

// NewSemiStaticHandler creates an uninitialized semi-static handler.
func NewSemiStaticHandler(cfg *models.SourceConfig, deps *Dependencies) (*SemiStaticHandler, error) {
	var sc SemiStaticConfig
	if err := decodeConfig(cfg.Config, &sc); err != nil {
		return nil, &models.ConfigurationError{SourceID: cfg.ID, Field: "config", Message: err.Error()}
	}

	timeout := deps.HTTPTimeout
	if sc.TimeoutSeconds > 0 {
		timeout = time.Duration(sc.TimeoutSeconds) * time.Second
	}

	return &SemiStaticHandler{
		sourceID:     cfg.ID,
		visibility:   cfg.VisibilityOrDefault(),
		config:       sc,
		auth:         cfg.Auth,
		timeout:      timeout,
		lastModified: make(map[string]string),
		cursorStore:  deps.CursorStore,
		logger:       deps.Logger,
	}, nil
}

// ValidateConfig checks the endpoint list without mutating the config.
func (h *SemiStaticHandler) ValidateConfig(cfg *models.SourceConfig) error {
	var sc SemiStaticConfig
	if err := decodeConfig(cfg.Config, &sc); err != nil {
		return &models.ConfigurationError{SourceID: cfg.ID, Field: "config.endpoints", Message: err.Error()}
	}
	return nil
}

// Initialize configures the authenticated transport once and verifies the
// endpoints are reachable at the network level. HTTP error statuses are
// fine here; only transport failures are fatal.
func (h *SemiStaticHandler) Initialize(ctx context.Context) error {
	client, err := httpclient.NewHTTPClientWithAuth(h.auth, h.timeout)
	if err != nil {
		return &models.InitializationError{SourceID: h.sourceID, Err: err}
	}
	h.client = client

	for _, endpoint := range h.config.Endpoints {
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, endpoint.URL, nil)
		if err != nil {
			return &models.InitializationError{SourceID: h.sourceID, Err: fmt.Errorf("invalid endpoint URL %s: %w", endpoint.URL, err)}
		}
		resp, err := h.client.Do(req)
		if err != nil {
			return &models.InitializationError{SourceID: h.sourceID, Err: fmt.Errorf("endpoint %s unreachable: %w", endpoint.Name, err)}
		}
		resp.Body.Close()
	}

	if h.cursorStore != nil {
		for _, endpoint := range h.config.Endpoints {
			t, ok, err := h.cursorStore.GetCursor(h.endpointCursorKey(endpoint.Name))
			if err != nil {
				h.logger.Warn().Err(err).Str("endpoint", endpoint.Name).Msg("Failed to restore endpoint cursor")
				continue
			}
			if ok {
				h.lastModified[endpoint.Name] = t.UTC().Format(http.TimeFormat)
			}
		}
	}

	h.logger.Info().
		Str("source_id", h.sourceID).
		Int("endpoints", len(h.config.Endpoints)).
		Msg("Semi-static source initialized")

	return nil
}

// Discover performs a cheap last-modified probe per endpoint and emits one
// Document per endpoint without fetching bodies. Probe failures are
// best-effort: the endpoint is still emitted with last-modified "now".
func (h *SemiStaticHandler) Discover(ctx context.Context) ([]*models.Document, error) {
	if h.client == nil {
		return nil, &models.DiscoveryError{SourceID: h.sourceID, Err: fmt.Errorf("handler not initialized")}
	}

	documents := make([]*models.Document, 0, len(h.config.Endpoints))
	for _, endpoint := range h.config.Endpoints {
		if err := ctx.Err(); err != nil {
			return nil, &models.DiscoveryError{SourceID: h.sourceID, Err: err}
		}

		lastModified := time.Now()
		contentType := ""

		req, err := http.NewRequestWithContext(ctx, http.MethodHead, endpoint.URL, nil)
		if err != nil {
			h.logger.Warn().Err(err).Str("endpoint", endpoint.Name).Msg("Invalid endpoint URL, skipping")
			continue
		}

		if resp, err := h.client.Do(req); err != nil {
			h.logger.Warn().Err(err).Str("endpoint", endpoint.Name).Msg("Last-modified probe failed, defaulting to now")
		} else {
			if lm := resp.Header.Get("Last-Modified"); lm != "" {
				if parsed, err := http.ParseTime(lm); err == nil {
					lastModified = parsed
				}
			}
			contentType = resp.Header.Get("Content-Type")
			resp.Body.Close()
		}

		documents = append(documents, &models.Document{
			ID:           common.DocumentID(endpoint.URL),
			SourceID:     h.sourceID,
			SourceType:   models.SourceTypeSemiStatic,
			URL:          endpoint.URL,
			ContentType:  contentType,
			LastModified: &lastModified,
			Metadata: map[string]interface{}{
				"endpoint": endpoint.Name,
			},
			DiscoveredAt: time.Now(),
		})
	}

	return documents, nil
}

// Extract performs the real fetch with a conditional header derived from
// the previously observed Last-Modified value. Not-modified yields nil,
// never an error; not-found is non-fatal and also yields nil.
func (h *SemiStaticHandler) Extract(ctx context.Context, doc *models.Document) (*models.ExtractedContent, error) {
	endpointName, _ := doc.Metadata["endpoint"].(string)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, doc.URL, nil)
	if err != nil {
		return nil, &models.ExtractionError{DocumentID: doc.ID, Err: err}
	}
	if previous := h.lastModified[endpointName]; previous != "" {
		req.Header.Set("If-Modified-Since", previous)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, &models.ExtractionError{DocumentID: doc.ID, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotModified:
		h.logger.Debug().
			Str("endpoint", endpointName).
			Msg("Endpoint not modified since last poll")
		return nil, nil
	case resp.StatusCode == http.StatusNotFound:
		h.logger.Warn().
			Str("endpoint", endpointName).
			Str("url", doc.URL).
			Msg("Endpoint returned not found")
		return nil, nil
	case resp.StatusCode != http.StatusOK:
		return nil, &models.ExtractionError{DocumentID: doc.ID, Err: fmt.Errorf("unexpected status %d from %s", resp.StatusCode, doc.URL)}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &models.ExtractionError{DocumentID: doc.ID, Err: err}
	}

	if lm := resp.Header.Get("Last-Modified"); lm != "" && lm != h.lastModified[endpointName] {
		h.lastModified[endpointName] = lm
		h.persistValidator(endpointName, lm)
	}

	contentType := resp.Header.Get("Content-Type")

	return &models.ExtractedContent{
		ID:          doc.ID,
		Content:     string(body),
		ContentHash: common.ContentHash(body),
		ExtractedAt: time.Now(),
		Method:      "conditional-get",
		Metadata: map[string]interface{}{
			"endpoint":     endpointName,
			"status":       resp.StatusCode,
			"content_type": contentType,
			"encoding":     resp.Header.Get("Content-Encoding"),
		},
	}, nil
}

// Transform dispatches by content type: HTML is stripped to text with its
// title captured, JSON is pretty re-serialized, anything else is
// normalized as plain text.
func (h *SemiStaticHandler) Transform(content *models.ExtractedContent) (*models.TransformedDocument, error) {
	if content == nil {
		return nil, nil
	}

	contentType, _ := content.Metadata["content_type"].(string)
	endpointName, _ := content.Metadata["endpoint"].(string)

	var (
		normalized string
		title      string
	)

	switch {
	case strings.Contains(contentType, "html"):
		title = ExtractHTMLTitle(content.Content)
		normalized = HTMLToText(content.Content)
	case strings.Contains(contentType, "json"):
		var pretty bytes.Buffer
		if err := json.Indent(&pretty, []byte(content.Content), "", "  "); err != nil {
			h.logger.Warn().Err(err).Str("endpoint", endpointName).Msg("Failed to re-serialize JSON, keeping raw body")
			normalized = NormalizeText(content.Content)
		} else {
			normalized = pretty.String()
		}
	default:
		normalized = NormalizeText(content.Content)
	}

	if title == "" {
		title = endpointName
	}

	return &models.TransformedDocument{
		ID:          content.ID,
		Title:       title,
		Content:     normalized,
		ContentHash: content.ContentHash,
		Metadata: map[string]interface{}{
			"source_id":  h.sourceID,
			"visibility": h.visibility,
			"endpoint":   endpointName,
			"word_count": WordCount(normalized),
			"char_count": len(normalized),
		},
		ProcessedAt: time.Now(),
	}, nil
}

// endpointCursorKey scopes a stored validator to one endpoint of this
// source.
func (h *SemiStaticHandler) endpointCursorKey(endpointName string) string {
	return h.sourceID + ":" + endpointName
}

// persistValidator stores a newly observed Last-Modified value so the next
// process still issues conditional requests. Best-effort: a store failure
// only costs one full refetch after restart.
func (h *SemiStaticHandler) persistValidator(endpointName, lastModified string) {
	if h.cursorStore == nil {
		return
	}
	parsed, err := http.ParseTime(lastModified)
	if err != nil {
		h.logger.Warn().Err(err).Str("endpoint", endpointName).Msg("Unparseable Last-Modified value, not persisting")
		return
	}
	if err := h.cursorStore.SetCursor(h.endpointCursorKey(endpointName), parsed); err != nil {
		h.logger.Warn().Err(err).Str("endpoint", endpointName).Msg("Failed to persist endpoint cursor")
	}
}

// Cleanup drops idle connections. Idempotent.
func (h *SemiStaticHandler) Cleanup() error {
	if h.client != nil {
		h.client.CloseIdleConnections()
	}
	return nil
}
