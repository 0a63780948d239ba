package httpclient

import (
	"fmt"
	"net/http"
	"time"

	"github.com/ternarybob/colligo/internal/models"
)

const defaultAPIKeyHeader = "X-API-Key"

// NewDefaultHTTPClient creates a simple HTTP client with a timeout
func NewDefaultHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
	}
}

// NewHTTPClientWithAuth creates an HTTP client whose transport injects the
// configured authentication ({bearer|basic|api-key}) into every request.
// Authentication is configured once here, at handler initialize time, so
// individual fetch paths never deal with credentials.
func NewHTTPClientWithAuth(auth *models.AuthConfig, timeout time.Duration) (*http.Client, error) {
	if auth == nil {
		return NewDefaultHTTPClient(timeout), nil
	}

	if err := auth.Validate(); err != nil {
		return nil, fmt.Errorf("invalid authentication config: %w", err)
	}

	return &http.Client{
		Timeout: timeout,
		Transport: &authTransport{
			auth: auth,
			base: http.DefaultTransport,
		},
	}, nil
}

// authTransport decorates outbound requests with credentials. The request
// is cloned before mutation so retries and redirects stay safe.
type authTransport struct {
	auth *models.AuthConfig
	base http.RoundTripper
}

func (t *authTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())

	switch t.auth.Type {
	case models.AuthTypeBearer:
		clone.Header.Set("Authorization", "Bearer "+t.auth.Token)
	case models.AuthTypeBasic:
		clone.SetBasicAuth(t.auth.Username, t.auth.Password)
	case models.AuthTypeAPIKey:
		header := t.auth.Header
		if header == "" {
			header = defaultAPIKeyHeader
		}
		clone.Header.Set(header, t.auth.APIKey)
	}

	return t.base.RoundTrip(clone)
}
