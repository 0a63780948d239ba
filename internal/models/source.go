package models

import (
	"fmt"
	"time"
)

// SourceType constants for the built-in handler types.
const (
	SourceTypeStatic              = "static"
	SourceTypeSemiStatic          = "semi_static"
	SourceTypeDynamicConsistent   = "dynamic_consistent"
	SourceTypeDynamicUnstructured = "dynamic_unstructured"
)

// Auth type constants
const (
	AuthTypeBearer = "bearer"
	AuthTypeBasic  = "basic"
	AuthTypeAPIKey = "api-key"
)

// DefaultVisibility is stamped on transformed documents when the source
// config does not specify a visibility tag.
const DefaultVisibility = "internal"

// AuthConfig describes how outbound requests for a source authenticate.
type AuthConfig struct {
	Type     string `json:"type" toml:"type"` // bearer, basic, api-key
	Token    string `json:"token,omitempty" toml:"token"`
	Username string `json:"username,omitempty" toml:"username"`
	Password string `json:"password,omitempty" toml:"password"`
	APIKey   string `json:"api_key,omitempty" toml:"api_key"`
	Header   string `json:"header,omitempty" toml:"header"` // api-key header name, default X-API-Key
}

// Validate checks the auth descriptor for a supported type and the
// credentials that type requires.
func (a *AuthConfig) Validate() error {
	switch a.Type {
	case AuthTypeBearer:
		if a.Token == "" {
			return fmt.Errorf("bearer authentication requires token")
		}
	case AuthTypeBasic:
		if a.Username == "" || a.Password == "" {
			return fmt.Errorf("basic authentication requires username and password")
		}
	case AuthTypeAPIKey:
		if a.APIKey == "" {
			return fmt.Errorf("api-key authentication requires api_key")
		}
	default:
		return fmt.Errorf("unsupported authentication type: %s", a.Type)
	}
	return nil
}

// SourceConfig represents a configured origin of documents. The nested
// Config map carries type-specific settings which each handler decodes and
// validates itself. Updates are remove+re-add, never in-place mutation.
type SourceConfig struct {
	ID         string                 `json:"id" toml:"id"`
	Name       string                 `json:"name,omitempty" toml:"name"`
	Type       string                 `json:"type" toml:"type"`
	Enabled    bool                   `json:"enabled" toml:"enabled"`
	Visibility string                 `json:"visibility,omitempty" toml:"visibility"`
	Config     map[string]interface{} `json:"config" toml:"config"`
	Auth       *AuthConfig            `json:"authentication,omitempty" toml:"authentication"`
	CreatedAt  time.Time              `json:"created_at,omitempty" toml:"-"`
	UpdatedAt  time.Time              `json:"updated_at,omitempty" toml:"-"`
}

// Validate checks the structural requirements common to every source type.
// Type-specific config validation is delegated to the handler via the
// factory; this only guards the fields the registry itself depends on.
func (s *SourceConfig) Validate() error {
	if s.ID == "" {
		return &ConfigurationError{SourceID: s.ID, Field: "id", Message: "source id is required"}
	}
	if s.Type == "" {
		return &ConfigurationError{SourceID: s.ID, Field: "type", Message: "source type is required"}
	}
	if s.Config == nil {
		return &ConfigurationError{SourceID: s.ID, Field: "config", Message: "source config is required"}
	}
	if s.Auth != nil {
		if err := s.Auth.Validate(); err != nil {
			return &ConfigurationError{SourceID: s.ID, Field: "authentication", Message: err.Error()}
		}
	}
	return nil
}

// VisibilityOrDefault returns the configured visibility tag or the default.
func (s *SourceConfig) VisibilityOrDefault() string {
	if s.Visibility != "" {
		return s.Visibility
	}
	return DefaultVisibility
}
