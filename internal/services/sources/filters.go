package sources

import (
	"fmt"
	"strings"
)

// ContentFilterConfig defines the filters applied to extracted content of a
// dynamic-unstructured source. Content failing a filter is returned with an
// explicit filtered marker and reason, never silently discarded.
type ContentFilterConfig struct {
	MinWordCount     int      `json:"minWordCount,omitempty"`
	RequiredKeywords []string `json:"requiredKeywords,omitempty"`
	ExcludedPatterns []string `json:"excludedPatterns,omitempty"`
}

// ContentFilter evaluates extracted content against the configured rules.
type ContentFilter struct {
	config ContentFilterConfig
}

// NewContentFilter creates a content filter. A nil config filters nothing.
func NewContentFilter(config *ContentFilterConfig) *ContentFilter {
	if config == nil {
		return &ContentFilter{}
	}
	return &ContentFilter{config: *config}
}

// Apply returns a human-readable reason when the content fails a filter,
// or "" when it passes.
func (f *ContentFilter) Apply(content string) string {
	if f.config.MinWordCount > 0 {
		if words := WordCount(content); words < f.config.MinWordCount {
			return fmt.Sprintf("content has %d words, below minimum of %d", words, f.config.MinWordCount)
		}
	}

	if len(f.config.RequiredKeywords) > 0 {
		lower := strings.ToLower(content)
		for _, keyword := range f.config.RequiredKeywords {
			if keyword == "" {
				continue
			}
			if !strings.Contains(lower, strings.ToLower(keyword)) {
				return fmt.Sprintf("content missing required keyword %q", keyword)
			}
		}
	}

	if len(f.config.ExcludedPatterns) > 0 {
		lower := strings.ToLower(content)
		for _, pattern := range f.config.ExcludedPatterns {
			if pattern == "" {
				continue
			}
			if strings.Contains(lower, strings.ToLower(pattern)) {
				return fmt.Sprintf("content contains excluded pattern %q", pattern)
			}
		}
	}

	return ""
}
