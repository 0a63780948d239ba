package sources

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"time"
)

// defaultSitemapCap bounds the number of URL entries taken from one sitemap
// when the target does not configure its own cap.
const defaultSitemapCap = 500

type sitemapURLSet struct {
	XMLName xml.Name     `xml:"urlset"`
	URLs    []sitemapURL `xml:"url"`
}

type sitemapURL struct {
	Loc     string `xml:"loc"`
	LastMod string `xml:"lastmod"`
}

// sitemapEntry is one parsed sitemap URL entry.
type sitemapEntry struct {
	URL          string
	LastModified *time.Time
}

// fetchSitemap retrieves and parses a sitemap urlset, capping the number of
// entries returned.
func fetchSitemap(ctx context.Context, client *http.Client, sitemapURL string, limit int) ([]sitemapEntry, error) {
	if limit <= 0 {
		limit = defaultSitemapCap
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sitemapURL, nil)
	if err != nil {
		return nil, err
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d from sitemap %s", resp.StatusCode, sitemapURL)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var urlset sitemapURLSet
	if err := xml.Unmarshal(body, &urlset); err != nil {
		return nil, fmt.Errorf("failed to parse sitemap: %w", err)
	}

	entries := make([]sitemapEntry, 0, len(urlset.URLs))
	for _, u := range urlset.URLs {
		if u.Loc == "" {
			continue
		}
		entry := sitemapEntry{URL: u.Loc}
		if u.LastMod != "" {
			for _, format := range []string{time.RFC3339, "2006-01-02"} {
				if t, err := time.Parse(format, u.LastMod); err == nil {
					entry.LastModified = &t
					break
				}
			}
		}
		entries = append(entries, entry)
		if len(entries) >= limit {
			break
		}
	}

	return entries, nil
}
