package sources

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/arbor"
)

const (
	defaultCrawlMaxDepth = 2
	defaultCrawlMaxPages = 50
)

// crawlOptions bounds one breadth-first crawl.
type crawlOptions struct {
	SeedURL        string
	MaxDepth       int
	MaxPages       int
	AllowedDomains []string // empty = seed host only
	RespectRobots  bool
	UserAgent      string
}

// crawledPage is one page discovered by the crawler. Bodies are not kept;
// extraction re-fetches through the browser.
type crawledPage struct {
	URL   string
	Depth int
}

// crawler performs bounded breadth-first link discovery over plain HTTP.
// It never renders JavaScript; the browser is reserved for extraction.
type crawler struct {
	client  *http.Client
	limiter Limiter
	logger  arbor.ILogger
}

func newCrawler(client *http.Client, limiter Limiter, logger arbor.ILogger) *crawler {
	return &crawler{
		client:  client,
		limiter: limiter,
		logger:  logger,
	}
}

// Crawl walks outward from the seed URL breadth-first, visiting at most
// MaxPages pages and following links at most MaxDepth hops from the seed.
// Cancellation is checked between page visits, so an in-flight fetch
// completes before the crawl stops.
func (c *crawler) Crawl(ctx context.Context, opts crawlOptions) ([]crawledPage, error) {
	seed, err := url.Parse(opts.SeedURL)
	if err != nil || seed.Host == "" {
		return nil, fmt.Errorf("invalid seed URL %q", opts.SeedURL)
	}

	maxDepth := opts.MaxDepth
	if maxDepth <= 0 {
		maxDepth = defaultCrawlMaxDepth
	}
	maxPages := opts.MaxPages
	if maxPages <= 0 {
		maxPages = defaultCrawlMaxPages
	}

	allowed := make(map[string]bool)
	if len(opts.AllowedDomains) > 0 {
		for _, d := range opts.AllowedDomains {
			allowed[strings.ToLower(d)] = true
		}
	} else {
		allowed[strings.ToLower(seed.Host)] = true
	}

	var robots *robotsRules
	if opts.RespectRobots {
		robots = fetchRobots(ctx, c.client, opts.SeedURL, opts.UserAgent, c.logger)
	}

	type queueItem struct {
		url   string
		depth int
	}

	visited := make(map[string]bool)
	queue := []queueItem{{url: seed.String(), depth: 0}}
	var pages []crawledPage

	for len(queue) > 0 && len(pages) < maxPages {
		if err := ctx.Err(); err != nil {
			c.logger.Info().
				Int("pages_visited", len(pages)).
				Msg("Crawl cancelled")
			return pages, err
		}

		item := queue[0]
		queue = queue[1:]

		if visited[item.url] {
			continue
		}
		visited[item.url] = true

		if opts.RespectRobots && !robots.Allowed(item.url) {
			c.logger.Debug().Str("url", item.url).Msg("Skipping URL disallowed by robots.txt")
			continue
		}

		if c.limiter != nil {
			if err := c.limiter.Wait(ctx, item.url); err != nil {
				return pages, err
			}
		}

		links, err := c.visit(ctx, item.url, opts.UserAgent)
		if err != nil {
			c.logger.Warn().
				Err(err).
				Str("url", item.url).
				Int("depth", item.depth).
				Msg("Failed to visit page, continuing crawl")
			continue
		}

		pages = append(pages, crawledPage{URL: item.url, Depth: item.depth})

		if item.depth >= maxDepth {
			continue
		}
		for _, link := range links {
			parsed, err := url.Parse(link)
			if err != nil || !allowed[strings.ToLower(parsed.Host)] {
				continue
			}
			if !visited[link] {
				queue = append(queue, queueItem{url: link, depth: item.depth + 1})
			}
		}
	}

	c.logger.Info().
		Str("seed", opts.SeedURL).
		Int("pages", len(pages)).
		Int("visited", len(visited)).
		Msg("Crawl completed")

	return pages, nil
}

// visit fetches one page and returns the absolute URLs of its links.
// Non-HTML responses yield no links.
func (c *crawler) visit(ctx context.Context, pageURL string, userAgent string) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, err
	}
	if userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType != "" && !strings.Contains(contentType, "html") {
		io.Copy(io.Discard, resp.Body)
		return nil, nil
	}

	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse page: %w", err)
	}

	return extractLinks(doc, base), nil
}

// extractLinks collects absolute http(s) links from a parsed page, dropping
// fragments, scripts and mail/tel schemes.
func extractLinks(doc *goquery.Document, base *url.URL) []string {
	var links []string
	seen := make(map[string]bool)

	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") {
			return
		}
		lower := strings.ToLower(href)
		if strings.HasPrefix(lower, "javascript:") ||
			strings.HasPrefix(lower, "mailto:") ||
			strings.HasPrefix(lower, "tel:") {
			return
		}

		resolved, err := base.Parse(href)
		if err != nil {
			return
		}
		if resolved.Scheme != "http" && resolved.Scheme != "https" {
			return
		}
		resolved.Fragment = ""

		link := resolved.String()
		if !seen[link] {
			seen[link] = true
			links = append(links, link)
		}
	})

	return links
}
