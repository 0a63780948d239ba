package sources

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/ternarybob/arbor"
)

// robotsRules holds the Disallow prefixes that apply to our user agent.
// A nil rules value allows everything.
type robotsRules struct {
	disallow []string
}

// fetchRobots retrieves and parses robots.txt for the URL's host. Any
// failure is treated as "no restrictions" — this core is a defensive
// client, not an enforcement point.
func fetchRobots(ctx context.Context, client *http.Client, pageURL string, userAgent string, logger arbor.ILogger) *robotsRules {
	parsed, err := url.Parse(pageURL)
	if err != nil || parsed.Host == "" {
		return nil
	}

	robotsURL := fmt.Sprintf("%s://%s/robots.txt", parsed.Scheme, parsed.Host)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return nil
	}

	resp, err := client.Do(req)
	if err != nil {
		logger.Debug().Err(err).Str("url", robotsURL).Msg("robots.txt fetch failed, allowing all")
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil
	}

	return parseRobots(resp.Body, userAgent)
}

// parseRobots extracts Disallow rules from the wildcard agent group and any
// group matching our user agent. Malformed lines are ignored.
func parseRobots(r io.Reader, userAgent string) *robotsRules {
	rules := &robotsRules{}
	agentLower := strings.ToLower(userAgent)

	scanner := bufio.NewScanner(r)
	applies := false
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)

		switch key {
		case "user-agent":
			agent := strings.ToLower(value)
			applies = agent == "*" || (agent != "" && strings.Contains(agentLower, agent))
		case "disallow":
			if applies && value != "" {
				rules.disallow = append(rules.disallow, value)
			}
		}
	}

	return rules
}

// Allowed reports whether the path may be crawled.
func (r *robotsRules) Allowed(pageURL string) bool {
	if r == nil || len(r.disallow) == 0 {
		return true
	}

	parsed, err := url.Parse(pageURL)
	if err != nil {
		return true
	}
	path := parsed.Path
	if path == "" {
		path = "/"
	}

	for _, prefix := range r.disallow {
		if strings.HasPrefix(path, prefix) {
			return false
		}
	}
	return true
}
