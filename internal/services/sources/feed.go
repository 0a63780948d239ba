package sources

import (
	"encoding/xml"
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
)

// FeedEntry is one parsed feed item. Published may be nil when the entry
// carries no recognizable date.
type FeedEntry struct {
	Title     string
	Link      string
	GUID      string
	Content   string
	Summary   string
	Published *time.Time
}

// Feed is a dialect-neutral parsed feed.
type Feed struct {
	Title   string
	Entries []FeedEntry
}

// FeedParser isolates feed parsing behind a small interface so the
// implementation can be swapped without touching handler logic.
type FeedParser interface {
	Parse(data []byte) (*Feed, error)
}

// feedDateFormats are tried in order when parsing entry dates. Feeds in the
// wild mix RFC1123, RFC822 and ISO timestamps freely.
var feedDateFormats = []string{
	time.RFC1123Z,
	time.RFC1123,
	time.RFC822Z,
	time.RFC822,
	time.RFC3339,
	"2006-01-02T15:04:05Z",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"Mon, 2 Jan 2006 15:04:05 MST",
}

// XMLFeedParser parses RSS 2.0 and Atom, tolerating namespaced content
// fields (content:encoded) and alternate date fields (dc:date). Malformed
// entries are skipped with a warning, never fatal.
type XMLFeedParser struct {
	logger arbor.ILogger
}

// NewXMLFeedParser creates the default feed parser.
func NewXMLFeedParser(logger arbor.ILogger) *XMLFeedParser {
	return &XMLFeedParser{logger: logger}
}

type rssDocument struct {
	XMLName xml.Name `xml:"rss"`
	Channel struct {
		Title string    `xml:"title"`
		Items []rssItem `xml:"item"`
	} `xml:"channel"`
}

type rssItem struct {
	Title          string `xml:"title"`
	Link           string `xml:"link"`
	GUID           string `xml:"guid"`
	Description    string `xml:"description"`
	ContentEncoded string `xml:"http://purl.org/rss/1.0/modules/content/ encoded"`
	PubDate        string `xml:"pubDate"`
	DCDate         string `xml:"http://purl.org/dc/elements/1.1/ date"`
}

type atomDocument struct {
	XMLName xml.Name    `xml:"feed"`
	Title   string      `xml:"title"`
	Entries []atomEntry `xml:"entry"`
}

type atomEntry struct {
	Title     string     `xml:"title"`
	ID        string     `xml:"id"`
	Links     []atomLink `xml:"link"`
	Content   string     `xml:"content"`
	Summary   string     `xml:"summary"`
	Published string     `xml:"published"`
	Updated   string     `xml:"updated"`
}

type atomLink struct {
	Href string `xml:"href,attr"`
	Rel  string `xml:"rel,attr"`
}

// Parse detects the feed dialect and converts it to the neutral shape.
func (p *XMLFeedParser) Parse(data []byte) (*Feed, error) {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return nil, fmt.Errorf("empty feed body")
	}

	if strings.Contains(trimmed[:min(len(trimmed), 512)], "<feed") {
		return p.parseAtom(data)
	}
	return p.parseRSS(data)
}

func (p *XMLFeedParser) parseRSS(data []byte) (*Feed, error) {
	var doc rssDocument
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse RSS feed: %w", err)
	}

	feed := &Feed{Title: strings.TrimSpace(doc.Channel.Title)}
	for _, item := range doc.Channel.Items {
		link := strings.TrimSpace(item.Link)
		guid := strings.TrimSpace(item.GUID)
		if link == "" && guid == "" {
			p.logger.Warn().Str("title", item.Title).Msg("Skipping feed entry without link or guid")
			continue
		}

		content := item.ContentEncoded
		if content == "" {
			content = item.Description
		}

		feed.Entries = append(feed.Entries, FeedEntry{
			Title:     strings.TrimSpace(item.Title),
			Link:      link,
			GUID:      guid,
			Content:   content,
			Summary:   item.Description,
			Published: p.parseDate(item.PubDate, item.DCDate),
		})
	}

	return feed, nil
}

func (p *XMLFeedParser) parseAtom(data []byte) (*Feed, error) {
	var doc atomDocument
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse Atom feed: %w", err)
	}

	feed := &Feed{Title: strings.TrimSpace(doc.Title)}
	for _, entry := range doc.Entries {
		link := atomEntryLink(entry.Links)
		if link == "" && entry.ID == "" {
			p.logger.Warn().Str("title", entry.Title).Msg("Skipping feed entry without link or id")
			continue
		}

		content := entry.Content
		if content == "" {
			content = entry.Summary
		}

		feed.Entries = append(feed.Entries, FeedEntry{
			Title:     strings.TrimSpace(entry.Title),
			Link:      link,
			GUID:      strings.TrimSpace(entry.ID),
			Content:   content,
			Summary:   entry.Summary,
			Published: p.parseDate(entry.Published, entry.Updated),
		})
	}

	return feed, nil
}

// parseDate tries candidate values in order against the known formats.
func (p *XMLFeedParser) parseDate(candidates ...string) *time.Time {
	for _, candidate := range candidates {
		candidate = strings.TrimSpace(candidate)
		if candidate == "" {
			continue
		}
		for _, format := range feedDateFormats {
			if t, err := time.Parse(format, candidate); err == nil {
				return &t
			}
		}
		p.logger.Warn().Str("value", candidate).Msg("Unrecognized feed date format")
	}
	return nil
}

// atomEntryLink prefers the alternate link, falling back to the first.
func atomEntryLink(links []atomLink) string {
	for _, link := range links {
		if link.Rel == "" || link.Rel == "alternate" {
			return strings.TrimSpace(link.Href)
		}
	}
	if len(links) > 0 {
		return strings.TrimSpace(links[0].Href)
	}
	return ""
}
