package sources

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
)

const sampleRSS = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0" xmlns:content="http://purl.org/rss/1.0/modules/content/" xmlns:dc="http://purl.org/dc/elements/1.1/">
  <channel>
    <title>Engineering Blog</title>
    <item>
      <title>First Post</title>
      <link>https://example.com/posts/first</link>
      <guid>post-1</guid>
      <description>Short summary</description>
      <content:encoded><![CDATA[<p>Full body of the first post.</p>]]></content:encoded>
      <pubDate>Mon, 02 Jan 2006 15:04:05 -0700</pubDate>
    </item>
    <item>
      <title>Second Post</title>
      <link>https://example.com/posts/second</link>
      <guid>post-2</guid>
      <description>Second summary</description>
      <dc:date>2024-03-15T10:00:00Z</dc:date>
    </item>
    <item>
      <title>Broken Entry</title>
      <description>No link or guid</description>
    </item>
  </channel>
</rss>`

const sampleAtom = `<?xml version="1.0" encoding="utf-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <title>Atom Feed</title>
  <entry>
    <title>Atom Entry</title>
    <id>urn:entry:1</id>
    <link rel="alternate" href="https://example.com/atom/1"/>
    <link rel="self" href="https://example.com/atom/1.xml"/>
    <summary>Entry summary</summary>
    <published>2024-05-01T09:30:00Z</published>
  </entry>
</feed>`

func TestXMLFeedParser_RSS(t *testing.T) {
	parser := NewXMLFeedParser(arbor.NewLogger())

	feed, err := parser.Parse([]byte(sampleRSS))
	require.NoError(t, err)
	assert.Equal(t, "Engineering Blog", feed.Title)
	require.Len(t, feed.Entries, 2, "entry without link or guid is skipped")

	first := feed.Entries[0]
	assert.Equal(t, "First Post", first.Title)
	assert.Equal(t, "https://example.com/posts/first", first.Link)
	assert.Equal(t, "post-1", first.GUID)
	assert.Contains(t, first.Content, "Full body of the first post")
	require.NotNil(t, first.Published)
	assert.Equal(t, 2006, first.Published.Year())

	second := feed.Entries[1]
	assert.Equal(t, "Second summary", second.Content, "description used when content:encoded is absent")
	require.NotNil(t, second.Published, "dc:date is recognized")
	assert.Equal(t, 2024, second.Published.Year())
}

func TestXMLFeedParser_Atom(t *testing.T) {
	parser := NewXMLFeedParser(arbor.NewLogger())

	feed, err := parser.Parse([]byte(sampleAtom))
	require.NoError(t, err)
	assert.Equal(t, "Atom Feed", feed.Title)
	require.Len(t, feed.Entries, 1)

	entry := feed.Entries[0]
	assert.Equal(t, "Atom Entry", entry.Title)
	assert.Equal(t, "https://example.com/atom/1", entry.Link, "alternate link preferred over self")
	assert.Equal(t, "urn:entry:1", entry.GUID)
	assert.Equal(t, "Entry summary", entry.Content)
	require.NotNil(t, entry.Published)
}

func TestXMLFeedParser_EmptyBody(t *testing.T) {
	parser := NewXMLFeedParser(arbor.NewLogger())

	_, err := parser.Parse([]byte("   "))
	require.Error(t, err)
}

func TestXMLFeedParser_UnparseableDateYieldsNil(t *testing.T) {
	feedXML := `<?xml version="1.0"?>
<rss version="2.0"><channel><title>X</title>
<item><title>Undated</title><link>https://example.com/u</link><pubDate>sometime last week</pubDate></item>
</channel></rss>`

	parser := NewXMLFeedParser(arbor.NewLogger())
	feed, err := parser.Parse([]byte(feedXML))
	require.NoError(t, err)
	require.Len(t, feed.Entries, 1)
	assert.Nil(t, feed.Entries[0].Published)
}
