package sources

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeText(t *testing.T) {
	input := "line one   \r\nline two\t\r\n\n\n\n\nline three\n"
	assert.Equal(t, "line one\nline two\n\nline three", NormalizeText(input))
}

func TestCollapseWhitespace(t *testing.T) {
	assert.Equal(t, "a b c", CollapseWhitespace("  a \n\t b \n c  "))
	assert.Equal(t, "", CollapseWhitespace("   "))
}

func TestWordCount(t *testing.T) {
	assert.Equal(t, 0, WordCount(""))
	assert.Equal(t, 3, WordCount("one two three"))
	assert.Equal(t, 2, WordCount("  spaced\n\nwords  "))
}

func TestExtractMarkdownTitle(t *testing.T) {
	assert.Equal(t, "My Document", ExtractMarkdownTitle([]byte("# My Document\n\nBody text.")))
	assert.Equal(t, "", ExtractMarkdownTitle([]byte("## Only a subheading\n\nBody.")))
	assert.Equal(t, "Later Heading", ExtractMarkdownTitle([]byte("Intro paragraph.\n\n# Later Heading\n")))
}

func TestExtractHTMLTitle(t *testing.T) {
	assert.Equal(t, "Page Title",
		ExtractHTMLTitle("<html><head><title>Page Title</title></head><body></body></html>"))

	assert.Equal(t, "OG Title",
		ExtractHTMLTitle(`<html><head><meta property="og:title" content="OG Title"/></head><body></body></html>`))

	assert.Equal(t, "Heading",
		ExtractHTMLTitle("<html><body><h1>Heading</h1></body></html>"))

	assert.Equal(t, "", ExtractHTMLTitle("<html><body><p>no title</p></body></html>"))
}

func TestHTMLToText(t *testing.T) {
	html := `<html><body>
<nav>Navigation links</nav>
<script>var x = 1;</script>
<h1>Heading</h1>
<p>First paragraph.</p>
<footer>Footer stuff</footer>
</body></html>`

	text := HTMLToText(html)
	assert.Contains(t, text, "Heading")
	assert.Contains(t, text, "First paragraph.")
	assert.NotContains(t, text, "Navigation links")
	assert.NotContains(t, text, "var x = 1")
	assert.NotContains(t, text, "Footer stuff")
}

func TestFilenameStem(t *testing.T) {
	assert.Equal(t, "readme", FilenameStem("/docs/readme.md"))
	assert.Equal(t, "archive.tar", FilenameStem("archive.tar.gz"))
	assert.Equal(t, "plain", FilenameStem("plain"))
}
