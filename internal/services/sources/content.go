package sources

import (
	"path/filepath"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

var blankRunRegex = regexp.MustCompile(`\n{3,}`)

// NormalizeText unifies line endings, trims trailing whitespace per line and
// collapses runs of blank lines down to a single blank line.
func NormalizeText(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")

	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	s = strings.Join(lines, "\n")

	s = blankRunRegex.ReplaceAllString(s, "\n\n")

	return strings.TrimSpace(s)
}

// CollapseWhitespace reduces all whitespace runs to single spaces. Used for
// feed/API entry content where layout carries no meaning.
func CollapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// WordCount returns the number of whitespace-separated words.
func WordCount(s string) int {
	return len(strings.Fields(s))
}

// ExtractMarkdownTitle returns the text of the first level-1 heading, or ""
// when the document has none.
func ExtractMarkdownTitle(source []byte) string {
	md := goldmark.New()
	doc := md.Parser().Parse(text.NewReader(source))

	var title string
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		if heading, ok := n.(*ast.Heading); ok && heading.Level == 1 {
			title = strings.TrimSpace(string(n.Text(source)))
			return ast.WalkStop, nil
		}
		return ast.WalkContinue, nil
	})

	return title
}

// ExtractHTMLTitle extracts the page title from various sources: the
// <title> tag, then Open Graph metadata, then the first h1.
func ExtractHTMLTitle(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}

	if title := doc.Find("title").First().Text(); title != "" {
		return strings.TrimSpace(title)
	}

	if ogTitle, exists := doc.Find("meta[property='og:title']").Attr("content"); exists && ogTitle != "" {
		return strings.TrimSpace(ogTitle)
	}

	if h1 := doc.Find("h1").First().Text(); h1 != "" {
		return strings.TrimSpace(h1)
	}

	return ""
}

// HTMLToText strips script/style and layout chrome from HTML and returns
// normalized visible text.
func HTMLToText(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return NormalizeText(html)
	}

	doc.Find("script, style, noscript, nav, footer, aside").Remove()

	var target *goquery.Selection
	if body := doc.Find("body"); body.Length() > 0 {
		target = body
	} else {
		target = doc.Selection
	}

	var builder strings.Builder
	target.Find("h1, h2, h3, h4, h5, h6, p, li, td, th, pre, blockquote").Each(func(i int, s *goquery.Selection) {
		text := strings.TrimSpace(s.Text())
		if text != "" {
			builder.WriteString(text)
			builder.WriteString("\n\n")
		}
	})

	result := NormalizeText(builder.String())
	if result == "" {
		result = NormalizeText(target.Text())
	}

	return result
}

// FilenameStem returns the file name without directory or extension, used
// as the title of last resort.
func FilenameStem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
