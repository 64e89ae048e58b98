// Package mailtext turns email body previews into plain text for matching.
package mailtext

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var htmlTagRe = regexp.MustCompile(`(?i)</?(?:html|body|div|p|br|span|table|td|tr|a|b|i|strong|em|font|ul|li|h[1-6])\b[^>]*>`)

// Plain returns s as single-spaced plain text. HTML content is parsed and its
// text extracted; everything else is only whitespace-collapsed.
func Plain(s string) string {
	if strings.TrimSpace(s) == "" {
		return ""
	}
	if !htmlTagRe.MatchString(s) {
		return collapse(s)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return collapse(s)
	}
	doc.Find("script, style, head").Remove()
	// Block elements would otherwise glue adjacent words together.
	doc.Find("br, p, div, li, tr, td, h1, h2, h3, h4, h5, h6").Each(func(_ int, sel *goquery.Selection) {
		sel.AfterHtml(" ")
	})
	return collapse(doc.Text())
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
