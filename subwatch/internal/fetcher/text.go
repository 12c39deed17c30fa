package fetcher

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// VisibleText returns the body text of an HTML document with script,
// style, noscript and template contents removed and whitespace collapsed.
// A document without a body yields the text of the whole tree.
func VisibleText(html []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return "", err
	}
	doc.Find("script, style, noscript, template").Remove()

	sel := doc.Find("body")
	if sel.Length() == 0 {
		sel = doc.Selection
	}
	return strings.Join(strings.Fields(sel.Text()), " "), nil
}
