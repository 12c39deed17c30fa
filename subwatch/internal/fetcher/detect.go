package fetcher

import (
	"bytes"
	"unicode"
)

// spaShells are markers of a client-rendered page served before its
// scripts run.
var spaShells = [][]byte{
	[]byte(`<div id="root"></div>`),
	[]byte(`<div id="app"></div>`),
	[]byte(`<div id="__next"></div>`),
	[]byte(`<noscript>you need to enable javascript`),
	[]byte(`<noscript>enable javascript`),
}

// IsSufficient reports whether the static HTML carries enough visible
// text to be scanned without a browser: at least 256 bytes, 200 visible
// characters, 10% text to markup, and no SPA shell marker.
func IsSufficient(html []byte) bool {
	if len(html) < 256 {
		return false
	}

	lower := bytes.ToLower(html)
	for _, shell := range spaShells {
		if bytes.Contains(lower, shell) {
			return false
		}
	}

	text, markup := textMarkupRatio(html)
	if text < 200 {
		return false
	}
	return float64(text)/float64(text+markup) >= 0.10
}

// textMarkupRatio counts non-space bytes of visible text against the rest
// of the document.
func textMarkupRatio(html []byte) (text, markup int) {
	visible, err := VisibleText(html)
	if err != nil {
		return 0, len(html)
	}
	for _, r := range visible {
		if !unicode.IsSpace(r) {
			text += len(string(r))
		}
	}
	markup = len(html) - text
	if markup < 0 {
		markup = 0
	}
	return text, markup
}
