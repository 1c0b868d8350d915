package scraper

import (
	"bytes"
	"strings"
	"unicode"

	"golang.org/x/net/html"
)

// spaShells are markers of a client-rendered page whose HTTP body holds no content.
var spaShells = [][]byte{
	[]byte(`<div id="root"></div>`),
	[]byte(`<div id="app"></div>`),
	[]byte(`<div id="__next"></div>`),
	[]byte(`<noscript>you need to enable javascript`),
	[]byte(`<noscript>enable javascript`),
}

// IsSufficient reports whether an HTTP body carries enough visible text to
// be parsed without a browser: at least 256 bytes, 200 visible characters
// and 10% text against markup, and no SPA shell marker.
func IsSufficient(body []byte) bool {
	if len(body) < 256 {
		return false
	}

	text, markup := textMarkupRatio(body)
	total := text + markup
	if total == 0 {
		return false
	}
	if float64(text)/float64(total) < 0.10 {
		return false
	}
	if text < 200 {
		return false
	}

	lower := bytes.ToLower(body)
	for _, ind := range spaShells {
		if bytes.Contains(lower, ind) {
			return false
		}
	}
	return true
}

// textMarkupRatio counts visible non-space text bytes against everything
// else. Script and style bodies count as markup.
func textMarkupRatio(body []byte) (text, markup int) {
	z := html.NewTokenizer(bytes.NewReader(body))
	var raw int // skipped element depth (script/style)
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			return text, markup
		}
		chunk := z.Raw()

		switch tt {
		case html.StartTagToken:
			markup += len(chunk)
			if name, _ := z.TagName(); isRawText(name) {
				raw++
			}
		case html.EndTagToken:
			markup += len(chunk)
			if name, _ := z.TagName(); isRawText(name) && raw > 0 {
				raw--
			}
		case html.TextToken:
			if raw > 0 {
				markup += len(chunk)
				continue
			}
			n := len(strings.Map(dropSpace, string(chunk)))
			text += n
			markup += len(chunk) - n
		default:
			markup += len(chunk)
		}
	}
}

func isRawText(name []byte) bool {
	return string(name) == "script" || string(name) == "style"
}

func dropSpace(r rune) rune {
	if unicode.IsSpace(r) {
		return -1
	}
	return r
}
