package web

import (
	"bytes"
	"net/url"
	"strings"

	"golang.org/x/net/html"
)

// ExtractLinks returns the normalised same-origin links of an HTML page in
// document order, without duplicates. A <base href> changes the resolution
// base. Links to other origins and non-http schemes are dropped.
func ExtractLinks(pageURL string, body []byte) []string {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil
	}
	origin := base

	var links []string
	seen := make(map[string]bool)

	z := html.NewTokenizer(bytes.NewReader(body))
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			return links
		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			if !hasAttr {
				continue
			}
			tag := string(name)
			if tag != "a" && tag != "base" {
				continue
			}
			href := attrValue(z, "href")
			if href == "" {
				continue
			}
			ref, err := url.Parse(strings.TrimSpace(href))
			if err != nil {
				continue
			}
			if tag == "base" {
				base = base.ResolveReference(ref)
				continue
			}

			abs := base.ResolveReference(ref)
			if !sameOrigin(origin, abs) {
				continue
			}
			normalized, err := NormalizeURL(abs.String())
			if err != nil || seen[normalized] {
				continue
			}
			seen[normalized] = true
			links = append(links, normalized)
		}
	}
}

func attrValue(z *html.Tokenizer, key string) string {
	for {
		k, v, more := z.TagAttr()
		if string(k) == key {
			return string(v)
		}
		if !more {
			return ""
		}
	}
}
