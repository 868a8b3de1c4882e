package web

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"strings"
)

var errNotSitemap = errors.New("document is neither a urlset nor a sitemapindex")

type urlSet struct {
	URLs []struct {
		Loc string `xml:"loc"`
	} `xml:"url"`
}

type sitemapIndex struct {
	Sitemaps []struct {
		Loc string `xml:"loc"`
	} `xml:"sitemap"`
}

// Sitemap is a parsed sitemap document.
type Sitemap struct {
	// URLs are the page locations of a <urlset>.
	URLs []string

	// Sitemaps are the nested sitemap locations of a <sitemapindex>.
	Sitemaps []string
}

// ParseSitemap decodes a <urlset> or <sitemapindex> document. Locations
// are trimmed and empty entries dropped; order is preserved.
func ParseSitemap(body []byte) (*Sitemap, error) {
	root, err := rootElement(body)
	if err != nil {
		return nil, err
	}

	switch root {
	case "urlset":
		var set urlSet
		if err := xml.Unmarshal(body, &set); err != nil {
			return nil, fmt.Errorf("parse sitemap: %w", err)
		}
		sm := &Sitemap{}
		for _, u := range set.URLs {
			if loc := strings.TrimSpace(u.Loc); loc != "" {
				sm.URLs = append(sm.URLs, loc)
			}
		}
		return sm, nil
	case "sitemapindex":
		var idx sitemapIndex
		if err := xml.Unmarshal(body, &idx); err != nil {
			return nil, fmt.Errorf("parse sitemap index: %w", err)
		}
		sm := &Sitemap{}
		for _, s := range idx.Sitemaps {
			if loc := strings.TrimSpace(s.Loc); loc != "" {
				sm.Sitemaps = append(sm.Sitemaps, loc)
			}
		}
		return sm, nil
	default:
		return nil, fmt.Errorf("parse sitemap: %w (root <%s>)", errNotSitemap, root)
	}
}

func rootElement(body []byte) (string, error) {
	dec := xml.NewDecoder(bytes.NewReader(body))
	for {
		tok, err := dec.Token()
		if err != nil {
			return "", fmt.Errorf("parse sitemap: %w", err)
		}
		if start, ok := tok.(xml.StartElement); ok {
			return start.Name.Local, nil
		}
	}
}
