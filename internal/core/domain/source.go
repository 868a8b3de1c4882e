package domain

import (
	"mime"
	"net/url"
	"path"
	"strings"
)

// SourceKind is the closed set of source variants the pipeline understands.
// It is decided once at fetch time and every consumer dispatches on it with
// an exhaustive switch.
type SourceKind string

// Available source kinds.
const (
	// KindWebPage is an HTML page, optionally crawled recursively.
	KindWebPage SourceKind = "webpage"

	// KindSitemap is an XML sitemap listing page URLs.
	KindSitemap SourceKind = "sitemap"

	// KindPlainText is plain text or Markdown, fetched as-is.
	KindPlainText SourceKind = "text"

	// KindPDF is a PDF document.
	KindPDF SourceKind = "pdf"

	// KindImage is an image. Recognised, but carries no extractable text.
	KindImage SourceKind = "image"
)

// AllSourceKinds returns every source kind.
func AllSourceKinds() []SourceKind {
	return []SourceKind{KindWebPage, KindSitemap, KindPlainText, KindPDF, KindImage}
}

// IsValid returns true if the kind is recognised.
func (k SourceKind) IsValid() bool {
	switch k {
	case KindWebPage, KindSitemap, KindPlainText, KindPDF, KindImage:
		return true
	default:
		return false
	}
}

// String returns the string representation.
func (k SourceKind) String() string {
	return string(k)
}

// Description returns a human-readable description of the kind.
func (k SourceKind) Description() string {
	switch k {
	case KindWebPage:
		return "Web page"
	case KindSitemap:
		return "Sitemap"
	case KindPlainText:
		return "Plain text / Markdown"
	case KindPDF:
		return "PDF document"
	case KindImage:
		return "Image"
	default:
		return unknownDescription
	}
}

var (
	textExtensions  = map[string]bool{".txt": true, ".text": true, ".md": true, ".markdown": true, ".mdx": true}
	imageExtensions = map[string]bool{
		".png": true, ".jpg": true, ".jpeg": true, ".gif": true,
		".webp": true, ".bmp": true, ".tiff": true, ".svg": true,
	}
	htmlExtensions = map[string]bool{".html": true, ".htm": true, ".xhtml": true}
)

// SourceRef is a parsed source reference: a URL, sitemap URL or local path.
type SourceRef struct {
	// Raw is the reference as given by the caller.
	Raw string

	// Kind is the variant inferred from the reference alone.
	Kind SourceKind

	// Local is true for filesystem paths and globs.
	Local bool
}

// ParseSourceRef classifies a source reference. Anything that is not an
// http(s) URL is treated as a local path or glob.
func ParseSourceRef(raw string) (SourceRef, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return SourceRef{}, ErrInvalidInput
	}

	if u, err := url.Parse(raw); err == nil && (u.Scheme == "http" || u.Scheme == "https") {
		if u.Host == "" {
			return SourceRef{}, ErrInvalidInput
		}
		return SourceRef{Raw: raw, Kind: ClassifyReference(raw), Local: false}, nil
	}

	p := strings.TrimPrefix(raw, "file://")
	return SourceRef{Raw: p, Kind: ClassifyPath(p), Local: true}, nil
}

// ClassifyReference infers the kind of a remote reference from its path.
// A path ending in sitemap.xml, or containing "sitemap", is a sitemap.
func ClassifyReference(ref string) SourceKind {
	p := ref
	if u, err := url.Parse(ref); err == nil && u.Host != "" {
		p = u.Path
	}
	lower := strings.ToLower(p)
	ext := path.Ext(lower)

	switch {
	case strings.HasSuffix(lower, "sitemap.xml") || strings.Contains(lower, "sitemap"):
		return KindSitemap
	case textExtensions[ext]:
		return KindPlainText
	case ext == ".pdf":
		return KindPDF
	case imageExtensions[ext]:
		return KindImage
	default:
		return KindWebPage
	}
}

// ClassifyPath infers the kind of a file path. Unknown extensions are read
// as plain text, unlike remote references which default to web pages.
func ClassifyPath(p string) SourceKind {
	ext := strings.ToLower(path.Ext(p))
	switch {
	case htmlExtensions[ext]:
		return KindWebPage
	case ext == ".pdf":
		return KindPDF
	case imageExtensions[ext]:
		return KindImage
	case ext == ".xml" && strings.Contains(strings.ToLower(path.Base(p)), "sitemap"):
		return KindSitemap
	default:
		return KindPlainText
	}
}

// KindFromContentType refines the kind of a fetched unit using its content
// type. Missing or generic content types fall back to the URI.
func KindFromContentType(contentType, uri string) SourceKind {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil || mediaType == "" || mediaType == "application/octet-stream" {
		return ClassifyReference(uri)
	}

	switch {
	case mediaType == "text/html" || mediaType == "application/xhtml+xml":
		return KindWebPage
	case mediaType == "application/xml" || mediaType == "text/xml":
		if ClassifyReference(uri) == KindSitemap {
			return KindSitemap
		}
		return KindPlainText
	case mediaType == "application/pdf":
		return KindPDF
	case strings.HasPrefix(mediaType, "image/"):
		return KindImage
	case strings.HasPrefix(mediaType, "text/"):
		return KindPlainText
	default:
		return ClassifyReference(uri)
	}
}
