// Package html converts web pages into Markdown so that heading structure
// survives into chunking. The main content region is located with
// golang.org/x/net/html and converted with html-to-markdown.
package html

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/JohannesKaufmann/html-to-markdown/plugin"
	"golang.org/x/net/html"

	"github.com/custodia-labs/ragpipe/internal/core/domain"
	"github.com/custodia-labs/ragpipe/internal/core/ports/driven"
)

// Ensure Normaliser implements the interface.
var _ driven.Normaliser = (*Normaliser)(nil)

var excessiveLines = regexp.MustCompile(`\n{3,}`)

// Elements dropped before conversion when no main region is found.
var boilerplateTags = map[string]bool{
	"nav": true, "header": true, "footer": true, "aside": true,
	"script": true, "style": true, "noscript": true, "iframe": true,
	"object": true, "embed": true, "form": true, "button": true, "svg": true,
}

// Class names that mark navigation chrome.
var boilerplateClasses = map[string]bool{
	"nav": true, "navbar": true, "navigation": true, "sidebar": true,
	"menu": true, "toc": true, "table-of-contents": true, "footer": true,
	"breadcrumb": true, "advertisement": true, "social": true, "share": true,
}

// Normaliser handles HTML documents.
type Normaliser struct {
	converter *md.Converter
}

// New creates a new HTML normaliser.
func New() *Normaliser {
	converter := md.NewConverter("", true, &md.Options{CodeBlockStyle: "fenced"})
	converter.Use(plugin.GitHubFlavored())
	return &Normaliser{converter: converter}
}

// Kinds returns the source kinds this normaliser handles.
func (n *Normaliser) Kinds() []domain.SourceKind {
	return []domain.SourceKind{domain.KindWebPage}
}

// Normalise converts an HTML document into Markdown text.
func (n *Normaliser) Normalise(ctx context.Context, raw *domain.RawDocument) (*driven.NormaliseResult, error) {
	if raw == nil {
		return nil, domain.ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	root, err := html.Parse(bytes.NewReader(raw.Content))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	title := extractTitle(root)
	main := mainContent(root)

	var sb strings.Builder
	if err := html.Render(&sb, main); err != nil {
		return nil, fmt.Errorf("render html: %w", err)
	}

	markdown, err := n.converter.ConvertString(sb.String())
	if err != nil {
		return nil, fmt.Errorf("convert html: %w", err)
	}
	markdown = cleanMarkdown(markdown)

	if title == "" {
		title = firstHeading(markdown)
	}
	if title == "" {
		title = domain.TitleFromURI(raw.URI)
	}

	return &driven.NormaliseResult{
		Document: domain.Document{
			Title:   title,
			Content: markdown,
			Metadata: map[string]string{
				"format": "markdown",
			},
		},
	}, nil
}

// extractTitle returns the text of the first <title> element.
func extractTitle(root *html.Node) string {
	node := findElement(root, func(n *html.Node) bool { return n.Data == "title" })
	if node == nil {
		return ""
	}
	return strings.Join(strings.Fields(textContent(node)), " ")
}

// mainContent returns the node holding the page's primary content:
// <main>, <article> or role=main, else <body> stripped of boilerplate.
func mainContent(root *html.Node) *html.Node {
	for _, match := range []func(*html.Node) bool{
		func(n *html.Node) bool { return n.Data == "main" },
		func(n *html.Node) bool { return n.Data == "article" },
		func(n *html.Node) bool { return attr(n, "role") == "main" },
	} {
		if node := findElement(root, match); node != nil {
			removeBoilerplate(node)
			return node
		}
	}

	removeBoilerplate(root)
	if body := findElement(root, func(n *html.Node) bool { return n.Data == "body" }); body != nil {
		return body
	}
	return root
}

func findElement(n *html.Node, match func(*html.Node) bool) *html.Node {
	if n.Type == html.ElementNode && match(n) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, match); found != nil {
			return found
		}
	}
	return nil
}

func removeBoilerplate(n *html.Node) {
	var doomed []*html.Node
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if node.Type == html.ElementNode && isBoilerplate(node) {
			doomed = append(doomed, node)
			return
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c)
	}
	for _, node := range doomed {
		node.Parent.RemoveChild(node)
	}
}

func isBoilerplate(n *html.Node) bool {
	if boilerplateTags[n.Data] {
		return true
	}
	for _, class := range strings.Fields(strings.ToLower(attr(n, "class"))) {
		if boilerplateClasses[class] {
			return true
		}
	}
	return false
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func textContent(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}
	var sb strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		sb.WriteString(textContent(c))
	}
	return sb.String()
}

// cleanMarkdown trims trailing spaces and collapses runs of blank lines.
func cleanMarkdown(content string) string {
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	content = strings.Join(lines, "\n")
	content = excessiveLines.ReplaceAllString(content, "\n\n")
	content = strings.TrimSpace(content)
	if content == "" {
		return ""
	}
	return content + "\n"
}

func firstHeading(markdown string) string {
	for _, line := range strings.Split(markdown, "\n") {
		if trimmed := strings.TrimSpace(line); strings.HasPrefix(trimmed, "# ") {
			return strings.TrimSpace(trimmed[2:])
		}
	}
	return ""
}
