// Package markup parses HTML pages into the element surface the extractor reads.
package markup

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
	"golang.org/x/net/html/charset"

	"github.com/JakeFAU/randimg/internal/picker"
)

// candidateElements matches every element that can carry an image reference.
var candidateElements = cascadia.MustCompile("img, source, [style]")

// Parser implements picker.MarkupParser on top of goquery.
type Parser struct{}

// NewParser returns a Parser.
func NewParser() *Parser {
	return &Parser{}
}

// Parse decodes body using the declared or sniffed charset and builds a document.
func (p *Parser) Parse(body []byte, contentType string) (picker.Markup, error) {
	var reader io.Reader = bytes.NewReader(body)
	if decoded, err := charset.NewReader(reader, contentType); err == nil {
		reader = decoded
	} else {
		reader = bytes.NewReader(body)
	}
	root, err := html.Parse(reader)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return &Document{doc: goquery.NewDocumentFromNode(root)}, nil
}

// Document is a parsed page.
type Document struct {
	doc *goquery.Document
}

// Walk visits img, source and styled elements in document order.
func (d *Document) Walk(fn func(picker.Element)) {
	d.doc.FindMatcher(candidateElements).Each(func(_ int, s *goquery.Selection) {
		fn(element{sel: s})
	})
}

// Title returns the trimmed document title, if any.
func (d *Document) Title() string {
	return strings.TrimSpace(d.doc.Find("title").First().Text())
}

// ImageMarkupCount counts elements that can carry an image reference.
func (d *Document) ImageMarkupCount() int {
	return d.doc.FindMatcher(candidateElements).Length()
}

type element struct {
	sel *goquery.Selection
}

func (e element) Tag() string {
	return goquery.NodeName(e.sel)
}

func (e element) Attr(name string) (string, bool) {
	return e.sel.Attr(name)
}
