package picker

import (
	"net/url"
	"strings"

	"github.com/aymerick/douceur/parser"
)

// DefaultMaxCandidates bounds the candidate list when no cap is configured.
const DefaultMaxCandidates = 400

// imageSourceAttrs are read from <img> elements, primary source first.
var imageSourceAttrs = []string{"src", "data-src", "data-original", "data-lazy", "data-image"}

// srcsetAttrs hold responsive candidate sets on <img> and <source>.
var srcsetAttrs = []string{"srcset", "data-srcset"}

// Extractor turns page markup into an ordered, deduplicated candidate list.
type Extractor struct {
	MaxCandidates int
}

// Extract walks doc in document order and returns absolute candidate URLs,
// first occurrence wins, truncated to the configured cap.
func (e Extractor) Extract(page *url.URL, doc Markup) []string {
	limit := e.MaxCandidates
	if limit <= 0 {
		limit = DefaultMaxCandidates
	}
	c := &collector{base: page, limit: limit, seen: make(map[string]struct{})}
	if doc == nil {
		return nil
	}
	doc.Walk(func(el Element) {
		if c.full() {
			return
		}
		switch strings.ToLower(el.Tag()) {
		case "img":
			for _, name := range imageSourceAttrs {
				if v, ok := el.Attr(name); ok {
					c.add(v)
				}
			}
			c.addSrcsets(el)
		case "source":
			c.addSrcsets(el)
		}
		if style, ok := el.Attr("style"); ok {
			for _, ref := range StyleImageURLs(style) {
				c.add(ref)
			}
		}
	})
	return c.out
}

type collector struct {
	base  *url.URL
	limit int
	seen  map[string]struct{}
	out   []string
}

func (c *collector) full() bool { return len(c.out) >= c.limit }

func (c *collector) add(raw string) {
	if c.full() {
		return
	}
	abs, ok := NormalizeURL(c.base, raw)
	if !ok {
		return
	}
	if _, dup := c.seen[abs]; dup {
		return
	}
	c.seen[abs] = struct{}{}
	c.out = append(c.out, abs)
}

func (c *collector) addSrcsets(el Element) {
	for _, name := range srcsetAttrs {
		if v, ok := el.Attr(name); ok {
			for _, ref := range SrcsetURLs(v) {
				c.add(ref)
			}
		}
	}
}

// SrcsetURLs returns the URL token of every "URL [descriptor]" entry.
func SrcsetURLs(srcset string) []string {
	var out []string
	for _, entry := range strings.Split(srcset, ",") {
		fields := strings.Fields(entry)
		if len(fields) == 0 {
			continue
		}
		out = append(out, fields[0])
	}
	return out
}

// StyleImageURLs extracts url(...) references from background declarations
// of an inline style attribute. Unparseable styles fall back to a literal scan.
func StyleImageURLs(style string) []string {
	if !strings.Contains(strings.ToLower(style), "url(") {
		return nil
	}
	decls, err := parser.ParseDeclarations(style)
	if err != nil || len(decls) == 0 {
		return cssURLs(style)
	}
	var out []string
	for _, decl := range decls {
		prop := strings.ToLower(strings.TrimSpace(decl.Property))
		if prop != "background" && prop != "background-image" {
			continue
		}
		out = append(out, cssURLs(decl.Value)...)
	}
	return out
}

// cssURLs scans every url( ... ) argument in value, quotes stripped.
func cssURLs(value string) []string {
	var out []string
	rest := value
	for {
		idx := strings.Index(strings.ToLower(rest), "url(")
		if idx < 0 {
			return out
		}
		rest = rest[idx+len("url("):]
		end := strings.IndexByte(rest, ')')
		if end < 0 {
			return out
		}
		arg := strings.Trim(strings.TrimSpace(rest[:end]), `"'`)
		if arg != "" {
			out = append(out, arg)
		}
		rest = rest[end+1:]
	}
}
