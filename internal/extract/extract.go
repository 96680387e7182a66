// Package extract walks a parsed page and produces one link record per
// anchor, with an XPath fingerprint and a position classification. The walk
// is CPU-bound, performs no I/O, and treats the tree as read-only, so
// concurrent extractions over different documents need no coordination.
package extract

import (
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/net/html"

	"linkatlas/internal/models"
)

// AnchorError reports a single anchor the engine had to skip. One bad
// anchor never fails the rest of the page.
type AnchorError struct {
	Index int
	Href  string
	Err   error
}

func (e *AnchorError) Error() string {
	return fmt.Sprintf("anchor %d href %q: %v", e.Index, e.Href, e.Err)
}

func (e *AnchorError) Unwrap() error { return e.Err }

// Engine extracts outbound links from parsed pages.
type Engine struct{}

// NewEngine creates a link extraction engine.
func NewEngine() *Engine { return &Engine{} }

// Extract returns the link records for every anchor with a resolvable href,
// in document order, plus the per-anchor errors for skipped anchors. Anchors
// without an href attribute are ignored entirely.
func (e *Engine) Extract(root *html.Node, sourceURL string) ([]models.LinkRecord, []*AnchorError, error) {
	if root == nil {
		return nil, nil, fmt.Errorf("nil document")
	}
	base, err := url.Parse(sourceURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse source url %q: %w", sourceURL, err)
	}

	var records []models.LinkRecord
	var skipped []*AnchorError
	index := 0
	walk(root, func(n *html.Node) {
		if n.Type != html.ElementNode || n.Data != "a" {
			return
		}
		href, ok := lookupAttr(n, "href")
		if !ok {
			return
		}
		index++

		target, err := resolveHref(base, href)
		if err != nil {
			skipped = append(skipped, &AnchorError{Index: index, Href: href, Err: err})
			return
		}

		rel := attr(n, "rel")
		records = append(records, models.LinkRecord{
			TargetURL:  target,
			AnchorText: strings.TrimSpace(textContent(n)),
			XPath:      Fingerprint(n),
			Position:   classifyPosition(n),
			Rel:        rel,
			NoFollow:   strings.Contains(strings.ToLower(rel), "nofollow"),
		})
	})
	return records, skipped, nil
}

func resolveHref(base *url.URL, href string) (string, error) {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return "", err
	}
	return base.ResolveReference(ref).String(), nil
}

// walk visits element nodes depth-first in document order.
func walk(n *html.Node, visit func(*html.Node)) {
	visit(n)
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		walk(child, visit)
	}
}

// textContent concatenates the rendered text of n's subtree.
func textContent(n *html.Node) string {
	var sb strings.Builder
	var rec func(*html.Node)
	rec = func(cur *html.Node) {
		if cur.Type == html.TextNode {
			sb.WriteString(cur.Data)
		}
		for child := cur.FirstChild; child != nil; child = child.NextSibling {
			rec(child)
		}
	}
	rec(n)
	return sb.String()
}

func lookupAttr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}
