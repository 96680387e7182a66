package extract

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
)

// maxDepth caps every ancestor walk. Paths deeper than this are truncated at
// the tree-walk boundary; malformed (cyclic) parent pointers can never loop
// the generator.
const maxDepth = 10

// maxClassLen: class attributes at or beyond this length are ignored for
// fingerprint segments (long utility-class soup makes useless selectors).
const maxClassLen = 50

// Fingerprint builds a bounded-depth structural path for a DOM node, of the
// form //tag1[@id='x']/tag2[2]/tag3. It is a best-effort fingerprint, not a
// unique selector: two elements with no id or class can share one.
func Fingerprint(n *html.Node) string {
	segments := make([]string, 0, maxDepth)
	for cur := n; cur != nil && cur.Type == html.ElementNode; cur = cur.Parent {
		if len(segments) == maxDepth {
			break
		}
		segments = append(segments, segment(cur))
	}

	// Reverse into root-to-leaf order.
	for i, j := 0, len(segments)-1; i < j; i, j = i+1, j-1 {
		segments[i], segments[j] = segments[j], segments[i]
	}
	return "//" + strings.Join(segments, "/")
}

// segment renders one path step. An id wins outright; a short class
// contributes its first token; otherwise the 1-based sibling index is used,
// bracketed only when it disambiguates among same-tag siblings.
func segment(n *html.Node) string {
	tag := n.Data

	if id := attr(n, "id"); id != "" {
		return fmt.Sprintf("%s[@id='%s']", tag, id)
	}

	if class := attr(n, "class"); class != "" && len(class) < maxClassLen {
		if first := firstToken(class); first != "" {
			return fmt.Sprintf("%s[@class='%s']", tag, first)
		}
	}

	index := 1
	steps := 0
	for sib := n.PrevSibling; sib != nil && steps < maxDepth*boundFactor; sib = sib.PrevSibling {
		if sib.Type == html.ElementNode && sib.Data == tag {
			index++
		}
		steps++
	}
	// An index-1 element still gets bracketed when a same-tag sibling follows
	// it; downstream consumers depend on this exact format.
	if index > 1 || hasFollowingSameTag(n, tag) {
		return fmt.Sprintf("%s[%d]", tag, index)
	}
	return tag
}

// boundFactor widens the sibling-scan bound relative to maxDepth; sibling
// lists are flat so the cap mostly guards against pointer cycles.
const boundFactor = 100

func hasFollowingSameTag(n *html.Node, tag string) bool {
	steps := 0
	for sib := n.NextSibling; sib != nil && steps < maxDepth*boundFactor; sib = sib.NextSibling {
		if sib.Type == html.ElementNode && sib.Data == tag {
			return true
		}
		steps++
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

func firstToken(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
