package extract

import (
	"strings"
	"testing"

	"golang.org/x/net/html"
)

func parseFixture(t *testing.T, fragment string) *html.Node {
	t.Helper()
	root, err := html.Parse(strings.NewReader(fragment))
	if err != nil {
		t.Fatalf("parse fixture: %v", err)
	}
	return root
}

// findElements returns all elements matching tag in document order.
func findElements(root *html.Node, tag string) []*html.Node {
	var found []*html.Node
	walk(root, func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == tag {
			found = append(found, n)
		}
	})
	return found
}

func TestFingerprintIDWins(t *testing.T) {
	root := parseFixture(t, `<div id="x" class="box"><p>a</p></div>`)
	divs := findElements(root, "div")
	if len(divs) != 1 {
		t.Fatalf("expected 1 div, got %d", len(divs))
	}
	got := Fingerprint(divs[0])
	if !strings.HasSuffix(got, "/div[@id='x']") {
		t.Fatalf("expected id segment, got %s", got)
	}
	if !strings.HasPrefix(got, "//") {
		t.Fatalf("expected // prefix, got %s", got)
	}
}

func TestFingerprintSiblingIndex(t *testing.T) {
	root := parseFixture(t, `<div id="x"><p>a</p><p>b</p></div>`)
	ps := findElements(root, "p")
	if len(ps) != 2 {
		t.Fatalf("expected 2 p elements, got %d", len(ps))
	}

	second := Fingerprint(ps[1])
	if !strings.HasSuffix(second, "/div[@id='x']/p[2]") {
		t.Fatalf("unexpected fingerprint for second p: %s", second)
	}

	// The first p is index 1 but a same-tag sibling follows, so it still
	// gets bracketed. This exact format is load-bearing for consumers.
	first := Fingerprint(ps[0])
	if !strings.HasSuffix(first, "/div[@id='x']/p[1]") {
		t.Fatalf("unexpected fingerprint for first p: %s", first)
	}
}

func TestFingerprintOnlyChildOmitsIndex(t *testing.T) {
	root := parseFixture(t, `<div><span>only</span></div>`)
	spans := findElements(root, "span")
	got := Fingerprint(spans[0])
	if !strings.HasSuffix(got, "/div/span") {
		t.Fatalf("expected bare tag for only child, got %s", got)
	}
}

func TestFingerprintClassFirstToken(t *testing.T) {
	root := parseFixture(t, `<div><span class="btn primary large">x</span></div>`)
	spans := findElements(root, "span")
	got := Fingerprint(spans[0])
	if !strings.HasSuffix(got, "/span[@class='btn']") {
		t.Fatalf("expected first class token, got %s", got)
	}
}

func TestFingerprintLongClassIgnored(t *testing.T) {
	long := strings.Repeat("x", 50)
	root := parseFixture(t, `<div><span class="`+long+`">x</span></div>`)
	spans := findElements(root, "span")
	got := Fingerprint(spans[0])
	if strings.Contains(got, "@class") {
		t.Fatalf("expected long class to be ignored, got %s", got)
	}
	if !strings.HasSuffix(got, "/div/span") {
		t.Fatalf("unexpected fingerprint: %s", got)
	}
}

func TestFingerprintDepthCap(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 14; i++ {
		sb.WriteString("<div>")
	}
	sb.WriteString("<span>deep</span>")
	root := parseFixture(t, sb.String())
	spans := findElements(root, "span")
	got := Fingerprint(spans[0])

	segments := strings.Split(strings.TrimPrefix(got, "//"), "/")
	if len(segments) != maxDepth {
		t.Fatalf("expected %d segments, got %d in %s", maxDepth, len(segments), got)
	}
	if segments[len(segments)-1] != "span" {
		t.Fatalf("expected leaf segment last, got %s", got)
	}
}

func TestFingerprintIDBeatsSiblingIndex(t *testing.T) {
	root := parseFixture(t, `<div><p>a</p><p id="target">b</p></div>`)
	ps := findElements(root, "p")
	got := Fingerprint(ps[1])
	if !strings.HasSuffix(got, "/p[@id='target']") {
		t.Fatalf("expected id to take precedence over index, got %s", got)
	}
}
