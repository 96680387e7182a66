package page

import (
	"bytes"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/charset"
)

// Parsed is a decoded page: the document tree plus the metadata fields the
// result payload carries.
type Parsed struct {
	Root        *html.Node
	Title       string
	Description string
}

// Parse decodes a fetched document into a Parsed page. Bodies in legacy
// encodings are converted to UTF-8 first using the Content-Type header and
// byte sniffing.
func Parse(doc Document) (Parsed, error) {
	data := doc.Body

	enc, _, _ := charset.DetermineEncoding(data, doc.ContentType)
	utf8data, err := enc.NewDecoder().Bytes(data)
	if err != nil {
		// fallback: if already utf-8, continue
		if !utf8.Valid(data) {
			return Parsed{}, err
		}
		utf8data = data
	}

	gq, err := goquery.NewDocumentFromReader(bytes.NewReader(utf8data))
	if err != nil {
		return Parsed{}, err
	}
	root := gq.Get(0)
	if root == nil {
		return Parsed{}, errors.New("empty document")
	}

	title := strings.TrimSpace(gq.Find("title").First().Text())
	desc := strings.TrimSpace(gq.Find(`meta[name="description"]`).AttrOr("content", ""))
	if desc == "" {
		desc = strings.TrimSpace(gq.Find(`meta[property="og:description"]`).AttrOr("content", ""))
	}

	return Parsed{Root: root, Title: title, Description: desc}, nil
}
