package page

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"golang.org/x/text/encoding/charmap"
)

func TestFetchSetsUserAgentAndReadsBody(t *testing.T) {
	var gotAgent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAgent = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte("<html><body>hi</body></html>"))
	}))
	defer srv.Close()

	doc, err := Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if gotAgent != DefaultUserAgent {
		t.Fatalf("unexpected user agent: %s", gotAgent)
	}
	if !strings.Contains(string(doc.Body), "hi") {
		t.Fatalf("unexpected body: %s", doc.Body)
	}
	if !strings.HasPrefix(doc.ContentType, "text/html") {
		t.Fatalf("unexpected content type: %s", doc.ContentType)
	}
}

func TestFetchRejectsNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	if _, err := Fetch(context.Background(), srv.URL); err == nil {
		t.Fatal("expected error for 404")
	}
}

func TestParseTitleAndDescription(t *testing.T) {
	doc := Document{
		Body: []byte(`<html><head>
			<title> Example Page </title>
			<meta name="description" content=" A page about things ">
		</head><body><a href="/x">x</a></body></html>`),
		ContentType: "text/html; charset=utf-8",
	}

	parsed, err := Parse(doc)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed.Title != "Example Page" {
		t.Fatalf("unexpected title: %q", parsed.Title)
	}
	if parsed.Description != "A page about things" {
		t.Fatalf("unexpected description: %q", parsed.Description)
	}
	if parsed.Root == nil {
		t.Fatal("expected document root")
	}
}

func TestParseFallsBackToOGDescription(t *testing.T) {
	doc := Document{
		Body: []byte(`<html><head>
			<meta property="og:description" content="og text">
		</head><body></body></html>`),
		ContentType: "text/html",
	}

	parsed, err := Parse(doc)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed.Description != "og text" {
		t.Fatalf("unexpected description: %q", parsed.Description)
	}
}

func TestParseDecodesLegacyEncoding(t *testing.T) {
	enc := charmap.ISO8859_1.NewEncoder()
	body, err := enc.Bytes([]byte(`<html><head><title>Café</title></head><body></body></html>`))
	if err != nil {
		t.Fatalf("encode fixture: %v", err)
	}

	parsed, err := Parse(Document{Body: body, ContentType: "text/html; charset=iso-8859-1"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed.Title != "Café" {
		t.Fatalf("unexpected title: %q", parsed.Title)
	}
}
