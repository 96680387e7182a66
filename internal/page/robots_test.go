package page

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func TestParseRobotsAllowed(t *testing.T) {
	body := `
User-agent: *
Disallow: /admin
Disallow: /search
Disallow: /private

User-agent: Googlebot
Crawl-delay: 10
`
	r := ParseRobots([]byte(body), DefaultUserAgent)

	for _, path := range []string{"/", "/about", "/blog/post-1"} {
		if !r.Allowed(path) {
			t.Errorf("expected path %q to be allowed", path)
		}
	}
	for _, path := range []string{"/search", "/search.json", "/search/pages", "/admin/users", "/private"} {
		if r.Allowed(path) {
			t.Errorf("expected path %q to be disallowed", path)
		}
	}
}

func TestParseRobotsNilEmptyAllowed(t *testing.T) {
	var r *RobotsRules
	if !r.Allowed("/anything") {
		t.Error("nil rules should allow all")
	}
	empty := ParseRobots([]byte("User-agent: *\n"), DefaultUserAgent)
	if !empty.Allowed("/search") {
		t.Error("empty disallow list should allow all")
	}
}

func TestRobotsCacheGatesByHost(t *testing.T) {
	var fetches int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/robots.txt" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		atomic.AddInt64(&fetches, 1)
		_, _ = w.Write([]byte("User-agent: *\nDisallow: /private\n"))
	}))
	defer srv.Close()

	c := NewRobotsCache(srv.Client())
	ctx := context.Background()

	if c.Allowed(ctx, srv.URL+"/private/report") {
		t.Fatal("expected disallowed path to be blocked")
	}
	if !c.Allowed(ctx, srv.URL+"/public") {
		t.Fatal("expected allowed path to pass")
	}
	if got := atomic.LoadInt64(&fetches); got != 1 {
		t.Fatalf("expected one robots.txt fetch per host, got %d", got)
	}
}

func TestRobotsCacheAllowsAllWhenFetchFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c := NewRobotsCache(srv.Client())
	if !c.Allowed(context.Background(), srv.URL+"/anything") {
		t.Fatal("expected missing robots.txt to allow all paths")
	}
}

func TestRobotsCacheUnparseableURLPassesThrough(t *testing.T) {
	c := NewRobotsCache(http.DefaultClient)
	if !c.Allowed(context.Background(), "http://a b.com/") {
		t.Fatal("expected unparseable URL to pass through to the fetch")
	}
}
