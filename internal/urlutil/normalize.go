// Package urlutil produces the canonical URL form used as the dedup and
// storage key across the queue, cache, and link graph.
package urlutil

import (
	"fmt"
	"net/url"
	"path"
	"strings"
)

// Normalize canonicalizes a URL: scheme and host lowercased, default port
// stripped, path cleaned (trailing slash dropped except at the root), and
// fragment removed. Query strings are kept as-is since they can be
// significant for crawl targets. Only http and https URLs are accepted.
func Normalize(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("empty url")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse url %q: %w", raw, err)
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q in %q", u.Scheme, raw)
	}
	if u.Host == "" {
		return "", fmt.Errorf("missing host in %q", raw)
	}

	u.Scheme = scheme
	u.Host = strings.ToLower(u.Host)
	if scheme == "http" {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	} else {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}

	if u.Path != "" {
		cleaned := path.Clean(u.Path)
		if cleaned == "." || cleaned == "/" {
			cleaned = ""
		}
		u.Path = cleaned
	}
	u.Fragment = ""

	return u.String(), nil
}
