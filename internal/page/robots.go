package page

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// robotsFetchTimeout bounds the robots.txt fetch for one host.
const robotsFetchTimeout = 15 * time.Second

// RobotsRules holds disallow rules for a given user-agent (e.g. *).
// Path matching follows common practice: Disallow: /search forbids any path
// whose path component starts with /search (e.g. /search, /search.json,
// /search/authors).
type RobotsRules struct {
	disallowPrefixes []string
}

// Allowed returns false if the URL path is disallowed by the parsed rules.
// Empty path or uninitialized rules are treated as allowed.
func (r *RobotsRules) Allowed(path string) bool {
	if r == nil || len(r.disallowPrefixes) == 0 {
		return true
	}
	path = normalizeRobotsPath(path)
	for _, prefix := range r.disallowPrefixes {
		if strings.HasPrefix(path, prefix) {
			return false
		}
	}
	return true
}

func normalizeRobotsPath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if p[0] != '/' {
		return "/" + p
	}
	return p
}

// ParseRobots parses a robots.txt body and returns rules for the given
// userAgent. Uses the first User-agent block that matches (exact or "*").
func ParseRobots(body []byte, userAgent string) *RobotsRules {
	r := &RobotsRules{}
	scanner := bufio.NewScanner(strings.NewReader(string(body)))
	var inMatchingBlock bool
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(strings.ToLower(line), "user-agent:") {
			agent := strings.TrimSpace(line[len("user-agent:"):])
			match := agent == "*" || strings.EqualFold(agent, userAgent)
			if match && !inMatchingBlock {
				inMatchingBlock = true
			} else {
				inMatchingBlock = false
			}
			continue
		}
		if inMatchingBlock && strings.HasPrefix(strings.ToLower(line), "disallow:") {
			path := strings.TrimSpace(line[len("disallow:"):])
			if path != "" {
				r.disallowPrefixes = append(r.disallowPrefixes, normalizeRobotsPath(path))
			}
		}
	}
	return r
}

// FetchRobots fetches robots.txt at the origin of baseURL using the provided
// client. By convention, fetching /robots.txt is itself always allowed.
func FetchRobots(ctx context.Context, client *http.Client, baseURL string) ([]byte, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, err
	}
	u.Path = "/robots.txt"
	u.RawQuery = ""
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", DefaultUserAgent)
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("robots.txt status %d for %s", resp.StatusCode, u.String())
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
}

// RobotsCache gates page fetches by per-host robots.txt rules, fetched lazily
// and kept for the life of the process. A host whose robots.txt cannot be
// fetched allows all paths.
type RobotsCache struct {
	client *http.Client
	mu     sync.Mutex
	hosts  map[string]*RobotsRules
}

// NewRobotsCache builds a cache that fetches robots.txt with client. The
// client should be the same one used for page fetches so site rules apply to
// the same egress.
func NewRobotsCache(client *http.Client) *RobotsCache {
	return &RobotsCache{
		client: client,
		hosts:  make(map[string]*RobotsRules),
	}
}

// Allowed reports whether rawURL may be fetched under its host's robots.txt.
// Unparseable URLs pass through; the fetch itself rejects them.
func (c *RobotsCache) Allowed(ctx context.Context, rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return true
	}
	origin := u.Scheme + "://" + u.Host
	return c.rulesFor(ctx, origin).Allowed(normalizeRobotsPath(u.Path))
}

func (c *RobotsCache) rulesFor(ctx context.Context, origin string) *RobotsRules {
	c.mu.Lock()
	if rules, ok := c.hosts[origin]; ok {
		c.mu.Unlock()
		return rules
	}
	c.mu.Unlock()

	fetchCtx, cancel := context.WithTimeout(ctx, robotsFetchTimeout)
	body, err := FetchRobots(fetchCtx, c.client, origin)
	cancel()

	var rules *RobotsRules
	if err != nil {
		log.Printf("robots.txt fetch failed for %s (allowing all paths): %v", origin, err)
	} else {
		rules = ParseRobots(body, DefaultUserAgent)
	}

	c.mu.Lock()
	c.hosts[origin] = rules
	c.mu.Unlock()
	return rules
}
