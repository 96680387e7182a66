package page

import (
	"context"
	"fmt"
	"io"
	"net/http"
)

// DefaultUserAgent is sent with all page requests so sites can identify
// the crawler and apply robots.txt rules or rate limits.
const DefaultUserAgent = "LinkAtlas/1.0 (+https://github.com/linkatlas)"

// maxBodyBytes caps how much of a response body is read. Pages larger than
// this are truncated rather than rejected.
const maxBodyBytes = 10 << 20

// Document is a fetched page body plus the Content-Type the server reported,
// which the parser needs for charset detection.
type Document struct {
	Body        []byte
	ContentType string
}

// Fetch retrieves a page using http.DefaultClient.
func Fetch(ctx context.Context, url string) (Document, error) {
	return FetchWithClient(ctx, http.DefaultClient, url)
}

// FetchWithClient retrieves a page using the given HTTP client
// (e.g. one configured with a proxy for multi-egress / rate-limit bypass).
// Sets a custom User-Agent (DefaultUserAgent) so the site can identify the crawler.
func FetchWithClient(ctx context.Context, client *http.Client, url string) (Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Document{}, err
	}
	req.Header.Set("User-Agent", DefaultUserAgent)
	resp, err := client.Do(req)
	if err != nil {
		return Document{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Document{}, fmt.Errorf("unexpected status %d for %s", resp.StatusCode, url)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return Document{}, err
	}
	return Document{Body: body, ContentType: resp.Header.Get("Content-Type")}, nil
}
