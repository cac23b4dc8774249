package search

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"

	"webrag/internal/domain"
	"webrag/internal/port"
)

const DefaultDuckDuckGoEndpoint = "https://html.duckduckgo.com/html/"

var _ port.Searcher = (*DuckDuckGo)(nil)

// DuckDuckGo scrapes the JavaScript-free DuckDuckGo results page. It needs
// no API key; the provider rate-limits aggressively and answers throttled
// requests with a non-200 status.
type DuckDuckGo struct {
	endpoint  string
	userAgent string
	client    *http.Client
}

func NewDuckDuckGo(endpoint, userAgent string, timeout time.Duration) *DuckDuckGo {
	if endpoint == "" {
		endpoint = DefaultDuckDuckGoEndpoint
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &DuckDuckGo{
		endpoint:  endpoint,
		userAgent: userAgent,
		client:    &http.Client{Timeout: timeout},
	}
}

func (d *DuckDuckGo) Search(ctx context.Context, query string, maxResults int) ([]string, error) {
	if maxResults <= 0 || strings.TrimSpace(query) == "" {
		return nil, nil
	}

	form := url.Values{"q": {query}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrSearchUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if d.userAgent != "" {
		req.Header.Set("User-Agent", d.userAgent)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrSearchUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: provider returned status %d", domain.ErrSearchUnavailable, resp.StatusCode)
	}

	doc, err := html.Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: unreadable results page: %v", domain.ErrSearchUnavailable, err)
	}

	return ParseResults(doc, maxResults), nil
}

// ParseResults collects result links from a DuckDuckGo HTML page in page
// order, skipping ads and duplicates.
func ParseResults(doc *html.Node, maxResults int) []string {
	var urls []string
	seen := make(map[string]bool)

	var walk func(n *html.Node, inAd bool)
	walk = func(n *html.Node, inAd bool) {
		if len(urls) >= maxResults {
			return
		}
		if n.Type == html.ElementNode {
			if hasClass(n, "result--ad") {
				inAd = true
			}
			if n.Data == "a" && hasClass(n, "result__a") && !inAd {
				if target := resultURL(attr(n, "href")); target != "" && !seen[target] {
					seen[target] = true
					urls = append(urls, target)
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c, inAd)
		}
	}
	walk(doc, false)

	return urls
}

// resultURL unwraps DuckDuckGo's /l/?uddg= redirect and drops anything that
// is not a plain http(s) link.
func resultURL(href string) string {
	if href == "" {
		return ""
	}
	if strings.HasPrefix(href, "//") {
		href = "https:" + href
	}

	u, err := url.Parse(href)
	if err != nil {
		return ""
	}

	if strings.HasSuffix(u.Host, "duckduckgo.com") || u.Host == "" {
		if u.Path == "/y.js" {
			return ""
		}
		target := u.Query().Get("uddg")
		if target == "" {
			return ""
		}
		if u, err = url.Parse(target); err != nil {
			return ""
		}
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	return u.String()
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(attr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}
