// Package research implements the web research boundary: DuckDuckGo HTML
// search, bounded page reads with text extraction, a sha256-keyed fetch
// cache, and the run-wide query budget.
package research

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"

	"autodev/internal/logging"
)

const (
	searchEndpoint = "https://html.duckduckgo.com/html/?q=%s"
	userAgent      = "autodev/1.0 ResearchAgent"
)

// SearchResult is one search hit.
type SearchResult struct {
	Title   string
	URL     string
	Snippet string
}

// Researcher performs web searches and page reads against the shared query
// budget. A nil budget means unbounded (tests).
type Researcher struct {
	client       *http.Client
	cache        *Cache
	budget       *Budget
	maxPageBytes int

	// searchURL is overridable for tests.
	searchURL string
}

// New creates a researcher.
func New(cache *Cache, budget *Budget, maxPageBytes int) *Researcher {
	if maxPageBytes <= 0 {
		maxPageBytes = 512 * 1024
	}
	return &Researcher{
		client:       &http.Client{Timeout: 60 * time.Second},
		cache:        cache,
		budget:       budget,
		maxPageBytes: maxPageBytes,
		searchURL:    searchEndpoint,
	}
}

// Search runs one web search, spending one budget unit.
func (r *Researcher) Search(ctx context.Context, query string, maxResults int) ([]SearchResult, error) {
	if r.budget != nil {
		if err := r.budget.Spend(); err != nil {
			return nil, err
		}
	}
	if maxResults <= 0 {
		maxResults = 8
	}

	endpoint := fmt.Sprintf(r.searchURL, url.QueryEscape(query))
	body, err := r.fetch(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	results := parseSearchResults(body, maxResults)
	logging.Research("search %q returned %d results", query, len(results))
	return results, nil
}

// ReadPage fetches one page, spending one budget unit, and returns its
// extracted text. Reads go through the cache.
func (r *Researcher) ReadPage(ctx context.Context, pageURL string) (string, error) {
	if r.budget != nil {
		if err := r.budget.Spend(); err != nil {
			return "", err
		}
	}

	if r.cache != nil {
		if cached, ok := r.cache.Get(pageURL); ok {
			logging.ResearchDebug("cache hit for %s", pageURL)
			return cached, nil
		}
	}

	body, err := r.fetch(ctx, pageURL)
	if err != nil {
		return "", fmt.Errorf("page read failed: %w", err)
	}

	text := ExtractText(body)
	if r.cache != nil {
		r.cache.Set(pageURL, text)
	}
	logging.Research("read %s (%d bytes of text)", pageURL, len(text))
	return text, nil
}

func (r *Researcher) fetch(ctx context.Context, target string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := r.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("HTTP %d from %s", resp.StatusCode, target)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, int64(r.maxPageBytes)))
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// parseSearchResults walks the DuckDuckGo HTML result page. Result links
// carry class "result__a"; snippets carry class "result__snippet".
func parseSearchResults(page string, maxResults int) []SearchResult {
	doc, err := html.Parse(strings.NewReader(page))
	if err != nil {
		return nil
	}

	var results []SearchResult
	var snippets []string

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			switch {
			case hasClass(n, "result__a"):
				if len(results) < maxResults {
					results = append(results, SearchResult{
						Title: strings.TrimSpace(nodeText(n)),
						URL:   unwrapRedirect(attr(n, "href")),
					})
				}
			case hasClass(n, "result__snippet"):
				snippets = append(snippets, strings.TrimSpace(nodeText(n)))
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	for i := range results {
		if i < len(snippets) {
			results[i].Snippet = snippets[i]
		}
	}
	return results
}

// unwrapRedirect extracts the real URL from DuckDuckGo's uddg redirect.
func unwrapRedirect(raw string) string {
	if !strings.Contains(raw, "uddg=") {
		return raw
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	if uddg := parsed.Query().Get("uddg"); uddg != "" {
		return uddg
	}
	return raw
}

// ExtractText renders an HTML page as plain text, skipping script, style,
// and chrome elements, collapsing whitespace.
func ExtractText(page string) string {
	doc, err := html.Parse(strings.NewReader(page))
	if err != nil {
		return ""
	}

	skip := map[string]bool{
		"script": true, "style": true, "noscript": true,
		"nav": true, "header": true, "footer": true, "aside": true,
	}

	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && skip[n.Data] {
			return
		}
		if n.Type == html.TextNode {
			if text := strings.TrimSpace(n.Data); text != "" {
				b.WriteString(text)
				b.WriteString(" ")
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		// Block elements get a newline so structure survives loosely.
		if n.Type == html.ElementNode {
			switch n.Data {
			case "p", "div", "li", "h1", "h2", "h3", "h4", "br", "tr", "pre":
				b.WriteString("\n")
			}
		}
	}
	walk(doc)

	// Collapse runs of blank lines.
	lines := strings.Split(b.String(), "\n")
	var out []string
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

func hasClass(n *html.Node, class string) bool {
	for _, a := range n.Attr {
		if a.Key == "class" {
			for _, c := range strings.Fields(a.Val) {
				if c == class {
					return true
				}
			}
		}
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

func nodeText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}
