package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const (
	// DefaultScrapeMaxBytes caps the downloaded body (5MB).
	DefaultScrapeMaxBytes int64 = 5 * 1024 * 1024

	// DefaultSelector is used when the caller does not pass one.
	DefaultSelector = "p, h1, h2, h3, h4, h5, h6, a"

	defaultMaxElements = 200
	defaultMaxChars    = 20000
)

// textTypes are non-HTML content types returned verbatim.
var textTypes = map[string]bool{
	"text/plain":             true,
	"text/markdown":          true,
	"text/csv":               true,
	"text/css":               true,
	"text/xml":               true,
	"text/javascript":        true,
	"application/json":       true,
	"application/ld+json":    true,
	"application/xml":        true,
	"application/rss+xml":    true,
	"application/atom+xml":   true,
	"application/javascript": true,
	"application/x-yaml":     true,
	"application/yaml":       true,
	"application/toml":       true,
}

// skipElements never contribute text.
var skipElements = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Iframe:   true,
	atom.Svg:      true,
	atom.Template: true,
}

// WebScraper is the web_scraper tool: it fetches a page and extracts the
// text and links of elements matching a tag selector list.
type WebScraper struct {
	client   *http.Client
	maxBytes int64
}

type scrapeArgs struct {
	URL         string `json:"url" jsonschema:"description=Absolute http(s) URL to fetch"`
	Selector    string `json:"selector,omitempty" jsonschema:"description=Comma-separated tag names to extract (default: p, h1, h2, h3, h4, h5, h6, a)"`
	MaxElements int    `json:"max_elements,omitempty" jsonschema:"description=Maximum number of elements to return"`
}

// Element is one extracted element.
type Element struct {
	Tag  string `json:"tag"`
	Text string `json:"text,omitempty"`
	Href string `json:"href,omitempty"`
}

// ScrapeResult is the web_scraper result.
type ScrapeResult struct {
	URL         string    `json:"url"`
	Title       string    `json:"title,omitempty"`
	ContentType string    `json:"content_type"`
	Elements    []Element `json:"elements,omitempty"`
	Text        string    `json:"text,omitempty"`
	Truncated   bool      `json:"truncated,omitempty"`
}

// NewWebScraper creates the tool. A nil client gets a 30s timeout client.
func NewWebScraper(client *http.Client, maxBytes int64) *WebScraper {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if maxBytes <= 0 {
		maxBytes = DefaultScrapeMaxBytes
	}
	return &WebScraper{client: client, maxBytes: maxBytes}
}

func (w *WebScraper) Name() string { return "web_scraper" }

func (w *WebScraper) Description() string {
	return "Fetches a web page and extracts the text and links of the elements matching a tag list. " +
		"Plain text, JSON and XML documents are returned as text."
}

func (w *WebScraper) Parameters() map[string]any { return SchemaFor(&scrapeArgs{}) }

func (w *WebScraper) Execute(ctx context.Context, raw json.RawMessage) (string, error) {
	args, err := DecodeArgs[scrapeArgs](raw)
	if err != nil {
		return "", err
	}
	res, err := w.Scrape(ctx, args.URL, args.Selector, args.MaxElements)
	if err != nil {
		return "", err
	}
	return JSONResult(res)
}

// Scrape downloads rawURL and extracts matching elements.
func (w *WebScraper) Scrape(ctx context.Context, rawURL, selector string, maxElements int) (*ScrapeResult, error) {
	base, err := url.Parse(rawURL)
	if err != nil || (base.Scheme != "http" && base.Scheme != "https") || base.Host == "" {
		return nil, fmt.Errorf("invalid url %q", rawURL)
	}
	if maxElements <= 0 {
		maxElements = defaultMaxElements
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; Observer/1.0)")
	req.Header.Set("Accept", "text/html,application/xhtml+xml,text/plain;q=0.9,*/*;q=0.8")

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("fetch returned %d", resp.StatusCode)
	}
	if resp.ContentLength > w.maxBytes {
		return nil, fmt.Errorf("document too large: %d bytes", resp.ContentLength)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, w.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("reading body: %w", err)
	}
	if int64(len(body)) > w.maxBytes {
		return nil, fmt.Errorf("document too large: over %d bytes", w.maxBytes)
	}

	contentType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if contentType == "" {
		contentType, _, _ = mime.ParseMediaType(http.DetectContentType(body))
	}

	res := &ScrapeResult{URL: base.String(), ContentType: contentType}
	switch {
	case contentType == "text/html" || contentType == "application/xhtml+xml":
		doc, err := html.Parse(strings.NewReader(string(body)))
		if err != nil {
			return nil, fmt.Errorf("parsing html: %w", err)
		}
		res.Title = strings.TrimSpace(findTitle(doc))
		res.Elements, res.Truncated = extractElements(doc, parseSelector(selector), base, maxElements)
	case textTypes[contentType] || strings.HasPrefix(contentType, "text/"):
		res.Text, res.Truncated = truncate(string(body), defaultMaxChars)
	default:
		return nil, fmt.Errorf("unsupported content type %q", contentType)
	}
	return res, nil
}

// parseSelector turns "p, h1, a" into a tag set. Unknown names are kept
// by string so custom elements still match.
func parseSelector(selector string) map[string]bool {
	if strings.TrimSpace(selector) == "" {
		selector = DefaultSelector
	}
	tags := map[string]bool{}
	for _, s := range strings.Split(selector, ",") {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			tags[s] = true
		}
	}
	return tags
}

func extractElements(doc *html.Node, tags map[string]bool, base *url.URL, limit int) ([]Element, bool) {
	var out []Element
	truncated := false

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if truncated {
			return
		}
		if n.Type == html.ElementNode {
			if skipElements[n.DataAtom] {
				return
			}
			if tags[n.Data] {
				el := Element{Tag: n.Data, Text: collapseSpace(textContent(n))}
				if n.DataAtom == atom.A {
					el.Href = resolveHref(base, attr(n, "href"))
				}
				if el.Text != "" || el.Href != "" {
					if len(out) >= limit {
						truncated = true
						return
					}
					out = append(out, el)
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return out, truncated
}

func findTitle(n *html.Node) string {
	if n.Type == html.ElementNode && n.DataAtom == atom.Title {
		return textContent(n)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if t := findTitle(c); t != "" {
			return t
		}
	}
	return ""
}

func textContent(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}
	if n.Type == html.ElementNode && skipElements[n.DataAtom] {
		return ""
	}
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		b.WriteString(textContent(c))
		if c.Type == html.ElementNode && c.DataAtom == atom.Br {
			b.WriteString(" ")
		}
	}
	return b.String()
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func resolveHref(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "javascript:") {
		return ""
	}
	u, err := base.Parse(href)
	if err != nil {
		return href
	}
	return u.String()
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncate(s string, maxChars int) (string, bool) {
	r := []rune(s)
	if len(r) <= maxChars {
		return s, false
	}
	return string(r[:maxChars]), true
}
