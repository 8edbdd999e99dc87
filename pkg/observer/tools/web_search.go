package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// SearchConfig configures the web_search tool provider.
type SearchConfig struct {
	// Provider is "duckduckgo" (default) or "brave".
	Provider string `yaml:"provider"`

	// BraveAPIKey enables the Brave Search API.
	BraveAPIKey string `yaml:"brave_api_key"`

	// MaxResults caps the number of returned results.
	MaxResults int `yaml:"max_results"`
}

// SearchResult is one search hit.
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet,omitempty"`
}

// WebSearch is the web_search tool.
type WebSearch struct {
	client     *http.Client
	provider   string
	braveKey   string
	maxResults int

	// endpoints are overridable in tests.
	ddgURL   string
	braveURL string
}

type searchArgs struct {
	Query string `json:"query" jsonschema:"description=Search query"`
}

// NewWebSearch creates the tool. Brave is used only when selected and a key
// is available; otherwise DuckDuckGo HTML search is used.
func NewWebSearch(cfg SearchConfig, client *http.Client) *WebSearch {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	provider := cfg.Provider
	if provider == "brave" && cfg.BraveAPIKey == "" {
		provider = "duckduckgo"
	}
	if provider != "brave" {
		provider = "duckduckgo"
	}
	maxResults := cfg.MaxResults
	if maxResults <= 0 {
		maxResults = 8
	}
	return &WebSearch{
		client:     client,
		provider:   provider,
		braveKey:   cfg.BraveAPIKey,
		maxResults: maxResults,
		ddgURL:     "https://html.duckduckgo.com/html/",
		braveURL:   "https://api.search.brave.com/res/v1/web/search",
	}
}

func (w *WebSearch) Name() string { return "web_search" }

func (w *WebSearch) Description() string {
	return "Search the web and return results with titles, URLs, and snippets."
}

func (w *WebSearch) Parameters() map[string]any { return SchemaFor(&searchArgs{}) }

func (w *WebSearch) Execute(ctx context.Context, raw json.RawMessage) (string, error) {
	args, err := DecodeArgs[searchArgs](raw)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(args.Query) == "" {
		return "", fmt.Errorf("query is required")
	}

	results, err := w.Search(ctx, args.Query)
	if err != nil {
		return "", err
	}
	return JSONResult(map[string]any{"query": args.Query, "results": results})
}

// Search runs the query against the configured provider.
func (w *WebSearch) Search(ctx context.Context, query string) ([]SearchResult, error) {
	var (
		results []SearchResult
		err     error
	)
	if w.provider == "brave" {
		results, err = w.searchBrave(ctx, query)
	} else {
		results, err = w.searchDDG(ctx, query)
	}
	if err != nil {
		return nil, err
	}
	if len(results) > w.maxResults {
		results = results[:w.maxResults]
	}
	return results, nil
}

func (w *WebSearch) searchBrave(ctx context.Context, query string) ([]SearchResult, error) {
	searchURL := fmt.Sprintf("%s?q=%s&count=%d", w.braveURL, url.QueryEscape(query), w.maxResults)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", w.braveKey)

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("brave search failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("brave search returned %d: %s", resp.StatusCode, string(body))
	}

	var payload struct {
		Web struct {
			Results []struct {
				Title       string `json:"title"`
				URL         string `json:"url"`
				Description string `json:"description"`
			} `json:"results"`
		} `json:"web"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 200*1024)).Decode(&payload); err != nil {
		return nil, fmt.Errorf("parsing brave results: %w", err)
	}

	results := make([]SearchResult, 0, len(payload.Web.Results))
	for _, r := range payload.Web.Results {
		results = append(results, SearchResult{Title: r.Title, URL: r.URL, Snippet: r.Description})
	}
	return results, nil
}

func (w *WebSearch) searchDDG(ctx context.Context, query string) ([]SearchResult, error) {
	searchURL := w.ddgURL + "?q=" + url.QueryEscape(query)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", "Observer/1.0")

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search returned %d", resp.StatusCode)
	}

	doc, err := html.Parse(io.LimitReader(resp.Body, 512*1024))
	if err != nil {
		return nil, fmt.Errorf("parsing search page: %w", err)
	}
	return extractDDGResults(doc), nil
}

// extractDDGResults walks DuckDuckGo's HTML results page. Each hit is an
// anchor with class result__a followed by an element with class
// result__snippet inside the same result block.
func extractDDGResults(doc *html.Node) []SearchResult {
	var results []SearchResult

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == atom.A && hasClass(n, "result__a") {
			r := SearchResult{
				Title: collapseSpace(textContent(n)),
				URL:   unwrapDDGURL(attr(n, "href")),
			}
			if r.Title != "" && r.URL != "" {
				results = append(results, r)
			}
			return
		}
		if n.Type == html.ElementNode && hasClass(n, "result__snippet") && len(results) > 0 {
			last := &results[len(results)-1]
			if last.Snippet == "" {
				last.Snippet = collapseSpace(textContent(n))
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return results
}

// unwrapDDGURL extracts the target of DuckDuckGo's redirect links.
func unwrapDDGURL(href string) string {
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	if target := u.Query().Get("uddg"); target != "" {
		return target
	}
	if u.Scheme == "" && strings.HasPrefix(href, "//") {
		return "https:" + href
	}
	return href
}

func hasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(attr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}
