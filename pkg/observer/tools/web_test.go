package tools

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

const samplePage = `<!doctype html>
<html><head><title> Sample Page </title><script>var x = "<p>no</p>";</script></head>
<body>
<nav><a href="/home">Home</a></nav>
<h1>Heading</h1>
<p>First   paragraph with <a href="https://other.example/x">a link</a>.</p>
<div><p>Nested</p></div>
<style>p { color: red }</style>
<a href="javascript:void(0)">JS</a>
</body></html>`

func TestWebScraper_HTML(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(samplePage))
	}))
	defer srv.Close()

	ws := NewWebScraper(srv.Client(), 0)
	res, err := ws.Scrape(context.Background(), srv.URL+"/page", "", 0)
	if err != nil {
		t.Fatalf("Scrape: %v", err)
	}
	if res.Title != "Sample Page" {
		t.Errorf("Title = %q", res.Title)
	}

	var tags []string
	for _, e := range res.Elements {
		tags = append(tags, e.Tag+":"+e.Text)
	}
	joined := strings.Join(tags, "|")
	for _, want := range []string{"a:Home", "h1:Heading", "p:First paragraph with a link.", "a:a link", "p:Nested", "a:JS"} {
		if !strings.Contains(joined, want) {
			t.Errorf("missing %q in %s", want, joined)
		}
	}
	if strings.Contains(joined, ":no") {
		t.Errorf("script content leaked: %s", joined)
	}

	for _, e := range res.Elements {
		switch e.Text {
		case "Home":
			if e.Href != srv.URL+"/home" {
				t.Errorf("relative href = %q", e.Href)
			}
		case "JS":
			if e.Href != "" {
				t.Errorf("javascript href should be dropped: %q", e.Href)
			}
		}
	}
}

func TestWebScraper_SelectorAndLimit(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(samplePage))
	}))
	defer srv.Close()

	ws := NewWebScraper(srv.Client(), 0)
	res, err := ws.Scrape(context.Background(), srv.URL, "H1, p", 1)
	if err != nil {
		t.Fatalf("Scrape: %v", err)
	}
	if len(res.Elements) != 1 || res.Elements[0].Tag != "h1" || !res.Truncated {
		t.Errorf("Elements = %+v truncated=%v", res.Elements, res.Truncated)
	}
}

func TestWebScraper_TextAndRejections(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/data.json", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"a":1}`))
	})
	mux.HandleFunc("/bin", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/zip")
		_, _ = w.Write([]byte("PK"))
	})
	mux.HandleFunc("/big", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte(strings.Repeat("x", 64)))
	})
	mux.HandleFunc("/gone", http.NotFound)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	ws := NewWebScraper(srv.Client(), 32)

	res, err := ws.Scrape(context.Background(), srv.URL+"/data.json", "", 0)
	if err != nil || res.Text != `{"a":1}` {
		t.Errorf("json: res=%+v err=%v", res, err)
	}
	for _, path := range []string{"/bin", "/big", "/gone"} {
		if _, err := ws.Scrape(context.Background(), srv.URL+path, "", 0); err == nil {
			t.Errorf("%s should fail", path)
		}
	}
	for _, bad := range []string{"", "ftp://x/y", "not a url"} {
		if _, err := ws.Scrape(context.Background(), bad, "", 0); err == nil {
			t.Errorf("url %q should be rejected", bad)
		}
	}
}

const ddgPage = `<html><body>
<div class="result">
  <a class="result__a" href="//duckduckgo.com/l/?uddg=https%3A%2F%2Fgo.dev%2F&amp;rut=abc">The <b>Go</b> Programming Language</a>
  <a class="result__snippet" href="#">Go is an open source programming language.</a>
</div>
<div class="result">
  <a class="result__a" href="https://pkg.go.dev/">Go Packages</a>
  <div class="result__snippet">Find packages.</div>
</div>
<div class="result">
  <a class="result__a" href="https://third.example/">Third</a>
</div>
</body></html>`

func TestWebSearch_DuckDuckGo(t *testing.T) {
	t.Parallel()

	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("q")
		_, _ = w.Write([]byte(ddgPage))
	}))
	defer srv.Close()

	ws := NewWebSearch(SearchConfig{MaxResults: 2}, srv.Client())
	ws.ddgURL = srv.URL

	out, err := ws.Execute(context.Background(), json.RawMessage(`{"query":"golang docs"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if gotQuery != "golang docs" {
		t.Errorf("query = %q", gotQuery)
	}

	var payload struct {
		Results []SearchResult `json:"results"`
	}
	if err := json.Unmarshal([]byte(out), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(payload.Results) != 2 {
		t.Fatalf("results = %+v", payload.Results)
	}
	first := payload.Results[0]
	if first.URL != "https://go.dev/" || first.Title != "The Go Programming Language" ||
		first.Snippet != "Go is an open source programming language." {
		t.Errorf("first = %+v", first)
	}
	if payload.Results[1].Snippet != "Find packages." {
		t.Errorf("second snippet = %q", payload.Results[1].Snippet)
	}
}

func TestWebSearch_Brave(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Subscription-Token") != "key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"web":{"results":[{"title":"T","url":"https://t","description":"D"}]}}`))
	}))
	defer srv.Close()

	ws := NewWebSearch(SearchConfig{Provider: "brave", BraveAPIKey: "key"}, srv.Client())
	ws.braveURL = srv.URL

	results, err := ws.Search(context.Background(), "x")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].Snippet != "D" {
		t.Errorf("results = %+v", results)
	}
}

func TestWebSearch_ProviderFallback(t *testing.T) {
	t.Parallel()

	if ws := NewWebSearch(SearchConfig{Provider: "brave"}, nil); ws.provider != "duckduckgo" {
		t.Errorf("brave without key should fall back, got %q", ws.provider)
	}
	if _, err := NewWebSearch(SearchConfig{}, nil).Execute(context.Background(), json.RawMessage(`{"query":"  "}`)); err == nil {
		t.Error("blank query should fail")
	}
}
