package research

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const resultPage = `<html><body>
<div class="result">
  <a class="result__a" href="//duckduckgo.com/l/?uddg=https%3A%2F%2Fexample.com%2Fadvisory">CVE advisory</a>
  <a class="result__snippet">A critical vulnerability in the parser</a>
</div>
<div class="result">
  <a class="result__a" href="https://example.org/direct">Direct link</a>
  <a class="result__snippet">No redirect here</a>
</div>
</body></html>`

func TestSearchParsesResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, resultPage)
	}))
	defer srv.Close()

	r := New(nil, nil, 0)
	r.searchURL = srv.URL + "/?q=%s"

	results, err := r.Search(context.Background(), "parser vulnerability", 5)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "CVE advisory", results[0].Title)
	assert.Equal(t, "https://example.com/advisory", results[0].URL, "uddg redirect should be unwrapped")
	assert.Equal(t, "A critical vulnerability in the parser", results[0].Snippet)
	assert.Equal(t, "https://example.org/direct", results[1].URL)
}

func TestSearchRespectsMaxResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, resultPage)
	}))
	defer srv.Close()

	r := New(nil, nil, 0)
	r.searchURL = srv.URL + "/?q=%s"

	results, err := r.Search(context.Background(), "q", 1)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestBudgetExhaustion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, resultPage)
	}))
	defer srv.Close()

	budget := NewBudget(2)
	r := New(nil, budget, 0)
	r.searchURL = srv.URL + "/?q=%s"

	_, err := r.Search(context.Background(), "one", 5)
	require.NoError(t, err)
	_, err = r.Search(context.Background(), "two", 5)
	require.NoError(t, err)

	_, err = r.Search(context.Background(), "three", 5)
	assert.ErrorIs(t, err, ErrBudgetExhausted)
	assert.Equal(t, 0, budget.Remaining())
}

func TestReadPageUsesCache(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		io.WriteString(w, `<html><body><p>page body text</p><script>ignored()</script></body></html>`)
	}))
	defer srv.Close()

	cache := NewCache("", time.Hour)
	r := New(cache, nil, 0)

	text, err := r.ReadPage(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Contains(t, text, "page body text")
	assert.NotContains(t, text, "ignored")

	_, err = r.ReadPage(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, 1, hits, "second read must be served from cache")
}

func TestReadPageNonOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	r := New(nil, nil, 0)
	_, err := r.ReadPage(context.Background(), srv.URL)
	assert.Error(t, err)
}

func TestCacheExpiry(t *testing.T) {
	cache := NewCache(t.TempDir(), time.Millisecond)
	cache.Set("https://example.com", "stale content")

	time.Sleep(5 * time.Millisecond)
	_, ok := cache.Get("https://example.com")
	assert.False(t, ok)
}

func TestCacheDiskTier(t *testing.T) {
	dir := t.TempDir()

	first := NewCache(dir, time.Hour)
	first.Set("https://example.com/page", "persisted")

	// A fresh cache instance over the same dir sees the disk entry.
	second := NewCache(dir, time.Hour)
	content, ok := second.Get("https://example.com/page")
	require.True(t, ok)
	assert.Equal(t, "persisted", content)
}

func TestExtractTextStripsChrome(t *testing.T) {
	text := ExtractText(`<html><body>
		<nav>menu items</nav>
		<p>real content</p>
		<footer>copyright</footer>
	</body></html>`)

	assert.Contains(t, text, "real content")
	assert.NotContains(t, text, "menu items")
	assert.NotContains(t, text, "copyright")
}
