package ingest

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"newsrag-gateway/internal/cache"
)

const frontierPage = `<html><body>
<a href="/articleshow/111.cms">one</a>
<a href="/about">about</a>
<a href="https://news.example/articleshow/222.cms">two</a>
<a href="/articleshow/333.cms">three</a>
<a href="/articleshow/444.cms">four</a>
<a href="/articleshow/111.cms">duplicate</a>
</body></html>`

const articlePage = `<html><body>
<div class="_s30J clearfix">The article body text.</div>
<p>unrelated footer</p>
</body></html>`

func newTestScraper(t *testing.T, handler http.Handler) (*Scraper, *cache.MemoryStore, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	store := cache.NewMemoryStore(time.Minute)
	t.Cleanup(func() { store.Close() })

	s := NewScraper(srv.URL, store, srv.Client(), zaptest.NewLogger(t))
	return s, store, srv
}

func TestFrontierLinks(t *testing.T) {
	var hits int
	s, _, srv := newTestScraper(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		fmt.Fprint(w, frontierPage)
	}))

	links, err := s.FrontierLinks(context.Background())
	require.NoError(t, err)

	// Top 3, absolutized, deduplicated, in document order.
	assert.Equal(t, []string{
		srv.URL + "/articleshow/111.cms",
		"https://news.example/articleshow/222.cms",
		srv.URL + "/articleshow/333.cms",
	}, links)

	// Second call is served from the frontier cache.
	again, err := s.FrontierLinks(context.Background())
	require.NoError(t, err)
	assert.Equal(t, links, again)
	assert.Equal(t, 1, hits)
}

func TestArticleCaching(t *testing.T) {
	var hits int
	s, store, srv := newTestScraper(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		fmt.Fprint(w, articlePage)
	}))

	url := srv.URL + "/articleshow/111.cms"

	text, err := s.Article(context.Background(), url)
	require.NoError(t, err)
	assert.Equal(t, "The article body text.", text)

	// Cached under the per-document key, not the frontier sentinel.
	_, hit, _ := store.Get(context.Background(), cache.DocumentKey(url))
	assert.True(t, hit)
	_, hit, _ = store.Get(context.Background(), cache.FrontierKey)
	assert.False(t, hit)

	_, err = s.Article(context.Background(), url)
	require.NoError(t, err)
	assert.Equal(t, 1, hits, "second read must come from the source cache")
}

func TestArticleFallsBackToParagraphs(t *testing.T) {
	s, _, srv := newTestScraper(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><p>first para</p><div><p>second para</p></div></body></html>`)
	}))

	text, err := s.Article(context.Background(), srv.URL+"/articleshow/1.cms")
	require.NoError(t, err)
	assert.Equal(t, "first para\nsecond para", text)
}

func TestArticleUpstreamFailure(t *testing.T) {
	s, _, srv := newTestScraper(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	_, err := s.Article(context.Background(), srv.URL+"/articleshow/1.cms")
	assert.Error(t, err)
}

func TestArticleEmptyBodyIsAnError(t *testing.T) {
	s, _, srv := newTestScraper(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><div>no marked container, no paragraphs</div></body></html>`)
	}))

	_, err := s.Article(context.Background(), srv.URL+"/articleshow/1.cms")
	assert.Error(t, err)
}
