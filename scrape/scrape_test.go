package scrape

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const articleHTML = `<!DOCTYPE html>
<html>
<head>
	<title>Go Memory Model Explained</title>
	<meta property="og:image" content="/images/hero.png">
	<meta name="twitter:image" content="https://cdn.example.com/hero.png">
	<meta name="author" content="Jo Writer">
</head>
<body>
	<article>
		<p>The Go memory model specifies when reads observe writes.</p>
		<p>Synchronization is established through channels and mutexes.</p>
		<p>The Go memory model specifies when reads observe writes.</p>
	</article>
	<img src="/images/hero.png" alt="Hero image" width="1200" height="630">
	<img src="https://cdn.example.com/small.png" width="32" height="32">
	<img src="">
</body>
</html>`

func TestHTTPScraper_Scrape(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(articleHTML))
	}))
	defer server.Close()

	s := NewHTTPScraper()
	content, err := s.Scrape(context.Background(), server.URL)
	require.NoError(t, err)

	assert.Equal(t, "Go Memory Model Explained", content.Title)
	assert.Equal(t, "/images/hero.png", content.Metadata["og:image"])
	assert.Equal(t, "https://cdn.example.com/hero.png", content.Metadata["twitter:image"])
	assert.Equal(t, "Jo Writer", content.Metadata["author"])

	assert.Contains(t, content.Text, "reads observe writes")
	assert.Contains(t, content.Text, "channels and mutexes")
	assert.Equal(t, 1, strings.Count(content.Text, "reads observe writes"),
		"duplicate paragraphs are dropped")

	require.Len(t, content.Images, 2, "empty src is skipped")
	assert.Equal(t, "/images/hero.png", content.Images[0].Src)
	assert.Equal(t, "Hero image", content.Images[0].Alt)
	assert.Equal(t, 1200, content.Images[0].Width)
	assert.Equal(t, 630, content.Images[0].Height)
}

func TestHTTPScraper_NonSuccessStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	s := NewHTTPScraper()
	_, err := s.Scrape(context.Background(), server.URL)
	assert.Error(t, err)
}

func TestHTTPFetcher_SendsReferer(t *testing.T) {
	var gotReferer string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotReferer = r.Header.Get("Referer")
		w.Write([]byte{0x89, 'P', 'N', 'G'})
	}))
	defer server.Close()

	f := NewHTTPFetcher()
	data, err := f.Fetch(context.Background(), server.URL, "https://example.com/article")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/article", gotReferer)
	assert.Len(t, data, 4)
}

func TestHTTPFetcher_EmptyBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer server.Close()

	f := NewHTTPFetcher()
	_, err := f.Fetch(context.Background(), server.URL, "")
	assert.Error(t, err)
}
