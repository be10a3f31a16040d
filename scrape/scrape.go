// Package scrape extracts article content, metadata and image candidates
// from a URL. The pipeline only depends on the Scraper and Fetcher
// interfaces; the HTTP implementations here are the defaults.
package scrape

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"
)

// Image is one image candidate extracted from the page.
type Image struct {
	Src    string `json:"src"`
	Alt    string `json:"alt,omitempty"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
}

// Content is the scraped article.
type Content struct {
	URL      string            `json:"url"`
	Title    string            `json:"title"`
	Text     string            `json:"text"`
	Images   []Image           `json:"images,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Scraper fetches and parses an article.
type Scraper interface {
	Scrape(ctx context.Context, url string) (*Content, error)
}

// Fetcher downloads raw bytes, used for image candidates.
type Fetcher interface {
	Fetch(ctx context.Context, url, referer string) ([]byte, error)
}

const (
	defaultTimeout   = 20 * time.Second
	defaultUserAgent = "draftgate/1.0"

	// maxBodyBytes bounds how much of a response we read.
	maxBodyBytes = 10 << 20
)

// HTTPScraper is the default Scraper built on goquery, with bluemonday
// stripping any markup left inside text nodes.
type HTTPScraper struct {
	client    *http.Client
	sanitizer *bluemonday.Policy
	userAgent string
}

var _ Scraper = (*HTTPScraper)(nil)

// NewHTTPScraper creates a scraper with sane defaults.
func NewHTTPScraper() *HTTPScraper {
	return &HTTPScraper{
		client:    &http.Client{Timeout: defaultTimeout},
		sanitizer: bluemonday.StrictPolicy(),
		userAgent: defaultUserAgent,
	}
}

// NewHTTPScraperWithClient creates a scraper using a custom http.Client.
func NewHTTPScraperWithClient(client *http.Client) *HTTPScraper {
	s := NewHTTPScraper()
	s.client = client
	return s
}

// Scrape fetches the URL and extracts title, metadata, body text and images.
func (s *HTTPScraper) Scrape(ctx context.Context, url string) (*Content, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid url %q: %w", url, err)
	}
	req.Header.Set("User-Agent", s.userAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %q: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("fetch %q: unexpected status %d", url, resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to parse %q: %w", url, err)
	}

	content := &Content{
		URL:      url,
		Title:    strings.TrimSpace(doc.Find("title").First().Text()),
		Metadata: make(map[string]string),
	}

	doc.Find("meta").Each(func(_ int, sel *goquery.Selection) {
		key, _ := sel.Attr("property")
		if key == "" {
			key, _ = sel.Attr("name")
		}
		value, _ := sel.Attr("content")
		if key != "" && value != "" {
			content.Metadata[key] = value
		}
	})

	var parts []string
	doc.Find("article p, main p, p").Each(func(_ int, sel *goquery.Selection) {
		text := strings.TrimSpace(s.sanitizer.Sanitize(sel.Text()))
		if text != "" {
			parts = append(parts, text)
		}
	})
	content.Text = strings.Join(dedupe(parts), "\n\n")

	doc.Find("img").Each(func(_ int, sel *goquery.Selection) {
		src, ok := sel.Attr("src")
		if !ok || strings.TrimSpace(src) == "" {
			return
		}
		img := Image{
			Src: strings.TrimSpace(src),
		}
		img.Alt, _ = sel.Attr("alt")
		if w, ok := sel.Attr("width"); ok {
			img.Width, _ = strconv.Atoi(w)
		}
		if h, ok := sel.Attr("height"); ok {
			img.Height, _ = strconv.Atoi(h)
		}
		content.Images = append(content.Images, img)
	})

	return content, nil
}

// dedupe drops exact duplicate paragraphs, keeping first occurrence.
// Selecting "article p, main p, p" can match the same node twice.
func dedupe(parts []string) []string {
	seen := make(map[string]bool, len(parts))
	out := parts[:0]
	for _, p := range parts {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}

// HTTPFetcher is the default Fetcher.
type HTTPFetcher struct {
	client    *http.Client
	userAgent string
}

var _ Fetcher = (*HTTPFetcher)(nil)

// NewHTTPFetcher creates a fetcher with sane defaults.
func NewHTTPFetcher() *HTTPFetcher {
	return &HTTPFetcher{
		client:    &http.Client{Timeout: defaultTimeout},
		userAgent: defaultUserAgent,
	}
}

// NewHTTPFetcherWithClient creates a fetcher using a custom http.Client.
func NewHTTPFetcherWithClient(client *http.Client) *HTTPFetcher {
	f := NewHTTPFetcher()
	f.client = client
	return f
}

// Fetch downloads the URL, sending the article URL as Referer so hosts
// that guard hotlinking still serve their own article images.
func (f *HTTPFetcher) Fetch(ctx context.Context, url, referer string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid url %q: %w", url, err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	if referer != "" {
		req.Header.Set("Referer", referer)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %q: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("fetch %q: unexpected status %d", url, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read %q: %w", url, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("fetch %q: empty body", url)
	}
	return data, nil
}
