package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/html"

	"newsrag-gateway/internal/cache"
)

const (
	frontierSize = 3
	sourceTTL    = cache.AnswerTTL

	// articleBodyMarker identifies the article body container on the
	// scraped news site.
	articleBodyMarker = "_s30J"
)

// Scraper fetches the candidate-source frontier and raw article text,
// caching both in the source cache: the frontier under its reserved
// sentinel key, each document under its own key.
type Scraper struct {
	frontierURL string
	sources     cache.Store
	httpClient  *http.Client
	logger      *zap.Logger
}

func NewScraper(frontierURL string, sources cache.Store, httpClient *http.Client, logger *zap.Logger) *Scraper {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scraper{
		frontierURL: frontierURL,
		sources:     sources,
		httpClient:  httpClient,
		logger:      logger.Named("scraper"),
	}
}

// FrontierLinks returns the current candidate article links, serving
// from the source cache when fresh.
func (s *Scraper) FrontierLinks(ctx context.Context) ([]string, error) {
	if cached, hit, err := s.sources.Get(ctx, cache.FrontierKey); err != nil {
		s.logger.Warn("frontier cache get failed", zap.Error(err))
	} else if hit {
		var links []string
		if err := json.Unmarshal(cached, &links); err == nil {
			s.logger.Debug("frontier served from cache", zap.Int("links", len(links)))
			return links, nil
		}
		s.logger.Warn("frontier cache entry malformed", zap.Error(err))
	}

	body, err := s.fetch(ctx, s.frontierURL)
	if err != nil {
		return nil, fmt.Errorf("fetch frontier: %w", err)
	}

	links := extractArticleLinks(body, s.frontierURL)
	if len(links) > frontierSize {
		links = links[:frontierSize]
	}

	if encoded, err := json.Marshal(links); err != nil {
		s.logger.Warn("frontier cache marshal failed", zap.Error(err))
	} else if err := s.sources.Set(ctx, cache.FrontierKey, encoded, sourceTTL); err != nil {
		s.logger.Warn("frontier cache set failed", zap.Error(err))
	}

	s.logger.Info("frontier fetched", zap.Int("links", len(links)))
	return links, nil
}

// Article returns the raw text of one article, serving from the source
// cache when fresh.
func (s *Scraper) Article(ctx context.Context, url string) (string, error) {
	key := cache.DocumentKey(url)

	if cached, hit, err := s.sources.Get(ctx, key); err != nil {
		s.logger.Warn("document cache get failed", zap.String("url", url), zap.Error(err))
	} else if hit {
		s.logger.Debug("article served from cache", zap.String("url", url))
		return string(cached), nil
	}

	body, err := s.fetch(ctx, url)
	if err != nil {
		return "", fmt.Errorf("fetch article %s: %w", url, err)
	}

	text := extractArticleText(body)
	if text == "" {
		return "", fmt.Errorf("no article body found at %s", url)
	}

	if err := s.sources.Set(ctx, key, []byte(text), sourceTTL); err != nil {
		s.logger.Warn("document cache set failed", zap.String("url", url), zap.Error(err))
	}

	s.logger.Info("article scraped", zap.String("url", url), zap.Int("bytes", len(text)))
	return text, nil
}

func (s *Scraper) fetch(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4*1024*1024))
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// extractArticleLinks collects hrefs that look like article pages,
// absolutized against the frontier URL, deduplicated in document order.
func extractArticleLinks(page, baseURL string) []string {
	doc, err := html.Parse(strings.NewReader(page))
	if err != nil {
		return nil
	}

	base := strings.TrimRight(baseURL, "/")
	seen := make(map[string]struct{})
	var links []string

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			for _, attr := range n.Attr {
				if attr.Key != "href" {
					continue
				}
				link := attr.Val
				if !strings.Contains(link, "/articleshow/") {
					continue
				}
				if strings.HasPrefix(link, "/") {
					link = base + link
				}
				if _, ok := seen[link]; ok {
					continue
				}
				seen[link] = struct{}{}
				links = append(links, link)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	return links
}

// extractArticleText pulls the readable text out of an article page:
// the marked body container when present, otherwise every paragraph.
func extractArticleText(page string) string {
	doc, err := html.Parse(strings.NewReader(page))
	if err != nil {
		return ""
	}

	if body := findByClass(doc, articleBodyMarker); body != nil {
		return collectText(body)
	}

	var parts []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "p" {
			if t := collectText(n); t != "" {
				parts = append(parts, t)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	return strings.Join(parts, "\n")
}

func findByClass(n *html.Node, marker string) *html.Node {
	if n.Type == html.ElementNode {
		for _, attr := range n.Attr {
			if attr.Key == "class" && strings.Contains(attr.Val, marker) {
				return n
			}
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findByClass(c, marker); found != nil {
			return found
		}
	}
	return nil
}

func collectText(n *html.Node) string {
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
	return strings.TrimSpace(b.String())
}
