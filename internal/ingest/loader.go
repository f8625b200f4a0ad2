package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	readability "github.com/go-shiori/go-readability"
	"github.com/gocolly/colly/v2"
)

// maxBodySize caps fetched page bodies at 10MB.
const maxBodySize = 10 * 1024 * 1024

// userAgent identifies the fetcher to origin servers.
const userAgent = "webrag/1.0 (+https://github.com/linyh/webrag)"

// Page is the text extracted from one fetched URL.
type Page struct {
	URL   string
	Title string
	Text  string
}

// LoaderConfig tunes the page fetcher.
type LoaderConfig struct {
	Delay   time.Duration // politeness delay between requests to a domain
	Timeout time.Duration // per-request timeout
}

// Loader fetches web pages and extracts their article text.
type Loader struct {
	cfg    LoaderConfig
	logger *slog.Logger
}

// NewLoader creates a Loader. Zero-value config fields get the scraper
// defaults (1s delay, 30s timeout).
func NewLoader(cfg LoaderConfig, logger *slog.Logger) *Loader {
	if cfg.Delay <= 0 {
		cfg.Delay = time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{cfg: cfg, logger: logger}
}

// Fetch downloads rawURL and returns its readable text content. The
// request is bounded by the configured timeout; ctx cancellation is
// honored between requests.
func (l *Loader) Fetch(ctx context.Context, rawURL string) (*Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("fetch canceled: %w", err)
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parsing URL %q: %w", rawURL, err)
	}

	c := colly.NewCollector(
		colly.MaxBodySize(maxBodySize),
		colly.UserAgent(userAgent),
	)
	c.SetRequestTimeout(l.cfg.Timeout)
	if err := c.Limit(&colly.LimitRule{DomainGlob: "*", Delay: l.cfg.Delay}); err != nil {
		return nil, fmt.Errorf("configuring fetch limits: %w", err)
	}

	var (
		body     []byte
		fetchErr error
	)
	c.OnResponse(func(r *colly.Response) {
		body = r.Body
	})
	c.OnError(func(_ *colly.Response, err error) {
		fetchErr = err
	})

	if err := c.Visit(rawURL); err != nil {
		return nil, fmt.Errorf("fetching %q: %w", rawURL, err)
	}
	c.Wait()

	if fetchErr != nil {
		return nil, fmt.Errorf("fetching %q: %w", rawURL, fetchErr)
	}
	if len(body) == 0 {
		return nil, fmt.Errorf("fetching %q: empty response body", rawURL)
	}

	article, err := readability.FromReader(bytes.NewReader(body), parsed)
	if err != nil {
		return nil, fmt.Errorf("extracting text from %q: %w", rawURL, err)
	}

	text := strings.TrimSpace(article.TextContent)
	if text == "" {
		return nil, errors.New("no readable text content in " + rawURL)
	}

	l.logger.Debug("fetched page", "url", rawURL, "title", article.Title, "text_length", len(text))
	return &Page{URL: rawURL, Title: article.Title, Text: text}, nil
}
