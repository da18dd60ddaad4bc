// Package scraper crawls a company website and extracts the main text of
// each page for ingestion.
package scraper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cloo-solutions/salesdojo/internal/domain"
	"github.com/markusmobius/go-trafilatura"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const (
	defaultUserAgent   = "SalesAIDojo/1.0"
	defaultTimeout     = 30 * time.Second
	defaultRatePerSec  = 2.0
	defaultMaxPages    = 50
	defaultMaxBodySize = 5 * 1024 * 1024
	fetchConcurrency   = 4
)

// Config configures a Crawler.
type Config struct {
	UserAgent   string
	Timeout     time.Duration
	RatePerSec  float64
	MaxPages    int
	MaxBodySize int64
	// AllowPrivate disables the private network guard. Only tests set it.
	AllowPrivate bool
}

// Crawler walks a site breadth first, honouring robots.txt and a per-host
// rate limit.
type Crawler struct {
	cfg      Config
	client   *http.Client
	robots   *robotsChecker
	limiters sync.Map // host -> *rate.Limiter
	logger   logrus.FieldLogger
}

// New creates a Crawler.
func New(cfg Config, logger logrus.FieldLogger) *Crawler {
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = defaultRatePerSec
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = defaultMaxPages
	}
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = defaultMaxBodySize
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	if !cfg.AllowPrivate {
		dialer.Control = guardDial
	}
	client := &http.Client{
		Timeout: cfg.Timeout,
		Transport: &http.Transport{
			DialContext:         dialer.DialContext,
			MaxIdleConns:        20,
			MaxIdleConnsPerHost: fetchConcurrency,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 5 {
				return errors.New("too many redirects")
			}
			return nil
		},
	}

	return &Crawler{
		cfg:    cfg,
		client: client,
		robots: newRobotsChecker(client, cfg.UserAgent),
		logger: logger,
	}
}

// Crawl fetches up to req.MaxPages pages starting at req.URL. Pages that
// fail carry Err; the crawl itself fails only for an unusable start URL or
// a cancelled context.
func (c *Crawler) Crawl(ctx context.Context, req domain.CrawlRequest) ([]domain.CrawledPage, error) {
	start, err := normalizeURL(req.URL)
	if err != nil {
		return nil, domain.ErrInvalidURL.WithCause(err)
	}
	if !c.cfg.AllowPrivate {
		if err := checkHost(start.Hostname()); err != nil {
			return nil, domain.ErrInvalidURL.WithCause(err)
		}
	}

	maxPages := req.MaxPages
	if maxPages <= 0 || maxPages > c.cfg.MaxPages {
		maxPages = c.cfg.MaxPages
	}
	scope := newScope(start, req.IncludeSubdomains)

	log := c.logger.WithFields(logrus.Fields{
		"tenant_id": req.TenantID,
		"url":       start.String(),
		"max_pages": maxPages,
	})

	seen := map[string]bool{start.String(): true}
	frontier := []*url.URL{start}
	var pages []domain.CrawledPage

	for len(frontier) > 0 && len(pages) < maxPages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if room := maxPages - len(pages); len(frontier) > room {
			frontier = frontier[:room]
		}

		results := make([]fetchResult, len(frontier))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(fetchConcurrency)
		for i, u := range frontier {
			g.Go(func() error {
				results[i] = c.fetch(gctx, u)
				return nil
			})
		}
		_ = g.Wait()

		var next []*url.URL
		for _, r := range results {
			// Only a blocked start page is reported.
			if r.skipped && len(pages) > 0 {
				continue
			}
			pages = append(pages, r.page)
			for _, link := range r.links {
				key := link.String()
				if seen[key] || !scope.contains(link) {
					continue
				}
				seen[key] = true
				next = append(next, link)
			}
		}
		frontier = next
	}

	var failed int
	for _, p := range pages {
		if p.Err != nil {
			failed++
		}
	}
	log.WithFields(logrus.Fields{
		"pages":  len(pages),
		"failed": failed,
	}).Info("website crawl finished")
	return pages, nil
}

type fetchResult struct {
	page  domain.CrawledPage
	links []*url.URL
	// skipped marks pages robots.txt does not let us fetch.
	skipped bool
}

func (c *Crawler) fetch(ctx context.Context, u *url.URL) fetchResult {
	page := domain.CrawledPage{URL: u.String()}

	allowed, delay := c.robots.allowed(ctx, u)
	if !allowed {
		page.Err = fmt.Errorf("blocked by robots.txt: %s", u)
		return fetchResult{page: page, skipped: true}
	}
	if err := c.limiter(u.Host, delay).Wait(ctx); err != nil {
		page.Err = err
		return fetchResult{page: page}
	}

	body, err := c.get(ctx, u)
	if err != nil {
		page.Err = err
		return fetchResult{page: page}
	}

	page.Title, page.Text = pageText(body, u)
	if strings.TrimSpace(page.Text) == "" {
		page.Err = fmt.Errorf("no content extracted from %s", u)
	}
	return fetchResult{page: page, links: extractLinks(body, u)}
}

func (c *Crawler) get(ctx context.Context, u *url.URL) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,text/plain;q=0.8")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", u, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: HTTP %d", u, resp.StatusCode)
	}
	if ct := strings.ToLower(resp.Header.Get("Content-Type")); ct != "" && !supportedContentType(ct) {
		return nil, fmt.Errorf("fetch %s: unsupported content type %s", u, ct)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.cfg.MaxBodySize+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", u, err)
	}
	if int64(len(body)) > c.cfg.MaxBodySize {
		return nil, fmt.Errorf("fetch %s: body exceeds %d bytes", u, c.cfg.MaxBodySize)
	}
	return body, nil
}

// limiter returns the host's limiter, slowed down to the robots.txt
// crawl delay when one is set.
func (c *Crawler) limiter(host string, crawlDelay time.Duration) *rate.Limiter {
	if l, ok := c.limiters.Load(host); ok {
		return l.(*rate.Limiter)
	}
	perSec := c.cfg.RatePerSec
	if crawlDelay > 0 {
		if d := 1 / crawlDelay.Seconds(); d < perSec {
			perSec = d
		}
	}
	l, _ := c.limiters.LoadOrStore(host, rate.NewLimiter(rate.Limit(perSec), 1))
	return l.(*rate.Limiter)
}

func supportedContentType(ct string) bool {
	for _, s := range []string{"text/html", "application/xhtml+xml", "text/plain"} {
		if strings.Contains(ct, s) {
			return true
		}
	}
	return false
}

// pageText returns the page title and main content. Trafilatura handles
// real pages; the plain tree walk covers pages too small for it.
func pageText(body []byte, u *url.URL) (string, string) {
	res, err := trafilatura.Extract(bytes.NewReader(body), trafilatura.Options{
		OriginalURL: u,
	})
	if err == nil && res != nil && strings.TrimSpace(res.ContentText) != "" {
		return res.Metadata.Title, res.ContentText
	}
	return visibleText(body)
}

func normalizeURL(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errors.New("empty url")
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("missing host in %q", raw)
	}
	u.Fragment = ""
	u.Host = strings.ToLower(u.Host)
	if u.Path == "" {
		u.Path = "/"
	}
	return u, nil
}
