package scraper

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/temoto/robotstxt"
)

const maxCrawlDelay = 10 * time.Second

type robotsChecker struct {
	client    *http.Client
	userAgent string
	cache     *cache.Cache
}

func newRobotsChecker(client *http.Client, userAgent string) *robotsChecker {
	return &robotsChecker{
		client:    client,
		userAgent: userAgent,
		cache:     cache.New(24*time.Hour, time.Hour),
	}
}

// allowed reports whether u may be fetched and the crawl delay to keep.
// An unreachable or unparsable robots.txt allows everything.
func (r *robotsChecker) allowed(ctx context.Context, u *url.URL) (bool, time.Duration) {
	origin := u.Scheme + "://" + u.Host

	data, ok := r.lookup(ctx, origin)
	if !ok {
		return true, 0
	}
	group := data.FindGroup(r.userAgent)
	if group == nil {
		return true, 0
	}
	delay := group.CrawlDelay
	if delay > maxCrawlDelay {
		delay = maxCrawlDelay
	}
	path := u.EscapedPath()
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	return group.Test(path), delay
}

func (r *robotsChecker) lookup(ctx context.Context, origin string) (*robotstxt.RobotsData, bool) {
	if cached, found := r.cache.Get(origin); found {
		data, ok := cached.(*robotstxt.RobotsData)
		return data, ok
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, origin+"/robots.txt", nil)
	if err != nil {
		return nil, false
	}
	req.Header.Set("User-Agent", r.userAgent)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, false
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 512*1024))
	if err != nil {
		return nil, false
	}
	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		return nil, false
	}
	r.cache.SetDefault(origin, data)
	return data, true
}
