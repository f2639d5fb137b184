package fetch

import (
	"context"
	"io"
	"net/url"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/temoto/robotstxt"
	"golang.org/x/sync/singleflight"
)

// maxRobotsBytes bounds how much of a robots.txt body is parsed
const maxRobotsBytes = 512 << 10

// RobotsHandler fetches, caches and evaluates robots.txt per scheme+host.
// Concurrent lookups for an uncached host share one fetch.
type RobotsHandler struct {
	fetcher *Fetcher
	mu      sync.Mutex
	cache   map[string]*robotstxt.RobotsData // scheme://host -> parsed data; nil when unavailable
	group   singleflight.Group
	log     *logrus.Entry
}

// NewRobotsHandler creates a RobotsHandler
func NewRobotsHandler(fetcher *Fetcher, log *logrus.Entry) *RobotsHandler {
	return &RobotsHandler{
		fetcher: fetcher,
		cache:   make(map[string]*robotstxt.RobotsData),
		log:     log,
	}
}

// GetRobotsData returns robots.txt data for target's host, fetching it on a
// cache miss. Returns nil when the file is missing, unreachable, or unparsable.
func (rh *RobotsHandler) GetRobotsData(ctx context.Context, target *url.URL, userAgent string) *robotstxt.RobotsData {
	scheme := target.Scheme
	if scheme != "http" && scheme != "https" {
		scheme = "https"
	}
	key := scheme + "://" + target.Host

	rh.mu.Lock()
	data, found := rh.cache[key]
	rh.mu.Unlock()
	if found {
		return data
	}

	v, _, _ := rh.group.Do(key, func() (any, error) {
		data := rh.fetchRobots(ctx, key+"/robots.txt", userAgent)
		rh.mu.Lock()
		rh.cache[key] = data
		rh.mu.Unlock()
		return data, nil
	})
	return v.(*robotstxt.RobotsData)
}

func (rh *RobotsHandler) fetchRobots(ctx context.Context, robotsURL, userAgent string) *robotstxt.RobotsData {
	robotsLog := rh.log.WithField("robots_url", robotsURL)
	robotsLog.Debug("Fetching robots.txt...")

	resp, err := rh.fetcher.Get(ctx, Request{URL: robotsURL, UserAgent: userAgent})
	if err != nil {
		robotsLog.Debugf("robots.txt unavailable, allowing all: %v", err)
		return nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRobotsBytes))
	if err != nil {
		robotsLog.Warnf("Error reading robots.txt body: %v", err)
		return nil
	}
	data, err := robotstxt.FromBytes(body)
	if err != nil {
		robotsLog.Warnf("Error parsing robots.txt: %v", err)
		return nil
	}
	robotsLog.Info("Fetched and parsed robots.txt")
	return data
}

// TestAgent reports whether userAgent may fetch target.
// Allowed whenever robots data could not be obtained.
func (rh *RobotsHandler) TestAgent(ctx context.Context, target *url.URL, userAgent string) bool {
	data := rh.GetRobotsData(ctx, target, userAgent)
	if data == nil {
		return true
	}
	return data.TestAgent(target.RequestURI(), userAgent)
}
