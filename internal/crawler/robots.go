package crawler

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
)

// robotsCache fetches and caches robots.txt per host. A missing or
// unreadable robots.txt allows everything.
type robotsCache struct {
	client    *http.Client
	userAgent string

	mu    sync.Mutex
	hosts map[string]*robotstxt.RobotsData
}

func newRobotsCache(userAgent string) *robotsCache {
	return &robotsCache{
		client:    &http.Client{Timeout: 10 * time.Second},
		userAgent: userAgent,
		hosts:     make(map[string]*robotstxt.RobotsData),
	}
}

// Allowed reports whether the user agent may fetch the URL.
func (r *robotsCache) Allowed(ctx context.Context, pageURL *url.URL) bool {
	data := r.forHost(ctx, pageURL)
	if data == nil {
		return true
	}
	return data.TestAgent(pageURL.Path, r.userAgent)
}

func (r *robotsCache) forHost(ctx context.Context, pageURL *url.URL) *robotstxt.RobotsData {
	key := pageURL.Scheme + "://" + pageURL.Host

	r.mu.Lock()
	data, ok := r.hosts[key]
	r.mu.Unlock()
	if ok {
		return data
	}

	data = r.fetch(ctx, key+"/robots.txt")
	r.mu.Lock()
	r.hosts[key] = data
	r.mu.Unlock()
	return data
}

func (r *robotsCache) fetch(ctx context.Context, robotsURL string) *robotstxt.RobotsData {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return nil
	}
	req.Header.Set("User-Agent", r.userAgent)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil
	}
	data, err := robotstxt.FromBytes(body)
	if err != nil {
		return nil
	}
	return data
}
