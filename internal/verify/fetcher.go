package verify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"concord/internal/cache"
	"concord/internal/model"
	"concord/internal/util"
	"concord/internal/worker"
)

const fetchMaxRetries = 3

// fetchSleepFunc is the sleep used between retries (injectable for tests).
var fetchSleepFunc = time.Sleep

// Fetcher retrieves page text for verification.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (string, error)
}

// HTTPFetcher fetches with robots.txt compliance, per-domain rate
// limiting, a layered response cache, and retry on transient failures.
type HTTPFetcher struct {
	client    *http.Client
	userAgent string
	maxBytes  int64
	robots    *util.RobotsChecker
	limiter   *worker.Limiter
	store     cache.Cache
	cacheTTL  time.Duration
}

// NewHTTPFetcher builds the standard verification fetcher. A nil store
// disables caching; a nil robots checker disables robots.txt gating.
func NewHTTPFetcher(httpCfg model.HTTPConfig, verifyCfg model.VerifyConfig, store cache.Cache, cacheTTL time.Duration) *HTTPFetcher {
	f := &HTTPFetcher{
		client: &http.Client{
			Timeout: httpCfg.Timeout,
			Transport: &http.Transport{
				Proxy: util.NewProxyFunc(httpCfg.HTTPProxy, httpCfg.HTTPSProxy, httpCfg.NoProxy),
			},
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 3 {
					return fmt.Errorf("stopped after 3 redirects")
				}
				return nil
			},
		},
		userAgent: httpCfg.UserAgent,
		maxBytes:  httpCfg.MaxBodyBytes,
		limiter:   worker.NewLimiter(verifyCfg.RatePerSecond, verifyCfg.RateBurst),
		store:     store,
		cacheTTL:  cacheTTL,
	}
	if !verifyCfg.SkipRobots {
		f.robots = util.NewRobotsChecker(httpCfg.UserAgent, httpCfg.Timeout)
	}
	return f
}

// Fetch returns the response body as text. Results are cached by URL so
// repeated anchors against the same address within a session fetch once.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) (string, error) {
	if f.store != nil {
		if body, ok := f.store.Get(cache.Key(rawURL)); ok {
			return string(body), nil
		}
	}

	if f.robots != nil {
		allowed, crawlDelay, err := f.robots.CanFetch(ctx, rawURL)
		if err == nil && !allowed {
			return "", fmt.Errorf("fetch %s: disallowed by robots.txt", rawURL)
		}
		if crawlDelay > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(crawlDelay):
			}
		}
	}

	if err := f.limiter.Wait(ctx, rawURL); err != nil {
		return "", fmt.Errorf("rate limit %s: %w", rawURL, err)
	}

	var lastErr error
	for attempt := 0; attempt < fetchMaxRetries; attempt++ {
		body, retryable, err := f.fetchOnce(ctx, rawURL)
		if err == nil {
			if f.store != nil {
				_ = f.store.Set(cache.Key(rawURL), []byte(body), f.cacheTTL)
			}
			return body, nil
		}
		lastErr = err
		if !retryable {
			break
		}
		if attempt < fetchMaxRetries-1 {
			fetchSleepFunc(time.Duration(1<<uint(attempt)) * time.Second)
		}
	}
	return "", lastErr
}

func (f *HTTPFetcher) fetchOnce(ctx context.Context, rawURL string) (body string, retryable bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", false, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", isRetryableNetworkError(err.Error()), fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return "", true, fmt.Errorf("fetch %s: status %d", rawURL, resp.StatusCode)
	default:
		return "", false, fmt.Errorf("fetch %s: status %d", rawURL, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes))
	if err != nil {
		return "", true, fmt.Errorf("read body: %w", err)
	}
	return string(data), false, nil
}

func isRetryableNetworkError(msg string) bool {
	s := strings.ToLower(msg)
	return strings.Contains(s, "timeout") ||
		strings.Contains(s, "connection refused") ||
		strings.Contains(s, "connection reset")
}
