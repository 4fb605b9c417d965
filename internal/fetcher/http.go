package fetcher

import (
	"context"
	"io"
	"math"
	"math/rand/v2"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// HTTPOptions configures the HTTP fetcher.
type HTTPOptions struct {
	UserAgent  string
	Timeout    time.Duration
	MaxRetries int

	// HostLimits caps requests per second for a host. Hosts not listed use
	// DefaultLimit.
	HostLimits   map[string]rate.Limit
	DefaultLimit rate.Limit

	// BaseBackoff is the first retry delay; it doubles per attempt.
	BaseBackoff time.Duration
}

// DefaultHostLimits returns request limits for the public services the
// pipeline talks to. Tile servers ask for light use.
func DefaultHostLimits() map[string]rate.Limit {
	return map[string]rate.Limit{
		"services.arcgis.com":    5,
		"www2.census.gov":        5,
		"tile.openstreetmap.org": 2,
	}
}

// hostLimiter slows down after a 429 and recovers gradually on success.
type hostLimiter struct {
	mu      sync.Mutex
	limiter *rate.Limiter
	ceiling rate.Limit
	floor   rate.Limit
}

func newHostLimiter(limit rate.Limit) *hostLimiter {
	burst := int(limit)
	if burst < 1 {
		burst = 1
	}
	return &hostLimiter{
		limiter: rate.NewLimiter(limit, burst),
		ceiling: limit,
		floor:   limit / 4,
	}
}

func (h *hostLimiter) wait(ctx context.Context) error {
	return h.limiter.Wait(ctx)
}

func (h *hostLimiter) throttled() {
	h.mu.Lock()
	defer h.mu.Unlock()
	next := h.limiter.Limit() / 2
	if next < h.floor {
		next = h.floor
	}
	h.limiter.SetLimit(next)
}

func (h *hostLimiter) succeeded() {
	h.mu.Lock()
	defer h.mu.Unlock()
	next := h.limiter.Limit() * 1.2
	if next > h.ceiling {
		next = h.ceiling
	}
	h.limiter.SetLimit(next)
}

// HTTPFetcher implements Fetcher using net/http with retry and per-host
// rate limiting.
type HTTPFetcher struct {
	client *http.Client
	opts   HTTPOptions

	mu       sync.Mutex
	limiters map[string]*hostLimiter
}

// NewHTTPFetcher creates a new HTTPFetcher with the given options.
func NewHTTPFetcher(opts HTTPOptions) *HTTPFetcher {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 3
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "shelter-access/1.0"
	}
	if opts.DefaultLimit == 0 {
		opts.DefaultLimit = 20
	}
	if opts.BaseBackoff == 0 {
		opts.BaseBackoff = time.Second
	}
	transport := &http.Transport{
		MaxIdleConnsPerHost: 16,
		IdleConnTimeout:     90 * time.Second,
	}
	return &HTTPFetcher{
		client: &http.Client{
			Timeout:   opts.Timeout,
			Transport: transport,
		},
		opts:     opts,
		limiters: make(map[string]*hostLimiter),
	}
}

func (f *HTTPFetcher) limiterFor(u *url.URL) *hostLimiter {
	f.mu.Lock()
	defer f.mu.Unlock()
	if lim, ok := f.limiters[u.Host]; ok {
		return lim
	}
	limit, ok := f.opts.HostLimits[u.Hostname()]
	if !ok {
		limit = f.opts.DefaultLimit
	}
	lim := newHostLimiter(limit)
	f.limiters[u.Host] = lim
	return lim
}

func (f *HTTPFetcher) doWithRetry(ctx context.Context, req *http.Request) (*http.Response, error) {
	lim := f.limiterFor(req.URL)
	log := zap.L().With(zap.String("component", "fetcher"), zap.String("url", req.URL.String()))

	var lastErr error
	for attempt := range f.opts.MaxRetries {
		if err := lim.wait(ctx); err != nil {
			return nil, eris.Wrap(err, "fetcher: rate limiter wait")
		}

		resp, err := f.client.Do(req.Clone(ctx))
		switch {
		case err != nil:
			lastErr = err
			log.Warn("request failed, retrying", zap.Int("attempt", attempt+1), zap.Error(err))
		case resp.StatusCode == http.StatusTooManyRequests:
			_ = resp.Body.Close()
			lastErr = eris.Errorf("http 429 from %s", req.URL.Host)
			lim.throttled()
			log.Warn("rate limited, backing off", zap.Int("attempt", attempt+1))
		case resp.StatusCode >= 500:
			_ = resp.Body.Close()
			lastErr = eris.Errorf("http %d from %s", resp.StatusCode, req.URL.Host)
			log.Warn("server error, retrying", zap.Int("status", resp.StatusCode), zap.Int("attempt", attempt+1))
		default:
			lim.succeeded()
			return resp, nil
		}

		if attempt == f.opts.MaxRetries-1 {
			break
		}
		if err := f.backoff(ctx, attempt); err != nil {
			return nil, eris.Wrap(err, "fetcher: backoff")
		}
	}

	return nil, eris.Wrap(lastErr, "fetcher: all retries exhausted")
}

func (f *HTTPFetcher) backoff(ctx context.Context, attempt int) error {
	d := time.Duration(float64(f.opts.BaseBackoff) * math.Pow(2, float64(attempt)))
	if d > 30*time.Second {
		d = 30 * time.Second
	}
	if half := int64(d) / 2; half > 0 {
		d += time.Duration(rand.Int64N(half))
	}

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Download fetches the URL and returns the response body. Any status other
// than 200 is an error.
func (f *HTTPFetcher) Download(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "fetcher: create request")
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)

	resp, err := f.doWithRetry(ctx, req)
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: download %s", rawURL)
	}

	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, eris.Errorf("fetcher: unexpected status %d from %s", resp.StatusCode, rawURL)
	}

	return resp.Body, nil
}

// DownloadToFile fetches the URL and writes it to path, creating parent
// directories. A failed download leaves no file behind.
func (f *HTTPFetcher) DownloadToFile(ctx context.Context, rawURL string, path string) (int64, error) {
	body, err := f.Download(ctx, rawURL)
	if err != nil {
		return 0, err
	}
	defer body.Close() //nolint:errcheck

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, eris.Wrap(err, "fetcher: create directory")
	}

	tmp := path + ".part"
	file, err := os.Create(tmp)
	if err != nil {
		return 0, eris.Wrap(err, "fetcher: create file")
	}

	n, err := io.Copy(file, body)
	if cerr := file.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return n, eris.Wrap(err, "fetcher: write file")
	}

	if err := os.Rename(tmp, path); err != nil {
		return n, eris.Wrap(err, "fetcher: move file")
	}
	return n, nil
}
