// Package fetcher downloads quarterly data set archives from the SEC.
package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/fsds-cli/internal/resilience"
)

// HTTPOptions configures the HTTP fetcher.
type HTTPOptions struct {
	UserAgent string
	// Timeout bounds each request. Zero leaves the client without a timeout.
	Timeout time.Duration
	// MaxRetries is the total number of attempts for retryable failures.
	MaxRetries int
	// MinInterval is the minimum spacing between successive requests.
	MinInterval time.Duration
	// RetryDelay is the wait before the second attempt; later waits double.
	RetryDelay time.Duration
	Transport  http.RoundTripper
}

// StatusError is a non-2xx response.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http %d from %s", e.StatusCode, e.URL)
}

// HTTPFetcher performs GET requests with a shared request spacing limiter and
// bounded retry on 429, 5xx and transport failures.
type HTTPFetcher struct {
	client  *http.Client
	opts    HTTPOptions
	limiter *rate.Limiter
}

// NewHTTPFetcher creates a new HTTPFetcher with the given options.
func NewHTTPFetcher(opts HTTPOptions) *HTTPFetcher {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "fsds-cli/1.0"
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = time.Second
	}

	limit := rate.Inf
	if opts.MinInterval > 0 {
		limit = rate.Every(opts.MinInterval)
	}

	transport := opts.Transport
	if transport == nil {
		transport = &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConnsPerHost: 4,
			IdleConnTimeout:     90 * time.Second,
		}
	}

	return &HTTPFetcher{
		client:  &http.Client{Timeout: opts.Timeout, Transport: transport},
		opts:    opts,
		limiter: rate.NewLimiter(limit, 1),
	}
}

// Get issues a GET and returns the 2xx response. The caller closes the body.
// A final non-2xx is returned as *StatusError.
func (f *HTTPFetcher) Get(ctx context.Context, rawURL string) (*http.Response, error) {
	policy := resilience.Policy{
		Attempts:  f.opts.MaxRetries,
		BaseDelay: f.opts.RetryDelay,
		MaxDelay:  30 * time.Second,
		Jitter:    0.25,
		OnRetry:   resilience.LogRetry("fetcher", "get", zap.String("url", rawURL)),
	}

	return resilience.DoVal(ctx, policy, func(ctx context.Context) (*http.Response, error) {
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "fetcher: rate limiter wait")
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, eris.Wrap(err, "fetcher: create request")
		}
		req.Header.Set("User-Agent", f.opts.UserAgent)

		resp, err := f.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			return nil, resilience.Transient(err, 0)
		}

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			_ = resp.Body.Close()
			se := &StatusError{URL: rawURL, StatusCode: resp.StatusCode}
			if resilience.IsRetryableStatus(resp.StatusCode) {
				return nil, resilience.Transient(se, resp.StatusCode)
			}
			return nil, se
		}
		return resp, nil
	})
}

// DownloadToFile fetches the URL and streams the body to path. A partially
// written file is removed on failure.
func (f *HTTPFetcher) DownloadToFile(ctx context.Context, rawURL string, path string) (n int64, err error) {
	resp, err := f.Get(ctx, rawURL)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close() //nolint:errcheck

	file, err := os.Create(path)
	if err != nil {
		return 0, eris.Wrap(err, "fetcher: create file")
	}
	defer func() {
		if cerr := file.Close(); cerr != nil && err == nil {
			err = eris.Wrap(cerr, "fetcher: close file")
		}
		if err != nil {
			_ = os.Remove(path)
		}
	}()

	n, err = io.Copy(file, resp.Body)
	if err != nil {
		return n, eris.Wrap(err, "fetcher: write file")
	}
	return n, nil
}
