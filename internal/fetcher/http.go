package fetcher

import (
	"context"
	"errors"
	"io"
	"math"
	"math/rand/v2"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/gasrisk-cli/internal/resilience"
)

// HTTPOptions configures the HTTP fetcher.
type HTTPOptions struct {
	UserAgent    string
	Timeout      time.Duration
	MaxRetries   int
	RateLimiters map[string]*rate.Limiter
}

// HTTPFetcher implements Fetcher using net/http with retry, per-host
// rate limiting, and a per-host circuit breaker so a dead provider stops
// absorbing retries. A cookie jar carries EBB session state across the
// page-load/postback pair the capacity posting requires.
type HTTPFetcher struct {
	client   *http.Client
	opts     HTTPOptions
	limiters map[string]*rate.Limiter
	breakers *resilience.ProviderBreakers
}

// DefaultRateLimiters returns per-host rate limiters for the providers this
// pipeline pulls from. The EBB hosts are deliberately slow: they are shared
// operator infrastructure with no published limit.
func DefaultRateLimiters() map[string]*rate.Limiter {
	return map[string]*rate.Limiter{
		"api.eia.gov":           rate.NewLimiter(5, 5),
		"www.ncei.noaa.gov":     rate.NewLimiter(5, 5),
		"infopost.enbridge.com": rate.NewLimiter(2, 2),
		"rtba.enbridge.com":     rate.NewLimiter(1, 2),
	}
}

// NewHTTPFetcher creates a new HTTPFetcher with the given options.
func NewHTTPFetcher(opts HTTPOptions) *HTTPFetcher {
	if opts.Timeout == 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 3
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "gasrisk-cli/1.0"
	}
	limiters := DefaultRateLimiters()
	for k, v := range opts.RateLimiters {
		limiters[k] = v
	}
	jar, _ := cookiejar.New(nil)
	transport := &http.Transport{
		MaxIdleConnsPerHost: 10,
		MaxConnsPerHost:     20,
		IdleConnTimeout:     90 * time.Second,
	}
	return &HTTPFetcher{
		client: &http.Client{
			Timeout:   opts.Timeout,
			Transport: transport,
			Jar:       jar,
		},
		opts:     opts,
		limiters: limiters,
		breakers: resilience.NewProviderBreakers(resilience.CircuitBreakerConfig{
			FailureThreshold: 5,
			ResetTimeout:     30 * time.Second,
			// Caller cancellation is not a provider fault.
			ShouldTrip: func(err error) bool {
				return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
			},
		}),
	}
}

func (f *HTTPFetcher) limiterFor(rawURL string) *rate.Limiter {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rate.NewLimiter(10, 10)
	}
	if lim, ok := f.limiters[u.Host]; ok {
		return lim
	}
	return rate.NewLimiter(10, 10)
}

func (f *HTTPFetcher) doWithRetry(ctx context.Context, build func(ctx context.Context) (*http.Request, error)) (*http.Response, error) {
	var lastErr error
	for attempt := range f.opts.MaxRetries {
		req, err := build(ctx)
		if err != nil {
			return nil, err
		}

		cb := f.breakers.Get(req.URL.Host)
		resp, err := resilience.ExecuteVal(ctx, cb, func(ctx context.Context) (*http.Response, error) {
			if err := f.limiterFor(req.URL.String()).Wait(ctx); err != nil {
				return nil, eris.Wrap(err, "rate limiter wait")
			}
			resp, err := f.client.Do(req)
			if err != nil {
				return nil, err
			}
			if resilience.IsTransientHTTPStatus(resp.StatusCode) {
				_ = resp.Body.Close()
				return nil, resilience.NewTransientError(
					eris.Errorf("http %d from %s", resp.StatusCode, req.URL.String()),
					resp.StatusCode,
				)
			}
			return resp, nil
		})
		if err == nil {
			return resp, nil
		}

		lastErr = err
		if ctx.Err() != nil {
			return nil, lastErr
		}
		zap.L().Warn("http request failed, retrying",
			zap.String("url", req.URL.String()),
			zap.String("host", req.URL.Host),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
		f.backoff(ctx, attempt)
	}

	return nil, eris.Wrap(lastErr, "all retries exhausted")
}

func (f *HTTPFetcher) backoff(ctx context.Context, attempt int) {
	base := time.Second
	maxBackoff := 30 * time.Second
	d := time.Duration(float64(base) * math.Pow(2, float64(attempt)))
	if d > maxBackoff {
		d = maxBackoff
	}
	d += time.Duration(rand.Int64N(int64(d) / 2))

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// Download fetches the URL and returns the response body.
func (f *HTTPFetcher) Download(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	return f.Get(ctx, rawURL, nil)
}

// Get fetches the URL with extra headers and returns the response body.
func (f *HTTPFetcher) Get(ctx context.Context, rawURL string, headers map[string]string) (io.ReadCloser, error) {
	resp, err := f.doWithRetry(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, eris.Wrap(err, "create request")
		}
		req.Header.Set("User-Agent", f.opts.UserAgent)
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		return req, nil
	})
	if err != nil {
		return nil, eris.Wrap(err, "get")
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close() //nolint:errcheck
		return nil, newStatusError(resp.StatusCode, rawURL)
	}

	return resp.Body, nil
}

// PostForm submits a form-encoded POST and returns the body and its
// Content-Type. The request is rebuilt per attempt so the form reader is
// fresh on each retry.
func (f *HTTPFetcher) PostForm(ctx context.Context, rawURL string, form url.Values, headers map[string]string) (io.ReadCloser, string, error) {
	encoded := form.Encode()
	resp, err := f.doWithRetry(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, strings.NewReader(encoded))
		if err != nil {
			return nil, eris.Wrap(err, "create post request")
		}
		req.Header.Set("User-Agent", f.opts.UserAgent)
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		return req, nil
	})
	if err != nil {
		return nil, "", eris.Wrap(err, "post form")
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close() //nolint:errcheck
		return nil, "", newStatusError(resp.StatusCode, rawURL)
	}

	return resp.Body, resp.Header.Get("Content-Type"), nil
}

// StatusError reports a non-OK terminal HTTP status so adapters can map it
// onto their own error taxonomy (404 vs 401 vs anything else).
type StatusError struct {
	StatusCode int
	URL        string
}

func (e *StatusError) Error() string {
	return eris.Errorf("unexpected status %d from %s", e.StatusCode, e.URL).Error()
}

func newStatusError(code int, url string) *StatusError {
	return &StatusError{StatusCode: code, URL: url}
}
