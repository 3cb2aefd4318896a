package ics

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"

	appLog "hpvcal/internal/log"
)

// ErrNotModifiedNoCache is returned when the server answers 304 but no cached
// body exists to serve.
var ErrNotModifiedNoCache = errors.New("received 304 Not Modified but no cached body available")

const (
	defaultRetries  = 2
	defaultBackoff  = 500 * time.Millisecond
	defaultCacheDir = "./var/ics-cache"
	userAgent       = "hpvcal/1.0"
	maxBodyBytes    = 16 << 20
)

// Source is one ICS subscription URL and the feed kind it belongs to.
type Source struct {
	// Kind is the feed set this URL belongs to (e.g. "salibandy").
	Kind string
	URL  string
}

// FetchResult is the outcome of fetching one Source.
type FetchResult struct {
	Source    Source
	Body      []byte
	FromCache bool  // body came from the disk cache (304 or fallback)
	Err       error // set by FetchAll when no body could be produced
}

// StatusError is a non-OK HTTP answer from a feed server.
type StatusError struct {
	Code   int
	Status string
}

func (e *StatusError) Error() string { return "unexpected status " + e.Status }

// Fetcher downloads ICS feeds. It revalidates with ETag / Last-Modified,
// retries transient failures with exponential backoff, and falls back to the
// last good body on disk when a feed stays unreachable.
type Fetcher struct {
	client  *http.Client
	cache   bodyCache
	retries uint64
	backoff time.Duration
}

// NewFetcher creates a Fetcher caching bodies under cacheDir
// (e.g. "/var/lib/hpvcal/ics-cache").
func NewFetcher(cacheDir string) *Fetcher {
	if cacheDir == "" {
		cacheDir = defaultCacheDir
	}
	return &Fetcher{
		client:  &http.Client{Timeout: 15 * time.Second},
		cache:   bodyCache{root: cacheDir},
		retries: defaultRetries,
		backoff: defaultBackoff,
	}
}

// SetRetry changes how many times a transient failure (network error, 5xx,
// 429) is retried and the base of the exponential backoff between attempts.
func (f *Fetcher) SetRetry(retries uint64, backoff time.Duration) {
	f.retries = retries
	if backoff <= 0 {
		backoff = defaultBackoff
	}
	f.backoff = backoff
}

// FetchAll fetches all sources concurrently and returns one result per
// source, in input order. Failures are reported in FetchResult.Err; it
// returns only after every fetch has finished.
func (f *Fetcher) FetchAll(ctx context.Context, sources []Source) []FetchResult {
	results := make([]FetchResult, len(sources))

	var g errgroup.Group
	for i, src := range sources {
		g.Go(func() error {
			res, err := f.FetchOne(ctx, src)
			if err != nil {
				appLog.Error("ics fetch failed", err, "kind", src.Kind, "url", RedactURL(src.URL))
				res = FetchResult{Source: src, Err: err}
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// FetchOne fetches a single source. When every attempt fails it serves the
// cached body, if any, unless ctx was canceled.
func (f *Fetcher) FetchOne(ctx context.Context, src Source) (FetchResult, error) {
	if src.URL == "" {
		return FetchResult{}, errors.New("source URL is empty")
	}

	slot, err := f.cache.slot(src.URL)
	if err != nil {
		return FetchResult{}, fmt.Errorf("ics cache: %w", err)
	}
	cached, cachedBody := slot.load()

	appLog.Debug("ics fetch start", "kind", src.Kind, "url", RedactURL(src.URL), "cached", cachedBody != nil)

	var res FetchResult
	policy := retry.WithMaxRetries(f.retries, retry.NewExponential(f.backoff))
	err = retry.Do(ctx, policy, func(ctx context.Context) error {
		r, err := f.attempt(ctx, src, slot, cached, cachedBody)
		if err != nil {
			return err
		}
		res = r
		return nil
	})
	if err == nil {
		return res, nil
	}

	if cachedBody != nil && !errors.Is(err, context.Canceled) {
		appLog.Warn("ics feed unreachable; serving cached body",
			"kind", src.Kind,
			"url", RedactURL(src.URL),
			"cached_at", cached.StoredAt,
			"err", err.Error(),
		)
		return FetchResult{Source: src, Body: cachedBody, FromCache: true}, nil
	}
	return FetchResult{}, fmt.Errorf("fetch %s: %w", RedactURL(src.URL), err)
}

// attempt performs one conditional GET. Transient failures are wrapped with
// retry.RetryableError.
func (f *Fetcher) attempt(ctx context.Context, src Source, slot cacheSlot, cached validators, cachedBody []byte) (FetchResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return FetchResult{}, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/calendar")
	// A 304 is only useful when there is a body to serve.
	if cachedBody != nil {
		if cached.ETag != "" {
			req.Header.Set("If-None-Match", cached.ETag)
		}
		if cached.LastModified != "" {
			req.Header.Set("If-Modified-Since", cached.LastModified)
		}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return FetchResult{}, ctx.Err()
		}
		return FetchResult{}, retry.RetryableError(err)
	}
	defer resp.Body.Close()

	switch code := resp.StatusCode; {
	case code == http.StatusOK:
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		if err != nil {
			return FetchResult{}, retry.RetryableError(err)
		}
		v := validators{
			URL:          src.URL,
			ETag:         resp.Header.Get("ETag"),
			LastModified: resp.Header.Get("Last-Modified"),
		}
		if err := slot.store(v, body); err != nil {
			appLog.Error("ics cache save failed", err, "kind", src.Kind, "url", RedactURL(src.URL))
		}
		appLog.Info("ics fetch success", "kind", src.Kind, "url", RedactURL(src.URL), "bytes", len(body))
		return FetchResult{Source: src, Body: body}, nil

	case code == http.StatusNotModified:
		if cachedBody == nil {
			return FetchResult{}, ErrNotModifiedNoCache
		}
		appLog.Info("ics fetch not modified; using cache", "kind", src.Kind, "url", RedactURL(src.URL))
		return FetchResult{Source: src, Body: cachedBody, FromCache: true}, nil

	case code >= 500 || code == http.StatusTooManyRequests:
		return FetchResult{}, retry.RetryableError(&StatusError{Code: code, Status: resp.Status})

	default:
		return FetchResult{}, &StatusError{Code: code, Status: resp.Status}
	}
}

// RedactURL hides path and query of an ICS URL for logging; feed URLs often
// embed access tokens.
//
//	https://example.com/path/to/private.ics?token=abcd -> https://example.com/...(redacted)
func RedactURL(u string) string {
	parsed, err := url.Parse(u)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return "ics://...(redacted)"
	}
	return parsed.Scheme + "://" + parsed.Host + "/...(redacted)"
}
