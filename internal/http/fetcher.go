// Package http provides the resource-bounded page fetcher.
package http

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/PentesterFlow/PathScout/internal/errors"
	"github.com/PentesterFlow/PathScout/internal/scope"
)

// DefaultUserAgent is the client identity sent with every request.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"

// Recorder receives fetch observations. metrics.Collector implements it.
type Recorder interface {
	RecordFetch(outcome string, duration time.Duration, bytes int)
	RecordRetry()
}

// FetcherConfig holds configuration for the page fetcher.
type FetcherConfig struct {
	Timeout             time.Duration
	MaxBytes            int64
	ChunkSize           int
	UserAgent           string
	MaxRedirects        int
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	SkipTLSVerify       bool
	Retry               errors.RetryConfig
}

// DefaultFetcherConfig returns the standard fetch limits: 10s per attempt,
// a 1.5 MB body ceiling read in 8 KiB chunks.
func DefaultFetcherConfig() FetcherConfig {
	return FetcherConfig{
		Timeout:             10 * time.Second,
		MaxBytes:            1_500_000,
		ChunkSize:           8192,
		UserAgent:           DefaultUserAgent,
		MaxRedirects:        10,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		Retry:               errors.DefaultRetryConfig(),
	}
}

// Page is a fetched HTML response body.
type Page struct {
	URL         string
	FinalURL    string
	StatusCode  int
	ContentType string
	Body        []byte
	Truncated   bool
	Attempts    int
	Duration    time.Duration
}

// Fetcher performs single-page GETs with bounded time and size. The
// underlying transport pools connections; a Fetcher is safe for concurrent use.
type Fetcher struct {
	client    *http.Client
	userAgent string
	maxBytes  int64
	chunkSize int
	retrier   *errors.Retrier
	recorder  Recorder
}

// NewFetcher creates a new page fetcher. recorder may be nil.
func NewFetcher(config FetcherConfig, recorder Recorder) *Fetcher {
	defaults := DefaultFetcherConfig()
	if config.ChunkSize <= 0 {
		config.ChunkSize = defaults.ChunkSize
	}
	if config.UserAgent == "" {
		config.UserAgent = defaults.UserAgent
	}
	if config.MaxRedirects <= 0 {
		config.MaxRedirects = defaults.MaxRedirects
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          config.MaxIdleConns,
		MaxIdleConnsPerHost:   config.MaxIdleConnsPerHost,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ForceAttemptHTTP2:     true,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: config.SkipTLSVerify,
		},
	}

	retry := config.Retry
	if recorder != nil {
		next := retry.OnRetry
		retry.OnRetry = func(attempt int, err error) {
			recorder.RecordRetry()
			if next != nil {
				next(attempt, err)
			}
		}
	}

	maxRedirects := config.MaxRedirects
	return &Fetcher{
		client: &http.Client{
			Transport: transport,
			Timeout:   config.Timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return fmt.Errorf("stopped after %d redirects", maxRedirects)
				}
				return nil
			},
		},
		userAgent: config.UserAgent,
		maxBytes:  config.MaxBytes,
		chunkSize: config.ChunkSize,
		retrier:   errors.NewRetrier(retry),
		recorder:  recorder,
	}
}

// Fetch GETs targetURL and returns its HTML body. Non-http(s) URLs fail with
// an InvalidInput error before any network call; responses whose
// content-type does not mention html fail with NonExtractable.
func (f *Fetcher) Fetch(ctx context.Context, targetURL string) (*Page, error) {
	if !scope.IsFetchable(targetURL) {
		return nil, errors.NewInvalidInputError(targetURL, "fetch", "unsupported url scheme")
	}

	start := time.Now()

	var (
		page *Page
		err  error
	)
	if f.retrier.AllowsMethod(http.MethodGet) {
		var result *errors.RetryResult
		page, result = errors.DoWithResult(ctx, f.retrier, "fetch", targetURL, func(ctx context.Context) (*Page, error) {
			return f.get(ctx, targetURL)
		})
		if !result.Success {
			crawlErr := errors.Categorize(result.LastError, targetURL)
			crawlErr.Attempts = result.Attempts
			err = crawlErr
		} else {
			page.Attempts = result.Attempts
		}
	} else {
		page, err = f.get(ctx, targetURL)
		if err == nil {
			page.Attempts = 1
		}
	}

	duration := time.Since(start)
	if err != nil {
		f.record(errors.GetErrorType(err).String(), duration, 0)
		return nil, err
	}

	page.Duration = duration
	f.record("ok", duration, len(page.Body))
	return page, nil
}

// get performs one attempt.
func (f *Fetcher) get(ctx context.Context, targetURL string) (*Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
	if err != nil {
		return nil, errors.NewInvalidInputError(targetURL, "fetch", err.Error())
	}

	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, errors.Categorize(err, targetURL)
	}
	defer resp.Body.Close()

	if f.retrier.RetriesStatus(resp.StatusCode) {
		return nil, errors.CategorizeHTTPStatus(resp.StatusCode, targetURL)
	}

	contentType := resp.Header.Get("Content-Type")
	if !strings.Contains(strings.ToLower(contentType), "html") {
		return nil, errors.NewNonExtractableError(targetURL, contentType)
	}

	body, truncated, err := readCapped(resp.Body, f.maxBytes, f.chunkSize)
	if err != nil {
		readErr := errors.Categorize(err, targetURL)
		readErr.Operation = "body_read"
		readErr.Retryable = false
		return nil, readErr
	}

	return &Page{
		URL:         targetURL,
		FinalURL:    resp.Request.URL.String(),
		StatusCode:  resp.StatusCode,
		ContentType: contentType,
		Body:        body,
		Truncated:   truncated,
	}, nil
}

// readCapped streams r in chunkSize reads and stops accepting bytes once
// maxBytes have been collected. truncated reports that the cap was reached.
func readCapped(r io.Reader, maxBytes int64, chunkSize int) (body []byte, truncated bool, err error) {
	buf := make([]byte, chunkSize)
	for {
		if maxBytes > 0 && int64(len(body)) >= maxBytes {
			return body, true, nil
		}
		n, readErr := r.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			if maxBytes > 0 {
				if remaining := maxBytes - int64(len(body)); int64(n) > remaining {
					chunk = chunk[:remaining]
				}
			}
			body = append(body, chunk...)
		}
		if readErr == io.EOF {
			return body, false, nil
		}
		if readErr != nil {
			return nil, false, readErr
		}
	}
}

func (f *Fetcher) record(outcome string, duration time.Duration, bytes int) {
	if f.recorder != nil {
		f.recorder.RecordFetch(outcome, duration, bytes)
	}
}

// Close releases idle pooled connections.
func (f *Fetcher) Close() {
	f.client.CloseIdleConnections()
}
