package mediacache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/sony/gobreaker"

	"github.com/angelmondragon/carousel-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/carousel-backend/pkg/errors"
)

// Download is a fetched remote resource.
type Download struct {
	Body        []byte
	ContentType string
}

// DownloaderParams configure the HTTP downloader.
type DownloaderParams struct {
	Client    *http.Client
	Timeout   time.Duration
	Attempts  int
	Delay     time.Duration
	MaxBytes  int64
	UserAgent string
	// BreakerMaxFailures consecutive host failures open that host's breaker
	// for BreakerOpenFor.
	BreakerMaxFailures uint32
	BreakerOpenFor     time.Duration
}

// DownloaderParamsFromConfig maps media settings onto downloader params.
func DownloaderParamsFromConfig(cfg config.MediaConfig) DownloaderParams {
	return DownloaderParams{
		Timeout:            cfg.DownloadTimeout,
		Attempts:           cfg.DownloadRetries,
		Delay:              cfg.RetryDelay,
		MaxBytes:           cfg.MaxDownloadBytes(),
		UserAgent:          cfg.UserAgent,
		BreakerMaxFailures: cfg.BreakerMaxFails,
		BreakerOpenFor:     cfg.BreakerOpenFor,
	}
}

// Downloader fetches remote media with an inner retry and a per-host
// circuit breaker. The inner retry is separate from the queue's job retry.
type Downloader struct {
	client    *http.Client
	timeout   time.Duration
	attempts  int
	delay     time.Duration
	maxBytes  int64
	userAgent string
	maxFails  uint32
	openFor   time.Duration

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

func NewDownloader(params DownloaderParams) *Downloader {
	client := params.Client
	if client == nil {
		client = &http.Client{}
	}
	if params.Timeout <= 0 {
		params.Timeout = 30 * time.Second
	}
	if params.Attempts <= 0 {
		params.Attempts = 1
	}
	if params.MaxBytes <= 0 {
		params.MaxBytes = 200 << 20
	}
	if params.BreakerMaxFailures == 0 {
		params.BreakerMaxFailures = 5
	}
	if params.BreakerOpenFor <= 0 {
		params.BreakerOpenFor = 30 * time.Second
	}
	return &Downloader{
		client:    client,
		timeout:   params.Timeout,
		attempts:  params.Attempts,
		delay:     params.Delay,
		maxBytes:  params.MaxBytes,
		userAgent: params.UserAgent,
		maxFails:  params.BreakerMaxFailures,
		openFor:   params.BreakerOpenFor,
		breakers:  map[string]*gobreaker.CircuitBreaker{},
	}
}

// Fetch downloads rawURL. Errors carry a pkgerrors code; CodeUpstream is
// retryable by the job queue, client errors are not.
func (d *Downloader) Fetch(ctx context.Context, rawURL string) (*Download, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "download url must be absolute http(s)")
	}

	cb := d.breaker(strings.ToLower(parsed.Host))
	out, err := cb.Execute(func() (interface{}, error) {
		return d.fetchWithRetry(ctx, rawURL)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeUpstream, err, "host circuit open").
				WithDetails(map[string]any{"host": parsed.Host})
		}
		return nil, err
	}
	return out.(*Download), nil
}

func (d *Downloader) breaker(host string) *gobreaker.CircuitBreaker {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cb, ok := d.breakers[host]; ok {
		return cb
	}
	maxFails := d.maxFails
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "download:" + host,
		MaxRequests: 1,
		Timeout:     d.openFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFails
		},
		// a 404 says nothing about the host's health
		IsSuccessful: func(err error) bool {
			return err == nil || !pkgerrors.IsRetryable(err)
		},
	})
	d.breakers[host] = cb
	return cb
}

func (d *Downloader) fetchWithRetry(ctx context.Context, rawURL string) (*Download, error) {
	var result *Download
	backoff := retry.WithMaxRetries(uint64(d.attempts-1), retry.NewConstant(d.retryDelay()))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		dl, err := d.fetchOnce(ctx, rawURL)
		if err != nil {
			if pkgerrors.IsRetryable(err) {
				return retry.RetryableError(err)
			}
			return err
		}
		result = dl
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (d *Downloader) retryDelay() time.Duration {
	if d.delay <= 0 {
		return time.Millisecond
	}
	return d.delay
}

func (d *Downloader) fetchOnce(ctx context.Context, rawURL string) (*Download, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "build download request")
	}
	if d.userAgent != "" {
		req.Header.Set("User-Agent", d.userAgent)
	}
	req.Header.Set("Accept", "*/*")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeUpstream, err, "download request failed")
	}
	defer resp.Body.Close()

	if err := statusError(resp.StatusCode); err != nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, err
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, d.maxBytes+1))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeUpstream, err, "read download body")
	}
	if int64(len(body)) > d.maxBytes {
		return nil, pkgerrors.New(pkgerrors.CodeUnsupportedMedia, fmt.Sprintf("download exceeds %d bytes", d.maxBytes))
	}
	if len(body) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeUnsupportedMedia, "download body is empty")
	}
	return &Download{Body: body, ContentType: resp.Header.Get("Content-Type")}, nil
}

func statusError(status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusNotFound || status == http.StatusGone:
		return pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("remote media returned %d", status))
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return pkgerrors.New(pkgerrors.CodeForbidden, fmt.Sprintf("remote media returned %d", status))
	case status == http.StatusRequestTimeout || status == http.StatusTooManyRequests || status >= 500:
		return pkgerrors.New(pkgerrors.CodeUpstream, fmt.Sprintf("remote media returned %d", status))
	default:
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("remote media returned %d", status))
	}
}
