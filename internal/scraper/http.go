package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/angelmondragon/carousel-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/carousel-backend/pkg/errors"
)

const maxPageBytes = 16 << 20

// HTTPClient calls a JSON scraping endpoint:
//
//	GET {base}/profiles/{handle}/posts?cursor={cursor}
type HTTPClient struct {
	baseURL *url.URL
	apiKey  string
	client  *http.Client
	limiter *rate.Limiter
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient builds a rate-limited scraper client from config.
func NewHTTPClient(cfg config.ScraperConfig) (*HTTPClient, error) {
	base := strings.TrimSpace(cfg.BaseURL)
	if base == "" {
		return nil, fmt.Errorf("scraper base url required")
	}
	parsed, err := url.Parse(base)
	if err != nil || parsed.Host == "" {
		return nil, fmt.Errorf("invalid scraper base url %q", base)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	limit := rate.Inf
	if cfg.RPS > 0 {
		limit = rate.Limit(cfg.RPS)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &HTTPClient{
		baseURL: parsed,
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(limit, burst),
	}, nil
}

func (c *HTTPClient) FetchProfilePage(ctx context.Context, handle, cursor string) (*Page, error) {
	handle = strings.TrimPrefix(strings.TrimSpace(handle), "@")
	if handle == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "profile handle required")
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	endpoint := c.baseURL.JoinPath("profiles", handle, "posts")
	if cursor != "" {
		q := endpoint.Query()
		q.Set("cursor", cursor)
		endpoint.RawQuery = q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeUpstream, err, "scraper request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, statusError(resp.StatusCode, handle, strings.TrimSpace(string(snippet)))
	}

	var page Page
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxPageBytes)).Decode(&page); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeUpstream, err, "decode scraper page")
	}
	if page.Profile.Handle == "" {
		page.Profile.Handle = handle
	}
	if page.HasMore && page.NextCursor == "" {
		return nil, pkgerrors.New(pkgerrors.CodeUpstream, "scraper page has more results but no cursor")
	}
	return &page, nil
}

func statusError(status int, handle, body string) error {
	details := map[string]any{"status": status, "handle": handle, "body": body}
	switch {
	case status == http.StatusNotFound:
		return pkgerrors.New(pkgerrors.CodeNotFound, "profile not found").WithDetails(details)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return pkgerrors.New(pkgerrors.CodeDependency, "scraper rejected credentials").WithDetails(details)
	case status == http.StatusTooManyRequests || status >= 500:
		return pkgerrors.New(pkgerrors.CodeUpstream, fmt.Sprintf("scraper returned %d", status)).WithDetails(details)
	default:
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("scraper returned %d", status)).WithDetails(details)
	}
}
