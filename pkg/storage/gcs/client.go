package gcs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	gstorage "cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/angelmondragon/carousel-backend/pkg/config"
	"github.com/angelmondragon/carousel-backend/pkg/logger"
	"github.com/angelmondragon/carousel-backend/pkg/storage"
)

const (
	pingTimeout          = 5 * time.Second
	defaultUploadTimeout = 2 * time.Minute
	publicHost           = "https://storage.googleapis.com"
	cacheControl         = "public, max-age=31536000, immutable"
)

// Client stores cached media in a Google Cloud Storage bucket.
type Client struct {
	client        *gstorage.Client
	bucket        string
	publicBaseURL string
	signed        bool
	urlExpiry     time.Duration
	uploadTimeout time.Duration
}

var _ storage.Store = (*Client)(nil)

func NewClient(ctx context.Context, cfg config.StorageConfig, gcp config.GCPConfig, logg *logger.Logger) (*Client, error) {
	bucket := strings.TrimSpace(cfg.BucketName)
	if bucket == "" {
		return nil, errors.New("gcs bucket name is required")
	}

	sc, err := gstorage.NewClient(ctx, clientOptions(gcp)...)
	if err != nil {
		return nil, fmt.Errorf("creating gcs client: %w", err)
	}

	client := &Client{
		client:        sc,
		bucket:        bucket,
		publicBaseURL: publicBaseURL(cfg.PublicBaseURL, bucket),
		signed:        cfg.Signed(),
		urlExpiry:     cfg.DownloadURLExpiry,
		uploadTimeout: cfg.UploadTimeout,
	}
	if client.uploadTimeout <= 0 {
		client.uploadTimeout = defaultUploadTimeout
	}

	if err := client.Ping(ctx); err != nil {
		_ = sc.Close()
		return nil, fmt.Errorf("gcs health check failed: %w", err)
	}

	if logg != nil {
		logg.Info(logg.WithField(ctx, "bucket", bucket), "gcs client initialized")
	}
	return client, nil
}

func clientOptions(gcp config.GCPConfig) []option.ClientOption {
	var opts []option.ClientOption
	switch {
	case strings.TrimSpace(gcp.CredentialsJSON) != "":
		opts = append(opts, option.WithCredentialsJSON([]byte(gcp.CredentialsJSON)))
	case strings.TrimSpace(gcp.ApplicationCredentials) != "":
		opts = append(opts, option.WithCredentialsFile(gcp.ApplicationCredentials))
	}
	return opts
}

func publicBaseURL(configured, bucket string) string {
	if trimmed := strings.TrimSuffix(strings.TrimSpace(configured), "/"); trimmed != "" {
		return trimmed
	}
	return fmt.Sprintf("%s/%s", publicHost, bucket)
}

func (c *Client) Put(ctx context.Context, key string, body []byte, contentType string) (storage.Object, error) {
	ctx, cancel := context.WithTimeout(ctx, c.uploadTimeout)
	defer cancel()

	w := c.client.Bucket(c.bucket).Object(key).NewWriter(ctx)
	w.ContentType = contentType
	w.CacheControl = cacheControl
	if _, err := io.Copy(w, bytes.NewReader(body)); err != nil {
		_ = w.Close()
		return storage.Object{}, fmt.Errorf("gcs write %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return storage.Object{}, fmt.Errorf("gcs close %s: %w", key, err)
	}

	url, err := c.URL(ctx, key)
	if err != nil {
		return storage.Object{}, err
	}
	return storage.Object{Key: key, URL: url, Size: int64(len(body)), ContentType: contentType}, nil
}

func (c *Client) Stat(ctx context.Context, key string) (storage.Object, error) {
	attrs, err := c.client.Bucket(c.bucket).Object(key).Attrs(ctx)
	if err != nil {
		if errors.Is(err, gstorage.ErrObjectNotExist) {
			return storage.Object{}, storage.ErrNotFound
		}
		return storage.Object{}, fmt.Errorf("gcs attrs %s: %w", key, err)
	}
	return storage.Object{
		Key:         key,
		URL:         c.publicURL(key),
		Size:        attrs.Size,
		ContentType: attrs.ContentType,
	}, nil
}

func (c *Client) Fetch(ctx context.Context, key string) ([]byte, error) {
	r, err := c.client.Bucket(c.bucket).Object(key).NewReader(ctx)
	if err != nil {
		if errors.Is(err, gstorage.ErrObjectNotExist) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("gcs read %s: %w", key, err)
	}
	defer r.Close()
	body, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("gcs read %s: %w", key, err)
	}
	return body, nil
}

// Delete removes the object; deleting a missing object succeeds.
func (c *Client) Delete(ctx context.Context, key string) error {
	err := c.client.Bucket(c.bucket).Object(key).Delete(ctx)
	if err == nil || errors.Is(err, gstorage.ErrObjectNotExist) || isNotFound(err) {
		return nil
	}
	return fmt.Errorf("gcs delete %s: %w", key, err)
}

func (c *Client) URL(_ context.Context, key string) (string, error) {
	if !c.signed {
		return c.publicURL(key), nil
	}
	signed, err := c.client.Bucket(c.bucket).SignedURL(key, &gstorage.SignedURLOptions{
		Scheme:  gstorage.SigningSchemeV4,
		Method:  http.MethodGet,
		Expires: time.Now().Add(c.urlExpiry),
	})
	if err != nil {
		return "", fmt.Errorf("gcs sign %s: %w", key, err)
	}
	return signed, nil
}

func (c *Client) KeyFromURL(rawURL string) (string, bool) {
	return storage.KeyFromURL(rawURL,
		c.publicBaseURL,
		fmt.Sprintf("%s/%s", publicHost, c.bucket),
		fmt.Sprintf("https://%s.storage.googleapis.com", c.bucket),
	)
}

func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.client == nil {
		return errors.New("gcs client not initialized")
	}
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	it := c.client.Bucket(c.bucket).Objects(ctx, &gstorage.Query{Prefix: "cache/"})
	if _, err := it.Next(); err != nil && !errors.Is(err, iterator.Done) {
		return err
	}
	return nil
}

func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

func (c *Client) publicURL(key string) string {
	return c.publicBaseURL + "/" + key
}

func isNotFound(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound
}
