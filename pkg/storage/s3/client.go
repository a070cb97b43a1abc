// Package s3 stores cached media in an S3-compatible bucket (MinIO, AWS, R2).
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	minio "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/angelmondragon/carousel-backend/pkg/config"
	"github.com/angelmondragon/carousel-backend/pkg/logger"
	"github.com/angelmondragon/carousel-backend/pkg/storage"
)

const (
	pingTimeout          = 5 * time.Second
	defaultUploadTimeout = 2 * time.Minute
	cacheControl         = "public, max-age=31536000, immutable"
)

type Client struct {
	client        *minio.Client
	bucket        string
	publicBaseURL string
	signed        bool
	urlExpiry     time.Duration
	uploadTimeout time.Duration
}

var _ storage.Store = (*Client)(nil)

// New connects to the endpoint and creates the bucket when it is missing.
func New(ctx context.Context, cfg config.StorageConfig, s3cfg config.S3Config, logg *logger.Logger) (*Client, error) {
	bucket := strings.TrimSpace(cfg.BucketName)
	if bucket == "" {
		return nil, errors.New("s3 bucket name is required")
	}

	endpoint, secure := normalizeEndpoint(s3cfg.Endpoint, s3cfg.UseSSL)
	cli, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(s3cfg.AccessKeyID, s3cfg.SecretAccessKey, ""),
		Secure: secure,
		Region: s3cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	cli.SetAppInfo("carousel-media-cache", "1.0")

	exists, err := cli.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", bucket, err)
	}
	if !exists {
		if err := cli.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: s3cfg.Region}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", bucket, err)
		}
		if logg != nil {
			logg.Info(logg.WithField(ctx, "bucket", bucket), "s3 bucket created")
		}
	}

	client := &Client{
		client:        cli,
		bucket:        bucket,
		publicBaseURL: publicBaseURL(cfg.PublicBaseURL, endpoint, secure, bucket),
		signed:        cfg.Signed(),
		urlExpiry:     cfg.DownloadURLExpiry,
		uploadTimeout: cfg.UploadTimeout,
	}
	if client.uploadTimeout <= 0 {
		client.uploadTimeout = defaultUploadTimeout
	}
	if logg != nil {
		logg.Info(logg.WithFields(ctx, map[string]any{"endpoint": endpoint, "bucket": bucket}), "s3 connected")
	}
	return client, nil
}

// normalizeEndpoint accepts either host:port or a full URL.
func normalizeEndpoint(endpoint string, useSSL bool) (string, bool) {
	endpoint = strings.TrimSpace(endpoint)
	if u, err := url.Parse(endpoint); err == nil && u.Host != "" {
		return u.Host, useSSL || u.Scheme == "https"
	}
	return endpoint, useSSL
}

func publicBaseURL(configured, endpoint string, secure bool, bucket string) string {
	if trimmed := strings.TrimSuffix(strings.TrimSpace(configured), "/"); trimmed != "" {
		return trimmed
	}
	scheme := "http"
	if secure {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s/%s", scheme, endpoint, bucket)
}

func (c *Client) Put(ctx context.Context, key string, body []byte, contentType string) (storage.Object, error) {
	ctx, cancel := context.WithTimeout(ctx, c.uploadTimeout)
	defer cancel()

	_, err := c.client.PutObject(ctx, c.bucket, key, bytes.NewReader(body), int64(len(body)), minio.PutObjectOptions{
		ContentType:  contentType,
		CacheControl: cacheControl,
	})
	if err != nil {
		return storage.Object{}, fmt.Errorf("s3 put %s: %w", key, err)
	}
	url, err := c.URL(ctx, key)
	if err != nil {
		return storage.Object{}, err
	}
	return storage.Object{Key: key, URL: url, Size: int64(len(body)), ContentType: contentType}, nil
}

func (c *Client) Stat(ctx context.Context, key string) (storage.Object, error) {
	info, err := c.client.StatObject(ctx, c.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			return storage.Object{}, storage.ErrNotFound
		}
		return storage.Object{}, fmt.Errorf("s3 stat %s: %w", key, err)
	}
	return storage.Object{
		Key:         key,
		URL:         c.publicURL(key),
		Size:        info.Size,
		ContentType: info.ContentType,
	}, nil
}

func (c *Client) Fetch(ctx context.Context, key string) ([]byte, error) {
	obj, err := c.client.GetObject(ctx, c.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("s3 get %s: %w", key, err)
	}
	defer obj.Close()
	// GetObject is lazy; a missing key surfaces on the first read.
	body, err := io.ReadAll(obj)
	if err != nil {
		if isNotFound(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("s3 read %s: %w", key, err)
	}
	return body, nil
}

func (c *Client) Delete(ctx context.Context, key string) error {
	if err := c.client.RemoveObject(ctx, c.bucket, key, minio.RemoveObjectOptions{}); err != nil && !isNotFound(err) {
		return fmt.Errorf("s3 delete %s: %w", key, err)
	}
	return nil
}

func (c *Client) URL(ctx context.Context, key string) (string, error) {
	if !c.signed {
		return c.publicURL(key), nil
	}
	u, err := c.client.PresignedGetObject(ctx, c.bucket, key, c.urlExpiry, nil)
	if err != nil {
		return "", fmt.Errorf("s3 presign %s: %w", key, err)
	}
	return u.String(), nil
}

func (c *Client) KeyFromURL(rawURL string) (string, bool) {
	return storage.KeyFromURL(rawURL, c.publicBaseURL)
}

func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.client == nil {
		return errors.New("s3 client not initialized")
	}
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	ok, err := c.client.BucketExists(ctx, c.bucket)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("bucket %s does not exist", c.bucket)
	}
	return nil
}

func (c *Client) Close() error {
	return nil
}

func (c *Client) publicURL(key string) string {
	return c.publicBaseURL + "/" + key
}

func isNotFound(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.StatusCode == http.StatusNotFound || resp.Code == "NoSuchKey"
}
