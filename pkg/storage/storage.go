// Package storage defines the object store that holds cached media copies.
package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"
)

// ErrNotFound is returned when an object does not exist.
var ErrNotFound = errors.New("storage: object not found")

// Object describes a stored object.
type Object struct {
	Key         string
	URL         string
	Size        int64
	ContentType string
}

// Store persists cached media bytes.
type Store interface {
	Put(ctx context.Context, key string, body []byte, contentType string) (Object, error)
	Stat(ctx context.Context, key string) (Object, error)
	// Fetch reads the whole object body. A missing object is ErrNotFound.
	Fetch(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	// URL returns a public or presigned URL depending on the store's access mode.
	URL(ctx context.Context, key string) (string, error)
	// KeyFromURL recognizes URLs that already point into this store.
	KeyFromURL(rawURL string) (string, bool)
	Ping(ctx context.Context) error
	Close() error
}

// BuildKey lays out cache objects as cache/<folder>/<yyyy>/<mm>/<id>[-<name>]<ext>.
func BuildKey(folder, id, filename, ext string, now time.Time) string {
	folder = sanitizeSegment(folder)
	if folder == "" {
		folder = "media"
	}
	name := id
	if base := sanitizeSegment(strings.TrimSuffix(filename, path.Ext(filename))); base != "" {
		name = id + "-" + base
	}
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return fmt.Sprintf("cache/%s/%04d/%02d/%s%s", folder, now.Year(), int(now.Month()), name, ext)
}

func sanitizeSegment(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	var b strings.Builder
	for _, r := range value {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		case r == ' ', r == '.', r == '/':
			b.WriteRune('-')
		}
	}
	out := strings.Trim(b.String(), "-")
	if len(out) > 64 {
		out = out[:64]
	}
	return out
}

// KeyFromURL strips the first matching base URL prefix from rawURL and returns
// the remaining object key.
func KeyFromURL(rawURL string, bases ...string) (string, bool) {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || parsed.Host == "" {
		return "", false
	}
	target := strings.ToLower(parsed.Host) + parsed.EscapedPath()
	for _, base := range bases {
		baseURL, err := url.Parse(strings.TrimSpace(base))
		if err != nil || baseURL.Host == "" {
			continue
		}
		prefix := strings.ToLower(baseURL.Host) + strings.TrimSuffix(baseURL.EscapedPath(), "/") + "/"
		if !strings.HasPrefix(target, prefix) {
			continue
		}
		key, err := url.PathUnescape(strings.TrimPrefix(target, prefix))
		if err != nil || key == "" {
			return "", false
		}
		return key, true
	}
	return "", false
}
