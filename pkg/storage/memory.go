package storage

import (
	"context"
	"strings"
	"sync"
)

// Memory is an in-process Store used for local development and tests.
type Memory struct {
	mu      sync.RWMutex
	baseURL string
	objects map[string]memoryObject
}

type memoryObject struct {
	body        []byte
	contentType string
}

// NewMemory returns an empty in-memory store serving URLs under baseURL.
func NewMemory(baseURL string) *Memory {
	if baseURL == "" {
		baseURL = "https://storage.local/cache-bucket"
	}
	return &Memory{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		objects: make(map[string]memoryObject),
	}
}

func (m *Memory) Put(ctx context.Context, key string, body []byte, contentType string) (Object, error) {
	if err := ctx.Err(); err != nil {
		return Object{}, err
	}
	copied := append([]byte(nil), body...)
	m.mu.Lock()
	m.objects[key] = memoryObject{body: copied, contentType: contentType}
	m.mu.Unlock()
	return Object{Key: key, URL: m.publicURL(key), Size: int64(len(copied)), ContentType: contentType}, nil
}

func (m *Memory) Stat(_ context.Context, key string) (Object, error) {
	m.mu.RLock()
	obj, ok := m.objects[key]
	m.mu.RUnlock()
	if !ok {
		return Object{}, ErrNotFound
	}
	return Object{Key: key, URL: m.publicURL(key), Size: int64(len(obj.body)), ContentType: obj.contentType}, nil
}

func (m *Memory) Fetch(_ context.Context, key string) ([]byte, error) {
	body, ok := m.Bytes(key)
	if !ok {
		return nil, ErrNotFound
	}
	return body, nil
}

// Bytes returns a copy of the stored object body.
func (m *Memory) Bytes(key string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[key]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), obj.body...), true
}

// Len returns the number of stored objects.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.objects, key)
	m.mu.Unlock()
	return nil
}

func (m *Memory) URL(_ context.Context, key string) (string, error) {
	return m.publicURL(key), nil
}

func (m *Memory) KeyFromURL(rawURL string) (string, bool) {
	return KeyFromURL(rawURL, m.baseURL)
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Close() error { return nil }

func (m *Memory) publicURL(key string) string {
	return m.baseURL + "/" + key
}
