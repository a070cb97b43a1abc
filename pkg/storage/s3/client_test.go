package s3

import (
	"errors"
	"net/http"
	"testing"

	minio "github.com/minio/minio-go/v7"
)

func TestNormalizeEndpoint(t *testing.T) {
	cases := []struct {
		in         string
		ssl        bool
		wantHost   string
		wantSecure bool
	}{
		{"localhost:9000", false, "localhost:9000", false},
		{"https://s3.example.com", false, "s3.example.com", true},
		{"http://minio:9000", true, "minio:9000", true},
	}
	for _, tc := range cases {
		host, secure := normalizeEndpoint(tc.in, tc.ssl)
		if host != tc.wantHost || secure != tc.wantSecure {
			t.Fatalf("normalizeEndpoint(%q,%v) = (%q,%v)", tc.in, tc.ssl, host, secure)
		}
	}
}

func TestPublicBaseURLAndKeyMapping(t *testing.T) {
	base := publicBaseURL("", "localhost:9000", false, "media")
	if base != "http://localhost:9000/media" {
		t.Fatalf("unexpected base %q", base)
	}
	c := &Client{bucket: "media", publicBaseURL: base}
	key, ok := c.KeyFromURL("http://localhost:9000/media/cache/a.jpg")
	if !ok || key != "cache/a.jpg" {
		t.Fatalf("expected internal key, got %q %v", key, ok)
	}
	if _, ok := c.KeyFromURL("http://localhost:9000/other/cache/a.jpg"); ok {
		t.Fatal("other bucket must not match")
	}
	if got := publicBaseURL("https://cdn.example.com/", "x", true, "media"); got != "https://cdn.example.com" {
		t.Fatalf("configured base should win, got %q", got)
	}
}

func TestIsNotFound(t *testing.T) {
	if !isNotFound(minio.ErrorResponse{StatusCode: http.StatusNotFound, Code: "NoSuchKey"}) {
		t.Fatal("expected NoSuchKey to be not found")
	}
	if isNotFound(errors.New("timeout")) {
		t.Fatal("plain errors are not not-found")
	}
}
