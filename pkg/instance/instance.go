// Package instance names the running process in logs and lock values.
package instance

import (
	"os"
	"strings"
)

const fallbackID = "worker-0"

// ID returns CAROUSEL_INSTANCE_ID, else the host name (the pod name on
// Kubernetes and Cloud Run), else a fixed default.
func ID() string {
	if id := strings.TrimSpace(os.Getenv("CAROUSEL_INSTANCE_ID")); id != "" {
		return id
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return fallbackID
}
