// Package metrics defines the Prometheus collectors each binary registers on
// its own registry. Every recorder is nil-safe so callers can skip wiring it.
package metrics

const namespace = "carousel"

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
