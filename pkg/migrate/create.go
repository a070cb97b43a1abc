package migrate

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

var unsafeNameChars = regexp.MustCompile(`[^a-z0-9]+`)

const skeleton = `-- +goose Up
-- %s

-- +goose Down
-- Drop every type and table created above.
`

// CreateSQLMigration writes an empty, timestamp-versioned goose file into dir
// and returns its path. Existing files are never overwritten.
func CreateSQLMigration(dir, name string) (string, error) {
	if dir == "" {
		return "", errors.New("dir is required")
	}
	slug := strings.Trim(unsafeNameChars.ReplaceAllString(strings.ToLower(name), "_"), "_")
	if slug == "" {
		return "", fmt.Errorf("migration name %q has no usable characters", name)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("mkdir %q: %w", dir, err)
	}

	path := filepath.Join(dir, time.Now().UTC().Format("20060102150405")+"_"+slug+".sql")
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("create migration: %w", err)
	}
	if _, err := fmt.Fprintf(f, skeleton, slug); err != nil {
		_ = f.Close()
		return "", fmt.Errorf("write migration %q: %w", path, err)
	}
	return path, f.Close()
}
