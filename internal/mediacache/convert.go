package mediacache

import (
	"bytes"
	"context"
	"fmt"
	"image/jpeg"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	pkgerrors "github.com/angelmondragon/carousel-backend/pkg/errors"
)

const defaultConvertTimeout = 60 * time.Second

// Converter re-encodes HEIF bytes as JPEG.
type Converter interface {
	ToJPEG(ctx context.Context, body []byte, quality int) ([]byte, error)
}

// CommandConverter shells out to heif-convert (libheif examples) or any
// binary accepting "-q <quality> <in> <out>".
type CommandConverter struct {
	Binary  string
	WorkDir string
	Timeout time.Duration
}

// NewCommandConverter resolves binary on PATH.
func NewCommandConverter(binary string) (*CommandConverter, error) {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		return nil, fmt.Errorf("converter binary required")
	}
	resolved, err := exec.LookPath(binary)
	if err != nil {
		return nil, fmt.Errorf("missing converter binary %q in PATH: %w", binary, err)
	}
	return &CommandConverter{Binary: resolved, Timeout: defaultConvertTimeout}, nil
}

func (c *CommandConverter) ToJPEG(ctx context.Context, body []byte, quality int) ([]byte, error) {
	if quality <= 0 || quality > 100 {
		quality = 92
	}
	dir, err := os.MkdirTemp(c.WorkDir, "heif-")
	if err != nil {
		return nil, fmt.Errorf("mkdir temp: %w", err)
	}
	defer os.RemoveAll(dir)

	in := filepath.Join(dir, "in.heic")
	out := filepath.Join(dir, "out.jpg")
	if err := os.WriteFile(in, body, 0o600); err != nil {
		return nil, fmt.Errorf("write temp file: %w", err)
	}

	timeout := c.Timeout
	if timeout <= 0 {
		timeout = defaultConvertTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, c.Binary, "-q", strconv.Itoa(quality), in, out)
	if output, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("%s failed: %w; out=%s", filepath.Base(c.Binary), err, strings.TrimSpace(string(output)))
	}

	converted, err := os.ReadFile(out)
	if err != nil {
		return nil, fmt.Errorf("read converted file: %w", err)
	}
	if _, err := jpeg.DecodeConfig(bytes.NewReader(converted)); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeUnsupportedMedia, err, "converter produced invalid jpeg")
	}
	return converted, nil
}
