package migrate

import (
	"fmt"
	"io/fs"
	"regexp"
	"strings"
)

var (
	sqlFileRe    = regexp.MustCompile(`^(\d{14})_[a-z0-9_]+\.sql$`)
	createTypeRe = regexp.MustCompile(`(?i)CREATE TYPE\s+([a-z0-9_]+)\s+AS ENUM`)
	createTblRe  = regexp.MustCompile(`(?i)CREATE TABLE IF NOT EXISTS\s+([a-z0-9_]+)`)
)

// ValidateDir checks migration filenames and that every migration can be
// rolled back: each enum type and table created in Up is dropped in Down.
func ValidateDir(dir string) error {
	fsys, err := Source(dir)
	if err != nil {
		return err
	}
	return ValidateFS(fsys)
}

// ValidateFS runs the ValidateDir checks against fsys.
func ValidateFS(fsys fs.FS) error {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}

	seen := map[string]string{}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".sql") {
			continue
		}

		m := sqlFileRe.FindStringSubmatch(name)
		if m == nil {
			return fmt.Errorf("invalid migration filename %q (expected YYYYMMDDHHMMSS_name.sql)", name)
		}
		if prev, ok := seen[m[1]]; ok {
			return fmt.Errorf("duplicate migration version %s in %q and %q", m[1], prev, name)
		}
		seen[m[1]] = name

		b, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("read file %q: %w", name, err)
		}
		if err := validateRollback(name, string(b)); err != nil {
			return err
		}
	}
	return nil
}

func validateRollback(name, txt string) error {
	upIdx := strings.Index(txt, "-- +goose Up")
	if upIdx < 0 {
		return fmt.Errorf("migration %q missing \"-- +goose Up\"", name)
	}
	downIdx := strings.Index(txt, "-- +goose Down")
	if downIdx < 0 {
		return fmt.Errorf("migration %q missing \"-- +goose Down\"", name)
	}
	if downIdx < upIdx {
		return fmt.Errorf("migration %q declares Down before Up", name)
	}
	up, down := txt[upIdx:downIdx], txt[downIdx:]

	for _, m := range createTypeRe.FindAllStringSubmatch(up, -1) {
		if !strings.Contains(down, "DROP TYPE IF EXISTS "+m[1]) {
			return fmt.Errorf("migration %q never drops type %s", name, m[1])
		}
	}
	for _, m := range createTblRe.FindAllStringSubmatch(up, -1) {
		if !strings.Contains(down, "DROP TABLE IF EXISTS "+m[1]) {
			return fmt.Errorf("migration %q never drops table %s", name, m[1])
		}
	}
	return nil
}
