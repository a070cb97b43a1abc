package migrate

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/pressly/goose/v3"
)

// DefaultDir is the repo-relative migrations directory. Binaries read the
// embedded copy instead of the working tree.
const DefaultDir = "pkg/migrate/migrations"

//go:embed migrations/*.sql
var embedded embed.FS

// Source returns the migration files for dir, using the compiled-in copy for
// DefaultDir.
func Source(dir string) (fs.FS, error) {
	switch dir {
	case "":
		return nil, errors.New("dir is required")
	case DefaultDir:
		return fs.Sub(embedded, "migrations")
	default:
		return os.DirFS(dir), nil
	}
}

// Applied describes one migration a command ran or inspected.
type Applied struct {
	Version  int64
	Path     string
	Pending  bool
	At       time.Time
	Duration time.Duration
}

// Migrator applies goose migrations from a single source against one database.
type Migrator struct {
	provider *goose.Provider
}

func NewMigrator(db *sql.DB, dir string) (*Migrator, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	fsys, err := Source(dir)
	if err != nil {
		return nil, err
	}
	provider, err := goose.NewProvider(goose.DialectPostgres, db, fsys)
	if err != nil {
		return nil, fmt.Errorf("goose provider: %w", err)
	}
	return &Migrator{provider: provider}, nil
}

// Up applies every pending migration.
func (m *Migrator) Up(ctx context.Context) ([]Applied, error) {
	results, err := m.provider.Up(ctx)
	if err != nil {
		return nil, fmt.Errorf("goose up: %w", err)
	}
	return fromResults(results), nil
}

// Down rolls back the most recent migration.
func (m *Migrator) Down(ctx context.Context) ([]Applied, error) {
	result, err := m.provider.Down(ctx)
	if err != nil {
		return nil, fmt.Errorf("goose down: %w", err)
	}
	return fromResults([]*goose.MigrationResult{result}), nil
}

// Status lists every known migration with its applied time, if any.
func (m *Migrator) Status(ctx context.Context) ([]Applied, error) {
	statuses, err := m.provider.Status(ctx)
	if err != nil {
		return nil, fmt.Errorf("goose status: %w", err)
	}
	out := make([]Applied, 0, len(statuses))
	for _, st := range statuses {
		out = append(out, Applied{
			Version: st.Source.Version,
			Path:    st.Source.Path,
			Pending: st.State == goose.StatePending,
			At:      st.AppliedAt,
		})
	}
	return out, nil
}

// To moves the schema up or down to target, a YYYYMMDDHHMMSS version.
func (m *Migrator) To(ctx context.Context, target string) ([]Applied, error) {
	version, err := strconv.ParseInt(target, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid version %q (expected YYYYMMDDHHMMSS): %w", target, err)
	}
	current, err := m.provider.GetDBVersion(ctx)
	if err != nil {
		return nil, fmt.Errorf("get db version: %w", err)
	}

	var results []*goose.MigrationResult
	switch {
	case current == version:
		return nil, nil
	case current < version:
		results, err = m.provider.UpTo(ctx, version)
	default:
		results, err = m.provider.DownTo(ctx, version)
	}
	if err != nil {
		return nil, fmt.Errorf("goose migrate %d -> %d: %w", current, version, err)
	}
	return fromResults(results), nil
}

func (m *Migrator) Close() error {
	return m.provider.Close()
}

func fromResults(results []*goose.MigrationResult) []Applied {
	out := make([]Applied, 0, len(results))
	for _, r := range results {
		if r == nil || r.Source == nil {
			continue
		}
		out = append(out, Applied{
			Version:  r.Source.Version,
			Path:     r.Source.Path,
			Duration: r.Duration,
		})
	}
	return out
}
