package migrate_test

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/angelmondragon/carousel-backend/pkg/migrate"
)

func readMigration(t *testing.T, pattern string) string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join("migrations", pattern))
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("expected one migration matching %q, got %d", pattern, len(matches))
	}
	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read migration file: %v", err)
	}
	return string(data)
}

func TestMigrationsDirIsValid(t *testing.T) {
	if err := migrate.ValidateDir("migrations"); err != nil {
		t.Fatalf("validate migrations: %v", err)
	}
}

func TestCacheAssetsMigrationContainsConstraints(t *testing.T) {
	content := readMigration(t, "*_create_cache_assets.sql")

	checks := []string{
		"CREATE TYPE cache_asset_status AS ENUM ('PENDING', 'DOWNLOADING', 'CACHED', 'FAILED')",
		"CONSTRAINT ux_cache_assets_original_url UNIQUE (original_url)",
		"CHECK (status <> 'CACHED' OR cache_key IS NOT NULL)",
		"DROP TABLE IF EXISTS cache_assets",
	}
	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestProfilesMigrationContainsConstraints(t *testing.T) {
	content := readMigration(t, "*_create_profiles_and_posts.sql")

	checks := []string{
		"CONSTRAINT ux_profiles_handle UNIQUE (handle)",
		"CONSTRAINT ux_posts_tiktok_id UNIQUE (tiktok_id)",
		"FOREIGN KEY (profile_id) REFERENCES profiles(id) ON DELETE CASCADE",
		"FOREIGN KEY (post_id) REFERENCES posts(id) ON DELETE CASCADE",
		"engagement_rate numeric(10,6) NOT NULL",
		"WHERE monitoring_enabled",
	}
	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestQueueJobsMigrationContainsConstraints(t *testing.T) {
	content := readMigration(t, "*_create_queue_jobs.sql")

	checks := []string{
		"CREATE TYPE queue_job_status AS ENUM ('waiting', 'active', 'delayed', 'completed', 'failed')",
		"CONSTRAINT ux_queue_jobs_queue_job_id UNIQUE (queue_name, job_id)",
		"DROP TYPE IF EXISTS queue_job_status",
	}
	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestOutboxMigrationListsEveryEventType(t *testing.T) {
	content := readMigration(t, "*_create_outbox.sql")

	for _, value := range []string{"'profile_monitor_completed'", "'profile_monitor_failed'", "'post_metrics_snapshotted'"} {
		if !strings.Contains(content, value) {
			t.Errorf("event_type_enum missing %s", value)
		}
	}
	if !strings.Contains(content, "CREATE TABLE IF NOT EXISTS outbox_dlq") {
		t.Errorf("missing outbox_dlq table")
	}
}

func TestValidateFSRejectsMissingRollback(t *testing.T) {
	dir := t.TempDir()
	body := "-- +goose Up\nCREATE TYPE widget_kind AS ENUM ('a');\n\n-- +goose Down\n"
	if err := os.WriteFile(filepath.Join(dir, "20260101000000_widgets.sql"), []byte(body), 0o644); err != nil {
		t.Fatalf("write migration: %v", err)
	}
	err := migrate.ValidateDir(dir)
	if err == nil || !strings.Contains(err.Error(), "widget_kind") {
		t.Fatalf("expected rollback error naming widget_kind, got %v", err)
	}
}

func TestCreateSQLMigrationSanitizesName(t *testing.T) {
	dir := t.TempDir()
	path, err := migrate.CreateSQLMigration(dir, "Add Post Index!")
	if err != nil {
		t.Fatalf("create migration: %v", err)
	}
	if !strings.HasSuffix(path, "_add_post_index.sql") {
		t.Fatalf("unexpected filename %q", path)
	}
	if err := migrate.ValidateDir(dir); err != nil {
		t.Fatalf("fresh skeleton should validate: %v", err)
	}
}

func TestCreateSQLMigrationRejectsBlankName(t *testing.T) {
	if _, err := migrate.CreateSQLMigration(t.TempDir(), " !! "); err == nil {
		t.Fatalf("expected error for name without usable characters")
	}
}

func TestEmbeddedSourceMatchesWorkingTree(t *testing.T) {
	fsys, err := migrate.Source(migrate.DefaultDir)
	if err != nil {
		t.Fatalf("embedded source: %v", err)
	}
	if err := migrate.ValidateFS(fsys); err != nil {
		t.Fatalf("embedded migrations invalid: %v", err)
	}
	onDisk, _ := filepath.Glob(filepath.Join("migrations", "*.sql"))
	embedded, _ := fs.Glob(fsys, "*.sql")
	if len(onDisk) != len(embedded) {
		t.Fatalf("embedded %d migrations, working tree has %d", len(embedded), len(onDisk))
	}
}
