package db

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"gorm.io/gorm"
)

const pgUniqueViolation = "23505"

// IsUniqueViolation reports whether the provided error references a unique
// constraint violation. When constraintName is provided the constraint must
// match as well. SQLite reports columns rather than constraint names, so its
// message only satisfies the unnamed check.
func IsUniqueViolation(err error, constraintName string) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) && constraintName == "" {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return constraintName == "" || pgErr.ConstraintName == constraintName
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && string(pqErr.Code) == pgUniqueViolation {
		return constraintName == "" || pqErr.Constraint == constraintName
	}

	msg := err.Error()
	if constraintName != "" && strings.Contains(msg, constraintName) {
		return true
	}
	if strings.Contains(msg, "UNIQUE constraint failed") {
		return constraintName == "" || strings.Contains(msg, constraintColumns(constraintName))
	}
	return constraintName == "" && strings.Contains(msg, "duplicate key value")
}

// IsNotFound reports whether err is gorm's record-not-found sentinel.
func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

// constraintColumns maps known constraint names to the column list SQLite
// prints in its unique violation message.
func constraintColumns(constraintName string) string {
	if cols, ok := sqliteConstraintColumns[constraintName]; ok {
		return cols
	}
	return constraintName
}

var sqliteConstraintColumns = map[string]string{
	"ux_cache_assets_original_url": "cache_assets.original_url",
	"ux_queue_jobs_queue_job_id":   "queue_jobs.queue_name, queue_jobs.job_id",
	"ux_profiles_handle":           "profiles.handle",
	"ux_posts_tiktok_id":           "posts.tiktok_id",
}
