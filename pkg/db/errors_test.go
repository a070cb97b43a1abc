package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

func TestIsUniqueViolation(t *testing.T) {
	pgErr := &pgconn.PgError{Code: "23505", ConstraintName: "ux_cache_assets_original_url"}
	pqErr := &pq.Error{Code: "23505", Constraint: "ux_profiles_handle"}
	sqliteErr := errors.New("UNIQUE constraint failed: cache_assets.original_url")

	cases := []struct {
		name       string
		err        error
		constraint string
		want       bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "pgx any", err: fmt.Errorf("insert: %w", pgErr), want: true},
		{name: "pgx matching", err: pgErr, constraint: "ux_cache_assets_original_url", want: true},
		{name: "pgx other constraint", err: pgErr, constraint: "ux_posts_tiktok_id", want: false},
		{name: "pq matching", err: pqErr, constraint: "ux_profiles_handle", want: true},
		{name: "sqlite any", err: sqliteErr, want: true},
		{name: "sqlite matching", err: sqliteErr, constraint: "ux_cache_assets_original_url", want: true},
		{name: "sqlite other", err: sqliteErr, constraint: "ux_posts_tiktok_id", want: false},
		{name: "text fallback", err: errors.New("ERROR: duplicate key value violates unique constraint"), want: true},
		{name: "unrelated", err: errors.New("connection refused"), want: false},
	}

	for _, tc := range cases {
		if got := IsUniqueViolation(tc.err, tc.constraint); got != tc.want {
			t.Fatalf("%s: expected %v got %v", tc.name, tc.want, got)
		}
	}
}
