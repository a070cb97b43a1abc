package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/stretchr/testify/require"
)

func TestMetadataForKnownCodes(t *testing.T) {
	tests := map[Code]Metadata{
		CodeValidation:       {HTTPStatus: http.StatusBadRequest, PublicMessage: "validation failed", ExposeMessage: true, ExposeDetails: true},
		CodeNotFound:         {HTTPStatus: http.StatusNotFound, PublicMessage: "resource not found", ExposeMessage: true},
		CodeDuplicate:        {HTTPStatus: http.StatusConflict, PublicMessage: "duplicate submission", ExposeMessage: true, ExposeDetails: true},
		CodeRateLimit:        {HTTPStatus: http.StatusTooManyRequests, PublicMessage: "rate limit exceeded", ExposeMessage: true},
		CodeInternal:         {HTTPStatus: http.StatusInternalServerError, Retryable: true, PublicMessage: "internal server error"},
		CodeDependency:       {HTTPStatus: http.StatusServiceUnavailable, Retryable: true, PublicMessage: "dependency unavailable", ExposeDetails: true},
		CodeUpstream:         {HTTPStatus: http.StatusBadGateway, Retryable: true, PublicMessage: "upstream request failed", ExposeDetails: true},
		CodeUnsupportedMedia: {HTTPStatus: http.StatusUnsupportedMediaType, PublicMessage: "unsupported media", ExposeDetails: true},
	}
	for code, want := range tests {
		require.Equal(t, want, MetadataFor(code), code)
	}
	require.Equal(t, MetadataFor(CodeInternal), MetadataFor("SOMETHING_UNKNOWN"))
}

func TestEveryCodeHasMetadata(t *testing.T) {
	for _, code := range []Code{
		CodeValidation, CodeUnauthorized, CodeForbidden, CodeNotFound, CodeConflict, CodeStateConflict,
		CodeDuplicate, CodeRateLimit, CodeInternal, CodeDependency, CodeUpstream, CodeUnsupportedMedia,
	} {
		_, ok := metadataByCode[code]
		require.True(t, ok, code)
	}
}

func TestErrorConstructors(t *testing.T) {
	base := New(CodeValidation, "missing url").WithDetails(map[string]any{"field": "url"})
	require.Equal(t, CodeValidation, base.Code())
	require.Equal(t, "missing url", base.Message())
	require.Equal(t, map[string]any{"field": "url"}, base.Details())
	require.Equal(t, "VALIDATION_ERROR: missing url", base.Error())

	cause := stdErrors.New("connection refused")
	wrapped := Wrap(CodeDependency, cause, "load profile")
	require.ErrorIs(t, wrapped, cause)
	require.Equal(t, "DEPENDENCY_ERROR: load profile: connection refused", wrapped.Error())

	require.Equal(t, "limit must be <= 200", Newf(CodeValidation, "limit must be <= %d", 200).Message())

	var nilErr *Error
	require.Equal(t, CodeInternal, nilErr.Code())
	require.Nil(t, nilErr.WithDetails("x"))
}

func TestAsAndCodeOf(t *testing.T) {
	err := fmt.Errorf("handler: %w", New(CodeForbidden, "no entry"))
	require.Equal(t, CodeForbidden, As(err).Code())
	require.Equal(t, CodeForbidden, CodeOf(err))
	require.Nil(t, As(nil))
	require.Equal(t, CodeInternal, CodeOf(stdErrors.New("plain")))
}

func TestIsRetryable(t *testing.T) {
	require.False(t, IsRetryable(nil))
	require.True(t, IsRetryable(stdErrors.New("connection reset")))
	require.False(t, IsRetryable(New(CodeValidation, "bad payload")))
	require.True(t, IsRetryable(fmt.Errorf("download: %w", Wrap(CodeUpstream, stdErrors.New("503"), "fetch media"))))
}

func TestLogFields(t *testing.T) {
	require.Empty(t, LogFields(nil))

	pgErr := &pgconn.PgError{Code: "23505", Message: "duplicate key", ConstraintName: "ux_profiles_handle", TableName: "profiles"}
	fields := LogFields(Wrap(CodeConflict, fmt.Errorf("insert: %w", pgErr), "create profile"))
	require.Equal(t, CodeConflict, fields["error_code"])
	require.Len(t, fields["error_chain"], 3)
	require.Equal(t, "23505", fields["pg_code"])
	require.Equal(t, "ux_profiles_handle", fields["pg_constraint"])

	fields = LogFields(&pq.Error{Code: "40001", Table: "queue_jobs"})
	require.Equal(t, "40001", fields["pg_code"])
	require.Equal(t, "queue_jobs", fields["pg_table"])
	require.Equal(t, CodeInternal, fields["error_code"])

	fields = LogFields(stdErrors.New("plain"))
	require.NotContains(t, fields, "pg_code")
}
