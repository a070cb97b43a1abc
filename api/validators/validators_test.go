package validators

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/angelmondragon/carousel-backend/pkg/errors"
)

type createRequest struct {
	URL    string   `json:"originalUrl" validate:"required,url"`
	Folder string   `json:"folder" validate:"max=8"`
	IDs    []string `json:"ids" validate:"omitempty,dive,uuid"`
}

func decode(t *testing.T, body string) (createRequest, error) {
	t.Helper()
	var dest createRequest
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	return dest, DecodeJSONBody(req, &dest)
}

func codeOf(t *testing.T, err error) pkgerrors.Code {
	t.Helper()
	var typed *pkgerrors.Error
	require.True(t, errors.As(err, &typed), "error %v is not a pkgerrors.Error", err)
	return typed.Code()
}

func TestDecodeJSONBodyAcceptsValidInput(t *testing.T) {
	got, err := decode(t, `{"originalUrl":"https://cdn.example.com/a.jpg","folder":"covers"}`+"\n")
	require.NoError(t, err)
	require.Equal(t, "covers", got.Folder)
}

func TestDecodeJSONBodyRejects(t *testing.T) {
	cases := map[string]string{
		"empty":          ``,
		"malformed":      `{"originalUrl":`,
		"unknown field":  `{"originalUrl":"https://a.example","extra":1}`,
		"trailing value": `{"originalUrl":"https://a.example"} {}`,
		"missing url":    `{"folder":"x"}`,
		"bad uuid":       `{"originalUrl":"https://a.example","ids":["nope"]}`,
		"too large":      `{"originalUrl":"https://a.example","folder":"` + strings.Repeat("a", MaxBodyBytes) + `"}`,
	}
	for name, body := range cases {
		_, err := decode(t, body)
		require.Error(t, err, name)
		require.Equal(t, pkgerrors.CodeValidation, codeOf(t, err), name)
	}
}

func TestValidationDetailsUseJSONNames(t *testing.T) {
	_, err := decode(t, `{"originalUrl":"not a url","folder":"much-too-long"}`)
	var typed *pkgerrors.Error
	require.True(t, errors.As(err, &typed))
	details, ok := typed.Details().(map[string]string)
	require.True(t, ok)
	require.Equal(t, "must be a valid URL", details["originalUrl"])
	require.Equal(t, "must be at most 8", details["folder"])
}

func TestClean(t *testing.T) {
	require.Equal(t, "abc", Clean("  abc  ", 0))
	require.Equal(t, "ab", Clean("abc", 2))
	require.Equal(t, "héé", Clean("hééllo", 3))
	require.Equal(t, "日本", Clean(" 日本語 ", 2))
}

func TestParseQueryInt(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?limit=25&bad=x&big=900", nil)

	v, err := ParseQueryInt(req, "limit", 50, 1, 200)
	require.NoError(t, err)
	require.Equal(t, 25, v)

	v, err = ParseQueryInt(req, "missing", 50, 1, 200)
	require.NoError(t, err)
	require.Equal(t, 50, v)

	_, err = ParseQueryInt(req, "bad", 50, 1, 200)
	require.Equal(t, pkgerrors.CodeValidation, codeOf(t, err))
	_, err = ParseQueryInt(req, "big", 50, 1, 200)
	require.ErrorContains(t, err, "out of range")
}

func TestParseUUIDParam(t *testing.T) {
	id := uuid.New()
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("assetId", id.String())
	rctx.URLParams.Add("other", "nope")
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))

	got, err := ParseUUIDParam(req, "assetId")
	require.NoError(t, err)
	require.Equal(t, id, got)

	_, err = ParseUUIDParam(req, "other")
	require.Equal(t, pkgerrors.CodeValidation, codeOf(t, err))
}
