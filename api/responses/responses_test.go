package responses

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	pkgerrors "github.com/angelmondragon/carousel-backend/pkg/errors"
	"github.com/angelmondragon/carousel-backend/pkg/logger"
)

func decodeError(t *testing.T, w *httptest.ResponseRecorder) APIError {
	t.Helper()
	var body ErrorEnvelope
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	return body.Error
}

func TestWriteSuccess(t *testing.T) {
	w := httptest.NewRecorder()
	WriteSuccessStatus(w, http.StatusCreated, map[string]string{"assetId": "a1"})

	require.Equal(t, http.StatusCreated, w.Code)
	require.Equal(t, "application/json", w.Header().Get("Content-Type"))
	require.JSONEq(t, `{"data":{"assetId":"a1"}}`, w.Body.String())
}

func TestWriteErrorExposesValidationDetails(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(context.Background(), nil, w, pkgerrors.New(pkgerrors.CodeValidation, "bad input").
		WithDetails(map[string]string{"field": "url"}))

	require.Equal(t, http.StatusBadRequest, w.Code)
	body := decodeError(t, w)
	require.Equal(t, "VALIDATION_ERROR", body.Code)
	require.Equal(t, "bad input", body.Message)
	require.Equal(t, map[string]any{"field": "url"}, body.Details)
}

func TestWriteErrorHidesInternalText(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(context.Background(), nil, w, errors.New("dial tcp 10.0.0.3:5432: refused"))

	require.Equal(t, http.StatusInternalServerError, w.Code)
	body := decodeError(t, w)
	require.Equal(t, "INTERNAL_ERROR", body.Code)
	require.Equal(t, "internal server error", body.Message)
	require.Nil(t, body.Details)
}

func TestWriteErrorUsesPublicMessageForDependency(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(context.Background(), nil, w, pkgerrors.Wrap(pkgerrors.CodeDependency, errors.New("redis down"), "rate limiting"))

	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	require.Equal(t, "dependency unavailable", decodeError(t, w).Message)
}

func TestWriteErrorKeepsDuplicateMessage(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(context.Background(), nil, w, pkgerrors.New(pkgerrors.CodeDuplicate, "already queued"))

	require.Equal(t, http.StatusConflict, w.Code)
	require.Equal(t, "already queued", decodeError(t, w).Message)
}

func TestWriteErrorLogsChain(t *testing.T) {
	var buf bytes.Buffer
	logg := logger.New(logger.Options{ServiceName: "responses-test", Output: &buf})
	w := httptest.NewRecorder()
	WriteError(context.Background(), logg, w, pkgerrors.Wrap(pkgerrors.CodeUpstream, errors.New("503 from cdn"), "fetch media"))

	require.Equal(t, http.StatusBadGateway, w.Code)
	require.Contains(t, buf.String(), `"error_code":"UPSTREAM_ERROR"`)
	require.Contains(t, buf.String(), "503 from cdn")
}
